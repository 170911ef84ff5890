package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinelsec/sentinel/internal/scan"
	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *Store, id string) *scan.Scan {
	t.Helper()
	sc := scan.New(id, "https://example.com", scan.KindQuick, "org-1", "user-1", time.Now())
	if err := s.CreateScan(context.Background(), sc); err != nil {
		t.Fatalf("CreateScan failed: %v", err)
	}
	return sc
}

func TestScanRoundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created := mustCreate(t, s, "scan-1")

	got, err := s.GetScan(ctx, "scan-1")
	if err != nil {
		t.Fatalf("GetScan failed: %v", err)
	}
	if got.ID != created.ID || got.Target != created.Target || got.Kind != created.Kind {
		t.Errorf("loaded scan differs: %+v vs %+v", got, created)
	}
	if got.Status != scan.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}
	if got.OrgID != "org-1" || got.RequestedBy != "user-1" {
		t.Errorf("ownership fields lost: %q %q", got.OrgID, got.RequestedBy)
	}
	if got.Score != nil || got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("nullable fields should be nil on a queued scan")
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, created.CreatedAt)
	}
}

func TestGetScan_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetScan(context.Background(), "nope"); !errors.Is(err, scanerrors.ErrScanNotFound) {
		t.Errorf("GetScan = %v, want ErrScanNotFound", err)
	}
}

func TestUpdateScan_FullLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sc := mustCreate(t, s, "scan-1")

	if err := sc.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateScan(ctx, sc, scan.StatusQueued); err != nil {
		t.Fatalf("update to running failed: %v", err)
	}

	if err := sc.Complete(76, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateScan(ctx, sc, scan.StatusRunning); err != nil {
		t.Fatalf("update to completed failed: %v", err)
	}

	got, err := s.GetScan(ctx, "scan-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != scan.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.Score == nil || *got.Score != 76 {
		t.Errorf("score = %v, want 76", got.Score)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not persisted")
	}
}

func TestUpdateScan_TerminalRowsAreImmutable(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sc := mustCreate(t, s, "scan-1")
	_ = sc.Start(time.Now())
	_ = sc.Complete(100, time.Now())
	if err := s.UpdateScan(ctx, sc, scan.StatusQueued); err != nil {
		t.Fatal(err)
	}

	// Even a hand-built update against a terminal row must be refused.
	stale := *sc
	stale.Status = scan.StatusRunning
	stale.Score = nil
	if err := s.UpdateScan(ctx, &stale, scan.StatusQueued); !errors.Is(err, scanerrors.ErrInvalidTransition) {
		t.Fatalf("update of terminal row = %v, want ErrInvalidTransition", err)
	}

	got, err := s.GetScan(ctx, "scan-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != scan.StatusCompleted || got.Score == nil || *got.Score != 100 {
		t.Errorf("terminal row mutated: %+v", got)
	}
}

func TestUpdateScan_StaleSnapshotLosesRace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	sc := mustCreate(t, s, "scan-1")

	// One copy of the queued scan goes stale while the live one moves
	// to running.
	stale := *sc
	if err := sc.Start(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateScan(ctx, sc, scan.StatusQueued); err != nil {
		t.Fatal(err)
	}

	// A cancel built from the stale queued copy must not commit
	// canceled over the running row.
	if err := stale.Cancel(time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateScan(ctx, &stale, scan.StatusQueued); !errors.Is(err, scanerrors.ErrInvalidTransition) {
		t.Fatalf("stale cancel = %v, want ErrInvalidTransition", err)
	}

	got, err := s.GetScan(ctx, "scan-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != scan.StatusRunning {
		t.Errorf("final status = %s, want running", got.Status)
	}
}

func TestUpdateScan_MissingRow(t *testing.T) {
	s := testStore(t)
	sc := scan.New("ghost", "https://example.com", scan.KindQuick, "", "", time.Now())
	_ = sc.Start(time.Now())
	if err := s.UpdateScan(context.Background(), sc, scan.StatusQueued); !errors.Is(err, scanerrors.ErrScanNotFound) {
		t.Errorf("UpdateScan = %v, want ErrScanNotFound", err)
	}
}

func TestCountActive(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	mustCreate(t, s, "q-1")
	running := mustCreate(t, s, "r-1")
	_ = running.Start(time.Now())
	if err := s.UpdateScan(ctx, running, scan.StatusQueued); err != nil {
		t.Fatal(err)
	}
	done := mustCreate(t, s, "d-1")
	_ = done.Start(time.Now())
	_ = done.Complete(100, time.Now())
	if err := s.UpdateScan(ctx, done, scan.StatusQueued); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountActive = %d, want 2 (queued + running)", n)
	}
}

func TestResultRoundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "scan-1")

	findings := []scan.Finding{
		{ID: "f-1", Title: "Missing Strict-Transport-Security header", Severity: scan.SeverityMedium, Category: "transport", Evidence: "no header", Recommendation: "add it"},
		{ID: "f-2", Title: "Missing X-Content-Type-Options header", Severity: scan.SeverityMedium, Category: "headers", Evidence: "no header", Recommendation: "add it"},
	}
	sum := scan.Summarize(findings)
	sum.Narrative = "two headers absent"
	res := &scan.Result{ScanID: "scan-1", Summary: sum, Findings: findings}
	if err := s.SaveResult(ctx, res); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	got, err := s.GetResult(ctx, "scan-1")
	if err != nil {
		t.Fatalf("GetResult failed: %v", err)
	}
	if got.Summary.Score != 84 || got.Summary.Risk != "medium" {
		t.Errorf("summary = %d/%s, want 84/medium", got.Summary.Score, got.Summary.Risk)
	}
	if got.Summary.Narrative != "two headers absent" {
		t.Errorf("narrative = %q", got.Summary.Narrative)
	}
	if len(got.Findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(got.Findings))
	}
	// insertion order is preserved
	if got.Findings[0].ID != "f-1" || got.Findings[1].ID != "f-2" {
		t.Errorf("finding order = %s, %s", got.Findings[0].ID, got.Findings[1].ID)
	}
	if got.Findings[0].Severity != scan.SeverityMedium || got.Findings[0].Recommendation == "" {
		t.Errorf("finding fields lost: %+v", got.Findings[0])
	}
}

func TestGetResult_NotFound(t *testing.T) {
	s := testStore(t)
	mustCreate(t, s, "scan-1")
	if _, err := s.GetResult(context.Background(), "scan-1"); !errors.Is(err, scanerrors.ErrResultNotFound) {
		t.Errorf("GetResult = %v, want ErrResultNotFound", err)
	}
}

func TestDeleteScan_Cascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mustCreate(t, s, "scan-1")

	res := &scan.Result{
		ScanID:   "scan-1",
		Summary:  scan.Summarize(nil),
		Findings: []scan.Finding{{ID: "f-1", Title: "x", Severity: scan.SeverityLow}},
	}
	if err := s.SaveResult(ctx, res); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteScan(ctx, "scan-1"); err != nil {
		t.Fatalf("DeleteScan failed: %v", err)
	}
	if _, err := s.GetScan(ctx, "scan-1"); !errors.Is(err, scanerrors.ErrScanNotFound) {
		t.Errorf("scan still present: %v", err)
	}
	if _, err := s.GetResult(ctx, "scan-1"); !errors.Is(err, scanerrors.ErrResultNotFound) {
		t.Errorf("result survived cascade: %v", err)
	}

	if err := s.DeleteScan(ctx, "scan-1"); !errors.Is(err, scanerrors.ErrScanNotFound) {
		t.Errorf("second delete = %v, want ErrScanNotFound", err)
	}
}
