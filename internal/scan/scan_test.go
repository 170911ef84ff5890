package scan

import (
	"testing"
	"time"
)

func newTestScan() *Scan {
	return New("scan-1", "https://example.com", KindQuick, "", "", time.Now())
}

func TestLifecycle_HappyPath(t *testing.T) {
	sc := newTestScan()
	if sc.Status != StatusQueued {
		t.Fatalf("new scan should be queued, got %s", sc.Status)
	}

	if err := sc.Start(time.Now()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sc.Status != StatusRunning || sc.StartedAt == nil {
		t.Errorf("expected running with StartedAt set, got %s", sc.Status)
	}

	if err := sc.Complete(76, time.Now()); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if sc.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", sc.Status)
	}
	if sc.Score == nil || *sc.Score != 76 {
		t.Errorf("expected score 76, got %v", sc.Score)
	}
	if sc.CompletedAt == nil {
		t.Error("expected CompletedAt set")
	}
}

func TestLifecycle_TerminalStatesAreImmutable(t *testing.T) {
	terminalScans := map[string]*Scan{}

	completed := newTestScan()
	_ = completed.Start(time.Now())
	_ = completed.Complete(100, time.Now())
	terminalScans["completed"] = completed

	failed := newTestScan()
	_ = failed.Fail("boom", time.Now())
	terminalScans["failed"] = failed

	canceled := newTestScan()
	_ = canceled.Cancel(time.Now())
	terminalScans["canceled"] = canceled

	for name, sc := range terminalScans {
		before := sc.Status
		if err := sc.Start(time.Now()); err == nil {
			t.Errorf("%s scan allowed Start", name)
		}
		if err := sc.Complete(50, time.Now()); err == nil {
			t.Errorf("%s scan allowed Complete", name)
		}
		if err := sc.Fail("again", time.Now()); err == nil {
			t.Errorf("%s scan allowed Fail", name)
		}
		if err := sc.Cancel(time.Now()); err == nil {
			t.Errorf("%s scan allowed Cancel", name)
		}
		if sc.Status != before {
			t.Errorf("%s scan mutated to %s", name, sc.Status)
		}
	}
}

func TestLifecycle_QueuedCanFailDirectly(t *testing.T) {
	sc := newTestScan()
	if err := sc.Fail("Max concurrent scans reached", time.Now()); err != nil {
		t.Fatalf("queued scan should fail directly: %v", err)
	}
	if sc.Status != StatusFailed || sc.Error == "" {
		t.Errorf("expected failed with error, got %s %q", sc.Status, sc.Error)
	}
}

func TestLifecycle_CancelOnlyFromQueued(t *testing.T) {
	sc := newTestScan()
	_ = sc.Start(time.Now())
	if err := sc.Cancel(time.Now()); err == nil {
		t.Error("running scan should not be cancelable")
	}
}

func TestSummarize_Score(t *testing.T) {
	cases := []struct {
		name                        string
		critical, high, medium, low int
		wantScore                   int
		wantRisk                    string
	}{
		{"no findings", 0, 0, 0, 0, 100, "low"},
		{"three medium", 0, 0, 3, 0, 76, "medium"},
		{"one high", 0, 1, 0, 0, 85, "low"},
		{"one of each", 1, 1, 1, 1, 49, "high"},
		{"floors at zero", 4, 1, 0, 0, 0, "high"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var findings []Finding
			add := func(n int, sev Severity) {
				for i := 0; i < n; i++ {
					findings = append(findings, Finding{Severity: sev})
				}
			}
			add(tc.critical, SeverityCritical)
			add(tc.high, SeverityHigh)
			add(tc.medium, SeverityMedium)
			add(tc.low, SeverityLow)

			sum := Summarize(findings)
			if sum.Score != tc.wantScore {
				t.Errorf("score = %d, want %d", sum.Score, tc.wantScore)
			}
			if sum.Risk != tc.wantRisk {
				t.Errorf("risk = %s, want %s", sum.Risk, tc.wantRisk)
			}
			if sum.Critical != tc.critical || sum.High != tc.high || sum.Medium != tc.medium || sum.Low != tc.low {
				t.Errorf("counts = %d/%d/%d/%d", sum.Critical, sum.High, sum.Medium, sum.Low)
			}
		})
	}
}

func TestSummarize_Deterministic(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityHigh},
		{Severity: SeverityMedium},
		{Severity: SeverityMedium},
	}
	first := Summarize(findings)
	for i := 0; i < 10; i++ {
		if got := Summarize(findings); got != first {
			t.Fatalf("summarize not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestParseKind(t *testing.T) {
	if ParseKind("full") != KindFull {
		t.Error("full should parse as full")
	}
	if ParseKind("quick") != KindQuick {
		t.Error("quick should parse as quick")
	}
	if ParseKind("") != KindQuick {
		t.Error("empty should default to quick")
	}
	if ParseKind("bogus") != KindQuick {
		t.Error("unknown should default to quick")
	}
}
