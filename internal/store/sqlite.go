// Package store persists scans, results and findings in SQLite. Metadata
// lives in three tables; findings cascade-delete with their scan.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelsec/sentinel/internal/scan"
	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"

	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed schema.sql
var schemaFS embed.FS

// Store is the durable record of scans and their results.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the SQLite database at path and applies the
// schema. Use ":memory:" for an ephemeral store in tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	logger.Info("store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func applySchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading schema.sql: %w", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateScan inserts a new scan row.
func (s *Store) CreateScan(ctx context.Context, sc *scan.Scan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (id, target, kind, status, org_id, requested_by, score, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Target, string(sc.Kind), string(sc.Status), sc.OrgID, sc.RequestedBy,
		nullableInt(sc.Score), sc.Error, formatTime(sc.CreatedAt),
		nullableTime(sc.StartedAt), nullableTime(sc.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting scan %s: %w", sc.ID, err)
	}
	return nil
}

// UpdateScan writes a scan's mutable fields, but only if the row is
// still in the from state the caller transitioned out of. A stale
// snapshot loses the compare-and-swap instead of clobbering whatever
// state won the race; terminal rows are never touched.
func (s *Store) UpdateScan(ctx context.Context, sc *scan.Scan, from scan.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans
		SET status = ?, score = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(sc.Status), nullableInt(sc.Score), sc.Error,
		nullableTime(sc.StartedAt), nullableTime(sc.CompletedAt), sc.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating scan %s: %w", sc.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetScan(ctx, sc.ID); err != nil {
			return err
		}
		return scanerrors.ErrInvalidTransition
	}
	return nil
}

// GetScan loads a scan by id.
func (s *Store) GetScan(ctx context.Context, id string) (*scan.Scan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, target, kind, status, org_id, requested_by, score, error, created_at, started_at, completed_at
		FROM scans WHERE id = ?`, id)

	var (
		sc                     scan.Scan
		kind, status, created  string
		score                  sql.NullInt64
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&sc.ID, &sc.Target, &kind, &status, &sc.OrgID, &sc.RequestedBy,
		&score, &sc.Error, &created, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scanerrors.ErrScanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading scan %s: %w", id, err)
	}

	sc.Kind = scan.Kind(kind)
	sc.Status = scan.Status(status)
	if score.Valid {
		v := int(score.Int64)
		sc.Score = &v
	}
	if sc.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if sc.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if sc.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &sc, nil
}

// CountActive returns how many scans are currently queued or running.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scans WHERE status IN ('queued', 'running')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active scans: %w", err)
	}
	return n, nil
}

// SaveResult commits a completed scan's result and findings atomically.
func (s *Store) SaveResult(ctx context.Context, res *scan.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning result transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scan_results (scan_id, score, risk, critical, high, medium, low, narrative, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ScanID, res.Summary.Score, res.Summary.Risk,
		res.Summary.Critical, res.Summary.High, res.Summary.Medium, res.Summary.Low,
		res.Summary.Narrative, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting result for scan %s: %w", res.ScanID, err)
	}

	for i, f := range res.Findings {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO findings (id, scan_id, position, title, severity, category, evidence, recommendation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, res.ScanID, i, f.Title, string(f.Severity), f.Category, f.Evidence, f.Recommendation,
		)
		if err != nil {
			return fmt.Errorf("inserting finding %s: %w", f.ID, err)
		}
	}

	return tx.Commit()
}

// GetResult loads the result aggregate for a completed scan, findings in
// their recorded order.
func (s *Store) GetResult(ctx context.Context, scanID string) (*scan.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT score, risk, critical, high, medium, low, narrative
		FROM scan_results WHERE scan_id = ?`, scanID)

	res := &scan.Result{ScanID: scanID}
	err := row.Scan(&res.Summary.Score, &res.Summary.Risk,
		&res.Summary.Critical, &res.Summary.High, &res.Summary.Medium, &res.Summary.Low,
		&res.Summary.Narrative)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scanerrors.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading result for scan %s: %w", scanID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, severity, category, evidence, recommendation
		FROM findings WHERE scan_id = ? ORDER BY position`, scanID)
	if err != nil {
		return nil, fmt.Errorf("loading findings for scan %s: %w", scanID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var f scan.Finding
		var sev string
		if err := rows.Scan(&f.ID, &f.Title, &sev, &f.Category, &f.Evidence, &f.Recommendation); err != nil {
			return nil, err
		}
		f.Severity = scan.Severity(sev)
		res.Findings = append(res.Findings, f)
	}
	return res, rows.Err()
}

// DeleteScan removes a scan; its result and findings cascade.
func (s *Store) DeleteScan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting scan %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scanerrors.ErrScanNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", v, err)
	}
	return t, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
