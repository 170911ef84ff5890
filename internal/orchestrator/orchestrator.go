// Package orchestrator owns the scan lifecycle: it admits validated
// targets, enforces the system-wide concurrency ceiling, runs probes in
// the background and commits their outcome. It is the only writer of scan
// status after creation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinelsec/sentinel/internal/insight"
	"github.com/sentinelsec/sentinel/internal/probe"
	"github.com/sentinelsec/sentinel/internal/scan"
	"github.com/sentinelsec/sentinel/internal/shared/constants"
	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"
	"github.com/sentinelsec/sentinel/internal/store"
	"github.com/sentinelsec/sentinel/internal/target"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrent caps scans in flight; submissions beyond it are
	// recorded as failed, not queued indefinitely.
	MaxConcurrent int
}

// Orchestrator coordinates validation, admission, probing and persistence.
type Orchestrator struct {
	cfg       Config
	store     *store.Store
	validator *target.Validator
	prober    probe.Prober
	insight   *insight.Client
	logger    *zap.Logger

	// slots is the atomic reservation for the concurrency ceiling: a
	// token is taken before a scan leaves queued and returned when its
	// probe finishes. No count-then-insert race.
	slots chan struct{}

	wg sync.WaitGroup
}

// New wires an Orchestrator. insightClient may be nil.
func New(cfg Config, st *store.Store, v *target.Validator, p probe.Prober, insightClient *insight.Client, logger *zap.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = constants.MaxConcurrentScans
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     st,
		validator: v,
		prober:    p,
		insight:   insightClient,
		logger:    logger,
		slots:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// CreateScan persists a new queued scan for an already-validated target
// and dispatches its probe in the background. It returns a snapshot of
// the queued record; the background goroutine owns the live scan from
// here on, so the caller polls the store for progress.
func (o *Orchestrator) CreateScan(ctx context.Context, t *target.Target, kind scan.Kind, orgID, requestedBy string) (*scan.Scan, error) {
	sc := scan.New(uuid.New().String(), t.String(), kind, orgID, requestedBy, time.Now())
	if err := o.store.CreateScan(ctx, sc); err != nil {
		return nil, err
	}
	o.logger.Info("scan created",
		zap.String("scan_id", sc.ID),
		zap.String("target", sc.Target),
		zap.String("scan_type", string(sc.Kind)),
	)
	queued := *sc
	o.admit(sc, t)
	return &queued, nil
}

// TriggerScan starts an already-created scan row (legacy trigger path).
// Like CreateScan it returns a snapshot; the dispatched goroutine keeps
// the loaded scan to itself.
func (o *Orchestrator) TriggerScan(ctx context.Context, id string) (*scan.Scan, error) {
	sc, err := o.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Status != scan.StatusQueued {
		return nil, scanerrors.ErrInvalidTransition
	}
	t, err := o.validator.Validate(ctx, sc.Target)
	if err != nil {
		return nil, err
	}
	queued := *sc
	o.admit(sc, t)
	return &queued, nil
}

// admit reserves a concurrency slot and dispatches the probe, or fails the
// scan immediately when the ceiling is reached.
func (o *Orchestrator) admit(sc *scan.Scan, t *target.Target) {
	select {
	case o.slots <- struct{}{}:
	default:
		o.failScan(sc, scanerrors.ErrMaxConcurrent.Error())
		return
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() { <-o.slots }()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("probe panicked",
					zap.String("scan_id", sc.ID),
					zap.Any("panic", r),
				)
				o.failScan(sc, fmt.Sprintf("internal error: %v", r))
			}
		}()
		o.run(sc, t)
	}()
}

// run drives one scan from running to a terminal state. Probes carry
// their own timeouts, so the background context is unbounded.
func (o *Orchestrator) run(sc *scan.Scan, t *target.Target) {
	ctx := context.Background()

	if err := sc.Start(time.Now()); err != nil {
		// Canceled between admission and start.
		return
	}
	if err := o.store.UpdateScan(ctx, sc, scan.StatusQueued); err != nil {
		o.logger.Warn("scan did not start", zap.String("scan_id", sc.ID), zap.Error(err))
		return
	}

	summary, findings, err := o.prober.Probe(ctx, t)
	if err != nil {
		o.failScan(sc, err.Error())
		return
	}

	if o.insight != nil {
		summary.Narrative = o.insight.Narrative(ctx, sc.Target, summary, findings)
	}

	result := &scan.Result{ScanID: sc.ID, Summary: summary, Findings: findings}
	if err := o.store.SaveResult(ctx, result); err != nil {
		o.logger.Error("saving result", zap.String("scan_id", sc.ID), zap.Error(err))
		o.failScan(sc, "failed to persist scan result")
		return
	}

	if err := sc.Complete(summary.Score, time.Now()); err != nil {
		o.logger.Warn("completing scan", zap.String("scan_id", sc.ID), zap.Error(err))
		return
	}
	if err := o.store.UpdateScan(ctx, sc, scan.StatusRunning); err != nil {
		o.logger.Error("persisting completion", zap.String("scan_id", sc.ID), zap.Error(err))
		return
	}
	o.logger.Info("scan completed",
		zap.String("scan_id", sc.ID),
		zap.Int("score", summary.Score),
		zap.String("risk", summary.Risk),
	)
}

func (o *Orchestrator) failScan(sc *scan.Scan, reason string) {
	from := sc.Status
	if err := sc.Fail(reason, time.Now()); err != nil {
		return
	}
	if err := o.store.UpdateScan(context.Background(), sc, from); err != nil {
		o.logger.Error("persisting failure", zap.String("scan_id", sc.ID), zap.Error(err))
		return
	}
	o.logger.Info("scan failed", zap.String("scan_id", sc.ID), zap.String("reason", reason))
}

// GetScan returns a scan, enforcing organization ownership when the scan
// belongs to one.
func (o *Orchestrator) GetScan(ctx context.Context, id, callerOrg string) (*scan.Scan, error) {
	sc, err := o.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(sc, callerOrg); err != nil {
		return nil, err
	}
	return sc, nil
}

// GetResults returns the result aggregate for a completed scan. A scan
// that exists but has not completed yields ErrScanNotCompleted.
func (o *Orchestrator) GetResults(ctx context.Context, id, callerOrg string) (*scan.Result, error) {
	sc, err := o.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(sc, callerOrg); err != nil {
		return nil, err
	}
	if sc.Status != scan.StatusCompleted {
		return nil, scanerrors.ErrScanNotCompleted
	}
	return o.store.GetResult(ctx, id)
}

// CancelScan cancels a scan that has not started yet.
func (o *Orchestrator) CancelScan(ctx context.Context, id, callerOrg string) (*scan.Scan, error) {
	sc, err := o.store.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(sc, callerOrg); err != nil {
		return nil, err
	}
	if err := sc.Cancel(time.Now()); err != nil {
		return nil, scanerrors.ErrNotCancelable
	}
	// Compare-and-swap against queued: if the probe started between the
	// load above and this write, the cancel loses.
	if err := o.store.UpdateScan(ctx, sc, scan.StatusQueued); err != nil {
		if errors.Is(err, scanerrors.ErrInvalidTransition) {
			return nil, scanerrors.ErrNotCancelable
		}
		return nil, err
	}
	o.logger.Info("scan canceled", zap.String("scan_id", sc.ID))
	return sc, nil
}

// ActiveCount reports scans currently queued or running.
func (o *Orchestrator) ActiveCount(ctx context.Context) (int, error) {
	return o.store.CountActive(ctx)
}

// Wait blocks until all dispatched probes have finished. Used during
// shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func authorize(sc *scan.Scan, callerOrg string) error {
	if sc.OrgID == "" {
		return nil
	}
	if sc.OrgID != callerOrg {
		return scanerrors.ErrNotAuthorized
	}
	return nil
}
