package scan

import (
	"time"

	scanerrors "github.com/sentinelsec/sentinel/internal/shared/errors"
)

// Status is the lifecycle state of a scan. Transitions are forward-only:
// queued -> running -> completed|failed, plus queued -> canceled. Once a
// scan reaches a terminal state it never leaves it.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Kind selects how deep a scan probes its target.
type Kind string

const (
	KindQuick Kind = "quick"
	KindFull  Kind = "full"
)

// ParseKind normalizes a caller-supplied scan kind, defaulting to quick.
func ParseKind(raw string) Kind {
	if Kind(raw) == KindFull {
		return KindFull
	}
	return KindQuick
}

// Scan is the durable unit of work. Status transitions must go through the
// methods below so the forward-only invariant holds; the orchestrator is
// the only component that mutates a scan after creation.
type Scan struct {
	ID          string     `json:"scan_id"`
	Target      string     `json:"target"`
	Kind        Kind       `json:"scan_type"`
	Status      Status     `json:"status"`
	OrgID       string     `json:"org_id,omitempty"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Score       *int       `json:"score,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a scan in the queued state.
func New(id, target string, kind Kind, orgID, requestedBy string, now time.Time) *Scan {
	return &Scan{
		ID:          id,
		Target:      target,
		Kind:        kind,
		Status:      StatusQueued,
		OrgID:       orgID,
		RequestedBy: requestedBy,
		CreatedAt:   now.UTC(),
	}
}

// Start marks the scan running and records StartedAt.
func (s *Scan) Start(now time.Time) error {
	if s.Status != StatusQueued {
		return scanerrors.ErrInvalidTransition
	}
	t := now.UTC()
	s.Status = StatusRunning
	s.StartedAt = &t
	return nil
}

// Complete marks the scan completed with its final score.
func (s *Scan) Complete(score int, now time.Time) error {
	if s.Status != StatusRunning {
		return scanerrors.ErrInvalidTransition
	}
	t := now.UTC()
	s.Status = StatusCompleted
	s.Score = &score
	s.CompletedAt = &t
	return nil
}

// Fail marks the scan failed with a reason. A queued scan may fail directly
// (capacity rejection); terminal scans never change.
func (s *Scan) Fail(reason string, now time.Time) error {
	if s.Status.Terminal() {
		return scanerrors.ErrInvalidTransition
	}
	t := now.UTC()
	s.Status = StatusFailed
	s.Error = reason
	s.CompletedAt = &t
	return nil
}

// Cancel stops a scan that has not started yet.
func (s *Scan) Cancel(now time.Time) error {
	if s.Status != StatusQueued {
		return scanerrors.ErrInvalidTransition
	}
	t := now.UTC()
	s.Status = StatusCanceled
	s.CompletedAt = &t
	return nil
}
