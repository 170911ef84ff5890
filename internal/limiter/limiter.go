package limiter

import (
	"sync"
	"time"

	"github.com/sentinelsec/sentinel/internal/shared/constants"
)

// SlidingWindow is a best-effort, in-memory admission limiter: each caller
// gets at most Cap admissions per Window, measured over the timestamps of
// its previously admitted requests. It resets on process restart and does
// not synchronize across instances.
type SlidingWindow struct {
	window time.Duration
	cap    int

	mu      sync.Mutex
	callers map[string][]time.Time

	// now is injectable for tests.
	now func() time.Time
}

// New creates a limiter with the given window and cap.
func New(window time.Duration, cap int) *SlidingWindow {
	if window <= 0 {
		window = constants.RateWindow
	}
	if cap <= 0 {
		cap = constants.RateCap
	}
	return &SlidingWindow{
		window:  window,
		cap:     cap,
		callers: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Admit prunes timestamps older than the window for callerID, then admits
// the request only if the pruned count is below the cap. The timestamp is
// recorded only on admission.
func (l *SlidingWindow) Admit(callerID string) bool {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.callers[callerID][:0]
	for _, ts := range l.callers[callerID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.cap {
		l.callers[callerID] = recent
		return false
	}

	l.callers[callerID] = append(recent, now)
	return true
}

// Prune drops callers whose every timestamp has aged out of the window.
// The API server runs this periodically so idle callers do not accumulate.
func (l *SlidingWindow) Prune() {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for id, stamps := range l.callers {
		live := false
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.callers, id)
		}
	}
}

// PruneLoop runs Prune on the given interval until stop is closed.
func (l *SlidingWindow) PruneLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune()
		case <-stop:
			return
		}
	}
}
