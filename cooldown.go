package secmon

import (
	"sync"
	"time"
)

// CooldownTracker suppresses repeat detections of the same threat type
// within a configurable window. The window re-arms: every eligible firing
// refreshes the timestamp, so a condition that keeps re-triggering keeps
// pushing the next eligible firing out.
type CooldownTracker struct {
	mu        sync.Mutex
	window    time.Duration
	lastFired map[ThreatType]time.Time
}

// NewCooldownTracker returns a tracker with the given window. A zero or
// negative window disables suppression.
func NewCooldownTracker(window time.Duration) *CooldownTracker {
	return &CooldownTracker{
		window:    window,
		lastFired: make(map[ThreatType]time.Time),
	}
}

// SetWindow updates the suppression window for subsequent checks.
func (t *CooldownTracker) SetWindow(window time.Duration) {
	t.mu.Lock()
	t.window = window
	t.mu.Unlock()
}

// Allow reports whether a detection of the given type may fire at now, and
// refreshes the last-fired timestamp when it does. The check and the
// refresh happen under one lock so concurrent callers cannot both fire.
func (t *CooldownTracker) Allow(tt ThreatType, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.window <= 0 {
		return true
	}
	last, seen := t.lastFired[tt]
	if !seen || now.Sub(last) >= t.window {
		t.lastFired[tt] = now
		return true
	}
	return false
}
