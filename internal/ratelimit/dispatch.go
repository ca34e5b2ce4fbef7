package ratelimit

import (
	"sync"
	"time"
)

// DispatchLimiter caps how many recommendations reach the notification sink
// per rolling window (an hour by default). Unlike Limiter it never blocks:
// a dispatch over the ceiling is skipped, not delayed.
type DispatchLimiter struct {
	ceiling int
	window  time.Duration
	now     func() time.Time

	mu   sync.Mutex
	sent []time.Time
}

// NewDispatchLimiter creates a limiter allowing ceiling dispatches per window.
// A non-positive ceiling disables the cap.
func NewDispatchLimiter(ceiling int, window time.Duration) *DispatchLimiter {
	if window <= 0 {
		window = time.Hour
	}
	return &DispatchLimiter{
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (d *DispatchLimiter) WithClock(now func() time.Time) *DispatchLimiter {
	d.now = now
	return d
}

// CanDispatch reports whether another dispatch fits under the ceiling right now.
func (d *DispatchLimiter) CanDispatch() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hasRoom(d.now())
}

// RecordDispatch appends a dispatch at the current time.
func (d *DispatchLimiter) RecordDispatch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.purge(now)
	d.sent = append(d.sent, now)
}

// TryReserve checks and records in one step, so concurrent workers cannot
// both take the last slot.
func (d *DispatchLimiter) TryReserve() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if !d.hasRoom(now) {
		return false
	}
	d.sent = append(d.sent, now)
	return true
}

// Count returns dispatches inside the current window.
func (d *DispatchLimiter) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purge(d.now())
	return len(d.sent)
}

// Ceiling returns the configured cap (non-positive means uncapped).
func (d *DispatchLimiter) Ceiling() int {
	return d.ceiling
}

func (d *DispatchLimiter) hasRoom(now time.Time) bool {
	d.purge(now)
	return d.ceiling <= 0 || len(d.sent) < d.ceiling
}

func (d *DispatchLimiter) purge(now time.Time) {
	cutoff := now.Add(-d.window)
	keep := d.sent[:0]
	for _, t := range d.sent {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	d.sent = keep
}
