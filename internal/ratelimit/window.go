// Package ratelimit provides the sliding-window limiters that guard upstream
// provider APIs and the downstream notification sink.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRateLimitExceeded is returned by Acquire when a max wait is configured and
// the wait needed to free a slot is longer than that.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Window is one sliding-window constraint: at most Limit calls per Period.
type Window struct {
	Limit  int
	Period time.Duration
}

func (w Window) String() string {
	return fmt.Sprintf("%d/%s", w.Limit, w.Period)
}

// Limiter enforces several sliding windows at once over one shared call
// history, e.g. 20 calls per second and 100 calls per two minutes.
// One Limiter guards exactly one upstream API.
type Limiter struct {
	name    string
	windows []Window
	horizon time.Duration
	maxWait time.Duration

	// Call history, oldest first. Mutated only under mu.
	mu    sync.Mutex
	calls []time.Time

	onAcquire func(time.Time)
}

// New creates a limiter enforcing every given window. Windows with a
// non-positive limit or period are ignored.
func New(name string, windows ...Window) *Limiter {
	l := &Limiter{name: name}
	for _, w := range windows {
		if w.Limit <= 0 || w.Period <= 0 {
			continue
		}
		l.windows = append(l.windows, w)
		if w.Period > l.horizon {
			l.horizon = w.Period
		}
	}
	return l
}

// NewDual creates the common per-second plus per-window limiter.
func NewDual(name string, perSecond, perWindow int, window time.Duration) *Limiter {
	return New(name,
		Window{Limit: perSecond, Period: time.Second},
		Window{Limit: perWindow, Period: window},
	)
}

// WithMaxWait makes Acquire fail fast with ErrRateLimitExceeded instead of
// waiting longer than d. Zero (the default) waits as long as the context allows.
func (l *Limiter) WithMaxWait(d time.Duration) *Limiter {
	l.maxWait = d
	return l
}

// WithAcquireHook registers a callback invoked, under the limiter lock, with
// the timestamp recorded for every granted call.
func (l *Limiter) WithAcquireHook(fn func(time.Time)) *Limiter {
	l.onAcquire = fn
	return l
}

// Name returns the API name this limiter guards.
func (l *Limiter) Name() string {
	return l.name
}

// Acquire blocks until a call would violate none of the windows, then records it.
// Expired timestamps are purged on every attempt; there is no background timer.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := time.Now()
		l.purge(now)

		wait, blocking := l.waitFor(now)
		if wait <= 0 {
			l.calls = append(l.calls, now)
			if l.onAcquire != nil {
				l.onAcquire(now)
			}
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if l.maxWait > 0 && wait > l.maxWait {
			return fmt.Errorf("%s: need %s for window %s: %w", l.name, wait, blocking, ErrRateLimitExceeded)
		}

		logrus.WithFields(logrus.Fields{
			"api":    l.name,
			"window": blocking.String(),
			"wait":   wait,
		}).Debug("Rate limit reached, waiting")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Len returns the number of calls currently inside the longest window.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge(time.Now())
	return len(l.calls)
}

// purge drops calls older than the longest horizon. Caller holds mu.
func (l *Limiter) purge(now time.Time) {
	cutoff := now.Add(-l.horizon)
	idx := sort.Search(len(l.calls), func(i int) bool {
		return l.calls[i].After(cutoff)
	})
	if idx > 0 {
		l.calls = append(l.calls[:0], l.calls[idx:]...)
	}
}

// waitFor returns how long until every window has a free slot, and the window
// that forces the longest wait. Caller holds mu.
func (l *Limiter) waitFor(now time.Time) (time.Duration, Window) {
	var (
		longest  time.Duration
		blocking Window
	)
	for _, w := range l.windows {
		cutoff := now.Add(-w.Period)
		first := sort.Search(len(l.calls), func(i int) bool {
			return l.calls[i].After(cutoff)
		})
		inWindow := len(l.calls) - first
		if inWindow < w.Limit {
			continue
		}
		// The oldest (inWindow-Limit+1) calls must age out before a slot frees up.
		expiresAt := l.calls[first+inWindow-w.Limit].Add(w.Period)
		if wait := expiresAt.Sub(now); wait > longest {
			longest = wait
			blocking = w
		}
	}
	return longest, blocking
}
