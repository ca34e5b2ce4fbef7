// Package circuitbreaker stops the pipeline from hammering an upstream source
// that keeps failing: after enough consecutive failures the source is skipped
// for a cooldown, then probed again.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, calls are skipped
	StateHalfOpen              // Probing whether the source has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CircuitBreaker tracks consecutive failures of one upstream source.
type CircuitBreaker struct {
	// Name of the guarded source, used in logs
	name string

	// Consecutive failures that trip the breaker
	failureThreshold int

	// Duration before a probe is allowed through an open breaker
	resetDelay time.Duration

	// Successful probes required to close from half-open
	successThreshold int

	onTripCallback func(name, reason string)
	now            func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	successCount int
	lastTrip     time.Time
}

// New creates a breaker that opens after failureThreshold consecutive failures.
// A non-positive threshold yields a breaker that never opens.
func New(name string, failureThreshold int) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetDelay:       5 * time.Minute,
		successThreshold: 1,
		now:              time.Now,
		state:            StateClosed,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful probes needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(name, reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithClock replaces the time source, for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow reports whether a call may go through. An open breaker whose reset
// delay has elapsed moves to half-open and lets the call through as a probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	if cb.now().Sub(cb.lastTrip) >= cb.resetDelay {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.WithField("source", cb.name).Info("Circuit breaker half-open: probing source")
		return nil
	}
	return fmt.Errorf("%s: %w", cb.name, ErrOpen)
}

// RecordSuccess resets the failure streak and closes a half-open breaker once
// enough probes succeed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.WithField("source", cb.name).Info("Circuit breaker closed: source has recovered")
		}
	}
}

// RecordFailure extends the failure streak, tripping the breaker at the
// threshold. Any failure while half-open trips it again immediately.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch {
	case cb.state == StateHalfOpen:
		cb.trip(fmt.Sprintf("probe failed: %v", err))
	case cb.failureThreshold > 0 && cb.state == StateClosed && cb.failures >= cb.failureThreshold:
		cb.trip(fmt.Sprintf("%d consecutive failures, last: %v", cb.failures, err))
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	logrus.WithField("source", cb.name).Info("Circuit breaker manually reset to closed state")
}

// trip sets the circuit breaker to open state. Caller holds mu.
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTrip = cb.now()
	cb.successCount = 0
	logrus.WithFields(logrus.Fields{
		"source":      cb.name,
		"reset_delay": cb.resetDelay,
	}).Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(cb.name, reason)
	}
}
