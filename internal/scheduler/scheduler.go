// Package scheduler drives the discovery, resolution, gating, claim and
// dispatch pipeline on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/dedup"
	"github.com/yourorg/draftwatch/internal/fetch"
	"github.com/yourorg/draftwatch/internal/model"
	"github.com/yourorg/draftwatch/internal/notify"
	"github.com/yourorg/draftwatch/internal/prediction"
	"github.com/yourorg/draftwatch/internal/ratelimit"
	"github.com/yourorg/draftwatch/internal/resolver"
	"github.com/yourorg/draftwatch/internal/validation"
)

var (
	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("scheduler already running")
	// ErrNotRunning is returned by Stop when the loop is not active.
	ErrNotRunning = errors.New("scheduler not running")
)

// State of the scheduler loop.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Options tune the loop. Zero values fall back to defaults.
type Options struct {
	Interval        time.Duration
	Workers         int
	SourceTimeout   time.Duration
	DispatchTimeout time.Duration

	// InlineConfidence is the confidence given to a complete draft that a
	// match source already carried, when the resolver is skipped.
	InlineConfidence float64
}

// DefaultOptions returns the defaults used for zero-valued fields.
func DefaultOptions() Options {
	return Options{
		Interval:         60 * time.Second,
		Workers:          4,
		SourceTimeout:    15 * time.Second,
		DispatchTimeout:  20 * time.Second,
		InlineConfidence: 0.5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.SourceTimeout <= 0 {
		o.SourceTimeout = d.SourceTimeout
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = d.DispatchTimeout
	}
	if o.InlineConfidence <= 0 {
		o.InlineConfidence = d.InlineConfidence
	}
	return o
}

// CompositionResolver resolves missing drafts. *resolver.Resolver implements it.
type CompositionResolver interface {
	Resolve(ctx context.Context, c model.MatchCandidate) resolver.Resolution
}

// ClaimSet is the process-lifetime dedup set. *dedup.MapCache implements it.
type ClaimSet interface {
	IsClaimed(id model.MapIdentifier) bool
	Claim(id model.MapIdentifier) (dedup.Ticket, bool)
	Verify(t dedup.Ticket) bool
	Len() int
}

// Cleaner is a cache swept at the end of every tick.
type Cleaner interface {
	Cleanup() int
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Sources  []fetch.MatchSource
	Resolver CompositionResolver
	Gate     *validation.Gate
	Dedup    ClaimSet
	Engine   prediction.Engine
	Sink     notify.Sink

	// Dispatch caps deliveries per rolling window. Nil means uncapped.
	Dispatch *ratelimit.DispatchLimiter
	Caches   []Cleaner
	Metrics  *Metrics
}

func (d Deps) validate() error {
	switch {
	case len(d.Sources) == 0:
		return errors.New("at least one match source is required")
	case d.Resolver == nil:
		return errors.New("resolver is required")
	case d.Gate == nil:
		return errors.New("gate is required")
	case d.Dedup == nil:
		return errors.New("dedup set is required")
	case d.Engine == nil:
		return errors.New("prediction engine is required")
	case d.Sink == nil:
		return errors.New("notification sink is required")
	}
	return nil
}

// Scheduler runs ticks on an interval. A tick is never run concurrently with
// another tick of the same Scheduler, forced or scheduled.
type Scheduler struct {
	opts Options
	deps Deps

	state atomic.Int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	tickMu sync.Mutex

	statsMu  sync.RWMutex
	stats    Stats
	lastTick TickStats
}

// New validates deps and creates an idle scheduler.
func New(opts Options, deps Deps) (*Scheduler, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler dependencies: %w", err)
	}
	s := &Scheduler{opts: opts.withDefaults(), deps: deps}
	s.state.Store(int32(StateIdle))
	return s, nil
}

// Start begins the tick loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.state.Store(int32(StateIdle))

	logrus.WithFields(logrus.Fields{
		"interval": s.opts.Interval,
		"workers":  s.opts.Workers,
		"sources":  len(s.deps.Sources),
	}).Info("Starting monitor scheduler")

	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for the running tick to finish or for ctx
// to expire. Claimed candidates finish their dispatch before the tick returns.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		logrus.Info("Monitor scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler to stop: %w", ctx.Err())
	}
}

// ForceTick runs one tick now. It waits for any scheduled tick in progress.
func (s *Scheduler) ForceTick(ctx context.Context) (TickStats, error) {
	logrus.Info("Forced tick requested")
	return s.tick(ctx)
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stats returns cumulative statistics.
func (s *Scheduler) Stats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// LastTick returns the statistics of the most recent tick.
func (s *Scheduler) LastTick() TickStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.lastTick
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.state.Store(int32(StateStopped))
		s.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.tick(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Warnf("Tick failed, retrying in %s", s.opts.Interval)
		}
		timer.Reset(s.opts.Interval)
	}
}

func (s *Scheduler) tick(ctx context.Context) (TickStats, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	prev := State(s.state.Swap(int32(StateScanning)))
	if prev == StateScanning {
		prev = StateIdle
	}
	defer s.state.CompareAndSwap(int32(StateScanning), int32(prev))

	ts, err := s.runTick(ctx)

	s.statsMu.Lock()
	s.stats.add(ts)
	s.lastTick = ts
	s.statsMu.Unlock()
	return ts, err
}
