// Package resolver fills in team compositions for a match by walking an
// ordered list of sources, most trusted first, until one returns a complete draft.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/cache"
	"github.com/yourorg/draftwatch/internal/circuitbreaker"
	"github.com/yourorg/draftwatch/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrNoTiers is returned by New when no tier is configured.
	ErrNoTiers = errors.New("resolver needs at least one tier")

	// ErrTierOrder is returned by New when a tier is more trusted than the one before it.
	ErrTierOrder = errors.New("tiers must be ordered by non-increasing confidence")

	// ErrNotApplicable is returned by a Source that has nothing to look up for
	// a candidate, e.g. no id from its provider. It is not counted as a failure.
	ErrNotApplicable = errors.New("source not applicable to candidate")
)

const defaultTierTimeout = 5 * time.Second

// Source looks up the draft of one map. A source that has no data yet
// returns an empty draft and a nil error.
type Source interface {
	Lookup(ctx context.Context, c model.MatchCandidate) (model.Draft, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, c model.MatchCandidate) (model.Draft, error)

// Lookup implements Source.
func (f SourceFunc) Lookup(ctx context.Context, c model.MatchCandidate) (model.Draft, error) {
	return f(ctx, c)
}

// Tier is one fallback level. Confidence is a static property of the tier.
type Tier struct {
	Name       string
	Confidence float64
	Timeout    time.Duration
	Source     Source
}

// Outcome classifies a single tier attempt.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomePartial  Outcome = "partial"
	OutcomeEmpty    Outcome = "empty"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeCached   Outcome = "cached"
)

// Attempt records what one tier did for one resolution.
type Attempt struct {
	Tier     string
	Outcome  Outcome
	Picks    int
	Err      error
	Duration time.Duration
}

// Resolution is the result of Resolve. Result is nil when every tier failed
// or returned nothing.
type Resolution struct {
	Result   *model.CompositionResult
	Attempts []Attempt
	Cached   bool
}

// Found reports whether any tier produced picks.
func (r Resolution) Found() bool {
	return r.Result != nil
}

// Complete reports whether the resolution carries a complete draft.
func (r Resolution) Complete() bool {
	return r.Result != nil && r.Result.IsComplete
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache keeps complete results keyed by match id for ttl.
func WithCache(c *cache.TTL[string, model.CompositionResult], ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithBreakers puts a circuit breaker in front of every tier.
func WithBreakers(failures int, cooldown time.Duration) Option {
	return func(r *Resolver) {
		r.breakers = make(map[string]*circuitbreaker.CircuitBreaker, len(r.tiers))
		for _, t := range r.tiers {
			r.breakers[t.Name] = circuitbreaker.New(t.Name, failures).WithResetDelay(cooldown)
		}
	}
}

// WithAttemptHook registers fn to be called after every tier attempt.
func WithAttemptHook(fn func(Attempt)) Option {
	return func(r *Resolver) {
		r.onAttempt = fn
	}
}

// Resolver is the cascading composition lookup. It is safe for concurrent use.
type Resolver struct {
	tiers     []Tier
	cache     *cache.TTL[string, model.CompositionResult]
	cacheTTL  time.Duration
	breakers  map[string]*circuitbreaker.CircuitBreaker
	onAttempt func(Attempt)
}

// New validates tiers and builds a Resolver.
func New(tiers []Tier, opts ...Option) (*Resolver, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		switch {
		case t.Name == "":
			return nil, fmt.Errorf("tier %d has no name", i)
		case seen[t.Name]:
			return nil, fmt.Errorf("duplicate tier %q", t.Name)
		case t.Source == nil:
			return nil, fmt.Errorf("tier %q has no source", t.Name)
		case t.Confidence < 0 || t.Confidence > 1:
			return nil, fmt.Errorf("tier %q confidence %.2f outside [0,1]", t.Name, t.Confidence)
		case i > 0 && t.Confidence > tiers[i-1].Confidence:
			return nil, fmt.Errorf("tier %q (%.2f) after %q (%.2f): %w",
				t.Name, t.Confidence, tiers[i-1].Name, tiers[i-1].Confidence, ErrTierOrder)
		}
		seen[t.Name] = true
	}

	r := &Resolver{tiers: append([]Tier(nil), tiers...)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Tiers returns the configured tier names in order.
func (r *Resolver) Tiers() []string {
	names := make([]string, len(r.tiers))
	for i, t := range r.tiers {
		names[i] = t.Name
	}
	return names
}

// BreakerStates returns the breaker state of every tier. It is empty when
// breakers are disabled.
func (r *Resolver) BreakerStates() map[string]string {
	states := make(map[string]string, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.GetState().String()
	}
	return states
}

// ResetBreaker closes the named tier's breaker. It reports false for an
// unknown tier.
func (r *Resolver) ResetBreaker(tier string) bool {
	b, ok := r.breakers[tier]
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// Resolve walks the tiers in order and stops at the first complete draft.
// Failures of individual tiers never fail the resolution: when no tier is
// complete the largest partial draft is returned, earlier tiers winning ties.
func (r *Resolver) Resolve(ctx context.Context, c model.MatchCandidate) Resolution {
	log := logrus.WithFields(logrus.Fields{
		"map_id":   c.MapID().String(),
		"match_id": c.MatchID,
	})

	if r.cache != nil && c.MatchID != "" {
		if cached, ok := r.cache.Get(c.MatchID); ok {
			a := Attempt{Tier: cached.SourceName, Outcome: OutcomeCached, Picks: cached.Picks()}
			r.report(a)
			return Resolution{Result: &cached, Attempts: []Attempt{a}, Cached: true}
		}
	}

	ctx, span := otel.Tracer("draftwatch/resolver").Start(ctx, "resolver.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("map_id", c.MapID().String()))

	var (
		res  Resolution
		best *model.CompositionResult
	)
	for _, tier := range r.tiers {
		if ctx.Err() != nil {
			log.WithError(ctx.Err()).Debug("Resolution cancelled")
			break
		}

		result, attempt := r.try(ctx, tier, c)
		res.Attempts = append(res.Attempts, attempt)
		r.report(attempt)
		log.WithFields(logrus.Fields{
			"tier":    tier.Name,
			"outcome": attempt.Outcome,
			"picks":   attempt.Picks,
		}).Debug("Composition tier attempted")

		if result == nil {
			continue
		}
		if result.IsComplete {
			if r.cache != nil && c.MatchID != "" {
				r.cache.Set(c.MatchID, *result, r.cacheTTL)
			}
			span.SetAttributes(attribute.String("source", result.SourceName))
			res.Result = result
			return res
		}
		if best == nil || result.Picks() > best.Picks() {
			best = result
		}
	}

	res.Result = best
	if best != nil {
		span.SetAttributes(attribute.String("source", best.SourceName))
	}
	return res
}

func (r *Resolver) try(ctx context.Context, tier Tier, c model.MatchCandidate) (*model.CompositionResult, Attempt) {
	attempt := Attempt{Tier: tier.Name}
	breaker := r.breakers[tier.Name]
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			attempt.Outcome = OutcomeSkipped
			attempt.Err = err
			return nil, attempt
		}
	}

	timeout := tier.Timeout
	if timeout <= 0 {
		timeout = defaultTierTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tctx, span := otel.Tracer("draftwatch/resolver").Start(tctx, "resolver.tier."+tier.Name)
	defer span.End()

	start := time.Now()
	draft, err := lookup(tctx, tier, c)
	attempt.Duration = time.Since(start)

	switch {
	case errors.Is(err, ErrNotApplicable):
		attempt.Outcome = OutcomeSkipped
		attempt.Err = err
		return nil, attempt
	case err != nil:
		attempt.Outcome = OutcomeFailed
		attempt.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		// A cancelled parent says nothing about the tier's health.
		if breaker != nil && ctx.Err() == nil {
			breaker.RecordFailure(err)
		}
		return nil, attempt
	}

	if breaker != nil {
		breaker.RecordSuccess()
	}
	result := model.NewCompositionResult(tier.Name, tier.Confidence, draft)
	attempt.Picks = result.Picks()
	span.SetAttributes(attribute.Int("picks", attempt.Picks))
	switch {
	case result.IsComplete:
		attempt.Outcome = OutcomeComplete
	case attempt.Picks > 0:
		attempt.Outcome = OutcomePartial
	default:
		attempt.Outcome = OutcomeEmpty
		return nil, attempt
	}
	return &result, attempt
}

// lookup isolates a panicking source so the next tier still runs.
func lookup(ctx context.Context, tier Tier, c model.MatchCandidate) (d model.Draft, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tier %s panicked: %v", tier.Name, rec)
		}
	}()
	return tier.Source.Lookup(ctx, c)
}

func (r *Resolver) report(a Attempt) {
	if r.onAttempt != nil {
		r.onAttempt(a)
	}
}
