package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/aggregate"
	"github.com/yourorg/draftwatch/internal/fetch"
	"github.com/yourorg/draftwatch/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "draftwatch/scheduler"

func (s *Scheduler) runTick(ctx context.Context) (ts TickStats, err error) {
	ts = TickStats{TickID: uuid.NewString(), StartedAt: time.Now()}
	log := logrus.WithField("tick_id", ts.TickID)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scheduler.Tick",
		trace.WithAttributes(attribute.String("tick_id", ts.TickID)))
	defer span.End()

	var failedSources []string
	defer func() {
		ts.Duration = time.Since(ts.StartedAt)
		s.deps.Metrics.observeTick(ts.Duration, failedSources)
		s.deps.Metrics.setClaimed(s.deps.Dedup.Len())
	}()

	batch, err := fetch.FetchAll(ctx, s.deps.Sources, s.opts.SourceTimeout)
	for name := range batch.Failed {
		failedSources = append(failedSources, name)
	}
	ts.SourcesFailed = len(batch.Failed)
	if err != nil {
		ts.DiscoveryFailed = true
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		log.WithError(err).Warn("Candidate discovery failed")
		s.cleanup(log)
		return ts, fmt.Errorf("discovering candidates: %w", err)
	}

	candidates := aggregate.Merge(batch.Candidates)
	ts.Candidates = len(candidates)
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	log.WithFields(logrus.Fields{
		"raw":        len(batch.Candidates),
		"candidates": len(candidates),
		"sources":    len(batch.Succeeded),
	}).Debug("Candidates discovered")

	var counters tickCounters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, c := range candidates {
		if gctx.Err() != nil {
			break
		}
		c := c
		g.Go(func() error {
			o := s.processCandidate(gctx, log, c)
			counters.add(o)
			s.deps.Metrics.observeCandidate(o)
			return nil
		})
	}
	_ = g.Wait()
	counters.fill(&ts)

	s.cleanup(log)

	log.WithFields(logrus.Fields{
		"candidates":  ts.Candidates,
		"claimed":     ts.Claimed,
		"dispatched":  ts.Dispatched,
		"rejected":    ts.Rejected,
		"failed":      ts.Failed,
		"duration_ms": time.Since(ts.StartedAt).Milliseconds(),
	}).Info("Tick complete")
	return ts, nil
}

// processCandidate runs one candidate through resolve, gate, claim and
// dispatch. Nothing here returns an error: every failure becomes an Outcome.
func (s *Scheduler) processCandidate(ctx context.Context, tickLog *logrus.Entry, c model.MatchCandidate) (outcome Outcome) {
	id := c.MapID()
	log := tickLog.WithFields(logrus.Fields{
		"map_id":   id.String(),
		"league":   c.League,
		"provider": c.ProviderSource,
	})

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Candidate processing panicked")
			outcome = OutcomeFailed
		}
	}()

	if !c.HasStableID() {
		log.Debug("Skipping candidate without a stable map identifier")
		return OutcomeUnidentified
	}
	if ctx.Err() != nil {
		return OutcomeCancelled
	}
	if s.deps.Dedup.IsClaimed(id) {
		return OutcomeAlreadyClaimed
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "scheduler.Candidate",
		trace.WithAttributes(attribute.String("map_id", id.String())))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		span.End()
	}()

	result := s.compose(ctx, c)
	if result != nil {
		c = c.WithComposition(*result)
	}

	verdict := s.deps.Gate.Evaluate(c, result)
	if !verdict.Accepted {
		log.WithField("reason", verdict.Reason).Debug("Candidate rejected")
		return OutcomeRejected
	}

	// The claim precedes all downstream work.
	ticket, ok := s.deps.Dedup.Claim(id)
	if !ok {
		log.Debug("Map claimed by a concurrent worker")
		return OutcomeClaimLost
	}
	if !s.deps.Dedup.Verify(ticket) {
		log.WithField("seq", ticket.Seq).Error("Claim ticket failed verification, aborting candidate")
		return OutcomeInvariantViolated
	}
	log.WithField("source", result.SourceName).Info("Map claimed")

	// Claimed work runs to completion even when the tick is cancelled.
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DispatchTimeout)
	defer cancel()

	rec, err := s.deps.Engine.Evaluate(workCtx, c, *result)
	if err != nil {
		log.WithError(err).Warn("Prediction engine failed")
		return OutcomeFailed
	}
	if rec == nil {
		log.Debug("No recommendation for map")
		return OutcomeNoRecommendation
	}

	if s.deps.Dispatch != nil && !s.deps.Dispatch.TryReserve() {
		log.WithField("ceiling", s.deps.Dispatch.Ceiling()).Warn("Dispatch ceiling reached, skipping recommendation")
		return OutcomeRateLimited
	}

	if err := s.deps.Sink.Dispatch(workCtx, *rec); err != nil {
		log.WithError(err).WithField("sink", s.deps.Sink.Name()).Error("Failed to dispatch recommendation")
		return OutcomeDispatchFailed
	}
	log.WithFields(logrus.Fields{
		"sink":  s.deps.Sink.Name(),
		"pick":  rec.Pick,
		"score": rec.Score,
	}).Info("Recommendation dispatched")
	return OutcomeDispatched
}

// compose returns the candidate's draft: the inline one when a source already
// delivered it complete, otherwise whatever the resolver finds.
func (s *Scheduler) compose(ctx context.Context, c model.MatchCandidate) *model.CompositionResult {
	if inline := c.InlineDraft(); inline.Complete() {
		r := model.NewCompositionResult("provider", s.opts.InlineConfidence, inline)
		return &r
	}
	return s.deps.Resolver.Resolve(ctx, c).Result
}

func (s *Scheduler) cleanup(log *logrus.Entry) {
	removed := 0
	for _, c := range s.deps.Caches {
		removed += c.Cleanup()
	}
	if removed > 0 {
		log.WithField("removed", removed).Debug("Expired cache entries swept")
	}
}
