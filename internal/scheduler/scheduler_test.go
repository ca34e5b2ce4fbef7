package scheduler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/draftwatch/internal/dedup"
	"github.com/yourorg/draftwatch/internal/fetch"
	"github.com/yourorg/draftwatch/internal/model"
	"github.com/yourorg/draftwatch/internal/notify"
	"github.com/yourorg/draftwatch/internal/prediction"
	"github.com/yourorg/draftwatch/internal/ratelimit"
	"github.com/yourorg/draftwatch/internal/resolver"
	"github.com/yourorg/draftwatch/internal/validation"
)

type staticSource struct {
	name       string
	candidates []model.MatchCandidate
	err        error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) FetchLive(ctx context.Context) ([]model.MatchCandidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.MatchCandidate(nil), s.candidates...), nil
}

type stubResolver struct {
	calls  atomic.Int32
	result *model.CompositionResult
}

func (r *stubResolver) Resolve(ctx context.Context, c model.MatchCandidate) resolver.Resolution {
	r.calls.Add(1)
	return resolver.Resolution{Result: r.result}
}

type recordingSink struct {
	mu   sync.Mutex
	recs []model.Recommendation
	err  error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Dispatch(ctx context.Context, rec model.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// brokenClaims hands out tickets that never verify.
type brokenClaims struct {
	*dedup.MapCache
}

func (brokenClaims) Verify(dedup.Ticket) bool { return false }

var (
	blueDraft = []string{"Gnar", "Vi", "Azir", "Varus", "Rell"}
	redDraft  = []string{"Ksante", "Sejuani", "Taliyah", "Kalista", "Renata"}
)

func lckCandidate(game int) model.MatchCandidate {
	id := "lolesports:11030" + strconv.Itoa(game)
	return model.MatchCandidate{
		MatchID:            id,
		SeriesID:           "geng-vs-t1@2026-10-18",
		ExternalIDs:        map[string]string{"lolesports": id},
		TeamAName:          "T1",
		TeamBName:          "Gen.G",
		League:             "LCK",
		Status:             model.StatusLive,
		GameTimeSeconds:    90,
		GameNumberInSeries: game,
		TeamAComposition:   blueDraft,
		TeamBComposition:   redDraft,
		DataQualityScore:   0.8,
		ProviderSource:     "lolesports",
	}
}

func testGate() *validation.Gate {
	return validation.NewGate(validation.GateOptions{
		Leagues:               []string{"LCK"},
		MaxGameTime:           120 * time.Second,
		MinDataQuality:        0.5,
		HighTrustConfidence:   0.9,
		RelaxedMinDataQuality: 0.3,
	})
}

func pickFirst(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error) {
	return &model.Recommendation{
		MapID:       c.MapID(),
		Candidate:   c,
		Composition: r,
		Pick:        c.TeamAName,
		Score:       0.7,
		Summary:     "test pick",
		CreatedAt:   time.Now(),
	}, nil
}

func testDeps(candidates ...model.MatchCandidate) Deps {
	return Deps{
		Sources:  []fetch.MatchSource{&staticSource{name: "lolesports", candidates: candidates}},
		Resolver: &stubResolver{},
		Gate:     testGate(),
		Dedup:    dedup.New(),
		Engine:   prediction.EngineFunc(pickFirst),
		Sink:     &recordingSink{},
	}
}

func newScheduler(t *testing.T, opts Options, deps Deps) *Scheduler {
	t.Helper()
	s, err := New(opts, deps)
	require.NoError(t, err)
	return s
}

func TestForceTick_DispatchesEachMapOnce(t *testing.T) {
	deps := testDeps(lckCandidate(1))
	sink := deps.Sink.(*recordingSink)
	s := newScheduler(t, Options{}, deps)

	ts, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ts.TickID)
	assert.Equal(t, 1, ts.Candidates)
	assert.Equal(t, 1, ts.Claimed)
	assert.Equal(t, 1, ts.Dispatched)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "provider", sink.recs[0].Composition.SourceName, "complete inline draft skips the resolver")
	assert.Zero(t, deps.Resolver.(*stubResolver).calls.Load())

	ts, err = s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ts.AlreadyClaimed)
	assert.Zero(t, ts.Dispatched)
	assert.Equal(t, 1, sink.count())

	assert.False(t, deps.Dedup.(*dedup.MapCache).TryClaim(lckCandidate(1).MapID()))

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Ticks)
	assert.Equal(t, int64(1), stats.Dispatched)
	assert.Equal(t, int64(1), stats.Claimed)
	assert.Equal(t, ts.TickID, s.LastTick().TickID)
	assert.Equal(t, StateIdle, s.State())
}

func TestForceTick_ClaimPrecedesEvaluation(t *testing.T) {
	deps := testDeps(lckCandidate(1))
	claims := deps.Dedup.(*dedup.MapCache)
	var claimedBeforeWork atomic.Bool
	deps.Engine = prediction.EngineFunc(func(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error) {
		claimedBeforeWork.Store(claims.IsClaimed(c.MapID()))
		return pickFirst(ctx, c, r)
	})
	s := newScheduler(t, Options{}, deps)

	_, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.True(t, claimedBeforeWork.Load())
}

func TestOverlappingSchedulers_ShareClaims(t *testing.T) {
	claims := dedup.New()
	sink := &recordingSink{}
	var evaluations atomic.Int32
	engine := prediction.EngineFunc(func(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error) {
		evaluations.Add(1)
		time.Sleep(10 * time.Millisecond)
		return pickFirst(ctx, c, r)
	})

	var schedulers []*Scheduler
	for _, provider := range []string{"lolesports", "pandascore"} {
		deps := testDeps(lckCandidate(1))
		deps.Sources = []fetch.MatchSource{&staticSource{name: provider, candidates: []model.MatchCandidate{lckCandidate(1)}}}
		deps.Dedup = claims
		deps.Engine = engine
		deps.Sink = sink
		schedulers = append(schedulers, newScheduler(t, Options{}, deps))
	}

	var wg sync.WaitGroup
	for _, s := range schedulers {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			_, err := s.ForceTick(context.Background())
			assert.NoError(t, err)
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int32(1), evaluations.Load())
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 1, claims.Len())
}

func TestForceTick_ResolvesMissingDraft(t *testing.T) {
	c := lckCandidate(1)
	c.TeamAComposition, c.TeamBComposition = nil, nil
	c.DataQualityScore = 0.4

	tests := []struct {
		name       string
		result     *model.CompositionResult
		dispatched int
		rejected   int
	}{
		{
			name: "high-trust tier relaxes the quality floor",
			result: func() *model.CompositionResult {
				r := model.NewCompositionResult("livestats", 0.95, model.Draft{TeamA: blueDraft, TeamB: redDraft})
				return &r
			}(),
			dispatched: 1,
		},
		{
			name: "low-trust tier keeps the floor",
			result: func() *model.CompositionResult {
				r := model.NewCompositionResult("pandascore", 0.8, model.Draft{TeamA: blueDraft, TeamB: redDraft})
				return &r
			}(),
			rejected: 1,
		},
		{
			name: "partial draft never passes",
			result: func() *model.CompositionResult {
				r := model.NewCompositionResult("livestats", 0.95, model.Draft{TeamA: blueDraft, TeamB: redDraft[:3]})
				return &r
			}(),
			rejected: 1,
		},
		{
			name:     "no draft at all",
			rejected: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := testDeps(c)
			res := &stubResolver{result: tt.result}
			deps.Resolver = res
			s := newScheduler(t, Options{}, deps)

			ts, err := s.ForceTick(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int32(1), res.calls.Load())
			assert.Equal(t, tt.dispatched, ts.Dispatched)
			assert.Equal(t, tt.rejected, ts.Rejected)
			assert.Equal(t, tt.dispatched, ts.Claimed, "rejected maps are not claimed")
		})
	}
}

func TestForceTick_DispatchCeiling(t *testing.T) {
	deps := testDeps(lckCandidate(1), lckCandidate(2))
	deps.Dispatch = ratelimit.NewDispatchLimiter(1, time.Hour)
	sink := deps.Sink.(*recordingSink)
	s := newScheduler(t, Options{Workers: 1}, deps)

	ts, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ts.Claimed)
	assert.Equal(t, 1, ts.Dispatched)
	assert.Equal(t, 1, ts.RateLimited)
	assert.Equal(t, 1, sink.count())

	ts, err = s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ts.AlreadyClaimed, "skipped maps stay claimed and are not retried")
	assert.Zero(t, ts.RateLimited)
}

func TestForceTick_DiscoveryFailure(t *testing.T) {
	deps := testDeps()
	deps.Sources = []fetch.MatchSource{
		&staticSource{name: "lolesports", err: errors.New("connection refused")},
		&staticSource{name: "pandascore", err: errors.New("timeout")},
	}
	s := newScheduler(t, Options{}, deps)

	ts, err := s.ForceTick(context.Background())
	require.ErrorIs(t, err, fetch.ErrAllSourcesFailed)
	assert.True(t, ts.DiscoveryFailed)
	assert.Equal(t, 2, ts.SourcesFailed)
	assert.Equal(t, int64(1), s.Stats().DiscoveryFailed)
	assert.Equal(t, int64(1), s.Stats().Ticks)
}

func TestForceTick_PartialDiscovery(t *testing.T) {
	deps := testDeps()
	deps.Sources = []fetch.MatchSource{
		&staticSource{name: "lolesports", candidates: []model.MatchCandidate{lckCandidate(1)}},
		&staticSource{name: "pandascore", err: errors.New("status 503")},
	}
	s := newScheduler(t, Options{}, deps)

	ts, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.False(t, ts.DiscoveryFailed)
	assert.Equal(t, 1, ts.SourcesFailed)
	assert.Equal(t, 1, ts.Dispatched)
}

func TestForceTick_IsolatesCandidateFailures(t *testing.T) {
	unidentified := lckCandidate(4)
	unidentified.SeriesID = ""
	deps := testDeps(lckCandidate(1), lckCandidate(2), lckCandidate(3), unidentified)
	deps.Engine = prediction.EngineFunc(func(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error) {
		switch c.GameNumberInSeries {
		case 1:
			panic("engine exploded")
		case 2:
			return nil, errors.New("model unavailable")
		}
		return pickFirst(ctx, c, r)
	})
	s := newScheduler(t, Options{}, deps)

	ts, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, ts.Candidates)
	assert.Equal(t, 2, ts.Failed)
	assert.Equal(t, 1, ts.Dispatched)
	assert.Equal(t, 1, ts.Rejected)
}

func TestForceTick_NoRecommendation(t *testing.T) {
	deps := testDeps(lckCandidate(1))
	deps.Engine = prediction.EngineFunc(func(context.Context, model.MatchCandidate, model.CompositionResult) (*model.Recommendation, error) {
		return nil, nil
	})
	s := newScheduler(t, Options{}, deps)

	ts, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ts.Claimed)
	assert.Zero(t, ts.Dispatched)
	assert.Zero(t, deps.Sink.(*recordingSink).count())
}

func TestForceTick_InvariantViolationAborts(t *testing.T) {
	deps := testDeps(lckCandidate(1))
	deps.Dedup = brokenClaims{dedup.New()}
	s := newScheduler(t, Options{}, deps)

	ts, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ts.Failed)
	assert.Zero(t, ts.Dispatched)
	assert.Zero(t, deps.Sink.(*recordingSink).count())
}

func TestForceTick_SinkFailureIsNotRetried(t *testing.T) {
	deps := testDeps(lckCandidate(1))
	sink := deps.Sink.(*recordingSink)
	sink.err = errors.New("webhook request failed with status 500")
	s := newScheduler(t, Options{}, deps)

	ts, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ts.DispatchFailed)

	sink.err = nil
	ts, err = s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ts.AlreadyClaimed)
	assert.Zero(t, sink.count())
}

func TestForceTick_SweepsCaches(t *testing.T) {
	swept := &countingCache{}
	deps := testDeps(lckCandidate(1))
	deps.Caches = []Cleaner{swept}
	s := newScheduler(t, Options{}, deps)

	_, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), swept.calls.Load())
}

type countingCache struct {
	calls atomic.Int32
}

func (c *countingCache) Cleanup() int {
	c.calls.Add(1)
	return 0
}

func TestStartStop(t *testing.T) {
	s := newScheduler(t, Options{Interval: 10 * time.Millisecond}, testDeps(lckCandidate(1)))
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return s.Stats().Ticks >= 2 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Stop(stopCtx), ErrNotRunning)

	ticks := s.Stats().Ticks
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, s.Stats().Ticks, "no tick after stop")

	// restart
	require.NoError(t, s.Start(ctx))
	require.Eventually(t, func() bool { return s.Stats().Ticks > ticks }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(stopCtx))
	assert.Equal(t, int64(1), s.Stats().Dispatched)
}

func TestStart_KeepsScheduleAfterDiscoveryFailure(t *testing.T) {
	deps := testDeps()
	deps.Sources = []fetch.MatchSource{&staticSource{name: "lolesports", err: errors.New("dns failure")}}
	s := newScheduler(t, Options{Interval: 10 * time.Millisecond}, deps)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Stats().DiscoveryFailed >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	deps := testDeps(lckCandidate(1))
	deps.Metrics = m
	s := newScheduler(t, Options{}, deps)

	_, err := s.ForceTick(context.Background())
	require.NoError(t, err)
	m.ObserveAttempt(resolver.Attempt{Tier: "livestats", Outcome: resolver.OutcomeComplete})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ticks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.candidates.WithLabelValues(string(OutcomeDispatched))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.dispatches.WithLabelValues("sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.resolverAttempts.WithLabelValues("livestats", string(resolver.OutcomeComplete))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.claimedMaps))
	assert.Equal(t, 1, testutil.CollectAndCount(m.tickDuration))

	hook := m.UpstreamHook("livestats")
	hook(time.Now())
	hook(time.Now())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.upstreamCalls.WithLabelValues("livestats")))

	var none *Metrics
	assert.Nil(t, none.UpstreamHook("livestats"))
}

func TestNew_ValidatesDeps(t *testing.T) {
	deps := testDeps()
	deps.Sink = nil
	_, err := New(Options{}, deps)
	assert.Error(t, err)

	deps = testDeps()
	deps.Sources = nil
	_, err = New(Options{}, deps)
	assert.Error(t, err)

	var sink notify.Sink = notify.LogSink{}
	deps = testDeps()
	deps.Sink = sink
	s, err := New(Options{}, deps)
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), s.opts)
}
