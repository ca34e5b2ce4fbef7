package scheduler

import (
	"sync/atomic"
	"time"
)

// Outcome is the terminal state of one candidate within a tick.
type Outcome string

// Candidate outcomes
const (
	OutcomeUnidentified      Outcome = "unidentified"
	OutcomeAlreadyClaimed    Outcome = "already_claimed"
	OutcomeRejected          Outcome = "rejected"
	OutcomeClaimLost         Outcome = "claim_lost"
	OutcomeNoRecommendation  Outcome = "no_recommendation"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeDispatched        Outcome = "dispatched"
	OutcomeDispatchFailed    Outcome = "dispatch_failed"
	OutcomeFailed            Outcome = "failed"
	OutcomeInvariantViolated Outcome = "invariant_violated"
	OutcomeCancelled         Outcome = "cancelled"
)

// claimed reports whether the candidate got past the claim step.
func (o Outcome) claimed() bool {
	switch o {
	case OutcomeNoRecommendation, OutcomeRateLimited, OutcomeDispatched, OutcomeDispatchFailed:
		return true
	}
	return false
}

// TickStats describes one tick.
type TickStats struct {
	TickID          string        `json:"tick_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	DiscoveryFailed bool          `json:"discovery_failed"`
	SourcesFailed   int           `json:"sources_failed"`

	Candidates     int `json:"candidates"`
	AlreadyClaimed int `json:"already_claimed"`
	Rejected       int `json:"rejected"`
	Claimed        int `json:"claimed"`
	Dispatched     int `json:"dispatched"`
	RateLimited    int `json:"rate_limited"`
	DispatchFailed int `json:"dispatch_failed"`
	Failed         int `json:"failed"`
}

// Stats are cumulative since the scheduler was created.
type Stats struct {
	Ticks           int64     `json:"ticks"`
	DiscoveryFailed int64     `json:"discovery_failed"`
	Candidates      int64     `json:"candidates"`
	Claimed         int64     `json:"claimed"`
	Dispatched      int64     `json:"dispatched"`
	RateLimited     int64     `json:"rate_limited"`
	DispatchFailed  int64     `json:"dispatch_failed"`
	Failed          int64     `json:"failed"`
	LastTickAt      time.Time `json:"last_tick_at,omitempty"`
}

// tickCounters collects outcomes from concurrent candidate workers.
type tickCounters struct {
	alreadyClaimed atomic.Int64
	rejected       atomic.Int64
	claimed        atomic.Int64
	dispatched     atomic.Int64
	rateLimited    atomic.Int64
	dispatchFailed atomic.Int64
	failed         atomic.Int64
}

func (c *tickCounters) add(o Outcome) {
	if o.claimed() {
		c.claimed.Add(1)
	}
	switch o {
	case OutcomeAlreadyClaimed, OutcomeClaimLost:
		c.alreadyClaimed.Add(1)
	case OutcomeRejected, OutcomeUnidentified:
		c.rejected.Add(1)
	case OutcomeDispatched:
		c.dispatched.Add(1)
	case OutcomeRateLimited:
		c.rateLimited.Add(1)
	case OutcomeDispatchFailed:
		c.dispatchFailed.Add(1)
	case OutcomeFailed, OutcomeInvariantViolated:
		c.failed.Add(1)
	}
}

func (c *tickCounters) fill(ts *TickStats) {
	ts.AlreadyClaimed = int(c.alreadyClaimed.Load())
	ts.Rejected = int(c.rejected.Load())
	ts.Claimed = int(c.claimed.Load())
	ts.Dispatched = int(c.dispatched.Load())
	ts.RateLimited = int(c.rateLimited.Load())
	ts.DispatchFailed = int(c.dispatchFailed.Load())
	ts.Failed = int(c.failed.Load())
}

func (s *Stats) add(ts TickStats) {
	s.Ticks++
	if ts.DiscoveryFailed {
		s.DiscoveryFailed++
	}
	s.Candidates += int64(ts.Candidates)
	s.Claimed += int64(ts.Claimed)
	s.Dispatched += int64(ts.Dispatched)
	s.RateLimited += int64(ts.RateLimited)
	s.DispatchFailed += int64(ts.DispatchFailed)
	s.Failed += int64(ts.Failed)
	s.LastTickAt = ts.StartedAt
}
