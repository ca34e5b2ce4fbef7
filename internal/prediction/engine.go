// Package prediction turns an accepted map into a recommendation.
package prediction

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yourorg/draftwatch/internal/model"
)

// Engine scores one accepted map. A nil recommendation with a nil error
// means there is nothing worth sending.
type Engine interface {
	Evaluate(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error)

// Evaluate implements Engine.
func (f EngineFunc) Evaluate(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error) {
	return f(ctx, c, r)
}

// earlyGame lists champions whose strength is front-loaded in the first
// minutes of a game.
var earlyGame = map[string]bool{
	"lee sin": true, "elise": true, "nidalee": true, "xin zhao": true, "jarvan iv": true,
	"vi": true, "pantheon": true, "renekton": true, "gnar": true, "rumble": true,
	"lucian": true, "draven": true, "kalista": true, "rell": true, "leona": true,
	"nautilus": true, "alistar": true, "lillia": true, "taliyah": true, "sylas": true,
}

// Baseline favours the side with the stronger early-game draft, weighted by
// how much the pipeline trusts the data behind it.
type Baseline struct {
	minScore float64
	now      func() time.Time
}

// NewBaseline creates the baseline engine. Recommendations scoring below
// minScore are dropped.
func NewBaseline(minScore float64) *Baseline {
	return &Baseline{minScore: minScore, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (b *Baseline) WithClock(now func() time.Time) *Baseline {
	b.now = now
	return b
}

// Evaluate implements Engine.
func (b *Baseline) Evaluate(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.IsComplete {
		return nil, fmt.Errorf("map %s: draft incomplete", c.MapID())
	}

	a, bb := earlyCount(r.TeamAComposition), earlyCount(r.TeamBComposition)
	if a == bb {
		return nil, nil
	}

	pick := c.TeamAName
	if bb > a {
		pick = c.TeamBName
	}
	edge := math.Abs(float64(a-bb)) / model.DraftSize
	trust := r.Confidence * c.DataQualityScore
	score := math.Round((0.5*edge+0.5*trust)*100) / 100
	if score < b.minScore {
		return nil, nil
	}

	return &model.Recommendation{
		MapID:       c.MapID(),
		Candidate:   c,
		Composition: r,
		Pick:        pick,
		Score:       score,
		Summary: fmt.Sprintf("%s early-game picks %d vs %d (%s, %s)",
			pick, max(a, bb), min(a, bb), r.SourceName, c.League),
		CreatedAt: b.now(),
	}, nil
}

func earlyCount(picks []string) int {
	n := 0
	for _, p := range picks {
		if earlyGame[strings.ToLower(strings.TrimSpace(p))] {
			n++
		}
	}
	return n
}
