package prediction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/draftwatch/internal/model"
)

func fixture(confidence float64) (model.MatchCandidate, model.CompositionResult) {
	c := model.MatchCandidate{
		MatchID:            "lolesports:g1",
		SeriesID:           "S1",
		GameNumberInSeries: 1,
		TeamAName:          "T1",
		TeamBName:          "Gen.G",
		League:             "LCK",
		DataQualityScore:   0.8,
	}
	r := model.NewCompositionResult("livestats", confidence, model.Draft{
		TeamA: []string{"Gnar", "Vi", "Azir", "Varus", "Rell"},
		TeamB: []string{"Ksante", "Sejuani", "Taliyah", "Kalista", "Renata"},
	})
	return c, r
}

func TestBaseline_Evaluate(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 2, 0, 0, time.UTC)
	engine := NewBaseline(0.4).WithClock(func() time.Time { return now })
	c, r := fixture(0.95)

	rec, err := engine.Evaluate(context.Background(), c, r)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "T1", rec.Pick)
	assert.InDelta(t, 0.48, rec.Score, 1e-9)
	assert.Equal(t, c.MapID(), rec.MapID)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Contains(t, rec.Summary, "3 vs 2")
}

func TestBaseline_BelowThreshold(t *testing.T) {
	engine := NewBaseline(0.5)
	c, r := fixture(0.95)

	rec, err := engine.Evaluate(context.Background(), c, r)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBaseline_NoEdge(t *testing.T) {
	engine := NewBaseline(0)
	c, r := fixture(1)
	r.TeamBComposition = []string{"Rumble", "Sejuani", "Taliyah", "Kalista", "Renata"}

	rec, err := engine.Evaluate(context.Background(), c, r)
	require.NoError(t, err)
	assert.Nil(t, rec, "equal drafts give no pick")
}

func TestBaseline_RejectsIncompleteDraft(t *testing.T) {
	c, _ := fixture(1)
	r := model.NewCompositionResult("inline", 0.5, model.Draft{TeamA: []string{"Vi"}})

	_, err := NewBaseline(0).Evaluate(context.Background(), c, r)
	assert.Error(t, err)
}

func TestEngineFunc(t *testing.T) {
	var called bool
	var e Engine = EngineFunc(func(ctx context.Context, c model.MatchCandidate, r model.CompositionResult) (*model.Recommendation, error) {
		called = true
		return nil, nil
	})
	c, r := fixture(1)
	_, _ = e.Evaluate(context.Background(), c, r)
	assert.True(t, called)
}
