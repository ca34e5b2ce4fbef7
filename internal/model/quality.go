package model

import "math"

// Weights of each attribute in ScoreDataQuality. They sum to 1.
const (
	weightTeams      = 0.20
	weightLeague     = 0.15
	weightStatus     = 0.15
	weightSeries     = 0.10
	weightGameNumber = 0.10
	weightGameTime   = 0.10
	weightDraft      = 0.20
)

// ScoreDataQuality rates how much of a normalized record the provider actually
// filled in. Malformed or partial payloads score lower instead of being dropped.
func ScoreDataQuality(c MatchCandidate) float64 {
	var score float64
	if c.TeamAName != "" && c.TeamBName != "" {
		score += weightTeams
	}
	if c.League != "" {
		score += weightLeague
	}
	if c.Status != "" && c.Status != StatusUnknown {
		score += weightStatus
	}
	if c.SeriesID != "" {
		score += weightSeries
	}
	if c.GameNumberInSeries >= 1 {
		score += weightGameNumber
	}
	if c.GameTimeSeconds > 0 {
		score += weightGameTime
	}

	draft := c.InlineDraft()
	switch {
	case draft.Complete():
		score += weightDraft
	case !draft.Empty():
		score += weightDraft / 2
	}

	return math.Round(score*100) / 100
}
