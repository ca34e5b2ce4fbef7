// Package model defines the core data structures for draftwatch.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the normalized lifecycle state of a match as reported by a provider.
type Status string

// Match statuses
const (
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusFinished  Status = "finished"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps the status vocabulary of the supported providers onto Status.
// Anything unrecognised (including the empty string) is StatusUnknown.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "live", "inprogress", "in_progress", "running", "started":
		return StatusLive
	case "scheduled", "unstarted", "not_started", "upcoming":
		return StatusScheduled
	case "finished", "completed", "ended", "canceled", "cancelled", "not_played":
		return StatusFinished
	default:
		return StatusUnknown
	}
}

// MatchCandidate is the normalized view of one map of a live or upcoming series.
// It is rebuilt from provider payloads on every scheduler tick.
type MatchCandidate struct {
	// MatchID is provider-qualified, e.g. "lolesports:110853167109116577".
	MatchID string `json:"match_id"`

	// SeriesID identifies the best-of-N series across providers (see CanonicalSeriesID).
	SeriesID string `json:"series_id"`

	// ExternalIDs holds each provider's own id for this map, keyed by provider
	// name. Composition sources look games up by their provider's id.
	ExternalIDs map[string]string `json:"external_ids,omitempty"`

	TeamAName string `json:"team_a"`
	TeamBName string `json:"team_b"`

	// TeamIDs holds each provider's own ids for TeamAName and TeamBName, keyed
	// by provider name. Composition sources use them to tell which side each
	// team plays on, since teams swap sides between games of a series.
	TeamIDs map[string]TeamPair `json:"team_ids,omitempty"`
	League    string `json:"league"`
	Status    Status `json:"status"`

	// GameTimeSeconds is the in-game clock, which starts when the draft completes.
	GameTimeSeconds int `json:"game_time_seconds"`

	// GameNumberInSeries is derived from provider series ordinality, never from wall-clock.
	GameNumberInSeries int `json:"game_number"`

	TeamAComposition []string `json:"team_a_composition,omitempty"`
	TeamBComposition []string `json:"team_b_composition,omitempty"`

	// DataQualityScore is in [0,1]; see ScoreDataQuality.
	DataQualityScore float64 `json:"data_quality"`

	// ProviderSource names the provider(s) the record came from, primary first.
	ProviderSource string `json:"provider"`

	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
}

// MapID returns the dedup key of the map this candidate describes.
func (c MatchCandidate) MapID() MapIdentifier {
	return MapIdentifier{Series: c.SeriesID, Game: c.GameNumberInSeries}
}

// HasStableID reports whether the candidate can be pinned to exactly one map.
func (c MatchCandidate) HasStableID() bool {
	return c.MatchID != "" && c.MapID().Valid()
}

// ExternalID returns the id provider uses for this map, or "".
func (c MatchCandidate) ExternalID(provider string) string {
	return c.ExternalIDs[provider]
}

// TeamIDsFor returns provider's ids for team A and team B, zero if unknown.
func (c MatchCandidate) TeamIDsFor(provider string) TeamPair {
	return c.TeamIDs[provider]
}

// InlineDraft returns whatever picks the provider embedded in the match record.
func (c MatchCandidate) InlineDraft() Draft {
	return Draft{TeamA: c.TeamAComposition, TeamB: c.TeamBComposition}
}

// WithComposition returns a copy of the candidate carrying the resolved draft.
func (c MatchCandidate) WithComposition(r CompositionResult) MatchCandidate {
	c.TeamAComposition = append([]string(nil), r.TeamAComposition...)
	c.TeamBComposition = append([]string(nil), r.TeamBComposition...)
	// A clock observed by the tier beats one derived from schedule timestamps.
	if r.GameTimeSeconds > 0 {
		c.GameTimeSeconds = r.GameTimeSeconds
	}
	return c
}

// TeamPair is one provider's ids for team A and team B of a candidate.
type TeamPair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Known reports whether both ids are set.
func (p TeamPair) Known() bool {
	return p.A != "" && p.B != ""
}

// Swap returns the pair with A and B exchanged.
func (p TeamPair) Swap() TeamPair {
	return TeamPair{A: p.B, B: p.A}
}

// MapIdentifier is the dedup key for one game within a series.
// It is a comparable value type and is used directly as a map key.
type MapIdentifier struct {
	Series string
	Game   int
}

// Valid reports whether both halves of the key are set.
func (m MapIdentifier) Valid() bool {
	return m.Series != "" && m.Game >= 1
}

func (m MapIdentifier) String() string {
	return fmt.Sprintf("%s#g%d", m.Series, m.Game)
}

// CompositionResult is the output of one composition resolution.
type CompositionResult struct {
	TeamAComposition []string `json:"team_a"`
	TeamBComposition []string `json:"team_b"`

	// SourceName identifies the fallback tier that answered.
	SourceName string `json:"source"`

	// IsComplete is true iff both sides have exactly DraftSize distinct picks.
	IsComplete bool `json:"complete"`

	// Confidence is the static confidence of the answering tier.
	Confidence float64 `json:"confidence"`

	// GameTimeSeconds is the in-game clock observed by the tier, 0 if unknown.
	GameTimeSeconds int `json:"game_time_seconds,omitempty"`
}

// NewCompositionResult normalizes a draft and stamps it with the tier that produced it.
func NewCompositionResult(source string, confidence float64, d Draft) CompositionResult {
	n := d.Normalize()
	return CompositionResult{
		TeamAComposition: n.TeamA,
		TeamBComposition: n.TeamB,
		SourceName:       source,
		IsComplete:       n.Complete(),
		Confidence:       confidence,
		GameTimeSeconds:  n.GameTimeSeconds,
	}
}

// Picks returns the total number of picks across both sides.
func (r CompositionResult) Picks() int {
	return len(r.TeamAComposition) + len(r.TeamBComposition)
}

// Recommendation is what the prediction engine produces for an accepted map.
type Recommendation struct {
	MapID       MapIdentifier     `json:"map_id"`
	Candidate   MatchCandidate    `json:"candidate"`
	Composition CompositionResult `json:"composition"`

	// Pick is the team the engine favours.
	Pick    string  `json:"pick"`
	Score   float64 `json:"score"`
	Summary string  `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
