// Package validation decides whether a resolved match candidate is eligible
// to move on toward a recommendation.
package validation

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/model"
)

// Reason names the first check a candidate failed.
type Reason string

// Rejection reasons, in check order.
const (
	ReasonNone        Reason = ""
	ReasonLeague      Reason = "league_not_eligible"
	ReasonStatus      Reason = "status_not_eligible"
	ReasonComposition Reason = "composition_incomplete"
	ReasonTiming      Reason = "outside_timing_window"
	ReasonDataQuality Reason = "data_quality_below_floor"
)

// GateOptions holds configuration for the quality gate
type GateOptions struct {
	// Leagues is the allow-list, matched case-insensitively as substrings of the league name
	Leagues []string

	// KeywordFallback admits leagues missing from the allow-list whose name
	// contains one of Keywords. It trades precision for recall: international
	// events and regional finals are caught without listing each one, at the
	// cost of admitting e.g. amateur "championship" circuits.
	KeywordFallback bool
	Keywords        []string

	// MinGameTime and MaxGameTime bound the in-game clock, which starts when the
	// draft completes. A non-positive MaxGameTime disables the upper bound.
	MinGameTime time.Duration
	MaxGameTime time.Duration

	// MinDataQuality is the floor for MatchCandidate.DataQualityScore
	MinDataQuality float64

	// Compositions from a tier with at least HighTrustConfidence are held to
	// RelaxedMinDataQuality instead. Zero disables the relaxation.
	HighTrustConfidence   float64
	RelaxedMinDataQuality float64
}

// DefaultGateOptions returns sensible defaults for the gate
func DefaultGateOptions() GateOptions {
	return GateOptions{
		Leagues: []string{
			"LCK", "LPL", "LEC", "LCS", "LTA", "PCS", "VCS", "CBLOL", "LJL", "LLA",
			"Worlds", "MSI", "First Stand",
		},
		KeywordFallback: true,
		Keywords: []string{
			"championship", "masters", "worlds", "mid-season", "invitational", "playoffs", "finals",
		},
		MinGameTime:           0,
		MaxGameTime:           8 * time.Minute,
		MinDataQuality:        0.5,
		HighTrustConfidence:   0.9,
		RelaxedMinDataQuality: 0.3,
	}
}

// Verdict is the outcome of Evaluate. Reason is empty when accepted.
type Verdict struct {
	Accepted bool
	Reason   Reason
}

// Gate is the ordered chain of eligibility checks. It holds no mutable state.
type Gate struct {
	opts GateOptions
}

// NewGate creates a gate with the given options.
func NewGate(opts GateOptions) *Gate {
	return &Gate{opts: opts}
}

// Options returns the gate configuration.
func (g *Gate) Options() GateOptions {
	return g.opts
}

// Accepts reports whether the candidate passes every check.
func (g *Gate) Accepts(c model.MatchCandidate, r *model.CompositionResult) bool {
	return g.Evaluate(c, r).Accepted
}

// Evaluate runs the checks in order and stops at the first failure:
// league, status, composition, timing, data quality.
func (g *Gate) Evaluate(c model.MatchCandidate, r *model.CompositionResult) Verdict {
	reject := func(reason Reason, fields logrus.Fields) Verdict {
		fields["map_id"] = c.MapID().String()
		fields["reason"] = reason
		logrus.WithFields(fields).Debug("Candidate rejected by quality gate")
		return Verdict{Reason: reason}
	}

	if !CheckLeague(c.League, g.opts) {
		return reject(ReasonLeague, logrus.Fields{"league": c.League})
	}
	if !CheckStatus(c.Status, c.HasStableID()) {
		return reject(ReasonStatus, logrus.Fields{"status": c.Status})
	}
	if !CheckComposition(r) {
		picks := 0
		if r != nil {
			picks = r.Picks()
		}
		return reject(ReasonComposition, logrus.Fields{"picks": picks})
	}
	if !CheckTiming(c.GameTimeSeconds, g.opts.MinGameTime, g.opts.MaxGameTime) {
		return reject(ReasonTiming, logrus.Fields{"game_time": c.GameTimeSeconds})
	}
	floor := DataQualityFloor(r.Confidence, g.opts)
	if !CheckDataQuality(c.DataQualityScore, floor) {
		return reject(ReasonDataQuality, logrus.Fields{"quality": c.DataQualityScore, "floor": floor})
	}
	return Verdict{Accepted: true}
}

// CheckLeague matches the league against the allow-list, then, if enabled,
// against the keyword fallback.
func CheckLeague(league string, opts GateOptions) bool {
	name := strings.ToLower(strings.TrimSpace(league))
	if name == "" {
		return false
	}
	for _, allowed := range opts.Leagues {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed != "" && strings.Contains(name, allowed) {
			return true
		}
	}
	if !opts.KeywordFallback {
		return false
	}
	for _, kw := range opts.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// CheckStatus admits live maps, and maps of unknown status that can still be
// pinned to a single map id.
func CheckStatus(status model.Status, hasStableID bool) bool {
	switch status {
	case model.StatusLive:
		return true
	case model.StatusUnknown, "":
		return hasStableID
	default:
		return false
	}
}

// CheckComposition is a hard gate: only a complete draft passes.
func CheckComposition(r *model.CompositionResult) bool {
	return r != nil && r.IsComplete &&
		len(r.TeamAComposition) == model.DraftSize &&
		len(r.TeamBComposition) == model.DraftSize
}

// CheckTiming reports whether gameTimeSeconds lies in [min, max].
func CheckTiming(gameTimeSeconds int, min, max time.Duration) bool {
	t := time.Duration(gameTimeSeconds) * time.Second
	if t < min {
		return false
	}
	return max <= 0 || t <= max
}

// DataQualityFloor returns the quality floor that applies to a composition
// produced with the given tier confidence.
func DataQualityFloor(confidence float64, opts GateOptions) float64 {
	if opts.HighTrustConfidence > 0 && confidence >= opts.HighTrustConfidence &&
		opts.RelaxedMinDataQuality < opts.MinDataQuality {
		return opts.RelaxedMinDataQuality
	}
	return opts.MinDataQuality
}

// CheckDataQuality reports whether score meets floor.
func CheckDataQuality(score, floor float64) bool {
	return score >= floor
}
