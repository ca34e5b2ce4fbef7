// Package aggregate combines candidates reported by several providers into one
// record per map before they reach the dedup cache.
package aggregate

import (
	"sort"
	"strings"

	"github.com/yourorg/draftwatch/internal/model"
)

// Merge collapses candidates that describe the same map. The record with the
// highest DataQualityScore is kept as primary (earlier input wins ties), its
// missing fields are filled from the others, and ProviderSource lists every
// contributing provider, primary first. Candidates without a valid map id are
// passed through untouched. Output keeps first-seen order.
func Merge(candidates []model.MatchCandidate) []model.MatchCandidate {
	if len(candidates) < 2 {
		return candidates
	}

	groups := make(map[model.MapIdentifier][]int)
	var order []model.MapIdentifier
	out := make([]model.MatchCandidate, 0, len(candidates))
	slot := make(map[model.MapIdentifier]int)

	for i, c := range candidates {
		id := c.MapID()
		if !id.Valid() {
			out = append(out, c)
			continue
		}
		if _, seen := groups[id]; !seen {
			order = append(order, id)
			slot[id] = len(out)
			out = append(out, model.MatchCandidate{})
		}
		groups[id] = append(groups[id], i)
	}

	for _, id := range order {
		idx := groups[id]
		group := make([]model.MatchCandidate, len(idx))
		for j, i := range idx {
			group[j] = candidates[i]
		}
		out[slot[id]] = mergeGroup(group)
	}
	return out
}

func mergeGroup(group []model.MatchCandidate) model.MatchCandidate {
	if len(group) == 1 {
		return group[0]
	}

	sort.SliceStable(group, func(i, j int) bool {
		return group[i].DataQualityScore > group[j].DataQualityScore
	})

	merged := group[0]
	merged.ExternalIDs = make(map[string]string)
	merged.TeamIDs = make(map[string]model.TeamPair)
	var providers []string

	for _, c := range group {
		swapped, aligned := alignment(merged, c)
		for p, ids := range c.TeamIDs {
			if _, ok := merged.TeamIDs[p]; ok || !aligned {
				continue
			}
			if swapped {
				ids = ids.Swap()
			}
			merged.TeamIDs[p] = ids
		}
		for p, id := range c.ExternalIDs {
			if _, ok := merged.ExternalIDs[p]; !ok {
				merged.ExternalIDs[p] = id
			}
		}
		for _, p := range strings.Split(c.ProviderSource, ",") {
			if p = strings.TrimSpace(p); p != "" && !contains(providers, p) {
				providers = append(providers, p)
			}
		}

		if merged.League == "" {
			merged.League = c.League
		}
		if merged.Status == model.StatusUnknown || merged.Status == "" {
			if c.Status != model.StatusUnknown && c.Status != "" {
				merged.Status = c.Status
			}
		}
		if merged.GameTimeSeconds == 0 {
			merged.GameTimeSeconds = c.GameTimeSeconds
		}
		if merged.ScheduledAt.IsZero() {
			merged.ScheduledAt = c.ScheduledAt
		}
		if aligned && c.InlineDraft().Picks() > merged.InlineDraft().Picks() {
			merged.TeamAComposition, merged.TeamBComposition = c.TeamAComposition, c.TeamBComposition
			if swapped {
				merged.TeamAComposition, merged.TeamBComposition = c.TeamBComposition, c.TeamAComposition
			}
		}
	}

	merged.ProviderSource = strings.Join(providers, ",")
	if score := model.ScoreDataQuality(merged); score > merged.DataQualityScore {
		merged.DataQualityScore = score
	}
	return merged
}

// alignment reports how c lists the two teams relative to primary: in the
// same order, swapped, or not recognisably the same teams at all.
func alignment(primary, c model.MatchCandidate) (swapped, aligned bool) {
	switch {
	case model.SameTeam(c.TeamAName, primary.TeamAName) && model.SameTeam(c.TeamBName, primary.TeamBName):
		return false, true
	case model.SameTeam(c.TeamAName, primary.TeamBName) && model.SameTeam(c.TeamBName, primary.TeamAName):
		return true, true
	}
	return false, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
