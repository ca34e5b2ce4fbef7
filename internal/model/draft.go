package model

import "strings"

// DraftSize is the number of picks each side locks in.
const DraftSize = 5

// Draft is an unnormalized pair of pick lists as reported by a source.
type Draft struct {
	TeamA []string
	TeamB []string

	// GameTimeSeconds is the in-game clock the source observed, 0 if unknown.
	GameTimeSeconds int
}

// Normalize trims identifiers, drops blanks and removes duplicates per side.
// The same champion reported twice on one side counts once.
func (d Draft) Normalize() Draft {
	return Draft{
		TeamA:           normalizeSide(d.TeamA),
		TeamB:           normalizeSide(d.TeamB),
		GameTimeSeconds: d.GameTimeSeconds,
	}
}

// Complete reports whether both sides have exactly DraftSize distinct picks.
func (d Draft) Complete() bool {
	n := d.Normalize()
	return len(n.TeamA) == DraftSize && len(n.TeamB) == DraftSize
}

// Picks counts distinct picks across both sides.
func (d Draft) Picks() int {
	n := d.Normalize()
	return len(n.TeamA) + len(n.TeamB)
}

// Empty reports whether no side carries any pick.
func (d Draft) Empty() bool {
	return d.Picks() == 0
}

func normalizeSide(picks []string) []string {
	if len(picks) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(picks))
	out := make([]string, 0, len(picks))
	for _, p := range picks {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := strings.ToLower(p)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
