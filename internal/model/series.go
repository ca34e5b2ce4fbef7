package model

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// orgSuffixes are dropped from team names so "T1 Esports" and "T1" agree.
var orgSuffixes = map[string]bool{
	"esports": true,
	"gaming":  true,
	"team":    true,
	"club":    true,
}

// CanonicalSeriesID builds a provider-independent series key from the two
// team names and the UTC day the series was scheduled. Team order does not
// matter. A zero day omits the date suffix.
func CanonicalSeriesID(teamA, teamB string, scheduled time.Time) string {
	a, b := canonicalTeam(teamA), canonicalTeam(teamB)
	if a == "" || b == "" {
		return ""
	}
	names := []string{a, b}
	sort.Strings(names)
	id := names[0] + "-vs-" + names[1]
	if !scheduled.IsZero() {
		id += "@" + scheduled.UTC().Format("2006-01-02")
	}
	return id
}

// SameTeam reports whether two provider spellings name the same team.
func SameTeam(a, b string) bool {
	ca := canonicalTeam(a)
	return ca != "" && ca == canonicalTeam(b)
}

func canonicalTeam(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r) || r == '-':
			return ' '
		default:
			return -1
		}
	}, name)

	words := strings.Fields(cleaned)
	kept := words[:0:0]
	for _, w := range words {
		if orgSuffixes[w] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		kept = words
	}
	return strings.Join(kept, "")
}
