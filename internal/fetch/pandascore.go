package fetch

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/cache"
	"github.com/yourorg/draftwatch/internal/model"
)

// PandaScoreSource lists running League of Legends matches from PandaScore.
type PandaScoreSource struct {
	client *Client
	cache  *cache.TTL[string, []model.MatchCandidate]
	ttl    time.Duration
	now    func() time.Time
}

// NewPandaScoreSource creates a MatchSource over /lol/matches/running.
func NewPandaScoreSource(client *Client, scheduleCache *cache.TTL[string, []model.MatchCandidate], ttl time.Duration) *PandaScoreSource {
	return &PandaScoreSource{client: client, cache: scheduleCache, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source used to derive game time, for tests.
func (s *PandaScoreSource) WithClock(now func() time.Time) *PandaScoreSource {
	s.now = now
	return s
}

// Name implements MatchSource.
func (s *PandaScoreSource) Name() string { return "pandascore" }

type pandascoreMatch struct {
	ID      int64      `json:"id"`
	Status  string     `json:"status"`
	BeginAt *time.Time `json:"begin_at"`
	League  struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"league"`
	Opponents []struct {
		Opponent struct {
			ID      int64  `json:"id"`
			Name    string `json:"name"`
			Acronym string `json:"acronym"`
		} `json:"opponent"`
	} `json:"opponents"`
	Games []struct {
		ID       int64      `json:"id"`
		Position int        `json:"position"`
		Status   string     `json:"status"`
		BeginAt  *time.Time `json:"begin_at"`
	} `json:"games"`
}

// FetchLive implements MatchSource. Every running game of every running match
// becomes one candidate. Games that report no status are kept as unknown.
func (s *PandaScoreSource) FetchLive(ctx context.Context) ([]model.MatchCandidate, error) {
	const key = "pandascore:running"
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cached, nil
		}
	}

	var matches []pandascoreMatch
	if err := s.client.GetJSON(ctx, "/lol/matches/running", &matches); err != nil {
		return nil, err
	}

	now := s.now()
	var out []model.MatchCandidate
	for _, m := range matches {
		if len(m.Opponents) < 2 {
			continue
		}
		teamA, teamB := m.Opponents[0].Opponent.Name, m.Opponents[1].Opponent.Name
		ids := model.TeamPair{
			A: teamID(m.Opponents[0].Opponent.ID),
			B: teamID(m.Opponents[1].Opponent.ID),
		}
		var scheduled time.Time
		if m.BeginAt != nil {
			scheduled = *m.BeginAt
		}

		for _, g := range m.Games {
			status := model.ParseStatus(g.Status)
			if status == model.StatusScheduled || status == model.StatusFinished {
				continue
			}
			c := model.MatchCandidate{
				MatchID:            "pandascore:" + strconv.FormatInt(g.ID, 10),
				SeriesID:           model.CanonicalSeriesID(teamA, teamB, scheduled),
				ExternalIDs:        map[string]string{"pandascore": strconv.FormatInt(g.ID, 10)},
				TeamIDs:            map[string]model.TeamPair{"pandascore": ids},
				TeamAName:          teamA,
				TeamBName:          teamB,
				League:             leagueName(m.League.Name, m.League.Slug),
				Status:             status,
				GameNumberInSeries: g.Position,
				ProviderSource:     s.Name(),
				ScheduledAt:        scheduled,
			}
			if g.BeginAt != nil && now.After(*g.BeginAt) {
				c.GameTimeSeconds = int(now.Sub(*g.BeginAt) / time.Second)
			}
			c.DataQualityScore = model.ScoreDataQuality(c)
			out = append(out, c)
		}
	}

	logrus.WithField("provider", s.Name()).Debugf("Received %d running games from %d matches", len(out), len(matches))
	if s.cache != nil {
		s.cache.Set(key, out, s.ttl)
	}
	return out, nil
}

func teamID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
