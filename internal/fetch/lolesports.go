package fetch

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/cache"
	"github.com/yourorg/draftwatch/internal/model"
)

// LoLEsportsSource reads the official LoL Esports live feed.
type LoLEsportsSource struct {
	client *Client
	cache  *cache.TTL[string, []model.MatchCandidate]
	ttl    time.Duration
}

// NewLoLEsportsSource creates a MatchSource over the getLive endpoint. Responses are
// kept in scheduleCache for ttl; scheduleCache may be nil.
func NewLoLEsportsSource(client *Client, scheduleCache *cache.TTL[string, []model.MatchCandidate], ttl time.Duration) *LoLEsportsSource {
	return &LoLEsportsSource{client: client, cache: scheduleCache, ttl: ttl}
}

// Name implements MatchSource.
func (s *LoLEsportsSource) Name() string { return "lolesports" }

type lolesportsLive struct {
	Data struct {
		Schedule struct {
			Events []lolesportsEvent `json:"events"`
		} `json:"schedule"`
	} `json:"data"`
}

type lolesportsEvent struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	State     string    `json:"state"`
	Type      string    `json:"type"`
	League    struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"league"`
	Match struct {
		ID    string `json:"id"`
		Teams []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Code string `json:"code"`
		} `json:"teams"`
		Games []struct {
			ID     string `json:"id"`
			Number int    `json:"number"`
			State  string `json:"state"`
		} `json:"games"`
	} `json:"match"`
}

// FetchLive implements MatchSource. One candidate is produced for every game
// the feed reports in progress.
func (s *LoLEsportsSource) FetchLive(ctx context.Context) ([]model.MatchCandidate, error) {
	const key = "lolesports:getLive"
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return cached, nil
		}
	}

	var resp lolesportsLive
	if err := s.client.GetJSON(ctx, "/getLive?hl=en-US", &resp); err != nil {
		return nil, err
	}

	var out []model.MatchCandidate
	for _, ev := range resp.Data.Schedule.Events {
		if ev.Type != "" && ev.Type != "match" {
			continue
		}
		if len(ev.Match.Teams) < 2 {
			logrus.WithField("provider", s.Name()).Debugf("Skipping event %s: %d teams", ev.ID, len(ev.Match.Teams))
			continue
		}
		teamA, teamB := ev.Match.Teams[0].Name, ev.Match.Teams[1].Name
		ids := model.TeamPair{A: ev.Match.Teams[0].ID, B: ev.Match.Teams[1].ID}
		for _, g := range ev.Match.Games {
			status := model.ParseStatus(g.State)
			if status != model.StatusLive {
				continue
			}
			c := model.MatchCandidate{
				MatchID:            "lolesports:" + g.ID,
				SeriesID:           model.CanonicalSeriesID(teamA, teamB, ev.StartTime),
				ExternalIDs:        map[string]string{"lolesports": g.ID},
				TeamIDs:            map[string]model.TeamPair{"lolesports": ids},
				TeamAName:          teamA,
				TeamBName:          teamB,
				League:             leagueName(ev.League.Name, ev.League.Slug),
				Status:             status,
				GameNumberInSeries: g.Number,
				ProviderSource:     s.Name(),
				ScheduledAt:        ev.StartTime,
			}
			c.DataQualityScore = model.ScoreDataQuality(c)
			out = append(out, c)
		}
	}

	logrus.WithField("provider", s.Name()).Debugf("Received %d live games", len(out))
	if s.cache != nil {
		s.cache.Set(key, out, s.ttl)
	}
	return out, nil
}

func leagueName(name, slug string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return strings.ToUpper(strings.TrimSpace(slug))
}
