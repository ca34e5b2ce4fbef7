package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/cache"
	"github.com/yourorg/draftwatch/internal/fetch"
	"github.com/yourorg/draftwatch/internal/model"
)

// LiveStats reads the draft from the LoL Esports live-stats window of a game.
// It is the most trusted tier: the window is generated from the game client.
type LiveStats struct {
	client *fetch.Client
	cache  *cache.TTL[string, model.Draft]
	ttl    time.Duration

	// starts remembers the first in-game frame of each game id.
	starts *cache.TTL[string, time.Time]
}

// gameStartTTL outlives any single game.
const gameStartTTL = 6 * time.Hour

// NewLiveStats creates the live-stats tier source. windowCache may be nil.
func NewLiveStats(client *fetch.Client, windowCache *cache.TTL[string, model.Draft], ttl time.Duration) *LiveStats {
	return &LiveStats{
		client: client,
		cache:  windowCache,
		ttl:    ttl,
		starts: cache.New[string, time.Time](gameStartTTL),
	}
}

// Cleanup drops remembered game starts that have expired.
func (s *LiveStats) Cleanup() int {
	return s.starts.Cleanup()
}

type liveStatsWindow struct {
	GameMetadata struct {
		BlueTeamMetadata liveStatsTeam `json:"blueTeamMetadata"`
		RedTeamMetadata  liveStatsTeam `json:"redTeamMetadata"`
	} `json:"gameMetadata"`
	Frames []liveStatsFrame `json:"frames"`
}

type liveStatsFrame struct {
	Timestamp time.Time `json:"rfc460Timestamp"`
	GameState string    `json:"gameState"`
}

type liveStatsTeam struct {
	EsportsTeamID       string `json:"esportsTeamId"`
	ParticipantMetadata []struct {
		ChampionID string `json:"championId"`
	} `json:"participantMetadata"`
}

func (t liveStatsTeam) champions() []string {
	out := make([]string, 0, len(t.ParticipantMetadata))
	for _, p := range t.ParticipantMetadata {
		out = append(out, p.ChampionID)
	}
	return out
}

// Lookup implements Source.
func (s *LiveStats) Lookup(ctx context.Context, c model.MatchCandidate) (model.Draft, error) {
	gameID := c.ExternalID("lolesports")
	if gameID == "" {
		return model.Draft{}, ErrNotApplicable
	}
	ids := c.TeamIDsFor("lolesports")
	if !ids.Known() {
		return model.Draft{}, fmt.Errorf("%w: no lolesports team ids for game %s", ErrNotApplicable, gameID)
	}
	if s.cache != nil {
		if d, ok := s.cache.Get(gameID); ok {
			return d, nil
		}
	}

	var w liveStatsWindow
	err := s.client.GetJSON(ctx, windowPath(gameID, time.Time{}), &w)
	if errors.Is(err, fetch.ErrNotFound) {
		// The window appears only once the game has loaded.
		return model.Draft{}, nil
	}
	if err != nil {
		return model.Draft{}, err
	}

	blue, red := w.GameMetadata.BlueTeamMetadata, w.GameMetadata.RedTeamMetadata
	d, err := orient(ids, blue.EsportsTeamID, blue.champions(), red.EsportsTeamID, red.champions())
	if err != nil {
		return model.Draft{}, err
	}
	d.GameTimeSeconds = s.gameClock(ctx, gameID, c.ScheduledAt, w.Frames)

	if s.cache != nil {
		s.cache.Set(gameID, d, s.ttl)
	}
	return d, nil
}

// gameClock returns the seconds from the game's first in-game frame to the
// latest one in frames. A window without startingTime only spans the last
// few seconds, so the first frame is taken from an earlier lookup of the
// same game, else from a window read at the scheduled start, else from
// frames itself.
func (s *LiveStats) gameClock(ctx context.Context, gameID string, scheduled time.Time, frames []liveStatsFrame) int {
	first, last := inGameSpan(frames)
	if last.IsZero() {
		return 0
	}

	start, ok := s.starts.Get(gameID)
	if !ok {
		start = first
		remember := true
		if !scheduled.IsZero() {
			var opening liveStatsWindow
			err := s.client.GetJSON(ctx, windowPath(gameID, scheduled), &opening)
			switch {
			case err == nil:
				if f, _ := inGameSpan(opening.Frames); !f.IsZero() && f.Before(start) {
					start = f
				}
			case errors.Is(err, fetch.ErrNotFound):
			default:
				// Try again on the next lookup rather than pinning a late start.
				remember = false
				logrus.WithError(err).WithField("game_id", gameID).Debug("Could not read opening frames")
			}
		}
		if remember {
			s.starts.Set(gameID, start, gameStartTTL)
		}
	}

	if last.Before(start) {
		return 0
	}
	return int(last.Sub(start) / time.Second)
}

// windowPath builds the live-stats window URL path. The API only accepts
// startingTime on a 10 second boundary.
func windowPath(gameID string, startingTime time.Time) string {
	path := "/window/" + url.PathEscape(gameID)
	if startingTime.IsZero() {
		return path
	}
	q := url.Values{"startingTime": {startingTime.UTC().Truncate(10 * time.Second).Format(time.RFC3339)}}
	return path + "?" + q.Encode()
}

func inGameSpan(frames []liveStatsFrame) (first, last time.Time) {
	for _, f := range frames {
		if f.GameState != "in_game" {
			continue
		}
		if first.IsZero() || f.Timestamp.Before(first) {
			first = f.Timestamp
		}
		if f.Timestamp.After(last) {
			last = f.Timestamp
		}
	}
	return first, last
}

// orient puts the picks of whichever side team A plays on into TeamA.
func orient(ids model.TeamPair, blueID string, blue []string, redID string, red []string) (model.Draft, error) {
	switch {
	case blueID == ids.A && redID == ids.B:
		return model.Draft{TeamA: blue, TeamB: red}, nil
	case blueID == ids.B && redID == ids.A:
		return model.Draft{TeamA: red, TeamB: blue}, nil
	}
	return model.Draft{}, fmt.Errorf("%w: sides %q/%q do not match teams %q/%q",
		ErrNotApplicable, blueID, redID, ids.A, ids.B)
}

// PandaScoreGame reads the picks from PandaScore's game detail endpoint.
type PandaScoreGame struct {
	client *fetch.Client
}

// NewPandaScoreGame creates the PandaScore tier source. The client should share
// its limiter with the PandaScore match source.
func NewPandaScoreGame(client *fetch.Client) *PandaScoreGame {
	return &PandaScoreGame{client: client}
}

type pandascoreGame struct {
	Teams []struct {
		Color string `json:"color"`
		Team  struct {
			ID int64 `json:"id"`
		} `json:"team"`
	} `json:"teams"`
	Players []struct {
		TeamID   int64 `json:"team_id"`
		Champion struct {
			Name string `json:"name"`
		} `json:"champion"`
	} `json:"players"`
}

// Lookup implements Source. Picks are attached by team id, so the side each
// team plays on does not matter.
func (s *PandaScoreGame) Lookup(ctx context.Context, c model.MatchCandidate) (model.Draft, error) {
	gameID := c.ExternalID("pandascore")
	if gameID == "" {
		return model.Draft{}, ErrNotApplicable
	}
	ids := c.TeamIDsFor("pandascore")
	if !ids.Known() {
		return model.Draft{}, fmt.Errorf("%w: no pandascore team ids for game %s", ErrNotApplicable, gameID)
	}

	var g pandascoreGame
	err := s.client.GetJSON(ctx, "/lol/games/"+url.PathEscape(gameID), &g)
	if errors.Is(err, fetch.ErrNotFound) {
		return model.Draft{}, nil
	}
	if err != nil {
		return model.Draft{}, err
	}
	if len(g.Teams) != 2 {
		return model.Draft{}, fmt.Errorf("pandascore game %s: expected 2 teams, got %d", gameID, len(g.Teams))
	}

	var blueID, redID string
	for _, t := range g.Teams {
		if t.Color == "blue" {
			blueID = strconv.FormatInt(t.Team.ID, 10)
		} else {
			redID = strconv.FormatInt(t.Team.ID, 10)
		}
	}

	var blue, red []string
	for _, p := range g.Players {
		switch strconv.FormatInt(p.TeamID, 10) {
		case blueID:
			blue = append(blue, p.Champion.Name)
		case redID:
			red = append(red, p.Champion.Name)
		}
	}
	return orient(ids, blueID, blue, redID, red)
}

// Inline returns whatever draft the match source embedded in the candidate.
// It is the tier of last resort.
var Inline = SourceFunc(func(_ context.Context, c model.MatchCandidate) (model.Draft, error) {
	return c.InlineDraft(), nil
})
