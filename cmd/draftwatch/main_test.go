package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/draftwatch/internal/config"
	"github.com/yourorg/draftwatch/internal/scheduler"
)

const getLiveBody = `{
  "data": {"schedule": {"events": [
    {
      "id": "ev1",
      "startTime": "2026-10-18T08:00:00Z",
      "state": "inProgress",
      "type": "match",
      "league": {"name": "LCK", "slug": "lck"},
      "match": {
        "id": "m1",
        "teams": [{"id": "t1-id", "name": "T1", "code": "T1"}, {"id": "gen-id", "name": "Gen.G Esports", "code": "GEN"}],
        "games": [
          {"id": "g1", "number": 1, "state": "completed"},
          {"id": "g2", "number": 2, "state": "inProgress"}
        ]
      }
    }
  ]}}
}`

const windowBody = `{
  "gameMetadata": {
    "blueTeamMetadata": {"esportsTeamId": "t1-id", "participantMetadata": [
      {"championId": "Gnar"}, {"championId": "Vi"}, {"championId": "Azir"}, {"championId": "Varus"}, {"championId": "Rell"}
    ]},
    "redTeamMetadata": {"esportsTeamId": "gen-id", "participantMetadata": [
      {"championId": "Ksante"}, {"championId": "Sejuani"}, {"championId": "Taliyah"}, {"championId": "Kalista"}, {"championId": "Renata"}
    ]}
  },
  "frames": [
    {"rfc460Timestamp": "2026-10-18T09:00:00Z", "gameState": "in_game"},
    {"rfc460Timestamp": "2026-10-18T09:01:15Z", "gameState": "in_game"}
  ]
}`

// upstream fakes the LoL Esports feed, the live stats feed and a Discord webhook.
func upstream(t *testing.T, webhookHits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/getLive", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(getLiveBody))
	})
	mux.HandleFunc("/window/g2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(windowBody))
	})
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(webhookHits, 1)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "draftwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runScan(t *testing.T, args ...string) scheduler.TickStats {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		scanDryRun = false
	})
	require.NoError(t, rootCmd.Execute())

	var stats scheduler.TickStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	return stats
}

func TestScan_DispatchesResolvedMap(t *testing.T) {
	var hits int32
	srv := upstream(t, &hits)
	path := writeConfig(t, fmt.Sprintf(`
lolesports:
  base_url: %[1]s
livestats:
  base_url: %[1]s
discord:
  webhook_url: %[1]s/webhook
prediction:
  min_score: 0.1
`, srv.URL))

	stats := runScan(t, "scan", "--config", path)

	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Dispatched)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestScan_DryRunSkipsWebhook(t *testing.T) {
	var hits int32
	srv := upstream(t, &hits)
	path := writeConfig(t, fmt.Sprintf(`
lolesports:
  base_url: %[1]s
livestats:
  base_url: %[1]s
discord:
  webhook_url: %[1]s/webhook
prediction:
  min_score: 0.1
`, srv.URL))

	stats := runScan(t, "scan", "--dry-run", "--config", path)

	assert.Equal(t, 1, stats.Dispatched)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestBuildPipeline_Tiers(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	p, err := buildPipeline(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"livestats", "inline"}, p.resolver.Tiers())
	assert.Equal(t, "closed", p.resolver.BreakerStates()["livestats"])

	cfg.PandaScore.Token = "tok"
	p, err = buildPipeline(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"livestats", "pandascore", "inline"}, p.resolver.Tiers())

	cfg.Resolver.InlineConfidence = 0.9
	_, err = buildPipeline(cfg, nil)
	assert.Error(t, err, "inline tier may not outrank pandascore")
}

func TestDefaultSink(t *testing.T) {
	assert.Equal(t, "log", defaultSink(config.DiscordConfig{}).Name())
	assert.Equal(t, "discord", defaultSink(config.DiscordConfig{WebhookURL: "https://example.invalid/hook", RetryMax: 1}).Name())
}
