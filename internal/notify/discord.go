package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/model"
)

const (
	// Embed colors
	colorHigh   = 5763719  // 0x57F287
	colorMedium = 16776960 // 0xFFFF00
	colorLow    = 15158332 // 0xE74C3C

	defaultWebhookTimeout = 10 * time.Second
)

// WebhookPayload represents a Discord webhook message
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed represents a Discord embed
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField represents a field in a Discord embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter represents the footer of a Discord embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// NewRecommendationPayload renders a recommendation as one embed.
func NewRecommendationPayload(rec model.Recommendation) WebhookPayload {
	c := rec.Candidate
	color := colorLow
	switch {
	case rec.Score >= 0.7:
		color = colorHigh
	case rec.Score >= 0.5:
		color = colorMedium
	}

	return WebhookPayload{
		Embeds: []Embed{
			{
				Title:       fmt.Sprintf("%s vs %s · Game %d", c.TeamAName, c.TeamBName, c.GameNumberInSeries),
				Description: rec.Summary,
				Color:       color,
				Fields: []EmbedField{
					{Name: "League", Value: orDash(c.League), Inline: true},
					{Name: "Pick", Value: orDash(rec.Pick), Inline: true},
					{Name: "Score", Value: fmt.Sprintf("%.2f", rec.Score), Inline: true},
					{Name: c.TeamAName, Value: draftLine(rec.Composition.TeamAComposition)},
					{Name: c.TeamBName, Value: draftLine(rec.Composition.TeamBComposition)},
					{Name: "Game Time", Value: formatGameTime(c.GameTimeSeconds), Inline: true},
					{Name: "Source", Value: fmt.Sprintf("%s (%.2f)", rec.Composition.SourceName, rec.Composition.Confidence), Inline: true},
				},
				Footer:    &EmbedFooter{Text: rec.MapID.String()},
				Timestamp: rec.CreatedAt.UTC().Format(time.RFC3339),
			},
		},
	}
}

// DiscordSink posts recommendations to a Discord webhook. Retrying 429 and
// 5xx responses is handled here, not by the pipeline.
type DiscordSink struct {
	webhookURL string
	httpClient *http.Client
}

// NewDiscordSink creates a sink that retries each delivery up to retryMax times.
func NewDiscordSink(webhookURL string, retryMax int) *DiscordSink {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = time.Second
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.HTTPClient.Timeout = defaultWebhookTimeout
	return &DiscordSink{webhookURL: webhookURL, httpClient: rc.StandardClient()}
}

// Name implements Sink.
func (s *DiscordSink) Name() string { return "discord" }

// Dispatch implements Sink.
func (s *DiscordSink) Dispatch(ctx context.Context, rec model.Recommendation) error {
	data, err := json.Marshal(NewRecommendationPayload(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		logrus.WithField("map_id", rec.MapID.String()).Debug("Recommendation delivered to Discord")
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return fmt.Errorf("webhook request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func draftLine(picks []string) string {
	if len(picks) == 0 {
		return "-"
	}
	return strings.Join(picks, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatGameTime formats seconds as m:ss.
func formatGameTime(seconds int) string {
	if seconds <= 0 {
		return "draft"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
