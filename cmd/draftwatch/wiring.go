package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/draftwatch/internal/cache"
	"github.com/yourorg/draftwatch/internal/config"
	"github.com/yourorg/draftwatch/internal/dedup"
	"github.com/yourorg/draftwatch/internal/fetch"
	"github.com/yourorg/draftwatch/internal/model"
	"github.com/yourorg/draftwatch/internal/notify"
	"github.com/yourorg/draftwatch/internal/prediction"
	"github.com/yourorg/draftwatch/internal/ratelimit"
	"github.com/yourorg/draftwatch/internal/resolver"
	"github.com/yourorg/draftwatch/internal/scheduler"
	"github.com/yourorg/draftwatch/internal/validation"
)

// Static tier confidences, highest trust first.
const (
	confidenceLiveStats  = 0.95
	confidencePandaScore = 0.8
)

// pipeline is everything the commands need from one wiring pass.
type pipeline struct {
	scheduler *scheduler.Scheduler
	resolver  *resolver.Resolver
	registry  *prometheus.Registry
}

// buildPipeline wires the pipeline from cfg. A nil sink selects the Discord
// webhook when one is configured and the log sink otherwise.
func buildPipeline(cfg *config.Config, sink notify.Sink) (*pipeline, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := scheduler.NewMetrics(reg)

	httpClient := fetch.NewHTTPClient(0, cfg.Scheduler.SourceTimeout)
	lolesports := apiClient("lolesports", cfg.LoLEsports, httpClient, metrics).
		WithHeader("x-api-key", cfg.LoLEsports.APIKey)
	livestats := apiClient("livestats", cfg.LiveStats, httpClient, metrics)

	var pandascore *fetch.Client
	if cfg.PandaScore.Token != "" {
		// Match listing and game detail share one PandaScore quota.
		pandascore = apiClient("pandascore", cfg.PandaScore, httpClient, metrics).
			WithHeader("Authorization", "Bearer "+cfg.PandaScore.Token)
	} else {
		logrus.Info("PandaScore token not set, source and composition tier disabled")
	}

	schedules := cache.New[string, []model.MatchCandidate](cfg.Cache.ScheduleTTL)
	windows := cache.New[string, model.Draft](cfg.Cache.LiveStatsTTL)
	compositions := cache.New[string, model.CompositionResult](cfg.Cache.CompositionTTL)

	live := resolver.NewLiveStats(livestats, windows, cfg.Cache.LiveStatsTTL)

	sources := []fetch.MatchSource{
		fetch.NewLoLEsportsSource(lolesports, schedules, cfg.Cache.ScheduleTTL),
	}
	tiers := []resolver.Tier{
		{Name: "livestats", Confidence: confidenceLiveStats, Timeout: cfg.Resolver.TierTimeout, Source: live},
	}
	if pandascore != nil {
		sources = append(sources, fetch.NewPandaScoreSource(pandascore, schedules, cfg.Cache.ScheduleTTL))
		tiers = append(tiers, resolver.Tier{
			Name: "pandascore", Confidence: confidencePandaScore, Timeout: cfg.Resolver.TierTimeout,
			Source: resolver.NewPandaScoreGame(pandascore),
		})
	}
	tiers = append(tiers, resolver.Tier{
		Name: "inline", Confidence: cfg.Resolver.InlineConfidence, Timeout: cfg.Resolver.TierTimeout, Source: resolver.Inline,
	})

	res, err := resolver.New(tiers,
		resolver.WithCache(compositions, cfg.Cache.CompositionTTL),
		resolver.WithBreakers(cfg.Resolver.BreakerFailures, cfg.Resolver.BreakerCooldown),
		resolver.WithAttemptHook(metrics.ObserveAttempt),
	)
	if err != nil {
		return nil, fmt.Errorf("building resolver: %w", err)
	}

	if sink == nil {
		sink = defaultSink(cfg.Discord)
	}

	var dispatch *ratelimit.DispatchLimiter
	if cfg.Dispatch.MaxPerHour > 0 {
		dispatch = ratelimit.NewDispatchLimiter(cfg.Dispatch.MaxPerHour, time.Hour)
	}

	sched, err := scheduler.New(scheduler.Options{
		Interval:         cfg.Scheduler.Interval,
		Workers:          cfg.Scheduler.Workers,
		SourceTimeout:    cfg.Scheduler.SourceTimeout,
		DispatchTimeout:  cfg.Scheduler.DispatchTimeout,
		InlineConfidence: cfg.Resolver.InlineConfidence,
	}, scheduler.Deps{
		Sources:  sources,
		Resolver: res,
		Gate:     validation.NewGate(gateOptions(cfg.Gate)),
		Dedup:    dedup.New(),
		Engine:   prediction.NewBaseline(cfg.Prediction.MinScore),
		Sink:     sink,
		Dispatch: dispatch,
		Caches:   []scheduler.Cleaner{schedules, windows, compositions, live},
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"sources":  len(sources),
		"tiers":    res.Tiers(),
		"sink":     sink.Name(),
		"max_hour": cfg.Dispatch.MaxPerHour,
	}).Info("Pipeline initialized")

	return &pipeline{scheduler: sched, resolver: res, registry: reg}, nil
}

func apiClient(name string, c config.APIConfig, httpClient *http.Client, metrics *scheduler.Metrics) *fetch.Client {
	limiter := ratelimit.NewDual(name, c.RPS, c.PerWindow, c.Window).
		WithAcquireHook(metrics.UpstreamHook(name))
	return fetch.NewClient(name, c.BaseURL, httpClient, limiter)
}

func defaultSink(c config.DiscordConfig) notify.Sink {
	if c.WebhookURL == "" {
		logrus.Info("Discord webhook not set, recommendations go to the log")
		return notify.LogSink{}
	}
	return notify.NewDiscordSink(c.WebhookURL, c.RetryMax)
}

func gateOptions(c config.GateConfig) validation.GateOptions {
	return validation.GateOptions{
		Leagues:               c.Leagues,
		KeywordFallback:       c.KeywordFallback,
		Keywords:              c.Keywords,
		MinGameTime:           c.MinGameTime,
		MaxGameTime:           c.MaxGameTime,
		MinDataQuality:        c.MinDataQuality,
		HighTrustConfidence:   c.HighTrustConfidence,
		RelaxedMinDataQuality: c.RelaxedDataQuality,
	}
}
