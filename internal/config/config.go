// Package config provides configuration loading and management for the application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Otel       OtelConfig       `mapstructure:"otel"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Gate       GateConfig       `mapstructure:"gate"`
	LoLEsports APIConfig        `mapstructure:"lolesports"`
	LiveStats  APIConfig        `mapstructure:"livestats"`
	PandaScore APIConfig        `mapstructure:"pandascore"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Prediction PredictionConfig `mapstructure:"prediction"`
}

// LogConfig selects the logrus formatter and level.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the operator HTTP server.
type ServerConfig struct {
	Port           int     `mapstructure:"port"`
	ForceTickRPS   float64 `mapstructure:"force_tick_rps"`
	ForceTickBurst int     `mapstructure:"force_tick_burst"`
}

// OtelConfig configures tracing. An empty endpoint disables it.
type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Workers         int           `mapstructure:"workers"`
	SourceTimeout   time.Duration `mapstructure:"source_timeout"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`
}

// DispatchConfig caps outbound recommendations per rolling hour.
type DispatchConfig struct {
	MaxPerHour int `mapstructure:"max_per_hour"`
}

type ResolverConfig struct {
	TierTimeout      time.Duration `mapstructure:"tier_timeout"`
	BreakerFailures  int           `mapstructure:"breaker_failures"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	InlineConfidence float64       `mapstructure:"inline_confidence"`
}

// CacheConfig holds TTLs per data category.
type CacheConfig struct {
	ScheduleTTL    time.Duration `mapstructure:"schedule_ttl"`
	CompositionTTL time.Duration `mapstructure:"composition_ttl"`
	LiveStatsTTL   time.Duration `mapstructure:"livestats_ttl"`
}

// GateConfig mirrors validation.GateOptions.
type GateConfig struct {
	Leagues             []string      `mapstructure:"leagues"`
	KeywordFallback     bool          `mapstructure:"keyword_fallback"`
	Keywords            []string      `mapstructure:"keywords"`
	MinGameTime         time.Duration `mapstructure:"min_game_time"`
	MaxGameTime         time.Duration `mapstructure:"max_game_time"`
	MinDataQuality      float64       `mapstructure:"min_data_quality"`
	HighTrustConfidence float64       `mapstructure:"high_trust_confidence"`
	RelaxedDataQuality  float64       `mapstructure:"relaxed_data_quality"`
}

// APIConfig describes one upstream API and its dual-window rate limit.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Token     string        `mapstructure:"token"`
	RPS       int           `mapstructure:"rps"`
	PerWindow int           `mapstructure:"per_window"`
	Window    time.Duration `mapstructure:"window"`
}

type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	RetryMax   int    `mapstructure:"retry_max"`
}

type PredictionConfig struct {
	MinScore float64 `mapstructure:"min_score"`
}

// Load reads configuration from defaults, an optional config file and
// DRAFTWATCH_* environment variables, in increasing precedence. With an empty
// path a draftwatch.{yaml,json,toml} in the working directory is used if present.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("draftwatch")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DRAFTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.force_tick_rps", 0.2)
	v.SetDefault("server.force_tick_burst", 1)
	v.SetDefault("otel.endpoint", "")

	v.SetDefault("scheduler.interval", "60s")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.source_timeout", "15s")
	v.SetDefault("scheduler.dispatch_timeout", "20s")
	v.SetDefault("dispatch.max_per_hour", 10)

	v.SetDefault("resolver.tier_timeout", "5s")
	v.SetDefault("resolver.breaker_failures", 3)
	v.SetDefault("resolver.breaker_cooldown", "2m")
	v.SetDefault("resolver.inline_confidence", 0.5)

	v.SetDefault("cache.schedule_ttl", "30s")
	v.SetDefault("cache.composition_ttl", "10m")
	v.SetDefault("cache.livestats_ttl", "15s")

	v.SetDefault("gate.leagues", []string{
		"LCK", "LPL", "LEC", "LCS", "LTA", "PCS", "VCS", "CBLOL", "LJL", "LLA",
		"Worlds", "MSI", "First Stand",
	})
	v.SetDefault("gate.keyword_fallback", true)
	v.SetDefault("gate.keywords", []string{
		"championship", "masters", "worlds", "mid-season", "invitational", "playoffs", "finals",
	})
	v.SetDefault("gate.min_game_time", "0s")
	v.SetDefault("gate.max_game_time", "8m")
	v.SetDefault("gate.min_data_quality", 0.5)
	v.SetDefault("gate.high_trust_confidence", 0.9)
	v.SetDefault("gate.relaxed_data_quality", 0.3)

	v.SetDefault("lolesports.base_url", "https://esports-api.lolesports.com/persisted/gw")
	v.SetDefault("lolesports.api_key", "")
	v.SetDefault("lolesports.rps", 5)
	v.SetDefault("lolesports.per_window", 100)
	v.SetDefault("lolesports.window", "1m")

	v.SetDefault("livestats.base_url", "https://feed.lolesports.com/livestats/v1")
	v.SetDefault("livestats.rps", 5)
	v.SetDefault("livestats.per_window", 120)
	v.SetDefault("livestats.window", "1m")

	v.SetDefault("pandascore.base_url", "https://api.pandascore.co")
	v.SetDefault("pandascore.token", "")
	v.SetDefault("pandascore.rps", 2)
	v.SetDefault("pandascore.per_window", 900)
	v.SetDefault("pandascore.window", "1h")

	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("discord.retry_max", 3)
	v.SetDefault("prediction.min_score", 0.4)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, errors.New("scheduler.workers must be at least 1"))
	}
	if c.Dispatch.MaxPerHour < 0 {
		errs = append(errs, errors.New("dispatch.max_per_hour must not be negative"))
	}
	if c.Gate.MaxGameTime > 0 && c.Gate.MaxGameTime < c.Gate.MinGameTime {
		errs = append(errs, fmt.Errorf("gate.max_game_time %s is below gate.min_game_time %s",
			c.Gate.MaxGameTime, c.Gate.MinGameTime))
	}
	for name, q := range map[string]float64{
		"gate.min_data_quality":      c.Gate.MinDataQuality,
		"gate.relaxed_data_quality":  c.Gate.RelaxedDataQuality,
		"gate.high_trust_confidence": c.Gate.HighTrustConfidence,
		"resolver.inline_confidence": c.Resolver.InlineConfidence,
	} {
		if q < 0 || q > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f outside [0,1]", name, q))
		}
	}
	for name, api := range map[string]APIConfig{
		"lolesports": c.LoLEsports,
		"livestats":  c.LiveStats,
		"pandascore": c.PandaScore,
	} {
		if api.RPS < 1 || api.PerWindow < 1 || api.Window <= 0 {
			errs = append(errs, fmt.Errorf("%s rate limit must be positive", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}
