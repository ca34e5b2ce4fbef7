// Package api exposes the operator HTTP surface of the monitor: health,
// status, metrics, breaker control and forced ticks.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourorg/draftwatch/internal/scheduler"
	"golang.org/x/time/rate"
)

// Pipeline is the part of the scheduler the API drives.
type Pipeline interface {
	State() scheduler.State
	Stats() scheduler.Stats
	LastTick() scheduler.TickStats
	ForceTick(ctx context.Context) (scheduler.TickStats, error)
}

// Breakers exposes the resolver's per-tier circuit breakers.
type Breakers interface {
	BreakerStates() map[string]string
	ResetBreaker(tier string) bool
}

// Server holds the handlers' dependencies.
type Server struct {
	pipeline  Pipeline
	breakers  Breakers
	gatherer  prometheus.Gatherer
	tickLimit *rate.Limiter
	version   string
	startedAt time.Time
}

// Options configure NewServer. Breakers, Gatherer and ForceTickLimit are optional.
type Options struct {
	Pipeline       Pipeline
	Breakers       Breakers
	Gatherer       prometheus.Gatherer
	ForceTickLimit *rate.Limiter
	Version        string
}

// NewServer creates the API server.
func NewServer(opts Options) *Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		pipeline:  opts.Pipeline,
		breakers:  opts.Breakers,
		gatherer:  opts.Gatherer,
		tickLimit: opts.ForceTickLimit,
		version:   version,
		startedAt: time.Now(),
	}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/tick", s.handleForceTick)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.breakers != nil {
		r.Get("/breakers", s.handleBreakers)
		r.Post("/breakers/{tier}/reset", s.handleBreakerReset)
	}

	return r
}
