package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// handleHealth is a simple liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports scheduler state and statistics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"version":   s.version,
		"state":     s.pipeline.State(),
		"stats":     s.pipeline.Stats(),
		"last_tick": s.pipeline.LastTick(),
	}
	if s.breakers != nil {
		status["breakers"] = s.breakers.BreakerStates()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleForceTick runs one tick synchronously and returns its statistics
func (s *Server) handleForceTick(w http.ResponseWriter, r *http.Request) {
	if s.tickLimit != nil && !s.tickLimit.Allow() {
		errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	stats, err := s.pipeline.ForceTick(r.Context())
	if err != nil {
		// Discovery failures still produce a tick worth reporting.
		logrus.WithError(err).Warn("Forced tick failed")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": err.Error(),
			"tick":  stats,
		})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.breakers.BreakerStates())
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	tier := chi.URLParam(r, "tier")
	if !s.breakers.ResetBreaker(tier) {
		errorResponse(w, http.StatusNotFound, "Unknown tier: "+tier)
		return
	}
	logrus.WithField("tier", tier).Info("Circuit breaker reset by operator")
	writeJSON(w, http.StatusOK, map[string]string{
		"tier":    tier,
		"message": "Circuit breaker reset",
	})
}

func errorResponse(w http.ResponseWriter, statusCode int, msg string) {
	logrus.Warn(msg)
	writeJSON(w, statusCode, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Debug("Failed to write response")
	}
}
