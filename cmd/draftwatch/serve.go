package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/yourorg/draftwatch/internal/api"
	dwotel "github.com/yourorg/draftwatch/internal/otel"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor loop and the operator HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracer, err := dwotel.InitTracer(ctx, cfg.Otel.Endpoint, "draftwatch", version)
		if err != nil {
			return err
		}

		p, err := buildPipeline(cfg, nil)
		if err != nil {
			return err
		}

		handler := api.NewServer(api.Options{
			Pipeline:       p.scheduler,
			Breakers:       p.resolver,
			Gatherer:       p.registry,
			ForceTickLimit: rate.NewLimiter(rate.Limit(cfg.Server.ForceTickRPS), cfg.Server.ForceTickBurst),
			Version:        version,
		}).Router()

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logrus.Infof("Server starting on port %d", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()

		// The loop gets its own lifetime so Stop can wait for the running tick.
		if err := p.scheduler.Start(context.Background()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			logrus.Info("Shutting down...")
		case err = <-serveErr:
			logrus.WithError(err).Error("Server failed")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if stopErr := p.scheduler.Stop(shutdownCtx); stopErr != nil {
			logrus.WithError(stopErr).Warn("Scheduler did not stop cleanly")
		}
		if shutErr := srv.Shutdown(shutdownCtx); shutErr != nil {
			logrus.WithError(shutErr).Warn("Server shutdown failed")
		}
		if trErr := shutdownTracer(shutdownCtx); trErr != nil {
			logrus.WithError(trErr).Debug("Tracer shutdown failed")
		}

		logrus.WithField("stats", p.scheduler.Stats()).Info("Stopped")
		return err
	},
}
