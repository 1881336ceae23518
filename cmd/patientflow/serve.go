package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/patient-flow/config"
	"github.com/jwalitptl/patient-flow/internal/bus"
	"github.com/jwalitptl/patient-flow/internal/handler/auth"
	"github.com/jwalitptl/patient-flow/internal/handler/health"
	"github.com/jwalitptl/patient-flow/internal/handler/patient"
	"github.com/jwalitptl/patient-flow/internal/handler/prometheus"
	"github.com/jwalitptl/patient-flow/internal/handler/refresh"
	"github.com/jwalitptl/patient-flow/internal/handler/views"
	"github.com/jwalitptl/patient-flow/internal/middleware"
	"github.com/jwalitptl/patient-flow/internal/router"
	"github.com/jwalitptl/patient-flow/internal/view"
	"github.com/jwalitptl/patient-flow/pkg/worker"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the desk server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	if a.broker != nil {
		if err := bus.NewBridge(a.bus, a.broker, a.metrics, log).Start(ctx); err != nil {
			return fmt.Errorf("failed to start bus bridge: %w", err)
		}
	}

	unwatch := a.syncer.Watch(ctx, a.bus)
	defer unwatch()
	untrack := view.TrackQueues(a.store, a.metrics)
	defer untrack()

	tick := worker.NewTicker(worker.TickerConfig{Name: "patient-refresh", Interval: cfg.Sync.TickInterval},
		func(ctx context.Context) error { return a.syncer.Refresh(ctx, false) }, log)
	go tick.Start(ctx)

	go func() {
		if err := a.syncer.Refresh(ctx, true); err != nil {
			log.Warn("initial load failed", "error", err.Error())
		}
	}()

	promH := prometheus.New(a.metrics.Registry, "patientflow")
	r := router.NewRouter(a.session, promH, router.Handlers{
		Health:  health.NewHandler(a.db, a.session),
		Auth:    auth.NewHandler(a.api, a.session, a.store, a.syncer, log),
		Views:   views.NewHandler(a.store),
		Refresh: refresh.NewHandler(a.syncer, a.notices),
		Patient: patient.NewHandler(a.service, a.journal),
	}, log, router.RouterConfig{
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        cfg.RateLimit.RequestsPerSecond,
		RateBurst:        cfg.RateLimit.Burst,
		CORSConfig:       middleware.DefaultCORSConfig(),
		MetricsPath:      cfg.Monitoring.MetricsPath,
		Debug:            cfg.Log.Level == "debug",
	})
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("desk server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited properly")
	return nil
}
