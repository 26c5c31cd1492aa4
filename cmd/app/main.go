package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/config"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/websockets"
	"github.com/chris/p2p-escrow-ledger/pkg/logging"
	"github.com/chris/p2p-escrow-ledger/pkg/metrics"
	"github.com/chris/p2p-escrow-ledger/pkg/middleware"
	"github.com/chris/p2p-escrow-ledger/pkg/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("ESCROW_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)
	var logFile io.Closer
	if cfg.LogFile != "" {
		logger, logFile = logging.NewFileLogger(cfg.LogFile, cfg.LogLevel, cfg.ServiceName, cfg.Env)
		defer logFile.Close()
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := service.New(ctx, cfg, logger, registry)
	if err != nil {
		logger.Error("failed to build service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("shutdown cleanup failed", "error", err)
		}
	}()

	if svc.Loopback != nil && svc.Worker != nil && cfg.Reconcile.Threshold > 0 {
		go reconcileLoop(ctx, svc, logger)
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.CallerHeader},
		MaxAge:         300,
	}))
	router.Use(middleware.Identity([]byte(cfg.Auth.JWTSecret)))
	router.Use(middleware.NewStructuredLogger(logger, svc.Metrics))

	router.Handle(cfg.MetricsPath, metrics.Handler(registry))
	router.Handle("/ws", websockets.NewHandler(svc.Store, svc.Hub, logger))

	handler := handlers.NewApiHandler(svc.Engine, svc.Catalog, svc.Store, cfg.Reconcile.Threshold)
	api.HandlerFromMux(handler, router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.Store.Driver, "bridge", cfg.Bridge.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// reconcileLoop re-sends stuck payouts when the server runs its own bridge
// worker instead of the scheduled reconciliation Lambda.
func reconcileLoop(ctx context.Context, svc *service.Service, logger *slog.Logger) {
	ticker := time.NewTicker(svc.Config.Reconcile.Threshold)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			report, err := svc.Reconcile(ctx, now)
			if err != nil {
				logger.Error("reconciliation failed", "error", err)
				continue
			}
			if report.Releases+report.Withdrawals+report.Failed > 0 {
				logger.Info("reconciliation finished", "releases", report.Releases, "withdrawals", report.Withdrawals, "failed", report.Failed)
			}
		}
	}
}
