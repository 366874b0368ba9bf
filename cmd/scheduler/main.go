// cmd/scheduler/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "release-orchestrator/internal/api/http"
	"release-orchestrator/internal/app"
	"release-orchestrator/internal/config"
	"release-orchestrator/internal/tracing"
	"release-orchestrator/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// corsMiddleware wraps an http.Handler with CORS headers for local dashboards.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// runDrainTimeout bounds how long shutdown waits for tests that are still
// running.
const runDrainTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		log.Fatalf("scheduler failed: %v", err)
	}
}

func run(logger *slog.Logger) error {
	tracerShutdown, err := tracing.InitTracer("releaser-scheduler", os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	nodeID := uuid.NewString()
	logger.Info("starting release test scheduler", "node_id", nodeID)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel, logger)

	components, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), runDrainTimeout)
		defer drainCancel()
		if err := components.Shutdown(drainCtx); err != nil {
			logger.Error("failed to close components", "error", err)
		}
	}()

	sched, err := components.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	schedulerService := usecase.NewSchedulerService(components.LeaderElection(nodeID), sched, nodeID, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	http_api.NewHandler(sched, components.RunService, logger).RegisterRoutes(mux)

	go func() {
		if err := schedulerService.Start(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler service stopped", "error", err)
			cancel()
		}
	}()

	logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("scheduler shut down, waiting for running tests", "timeout", runDrainTimeout)
	return nil
}

func setupGracefulShutdown(cancel context.CancelFunc, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
