package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tournevent/shipsync/internal/server"
	"github.com/tournevent/shipsync/internal/shipment"
	"github.com/tournevent/shipsync/internal/telemetry"
	"github.com/tournevent/shipsync/internal/tracking"
	"github.com/tournevent/shipsync/internal/webhook"
	"go.uber.org/zap"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "shipsync",
	Short:   "Shipsync - carrier integration and shipment reconciliation service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check the local server's /health endpoint",
	RunE:  runHealthcheck,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthcheckCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Initialize telemetry
	logger, err := initLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	tracer, tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(context.Background())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(registry)

	defaults, err := initDefaults(cfg)
	if err != nil {
		return err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	deps, err := initOptional(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	api := initProvider(cfg, logger, tracer, metrics)
	recorder := tracking.NewRecorder(st, deps.publisher, logger)

	svc := shipment.NewService(shipment.ServiceConfig{
		API:      api,
		Store:    st,
		Recorder: recorder,
		Cache:    deps.cache,
		CacheTTL: cfg.TrackingCacheTTL,
		Defaults: defaults,
		Logger:   logger,
		Metrics:  metrics,
	})

	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is empty, every webhook will be rejected")
	}
	var webhookOpts []webhook.Option
	if deps.redis != nil {
		webhookOpts = append(webhookOpts, webhook.WithCache(deps.redis))
	}
	reconciler := webhook.NewReconciler(cfg.WebhookSecret, st, recorder, logger, metrics, webhookOpts...)

	logger.Info("Starting shipsync",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
		zap.String("store", cfg.StoreDriver),
		zap.Bool("provider_mock", cfg.ProviderUseMock),
		zap.Bool("cache", deps.cache != nil),
		zap.Bool("events", deps.publisher != nil),
	)

	srv := server.New(server.Config{
		Port:            cfg.Port,
		RequestTimeout:  cfg.RequestTimeout,
		SignatureHeader: cfg.WebhookSignatureHeader,
	}, server.Deps{
		Shipments:  svc,
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		Gatherer:   registry,
		Checks:     readinessChecks(st, deps),
	})
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: unexpected status %d", resp.StatusCode)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}
