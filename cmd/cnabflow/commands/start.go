package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/internal/telemetry"
	"github.com/cnabflow/cnabflow/pkg/api"
	"github.com/cnabflow/cnabflow/pkg/config"
	"github.com/cnabflow/cnabflow/pkg/metrics"
	"github.com/cnabflow/cnabflow/pkg/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the CNABFlow server",
	Long: `Start the CNABFlow server with the specified configuration.

The server runs in the foreground: it hosts the REST API, the queue worker
pool and the stuck-upload recovery sweeper in a single process, and shuts
all of them down gracefully on SIGINT/SIGTERM. Use a process supervisor or
container runtime to daemonize it.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/cnabflow/config.yaml.

Examples:
  # Start with the default config
  cnabflow start

  # Start with a custom config file
  cnabflow start --config /etc/cnabflow/config.yaml

  # Start with environment variable overrides
  CNABFLOW_LOGGING_LEVEL=DEBUG cnabflow start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "cnabflow",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Profiling.Enabled,
		ServiceName:    "cnabflow",
		ServiceVersion: Version,
		Endpoint:       cfg.Profiling.Endpoint,
		ProfileTypes:   cfg.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("Profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("CNABFlow - CNAB transaction file processing service")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Profiling.Endpoint, "profile_types", cfg.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// One registry shared by the pipeline collectors and the /metrics route.
	// Left nil when disabled: observe calls become no-ops and the route 404s.
	var registry *prometheus.Registry
	var pipelineMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		pipelineMetrics = metrics.NewMetrics(registry)
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Connect the backing services: database, object store, queue, locks
	components, err := config.BuildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("Component shutdown error", "error", err)
		}
	}()

	pool := pipeline.NewPool(components.Store, components.Blob, components.Queue, components.Locker,
		pipelineMetrics, cfg.Processing.PoolConfig())

	intake := pipeline.NewIntake(components.Store, components.Blob, components.Queue, pool,
		pipelineMetrics, pipeline.IntakeConfig{
			MaxFileSize:      int64(cfg.Intake.MaxFileSize),
			AllowedExtension: cfg.Intake.AllowedExtension,
			SyncMode:         cfg.Processing.SyncMode,
		})

	var sweeper *pipeline.Sweeper
	if !cfg.Recovery.Disabled {
		sweeper = pipeline.NewSweeper(components.Store, components.Queue, components.Locker,
			pipelineMetrics, cfg.Recovery.SweeperConfig())
		sweeper.Start(ctx)
		defer sweeper.Stop()
		logger.Info("Recovery sweeper started",
			"check_interval", cfg.Recovery.CheckInterval,
			"stuck_timeout", cfg.Recovery.StuckTimeout)
	} else {
		logger.Info("Recovery sweeper disabled")
	}

	if cfg.Processing.SyncMode {
		// Inline processing during intake; no consumers to run.
		logger.Warn("Sync mode enabled, uploads are processed inline")
	} else {
		if err := pool.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
		defer func() {
			if err := pool.Stop(cfg.Server.ShutdownTimeout); err != nil {
				logger.Warn("Worker pool drain timed out", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.APIConfig(), api.Deps{
		Store:           components.Store,
		Queue:           components.Queue,
		Intake:          intake,
		Sweeper:         sweeper,
		StuckTimeout:    cfg.Recovery.StuckTimeout,
		MetricsRegistry: registry,
	})
	logger.Info("API server configured", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// Start the HTTP server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}
