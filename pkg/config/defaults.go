package config

import (
	"strings"
	"time"

	"github.com/cnabflow/cnabflow/internal/bytesize"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyRedisDefaults(&cfg.Redis)
	applyStorageDefaults(cfg)
	applyProcessingDefaults(&cfg.Processing)
	applyRecoveryDefaults(&cfg.Recovery)
	applyIntakeDefaults(&cfg.Intake)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyProfilingDefaults(&cfg.Profiling)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets HTTP server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 120 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults sets database defaults.
func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyRedisDefaults sets Redis connection defaults.
// Stream and group names default inside the queue package.
func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
}

// applyStorageDefaults sets object store defaults.
func applyStorageDefaults(cfg *Config) {
	cfg.Storage.ApplyDefaults()
}

// applyProcessingDefaults sets pipeline defaults.
func applyProcessingDefaults(cfg *ProcessingConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.ParallelWorkers == 0 {
		cfg.ParallelWorkers = 4
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 1000
	}
	if cfg.MaxRetryPerLine == 0 {
		cfg.MaxRetryPerLine = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 2 * time.Second
	}
	if cfg.ProcessingTimeout == 0 {
		cfg.ProcessingTimeout = 30 * time.Minute
	}
}

// applyRecoveryDefaults sets sweeper defaults.
func applyRecoveryDefaults(cfg *RecoveryConfig) {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Minute
	}
	if cfg.StuckTimeout == 0 {
		cfg.StuckTimeout = 30 * time.Minute
	}
}

// applyIntakeDefaults sets upload intake defaults.
func applyIntakeDefaults(cfg *IntakeConfig) {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = bytesize.GiB // 1 GiB
	}
	if cfg.AllowedExtension == "" {
		cfg.AllowedExtension = ".txt"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry)
	// No need to set, zero value is false

	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	// Enabled defaults to false (opt-in for profiling)
	// No need to set, zero value is false

	// Default endpoint is localhost:4040 (standard Pyroscope port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	// Default profile types include CPU, memory allocation, and goroutines
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Logging: LoggingConfig{},
		Database: store.Config{
			Type: store.DatabaseTypeSQLite, // Default to SQLite for single-node
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
