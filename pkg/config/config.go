package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cnabflow/cnabflow/internal/bytesize"
	"github.com/cnabflow/cnabflow/pkg/api"
	"github.com/cnabflow/cnabflow/pkg/blob"
	"github.com/cnabflow/cnabflow/pkg/lock"
	"github.com/cnabflow/cnabflow/pkg/pipeline"
	"github.com/cnabflow/cnabflow/pkg/queue"
	"github.com/cnabflow/cnabflow/pkg/store"
)

// Config represents the cnabflow configuration.
//
// This structure captures the static configuration of the ingestion service:
//   - Logging configuration
//   - Telemetry/tracing and profiling configuration
//   - HTTP server settings
//   - Database connection (upload tracker and transaction store)
//   - Redis connection (queue and distributed locks)
//   - Object storage (uploaded file blobs)
//   - Processing pipeline tuning (workers, checkpoints, retries)
//   - Recovery sweeper settings
//   - Intake limits (file size, extension)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CNABFLOW_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the HTTP API server
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the relational store (SQLite or PostgreSQL)
	// holding upload records, line hashes, and transactions.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Redis configures the connection shared by the queue and the lock manager
	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`

	// Storage configures the S3-compatible object store for uploaded files
	Storage blob.Config `mapstructure:"storage" yaml:"storage"`

	// Processing tunes the background worker pipeline
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`

	// Recovery configures the stuck-upload sweeper
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`

	// Intake limits what the upload endpoint accepts
	Intake IntakeConfig `mapstructure:"intake" yaml:"intake"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the REST API HTTP server.
type ServerConfig struct {
	// Host is the listen address.
	// Default: 0.0.0.0
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the HTTP port for the API endpoints.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. Uploads can be large, so keep this generous.
	// Default: 120s
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// Default: 30s
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// Default: 30s
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// APIConfig derives the HTTP server configuration.
func (c *ServerConfig) APIConfig() api.Config {
	cfg := api.Config{
		Host:            c.Host,
		Port:            c.Port,
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		IdleTimeout:     c.IdleTimeout,
		ShutdownTimeout: c.ShutdownTimeout,
	}
	cfg.ApplyDefaults()
	return cfg
}

// RedisConfig configures the Redis connection shared by the queue and the
// lock manager. Stream and group names keep their package defaults and are
// only overridable here when explicitly set.
type RedisConfig struct {
	// Addr is the Redis host:port.
	// Default: localhost:6379
	Addr string `mapstructure:"addr" yaml:"addr"`

	// Password is the Redis AUTH password (empty for none)
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// DB is the Redis database index.
	// Default: 0
	DB int `mapstructure:"db" validate:"omitempty,gte=0,lte=15" yaml:"db"`

	// Stream overrides the upload stream name.
	// Default: cnab:uploads
	Stream string `mapstructure:"stream" yaml:"stream,omitempty"`

	// Group overrides the consumer group name.
	// Default: cnab-workers
	Group string `mapstructure:"group" yaml:"group,omitempty"`
}

// QueueConfig derives the queue configuration from the shared Redis settings.
func (c *RedisConfig) QueueConfig() queue.Config {
	cfg := queue.Config{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		Stream:   c.Stream,
		Group:    c.Group,
	}
	cfg.ApplyDefaults()
	return cfg
}

// LockConfig derives the lock manager configuration from the shared Redis settings.
func (c *RedisConfig) LockConfig() lock.Config {
	cfg := lock.Config{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}
	cfg.ApplyDefaults()
	return cfg
}

// ProcessingConfig tunes the background worker pipeline.
type ProcessingConfig struct {
	// Workers is the number of queue consumer goroutines per process.
	// Default: 2
	Workers int `mapstructure:"workers" validate:"omitempty,min=1,max=64" yaml:"workers"`

	// ParallelWorkers is the per-batch fan-out of concurrent line tasks.
	// Default: 4, bounds 1..64
	ParallelWorkers int `mapstructure:"parallel_workers" validate:"omitempty,min=1,max=64" yaml:"parallel_workers"`

	// CheckpointInterval is the number of lines between checkpoint writes.
	// Default: 1000
	CheckpointInterval int64 `mapstructure:"checkpoint_interval" validate:"omitempty,min=1" yaml:"checkpoint_interval"`

	// MaxRetryPerLine is the number of attempts for a single line before it
	// counts as failed.
	// Default: 3
	MaxRetryPerLine int `mapstructure:"max_retry_per_line" validate:"omitempty,min=1" yaml:"max_retry_per_line"`

	// RetryDelay is the base delay between line attempts; attempt n sleeps
	// RetryDelay × n.
	// Default: 500ms
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	// MaxRetries is the number of attempts for a whole queue message before
	// it is dead-lettered.
	// Default: 3
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,min=1" yaml:"max_retries"`

	// BaseRetryDelay is the base for message-level exponential backoff;
	// attempt n sleeps BaseRetryDelay × 2^(n-1).
	// Default: 2s
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay" yaml:"base_retry_delay"`

	// ProcessingTimeout is the distributed lock TTL for one processing run.
	// A worker that dies holding the lock blocks the upload for at most this long.
	// Default: 30m
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout" yaml:"processing_timeout"`

	// SyncMode processes uploads inline during intake instead of enqueueing.
	// Intended for tests and small deployments.
	// Default: false
	SyncMode bool `mapstructure:"sync_mode" yaml:"sync_mode"`
}

// PoolConfig derives the worker pool configuration.
func (c *ProcessingConfig) PoolConfig() pipeline.Config {
	cfg := pipeline.Config{
		Workers:            c.Workers,
		ParallelWorkers:    c.ParallelWorkers,
		CheckpointInterval: c.CheckpointInterval,
		MaxRetryPerLine:    c.MaxRetryPerLine,
		RetryDelay:         c.RetryDelay,
		MaxRetries:         c.MaxRetries,
		BaseRetryDelay:     c.BaseRetryDelay,
		ProcessingTimeout:  c.ProcessingTimeout,
	}
	cfg.ApplyDefaults()
	return cfg
}

// RecoveryConfig configures the stuck-upload sweeper.
type RecoveryConfig struct {
	// Disabled turns the sweeper off. The sweeper runs by default.
	Disabled bool `mapstructure:"disabled" yaml:"disabled"`

	// CheckInterval is how often the sweeper scans for stuck uploads.
	// Default: 5m
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`

	// StuckTimeout is how old an upload's activity must be before it counts
	// as stuck.
	// Default: 30m
	StuckTimeout time.Duration `mapstructure:"stuck_timeout" yaml:"stuck_timeout"`
}

// SweeperConfig derives the recovery sweeper configuration.
func (c *RecoveryConfig) SweeperConfig() pipeline.SweeperConfig {
	cfg := pipeline.SweeperConfig{
		CheckInterval: c.CheckInterval,
		StuckTimeout:  c.StuckTimeout,
	}
	cfg.ApplyDefaults()
	return cfg
}

// IntakeConfig limits what the upload endpoint accepts.
type IntakeConfig struct {
	// MaxFileSize is the maximum accepted upload size.
	// Supports human-readable formats: "1GiB", "512MB".
	// Default: 1GiB
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`

	// AllowedExtension is the required file extension (with leading dot).
	// Default: ".txt"
	AllowedExtension string `mapstructure:"allowed_extension" yaml:"allowed_extension"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
// When Enabled is false, no collectors are registered and /metrics
// returns 404 (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the /metrics endpoint
	// (served on the API port) are enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// 1.0 = sample all traces, 0.5 = sample 50%, 0.0 = no sampling
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope
// server for flame graph visualization.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	// Default: ["cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"]
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CNABFLOW_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	// Determine config path
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  cnabflow init\n\n"+
				"Or specify a custom config file:\n"+
				"  cnabflow <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  cnabflow init --config %s",
				configPath, configPath)
		}
	}

	// Load configuration
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	// Create parent directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write with restricted permissions: the file may contain database and
	// object store credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use CNABFLOW_ prefix and underscores
	// Example: CNABFLOW_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CNABFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/cnabflow/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return false, nil
		}
		// Also check for os.PathError when explicit config file doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		// Other errors are problems
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
// This includes ByteSize and time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook returns a mapstructure decode hook that converts strings
// and integers to bytesize.ByteSize. This enables config files to use
// human-readable sizes like "1Gi", "500Mi", "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to ByteSize
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse human-readable string like "1Gi", "500Mi", "100MB"
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		// Only handle conversion to time.Duration
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			// Parse duration string like "30s", "5m", "1h"
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cnabflow")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "cnabflow")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
