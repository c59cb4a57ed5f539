package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags and
// a few cross-field rules the tags cannot express.
//
// Returns nil if the configuration is valid, or an error describing the
// first problems found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	return validateCrossFields(cfg)
}

// validateCrossFields enforces rules that span multiple fields.
func validateCrossFields(cfg *Config) error {
	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if cfg.Intake.AllowedExtension != "" && cfg.Intake.AllowedExtension[0] != '.' {
		return fmt.Errorf("intake: allowed_extension must start with a dot, got %q",
			cfg.Intake.AllowedExtension)
	}

	if cfg.Processing.RetryDelay < 0 {
		return fmt.Errorf("processing: retry_delay must not be negative")
	}
	if cfg.Processing.BaseRetryDelay < 0 {
		return fmt.Errorf("processing: base_retry_delay must not be negative")
	}
	if cfg.Processing.ProcessingTimeout <= 0 {
		return fmt.Errorf("processing: processing_timeout must be positive")
	}

	if cfg.Recovery.CheckInterval <= 0 {
		return fmt.Errorf("recovery: check_interval must be positive")
	}
	if cfg.Recovery.StuckTimeout <= 0 {
		return fmt.Errorf("recovery: stuck_timeout must be positive")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry: endpoint is required when telemetry is enabled")
	}
	if cfg.Profiling.Enabled && cfg.Profiling.Endpoint == "" {
		return fmt.Errorf("profiling: endpoint is required when profiling is enabled")
	}

	return nil
}
