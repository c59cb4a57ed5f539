package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration template written by InitConfig.
// Values mirror GetDefaultConfig so a freshly initialized file loads cleanly.
const sampleConfig = `# CNABFlow Configuration File
#
# Configuration precedence (highest to lowest):
#   1. Environment variables (CNABFLOW_*, e.g. CNABFLOW_LOGGING_LEVEL=DEBUG)
#   2. This file
#   3. Built-in defaults

logging:
  # Minimum log level: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Output format: text (human-readable, colorized) or json
  format: text
  # Where logs go: stdout, stderr, or a file path
  output: stdout

server:
  host: 0.0.0.0
  port: 8080
  # Uploads can be large; keep the read timeout generous.
  read_timeout: 120s
  write_timeout: 30s
  idle_timeout: 60s
  shutdown_timeout: 30s

database:
  # sqlite for single-node deployments, postgres for shared state
  type: sqlite
  sqlite:
    # Defaults to $XDG_CONFIG_HOME/cnabflow/cnabflow.db when empty
    path: ""
  # postgres:
  #   host: localhost
  #   port: 5432
  #   user: cnabflow
  #   password: ""
  #   database: cnabflow
  #   ssl_mode: disable

redis:
  # Shared by the upload queue and the distributed lock manager
  addr: localhost:6379
  password: ""
  db: 0

storage:
  # S3-compatible object store holding the raw uploaded files.
  # Leave endpoint empty for AWS S3; set it for MinIO/Localstack.
  endpoint: ""
  region: us-east-1
  bucket: cnab-uploads
  access_key_id: ""
  secret_access_key: ""
  force_path_style: false

processing:
  # Queue consumer goroutines per process
  workers: 2
  # Concurrent line tasks per batch (1..64)
  parallel_workers: 4
  # Lines between checkpoint writes
  checkpoint_interval: 1000
  # Per-line retry budget; attempt n sleeps retry_delay * n
  max_retry_per_line: 3
  retry_delay: 500ms
  # Per-message retry budget; attempt n sleeps base_retry_delay * 2^(n-1)
  max_retries: 3
  base_retry_delay: 2s
  # Distributed lock TTL for one processing run
  processing_timeout: 30m
  # Process uploads inline during intake (tests only)
  sync_mode: false

recovery:
  # The stuck-upload sweeper runs unless disabled.
  disabled: false
  check_interval: 5m
  stuck_timeout: 30m

intake:
  # Human-readable sizes accepted: 1GiB, 512MB, ...
  max_file_size: 1GiB
  allowed_extension: ".txt"

metrics:
  # Prometheus metrics, served on the API port at /metrics
  enabled: true

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0

profiling:
  enabled: false
  endpoint: http://localhost:4040
`

// InitConfig writes a commented sample configuration to the default location.
// Returns the path of the created file. Fails if the file already exists
// unless force is true.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a commented sample configuration to the given path,
// creating parent directories as needed. Fails if the file already exists
// unless force is true.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Restricted permissions: the file will usually grow credentials.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
