package api

import (
	"fmt"
	"time"
)

// Config configures the REST API HTTP server.
type Config struct {
	// Host is the listen address.
	// Default: 0.0.0.0
	Host string

	// Port is the HTTP port for the API endpoints.
	// Default: 8080
	Port int

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body. Uploads can be large, so keep this generous.
	// Default: 120s
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of
	// the response.
	// Default: 30s
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown once Start is interrupted by
	// context cancellation.
	// Default: 30s
	ShutdownTimeout time.Duration
}

// ApplyDefaults fills in zero values with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port <= 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 120 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
