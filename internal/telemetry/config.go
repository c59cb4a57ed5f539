package telemetry

// Config controls trace export.
type Config struct {
	Enabled        bool    // export spans to the OTLP backend
	ServiceName    string  // service.name resource attribute
	ServiceVersion string  // service.version resource attribute
	Endpoint       string  // OTLP gRPC endpoint, host:port
	Insecure       bool    // dial without TLS
	SampleRate     float64 // fraction of traces to sample, 0.0 to 1.0
}

// DefaultConfig returns the development defaults: tracing off, local
// collector endpoint, full sampling once enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "cnabflow",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
