package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration of the mbedconf tool.
type Config struct {
	// ServiceName is the name reported by traces and used as metrics namespace default.
	ServiceName string

	// ServiceVersion is the version of the tool.
	ServiceVersion string

	// Environment names the environment the tool runs in (local, ci).
	Environment string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string

	// Format specifies the log format (console, json).
	Format string

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// TimeFormat specifies the timestamp format (unix, rfc3339).
	TimeFormat string
}

// TracingConfig configures tracing of resolution passes.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string

	// Endpoint is the OTLP collector endpoint.
	Endpoint string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int

	// ExportTimeout is the timeout for trace export.
	ExportTimeout time.Duration

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string

	// Insecure disables TLS for the exporter connection.
	Insecure bool
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// ListenAddress is the address of the metrics HTTP endpoint used by watch mode.
	ListenAddress string

	// Path is the HTTP path for metrics (default: /metrics).
	Path string

	// Namespace is the metrics namespace prefix.
	Namespace string

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// DefaultConfig returns the configuration used by the CLI: console logging,
// tracing and metrics off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "mbedconf",
		ServiceVersion: "dev",
		Environment:    "local",
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "console",
			Output:       "stderr",
			EnableCaller: false,
			TimeFormat:   "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "mbedconf",
			DefaultHistogramBuckets: []float64{
				0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
			},
		},
	}
}

// CIConfig returns a configuration for unattended runs: JSON logs and OTLP
// traces.
func CIConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "ci"
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Insecure = false
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate logging format
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	// Validate tracing exporter
	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	// Validate sampling rate
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	// Validate metrics listen address
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	return nil
}
