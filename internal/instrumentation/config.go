// Package instrumentation provides OpenTelemetry metrics and tracing for the
// service: an env-configured provider, a Prometheus exporter for the metrics
// endpoint, and recorders for the credential lifecycle and provider API calls.
package instrumentation

import (
	"fmt"
	"os"
	"strconv"
)

// Exporter types for metrics and tracing.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Config holds the configuration for OpenTelemetry instrumentation.
type Config struct {
	// ServiceName is the name of the service (default: mailgrant).
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Enabled determines if instrumentation is active (default: true).
	// Set INSTRUMENTATION_ENABLED=false to disable metrics and tracing.
	Enabled bool

	// MetricsExporter selects the metrics exporter:
	// "prometheus" (default), "otlp", or "stdout".
	MetricsExporter string

	// TracingExporter selects the tracing exporter:
	// "otlp", "stdout", or "none" (default).
	TracingExporter string

	// OTLPEndpoint is the OTLP collector endpoint, e.g. "localhost:4318".
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP export. Development only.
	OTLPInsecure bool

	// TraceSamplingRate is the trace sampling rate (0.0 to 1.0, default 0.1).
	TraceSamplingRate float64
}

// DefaultConfig returns a Config with defaults taken from the environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:       getEnvOrDefault("OTEL_SERVICE_NAME", "mailgrant"),
		ServiceVersion:    "unknown",
		Enabled:           getEnvBoolOrDefault("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   getEnvOrDefault("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   getEnvOrDefault("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      getEnvBoolOrDefault("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: getEnvFloatOrDefault("TRACE_SAMPLING_RATE", 0.1),
	}
}

// Validate checks the configuration for invalid combinations.
func (c Config) Validate() error {
	switch c.MetricsExporter {
	case ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("unsupported metrics exporter: %s", c.MetricsExporter)
	}

	switch c.TracingExporter {
	case ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("unsupported tracing exporter: %s", c.TracingExporter)
	}

	if c.TraceSamplingRate < 0.0 || c.TraceSamplingRate > 1.0 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}

	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
