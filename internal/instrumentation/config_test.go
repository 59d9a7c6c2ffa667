package instrumentation

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.ServiceName != "mailgrant" {
		t.Errorf("ServiceName = %q, want mailgrant", config.ServiceName)
	}
	if !config.Enabled {
		t.Error("instrumentation should be enabled by default")
	}
	if config.MetricsExporter != ExporterPrometheus {
		t.Errorf("MetricsExporter = %q, want %q", config.MetricsExporter, ExporterPrometheus)
	}
	if config.TracingExporter != ExporterNone {
		t.Errorf("TracingExporter = %q, want %q", config.TracingExporter, ExporterNone)
	}
	if config.TraceSamplingRate != 0.1 {
		t.Errorf("TraceSamplingRate = %f, want 0.1", config.TraceSamplingRate)
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "custom-service")
	t.Setenv("INSTRUMENTATION_ENABLED", "false")
	t.Setenv("METRICS_EXPORTER", ExporterStdout)
	t.Setenv("TRACING_EXPORTER", ExporterOTLP)
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("TRACE_SAMPLING_RATE", "0.5")

	config := DefaultConfig()

	if config.ServiceName != "custom-service" {
		t.Errorf("ServiceName = %q, want custom-service", config.ServiceName)
	}
	if config.Enabled {
		t.Error("INSTRUMENTATION_ENABLED=false should disable instrumentation")
	}
	if config.MetricsExporter != ExporterStdout {
		t.Errorf("MetricsExporter = %q, want %q", config.MetricsExporter, ExporterStdout)
	}
	if config.TracingExporter != ExporterOTLP {
		t.Errorf("TracingExporter = %q, want %q", config.TracingExporter, ExporterOTLP)
	}
	if config.OTLPEndpoint != "collector:4318" {
		t.Errorf("OTLPEndpoint = %q, want collector:4318", config.OTLPEndpoint)
	}
	if config.TraceSamplingRate != 0.5 {
		t.Errorf("TraceSamplingRate = %f, want 0.5", config.TraceSamplingRate)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"bad metrics exporter", func(c *Config) { c.MetricsExporter = "statsd" }, true},
		{"bad tracing exporter", func(c *Config) { c.TracingExporter = "jaeger" }, true},
		{"sampling rate too high", func(c *Config) { c.TraceSamplingRate = 1.5 }, true},
		{"sampling rate negative", func(c *Config) { c.TraceSamplingRate = -0.1 }, true},
		{"stdout metrics", func(c *Config) { c.MetricsExporter = ExporterStdout }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewMetrics_NoOpSafe(t *testing.T) {
	// The zero value must be safe to call everywhere.
	m := &Metrics{}
	ctx := t.Context()

	m.RecordHTTPRequest(ctx, "GET", "/email/list", 200, 0)
	m.RecordCredentialLookup(ctx, TokenSourceCache)
	m.RecordTokenRefresh(ctx, RefreshResultSuccess)
	m.RecordGoogleAPIOperation(ctx, "gmail", "list", "success", 0)
	m.RecordOAuthFlow(ctx, "success")
}
