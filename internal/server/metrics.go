package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailgrant/mailgrant/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is the default bind address for the metrics
	// listener.
	DefaultMetricsAddr = ":9090"

	metricsReadTimeout  = 10 * time.Second
	metricsWriteTimeout = 10 * time.Second
	metricsIdleTimeout  = 60 * time.Second
)

// MetricsServer serves Prometheus metrics on a dedicated listener, keeping
// scrape traffic off the application port.
type MetricsServer struct {
	httpServer *http.Server
	addr       string
	logger     *slog.Logger
}

// NewMetricsServer creates a metrics server exposing /metrics. The
// instrumentation provider must be enabled, since its Prometheus exporter
// feeds the registry promhttp serves.
func NewMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*MetricsServer, error) {
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	if provider == nil || !provider.Enabled() {
		return nil, fmt.Errorf("instrumentation provider is not enabled")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MetricsServer{addr: addr, logger: logger}, nil
}

// Start serves the metrics endpoint. Blocking; run in a goroutine.
func (s *MetricsServer) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
		WriteTimeout:      metricsWriteTimeout,
		IdleTimeout:       metricsIdleTimeout,
	}

	s.logger.Info("starting metrics server", slog.String("addr", s.addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the configured bind address.
func (s *MetricsServer) Addr() string {
	return s.addr
}
