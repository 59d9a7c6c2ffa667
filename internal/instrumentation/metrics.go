package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrSource    = "source"
)

// Credential refresh results.
const (
	RefreshResultSuccess   = "success"
	RefreshResultReauth    = "reauth_required"
	RefreshResultTransient = "transient_error"
	RefreshResultCorrupt   = "corrupt"
)

// Token sources for credential lookups.
const (
	TokenSourceCache   = "cache"   // unexpired token served from the store
	TokenSourceRefresh = "refresh" // token minted via the provider
)

// Metrics provides methods for recording observability metrics.
// The zero value is a no-op recorder; all methods are safe on it.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	credentialLookupsTotal metric.Int64Counter
	tokenRefreshTotal      metric.Int64Counter

	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	oauthFlowTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all instruments registered on
// the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.credentialLookupsTotal, err = meter.Int64Counter(
		"credential_lookups_total",
		metric.WithDescription("Total number of credential lookups, by token source"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential_lookups_total counter: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts, by result"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	m.oauthFlowTotal, err = meter.Int64Counter(
		"oauth_flow_total",
		metric.WithDescription("Total number of OAuth authorization flow completions, by result"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_flow_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code,
// and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCredentialLookup records how a valid access token was obtained:
// TokenSourceCache when the stored token was still valid, TokenSourceRefresh
// when a refresh round-trip was needed.
func (m *Metrics) RecordCredentialLookup(ctx context.Context, source string) {
	if m.credentialLookupsTotal == nil {
		return
	}
	m.credentialLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrSource, source)))
}

// RecordTokenRefresh records an OAuth token refresh attempt with one of the
// RefreshResult constants.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordGoogleAPIOperation records a Google API operation.
//
// service is the Google service name (gmail, calendar); operation is the
// operation type (list, read, send, create, update, delete); status is
// "success" or "error".
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOAuthFlow records an authorization flow completion with result
// "success" or "failure".
func (m *Metrics) RecordOAuthFlow(ctx context.Context, result string) {
	if m.oauthFlowTotal == nil {
		return
	}
	m.oauthFlowTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
