// Package provider integrates with the external logistics provider: the
// credential manager that owns the rotating bearer token, and a typed
// client for every provider endpoint.
package provider

import (
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
)

// Config holds provider configuration.
type Config struct {
	BaseURL      string
	APIKey       string
	AccessToken  string
	RefreshToken string
	Timeout      time.Duration
	UseMock      bool // When true, uses mock API client
}

// MetricsRecorder receives provider call and credential refresh outcomes.
type MetricsRecorder interface {
	RecordProviderCall(operation, outcome string, duration float64)
	RecordRefresh(result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordProviderCall(string, string, float64) {}
func (noopMetrics) RecordRefresh(string)                       {}

// New creates the provider API client.
// If cfg.UseMock is true, it uses a mock API client for local runs.
// Otherwise, it uses the real HTTP API client backed by a CredentialManager.
func New(cfg Config, logger *otelzap.Logger, tracer trace.Tracer, metrics MetricsRecorder) APIClient {
	if cfg.UseMock {
		return NewMockAPIClient()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	tokens := NewCredentialManager(CredentialConfig{
		TokenURL:     baseURL + "/refreshToken",
		APIKey:       cfg.APIKey,
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
	}, logger, metrics)

	return NewHTTPAPIClient(HTTPAPIClientConfig{
		BaseURL: baseURL,
		Timeout: timeout,
		Tokens:  tokens,
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
	})
}
