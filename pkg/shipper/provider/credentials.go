package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// expirySkew treats a token as expired slightly early so it is not rejected in flight.
const expirySkew = 30 * time.Second

// TokenSource supplies bearer tokens to the HTTP client.
type TokenSource interface {
	// AccessToken returns a usable access token, refreshing when none is cached.
	AccessToken(ctx context.Context) (string, error)

	// Refresh replaces the access token. rejected is the token the provider
	// just refused; if another caller already replaced it, the current token
	// is returned without a second exchange.
	Refresh(ctx context.Context, rejected string) (string, error)

	// CanRefresh reports whether Refresh can ever yield a different token.
	CanRefresh() bool
}

// CredentialConfig holds the initial credential state.
type CredentialConfig struct {
	TokenURL     string
	APIKey       string // static key; when set no refresh ever happens
	AccessToken  string
	RefreshToken string
	HTTPClient   *http.Client
}

// CredentialManager owns the provider access/refresh token pair.
// Refreshes are serialized so a rotated refresh token is never used twice.
type CredentialManager struct {
	tokenURL   string
	apiKey     string
	httpClient *http.Client
	logger     *otelzap.Logger
	metrics    MetricsRecorder
	now        func() time.Time

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time

	refreshMu sync.Mutex
}

// NewCredentialManager creates a credential manager seeded from cfg.
func NewCredentialManager(cfg CredentialConfig, logger *otelzap.Logger, metrics MetricsRecorder) *CredentialManager {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &CredentialManager{
		tokenURL:     cfg.TokenURL,
		apiKey:       cfg.APIKey,
		httpClient:   httpClient,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
		accessToken:  cfg.AccessToken,
		refreshToken: cfg.RefreshToken,
	}
}

// CanRefresh reports whether the manager uses rotating tokens.
func (m *CredentialManager) CanRefresh() bool {
	return m.apiKey == ""
}

// AccessToken returns the static API key if configured, otherwise the cached
// access token, refreshing it when it is absent or expired.
func (m *CredentialManager) AccessToken(ctx context.Context) (string, error) {
	if m.apiKey != "" {
		return m.apiKey, nil
	}

	m.mu.RLock()
	token, fresh := m.accessToken, m.freshLocked()
	m.mu.RUnlock()
	if fresh {
		return token, nil
	}

	return m.Refresh(ctx, token)
}

// Refresh exchanges the refresh token for a new token pair.
func (m *CredentialManager) Refresh(ctx context.Context, rejected string) (string, error) {
	if m.apiKey != "" {
		return "", fmt.Errorf("%w: static api key cannot be refreshed", shipper.ErrRefreshFailed)
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.RLock()
	current, fresh, refreshToken := m.accessToken, m.freshLocked(), m.refreshToken
	m.mu.RUnlock()

	if fresh && current != rejected {
		return current, nil
	}
	if refreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token configured", shipper.ErrCredentialUnavailable)
	}

	resp, err := m.exchange(ctx, refreshToken)
	if err != nil {
		m.metrics.RecordRefresh("error")
		m.logger.Ctx(ctx).Error("Provider token refresh failed", zap.Error(err))
		return "", fmt.Errorf("%w: %w", shipper.ErrRefreshFailed, err)
	}

	m.mu.Lock()
	m.accessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		m.refreshToken = resp.RefreshToken
	}
	m.expiresAt = time.Time{}
	if resp.ExpiresIn > 0 {
		m.expiresAt = m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	m.mu.Unlock()

	m.metrics.RecordRefresh("ok")
	m.logger.Ctx(ctx).Info("Provider token refreshed",
		zap.Bool("refresh_token_rotated", resp.RefreshToken != ""),
		zap.Int("expires_in", resp.ExpiresIn),
	)
	return resp.AccessToken, nil
}

// freshLocked reports whether the cached access token may be used. m.mu must be held.
func (m *CredentialManager) freshLocked() bool {
	if m.accessToken == "" {
		return false
	}
	return m.expiresAt.IsZero() || m.now().Add(expirySkew).Before(m.expiresAt)
}

func (m *CredentialManager) exchange(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	body, err := json.Marshal(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shipper.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError("refreshToken", resp)
	}

	var out RefreshResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("refresh response carried no access token")
	}
	return &out, nil
}
