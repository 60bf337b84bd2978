package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/tournevent/shipsync/pkg/shipper/provider"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// tokenServer is a fake refresh endpoint that rotates the refresh token on every call.
type tokenServer struct {
	hits    atomic.Int32
	delay   time.Duration
	status  int
	mu      sync.Mutex
	seen    []string
	expires int
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.hits.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	var req provider.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	s.mu.Lock()
	s.seen = append(s.seen, req.RefreshToken)
	s.mu.Unlock()

	if s.status != 0 {
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"errorCode":"INVALID_REFRESH_TOKEN","errorMsg":"refresh token revoked"}`))
		return
	}

	_ = json.NewEncoder(w).Encode(provider.RefreshResponse{
		AccessToken:  "at-" + string(rune('0'+n)),
		RefreshToken: "rt-" + string(rune('0'+n)),
		TokenType:    "Bearer",
		ExpiresIn:    s.expires,
	})
}

func (s *tokenServer) refreshTokensSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func newManager(t *testing.T, ts *tokenServer, cfg provider.CredentialConfig) *provider.CredentialManager {
	t.Helper()
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)
	cfg.TokenURL = srv.URL + "/refreshToken"
	return provider.NewCredentialManager(cfg, otelzap.New(zap.NewNop()), nil)
}

func TestCredentialManager_StaticAPIKey(t *testing.T) {
	ts := &tokenServer{}
	m := newManager(t, ts, provider.CredentialConfig{APIKey: "static-key"})

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static-key", token)
	assert.False(t, m.CanRefresh())
	assert.Zero(t, ts.hits.Load())

	_, err = m.Refresh(context.Background(), "static-key")
	assert.ErrorIs(t, err, shipper.ErrRefreshFailed)
}

func TestCredentialManager_CachedToken(t *testing.T) {
	ts := &tokenServer{}
	m := newManager(t, ts, provider.CredentialConfig{AccessToken: "at-cached", RefreshToken: "rt-0"})

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-cached", token)
	assert.Zero(t, ts.hits.Load())
}

func TestCredentialManager_LazyRefreshWhenAbsent(t *testing.T) {
	ts := &tokenServer{}
	m := newManager(t, ts, provider.CredentialConfig{RefreshToken: "rt-0"})

	token, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)
	assert.Equal(t, int32(1), ts.hits.Load())

	token, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)
	assert.Equal(t, int32(1), ts.hits.Load())
}

func TestCredentialManager_RotatesRefreshToken(t *testing.T) {
	ts := &tokenServer{}
	m := newManager(t, ts, provider.CredentialConfig{AccessToken: "at-0", RefreshToken: "rt-0"})

	ctx := context.Background()
	token, err := m.Refresh(ctx, "at-0")
	require.NoError(t, err)
	assert.Equal(t, "at-1", token)

	token, err = m.Refresh(ctx, "at-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", token)

	assert.Equal(t, []string{"rt-0", "rt-1"}, ts.refreshTokensSeen())
}

func TestCredentialManager_ExpiredTokenRefreshed(t *testing.T) {
	// expires_in shorter than the skew: every read sees an expired token
	ts := &tokenServer{expires: 1}
	m := newManager(t, ts, provider.CredentialConfig{RefreshToken: "rt-0"})

	ctx := context.Background()
	_, err := m.AccessToken(ctx)
	require.NoError(t, err)
	_, err = m.AccessToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), ts.hits.Load())
}

func TestCredentialManager_NoRefreshToken(t *testing.T) {
	ts := &tokenServer{}
	m := newManager(t, ts, provider.CredentialConfig{})

	_, err := m.AccessToken(context.Background())
	assert.ErrorIs(t, err, shipper.ErrCredentialUnavailable)
	assert.Zero(t, ts.hits.Load())
}

func TestCredentialManager_RefreshRejected(t *testing.T) {
	ts := &tokenServer{status: http.StatusBadRequest}
	m := newManager(t, ts, provider.CredentialConfig{AccessToken: "at-0", RefreshToken: "rt-0"})

	_, err := m.Refresh(context.Background(), "at-0")
	require.Error(t, err)
	assert.ErrorIs(t, err, shipper.ErrRefreshFailed)

	pe, ok := shipper.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", pe.Code)
}

func TestCredentialManager_RefreshUnreachable(t *testing.T) {
	m := provider.NewCredentialManager(provider.CredentialConfig{
		TokenURL:     "http://127.0.0.1:1/refreshToken",
		RefreshToken: "rt-0",
	}, nil, nil)

	_, err := m.AccessToken(context.Background())
	assert.True(t, errors.Is(err, shipper.ErrRefreshFailed))
}

func TestCredentialManager_ConcurrentRefreshIsSingleFlight(t *testing.T) {
	ts := &tokenServer{delay: 50 * time.Millisecond}
	m := newManager(t, ts, provider.CredentialConfig{AccessToken: "at-stale", RefreshToken: "rt-0"})

	ctx := context.Background()
	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := m.Refresh(ctx, "at-stale")
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ts.hits.Load())
	for _, token := range tokens {
		assert.Equal(t, "at-1", token)
	}
}
