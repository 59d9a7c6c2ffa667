package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mailgrant/mailgrant/internal/crypt"
	"github.com/mailgrant/mailgrant/internal/store"
)

// memStore is an in-memory store.Store for manager tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]store.Record
	upserts int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]store.Record)}
}

func (s *memStore) Get(_ context.Context, userID string) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (s *memStore) Upsert(_ context.Context, rec *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = *rec
	s.upserts++
	return nil
}

func (s *memStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
	return nil
}

// tokenEndpoint is a fake provider token endpoint. Each call to handler
// serves the configured response and counts hits.
type tokenEndpoint struct {
	mu       sync.Mutex
	hits     int
	status   int
	response map[string]any
}

func (e *tokenEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	e.hits++
	status, resp := e.status, e.response
	e.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (e *tokenEndpoint) hitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hits
}

type managerFixture struct {
	manager  *Manager
	store    *memStore
	codec    *crypt.Codec
	endpoint *tokenEndpoint
}

func setupManager(t *testing.T) *managerFixture {
	t.Helper()

	key, err := crypt.GenerateKey()
	require.NoError(t, err)
	codec, err := crypt.NewCodec(key)
	require.NoError(t, err)

	endpoint := &tokenEndpoint{
		status: http.StatusOK,
		response: map[string]any{
			"access_token": "new-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(endpoint.handler))
	t.Cleanup(srv.Close)

	oauthConfig := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:  srv.URL + "/auth",
			TokenURL: srv.URL + "/token",
		},
	}

	ms := newMemStore()
	manager := NewManager(ms, codec, oauthConfig,
		WithHTTPClient(srv.Client()),
	)

	return &managerFixture{
		manager:  manager,
		store:    ms,
		codec:    codec,
		endpoint: endpoint,
	}
}

// seed stores an encrypted record for u1. refreshToken may be empty.
func (f *managerFixture) seed(t *testing.T, accessToken, refreshToken string, expiresAt time.Time) {
	t.Helper()

	encAccess, err := f.codec.Encrypt(accessToken)
	require.NoError(t, err)
	encRefresh := ""
	if refreshToken != "" {
		encRefresh, err = f.codec.Encrypt(refreshToken)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.Upsert(context.Background(), &store.Record{
		UserID:       "u1",
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		ExpiresAt:    expiresAt,
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.modify"},
	}))
	f.store.upserts = 0
}

func TestManager_ValidTokenNoNetworkCall(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stored-access", "stored-refresh", time.Now().Add(time.Hour))

	token, err := f.manager.Token(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "stored-access", token)
	assert.Equal(t, 0, f.endpoint.hitCount(), "valid token must not hit the provider")
	assert.Equal(t, 0, f.store.upserts, "valid token must not rewrite the record")
}

func TestManager_ExpiredTokenRefreshesOnce(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stale-access", "stored-refresh", time.Now().Add(-time.Hour))

	token, err := f.manager.Token(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, 1, f.endpoint.hitCount(), "expired token refreshes exactly once")

	// New access token persisted encrypted.
	rec, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	access, err := f.codec.Decrypt(rec.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
	assert.True(t, rec.ExpiresAt.After(time.Now()), "new expiry is in the future")
}

func TestManager_ExpiryWithinSkewTreatedAsExpired(t *testing.T) {
	f := setupManager(t)
	// Expires in 5 seconds, within the 30 second safety margin.
	f.seed(t, "nearly-expired", "stored-refresh", time.Now().Add(5*time.Second))

	token, err := f.manager.Token(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, 1, f.endpoint.hitCount())
}

func TestManager_SkewRefreshReachesProvider(t *testing.T) {
	f := setupManager(t)
	// Expires in 20 seconds: inside our 30 second margin but outside the
	// token source's own smaller one, which would otherwise hand the stale
	// token back without a provider call.
	f.seed(t, "nearly-expired", "stored-refresh", time.Now().Add(20*time.Second))

	token, err := f.manager.Token(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token, "refresh must return the renewed token, not the stale one")
	assert.Equal(t, 1, f.endpoint.hitCount(), "deciding to refresh means actually calling the provider")
	assert.Equal(t, 1, f.store.upserts)

	rec, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	access, err := f.codec.Decrypt(rec.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
}

func TestManager_RefreshPreservesRefreshToken(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stale-access", "R1", time.Now().Add(-time.Hour))
	// Response deliberately omits refresh_token, as providers commonly do on
	// renewal.

	_, err := f.manager.Token(context.Background(), "u1")
	require.NoError(t, err)

	rec, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	refresh, err := f.codec.Decrypt(rec.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "R1", refresh, "stored refresh token must survive a renewal that omits one")
}

func TestManager_RefreshRotatesRefreshTokenWhenIssued(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stale-access", "R1", time.Now().Add(-time.Hour))
	f.endpoint.response["refresh_token"] = "R2"

	_, err := f.manager.Token(context.Background(), "u1")
	require.NoError(t, err)

	rec, err := f.store.Get(context.Background(), "u1")
	require.NoError(t, err)
	refresh, err := f.codec.Decrypt(rec.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "R2", refresh)
}

func TestManager_NoRecord(t *testing.T) {
	f := setupManager(t)

	_, err := f.manager.Token(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.Equal(t, 0, f.endpoint.hitCount())
}

func TestManager_RevokedRefreshToken(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stale-access", "revoked-refresh", time.Now().Add(-time.Hour))
	f.endpoint.status = http.StatusBadRequest
	f.endpoint.response = map[string]any{"error": "invalid_grant", "error_description": "Token has been expired or revoked."}

	_, err := f.manager.Token(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrReauthRequired)

	// Stored record is left unchanged, not deleted or clobbered.
	rec, getErr := f.store.Get(context.Background(), "u1")
	require.NoError(t, getErr)
	access, decErr := f.codec.Decrypt(rec.AccessToken)
	require.NoError(t, decErr)
	assert.Equal(t, "stale-access", access)
	assert.Equal(t, 0, f.store.upserts)
}

func TestManager_ProviderOutageIsTransient(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stale-access", "stored-refresh", time.Now().Add(-time.Hour))
	f.endpoint.status = http.StatusInternalServerError
	f.endpoint.response = map[string]any{"error": "internal_failure"}

	_, err := f.manager.Token(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrTransientRefresh)
	assert.Equal(t, 0, f.store.upserts)
}

func TestManager_RateLimitIsTransient(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stale-access", "stored-refresh", time.Now().Add(-time.Hour))
	f.endpoint.status = http.StatusTooManyRequests
	f.endpoint.response = map[string]any{"error": "rate_limit_exceeded"}

	_, err := f.manager.Token(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrTransientRefresh)
}

func TestManager_ExpiredWithoutRefreshToken(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stale-access", "", time.Now().Add(-time.Hour))

	_, err := f.manager.Token(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, 0, f.endpoint.hitCount(), "nothing to refresh with, no provider call")
}

func TestManager_CorruptCiphertext(t *testing.T) {
	f := setupManager(t)
	require.NoError(t, f.store.Upsert(context.Background(), &store.Record{
		UserID:      "u1",
		AccessToken: "definitely-not-a-valid-ciphertext",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	_, err := f.manager.Token(context.Background(), "u1")
	assert.ErrorIs(t, err, crypt.ErrCorruptCredential)
}

func TestManager_TokenSource(t *testing.T) {
	f := setupManager(t)
	f.seed(t, "stored-access", "stored-refresh", time.Now().Add(time.Hour))

	ts, err := f.manager.TokenSource(context.Background(), "u1")
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "stored-access", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
}
