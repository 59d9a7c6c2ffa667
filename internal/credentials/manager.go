// Package credentials implements the credential lifecycle: loading a user's
// stored OAuth grant, refreshing it against the provider when expired, and
// persisting the renewed grant.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/mailgrant/mailgrant/internal/crypt"
	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/logging"
	"github.com/mailgrant/mailgrant/internal/store"
)

// DefaultExpirySkew is the safety margin applied to expiry checks: a token
// expiring within this window is treated as already expired, so an in-flight
// API call never races token expiry.
const DefaultExpirySkew = 30 * time.Second

// Manager resolves a user identity to a valid, non-expired access token,
// transparently refreshing and re-persisting the stored credential when it
// has expired.
type Manager struct {
	store      store.Store
	codec      *crypt.Codec
	oauth      *oauth2.Config
	httpClient *http.Client
	skew       time.Duration
	now        func() time.Time
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the HTTP client used for refresh calls against the
// provider's token endpoint.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.httpClient = client }
}

// WithExpirySkew overrides the expiry safety margin.
func WithExpirySkew(skew time.Duration) Option {
	return func(m *Manager) { m.skew = skew }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics *instrumentation.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager.
func NewManager(s store.Store, codec *crypt.Codec, oauthConfig *oauth2.Config, opts ...Option) *Manager {
	m := &Manager{
		store:   s,
		codec:   codec,
		oauth:   oauthConfig,
		skew:    DefaultExpirySkew,
		now:     time.Now,
		metrics: &instrumentation.Metrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a valid access token for userID.
//
// If the stored token has not expired (with a safety margin) it is returned
// without any network call. Otherwise the stored refresh token is exchanged
// for a new access token, the record is re-encrypted and upserted, and the
// new token returned. When the provider omits a refresh token on renewal the
// previously stored one is preserved.
func (m *Manager) Token(ctx context.Context, userID string) (string, error) {
	logger := logging.WithOperation(m.logger, "credentials.token")

	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNoCredential, logging.AnonymizeUserID(userID))
	}
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}

	accessToken, err := m.codec.Decrypt(rec.AccessToken)
	if err != nil {
		m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultCorrupt)
		logger.Error("stored access token failed to decrypt",
			logging.UserHash(userID), logging.Err(err))
		return "", fmt.Errorf("decrypt access token: %w", err)
	}

	refreshToken := ""
	if rec.RefreshToken != "" {
		refreshToken, err = m.codec.Decrypt(rec.RefreshToken)
		if err != nil {
			m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultCorrupt)
			logger.Error("stored refresh token failed to decrypt",
				logging.UserHash(userID), logging.Err(err))
			return "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}

	if !m.expired(rec.ExpiresAt) {
		m.metrics.RecordCredentialLookup(ctx, instrumentation.TokenSourceCache)
		return accessToken, nil
	}

	if refreshToken == "" {
		// Nothing to refresh with. Terminal until the user re-authenticates.
		return "", fmt.Errorf("%w: no refresh token stored", ErrReauthRequired)
	}

	newToken, err := m.refresh(ctx, accessToken, refreshToken)
	if err != nil {
		m.recordRefreshFailure(ctx, err)
		logger.Warn("token refresh failed",
			logging.UserHash(userID), logging.Err(err))
		return "", err
	}

	// Providers commonly omit the refresh token on renewal; keep the one we
	// already hold in that case.
	newRefresh := newToken.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	if err := m.persist(ctx, rec, newToken.AccessToken, newRefresh, newToken.Expiry); err != nil {
		m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultTransient)
		return "", err
	}

	m.metrics.RecordCredentialLookup(ctx, instrumentation.TokenSourceRefresh)
	m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultSuccess)
	logger.Info("credential refreshed",
		logging.UserHash(userID),
		slog.Time("expires_at", newToken.Expiry))

	return newToken.AccessToken, nil
}

// TokenSource returns a static token source carrying a valid access token
// for userID, suitable for building Google API clients. The token is
// resolved once; per-request construction keeps it fresh.
func (m *Manager) TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error) {
	accessToken, err := m.Token(ctx, userID)
	if err != nil {
		return nil, err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}), nil
}

// expired reports whether a token expiring at t must be treated as invalid.
func (m *Manager) expired(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	return m.now().Add(m.skew).After(t)
}

// refresh exchanges the refresh token for a new access token at the
// provider's token endpoint. Failures are classified into the package's
// error taxonomy.
func (m *Manager) refresh(ctx context.Context, accessToken, refreshToken string) (*oauth2.Token, error) {
	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	// The token source applies its own validity margin, smaller than ours,
	// and would hand a token back untouched while it still has a few seconds
	// left. The expiry decision was already made; force the round-trip.
	stale := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	}

	newToken, err := m.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}
	return newToken, nil
}

// classifyRefreshError maps a token-endpoint failure onto the package's
// error taxonomy. A definitive rejection of the grant is terminal; anything
// else is worth a retry by the caller.
func classifyRefreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		if retrieveErr.Response != nil {
			code := retrieveErr.Response.StatusCode
			if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
				return fmt.Errorf("%w: %v", ErrReauthRequired, err)
			}
		}
		return fmt.Errorf("%w: %v", ErrTransientRefresh, err)
	}
	// No response from the token endpoint at all: network or timeout.
	return fmt.Errorf("%w: %v", ErrTransientRefresh, err)
}

func (m *Manager) persist(ctx context.Context, rec *store.Record, accessToken, refreshToken string, expiry time.Time) error {
	encAccess, err := m.codec.Encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := m.codec.Encrypt(refreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	updated := *rec
	updated.AccessToken = encAccess
	updated.RefreshToken = encRefresh
	updated.ExpiresAt = expiry

	if err := m.store.Upsert(ctx, &updated); err != nil {
		return fmt.Errorf("persist refreshed credential: %w", err)
	}
	return nil
}

func (m *Manager) recordRefreshFailure(ctx context.Context, err error) {
	switch {
	case errors.Is(err, ErrReauthRequired):
		m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultReauth)
	default:
		m.metrics.RecordTokenRefresh(ctx, instrumentation.RefreshResultTransient)
	}
}
