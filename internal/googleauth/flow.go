// Package googleauth implements the Google authorization code flow: it hands
// out consent URLs, validates the callback, and stores the first encrypted
// credential record for a user.
package googleauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/mailgrant/mailgrant/internal/crypt"
	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/logging"
	"github.com/mailgrant/mailgrant/internal/store"
)

var (
	// ErrInvalidState indicates the callback carried a state parameter we
	// never issued, already consumed, or let expire.
	ErrInvalidState = errors.New("invalid or expired authorization state")

	// ErrExchange indicates Google rejected the authorization code.
	ErrExchange = errors.New("authorization code exchange failed")
)

// Scopes requested during authorization.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
	calendar.CalendarScope,
}

// NewOAuthConfig builds the Google OAuth2 configuration used by both the
// authorization flow and the credential manager.
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
}

// Flow drives the authorization code flow for one OAuth client.
type Flow struct {
	oauth      *oauth2.Config
	states     *StateStore
	store      store.Store
	codec      *crypt.Codec
	httpClient *http.Client
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// FlowOption customizes a Flow.
type FlowOption func(*Flow)

// WithFlowHTTPClient routes the code exchange through the given client.
func WithFlowHTTPClient(client *http.Client) FlowOption {
	return func(f *Flow) { f.httpClient = client }
}

// WithFlowMetrics attaches a metrics recorder.
func WithFlowMetrics(m *instrumentation.Metrics) FlowOption {
	return func(f *Flow) { f.metrics = m }
}

// WithFlowLogger attaches a logger.
func WithFlowLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) { f.logger = logger }
}

// WithStateStore substitutes the pending-state store.
func WithStateStore(states *StateStore) FlowOption {
	return func(f *Flow) { f.states = states }
}

// NewFlow creates an authorization flow backed by the given credential store
// and codec.
func NewFlow(s store.Store, codec *crypt.Codec, oauthConfig *oauth2.Config, opts ...FlowOption) *Flow {
	f := &Flow{
		oauth:   oauthConfig,
		store:   s,
		codec:   codec,
		metrics: &instrumentation.Metrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.states == nil {
		f.states = NewStateStore(DefaultStateTTL, f.logger)
	}
	return f
}

// Begin starts the flow for a user and returns the Google consent URL to
// redirect them to. access_type=offline plus prompt=consent forces Google to
// issue a refresh token even when the user already granted access.
func (f *Flow) Begin(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}

	state := uuid.NewString()
	f.states.Put(state, userID)

	url := f.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	f.logger.Info("Authorization flow started",
		logging.Operation("oauth_begin"),
		logging.UserHash(userID),
	)

	return url, nil
}

// Complete finishes the flow: it validates the callback state, exchanges the
// authorization code, encrypts both tokens and stores the user's first
// credential record. The state is consumed whether or not the exchange
// succeeds, so a failed callback cannot be replayed.
func (f *Flow) Complete(ctx context.Context, state, code string) (*store.Record, error) {
	userID, ok := f.states.Consume(state)
	if !ok {
		f.metrics.RecordOAuthFlow(ctx, "failure")
		return nil, ErrInvalidState
	}

	logger := f.logger.With(logging.Operation("oauth_complete"), logging.UserHash(userID))

	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		f.metrics.RecordOAuthFlow(ctx, "failure")
		logger.Error("Code exchange rejected", logging.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}

	encAccess, err := f.codec.Encrypt(token.AccessToken)
	if err != nil {
		f.metrics.RecordOAuthFlow(ctx, "failure")
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}

	encRefresh := ""
	if token.RefreshToken != "" {
		encRefresh, err = f.codec.Encrypt(token.RefreshToken)
		if err != nil {
			f.metrics.RecordOAuthFlow(ctx, "failure")
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	rec := &store.Record{
		UserID:       userID,
		AccessToken:  encAccess,
		RefreshToken: encRefresh,
		ExpiresAt:    token.Expiry,
		Scopes:       f.oauth.Scopes,
	}
	if err := f.store.Upsert(ctx, rec); err != nil {
		f.metrics.RecordOAuthFlow(ctx, "failure")
		return nil, fmt.Errorf("store credential: %w", err)
	}

	f.metrics.RecordOAuthFlow(ctx, "success")
	logger.Info("Authorization flow completed",
		logging.Status("success"),
		slog.Bool("refresh_token_issued", token.RefreshToken != ""),
	)

	return rec, nil
}
