// Package gmail exposes mailbox listing, reading and sending on behalf of a
// connected user. Every call authenticates with a token source obtained from
// the credential manager, so token refresh happens transparently underneath.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/logging"
)

const (
	// DefaultListSize is the page size used when the caller does not ask
	// for one.
	DefaultListSize = 5

	// MaxListSize caps a single listing call at the provider's page limit.
	MaxListSize = 100

	// BodyPreviewLimit bounds the decoded plain-text body returned by Read.
	BodyPreviewLimit = 500
)

// TokenProvider yields a valid token source for a user. Satisfied by
// credentials.Manager.
type TokenProvider interface {
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
}

// Gateway wraps the Gmail API for connected users.
type Gateway struct {
	tokens     TokenProvider
	clientOpts []option.ClientOption
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithClientOptions appends Google API client options, used to point the
// gateway at a fake API server in tests.
func WithClientOptions(opts ...option.ClientOption) GatewayOption {
	return func(g *Gateway) { g.clientOpts = append(g.clientOpts, opts...) }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *instrumentation.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway creates a Gateway backed by the given token provider.
func NewGateway(tokens TokenProvider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		tokens:  tokens,
		metrics: &instrumentation.Metrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// service builds a per-request Gmail service authenticated as userID.
func (g *Gateway) service(ctx context.Context, userID string) (*gmail.Service, error) {
	ts, err := g.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.clientOpts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// List returns up to maxResults message summaries from the user's mailbox.
// maxResults <= 0 falls back to DefaultListSize and is capped at MaxListSize.
func (g *Gateway) List(ctx context.Context, userID string, maxResults int64) ([]MessageSummary, error) {
	if maxResults <= 0 {
		maxResults = DefaultListSize
	}
	if maxResults > MaxListSize {
		maxResults = MaxListSize
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := svc.Users.Messages.List("me").MaxResults(maxResults).Context(ctx).Do()
	g.recordCall(ctx, "list", start, err)
	if err != nil {
		return nil, mapGoogleError("list messages", err)
	}

	summaries := make([]MessageSummary, 0, len(res.Messages))
	for _, m := range res.Messages {
		summaries = append(summaries, MessageSummary{ID: m.Id, ThreadID: m.ThreadId})
	}
	return summaries, nil
}

// Read fetches a single message in full format and extracts the subject,
// sender and a decoded plain-text body preview.
func (g *Gateway) Read(ctx context.Context, userID, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, errors.New("message id is required")
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	msg, err := svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	g.recordCall(ctx, "read", start, err)
	if err != nil {
		return nil, mapGoogleError("read message", err)
	}

	out := &Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Subject:  headerValue(msg, "Subject"),
		From:     headerValue(msg, "From"),
		Snippet:  msg.Snippet,
	}

	body, err := extractPlainText(msg.Payload)
	if err != nil {
		g.logger.Warn("Message body could not be decoded",
			logging.Operation("gmail_read"),
			logging.Err(err),
		)
	}
	out.Body = truncatePreview(body)

	return out, nil
}

// Send builds an RFC 2822 message from the draft and sends it as the user.
func (g *Gateway) Send(ctx context.Context, userID string, draft *Draft) (*SendReceipt, error) {
	if len(draft.To) == 0 {
		return nil, errors.New("at least one recipient is required")
	}
	if draft.Subject == "" {
		return nil, errors.New("subject is required")
	}
	if draft.Body == "" {
		return nil, errors.New("body is required")
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw := base64.URLEncoding.EncodeToString([]byte(buildRFC2822(draft)))

	start := time.Now()
	sent, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	g.recordCall(ctx, "send", start, err)
	if err != nil {
		return nil, mapGoogleError("send message", err)
	}

	g.logger.Info("Email sent",
		logging.Operation("gmail_send"),
		logging.UserHash(userID),
		slog.String("message_id", sent.Id),
	)

	return &SendReceipt{MessageID: sent.Id, ThreadID: sent.ThreadId, Status: "sent"}, nil
}

func (g *Gateway) recordCall(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.RecordGoogleAPIOperation(ctx, "gmail", operation, status, time.Since(start))
}

// buildRFC2822 renders the draft as a plain-text RFC 2822 message.
func buildRFC2822(draft *Draft) string {
	var b strings.Builder

	b.WriteString("To: ")
	b.WriteString(strings.Join(draft.To, ", "))
	b.WriteString("\r\n")

	if len(draft.Cc) > 0 {
		b.WriteString("Cc: ")
		b.WriteString(strings.Join(draft.Cc, ", "))
		b.WriteString("\r\n")
	}

	if len(draft.Bcc) > 0 {
		b.WriteString("Bcc: ")
		b.WriteString(strings.Join(draft.Bcc, ", "))
		b.WriteString("\r\n")
	}

	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(draft.Subject))
	b.WriteString("\r\n")

	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("\r\n")
	b.WriteString(draft.Body)

	return b.String()
}

// encodeRFC2047 encodes a header value per RFC 2047 when it contains
// non-ASCII characters (umlauts and the like).
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// truncatePreview caps the body at BodyPreviewLimit bytes without cutting a
// UTF-8 sequence in half.
func truncatePreview(body string) string {
	if len(body) <= BodyPreviewLimit {
		return body
	}
	cut := BodyPreviewLimit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}

// headerValue returns the value of the named header from the message payload.
func headerValue(m *gmail.Message, header string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, header) {
			return h.Value
		}
	}
	return ""
}

// extractPlainText finds the first text/plain part in the payload, walking
// nested multipart parts, and decodes its base64url body.
func extractPlainText(payload *gmail.MessagePart) (string, error) {
	var data string
	walkParts(payload, func(part *gmail.MessagePart) {
		if data == "" && part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
			data = part.Body.Data
		}
	})
	if data == "" {
		return "", nil
	}
	return decodeBody(data)
}

// decodeBody decodes Gmail's base64url body data, falling back to standard
// base64 for payloads produced by other mailers.
func decodeBody(data string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(data)
		if err != nil {
			return "", fmt.Errorf("decode message body: %w", err)
		}
	}
	return string(decoded), nil
}

// walkParts recursively visits every part of a message payload.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}
