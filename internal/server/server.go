// Package server exposes the HTTP surface: the OAuth login and callback
// routes, the email and calendar routes, administrative revocation and the
// health endpoints. All responses are JSON.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mailgrant/mailgrant/internal/calendar"
	"github.com/mailgrant/mailgrant/internal/gmail"
	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/store"
)

const (
	// DefaultReadHeaderTimeout bounds how long a client may take to send
	// request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a single response, including the upstream
	// Google call it may trigger.
	DefaultWriteTimeout = 30 * time.Second

	// DefaultIdleTimeout closes idle keep-alive connections.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultShutdownTimeout is the grace period for in-flight requests on
	// shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// AuthFlow is the slice of the OAuth flow the server needs.
type AuthFlow interface {
	Begin(userID string) (string, error)
	Complete(ctx context.Context, state, code string) (*store.Record, error)
}

// EmailGateway is the slice of the Gmail gateway the server needs.
type EmailGateway interface {
	List(ctx context.Context, userID string, maxResults int64) ([]gmail.MessageSummary, error)
	Read(ctx context.Context, userID, messageID string) (*gmail.Message, error)
	Send(ctx context.Context, userID string, draft *gmail.Draft) (*gmail.SendReceipt, error)
}

// CalendarGateway is the slice of the Calendar gateway the server needs.
type CalendarGateway interface {
	ListEvents(ctx context.Context, userID string, maxResults int64, timeMin time.Time) ([]calendar.Event, error)
	GetEvent(ctx context.Context, userID, eventID string) (*calendar.Event, error)
	CreateEvent(ctx context.Context, userID string, input *calendar.EventInput) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, userID, eventID string, input *calendar.EventInput) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, userID, eventID string) error
}

// Config carries the server's collaborators.
type Config struct {
	Addr     string
	Flow     AuthFlow
	Email    EmailGateway
	Calendar CalendarGateway
	Store    store.Store
	Metrics  *instrumentation.Metrics
	Logger   *slog.Logger
}

// Server is the main HTTP server.
type Server struct {
	httpServer *http.Server
	health     *HealthChecker
	flow       AuthFlow
	email      EmailGateway
	calendar   CalendarGateway
	store      store.Store
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// New creates the server and wires up its routes.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = &instrumentation.Metrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		health:   NewHealthChecker(),
		flow:     cfg.Flow,
		email:    cfg.Email,
		calendar: cfg.Calendar,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	return s
}

// Handler builds the route table wrapped in the middleware stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/login", s.handleAuthLogin)
	mux.HandleFunc("GET /auth/callback", s.handleAuthCallback)

	mux.HandleFunc("GET /email/list", s.handleEmailList)
	mux.HandleFunc("GET /email/read", s.handleEmailRead)
	mux.HandleFunc("POST /email/send", s.handleEmailSend)

	mux.HandleFunc("GET /calendar/events", s.handleCalendarList)
	mux.HandleFunc("GET /calendar/events/get", s.handleCalendarGet)
	mux.HandleFunc("POST /calendar/events/create", s.handleCalendarCreate)
	mux.HandleFunc("POST /calendar/events/update", s.handleCalendarUpdate)
	mux.HandleFunc("POST /calendar/events/delete", s.handleCalendarDelete)

	mux.HandleFunc("POST /admin/revoke", s.handleAdminRevoke)

	mux.Handle("GET /healthz", s.health.LivenessHandler())
	mux.Handle("GET /readyz", s.health.ReadinessHandler())

	return s.securityHeaders(s.instrument(mux))
}

// Health exposes the readiness toggle for lifecycle wiring.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Start serves until the listener closes. Blocking.
func (s *Server) Start() error {
	s.logger.Info("starting http server", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// securityHeaders sets the baseline response headers on every route.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// instrument records request counts and latency per method and path.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
