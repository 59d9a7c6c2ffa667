package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mailgrant/mailgrant/internal/calendar"
	"github.com/mailgrant/mailgrant/internal/credentials"
	"github.com/mailgrant/mailgrant/internal/crypt"
	"github.com/mailgrant/mailgrant/internal/gmail"
	"github.com/mailgrant/mailgrant/internal/googleauth"
	"github.com/mailgrant/mailgrant/internal/logging"
)

// errorResponse is the JSON shape of every error the server returns.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encoding response failed", logging.Err(err))
	}
}

// writeError maps domain errors onto HTTP statuses. Unknown errors become a
// 500 without leaking internals to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var kind string

	switch {
	case errors.Is(err, credentials.ErrNoCredential):
		status, kind = http.StatusUnauthorized, "no_credential"
	case errors.Is(err, credentials.ErrReauthRequired):
		status, kind = http.StatusUnauthorized, "reauth_required"
	case errors.Is(err, credentials.ErrTransientRefresh):
		status, kind = http.StatusServiceUnavailable, "refresh_unavailable"
	case errors.Is(err, crypt.ErrCorruptCredential):
		status, kind = http.StatusInternalServerError, "corrupt_credential"
	case errors.Is(err, googleauth.ErrInvalidState):
		status, kind = http.StatusBadRequest, "invalid_state"
	case errors.Is(err, googleauth.ErrExchange):
		status, kind = http.StatusBadGateway, "exchange_failed"
	case errors.Is(err, gmail.ErrMessageNotFound), errors.Is(err, calendar.ErrEventNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, gmail.ErrPermissionDenied), errors.Is(err, calendar.ErrPermissionDenied):
		status, kind = http.StatusForbidden, "permission_denied"
	case errors.Is(err, gmail.ErrRateLimited), errors.Is(err, calendar.ErrRateLimited):
		status, kind = http.StatusTooManyRequests, "rate_limited"
	default:
		status, kind = http.StatusInternalServerError, "internal"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			logging.Err(err),
		)
		if kind == "internal" {
			s.writeJSON(w, status, errorResponse{Error: kind, Message: "internal error"})
			return
		}
	}

	s.writeJSON(w, status, errorResponse{Error: kind, Message: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: message})
}

func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.badRequest(w, "user_id query parameter is required")
		return
	}

	authURL, err := s.flow.Begin(userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		s.badRequest(w, "state and code query parameters are required")
		return
	}

	rec, err := s.flow.Complete(r.Context(), state, code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "connected",
		"user_id": rec.UserID,
	})
}

func (s *Server) handleEmailList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		s.badRequest(w, "user_id query parameter is required")
		return
	}

	var maxResults int64
	if raw := q.Get("max_results"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.badRequest(w, "max_results must be a non-negative integer")
			return
		}
		maxResults = parsed
	}

	summaries, err := s.email.List(r.Context(), userID, maxResults)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"messages": summaries})
}

func (s *Server) handleEmailRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	messageID := q.Get("message_id")
	if userID == "" || messageID == "" {
		s.badRequest(w, "user_id and message_id query parameters are required")
		return
	}

	msg, err := s.email.Read(r.Context(), userID, messageID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, msg)
}

type sendRequest struct {
	UserID  string   `json:"user_id"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (s *Server) handleEmailSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.badRequest(w, "user_id is required")
		return
	}
	if len(req.To) == 0 || req.Subject == "" || req.Body == "" {
		s.badRequest(w, "to, subject, and body are required")
		return
	}

	receipt, err := s.email.Send(r.Context(), req.UserID, &gmail.Draft{
		To:      req.To,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleCalendarList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		s.badRequest(w, "user_id query parameter is required")
		return
	}

	var maxResults int64
	if raw := q.Get("max_results"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.badRequest(w, "max_results must be a non-negative integer")
			return
		}
		maxResults = parsed
	}

	var timeMin time.Time
	if raw := q.Get("time_min"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.badRequest(w, "time_min must be an RFC 3339 timestamp")
			return
		}
		timeMin = parsed
	}

	events, err := s.calendar.ListEvents(r.Context(), userID, maxResults, timeMin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCalendarGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	eventID := q.Get("event_id")
	if userID == "" || eventID == "" {
		s.badRequest(w, "user_id and event_id query parameters are required")
		return
	}

	event, err := s.calendar.GetEvent(r.Context(), userID, eventID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

type calendarEventRequest struct {
	UserID  string               `json:"user_id"`
	EventID string               `json:"event_id,omitempty"`
	Event   *calendar.EventInput `json:"event"`
}

func (s *Server) handleCalendarCreate(w http.ResponseWriter, r *http.Request) {
	var req calendarEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Event == nil {
		s.badRequest(w, "user_id and event are required")
		return
	}

	event, err := s.calendar.CreateEvent(r.Context(), req.UserID, req.Event)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleCalendarUpdate(w http.ResponseWriter, r *http.Request) {
	var req calendarEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.EventID == "" || req.Event == nil {
		s.badRequest(w, "user_id, event_id, and event are required")
		return
	}

	event, err := s.calendar.UpdateEvent(r.Context(), req.UserID, req.EventID, req.Event)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleCalendarDelete(w http.ResponseWriter, r *http.Request) {
	var req calendarEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.EventID == "" {
		s.badRequest(w, "user_id and event_id are required")
		return
	}

	if err := s.calendar.DeleteEvent(r.Context(), req.UserID, req.EventID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type revokeRequest struct {
	UserID string `json:"user_id"`
}

// handleAdminRevoke removes a user's stored credential. Administrative; the
// refresh lifecycle itself never deletes records.
func (s *Server) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		s.badRequest(w, "user_id is required")
		return
	}

	if err := s.store.Delete(r.Context(), req.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("credential revoked",
		logging.Operation("admin_revoke"),
		logging.UserHash(req.UserID),
	)

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
