// Package calendar exposes event CRUD on a connected user's primary
// calendar, authenticated through the credential manager's token sources.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/mailgrant/mailgrant/internal/instrumentation"
	"github.com/mailgrant/mailgrant/internal/logging"
)

const (
	// DefaultListSize is the event page size used when the caller does not
	// ask for one.
	DefaultListSize = 10

	// MaxListSize caps a single listing call.
	MaxListSize = 250

	primaryCalendar = "primary"
)

// TokenProvider yields a valid token source for a user. Satisfied by
// credentials.Manager.
type TokenProvider interface {
	TokenSource(ctx context.Context, userID string) (oauth2.TokenSource, error)
}

// Gateway wraps the Calendar API for connected users.
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

func (g *Gateway) service(ctx context.Context, userID string) (*calendarapi.Service, error) {
	ts, err := g.tokens.TokenSource(ctx, userID)
	if err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, g.clientOpts...)
	svc, err := calendarapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// ListEvents returns upcoming events from the primary calendar, single
// events expanded and ordered by start time. A zero timeMin means now.
func (g *Gateway) ListEvents(ctx context.Context, userID string, maxResults int64, timeMin time.Time) ([]Event, error) {
	if maxResults <= 0 {
		maxResults = DefaultListSize
	}
	if maxResults > MaxListSize {
		maxResults = MaxListSize
	}
	if timeMin.IsZero() {
		timeMin = time.Now()
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := svc.Events.List(primaryCalendar).
		MaxResults(maxResults).
		TimeMin(timeMin.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).Do()
	g.recordCall(ctx, "list_events", start, err)
	if err != nil {
		return nil, mapGoogleError("list events", err)
	}

	events := make([]Event, 0, len(res.Items))
	for _, item := range res.Items {
		events = append(events, fromAPIEvent(item))
	}
	return events, nil
}

// GetEvent fetches a single event by id.
func (g *Gateway) GetEvent(ctx context.Context, userID, eventID string) (*Event, error) {
	if eventID == "" {
		return nil, errors.New("event id is required")
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	item, err := svc.Events.Get(primaryCalendar, eventID).Context(ctx).Do()
	g.recordCall(ctx, "get_event", start, err)
	if err != nil {
		return nil, mapGoogleError("get event", err)
	}

	event := fromAPIEvent(item)
	return &event, nil
}

// CreateEvent creates an event on the primary calendar.
func (g *Gateway) CreateEvent(ctx context.Context, userID string, input *EventInput) (*Event, error) {
	if input.Summary == "" {
		return nil, errors.New("summary is required")
	}
	if input.Start.IsZero() || input.End.IsZero() {
		return nil, errors.New("start and end times are required")
	}
	if !input.End.After(input.Start) {
		return nil, errors.New("end time must be after start time")
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	created, err := svc.Events.Insert(primaryCalendar, toAPIEvent(input)).Context(ctx).Do()
	g.recordCall(ctx, "create_event", start, err)
	if err != nil {
		return nil, mapGoogleError("create event", err)
	}

	g.logger.Info("Calendar event created",
		logging.Operation("calendar_create"),
		logging.UserHash(userID),
		slog.String("event_id", created.Id),
	)

	event := fromAPIEvent(created)
	return &event, nil
}

// UpdateEvent applies the non-zero fields of input to an existing event,
// read-modify-write.
func (g *Gateway) UpdateEvent(ctx context.Context, userID, eventID string, input *EventInput) (*Event, error) {
	if eventID == "" {
		return nil, errors.New("event id is required")
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	existing, err := svc.Events.Get(primaryCalendar, eventID).Context(ctx).Do()
	g.recordCall(ctx, "get_event", start, err)
	if err != nil {
		return nil, mapGoogleError("get event", err)
	}

	if input.Summary != "" {
		existing.Summary = input.Summary
	}
	if input.Description != "" {
		existing.Description = input.Description
	}
	if input.Location != "" {
		existing.Location = input.Location
	}
	if !input.Start.IsZero() {
		existing.Start = &calendarapi.EventDateTime{DateTime: input.Start.UTC().Format(time.RFC3339)}
	}
	if !input.End.IsZero() {
		existing.End = &calendarapi.EventDateTime{DateTime: input.End.UTC().Format(time.RFC3339)}
	}
	if input.Attendees != nil {
		existing.Attendees = toAPIAttendees(input.Attendees)
	}

	start = time.Now()
	updated, err := svc.Events.Update(primaryCalendar, eventID, existing).Context(ctx).Do()
	g.recordCall(ctx, "update_event", start, err)
	if err != nil {
		return nil, mapGoogleError("update event", err)
	}

	event := fromAPIEvent(updated)
	return &event, nil
}

// DeleteEvent removes an event from the primary calendar.
func (g *Gateway) DeleteEvent(ctx context.Context, userID, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}

	svc, err := g.service(ctx, userID)
	if err != nil {
		return err
	}

	start := time.Now()
	err = svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do()
	g.recordCall(ctx, "delete_event", start, err)
	if err != nil {
		return mapGoogleError("delete event", err)
	}

	g.logger.Info("Calendar event deleted",
		logging.Operation("calendar_delete"),
		logging.UserHash(userID),
		slog.String("event_id", eventID),
	)

	return nil
}

func (g *Gateway) recordCall(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	g.metrics.RecordGoogleAPIOperation(ctx, "calendar", operation, status, time.Since(start))
}

func toAPIEvent(input *EventInput) *calendarapi.Event {
	return &calendarapi.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start:       &calendarapi.EventDateTime{DateTime: input.Start.UTC().Format(time.RFC3339)},
		End:         &calendarapi.EventDateTime{DateTime: input.End.UTC().Format(time.RFC3339)},
		Attendees:   toAPIAttendees(input.Attendees),
	}
}

func toAPIAttendees(emails []string) []*calendarapi.EventAttendee {
	if len(emails) == 0 {
		return nil
	}
	attendees := make([]*calendarapi.EventAttendee, 0, len(emails))
	for _, email := range emails {
		attendees = append(attendees, &calendarapi.EventAttendee{Email: email})
	}
	return attendees
}

func fromAPIEvent(item *calendarapi.Event) Event {
	event := Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		HTMLLink:    item.HtmlLink,
		Status:      item.Status,
	}
	event.Start = parseEventTime(item.Start)
	event.End = parseEventTime(item.End)
	for _, attendee := range item.Attendees {
		event.Attendees = append(event.Attendees, attendee.Email)
	}
	return event
}

// parseEventTime handles both timed events (DateTime) and all-day events
// (Date).
func parseEventTime(edt *calendarapi.EventDateTime) time.Time {
	if edt == nil {
		return time.Time{}
	}
	if edt.DateTime != "" {
		if ts, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return ts
		}
	}
	if edt.Date != "" {
		if ts, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return ts
		}
	}
	return time.Time{}
}
