package calendar

import "time"

// Event is a calendar event on the user's primary calendar.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
	HTMLLink    string    `json:"html_link,omitempty"`
	Status      string    `json:"status,omitempty"`
}

// EventInput carries the writable fields for creating or updating an event.
// On update, zero-valued fields leave the stored value untouched.
type EventInput struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
}
