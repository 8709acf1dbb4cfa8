// Package calendar is the remote calendar collaborator: a Google Calendar
// REST client and a stub used when no credentials are configured.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned by every operation of Unconfigured.
var ErrNotConfigured = errors.New("calendar: not configured")

// EventRequest describes an event to create remotely.
type EventRequest struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
	// Notify asks the provider to email invitations to attendees.
	Notify bool
	// WithMeet requests a Google Meet conference link.
	WithMeet bool
	// ReminderLeadMinutes sets provider-side popup/email reminders; 0 keeps
	// the calendar defaults.
	ReminderLeadMinutes int
}

// Created is what the provider returns for a new event.
type Created struct {
	EventID   string `json:"event_id"`
	MeetLink  string `json:"meet_link,omitempty"`
	EventLink string `json:"event_link,omitempty"`
}

// Event is an upcoming remote event.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	MeetLink    string    `json:"meet_link,omitempty"`
	EventLink   string    `json:"event_link,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
}

// Calendar is the remote calendar used by the meeting scheduler and the
// calendar intents.
type Calendar interface {
	CreateEvent(ctx context.Context, req EventRequest) (Created, error)
	ListUpcoming(ctx context.Context, max int) ([]Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Unconfigured fails every call with ErrNotConfigured.
type Unconfigured struct{}

func (Unconfigured) CreateEvent(context.Context, EventRequest) (Created, error) {
	return Created{}, ErrNotConfigured
}

func (Unconfigured) ListUpcoming(context.Context, int) ([]Event, error) {
	return nil, ErrNotConfigured
}

func (Unconfigured) DeleteEvent(context.Context, string) error {
	return ErrNotConfigured
}
