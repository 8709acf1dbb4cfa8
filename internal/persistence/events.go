package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventCancelled EventStatus = "cancelled"
)

type CalendarEvent struct {
	ID              int64       `json:"id"`
	ExternalEventID string      `json:"external_event_id,omitempty"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	MeetLink        string      `json:"meet_link,omitempty"`
	AttendeeEmail   string      `json:"attendee_email,omitempty"`
	AttendeeName    string      `json:"attendee_name,omitempty"`
	ReminderTime    *time.Time  `json:"reminder_time,omitempty"`
	ReminderSent    bool        `json:"reminder_sent"`
	Status          EventStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

const eventColumns = `id, COALESCE(external_event_id, ''), title, COALESCE(description, ''), start_time, end_time,
	COALESCE(meet_link, ''), COALESCE(attendee_email, ''), COALESCE(attendee_name, ''), reminder_time, reminder_sent,
	status, created_at, updated_at`

func scanEvent(scanFn func(dest ...any) error, ev *CalendarEvent) error {
	var reminder sql.NullTime
	var status string
	if err := scanFn(&ev.ID, &ev.ExternalEventID, &ev.Title, &ev.Description, &ev.StartTime, &ev.EndTime,
		&ev.MeetLink, &ev.AttendeeEmail, &ev.AttendeeName, &reminder, &ev.ReminderSent,
		&status, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return err
	}
	ev.Status = EventStatus(status)
	ev.ReminderTime = timePtr(reminder)
	ev.StartTime = ev.StartTime.UTC()
	ev.EndTime = ev.EndTime.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
	return nil
}

// InsertEvent stores ev with status scheduled. EndTime before StartTime is
// rejected by the table constraint.
func (x *Tx) InsertEvent(ctx context.Context, ev CalendarEvent) (CalendarEvent, error) {
	if ev.EndTime.Before(ev.StartTime) {
		return CalendarEvent{}, fmt.Errorf("insert event: end_time %s before start_time %s", ev.EndTime, ev.StartTime)
	}
	now := dbTime(time.Now())
	ev.StartTime = dbTime(ev.StartTime)
	ev.EndTime = dbTime(ev.EndTime)
	res, err := x.tx.ExecContext(ctx, `
		INSERT INTO calendar_events (external_event_id, title, description, start_time, end_time, meet_link,
			attendee_email, attendee_name, reminder_time, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'scheduled', ?, ?);
	`, nullString(ev.ExternalEventID), ev.Title, nullString(ev.Description), ev.StartTime, ev.EndTime,
		nullString(ev.MeetLink), nullString(ev.AttendeeEmail), nullString(ev.AttendeeName), nullTime(ev.ReminderTime), now, now)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("event id: %w", err)
	}
	ev.ID = id
	ev.Status = EventScheduled
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if ev.ReminderTime != nil {
		r := dbTime(*ev.ReminderTime)
		ev.ReminderTime = &r
	}
	return ev, nil
}

func (x *Tx) GetEvent(ctx context.Context, id int64) (CalendarEvent, error) {
	return x.getEvent(ctx, `SELECT `+eventColumns+` FROM calendar_events WHERE id = ?;`, id)
}

// GetEventByExternalID returns the newest local row for a remote event id.
func (x *Tx) GetEventByExternalID(ctx context.Context, externalID string) (CalendarEvent, error) {
	return x.getEvent(ctx, `SELECT `+eventColumns+` FROM calendar_events WHERE external_event_id = ? ORDER BY id DESC LIMIT 1;`, externalID)
}

func (x *Tx) getEvent(ctx context.Context, q string, args ...any) (CalendarEvent, error) {
	var ev CalendarEvent
	if err := scanEvent(x.tx.QueryRowContext(ctx, q, args...).Scan, &ev); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CalendarEvent{}, ErrNotFound
		}
		return CalendarEvent{}, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// ActiveEventCandidates returns (id, title) pairs of scheduled events by id.
func (x *Tx) ActiveEventCandidates(ctx context.Context) ([]Candidate, error) {
	return x.candidates(ctx, `SELECT id, title FROM calendar_events WHERE status = 'scheduled' ORDER BY id ASC;`)
}

// CancelledEventCandidates returns (id, title) pairs of cancelled events,
// newest first.
func (x *Tx) CancelledEventCandidates(ctx context.Context) ([]Candidate, error) {
	return x.candidates(ctx, `SELECT id, title FROM calendar_events WHERE status = 'cancelled' ORDER BY id DESC;`)
}

// CancelEvent moves a scheduled event to cancelled. Cancelled is terminal, so
// an already-cancelled row is left untouched and reported as not changed.
func (x *Tx) CancelEvent(ctx context.Context, id int64) (changed bool, err error) {
	res, err := x.tx.ExecContext(ctx, `
		UPDATE calendar_events SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'scheduled';
	`, dbTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("cancel event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListUpcomingEvents returns scheduled events starting at or after from,
// earliest first, at most limit rows.
func (x *Tx) ListUpcomingEvents(ctx context.Context, from time.Time, limit int) ([]CalendarEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := x.tx.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM calendar_events
		WHERE status = 'scheduled' AND start_time >= ?
		ORDER BY start_time ASC, id ASC
		LIMIT ?;
	`, dbTime(from), limit)
	if err != nil {
		return nil, fmt.Errorf("query upcoming events: %w", err)
	}
	defer rows.Close()

	var out []CalendarEvent
	for rows.Next() {
		var ev CalendarEvent
		if err := scanEvent(rows.Scan, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events rows: %w", err)
	}
	return out, nil
}

// MarkReminderSent flags that the reminder for a local event went out. It
// runs outside any dispatch transaction, from the reminder job.
func (s *Store) MarkReminderSent(ctx context.Context, id int64) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE calendar_events SET reminder_sent = 1, updated_at = ? WHERE id = ?;`, dbTime(time.Now()), id)
		if err != nil {
			return fmt.Errorf("mark reminder sent: %w", err)
		}
		return expectOne(res)
	})
}
