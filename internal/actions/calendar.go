package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basket/asis/internal/calendar"
	"github.com/basket/asis/internal/meeting"
	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/shared"
)

// startFrom reads start_time, or date plus time. defaultClock fills a
// missing time when a date is given; "" makes time mandatory.
func (d *Dispatcher) startFrom(a Args, defaultClock string) (time.Time, bool, error) {
	if s := a.Text("start_time"); s != "" {
		t, err := ParseTime(s, d.loc)
		return t, true, err
	}
	date := a.Text("date")
	if date == "" {
		return time.Time{}, false, nil
	}
	clock := a.Text("time")
	if clock == "" {
		clock = defaultClock
	}
	if clock == "" {
		return time.Time{}, false, nil
	}
	t, err := ParseTime(date+" "+clock, d.loc)
	return t, true, err
}

func (d *Dispatcher) endFrom(a Args) (time.Time, error) {
	s := a.Text("end_time")
	if s == "" {
		return time.Time{}, nil
	}
	t, err := ParseTime(s, d.loc)
	if err != nil {
		return time.Time{}, shared.Validation("Ora de sfârșit nu este validă: %s.", s)
	}
	return t, nil
}

func reminderLead(a Args) time.Duration {
	if m, ok := a.Float("reminder_minutes"); ok && m > 0 {
		return time.Duration(m * float64(time.Minute))
	}
	if h, ok := a.Float("reminder_hours"); ok && h > 0 {
		return time.Duration(h * float64(time.Hour))
	}
	return 0
}

func (d *Dispatcher) scheduleMeeting(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	a := p.Args()
	start, found, err := d.startFrom(a, "")
	if !found || err != nil {
		return Result{}, shared.Validation("Nu am putut determina data și ora întâlnirii.")
	}
	end, err := d.endFrom(a)
	if err != nil {
		return Result{}, err
	}

	out, err := d.meetings.Schedule(ctx, tx, meeting.Request{
		Title:         a.Text("title"),
		Description:   a.Text("description"),
		Start:         start,
		End:           end,
		Duration:      time.Duration(a.Int("duration_minutes", 0)) * time.Minute,
		AttendeeEmail: a.Text("attendee_email"),
		AttendeeName:  a.Text("attendee_name"),
		ReminderLead:  reminderLead(a),
	})
	if err != nil {
		return Result{}, err
	}

	ev := out.Event
	r := success(string(ScheduleMeeting), fmt.Sprintf("Întâlnirea '%s' a fost programată cu succes. Link Google Meet: %s", ev.Title, ev.MeetLink)).
		With("event_id", ev.ID).
		With("external_event_id", ev.ExternalEventID).
		With("meet_link", ev.MeetLink).
		With("event_link", out.EventLink).
		With("title", ev.Title).
		With("start_time", d.formatTime(ev.StartTime)).
		With("end_time", d.formatTime(ev.EndTime)).
		With("attendee", emptyToNil(ev.AttendeeEmail)).
		With("reminder_time", d.formatTimePtr(ev.ReminderTime)).
		With("reminder_scheduled", out.ReminderScheduled).
		With("reminder_jobs", out.ReminderJobs)
	if len(out.NotificationErrors) > 0 {
		r = r.With("notification_errors", out.NotificationErrors)
	}
	return r, nil
}

// addCalendarEvent creates a plain remote event (no Meet link, no
// invitations). Without a configured calendar the event is kept locally.
func (d *Dispatcher) addCalendarEvent(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	a := p.Args()
	start, found, err := d.startFrom(a, "09:00")
	if !found || err != nil {
		return Result{}, shared.Validation("Nu am putut determina data evenimentului.")
	}
	end, err := d.endFrom(a)
	if err != nil {
		return Result{}, err
	}
	if end.IsZero() {
		minutes := a.Int("duration_minutes", 60)
		if minutes <= 0 {
			minutes = 60
		}
		end = start.Add(time.Duration(minutes) * time.Minute)
	}
	if end.Before(start) {
		return Result{}, shared.Validation("Ora de sfârșit trebuie să fie după ora de început.")
	}
	title := a.Text("title")
	if title == "" {
		title = "Eveniment"
	}
	description := a.Text("description")

	var created calendar.Created
	err = d.observe.Call(ctx, "calendar", "create_event", func(ctx context.Context) error {
		var err error
		created, err = d.calendar.CreateEvent(ctx, calendar.EventRequest{
			Title:       title,
			Description: description,
			Start:       start,
			End:         end,
		})
		return err
	})
	localOnly := errors.Is(err, calendar.ErrNotConfigured)
	if err != nil && !localOnly {
		return Result{}, shared.External("Adăugarea evenimentului în calendar a eșuat", err)
	}

	ev, err := tx.InsertEvent(ctx, persistence.CalendarEvent{
		ExternalEventID: created.EventID,
		Title:           title,
		Description:     description,
		StartTime:       start,
		EndTime:         end,
	})
	if err != nil {
		return Result{}, err
	}

	msg := fmt.Sprintf("Evenimentul '%s' a fost adăugat în calendar.", title)
	if localOnly {
		msg = fmt.Sprintf("Evenimentul '%s' a fost salvat local (calendarul nu este configurat).", title)
	}
	return success(string(AddCalendarEvent), msg).
		With("event_id", ev.ID).
		With("external_event_id", emptyToNil(ev.ExternalEventID)).
		With("event_link", emptyToNil(created.EventLink)).
		With("title", title).
		With("start_time", d.formatTime(ev.StartTime)).
		With("end_time", d.formatTime(ev.EndTime)).
		With("local_only", localOnly), nil
}

func (d *Dispatcher) listCalendarEvents(ctx context.Context, tx *persistence.Tx, _ Payload) (Result, error) {
	events, source, err := d.meetings.ListUpcoming(ctx, tx)
	if err != nil {
		return Result{}, err
	}
	list := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		m := map[string]any{
			"title":     ev.Title,
			"start":     d.formatTime(ev.Start),
			"end":       d.formatTime(ev.End),
			"meet_link": emptyToNil(ev.MeetLink),
		}
		if ev.ID > 0 {
			m["id"] = ev.ID
		}
		if ev.ExternalEventID != "" {
			m["external_event_id"] = ev.ExternalEventID
		}
		if ev.AttendeeEmail != "" {
			m["attendee"] = ev.AttendeeEmail
		}
		if ev.AllDay {
			m["all_day"] = true
		}
		list = append(list, m)
	}
	msg := fmt.Sprintf("Ai %d evenimente programate.", len(list))
	if len(list) == 0 {
		msg = "Nu ai evenimente programate."
	}
	return success(string(ListCalendarEvents), msg).
		With("count", len(list)).
		With("events", list).
		With("source", source), nil
}

func (d *Dispatcher) cancelCalendarEvent(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error) {
	a := p.Args()
	out, err := d.meetings.Cancel(ctx, tx, meeting.CancelRequest{
		EventID:    a.ID("event_id", "id"),
		ExternalID: a.Text("google_event_id", "external_event_id"),
		Title:      a.Text("title"),
	})
	if err != nil {
		return Result{}, err
	}

	name := out.ExternalEventID
	var eventID any
	if out.Event != nil {
		name = out.Event.Title
		eventID = out.Event.ID
	}
	msg := fmt.Sprintf("Evenimentul '%s' a fost anulat.", name)
	if out.AlreadyCancelled {
		msg = fmt.Sprintf("Evenimentul '%s' era deja anulat.", name)
	}
	return success(string(CancelCalendarEvent), msg).
		With("event_id", eventID).
		With("external_event_id", emptyToNil(out.ExternalEventID)).
		With("reminders_cancelled", out.JobsCancelled).
		With("already_cancelled", out.AlreadyCancelled), nil
}
