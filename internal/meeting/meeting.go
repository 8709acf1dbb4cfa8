// Package meeting turns a meeting request into a remote calendar event, a
// local row, notification emails and per-recipient reminder jobs, and undoes
// that on cancellation.
package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/asis/internal/bus"
	"github.com/basket/asis/internal/calendar"
	"github.com/basket/asis/internal/cron"
	"github.com/basket/asis/internal/mail"
	"github.com/basket/asis/internal/otel"
	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/resolve"
	"github.com/basket/asis/internal/shared"
)

const (
	DefaultDuration     = 60 * time.Minute
	DefaultReminderLead = time.Hour
	upcomingPageSize    = 10

	RoleOwner    = "owner"
	RoleAttendee = "attendee"
)

// Jobs is the deferred job primitive reminders are registered with.
type Jobs interface {
	ScheduleAt(at time.Time, jobID string, work cron.Work)
	Cancel(jobID string) bool
}

type Config struct {
	Calendar calendar.Calendar
	Mail     mail.Sender
	Jobs     Jobs
	// Store is used by reminder jobs, which run outside any dispatch
	// transaction.
	Store     *persistence.Store
	Bus       *bus.Bus
	Logger    *slog.Logger
	Location  *time.Location
	Organizer string
	// ReminderLead applies when a request does not set its own.
	ReminderLead time.Duration
	Metrics      *otel.Metrics
	Observe      otel.Instrumentation
	Now          func() time.Time
}

type Scheduler struct {
	cal       calendar.Calendar
	mail      mail.Sender
	jobs      Jobs
	store     *persistence.Store
	bus       *bus.Bus
	logger    *slog.Logger
	loc       *time.Location
	organizer string
	lead      time.Duration
	metrics   *otel.Metrics
	observe   otel.Instrumentation
	now       func() time.Time
}

func New(cfg Config) *Scheduler {
	s := &Scheduler{
		cal:       cfg.Calendar,
		mail:      cfg.Mail,
		jobs:      cfg.Jobs,
		store:     cfg.Store,
		bus:       cfg.Bus,
		logger:    cfg.Logger,
		loc:       cfg.Location,
		organizer: strings.TrimSpace(cfg.Organizer),
		lead:      cfg.ReminderLead,
		metrics:   cfg.Metrics,
		observe:   cfg.Observe,
		now:       cfg.Now,
	}
	if s.cal == nil {
		s.cal = calendar.Unconfigured{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.lead <= 0 {
		s.lead = DefaultReminderLead
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Request describes a meeting to schedule. End wins over Duration; with
// neither the meeting lasts DefaultDuration.
type Request struct {
	Title         string
	Description   string
	Start         time.Time
	End           time.Time
	Duration      time.Duration
	AttendeeEmail string
	AttendeeName  string
	ReminderLead  time.Duration
}

// Scheduled is the outcome of a successful Schedule call. Notification
// failures are reported but do not make the call fail.
type Scheduled struct {
	Event              persistence.CalendarEvent
	EventLink          string
	ReminderScheduled  bool
	ReminderJobs       []string
	NotificationErrors []string
}

// ReminderJobID is the deferred job id for one recipient role of a remote
// event.
func ReminderJobID(externalID, role string) string {
	return fmt.Sprintf("reminder_%s_%s", externalID, role)
}

// Schedule runs the meeting workflow inside tx. Each step gates the next:
// validation, remote creation, local row, best-effort emails, reminders.
func (s *Scheduler) Schedule(ctx context.Context, tx *persistence.Tx, req Request) (Scheduled, error) {
	now := s.now()
	if !req.Start.After(now) {
		return Scheduled{}, shared.Validation("Data întâlnirii trebuie să fie în viitor.")
	}
	attendee := strings.TrimSpace(req.AttendeeEmail)
	if attendee != "" && !mail.ValidateAddress(attendee) {
		return Scheduled{}, shared.Validation("Adresa de email nu este validă.")
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Întâlnire"
	}

	end := req.End
	if end.IsZero() {
		d := req.Duration
		if d <= 0 {
			d = DefaultDuration
		}
		end = req.Start.Add(d)
	}
	if end.Before(req.Start) {
		return Scheduled{}, shared.Validation("Ora de sfârșit trebuie să fie după ora de început.")
	}
	lead := req.ReminderLead
	if lead <= 0 {
		lead = s.lead
	}

	var attendees []string
	if s.organizer != "" {
		attendees = append(attendees, s.organizer)
	}
	if attendee != "" && !strings.EqualFold(attendee, s.organizer) {
		attendees = append(attendees, attendee)
	}

	actionID, err := tx.BeginAction(ctx, "schedule_meeting", attendee, fmt.Sprintf("Meeting: %s", title))
	if err != nil {
		return Scheduled{}, err
	}

	var created calendar.Created
	err = s.observe.Call(ctx, "calendar", "create_event", func(ctx context.Context) error {
		var err error
		created, err = s.cal.CreateEvent(ctx, calendar.EventRequest{
			Title:               title,
			Description:         req.Description,
			Start:               req.Start,
			End:                 end,
			Attendees:           attendees,
			Notify:              true,
			WithMeet:            true,
			ReminderLeadMinutes: int(lead / time.Minute),
		})
		return err
	})
	if err != nil {
		if ferr := tx.FinishAction(ctx, actionID, persistence.ActionFailed, err.Error()); ferr != nil {
			return Scheduled{}, ferr
		}
		return Scheduled{}, shared.External("Crearea întâlnirii în calendar a eșuat", err)
	}

	reminderAt := req.Start.Add(-lead)
	remind := reminderAt.After(now)
	row := persistence.CalendarEvent{
		ExternalEventID: created.EventID,
		Title:           title,
		Description:     req.Description,
		StartTime:       req.Start,
		EndTime:         end,
		MeetLink:        created.MeetLink,
		AttendeeEmail:   attendee,
		AttendeeName:    strings.TrimSpace(req.AttendeeName),
	}
	if remind {
		row.ReminderTime = &reminderAt
	}
	row, err = tx.InsertEvent(ctx, row)
	if err != nil {
		s.discardRemote(ctx, created.EventID)
		return Scheduled{}, fmt.Errorf("persist meeting: %w", err)
	}

	if err := tx.FinishAction(ctx, actionID, persistence.ActionCompleted, "meet: "+created.MeetLink); err != nil {
		s.discardRemote(ctx, created.EventID)
		return Scheduled{}, err
	}

	out := Scheduled{Event: row, EventLink: created.EventLink}
	for _, n := range s.notifications(row) {
		if err := s.notify(ctx, tx, n); err != nil {
			if !isBestEffort(err) {
				s.discardRemote(ctx, created.EventID)
				return Scheduled{}, err
			}
			out.NotificationErrors = append(out.NotificationErrors, fmt.Sprintf("%s: %v", n.to, err))
		}
	}

	if remind {
		out.ReminderJobs = s.scheduleReminders(tx, row, reminderAt, lead)
		out.ReminderScheduled = len(out.ReminderJobs) > 0
	} else {
		s.logger.InfoContext(ctx, "meeting too soon for a reminder",
			"event_id", row.ID, "start", row.StartTime.In(s.loc), "lead", lead.String())
	}

	s.bus.Publish(bus.TopicMeetingScheduled, bus.MeetingEvent{
		EventID:         row.ID,
		ExternalEventID: row.ExternalEventID,
		Title:           row.Title,
		StartTime:       row.StartTime,
		MeetLink:        row.MeetLink,
		RemindersQueued: len(out.ReminderJobs),
	})
	s.logger.InfoContext(ctx, "meeting scheduled",
		"event_id", row.ID, "external_event_id", row.ExternalEventID,
		"reminders", len(out.ReminderJobs), "notification_errors", len(out.NotificationErrors))
	return out, nil
}

// discardRemote removes a remote event whose local row could not be written.
func (s *Scheduler) discardRemote(ctx context.Context, externalID string) {
	if externalID == "" {
		return
	}
	err := s.observe.Call(ctx, "calendar", "delete_event", func(ctx context.Context) error {
		return s.cal.DeleteEvent(ctx, externalID)
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "orphaned remote event", "external_event_id", externalID, "error", err)
	}
}

type recipient struct {
	email string
	role  string
}

// recipients lists the distinct reminder addresses: organizer, then the
// attendee when it differs.
func (s *Scheduler) recipients(ev persistence.CalendarEvent) []recipient {
	var out []recipient
	if s.organizer != "" {
		out = append(out, recipient{email: s.organizer, role: RoleOwner})
	}
	if ev.AttendeeEmail != "" && !strings.EqualFold(ev.AttendeeEmail, s.organizer) {
		out = append(out, recipient{email: ev.AttendeeEmail, role: RoleAttendee})
	}
	return out
}

func (s *Scheduler) jobKey(ev persistence.CalendarEvent) string {
	if ev.ExternalEventID != "" {
		return ev.ExternalEventID
	}
	return fmt.Sprintf("local-%d", ev.ID)
}

// scheduleReminders returns the job ids for ev and registers the jobs once tx
// commits, so a rolled-back row never gets reminders.
func (s *Scheduler) scheduleReminders(tx *persistence.Tx, ev persistence.CalendarEvent, at time.Time, lead time.Duration) []string {
	if s.jobs == nil {
		return nil
	}
	var ids []string
	for _, r := range s.recipients(ev) {
		id := ReminderJobID(s.jobKey(ev), r.role)
		work := s.reminderWork(id, ev, r, lead)
		tx.AfterCommit(func() {
			s.jobs.ScheduleAt(at, id, work)
			if s.metrics != nil {
				s.metrics.RemindersScheduled.Add(context.Background(), 1)
				s.metrics.PendingJobs.Add(context.Background(), 1)
			}
		})
		ids = append(ids, id)
	}
	return ids
}

// CancelRequest names the event to cancel. The first non-empty field wins in
// the order EventID, ExternalID, Title.
type CancelRequest struct {
	EventID    int64
	ExternalID string
	Title      string
}

type Cancelled struct {
	// Event is nil when only a remote id was given and no local row exists.
	Event            *persistence.CalendarEvent
	ExternalEventID  string
	JobsCancelled    int
	AlreadyCancelled bool
}

// Cancel deletes the remote event, drops both reminder jobs and marks the
// local row cancelled. Cancelling an already-cancelled event succeeds
// without touching the remote calendar.
func (s *Scheduler) Cancel(ctx context.Context, tx *persistence.Tx, req CancelRequest) (Cancelled, error) {
	ev, err := s.lookup(ctx, tx, req)
	if err != nil {
		return Cancelled{}, err
	}

	if ev == nil {
		// Remote-only event.
		if err := s.deleteRemote(ctx, req.ExternalID); err != nil {
			return Cancelled{}, err
		}
		n := s.cancelJobs(req.ExternalID)
		s.bus.Publish(bus.TopicMeetingCancelled, bus.MeetingEvent{ExternalEventID: req.ExternalID})
		return Cancelled{ExternalEventID: req.ExternalID, JobsCancelled: n}, nil
	}

	if ev.Status == persistence.EventCancelled {
		n := s.cancelJobs(s.jobKey(*ev))
		return Cancelled{Event: ev, ExternalEventID: ev.ExternalEventID, JobsCancelled: n, AlreadyCancelled: true}, nil
	}

	if ev.ExternalEventID != "" {
		if err := s.deleteRemote(ctx, ev.ExternalEventID); err != nil {
			return Cancelled{}, err
		}
	}
	n := s.cancelJobs(s.jobKey(*ev))
	if _, err := tx.CancelEvent(ctx, ev.ID); err != nil {
		return Cancelled{}, err
	}
	updated, err := tx.GetEvent(ctx, ev.ID)
	if err != nil {
		return Cancelled{}, err
	}

	s.bus.Publish(bus.TopicMeetingCancelled, bus.MeetingEvent{
		EventID:         updated.ID,
		ExternalEventID: updated.ExternalEventID,
		Title:           updated.Title,
		StartTime:       updated.StartTime,
	})
	s.logger.InfoContext(ctx, "meeting cancelled", "event_id", updated.ID, "jobs_cancelled", n)
	return Cancelled{Event: &updated, ExternalEventID: updated.ExternalEventID, JobsCancelled: n}, nil
}

func (s *Scheduler) lookup(ctx context.Context, tx *persistence.Tx, req CancelRequest) (*persistence.CalendarEvent, error) {
	notFound := shared.NotFound("Evenimentul nu a fost găsit.")
	if req.EventID <= 0 && strings.TrimSpace(req.ExternalID) != "" {
		ev, err := tx.GetEventByExternalID(ctx, strings.TrimSpace(req.ExternalID))
		if err == nil {
			return &ev, nil
		}
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	q := resolve.Query{ID: req.EventID, Name: req.Title}
	if q.Empty() {
		return nil, shared.Validation("Specifică ID-ul sau titlul evenimentului.")
	}
	c, err := resolve.Resolve(ctx, resolve.Source[persistence.Candidate]{
		ByID: func(ctx context.Context, id int64) (persistence.Candidate, error) {
			ev, err := tx.GetEvent(ctx, id)
			return persistence.Candidate{ID: ev.ID, Name: ev.Title}, err
		},
		Active: tx.ActiveEventCandidates,
		Name:   func(c persistence.Candidate) string { return c.Name },
	}, q)
	if errors.Is(err, resolve.ErrNotFound) && req.EventID <= 0 {
		// A repeated cancel by title finds the row it already cancelled.
		c, err = s.cancelledByTitle(ctx, tx, req.Title)
	}
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, resolve.ErrNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	ev, err := tx.GetEvent(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Scheduler) cancelledByTitle(ctx context.Context, tx *persistence.Tx, title string) (persistence.Candidate, error) {
	cands, err := tx.CancelledEventCandidates(ctx)
	if err != nil {
		return persistence.Candidate{}, err
	}
	c, ok := resolve.Match(title, cands, func(c persistence.Candidate) string { return c.Name })
	if !ok {
		return persistence.Candidate{}, resolve.ErrNotFound
	}
	return c, nil
}

func (s *Scheduler) deleteRemote(ctx context.Context, externalID string) error {
	err := s.observe.Call(ctx, "calendar", "delete_event", func(ctx context.Context) error {
		return s.cal.DeleteEvent(ctx, externalID)
	})
	if err != nil {
		return shared.External("Ștergerea evenimentului din calendar a eșuat", err)
	}
	return nil
}

// cancelJobs drops the reminder jobs of both roles. Absent jobs are skipped.
func (s *Scheduler) cancelJobs(key string) int {
	if s.jobs == nil || key == "" {
		return 0
	}
	n := 0
	for _, role := range []string{RoleOwner, RoleAttendee} {
		if s.jobs.Cancel(ReminderJobID(key, role)) {
			n++
			if s.metrics != nil {
				s.metrics.PendingJobs.Add(context.Background(), -1)
			}
		}
	}
	return n
}

// Upcoming is one entry of ListUpcoming, from either source.
type Upcoming struct {
	ID              int64     `json:"id,omitempty"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	Title           string    `json:"title"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	AllDay          bool      `json:"all_day,omitempty"`
	MeetLink        string    `json:"meet_link,omitempty"`
	EventLink       string    `json:"event_link,omitempty"`
	AttendeeEmail   string    `json:"attendee_email,omitempty"`
}

const (
	SourceRemote = "google"
	SourceLocal  = "local"
)

// ListUpcoming prefers the remote calendar and falls back to scheduled
// local rows starting from now when the remote query fails.
func (s *Scheduler) ListUpcoming(ctx context.Context, tx *persistence.Tx) ([]Upcoming, string, error) {
	var remote []calendar.Event
	err := s.observe.Call(ctx, "calendar", "list_upcoming", func(ctx context.Context) error {
		var err error
		remote, err = s.cal.ListUpcoming(ctx, upcomingPageSize)
		return err
	})
	if err == nil {
		out := make([]Upcoming, 0, len(remote))
		for _, ev := range remote {
			out = append(out, Upcoming{
				ExternalEventID: ev.ID,
				Title:           ev.Title,
				Start:           ev.Start,
				End:             ev.End,
				AllDay:          ev.AllDay,
				MeetLink:        ev.MeetLink,
				EventLink:       ev.EventLink,
			})
		}
		return out, SourceRemote, nil
	}
	s.logger.WarnContext(ctx, "remote calendar unavailable, listing local events", "error", err)

	rows, lerr := tx.ListUpcomingEvents(ctx, s.now(), upcomingPageSize)
	if lerr != nil {
		return nil, "", lerr
	}
	out := make([]Upcoming, 0, len(rows))
	for _, ev := range rows {
		out = append(out, Upcoming{
			ID:              ev.ID,
			ExternalEventID: ev.ExternalEventID,
			Title:           ev.Title,
			Start:           ev.StartTime,
			End:             ev.EndTime,
			MeetLink:        ev.MeetLink,
			AttendeeEmail:   ev.AttendeeEmail,
		})
	}
	return out, SourceLocal, nil
}
