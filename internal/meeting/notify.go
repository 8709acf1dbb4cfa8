package meeting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"time"

	"github.com/basket/asis/internal/bus"
	"github.com/basket/asis/internal/cron"
	"github.com/basket/asis/internal/mail"
	"github.com/basket/asis/internal/persistence"
)

var (
	inviteTmpl = template.Must(template.New("invite").Parse(`<html><body style="font-family: Arial, sans-serif;">
<h2>Invitație la întâlnire</h2>
<p>{{if .AttendeeName}}Salut {{.AttendeeName}},{{else}}Salut,{{end}}</p>
<p>Ești invitat la întâlnirea <strong>{{.Title}}</strong>.</p>
<ul>
<li>Data: {{.Date}}</li>
<li>Ora: {{.Start}} - {{.End}}</li>
{{if .Description}}<li>Descriere: {{.Description}}</li>{{end}}
</ul>
{{if .MeetLink}}<p><a href="{{.MeetLink}}">Intră pe Google Meet</a></p>{{end}}
</body></html>`))

	confirmTmpl = template.Must(template.New("confirm").Parse(`<html><body style="font-family: Arial, sans-serif;">
<h2>Întâlnire programată</h2>
<p>Întâlnirea <strong>{{.Title}}</strong> a fost adăugată în calendar.</p>
<ul>
<li>Data: {{.Date}}</li>
<li>Ora: {{.Start}} - {{.End}}</li>
{{if .AttendeeEmail}}<li>Participant: {{if .AttendeeName}}{{.AttendeeName}} &lt;{{.AttendeeEmail}}&gt;{{else}}{{.AttendeeEmail}}{{end}}</li>{{end}}
</ul>
{{if .MeetLink}}<p><a href="{{.MeetLink}}">{{.MeetLink}}</a></p>{{end}}
</body></html>`))

	reminderTmpl = template.Must(template.New("reminder").Parse(`<html><body style="font-family: Arial, sans-serif;">
<h2>⏰ Reminder</h2>
<p>Întâlnirea <strong>{{.Title}}</strong> începe în {{.Lead}}.</p>
<ul>
<li>Ora: {{.Start}} - {{.End}}</li>
</ul>
{{if .MeetLink}}<p><a href="{{.MeetLink}}">Intră pe Google Meet</a></p>{{end}}
</body></html>`))
)

type view struct {
	Title         string
	Description   string
	Date          string
	Start         string
	End           string
	MeetLink      string
	AttendeeEmail string
	AttendeeName  string
	Lead          string
}

func (s *Scheduler) view(ev persistence.CalendarEvent) view {
	start := ev.StartTime.In(s.loc)
	return view{
		Title:         ev.Title,
		Description:   ev.Description,
		Date:          start.Format("02.01.2006"),
		Start:         start.Format("15:04"),
		End:           ev.EndTime.In(s.loc).Format("15:04"),
		MeetLink:      ev.MeetLink,
		AttendeeEmail: ev.AttendeeEmail,
		AttendeeName:  ev.AttendeeName,
	}
}

func render(t *template.Template, v view) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return fmt.Sprintf("%s: %s", v.Title, v.Start)
	}
	return buf.String()
}

// leadText renders a reminder lead in Romanian ("1 oră", "2 ore", "30 de minute").
func leadText(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 oră"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d ore", int(d/time.Hour))
	case d == time.Minute:
		return "1 minut"
	case d < 20*time.Minute:
		return fmt.Sprintf("%d minute", int(d/time.Minute))
	default:
		return fmt.Sprintf("%d de minute", int(d/time.Minute))
	}
}

type notification struct {
	to      string
	subject string
	body    string
}

// notifications builds the attendee invitation and the organizer
// confirmation for a freshly scheduled meeting.
func (s *Scheduler) notifications(ev persistence.CalendarEvent) []notification {
	v := s.view(ev)
	var out []notification
	if ev.AttendeeEmail != "" {
		out = append(out, notification{
			to:      ev.AttendeeEmail,
			subject: fmt.Sprintf("Invitație la întâlnire: %s", ev.Title),
			body:    render(inviteTmpl, v),
		})
	}
	if s.organizer != "" {
		out = append(out, notification{
			to:      s.organizer,
			subject: fmt.Sprintf("✅ Întâlnire programată: %s", ev.Title),
			body:    render(confirmTmpl, v),
		})
	}
	return out
}

// sendError marks a failed delivery. It never fails the meeting.
type sendError struct{ err error }

func (e *sendError) Error() string { return e.err.Error() }
func (e *sendError) Unwrap() error { return e.err }

func isBestEffort(err error) bool {
	var se *sendError
	return errors.As(err, &se)
}

// notify logs an email action around the send. Only a failed send is
// returned as a sendError; action-log failures are returned as is.
func (s *Scheduler) notify(ctx context.Context, tx *persistence.Tx, n notification) error {
	id, err := tx.BeginAction(ctx, "email", n.to, n.subject)
	if err != nil {
		return err
	}
	sendErr := s.send(ctx, "send_notification", n)
	status, detail := persistence.ActionCompleted, ""
	if sendErr != nil {
		status, detail = persistence.ActionFailed, sendErr.Error()
		s.logger.WarnContext(ctx, "meeting notification failed", "to", n.to, "subject", n.subject, "error", sendErr)
		if s.metrics != nil {
			s.metrics.NotificationFailures.Add(ctx, 1)
		}
	}
	if err := tx.FinishAction(ctx, id, status, detail); err != nil {
		return err
	}
	if sendErr != nil {
		return &sendError{err: sendErr}
	}
	return nil
}

func (s *Scheduler) send(ctx context.Context, op string, n notification) error {
	if s.mail == nil {
		return mail.ErrNotConfigured
	}
	return s.observe.Call(ctx, "mail", op, func(ctx context.Context) error {
		return s.mail.Send(ctx, mail.Message{To: n.to, Subject: n.subject, Body: n.body, HTML: true})
	})
}

// reminderWork is the body of one reminder job. It runs on the scheduler's
// goroutine after the dispatch that registered it has returned.
func (s *Scheduler) reminderWork(jobID string, ev persistence.CalendarEvent, r recipient, lead time.Duration) cron.Work {
	v := s.view(ev)
	v.Lead = leadText(lead)
	n := notification{
		to:      r.email,
		subject: fmt.Sprintf("⏰ Reminder: %s - în %s", ev.Title, v.Lead),
		body:    render(reminderTmpl, v),
	}
	return func(ctx context.Context) {
		if s.metrics != nil {
			s.metrics.PendingJobs.Add(ctx, -1)
			s.metrics.RemindersFired.Add(ctx, 1)
		}
		err := s.send(ctx, "send_reminder", n)

		evt := bus.ReminderEvent{
			JobID:     jobID,
			EventID:   ev.ID,
			Recipient: r.email,
			Role:      r.role,
			Title:     ev.Title,
			StartTime: ev.StartTime,
		}
		status, detail := persistence.ActionCompleted, ""
		if err != nil {
			status, detail = persistence.ActionFailed, err.Error()
			evt.Error = err.Error()
			s.logger.Error("reminder email failed", "job_id", jobID, "to", r.email, "error", err)
			if s.metrics != nil {
				s.metrics.NotificationFailures.Add(ctx, 1)
			}
		}

		if s.store != nil {
			if rerr := s.store.RecordAction(ctx, "reminder", r.email, n.subject, status, detail); rerr != nil {
				s.logger.Error("record reminder action", "job_id", jobID, "error", rerr)
			}
			if err == nil {
				if merr := s.store.MarkReminderSent(ctx, ev.ID); merr != nil {
					s.logger.Warn("mark reminder sent", "job_id", jobID, "event_id", ev.ID, "error", merr)
				}
			}
		}

		if err != nil {
			s.bus.Publish(bus.TopicReminderFailed, evt)
			return
		}
		s.bus.Publish(bus.TopicReminderFired, evt)
		s.logger.Info("reminder sent", "job_id", jobID, "to", r.email, "role", r.role)
	}
}
