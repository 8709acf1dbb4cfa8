package bus

import "time"

// Action and meeting lifecycle topics.
const (
	TopicActionExecuted   = "action.executed"
	TopicMeetingScheduled = "meeting.scheduled"
	TopicMeetingCancelled = "meeting.cancelled"
	TopicReminderFired    = "reminder.fired"
	TopicReminderFailed   = "reminder.failed"
)

// ActionExecutedEvent is published after every dispatch.
type ActionExecutedEvent struct {
	TraceID  string `json:"trace_id"`
	Intent   string `json:"intent"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// MeetingEvent is published when a meeting is scheduled or cancelled.
type MeetingEvent struct {
	EventID         int64     `json:"event_id"`
	ExternalEventID string    `json:"external_event_id,omitempty"`
	Title           string    `json:"title"`
	StartTime       time.Time `json:"start_time"`
	MeetLink        string    `json:"meet_link,omitempty"`
	RemindersQueued int       `json:"reminders_queued"`
}

// ReminderEvent is published when a reminder job runs.
type ReminderEvent struct {
	JobID     string    `json:"job_id"`
	EventID   int64     `json:"event_id"`
	Recipient string    `json:"recipient"`
	Role      string    `json:"role"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	Error     string    `json:"error,omitempty"`
}
