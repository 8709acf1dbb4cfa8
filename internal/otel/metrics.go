package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the assistant's metric instruments.
type Metrics struct {
	DispatchDuration     metric.Float64Histogram
	DispatchFailures     metric.Int64Counter
	CollaboratorDuration metric.Float64Histogram
	CollaboratorErrors   metric.Int64Counter
	RemindersScheduled   metric.Int64Counter
	RemindersFired       metric.Int64Counter
	NotificationFailures metric.Int64Counter
	PendingJobs          metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.DispatchDuration, err = meter.Float64Histogram("asis.dispatch.duration",
		metric.WithDescription("Intent dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchFailures, err = meter.Int64Counter("asis.dispatch.failures",
		metric.WithDescription("Dispatches that returned success=false, by error kind"),
	)
	if err != nil {
		return nil, err
	}

	m.CollaboratorDuration, err = meter.Float64Histogram("asis.collaborator.duration",
		metric.WithDescription("Calendar, email and search call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CollaboratorErrors, err = meter.Int64Counter("asis.collaborator.errors",
		metric.WithDescription("Calendar, email and search call failures"),
	)
	if err != nil {
		return nil, err
	}

	m.RemindersScheduled, err = meter.Int64Counter("asis.reminders.scheduled",
		metric.WithDescription("Meeting reminder jobs registered"),
	)
	if err != nil {
		return nil, err
	}

	m.RemindersFired, err = meter.Int64Counter("asis.reminders.fired",
		metric.WithDescription("Meeting reminder jobs executed"),
	)
	if err != nil {
		return nil, err
	}

	m.NotificationFailures, err = meter.Int64Counter("asis.notifications.failures",
		metric.WithDescription("Best-effort meeting emails that failed to send"),
	)
	if err != nil {
		return nil, err
	}

	m.PendingJobs, err = meter.Int64UpDownCounter("asis.jobs.pending",
		metric.WithDescription("Deferred jobs waiting to fire"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a no-op meter.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(Noop().Meter)
	if err != nil {
		panic(err)
	}
	return m
}
