// Package actions routes an (intent, payload) pair to its handler and turns
// every outcome into a Result. Each call runs in one store transaction.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/asis/internal/bus"
	"github.com/basket/asis/internal/calendar"
	"github.com/basket/asis/internal/mail"
	"github.com/basket/asis/internal/meeting"
	"github.com/basket/asis/internal/otel"
	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/search"
	"github.com/basket/asis/internal/shared"
)

// Deps are the collaborators a Dispatcher is built from. Store is required;
// a nil Mail or Search makes the matching intents fail as external errors.
type Deps struct {
	Store    *persistence.Store
	Mail     mail.Mailer
	Search   search.Searcher
	Calendar calendar.Calendar
	// Meetings defaults to a scheduler without reminder jobs.
	Meetings *meeting.Scheduler
	Bus      *bus.Bus
	Logger   *slog.Logger
	Location *time.Location
	Tracer   trace.Tracer
	Metrics  *otel.Metrics
	Observe  otel.Instrumentation
	Now      func() time.Time
}

type handlerFunc func(ctx context.Context, tx *persistence.Tx, p Payload) (Result, error)

type route struct {
	fn handlerFunc
	// noTx handlers only talk to remote collaborators and get a nil tx.
	noTx bool
}

type Dispatcher struct {
	store     *persistence.Store
	mail      mail.Mailer
	search    search.Searcher
	calendar  calendar.Calendar
	meetings  *meeting.Scheduler
	bus       *bus.Bus
	logger    *slog.Logger
	loc       *time.Location
	tracer    trace.Tracer
	metrics   *otel.Metrics
	observe   otel.Instrumentation
	now       func() time.Time
	validator *Validator
	routes    map[Intent]route
}

func NewDispatcher(deps Deps) (*Dispatcher, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("actions: store is required")
	}
	d := &Dispatcher{
		store:    deps.Store,
		mail:     deps.Mail,
		search:   deps.Search,
		calendar: deps.Calendar,
		meetings: deps.Meetings,
		bus:      deps.Bus,
		logger:   deps.Logger,
		loc:      deps.Location,
		tracer:   deps.Tracer,
		metrics:  deps.Metrics,
		observe:  deps.Observe,
		now:      deps.Now,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.loc == nil {
		d.loc = time.Local
	}
	if d.tracer == nil {
		d.tracer = otel.Noop().Tracer
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.calendar == nil {
		d.calendar = calendar.Unconfigured{}
	}
	if d.meetings == nil {
		d.meetings = meeting.New(meeting.Config{
			Calendar: d.calendar,
			Mail:     d.mail,
			Store:    d.store,
			Bus:      d.bus,
			Logger:   d.logger,
			Location: d.loc,
			Metrics:  d.metrics,
			Observe:  d.observe,
			Now:      d.now,
		})
	}

	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	d.validator = v

	d.routes = map[Intent]route{
		AddTask:             {fn: d.addTask},
		ListTasks:           {fn: d.listTasks},
		CompleteTask:        {fn: d.completeTask},
		DeleteTask:          {fn: d.deleteTask},
		AddShoppingItem:     {fn: d.addShoppingItem},
		ListShopping:        {fn: d.listShopping},
		RemoveShoppingItem:  {fn: d.removeShoppingItem},
		SendEmail:           {fn: d.sendEmail},
		ReadEmails:          {fn: d.readEmails, noTx: true},
		ReadLastEmail:       {fn: d.readLastEmail, noTx: true},
		SearchEmails:        {fn: d.searchEmails, noTx: true},
		SummarizeEmail:      {fn: d.summarizeEmail, noTx: true},
		SearchInternet:      {fn: d.searchInternet, noTx: true},
		ScheduleMeeting:     {fn: d.scheduleMeeting},
		AddCalendarEvent:    {fn: d.addCalendarEvent},
		ListCalendarEvents:  {fn: d.listCalendarEvents},
		CancelCalendarEvent: {fn: d.cancelCalendarEvent},
	}
	for _, in := range allIntents {
		if _, ok := d.routes[in]; !ok {
			return nil, fmt.Errorf("actions: no handler registered for %q", in)
		}
	}
	if len(d.routes) != len(allIntents) {
		return nil, fmt.Errorf("actions: %d handlers for %d intents", len(d.routes), len(allIntents))
	}
	return d, nil
}

// Execute decodes a raw JSON payload and dispatches it.
func (d *Dispatcher) Execute(ctx context.Context, intent string, raw json.RawMessage) Result {
	p, err := DecodePayload(raw)
	if err != nil {
		return d.run(ctx, intent, Payload{}, shared.Validation("Date invalide: %v", err))
	}
	return d.run(ctx, intent, p, nil)
}

// Dispatch runs one intent with an already classified payload. It never
// panics; every failure comes back as a Result with Success false.
func (d *Dispatcher) Dispatch(ctx context.Context, intent string, p Payload) Result {
	return d.run(ctx, intent, p, nil)
}

// run wraps dispatch with tracing, metrics, logging and the bus event.
// decodeErr short-circuits to a failure so bad payloads are counted too.
func (d *Dispatcher) run(ctx context.Context, intent string, p Payload, decodeErr error) Result {
	start := time.Now()
	traceID := shared.TraceID(ctx)
	if traceID == "-" {
		traceID = shared.NewTraceID()
		ctx = shared.WithTraceID(ctx, traceID)
	}
	ctx = shared.WithIntent(ctx, intent)
	ctx, span := otel.StartSpan(ctx, d.tracer, "dispatch "+intent,
		otel.AttrIntent.String(intent),
		otel.AttrPayloadMode.String(p.Mode().String()),
	)
	defer span.End()

	var res Result
	if decodeErr != nil {
		res = failure(decodeErr)
	} else {
		res = d.dispatch(ctx, intent, p)
	}

	elapsed := time.Since(start)
	intentAttr := otel.AttrIntent.String(intent)
	if d.metrics != nil {
		d.metrics.DispatchDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(intentAttr))
	}
	if res.Success {
		d.logger.InfoContext(ctx, "action executed", "mode", p.Mode().String(), "duration_ms", elapsed.Milliseconds())
	} else {
		kindAttr := otel.AttrErrorKind.String(string(res.ErrorKind))
		span.SetAttributes(kindAttr)
		span.SetStatus(codes.Error, res.Error)
		if d.metrics != nil {
			d.metrics.DispatchFailures.Add(ctx, 1, metric.WithAttributes(intentAttr, kindAttr))
		}
		d.logger.WarnContext(ctx, "action failed", "error_kind", res.ErrorKind, "error", res.Error,
			"duration_ms", elapsed.Milliseconds())
	}

	d.bus.Publish(bus.TopicActionExecuted, bus.ActionExecutedEvent{
		TraceID:  traceID,
		Intent:   intent,
		Success:  res.Success,
		Error:    res.Error,
		Duration: elapsed.String(),
	})
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, intent string, p Payload) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "handler panicked", "panic", r, "stack", string(debug.Stack()))
			res = failure(&shared.Error{Kind: shared.KindInternal, Msg: "A apărut o eroare internă."})
		}
	}()

	in, ok := ParseIntent(intent)
	if !ok {
		return failure(shared.UnknownIntent(intent))
	}
	if p.Mode() == Batch {
		if !in.Batchable() {
			return failure(shared.Validation("Acțiunea %s nu acceptă o listă de obiecte.", in))
		}
		if p.Len() == 0 {
			return failure(shared.Validation("Lista de obiecte este goală."))
		}
	}
	if err := d.validator.Validate(in, p); err != nil {
		return failure(err)
	}

	rt := d.routes[in]
	if rt.noTx {
		out, err := rt.fn(ctx, nil, p)
		if err != nil {
			return failure(err)
		}
		return out
	}

	// External failures keep the writes made before the failing call (the
	// failed action-log row); every other error rolls the transaction back.
	var out Result
	var external error
	err := d.store.WithTx(ctx, func(tx *persistence.Tx) error {
		r, err := rt.fn(ctx, tx, p)
		if err != nil {
			if shared.IsKind(err, shared.KindExternal) {
				external = err
				return nil
			}
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return failure(err)
	}
	if external != nil {
		return failure(external)
	}
	return out
}

// Intents lists the registered intents.
func (d *Dispatcher) Intents() []Intent {
	return Intents()
}

func (d *Dispatcher) formatTime(t time.Time) string {
	return t.In(d.loc).Format(time.RFC3339)
}

func (d *Dispatcher) formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.formatTime(*t)
}
