package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/basket/asis/internal/actions"
	"github.com/basket/asis/internal/audit"
	"github.com/basket/asis/internal/bus"
	"github.com/basket/asis/internal/calendar"
	"github.com/basket/asis/internal/config"
	"github.com/basket/asis/internal/cron"
	"github.com/basket/asis/internal/mail"
	"github.com/basket/asis/internal/meeting"
	"github.com/basket/asis/internal/otel"
	"github.com/basket/asis/internal/persistence"
	"github.com/basket/asis/internal/search"
	"github.com/basket/asis/internal/telemetry"
)

// startupError tags a wiring failure with the reason code reported by
// fatalStartup.
type startupError struct {
	code string
	err  error
}

func (e *startupError) Error() string { return e.code + ": " + e.err.Error() }
func (e *startupError) Unwrap() error { return e.err }

func startupFailure(code string, err error) error {
	return &startupError{code: code, err: err}
}

// assistant owns every long-lived component. It is built once per process
// and torn down with close.
type assistant struct {
	cfg    config.Config
	logger *slog.Logger
	level  *slog.LevelVar

	logCloser io.Closer
	audit     *audit.Log
	otel      *otel.Provider
	store     *persistence.Store
	bus       *bus.Bus
	jobs      *cron.Scheduler
	meetings  *meeting.Scheduler
	actions   *actions.Dispatcher
}

func buildAssistant(ctx context.Context, cfg config.Config, quiet bool) (*assistant, error) {
	a := &assistant{cfg: cfg, level: new(slog.LevelVar), bus: bus.New()}
	ok := false
	defer func() {
		if !ok {
			_ = a.close(context.Background())
		}
	}()

	auditLog, err := audit.Open(cfg.HomeDir)
	if err != nil {
		return nil, startupFailure("E_AUDIT_INIT", err)
	}
	a.audit = auditLog

	a.level.Set(telemetry.ParseLevel(cfg.LogLevel))
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, a.level, quiet)
	if err != nil {
		return nil, startupFailure("E_LOGGER_INIT", err)
	}
	a.logger, a.logCloser = logger, closer
	logger.Info("startup phase", "phase", "logger_initialized", "home", cfg.HomeDir, "version", version)

	calendarKind := "local"
	if cfg.CalendarConfigured() {
		calendarKind = "google"
	}
	provider, err := otel.Init(ctx, otel.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
		Version:     version,
		Timezone:    cfg.Timezone,
		Organizer:   cfg.Organizer(),
		Calendar:    calendarKind,
	})
	if err != nil {
		return nil, startupFailure("E_OTEL_INIT", err)
	}
	a.otel = provider
	metrics, err := otel.NewMetrics(provider.Meter)
	if err != nil {
		return nil, startupFailure("E_OTEL_INIT", err)
	}
	observe := otel.NewInstrumentation(provider, metrics)

	store, err := persistence.Open(cfg.DBPath, auditLog)
	if err != nil {
		return nil, startupFailure("E_STORE_OPEN", err)
	}
	a.store = store
	logger.Info("startup phase", "phase", "store_opened", "path", cfg.DBPath)

	loc := cfg.Location()

	var mailer mail.Mailer
	if cfg.MailConfigured() {
		mailer = &mail.Client{
			SMTP: mail.NewSMTP(mail.SMTPConfig{
				Host:     cfg.SMTP.Host,
				Port:     cfg.SMTP.Port,
				User:     cfg.SMTP.User,
				Password: cfg.SMTP.Password,
				Observe:  observe,
			}),
			IMAP: mail.NewIMAP(mail.IMAPConfig{
				Host:     cfg.IMAP.Host,
				Port:     cfg.IMAP.Port,
				User:     cfg.SMTP.User,
				Password: cfg.SMTP.Password,
				Mailbox:  cfg.IMAP.Mailbox,
				Observe:  observe,
			}),
		}
	} else {
		logger.Warn("mail not configured; email intents will fail", "hint", "set SMTP_USER and SMTP_PASSWORD")
	}

	var cal calendar.Calendar = calendar.Unconfigured{}
	if cfg.CalendarConfigured() {
		g, err := calendar.NewGoogle(calendar.Config{
			CredentialsFile: cfg.Calendar.CredentialsFile,
			CalendarID:      cfg.Calendar.CalendarID,
			TimeZone:        cfg.Timezone,
			Observe:         observe,
		})
		if err != nil {
			return nil, startupFailure("E_CALENDAR_INIT", err)
		}
		cal = g
	} else {
		logger.Warn("calendar not configured; events are stored locally only")
	}

	searcher := search.NewRouter(search.RouterConfig{
		Preferred:   cfg.Search.Preferred,
		BraveAPIKey: cfg.Search.BraveAPIKey,
		Logger:      logger,
		Observe:     observe,
	})

	a.jobs = cron.NewScheduler(cron.Config{
		Logger:   logger,
		Location: loc,
		OnFire: func(jobID string) {
			logger.Debug("deferred job finished", "job_id", jobID)
		},
	})

	meetingsCfg := meeting.Config{
		Calendar:     cal,
		Jobs:         a.jobs,
		Store:        store,
		Bus:          a.bus,
		Logger:       logger,
		Location:     loc,
		Organizer:    cfg.Organizer(),
		ReminderLead: cfg.ReminderLead(),
		Metrics:      metrics,
		Observe:      observe,
	}
	if mailer != nil {
		meetingsCfg.Mail = mailer
	}
	a.meetings = meeting.New(meetingsCfg)

	dispatcher, err := actions.NewDispatcher(actions.Deps{
		Store:    store,
		Mail:     mailer,
		Search:   searcher,
		Calendar: cal,
		Meetings: a.meetings,
		Bus:      a.bus,
		Logger:   logger,
		Location: loc,
		Tracer:   provider.Tracer,
		Metrics:  metrics,
		Observe:  observe,
	})
	if err != nil {
		return nil, startupFailure("E_DISPATCHER_INIT", err)
	}
	a.actions = dispatcher

	ok = true
	return a, nil
}

// close stops reminder jobs (waiting up to ctx) and releases resources in
// reverse construction order.
func (a *assistant) close(ctx context.Context) error {
	var errs []error
	if a.jobs != nil && a.jobs.Started() {
		if err := a.jobs.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain jobs: %w", err))
		}
	}
	if a.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otel.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("otel shutdown: %w", err))
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
	return errors.Join(errs...)
}

// applyReload re-reads config.yaml after a change. Only the log level is
// applied live; anything else is reported as needing a restart.
func (a *assistant) applyReload() {
	next, err := config.Load()
	if err != nil {
		a.logger.Error("config reload rejected; keeping previous config", "error", err)
		return
	}
	prevLevel := a.level.Level()
	a.level.Set(telemetry.ParseLevel(next.LogLevel))
	a.logger.Info("config reloaded", "log_level", a.level.Level().String(), "previous_log_level", prevLevel.String())

	next.LogLevel = a.cfg.LogLevel
	if next.Fingerprint() != a.cfg.Fingerprint() {
		a.logger.Warn("config changes besides log_level apply after restart",
			"running", a.cfg.Fingerprint(), "on_disk", next.Fingerprint())
	}
}
