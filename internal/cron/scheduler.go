// Package cron runs deferred one-shot jobs keyed by a caller-chosen id.
// Jobs live in memory only; a process restart drops everything pending.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Work is the body of a deferred job. The context is cancelled when the
// scheduler stops.
type Work func(ctx context.Context)

// Config holds the dependencies for the scheduler.
type Config struct {
	Logger *slog.Logger
	// Location is used for log output of fire times; defaults to time.Local.
	Location *time.Location
	// OnFire, if set, is called after each job body returns.
	OnFire func(jobID string)
}

// once fires a single time at At and never again.
type once struct {
	at time.Time
}

func (o once) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

type entry struct {
	id cronlib.EntryID
	at time.Time
}

// Scheduler keeps at most one pending job per id. Scheduling an id again
// replaces the earlier job; cancelling an unknown id does nothing.
type Scheduler struct {
	logger *slog.Logger
	onFire func(string)
	loc    *time.Location

	mu      sync.Mutex
	c       *cronlib.Cron
	started bool
	jobs    map[string]entry
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewScheduler creates a stopped scheduler. ScheduleAt starts it on first use.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		logger: logger,
		onFire: cfg.OnFire,
		loc:    loc,
		jobs:   make(map[string]entry),
	}
	s.c = s.newCron()
	return s
}

func (s *Scheduler) newCron() *cronlib.Cron {
	cronLogger := cronlib.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))
	return cronlib.New(
		cronlib.WithLocation(s.loc),
		cronlib.WithLogger(cronLogger),
		cronlib.WithChain(cronlib.Recover(cronLogger)),
	)
}

// Start begins firing jobs. Calling Start on a started scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Scheduler) startLocked() {
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.c.Start()
	s.started = true
	s.logger.Info("cron scheduler started", "pending", len(s.jobs))
}

// Stop halts the scheduler and waits for running job bodies to return, or
// for ctx to expire. Pending jobs are kept and resume on the next Start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	stopped := s.c.Stop()
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("cron scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("cron: stop: %w", ctx.Err())
	}
}

// Started reports whether the scheduler is firing jobs.
func (s *Scheduler) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// ScheduleAt registers work to run once at at under jobID, replacing any
// job already registered under that id. A time that is not in the future
// runs the work right away.
func (s *Scheduler) ScheduleAt(at time.Time, jobID string, work Work) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()

	if prev, ok := s.jobs[jobID]; ok {
		s.c.Remove(prev.id)
		delete(s.jobs, jobID)
		s.logger.Debug("cron: job replaced", "job_id", jobID, "previous_fire_at", prev.at.In(s.loc))
	}

	var id cronlib.EntryID
	job := cronlib.FuncJob(func() {
		s.mu.Lock()
		cur, ok := s.jobs[jobID]
		if !ok || cur.id != id {
			s.mu.Unlock()
			return
		}
		delete(s.jobs, jobID)
		s.c.Remove(id)
		ctx := s.ctx
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		s.run(ctx, jobID, work)
	})

	if !at.After(time.Now()) {
		s.runNowLocked(jobID, work)
		s.logger.Info("cron: job due immediately", "job_id", jobID, "fire_at", at.In(s.loc))
		return
	}

	id = s.c.Schedule(once{at: at}, job)
	if s.c.Entry(id).Next.IsZero() {
		// at passed between the check above and the entry being added.
		s.c.Remove(id)
		s.runNowLocked(jobID, work)
		return
	}
	s.jobs[jobID] = entry{id: id, at: at}
	s.logger.Info("cron: job scheduled", "job_id", jobID, "fire_at", at.In(s.loc))
}

// runNowLocked runs work on its own goroutine. robfig only wakes for entries
// whose next time is still ahead, so an instant already passed is handled here.
func (s *Scheduler) runNowLocked(jobID string, work Work) {
	ctx := s.ctx
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("cron: job panicked", "job_id", jobID, "panic", r)
			}
		}()
		s.run(ctx, jobID, work)
	}()
}

func (s *Scheduler) run(ctx context.Context, jobID string, work Work) {
	s.logger.Info("cron: job fired", "job_id", jobID)
	work(ctx)
	if s.onFire != nil {
		s.onFire(jobID)
	}
}

// Cancel removes a pending job. It reports whether a job was removed;
// an unknown id is not an error.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	s.c.Remove(e.id)
	delete(s.jobs, jobID)
	s.logger.Info("cron: job cancelled", "job_id", jobID)
	return true
}

// PendingCount returns the number of jobs waiting to fire.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// FireAt returns the fire time of a pending job.
func (s *Scheduler) FireAt(jobID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[jobID]
	return e.at, ok
}
