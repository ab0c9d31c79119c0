// Package scheduler reruns the retrieval pipeline on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/withObsrvr/forecast-retriever/internal/logging"
	"github.com/withObsrvr/forecast-retriever/internal/query"
)

// ErrInvalidInterval is returned for a non-positive interval.
var ErrInvalidInterval = errors.New("schedule interval must be positive")

// Job runs one pipeline pass over q.
type Job func(ctx context.Context, q query.Query) error

// Config configures a Scheduler.
type Config struct {
	Interval time.Duration
	// WindowDays, when positive, replaces the query's time range on every
	// run with the last WindowDays calendar days ending today (UTC).
	WindowDays int
	Query      query.Query
	Logger     *slog.Logger
}

// Scheduler periodically runs a Job. Runs never overlap.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cfg       Config
	job       Job
	log       *slog.Logger
	now       func() time.Time
}

// New creates a new Scheduler.
func New(cfg Config, job Job) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		cfg:       cfg,
		job:       job,
		log:       logging.Component(cfg.Logger, "scheduler"),
		now:       time.Now,
	}
}

// WindowQuery returns q restricted to the days calendar days ending on
// now's UTC date. A non-positive days returns q unchanged.
func WindowQuery(q query.Query, days int, now time.Time) query.Query {
	if days <= 0 {
		return q
	}
	y, m, d := now.UTC().Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return q.WithTimeRange(end.AddDate(0, 0, -(days-1)), end)
}

// Start schedules the job and starts the scheduler. The first run starts
// immediately; ctx is handed to every run.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, s.cfg.Interval)
	}

	_, err := s.scheduler.Every(s.cfg.Interval).SingletonMode().Do(func() {
		if ctx.Err() != nil {
			return
		}
		q := WindowQuery(s.cfg.Query, s.cfg.WindowDays, s.now())
		s.log.Info("scheduled run starting", "query", q.String())

		started := time.Now()
		if err := s.job(ctx, q); err != nil {
			s.log.Error("scheduled run failed", "error", err, "duration", time.Since(started))
			return
		}
		s.log.Info("scheduled run completed", "duration", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	s.log.Info("scheduler started", "every", s.cfg.Interval, "window_days", s.cfg.WindowDays)
	s.scheduler.StartAsync()
	return nil
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		s.log.Info("scheduler stopped")
	}
}
