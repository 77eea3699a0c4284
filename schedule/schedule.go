// Package schedule repeats archive runs on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled run.
type Job func(ctx context.Context)

// Scheduler runs a job on a standard five-field cron expression (descriptors
// such as "@daily" or "@every 6h" are accepted too). A run that is still in
// progress when the next one is due causes that next run to be skipped.
type Scheduler struct {
	spec    string
	job     Job
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// New validates spec and prepares the scheduler.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("schedule is empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &Scheduler{
		spec:   spec,
		job:    job,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}, nil
}

// Start registers the job and starts the cron loop in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.runJob(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule run: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "schedule", s.spec, "next", s.nextRun())
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// a run in progress to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	s.logger.Info("starting scheduled run")
	s.job(ctx)
	s.logger.Info("scheduled run finished", "duration", time.Since(started), "next", s.nextRun())
}

// Stop stops the scheduler and waits for any running job to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled run time, or nil when not started.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.nextRun()
}

func (s *Scheduler) nextRun() *time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
