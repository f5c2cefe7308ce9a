// Package schedule runs periodic jobs off cron expressions, driving the
// kernel's retention sweep and quarantine review off config-declared
// schedules rather than embedding that cadence in the subsystems
// themselves.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/open-autonomy/kernel/internal/klog"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions, plus descriptors like "@every 1h" and "@hourly".
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	schedule cron.Schedule
	run      func(ctx context.Context) error

	nextRun time.Time
	lastRun time.Time
	lastErr error
}

// JobStatus is a point-in-time snapshot of a registered job, for
// introspection by an embedder (health checks, admin endpoints).
type JobStatus struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
	LastErr error
}

// Scheduler ticks over its registered jobs and runs each as it comes due.
// Jobs are registered before Start; Start and Stop are idempotent and safe
// to call from any goroutine.
type Scheduler struct {
	logger       *klog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    []*Job
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval overrides the scheduler's polling granularity.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithClock overrides the scheduler's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Scheduler with no jobs registered yet.
func New(logger *klog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = klog.New(klog.Config{})
	}
	s := &Scheduler{
		logger:       logger.With("component", "schedule"),
		now:          time.Now,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddFunc registers run to execute every time expr is next due. expr accepts
// anything robfig/cron's parser does: five/six-field cron syntax, "@hourly",
// or "@every 1h30m".
func (s *Scheduler) AddFunc(name, expr string, run func(ctx context.Context) error) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("schedule: invalid expression %q for job %q: %w", expr, name, err)
	}
	job := &Job{Name: name, schedule: schedule, run: run}
	job.nextRun = schedule.Next(s.now())

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start begins the scheduler loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop cancels the scheduler loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started || cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// Jobs returns a snapshot of every registered job's run state.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, JobStatus{
			Name: job.Name, NextRun: job.nextRun, LastRun: job.lastRun, LastErr: job.lastErr,
		})
	}
	return out
}

// RunOnce runs every due job immediately and returns how many ran, primarily
// for tests that don't want to wait on a real tick.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !now.Before(job.nextRun) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		err := job.run(ctx)
		next := job.schedule.Next(now)
		s.mu.Lock()
		job.lastRun = now
		job.lastErr = err
		job.nextRun = next
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn(ctx, "schedule: job failed", "job", job.Name, "err", err)
		} else {
			s.logger.Debug(ctx, "schedule: job completed", "job", job.Name)
		}
	}
	return len(due)
}
