// Package schedule runs named jobs on a fixed interval or a cron expression.
//
// Every job runs in singleton mode: a tick that fires while the previous run
// is still going is dropped and the job is rescheduled for its next slot.
// Two runs of the same job never overlap.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"tempwatchdog/internal/logging"
)

// Spec is when a job runs. Exactly one of Interval or Cron is set.
type Spec struct {
	Interval time.Duration
	// Cron is a 5-field expression, or 6-field with leading seconds.
	Cron string
	// RunOnStart runs the job once as soon as the scheduler starts, in
	// addition to its regular schedule.
	RunOnStart bool
}

// Validate checks that exactly one schedule is set.
func (s Spec) Validate() error {
	switch {
	case s.Interval > 0 && s.Cron != "":
		return errors.New("schedule: interval and cron are mutually exclusive")
	case s.Interval < 0:
		return fmt.Errorf("schedule: interval must be positive, got %s", s.Interval)
	case s.Interval == 0 && s.Cron == "":
		return errors.New("schedule: interval or cron is required")
	}
	return nil
}

func (s Spec) String() string {
	if s.Cron != "" {
		return "cron " + s.Cron
	}
	return "every " + s.Interval.String()
}

func (s Spec) definition() gocron.JobDefinition {
	if s.Cron != "" {
		return gocron.CronJob(s.Cron, withSeconds(s.Cron))
	}
	return gocron.DurationJob(s.Interval)
}

// withSeconds reports whether expr carries a leading seconds field.
func withSeconds(expr string) bool {
	return len(strings.Fields(expr)) == 6
}

// JobInfo describes a registered job for inspection.
type JobInfo struct {
	Name     string
	Schedule string
	LastRun  time.Time // zero if never run
	NextRun  time.Time // zero if not scheduled
}

// DefaultStopTimeout bounds how long Stop waits for running jobs.
const DefaultStopTimeout = 5 * time.Minute

// ErrStopTimedOut is returned by Stop when a job was still running after the
// stop timeout.
var ErrStopTimedOut = gocron.ErrStopJobsTimedOut

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	stopTimeout time.Duration
}

// WithStopTimeout sets how long Stop waits for running jobs. Non-positive
// values keep DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	specs     map[string]Spec
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a stopped scheduler. Cron expressions are evaluated in loc
// (nil means time.Local).
func New(loc *time.Location, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	o := options{stopTimeout: DefaultStopTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	s, err := gocron.NewScheduler(
		gocron.WithLocation(loc),
		gocron.WithStopTimeout(o.stopTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		specs:     make(map[string]Spec),
		logger:    logging.Default(logger).With("component", "schedule"),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Add registers a named job. The name must be unique. task receives a
// context that is cancelled once Stop has waited for running jobs.
func (s *Scheduler) Add(name string, spec Spec, task func(context.Context)) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduled job already exists: %s", name)
	}

	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if spec.RunOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	j, err := s.scheduler.NewJob(
		spec.definition(),
		gocron.NewTask(func() { task(s.ctx) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("create scheduled job %s: %w", name, err)
	}

	s.jobs[name] = j
	s.specs[name] = spec
	s.logger.Info("scheduled job added", "name", name, "schedule", spec.String(), "run_on_start", spec.RunOnStart)
	return nil
}

// NextRun returns when the named job runs next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("no scheduled job: %s", name)
	}
	return j.NextRun()
}

// ListJobs returns info about all registered jobs.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		info := JobInfo{Name: name, Schedule: s.specs[name].String()}
		if lr, err := j.LastRun(); err == nil {
			info.LastRun = lr
		}
		if nr, err := j.NextRun(); err == nil {
			info.NextRun = nr
		}
		infos = append(infos, info)
	}
	return infos
}

// Start begins executing all registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop shuts down the scheduler and waits for running jobs to finish, up to
// the stop timeout. On timeout it returns ErrStopTimedOut while the job keeps
// running.
func (s *Scheduler) Stop() error {
	err := s.scheduler.Shutdown()
	s.cancel()
	s.logger.Info("scheduler stopped")
	return err
}
