// Package schedule runs the dispatcher's administrative sweeps: idle
// session-lane pruning (spec C6) and module worker health checks, both on
// cron expressions. Grounded on the teacher's internal/cron Scheduler
// (robfig/cron/v3 parser, functional-option construction, a background
// goroutine ticking against an injectable clock) but scoped to these two
// fixed sweep jobs instead of the teacher's general user-defined job table.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// LaneManager is the subset of internal/lanes.Manager the idle-prune sweep
// needs.
type LaneManager interface {
	PruneIdleLanes() int
}

// ModuleManager is the subset of internal/modules.Manager the health sweep
// needs.
type ModuleManager interface {
	HealthSweep(ctx context.Context) error
}

// Job is one scheduled sweep.
type job struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context) error
	nextRun  time.Time
}

// Scheduler ticks registered sweep jobs against their cron schedules.
type Scheduler struct {
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	jobs    []*job
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the scheduler's clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides how often the run loop checks for due jobs.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// New builds a Scheduler with no jobs registered.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: time.Second,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterIdlePrune schedules lanes.PruneIdleLanes on the given cron
// expression.
func (s *Scheduler) RegisterIdlePrune(cronExpr string, lanes LaneManager) error {
	return s.register("idle_lane_prune", cronExpr, func(ctx context.Context) error {
		pruned := lanes.PruneIdleLanes()
		if pruned > 0 {
			s.logger.Info("pruned idle session lanes", "count", pruned)
		}
		return nil
	})
}

// RegisterModuleHealthSweep schedules modules.HealthSweep on the given
// cron expression.
func (s *Scheduler) RegisterModuleHealthSweep(cronExpr string, modules ModuleManager) error {
	return s.register("module_health_sweep", cronExpr, func(ctx context.Context) error {
		return modules.HealthSweep(ctx)
	})
}

func (s *Scheduler) register(name, cronExpr string, run func(context.Context) error) error {
	sched, err := parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("schedule: invalid cron expression %q: %w", cronExpr, err)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &job{name: name, schedule: sched, run: run, nextRun: sched.Next(now)})
	return nil
}

// Start runs the sweep loop in the background until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
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
			case <-s.stop:
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	due := make([]*job, 0)
	for _, j := range s.jobs {
		if !now.Before(j.nextRun) {
			due = append(due, j)
			j.nextRun = j.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		if err := j.run(ctx); err != nil {
			s.logger.Error("scheduled sweep failed", "job", j.name, "error", err)
		}
	}
}
