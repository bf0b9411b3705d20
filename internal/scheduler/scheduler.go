// Package scheduler re-runs jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

// Parser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as "@hourly" or "@every 15m".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs registered jobs on their schedules. A job still running
// when its next tick arrives is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	mu   sync.Mutex
	jobs map[string]Job
	ctx  context.Context
}

// New creates a Scheduler. Times are evaluated in UTC.
func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scheduler")
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
		),
		log:  log,
		jobs: make(map[string]Job),
		ctx:  context.Background(),
	}
}

// Validate reports whether spec is a valid schedule expression.
func Validate(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers job under name on the given schedule.
func (s *Scheduler) Add(name, spec string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.jobs[name] = job
	s.log.Info("job registered", "job", name, "schedule", spec)
	return nil
}

// RunNow executes the named job immediately in the calling goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job(ctx)
}

// Next returns the next activation time of any job, or the zero time.
func (s *Scheduler) Next() time.Time {
	now := time.Now().UTC()
	var next time.Time
	for _, e := range s.cron.Entries() {
		t := e.Schedule.Next(now)
		if t.IsZero() {
			continue
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("job started", "job", name)
	if err := job(ctx); err != nil {
		s.log.Error("job failed", "job", name, "err", err, "elapsed", time.Since(start).Round(time.Millisecond))
		return
	}
	s.log.Info("job finished", "job", name, "elapsed", time.Since(start).Round(time.Millisecond))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"err", err}, keysAndValues...)...)
}
