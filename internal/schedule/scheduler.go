// Package schedule triggers sync runs on a cron schedule. The [Scheduler] is
// a suture service: the daemon adds it to its supervisor, which restarts it
// if it ever fails.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/njoerd114/roomsync/internal/retry"
	"github.com/njoerd114/roomsync/internal/sync"
)

// DefaultSchedule fires every Sunday at midnight.
const DefaultSchedule = "0 0 0 * * 0"

var parser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse parses a six-field cron expression (with seconds) or a descriptor
// such as "@weekly".
func Parse(expr string) (cron.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", expr, err)
	}
	return s, nil
}

// Runner performs one sync run. Implemented by [sync.Orchestrator].
type Runner interface {
	Run(ctx context.Context) (sync.Report, error)
}

// EmptyChecker reports whether the room directory holds no rooms yet.
// Implemented by [store.Directory].
type EmptyChecker interface {
	IsEmpty(ctx context.Context) (bool, error)
}

// Scheduler fires sync runs on a cron schedule. Each run is retried under a
// [retry.Policy]. A trigger that arrives while a run is still in progress is
// skipped.
type Scheduler struct {
	runner       Runner
	dir          EmptyChecker
	expr         string
	schedule     cron.Schedule
	runOnStartup bool
	policy       retry.Policy
	log          *slog.Logger

	running atomic.Bool
	wg      gosync.WaitGroup
}

// New creates a Scheduler. The expression is validated immediately. When
// runOnStartup is false, a run still happens at startup if dir is empty, so
// a fresh install does not wait a week for its first directory.
func New(expr string, runOnStartup bool, policy retry.Policy, runner Runner, dir EmptyChecker, logger *slog.Logger) (*Scheduler, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:       runner,
		dir:          dir,
		expr:         expr,
		schedule:     sched,
		runOnStartup: runOnStartup,
		policy:       policy,
		log:          logger,
	}, nil
}

// Next returns the first scheduled run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Serve implements suture.Service. It blocks until ctx is cancelled and then
// waits for an in-flight run to return.
func (s *Scheduler) Serve(ctx context.Context) error {
	c := cron.New(
		cron.WithLogger(cronLogger{log: s.log}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.Trigger(ctx, "schedule")
	}))

	if s.startupRunWanted(ctx) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Trigger(ctx, "startup")
		}()
	}

	c.Start()
	s.log.Info("scheduler started", "schedule", s.expr, "next_run", s.Next(time.Now()))

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	s.wg.Wait()

	s.log.Info("scheduler stopped")
	return ctx.Err()
}

// String implements fmt.Stringer; suture uses it in log messages.
func (s *Scheduler) String() string {
	return "sync-scheduler"
}

// Trigger runs a sync now unless one is already running. It reports whether
// a run was started. reason is logged with the run.
func (s *Scheduler) Trigger(ctx context.Context, reason string) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn("sync run still in progress, skipping trigger", "trigger", reason)
		return false
	}
	defer s.running.Store(false)

	s.log.Info("sync run triggered", "trigger", reason)
	var rep sync.Report
	attempts, err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		rep, err = s.runner.Run(ctx)
		if err != nil {
			s.log.Warn("sync run attempt failed", "run_id", rep.RunID, "error", err)
		}
		return classifyRun(ctx, err)
	})
	switch {
	case errors.Is(err, sync.ErrNoAccessToken), errors.Is(err, sync.ErrNoBuildings):
		s.log.Warn("sync run aborted, will retry at next trigger",
			"run_id", rep.RunID,
			"attempts", attempts,
			"error", err,
			"next_run", s.Next(time.Now()),
		)
	case err != nil:
		s.log.Error("sync run failed", "run_id", rep.RunID, "attempts", attempts, "error", err)
	}
	return true
}

// classifyRun marks run failures that another attempt cannot fix: an empty
// token from the identity provider, and shutdown.
func classifyRun(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sync.ErrEmptyToken) || ctx.Err() != nil {
		return retry.Permanent(err)
	}
	return err
}

func (s *Scheduler) startupRunWanted(ctx context.Context) bool {
	if s.runOnStartup {
		return true
	}
	empty, err := s.dir.IsEmpty(ctx)
	if err != nil {
		s.log.Error("checking directory before first run", "error", err)
		return false
	}
	if empty {
		s.log.Info("room directory is empty, running first sync now")
	}
	return empty
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
