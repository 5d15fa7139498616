// Package jobs runs the scheduled background work of the service.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/activities-management/internal/application"
	"github.com/example/activities-management/internal/logging"
)

// DefaultPlannedChangesSchedule runs shortly after midnight facility time.
const DefaultPlannedChangesSchedule = "5 0 * * *"

const defaultRunTimeout = 10 * time.Minute

// PlannedChangeApplier applies planned allocation changes that have fallen due.
type PlannedChangeApplier interface {
	ApplyPlannedChanges(ctx context.Context) (application.PlannedChangeSummary, error)
}

// Scheduler triggers the planned-change job on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	applier PlannedChangeApplier
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler parses spec in loc and registers the planned-change job.
// Overlapping runs are skipped and panics are recovered.
func NewScheduler(applier PlannedChangeApplier, spec string, loc *time.Location, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if spec == "" {
		spec = DefaultPlannedChangesSchedule
	}

	cronLogger := slogAdapter{logger: logger.With("component", "cron")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		applier: applier,
		timeout: defaultRunTimeout,
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(spec, func() { _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("jobs: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job or ctx, whichever
// finishes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports when the job will next run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunOnce applies due planned changes immediately.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger := s.logger.With("job", "planned_changes")
	ctx = logging.ContextWithLogger(ctx, logger)

	started := time.Now()
	summary, err := s.applier.ApplyPlannedChanges(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "planned change run finished with failures",
			"error", err,
			"failed", summary.Failed,
			"duration", time.Since(started),
		)
		return err
	}
	logger.InfoContext(ctx, "planned change run finished",
		"suspended", summary.Suspended,
		"deallocated", summary.Deallocated,
		"deferred", summary.Deferred,
		"duration", time.Since(started),
	)
	return nil
}

// slogAdapter satisfies cron.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
