package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/activities-management/internal/application"
)

type stubApplier struct {
	calls   atomic.Int32
	summary application.PlannedChangeSummary
	err     error
}

func (s *stubApplier) ApplyPlannedChanges(ctx context.Context) (application.PlannedChangeSummary, error) {
	s.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return application.PlannedChangeSummary{}, errors.New("expected a deadline")
	}
	return s.summary, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewSchedulerValidatesSpec(t *testing.T) {
	t.Parallel()

	if _, err := NewScheduler(&stubApplier{}, "not a schedule", time.UTC, quietLogger()); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}

func TestSchedulerUsesFacilityTimeZone(t *testing.T) {
	t.Parallel()

	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}
	s, err := NewScheduler(&stubApplier{}, "", london, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	next := s.Next().In(london)
	if next.IsZero() || next.Hour() != 0 || next.Minute() != 5 {
		t.Fatalf("expected next run at 00:05 London time, got %v", next)
	}
}

func TestRunOnceReportsApplierErrors(t *testing.T) {
	t.Parallel()

	ok := &stubApplier{summary: application.PlannedChangeSummary{Suspended: 1}}
	s, err := NewScheduler(ok, "@daily", time.UTC, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	failing := &stubApplier{err: errors.New("store unavailable")}
	s, err = NewScheduler(failing, "@daily", time.UTC, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected applier error")
	}
}

func TestSchedulerRunsJob(t *testing.T) {
	t.Parallel()

	applier := &stubApplier{}
	s, err := NewScheduler(applier, "@every 1s", time.UTC, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for applier.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if applier.calls.Load() == 0 {
		t.Fatalf("expected the job to run")
	}
}
