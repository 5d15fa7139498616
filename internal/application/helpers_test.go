package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/notify"
	"github.com/example/activities-management/internal/persistence/memory"
	"github.com/example/activities-management/internal/recurrence"
	"github.com/example/activities-management/internal/scheduler"
)

var errStoreUnavailable = errors.New("store unavailable")

type fakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, events ...notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
}

func (n *recordingNotifier) ofType(eventType notify.EventType) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ids []string
	for _, event := range n.events {
		if event.Type == eventType {
			ids = append(ids, event.EntityID)
		}
	}
	return ids
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	mutations   map[string]int
}

func (m *recordingMetrics) ObserveAllocationTransition(trigger, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitions == nil {
		m.transitions = map[string]int{}
	}
	m.transitions[trigger+"/"+outcome]++
}

func (m *recordingMetrics) ObserveOccurrenceMutation(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutations == nil {
		m.mutations = map[string]int{}
	}
	m.mutations[operation+"/"+outcome]++
}

// occurrenceStore wraps the memory store so tests can intercept reads and writes.
type occurrenceStore struct {
	*memory.Store
	afterLoad func()
	failIDs   map[string]bool
}

func (s *occurrenceStore) OccurrencesFrom(ctx context.Context, seriesID string, from scheduler.Date) ([]appointment.Occurrence, error) {
	occurrences, err := s.Store.OccurrencesFrom(ctx, seriesID, from)
	if s.afterLoad != nil {
		s.afterLoad()
	}
	return occurrences, err
}

func (s *occurrenceStore) UpdateOccurrence(ctx context.Context, id string, mutate func(*appointment.Occurrence) (bool, error)) (appointment.Occurrence, bool, error) {
	if s.failIDs[id] {
		return appointment.Occurrence{}, false, errStoreUnavailable
	}
	return s.Store.UpdateOccurrence(ctx, id, mutate)
}

// allocationStore wraps the memory store to fail writes for chosen ids.
type allocationStore struct {
	*memory.Store
	failIDs map[string]bool
}

func (s *allocationStore) UpdateAllocation(ctx context.Context, id string, mutate func(*allocation.Allocation) (bool, error)) (allocation.Allocation, bool, error) {
	if s.failIDs[id] {
		return allocation.Allocation{}, false, errStoreUnavailable
	}
	return s.Store.UpdateAllocation(ctx, id, mutate)
}

type appointmentHarness struct {
	store       *occurrenceStore
	clock       *fakeClock
	notifier    *recordingNotifier
	metrics     *recordingMetrics
	service     *AppointmentService
	series      SeriesDetails
	occurrences []string
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func at(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func date(year int, month time.Month, day int) scheduler.Date {
	return scheduler.NewDate(year, month, day)
}

func ptr[T any](v T) *T {
	return &v
}

func weeklySeriesInput(count int) SeriesInput {
	return SeriesInput{
		PrisonCode:   "MDI",
		CategoryCode: "CHAP",
		LocationID:   "loc-chapel",
		Frequency:    string(recurrence.FrequencyWeekly),
		Count:        count,
		StartDate:    date(2024, time.January, 1),
		StartTime:    scheduler.NewTimeOfDay(9, 0),
		EndTime:      scheduler.NewTimeOfDay(10, 30),
		PersonIDs:    []string{"A1234BC"},
	}
}

// newAppointmentHarness creates a six-week series starting Monday 2024-01-01
// 09:00-10:30 with the clock at 2023-12-20.
func newAppointmentHarness(t *testing.T) *appointmentHarness {
	t.Helper()

	store := &occurrenceStore{Store: memory.New()}
	clock := &fakeClock{current: at(2023, time.December, 20, 12, 0)}
	notifier := &recordingNotifier{}
	metrics := &recordingMetrics{}
	service := NewAppointmentService(
		store, store,
		recurrence.NewPlanner(0),
		appointment.NewResolver(time.UTC),
		appointment.NewReasonCatalog(),
		sequentialIDs("id"),
		clock.Now,
		WithLogger(quietLogger()), WithNotifier(notifier), WithMetrics(metrics),
	)

	details, err := service.CreateSeries(context.Background(), CreateSeriesParams{
		Principal: Principal{ClientName: "activities-ui"},
		Input:     weeklySeriesInput(6),
	})
	if err != nil {
		t.Fatalf("CreateSeries failed: %v", err)
	}
	notifier.reset()

	h := &appointmentHarness{store: store, clock: clock, notifier: notifier, metrics: metrics, service: service, series: details}
	for _, o := range details.Occurrences {
		h.occurrences = append(h.occurrences, o.ID)
	}
	return h
}

// occurrence returns the stored occurrence with 1-based sequence n.
func (h *appointmentHarness) occurrence(t *testing.T, n int) appointment.Occurrence {
	t.Helper()
	o, err := h.store.GetOccurrence(context.Background(), h.occurrences[n-1])
	if err != nil {
		t.Fatalf("GetOccurrence #%d failed: %v", n, err)
	}
	return o
}

func (h *appointmentHarness) id(n int) string {
	return h.occurrences[n-1]
}

func assertValidation(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := vErr.FieldErrors[field]; !ok {
		t.Fatalf("expected field error for %s, got %v", field, vErr.FieldErrors)
	}
}
