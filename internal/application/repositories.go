package application

import (
	"context"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/notify"
	"github.com/example/activities-management/internal/scheduler"
)

// SeriesRepository stores appointment series together with the occurrences
// materialised for them.
type SeriesRepository interface {
	CreateSeries(ctx context.Context, series appointment.Series, occurrences []appointment.Occurrence) error
	GetSeries(ctx context.Context, id string) (appointment.Series, error)
}

// OccurrenceRepository reads and updates individual occurrences.
//
// UpdateOccurrence runs mutate while the occurrence is locked against other
// writers. mutate reports whether it changed the occurrence; nothing is
// written when it returns false or an error.
type OccurrenceRepository interface {
	GetOccurrence(ctx context.Context, id string) (appointment.Occurrence, error)
	ListSeriesOccurrences(ctx context.Context, seriesID string) ([]appointment.Occurrence, error)
	// OccurrencesFrom returns occurrences of the series dated on or after from.
	OccurrencesFrom(ctx context.Context, seriesID string, from scheduler.Date) ([]appointment.Occurrence, error)
	// ListPersonOccurrences returns occurrences at prisonCode dated on or after
	// from that have personID as an active attendee.
	ListPersonOccurrences(ctx context.Context, prisonCode, personID string, from scheduler.Date) ([]appointment.Occurrence, error)
	UpdateOccurrence(ctx context.Context, id string, mutate func(o *appointment.Occurrence) (bool, error)) (appointment.Occurrence, bool, error)
}

// AllocationRepository reads and updates allocations. UpdateAllocation has
// the same locking contract as UpdateOccurrence.
type AllocationRepository interface {
	CreateAllocation(ctx context.Context, a allocation.Allocation) error
	GetAllocation(ctx context.Context, id string) (allocation.Allocation, error)
	ListPersonAllocations(ctx context.Context, prisonCode, personID string) ([]allocation.Allocation, error)
	ListAllocationsWithPlannedChanges(ctx context.Context) ([]allocation.Allocation, error)
	UpdateAllocation(ctx context.Context, id string, mutate func(a *allocation.Allocation) (bool, error)) (allocation.Allocation, bool, error)
}

// Notifier announces committed changes. Implementations must not block the
// caller on delivery and never report failures back.
type Notifier interface {
	Notify(ctx context.Context, events ...notify.Event)
}

// Metrics records domain outcomes.
type Metrics interface {
	ObserveAllocationTransition(trigger, outcome string)
	ObserveOccurrenceMutation(operation, outcome string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, ...notify.Event) {}

type noopMetrics struct{}

func (noopMetrics) ObserveAllocationTransition(string, string) {}
func (noopMetrics) ObserveOccurrenceMutation(string, string)   {}
