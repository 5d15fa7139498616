package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/application"
	"github.com/example/activities-management/internal/recurrence"
	"github.com/example/activities-management/internal/scheduler"
)

var allocationCounter uint64

// referenceTime sits before the default series start so every fixture
// occurrence is in the future.
var referenceTime = time.Date(2023, time.December, 20, 12, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferencePrincipal is the API client recorded by fixtures.
func ReferencePrincipal() application.Principal {
	return application.Principal{ClientName: "activities-ui"}
}

// ---------------------------- Series fixtures ----------------------------

// SeriesOption configures a generated series input.
type SeriesOption func(*application.SeriesInput)

// NewSeriesInput returns a six week weekly series starting Monday 2024-01-01
// 09:00-10:30 for one person.
func NewSeriesInput(opts ...SeriesOption) application.SeriesInput {
	input := application.SeriesInput{
		PrisonCode:   "MDI",
		CategoryCode: "CHAP",
		LocationID:   "loc-chapel",
		Frequency:    string(recurrence.FrequencyWeekly),
		Count:        6,
		StartDate:    scheduler.NewDate(2024, time.January, 1),
		StartTime:    scheduler.NewTimeOfDay(9, 0),
		EndTime:      scheduler.NewTimeOfDay(10, 30),
		PersonIDs:    []string{"A1234BC"},
	}
	for _, opt := range opts {
		opt(&input)
	}
	return input
}

// WithFrequency sets the recurrence frequency and occurrence count.
func WithFrequency(frequency recurrence.Frequency, count int) SeriesOption {
	return func(in *application.SeriesInput) {
		in.Frequency = string(frequency)
		in.Count = count
	}
}

// WithSingleAppointment clears the recurrence.
func WithSingleAppointment() SeriesOption {
	return func(in *application.SeriesInput) {
		in.Frequency = ""
		in.Count = 0
	}
}

// WithSeriesStart sets the first date and the time window.
func WithSeriesStart(date scheduler.Date, start, end scheduler.TimeOfDay) SeriesOption {
	return func(in *application.SeriesInput) {
		in.StartDate = date
		in.StartTime = start
		in.EndTime = end
	}
}

// WithAttendees replaces the attendee list.
func WithAttendees(personIDs ...string) SeriesOption {
	return func(in *application.SeriesInput) {
		in.PersonIDs = append([]string(nil), personIDs...)
	}
}

// WithPrison sets the prison code.
func WithPrison(code string) SeriesOption {
	return func(in *application.SeriesInput) {
		in.PrisonCode = code
	}
}

// -------------------------- Allocation fixtures --------------------------

// AllocationOption configures a generated allocation.
type AllocationOption func(*allocation.Allocation)

// NewAllocation returns an ACTIVE allocation with a unique id for seeding
// repositories directly.
func NewAllocation(opts ...AllocationOption) allocation.Allocation {
	idx := atomic.AddUint64(&allocationCounter, 1)
	a := allocation.Allocation{
		ID:         fmt.Sprintf("alloc-%03d", idx),
		PersonID:   "A1234BC",
		PrisonCode: "MDI",
		ScheduleID: "sched-1",
		StartDate:  scheduler.NewDate(2023, time.December, 1),
		Status:     allocation.StatusActive,
		History:    []allocation.StatusChange{},
		CreatedAt:  referenceTime,
		CreatedBy:  ReferencePrincipal().Actor(),
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithAllocationID overrides the generated id.
func WithAllocationID(id string) AllocationOption {
	return func(a *allocation.Allocation) {
		a.ID = id
	}
}

// WithPerson sets the allocated person.
func WithPerson(personID string) AllocationOption {
	return func(a *allocation.Allocation) {
		a.PersonID = personID
	}
}

// WithStatus sets the status without recording history.
func WithStatus(status allocation.Status) AllocationOption {
	return func(a *allocation.Allocation) {
		a.Status = status
	}
}

// WithPlannedSuspension attaches a planned suspension.
func WithPlannedSuspension(from scheduler.Date, reason string) AllocationOption {
	return func(a *allocation.Allocation) {
		a.PlannedSuspension = &allocation.PlannedSuspension{
			From:      from,
			Reason:    reason,
			PlannedBy: ReferencePrincipal().Actor(),
			PlannedAt: referenceTime,
		}
	}
}

// WithPlannedDeallocation attaches a planned deallocation.
func WithPlannedDeallocation(date scheduler.Date, reason string) AllocationOption {
	return func(a *allocation.Allocation) {
		a.PlannedDeallocation = &allocation.PlannedDeallocation{
			Date:      date,
			Reason:    reason,
			PlannedBy: ReferencePrincipal().Actor(),
			PlannedAt: referenceTime,
		}
	}
}

// NewAllocationInput returns caller input matching NewAllocation's defaults.
func NewAllocationInput(personID string) application.AllocationInput {
	return application.AllocationInput{
		PrisonCode: "MDI",
		PersonID:   personID,
		ScheduleID: "sched-1",
		StartDate:  scheduler.NewDate(2023, time.December, 1),
	}
}
