package application

import (
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/scheduler"
)

// Principal represents the authenticated client invoking a service method.
type Principal struct {
	ClientName string
}

// Actor returns the name recorded in audit fields.
func (p Principal) Actor() string {
	return p.ClientName
}

// SeriesInput captures caller provided appointment series fields.
type SeriesInput struct {
	PrisonCode    string
	CategoryCode  string
	OrganiserCode string
	InCell        bool
	LocationID    string
	// Frequency is empty for a single appointment.
	Frequency string
	Count     int
	StartDate scheduler.Date
	StartTime scheduler.TimeOfDay
	EndTime   scheduler.TimeOfDay
	Note      string
	PersonIDs []string
}

// CreateSeriesParams wraps the data required to create an appointment series.
type CreateSeriesParams struct {
	Principal Principal
	Input     SeriesInput
}

// SeriesDetails is a series together with its occurrences in chronological order.
type SeriesDetails struct {
	Series      appointment.Series
	Occurrences []appointment.Occurrence
}

// UpdateOccurrenceParams wraps a scoped occurrence edit.
type UpdateOccurrenceParams struct {
	Principal    Principal
	OccurrenceID string
	Scope        string
	Patch        appointment.Patch
}

// CancelOccurrenceParams wraps a scoped cancellation. A nil ReasonID selects
// the catalogue default.
type CancelOccurrenceParams struct {
	Principal    Principal
	OccurrenceID string
	Scope        string
	ReasonID     *int64
}

// UncancelOccurrenceParams wraps a scoped uncancellation.
type UncancelOccurrenceParams struct {
	Principal    Principal
	OccurrenceID string
	Scope        string
}

// MarkAttendanceParams records attendance for one occurrence.
type MarkAttendanceParams struct {
	Principal    Principal
	OccurrenceID string
	Attended     []string
	NotAttended  []string
}

// Outcome is the per-occurrence result of a series mutation.
type Outcome string

const (
	OutcomeApplied   Outcome = "APPLIED"
	OutcomeUnchanged Outcome = "UNCHANGED"
	OutcomeExcluded  Outcome = "EXCLUDED"
	OutcomeFailed    Outcome = "FAILED"
)

// OccurrenceResult reports what happened to one occurrence in scope.
type OccurrenceResult struct {
	OccurrenceID string
	Sequence     int
	Outcome      Outcome
	Reason       string
}

// MutationReport collects the per-occurrence results of one series mutation.
type MutationReport struct {
	TargetID string
	Scope    appointment.Scope
	Results  []OccurrenceResult
}

// IDs returns the occurrence ids with the given outcome in report order.
func (r MutationReport) IDs(outcome Outcome) []string {
	var ids []string
	for _, result := range r.Results {
		if result.Outcome == outcome {
			ids = append(ids, result.OccurrenceID)
		}
	}
	return ids
}

// Result returns the entry for occurrenceID.
func (r MutationReport) Result(occurrenceID string) (OccurrenceResult, bool) {
	for _, result := range r.Results {
		if result.OccurrenceID == occurrenceID {
			return result, true
		}
	}
	return OccurrenceResult{}, false
}

// AllocationInput captures caller provided allocation fields.
type AllocationInput struct {
	PrisonCode string
	PersonID   string
	ScheduleID string
	StartDate  scheduler.Date
	EndDate    *scheduler.Date
	PayBandID  string
}

// CreateAllocationParams wraps the data required to create an allocation.
type CreateAllocationParams struct {
	Principal Principal
	Input     AllocationInput
}

// SuspendAllocationParams suspends an allocation. A zero or past FromDate
// suspends immediately; a future date plans the suspension.
type SuspendAllocationParams struct {
	Principal    Principal
	AllocationID string
	FromDate     scheduler.Date
	Reason       string
	WithPay      bool
}

// ReactivateAllocationParams reactivates a suspended allocation.
type ReactivateAllocationParams struct {
	Principal    Principal
	AllocationID string
}

// DeallocateAllocationParams ends an allocation. A zero or past ToDate ends
// it immediately; a future date plans the deallocation.
type DeallocateAllocationParams struct {
	Principal    Principal
	AllocationID string
	ToDate       scheduler.Date
	Reason       string
}

// PlannedChangeSummary counts the work done by one planned-change run.
// Deferred counts due suspensions whose allocation is not currently active;
// they stay planned and are retried on the next run.
type PlannedChangeSummary struct {
	Suspended   int
	Deallocated int
	Deferred    int
	Failed      int
}
