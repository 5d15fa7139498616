package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/notify"
	"github.com/example/activities-management/internal/scheduler"
)

const allocationServiceName = "AllocationService"

// AllocationService applies administrative lifecycle changes to allocations.
type AllocationService struct {
	allocations AllocationRepository
	location    *time.Location
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	notifier    Notifier
	metrics     Metrics
}

// NewAllocationService wires dependencies for allocation operations. Dates
// are evaluated in loc, the facility time zone.
func NewAllocationService(allocations AllocationRepository, loc *time.Location, idGenerator func() string, now func() time.Time, opts ...ServiceOption) *AllocationService {
	if loc == nil {
		loc = time.UTC
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	o := buildOptions(opts)
	return &AllocationService{
		allocations: allocations,
		location:    loc,
		idGenerator: idGenerator,
		now:         now,
		logger:      o.logger,
		notifier:    o.notifier,
		metrics:     o.metrics,
	}
}

// CreateAllocation validates and stores a new active allocation.
func (s *AllocationService) CreateAllocation(ctx context.Context, params CreateAllocationParams) (allocation.Allocation, error) {
	if err := s.ready(); err != nil {
		return allocation.Allocation{}, err
	}
	input := params.Input
	logger := serviceLogger(ctx, s.logger, allocationServiceName, "CreateAllocation", "prison_code", input.PrisonCode, "person_id", input.PersonID)

	vErr := &ValidationError{}
	if strings.TrimSpace(input.PrisonCode) == "" {
		vErr.add("prison_code", "prison code is required")
	}
	if strings.TrimSpace(input.PersonID) == "" {
		vErr.add("person_id", "person is required")
	}
	if strings.TrimSpace(input.ScheduleID) == "" {
		vErr.add("schedule_id", "activity schedule is required")
	}
	if input.StartDate.IsZero() {
		vErr.add("start_date", "start date is required")
	}
	if input.EndDate != nil && !input.StartDate.IsZero() && input.EndDate.Before(input.StartDate) {
		vErr.add("end_date", "end date must not be before start date")
	}
	if vErr.HasErrors() {
		return allocation.Allocation{}, vErr
	}

	now := s.now()
	created := allocation.Allocation{
		ID:         s.idGenerator(),
		PersonID:   strings.TrimSpace(input.PersonID),
		PrisonCode: strings.TrimSpace(input.PrisonCode),
		ScheduleID: strings.TrimSpace(input.ScheduleID),
		StartDate:  input.StartDate,
		EndDate:    input.EndDate,
		Status:     allocation.StatusActive,
		PayBandID:  input.PayBandID,
		History:    []allocation.StatusChange{},
		CreatedAt:  now,
		CreatedBy:  params.Principal.Actor(),
	}

	if err := s.allocations.CreateAllocation(ctx, created); err != nil {
		logger.Error("failed to store allocation", "error", err, "error_kind", ErrorKind(err))
		return allocation.Allocation{}, mapRepoError(err)
	}

	s.notifier.Notify(ctx, notify.Event{Type: notify.AllocationCreated, EntityID: created.ID, OccurredAt: now})
	logger.Info("allocation created", "allocation_id", created.ID)
	return created, nil
}

// GetAllocation returns a single allocation.
func (s *AllocationService) GetAllocation(ctx context.Context, id string) (allocation.Allocation, error) {
	if err := s.ready(); err != nil {
		return allocation.Allocation{}, err
	}
	a, err := s.allocations.GetAllocation(ctx, id)
	if err != nil {
		return allocation.Allocation{}, mapRepoError(err)
	}
	return a, nil
}

// SuspendAllocation suspends an active allocation now, or plans the
// suspension when FromDate is in the future.
func (s *AllocationService) SuspendAllocation(ctx context.Context, params SuspendAllocationParams) (allocation.Allocation, error) {
	if err := s.ready(); err != nil {
		return allocation.Allocation{}, err
	}
	logger := serviceLogger(ctx, s.logger, allocationServiceName, "SuspendAllocation", "allocation_id", params.AllocationID)

	if strings.TrimSpace(params.Reason) == "" {
		return allocation.Allocation{}, fieldError("reason", "suspension reason is required")
	}

	now := s.now()
	actor := params.Principal.Actor()
	if s.isFuture(params.FromDate, now) {
		plan := allocation.PlannedSuspension{
			From:      params.FromDate,
			Reason:    params.Reason,
			WithPay:   params.WithPay,
			PlannedBy: actor,
			PlannedAt: now,
		}
		return s.update(ctx, logger, params.AllocationID, allocation.TriggerAdminSuspend, true, now, func(a *allocation.Allocation) (bool, error) {
			next, err := allocation.PlanSuspension(*a, plan)
			if err != nil {
				return false, err
			}
			*a = next
			return true, nil
		})
	}

	trigger := allocation.AdminSuspend(params.Reason, params.WithPay, actor, now)
	return s.update(ctx, logger, params.AllocationID, trigger.Kind, false, now, s.transition(trigger))
}

// ReactivateAllocation returns a suspended allocation to ACTIVE.
func (s *AllocationService) ReactivateAllocation(ctx context.Context, params ReactivateAllocationParams) (allocation.Allocation, error) {
	if err := s.ready(); err != nil {
		return allocation.Allocation{}, err
	}
	logger := serviceLogger(ctx, s.logger, allocationServiceName, "ReactivateAllocation", "allocation_id", params.AllocationID)

	now := s.now()
	trigger := allocation.AdminReactivate(params.Principal.Actor(), now)
	return s.update(ctx, logger, params.AllocationID, trigger.Kind, false, now, s.transition(trigger))
}

// DeallocateAllocation ends an allocation now, or plans the end when ToDate
// is in the future.
func (s *AllocationService) DeallocateAllocation(ctx context.Context, params DeallocateAllocationParams) (allocation.Allocation, error) {
	if err := s.ready(); err != nil {
		return allocation.Allocation{}, err
	}
	logger := serviceLogger(ctx, s.logger, allocationServiceName, "DeallocateAllocation", "allocation_id", params.AllocationID)

	if strings.TrimSpace(params.Reason) == "" {
		return allocation.Allocation{}, fieldError("reason", "deallocation reason is required")
	}

	now := s.now()
	actor := params.Principal.Actor()
	toDate := params.ToDate
	if toDate.IsZero() {
		toDate = scheduler.Today(now, s.location)
	}
	validate := func(a allocation.Allocation) error {
		if toDate.Before(a.StartDate) {
			return fieldError("to_date", "end date must not be before the allocation start date")
		}
		return nil
	}

	if s.isFuture(toDate, now) {
		plan := allocation.PlannedDeallocation{Date: toDate, Reason: params.Reason, PlannedBy: actor, PlannedAt: now}
		return s.update(ctx, logger, params.AllocationID, allocation.TriggerAdminDeallocate, true, now, func(a *allocation.Allocation) (bool, error) {
			if err := validate(*a); err != nil {
				return false, err
			}
			next, err := allocation.PlanDeallocation(*a, plan)
			if err != nil {
				return false, err
			}
			*a = next
			return true, nil
		})
	}

	trigger := allocation.AdminDeallocate(params.Reason, actor, now, &toDate)
	apply := s.transition(trigger)
	return s.update(ctx, logger, params.AllocationID, trigger.Kind, false, now, func(a *allocation.Allocation) (bool, error) {
		if err := validate(*a); err != nil {
			return false, err
		}
		return apply(a)
	})
}

// ApplyPlannedChanges applies every planned suspension and deallocation that
// has fallen due. A deallocation due on the same day as a suspension wins.
func (s *AllocationService) ApplyPlannedChanges(ctx context.Context) (PlannedChangeSummary, error) {
	if err := s.ready(); err != nil {
		return PlannedChangeSummary{}, err
	}
	logger := serviceLogger(ctx, s.logger, allocationServiceName, "ApplyPlannedChanges")

	candidates, err := s.allocations.ListAllocationsWithPlannedChanges(ctx)
	if err != nil {
		return PlannedChangeSummary{}, mapRepoError(err)
	}

	now := s.now()
	today := scheduler.Today(now, s.location)
	var summary PlannedChangeSummary
	var events []notify.Event
	var errs []error

	for _, candidate := range candidates {
		var applied allocation.TriggerKind
		deferred := false
		_, changed, err := s.allocations.UpdateAllocation(ctx, candidate.ID, func(a *allocation.Allocation) (bool, error) {
			if plan := a.PlannedDeallocation; plan != nil && !plan.Date.After(today) {
				date := plan.Date
				next, changed, err := allocation.Apply(*a, allocation.AdminDeallocate(plan.Reason, plan.PlannedBy, now, &date), s.location)
				if err != nil || !changed {
					return false, err
				}
				applied = allocation.TriggerAdminDeallocate
				*a = next
				return true, nil
			}
			if plan := a.PlannedSuspension; plan != nil && !plan.From.After(today) {
				if !allocation.Allows(a.Status, allocation.TriggerAdminSuspend) {
					deferred = true
					return false, nil
				}
				next, changed, err := allocation.Apply(*a, allocation.AdminSuspend(plan.Reason, plan.WithPay, plan.PlannedBy, now), s.location)
				if err != nil || !changed {
					return false, err
				}
				applied = allocation.TriggerAdminSuspend
				*a = next
				return true, nil
			}
			return false, nil
		})
		switch {
		case err != nil:
			summary.Failed++
			errs = append(errs, fmt.Errorf("allocation %s: %w", candidate.ID, err))
			logger.Error("planned change failed", "allocation_id", candidate.ID, "error", err, "error_kind", ErrorKind(err))
		case deferred:
			summary.Deferred++
		case changed:
			if applied == allocation.TriggerAdminDeallocate {
				summary.Deallocated++
			} else {
				summary.Suspended++
			}
			s.metrics.ObserveAllocationTransition(string(applied), "applied")
			events = append(events, notify.Event{Type: notify.AllocationAmended, EntityID: candidate.ID, OccurredAt: now})
		}
	}

	s.notifier.Notify(ctx, events...)
	logger.Info("planned changes applied",
		"suspended", summary.Suspended,
		"deallocated", summary.Deallocated,
		"deferred", summary.Deferred,
		"failed", summary.Failed,
	)
	return summary, errors.Join(errs...)
}

func (s *AllocationService) transition(trigger allocation.Trigger) func(a *allocation.Allocation) (bool, error) {
	return func(a *allocation.Allocation) (bool, error) {
		next, changed, err := allocation.Apply(*a, trigger, s.location)
		if err != nil || !changed {
			return false, err
		}
		*a = next
		return true, nil
	}
}

func (s *AllocationService) update(ctx context.Context, logger *slog.Logger, id string, kind allocation.TriggerKind, planned bool, now time.Time, mutate func(a *allocation.Allocation) (bool, error)) (allocation.Allocation, error) {
	updated, changed, err := s.allocations.UpdateAllocation(ctx, id, mutate)
	if err != nil {
		err = mapTransitionError(mapRepoError(err))
		outcome := "failed"
		if errors.Is(err, ErrConflict) {
			outcome = "rejected"
		}
		s.metrics.ObserveAllocationTransition(string(kind), outcome)
		logger.Warn("allocation not updated", "trigger", string(kind), "error", err, "error_kind", ErrorKind(err))
		return allocation.Allocation{}, err
	}
	if !changed {
		s.metrics.ObserveAllocationTransition(string(kind), "noop")
		return updated, nil
	}

	outcome := "applied"
	if planned {
		outcome = "planned"
	}
	s.metrics.ObserveAllocationTransition(string(kind), outcome)
	s.notifier.Notify(ctx, notify.Event{Type: notify.AllocationAmended, EntityID: updated.ID, OccurredAt: now})
	logger.Info("allocation updated", "trigger", string(kind), "outcome", outcome, "status", string(updated.Status))
	return updated, nil
}

func (s *AllocationService) isFuture(date scheduler.Date, now time.Time) bool {
	return !date.IsZero() && date.After(scheduler.Today(now, s.location))
}

func (s *AllocationService) ready() error {
	if s == nil {
		return fmt.Errorf("AllocationService is nil")
	}
	if s.allocations == nil {
		return fmt.Errorf("allocation repository not configured")
	}
	return nil
}
