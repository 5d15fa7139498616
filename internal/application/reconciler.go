package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/events"
	"github.com/example/activities-management/internal/notify"
	"github.com/example/activities-management/internal/scheduler"
)

const (
	reconcilerName     = "AllocationReconciler"
	releaseHandlerName = "AttendeeReleaseHandler"

	defaultTemporaryReleaseReason = "Temporarily released or transferred"
	defaultPermanentReleaseReason = "Released from prison"
)

// AllocationReconciler applies facility movements to every allocation a
// person holds at the facility. Redelivered events leave allocations
// unchanged because automatic triggers are no-ops from states they do not
// apply to.
type AllocationReconciler struct {
	allocations AllocationRepository
	location    *time.Location
	now         func() time.Time
	logger      *slog.Logger
	notifier    Notifier
	metrics     Metrics
}

// NewAllocationReconciler wires dependencies for event reconciliation.
func NewAllocationReconciler(allocations AllocationRepository, loc *time.Location, now func() time.Time, opts ...ServiceOption) *AllocationReconciler {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	o := buildOptions(opts)
	return &AllocationReconciler{
		allocations: allocations,
		location:    loc,
		now:         now,
		logger:      o.logger,
		notifier:    o.notifier,
		metrics:     o.metrics,
	}
}

// HandleEvent implements events.Handler. Allocations changed before a failed
// write are still announced; the error is returned so the message is
// redelivered and the remaining allocations are retried.
func (r *AllocationReconciler) HandleEvent(ctx context.Context, event events.Event) error {
	if r == nil || r.allocations == nil {
		return fmt.Errorf("allocation reconciler not configured")
	}
	logger := serviceLogger(ctx, r.logger, reconcilerName, "HandleEvent",
		"event_type", string(event.Type()), "person_id", event.PersonID, "facility_code", event.FacilityCode)

	at := event.OccurredAt
	if at.IsZero() {
		at = r.now()
	}
	trigger, ok := triggerFor(event, at)
	if !ok {
		return nil
	}

	held, err := r.allocations.ListPersonAllocations(ctx, event.FacilityCode, event.PersonID)
	if err != nil {
		return fmt.Errorf("list allocations: %w", err)
	}

	var amended []notify.Event
	var errs []error
	for _, a := range held {
		var changed bool
		_, _, err := r.allocations.UpdateAllocation(ctx, a.ID, func(current *allocation.Allocation) (bool, error) {
			next, transitioned, err := allocation.Apply(*current, trigger, r.location)
			if err != nil {
				return false, err
			}
			changed = transitioned
			if !transitioned && next.LastMovementAt.Equal(current.LastMovementAt) {
				return false, nil
			}
			*current = next
			return true, nil
		})
		switch {
		case err != nil:
			r.metrics.ObserveAllocationTransition(string(trigger.Kind), "failed")
			errs = append(errs, fmt.Errorf("allocation %s: %w", a.ID, err))
			logger.Error("allocation not reconciled", "allocation_id", a.ID, "error", err, "error_kind", ErrorKind(err))
		case changed:
			r.metrics.ObserveAllocationTransition(string(trigger.Kind), "applied")
			amended = append(amended, notify.Event{Type: notify.AllocationAmended, EntityID: a.ID, OccurredAt: r.now()})
		default:
			r.metrics.ObserveAllocationTransition(string(trigger.Kind), "noop")
		}
	}

	r.notifier.Notify(ctx, amended...)
	logger.Info("allocations reconciled", "trigger", string(trigger.Kind), "allocations", len(held), "amended", len(amended))
	return errors.Join(errs...)
}

func triggerFor(event events.Event, at time.Time) (allocation.Trigger, bool) {
	switch payload := event.Payload.(type) {
	case events.TemporaryRelease:
		return allocation.AutoSuspend(reasonOr(payload.Reason, defaultTemporaryReleaseReason), at), true
	case events.Returned:
		return allocation.AutoReactivate(at), true
	case events.PermanentRelease:
		return allocation.AutoDeallocate(reasonOr(payload.Reason, defaultPermanentReleaseReason), at), true
	default:
		return allocation.Trigger{}, false
	}
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}

// AttendeeReleaseHandler takes a permanently released person off every
// unstarted, uncancelled occurrence at the facility.
type AttendeeReleaseHandler struct {
	occurrences OccurrenceRepository
	resolver    *appointment.Resolver
	now         func() time.Time
	logger      *slog.Logger
	notifier    Notifier
	metrics     Metrics
}

// NewAttendeeReleaseHandler wires dependencies for attendee removal.
func NewAttendeeReleaseHandler(occurrences OccurrenceRepository, resolver *appointment.Resolver, now func() time.Time, opts ...ServiceOption) *AttendeeReleaseHandler {
	if resolver == nil {
		resolver = appointment.NewResolver(time.UTC)
	}
	if now == nil {
		now = time.Now
	}
	o := buildOptions(opts)
	return &AttendeeReleaseHandler{
		occurrences: occurrences,
		resolver:    resolver,
		now:         now,
		logger:      o.logger,
		notifier:    o.notifier,
		metrics:     o.metrics,
	}
}

// HandleEvent implements events.Handler. Events other than a permanent
// release are ignored.
func (h *AttendeeReleaseHandler) HandleEvent(ctx context.Context, event events.Event) error {
	if h == nil || h.occurrences == nil {
		return fmt.Errorf("attendee release handler not configured")
	}
	if _, ok := event.Payload.(events.PermanentRelease); !ok {
		return nil
	}
	logger := serviceLogger(ctx, h.logger, releaseHandlerName, "HandleEvent", "person_id", event.PersonID, "facility_code", event.FacilityCode)

	now := h.now()
	loc := h.resolver.Location()
	booked, err := h.occurrences.ListPersonOccurrences(ctx, event.FacilityCode, event.PersonID, scheduler.Today(now, loc))
	if err != nil {
		return fmt.Errorf("list occurrences: %w", err)
	}

	change := appointment.Change{At: now, By: allocation.SystemActor, Location: loc}
	var updated []notify.Event
	var errs []error
	for _, o := range booked {
		_, changed, err := h.occurrences.UpdateOccurrence(ctx, o.ID, func(current *appointment.Occurrence) (bool, error) {
			if _, ok := h.resolver.Admit(*current, h.now(), appointment.EditEligibility); !ok {
				return false, nil
			}
			if !appointment.RemoveAttendee(current, event.PersonID, appointment.RemovalReasonReleased, change) {
				return false, nil
			}
			at := change.At
			current.UpdatedAt = &at
			current.UpdatedBy = change.By
			return true, nil
		})
		switch {
		case err != nil:
			h.metrics.ObserveOccurrenceMutation("release", metricOutcome(OutcomeFailed))
			errs = append(errs, fmt.Errorf("occurrence %s: %w", o.ID, err))
			logger.Error("attendee not removed", "occurrence_id", o.ID, "error", err, "error_kind", ErrorKind(err))
		case changed:
			h.metrics.ObserveOccurrenceMutation("release", metricOutcome(OutcomeApplied))
			updated = append(updated, notify.Event{Type: notify.OccurrenceUpdated, EntityID: o.ID, OccurredAt: now})
		}
	}

	h.notifier.Notify(ctx, updated...)
	logger.Info("released person removed from appointments", "occurrences", len(updated))
	return errors.Join(errs...)
}
