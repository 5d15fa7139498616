package allocation

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/activities-management/internal/scheduler"
)

// TriggerKind names an allocation transition.
type TriggerKind string

const (
	TriggerAdminSuspend    TriggerKind = "ADMIN_SUSPEND"
	TriggerAdminReactivate TriggerKind = "ADMIN_REACTIVATE"
	TriggerAdminDeallocate TriggerKind = "ADMIN_DEALLOCATE"
	TriggerAutoSuspend     TriggerKind = "AUTO_SUSPEND"
	TriggerAutoReactivate  TriggerKind = "AUTO_REACTIVATE"
	TriggerAutoDeallocate  TriggerKind = "AUTO_DEALLOCATE"
)

// ErrInvalidTransition indicates an administrative trigger from a state that does not allow it.
var ErrInvalidTransition = errors.New("allocation: invalid transition")

// ErrUnknownTrigger indicates a trigger kind without a transition rule.
var ErrUnknownTrigger = errors.New("allocation: unknown trigger")

// Trigger is one request to move an allocation between states.
type Trigger struct {
	Kind    TriggerKind
	Reason  string
	WithPay bool
	Actor   string
	At      time.Time
	// EndDate is the effective end for deallocation triggers. When nil the
	// calendar date of At is used.
	EndDate *scheduler.Date
}

// AdminSuspend builds an administrative suspension trigger.
func AdminSuspend(reason string, withPay bool, actor string, at time.Time) Trigger {
	return Trigger{Kind: TriggerAdminSuspend, Reason: reason, WithPay: withPay, Actor: actor, At: at}
}

// AdminReactivate builds an administrative reactivation trigger.
func AdminReactivate(actor string, at time.Time) Trigger {
	return Trigger{Kind: TriggerAdminReactivate, Actor: actor, At: at}
}

// AdminDeallocate builds an administrative deallocation trigger.
func AdminDeallocate(reason, actor string, at time.Time, endDate *scheduler.Date) Trigger {
	return Trigger{Kind: TriggerAdminDeallocate, Reason: reason, Actor: actor, At: at, EndDate: endDate}
}

// AutoSuspend builds the trigger raised by a temporary release.
func AutoSuspend(reason string, at time.Time) Trigger {
	return Trigger{Kind: TriggerAutoSuspend, Reason: reason, Actor: SystemActor, At: at}
}

// AutoReactivate builds the trigger raised by a return to the facility.
func AutoReactivate(at time.Time) Trigger {
	return Trigger{Kind: TriggerAutoReactivate, Actor: SystemActor, At: at}
}

// AutoDeallocate builds the trigger raised by a permanent release.
func AutoDeallocate(reason string, at time.Time) Trigger {
	return Trigger{Kind: TriggerAutoDeallocate, Reason: reason, Actor: SystemActor, At: at}
}

// SystemActor is recorded for transitions driven by external events.
const SystemActor = "Activities Management Service"

type transition struct {
	from map[Status]struct{}
	to   func(Trigger) Status
	// strict triggers report a disallowed origin as an error; the others
	// treat it as a no-op.
	strict bool
	// movement triggers come from facility movement events and advance
	// LastMovementAt.
	movement bool
	// ordered movements older than LastMovementAt are ignored.
	ordered bool
}

var live = toSet(StatusActive, StatusAutoSuspended, StatusSuspended, StatusSuspendedWithPay)

var transitions = map[TriggerKind]transition{
	TriggerAdminSuspend: {
		from: toSet(StatusActive),
		to: func(t Trigger) Status {
			if t.WithPay {
				return StatusSuspendedWithPay
			}
			return StatusSuspended
		},
		strict: true,
	},
	TriggerAdminReactivate: {
		from:   toSet(StatusSuspended, StatusSuspendedWithPay, StatusAutoSuspended),
		to:     constant(StatusActive),
		strict: true,
	},
	TriggerAdminDeallocate: {
		from:   live,
		to:     constant(StatusEnded),
		strict: true,
	},
	TriggerAutoSuspend: {
		from:     toSet(StatusActive),
		to:       constant(StatusAutoSuspended),
		movement: true,
		ordered:  true,
	},
	TriggerAutoReactivate: {
		from:     toSet(StatusAutoSuspended),
		to:       constant(StatusActive),
		movement: true,
		ordered:  true,
	},
	// ENDED absorbs every later trigger, so a late permanent release still
	// converges on the same state.
	TriggerAutoDeallocate: {
		from:     live,
		to:       constant(StatusEnded),
		movement: true,
	},
}

// Allows reports whether kind would change an allocation in status s.
func Allows(s Status, kind TriggerKind) bool {
	rule, ok := transitions[kind]
	if !ok {
		return false
	}
	_, allowed := rule.from[s]
	return allowed
}

// Apply runs trigger t against a. It returns the next allocation and whether
// its status changed. A no-op adds no history entry, although a movement
// newer than any seen before still advances LastMovementAt on the returned
// allocation.
func Apply(a Allocation, t Trigger, loc *time.Location) (Allocation, bool, error) {
	rule, ok := transitions[t.Kind]
	if !ok {
		return a, false, fmt.Errorf("%w: %q", ErrUnknownTrigger, t.Kind)
	}
	if rule.ordered && t.At.Before(a.LastMovementAt) {
		return a, false, nil
	}

	next := a
	if rule.movement && t.At.After(a.LastMovementAt) {
		next = a.Clone()
		next.LastMovementAt = t.At
	}
	if _, allowed := rule.from[a.Status]; !allowed {
		if rule.strict {
			return a, false, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, t.Kind, a.Status)
		}
		return next, false, nil
	}

	next = next.Clone()
	next.Status = rule.to(t)

	switch {
	case next.Status == StatusEnded:
		end := scheduler.Today(t.At, loc)
		if t.EndDate != nil {
			end = *t.EndDate
		}
		if next.EndDate == nil || end.Before(*next.EndDate) {
			next.EndDate = &end
		}
		next.Deallocation = &Deallocation{At: t.At, Reason: t.Reason, By: t.Actor}
		next.Suspension = nil
		next.PlannedSuspension = nil
		next.PlannedDeallocation = nil
	case next.Status.IsSuspended():
		next.Suspension = &Suspension{At: t.At, Reason: t.Reason, By: t.Actor, WithPay: next.Status == StatusSuspendedWithPay}
		next.PlannedSuspension = nil
	case next.Status == StatusActive:
		next.Suspension = nil
	}

	next.History = append(next.History, StatusChange{
		At:      t.At,
		From:    a.Status,
		To:      next.Status,
		Trigger: t.Kind,
		Reason:  t.Reason,
		Actor:   t.Actor,
	})
	return next, true, nil
}

// PlanSuspension records a suspension starting on plan.From. Only active
// allocations can have a suspension planned.
func PlanSuspension(a Allocation, plan PlannedSuspension) (Allocation, error) {
	if a.Status != StatusActive {
		return a, fmt.Errorf("%w: cannot plan suspension from %s", ErrInvalidTransition, a.Status)
	}
	next := a.Clone()
	next.PlannedSuspension = &plan
	return next, nil
}

// PlanDeallocation records an end on plan.Date.
func PlanDeallocation(a Allocation, plan PlannedDeallocation) (Allocation, error) {
	if a.Status == StatusEnded {
		return a, fmt.Errorf("%w: allocation already ended", ErrInvalidTransition)
	}
	next := a.Clone()
	next.PlannedDeallocation = &plan
	return next, nil
}

func constant(s Status) func(Trigger) Status {
	return func(Trigger) Status { return s }
}

func toSet(values ...Status) map[Status]struct{} {
	set := make(map[Status]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
