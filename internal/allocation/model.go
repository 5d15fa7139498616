// Package allocation tracks a person's participation in an activity
// schedule and the lifecycle transitions applied to it.
package allocation

import (
	"time"

	"github.com/example/activities-management/internal/scheduler"
)

// Status is the live state of an allocation.
type Status string

const (
	StatusActive           Status = "ACTIVE"
	StatusAutoSuspended    Status = "AUTO_SUSPENDED"
	StatusSuspended        Status = "SUSPENDED"
	StatusSuspendedWithPay Status = "SUSPENDED_WITH_PAY"
	StatusEnded            Status = "ENDED"
)

// IsSuspended reports whether s is any suspended status.
func (s Status) IsSuspended() bool {
	return s == StatusAutoSuspended || s == StatusSuspended || s == StatusSuspendedWithPay
}

// Suspension describes the current suspension of an allocation.
type Suspension struct {
	At      time.Time `json:"at"`
	Reason  string    `json:"reason"`
	By      string    `json:"by"`
	WithPay bool      `json:"withPay"`
}

// Deallocation describes how an allocation ended.
type Deallocation struct {
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
	By     string    `json:"by"`
}

// PlannedSuspension is a suspension scheduled to start on a future date.
type PlannedSuspension struct {
	From      scheduler.Date `json:"from"`
	Reason    string         `json:"reason"`
	WithPay   bool           `json:"withPay"`
	PlannedBy string         `json:"plannedBy"`
	PlannedAt time.Time      `json:"plannedAt"`
}

// PlannedDeallocation is an end scheduled for a future date.
type PlannedDeallocation struct {
	Date      scheduler.Date `json:"date"`
	Reason    string         `json:"reason"`
	PlannedBy string         `json:"plannedBy"`
	PlannedAt time.Time      `json:"plannedAt"`
}

// StatusChange is one entry of the allocation audit trail.
type StatusChange struct {
	At      time.Time   `json:"at"`
	From    Status      `json:"from"`
	To      Status      `json:"to"`
	Trigger TriggerKind `json:"trigger"`
	Reason  string      `json:"reason,omitempty"`
	Actor   string      `json:"actor"`
}

// Allocation binds a person to an activity schedule. Allocations are never
// deleted; ENDED is terminal.
type Allocation struct {
	ID                  string               `json:"id"`
	PersonID            string               `json:"personId"`
	PrisonCode          string               `json:"prisonCode"`
	ScheduleID          string               `json:"scheduleId"`
	StartDate           scheduler.Date       `json:"startDate"`
	EndDate             *scheduler.Date      `json:"endDate,omitempty"`
	Status              Status               `json:"status"`
	PayBandID           string               `json:"payBandId,omitempty"`
	Suspension          *Suspension          `json:"suspension,omitempty"`
	Deallocation        *Deallocation        `json:"deallocation,omitempty"`
	PlannedSuspension   *PlannedSuspension   `json:"plannedSuspension,omitempty"`
	PlannedDeallocation *PlannedDeallocation `json:"plannedDeallocation,omitempty"`
	History             []StatusChange       `json:"history"`
	// LastMovementAt is the newest facility movement applied or observed.
	// Movements older than it are stale.
	LastMovementAt time.Time `json:"lastMovementAt"`
	CreatedAt      time.Time `json:"createdAt"`
	CreatedBy      string    `json:"createdBy"`
}

// HasPlannedChange reports whether a future-dated change is pending.
func (a Allocation) HasPlannedChange() bool {
	return a.PlannedSuspension != nil || a.PlannedDeallocation != nil
}

// Clone returns a deep copy of the allocation.
func (a Allocation) Clone() Allocation {
	clone := a
	if a.EndDate != nil {
		end := *a.EndDate
		clone.EndDate = &end
	}
	if a.Suspension != nil {
		s := *a.Suspension
		clone.Suspension = &s
	}
	if a.Deallocation != nil {
		d := *a.Deallocation
		clone.Deallocation = &d
	}
	if a.PlannedSuspension != nil {
		p := *a.PlannedSuspension
		clone.PlannedSuspension = &p
	}
	if a.PlannedDeallocation != nil {
		p := *a.PlannedDeallocation
		clone.PlannedDeallocation = &p
	}
	clone.History = append([]StatusChange(nil), a.History...)
	return clone
}
