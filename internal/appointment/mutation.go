package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/activities-management/internal/scheduler"
)

var (
	// ErrEndBeforeStart indicates the edited end time does not follow the start time.
	ErrEndBeforeStart = errors.New("appointment: end time must be after start time")
	// ErrLocationRequired indicates an occurrence neither in cell nor at a location.
	ErrLocationRequired = errors.New("appointment: location is required unless in cell")
	// ErrStartInPast indicates an edit would move an occurrence to a time that has passed.
	ErrStartInPast = errors.New("appointment: occurrence would start in the past")
	// ErrDeleted indicates the occurrence was cancelled with delete.
	ErrDeleted = errors.New("appointment: occurrence has been deleted")
	// ErrCancelled indicates the occurrence is cancelled.
	ErrCancelled = errors.New("appointment: occurrence is cancelled")
	// ErrAttendanceNotOpen indicates attendance is marked before the occurrence date.
	ErrAttendanceNotOpen = errors.New("appointment: attendance cannot be marked before the occurrence date")
	// ErrUnknownAttendee indicates a person is not an active attendee.
	ErrUnknownAttendee = errors.New("appointment: person is not an attendee")
)

// RemovalReasonEdited marks attendees removed by a series edit.
const RemovalReasonEdited = "EDITED"

// RemovalReasonReleased marks attendees removed after a permanent release.
const RemovalReasonReleased = "RELEASED"

// Patch is a partial occurrence edit. Nil fields are left untouched.
type Patch struct {
	CategoryCode    *string
	InCell          *bool
	LocationID      *string
	StartDate       *scheduler.Date
	StartTime       *scheduler.TimeOfDay
	EndTime         *scheduler.TimeOfDay
	Note            *string
	AddPersonIDs    []string
	RemovePersonIDs []string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.CategoryCode == nil && p.InCell == nil && p.LocationID == nil &&
		p.StartDate == nil && p.StartTime == nil && p.EndTime == nil && p.Note == nil &&
		len(p.AddPersonIDs) == 0 && len(p.RemovePersonIDs) == 0
}

// ChangesTiming reports whether the patch touches the date or times.
func (p Patch) ChangesTiming() bool {
	return p.StartDate != nil || p.StartTime != nil || p.EndTime != nil
}

// DayShift is the number of days every in-scope occurrence moves when the
// target is moved to the patch's start date.
func (p Patch) DayShift(target Occurrence) int {
	if p.StartDate == nil {
		return 0
	}
	return target.Date.DaysUntil(*p.StartDate)
}

// Change carries the audit context for one write.
type Change struct {
	At       time.Time
	By       string
	Location *time.Location
	NewID    func() string
}

func (c Change) stamp(o *Occurrence) {
	at := c.At
	o.UpdatedAt = &at
	o.UpdatedBy = c.By
}

// ApplyPatch edits o in place, shifting its date by dayShift days. It reports
// whether anything changed; o is untouched when an error is returned.
func ApplyPatch(o *Occurrence, p Patch, dayShift int, change Change) (bool, error) {
	next := o.Clone()
	changed := false

	if p.CategoryCode != nil && next.CategoryCode != *p.CategoryCode {
		next.CategoryCode = *p.CategoryCode
		changed = true
	}
	if p.InCell != nil {
		next.InCell = *p.InCell
	}
	if p.LocationID != nil {
		next.LocationID = *p.LocationID
	}
	// In-cell occurrences never carry a location.
	if next.InCell {
		next.LocationID = ""
	}
	if !next.InCell && strings.TrimSpace(next.LocationID) == "" {
		return false, ErrLocationRequired
	}
	if next.InCell != o.InCell || next.LocationID != o.LocationID {
		changed = true
	}
	if p.Note != nil && next.Note != *p.Note {
		next.Note = *p.Note
		changed = true
	}

	timingChanged := false
	if dayShift != 0 {
		next.Date = next.Date.AddDays(dayShift)
		timingChanged = true
	}
	if p.StartTime != nil && next.StartTime != *p.StartTime {
		next.StartTime = *p.StartTime
		timingChanged = true
	}
	if p.EndTime != nil && next.EndTime != *p.EndTime {
		next.EndTime = *p.EndTime
		timingChanged = true
	}
	if timingChanged {
		if !next.StartTime.Before(next.EndTime) {
			return false, ErrEndBeforeStart
		}
		if next.HasStarted(change.At, change.Location) {
			return false, ErrStartInPast
		}
		changed = true
	}

	for _, personID := range p.RemovePersonIDs {
		if RemoveAttendee(&next, personID, RemovalReasonEdited, change) {
			changed = true
		}
	}
	for _, personID := range p.AddPersonIDs {
		if AddAttendee(&next, personID, change) {
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	change.stamp(&next)
	*o = next
	return true, nil
}

// AddAttendee books personID onto o unless already booked.
func AddAttendee(o *Occurrence, personID string, change Change) bool {
	if personID == "" || o.HasAttendee(personID) {
		return false
	}
	id := ""
	if change.NewID != nil {
		id = change.NewID()
	}
	o.Attendees = append(o.Attendees, Attendee{ID: id, PersonID: personID, Attendance: AttendanceUnmarked})
	return true
}

// RemoveAttendee takes personID off o. Attendees of an occurrence that has
// started are tombstoned so the record survives; otherwise they are dropped.
func RemoveAttendee(o *Occurrence, personID, reason string, change Change) bool {
	idx := o.attendeeIndex(personID)
	if idx < 0 {
		return false
	}
	if o.HasStarted(change.At, change.Location) {
		o.Attendees[idx].Removal = &Removal{At: change.At, By: change.By, Reason: reason}
		return true
	}
	o.Attendees = append(o.Attendees[:idx], o.Attendees[idx+1:]...)
	return true
}

// Cancel applies reason to o. Cancelling an already cancelled occurrence
// again is a no-op unless the new reason deletes it.
func Cancel(o *Occurrence, reason CancellationReason, change Change) bool {
	target := StatusCancelled
	if reason.IsDelete {
		target = StatusCancelledAndDeleted
	}
	if o.Status == target || o.Status == StatusCancelledAndDeleted {
		return false
	}
	o.Status = target
	o.Cancellation = &Cancellation{ReasonID: reason.ID, At: change.At, By: change.By}
	change.stamp(o)
	return true
}

// Uncancel restores a soft-cancelled occurrence.
func Uncancel(o *Occurrence, change Change) (bool, error) {
	switch o.Status {
	case StatusScheduled:
		return false, nil
	case StatusCancelledAndDeleted:
		return false, ErrDeleted
	}
	o.Status = StatusScheduled
	o.Cancellation = nil
	change.stamp(o)
	return true, nil
}

// MarkAttendance records outcomes for attendees of o. Attendance opens on the
// occurrence date; earlier marking is rejected.
func MarkAttendance(o *Occurrence, attended, notAttended []string, change Change) (bool, error) {
	if o.IsCancelled() {
		return false, ErrCancelled
	}
	if scheduler.Today(change.At, change.Location).Before(o.Date) {
		return false, ErrAttendanceNotOpen
	}

	next := o.Clone()
	changed := false
	mark := func(personID string, outcome Attendance) error {
		idx := next.attendeeIndex(personID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownAttendee, personID)
		}
		if next.Attendees[idx].Attendance == outcome {
			return nil
		}
		at := change.At
		next.Attendees[idx].Attendance = outcome
		next.Attendees[idx].MarkedAt = &at
		next.Attendees[idx].MarkedBy = change.By
		changed = true
		return nil
	}
	for _, personID := range attended {
		if err := mark(personID, AttendanceAttended); err != nil {
			return false, err
		}
	}
	for _, personID := range notAttended {
		if err := mark(personID, AttendanceNotAttended); err != nil {
			return false, err
		}
	}

	if !changed {
		return false, nil
	}
	change.stamp(&next)
	*o = next
	return true, nil
}
