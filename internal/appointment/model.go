// Package appointment holds the recurring-appointment domain: series and
// occurrence records, scope resolution across a series, and the rules for
// editing, cancelling and marking a single occurrence.
package appointment

import (
	"sort"
	"time"

	"github.com/example/activities-management/internal/recurrence"
	"github.com/example/activities-management/internal/scheduler"
)

// Status is the cancellation state of an occurrence.
type Status string

const (
	StatusScheduled           Status = "SCHEDULED"
	StatusCancelled           Status = "CANCELLED"
	StatusCancelledAndDeleted Status = "CANCELLED_AND_DELETED"
)

// Attendance is the recorded outcome for one attendee.
type Attendance string

const (
	AttendanceUnmarked    Attendance = "UNMARKED"
	AttendanceAttended    Attendance = "ATTENDED"
	AttendanceNotAttended Attendance = "NOT_ATTENDED"
)

// Schedule is the repeating part of a series. A nil schedule on a series
// means a single occurrence.
type Schedule struct {
	Frequency recurrence.Frequency `json:"frequency"`
	Count     int                  `json:"count"`
}

// Series is a recurrence definition. Occurrences reference it by id only.
type Series struct {
	ID            string              `json:"id"`
	PrisonCode    string              `json:"prisonCode"`
	CategoryCode  string              `json:"categoryCode"`
	OrganiserCode string              `json:"organiserCode,omitempty"`
	InCell        bool                `json:"inCell"`
	LocationID    string              `json:"locationId,omitempty"`
	Schedule      *Schedule           `json:"schedule,omitempty"`
	StartDate     scheduler.Date      `json:"startDate"`
	StartTime     scheduler.TimeOfDay `json:"startTime"`
	EndTime       scheduler.TimeOfDay `json:"endTime"`
	Note          string              `json:"note,omitempty"`
	OccurrenceIDs []string            `json:"occurrenceIds"`
	CreatedAt     time.Time           `json:"createdAt"`
	CreatedBy     string              `json:"createdBy"`
}

// OccurrenceCount returns the number of occurrences the schedule expands to.
func (s Series) OccurrenceCount() int {
	if s.Schedule == nil || s.Schedule.Count < 1 {
		return 1
	}
	return s.Schedule.Count
}

// Rule converts the series into a planner rule.
func (s Series) Rule() recurrence.Rule {
	rule := recurrence.Rule{
		StartDate: s.StartDate,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Frequency: recurrence.FrequencyNone,
		Count:     1,
	}
	if s.Schedule != nil {
		rule.Frequency = s.Schedule.Frequency
		rule.Count = s.Schedule.Count
	}
	return rule
}

// Cancellation records who cancelled an occurrence and why.
type Cancellation struct {
	ReasonID int64     `json:"reasonId"`
	At       time.Time `json:"at"`
	By       string    `json:"by"`
}

// Removal tombstones an attendee that was removed after the occurrence began.
type Removal struct {
	At     time.Time `json:"at"`
	By     string    `json:"by"`
	Reason string    `json:"reason"`
}

// Attendee is one person booked onto an occurrence.
type Attendee struct {
	ID         string     `json:"id"`
	PersonID   string     `json:"personId"`
	Attendance Attendance `json:"attendance"`
	MarkedAt   *time.Time `json:"markedAt,omitempty"`
	MarkedBy   string     `json:"markedBy,omitempty"`
	Removal    *Removal   `json:"removal,omitempty"`
}

// Active reports whether the attendee has not been removed.
func (a Attendee) Active() bool {
	return a.Removal == nil
}

// Occurrence is one dated instance of a series.
type Occurrence struct {
	ID           string              `json:"id"`
	SeriesID     string              `json:"seriesId"`
	PrisonCode   string              `json:"prisonCode"`
	Sequence     int                 `json:"sequence"`
	Date         scheduler.Date      `json:"date"`
	StartTime    scheduler.TimeOfDay `json:"startTime"`
	EndTime      scheduler.TimeOfDay `json:"endTime"`
	CategoryCode string              `json:"categoryCode"`
	InCell       bool                `json:"inCell"`
	LocationID   string              `json:"locationId,omitempty"`
	Note         string              `json:"note,omitempty"`
	Status       Status              `json:"status"`
	Cancellation *Cancellation       `json:"cancellation,omitempty"`
	Attendees    []Attendee          `json:"attendees"`
	UpdatedAt    *time.Time          `json:"updatedAt,omitempty"`
	UpdatedBy    string              `json:"updatedBy,omitempty"`
}

// StartInstant returns the instant the occurrence begins in loc.
func (o Occurrence) StartInstant(loc *time.Location) time.Time {
	return o.Date.At(o.StartTime, loc)
}

// HasStarted reports whether the occurrence has begun at now.
func (o Occurrence) HasStarted(now time.Time, loc *time.Location) bool {
	return scheduler.HasStarted(o.Date, o.StartTime, now, loc)
}

// IsDeleted reports whether the occurrence was cancelled with delete.
func (o Occurrence) IsDeleted() bool {
	return o.Status == StatusCancelledAndDeleted
}

// IsCancelled reports whether the occurrence is cancelled in either mode.
func (o Occurrence) IsCancelled() bool {
	return o.Status == StatusCancelled || o.Status == StatusCancelledAndDeleted
}

// ActiveAttendees returns attendees that have not been removed.
func (o Occurrence) ActiveAttendees() []Attendee {
	active := make([]Attendee, 0, len(o.Attendees))
	for _, attendee := range o.Attendees {
		if attendee.Active() {
			active = append(active, attendee)
		}
	}
	return active
}

// HasAttendee reports whether personID is an active attendee.
func (o Occurrence) HasAttendee(personID string) bool {
	return o.attendeeIndex(personID) >= 0
}

func (o Occurrence) attendeeIndex(personID string) int {
	for i, attendee := range o.Attendees {
		if attendee.PersonID == personID && attendee.Active() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the occurrence.
func (o Occurrence) Clone() Occurrence {
	clone := o
	if o.Cancellation != nil {
		c := *o.Cancellation
		clone.Cancellation = &c
	}
	if o.UpdatedAt != nil {
		at := *o.UpdatedAt
		clone.UpdatedAt = &at
	}
	clone.Attendees = make([]Attendee, len(o.Attendees))
	for i, attendee := range o.Attendees {
		copied := attendee
		if attendee.MarkedAt != nil {
			at := *attendee.MarkedAt
			copied.MarkedAt = &at
		}
		if attendee.Removal != nil {
			removal := *attendee.Removal
			copied.Removal = &removal
		}
		clone.Attendees[i] = copied
	}
	return clone
}

// SortChronologically orders occurrences by start date and time, breaking
// ties on sequence number so the order is stable across edits.
func SortChronologically(occurrences []Occurrence) {
	sort.SliceStable(occurrences, func(i, j int) bool {
		a, b := occurrences[i], occurrences[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.StartTime != b.StartTime {
			return a.StartTime.Before(b.StartTime)
		}
		return a.Sequence < b.Sequence
	})
}
