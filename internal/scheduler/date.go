package scheduler

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// ErrInvalidDate indicates a calendar date string could not be parsed.
var ErrInvalidDate = errors.New("scheduler: invalid date")

// ErrInvalidTimeOfDay indicates a wall-clock time string could not be parsed.
var ErrInvalidTimeOfDay = errors.New("scheduler: invalid time of day")

// Date is a civil calendar date without a time zone. Appointment and
// allocation dates are stored this way so that shifting by whole days never
// drifts across daylight-saving boundaries. The zero Date encodes as "".
type Date civil.Date

// NewDate normalizes the provided components (e.g. 2024-02-30 becomes 2024-03-01).
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in its own location.
func DateOf(t time.Time) Date {
	return Date(civil.DateOf(t))
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(now.In(loc))
}

// ParseDate parses an ISO-8601 calendar date (YYYY-MM-DD).
func ParseDate(value string) (Date, error) {
	d, err := civil.ParseDate(value)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, value)
	}
	return Date(d), nil
}

func (d Date) asCivil() civil.Date { return civil.Date(d) }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.asCivil().IsZero() }

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.asCivil().String()
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.asCivil().In(time.UTC).Weekday()
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return Date(d.asCivil().AddDays(n)) }

// DaysUntil returns the number of days from d to other (negative when other is earlier).
func (d Date) DaysUntil(other Date) int { return other.asCivil().DaysSince(d.asCivil()) }

// Compare returns -1, 0 or +1 depending on whether d is before, equal to or after other.
func (d Date) Compare(other Date) int { return d.asCivil().Compare(other.asCivil()) }

// Before reports whether d is strictly before other.
func (d Date) Before(other Date) bool { return d.asCivil().Before(other.asCivil()) }

// After reports whether d is strictly after other.
func (d Date) After(other Date) bool { return d.asCivil().After(other.asCivil()) }

// At combines the date with a wall-clock time in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateTime{Date: d.asCivil(), Time: civil.Time(t)}.In(loc)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall-clock time with minute precision, encoded as HH:MM.
type TimeOfDay civil.Time

// NewTimeOfDay constructs a TimeOfDay without validation.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay{Hour: hour, Minute: minute}
}

// ParseTimeOfDay parses HH:MM.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, value)
	}
	return TimeOfDay(civil.TimeOf(t)), nil
}

// Minutes returns the number of minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// Before reports whether t is strictly earlier in the day than other.
func (t TimeOfDay) Before(other TimeOfDay) bool {
	return civil.Time(t).Before(civil.Time(other))
}

// Valid reports whether t is a real wall-clock minute.
func (t TimeOfDay) Valid() bool {
	return civil.Time(t).IsValid() && t.Second == 0 && t.Nanosecond == 0
}

// String renders HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(text []byte) error {
	parsed, err := ParseTimeOfDay(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// HasStarted reports whether an engagement on date starting at start has
// begun at now. An engagement starting exactly at now counts as started.
func HasStarted(date Date, start TimeOfDay, now time.Time, loc *time.Location) bool {
	return !date.At(start, loc).After(now)
}
