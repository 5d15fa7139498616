package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/example/activities-management/internal/scheduler"
)

// Frequency represents supported recurrence intervals.
type Frequency string

const (
	// FrequencyNone marks a single, non-repeating occurrence.
	FrequencyNone Frequency = "NONE"
	// FrequencyDaily repeats every calendar day.
	FrequencyDaily Frequency = "DAILY"
	// FrequencyWeekday repeats every Monday to Friday.
	FrequencyWeekday Frequency = "WEEKDAY"
	// FrequencyWeekly repeats every seven days.
	FrequencyWeekly Frequency = "WEEKLY"
	// FrequencyFortnightly repeats every fourteen days.
	FrequencyFortnightly Frequency = "FORTNIGHTLY"
	// FrequencyMonthly repeats on the same day of each month, clamped to month end.
	FrequencyMonthly Frequency = "MONTHLY"
)

// DefaultMaxOccurrences bounds how many dates a single rule may expand to.
const DefaultMaxOccurrences = 365

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidCount indicates the requested occurrence count is out of range.
var ErrInvalidCount = errors.New("recurrence: invalid occurrence count")

// ErrInvalidWindow indicates the end time does not follow the start time.
var ErrInvalidWindow = errors.New("recurrence: end time must be after start time")

// ErrWeekendStart indicates a weekday rule that starts on a Saturday or Sunday.
var ErrWeekendStart = errors.New("recurrence: weekday frequency must start on a weekday")

// ParseFrequency converts user input into a Frequency.
func ParseFrequency(value string) (Frequency, error) {
	f := Frequency(value)
	switch f {
	case FrequencyNone, FrequencyDaily, FrequencyWeekday, FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, value)
	}
}

// Rule describes a bounded recurrence.
type Rule struct {
	StartDate scheduler.Date
	StartTime scheduler.TimeOfDay
	EndTime   scheduler.TimeOfDay
	Frequency Frequency
	Count     int
}

// Planner expands recurrence rules into calendar dates.
type Planner struct {
	maxOccurrences int
}

// NewPlanner constructs a Planner. A non-positive maxOccurrences falls back
// to DefaultMaxOccurrences.
func NewPlanner(maxOccurrences int) *Planner {
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Planner{maxOccurrences: maxOccurrences}
}

// MaxOccurrences returns the configured expansion bound.
func (p *Planner) MaxOccurrences() int {
	if p == nil || p.maxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return p.maxOccurrences
}

// Plan returns exactly rule.Count dates in ascending order. The result depends
// only on the rule, so replaying a rule always yields the same dates.
func (p *Planner) Plan(rule Rule) ([]scheduler.Date, error) {
	if err := p.Validate(rule); err != nil {
		return nil, err
	}
	if rule.Count == 1 {
		return []scheduler.Date{rule.StartDate}, nil
	}

	option, err := ruleOption(rule)
	if err != nil {
		return nil, err
	}
	expander, err := rrule.NewRRule(option)
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rule: %w", err)
	}

	instants := expander.All()
	if len(instants) != rule.Count {
		return nil, fmt.Errorf("recurrence: expected %d dates, expanded %d", rule.Count, len(instants))
	}

	dates := make([]scheduler.Date, 0, len(instants))
	for _, instant := range instants {
		dates = append(dates, scheduler.DateOf(instant.In(time.UTC)))
	}
	return dates, nil
}

// Validate checks a rule without expanding it.
func (p *Planner) Validate(rule Rule) error {
	if rule.Count < 1 || rule.Count > p.MaxOccurrences() {
		return fmt.Errorf("%w: %d (allowed 1..%d)", ErrInvalidCount, rule.Count, p.MaxOccurrences())
	}
	if !rule.StartTime.Valid() || !rule.EndTime.Valid() || !rule.StartTime.Before(rule.EndTime) {
		return ErrInvalidWindow
	}
	if rule.Count == 1 {
		return nil
	}
	switch rule.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly:
		return nil
	case FrequencyWeekday:
		if day := rule.StartDate.Weekday(); day == time.Saturday || day == time.Sunday {
			return ErrWeekendStart
		}
		return nil
	default:
		return fmt.Errorf("%w: %q repeating %d times", ErrInvalidFrequency, rule.Frequency, rule.Count)
	}
}

func ruleOption(rule Rule) (rrule.ROption, error) {
	start := time.Date(rule.StartDate.Year, rule.StartDate.Month, rule.StartDate.Day, 0, 0, 0, 0, time.UTC)
	option := rrule.ROption{
		Dtstart:  start,
		Count:    rule.Count,
		Interval: 1,
	}

	switch rule.Frequency {
	case FrequencyDaily:
		option.Freq = rrule.DAILY
	case FrequencyWeekday:
		option.Freq = rrule.DAILY
		option.Byweekday = []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}
	case FrequencyWeekly:
		option.Freq = rrule.WEEKLY
	case FrequencyFortnightly:
		option.Freq = rrule.WEEKLY
		option.Interval = 2
	case FrequencyMonthly:
		option.Freq = rrule.MONTHLY
		option.Bymonthday = monthDays(rule.StartDate.Day)
		if rule.StartDate.Day > 28 {
			// Pick the latest candidate day that exists in each month.
			option.Bysetpos = []int{-1}
		}
	default:
		return rrule.ROption{}, fmt.Errorf("%w: %q", ErrInvalidFrequency, rule.Frequency)
	}
	return option, nil
}

func monthDays(day int) []int {
	if day <= 28 {
		return []int{day}
	}
	days := make([]int, 0, day-27)
	for d := 28; d <= day; d++ {
		days = append(days, d)
	}
	return days
}
