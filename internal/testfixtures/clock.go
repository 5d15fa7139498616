package testfixtures

import (
	"sync"
	"time"

	"github.com/example/activities-management/internal/scheduler"
)

// Clock is a settable time source. Calendar helpers work in the clock's
// facility location so tests can say "09:00 on Monday" the way users do.
type Clock struct {
	mu       sync.Mutex
	current  time.Time
	location *time.Location
}

// NewClock starts at start, or at ReferenceTime when start is zero. The
// calendar location is taken from start.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start, location: start.Location()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc returns Now for injection into services. A nil clock yields time.Now.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// Today is the facility-local date at the current instant.
func (c *Clock) Today() scheduler.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	return scheduler.Today(c.current, c.location)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// SetLocal moves the clock to wall clock time at on date.
func (c *Clock) SetLocal(date scheduler.Date, at scheduler.TimeOfDay) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = date.At(at, c.location)
	return c.current
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}

// AdvanceDays moves by whole calendar days, keeping the wall clock time
// across DST changes.
func (c *Clock) AdvanceDays(days int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.In(c.location).AddDate(0, 0, days)
	return c.current
}
