// Package clock computes day boundaries for a collection and provides an
// injectable source of wall time.
package clock

import (
	"sync"
	"time"
)

// DefaultRolloverHour is used when the configured hour is out of range.
const DefaultRolloverHour = 4

// Clock is a source of the current time.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Mock is a manually advanced clock for tests.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a Mock frozen at t.
func NewMock(t time.Time) *Mock {
	return &Mock{now: t}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Timing maps wall time onto collection days. A day starts at RolloverHour
// local time, and day 0 is the day the collection was created.
type Timing struct {
	Created      time.Time
	RolloverHour int
	Location     *time.Location
}

// NewTiming builds a Timing, falling back to the default rollover hour when
// hour is outside 0-23 and to UTC when loc is nil.
func NewTiming(created time.Time, hour int, loc *time.Location) Timing {
	if hour < 0 || hour > 23 {
		hour = DefaultRolloverHour
	}
	if loc == nil {
		loc = time.UTC
	}
	return Timing{Created: created, RolloverHour: hour, Location: loc}
}

// dayOf returns the civil date whose study day contains t.
func (tm Timing) dayOf(t time.Time) time.Time {
	local := t.In(tm.location())
	y, m, d := local.Date()
	if local.Hour() < tm.rollover() {
		d--
	}
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the number of study days between collection creation and now.
func (tm Timing) Today(now time.Time) int {
	days := tm.dayOf(now).Sub(tm.dayOf(tm.Created)) / (24 * time.Hour)
	return int(days)
}

// DayCutoff returns the moment the current study day ends.
func (tm Timing) DayCutoff(now time.Time) time.Time {
	day := tm.dayOf(now)
	y, m, d := day.Date()
	return time.Date(y, m, d+1, tm.rollover(), 0, 0, 0, tm.location())
}

// SecsUntilRollover returns the whole seconds left in the current study day.
func (tm Timing) SecsUntilRollover(now time.Time) int {
	return int(tm.DayCutoff(now).Unix() - now.Unix())
}

// DayStart returns the moment the given study day begins.
func (tm Timing) DayStart(day int) time.Time {
	y, m, d := tm.dayOf(tm.Created).Date()
	return time.Date(y, m, d+day, tm.rollover(), 0, 0, 0, tm.location())
}

func (tm Timing) rollover() int {
	if tm.RolloverHour < 0 || tm.RolloverHour > 23 {
		return DefaultRolloverHour
	}
	return tm.RolloverHour
}

func (tm Timing) location() *time.Location {
	if tm.Location == nil {
		return time.UTC
	}
	return tm.Location
}
