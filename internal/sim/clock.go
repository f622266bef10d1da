package sim

import (
	"sync"
	"time"

	"bus-tracker/internal/gtfs"
)

// Clock is the time source of the driver.
type Clock interface {
	// Tick returns the moment for the current time tick and moves the
	// clock on to the next one.
	Tick() time.Time
	// Now returns the current moment without advancing.
	Now() time.Time
}

// SimulatedClock replays the window [start, end] in fixed steps. Once
// a step lands after end the clock starts over at start.
type SimulatedClock struct {
	start, end time.Time
	step       time.Duration

	mu  sync.Mutex
	cur time.Time
}

func NewSimulatedClock(start, end time.Time, step time.Duration) *SimulatedClock {
	return &SimulatedClock{start: start, end: end, step: step, cur: start}
}

func (c *SimulatedClock) Tick() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.cur
	c.cur = c.cur.Add(c.step)
	if c.cur.After(c.end) {
		c.cur = c.start
	}
	return now
}

func (c *SimulatedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// RealClock samples the wall clock in a fixed zone.
type RealClock struct {
	loc *time.Location
	now func() time.Time
}

func NewRealClock(loc *time.Location) *RealClock {
	return &RealClock{loc: loc, now: time.Now}
}

func (c *RealClock) Tick() time.Time { return c.Now() }
func (c *RealClock) Now() time.Time  { return c.now().In(c.loc) }

// FormatDisplay renders the clock text, e.g. "6:00 AM, May 18th".
func FormatDisplay(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	return t.Format("3:04 PM") + ", " + gtfs.MonthDay(t)
}
