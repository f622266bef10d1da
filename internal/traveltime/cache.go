// Package traveltime keeps per-trip predicted leg durations fetched from
// an external directions service.
//
// Refresh policy, evaluated on every Ensure:
//   - a trip never looked up is fetched;
//   - a lookup older than 20 minutes is refetched;
//   - a lookup older than 3 minutes that produced no value is retried.
//
// Any failed fetch suppresses all fetching for 20 minutes. A failure
// keeps whatever value the trip already had.
package traveltime

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"bus-tracker/internal/gtfs"
)

const (
	RefreshAfter = 20 * time.Minute
	RetryAfter   = 3 * time.Minute
	BackoffFor   = 20 * time.Minute
)

// Fetcher returns one predicted duration per leg between consecutive
// stops.
type Fetcher interface {
	FetchLegs(ctx context.Context, stops []gtfs.StopInfo) ([]time.Duration, error)
}

type StopSource interface {
	StopInfoForTripOnDate(ctx context.Context, tripID, date string) ([]gtfs.StopInfo, error)
}

// Metrics is implemented by the process metrics collector. Results are
// "success", "failure", "suppressed" and "skipped".
type Metrics interface {
	FetchResultInc(result string)
	CachedTripsSet(n int)
}

type entry struct {
	lookedUp time.Time
	legs     []time.Duration
	ok       bool
}

type Cache struct {
	fetcher Fetcher
	stops   StopSource
	timeout time.Duration
	metrics Metrics
	now     func() time.Time
	log     *slog.Logger

	mu          sync.Mutex
	entries     map[string]entry
	lastFailure time.Time

	wg sync.WaitGroup
}

type Option func(*Cache)

// WithClock replaces time.Now for policy decisions.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func WithTimeout(d time.Duration) Option { return func(c *Cache) { c.timeout = d } }

func WithMetrics(m Metrics) Option { return func(c *Cache) { c.metrics = m } }

func NewCache(f Fetcher, stops StopSource, opts ...Option) *Cache {
	c := &Cache{
		fetcher: f,
		stops:   stops,
		now:     time.Now,
		log:     slog.Default().With("component", "traveltime"),
		entries: make(map[string]entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ensure starts a background fetch for the trip if the refresh policy
// calls for one. It never blocks on the fetch. date is the service date
// whose stops are sent to the directions service.
func (c *Cache) Ensure(ctx context.Context, tripID, date string) {
	if c.fetcher == nil {
		return
	}
	now := c.now()

	c.mu.Lock()
	e, seen := c.entries[tripID]
	if seen && !due(e, now) {
		c.mu.Unlock()
		return
	}
	c.entries[tripID] = entry{lookedUp: now, legs: e.legs, ok: e.ok}
	if !c.lastFailure.IsZero() && wholeMinutes(now.Sub(c.lastFailure)) <= wholeMinutes(BackoffFor) {
		failedAt := c.lastFailure
		c.mu.Unlock()
		c.log.Info("not looking up trip, rate limited after directions error",
			"trip_id", tripID, "last_failure", failedAt.Format(time.Kitchen))
		c.observe("suppressed")
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go c.fetch(ctx, tripID, date, now)
}

func due(e entry, now time.Time) bool {
	age := wholeMinutes(now.Sub(e.lookedUp))
	return age > wholeMinutes(RefreshAfter) || (!e.ok && age > wholeMinutes(RetryAfter))
}

// wholeMinutes truncates toward zero, so 20m59s counts as 20.
func wholeMinutes(d time.Duration) int64 { return int64(d / time.Minute) }

func (c *Cache) fetch(ctx context.Context, tripID, date string, initiated time.Time) {
	defer c.wg.Done()
	parent := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stops, err := c.stops.StopInfoForTripOnDate(ctx, tripID, date)
	if err != nil {
		c.log.Warn("stop lookup for directions request failed", "trip_id", tripID, "date", date, "error", err)
		c.observe("skipped")
		return
	}
	if len(stops) < 2 {
		c.log.Debug("trip has too few stops for directions", "trip_id", tripID, "date", date, "stops", len(stops))
		c.observe("skipped")
		return
	}

	legs, err := c.fetcher.FetchLegs(ctx, stops)
	if err != nil && parent.Err() != nil {
		// shutting down
		return
	}
	if err != nil {
		c.mu.Lock()
		c.lastFailure = c.now()
		c.mu.Unlock()
		c.log.Error("directions request failed",
			"trip_id", tripID, "initiated_at", initiated.Format(time.Kitchen), "error", err)
		c.observe("failure")
		return
	}

	c.mu.Lock()
	e := c.entries[tripID]
	c.entries[tripID] = entry{lookedUp: e.lookedUp, legs: legs, ok: true}
	n := 0
	for _, e := range c.entries {
		if e.ok {
			n++
		}
	}
	c.mu.Unlock()
	c.observe("success")
	if c.metrics != nil {
		c.metrics.CachedTripsSet(n)
	}
}

func (c *Cache) observe(result string) {
	if c.metrics != nil {
		c.metrics.FetchResultInc(result)
	}
}

// Lookup returns a copy of the trip's predicted legs.
func (c *Cache) Lookup(tripID string) ([]time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[tripID]
	if !ok || !e.ok {
		return nil, false
	}
	return slices.Clone(e.legs), true
}

// Wait blocks until in-flight fetches finish.
func (c *Cache) Wait() { c.wg.Wait() }
