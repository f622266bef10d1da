package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/paths"
	"bus-tracker/internal/publisher"
)

// Loop names used for logging and metrics.
const (
	LoopTime    = "time"
	LoopResolve = "resolve"
	LoopPanel   = "panel"
	LoopBus     = "bus"
)

type Resolver interface {
	Resolve(ctx context.Context, panels []config.Panel, now time.Time) []gtfs.PanelResult
}

type Positions interface {
	PositionsAt(now time.Time) []paths.Vehicle
}

type Metrics interface {
	TickObserve(loop string, d time.Duration)
	PanelsPublishedInc()
	ActiveVehiclesSet(n int)
}

type Ticks struct {
	Time  time.Duration
	Panel time.Duration
	Bus   time.Duration
}

// Driver runs the time, panel-rotation and bus-position loops. Each loop
// fires on its own ticker and publishes a complete replacement value.
// Panel resolution runs on its own goroutine fed by the time loop, so a
// slow resolve never holds back the clock; only the latest moment is kept.
type Driver struct {
	clock     Clock
	resolver  Resolver
	panels    []config.Panel
	positions Positions
	routes    db.RouteLookup
	sink      publisher.Sink
	loc       *time.Location
	ticks     Ticks
	metrics   Metrics
	log       *slog.Logger

	mu         sync.Mutex
	panelIndex int
	moment     time.Time // last published clock moment

	resolveCh chan time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDriver wires the loops. positions may be nil, which disables the
// bus loop; routes may be nil, which leaves route metadata of buses empty.
func NewDriver(clock Clock, res Resolver, panels []config.Panel, positions Positions, routes db.RouteLookup, sink publisher.Sink, loc *time.Location, ticks Ticks, m Metrics) *Driver {
	return &Driver{
		clock:     clock,
		resolver:  res,
		panels:    panels,
		positions: positions,
		routes:    routes,
		sink:      sink,
		loc:       loc,
		ticks:     ticks,
		metrics:   m,
		log:       slog.Default().With("component", "driver"),
		resolveCh: make(chan time.Time, 1),
	}
}

// Start publishes the initial state synchronously and then starts the
// periodic loops. It returns once the initial state is out.
func (d *Driver) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.timeTick(ctx)
	d.panelTick()
	if d.positions != nil {
		d.busTick(ctx)
	}

	d.run(ctx, LoopTime, d.ticks.Time, func() { d.requestResolve(d.advance()) })
	d.wg.Add(1)
	go d.resolveLoop(ctx)
	d.run(ctx, LoopPanel, d.ticks.Panel, d.panelTick)
	if d.positions != nil {
		d.run(ctx, LoopBus, d.ticks.Bus, func() { d.busTick(ctx) })
	}
}

func (d *Driver) run(ctx context.Context, loop string, every time.Duration, fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		tick := time.NewTicker(every)
		defer tick.Stop()
		d.log.Info("loop started", "loop", loop, "every", every)
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				start := time.Now()
				fn()
				if d.metrics != nil {
					d.metrics.TickObserve(loop, time.Since(start))
				}
			}
		}
	}()
}

// Stop cancels the loops and waits for them to return.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// timeTick advances the clock and resolves panels for the new moment
// inline. Start uses it for the initial state.
func (d *Driver) timeTick(ctx context.Context) {
	d.resolvePanels(ctx, d.advance())
}

// advance ticks the clock and publishes the moment it returned.
func (d *Driver) advance() time.Time {
	now := d.clock.Tick()
	d.mu.Lock()
	d.moment = now
	d.mu.Unlock()
	d.publish(publisher.ChannelTime, gtfs.ClockState{Moment: now, Display: FormatDisplay(now, d.loc)})
	return now
}

// requestResolve hands now to the resolve loop, replacing any moment it
// has not picked up yet. The time loop is the only sender.
func (d *Driver) requestResolve(now time.Time) {
	select {
	case <-d.resolveCh:
	default:
	}
	select {
	case d.resolveCh <- now:
	default:
	}
}

func (d *Driver) resolveLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-d.resolveCh:
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			d.resolvePanels(ctx, now)
			if d.metrics != nil {
				d.metrics.TickObserve(LoopResolve, time.Since(start))
			}
		}
	}
}

func (d *Driver) resolvePanels(ctx context.Context, now time.Time) {
	results := d.resolver.Resolve(ctx, d.panels, now)
	if ctx.Err() != nil {
		return
	}
	if d.publish(publisher.ChannelPanels, results) && d.metrics != nil {
		d.metrics.PanelsPublishedInc()
	}
}

func (d *Driver) panelTick() {
	if len(d.panels) == 0 {
		return
	}
	d.mu.Lock()
	p := d.panels[d.panelIndex]
	d.panelIndex = (d.panelIndex + 1) % len(d.panels)
	d.mu.Unlock()
	d.publish(publisher.ChannelMap, p)
}

func (d *Driver) busTick(ctx context.Context) {
	vehicles := d.positions.PositionsAt(d.currentMoment())
	out := make(gtfs.BusLocations, len(vehicles))
	for _, v := range vehicles {
		b := gtfs.BusLocation{
			TripID:  v.Trip.TripID,
			RouteID: v.Trip.RouteID,
			Lat:     v.Position.Lat,
			Lng:     v.Position.Lng,
			Bearing: v.Position.BearingDeg,
		}
		if d.routes != nil {
			r, err := d.routes.RouteByID(ctx, v.Trip.RouteID)
			switch {
			case err == nil:
				b.RouteName = r.LongName
				b.RouteColor = r.Color
			case errors.Is(err, db.ErrNotFound):
				d.log.Debug("bus route not in schedule", "trip_id", v.Trip.TripID, "route_id", v.Trip.RouteID)
			default:
				d.log.Warn("bus route lookup failed", "trip_id", v.Trip.TripID, "route_id", v.Trip.RouteID, "error", err)
			}
		}
		out[gtfs.BusKey(v.Trip.TripID)] = b
	}
	if d.metrics != nil {
		d.metrics.ActiveVehiclesSet(len(out))
	}
	d.publish(publisher.ChannelBuses, out)
}

// currentMoment is the moment last published on the time channel, or the
// clock's position before the first tick.
func (d *Driver) currentMoment() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.moment.IsZero() {
		return d.clock.Now()
	}
	return d.moment
}

func (d *Driver) publish(channel string, v any) bool {
	if err := d.sink.Publish(channel, v); err != nil {
		d.log.Warn("publish failed", "channel", channel, "error", err)
		return false
	}
	return true
}
