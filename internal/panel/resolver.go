// Package panel turns the schedule and cached travel-time predictions
// into the leaving-in / next-in summaries shown on each dashboard panel.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/gtfs"
)

const (
	// RelativeLimit is the largest whole-minute delta still shown in
	// minutes.
	RelativeLimit = 120
	// Dwell is the assumed stop time at every predicted stop.
	Dwell = 3 * time.Minute
)

type Schedule interface {
	RouteByID(ctx context.Context, routeID string) (gtfs.Route, error)
	NextThreeTripsForRoute(ctx context.Context, routeID, date, clock string) ([]gtfs.TripDeparture, error)
	StopInfoForTripOnDate(ctx context.Context, tripID, date string) ([]gtfs.StopInfo, error)
}

type Predictions interface {
	Ensure(ctx context.Context, tripID, date string)
	Lookup(tripID string) ([]time.Duration, bool)
}

type Metrics interface {
	DegradedSummaryInc()
}

type Resolver struct {
	sched   Schedule
	pred    Predictions
	loc     *time.Location
	metrics Metrics
	log     *slog.Logger
}

func NewResolver(s Schedule, p Predictions, loc *time.Location, m Metrics) *Resolver {
	return &Resolver{
		sched:   s,
		pred:    p,
		loc:     loc,
		metrics: m,
		log:     slog.Default().With("component", "panel"),
	}
}

// Resolve summarizes every route of every panel. A failing route only
// degrades its own summary.
func (r *Resolver) Resolve(ctx context.Context, panels []config.Panel, now time.Time) []gtfs.PanelResult {
	out := make([]gtfs.PanelResult, len(panels))
	for i, p := range panels {
		out[i] = gtfs.PanelResult{
			Left:  r.summarizeAll(ctx, p.Left(), now),
			Right: r.summarizeAll(ctx, p.Right(), now),
		}
	}
	return out
}

func (r *Resolver) summarizeAll(ctx context.Context, routeIDs []string, now time.Time) []gtfs.RouteSummary {
	out := make([]gtfs.RouteSummary, 0, len(routeIDs))
	for _, id := range routeIDs {
		out = append(out, r.Summarize(ctx, id, now))
	}
	return out
}

// Summarize builds the card for one route at now. Errors are logged and
// leave the labels empty.
func (r *Resolver) Summarize(ctx context.Context, routeID string, now time.Time) gtfs.RouteSummary {
	var out gtfs.RouteSummary
	route, err := r.sched.RouteByID(ctx, routeID)
	switch {
	case err == nil:
		out.Route = &route
	case errors.Is(err, db.ErrNotFound):
		r.log.Warn("route not in schedule", "route_id", routeID)
	default:
		r.log.Error("route lookup failed", "route_id", routeID, "error", err)
	}

	if err := r.fill(ctx, &out, routeID, now); err != nil {
		r.log.Error("route summary degraded", "route_id", routeID, "error", err)
		if r.metrics != nil {
			r.metrics.DegradedSummaryInc()
		}
		return gtfs.RouteSummary{Route: out.Route}
	}
	return out
}

func (r *Resolver) fill(ctx context.Context, out *gtfs.RouteSummary, routeID string, now time.Time) error {
	date, clock := gtfs.DateAndClock(now, r.loc)
	trips, err := r.sched.NextThreeTripsForRoute(ctx, routeID, date, clock)
	if err != nil {
		return err
	}
	if r.pred != nil {
		for _, t := range trips {
			r.pred.Ensure(ctx, t.TripID, t.DepartureDate)
		}
	}
	if len(trips) == 0 {
		return nil
	}

	next := trips[0]
	stops, err := r.sched.StopInfoForTripOnDate(ctx, next.TripID, next.DepartureDate)
	if err != nil {
		return err
	}
	if len(stops) == 0 {
		return fmt.Errorf("trip %s has no stops on %s", next.TripID, next.DepartureDate)
	}
	first := stops[0]
	departs, err := gtfs.ServiceTime(first.Date, first.DepartureTime, r.loc)
	if err != nil {
		return fmt.Errorf("trip %s: %w", next.TripID, err)
	}
	if r.pred != nil {
		if legs, ok := r.pred.Lookup(next.TripID); ok {
			stops = Project(stops, departs, legs)
		}
	}
	out.NextTrip = &gtfs.TripInfo{Trip: next, StopInfo: stops}

	leaving := wholeMinutes(departs.Sub(now))
	if leaving > RelativeLimit {
		local := departs.In(r.loc)
		out.LeavingInLabel = gtfs.MonthDay(local)
		out.LeavingIn = local.Format("3 PM")
		return nil
	}
	out.LeavingInLabel = "Leaving in"
	out.LeavingIn = fmt.Sprintf("%d mins", leaving)

	if len(trips) < 2 {
		return nil
	}
	after := trips[1]
	// Overlapping duplicates of the next trip are skipped.
	if after.DepartureDate == first.Date && after.DepartureTime == first.DepartureTime {
		if len(trips) < 3 {
			return nil
		}
		after = trips[2]
	}
	afterDeparts, err := gtfs.ServiceTime(after.DepartureDate, after.DepartureTime, r.loc)
	if err != nil {
		return fmt.Errorf("trip %s: %w", after.TripID, err)
	}
	out.NextInLabel = "Next in"
	d := afterDeparts.Sub(now)
	if wholeMinutes(d) > RelativeLimit {
		out.NextIn = fmt.Sprintf("%d hrs", int64(d/time.Hour))
	} else {
		out.NextIn = fmt.Sprintf("%d min", wholeMinutes(d))
	}
	return nil
}

// wholeMinutes truncates toward zero.
func wholeMinutes(d time.Duration) int64 { return int64(d / time.Minute) }

// Project returns a copy of stops where every stop after the first gets
// a predicted arrival and departure: the running clock starts at the
// first departure, advances by one leg, is rounded to the minute (up
// when seconds > 30), written out, and then advances by Dwell. Legs
// beyond the last stop are ignored.
func Project(stops []gtfs.StopInfo, departs time.Time, legs []time.Duration) []gtfs.StopInfo {
	out := slices.Clone(stops)
	running := departs
	for i, leg := range legs {
		idx := i + 1
		if idx >= len(out) {
			break
		}
		running = RoundMinute(running.Add(leg))
		at := running.Format(gtfs.ClockLayout)
		out[idx].ArrivalTime = at
		out[idx].DepartureTime = at
		running = running.Add(Dwell)
	}
	return out
}

// RoundMinute drops seconds, moving to the next minute when seconds > 30.
func RoundMinute(t time.Time) time.Time {
	sec := t.Second()
	t = t.Add(-time.Duration(sec)*time.Second - time.Duration(t.Nanosecond()))
	if sec > 30 {
		t = t.Add(time.Minute)
	}
	return t
}
