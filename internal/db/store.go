package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bus-tracker/internal/gtfs"
)

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("not found")

// Store is the read-only query surface over the imported schedule.
// Calendar rows with exception_type 2 (service removed) never count as
// a running date.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RouteByID(ctx context.Context, routeID string) (gtfs.Route, error) {
	q := `SELECT route_id, COALESCE(agency_id, ''), COALESCE(route_short_name, ''),
                 COALESCE(route_long_name, ''), COALESCE(route_color, ''),
                 COALESCE(route_text_color, ''), COALESCE(route_type, 0)
          FROM routes WHERE route_id = $1`
	var r gtfs.Route
	err := s.db.QueryRowContext(ctx, q, routeID).Scan(&r.RouteID, &r.AgencyID, &r.ShortName, &r.LongName, &r.Color, &r.TextColor, &r.Type)
	if err != nil {
		return gtfs.Route{}, lookupErr("route", routeID, err)
	}
	return r, nil
}

func (s *Store) Routes(ctx context.Context) ([]gtfs.Route, error) {
	q := `SELECT route_id, COALESCE(agency_id, ''), COALESCE(route_short_name, ''),
                 COALESCE(route_long_name, ''), COALESCE(route_color, ''),
                 COALESCE(route_text_color, ''), COALESCE(route_type, 0)
          FROM routes ORDER BY route_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()
	var out []gtfs.Route
	for rows.Next() {
		var r gtfs.Route
		if err := rows.Scan(&r.RouteID, &r.AgencyID, &r.ShortName, &r.LongName, &r.Color, &r.TextColor, &r.Type); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) StopByID(ctx context.Context, stopID string) (gtfs.Stop, error) {
	q := `SELECT stop_id, COALESCE(stop_name, ''), COALESCE(stop_lat, 0), COALESCE(stop_lon, 0),
                 COALESCE(location_type, 0)
          FROM stops WHERE stop_id = $1`
	var st gtfs.Stop
	err := s.db.QueryRowContext(ctx, q, stopID).Scan(&st.StopID, &st.Name, &st.Lat, &st.Lon, &st.LocationType)
	if err != nil {
		return gtfs.Stop{}, lookupErr("stop", stopID, err)
	}
	return st, nil
}

func (s *Store) TripByID(ctx context.Context, tripID string) (gtfs.Trip, error) {
	q := `SELECT trip_id, COALESCE(route_id, ''), COALESCE(trip_headsign, ''), COALESCE(service_id, '')
          FROM trips WHERE trip_id = $1`
	var t gtfs.Trip
	err := s.db.QueryRowContext(ctx, q, tripID).Scan(&t.TripID, &t.RouteID, &t.Headsign, &t.ServiceID)
	if err != nil {
		return gtfs.Trip{}, lookupErr("trip", tripID, err)
	}
	return t, nil
}

const stopInfoSelect = `
SELECT st.arrival_time, st.departure_time, st.stop_id, st.stop_sequence,
       COALESCE(s.stop_lat, 0), COALESCE(s.stop_lon, 0), COALESCE(s.stop_name, ''), cd.date
FROM stop_times AS st
JOIN stops AS s ON s.stop_id = st.stop_id
JOIN trips AS t ON t.trip_id = st.trip_id
JOIN calendar_dates AS cd ON cd.service_id = t.service_id AND cd.exception_type <> 2
WHERE st.trip_id = $1`

// StopInfoForTrip returns the trip's stops ordered by departure time on
// the earliest date the trip runs. It is empty when the trip has no
// calendar entry.
func (s *Store) StopInfoForTrip(ctx context.Context, tripID string) ([]gtfs.StopInfo, error) {
	q := stopInfoSelect + `
  AND cd.date = (SELECT MIN(c2.date) FROM calendar_dates AS c2
                 WHERE c2.service_id = t.service_id AND c2.exception_type <> 2)
ORDER BY st.departure_time, st.stop_sequence`
	return s.queryStopInfo(ctx, q, tripID)
}

// StopInfoForTripOnDate is StopInfoForTrip pinned to one service date.
func (s *Store) StopInfoForTripOnDate(ctx context.Context, tripID, date string) ([]gtfs.StopInfo, error) {
	q := stopInfoSelect + `
  AND cd.date = $2
ORDER BY st.departure_time, st.stop_sequence`
	return s.queryStopInfo(ctx, q, tripID, date)
}

func (s *Store) queryStopInfo(ctx context.Context, q string, args ...any) ([]gtfs.StopInfo, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stop info: %w", err)
	}
	defer rows.Close()
	var out []gtfs.StopInfo
	for rows.Next() {
		var si gtfs.StopInfo
		if err := rows.Scan(&si.ArrivalTime, &si.DepartureTime, &si.StopID, &si.StopSequence, &si.Lat, &si.Lng, &si.StopName, &si.Date); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

// NextThreeTripsForRoute returns up to three trips of the route whose
// first departure is strictly after (date, clock), ascending by
// (departure_date, departure_time, trip_id).
func (s *Store) NextThreeTripsForRoute(ctx context.Context, routeID, date, clock string) ([]gtfs.TripDeparture, error) {
	q := `
SELECT d.trip_id, d.route_id, d.service_id, d.trip_headsign,
       d.departure_date, d.departure_time, d.departure_stop_id
FROM (
  SELECT t.trip_id AS trip_id, t.route_id AS route_id,
         COALESCE(t.service_id, '') AS service_id, COALESCE(t.trip_headsign, '') AS trip_headsign,
         c.date AS departure_date,
         (SELECT st.departure_time FROM stop_times AS st
          WHERE st.trip_id = t.trip_id
          ORDER BY st.departure_time ASC LIMIT 1) AS departure_time,
         (SELECT st.stop_id FROM stop_times AS st
          WHERE st.trip_id = t.trip_id
          ORDER BY st.departure_time ASC LIMIT 1) AS departure_stop_id
  FROM trips AS t
  JOIN calendar_dates AS c ON c.service_id = t.service_id AND c.exception_type <> 2
  WHERE t.route_id = $1
) AS d
WHERE d.departure_time IS NOT NULL
  AND (d.departure_date > $2 OR (d.departure_date = $2 AND d.departure_time > $3))
ORDER BY d.departure_date, d.departure_time, d.trip_id
LIMIT 3`
	rows, err := s.db.QueryContext(ctx, q, routeID, date, clock)
	if err != nil {
		return nil, fmt.Errorf("query next trips for route %s: %w", routeID, err)
	}
	defer rows.Close()
	var out []gtfs.TripDeparture
	for rows.Next() {
		var td gtfs.TripDeparture
		if err := rows.Scan(&td.TripID, &td.RouteID, &td.ServiceID, &td.Headsign, &td.DepartureDate, &td.DepartureTime, &td.DepartureStopID); err != nil {
			return nil, err
		}
		out = append(out, td)
	}
	return out, rows.Err()
}

// TripsInServiceForRoute returns the route's trips running on date whose
// [first departure, last arrival] interval contains clock, bounds
// included, ordered by trip_id.
func (s *Store) TripsInServiceForRoute(ctx context.Context, date, clock, routeID string) ([]gtfs.TripInService, error) {
	q := `
SELECT d.trip_id, d.route_id, d.service_id, d.trip_headsign,
       d.initial_departure_time, d.final_arrival_time
FROM (
  SELECT t.trip_id AS trip_id, t.route_id AS route_id,
         COALESCE(t.service_id, '') AS service_id, COALESCE(t.trip_headsign, '') AS trip_headsign,
         (SELECT MIN(st.departure_time) FROM stop_times AS st WHERE st.trip_id = t.trip_id) AS initial_departure_time,
         (SELECT MAX(st.arrival_time) FROM stop_times AS st WHERE st.trip_id = t.trip_id) AS final_arrival_time
  FROM trips AS t
  JOIN calendar_dates AS c ON c.service_id = t.service_id AND c.exception_type <> 2
  WHERE c.date = $1 AND t.route_id = $2
) AS d
WHERE d.initial_departure_time <= $3 AND $3 <= d.final_arrival_time
ORDER BY d.trip_id`
	rows, err := s.db.QueryContext(ctx, q, date, routeID, clock)
	if err != nil {
		return nil, fmt.Errorf("query trips in service for route %s: %w", routeID, err)
	}
	defer rows.Close()
	var out []gtfs.TripInService
	for rows.Next() {
		var t gtfs.TripInService
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID, &t.Headsign, &t.InitialDepartureTime, &t.FinalArrivalTime); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func lookupErr(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("lookup %s %q: %w", kind, id, err)
}
