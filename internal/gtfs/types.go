package gtfs

import (
	"encoding/json"
	"time"
)

type Route struct {
	RouteID   string `json:"route_id"`
	AgencyID  string `json:"agency_id"`
	ShortName string `json:"route_short_name"`
	LongName  string `json:"route_long_name"`
	Color     string `json:"route_color"`
	TextColor string `json:"route_text_color"`
	Type      int    `json:"route_type"`
}

type Stop struct {
	StopID       string  `json:"stop_id"`
	Name         string  `json:"stop_name"`
	Lat          float64 `json:"stop_lat"`
	Lon          float64 `json:"stop_lon"`
	LocationType int     `json:"location_type"`
}

type Trip struct {
	TripID    string `json:"trip_id"`
	RouteID   string `json:"route_id"`
	Headsign  string `json:"trip_headsign"`
	ServiceID string `json:"service_id"`
}

type StopTime struct {
	TripID        string
	StopID        string
	StopSequence  int
	ArrivalTime   string // HH:MM:SS, hours may exceed 23
	DepartureTime string
	PickupType    int
	DropOffType   int
}

// ServiceDate maps a service id onto one calendar date.
// ExceptionType 1 adds service on Date, 2 removes it.
type ServiceDate struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType int
}

// TripDeparture is a trip on one concrete service date together with
// the departure of its first stop.
type TripDeparture struct {
	Trip
	DepartureDate   string `json:"departure_date"`
	DepartureTime   string `json:"departure_time"`
	DepartureStopID string `json:"departure_stop_id"`
}

type TripInService struct {
	Trip
	InitialDepartureTime string `json:"initial_departure_time"`
	FinalArrivalTime     string `json:"final_arrival_time"`
}

// StopInfo is one row of a trip's stop list joined with the stop and
// the service date it runs on.
type StopInfo struct {
	ArrivalTime   string  `json:"arrival_time"`
	DepartureTime string  `json:"departure_time"`
	StopID        string  `json:"stop_id"`
	StopSequence  int     `json:"stop_sequence"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	StopName      string  `json:"stop_name"`
	Date          string  `json:"date"`
}

type Position struct {
	Lat        float64
	Lng        float64
	BearingDeg float64
}

type TripInfo struct {
	Trip     TripDeparture `json:"trip"`
	StopInfo []StopInfo    `json:"stop_info"`
}

// RouteSummary is what a dashboard card shows for one route.
type RouteSummary struct {
	Route          *Route    `json:"route"`
	NextTrip       *TripInfo `json:"next_trip,omitempty"`
	LeavingInLabel string    `json:"leaving_in_label"`
	LeavingIn      string    `json:"leaving_in"`
	NextInLabel    string    `json:"next_in_label"`
	NextIn         string    `json:"next_in"`
}

type PanelResult struct {
	Left  []RouteSummary `json:"left"`
	Right []RouteSummary `json:"right"`
}

type ClockState struct {
	Moment  time.Time
	Display string
}

func (c ClockState) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Display string `json:"display"`
		Moment  int64  `json:"moment"`
	}{c.Display, c.Moment.UnixMilli()})
}

type BusLocation struct {
	TripID     string  `json:"-"`
	RouteID    string  `json:"route_id"`
	RouteName  string  `json:"route_name"`
	RouteColor string  `json:"route_color"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Bearing    float64 `json:"bearing"`
}

// BusLocations is keyed by "Trip_<trip_id>".
type BusLocations map[string]BusLocation

func BusKey(tripID string) string { return "Trip_" + tripID }
