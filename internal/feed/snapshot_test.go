package feed

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/publisher"
)

func loadLA(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)
	return loc
}

func TestPublishRejectsWrongPayload(t *testing.T) {
	s := NewSnapshot(time.UTC)
	assert.Error(t, s.Publish(publisher.ChannelBuses, "nope"))
	assert.Error(t, s.Publish(publisher.ChannelPanels, 3))
	assert.Error(t, s.Publish(publisher.ChannelTime, time.Now()))
	assert.NoError(t, s.Publish(publisher.ChannelMap, struct{}{}), "other channels are ignored")
}

func TestVehiclePositions(t *testing.T) {
	loc := loadLA(t)
	s := NewSnapshot(loc)
	moment := time.Date(2016, 5, 18, 6, 0, 0, 0, loc)
	require.NoError(t, s.Publish(publisher.ChannelTime, gtfs.ClockState{Moment: moment}))
	require.NoError(t, s.Publish(publisher.ChannelBuses, gtfs.BusLocations{
		"Trip_b": {TripID: "b", RouteID: "2", Lat: 37.5, Lng: -122.5, Bearing: 180},
		"Trip_a": {TripID: "a", RouteID: "1", RouteName: "Shoreline", Lat: 37.25, Lng: -122.25},
	}))

	msg := s.VehiclePositions()
	assert.Equal(t, uint64(moment.Unix()), msg.GetHeader().GetTimestamp())
	require.Len(t, msg.Entity, 2)
	first := msg.Entity[0]
	assert.Equal(t, "Trip_a", first.GetId())
	assert.Equal(t, "a", first.GetVehicle().GetTrip().GetTripId())
	assert.Equal(t, "1", first.GetVehicle().GetTrip().GetRouteId())
	assert.Equal(t, "Shoreline", first.GetVehicle().GetVehicle().GetLabel())
	assert.Equal(t, float32(37.25), first.GetVehicle().GetPosition().GetLatitude())
	assert.Equal(t, float32(180), msg.Entity[1].GetVehicle().GetPosition().GetBearing())
}

func TestTripUpdatesDeduplicatesTrips(t *testing.T) {
	loc := loadLA(t)
	s := NewSnapshot(loc)
	next := &gtfs.TripInfo{
		Trip: gtfs.TripDeparture{
			Trip:          gtfs.Trip{TripID: "101", RouteID: "10"},
			DepartureDate: "20160518",
			DepartureTime: "06:00:00",
		},
		StopInfo: []gtfs.StopInfo{
			{StopID: "A", StopSequence: 1, Date: "20160518", ArrivalTime: "06:00:00", DepartureTime: "06:00:00"},
			{StopID: "B", StopSequence: 2, Date: "20160518", ArrivalTime: "06:10:00", DepartureTime: "06:12:00"},
			{StopID: "C", StopSequence: 3, Date: "bad", ArrivalTime: "06:20:00"},
		},
	}
	require.NoError(t, s.Publish(publisher.ChannelPanels, []gtfs.PanelResult{
		{Left: []gtfs.RouteSummary{{NextTrip: next}, {}}},
		{Right: []gtfs.RouteSummary{{NextTrip: next}}},
	}))

	msg := s.TripUpdates()
	require.Len(t, msg.Entity, 1)
	tu := msg.Entity[0].GetTripUpdate()
	assert.Equal(t, "20160518", tu.GetTrip().GetStartDate())
	assert.Equal(t, "06:00:00", tu.GetTrip().GetStartTime())
	require.Len(t, tu.StopTimeUpdate, 2, "unparseable stop is skipped")

	b := tu.StopTimeUpdate[1]
	assert.Equal(t, "B", b.GetStopId())
	assert.Equal(t, uint32(2), b.GetStopSequence())
	assert.Equal(t, time.Date(2016, 5, 18, 6, 10, 0, 0, loc).Unix(), b.GetArrival().GetTime())
	assert.Equal(t, time.Date(2016, 5, 18, 6, 12, 0, 0, loc).Unix(), b.GetDeparture().GetTime())
}

func TestHeaderFallsBackToWallClock(t *testing.T) {
	s := NewSnapshot(time.UTC)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	assert.Equal(t, uint64(fixed.Unix()), s.VehiclePositions().GetHeader().GetTimestamp())
	assert.Equal(t, gtfsrt.FeedHeader_FULL_DATASET, s.TripUpdates().GetHeader().GetIncrementality())
}

func TestHandlers(t *testing.T) {
	s := NewSnapshot(time.UTC)
	require.NoError(t, s.Publish(publisher.ChannelBuses, gtfs.BusLocations{
		"Trip_a": {TripID: "a", RouteID: "1", Lat: 1, Lng: 2},
	}))
	routes := s.Routes()
	require.Contains(t, routes, VehiclePositionsPath)
	require.Contains(t, routes, TripUpdatesPath)

	rec := httptest.NewRecorder()
	routes[VehiclePositionsPath].ServeHTTP(rec, httptest.NewRequest("GET", VehiclePositionsPath, nil))
	assert.Equal(t, "application/x-protobuf", rec.Header().Get("Content-Type"))
	var msg gtfsrt.FeedMessage
	require.NoError(t, proto.Unmarshal(rec.Body.Bytes(), &msg))
	require.Len(t, msg.Entity, 1)
	assert.Equal(t, "a", msg.Entity[0].GetVehicle().GetTrip().GetTripId())

	rec = httptest.NewRecorder()
	routes[VehiclePositionsPath].ServeHTTP(rec, httptest.NewRequest("GET", VehiclePositionsPath+"?format=text", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, string(body), "trip_id")
	assert.Contains(t, string(body), `"Trip_a"`)
}
