// Package feed republishes the simulated world as GTFS-Realtime: vehicle
// positions from the bus loop and trip updates from predicted stop times.
package feed

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/publisher"
)

const (
	VehiclePositionsPath = "/gtfs-rt/vehicle-positions"
	TripUpdatesPath      = "/gtfs-rt/trip-updates"
)

// Snapshot is a publisher.Sink keeping the last bus locations, panel
// results and clock moment.
type Snapshot struct {
	loc *time.Location
	now func() time.Time
	log *slog.Logger

	mu     sync.RWMutex
	moment time.Time
	buses  gtfs.BusLocations
	panels []gtfs.PanelResult
}

func NewSnapshot(loc *time.Location) *Snapshot {
	return &Snapshot{
		loc: loc,
		now: time.Now,
		log: slog.Default().With("component", "feed"),
	}
}

func (s *Snapshot) Publish(channel string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch channel {
	case publisher.ChannelTime:
		c, ok := v.(gtfs.ClockState)
		if !ok {
			return unexpected(channel, v)
		}
		s.moment = c.Moment
	case publisher.ChannelBuses:
		b, ok := v.(gtfs.BusLocations)
		if !ok {
			return unexpected(channel, v)
		}
		s.buses = b
	case publisher.ChannelPanels:
		p, ok := v.([]gtfs.PanelResult)
		if !ok {
			return unexpected(channel, v)
		}
		s.panels = p
	}
	return nil
}

func unexpected(channel string, v any) error {
	return fmt.Errorf("feed: unexpected %T on %s", v, channel)
}

// timestamp is the simulated moment once the clock has published.
func (s *Snapshot) timestamp() time.Time {
	if s.moment.IsZero() {
		return s.now()
	}
	return s.moment
}

func (s *Snapshot) header() *gtfsrt.FeedHeader {
	return &gtfsrt.FeedHeader{
		GtfsRealtimeVersion: ptr("2.0"),
		Incrementality:      ptr(gtfsrt.FeedHeader_FULL_DATASET),
		Timestamp:           ptr(uint64(s.timestamp().Unix())),
	}
}

func (s *Snapshot) VehiclePositions() *gtfsrt.FeedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := &gtfsrt.FeedMessage{Header: s.header()}
	ts := ptr(uint64(s.timestamp().Unix()))
	keys := make([]string, 0, len(s.buses))
	for k := range s.buses {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		b := s.buses[k]
		msg.Entity = append(msg.Entity, &gtfsrt.FeedEntity{
			Id: ptr(k),
			Vehicle: &gtfsrt.VehiclePosition{
				Trip: &gtfsrt.TripDescriptor{
					TripId:  ptr(b.TripID),
					RouteId: ptr(b.RouteID),
				},
				Vehicle: &gtfsrt.VehicleDescriptor{Id: ptr(k), Label: ptr(b.RouteName)},
				Position: &gtfsrt.Position{
					Latitude:  ptr(float32(b.Lat)),
					Longitude: ptr(float32(b.Lng)),
					Bearing:   ptr(float32(b.Bearing)),
				},
				Timestamp: ts,
			},
		})
	}
	return msg
}

// TripUpdates lists the next trip of every summarized route with its
// (possibly predicted) stop times. A trip shown on several panels
// appears once.
func (s *Snapshot) TripUpdates() *gtfsrt.FeedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg := &gtfsrt.FeedMessage{Header: s.header()}
	seen := map[string]bool{}
	var infos []*gtfs.TripInfo
	for _, p := range s.panels {
		for _, rs := range slices.Concat(p.Left, p.Right) {
			if rs.NextTrip == nil || seen[rs.NextTrip.Trip.TripID] {
				continue
			}
			seen[rs.NextTrip.Trip.TripID] = true
			infos = append(infos, rs.NextTrip)
		}
	}
	slices.SortFunc(infos, func(a, b *gtfs.TripInfo) int {
		return strings.Compare(a.Trip.TripID, b.Trip.TripID)
	})
	ts := ptr(uint64(s.timestamp().Unix()))
	for _, info := range infos {
		msg.Entity = append(msg.Entity, &gtfsrt.FeedEntity{
			Id: ptr(info.Trip.TripID),
			TripUpdate: &gtfsrt.TripUpdate{
				Trip: &gtfsrt.TripDescriptor{
					TripId:    ptr(info.Trip.TripID),
					RouteId:   ptr(info.Trip.RouteID),
					StartDate: ptr(info.Trip.DepartureDate),
					StartTime: ptr(info.Trip.DepartureTime),
				},
				StopTimeUpdate: s.stopTimeUpdates(info),
				Timestamp:      ts,
			},
		})
	}
	return msg
}

func (s *Snapshot) stopTimeUpdates(info *gtfs.TripInfo) []*gtfsrt.TripUpdate_StopTimeUpdate {
	out := make([]*gtfsrt.TripUpdate_StopTimeUpdate, 0, len(info.StopInfo))
	for _, si := range info.StopInfo {
		arr, err := gtfs.ServiceTime(si.Date, si.ArrivalTime, s.loc)
		if err != nil {
			s.log.Warn("skipping stop time", "trip_id", info.Trip.TripID, "stop_id", si.StopID, "error", err)
			continue
		}
		dep, err := gtfs.ServiceTime(si.Date, si.DepartureTime, s.loc)
		if err != nil {
			dep = arr
		}
		out = append(out, &gtfsrt.TripUpdate_StopTimeUpdate{
			StopSequence: ptr(uint32(si.StopSequence)),
			StopId:       ptr(si.StopID),
			Arrival:      &gtfsrt.TripUpdate_StopTimeEvent{Time: ptr(arr.Unix())},
			Departure:    &gtfsrt.TripUpdate_StopTimeEvent{Time: ptr(dep.Unix())},
		})
	}
	return out
}

// Routes returns the HTTP handlers of both feeds keyed by path.
// "?format=text" renders the message as prototext.
func (s *Snapshot) Routes() map[string]http.Handler {
	return map[string]http.Handler{
		VehiclePositionsPath: serve(s.VehiclePositions),
		TripUpdatesPath:      serve(s.TripUpdates),
	}
}

func serve(build func() *gtfsrt.FeedMessage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg := build()
		var (
			data []byte
			err  error
		)
		contentType := "application/x-protobuf"
		if r.URL.Query().Get("format") == "text" {
			data, err = prototext.MarshalOptions{Multiline: true}.Marshal(msg)
			contentType = "text/plain; charset=utf-8"
		} else {
			data, err = proto.Marshal(msg)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	})
}

func ptr[T any](thing T) *T {
	return &thing
}
