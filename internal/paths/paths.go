// Package paths replays precomputed vehicle paths: each path is a trip
// with a time-ordered list of waypoints, and a vehicle's position at any
// moment inside the path's window is interpolated between the two
// bracketing waypoints.
package paths

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"bus-tracker/internal/gtfs"
)

// PointLayout is the waypoint timestamp format of the paths file.
const PointLayout = "20060102 15:04:05"

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Point struct {
	Time     time.Time
	Location Location
}

type Path struct {
	Trip   gtfs.TripDeparture
	Points []Point
}

func (p *Path) Start() time.Time { return p.Points[0].Time }
func (p *Path) End() time.Time   { return p.Points[len(p.Points)-1].Time }

// Set is the immutable collection of loaded paths.
type Set struct {
	paths []Path
}

func NewSet(paths []Path) *Set { return &Set{paths: paths} }

func (s *Set) Len() int { return len(s.paths) }

type rawPoint struct {
	Time     string   `json:"time"`
	Location Location `json:"location"`
}

type rawPath struct {
	Trip   gtfs.TripDeparture `json:"trip"`
	Points []rawPoint         `json:"points"`
}

// Load decodes a JSON array of {trip, points} records. Timestamps are
// read in loc. Paths without waypoints or with decreasing timestamps are
// rejected.
func Load(r io.Reader, loc *time.Location) (*Set, error) {
	var raw []rawPath
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}
	out := make([]Path, 0, len(raw))
	for i, rp := range raw {
		if len(rp.Points) == 0 {
			return nil, fmt.Errorf("path %d (trip %q): no waypoints", i, rp.Trip.TripID)
		}
		p := Path{Trip: rp.Trip, Points: make([]Point, len(rp.Points))}
		for j, pt := range rp.Points {
			t, err := time.ParseInLocation(PointLayout, pt.Time, loc)
			if err != nil {
				return nil, fmt.Errorf("path %d (trip %q) point %d: %w", i, rp.Trip.TripID, j, err)
			}
			if j > 0 && t.Before(p.Points[j-1].Time) {
				return nil, fmt.Errorf("path %d (trip %q) point %d: time goes backwards", i, rp.Trip.TripID, j)
			}
			p.Points[j] = Point{Time: t, Location: pt.Location}
		}
		out = append(out, p)
	}
	return NewSet(out), nil
}

func LoadFile(name string, loc *time.Location) (*Set, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Load(f, loc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// ActiveAt returns the paths whose window strictly contains now. A
// vehicle exactly at its first or last waypoint time is not active.
func (s *Set) ActiveAt(now time.Time) []*Path {
	var out []*Path
	for i := range s.paths {
		p := &s.paths[i]
		if p.Start().Before(now) && p.End().After(now) {
			out = append(out, p)
		}
	}
	return out
}

// Vehicle is an active path resolved to a position.
type Vehicle struct {
	Trip     gtfs.TripDeparture
	Position gtfs.Position
}

func (s *Set) PositionsAt(now time.Time) []Vehicle {
	active := s.ActiveAt(now)
	out := make([]Vehicle, 0, len(active))
	for _, p := range active {
		pos, err := PositionAt(p, now)
		if err != nil {
			continue
		}
		out = append(out, Vehicle{Trip: p.Trip, Position: pos})
	}
	return out
}

var ErrEmptyPath = errors.New("path has no waypoints")

// PositionAt narrows [before, after] by midpoint until the bracket is a
// single segment, then blends the two ends: before is weighted by the
// elapsed proportion of the segment, after by the remainder.
func PositionAt(p *Path, now time.Time) (gtfs.Position, error) {
	pts := p.Points
	if len(pts) == 0 {
		return gtfs.Position{}, ErrEmptyPath
	}
	before, after := 0, len(pts)-1
	for after-before > 1 {
		mid := before + (after-before+1)/2
		if pts[mid].Time.Before(now) {
			before = mid
		} else {
			after = mid
		}
	}
	a, b := pts[before], pts[after]
	span := b.Time.Sub(a.Time)
	if before == after || span <= 0 {
		return gtfs.Position{Lat: a.Location.Lat, Lng: a.Location.Lng, BearingDeg: segmentBearing(pts, before)}, nil
	}
	proportion := float64(now.Sub(a.Time)) / float64(span)
	return gtfs.Position{
		Lat:        a.Location.Lat*proportion + b.Location.Lat*(1-proportion),
		Lng:        a.Location.Lng*proportion + b.Location.Lng*(1-proportion),
		BearingDeg: bearingDeg(a.Location, b.Location),
	}, nil
}

func segmentBearing(pts []Point, i int) float64 {
	switch {
	case i+1 < len(pts):
		return bearingDeg(pts[i].Location, pts[i+1].Location)
	case i > 0:
		return bearingDeg(pts[i-1].Location, pts[i].Location)
	}
	return 0
}

func bearingDeg(a, b Location) float64 {
	y := math.Sin((b.Lng-a.Lng)*math.Pi/180.0) * math.Cos(b.Lat*math.Pi/180.0)
	x := math.Cos(a.Lat*math.Pi/180.0)*math.Sin(b.Lat*math.Pi/180.0) - math.Sin(a.Lat*math.Pi/180.0)*math.Cos(b.Lat*math.Pi/180.0)*math.Cos((b.Lng-a.Lng)*math.Pi/180.0)
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}
