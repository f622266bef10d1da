package traveltime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"bus-tracker/internal/gtfs"
)

// DirectionsClient asks the Directions API for a route through a trip's
// stops: first stop as origin, last as destination and the rest as
// waypoints, in order.
type DirectionsClient struct {
	maps   *maps.Client
	apiKey string
}

// NewDirectionsClient builds a client against baseURL, or the public
// Google endpoint when baseURL is empty.
func NewDirectionsClient(baseURL, apiKey string, client *http.Client) (*DirectionsClient, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, maps.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	if client != nil {
		opts = append(opts, maps.WithHTTPClient(client))
	}
	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("directions client: %w", err)
	}
	return &DirectionsClient{maps: mc, apiKey: apiKey}, nil
}

func (d *DirectionsClient) FetchLegs(ctx context.Context, stops []gtfs.StopInfo) ([]time.Duration, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("directions need at least 2 stops, got %d", len(stops))
	}
	req := &maps.DirectionsRequest{
		Origin:      latLng(stops[0]),
		Destination: latLng(stops[len(stops)-1]),
	}
	for _, s := range stops[1 : len(stops)-1] {
		req.Waypoints = append(req.Waypoints, latLng(s))
	}

	routes, _, err := d.maps.Directions(ctx, req)
	if err != nil {
		return nil, d.redact(err)
	}
	if len(routes) == 0 {
		return nil, errors.New("directions returned no routes")
	}
	legs := make([]time.Duration, len(routes[0].Legs))
	for i, l := range routes[0].Legs {
		legs[i] = l.Duration
	}
	return legs, nil
}

// redact strips the API key from transport errors, which carry the
// request URL.
func (d *DirectionsClient) redact(err error) error {
	var uerr *url.Error
	if d.apiKey == "" || !errors.As(err, &uerr) {
		return err
	}
	uerr.URL = strings.ReplaceAll(uerr.URL, url.QueryEscape(d.apiKey), "REDACTED")
	uerr.URL = strings.ReplaceAll(uerr.URL, d.apiKey, "REDACTED")
	return err
}

func latLng(s gtfs.StopInfo) string {
	return strconv.FormatFloat(s.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(s.Lng, 'f', -1, 64)
}
