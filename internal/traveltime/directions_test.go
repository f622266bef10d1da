package traveltime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/gtfs"
)

var stopsWithCoords = []gtfs.StopInfo{
	{StopID: "2", Lat: 37.43, Lng: -122.09},
	{StopID: "3", Lat: 37.44, Lng: -122.1},
	{StopID: "4", Lat: 37.45, Lng: -122.11},
	{StopID: "1", Lat: 37.42, Lng: -122.08},
}

func newDirections(t *testing.T, baseURL, key string) *DirectionsClient {
	t.Helper()
	c, err := NewDirectionsClient(baseURL, key, nil)
	require.NoError(t, err)
	return c
}

func TestDirectionsClientFetchLegs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/directions/json", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "37.43,-122.09", q.Get("origin"))
		assert.Equal(t, "37.42,-122.08", q.Get("destination"))
		assert.Equal(t, "37.44,-122.1|37.45,-122.11", q.Get("waypoints"))
		assert.Equal(t, "secret", q.Get("key"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","routes":[{"legs":[
			{"duration":{"value":600,"text":"10 mins"}},
			{"duration":{"value":90,"text":"2 mins"}},
			{"duration":{"value":1200,"text":"20 mins"}}]}]}`))
	}))
	defer srv.Close()

	legs, err := newDirections(t, srv.URL, "secret").FetchLegs(context.Background(), stopsWithCoords)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Minute, 90 * time.Second, 20 * time.Minute}, legs)
}

func TestDirectionsClientTwoStopsHasNoWaypoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("waypoints"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"OK","routes":[{"legs":[{"duration":{"value":60,"text":"1 min"}}]}]}`))
	}))
	defer srv.Close()

	legs, err := newDirections(t, srv.URL, "k").FetchLegs(context.Background(), stopsWithCoords[:2])
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Minute}, legs)
}

func TestDirectionsClientRequiresKey(t *testing.T) {
	_, err := NewDirectionsClient("", "", nil)
	assert.Error(t, err)
}

func TestDirectionsClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"status not ok", http.StatusOK, `{"status":"REQUEST_DENIED","error_message":"bad key","routes":[]}`, "REQUEST_DENIED"},
		{"no routes", http.StatusOK, `{"status":"OK","routes":[]}`, "no routes"},
		{"bad json", http.StatusOK, `{`, ""},
		{"unavailable", http.StatusServiceUnavailable, "down", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := newDirections(t, srv.URL, "k").FetchLegs(context.Background(), stopsWithCoords)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := newDirections(t, "http://127.0.0.1:1", "k").FetchLegs(context.Background(), stopsWithCoords[:1])
	assert.ErrorContains(t, err, "at least 2 stops")
}

func TestDirectionsClientTransportErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := newDirections(t, base, "topsecret").FetchLegs(context.Background(), stopsWithCoords)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "topsecret")
}
