package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/gtfs"
)

type countingRoutes struct {
	calls  int
	routes map[string]gtfs.Route
}

func (c *countingRoutes) RouteByID(_ context.Context, id string) (gtfs.Route, error) {
	c.calls++
	r, ok := c.routes[id]
	if !ok {
		return gtfs.Route{}, ErrNotFound
	}
	return r, nil
}

func TestRouteCache(t *testing.T) {
	src := &countingRoutes{routes: map[string]gtfs.Route{"10": {RouteID: "10", LongName: "Hotel Shuttle"}}}
	c := NewRouteCache(src, 16, time.Minute)
	ctx := context.Background()

	for range 3 {
		r, err := c.RouteByID(ctx, "10")
		require.NoError(t, err)
		assert.Equal(t, "Hotel Shuttle", r.LongName)
	}
	assert.Equal(t, 1, src.calls)

	_, err := c.RouteByID(ctx, "99")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.RouteByID(ctx, "99")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 3, src.calls, "misses are not cached")
}
