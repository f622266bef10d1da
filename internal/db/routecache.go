package db

import (
	"context"
	"time"

	"github.com/bluele/gcache"

	"bus-tracker/internal/gtfs"
)

type RouteLookup interface {
	RouteByID(ctx context.Context, routeID string) (gtfs.Route, error)
}

// RouteCache memoizes route lookups in an LRU with expiration. Misses
// are not cached.
type RouteCache struct {
	src   RouteLookup
	cache gcache.Cache
}

func NewRouteCache(src RouteLookup, size int, ttl time.Duration) *RouteCache {
	return &RouteCache{
		src:   src,
		cache: gcache.New(size).LRU().Expiration(ttl).Build(),
	}
}

func (c *RouteCache) RouteByID(ctx context.Context, routeID string) (gtfs.Route, error) {
	if v, err := c.cache.Get(routeID); err == nil {
		return v.(gtfs.Route), nil
	}
	r, err := c.src.RouteByID(ctx, routeID)
	if err != nil {
		return gtfs.Route{}, err
	}
	_ = c.cache.Set(routeID, r)
	return r, nil
}

// CachedStore is a Store whose route lookups go through a RouteCache.
type CachedStore struct {
	*Store
	routes *RouteCache
}

func NewCachedStore(s *Store, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: s, routes: NewRouteCache(s, size, ttl)}
}

func (c *CachedStore) RouteByID(ctx context.Context, routeID string) (gtfs.Route, error) {
	return c.routes.RouteByID(ctx, routeID)
}
