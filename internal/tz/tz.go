// Package tz resolves schedule timezone names to locations.
package tz

import (
	"fmt"
	"strings"
	"time"

	"bookkeeper/internal/cache"
	"bookkeeper/internal/core"
)

const (
	cacheSize = 32
	cacheTTL  = 24 * time.Hour
)

// Resolver turns IANA names into locations. The empty name and "system"
// resolve to the host local zone, read fresh on every call.
type Resolver struct {
	cache cache.Cache[*time.Location]
	local func() *time.Location
}

// NewResolver returns a resolver backed by an LRU of loaded zones.
func NewResolver() *Resolver {
	return &Resolver{
		cache: cache.NewLRUCache[*time.Location](cacheSize, cacheTTL),
		local: func() *time.Location { return time.Local },
	}
}

// Resolve returns the location for name.
func (r *Resolver) Resolve(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if core.IsSystemTimezone(name) {
		return r.local(), nil
	}
	loc, err := cache.GetOrLoad(r.cache, name, time.LoadLocation)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", core.ErrInvalidArgument, name)
	}
	return loc, nil
}

// ResolveOrLocal never fails: unknown names fall back to the host zone and
// the returned error says why.
func (r *Resolver) ResolveOrLocal(name string) (*time.Location, error) {
	loc, err := r.Resolve(name)
	if err != nil {
		return r.local(), err
	}
	return loc, nil
}

// Validate reports whether name would resolve.
func (r *Resolver) Validate(name string) error {
	_, err := r.Resolve(name)
	return err
}
