package extras

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the extras-group catalog from the backend.
type FetchFunc func(ctx context.Context) ([]Group, error)

// Catalog caches the extras-group catalog for the session's lifetime.
// The first load is lazy, and concurrent requesters share one in-flight
// fetch instead of issuing redundant calls.
type Catalog struct {
	fetch FetchFunc

	sf     singleflight.Group
	mu     sync.RWMutex
	groups []Group
	loaded bool
}

// NewCatalog creates a catalog backed by the given fetch function.
func NewCatalog(fetch FetchFunc) *Catalog {
	return &Catalog{fetch: fetch}
}

// Groups returns the cached catalog, loading it on first use. A failed
// load is not cached; the next caller retries.
func (c *Catalog) Groups(ctx context.Context) ([]Group, error) {
	c.mu.RLock()
	if c.loaded {
		groups := c.groups
		c.mu.RUnlock()
		return groups, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.sf.Do("extras-groups", func() (interface{}, error) {
		groups, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.groups = groups
		c.loaded = true
		c.mu.Unlock()
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Group), nil
}

// Invalidate drops the cached catalog so the next Groups call refetches.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.groups = nil
	c.loaded = false
	c.mu.Unlock()
}
