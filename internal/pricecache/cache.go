// Package pricecache holds a single time-bounded value refreshed on
// demand, used for the supplementary price-change figure shown by the
// website. It replaces what would otherwise be hidden global state with
// an explicit cache object passed into the handler.
package pricecache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RefreshFunc fetches a fresh value.
type RefreshFunc func(ctx context.Context) (float64, error)

// Cache memoizes one float value for a fixed TTL. When a refresh fails and
// a previous value exists, the stale value is served instead of the error.
type Cache struct {
	mu        sync.Mutex
	clock     clock.Clock
	ttl       time.Duration
	refresh   RefreshFunc
	value     float64
	fetchedAt time.Time
	primed    bool
}

func New(ttl time.Duration, refresh RefreshFunc) *Cache {
	return &Cache{
		clock:   clock.New(),
		ttl:     ttl,
		refresh: refresh,
	}
}

// WithClock substitutes the wall clock. Test hook.
func (c *Cache) WithClock(cl clock.Clock) *Cache {
	c.clock = cl
	return c
}

// Get returns the cached value while it is fresh, refreshing it otherwise.
// Stale reports whether the returned value outlived its TTL because the
// refresh failed.
func (c *Cache) Get(ctx context.Context) (value float64, stale bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.primed && now.Sub(c.fetchedAt) < c.ttl {
		return c.value, false, nil
	}

	v, err := c.refresh(ctx)
	if err != nil {
		if c.primed {
			return c.value, true, nil
		}
		return 0, false, err
	}

	c.value = v
	c.fetchedAt = now
	c.primed = true
	return v, false, nil
}
