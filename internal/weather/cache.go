package weather

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is how long a fetched reading is served without re-querying.
const DefaultTTL = 10 * time.Minute

// Observer receives cache and fetch outcomes, typically for metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
	FetchDone(err error)
}

// Entry is the cached state. A zero FetchedAt means the entry is invalid.
type Entry struct {
	Weather
	FetchedAt time.Time `json:"fetchedAt"`
}

// Cache memoizes one location's weather.
//
// The mutex protects memory only; it is not held across the fetch, so two
// concurrent callers may both refetch an expired entry.
type Cache struct {
	fetcher Fetcher
	loc     Location
	ttl     time.Duration
	obs     Observer
	now     func() time.Time

	mu    sync.Mutex
	entry Entry
	has   bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithObserver attaches an Observer.
func WithObserver(obs Observer) CacheOption {
	return func(c *Cache) { c.obs = obs }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a Cache for loc. A non-positive ttl selects DefaultTTL.
func NewCache(f Fetcher, loc Location, ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{fetcher: f, loc: loc, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the location this cache serves.
func (c *Cache) Location() Location {
	return c.loc
}

// Get returns the cached reading while fresh, else fetches a new one. On
// fetch failure it returns Default() and a non-nil error, leaving the cache
// timestamp untouched so the next call retries.
func (c *Cache) Get(ctx context.Context) (Weather, error) {
	now := c.now()

	c.mu.Lock()
	if c.has && !c.entry.FetchedAt.IsZero() && now.Sub(c.entry.FetchedAt) < c.ttl {
		w := c.entry.Weather
		c.mu.Unlock()
		if c.obs != nil {
			c.obs.CacheHit()
		}
		return w, nil
	}
	c.mu.Unlock()

	if c.obs != nil {
		c.obs.CacheMiss()
	}

	w, err := c.fetcher.Fetch(ctx, c.loc)
	if c.obs != nil {
		c.obs.FetchDone(err)
	}
	if err != nil {
		return Default(), fmt.Errorf("refresh weather cache: %w", err)
	}

	c.mu.Lock()
	c.entry = Entry{Weather: w, FetchedAt: c.now()}
	c.has = true
	c.mu.Unlock()
	return w, nil
}

// Invalidate forces the next Get to fetch. Cached values are kept.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry.FetchedAt = time.Time{}
	c.mu.Unlock()
}

// Refresh invalidates and refetches.
func (c *Cache) Refresh(ctx context.Context) (Weather, error) {
	c.Invalidate()
	return c.Get(ctx)
}

// Snapshot returns the current entry and whether anything was ever fetched.
func (c *Cache) Snapshot() (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry, c.has
}
