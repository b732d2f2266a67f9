package resolver

import (
	"context"
	"sync/atomic"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/jmgilman/digestpin/internal/slogger"
)

// Stats reports cache effectiveness for a run.
type Stats struct {
	Hits    int64 `json:"hits" yaml:"hits"`
	Misses  int64 `json:"misses" yaml:"misses"`
	Entries int   `json:"entries" yaml:"entries"`
}

// Cached memoizes successful resolutions for the lifetime of a run.
// Concurrent requests for the same image share one underlying call.
// Failures are not stored, so a failing image is retried on its next use.
type Cached struct {
	next   Resolver
	store  *cache.Cache
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps next with an in-memory resolution cache.
func NewCached(next Resolver) *Cached {
	return &Cached{
		next:  next,
		store: cache.New(cache.NoExpiration, 0),
	}
}

// Resolve returns the cached version of bare, resolving it on first use.
func (c *Cached) Resolve(ctx context.Context, bare string) (*ResolvedVersion, error) {
	if v, ok := c.lookup(bare); ok {
		c.hits.Add(1)
		slogger.L(ctx).Debug("image already resolved", "image", bare, "version", v.String())
		return v, nil
	}

	res, err, _ := c.group.Do(bare, func() (any, error) {
		// A concurrent flight may have finished between lookup and Do.
		if v, ok := c.lookup(bare); ok {
			c.hits.Add(1)
			return v, nil
		}

		c.misses.Add(1)
		v, err := c.next.Resolve(ctx, bare)
		if err != nil {
			return nil, err
		}
		c.store.Set(bare, v, cache.NoExpiration)
		return v, nil
	})
	if err != nil {
		return nil, err
	}

	v := *res.(*ResolvedVersion)
	return &v, nil
}

// Stats returns hit and miss counters and the number of cached images.
func (c *Cached) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.store.ItemCount(),
	}
}

func (c *Cached) lookup(bare string) (*ResolvedVersion, bool) {
	item, ok := c.store.Get(bare)
	if !ok {
		return nil, false
	}
	v := *item.(*ResolvedVersion)
	return &v, true
}
