package cache

import (
	"context"
	"time"

	"github.com/loomery/loom/common/logger"
	"github.com/loomery/loom/common/metrics"
)

// Store is the contract shared by both cache levels
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Loader produces a value on cache miss. Loaders must be idempotent:
// concurrent misses for the same key may each invoke the loader.
type Loader func(ctx context.Context) ([]byte, time.Duration, error)

// Options configures a layered cache
type Options struct {
	L1Capacity    int
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// Layered is the two-level cache. L1 is authoritative for in-process
// correctness; L2 is best-effort write-through, its errors are logged
// and swallowed.
type Layered struct {
	l1         *lruStore
	l2         Store
	defaultTTL time.Duration
	log        *logger.Logger
	stop       chan struct{}

	l1Hits   *metrics.Counter
	l1Misses *metrics.Counter
	l2Hits   *metrics.Counter
	l2Misses *metrics.Counter
}

// NewLayered creates a two-level cache. l2 may be nil for L1-only use.
func NewLayered(opts Options, l2 Store, reg *metrics.Registry, log *logger.Logger) *Layered {
	if opts.L1Capacity == 0 {
		opts.L1Capacity = 10000
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 60 * time.Second
	}

	c := &Layered{
		l1:         newLRUStore(opts.L1Capacity),
		l2:         l2,
		defaultTTL: opts.DefaultTTL,
		log:        log,
		stop:       make(chan struct{}),
	}

	if reg != nil {
		c.l1Hits = reg.Counter("cache_l1_hits_total", "L1 cache hits", nil)
		c.l1Misses = reg.Counter("cache_l1_misses_total", "L1 cache misses", nil)
		c.l2Hits = reg.Counter("cache_l2_hits_total", "L2 cache hits", nil)
		c.l2Misses = reg.Counter("cache_l2_misses_total", "L2 cache misses", nil)
	}

	go c.sweepLoop(opts.SweepInterval)

	return c
}

// Get returns the cached value or a miss. An L2 hit repopulates L1.
func (c *Layered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if value, ok := c.l1.get(key); ok {
		inc(c.l1Hits)
		return value, true, nil
	}
	inc(c.l1Misses)

	if c.l2 == nil {
		return nil, false, nil
	}

	value, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache L2 get failed", "key", key, "error", err)
		inc(c.l2Misses)
		return nil, false, nil
	}
	if !ok {
		inc(c.l2Misses)
		return nil, false, nil
	}

	inc(c.l2Hits)
	c.l1.set(key, value, c.defaultTTL)
	return value, true, nil
}

// Set writes both levels. ttl=0 uses the component default. L1 always
// succeeds; L2 failures are swallowed.
func (c *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	c.l1.set(key, value, ttl)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			c.log.Warn("cache L2 set failed", "key", key, "error", err)
		}
	}

	return nil
}

// Delete removes a key from both levels
func (c *Layered) Delete(ctx context.Context, key string) error {
	c.l1.delete(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.log.Warn("cache L2 delete failed", "key", key, "error", err)
		}
	}
	return nil
}

// Clear drops everything from both levels
func (c *Layered) Clear(ctx context.Context) error {
	c.l1.clear()
	if c.l2 != nil {
		if err := c.l2.Clear(ctx); err != nil {
			c.log.Warn("cache L2 clear failed", "error", err)
		}
	}
	return nil
}

// GetOrLoad returns the cached value, calling loader on miss and
// populating both levels with the result.
func (c *Layered) GetOrLoad(ctx context.Context, key string, loader Loader) ([]byte, error) {
	if value, ok, err := c.Get(ctx, key); err == nil && ok {
		return value, nil
	}

	value, ttl, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		return nil, err
	}

	return value, nil
}

// Len returns the number of live L1 entries
func (c *Layered) Len() int {
	return c.l1.len()
}

// Close stops the background sweeper
func (c *Layered) Close() error {
	close(c.stop)
	return nil
}

func (c *Layered) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if removed := c.l1.sweep(); removed > 0 {
				c.log.Debug("cache sweep", "removed", removed)
			}
		}
	}
}

func inc(c *metrics.Counter) {
	if c != nil {
		c.Inc()
	}
}
