// Package programcache provides a bounded keygen.ProgramCache backed by
// ristretto.
package programcache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

const defaultMaxPrograms = 1024

// Config sizes the cache. Every program costs one unit.
type Config struct {
	MaxPrograms int64
}

// Cache stores compiled key expressions.
type Cache struct {
	store *ristretto.Cache
}

// New constructs a Cache. A non-positive MaxPrograms uses the default size.
func New(cfg Config) (*Cache, error) {
	limit := cfg.MaxPrograms
	if limit <= 0 {
		limit = defaultMaxPrograms
	}
	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: limit * 10,
		MaxCost:     limit,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("programcache: %w", err)
	}
	return &Cache{store: store}, nil
}

// Get returns the program stored under key.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	return c.store.Get(key)
}

// Set stores value under key. Writes are applied asynchronously and may be
// dropped under contention.
func (c *Cache) Set(key string, value any) {
	if c == nil || c.store == nil {
		return
	}
	c.store.Set(key, value, 1)
}

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() {
	if c == nil || c.store == nil {
		return
	}
	c.store.Wait()
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	if c == nil || c.store == nil {
		return
	}
	c.store.Close()
}
