package prices

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryCache is a process-local Cache. Writers of the same key race and the
// last one wins.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: map[string]decimal.Decimal{}}
}

// Get returns the cached price for id.
func (c *MemoryCache) Get(_ context.Context, id string) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[id]
	return price, ok, nil
}

// Put stores price for id.
func (c *MemoryCache) Put(_ context.Context, id string, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[id] = price
	return nil
}

// Len reports the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// StaticSource serves prices from a fixed table.
type StaticSource map[string]decimal.Decimal

// FetchPrice returns the table entry for id.
func (s StaticSource) FetchPrice(_ context.Context, id string) (decimal.Decimal, bool, error) {
	price, ok := s[id]
	return price, ok, nil
}
