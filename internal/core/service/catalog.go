package service

import (
	"sync"

	"github.com/rl1809/seckill/internal/core/domain"
)

type ItemLookup interface {
	Lookup(itemID string) (domain.Item, bool)
}

// Catalog is the in-process copy of sale items loaded at preheat.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]domain.Item
}

func NewCatalog(items ...domain.Item) *Catalog {
	c := &Catalog{items: make(map[string]domain.Item, len(items))}
	c.Put(items...)
	return c
}

func (c *Catalog) Put(items ...domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, item := range items {
		c.items[item.ID] = item
	}
}

func (c *Catalog) Lookup(itemID string) (domain.Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[itemID]
	return item, ok
}
