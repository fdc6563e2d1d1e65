package liquidity

import (
	"sync/atomic"

	"alats/internal/model"
)

// Cache keeps only the most recent snapshot per asset.
type Cache struct {
	slots map[string]*atomic.Pointer[model.LiquiditySnapshot]
}

// NewCache allocates one slot per asset. The asset set is fixed afterwards.
func NewCache(assets []string) *Cache {
	slots := make(map[string]*atomic.Pointer[model.LiquiditySnapshot], len(assets))
	for _, a := range assets {
		slots[a] = &atomic.Pointer[model.LiquiditySnapshot]{}
	}
	return &Cache{slots: slots}
}

// Store replaces the slot content unless the slot already holds a newer snapshot.
func (c *Cache) Store(s model.LiquiditySnapshot) bool {
	slot, ok := c.slots[s.Asset]
	if !ok {
		return false
	}
	next := &s
	for {
		cur := slot.Load()
		if cur != nil && s.Timestamp.Before(cur.Timestamp) {
			return false
		}
		if slot.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Load returns the latest snapshot for asset.
func (c *Cache) Load(asset string) (model.LiquiditySnapshot, bool) {
	slot, ok := c.slots[asset]
	if !ok {
		return model.LiquiditySnapshot{}, false
	}
	cur := slot.Load()
	if cur == nil {
		return model.LiquiditySnapshot{}, false
	}
	return *cur, true
}
