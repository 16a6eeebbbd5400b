package cache

import (
	"sort"
	"sync"

	"github.com/markerlens/tracker/pkg/core"
)

// AssetEntry is a catalog asset bound to its presentation handle.
type AssetEntry struct {
	Handle core.Handle
	Asset  core.MarkerAsset
}

// AssetIndex maps marker ids to their assets and pre-allocated handles for
// the current session
type AssetIndex struct {
	mu     sync.RWMutex
	assets map[string]AssetEntry
}

// NewAssetIndex creates an index holding the given assets. Handles are
// assigned in catalog order; duplicate ids keep their first handle.
func NewAssetIndex(assets []core.MarkerAsset) *AssetIndex {
	c := &AssetIndex{assets: make(map[string]AssetEntry, len(assets))}
	c.Load(assets)
	return c
}

// Load replaces the index contents.
func (c *AssetIndex) Load(assets []core.MarkerAsset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets = make(map[string]AssetEntry, len(assets))
	for _, a := range assets {
		if a.ID == "" {
			continue
		}
		if _, ok := c.assets[a.ID]; ok {
			continue
		}
		c.assets[a.ID] = AssetEntry{Handle: core.Handle(len(c.assets)), Asset: a}
	}
}

// Get retrieves an entry by marker id
func (c *AssetIndex) Get(id string) (AssetEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.assets[id]
	return e, ok
}

// Len returns the number of indexed assets.
func (c *AssetIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets)
}

// Entries returns all entries ordered by handle.
func (c *AssetIndex) Entries() []AssetEntry {
	c.mu.RLock()
	out := make([]AssetEntry, 0, len(c.assets))
	for _, e := range c.assets {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Reset clears the index
func (c *AssetIndex) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets = make(map[string]AssetEntry)
}
