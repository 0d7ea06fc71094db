package artifact

import "sync"

// HashCache is a concurrent content-hash cache shared between the fetch
// pool and the inference stage. Insert races resolve as first writer wins;
// later writers read the winning value.
type HashCache struct {
	m sync.Map
}

// NewHashCache creates an empty HashCache.
func NewHashCache() *HashCache {
	return &HashCache{}
}

// GetOrInsert returns the existing value for key if present, otherwise
// stores value and returns it. loaded is true when an existing value won.
func (c *HashCache) GetOrInsert(key string, value any) (actual any, loaded bool) {
	return c.m.LoadOrStore(key, value)
}

// Get returns the value for key, if any.
func (c *HashCache) Get(key string) (any, bool) {
	return c.m.Load(key)
}

// Len counts entries. Intended for stats logging, not synchronization.
func (c *HashCache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
