package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// memoryCache is a bounded, concurrency safe LRU. A zero capacity disables
// it, lru itself treating zero as unbounded.
type memoryCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newMemoryCache(entries int) *memoryCache {
	mc := memoryCache{}
	if entries > 0 {
		mc.cache = lru.New(entries)
	}
	return &mc
}

func (mc *memoryCache) Get(key string) (interface{}, bool) {
	if mc.cache == nil {
		return nil, false
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.cache.Get(key)
}

func (mc *memoryCache) Set(key string, value interface{}) {
	if mc.cache == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cache.Add(key, value)
}

func (mc *memoryCache) Unset(key string) {
	if mc.cache == nil {
		return
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.cache.Remove(key)
}

func (mc *memoryCache) Len() int {
	if mc.cache == nil {
		return 0
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.cache.Len()
}
