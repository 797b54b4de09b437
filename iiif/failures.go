package iiif

import (
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
)

type failure struct {
	err     error
	expires time.Time
}

// failureCache remembers, for a while, the identifiers whose source could
// not be read so they are not parsed again on every request.
type failureCache struct {
	mu  sync.Mutex
	lru *lru.Cache
	ttl time.Duration
	now func() time.Time
}

// newFailureCache returns nil, which remembers nothing, when ttl or
// entries is zero.
func newFailureCache(ttl time.Duration, entries int) *failureCache {
	if ttl <= 0 || entries <= 0 {
		return nil
	}
	return &failureCache{
		lru: lru.New(entries),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the remembered error of identifier, if it did not expire.
func (fc *failureCache) Get(identifier string) error {
	if fc == nil {
		return nil
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	v, ok := fc.lru.Get(identifier)
	if !ok {
		return nil
	}
	f := v.(failure)
	if fc.now().After(f.expires) {
		fc.lru.Remove(identifier)
		return nil
	}
	return f.err
}

// Add remembers err for identifier.
func (fc *failureCache) Add(identifier string, err error) {
	if fc == nil {
		return
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.lru.Add(identifier, failure{err, fc.now().Add(fc.ttl)})
}
