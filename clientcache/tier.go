package clientcache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// tier is a size-bounded cache with a sliding TTL: every hit re-arms the
// entry's expiry. Evictions of any kind (capacity, TTL, removal, purge) go
// through onEvict exactly once per stored value.
type tier[V any] struct {
	name    string
	mu      sync.Mutex
	lru     *expirable.LRU[string, V]
	maxSize int
	ttl     time.Duration
}

func newTier[V any](name string, maxSize int, ttl time.Duration, onEvict expirable.EvictCallback[string, V]) *tier[V] {
	return &tier[V]{
		name:    name,
		lru:     expirable.NewLRU[string, V](maxSize, onEvict, ttl),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// get returns the value under key and renews its TTL.
func (t *tier[V]) get(key string) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.lru.Get(key)
	if ok {
		t.lru.Add(key, v)
	}
	return v, ok
}

// set stores value, evicting any previous value under key first so that it
// is released rather than silently overwritten.
func (t *tier[V]) set(key string, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Remove(key)
	t.lru.Add(key, value)
}

func (t *tier[V]) remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Remove(key)
}

// removeIf removes key only while it still holds a value matching match.
func (t *tier[V]) removeIf(key string, match func(V) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.lru.Peek(key)
	if !ok || !match(v) {
		return false
	}
	return t.lru.Remove(key)
}

func (t *tier[V]) purge() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lru.Purge()
}

func (t *tier[V]) len() int {
	return t.lru.Len()
}
