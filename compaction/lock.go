package compaction

import "sync"

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// cursorCache remembers the order of each session's latest checkpoint so the
// window can be read incrementally. It is an optimization only.
type cursorCache struct {
	mu      sync.RWMutex
	entries map[string]int64
}

func newCursorCache() *cursorCache {
	return &cursorCache{entries: make(map[string]int64)}
}

func (c *cursorCache) Get(sessionID string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order, ok := c.entries[sessionID]
	return order, ok
}

// Set records order unless a later checkpoint is already known.
func (c *cursorCache) Set(sessionID string, order int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[sessionID]; !ok || order > cur {
		c.entries[sessionID] = order
	}
}

func (c *cursorCache) Delete(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}
