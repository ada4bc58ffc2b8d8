package chat

import "sync"

// kmutex serializes work per string key. Entries are reclaimed as soon as the
// last holder unlocks, so the map stays proportional to in-flight keys.
type kmutex struct {
	mu      sync.Mutex
	entries map[string]*kentry
}

type kentry struct {
	mu   sync.Mutex
	refs int
}

func newKmutex() *kmutex {
	return &kmutex{entries: make(map[string]*kentry)}
}

func (k *kmutex) Lock(key string) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &kentry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()
	e.mu.Lock()
}

func (k *kmutex) Unlock(key string) {
	k.mu.Lock()
	e := k.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
	e.mu.Unlock()
}
