// Package keymutex provides a registry of per-key mutexes so that mutations
// on distinct entities proceed concurrently while mutations on the same
// entity serialize. The registry is populated lazily; entries are never
// evicted, which is acceptable for entity-id keyspaces bounded by the
// backing store.
package keymutex

import "sync"

// KeyMutex hands out one mutex per key.
type KeyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty registry.
func New() *KeyMutex {
	return &KeyMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *KeyMutex) Lock(key string) {
	k.get(key).Lock()
}

// Unlock releases the mutex for key. It panics if the key was never locked,
// matching sync.Mutex semantics.
func (k *KeyMutex) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *KeyMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
