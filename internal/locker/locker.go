// Package locker provides a keyed try-lock used to serialize fetches per
// source. Locks for distinct keys are independent, so unrelated sources
// still fetch concurrently.
package locker

import "sync"

// Keyed tracks which keys currently hold a lock.
type Keyed struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New constructs a Keyed locker.
func New() *Keyed {
	return &Keyed{held: make(map[string]struct{})}
}

// TryAcquire claims the lock for key if it is free. It never blocks; callers
// that lose the race skip the fetch rather than queue behind it.
func (k *Keyed) TryAcquire(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return false
	}
	k.held[key] = struct{}{}
	return true
}

// Release frees the lock for key. Releasing an unheld key is a no-op so that
// deferred releases are safe on every exit path.
func (k *Keyed) Release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.held, key)
}

// Held reports whether key currently holds the lock.
func (k *Keyed) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, busy := k.held[key]
	return busy
}
