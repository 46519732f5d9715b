// Package keylock serializes work per key. Each key owns a single-slot semaphore that is
// created on first use and dropped when the last holder or waiter releases it.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Registry hands out per-key exclusive locks. The zero value is not usable; call New.
type Registry[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*entry
}

func New[K comparable]() *Registry[K] {
	return &Registry[K]{entries: make(map[K]*entry)}
}

// Lock blocks until key is free or ctx is done. The returned unlock is safe to call more than once.
func (r *Registry[K]) Lock(ctx context.Context, key K) (func(), error) {
	e := r.acquire(key)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		r.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			r.release(key, e)
		})
	}, nil
}

// Len reports the number of keys currently held or awaited.
func (r *Registry[K]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[K]) acquire(key K) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		r.entries[key] = e
	}
	e.refs++
	return e
}

func (r *Registry[K]) release(key K, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(r.entries, key)
	}
}
