// Package kvtest provides fault-injecting kv stores for tests.
package kvtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/park285/chess-indexer/internal/kv"
)

var ErrInjected = errors.New("injected failure")

// FaultStore wraps a Store and fails writes or reads of keys with a configured prefix.
type FaultStore struct {
	kv.Store

	mu       sync.Mutex
	failPut  []string
	failGet  []string
	putCalls map[string]int
}

func Wrap(s kv.Store) *FaultStore {
	return &FaultStore{Store: s, putCalls: make(map[string]int)}
}

// FailPut makes every Put and Delete under prefix fail until Reset.
func (f *FaultStore) FailPut(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut = append(f.failPut, prefix)
}

func (f *FaultStore) FailGet(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGet = append(f.failGet, prefix)
}

func (f *FaultStore) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPut, f.failGet = nil, nil
}

// Puts reports how many Put calls targeted key.
func (f *FaultStore) Puts(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls[key]
}

func (f *FaultStore) matches(reads bool, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.failPut
	if reads {
		list = f.failGet
	}
	for _, p := range list {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (f *FaultStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.matches(true, key) {
		return nil, &kv.StorageError{Op: "get", Key: key, Err: ErrInjected}
	}
	return f.Store.Get(ctx, key)
}

func (f *FaultStore) Put(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.putCalls[key]++
	f.mu.Unlock()
	if f.matches(false, key) {
		return &kv.StorageError{Op: "put", Key: key, Err: ErrInjected}
	}
	return f.Store.Put(ctx, key, value)
}

func (f *FaultStore) Delete(ctx context.Context, key string) error {
	if f.matches(false, key) {
		return &kv.StorageError{Op: "delete", Key: key, Err: ErrInjected}
	}
	return f.Store.Delete(ctx, key)
}
