// Package killswitch holds the emergency-stop flags consulted by every
// engine tick: one global flag and one flag per owner. No engine owns a
// flag; the API layer writes them and engines only read.
package killswitch

import (
	"context"
	"log"
	"sync"
)

// Keys in the shared flag store.
const (
	globalKey  = "global"
	userPrefix = "user:"
)

// Store reads and writes kill-switch flags.
type Store interface {
	Get(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value bool) error
}

// Guard is the per-tick check engines run before any trading decision.
type Guard struct {
	store Store
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// ShouldHalt reports whether the global or the owner's flag is tripped.
// Read errors are logged and treated as "not tripped": a storage hiccup
// must not flatten every running position.
func (g *Guard) ShouldHalt(ctx context.Context, owner string) bool {
	global, err := g.store.Get(ctx, globalKey)
	if err != nil {
		log.Printf("killswitch: read global flag: %v", err)
		return false
	}
	if global {
		return true
	}

	user, err := g.store.Get(ctx, userPrefix+owner)
	if err != nil {
		log.Printf("killswitch: read flag for %s: %v", owner, err)
		return false
	}
	return user
}

// Global reads only the global flag, for status reports that must not
// consult any owner key.
func (g *Guard) Global(ctx context.Context) bool {
	global, err := g.store.Get(ctx, globalKey)
	if err != nil {
		log.Printf("killswitch: read global flag: %v", err)
		return false
	}
	return global
}

// SetGlobal trips or clears the global flag.
func (g *Guard) SetGlobal(ctx context.Context, value bool) error {
	return g.store.Set(ctx, globalKey, value)
}

// SetUser trips or clears one owner's flag.
func (g *Guard) SetUser(ctx context.Context, owner string, value bool) error {
	return g.store.Set(ctx, userPrefix+owner, value)
}

// MemStore is an in-memory Store for tests and single-process setups.
type MemStore struct {
	mu    sync.RWMutex
	flags map[string]bool
}

func NewMemStore() *MemStore {
	return &MemStore{flags: make(map[string]bool)}
}

func (m *MemStore) Get(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags[key], nil
}

func (m *MemStore) Set(ctx context.Context, key string, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = value
	return nil
}
