// Package memorystore provides a mutex-guarded in-memory keyring.Store for
// tests and deployments that do not need the cache to survive restarts.
package memorystore

import (
	"context"
	"sync"

	"github.com/firemsg/firemsg-go/keyring"
)

// Store is a thread-safe in-memory implementation of keyring.Store.
type Store struct {
	mu   sync.RWMutex
	snap *keyring.Snapshot
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of the last saved snapshot, or nil when nothing has
// been saved.
func (s *Store) Load(ctx context.Context) (*keyring.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone(), nil
}

// Save replaces the held snapshot. The incoming map is copied so later caller
// mutations cannot leak into the store.
func (s *Store) Save(ctx context.Context, snap keyring.Snapshot) error {
	cp := snap.Clone()
	s.mu.Lock()
	s.snap = cp
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

var _ keyring.Store = (*Store)(nil)
