package memory

import (
	"context"
	"encoding/json"
	"sync"

	"troli/backend/internal/cart"
	"troli/backend/internal/storage"
)

// Store is the in-process backend used by tests and dev mode.
// Snapshots pass through a JSON round trip on the way in and out so
// callers can never share state with the store, and so its behaviour
// matches the serializing backends exactly.
type Store struct {
	mu    sync.RWMutex
	carts map[string][]byte
}

func New() *Store {
	return &Store{carts: make(map[string][]byte)}
}

func key(identifier string, instance string) string {
	return identifier + "\x00" + instance
}

func (s *Store) Load(_ context.Context, identifier string, instance string) (*cart.Snapshot, error) {
	s.mu.RLock()
	raw, ok := s.carts[key(identifier, instance)]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	var snap cart.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *Store) Save(_ context.Context, identifier string, instance string, snap cart.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(identifier, instance)
	current, exists := s.carts[k]
	if !exists {
		if snap.Version != 1 {
			return storage.ErrConflict
		}
		s.carts[k] = payload
		return nil
	}

	var stored cart.Snapshot
	if err := json.Unmarshal(current, &stored); err != nil {
		return err
	}
	if stored.Version != snap.Version-1 {
		return storage.ErrConflict
	}
	s.carts[k] = payload
	return nil
}

func (s *Store) Delete(_ context.Context, identifier string, instance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, key(identifier, instance))
	return nil
}

// Len reports how many carts are stored. Tests use it to assert that
// empty carts never reach storage.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.carts)
}

// Has reports whether a row exists for the key.
func (s *Store) Has(identifier string, instance string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.carts[key(identifier, instance)]
	return ok
}
