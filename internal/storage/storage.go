package storage

import (
	"context"
	"errors"

	"troli/backend/internal/cart"
)

var (
	ErrNotFound = errors.New("cart not found")
	ErrConflict = errors.New("cart version conflict")
)

// Store persists cart snapshots keyed by (identifier, instance). The
// engine never assumes which backend is active: session-scoped redis,
// durable postgres and the in-process store are interchangeable.
//
// Save is optimistic: it succeeds only when the stored version equals
// snapshot.Version - 1 (an absent row requires Version == 1) and
// returns ErrConflict otherwise, so concurrent requests for the same
// key cannot silently lose updates.
type Store interface {
	Load(ctx context.Context, identifier string, instance string) (*cart.Snapshot, error)
	Save(ctx context.Context, identifier string, instance string, snap cart.Snapshot) error
	Delete(ctx context.Context, identifier string, instance string) error
}
