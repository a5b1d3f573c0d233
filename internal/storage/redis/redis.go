package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"troli/backend/internal/cart"
	"troli/backend/internal/storage"
)

// Store keeps cart snapshots as JSON strings in redis, one key per
// (identifier, instance). It backs session carts: every save refreshes
// the TTL, so abandoned guest carts expire on their own.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr string, password string, db int, ttl time.Duration) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func key(identifier string, instance string) string {
	return fmt.Sprintf("cart:%s:%s", identifier, instance)
}

func (s *Store) Load(ctx context.Context, identifier string, instance string) (*cart.Snapshot, error) {
	raw, err := s.client.Get(ctx, key(identifier, instance)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap cart.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save performs the optimistic version check under WATCH so two
// concurrent requests for the same key cannot both win.
func (s *Store) Save(ctx context.Context, identifier string, instance string, snap cart.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	k := key(identifier, instance)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if snap.Version != 1 {
				return storage.ErrConflict
			}
		case err != nil:
			return err
		default:
			var stored cart.Snapshot
			if err := json.Unmarshal([]byte(current), &stored); err != nil {
				return err
			}
			if stored.Version != snap.Version-1 {
				return storage.ErrConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, s.ttl)
			return nil
		})
		return err
	}, k)

	if errors.Is(err, redis.TxFailedErr) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) Delete(ctx context.Context, identifier string, instance string) error {
	return s.client.Del(ctx, key(identifier, instance)).Err()
}
