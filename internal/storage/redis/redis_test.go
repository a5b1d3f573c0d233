package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"troli/backend/internal/cart"
	"troli/backend/internal/money"
	"troli/backend/internal/storage"
)

// These tests need a live redis. Set TEST_REDIS_ADDR to run them:
//
//	TEST_REDIS_ADDR=localhost:6379 go test ./internal/storage/redis/
func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	store := New(addr, os.Getenv("TEST_REDIS_PASSWORD"), 15, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshotV(version int64) cart.Snapshot {
	return cart.Snapshot{
		Items: []cart.Item{{
			ID:        "sku-1",
			UnitPrice: money.New(990, "MYR"),
			Quantity:  1,
		}},
		Version: version,
	}
}

func TestSaveLoadDeleteRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = store.Delete(ctx, id, "default") })

	if err := store.Save(ctx, id, "default", snapshotV(1)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load(ctx, id, "default")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Version != 1 || len(loaded.Items) != 1 {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}

	if err := store.Delete(ctx, id, "default"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.Load(ctx, id, "default"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestVersionConflicts(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	id := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = store.Delete(ctx, id, "default") })

	if err := store.Save(ctx, id, "default", snapshotV(3)); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for initial version 3, got %v", err)
	}
	if err := store.Save(ctx, id, "default", snapshotV(1)); err != nil {
		t.Fatalf("save v1 failed: %v", err)
	}
	if err := store.Save(ctx, id, "default", snapshotV(2)); err != nil {
		t.Fatalf("save v2 failed: %v", err)
	}
	if err := store.Save(ctx, id, "default", snapshotV(2)); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict on stale save, got %v", err)
	}
}
