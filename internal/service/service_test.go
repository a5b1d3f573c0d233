package service

import (
	"context"
	"errors"
	"testing"

	"troli/backend/internal/cart"
	"troli/backend/internal/event"
	"troli/backend/internal/money"
	"troli/backend/internal/storage"
	"troli/backend/internal/storage/memory"
)

func newTestService() (*Service, *memory.Store, *event.Recorder) {
	store := memory.New()
	recorder := &event.Recorder{}
	svc := New(store, cart.NewRuleRegistry(), recorder, "MYR", "default")
	return svc, store, recorder
}

func TestGetCartNeverErrorsOnAbsentCart(t *testing.T) {
	svc, store, _ := newTestService()

	view, err := svc.GetCart(context.Background(), "user-a", "")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if view.Total.Amount != 0 || len(view.Items) != 0 || view.Version != 0 {
		t.Fatalf("expected empty view, got %+v", view)
	}
	if store.Len() != 0 {
		t.Fatalf("a read must never materialize a cart")
	}
}

func TestAddItemPersistsAndPublishes(t *testing.T) {
	svc, store, recorder := newTestService()
	ctx := context.Background()

	added, err := svc.AddItem(ctx, "user-a", "", AddItemRequest{
		ID:        "sku-1",
		Name:      "Milo Ais",
		UnitPrice: money.New(450, "MYR"),
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if added.Quantity != 2 {
		t.Fatalf("expected quantity 2, got %d", added.Quantity)
	}
	if !store.Has("user-a", "default") {
		t.Fatalf("cart not persisted under the default instance")
	}

	view, err := svc.GetCart(ctx, "user-a", "default")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if view.Version != 1 {
		t.Fatalf("expected version 1 after first write, got %d", view.Version)
	}
	if view.Total.Amount != 900 {
		t.Fatalf("expected total 900, got %d", view.Total.Amount)
	}

	names := recorder.Names()
	if len(names) != 1 || names[0] != event.ItemAdded {
		t.Fatalf("expected a single %s event, got %v", event.ItemAdded, names)
	}
}

func TestAddItemInheritsCartCurrency(t *testing.T) {
	svc, _, _ := newTestService()

	added, err := svc.AddItem(context.Background(), "user-a", "", AddItemRequest{
		ID:        "sku-1",
		UnitPrice: money.Money{Amount: 450},
		Quantity:  1,
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if added.UnitPrice.Currency != "MYR" {
		t.Fatalf("expected inherited MYR, got %q", added.UnitPrice.Currency)
	}
}

func TestRejectedMutationDoesNotPersist(t *testing.T) {
	svc, store, recorder := newTestService()

	_, err := svc.AddItem(context.Background(), "user-a", "", AddItemRequest{
		ID:        "sku-1",
		UnitPrice: money.New(450, "MYR"),
		Quantity:  0,
	})
	if !errors.Is(err, cart.ErrInvalidItem) {
		t.Fatalf("expected ErrInvalidItem, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("rejected mutation must not create a storage row")
	}
	if len(recorder.Events()) != 0 {
		t.Fatalf("rejected mutation must not publish")
	}
}

func TestEmptyCartNeverPersisted(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	// Metadata-less no-op mutations on a cart that was never stored
	// must leave storage untouched.
	if err := svc.ClearCart(ctx, "user-a", ""); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if removed, err := svc.RemoveCondition(ctx, "user-a", "", "nothing"); err != nil || removed {
		t.Fatalf("expected no-op removal, got removed=%v err=%v", removed, err)
	}
	if store.Len() != 0 {
		t.Fatalf("empty cart reached storage")
	}
}

func TestUpdateItemMissingIsNoOp(t *testing.T) {
	svc, _, recorder := newTestService()
	qty := 5

	updated, err := svc.UpdateItem(context.Background(), "user-a", "", "ghost", UpdateItemRequest{Quantity: &qty})
	if err != nil || updated != nil {
		t.Fatalf("expected nil, nil for a missing item, got %v, %v", updated, err)
	}
	if len(recorder.Events()) != 0 {
		t.Fatalf("no-op update must not publish")
	}
}

func TestUpdateItemQuantityZeroRemovesAndPublishesRemoval(t *testing.T) {
	svc, store, recorder := newTestService()
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "user-a", "", AddItemRequest{
		ID:        "sku-1",
		UnitPrice: money.New(450, "MYR"),
		Quantity:  2,
	}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	zero := 0
	updated, err := svc.UpdateItem(ctx, "user-a", "", "sku-1", UpdateItemRequest{Quantity: &zero})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated != nil {
		t.Fatalf("quantity zero must remove the line")
	}

	names := recorder.Names()
	if len(names) != 2 || names[1] != event.ItemRemoved {
		t.Fatalf("expected %s after quantity-zero update, got %v", event.ItemRemoved, names)
	}

	// The row survives with a bumped version; only DeleteCart drops it.
	if !store.Has("user-a", "default") {
		t.Fatalf("row must survive an emptying update")
	}
}

func TestAddConditionRevalidatesValue(t *testing.T) {
	svc, store, _ := newTestService()

	err := svc.AddCondition(context.Background(), "user-a", "", cart.Condition{
		Name:   "bogus",
		Type:   "discount",
		Target: cart.TargetSubtotal,
		Value:  "ten-percent",
	})
	if !errors.Is(err, cart.ErrInvalidConditionValue) {
		t.Fatalf("expected ErrInvalidConditionValue, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("invalid condition must not persist a cart")
	}
}

func TestConditionLifecycle(t *testing.T) {
	svc, _, recorder := newTestService()
	ctx := context.Background()

	shipping, err := cart.NewCondition("shipping", "shipping", cart.TargetSubtotal, "+15")
	if err != nil {
		t.Fatalf("new condition failed: %v", err)
	}
	if err := svc.AddCondition(ctx, "user-a", "", shipping); err != nil {
		t.Fatalf("add condition failed: %v", err)
	}

	voucherA, _ := cart.NewCondition("voucher-a", "voucher", cart.TargetSubtotal, "-5")
	voucherB, _ := cart.NewCondition("voucher-b", "voucher", cart.TargetSubtotal, "-3")
	if err := svc.AddCondition(ctx, "user-a", "", voucherA); err != nil {
		t.Fatalf("add condition failed: %v", err)
	}
	if err := svc.AddCondition(ctx, "user-a", "", voucherB); err != nil {
		t.Fatalf("add condition failed: %v", err)
	}

	removed, err := svc.RemoveCondition(ctx, "user-a", "", "shipping")
	if err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}

	count, err := svc.ClearConditionsByType(ctx, "user-a", "", "voucher")
	if err != nil {
		t.Fatalf("clear by type failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 vouchers removed, got %d", count)
	}

	view, err := svc.GetCart(ctx, "user-a", "")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(view.Conditions) != 0 {
		t.Fatalf("expected no conditions left, got %d", len(view.Conditions))
	}

	names := recorder.Names()
	want := []string{event.ConditionAdded, event.ConditionAdded, event.ConditionAdded, event.ConditionRemoved, event.ConditionRemoved}
	if len(names) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), names)
	}
	for idx := range want {
		if names[idx] != want[idx] {
			t.Fatalf("event %d: expected %s, got %s", idx, want[idx], names[idx])
		}
	}
}

func TestSetMetadataMergesKeys(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if err := svc.SetMetadata(ctx, "user-a", "", map[string]any{"channel": "web"}); err != nil {
		t.Fatalf("set metadata failed: %v", err)
	}
	if err := svc.SetMetadata(ctx, "user-a", "", map[string]any{"campaign": "merdeka"}); err != nil {
		t.Fatalf("set metadata failed: %v", err)
	}

	view, err := svc.GetCart(ctx, "user-a", "")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if view.Metadata["channel"] != "web" || view.Metadata["campaign"] != "merdeka" {
		t.Fatalf("metadata not merged: %v", view.Metadata)
	}
}

func TestDeleteCartDropsRow(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "user-a", "", AddItemRequest{
		ID:        "sku-1",
		UnitPrice: money.New(450, "MYR"),
		Quantity:  1,
	}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := svc.DeleteCart(ctx, "user-a", ""); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("row still present after delete")
	}
}

// conflictingStore wraps the memory store and forces version conflicts
// on the first saves so the retry loop is exercised.
type conflictingStore struct {
	*memory.Store
	conflicts int
}

func (s *conflictingStore) Save(ctx context.Context, identifier string, instance string, snap cart.Snapshot) error {
	if s.conflicts > 0 {
		s.conflicts--
		return storage.ErrConflict
	}
	return s.Store.Save(ctx, identifier, instance, snap)
}

func TestMutateRetriesOnConflict(t *testing.T) {
	store := &conflictingStore{Store: memory.New(), conflicts: 2}
	svc := New(store, cart.NewRuleRegistry(), nil, "MYR", "default")

	added, err := svc.AddItem(context.Background(), "user-a", "", AddItemRequest{
		ID:        "sku-1",
		UnitPrice: money.New(450, "MYR"),
		Quantity:  1,
	})
	if err != nil {
		t.Fatalf("expected retries to absorb transient conflicts, got %v", err)
	}
	if added == nil || !store.Has("user-a", "default") {
		t.Fatalf("cart not persisted after retry")
	}
}

func TestMutateSurfacesPersistentConflict(t *testing.T) {
	store := &conflictingStore{Store: memory.New(), conflicts: 10}
	svc := New(store, cart.NewRuleRegistry(), nil, "MYR", "default")

	_, err := svc.AddItem(context.Background(), "user-a", "", AddItemRequest{
		ID:        "sku-1",
		UnitPrice: money.New(450, "MYR"),
		Quantity:  1,
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausted retries, got %v", err)
	}
}
