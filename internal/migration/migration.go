package migration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"troli/backend/internal/cart"
	"troli/backend/internal/event"
	"troli/backend/internal/storage"
)

// MergePolicy decides what happens when the same item id exists in
// both carts.
type MergePolicy string

const (
	// MergeSumQuantities adds the quantities together (default).
	MergeSumQuantities MergePolicy = "sum"
	// MergeKeepTarget keeps the target cart's line untouched.
	MergeKeepTarget MergePolicy = "keep-target"
	// MergeKeepSource replaces the target line with the source line.
	MergeKeepSource MergePolicy = "keep-source"
)

const mergeAttempts = 3

// ItemConflict records one id collision and how it was resolved.
type ItemConflict struct {
	ItemID         string `json:"itemId"`
	SourceQuantity int    `json:"sourceQuantity"`
	TargetQuantity int    `json:"targetQuantity"`
	MergedQuantity int    `json:"mergedQuantity"`
}

// MergeResult reports a completed migration. Conflicts are data, not
// errors: migration always completes and reports what it reconciled.
type MergeResult struct {
	ItemsMerged int            `json:"itemsMerged"`
	Conflicts   []ItemConflict `json:"conflicts"`
}

// Migrator reconciles a guest cart into a user cart on login. The
// target is persisted before the source is deleted, and a failed
// target save leaves both carts untouched, so the caller never
// observes a half-merged state reported as success.
type Migrator struct {
	store    storage.Store
	events   event.Publisher
	rules    cart.RuleFactory
	currency string
	policy   MergePolicy
}

func New(store storage.Store, rules cart.RuleFactory, events event.Publisher, currency string, policy MergePolicy) *Migrator {
	if events == nil {
		events = event.NopPublisher{}
	}
	if policy == "" {
		policy = MergeSumQuantities
	}
	return &Migrator{store: store, events: events, rules: rules, currency: currency, policy: policy}
}

// Migrate merges the source cart into the target cart. An absent
// source is a no-op. Cart-level conditions travel only when marked
// global, so discounts are never applied twice.
func (m *Migrator) Migrate(ctx context.Context, srcID string, srcInstance string, dstID string, dstInstance string) (MergeResult, error) {
	var lastErr error
	for attempt := 0; attempt < mergeAttempts; attempt++ {
		srcSnap, err := m.store.Load(ctx, srcID, srcInstance)
		if errors.Is(err, storage.ErrNotFound) {
			return MergeResult{}, nil
		}
		if err != nil {
			return MergeResult{}, err
		}
		src := cart.FromSnapshot(srcID, srcInstance, m.currency, *srcSnap, m.rules)
		if len(src.Items()) == 0 && len(src.Conditions()) == 0 {
			// Nothing to carry over; just drop the empty source row.
			if err := m.store.Delete(ctx, srcID, srcInstance); err != nil {
				return MergeResult{}, err
			}
			return MergeResult{}, nil
		}

		dst, err := m.loadTarget(ctx, dstID, dstInstance)
		if err != nil {
			return MergeResult{}, err
		}

		result := merge(src, dst, m.policy)

		dst.Version++
		if err := m.store.Save(ctx, dstID, dstInstance, dst.Snapshot()); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// Re-run the whole merge from fresh reads.
				lastErr = err
				continue
			}
			return MergeResult{}, err
		}

		if err := m.store.Delete(ctx, srcID, srcInstance); err != nil {
			// The target merge is durable; losing the source delete
			// only risks a second (idempotent-by-policy) merge.
			log.Printf("[migration] WARN: merged %s/%s into %s/%s but failed to delete source: %v",
				srcID, srcInstance, dstID, dstInstance, err)
		}

		m.publishMerged(ctx, srcID, srcInstance, dstID, dstInstance, result)
		return result, nil
	}
	return MergeResult{}, fmt.Errorf("migrate %s/%s -> %s/%s: %w", srcID, srcInstance, dstID, dstInstance, lastErr)
}

func (m *Migrator) loadTarget(ctx context.Context, identifier string, instance string) (*cart.Cart, error) {
	snap, err := m.store.Load(ctx, identifier, instance)
	if errors.Is(err, storage.ErrNotFound) {
		return cart.New(identifier, instance, m.currency, m.rules), nil
	}
	if err != nil {
		return nil, err
	}
	return cart.FromSnapshot(identifier, instance, m.currency, *snap, m.rules), nil
}

func merge(src *cart.Cart, dst *cart.Cart, policy MergePolicy) MergeResult {
	result := MergeResult{}

	for _, item := range src.Items() {
		existing := dst.Item(item.ID)
		if existing == nil {
			// AddItem validation already held when the source line was
			// created, so errors here are unreachable in practice.
			if _, err := dst.AddItem(item); err == nil {
				result.ItemsMerged++
			}
			continue
		}

		conflict := ItemConflict{
			ItemID:         item.ID,
			SourceQuantity: item.Quantity,
			TargetQuantity: existing.Quantity,
		}
		switch policy {
		case MergeKeepTarget:
			conflict.MergedQuantity = existing.Quantity
		case MergeKeepSource:
			qty := item.Quantity
			_, _ = dst.UpdateItem(item.ID, cart.ItemUpdate{Quantity: &qty})
			conflict.MergedQuantity = qty
		default: // MergeSumQuantities
			qty := existing.Quantity + item.Quantity
			_, _ = dst.UpdateItem(item.ID, cart.ItemUpdate{Quantity: &qty})
			conflict.MergedQuantity = qty
		}
		result.ItemsMerged++
		result.Conflicts = append(result.Conflicts, conflict)
	}

	for _, cond := range src.Conditions() {
		if !cond.IsGlobal() {
			continue
		}
		if dst.Condition(cond.Name) == nil {
			dst.AddCondition(cond)
		}
	}

	return result
}

func (m *Migrator) publishMerged(ctx context.Context, srcID, srcInstance, dstID, dstInstance string, result MergeResult) {
	evt := event.Event{
		Name:       event.CartMerged,
		Identifier: dstID,
		Instance:   dstInstance,
		Payload: map[string]any{
			"sourceIdentifier": srcID,
			"sourceInstance":   srcInstance,
			"itemsMerged":      result.ItemsMerged,
			"conflicts":        len(result.Conflicts),
		},
		OccurredAt: time.Now().UTC(),
	}
	if err := m.events.Publish(ctx, evt); err != nil {
		log.Printf("[migration] WARN: failed to publish merge event: %v", err)
	}
}
