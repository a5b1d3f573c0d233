package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"troli/backend/internal/cart"
	"troli/backend/internal/event"
	"troli/backend/internal/money"
	"troli/backend/internal/storage"
)

// saveAttempts bounds the read-modify-write retry loop on version
// conflicts before the error is surfaced to the caller.
const saveAttempts = 3

// Service orchestrates cart mutations: load snapshot, mutate the
// aggregate, persist with a version bump, publish the mutation event.
// Carts that were never persisted and are still empty after a
// mutation stay out of storage entirely.
type Service struct {
	store           storage.Store
	rules           cart.RuleFactory
	events          event.Publisher
	currency        string
	defaultInstance string
}

func New(store storage.Store, rules cart.RuleFactory, events event.Publisher, currency string, defaultInstance string) *Service {
	if events == nil {
		events = event.NopPublisher{}
	}
	if defaultInstance == "" {
		defaultInstance = "default"
	}
	return &Service{
		store:           store,
		rules:           rules,
		events:          events,
		currency:        currency,
		defaultInstance: defaultInstance,
	}
}

// Instance normalizes an instance name, falling back to the default.
func (s *Service) Instance(instance string) string {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return s.defaultInstance
	}
	return instance
}

// CartView is the read model returned by every cart query: the
// attached state plus the derived totals and their breakdown.
type CartView struct {
	Identifier    string             `json:"identifier"`
	Instance      string             `json:"instance"`
	Items         []cart.Item        `json:"items"`
	Conditions    []cart.Condition   `json:"conditions"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	TotalQuantity int                `json:"totalQuantity"`
	Subtotal      money.Money        `json:"subtotal"`
	Total         money.Money        `json:"total"`
	Breakdown     []cart.Application `json:"breakdown"`
	Version       int64              `json:"version"`
}

// AddItemRequest carries one line to add. An empty price currency
// inherits the cart currency.
type AddItemRequest struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	UnitPrice       money.Money      `json:"unitPrice"`
	Quantity        int              `json:"quantity"`
	Attributes      map[string]any   `json:"attributes,omitempty"`
	Conditions      []cart.Condition `json:"conditions,omitempty"`
	AssociatedModel *cart.ModelRef   `json:"associatedModel,omitempty"`
}

// UpdateItemRequest carries partial changes; nil fields stay as-is.
type UpdateItemRequest struct {
	Name       *string           `json:"name,omitempty"`
	Quantity   *int              `json:"quantity,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
	Conditions *[]cart.Condition `json:"conditions,omitempty"`
}

func (s *Service) load(ctx context.Context, identifier string, instance string) (*cart.Cart, error) {
	snap, err := s.store.Load(ctx, identifier, instance)
	if errors.Is(err, storage.ErrNotFound) {
		return cart.New(identifier, instance, s.currency, s.rules), nil
	}
	if err != nil {
		return nil, err
	}
	return cart.FromSnapshot(identifier, instance, s.currency, *snap, s.rules), nil
}

// mutate runs one load-mutate-save round, retrying the whole cycle on
// a version conflict so concurrent requests serialize through storage.
func (s *Service) mutate(ctx context.Context, identifier string, instance string, fn func(*cart.Cart) error) (*cart.Cart, error) {
	instance = s.Instance(instance)

	var lastErr error
	for attempt := 0; attempt < saveAttempts; attempt++ {
		c, err := s.load(ctx, identifier, instance)
		if err != nil {
			return nil, err
		}

		if err := fn(c); err != nil {
			return nil, err
		}

		// Never materialize a cart that holds nothing.
		if c.Version == 0 && c.IsEmpty() {
			return c, nil
		}

		c.Version++
		if err := s.store.Save(ctx, identifier, instance, c.Snapshot()); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("cart %s/%s: %w", identifier, instance, lastErr)
}

func (s *Service) publish(ctx context.Context, name string, c *cart.Cart, payload map[string]any) {
	evt := event.Event{
		Name:       name,
		Identifier: c.Identifier,
		Instance:   c.Instance,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		log.Printf("[cart] WARN: failed to publish %s for %s/%s: %v", name, c.Identifier, c.Instance, err)
	}
}

func (s *Service) AddItem(ctx context.Context, identifier string, instance string, req AddItemRequest) (*cart.Item, error) {
	if req.UnitPrice.Currency == "" {
		req.UnitPrice.Currency = s.currency
	}

	var added *cart.Item
	c, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		item, err := c.AddItem(cart.Item{
			ID:              req.ID,
			Name:            req.Name,
			UnitPrice:       req.UnitPrice,
			Quantity:        req.Quantity,
			Attributes:      req.Attributes,
			Conditions:      req.Conditions,
			AssociatedModel: req.AssociatedModel,
		})
		if err != nil {
			return err
		}
		added = item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, event.ItemAdded, c, map[string]any{
		"itemId":   added.ID,
		"quantity": added.Quantity,
	})
	return added, nil
}

// UpdateItem returns nil without error when the item does not exist,
// and nil after a quantity-zero update removed the line.
func (s *Service) UpdateItem(ctx context.Context, identifier string, instance string, id string, req UpdateItemRequest) (*cart.Item, error) {
	var (
		updated *cart.Item
		found   bool
		removed bool
	)
	c, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		found = c.Item(id) != nil
		if !found {
			return nil
		}
		item, err := c.UpdateItem(id, cart.ItemUpdate{
			Name:       req.Name,
			Quantity:   req.Quantity,
			Attributes: req.Attributes,
			Conditions: req.Conditions,
		})
		if err != nil {
			return err
		}
		updated = item
		removed = item == nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	name := event.ItemUpdated
	if removed {
		name = event.ItemRemoved
	}
	s.publish(ctx, name, c, map[string]any{"itemId": id})
	return updated, nil
}

func (s *Service) RemoveItem(ctx context.Context, identifier string, instance string, id string) (*cart.Item, error) {
	var removed *cart.Item
	c, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		removed = c.RemoveItem(id)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if removed == nil {
		return nil, nil
	}

	s.publish(ctx, event.ItemRemoved, c, map[string]any{"itemId": id})
	return removed, nil
}

// GetCart never errors on an absent cart: it returns an empty view
// with zero-valued totals.
func (s *Service) GetCart(ctx context.Context, identifier string, instance string) (CartView, error) {
	c, err := s.load(ctx, identifier, s.Instance(instance))
	if err != nil {
		return CartView{}, err
	}
	return s.view(c), nil
}

func (s *Service) view(c *cart.Cart) CartView {
	total, breakdown := c.TotalBreakdown()
	return CartView{
		Identifier:    c.Identifier,
		Instance:      c.Instance,
		Items:         c.Items(),
		Conditions:    c.Conditions(),
		Metadata:      c.Metadata,
		TotalQuantity: c.TotalQuantity(),
		Subtotal:      c.Subtotal(),
		Total:         total,
		Breakdown:     breakdown,
		Version:       c.Version,
	}
}

// ClearCart removes all items and cart-level conditions but keeps the
// storage row; DeleteCart removes the row too.
func (s *Service) ClearCart(ctx context.Context, identifier string, instance string) error {
	c, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		c.Clear()
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, event.CartCleared, c, nil)
	return nil
}

func (s *Service) DeleteCart(ctx context.Context, identifier string, instance string) error {
	return s.store.Delete(ctx, identifier, s.Instance(instance))
}

func (s *Service) AddCondition(ctx context.Context, identifier string, instance string, cond cart.Condition) error {
	// Re-validate: conditions arriving over the wire skip NewCondition.
	validated, err := cart.NewCondition(cond.Name, cond.Type, cond.Target, cond.Value)
	if err != nil {
		return err
	}
	validated = validated.WithOrder(cond.Order).WithAttributes(cond.Attributes).WithRules(cond.Rules...)

	c, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		c.AddCondition(validated)
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, event.ConditionAdded, c, map[string]any{
		"name": validated.Name,
		"type": validated.Type,
	})
	return nil
}

// RemoveCondition reports false when no condition carried the name;
// that is not an error.
func (s *Service) RemoveCondition(ctx context.Context, identifier string, instance string, name string) (bool, error) {
	removed := false
	c, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		removed = c.RemoveCondition(name)
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		s.publish(ctx, event.ConditionRemoved, c, map[string]any{"name": name})
	}
	return removed, nil
}

// ClearConditionsByType removes every cart-level condition with the
// given type tag and reports the count; zero matches is a no-op.
func (s *Service) ClearConditionsByType(ctx context.Context, identifier string, instance string, condType string) (int, error) {
	removed := 0
	c, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		removed = c.ClearConditionsByType(condType)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.publish(ctx, event.ConditionRemoved, c, map[string]any{"type": condType, "count": removed})
	}
	return removed, nil
}

// SetMetadata merges the given keys into the cart's metadata.
func (s *Service) SetMetadata(ctx context.Context, identifier string, instance string, meta map[string]any) error {
	if len(meta) == 0 {
		return nil
	}
	_, err := s.mutate(ctx, identifier, instance, func(c *cart.Cart) error {
		if c.Metadata == nil {
			c.Metadata = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			c.Metadata[k] = v
		}
		return nil
	})
	return err
}
