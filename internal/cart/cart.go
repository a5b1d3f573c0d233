package cart

import (
	"errors"
	"fmt"
	"strings"

	"troli/backend/internal/money"
)

var (
	ErrInvalidItem     = errors.New("invalid cart item")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// Snapshot is the serialized form of a cart persisted to storage.
type Snapshot struct {
	Items      []Item         `json:"items"`
	Conditions []Condition    `json:"conditions"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Version    int64          `json:"version"`
}

// Cart owns the line items and cart-level conditions for one
// (identifier, instance) pair and derives subtotal and total from
// them on every read. Nothing is cached, so totals can never diverge
// from the item and condition state.
type Cart struct {
	Identifier string
	Instance   string
	Currency   string
	Metadata   map[string]any
	Version    int64

	items      []Item
	conditions []Condition
	rules      RuleFactory
}

func New(identifier string, instance string, currency string, rules RuleFactory) *Cart {
	return &Cart{
		Identifier: identifier,
		Instance:   instance,
		Currency:   currency,
		rules:      rules,
	}
}

// FromSnapshot rebuilds a cart from its persisted form.
func FromSnapshot(identifier string, instance string, currency string, snap Snapshot, rules RuleFactory) *Cart {
	c := New(identifier, instance, currency, rules)
	c.Version = snap.Version
	c.Metadata = cloneMap(snap.Metadata)
	for _, item := range snap.Items {
		c.items = append(c.items, item.clone())
	}
	c.conditions = append(c.conditions, snap.Conditions...)
	return c
}

// Snapshot returns a deep, serializable copy of the cart state.
func (c *Cart) Snapshot() Snapshot {
	snap := Snapshot{
		Items:      make([]Item, 0, len(c.items)),
		Conditions: make([]Condition, 0, len(c.conditions)),
		Metadata:   cloneMap(c.Metadata),
		Version:    c.Version,
	}
	for _, item := range c.items {
		snap.Items = append(snap.Items, item.clone())
	}
	snap.Conditions = append(snap.Conditions, c.conditions...)
	return snap
}

// AddItem inserts a line or, when the id already exists, increments
// the existing line's quantity and merges attributes last-write-wins,
// mirroring idempotent "add to cart" semantics.
func (c *Cart) AddItem(item Item) (*Item, error) {
	if strings.TrimSpace(item.ID) == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidItem)
	}
	if item.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity %d", ErrInvalidItem, item.Quantity)
	}
	if item.UnitPrice.Amount <= 0 {
		return nil, fmt.Errorf("%w: non-positive price", ErrInvalidItem)
	}
	if item.UnitPrice.Currency == "" {
		item.UnitPrice.Currency = c.Currency
	}
	if item.UnitPrice.Currency != c.Currency {
		return nil, fmt.Errorf("%w: price currency %s in a %s cart", ErrInvalidItem, item.UnitPrice.Currency, c.Currency)
	}

	for idx := range c.items {
		if c.items[idx].ID != item.ID {
			continue
		}
		existing := &c.items[idx]
		existing.Quantity += item.Quantity
		if len(item.Attributes) > 0 {
			if existing.Attributes == nil {
				existing.Attributes = make(map[string]any, len(item.Attributes))
			}
			for k, v := range item.Attributes {
				existing.Attributes[k] = v
			}
		}
		if len(item.Conditions) > 0 {
			existing.Conditions = append([]Condition(nil), item.Conditions...)
		}
		clone := existing.clone()
		return &clone, nil
	}

	c.items = append(c.items, item.clone())
	clone := item.clone()
	return &clone, nil
}

// ItemUpdate carries partial changes for UpdateItem. Nil fields are
// left untouched.
type ItemUpdate struct {
	Name       *string
	Quantity   *int
	Attributes map[string]any
	Conditions *[]Condition
}

// UpdateItem applies partial changes to an existing line. A quantity
// of exactly zero removes the line; below zero is rejected. A missing
// id returns nil without error.
func (c *Cart) UpdateItem(id string, changes ItemUpdate) (*Item, error) {
	idx := c.indexOf(id)
	if idx < 0 {
		return nil, nil
	}
	if changes.Quantity != nil {
		switch {
		case *changes.Quantity == 0:
			c.items = append(c.items[:idx], c.items[idx+1:]...)
			return nil, nil
		case *changes.Quantity < 0:
			return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, *changes.Quantity)
		default:
			c.items[idx].Quantity = *changes.Quantity
		}
	}
	if changes.Name != nil {
		c.items[idx].Name = *changes.Name
	}
	if len(changes.Attributes) > 0 {
		if c.items[idx].Attributes == nil {
			c.items[idx].Attributes = make(map[string]any, len(changes.Attributes))
		}
		for k, v := range changes.Attributes {
			c.items[idx].Attributes[k] = v
		}
	}
	if changes.Conditions != nil {
		c.items[idx].Conditions = append([]Condition(nil), (*changes.Conditions)...)
	}
	clone := c.items[idx].clone()
	return &clone, nil
}

// RemoveItem deletes a line and returns it, or nil when absent.
func (c *Cart) RemoveItem(id string) *Item {
	idx := c.indexOf(id)
	if idx < 0 {
		return nil
	}
	removed := c.items[idx].clone()
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	return &removed
}

// Item returns a copy of the line with the given id, or nil.
func (c *Cart) Item(id string) *Item {
	idx := c.indexOf(id)
	if idx < 0 {
		return nil
	}
	clone := c.items[idx].clone()
	return &clone
}

// Items returns copies of all lines in insertion order.
func (c *Cart) Items() []Item {
	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.clone())
	}
	return out
}

// Clear removes all items and all cart-level conditions. The storage
// row, if any, is left for the caller to delete explicitly.
func (c *Cart) Clear() {
	c.items = nil
	c.conditions = nil
}

func (c *Cart) AddCondition(cond Condition) {
	c.conditions = append(c.conditions, cond)
}

// RemoveCondition deletes a cart-level condition by name. Removing a
// name that is not attached is a silent no-op returning false, so UI
// actions stay idempotent.
func (c *Cart) RemoveCondition(name string) bool {
	for idx := range c.conditions {
		if c.conditions[idx].Name == name {
			c.conditions = append(c.conditions[:idx], c.conditions[idx+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) ClearConditions() {
	c.conditions = nil
}

// ClearConditionsByType removes every cart-level condition carrying
// the given type tag and reports how many were removed.
func (c *Cart) ClearConditionsByType(condType string) int {
	kept := c.conditions[:0]
	removed := 0
	for _, cond := range c.conditions {
		if cond.Type == condType {
			removed++
			continue
		}
		kept = append(kept, cond)
	}
	c.conditions = kept
	return removed
}

// Condition returns the attached cart-level condition with the given
// name, or nil.
func (c *Cart) Condition(name string) *Condition {
	for _, cond := range c.conditions {
		if cond.Name == name {
			found := cond
			return &found
		}
	}
	return nil
}

// Conditions returns every attached cart-level condition regardless
// of dynamic gate state. The effective view lives in the total
// breakdown, where gate-failing conditions appear as skips.
func (c *Cart) Conditions() []Condition {
	return append([]Condition(nil), c.conditions...)
}

// Context builds the rule-evaluation context for the current state.
func (c *Cart) Context() Context {
	return Context{
		Identifier:    c.Identifier,
		Instance:      c.Instance,
		Items:         c.Items(),
		TotalQuantity: c.TotalQuantity(),
		Subtotal:      c.rawSubtotal(),
		Metadata:      cloneMap(c.Metadata),
	}
}

func (c *Cart) rawSubtotal() money.Money {
	sum := money.Zero(c.Currency)
	for _, item := range c.items {
		sum, _ = sum.Add(item.Subtotal())
	}
	return sum
}

// Subtotal sums each line's total, so item-level conditions are
// already folded in. Cart-level conditions are not applied here.
func (c *Cart) Subtotal() money.Money {
	ctx := c.Context()
	sum := money.Zero(c.Currency)
	for _, item := range c.items {
		sum, _ = sum.Add(item.Total(ctx, c.rules))
	}
	return sum
}

// Total applies the cart-level conditions to the subtotal.
func (c *Cart) Total() money.Money {
	total, _ := c.TotalBreakdown()
	return total
}

// TotalBreakdown returns the total together with the ordered record
// of what every cart-level condition contributed (or skipped).
func (c *Cart) TotalBreakdown() (money.Money, []Application) {
	return Evaluate(c.Subtotal(), c.conditions, c.Context(), c.rules)
}

// TotalQuantity sums the line quantities.
func (c *Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.items {
		total += item.Quantity
	}
	return total
}

// IsEmpty reports whether there is nothing worth persisting.
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0 && len(c.conditions) == 0 && len(c.Metadata) == 0
}

func (c *Cart) indexOf(id string) int {
	for idx := range c.items {
		if c.items[idx].ID == id {
			return idx
		}
	}
	return -1
}
