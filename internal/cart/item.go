package cart

import (
	"troli/backend/internal/money"
)

// ModelRef points at an external catalog entity. The engine carries it
// for the caller and never dereferences it.
type ModelRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Item is one cart line: identity, unit price, quantity, opaque
// attributes and the conditions scoped to this line.
type Item struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	UnitPrice       money.Money    `json:"unitPrice"`
	Quantity        int            `json:"quantity"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	Conditions      []Condition    `json:"conditions,omitempty"`
	AssociatedModel *ModelRef      `json:"associatedModel,omitempty"`
}

// Subtotal is unit price × quantity, before any conditions.
func (i Item) Subtotal() money.Money {
	return i.UnitPrice.MulInt(int64(i.Quantity))
}

// Total folds the item's own conditions over the line subtotal.
func (i Item) Total(ctx Context, factory RuleFactory) money.Money {
	total, _ := i.TotalBreakdown(ctx, factory)
	return total
}

func (i Item) TotalBreakdown(ctx Context, factory RuleFactory) (money.Money, []Application) {
	return Evaluate(i.Subtotal(), i.Conditions, ctx, factory)
}

func (i Item) clone() Item {
	out := i
	out.Attributes = cloneMap(i.Attributes)
	if i.Conditions != nil {
		out.Conditions = make([]Condition, len(i.Conditions))
		copy(out.Conditions, i.Conditions)
	}
	if i.AssociatedModel != nil {
		ref := *i.AssociatedModel
		out.AssociatedModel = &ref
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
