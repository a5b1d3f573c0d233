package cart

import (
	"fmt"
	"sort"
	"sync"

	"troli/backend/internal/money"
)

// Context is the cart state a rule predicate evaluates against.
// Subtotal is the raw sum of unit price × quantity, before any
// conditions, so gating never depends on the result it gates.
type Context struct {
	Identifier    string
	Instance      string
	Items         []Item
	TotalQuantity int
	Subtotal      money.Money
	Metadata      map[string]any
}

// Predicate decides whether a dynamic condition applies for one
// computation pass.
type Predicate func(Context) bool

// RuleBuilder turns persisted rule parameters into predicates.
type RuleBuilder func(params map[string]any) ([]Predicate, error)

// RuleFactory resolves persisted (factory, params) pairs into
// predicates at evaluation time.
type RuleFactory interface {
	CanCreate(key string) bool
	Create(key string, params map[string]any) ([]Predicate, error)
}

// RuleRegistry is the default RuleFactory: a keyed set of builders,
// pre-loaded with the gates voucher and promo flows need.
type RuleRegistry struct {
	mu       sync.RWMutex
	builders map[string]RuleBuilder
}

func NewRuleRegistry() *RuleRegistry {
	r := &RuleRegistry{builders: make(map[string]RuleBuilder)}
	r.Register("min-items", minItemsRule)
	r.Register("min-quantity", minQuantityRule)
	r.Register("min-subtotal", minSubtotalRule)
	r.Register("has-item", hasItemRule)
	r.Register("attribute-equals", attributeEqualsRule)
	return r
}

func (r *RuleRegistry) Register(key string, builder RuleBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[key] = builder
}

func (r *RuleRegistry) CanCreate(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[key]
	return ok
}

func (r *RuleRegistry) Create(key string, params map[string]any) ([]Predicate, error) {
	r.mu.RLock()
	builder, ok := r.builders[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown rule factory %q", key)
	}
	return builder(params)
}

// Keys lists the registered factory keys, sorted.
func (r *RuleRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.builders))
	for key := range r.builders {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func minItemsRule(params map[string]any) ([]Predicate, error) {
	count, err := intParam(params, "count")
	if err != nil {
		return nil, err
	}
	return []Predicate{func(ctx Context) bool {
		return len(ctx.Items) >= count
	}}, nil
}

func minQuantityRule(params map[string]any) ([]Predicate, error) {
	count, err := intParam(params, "count")
	if err != nil {
		return nil, err
	}
	return []Predicate{func(ctx Context) bool {
		return ctx.TotalQuantity >= count
	}}, nil
}

func minSubtotalRule(params map[string]any) ([]Predicate, error) {
	amount, err := intParam(params, "amount")
	if err != nil {
		return nil, err
	}
	return []Predicate{func(ctx Context) bool {
		return ctx.Subtotal.Amount >= int64(amount)
	}}, nil
}

func hasItemRule(params map[string]any) ([]Predicate, error) {
	id, ok := params["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("has-item: missing id parameter")
	}
	return []Predicate{func(ctx Context) bool {
		for _, item := range ctx.Items {
			if item.ID == id {
				return true
			}
		}
		return false
	}}, nil
}

func attributeEqualsRule(params map[string]any) ([]Predicate, error) {
	key, ok := params["key"].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("attribute-equals: missing key parameter")
	}
	want := params["value"]
	return []Predicate{func(ctx Context) bool {
		got, exists := ctx.Metadata[key]
		return exists && got == want
	}}, nil
}

// intParam reads an integer parameter that may arrive as a float64
// after a JSON round trip.
func intParam(params map[string]any, name string) (int, error) {
	switch v := params[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("missing or non-numeric %q parameter", name)
	}
}
