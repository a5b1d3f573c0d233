package cart

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"troli/backend/internal/money"
)

var ErrInvalidConditionValue = errors.New("invalid condition value")

// Target names the running value a condition transforms.
type Target string

const (
	TargetPrice    Target = "price"
	TargetSubtotal Target = "subtotal"
	TargetTotal    Target = "total"
)

// RuleRef is the persisted form of a dynamic rule: a factory key plus
// opaque parameters. The resolved predicate is never serialized.
type RuleRef struct {
	Factory string         `json:"factory"`
	Params  map[string]any `json:"params,omitempty"`
}

// Condition is a named, ordered pricing rule (discount, tax, fee,
// shipping, voucher) attached to an item or to the cart. Conditions
// apply in ascending Order; ties keep insertion order. Type is an
// informational tag used for filtering and bulk removal, never for
// calculation branching.
type Condition struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Target     Target         `json:"target"`
	Value      string         `json:"value"`
	Order      int            `json:"order"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Rules      []RuleRef      `json:"rules,omitempty"`
}

// NewCondition validates the value expression up front so malformed
// conditions fail at construction, not during a totals pass.
func NewCondition(name string, condType string, target Target, value string) (Condition, error) {
	if strings.TrimSpace(name) == "" {
		return Condition{}, fmt.Errorf("%w: empty name", ErrInvalidConditionValue)
	}
	switch target {
	case TargetPrice, TargetSubtotal, TargetTotal:
	default:
		return Condition{}, fmt.Errorf("%w: unknown target %q", ErrInvalidConditionValue, target)
	}
	if _, err := parseValue(value); err != nil {
		return Condition{}, err
	}
	return Condition{Name: name, Type: condType, Target: target, Value: value}, nil
}

func (c Condition) WithOrder(order int) Condition {
	c.Order = order
	return c
}

func (c Condition) WithValue(value string) (Condition, error) {
	if _, err := parseValue(value); err != nil {
		return Condition{}, err
	}
	c.Value = value
	return c, nil
}

func (c Condition) WithAttributes(attrs map[string]any) Condition {
	c.Attributes = attrs
	return c
}

func (c Condition) WithRules(rules ...RuleRef) Condition {
	c.Rules = rules
	return c
}

// IsDynamic reports whether the condition is gated by runtime rules.
func (c Condition) IsDynamic() bool {
	return len(c.Rules) > 0
}

// IsGlobal reports whether the condition is marked to survive a cart
// merge. Cart-level conditions are otherwise dropped on migration so
// discounts are not applied twice.
func (c Condition) IsGlobal() bool {
	global, ok := c.Attributes["global"].(bool)
	return ok && global
}

// RulesPass resolves the condition's rules through the factory and
// evaluates them against the current cart state. Every predicate must
// hold; an unknown or failing factory fails closed.
func (c Condition) RulesPass(ctx Context, factory RuleFactory) bool {
	if !c.IsDynamic() {
		return true
	}
	if factory == nil {
		return false
	}
	for _, ref := range c.Rules {
		if !factory.CanCreate(ref.Factory) {
			return false
		}
		predicates, err := factory.Create(ref.Factory, ref.Params)
		if err != nil {
			return false
		}
		for _, predicate := range predicates {
			if !predicate(ctx) {
				return false
			}
		}
	}
	return true
}

// Apply transforms target by the condition's value expression. Fixed
// magnitudes are in major currency units ("+15" adds 15.00); percentage
// magnitudes apply to the running value at this step; * and / act as a
// direct multiplier/divisor. A result below zero clamps to zero.
func (c Condition) Apply(target money.Money) (money.Money, error) {
	expr, err := parseValue(c.Value)
	if err != nil {
		return target, err
	}

	var result money.Money
	switch expr.op {
	case '*':
		result = target.MulFloat(expr.magnitude)
	case '/':
		result = target.MulFloat(1 / expr.magnitude)
	case '+', '-':
		var delta money.Money
		if expr.percent {
			delta = target.Percent(expr.magnitude)
		} else {
			delta = fixedAmount(expr.magnitude, target.Currency)
		}
		if expr.op == '-' {
			result, err = target.Sub(delta)
		} else {
			result, err = target.Add(delta)
		}
		if err != nil {
			return target, err
		}
	}

	if result.IsNegative() {
		return money.Zero(result.Currency), nil
	}
	return result, nil
}

// fixedAmount converts a major-unit magnitude to minor units at the
// currency's exponent, rounding half away from zero.
func fixedAmount(magnitude float64, currency string) money.Money {
	return money.New(1, currency).MulFloat(magnitude * math.Pow10(money.MinorUnits(currency)))
}

type valueExpr struct {
	op        byte
	magnitude float64
	percent   bool
}

// parseValue parses the condition value grammar: an optional leading
// operator (+ - * /, default +), a non-negative float magnitude, and an
// optional trailing % marker.
func parseValue(raw string) (valueExpr, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return valueExpr{}, fmt.Errorf("%w: empty expression", ErrInvalidConditionValue)
	}

	expr := valueExpr{op: '+'}
	switch s[0] {
	case '+', '-', '*', '/':
		expr.op = s[0]
		s = s[1:]
	}
	if strings.HasSuffix(s, "%") {
		expr.percent = true
		s = strings.TrimSuffix(s, "%")
	}

	if s == "" || s[0] == '+' || s[0] == '-' {
		return valueExpr{}, fmt.Errorf("%w: %q has a sign after the operator", ErrInvalidConditionValue, raw)
	}
	magnitude, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return valueExpr{}, fmt.Errorf("%w: %q", ErrInvalidConditionValue, raw)
	}
	if expr.op == '/' && magnitude == 0 {
		return valueExpr{}, fmt.Errorf("%w: division by zero", ErrInvalidConditionValue)
	}
	expr.magnitude = magnitude
	return expr, nil
}
