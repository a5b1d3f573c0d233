package cart

import (
	"sort"

	"troli/backend/internal/money"
)

// Application records what one condition did during a totals pass.
// Gate-failing (or unapplicable) conditions still appear, marked
// Skipped with a zero delta, so nothing ever drops out of the
// breakdown silently.
type Application struct {
	Name    string      `json:"name"`
	Type    string      `json:"type"`
	Delta   money.Money `json:"delta"`
	Skipped bool        `json:"skipped,omitempty"`
}

// Evaluate folds the conditions over target in ascending Order
// (stable, so ties keep insertion order) and returns the final value
// together with the ordered breakdown.
func Evaluate(target money.Money, conditions []Condition, ctx Context, factory RuleFactory) (money.Money, []Application) {
	sorted := make([]Condition, len(conditions))
	copy(sorted, conditions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	running := target
	breakdown := make([]Application, 0, len(sorted))
	for _, cond := range sorted {
		if !cond.RulesPass(ctx, factory) {
			breakdown = append(breakdown, Application{
				Name:    cond.Name,
				Type:    cond.Type,
				Delta:   money.Zero(running.Currency),
				Skipped: true,
			})
			continue
		}

		next, err := cond.Apply(running)
		if err != nil {
			// Unapplicable conditions (corrupt persisted value) are
			// recorded as skips rather than corrupting the total.
			breakdown = append(breakdown, Application{
				Name:    cond.Name,
				Type:    cond.Type,
				Delta:   money.Zero(running.Currency),
				Skipped: true,
			})
			continue
		}

		delta := money.New(next.Amount-running.Amount, running.Currency)
		breakdown = append(breakdown, Application{Name: cond.Name, Type: cond.Type, Delta: delta})
		running = next
	}
	return running, breakdown
}
