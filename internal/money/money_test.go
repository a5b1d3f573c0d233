package money

import (
	"errors"
	"testing"
)

func TestAddAndSubSameCurrency(t *testing.T) {
	a := New(2500, "MYR")
	b := New(1500, "MYR")

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if sum.Amount != 4000 {
		t.Fatalf("expected 4000, got %d", sum.Amount)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("sub failed: %v", err)
	}
	if diff.Amount != 1000 {
		t.Fatalf("expected 1000, got %d", diff.Amount)
	}
}

func TestAddRejectsCurrencyMismatch(t *testing.T) {
	a := New(100, "MYR")
	b := New(100, "USD")

	if _, err := a.Add(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
	if _, err := a.Sub(b); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected currency mismatch, got %v", err)
	}
}

func TestPercentRoundsPerStep(t *testing.T) {
	// 15% of 3.33 is 0.4995, which must round to 0.50 at this step,
	// not be deferred.
	m := New(333, "MYR")
	cut := m.Percent(15)
	if cut.Amount != 50 {
		t.Fatalf("expected 50, got %d", cut.Amount)
	}

	// Repeated evaluation of the same amounts must not drift.
	for i := 0; i < 100; i++ {
		if again := m.Percent(15); again.Amount != cut.Amount {
			t.Fatalf("drift after %d evaluations: %d", i, again.Amount)
		}
	}
}

func TestMulFloatRoundsHalfAwayFromZero(t *testing.T) {
	if got := New(5, "MYR").MulFloat(0.5); got.Amount != 3 {
		t.Fatalf("expected 2.5 to round to 3, got %d", got.Amount)
	}
	if got := New(-5, "MYR").MulFloat(0.5); got.Amount != -3 {
		t.Fatalf("expected -2.5 to round to -3, got %d", got.Amount)
	}
}

func TestCmp(t *testing.T) {
	a := New(100, "MYR")
	b := New(200, "MYR")
	if a.Cmp(b) != -1 || b.Cmp(a) != 1 || a.Cmp(a) != 0 {
		t.Fatalf("unexpected ordering")
	}
}

func TestFormat(t *testing.T) {
	if got := New(27500, "MYR").Format(); got != "275.00 MYR" {
		t.Fatalf("unexpected format: %s", got)
	}
	if got := New(-1205, "MYR").Format(); got != "-12.05 MYR" {
		t.Fatalf("unexpected negative format: %s", got)
	}
	if got := New(1500, "IDR").Format(); got != "1500 IDR" {
		t.Fatalf("unexpected zero-decimal format: %s", got)
	}
}
