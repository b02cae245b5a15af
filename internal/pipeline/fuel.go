package pipeline

import "fmt"

// DefaultFuelBudget bounds a transform when no budget is configured.
const DefaultFuelBudget = 50_000

// FuelMeter enforces the transform budget. Each unit of transform
// work charges the meter; exceeding the budget terminates the
// transform. This guarantees termination for arbitrary chip bodies:
// a transform cannot loop forever because it cannot pay forever.
type FuelMeter struct {
	budget int64
	used   int64
}

// NewFuelMeter creates a meter with the given budget.
func NewFuelMeter(budget int64) *FuelMeter {
	if budget <= 0 {
		budget = DefaultFuelBudget
	}
	return &FuelMeter{budget: budget}
}

// Charge consumes n units. Returns FuelExhaustedError once the total
// crosses the budget; the charge that crossed is still counted, so
// Used never understates the work attempted.
func (m *FuelMeter) Charge(n int64) error {
	m.used += n
	if m.used > m.budget {
		return &FuelExhaustedError{Used: m.used, Budget: m.budget}
	}
	return nil
}

// Used returns the units consumed so far.
func (m *FuelMeter) Used() int64 { return m.used }

// Budget returns the configured limit.
func (m *FuelMeter) Budget() int64 { return m.budget }

// FuelExhaustedError terminates a transform that ran past its budget.
type FuelExhaustedError struct {
	Used   int64
	Budget int64
}

func (e *FuelExhaustedError) Error() string {
	return fmt.Sprintf("fuel exhausted: used %d of %d", e.Used, e.Budget)
}
