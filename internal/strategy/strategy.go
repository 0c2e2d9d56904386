package strategy

import "market-sim-lab/internal/domain"

// Strategy turns the observable state at a step into zero or more
// order signals. Implementations must be deterministic: the same input
// sequence produces the same signal sequence, with no clocks, RNG or
// I/O of their own.
type Strategy interface {
	// Evaluate runs the strategy on the state at one step.
	Evaluate(in Input) []domain.Signal

	// ID returns the strategy identifier.
	ID() string
}

// Input holds everything a strategy may observe at a step.
type Input struct {
	StepIndex int64
	Price     float64   // reference price at this step
	History   []float64 // prices up to and including this step, oldest first

	Cash     float64 // quote balance
	Position domain.PositionState
}
