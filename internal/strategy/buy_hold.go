package strategy

import (
	"fmt"

	"market-sim-lab/internal/domain"
)

// BuyHoldStrategy deploys a fraction of the starting cash at the first
// step and holds to the end of the range. The baseline every other
// strategy is compared against.
type BuyHoldStrategy struct {
	Fraction float64 // fraction of cash to deploy, (0, 1]
}

// NewBuyHoldStrategy creates a buy-and-hold strategy.
func NewBuyHoldStrategy(fraction float64) *BuyHoldStrategy {
	return &BuyHoldStrategy{Fraction: fraction}
}

// Evaluate buys once at step zero, sized off available cash.
func (s *BuyHoldStrategy) Evaluate(in Input) []domain.Signal {
	if in.StepIndex != 0 || in.Price <= 0 {
		return nil
	}
	qty := in.Cash * s.Fraction / in.Price
	if qty <= 0 {
		return nil
	}
	return []domain.Signal{{Side: domain.SideBuy, Quantity: qty, Reason: "initial allocation"}}
}

// ID returns strategy identifier with parameters.
func (s *BuyHoldStrategy) ID() string {
	return fmt.Sprintf("BUY_HOLD_f%g", s.Fraction)
}

var _ Strategy = (*BuyHoldStrategy)(nil)
