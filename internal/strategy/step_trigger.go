package strategy

import (
	"fmt"

	"market-sim-lab/internal/domain"
)

// StepTriggerStrategy emits a fixed-quantity buy at one step and an
// optional sell at another. Used for deterministic fixtures and smoke
// runs where the signal schedule must be known in advance.
type StepTriggerStrategy struct {
	BuyStep  int64
	SellStep int64 // negative disables the sell leg
	Quantity float64
}

// NewStepTriggerStrategy creates a step trigger strategy.
func NewStepTriggerStrategy(buyStep, sellStep int64, quantity float64) *StepTriggerStrategy {
	return &StepTriggerStrategy{BuyStep: buyStep, SellStep: sellStep, Quantity: quantity}
}

// Evaluate emits the scheduled signal for this step, if any.
func (s *StepTriggerStrategy) Evaluate(in Input) []domain.Signal {
	switch {
	case in.StepIndex == s.BuyStep:
		return []domain.Signal{{Side: domain.SideBuy, Quantity: s.Quantity, Reason: "scheduled buy"}}
	case s.SellStep >= 0 && in.StepIndex == s.SellStep:
		return []domain.Signal{{Side: domain.SideSell, Quantity: s.Quantity, Reason: "scheduled sell"}}
	default:
		return nil
	}
}

// ID returns strategy identifier with parameters.
func (s *StepTriggerStrategy) ID() string {
	return fmt.Sprintf("STEP_TRIGGER_buy%d_sell%d_qty%g", s.BuyStep, s.SellStep, s.Quantity)
}

var _ Strategy = (*StepTriggerStrategy)(nil)
