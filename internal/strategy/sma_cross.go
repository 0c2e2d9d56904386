package strategy

import (
	"fmt"

	"market-sim-lab/internal/domain"
)

// SMACrossStrategy trades moving-average crossovers: buys when the
// fast average crosses above the slow one, sells the open position
// when it crosses back below. At most one position is open at a time.
type SMACrossStrategy struct {
	FastWindow int
	SlowWindow int
	Quantity   float64
}

// NewSMACrossStrategy creates an SMA crossover strategy.
func NewSMACrossStrategy(fastWindow, slowWindow int, quantity float64) *SMACrossStrategy {
	return &SMACrossStrategy{FastWindow: fastWindow, SlowWindow: slowWindow, Quantity: quantity}
}

// Evaluate compares the fast and slow averages at this step and the
// previous one. No signal until enough history exists for both windows
// plus the prior step.
func (s *SMACrossStrategy) Evaluate(in Input) []domain.Signal {
	if len(in.History) < s.SlowWindow+1 {
		return nil
	}

	fastNow := sma(in.History, s.FastWindow, 0)
	slowNow := sma(in.History, s.SlowWindow, 0)
	fastPrev := sma(in.History, s.FastWindow, 1)
	slowPrev := sma(in.History, s.SlowWindow, 1)

	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow

	if crossedUp && in.Position.Quantity == 0 {
		return []domain.Signal{{Side: domain.SideBuy, Quantity: s.Quantity, Reason: "sma cross up"}}
	}
	if crossedDown && in.Position.Quantity > 0 {
		return []domain.Signal{{Side: domain.SideSell, Quantity: in.Position.Quantity, Reason: "sma cross down"}}
	}
	return nil
}

// ID returns strategy identifier with parameters.
func (s *SMACrossStrategy) ID() string {
	return fmt.Sprintf("SMA_CROSS_f%d_s%d_qty%g", s.FastWindow, s.SlowWindow, s.Quantity)
}

// sma averages the last window prices ending `back` steps before the
// newest observation.
func sma(history []float64, window, back int) float64 {
	end := len(history) - back
	sum := 0.0
	for _, p := range history[end-window : end] {
		sum += p
	}
	return sum / float64(window)
}

var _ Strategy = (*SMACrossStrategy)(nil)
