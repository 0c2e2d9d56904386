// Package portfolio tracks cash balances and open positions during a
// run. The portfolio lives in memory only; durability goes through the
// checkpoint state it exports and restores.
package portfolio

import (
	"errors"
	"fmt"

	"market-sim-lab/internal/domain"
)

// Accounting guard errors. The engine converts these into order
// rejections rather than run failures.
var (
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientPosition = errors.New("insufficient position")
)

// Portfolio holds cash per currency and positions per instrument.
// Not safe for concurrent use; each run owns exactly one instance and
// mutates it from the single engine goroutine.
type Portfolio struct {
	quoteCurrency string
	cash          map[string]float64
	positions     map[string]domain.PositionState
}

// New creates a portfolio holding initialCapital in the quote currency.
func New(quoteCurrency string, initialCapital float64) *Portfolio {
	return &Portfolio{
		quoteCurrency: quoteCurrency,
		cash:          map[string]float64{quoteCurrency: initialCapital},
		positions:     make(map[string]domain.PositionState),
	}
}

// FromState reconstructs a portfolio from checkpoint state.
func FromState(st domain.PortfolioState) *Portfolio {
	p := &Portfolio{
		quoteCurrency: st.QuoteCurrency,
		cash:          make(map[string]float64, len(st.Cash)),
		positions:     make(map[string]domain.PositionState, len(st.Positions)),
	}
	for cur, amt := range st.Cash {
		p.cash[cur] = amt
	}
	for inst, pos := range st.Positions {
		p.positions[inst] = pos
	}
	return p
}

// State exports the portfolio for embedding in a checkpoint. The
// returned maps are copies.
func (p *Portfolio) State() domain.PortfolioState {
	st := domain.PortfolioState{
		QuoteCurrency: p.quoteCurrency,
		Cash:          make(map[string]float64, len(p.cash)),
		Positions:     make(map[string]domain.PositionState, len(p.positions)),
	}
	for cur, amt := range p.cash {
		st.Cash[cur] = amt
	}
	for inst, pos := range p.positions {
		st.Positions[inst] = pos
	}
	return st
}

// Cash returns the balance in the quote currency.
func (p *Portfolio) Cash() float64 {
	return p.cash[p.quoteCurrency]
}

// Position returns the open position for an instrument, zero-valued if
// none is held.
func (p *Portfolio) Position(instrument string) domain.PositionState {
	return p.positions[instrument]
}

// CanBuy reports whether the portfolio can cover notional plus fee.
func (p *Portfolio) CanBuy(notional, fee float64) bool {
	return p.cash[p.quoteCurrency] >= notional+fee
}

// CanSell reports whether the held quantity covers the requested one.
func (p *Portfolio) CanSell(instrument string, quantity float64) bool {
	return p.positions[instrument].Quantity >= quantity
}

// ApplyBuy debits cash and adds to the position at a blended average
// cost. Fails without mutating when cash cannot cover notional+fee.
func (p *Portfolio) ApplyBuy(instrument string, quantity, price, fee float64) error {
	notional := quantity * price
	if !p.CanBuy(notional, fee) {
		return fmt.Errorf("%w: need %.8f %s, have %.8f",
			ErrInsufficientCash, notional+fee, p.quoteCurrency, p.cash[p.quoteCurrency])
	}

	p.cash[p.quoteCurrency] -= notional + fee

	pos := p.positions[instrument]
	total := pos.Quantity + quantity
	pos.AvgCost = (pos.AvgCost*pos.Quantity + price*quantity) / total
	pos.Quantity = total
	p.positions[instrument] = pos
	return nil
}

// ApplySell credits cash net of fee and reduces the position, returning
// the realized profit against the average cost. Fails without mutating
// when the position cannot cover the quantity: balances never go
// negative.
func (p *Portfolio) ApplySell(instrument string, quantity, price, fee float64) (realized float64, err error) {
	pos := p.positions[instrument]
	if pos.Quantity < quantity {
		return 0, fmt.Errorf("%w: %s sell %.8f, held %.8f",
			ErrInsufficientPosition, instrument, quantity, pos.Quantity)
	}

	p.cash[p.quoteCurrency] += quantity*price - fee
	realized = (price-pos.AvgCost)*quantity - fee

	pos.Quantity -= quantity
	if pos.Quantity == 0 {
		delete(p.positions, instrument)
	} else {
		p.positions[instrument] = pos
	}
	return realized, nil
}

// Equity is cash plus positions marked to the supplied prices.
// Instruments missing from prices are valued at their average cost.
func (p *Portfolio) Equity(prices map[string]float64) float64 {
	eq := p.cash[p.quoteCurrency]
	for inst, pos := range p.positions {
		price, ok := prices[inst]
		if !ok {
			price = pos.AvgCost
		}
		eq += pos.Quantity * price
	}
	return eq
}

// Exposure is the marked value of open positions as a fraction of
// equity, zero when equity is non-positive.
func (p *Portfolio) Exposure(prices map[string]float64) float64 {
	eq := p.Equity(prices)
	if eq <= 0 {
		return 0
	}
	return (eq - p.cash[p.quoteCurrency]) / eq
}
