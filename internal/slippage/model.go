// Package slippage prices simulated executions against a depth ladder.
//
// The model walks the relevant book side accumulating volume until the
// requested quantity fills, computing a volume-weighted average price
// over the consumed levels. Depth shortfalls are priced by a worst-case
// extrapolation rule: the unfilled remainder executes one 1% step
// beyond the worst consumed level. This is a deliberate pessimistic
// bound, not a model of true market impact.
package slippage

import (
	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/rng"
)

// worstCaseStep is the relative step applied beyond the last consumed
// level when book depth is insufficient (1% past the worst price).
const worstCaseStep = 0.01

// Config holds slippage thresholds and the noise amplitude.
type Config struct {
	// MaxBps rejects an order pre-trade when the signed slippage
	// exceeds it. Zero disables the check.
	MaxBps float64
	// WarnBps logs-and-proceeds when the signed slippage exceeds it.
	// Zero disables the check.
	WarnBps float64
	// NoiseBps is the amplitude of the modeled slippage noise drawn
	// from the run's deterministic RNG. Zero disables noise.
	NoiseBps float64
}

// Result is the outcome of pricing one requested quantity.
type Result struct {
	ExecutedPrice float64
	// SlippageBps is signed relative to the reference price and
	// sign-adjusted per side: an unfavorable fill is always positive.
	// Threshold checks use this value.
	SlippageBps float64
	// FilledFromBook is the quantity covered by ladder depth; the rest
	// was priced by the worst-case rule.
	FilledFromBook float64
	// Extrapolated reports whether the worst-case rule priced any
	// remainder.
	Extrapolated bool
}

// AbsBps returns the unsigned slippage magnitude used in risk
// summaries. Kept distinct from the signed value: reporting uses this,
// threshold comparison never does.
func (r Result) AbsBps() float64 {
	if r.SlippageBps < 0 {
		return -r.SlippageBps
	}
	return r.SlippageBps
}

// Model computes execution prices for requested quantities.
type Model struct {
	cfg  Config
	rand *rng.RNG
}

// New creates a slippage model. rand may be nil when NoiseBps is zero.
func New(cfg Config, rand *rng.RNG) *Model {
	return &Model{cfg: cfg, rand: rand}
}

// Execute prices a requested quantity against a book snapshot.
//
// A nil book or an empty relevant side degrades to zero slippage at the
// reference price: book-fetch failure must never abort the step
// (fail-open policy, asserted by tests).
//
// When noise is enabled the model draws exactly one sample per call,
// whether or not the caller later rejects the order, so the draw
// sequence is a function of priced signals alone.
func (m *Model) Execute(side domain.Side, quantity, reference float64, book *domain.OrderBook) Result {
	if quantity <= 0 || reference <= 0 {
		return Result{ExecutedPrice: reference}
	}

	levels := relevantSide(side, book)
	if len(levels) == 0 {
		return Result{ExecutedPrice: reference, FilledFromBook: 0}
	}

	executed, filled, extrapolated := walk(side, quantity, levels)

	if m.cfg.NoiseBps > 0 && m.rand != nil {
		// Symmetric noise in bps, applied in the adverse direction for
		// positive draws.
		noise := (2*m.rand.Float64() - 1) * m.cfg.NoiseBps
		shift := reference * noise / 10000
		if side == domain.SideBuy {
			executed += shift
		} else {
			executed -= shift
		}
	}

	return Result{
		ExecutedPrice:  executed,
		SlippageBps:    signedBps(side, executed, reference),
		FilledFromBook: filled,
		Extrapolated:   extrapolated,
	}
}

// Exceeds reports whether the result breaches the pre-trade rejection
// threshold.
func (m *Model) Exceeds(r Result) bool {
	return m.cfg.MaxBps > 0 && r.SlippageBps > m.cfg.MaxBps
}

// ShouldWarn reports whether the result breaches the warn threshold.
func (m *Model) ShouldWarn(r Result) bool {
	return m.cfg.WarnBps > 0 && r.SlippageBps > m.cfg.WarnBps
}

// walk consumes levels best-first, returning the VWAP, the quantity
// covered by book depth, and whether the worst-case rule applied.
func walk(side domain.Side, quantity float64, levels []domain.BookLevel) (vwap, filled float64, extrapolated bool) {
	remaining := quantity
	notional := 0.0
	lastPrice := 0.0

	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Volume
		if take > remaining {
			take = remaining
		}
		notional += take * lvl.Price
		remaining -= take
		filled += take
		lastPrice = lvl.Price
	}

	if remaining > 0 {
		// Insufficient depth: price the remainder one step beyond the
		// worst consumed level, adverse to the taker.
		worst := lastPrice * (1 + worstCaseStep)
		if side == domain.SideSell {
			worst = lastPrice * (1 - worstCaseStep)
		}
		notional += remaining * worst
		extrapolated = true
	}

	return notional / quantity, filled, extrapolated
}

// signedBps computes slippage in basis points, sign-adjusted so an
// unfavorable fill is positive for either side.
func signedBps(side domain.Side, executed, reference float64) float64 {
	if reference <= 0 {
		return 0
	}
	bps := (executed - reference) / reference * 10000
	if side == domain.SideSell {
		bps = -bps
	}
	return bps
}

// relevantSide returns the levels the taker consumes: asks for a buy,
// bids for a sell.
func relevantSide(side domain.Side, book *domain.OrderBook) []domain.BookLevel {
	if book == nil {
		return nil
	}
	if side == domain.SideBuy {
		return book.Asks
	}
	return book.Bids
}
