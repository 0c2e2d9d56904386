package slippage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/rng"
)

func TestVWAPBuyAcrossTwoLevels(t *testing.T) {
	// Asks [(100, 0.5), (110, 0.5)], buy 1.0 at reference 100:
	// VWAP = (0.5*100 + 0.5*110) / 1.0 = 105 → +500 bps.
	m := New(Config{}, nil)
	book := &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 100, Volume: 0.5}, {Price: 110, Volume: 0.5}},
	}

	res := m.Execute(domain.SideBuy, 1.0, 100, book)

	assert.InDelta(t, 105.0, res.ExecutedPrice, 1e-9)
	assert.InDelta(t, 500.0, res.SlippageBps, 1e-9)
	assert.False(t, res.Extrapolated)
	assert.InDelta(t, 1.0, res.FilledFromBook, 1e-9)
}

func TestInsufficientDepthExtrapolatesWorstCase(t *testing.T) {
	// Asks [(50000, 0.5)] only, buy 1.0 at reference 50000: the
	// unfilled 0.5 is priced 1% beyond the worst level (50500),
	// strictly worse than the depth-only VWAP.
	m := New(Config{}, nil)
	book := &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 50000, Volume: 0.5}},
	}

	res := m.Execute(domain.SideBuy, 1.0, 50000, book)

	assert.True(t, res.Extrapolated)
	assert.InDelta(t, 50250.0, res.ExecutedPrice, 1e-6) // (0.5*50000 + 0.5*50500) / 1.0
	assert.Greater(t, res.SlippageBps, 0.0)

	// Strictly greater than the depth-only VWAP (zero slippage here).
	depthOnly := m.Execute(domain.SideBuy, 0.5, 50000, book)
	assert.Greater(t, res.SlippageBps, depthOnly.SlippageBps)
}

func TestSellSideSignAdjustment(t *testing.T) {
	// Selling into bids below the reference is unfavorable → positive bps.
	m := New(Config{}, nil)
	book := &domain.OrderBook{
		Bids: []domain.BookLevel{{Price: 99, Volume: 2.0}},
	}

	res := m.Execute(domain.SideSell, 1.0, 100, book)

	assert.InDelta(t, 99.0, res.ExecutedPrice, 1e-9)
	assert.InDelta(t, 100.0, res.SlippageBps, 1e-9)
}

func TestSellInsufficientDepthStepsDown(t *testing.T) {
	m := New(Config{}, nil)
	book := &domain.OrderBook{
		Bids: []domain.BookLevel{{Price: 100, Volume: 0.5}},
	}

	res := m.Execute(domain.SideSell, 1.0, 100, book)

	// Remainder at 100 * 0.99 = 99 → VWAP 99.5, +50 bps.
	assert.InDelta(t, 99.5, res.ExecutedPrice, 1e-9)
	assert.InDelta(t, 50.0, res.SlippageBps, 1e-9)
	assert.True(t, res.Extrapolated)
}

func TestEmptyBookFailsOpen(t *testing.T) {
	// Book-fetch failure degrades to zero slippage at the reference
	// price. This is the documented no-fail default, not an error path.
	m := New(Config{}, nil)

	res := m.Execute(domain.SideBuy, 1.0, 100, nil)
	assert.InDelta(t, 100.0, res.ExecutedPrice, 1e-9)
	assert.Zero(t, res.SlippageBps)

	res = m.Execute(domain.SideBuy, 1.0, 100, &domain.OrderBook{})
	assert.InDelta(t, 100.0, res.ExecutedPrice, 1e-9)
	assert.Zero(t, res.SlippageBps)
}

func TestExactFillAtReferenceLevel(t *testing.T) {
	m := New(Config{}, nil)
	book := &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 100, Volume: 1.0}},
	}

	res := m.Execute(domain.SideBuy, 1.0, 100, book)

	assert.InDelta(t, 100.0, res.ExecutedPrice, 1e-9)
	assert.Zero(t, res.SlippageBps)
}

func TestThresholds(t *testing.T) {
	m := New(Config{MaxBps: 400, WarnBps: 100}, nil)
	book := &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 100, Volume: 0.5}, {Price: 110, Volume: 0.5}},
	}

	res := m.Execute(domain.SideBuy, 1.0, 100, book) // +500 bps
	assert.True(t, m.Exceeds(res))
	assert.True(t, m.ShouldWarn(res))

	small := m.Execute(domain.SideBuy, 0.5, 100, book) // 0 bps
	assert.False(t, m.Exceeds(small))
	assert.False(t, m.ShouldWarn(small))
}

func TestFavorableFillIsNegativeButAbsPositive(t *testing.T) {
	// Buying below reference is favorable: signed bps negative, the
	// risk-summary magnitude positive. The two representations stay
	// distinct.
	m := New(Config{MaxBps: 100}, nil)
	book := &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 95, Volume: 2.0}},
	}

	res := m.Execute(domain.SideBuy, 1.0, 100, book)

	assert.InDelta(t, -500.0, res.SlippageBps, 1e-9)
	assert.InDelta(t, 500.0, res.AbsBps(), 1e-9)
	assert.False(t, m.Exceeds(res), "favorable fills never breach the threshold")
}

func TestNoiseIsDeterministicPerSeed(t *testing.T) {
	book := &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 100, Volume: 2.0}},
	}

	a := New(Config{NoiseBps: 10}, rng.New(42))
	b := New(Config{NoiseBps: 10}, rng.New(42))

	for i := 0; i < 50; i++ {
		ra := a.Execute(domain.SideBuy, 1.0, 100, book)
		rb := b.Execute(domain.SideBuy, 1.0, 100, book)
		assert.Equal(t, ra.ExecutedPrice, rb.ExecutedPrice, "noise diverged at call %d", i)
	}
}
