package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/storage/memory"
)

type fixture struct {
	runs    *memory.RunStore
	history *memory.OrderHistoryStore
	prices  *memory.PriceStore
	engine  *Engine
}

type fakeSleeper struct {
	calls   int
	onSleep func(call int)
}

func (s *fakeSleeper) Sleep(ctx context.Context, _ time.Duration) error {
	s.calls++
	if s.onSleep != nil {
		s.onSleep(s.calls)
	}
	return ctx.Err()
}

type fixedBookSource struct {
	book *domain.OrderBook
}

func (f *fixedBookSource) Book(context.Context, string, float64) (*domain.OrderBook, error) {
	return f.book, nil
}

func newFixture(t *testing.T, books marketdata.BookSource, sleeper Sleeper) *fixture {
	t.Helper()
	runs := memory.NewRunStore()
	history := memory.NewOrderHistoryStore()
	prices := memory.NewPriceStore()

	eng := New(Deps{
		Runs:    runs,
		History: history,
		Series:  marketdata.NewStoreSeriesSource(prices),
		Books:   books,
		Sleeper: sleeper,
	})
	return &fixture{runs: runs, history: history, prices: prices, engine: eng}
}

func (f *fixture) seedFlatSeries(t *testing.T, n int, price float64) {
	t.Helper()
	ticks := make([]*domain.PriceTick, n)
	for i := range ticks {
		ticks[i] = &domain.PriceTick{Instrument: "BTC-USD", TSMs: int64(i * 1000), Price: price}
	}
	require.NoError(t, f.prices.InsertBulk(context.Background(), ticks))
}

func (f *fixture) createRun(t *testing.T, runID string, mode domain.RunMode, cfg domain.RunConfig) {
	t.Helper()
	require.NoError(t, f.runs.CreateRun(context.Background(), &domain.SimulationRun{
		RunID:  runID,
		Mode:   mode,
		Status: domain.RunStatusPending,
		Config: cfg,
	}))
}

func baseConfig() domain.RunConfig {
	return domain.RunConfig{
		Instrument:     "BTC-USD",
		QuoteCurrency:  "USD",
		StartTS:        0,
		EndTS:          1 << 40,
		TickIntervalMs: 1,
		InitialCapital: 100000,
		Seed:           42,
		StrategyID:     "STEP_TRIGGER",
		StrategyParams: map[string]float64{"buy_step": 3, "quantity": 0.5},
	}
}

func TestBatchRunEndToEnd(t *testing.T) {
	// Ten steps, one buy at step 3: one signal, one fill, one trade,
	// a snapshot per step, and a COMPLETED run with cleared checkpoint.
	f := newFixture(t, nil, nil)
	f.seedFlatSeries(t, 10, 100)
	f.createRun(t, "r1", domain.RunModeBatch, baseConfig())
	ctx := context.Background()

	require.NoError(t, f.engine.Run(ctx, "r1"))

	run, err := f.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Nil(t, run.Checkpoint)
	assert.Equal(t, int64(10), run.TotalSteps)
	require.NotNil(t, run.Metrics)

	signals, _ := f.runs.ListSignals(ctx, "r1")
	fills, _ := f.runs.ListFills(ctx, "r1")
	trades, _ := f.runs.ListTrades(ctx, "r1")
	snaps, _ := f.runs.ListSnapshots(ctx, "r1")

	require.Len(t, signals, 1)
	assert.Equal(t, int64(3), signals[0].StepIndex)
	require.Len(t, fills, 1)
	require.Len(t, trades, 1)
	assert.Len(t, snaps, 10)

	// Flat prices, no fees, no noise: equity stays at initial capital.
	assert.InDelta(t, 100000, run.Metrics.FinalEquity, 1e-6)
	assert.InDelta(t, 0, run.Metrics.TotalReturn, 1e-9)

	// The order's audit trail: created, then filled.
	hist, err := f.history.ListByOrder(context.Background(), fills[0].OrderID)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, domain.OrderStatusNew, hist[0].ToStatus)
	assert.Equal(t, domain.OrderStatusFilled, hist[1].ToStatus)
	assert.True(t, hist[0].Valid)
	assert.True(t, hist[1].Valid)
	assert.Equal(t, int64(3000), hist[0].TSMs, "transitions carry the tick timestamp, not wall clock")
	assert.Equal(t, int64(3000), hist[1].TSMs)
}

func TestSameSeedProducesIdenticalOutputs(t *testing.T) {
	cfg := baseConfig()
	cfg.SlippageNoiseBps = 25

	run := func(runID string) []*domain.FillRecord {
		f := newFixture(t, nil, nil)
		f.seedFlatSeries(t, 10, 100)
		f.createRun(t, runID, domain.RunModeBatch, cfg)
		require.NoError(t, f.engine.Run(context.Background(), runID))
		fills, err := f.runs.ListFills(context.Background(), runID)
		require.NoError(t, err)
		return fills
	}

	a := run("a")
	b := run("a") // same run ID so order IDs match too

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ExecutedPrice, b[i].ExecutedPrice, "fill %d diverged", i)
		assert.Equal(t, a[i].SlippageBps, b[i].SlippageBps, "fill %d diverged", i)
	}
}

func TestSlippageLimitRejectsOrder(t *testing.T) {
	// The only ask is 2% above reference while the limit is 100 bps:
	// the order must reject with SLIPPAGE_LIMIT and leave no trade.
	cfg := baseConfig()
	cfg.MaxSlippageBps = 100

	books := &fixedBookSource{book: &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 102, Volume: 10}},
	}}
	f := newFixture(t, books, nil)
	f.seedFlatSeries(t, 10, 100)
	f.createRun(t, "r1", domain.RunModeBatch, cfg)
	ctx := context.Background()

	require.NoError(t, f.engine.Run(ctx, "r1"))

	trades, _ := f.runs.ListTrades(ctx, "r1")
	fills, _ := f.runs.ListFills(ctx, "r1")
	signals, _ := f.runs.ListSignals(ctx, "r1")
	assert.Empty(t, trades)
	assert.Empty(t, fills)
	assert.Len(t, signals, 1, "the signal is recorded even when the order rejects")

	counts, err := f.history.CountByReason(ctx, "r1", 0, 1<<40)
	require.NoError(t, err)
	reasons := map[string]int64{}
	for _, c := range counts {
		reasons[c.Reason] = c.Count
	}
	assert.Equal(t, int64(1), reasons[domain.TransitionReasonSlippageLimit])

	run, err := f.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status, "a rejected order never fails the run")
}

func TestInsufficientBalanceRejectsOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialCapital = 10 // cannot afford 0.5 BTC at 100

	f := newFixture(t, nil, nil)
	f.seedFlatSeries(t, 10, 100)
	f.createRun(t, "r1", domain.RunModeBatch, cfg)
	ctx := context.Background()

	require.NoError(t, f.engine.Run(ctx, "r1"))

	trades, _ := f.runs.ListTrades(ctx, "r1")
	assert.Empty(t, trades)

	counts, err := f.history.CountByReason(ctx, "r1", 0, 1<<40)
	require.NoError(t, err)
	found := false
	for _, c := range counts {
		if c.Reason == domain.TransitionReasonInsufficient {
			found = true
			assert.Equal(t, int64(1), c.Count)
		}
	}
	assert.True(t, found)
}

func TestHighSlippageWarnsAndProceeds(t *testing.T) {
	cfg := baseConfig()
	cfg.WarnSlippageBps = 50 // 102 ask is ~200 bps

	books := &fixedBookSource{book: &domain.OrderBook{
		Asks: []domain.BookLevel{{Price: 102, Volume: 10}},
		Bids: []domain.BookLevel{{Price: 98, Volume: 10}},
	}}
	f := newFixture(t, books, nil)
	f.seedFlatSeries(t, 10, 100)
	f.createRun(t, "r1", domain.RunModeBatch, cfg)
	ctx := context.Background()

	require.NoError(t, f.engine.Run(ctx, "r1"))

	fills, _ := f.runs.ListFills(ctx, "r1")
	require.Len(t, fills, 1, "warn threshold proceeds with the fill")

	run, err := f.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Contains(t, run.Warnings, "HIGH_SLIPPAGE")
}

func TestEmptySeriesFailsRun(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.createRun(t, "r1", domain.RunModeBatch, baseConfig())
	ctx := context.Background()

	err := f.engine.Run(ctx, "r1")
	require.Error(t, err)

	run, getErr := f.runs.GetRun(ctx, "r1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.NotEmpty(t, run.StatusNote)
}

func TestTerminalRunIsNotRunnable(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.seedFlatSeries(t, 10, 100)
	f.createRun(t, "r1", domain.RunModeBatch, baseConfig())
	ctx := context.Background()

	require.NoError(t, f.engine.Run(ctx, "r1"))

	err := f.engine.Run(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotRunnable)
}
