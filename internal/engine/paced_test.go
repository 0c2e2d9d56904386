package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage/memory"
)

func pacedConfig() domain.RunConfig {
	cfg := baseConfig()
	cfg.StrategyParams = map[string]float64{"buy_step": 3, "sell_step": 8, "quantity": 0.5}
	cfg.FeeRate = 0.001
	cfg.SlippageNoiseBps = 10
	cfg.CheckpointEvery = 4
	cfg.HeartbeatEvery = 1
	return cfg
}

func seedRisingSeries(t *testing.T, prices *memory.PriceStore, n int) {
	t.Helper()
	ticks := make([]*domain.PriceTick, n)
	for i := range ticks {
		ticks[i] = &domain.PriceTick{
			Instrument: "BTC-USD",
			TSMs:       int64(i * 60000),
			Price:      100 + float64(i)*2,
		}
	}
	require.NoError(t, prices.InsertBulk(context.Background(), ticks))
}

func TestPausedRunResumesToIdenticalResult(t *testing.T) {
	// A run paused at step 5 and resumed must produce the same rows
	// and the same final metrics as the run that never paused.
	ctx := context.Background()

	// Uninterrupted reference run.
	ref := newFixture(t, nil, &fakeSleeper{})
	seedRisingSeries(t, ref.prices, 10)
	ref.createRun(t, "r1", domain.RunModePaced, pacedConfig())
	require.NoError(t, ref.engine.Run(ctx, "r1"))

	// Interrupted run: the pause flag goes up while step 4's pacing
	// sleep runs, so the step-5 heartbeat observes it.
	f := newFixture(t, nil, nil)
	seedRisingSeries(t, f.prices, 10)
	f.createRun(t, "r1", domain.RunModePaced, pacedConfig())
	f.engine.sleeper = &fakeSleeper{onSleep: func(call int) {
		if call == 5 {
			require.NoError(t, f.runs.SetPauseRequested(ctx, "r1", true))
		}
	}}

	require.NoError(t, f.engine.Run(ctx, "r1"))

	run, err := f.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, run.Status)
	require.NotNil(t, run.Checkpoint)
	assert.Equal(t, int64(5), run.Checkpoint.LastProcessedIndex)
	assert.False(t, run.PauseRequested, "pause flag clears once honored")

	// Resume and finish.
	f.engine.sleeper = &fakeSleeper{}
	require.NoError(t, f.engine.Run(ctx, "r1"))

	run, err = f.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Nil(t, run.Checkpoint)

	refRun, err := ref.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, refRun.Metrics)
	require.NotNil(t, run.Metrics)
	assert.Equal(t, *refRun.Metrics, *run.Metrics)

	refTrades, _ := ref.runs.ListTrades(ctx, "r1")
	trades, _ := f.runs.ListTrades(ctx, "r1")
	assert.Equal(t, refTrades, trades)

	refFills, _ := ref.runs.ListFills(ctx, "r1")
	fills, _ := f.runs.ListFills(ctx, "r1")
	assert.Equal(t, refFills, fills)

	refSignals, _ := ref.runs.ListSignals(ctx, "r1")
	signals, _ := f.runs.ListSignals(ctx, "r1")
	assert.Equal(t, refSignals, signals)

	refSnaps, _ := ref.runs.ListSnapshots(ctx, "r1")
	snaps, _ := f.runs.ListSnapshots(ctx, "r1")
	assert.Equal(t, refSnaps, snaps)
}

func TestPauseHonoredAtEveryBoundaryWithoutHeartbeat(t *testing.T) {
	// The pause flag is independent of the heartbeat cadence: with no
	// heartbeat configured at all, a pause requested during step 2's
	// pacing sleep still parks the run at the next boundary.
	ctx := context.Background()

	f := newFixture(t, nil, nil)
	seedRisingSeries(t, f.prices, 10)
	cfg := pacedConfig()
	cfg.HeartbeatEvery = 0
	f.createRun(t, "r1", domain.RunModePaced, cfg)
	f.engine.sleeper = &fakeSleeper{onSleep: func(call int) {
		if call == 2 {
			require.NoError(t, f.runs.SetPauseRequested(ctx, "r1", true))
		}
	}}

	require.NoError(t, f.engine.Run(ctx, "r1"))

	run, err := f.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, run.Status)
	require.NotNil(t, run.Checkpoint)
	assert.Equal(t, int64(2), run.Checkpoint.LastProcessedIndex)
	assert.False(t, run.PauseRequested)
}

func TestBatchAndPacedProduceSameNumbers(t *testing.T) {
	// Mode changes pacing only. The rows a run produces are identical
	// either way.
	ctx := context.Background()

	batch := newFixture(t, nil, nil)
	seedRisingSeries(t, batch.prices, 10)
	batchCfg := pacedConfig()
	batchCfg.HeartbeatEvery = 0
	batch.createRun(t, "r1", domain.RunModeBatch, batchCfg)
	require.NoError(t, batch.engine.Run(ctx, "r1"))

	paced := newFixture(t, nil, &fakeSleeper{})
	seedRisingSeries(t, paced.prices, 10)
	paced.createRun(t, "r1", domain.RunModePaced, pacedConfig())
	require.NoError(t, paced.engine.Run(ctx, "r1"))

	batchTrades, _ := batch.runs.ListTrades(ctx, "r1")
	pacedTrades, _ := paced.runs.ListTrades(ctx, "r1")
	assert.Equal(t, batchTrades, pacedTrades)

	batchSnaps, _ := batch.runs.ListSnapshots(ctx, "r1")
	pacedSnaps, _ := paced.runs.ListSnapshots(ctx, "r1")
	assert.Equal(t, batchSnaps, pacedSnaps)
}

func TestContextCancellationStopsPacedRun(t *testing.T) {
	runCtx, cancel := context.WithCancel(context.Background())

	f := newFixture(t, nil, nil)
	seedRisingSeries(t, f.prices, 10)
	f.createRun(t, "r1", domain.RunModePaced, pacedConfig())
	f.engine.sleeper = &fakeSleeper{onSleep: func(call int) {
		if call == 3 {
			cancel()
		}
	}}

	err := f.engine.Run(runCtx, "r1")
	assert.ErrorIs(t, err, context.Canceled)

	run, getErr := f.runs.GetRun(context.Background(), "r1")
	require.NoError(t, getErr)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	require.NotNil(t, run.Checkpoint)
	assert.Equal(t, int64(2), run.Checkpoint.LastProcessedIndex)
}

func TestHeartbeatObservesExternalCancellation(t *testing.T) {
	// An operator cancels the run in storage; the worker notices at
	// the next heartbeat and stops cleanly without an error.
	ctx := context.Background()

	f := newFixture(t, nil, nil)
	seedRisingSeries(t, f.prices, 10)
	f.createRun(t, "r1", domain.RunModePaced, pacedConfig())
	f.engine.sleeper = &fakeSleeper{onSleep: func(call int) {
		if call == 4 {
			require.NoError(t, f.runs.UpdateStatus(ctx, "r1", domain.RunStatusCancelled, "operator cancel"))
		}
	}}

	require.NoError(t, f.engine.Run(ctx, "r1"))

	run, err := f.runs.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, run.Status)
	require.NotNil(t, run.Checkpoint)
	assert.Equal(t, int64(4), run.Checkpoint.LastProcessedIndex)

	snaps, err := f.runs.ListSnapshots(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, snaps, 5, "work up to the abort boundary is durable")
}
