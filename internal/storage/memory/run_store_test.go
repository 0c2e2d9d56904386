package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

func newRun(runID string) *domain.SimulationRun {
	return &domain.SimulationRun{
		RunID:  runID,
		Mode:   domain.RunModeBatch,
		Status: domain.RunStatusPending,
		Config: domain.RunConfig{
			Instrument:     "BTC-USD",
			QuoteCurrency:  "USD",
			InitialCapital: 10000,
			Seed:           42,
		},
		CreatedAtMs: 1000,
	}
}

func TestCreateRunDuplicate(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, newRun("r1")))
	err := store.CreateRun(ctx, newRun("r1"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestGetRunNotFound(t *testing.T) {
	store := NewRunStore()

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetRunReturnsCopy(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newRun("r1")))

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	got.Status = domain.RunStatusFailed

	again, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPending, again.Status)
}

func TestListRunsByStatusOrdering(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()

	a := newRun("a")
	a.CreatedAtMs = 2000
	b := newRun("b")
	b.CreatedAtMs = 1000
	require.NoError(t, store.CreateRun(ctx, a))
	require.NoError(t, store.CreateRun(ctx, b))

	runs, err := store.ListRunsByStatus(ctx, domain.RunStatusPending)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].RunID)
	assert.Equal(t, "a", runs[1].RunID)
}

func TestCommitCheckpointPersistsBatchAndCheckpoint(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newRun("r1")))

	batch := &domain.OutputBatch{
		Trades:  []*domain.TradeRecord{{RunID: "r1", StepIndex: 3, TradeID: "t1"}},
		Signals: []*domain.SignalRecord{{RunID: "r1", StepIndex: 3}},
	}
	cp := &domain.Checkpoint{
		LastProcessedIndex: 3,
		PersistedCounts:    domain.OutputCounts{Trades: 1, Signals: 1},
		RNGState:           []byte{1, 2, 3},
	}
	require.NoError(t, store.CommitCheckpoint(ctx, "r1", batch, cp))

	counts, err := store.CountOutputs(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Trades)
	assert.Equal(t, int64(1), counts.Signals)

	run, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, run.Checkpoint)
	assert.Equal(t, int64(3), run.Checkpoint.LastProcessedIndex)
	assert.Equal(t, []byte{1, 2, 3}, run.Checkpoint.RNGState)
}

func TestCommitResultClearsCheckpoint(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newRun("r1")))
	require.NoError(t, store.CommitCheckpoint(ctx, "r1", &domain.OutputBatch{}, &domain.Checkpoint{LastProcessedIndex: 5}))

	metrics := &domain.FinalMetrics{TotalReturn: 0.1, FinalEquity: 11000}
	require.NoError(t, store.CommitResult(ctx, "r1", &domain.OutputBatch{}, metrics))

	run, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Nil(t, run.Checkpoint, "completed run must not look resumable")
	require.NotNil(t, run.Metrics)
	assert.InDelta(t, 0.1, run.Metrics.TotalReturn, 1e-12)
}

func TestDeleteNewestRemovesExactExcess(t *testing.T) {
	// Three trades persisted but the checkpoint recorded two: exactly
	// one newest row goes, the first two stay untouched.
	store := NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newRun("r1")))

	batch := &domain.OutputBatch{
		Trades: []*domain.TradeRecord{
			{RunID: "r1", StepIndex: 1, TradeID: "t1"},
			{RunID: "r1", StepIndex: 2, TradeID: "t2"},
			{RunID: "r1", StepIndex: 3, TradeID: "t3"},
		},
	}
	require.NoError(t, store.CommitCheckpoint(ctx, "r1", batch, &domain.Checkpoint{LastProcessedIndex: 3}))

	removed, err := store.DeleteNewest(ctx, "r1", domain.OutputKindTrade, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	trades, err := store.ListTrades(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t1", trades[0].TradeID)
	assert.Equal(t, "t2", trades[1].TradeID)
}

func TestDeleteNewestCapsAtAvailable(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newRun("r1")))
	require.NoError(t, store.CommitCheckpoint(ctx, "r1", &domain.OutputBatch{
		Fills: []*domain.FillRecord{{RunID: "r1", StepIndex: 1}},
	}, &domain.Checkpoint{}))

	removed, err := store.DeleteNewest(ctx, "r1", domain.OutputKindFill, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.DeleteNewest(ctx, "r1", domain.OutputKindFill, 10)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestStatusAndFlagsUpdates(t *testing.T) {
	store := NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, newRun("r1")))

	require.NoError(t, store.UpdateStatus(ctx, "r1", domain.RunStatusRunning, "started"))
	require.NoError(t, store.SetPauseRequested(ctx, "r1", true))
	require.NoError(t, store.SetTotalSteps(ctx, "r1", 100))
	require.NoError(t, store.AppendWarning(ctx, "r1", "HIGH_SLIPPAGE"))

	run, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.Equal(t, "started", run.StatusNote)
	assert.True(t, run.PauseRequested)
	assert.Equal(t, int64(100), run.TotalSteps)
	assert.Equal(t, []string{"HIGH_SLIPPAGE"}, run.Warnings)

	assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", domain.RunStatusFailed, ""), storage.ErrNotFound)
}
