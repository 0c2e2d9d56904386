package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
)

func TestEquityTimeseriesStoreInsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEquityTimeseriesStore(conn)
	ctx := context.Background()

	snaps := []*domain.PerformanceSnapshot{
		{RunID: "r1", StepIndex: 0, TSMs: 0, Equity: 100000, Cash: 100000, Exposure: 0, Drawdown: 0},
		{RunID: "r1", StepIndex: 1, TSMs: 1000, Equity: 101000, Cash: 51000, Exposure: 0.5, Drawdown: 0},
		{RunID: "r1", StepIndex: 2, TSMs: 2000, Equity: 99000, Cash: 51000, Exposure: 0.48, Drawdown: 0.0198},
		{RunID: "r2", StepIndex: 0, TSMs: 0, Equity: 50000, Cash: 50000, Exposure: 0, Drawdown: 0},
	}
	require.NoError(t, store.InsertBulk(ctx, snaps))

	got, err := store.GetByRunID(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, *snaps[0], *got[0])
	assert.Equal(t, *snaps[1], *got[1])
	assert.Equal(t, *snaps[2], *got[2])
}

func TestEquityTimeseriesStoreSummarize(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewEquityTimeseriesStore(conn)
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.PerformanceSnapshot{
		{RunID: "r1", StepIndex: 0, Equity: 100000},
		{RunID: "r1", StepIndex: 1, Equity: 110000, Drawdown: 0},
		{RunID: "r1", StepIndex: 2, Equity: 99000, Drawdown: 0.1},
		{RunID: "r2", StepIndex: 0, Equity: 50000},
	}))

	summaries, err := store.Summarize(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "r1", summaries[0].RunID)
	assert.Equal(t, int64(3), summaries[0].Steps)
	assert.InDelta(t, 99000, summaries[0].FinalEquity, 1e-9)
	assert.InDelta(t, 110000, summaries[0].PeakEquity, 1e-9)
	assert.InDelta(t, 0.1, summaries[0].MaxDrawdown, 1e-9)

	assert.Equal(t, "r2", summaries[1].RunID)
	assert.Equal(t, int64(1), summaries[1].Steps)
}
