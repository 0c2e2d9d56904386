package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
)

func TestOrderTransitionStoreInsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewOrderTransitionStore(conn)
	ctx := context.Background()

	transitions := []*domain.StatusTransition{
		{
			OrderID: "o1", RunID: "r1",
			FromStatus: domain.OrderStatusNone, ToStatus: domain.OrderStatusNew,
			Reason: domain.TransitionReasonCreated, Valid: true, TSMs: 1000,
		},
		{
			OrderID: "o1", RunID: "r1",
			FromStatus: domain.OrderStatusNew, ToStatus: domain.OrderStatusFilled,
			Reason: domain.TransitionReasonSimulatedFill, Valid: true, TSMs: 1001,
		},
		{
			OrderID: "o2", RunID: "r1",
			FromStatus: domain.OrderStatusNew, ToStatus: domain.OrderStatusRejected,
			Reason: domain.TransitionReasonSlippageLimit, Valid: true, TSMs: 2000,
		},
		{
			OrderID: "o3", RunID: "other",
			FromStatus: domain.OrderStatusNone, ToStatus: domain.OrderStatusNew,
			Reason: domain.TransitionReasonCreated, Valid: false, TSMs: 1500,
		},
	}
	require.NoError(t, store.InsertBulk(ctx, transitions))

	got, err := store.GetByRunID(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "o1", got[0].OrderID)
	assert.Equal(t, domain.OrderStatusFilled, got[1].ToStatus)
	assert.Equal(t, domain.TransitionReasonSlippageLimit, got[2].Reason)

	counts, err := store.CountByReason(ctx, "r1", 0, 5000)
	require.NoError(t, err)
	byReason := map[string]int64{}
	for _, c := range counts {
		byReason[c.Reason] = c.Count
	}
	assert.Equal(t, int64(1), byReason[domain.TransitionReasonCreated])
	assert.Equal(t, int64(1), byReason[domain.TransitionReasonSimulatedFill])
	assert.Equal(t, int64(1), byReason[domain.TransitionReasonSlippageLimit])

	invalid, err := store.InvalidCount(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), invalid)

	invalid, err = store.InvalidCount(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), invalid)
}
