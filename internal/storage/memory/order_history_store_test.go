package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

func TestAppendAndListByOrder(t *testing.T) {
	store := NewOrderHistoryStore()
	ctx := context.Background()

	rows := []domain.StatusTransition{
		{OrderID: "o1", RunID: "r1", FromStatus: domain.OrderStatusNone, ToStatus: domain.OrderStatusNew, Reason: domain.TransitionReasonCreated, Valid: true, TSMs: 100},
		{OrderID: "o1", RunID: "r1", FromStatus: domain.OrderStatusNew, ToStatus: domain.OrderStatusFilled, Reason: domain.TransitionReasonSimulatedFill, Valid: true, TSMs: 200},
		{OrderID: "o2", RunID: "r1", FromStatus: domain.OrderStatusNone, ToStatus: domain.OrderStatusNew, Reason: domain.TransitionReasonCreated, Valid: true, TSMs: 150},
	}
	for _, tr := range rows {
		require.NoError(t, store.AppendTransition(ctx, tr))
	}

	hist, err := store.ListByOrder(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, domain.OrderStatusNew, hist[0].ToStatus)
	assert.Equal(t, domain.OrderStatusFilled, hist[1].ToStatus)
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	store := NewOrderHistoryStore()

	err := store.AppendTransition(context.Background(), domain.StatusTransition{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestListInvalid(t *testing.T) {
	store := NewOrderHistoryStore()
	ctx := context.Background()

	require.NoError(t, store.AppendTransition(ctx, domain.StatusTransition{
		OrderID: "o1", RunID: "r1", ToStatus: domain.OrderStatusFilled, Valid: true, TSMs: 100,
	}))
	require.NoError(t, store.AppendTransition(ctx, domain.StatusTransition{
		OrderID: "o1", RunID: "r1", FromStatus: domain.OrderStatusFilled, ToStatus: domain.OrderStatusNew,
		Reason: domain.TransitionReasonExchangeUpdate, Valid: false, TSMs: 200,
	}))

	invalid, err := store.ListInvalid(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, invalid, 1)
	assert.Equal(t, domain.OrderStatusNew, invalid[0].ToStatus)
}

func TestCountByReasonRange(t *testing.T) {
	store := NewOrderHistoryStore()
	ctx := context.Background()

	for i, reason := range []string{
		domain.TransitionReasonCreated,
		domain.TransitionReasonCreated,
		domain.TransitionReasonSlippageLimit,
	} {
		require.NoError(t, store.AppendTransition(ctx, domain.StatusTransition{
			OrderID: "o1", RunID: "r1", ToStatus: domain.OrderStatusNew,
			Reason: reason, TSMs: int64(100 * (i + 1)),
		}))
	}
	// Outside the queried range.
	require.NoError(t, store.AppendTransition(ctx, domain.StatusTransition{
		OrderID: "o1", RunID: "r1", ToStatus: domain.OrderStatusNew,
		Reason: domain.TransitionReasonCreated, TSMs: 9999,
	}))

	counts, err := store.CountByReason(ctx, "r1", 100, 300)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, domain.ReasonCount{Reason: domain.TransitionReasonCreated, Count: 2}, counts[0])
	assert.Equal(t, domain.ReasonCount{Reason: domain.TransitionReasonSlippageLimit, Count: 1}, counts[1])
}
