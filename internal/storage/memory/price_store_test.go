package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

func TestInsertBulkAndRangeQuery(t *testing.T) {
	store := NewPriceStore()
	ctx := context.Background()

	ticks := []*domain.PriceTick{
		{Instrument: "BTC-USD", TSMs: 300, Price: 3},
		{Instrument: "BTC-USD", TSMs: 100, Price: 1},
		{Instrument: "BTC-USD", TSMs: 200, Price: 2},
		{Instrument: "ETH-USD", TSMs: 150, Price: 10},
	}
	require.NoError(t, store.InsertBulk(ctx, ticks))

	got, err := store.GetByTimeRange(ctx, "BTC-USD", 100, 200)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].TSMs)
	assert.Equal(t, int64(200), got[1].TSMs)
}

func TestInsertBulkRejectsDuplicates(t *testing.T) {
	store := NewPriceStore()
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.PriceTick{
		{Instrument: "BTC-USD", TSMs: 100, Price: 1},
	}))

	err := store.InsertBulk(ctx, []*domain.PriceTick{
		{Instrument: "BTC-USD", TSMs: 200, Price: 2},
		{Instrument: "BTC-USD", TSMs: 100, Price: 9},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Failed batch must not have partially applied.
	got, err := store.GetByTimeRange(ctx, "BTC-USD", 0, 1000)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestListInstruments(t *testing.T) {
	store := NewPriceStore()
	ctx := context.Background()

	require.NoError(t, store.InsertBulk(ctx, []*domain.PriceTick{
		{Instrument: "ETH-USD", TSMs: 1, Price: 1},
		{Instrument: "BTC-USD", TSMs: 1, Price: 1},
	}))

	instruments, err := store.ListInstruments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, instruments)
}
