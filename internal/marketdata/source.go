// Package marketdata supplies price series and depth snapshots to the
// execution loop: stored series for batch replay, a WebSocket feed for
// paced sessions, and a synthetic depth model when no real ladder is
// available.
package marketdata

import (
	"context"
	"fmt"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// SeriesSource loads the ordered price series a run iterates over.
type SeriesSource interface {
	// Series returns ticks for the instrument within [start, end]
	// (inclusive, ms), ordered by timestamp ASC.
	Series(ctx context.Context, instrument string, start, end int64) ([]*domain.PriceTick, error)
}

// BookSource supplies a depth snapshot for execution pricing. A nil
// book with a nil error means depth is unavailable; the caller degrades
// to zero slippage rather than failing the step.
type BookSource interface {
	Book(ctx context.Context, instrument string, reference float64) (*domain.OrderBook, error)
}

// StoreSeriesSource reads the series from the price store.
type StoreSeriesSource struct {
	prices storage.PriceStore
}

// NewStoreSeriesSource creates a store-backed series source.
func NewStoreSeriesSource(prices storage.PriceStore) *StoreSeriesSource {
	return &StoreSeriesSource{prices: prices}
}

// Series loads ticks from the store.
func (s *StoreSeriesSource) Series(ctx context.Context, instrument string, start, end int64) ([]*domain.PriceTick, error) {
	ticks, err := s.prices.GetByTimeRange(ctx, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("load price series: %w", err)
	}
	return ticks, nil
}

// SyntheticBookSource models depth as a flat quote around the
// reference price: bid and ask each half the configured spread away,
// with effectively unlimited volume.
type SyntheticBookSource struct {
	SpreadBps float64
}

// NewSyntheticBookSource creates a synthetic book source.
func NewSyntheticBookSource(spreadBps float64) *SyntheticBookSource {
	return &SyntheticBookSource{SpreadBps: spreadBps}
}

// Book builds the synthetic snapshot.
func (s *SyntheticBookSource) Book(_ context.Context, _ string, reference float64) (*domain.OrderBook, error) {
	if reference <= 0 {
		return nil, nil
	}
	half := reference * s.SpreadBps / 20000
	return domain.Quote{Bid: reference - half, Ask: reference + half}.Book(), nil
}

var (
	_ SeriesSource = (*StoreSeriesSource)(nil)
	_ BookSource   = (*SyntheticBookSource)(nil)
)
