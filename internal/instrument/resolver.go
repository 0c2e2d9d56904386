// Package instrument validates run instruments against the stored
// price data before the engine starts iterating.
package instrument

import (
	"context"
	"errors"
	"fmt"

	"market-sim-lab/internal/storage"
)

// ErrUnknownInstrument is returned when no price data exists for the
// requested symbol.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Coverage warning flags.
const (
	WarnSparseSeries   = "SPARSE_SERIES"
	WarnRangeTruncated = "RANGE_TRUNCATED"
)

// Coverage describes how well the stored series covers a requested
// range.
type Coverage struct {
	Instrument string
	Ticks      int
	FirstTSMs  int64
	LastTSMs   int64
	Warnings   []string
}

// Resolver checks instruments and range coverage against the price
// store.
type Resolver struct {
	prices storage.PriceStore
}

// NewResolver creates a resolver.
func NewResolver(prices storage.PriceStore) *Resolver {
	return &Resolver{prices: prices}
}

// Resolve verifies the instrument exists and reports coverage of
// [start, end]. A known instrument with thin or truncated coverage
// resolves successfully with warning flags; only a symbol with no data
// at all fails.
func (r *Resolver) Resolve(ctx context.Context, symbol string, start, end, intervalMs int64) (Coverage, error) {
	cov := Coverage{Instrument: symbol}

	known, err := r.prices.ListInstruments(ctx)
	if err != nil {
		return cov, fmt.Errorf("list instruments: %w", err)
	}
	found := false
	for _, inst := range known {
		if inst == symbol {
			found = true
			break
		}
	}
	if !found {
		return cov, fmt.Errorf("%w: %s", ErrUnknownInstrument, symbol)
	}

	ticks, err := r.prices.GetByTimeRange(ctx, symbol, start, end)
	if err != nil {
		return cov, fmt.Errorf("coverage query: %w", err)
	}
	cov.Ticks = len(ticks)
	if len(ticks) == 0 {
		cov.Warnings = append(cov.Warnings, WarnRangeTruncated)
		return cov, nil
	}

	cov.FirstTSMs = ticks[0].TSMs
	cov.LastTSMs = ticks[len(ticks)-1].TSMs

	if cov.FirstTSMs > start || cov.LastTSMs < end {
		cov.Warnings = append(cov.Warnings, WarnRangeTruncated)
	}
	if intervalMs > 0 {
		expected := (end-start)/intervalMs + 1
		// Below half the expected density the series is too thin to
		// trust pacing or annualization.
		if int64(len(ticks))*2 < expected {
			cov.Warnings = append(cov.Warnings, WarnSparseSeries)
		}
	}
	return cov, nil
}
