package memory

import (
	"context"
	"sort"
	"sync"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

type tickKey struct {
	instrument string
	tsMs       int64
}

// PriceStore is an in-memory implementation of storage.PriceStore.
type PriceStore struct {
	mu   sync.RWMutex
	data map[tickKey]*domain.PriceTick
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		data: make(map[tickKey]*domain.PriceTick),
	}
}

// InsertBulk adds multiple ticks. Fails entire batch on duplicate (instrument, timestamp_ms).
func (s *PriceStore) InsertBulk(_ context.Context, ticks []*domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[tickKey]struct{}, len(ticks))
	for _, t := range ticks {
		if t == nil || t.Instrument == "" {
			return storage.ErrInvalidInput
		}
		key := tickKey{t.Instrument, t.TSMs}
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, t := range ticks {
		copy := *t
		s.data[tickKey{t.Instrument, t.TSMs}] = &copy
	}
	return nil
}

// GetByTimeRange retrieves ticks for an instrument within [start, end] (inclusive), ordered by timestamp ASC.
func (s *PriceStore) GetByTimeRange(_ context.Context, instrument string, start, end int64) ([]*domain.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceTick
	for key, t := range s.data {
		if key.instrument == instrument && key.tsMs >= start && key.tsMs <= end {
			copy := *t
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TSMs < result[j].TSMs
	})
	return result, nil
}

// ListInstruments retrieves the distinct instruments present.
func (s *PriceStore) ListInstruments(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range s.data {
		seen[key.instrument] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for inst := range seen {
		result = append(result, inst)
	}
	sort.Strings(result)
	return result, nil
}

var _ storage.PriceStore = (*PriceStore)(nil)
