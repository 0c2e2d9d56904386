package memory

import (
	"context"
	"sort"
	"sync"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// OrderHistoryStore is an in-memory implementation of storage.OrderHistoryStore.
type OrderHistoryStore struct {
	mu   sync.RWMutex
	rows []*domain.StatusTransition // append order is time order
}

// NewOrderHistoryStore creates a new in-memory order history store.
func NewOrderHistoryStore() *OrderHistoryStore {
	return &OrderHistoryStore{}
}

// AppendTransition adds one transition row.
func (s *OrderHistoryStore) AppendTransition(_ context.Context, tr domain.StatusTransition) error {
	if tr.OrderID == "" || tr.ToStatus == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := tr
	if tr.Metadata != nil {
		copy.Metadata = make(map[string]string, len(tr.Metadata))
		for k, v := range tr.Metadata {
			copy.Metadata[k] = v
		}
	}
	s.rows = append(s.rows, &copy)
	return nil
}

// ListByOrder retrieves the full history of an order, ordered by time ASC.
func (s *OrderHistoryStore) ListByOrder(_ context.Context, orderID string) ([]*domain.StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StatusTransition
	for _, tr := range s.rows {
		if tr.OrderID == orderID {
			copy := *tr
			result = append(result, &copy)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TSMs < result[j].TSMs
	})
	return result, nil
}

// ListByRun retrieves all transitions for a run in append order.
func (s *OrderHistoryStore) ListByRun(_ context.Context, runID string) ([]*domain.StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StatusTransition
	for _, tr := range s.rows {
		if tr.RunID == runID {
			copy := *tr
			result = append(result, &copy)
		}
	}
	return result, nil
}

// ListInvalid retrieves transitions recorded with Valid=false for a run.
func (s *OrderHistoryStore) ListInvalid(_ context.Context, runID string) ([]*domain.StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StatusTransition
	for _, tr := range s.rows {
		if tr.RunID == runID && !tr.Valid {
			copy := *tr
			result = append(result, &copy)
		}
	}
	return result, nil
}

// CountByReason aggregates transitions by reason within [start, end] (inclusive, ms).
func (s *OrderHistoryStore) CountByReason(_ context.Context, runID string, start, end int64) ([]domain.ReasonCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, tr := range s.rows {
		if tr.RunID == runID && tr.TSMs >= start && tr.TSMs <= end {
			counts[tr.Reason]++
		}
	}

	result := make([]domain.ReasonCount, 0, len(counts))
	for reason, n := range counts {
		result = append(result, domain.ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Reason < result[j].Reason
	})
	return result, nil
}

var _ storage.OrderHistoryStore = (*OrderHistoryStore)(nil)
