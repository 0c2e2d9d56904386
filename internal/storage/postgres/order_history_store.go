package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// OrderHistoryStore implements storage.OrderHistoryStore using
// PostgreSQL. The table is append-only.
type OrderHistoryStore struct {
	pool *Pool
}

// NewOrderHistoryStore creates a new OrderHistoryStore.
func NewOrderHistoryStore(pool *Pool) *OrderHistoryStore {
	return &OrderHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OrderHistoryStore = (*OrderHistoryStore)(nil)

// AppendTransition adds one transition row.
func (s *OrderHistoryStore) AppendTransition(ctx context.Context, tr domain.StatusTransition) error {
	var metadataJSON []byte
	if tr.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(tr.Metadata)
		if err != nil {
			return fmt.Errorf("marshal transition metadata: %w", err)
		}
	}

	query := `
		INSERT INTO order_status_history (
			order_id, run_id, from_status, to_status, reason, valid, metadata, ts_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.pool.Exec(ctx, query,
		tr.OrderID, tr.RunID, string(tr.FromStatus), string(tr.ToStatus),
		tr.Reason, tr.Valid, metadataJSON, tr.TSMs,
	)
	if err != nil {
		return fmt.Errorf("insert status transition: %w", err)
	}
	return nil
}

// ListByOrder retrieves the full history of an order in append order.
func (s *OrderHistoryStore) ListByOrder(ctx context.Context, orderID string) ([]*domain.StatusTransition, error) {
	query := `
		SELECT order_id, run_id, from_status, to_status, reason, valid, metadata, ts_ms
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list transitions by order: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// ListByRun retrieves all transitions for a run in append order.
func (s *OrderHistoryStore) ListByRun(ctx context.Context, runID string) ([]*domain.StatusTransition, error) {
	query := `
		SELECT order_id, run_id, from_status, to_status, reason, valid, metadata, ts_ms
		FROM order_status_history
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list transitions by run: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// ListInvalid retrieves transitions recorded with valid=false for a run.
func (s *OrderHistoryStore) ListInvalid(ctx context.Context, runID string) ([]*domain.StatusTransition, error) {
	query := `
		SELECT order_id, run_id, from_status, to_status, reason, valid, metadata, ts_ms
		FROM order_status_history
		WHERE run_id = $1 AND valid = false
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list invalid transitions: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// CountByReason aggregates transitions by reason within [start, end].
func (s *OrderHistoryStore) CountByReason(ctx context.Context, runID string, start, end int64) ([]domain.ReasonCount, error) {
	query := `
		SELECT reason, count(*)
		FROM order_status_history
		WHERE run_id = $1 AND ts_ms >= $2 AND ts_ms <= $3
		GROUP BY reason
		ORDER BY reason ASC
	`
	rows, err := s.pool.Query(ctx, query, runID, start, end)
	if err != nil {
		return nil, fmt.Errorf("count transitions by reason: %w", err)
	}
	defer rows.Close()

	var counts []domain.ReasonCount
	for rows.Next() {
		var c domain.ReasonCount
		if err := rows.Scan(&c.Reason, &c.Count); err != nil {
			return nil, fmt.Errorf("scan reason count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reason count rows: %w", err)
	}
	return counts, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanTransitions scans multiple transition rows.
func scanTransitions(rows pgxRows) ([]*domain.StatusTransition, error) {
	var transitions []*domain.StatusTransition
	for rows.Next() {
		var (
			tr           domain.StatusTransition
			from, to     string
			metadataJSON []byte
		)
		err := rows.Scan(&tr.OrderID, &tr.RunID, &from, &to, &tr.Reason, &tr.Valid, &metadataJSON, &tr.TSMs)
		if err != nil {
			return nil, fmt.Errorf("scan status transition row: %w", err)
		}
		tr.FromStatus = domain.OrderStatus(from)
		tr.ToStatus = domain.OrderStatus(to)
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &tr.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal transition metadata: %w", err)
			}
		}
		transitions = append(transitions, &tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status transition rows: %w", err)
	}
	return transitions, nil
}
