package clickhouse

import (
	"context"
	"fmt"

	"market-sim-lab/internal/domain"
)

// OrderTransitionStore mirrors order status history for analytics.
// Rows arrive in batches after the Postgres write succeeds; the mirror
// tolerates replays because queries aggregate rather than enumerate.
type OrderTransitionStore struct {
	conn *Conn
}

// NewOrderTransitionStore creates a new OrderTransitionStore.
func NewOrderTransitionStore(conn *Conn) *OrderTransitionStore {
	return &OrderTransitionStore{conn: conn}
}

// InsertBulk appends a batch of transitions.
func (s *OrderTransitionStore) InsertBulk(ctx context.Context, transitions []*domain.StatusTransition) error {
	if len(transitions) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO order_transitions (
			order_id, run_id, from_status, to_status, reason, valid, ts_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tr := range transitions {
		err = batch.Append(
			tr.OrderID, tr.RunID, string(tr.FromStatus), string(tr.ToStatus),
			tr.Reason, tr.Valid, uint64(tr.TSMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByReason aggregates transitions by reason within [start, end] (inclusive, ms).
func (s *OrderTransitionStore) CountByReason(ctx context.Context, runID string, start, end int64) ([]domain.ReasonCount, error) {
	query := `
		SELECT reason, count(*) AS cnt
		FROM order_transitions
		WHERE run_id = ? AND ts_ms >= ? AND ts_ms <= ?
		GROUP BY reason
		ORDER BY reason ASC
	`

	rows, err := s.conn.Query(ctx, query, runID, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("count transitions by reason: %w", err)
	}
	defer rows.Close()

	var counts []domain.ReasonCount
	for rows.Next() {
		var (
			reason string
			cnt    uint64
		)
		if err := rows.Scan(&reason, &cnt); err != nil {
			return nil, fmt.Errorf("scan reason count row: %w", err)
		}
		counts = append(counts, domain.ReasonCount{Reason: reason, Count: int64(cnt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reason count rows: %w", err)
	}
	return counts, nil
}

// InvalidCount returns how many transitions for a run were flagged invalid.
func (s *OrderTransitionStore) InvalidCount(ctx context.Context, runID string) (int64, error) {
	query := `
		SELECT count(*) FROM order_transitions
		WHERE run_id = ? AND valid = false
	`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count invalid transitions: %w", err)
	}
	return int64(count), nil
}

// GetByRunID retrieves all mirrored transitions for a run, ordered by time ASC.
func (s *OrderTransitionStore) GetByRunID(ctx context.Context, runID string) ([]*domain.StatusTransition, error) {
	query := `
		SELECT order_id, run_id, from_status, to_status, reason, valid, ts_ms
		FROM order_transitions
		WHERE run_id = ?
		ORDER BY ts_ms ASC, order_id ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions by run id: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// scanTransitions scans multiple rows.
func scanTransitions(rows chRows) ([]*domain.StatusTransition, error) {
	var transitions []*domain.StatusTransition

	for rows.Next() {
		var (
			tr       domain.StatusTransition
			from, to string
			tsMs     uint64
		)
		err := rows.Scan(&tr.OrderID, &tr.RunID, &from, &to, &tr.Reason, &tr.Valid, &tsMs)
		if err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		tr.FromStatus = domain.OrderStatus(from)
		tr.ToStatus = domain.OrderStatus(to)
		tr.TSMs = int64(tsMs)
		transitions = append(transitions, &tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transition rows: %w", err)
	}
	return transitions, nil
}
