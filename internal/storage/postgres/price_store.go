package postgres

import (
	"context"
	"fmt"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// InsertBulk adds multiple ticks atomically. Fails the entire batch on
// duplicate (instrument, timestamp_ms).
func (s *PriceStore) InsertBulk(ctx context.Context, ticks []*domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO price_ticks (instrument, ts_ms, price)
		VALUES ($1, $2, $3)
	`
	for _, tick := range ticks {
		if _, err := tx.Exec(ctx, query, tick.Instrument, tick.TSMs, tick.Price); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert price tick: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves ticks within [start, end], ordered by timestamp ASC.
func (s *PriceStore) GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.PriceTick, error) {
	query := `
		SELECT instrument, ts_ms, price
		FROM price_ticks
		WHERE instrument = $1 AND ts_ms >= $2 AND ts_ms <= $3
		ORDER BY ts_ms ASC
	`
	rows, err := s.pool.Query(ctx, query, instrument, start, end)
	if err != nil {
		return nil, fmt.Errorf("get ticks by time range: %w", err)
	}
	defer rows.Close()

	var ticks []*domain.PriceTick
	for rows.Next() {
		var t domain.PriceTick
		if err := rows.Scan(&t.Instrument, &t.TSMs, &t.Price); err != nil {
			return nil, fmt.Errorf("scan price tick row: %w", err)
		}
		ticks = append(ticks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price tick rows: %w", err)
	}
	return ticks, nil
}

// ListInstruments retrieves the distinct instruments present.
func (s *PriceStore) ListInstruments(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT instrument FROM price_ticks ORDER BY instrument ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	var instruments []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan instrument row: %w", err)
		}
		instruments = append(instruments, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instrument rows: %w", err)
	}
	return instruments, nil
}
