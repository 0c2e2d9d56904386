package clickhouse

import (
	"context"
	"fmt"

	"market-sim-lab/internal/domain"
)

// EquityTimeseriesStore mirrors per-step performance snapshots for
// cross-run analytics such as equity curve comparison.
type EquityTimeseriesStore struct {
	conn *Conn
}

// NewEquityTimeseriesStore creates a new EquityTimeseriesStore.
func NewEquityTimeseriesStore(conn *Conn) *EquityTimeseriesStore {
	return &EquityTimeseriesStore{conn: conn}
}

// InsertBulk appends a batch of snapshots.
func (s *EquityTimeseriesStore) InsertBulk(ctx context.Context, snaps []*domain.PerformanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO equity_timeseries (
			run_id, step_index, ts_ms, equity, cash, exposure, drawdown
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range snaps {
		err = batch.Append(
			p.RunID, uint64(p.StepIndex), uint64(p.TSMs),
			p.Equity, p.Cash, p.Exposure, p.Drawdown,
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

// GetByRunID retrieves all snapshots for a run, ordered by step ASC.
func (s *EquityTimeseriesStore) GetByRunID(ctx context.Context, runID string) ([]*domain.PerformanceSnapshot, error) {
	query := `
		SELECT run_id, step_index, ts_ms, equity, cash, exposure, drawdown
		FROM equity_timeseries
		WHERE run_id = ?
		ORDER BY step_index ASC
	`

	rows, err := s.conn.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots by run id: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// RunSummary is an aggregate over one run's equity curve.
type RunSummary struct {
	RunID       string
	Steps       int64
	FinalEquity float64
	PeakEquity  float64
	MaxDrawdown float64
}

// Summarize aggregates equity curves across all mirrored runs.
func (s *EquityTimeseriesStore) Summarize(ctx context.Context) ([]RunSummary, error) {
	query := `
		SELECT
			run_id,
			count(*) AS steps,
			argMax(equity, step_index) AS final_equity,
			max(equity) AS peak_equity,
			max(drawdown) AS max_drawdown
		FROM equity_timeseries
		GROUP BY run_id
		ORDER BY run_id ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("summarize equity curves: %w", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		var (
			sum   RunSummary
			steps uint64
		)
		err := rows.Scan(&sum.RunID, &steps, &sum.FinalEquity, &sum.PeakEquity, &sum.MaxDrawdown)
		if err != nil {
			return nil, fmt.Errorf("scan run summary row: %w", err)
		}
		sum.Steps = int64(steps)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run summary rows: %w", err)
	}
	return summaries, nil
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.PerformanceSnapshot, error) {
	var snaps []*domain.PerformanceSnapshot

	for rows.Next() {
		var (
			p               domain.PerformanceSnapshot
			stepIndex, tsMs uint64
		)
		err := rows.Scan(&p.RunID, &stepIndex, &tsMs, &p.Equity, &p.Cash, &p.Exposure, &p.Drawdown)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		p.StepIndex = int64(stepIndex)
		p.TSMs = int64(tsMs)
		snaps = append(snaps, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snaps, nil
}
