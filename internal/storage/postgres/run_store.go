package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// RunStore implements storage.RunStore using PostgreSQL.
//
// Output rows live in four append-only tables keyed by run_id with a
// bigserial id preserving append order. CommitCheckpoint and
// CommitResult write rows and run state inside one transaction.
type RunStore struct {
	pool *Pool
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RunStore = (*RunStore)(nil)

// outputTables maps each output kind to its table.
var outputTables = map[domain.OutputKind]string{
	domain.OutputKindTrade:    "run_trades",
	domain.OutputKindSignal:   "run_signals",
	domain.OutputKindFill:     "run_fills",
	domain.OutputKindSnapshot: "run_snapshots",
}

// CreateRun adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) CreateRun(ctx context.Context, run *domain.SimulationRun) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal run config: %w", err)
	}
	checkpointJSON, err := marshalNullable(run.Checkpoint)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	metricsJSON, err := marshalNullable(run.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	warningsJSON, err := json.Marshal(warningsOrEmpty(run.Warnings))
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	query := `
		INSERT INTO simulation_runs (
			run_id, mode, status, status_note, config, checkpoint,
			pause_requested, total_steps, warnings, metrics,
			created_at_ms, updated_at_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.pool.Exec(ctx, query,
		run.RunID, string(run.Mode), string(run.Status), run.StatusNote,
		configJSON, checkpointJSON, run.PauseRequested, run.TotalSteps,
		warningsJSON, metricsJSON, run.CreatedAtMs, run.UpdatedAtMs,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert simulation run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.SimulationRun, error) {
	query := `
		SELECT run_id, mode, status, status_note, config, checkpoint,
		       pause_requested, total_steps, warnings, metrics,
		       created_at_ms, updated_at_ms
		FROM simulation_runs
		WHERE run_id = $1
	`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get simulation run: %w", err)
	}
	return run, nil
}

// ListRunsByStatus retrieves all runs in a status, ordered by created_at ASC.
func (s *RunStore) ListRunsByStatus(ctx context.Context, status domain.RunStatus) ([]*domain.SimulationRun, error) {
	query := `
		SELECT run_id, mode, status, status_note, config, checkpoint,
		       pause_requested, total_steps, warnings, metrics,
		       created_at_ms, updated_at_ms
		FROM simulation_runs
		WHERE status = $1
		ORDER BY created_at_ms ASC, run_id ASC
	`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list runs by status: %w", err)
	}
	defer rows.Close()

	var runs []*domain.SimulationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan simulation run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate simulation run rows: %w", err)
	}
	return runs, nil
}

// UpdateStatus sets the run status and status note.
func (s *RunStore) UpdateStatus(ctx context.Context, runID string, status domain.RunStatus, note string) error {
	query := `
		UPDATE simulation_runs
		SET status = $2, status_note = $3, updated_at_ms = now_ms()
		WHERE run_id = $1
	`
	return s.execOne(ctx, query, runID, string(status), note)
}

// SetPauseRequested sets the cooperative pause flag.
func (s *RunStore) SetPauseRequested(ctx context.Context, runID string, requested bool) error {
	query := `
		UPDATE simulation_runs
		SET pause_requested = $2, updated_at_ms = now_ms()
		WHERE run_id = $1
	`
	return s.execOne(ctx, query, runID, requested)
}

// SetTotalSteps records the step count.
func (s *RunStore) SetTotalSteps(ctx context.Context, runID string, total int64) error {
	query := `
		UPDATE simulation_runs
		SET total_steps = $2, updated_at_ms = now_ms()
		WHERE run_id = $1
	`
	return s.execOne(ctx, query, runID, total)
}

// AppendWarning adds a warning flag to the run.
func (s *RunStore) AppendWarning(ctx context.Context, runID string, warning string) error {
	query := `
		UPDATE simulation_runs
		SET warnings = warnings || to_jsonb($2::text), updated_at_ms = now_ms()
		WHERE run_id = $1
	`
	return s.execOne(ctx, query, runID, warning)
}

// CommitCheckpoint atomically persists the output batch and the checkpoint.
func (s *RunStore) CommitCheckpoint(ctx context.Context, runID string, batch *domain.OutputBatch, cp *domain.Checkpoint) error {
	checkpointJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertBatch(ctx, tx, runID, batch); err != nil {
		return err
	}

	query := `
		UPDATE simulation_runs
		SET checkpoint = $2, updated_at_ms = now_ms()
		WHERE run_id = $1
	`
	tag, err := tx.Exec(ctx, query, runID, checkpointJSON)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return nil
}

// CommitResult atomically persists the final batch, metrics, COMPLETED
// status and the checkpoint clear.
func (s *RunStore) CommitResult(ctx context.Context, runID string, batch *domain.OutputBatch, metrics *domain.FinalMetrics) error {
	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertBatch(ctx, tx, runID, batch); err != nil {
		return err
	}

	query := `
		UPDATE simulation_runs
		SET status = $2, status_note = $3, metrics = $4, checkpoint = NULL,
		    updated_at_ms = now_ms()
		WHERE run_id = $1
	`
	tag, err := tx.Exec(ctx, query, runID,
		string(domain.RunStatusCompleted), "completed", metricsJSON)
	if err != nil {
		return fmt.Errorf("update final result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit result tx: %w", err)
	}
	return nil
}

// CountOutputs returns persisted row counts per output kind.
func (s *RunStore) CountOutputs(ctx context.Context, runID string) (domain.OutputCounts, error) {
	var counts domain.OutputCounts
	for _, kind := range domain.OutputKinds {
		query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE run_id = $1`, outputTables[kind])
		var n int64
		if err := s.pool.QueryRow(ctx, query, runID).Scan(&n); err != nil {
			return domain.OutputCounts{}, fmt.Errorf("count %s rows: %w", outputTables[kind], err)
		}
		counts.Add(kind, n)
	}
	return counts, nil
}

// DeleteNewest removes up to n newest rows of a kind and returns how
// many were removed. Newest means highest append id.
func (s *RunStore) DeleteNewest(ctx context.Context, runID string, kind domain.OutputKind, n int64) (int64, error) {
	table, ok := outputTables[kind]
	if !ok {
		return 0, fmt.Errorf("%w: unknown output kind %q", storage.ErrInvalidInput, kind)
	}
	if n <= 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE id IN (
			SELECT id FROM %s WHERE run_id = $1 ORDER BY id DESC LIMIT $2
		)
	`, table, table)
	tag, err := s.pool.Exec(ctx, query, runID, n)
	if err != nil {
		return 0, fmt.Errorf("delete newest %s rows: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

// ListTrades retrieves all trades for a run in append order.
func (s *RunStore) ListTrades(ctx context.Context, runID string) ([]*domain.TradeRecord, error) {
	query := `
		SELECT run_id, step_index, trade_id, order_id, instrument, side,
		       quantity, price, notional, fee, cash_after, ts_ms
		FROM run_trades
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		err := rows.Scan(
			&t.RunID, &t.StepIndex, &t.TradeID, &t.OrderID, &t.Instrument, &t.Side,
			&t.Quantity, &t.Price, &t.Notional, &t.Fee, &t.CashAfter, &t.TSMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return trades, nil
}

// ListSignals retrieves all signals for a run in append order.
func (s *RunStore) ListSignals(ctx context.Context, runID string) ([]*domain.SignalRecord, error) {
	query := `
		SELECT run_id, step_index, instrument, side, quantity, price, reason, ts_ms
		FROM run_signals
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var signals []*domain.SignalRecord
	for rows.Next() {
		var r domain.SignalRecord
		err := rows.Scan(
			&r.RunID, &r.StepIndex, &r.Instrument, &r.Side,
			&r.Quantity, &r.Price, &r.Reason, &r.TSMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan signal row: %w", err)
		}
		signals = append(signals, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signal rows: %w", err)
	}
	return signals, nil
}

// ListFills retrieves all fills for a run in append order.
func (s *RunStore) ListFills(ctx context.Context, runID string) ([]*domain.FillRecord, error) {
	query := `
		SELECT run_id, step_index, order_id, instrument, side, quantity,
		       requested_price, executed_price, slippage_bps, fee, ts_ms
		FROM run_fills
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list fills: %w", err)
	}
	defer rows.Close()

	var fills []*domain.FillRecord
	for rows.Next() {
		var f domain.FillRecord
		err := rows.Scan(
			&f.RunID, &f.StepIndex, &f.OrderID, &f.Instrument, &f.Side, &f.Quantity,
			&f.RequestedPrice, &f.ExecutedPrice, &f.SlippageBps, &f.Fee, &f.TSMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan fill row: %w", err)
		}
		fills = append(fills, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill rows: %w", err)
	}
	return fills, nil
}

// ListSnapshots retrieves all snapshots for a run in append order.
func (s *RunStore) ListSnapshots(ctx context.Context, runID string) ([]*domain.PerformanceSnapshot, error) {
	query := `
		SELECT run_id, step_index, equity, cash, exposure, drawdown, ts_ms
		FROM run_snapshots
		WHERE run_id = $1
		ORDER BY id ASC
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*domain.PerformanceSnapshot
	for rows.Next() {
		var p domain.PerformanceSnapshot
		err := rows.Scan(
			&p.RunID, &p.StepIndex, &p.Equity, &p.Cash, &p.Exposure, &p.Drawdown, &p.TSMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snaps = append(snaps, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return snaps, nil
}

// insertBatch writes all batch rows inside the caller's transaction.
func insertBatch(ctx context.Context, tx pgx.Tx, runID string, batch *domain.OutputBatch) error {
	if batch.Empty() {
		return nil
	}

	for _, t := range batch.Trades {
		_, err := tx.Exec(ctx, `
			INSERT INTO run_trades (
				run_id, step_index, trade_id, order_id, instrument, side,
				quantity, price, notional, fee, cash_after, ts_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, runID, t.StepIndex, t.TradeID, t.OrderID, t.Instrument, string(t.Side),
			t.Quantity, t.Price, t.Notional, t.Fee, t.CashAfter, t.TSMs)
		if err != nil {
			return fmt.Errorf("insert trade row: %w", err)
		}
	}

	for _, r := range batch.Signals {
		_, err := tx.Exec(ctx, `
			INSERT INTO run_signals (
				run_id, step_index, instrument, side, quantity, price, reason, ts_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, runID, r.StepIndex, r.Instrument, string(r.Side), r.Quantity, r.Price, r.Reason, r.TSMs)
		if err != nil {
			return fmt.Errorf("insert signal row: %w", err)
		}
	}

	for _, f := range batch.Fills {
		_, err := tx.Exec(ctx, `
			INSERT INTO run_fills (
				run_id, step_index, order_id, instrument, side, quantity,
				requested_price, executed_price, slippage_bps, fee, ts_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, runID, f.StepIndex, f.OrderID, f.Instrument, string(f.Side), f.Quantity,
			f.RequestedPrice, f.ExecutedPrice, f.SlippageBps, f.Fee, f.TSMs)
		if err != nil {
			return fmt.Errorf("insert fill row: %w", err)
		}
	}

	for _, p := range batch.Snapshots {
		_, err := tx.Exec(ctx, `
			INSERT INTO run_snapshots (
				run_id, step_index, equity, cash, exposure, drawdown, ts_ms
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, runID, p.StepIndex, p.Equity, p.Cash, p.Exposure, p.Drawdown, p.TSMs)
		if err != nil {
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}

	return nil
}

// execOne runs an update expected to touch exactly one run.
func (s *RunStore) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update simulation run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanRun scans one simulation_runs row.
func scanRun(row pgx.Row) (*domain.SimulationRun, error) {
	var (
		run            domain.SimulationRun
		mode, status   string
		configJSON     []byte
		checkpointJSON []byte
		warningsJSON   []byte
		metricsJSON    []byte
	)

	err := row.Scan(
		&run.RunID, &mode, &status, &run.StatusNote, &configJSON, &checkpointJSON,
		&run.PauseRequested, &run.TotalSteps, &warningsJSON, &metricsJSON,
		&run.CreatedAtMs, &run.UpdatedAtMs,
	)
	if err != nil {
		return nil, err
	}

	run.Mode = domain.RunMode(mode)
	run.Status = domain.RunStatus(status)

	if err := json.Unmarshal(configJSON, &run.Config); err != nil {
		return nil, fmt.Errorf("unmarshal run config: %w", err)
	}
	if len(checkpointJSON) > 0 {
		run.Checkpoint = &domain.Checkpoint{}
		if err := json.Unmarshal(checkpointJSON, run.Checkpoint); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
	}
	if len(warningsJSON) > 0 {
		if err := json.Unmarshal(warningsJSON, &run.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal warnings: %w", err)
		}
	}
	if len(metricsJSON) > 0 {
		run.Metrics = &domain.FinalMetrics{}
		if err := json.Unmarshal(metricsJSON, run.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}

	return &run, nil
}

// marshalNullable returns nil for a nil pointer so the column stays NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func warningsOrEmpty(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}
