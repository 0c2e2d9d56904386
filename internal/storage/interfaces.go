package storage

import (
	"context"

	"market-sim-lab/internal/domain"
)

// RunStore provides access to simulation runs, their output rows and
// checkpoints.
//
// CommitCheckpoint and CommitResult are the only write paths for output
// rows. Each commits its batch together with the checkpoint (or final
// result) as a single atomic unit, so a crash can leave behind at most
// rows newer than the last committed checkpoint, never a checkpoint
// that claims rows that were not written.
type RunStore interface {
	// CreateRun adds a new run in PENDING status. Returns ErrDuplicateKey if run_id exists.
	CreateRun(ctx context.Context, run *domain.SimulationRun) error

	// GetRun retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetRun(ctx context.Context, runID string) (*domain.SimulationRun, error)

	// ListRunsByStatus retrieves all runs in a given status, ordered by created_at ASC.
	ListRunsByStatus(ctx context.Context, status domain.RunStatus) ([]*domain.SimulationRun, error)

	// UpdateStatus sets the run status and status note. This is the
	// authoritative status record that paced heartbeats re-read.
	UpdateStatus(ctx context.Context, runID string, status domain.RunStatus, note string) error

	// SetPauseRequested sets the cooperative pause flag.
	SetPauseRequested(ctx context.Context, runID string, requested bool) error

	// SetTotalSteps records the step count once the price series is loaded.
	SetTotalSteps(ctx context.Context, runID string, total int64) error

	// AppendWarning adds a warning flag to the run.
	AppendWarning(ctx context.Context, runID string, warning string) error

	// CommitCheckpoint atomically persists the buffered output batch and
	// the checkpoint. Neither is visible without the other.
	CommitCheckpoint(ctx context.Context, runID string, batch *domain.OutputBatch, cp *domain.Checkpoint) error

	// CommitResult atomically persists the final output batch, the final
	// metrics, the COMPLETED status and the checkpoint clear.
	CommitResult(ctx context.Context, runID string, batch *domain.OutputBatch, metrics *domain.FinalMetrics) error

	// CountOutputs returns durably persisted row counts per output kind.
	CountOutputs(ctx context.Context, runID string) (domain.OutputCounts, error)

	// DeleteNewest removes up to n newest rows of a kind (highest step
	// index first) and returns how many were removed. Resume-time
	// reconciliation is its only caller.
	DeleteNewest(ctx context.Context, runID string, kind domain.OutputKind, n int64) (int64, error)

	// ListTrades retrieves all trades for a run, ordered by step ASC.
	ListTrades(ctx context.Context, runID string) ([]*domain.TradeRecord, error)

	// ListSignals retrieves all signals for a run, ordered by step ASC.
	ListSignals(ctx context.Context, runID string) ([]*domain.SignalRecord, error)

	// ListFills retrieves all fills for a run, ordered by step ASC.
	ListFills(ctx context.Context, runID string) ([]*domain.FillRecord, error)

	// ListSnapshots retrieves all snapshots for a run, ordered by step ASC.
	ListSnapshots(ctx context.Context, runID string) ([]*domain.PerformanceSnapshot, error)
}

// OrderHistoryStore provides access to the append-only order status
// history. Rows are never updated or deleted.
type OrderHistoryStore interface {
	// AppendTransition adds one transition row.
	AppendTransition(ctx context.Context, tr domain.StatusTransition) error

	// ListByOrder retrieves the full history of an order, ordered by time ASC.
	ListByOrder(ctx context.Context, orderID string) ([]*domain.StatusTransition, error)

	// ListByRun retrieves all transitions for a run, ordered by time ASC.
	ListByRun(ctx context.Context, runID string) ([]*domain.StatusTransition, error)

	// ListInvalid retrieves transitions recorded with Valid=false for a run.
	ListInvalid(ctx context.Context, runID string) ([]*domain.StatusTransition, error)

	// CountByReason aggregates transitions by reason within [start, end] (inclusive, ms).
	CountByReason(ctx context.Context, runID string, start, end int64) ([]domain.ReasonCount, error)
}

// PriceStore provides access to the historical price series a batch
// run replays.
type PriceStore interface {
	// InsertBulk adds multiple ticks. Fails entire batch on duplicate (instrument, timestamp_ms).
	InsertBulk(ctx context.Context, ticks []*domain.PriceTick) error

	// GetByTimeRange retrieves ticks for an instrument within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, instrument string, start, end int64) ([]*domain.PriceTick, error)

	// ListInstruments retrieves the distinct instruments present.
	ListInstruments(ctx context.Context) ([]string, error)
}
