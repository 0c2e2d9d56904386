// Package checkpoint implements the durability protocol of the
// execution loop: outputs buffer in memory between checkpoints, each
// checkpoint commits the buffered rows and the progress snapshot as one
// atomic unit, and resume reconciles any rows a crash left beyond the
// last committed checkpoint.
package checkpoint

import (
	"context"
	"fmt"
	"log"
	"time"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// Buffer accumulates output rows produced since the last committed
// checkpoint, alongside the running count of rows already durable.
type Buffer struct {
	batch     domain.OutputBatch
	persisted domain.OutputCounts
}

// NewBuffer creates a buffer. persisted seeds the durable row counts,
// zero for a fresh run, the checkpoint counts for a resumed one.
func NewBuffer(persisted domain.OutputCounts) *Buffer {
	return &Buffer{persisted: persisted}
}

// AddTrade buffers a trade row.
func (b *Buffer) AddTrade(t *domain.TradeRecord) { b.batch.Trades = append(b.batch.Trades, t) }

// AddSignal buffers a signal row.
func (b *Buffer) AddSignal(s *domain.SignalRecord) { b.batch.Signals = append(b.batch.Signals, s) }

// AddFill buffers a fill row.
func (b *Buffer) AddFill(f *domain.FillRecord) { b.batch.Fills = append(b.batch.Fills, f) }

// AddSnapshot buffers a performance snapshot row.
func (b *Buffer) AddSnapshot(s *domain.PerformanceSnapshot) {
	b.batch.Snapshots = append(b.batch.Snapshots, s)
}

// Pending returns per-kind counts of buffered, not yet durable rows.
func (b *Buffer) Pending() domain.OutputCounts { return b.batch.Counts() }

// Persisted returns per-kind counts of rows known durable.
func (b *Buffer) Persisted() domain.OutputCounts { return b.persisted }

// take drains the buffered batch without touching persisted counts.
func (b *Buffer) take() *domain.OutputBatch {
	batch := b.batch
	b.batch = domain.OutputBatch{}
	return &batch
}

// markCommitted folds committed counts into the durable totals.
func (b *Buffer) markCommitted(c domain.OutputCounts) {
	for _, kind := range domain.OutputKinds {
		b.persisted.Add(kind, c.Get(kind))
	}
}

// Manager drives commit units and resume reconciliation against a run
// store.
type Manager struct {
	store  storage.RunStore
	logger *log.Logger
	nowMs  func() int64
}

// NewManager creates a checkpoint manager. logger may be nil.
func NewManager(store storage.RunStore, logger *log.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Commit flushes the buffer and the progress snapshot as one atomic
// unit. On success the buffer is empty and its durable counts include
// the flushed rows; on failure the buffer is untouched and the caller
// may retry or abort without losing rows.
func (m *Manager) Commit(ctx context.Context, runID string, buf *Buffer, lastIndex int64, portfolio domain.PortfolioState, rngState []byte) error {
	committed := buf.Pending()

	counts := buf.Persisted()
	for _, kind := range domain.OutputKinds {
		counts.Add(kind, committed.Get(kind))
	}

	cp := &domain.Checkpoint{
		LastProcessedIndex: lastIndex,
		PersistedCounts:    counts,
		Portfolio:          portfolio,
		RNGState:           rngState,
		CreatedAtMs:        m.nowMs(),
	}

	batch := buf.take()
	if err := m.store.CommitCheckpoint(ctx, runID, batch, cp); err != nil {
		// Restore the drained rows so a retry recommits them.
		buf.batch = *batch
		return fmt.Errorf("commit checkpoint at step %d: %w", lastIndex, err)
	}
	buf.markCommitted(committed)
	return nil
}

// Complete flushes the final buffer together with the metrics, the
// COMPLETED status and the checkpoint clear, as one atomic unit.
func (m *Manager) Complete(ctx context.Context, runID string, buf *Buffer, metrics *domain.FinalMetrics) error {
	committed := buf.Pending()
	batch := buf.take()
	if err := m.store.CommitResult(ctx, runID, batch, metrics); err != nil {
		buf.batch = *batch
		return fmt.Errorf("commit final result: %w", err)
	}
	buf.markCommitted(committed)
	return nil
}

// Reconcile restores the checkpoint invariant on resume: any rows
// newer than what the checkpoint recorded are orphans from an
// interrupted interval and are deleted newest-first, exactly the
// excess, per kind. Returns the total rows deleted. Idempotent: a
// second call deletes nothing.
//
// A store holding fewer rows than the checkpoint claims is an
// integrity failure the protocol cannot repair; the run must not
// resume from this checkpoint.
func (m *Manager) Reconcile(ctx context.Context, runID string, cp *domain.Checkpoint) (int64, error) {
	counts, err := m.store.CountOutputs(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("count outputs: %w", err)
	}

	var deleted int64
	for _, kind := range domain.OutputKinds {
		excess := counts.Get(kind) - cp.PersistedCounts.Get(kind)
		if excess < 0 {
			return deleted, fmt.Errorf("checkpoint integrity: %s rows persisted=%d < recorded=%d",
				kind, counts.Get(kind), cp.PersistedCounts.Get(kind))
		}
		if excess == 0 {
			continue
		}
		removed, err := m.store.DeleteNewest(ctx, runID, kind, excess)
		if err != nil {
			return deleted, fmt.Errorf("delete orphan %s rows: %w", kind, err)
		}
		deleted += removed
		if m.logger != nil {
			m.logger.Printf("reconciled %d orphan %s rows for run %s", removed, kind, runID)
		}
	}
	return deleted, nil
}
