// Package analytics copies finished run outputs into the ClickHouse
// mirror. The mirror is rebuildable from Postgres at any time, so a
// failed copy is retried rather than rolled back.
package analytics

import (
	"context"
	"fmt"
	"log"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// TransitionSink receives mirrored order transitions.
type TransitionSink interface {
	InsertBulk(ctx context.Context, transitions []*domain.StatusTransition) error
}

// SnapshotSink receives mirrored performance snapshots.
type SnapshotSink interface {
	InsertBulk(ctx context.Context, snaps []*domain.PerformanceSnapshot) error
}

// Mirror copies run outputs from the system of record into the
// analytical sinks.
type Mirror struct {
	runs        storage.RunStore
	history     storage.OrderHistoryStore
	transitions TransitionSink
	snapshots   SnapshotSink
	logger      *log.Logger
}

// NewMirror creates a mirror. logger may be nil.
func NewMirror(runs storage.RunStore, history storage.OrderHistoryStore, transitions TransitionSink, snapshots SnapshotSink, logger *log.Logger) *Mirror {
	return &Mirror{
		runs:        runs,
		history:     history,
		transitions: transitions,
		snapshots:   snapshots,
		logger:      logger,
	}
}

// MirrorRun copies one run's transitions and snapshots.
func (m *Mirror) MirrorRun(ctx context.Context, runID string) error {
	transitions, err := m.history.ListByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load transitions for %s: %w", runID, err)
	}
	if err := m.transitions.InsertBulk(ctx, transitions); err != nil {
		return fmt.Errorf("mirror transitions for %s: %w", runID, err)
	}

	snaps, err := m.runs.ListSnapshots(ctx, runID)
	if err != nil {
		return fmt.Errorf("load snapshots for %s: %w", runID, err)
	}
	if err := m.snapshots.InsertBulk(ctx, snaps); err != nil {
		return fmt.Errorf("mirror snapshots for %s: %w", runID, err)
	}

	if m.logger != nil {
		m.logger.Printf("mirrored run %s: %d transitions, %d snapshots", runID, len(transitions), len(snaps))
	}
	return nil
}

// MirrorCompleted copies every COMPLETED run and returns how many were
// mirrored. Runs that fail to copy are logged and skipped.
func (m *Mirror) MirrorCompleted(ctx context.Context) (int, error) {
	completed, err := m.runs.ListRunsByStatus(ctx, domain.RunStatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("list completed runs: %w", err)
	}

	mirrored := 0
	for _, run := range completed {
		if err := m.MirrorRun(ctx, run.RunID); err != nil {
			if m.logger != nil {
				m.logger.Printf("mirror run %s: %v", run.RunID, err)
			}
			continue
		}
		mirrored++
	}
	return mirrored, nil
}
