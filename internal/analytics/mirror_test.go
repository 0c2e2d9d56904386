package analytics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage/memory"
)

type captureTransitionSink struct {
	rows []*domain.StatusTransition
	err  error
}

func (s *captureTransitionSink) InsertBulk(_ context.Context, transitions []*domain.StatusTransition) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, transitions...)
	return nil
}

type captureSnapshotSink struct {
	rows []*domain.PerformanceSnapshot
}

func (s *captureSnapshotSink) InsertBulk(_ context.Context, snaps []*domain.PerformanceSnapshot) error {
	s.rows = append(s.rows, snaps...)
	return nil
}

func seedCompletedRun(t *testing.T, runs *memory.RunStore, history *memory.OrderHistoryStore, runID string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, runs.CreateRun(ctx, &domain.SimulationRun{
		RunID:  runID,
		Mode:   domain.RunModeBatch,
		Status: domain.RunStatusPending,
		Config: domain.RunConfig{Instrument: "BTC-USD", QuoteCurrency: "USD", InitialCapital: 1000},
	}))
	batch := &domain.OutputBatch{
		Snapshots: []*domain.PerformanceSnapshot{
			{RunID: runID, StepIndex: 0, Equity: 1000, Cash: 1000},
			{RunID: runID, StepIndex: 1, Equity: 1010, Cash: 510},
		},
	}
	require.NoError(t, runs.CommitResult(ctx, runID, batch, &domain.FinalMetrics{FinalEquity: 1010}))

	require.NoError(t, history.AppendTransition(ctx, domain.StatusTransition{
		OrderID: runID + "-o1", RunID: runID,
		ToStatus: domain.OrderStatusNew, Reason: domain.TransitionReasonCreated, Valid: true, TSMs: 1,
	}))
	require.NoError(t, history.AppendTransition(ctx, domain.StatusTransition{
		OrderID: runID + "-o1", RunID: runID, FromStatus: domain.OrderStatusNew,
		ToStatus: domain.OrderStatusFilled, Reason: domain.TransitionReasonSimulatedFill, Valid: true, TSMs: 2,
	}))
}

func TestMirrorRunCopiesTransitionsAndSnapshots(t *testing.T) {
	runs := memory.NewRunStore()
	history := memory.NewOrderHistoryStore()
	seedCompletedRun(t, runs, history, "r1")

	transitions := &captureTransitionSink{}
	snaps := &captureSnapshotSink{}
	m := NewMirror(runs, history, transitions, snaps, nil)

	require.NoError(t, m.MirrorRun(context.Background(), "r1"))

	require.Len(t, transitions.rows, 2)
	assert.Equal(t, domain.OrderStatusFilled, transitions.rows[1].ToStatus)
	require.Len(t, snaps.rows, 2)
	assert.Equal(t, float64(1010), snaps.rows[1].Equity)
}

func TestMirrorCompletedSkipsFailingRuns(t *testing.T) {
	runs := memory.NewRunStore()
	history := memory.NewOrderHistoryStore()
	seedCompletedRun(t, runs, history, "r1")
	seedCompletedRun(t, runs, history, "r2")

	transitions := &captureTransitionSink{err: errors.New("sink down")}
	snaps := &captureSnapshotSink{}
	m := NewMirror(runs, history, transitions, snaps, nil)

	mirrored, err := m.MirrorCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, mirrored)
	assert.Empty(t, snaps.rows, "snapshots are not copied when transitions fail")

	transitions.err = nil
	mirrored, err = m.MirrorCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, mirrored)
}
