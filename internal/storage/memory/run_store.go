package memory

import (
	"context"
	"sort"
	"sync"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
// A single mutex covers runs and outputs so the commit methods are
// atomic the same way the SQL implementation's transactions are.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*domain.SimulationRun // keyed by run_id

	trades    map[string][]*domain.TradeRecord // keyed by run_id, appended in step order
	signals   map[string][]*domain.SignalRecord
	fills     map[string][]*domain.FillRecord
	snapshots map[string][]*domain.PerformanceSnapshot
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:      make(map[string]*domain.SimulationRun),
		trades:    make(map[string][]*domain.TradeRecord),
		signals:   make(map[string][]*domain.SignalRecord),
		fills:     make(map[string][]*domain.FillRecord),
		snapshots: make(map[string][]*domain.PerformanceSnapshot),
	}
}

// CreateRun adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) CreateRun(_ context.Context, run *domain.SimulationRun) error {
	if run == nil || run.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

// GetRun retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetRun(_ context.Context, runID string) (*domain.SimulationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneRun(run), nil
}

// ListRunsByStatus retrieves all runs in a given status, ordered by creation ASC.
func (s *RunStore) ListRunsByStatus(_ context.Context, status domain.RunStatus) ([]*domain.SimulationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SimulationRun
	for _, run := range s.runs {
		if run.Status == status {
			result = append(result, cloneRun(run))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAtMs != result[j].CreatedAtMs {
			return result[i].CreatedAtMs < result[j].CreatedAtMs
		}
		return result[i].RunID < result[j].RunID
	})
	return result, nil
}

// UpdateStatus sets the run status and status note.
func (s *RunStore) UpdateStatus(_ context.Context, runID string, status domain.RunStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}
	run.Status = status
	run.StatusNote = note
	return nil
}

// SetPauseRequested sets the cooperative pause flag.
func (s *RunStore) SetPauseRequested(_ context.Context, runID string, requested bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}
	run.PauseRequested = requested
	return nil
}

// SetTotalSteps records the step count once the price series is loaded.
func (s *RunStore) SetTotalSteps(_ context.Context, runID string, total int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}
	run.TotalSteps = total
	return nil
}

// AppendWarning adds a warning flag to the run.
func (s *RunStore) AppendWarning(_ context.Context, runID string, warning string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}
	run.Warnings = append(run.Warnings, warning)
	return nil
}

// CommitCheckpoint atomically persists the output batch and the checkpoint.
func (s *RunStore) CommitCheckpoint(_ context.Context, runID string, batch *domain.OutputBatch, cp *domain.Checkpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}

	s.appendBatch(runID, batch)

	cpCopy := *cp
	cpCopy.RNGState = append([]byte(nil), cp.RNGState...)
	cpCopy.Portfolio = clonePortfolioState(cp.Portfolio)
	run.Checkpoint = &cpCopy
	return nil
}

// CommitResult atomically persists the final batch, metrics, COMPLETED
// status and checkpoint clear.
func (s *RunStore) CommitResult(_ context.Context, runID string, batch *domain.OutputBatch, metrics *domain.FinalMetrics) error {
	if metrics == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return storage.ErrNotFound
	}

	s.appendBatch(runID, batch)

	mCopy := *metrics
	run.Metrics = &mCopy
	run.Status = domain.RunStatusCompleted
	run.Checkpoint = nil
	return nil
}

// CountOutputs returns persisted row counts per output kind.
func (s *RunStore) CountOutputs(_ context.Context, runID string) (domain.OutputCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.OutputCounts{
		Trades:    int64(len(s.trades[runID])),
		Signals:   int64(len(s.signals[runID])),
		Fills:     int64(len(s.fills[runID])),
		Snapshots: int64(len(s.snapshots[runID])),
	}, nil
}

// DeleteNewest removes up to n newest rows of a kind and returns how
// many were removed. Rows are appended in step order, so newest means
// the tail of the slice.
func (s *RunStore) DeleteNewest(_ context.Context, runID string, kind domain.OutputKind, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch kind {
	case domain.OutputKindTrade:
		removed := trimTail(len(s.trades[runID]), n)
		s.trades[runID] = s.trades[runID][:len(s.trades[runID])-int(removed)]
		return removed, nil
	case domain.OutputKindSignal:
		removed := trimTail(len(s.signals[runID]), n)
		s.signals[runID] = s.signals[runID][:len(s.signals[runID])-int(removed)]
		return removed, nil
	case domain.OutputKindFill:
		removed := trimTail(len(s.fills[runID]), n)
		s.fills[runID] = s.fills[runID][:len(s.fills[runID])-int(removed)]
		return removed, nil
	case domain.OutputKindSnapshot:
		removed := trimTail(len(s.snapshots[runID]), n)
		s.snapshots[runID] = s.snapshots[runID][:len(s.snapshots[runID])-int(removed)]
		return removed, nil
	default:
		return 0, storage.ErrInvalidInput
	}
}

// ListTrades retrieves all trades for a run, ordered by step ASC.
func (s *RunStore) ListTrades(_ context.Context, runID string) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TradeRecord, 0, len(s.trades[runID]))
	for _, t := range s.trades[runID] {
		copy := *t
		result = append(result, &copy)
	}
	return result, nil
}

// ListSignals retrieves all signals for a run, ordered by step ASC.
func (s *RunStore) ListSignals(_ context.Context, runID string) ([]*domain.SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.SignalRecord, 0, len(s.signals[runID]))
	for _, sig := range s.signals[runID] {
		copy := *sig
		result = append(result, &copy)
	}
	return result, nil
}

// ListFills retrieves all fills for a run, ordered by step ASC.
func (s *RunStore) ListFills(_ context.Context, runID string) ([]*domain.FillRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FillRecord, 0, len(s.fills[runID]))
	for _, f := range s.fills[runID] {
		copy := *f
		result = append(result, &copy)
	}
	return result, nil
}

// ListSnapshots retrieves all snapshots for a run, ordered by step ASC.
func (s *RunStore) ListSnapshots(_ context.Context, runID string) ([]*domain.PerformanceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.PerformanceSnapshot, 0, len(s.snapshots[runID]))
	for _, snap := range s.snapshots[runID] {
		copy := *snap
		result = append(result, &copy)
	}
	return result, nil
}

// appendBatch stores copies of the batch rows. Caller holds the lock.
func (s *RunStore) appendBatch(runID string, batch *domain.OutputBatch) {
	if batch.Empty() {
		return
	}
	for _, t := range batch.Trades {
		copy := *t
		s.trades[runID] = append(s.trades[runID], &copy)
	}
	for _, sig := range batch.Signals {
		copy := *sig
		s.signals[runID] = append(s.signals[runID], &copy)
	}
	for _, f := range batch.Fills {
		copy := *f
		s.fills[runID] = append(s.fills[runID], &copy)
	}
	for _, snap := range batch.Snapshots {
		copy := *snap
		s.snapshots[runID] = append(s.snapshots[runID], &copy)
	}
}

func trimTail(have int, want int64) int64 {
	if int64(have) < want {
		return int64(have)
	}
	return want
}

func cloneRun(run *domain.SimulationRun) *domain.SimulationRun {
	clone := *run
	if run.Config.StrategyParams != nil {
		clone.Config.StrategyParams = make(map[string]float64, len(run.Config.StrategyParams))
		for k, v := range run.Config.StrategyParams {
			clone.Config.StrategyParams[k] = v
		}
	}
	if run.Checkpoint != nil {
		cp := *run.Checkpoint
		cp.RNGState = append([]byte(nil), run.Checkpoint.RNGState...)
		cp.Portfolio = clonePortfolioState(run.Checkpoint.Portfolio)
		clone.Checkpoint = &cp
	}
	if run.Metrics != nil {
		m := *run.Metrics
		clone.Metrics = &m
	}
	clone.Warnings = append([]string(nil), run.Warnings...)
	return &clone
}

func clonePortfolioState(st domain.PortfolioState) domain.PortfolioState {
	out := domain.PortfolioState{QuoteCurrency: st.QuoteCurrency}
	if st.Cash != nil {
		out.Cash = make(map[string]float64, len(st.Cash))
		for k, v := range st.Cash {
			out.Cash[k] = v
		}
	}
	if st.Positions != nil {
		out.Positions = make(map[string]domain.PositionState, len(st.Positions))
		for k, v := range st.Positions {
			out.Positions[k] = v
		}
	}
	return out
}

var _ storage.RunStore = (*RunStore)(nil)
