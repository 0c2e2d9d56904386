package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// Service errors.
var (
	ErrAlreadyActive = errors.New("run is already executing in this process")
	ErrNoResult      = errors.New("run has no final result")
)

// Progress is a point-in-time view of a run's advancement.
type Progress struct {
	RunID          string
	Status         domain.RunStatus
	StatusNote     string
	TotalSteps     int64
	ProcessedSteps int64 // steps covered by the last committed checkpoint
	Warnings       []string
}

// Service is the control surface over the engine: it launches runs in
// background goroutines and exposes pause, resume, cancel and
// inspection operations keyed by run ID.
type Service struct {
	engine *Engine
	runs   storage.RunStore
	logger *log.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a service around an engine.
func NewService(engine *Engine, runs storage.RunStore, logger *log.Logger) *Service {
	return &Service{
		engine: engine,
		runs:   runs,
		logger: logger,
		active: make(map[string]*activeRun),
	}
}

// Start registers a new run and begins executing it in the background.
// Returns the generated run ID.
func (s *Service) Start(ctx context.Context, mode domain.RunMode, cfg domain.RunConfig) (string, error) {
	runID := uuid.NewString()
	now := time.Now().UnixMilli()

	run := &domain.SimulationRun{
		RunID:       runID,
		Mode:        mode,
		Status:      domain.RunStatusPending,
		Config:      cfg,
		CreatedAtMs: now,
		UpdatedAtMs: now,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}

	if err := s.launch(runID); err != nil {
		return "", err
	}
	return runID, nil
}

// Resume continues a paused run in the background.
func (s *Service) Resume(ctx context.Context, runID string) error {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunStatusPaused {
		return fmt.Errorf("%w: %s is %s", ErrNotRunnable, runID, run.Status)
	}
	return s.launch(runID)
}

// launch spawns the executor goroutine for a run.
func (s *Service) launch(runID string) error {
	s.mu.Lock()
	if _, exists := s.active[runID]; exists {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.active[runID] = ar
	s.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			close(ar.done)
			s.mu.Lock()
			delete(s.active, runID)
			s.mu.Unlock()
		}()
		if err := s.engine.Run(runCtx, runID); err != nil && s.logger != nil {
			s.logger.Printf("run %s ended with error: %v", runID, err)
		}
	}()
	return nil
}

// Pause requests a cooperative pause. The run keeps executing until
// its next heartbeat boundary observes the flag; BATCH runs ignore it.
func (s *Service) Pause(ctx context.Context, runID string) error {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if domain.IsTerminalRunStatus(run.Status) {
		return fmt.Errorf("%w: %s is %s", ErrNotRunnable, runID, run.Status)
	}
	return s.runs.SetPauseRequested(ctx, runID, true)
}

// Cancel stops a run. An executor in this process is cancelled via its
// context; a run executing elsewhere observes the CANCELLED status at
// its next heartbeat.
func (s *Service) Cancel(ctx context.Context, runID string) error {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if domain.IsTerminalRunStatus(run.Status) {
		return fmt.Errorf("%w: %s is %s", ErrNotRunnable, runID, run.Status)
	}

	s.mu.Lock()
	ar, local := s.active[runID]
	s.mu.Unlock()

	if local {
		ar.cancel()
		<-ar.done
		return nil
	}
	return s.runs.UpdateStatus(ctx, runID, domain.RunStatusCancelled, "cancelled by operator")
}

// Progress reports a run's advancement.
func (s *Service) Progress(ctx context.Context, runID string) (Progress, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{
		RunID:      run.RunID,
		Status:     run.Status,
		StatusNote: run.StatusNote,
		TotalSteps: run.TotalSteps,
		Warnings:   run.Warnings,
	}
	switch {
	case run.Status == domain.RunStatusCompleted:
		p.ProcessedSteps = run.TotalSteps
	case run.Checkpoint != nil:
		p.ProcessedSteps = run.Checkpoint.LastProcessedIndex + 1
	}
	return p, nil
}

// Result returns the final metrics of a completed run.
func (s *Service) Result(ctx context.Context, runID string) (*domain.FinalMetrics, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Metrics == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNoResult, runID, run.Status)
	}
	return run.Metrics, nil
}

// Wait blocks until a run executing in this process finishes or the
// context is done. Returns immediately if the run is not active here.
func (s *Service) Wait(ctx context.Context, runID string) error {
	s.mu.Lock()
	ar, ok := s.active[runID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
