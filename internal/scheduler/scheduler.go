// Package scheduler coordinates run execution across workers. Each
// worker polls for PENDING runs and claims them through a TTL lease,
// so a run executes on exactly one worker at a time and a crashed
// worker's runs become claimable again once its lease expires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/engine"
	"market-sim-lab/internal/observability"
	"market-sim-lab/internal/schedlock"
	"market-sim-lab/internal/storage"
)

// Config tunes worker behavior.
type Config struct {
	// WorkerID identifies this worker in lease tokens and logs.
	WorkerID string
	// PollInterval is the delay between claim sweeps.
	PollInterval time.Duration
	// LeaseTTL is how long a claim lives without extension.
	LeaseTTL time.Duration
	// LeaseExtendEvery is the extension cadence; must be well under LeaseTTL.
	LeaseExtendEvery time.Duration
	// MaxConcurrent caps runs executing on this worker at once.
	MaxConcurrent int
}

// DefaultConfig returns worker defaults.
func DefaultConfig(workerID string) Config {
	return Config{
		WorkerID:         workerID,
		PollInterval:     5 * time.Second,
		LeaseTTL:         60 * time.Second,
		LeaseExtendEvery: 20 * time.Second,
		MaxConcurrent:    4,
	}
}

// Scheduler claims and executes runs.
type Scheduler struct {
	runs    storage.RunStore
	lock    schedlock.Lock
	engine  *engine.Engine
	cfg     Config
	logger  *log.Logger
	metrics *observability.Metrics

	sem chan struct{}
	wg  sync.WaitGroup
}

// New creates a scheduler. logger and metrics may be nil.
func New(runs storage.RunStore, lock schedlock.Lock, eng *engine.Engine, cfg Config, logger *log.Logger, metrics *observability.Metrics) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Scheduler{
		runs:    runs,
		lock:    lock,
		engine:  eng,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start polls and executes until ctx is done, then waits for in-flight
// runs to reach a checkpointed stop.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.sweep(ctx)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// sweep claims as many pending runs as capacity allows.
func (s *Scheduler) sweep(ctx context.Context) {
	pending, err := s.runs.ListRunsByStatus(ctx, domain.RunStatusPending)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("scheduler: list pending runs: %v", err)
		}
		return
	}

	for _, run := range pending {
		select {
		case s.sem <- struct{}{}:
		default:
			return // at capacity
		}

		if !s.claim(ctx, run.RunID) {
			<-s.sem
			continue
		}

		s.wg.Add(1)
		go s.execute(ctx, run.RunID)
	}
}

// claim takes the run lease.
func (s *Scheduler) claim(ctx context.Context, runID string) bool {
	token := s.token(runID)
	err := s.lock.Acquire(ctx, lockName(runID), token, s.cfg.LeaseTTL)
	if err != nil {
		if !errors.Is(err, schedlock.ErrNotAcquired) && s.logger != nil {
			s.logger.Printf("scheduler: acquire lease for %s: %v", runID, err)
		}
		if s.metrics != nil {
			s.metrics.LockAcquireFailed.Inc()
		}
		return false
	}
	if s.metrics != nil {
		s.metrics.RunsClaimed.Inc()
	}
	if s.logger != nil {
		s.logger.Printf("scheduler: worker %s claimed run %s", s.cfg.WorkerID, runID)
	}
	return true
}

// execute runs a claimed run while keeping its lease alive. Losing the
// lease cancels the run context: another worker may already own it.
func (s *Scheduler) execute(ctx context.Context, runID string) {
	defer s.wg.Done()
	defer func() { <-s.sem }()

	token := s.token(runID)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	extendDone := make(chan struct{})
	go func() {
		defer close(extendDone)
		ticker := time.NewTicker(s.cfg.LeaseExtendEvery)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := s.lock.Extend(runCtx, lockName(runID), token, s.cfg.LeaseTTL); err != nil {
					if s.metrics != nil {
						s.metrics.LeaseExtendFailed.Inc()
					}
					if s.logger != nil {
						s.logger.Printf("scheduler: lost lease for %s: %v", runID, err)
					}
					cancel()
					return
				}
			}
		}
	}()

	if err := s.engine.Run(runCtx, runID); err != nil && s.logger != nil {
		s.logger.Printf("scheduler: run %s: %v", runID, err)
	}

	cancel()
	<-extendDone

	releaseCtx, releaseCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer releaseCancel()
	if err := s.lock.Release(releaseCtx, lockName(runID), token); err != nil && !errors.Is(err, schedlock.ErrNotHeld) {
		if s.logger != nil {
			s.logger.Printf("scheduler: release lease for %s: %v", runID, err)
		}
	}
}

// token derives the lease token for this worker and run. Stable across
// the run's lifetime so extensions verify ownership.
func (s *Scheduler) token(runID string) string {
	return s.cfg.WorkerID + ":" + runID
}

func lockName(runID string) string {
	return "run:" + runID
}

// NewWorkerID generates a unique worker identity for a process.
func NewWorkerID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}
