package verification

import (
	"context"
	"fmt"
	"log"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/engine"
	"market-sim-lab/internal/marketdata"
	"market-sim-lab/internal/storage"
	"market-sim-lab/internal/storage/memory"
)

// ReplayVerifier re-executes completed runs against scratch in-memory
// stores and compares the replay against the persisted outputs.
//
// The replay always runs in BATCH mode; mode never changes the numbers
// a step produces, so a PACED session verifies the same way. The book
// source must be configured the way the original run executed (same
// synthetic spread) or executed prices will diverge by construction.
type ReplayVerifier struct {
	runs   storage.RunStore
	series marketdata.SeriesSource
	books  marketdata.BookSource
	logger *log.Logger
}

// Options configures a ReplayVerifier. Runs and Series are required.
type Options struct {
	Runs   storage.RunStore
	Series marketdata.SeriesSource
	Books  marketdata.BookSource
	Logger *log.Logger
}

// NewReplayVerifier creates a verifier over the primary run store.
func NewReplayVerifier(opts Options) *ReplayVerifier {
	return &ReplayVerifier{
		runs:   opts.Runs,
		series: opts.Series,
		books:  opts.Books,
		logger: opts.Logger,
	}
}

// VerifyRun replays one completed run and compares outputs.
func (v *ReplayVerifier) VerifyRun(ctx context.Context, runID string) (RunResult, error) {
	run, err := v.runs.GetRun(ctx, runID)
	if err != nil {
		return RunResult{}, fmt.Errorf("load run: %w", err)
	}
	if run.Status != domain.RunStatusCompleted {
		return RunResult{}, fmt.Errorf("run %s is %s, only COMPLETED runs verify", runID, run.Status)
	}

	scratch, err := v.replay(ctx, run)
	if err != nil {
		return RunResult{}, err
	}

	divs, err := v.compare(ctx, run, scratch)
	if err != nil {
		return RunResult{}, err
	}
	return RunResult{RunID: runID, Match: len(divs) == 0, Divergences: divs}, nil
}

// VerifyAll replays every completed run. Per-run errors are recorded as
// divergences so one broken run does not hide the rest of the report.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*Report, error) {
	runs, err := v.runs.ListRunsByStatus(ctx, domain.RunStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed runs: %w", err)
	}

	report := &Report{TotalRuns: len(runs)}
	for _, run := range runs {
		result, err := v.VerifyRun(ctx, run.RunID)
		if err != nil {
			result = RunResult{
				RunID: run.RunID,
				Match: false,
				Divergences: []FieldDivergence{
					{Field: "error", Expected: "successful replay", Actual: err.Error()},
				},
			}
		}
		if result.Match {
			report.MatchedRuns++
		} else {
			report.DivergentRuns++
			if v.logger != nil {
				v.logger.Printf("run %s diverged: %d fields", run.RunID, len(result.Divergences))
			}
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

// replay executes the run's config in a fresh in-memory environment.
// The scratch run reuses the original run ID so derived order and trade
// IDs line up for comparison.
func (v *ReplayVerifier) replay(ctx context.Context, run *domain.SimulationRun) (storage.RunStore, error) {
	scratch := memory.NewRunStore()
	if err := scratch.CreateRun(ctx, &domain.SimulationRun{
		RunID:  run.RunID,
		Mode:   domain.RunModeBatch,
		Status: domain.RunStatusPending,
		Config: run.Config,
	}); err != nil {
		return nil, fmt.Errorf("create scratch run: %w", err)
	}

	eng := engine.New(engine.Deps{
		Runs:    scratch,
		History: memory.NewOrderHistoryStore(),
		Series:  v.series,
		Books:   v.books,
		Logger:  v.logger,
	})
	if err := eng.Run(ctx, run.RunID); err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	return scratch, nil
}

// compare diffs the persisted outputs against the scratch replay.
func (v *ReplayVerifier) compare(ctx context.Context, run *domain.SimulationRun, scratch storage.RunStore) ([]FieldDivergence, error) {
	replayed, err := scratch.GetRun(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("load replayed run: %w", err)
	}
	if replayed.Status != domain.RunStatusCompleted {
		return []FieldDivergence{{
			Field:    "status",
			Expected: string(domain.RunStatusCompleted),
			Actual:   string(replayed.Status),
		}}, nil
	}

	divs := compareMetrics(run.Metrics, replayed.Metrics)

	storedTrades, err := v.runs.ListTrades(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	replayedTrades, err := scratch.ListTrades(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("load replayed trades: %w", err)
	}
	divs = append(divs, compareTrades(storedTrades, replayedTrades)...)

	storedFills, err := v.runs.ListFills(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("load fills: %w", err)
	}
	replayedFills, err := scratch.ListFills(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("load replayed fills: %w", err)
	}
	divs = append(divs, compareFills(storedFills, replayedFills)...)

	storedCounts, err := v.runs.CountOutputs(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("count outputs: %w", err)
	}
	replayedCounts, err := scratch.CountOutputs(ctx, run.RunID)
	if err != nil {
		return nil, fmt.Errorf("count replayed outputs: %w", err)
	}
	divs = append(divs, compareCounts(storedCounts, replayedCounts)...)

	return divs, nil
}
