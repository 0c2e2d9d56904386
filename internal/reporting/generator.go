package reporting

import (
	"context"
	"sort"
	"time"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage"
)

// Generator produces reports from stored runs.
type Generator struct {
	runs    storage.RunStore
	history storage.OrderHistoryStore
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator.
func NewGenerator(runs storage.RunStore, history storage.OrderHistoryStore) *Generator {
	return &Generator{
		runs:    runs,
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report over all completed runs.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	completed, err := g.runs.ListRunsByStatus(ctx, domain.RunStatusCompleted)
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: g.now(),
		RunCount:    len(completed),
	}

	for _, run := range completed {
		report.Runs = append(report.Runs, runRow(run))

		rejections, err := g.rejections(ctx, run.RunID)
		if err != nil {
			return nil, err
		}
		report.Rejections = append(report.Rejections, rejections...)
	}

	sort.Slice(report.Runs, func(i, j int) bool {
		return report.Runs[i].RunID < report.Runs[j].RunID
	})
	sort.Slice(report.Rejections, func(i, j int) bool {
		if report.Rejections[i].RunID != report.Rejections[j].RunID {
			return report.Rejections[i].RunID < report.Rejections[j].RunID
		}
		return report.Rejections[i].Reason < report.Rejections[j].Reason
	})
	return report, nil
}

func runRow(run *domain.SimulationRun) RunRow {
	row := RunRow{
		RunID:      run.RunID,
		Mode:       string(run.Mode),
		Instrument: run.Config.Instrument,
		StrategyID: run.Config.StrategyID,
		TotalSteps: run.TotalSteps,
		Warnings:   run.Warnings,
	}
	if m := run.Metrics; m != nil {
		row.FinalEquity = m.FinalEquity
		row.TotalReturn = m.TotalReturn
		row.AnnualizedReturn = m.AnnualizedReturn
		row.SharpeRatio = m.SharpeRatio
		row.MaxDrawdown = m.MaxDrawdown
		row.TradeCount = m.TradeCount
		row.WinRate = m.WinRate
	}
	return row
}

// rejections pulls the run's rejection reasons from the order history.
func (g *Generator) rejections(ctx context.Context, runID string) ([]RejectionRow, error) {
	counts, err := g.history.CountByReason(ctx, runID, 0, g.now().UnixMilli())
	if err != nil {
		return nil, err
	}

	var rows []RejectionRow
	for _, c := range counts {
		switch c.Reason {
		case domain.TransitionReasonSlippageLimit, domain.TransitionReasonInsufficient:
			rows = append(rows, RejectionRow{RunID: runID, Reason: c.Reason, Count: c.Count})
		}
	}
	return rows, nil
}
