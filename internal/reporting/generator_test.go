package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-sim-lab/internal/domain"
	"market-sim-lab/internal/storage/memory"
)

func seedCompletedRun(t *testing.T, runs *memory.RunStore, runID string, metrics domain.FinalMetrics) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, runs.CreateRun(ctx, &domain.SimulationRun{
		RunID:  runID,
		Mode:   domain.RunModeBatch,
		Status: domain.RunStatusPending,
		Config: domain.RunConfig{
			Instrument: "BTC-USD",
			StrategyID: "SMA_CROSS",
		},
	}))
	require.NoError(t, runs.SetTotalSteps(ctx, runID, 100))
	require.NoError(t, runs.CommitResult(ctx, runID, &domain.OutputBatch{
		Trades: []*domain.TradeRecord{{
			RunID: runID, TradeID: runID + "-ord-000001-t", OrderID: runID + "-ord-000001",
			StepIndex: 3, Instrument: "BTC-USD", Side: domain.SideBuy,
			Quantity: 0.5, Price: 100.05, Notional: 50.025, Fee: 0.02, CashAfter: 99949.955, TSMs: 3000,
		}},
	}, &metrics))
}

func TestGenerateSummarizesCompletedRuns(t *testing.T) {
	runs := memory.NewRunStore()
	history := memory.NewOrderHistoryStore()
	ctx := context.Background()

	seedCompletedRun(t, runs, "r2", domain.FinalMetrics{FinalEquity: 90000, TotalReturn: -0.1, TradeCount: 4})
	seedCompletedRun(t, runs, "r1", domain.FinalMetrics{FinalEquity: 110000, TotalReturn: 0.1, TradeCount: 2, WinRate: 0.5})

	// One rejection plus lifecycle noise that must not show up.
	require.NoError(t, history.AppendTransition(ctx, domain.StatusTransition{
		OrderID: "r1-ord-000002", RunID: "r1",
		ToStatus: domain.OrderStatusNew, Reason: domain.TransitionReasonCreated, Valid: true, TSMs: 1000,
	}))
	require.NoError(t, history.AppendTransition(ctx, domain.StatusTransition{
		OrderID: "r1-ord-000002", RunID: "r1", FromStatus: domain.OrderStatusNew,
		ToStatus: domain.OrderStatusRejected, Reason: domain.TransitionReasonSlippageLimit, Valid: true, TSMs: 2000,
	}))

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	report, err := NewGenerator(runs, history).WithClock(func() time.Time { return fixed }).Generate(ctx)
	require.NoError(t, err)

	assert.Equal(t, fixed, report.GeneratedAt)
	assert.Equal(t, 2, report.RunCount)
	require.Len(t, report.Runs, 2)
	assert.Equal(t, "r1", report.Runs[0].RunID)
	assert.Equal(t, "r2", report.Runs[1].RunID)
	assert.Equal(t, 110000.0, report.Runs[0].FinalEquity)
	assert.Equal(t, int64(100), report.Runs[0].TotalSteps)

	require.Len(t, report.Rejections, 1)
	assert.Equal(t, "r1", report.Rejections[0].RunID)
	assert.Equal(t, domain.TransitionReasonSlippageLimit, report.Rejections[0].Reason)
	assert.Equal(t, int64(1), report.Rejections[0].Count)
}

func TestGenerateEmptyStore(t *testing.T) {
	report, err := NewGenerator(memory.NewRunStore(), memory.NewOrderHistoryStore()).Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.RunCount)
	assert.Empty(t, report.Runs)
	assert.Empty(t, report.Rejections)
}

func TestRenderMarkdown(t *testing.T) {
	report := &Report{
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		RunCount:    1,
		Runs: []RunRow{{
			RunID: "r1", Mode: "BATCH", Instrument: "BTC-USD", StrategyID: "SMA_CROSS",
			TotalSteps: 100, FinalEquity: 110000, TotalReturn: 0.1, SharpeRatio: 1.5,
			MaxDrawdown: 0.05, TradeCount: 2, WinRate: 0.5,
			Warnings: []string{"HIGH_SLIPPAGE"},
		}},
		Rejections: []RejectionRow{{RunID: "r1", Reason: domain.TransitionReasonSlippageLimit, Count: 3}},
	}

	md := RenderMarkdown(report)

	assert.Contains(t, md, "# Simulation Report")
	assert.Contains(t, md, "Generated: 2025-06-01T12:00:00Z")
	assert.Contains(t, md, "| r1 | BATCH | BTC-USD | SMA_CROSS | 100 |")
	assert.Contains(t, md, "HIGH_SLIPPAGE")
	assert.Contains(t, md, "| r1 | SLIPPAGE_LIMIT | 3 |")
}

func TestRenderMarkdownEmpty(t *testing.T) {
	md := RenderMarkdown(&Report{GeneratedAt: time.Unix(0, 0).UTC()})
	assert.Contains(t, md, "No completed runs.")
	assert.Contains(t, md, "No rejections recorded.")
}

func TestRenderRunsCSV(t *testing.T) {
	rows := []RunRow{{
		RunID: "r1", Mode: "BATCH", Instrument: "BTC-USD", StrategyID: "BUY_HOLD",
		TotalSteps: 10, FinalEquity: 105000, TotalReturn: 0.05, TradeCount: 1, WinRate: 1,
	}}

	out := RenderRunsCSV(rows)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "run_id,mode,instrument,strategy_id,total_steps,final_equity,total_return,annualized_return,sharpe_ratio,max_drawdown,trade_count,win_rate", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "r1,BATCH,BTC-USD,BUY_HOLD,10,105000.000000,0.050000,"))
}

func TestRenderTradesCSV(t *testing.T) {
	trades := []*domain.TradeRecord{{
		RunID: "r1", TradeID: "r1-ord-000001-t", OrderID: "r1-ord-000001",
		StepIndex: 3, Instrument: "BTC-USD", Side: domain.SideBuy,
		Quantity: 0.5, Price: 100.05, Notional: 50.025, Fee: 0.02, CashAfter: 99949.955, TSMs: 3000,
	}}

	out := RenderTradesCSV(trades)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "r1-ord-000001-t,r1-ord-000001,3,BTC-USD,BUY,")
}
