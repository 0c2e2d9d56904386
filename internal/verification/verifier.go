// Package verification checks that completed runs are reproducible:
// it re-executes a run's config in a scratch in-memory environment and
// compares the replayed outputs against the persisted ones field by
// field. A divergence means the run cannot be rebuilt from its config
// and seed, which usually points at a non-deterministic input or a
// storage fault.
package verification

import (
	"fmt"
	"math"

	"market-sim-lab/internal/domain"
)

// FloatTolerance is the maximum absolute difference for float fields to
// be considered matching.
const FloatTolerance = 1e-7

// FieldDivergence describes a field that differs between the persisted
// run and its replay.
type FieldDivergence struct {
	Field    string `json:"field"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
}

// RunResult is the verification outcome for a single run.
type RunResult struct {
	RunID       string            `json:"run_id"`
	Match       bool              `json:"match"`
	Divergences []FieldDivergence `json:"divergences,omitempty"`
}

// Report summarizes verification across runs.
type Report struct {
	TotalRuns     int         `json:"total_runs"`
	MatchedRuns   int         `json:"matched_runs"`
	DivergentRuns int         `json:"divergent_runs"`
	Results       []RunResult `json:"results"`
}

// compareMetrics compares final metrics field by field.
func compareMetrics(expected, actual *domain.FinalMetrics) []FieldDivergence {
	var divs []FieldDivergence

	if expected == nil || actual == nil {
		if expected != actual {
			divs = append(divs, FieldDivergence{Field: "metrics", Expected: expected, Actual: actual})
		}
		return divs
	}

	floats := []struct {
		field            string
		expected, actual float64
	}{
		{"metrics.final_equity", expected.FinalEquity, actual.FinalEquity},
		{"metrics.total_return", expected.TotalReturn, actual.TotalReturn},
		{"metrics.annualized_return", expected.AnnualizedReturn, actual.AnnualizedReturn},
		{"metrics.sharpe_ratio", expected.SharpeRatio, actual.SharpeRatio},
		{"metrics.max_drawdown", expected.MaxDrawdown, actual.MaxDrawdown},
		{"metrics.win_rate", expected.WinRate, actual.WinRate},
	}
	for _, f := range floats {
		if !floatEquals(f.expected, f.actual) {
			divs = append(divs, FieldDivergence{Field: f.field, Expected: f.expected, Actual: f.actual})
		}
	}
	if expected.TradeCount != actual.TradeCount {
		divs = append(divs, FieldDivergence{Field: "metrics.trade_count", Expected: expected.TradeCount, Actual: actual.TradeCount})
	}
	if expected.WinCount != actual.WinCount {
		divs = append(divs, FieldDivergence{Field: "metrics.win_count", Expected: expected.WinCount, Actual: actual.WinCount})
	}
	return divs
}

// compareTrades compares the persisted trade list against the replay.
func compareTrades(expected, actual []*domain.TradeRecord) []FieldDivergence {
	if len(expected) != len(actual) {
		return []FieldDivergence{{Field: "trades.count", Expected: len(expected), Actual: len(actual)}}
	}

	var divs []FieldDivergence
	for i := range expected {
		e, a := expected[i], actual[i]
		prefix := fmt.Sprintf("trades[%d]", i)

		if e.TradeID != a.TradeID {
			divs = append(divs, FieldDivergence{Field: prefix + ".trade_id", Expected: e.TradeID, Actual: a.TradeID})
		}
		if e.StepIndex != a.StepIndex {
			divs = append(divs, FieldDivergence{Field: prefix + ".step_index", Expected: e.StepIndex, Actual: a.StepIndex})
		}
		if e.Side != a.Side {
			divs = append(divs, FieldDivergence{Field: prefix + ".side", Expected: e.Side, Actual: a.Side})
		}
		if !floatEquals(e.Quantity, a.Quantity) {
			divs = append(divs, FieldDivergence{Field: prefix + ".quantity", Expected: e.Quantity, Actual: a.Quantity})
		}
		if !floatEquals(e.Price, a.Price) {
			divs = append(divs, FieldDivergence{Field: prefix + ".price", Expected: e.Price, Actual: a.Price})
		}
		if !floatEquals(e.Fee, a.Fee) {
			divs = append(divs, FieldDivergence{Field: prefix + ".fee", Expected: e.Fee, Actual: a.Fee})
		}
		if !floatEquals(e.CashAfter, a.CashAfter) {
			divs = append(divs, FieldDivergence{Field: prefix + ".cash_after", Expected: e.CashAfter, Actual: a.CashAfter})
		}
	}
	return divs
}

// compareFills compares the persisted fill list against the replay.
func compareFills(expected, actual []*domain.FillRecord) []FieldDivergence {
	if len(expected) != len(actual) {
		return []FieldDivergence{{Field: "fills.count", Expected: len(expected), Actual: len(actual)}}
	}

	var divs []FieldDivergence
	for i := range expected {
		e, a := expected[i], actual[i]
		prefix := fmt.Sprintf("fills[%d]", i)

		if e.OrderID != a.OrderID {
			divs = append(divs, FieldDivergence{Field: prefix + ".order_id", Expected: e.OrderID, Actual: a.OrderID})
		}
		if e.StepIndex != a.StepIndex {
			divs = append(divs, FieldDivergence{Field: prefix + ".step_index", Expected: e.StepIndex, Actual: a.StepIndex})
		}
		if !floatEquals(e.ExecutedPrice, a.ExecutedPrice) {
			divs = append(divs, FieldDivergence{Field: prefix + ".executed_price", Expected: e.ExecutedPrice, Actual: a.ExecutedPrice})
		}
		if !floatEquals(e.SlippageBps, a.SlippageBps) {
			divs = append(divs, FieldDivergence{Field: prefix + ".slippage_bps", Expected: e.SlippageBps, Actual: a.SlippageBps})
		}
	}
	return divs
}

// compareCounts compares per-kind persisted row counts.
func compareCounts(expected, actual domain.OutputCounts) []FieldDivergence {
	var divs []FieldDivergence
	pairs := []struct {
		field            string
		expected, actual int64
	}{
		{"counts.signals", expected.Signals, actual.Signals},
		{"counts.fills", expected.Fills, actual.Fills},
		{"counts.snapshots", expected.Snapshots, actual.Snapshots},
	}
	for _, p := range pairs {
		if p.expected != p.actual {
			divs = append(divs, FieldDivergence{Field: p.field, Expected: p.expected, Actual: p.actual})
		}
	}
	return divs
}

func floatEquals(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return math.Abs(a-b) <= FloatTolerance
}
