// Package reporting renders completed simulation runs as Markdown and
// CSV artifacts suitable for checking into a results directory or
// posting to a review channel.
package reporting

import "time"

// Report summarizes every completed run in the store.
type Report struct {
	GeneratedAt time.Time
	RunCount    int

	Runs       []RunRow
	Rejections []RejectionRow
}

// RunRow is one completed run in the summary table.
type RunRow struct {
	RunID      string
	Mode       string
	Instrument string
	StrategyID string
	TotalSteps int64

	FinalEquity      float64
	TotalReturn      float64
	AnnualizedReturn float64
	SharpeRatio      float64
	MaxDrawdown      float64
	TradeCount       int
	WinRate          float64

	Warnings []string
}

// RejectionRow aggregates order rejections by run and reason.
type RejectionRow struct {
	RunID  string
	Reason string
	Count  int64
}
