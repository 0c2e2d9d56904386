package domain

// FinalMetrics is the terminal result of a completed run, computed from
// accumulated snapshots and trades.
type FinalMetrics struct {
	TotalReturn      float64 `json:"total_return"`      // (final equity / initial capital) - 1
	AnnualizedReturn float64 `json:"annualized_return"` // total return scaled to a 365-day year
	SharpeRatio      float64 `json:"sharpe_ratio"`      // mean/stddev of per-step returns, annualized
	MaxDrawdown      float64 `json:"max_drawdown"`      // worst peak-to-trough equity fraction
	TradeCount       int     `json:"trade_count"`
	WinCount         int     `json:"win_count"`
	WinRate          float64 `json:"win_rate"`
	FinalEquity      float64 `json:"final_equity"`
}

// Signal is a strategy decision: an instruction to buy or sell a
// quantity at the current reference price. The engine treats the
// strategy as an opaque function from (prices, portfolio) to signals.
type Signal struct {
	Side     Side
	Quantity float64
	Reason   string
}
