package domain

// Side is the direction of a signal, order or fill.
type Side string

// Side constants.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SignalRecord is a strategy decision emitted at a step, recorded
// whether or not it resulted in a fill.
type SignalRecord struct {
	RunID      string
	StepIndex  int64
	Instrument string
	Side       Side
	Quantity   float64
	Price      float64 // reference price at signal time
	Reason     string  // strategy-provided cause
	TSMs       int64
}

// FillRecord is a simulated execution against the liquidity model.
type FillRecord struct {
	RunID          string
	StepIndex      int64
	OrderID        string
	Instrument     string
	Side           Side
	Quantity       float64
	RequestedPrice float64 // reference price the signal was priced at
	ExecutedPrice  float64 // VWAP including worst-case extrapolation and noise
	SlippageBps    float64 // signed, unfavorable positive
	Fee            float64
	TSMs           int64
}

// TradeRecord is the portfolio-affecting result of a fill.
type TradeRecord struct {
	RunID      string
	StepIndex  int64
	TradeID    string
	OrderID    string
	Instrument string
	Side       Side
	Quantity   float64
	Price      float64 // executed price
	Notional   float64 // quantity * price
	Fee        float64
	CashAfter  float64 // quote balance after mutation
	TSMs       int64
}

// PerformanceSnapshot captures portfolio valuation at a step.
type PerformanceSnapshot struct {
	RunID     string
	StepIndex int64
	Equity    float64 // cash + positions marked at current price
	Cash      float64 // quote currency balance
	Exposure  float64 // position notional / initial capital
	Drawdown  float64 // running max drawdown fraction
	TSMs      int64
}

// OutputBatch groups output rows buffered since the last checkpoint.
// A batch plus its checkpoint commit as one atomic unit.
type OutputBatch struct {
	Trades    []*TradeRecord
	Signals   []*SignalRecord
	Fills     []*FillRecord
	Snapshots []*PerformanceSnapshot
}

// Empty reports whether the batch holds no rows.
func (b *OutputBatch) Empty() bool {
	return b == nil ||
		(len(b.Trades) == 0 && len(b.Signals) == 0 && len(b.Fills) == 0 && len(b.Snapshots) == 0)
}

// Counts returns per-kind row counts for the batch.
func (b *OutputBatch) Counts() OutputCounts {
	if b == nil {
		return OutputCounts{}
	}
	return OutputCounts{
		Trades:    int64(len(b.Trades)),
		Signals:   int64(len(b.Signals)),
		Fills:     int64(len(b.Fills)),
		Snapshots: int64(len(b.Snapshots)),
	}
}
