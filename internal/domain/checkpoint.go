package domain

// OutputKind identifies one of the four append-only output families
// produced by the execution loop.
type OutputKind string

// Output kind constants.
const (
	OutputKindTrade    OutputKind = "TRADE"
	OutputKindSignal   OutputKind = "SIGNAL"
	OutputKindFill     OutputKind = "FILL"
	OutputKindSnapshot OutputKind = "SNAPSHOT"
)

// OutputKinds lists every output kind in a fixed order.
var OutputKinds = []OutputKind{
	OutputKindTrade,
	OutputKindSignal,
	OutputKindFill,
	OutputKindSnapshot,
}

// OutputCounts tracks durably persisted row counts per output kind.
type OutputCounts struct {
	Trades    int64 `json:"trades"`
	Signals   int64 `json:"signals"`
	Fills     int64 `json:"fills"`
	Snapshots int64 `json:"snapshots"`
}

// Get returns the count for a kind.
func (c OutputCounts) Get(kind OutputKind) int64 {
	switch kind {
	case OutputKindTrade:
		return c.Trades
	case OutputKindSignal:
		return c.Signals
	case OutputKindFill:
		return c.Fills
	case OutputKindSnapshot:
		return c.Snapshots
	default:
		return 0
	}
}

// Add increments the count for a kind.
func (c *OutputCounts) Add(kind OutputKind, n int64) {
	switch kind {
	case OutputKindTrade:
		c.Trades += n
	case OutputKindSignal:
		c.Signals += n
	case OutputKindFill:
		c.Fills += n
	case OutputKindSnapshot:
		c.Snapshots += n
	}
}

// PositionState is a held position inside a portfolio snapshot.
type PositionState struct {
	Quantity float64 `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// PortfolioState is the serialized portfolio embedded in a checkpoint.
// The portfolio is in-memory only during execution; it is persisted
// solely as part of the checkpoint.
type PortfolioState struct {
	QuoteCurrency string                   `json:"quote_currency"`
	Cash          map[string]float64       `json:"cash"`
	Positions     map[string]PositionState `json:"positions"`
}

// Checkpoint is a point-in-time snapshot of engine progress.
//
// Invariant: PersistedCounts never exceeds what the engine has actually
// written for this run. On resume the invariant is actively restored by
// deleting newest-first any rows in excess of the recorded counts.
type Checkpoint struct {
	LastProcessedIndex int64          `json:"last_processed_index"`
	PersistedCounts    OutputCounts   `json:"persisted_counts"`
	Portfolio          PortfolioState `json:"portfolio"`
	RNGState           []byte         `json:"rng_state"`
	CreatedAtMs        int64          `json:"created_at_ms"`
}
