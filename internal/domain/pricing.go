package domain

// PriceTick is one observed price for an instrument.
type PriceTick struct {
	Instrument string
	TSMs       int64
	Price      float64
}

// BookLevel is one price/volume rung of a depth ladder.
type BookLevel struct {
	Price  float64
	Volume float64
}

// OrderBook is a priced depth snapshot. Bids are ordered best-first
// (descending price), asks best-first (ascending price).
type OrderBook struct {
	Bids []BookLevel
	Asks []BookLevel
}

// Quote is a simplified flat bid/ask used when no depth ladder exists.
type Quote struct {
	Bid float64
	Ask float64
}

// Book converts a flat quote into a single-level order book with
// effectively unlimited volume at each side.
func (q Quote) Book() *OrderBook {
	const flatVolume = 1e18
	return &OrderBook{
		Bids: []BookLevel{{Price: q.Bid, Volume: flatVolume}},
		Asks: []BookLevel{{Price: q.Ask, Volume: flatVolume}},
	}
}
