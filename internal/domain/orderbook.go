package domain

import "time"

// BookLevel aggregates the active orders resting at one price.
type BookLevel struct {
	Price             float64 `json:"price"`
	AggregateQuantity int64   `json:"aggregate_quantity"`
	OrderCount        int     `json:"order_count"`
}

// BookState is the derived, aggregated view of a contract's book.
// Bids are ordered best (highest) first, asks best (lowest) first.
type BookState struct {
	Contract  ContractID  `json:"contract"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	BestBid   float64     `json:"best_bid"`
	BestAsk   float64     `json:"best_ask"`
	Spread    float64     `json:"spread"`
	HasBid    bool        `json:"has_bid"`
	HasAsk    bool        `json:"has_ask"`
	Timestamp time.Time   `json:"timestamp"`
}

// Mid returns the book midpoint, or 0 when either side is empty.
func (b BookState) Mid() float64 {
	if !b.HasBid || !b.HasAsk {
		return 0
	}
	return (b.BestBid + b.BestAsk) / 2
}
