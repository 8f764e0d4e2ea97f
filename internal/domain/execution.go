package domain

import (
	"github.com/shopspring/decimal"
)

// Venue is where an order is executed.
type Venue string

const (
	VenueAMM       Venue = "amm"
	VenueOrderBook Venue = "orderbook"
)

// ExecutionResult is the common result of executing against either venue.
type ExecutionResult struct {
	Venue    Venue           `json:"venue"`
	Contract ContractID      `json:"contract"`
	IsBuy    bool            `json:"is_buy"`
	Quantity int64           `json:"quantity"`
	AvgPrice float64         `json:"avg_price"`
	Fee      decimal.Decimal `json:"fee"`
	Trades   []Trade         `json:"trades"`
}

// Notional returns the total traded value excluding fees.
func (r ExecutionResult) Notional() decimal.Decimal {
	total := decimal.Zero
	for _, t := range r.Trades {
		total = total.Add(t.Notional())
	}
	return total
}

// VenueDecision explains a routing choice.
type VenueDecision struct {
	Venue     Venue   `json:"venue"`
	AMMPrice  float64 `json:"amm_price"`
	BookPrice float64 `json:"book_price"`
	BookDepth int64   `json:"book_depth"`
	Reason    string  `json:"reason"`
}
