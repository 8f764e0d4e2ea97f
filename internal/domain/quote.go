package domain

import "time"

// Greeks are the option sensitivities. Theta is per calendar day.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// PriceQuote is an immutable pricing result. A newer quote supersedes it.
type PriceQuote struct {
	Mid       float64   `json:"mid"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Greeks    Greeks    `json:"greeks"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Spread returns ask minus bid.
func (q PriceQuote) Spread() float64 { return q.Ask - q.Bid }

// PoolQuote is the two-sided AMM price for a contract.
type PoolQuote struct {
	Contract   ContractID `json:"contract"`
	Bid        float64    `json:"bid"`
	Ask        float64    `json:"ask"`
	Mid        float64    `json:"mid"`
	ImpliedVol float64    `json:"implied_vol"`
	Depth      float64    `json:"depth"`
	Fallback   bool       `json:"fallback"`
	Timestamp  time.Time  `json:"timestamp"`
}
