package domain

import "time"

// MarketSnapshot is the upstream view of a prediction market at a point in
// time. Probability is in [0,1].
type MarketSnapshot struct {
	MarketID    string    `json:"market_id"`
	Probability float64   `json:"probability"`
	Timestamp   time.Time `json:"timestamp"`
	Volume      float64   `json:"volume"`
	Liquidity   float64   `json:"liquidity"`
}

// Valid reports whether the snapshot carries a usable probability.
func (s MarketSnapshot) Valid() bool {
	return s.MarketID != "" && s.Probability >= 0 && s.Probability <= 1 && !s.Timestamp.IsZero()
}

// LiquidityFactor maps the upstream liquidity figure to the [0,1] factor
// consumed by the pricing spread adjustment.
func (s MarketSnapshot) LiquidityFactor() float64 {
	switch {
	case s.Liquidity <= 0:
		return 0
	case s.Liquidity >= 1_000_000:
		return 1
	default:
		return s.Liquidity / 1_000_000
	}
}

// HistoricalPoint is one observation of a market's probability.
type HistoricalPoint struct {
	Probability float64   `json:"probability"`
	Timestamp   time.Time `json:"timestamp"`
}
