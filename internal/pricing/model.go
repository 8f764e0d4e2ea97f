// Package pricing values binary options written on a probability
// underlying. Two models are provided: a closed-form Black-Scholes binary
// model and a binomial lattice for short-dated contracts. Both apply the
// same liquidity spread to turn a fair value into a two-sided quote.
package pricing

import (
	"math"
	"time"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// ShortDatedCutoff is the time to expiry, in years, below which the
// lattice model replaces the closed-form model.
const ShortDatedCutoff = 7.0 / 365.0

// Boundary thresholds for the spot guard.
const (
	spotFloor   = 0.001
	spotCeiling = 0.999
	minVol      = 0.01
)

// Inputs are the model parameters. Spot and Strike are probabilities in
// [0,1]; T is in years; Vol and Rate are annualised.
type Inputs struct {
	Spot            float64
	Strike          float64
	T               float64
	Vol             float64
	Rate            float64
	Type            domain.OptionType
	LiquidityFactor float64
}

// Model prices a binary option.
type Model interface {
	Name() string
	Price(in Inputs) domain.PriceQuote
}

var (
	closedForm Model = BlackScholes{}
	lattice    Model = Binomial{}
)

// Select returns the model used for the given time to expiry.
func Select(t float64) Model {
	if t < ShortDatedCutoff {
		return lattice
	}
	return closedForm
}

// Price values in with the model chosen by Select.
func Price(in Inputs) domain.PriceQuote {
	return Select(in.T).Price(in)
}

// ApplySpread widens a fair value into a bid/ask pair. The half spread is
// 0.025*(1+liquidityFactor) bounded to [0.005, 0.1].
func ApplySpread(mid, liquidityFactor float64) (bid, ask float64) {
	half := math.Max(0.005, math.Min(0.1, 0.025*(1+liquidityFactor)))
	return clamp01(mid - half), clamp01(mid + half)
}

// expiredValue is the payoff at expiry: exactly 1 or 0.
func expiredValue(in Inputs) float64 {
	if in.Type == domain.OptionTypePut {
		if in.Spot < in.Strike {
			return 1
		}
		return 0
	}
	if in.Spot > in.Strike {
		return 1
	}
	return 0
}

// boundaryValue returns the fixed quote for a spot pinned near 0 or 1.
// ok is false when the spot is not near a boundary.
func boundaryValue(in Inputs) (value float64, ok bool) {
	discount := math.Exp(-in.Rate * in.T)
	switch {
	case in.Spot < spotFloor:
		if in.Type == domain.OptionTypePut {
			return discount, true
		}
		return 0, true
	case in.Spot > spotCeiling:
		if in.Type == domain.OptionTypePut {
			return 0, true
		}
		return discount, true
	}
	return 0, false
}

func quote(mid float64, g domain.Greeks, in Inputs, model string) domain.PriceQuote {
	mid = clamp01(finiteOr(mid, 0.5))
	bid, ask := ApplySpread(mid, in.LiquidityFactor)
	return domain.PriceQuote{
		Mid:       mid,
		Bid:       bid,
		Ask:       ask,
		Greeks:    sanitizeGreeks(g),
		Model:     model,
		Timestamp: time.Now().UTC(),
	}
}

func sanitizeGreeks(g domain.Greeks) domain.Greeks {
	return domain.Greeks{
		Delta: finiteOr(g.Delta, 0),
		Gamma: finiteOr(g.Gamma, 0),
		Theta: finiteOr(g.Theta, 0),
		Vega:  finiteOr(g.Vega, 0),
	}
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
