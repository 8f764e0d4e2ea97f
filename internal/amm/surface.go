package amm

import (
	"math"

	"github.com/shopspring/decimal"
)

// ImpliedVolatility adjusts base for moneyness and time to expiry. Far in
// or out of the money and short-dated contracts carry higher volatility.
func ImpliedVolatility(base, spot, strike, days float64) float64 {
	moneyness := math.Abs(spot - strike)
	iv := base * (1 + 1.5*moneyness)
	switch {
	case days < 1:
		iv *= 1.5
	case days < 7:
		iv *= 1.2
	case days > 180:
		iv *= 0.9
	}
	return math.Max(0.05, math.Min(5, iv))
}

// DepthScore combines pool size, traded volume, and the upstream liquidity
// factor into a score in [0,1].
func DepthScore(total, volume, minLiquidity decimal.Decimal, liquidityFactor float64) float64 {
	if minLiquidity.Sign() <= 0 {
		minLiquidity = decimal.NewFromInt(1)
	}
	pool, _ := total.Div(minLiquidity.Mul(decimal.NewFromInt(10))).Float64()
	vol, _ := volume.Div(minLiquidity.Mul(decimal.NewFromInt(5))).Float64()
	score := 0.5*math.Min(1, pool) + 0.3*math.Min(1, vol) + 0.2*math.Max(0, math.Min(1, liquidityFactor))
	return math.Max(0, math.Min(1, score))
}

// QuoteSpread returns the full bid/ask width for a pool. It widens as depth
// falls, as expiry approaches, and near the price extremes.
func QuoteSpread(depth, days, mid float64) float64 {
	s := 0.02 * (1 + 2*(1-depth))
	switch {
	case days < 1:
		s *= 2
	case days < 7:
		s *= 1.5
	}
	if mid < 0.1 || mid > 0.9 {
		s *= 1.5
	}
	return math.Max(0.01, math.Min(0.2, s))
}

// ImpermanentLoss returns the provider's divergence loss for a move from
// entry to current. The result is zero or negative.
func ImpermanentLoss(entry, current, days, iv, baseVol float64) float64 {
	if entry <= 0 || current <= 0 {
		return 0
	}
	if math.Abs(current-entry)/entry < 0.001 {
		return 0
	}
	r := current / entry
	il := 2*math.Sqrt(r)/(1+r) - 1
	switch {
	case days < 18:
		il *= 1.5
	case days > 182.5:
		il *= 0.8
	}
	if baseVol > 0 && iv > baseVol {
		il *= iv / baseVol
	}
	if math.IsNaN(il) || math.IsInf(il, 0) {
		return 0
	}
	return il
}
