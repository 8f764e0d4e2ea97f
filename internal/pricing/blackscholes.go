package pricing

import (
	"math"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

// nearStrike is the distance at which gamma is amplified to reflect the
// payoff step at the strike.
const (
	nearStrike       = 0.05
	nearStrikeFactor = 3.0
)

// strikeEpsilon keeps log(S/K) finite for strikes of 0 or 100.
const strikeEpsilon = 1e-4

// BlackScholes is the closed-form cash-or-nothing binary model.
type BlackScholes struct{}

// Name implements Model.
func (BlackScholes) Name() string { return "black_scholes_binary" }

// Price implements Model.
func (m BlackScholes) Price(in Inputs) domain.PriceQuote {
	if in.T <= 0 {
		return quote(expiredValue(in), domain.Greeks{}, in, m.Name())
	}
	if v, ok := boundaryValue(in); ok {
		return quote(v, domain.Greeks{}, in, m.Name())
	}

	discount := math.Exp(-in.Rate * in.T)
	d1, d2 := m.d(in)
	nd2 := NormPDF(d2)

	var value float64
	if in.Type == domain.OptionTypePut {
		value = discount * NormCDF(-d2)
	} else {
		value = discount * NormCDF(d2)
	}

	var g domain.Greeks
	if in.Vol >= minVol {
		sqrtT := math.Sqrt(in.T)
		s := in.Spot
		delta := discount * nd2 / (s * in.Vol * sqrtT)
		gamma := -discount * nd2 * d1 / (s * s * in.Vol * in.Vol * in.T)
		vega := -discount * nd2 * d1 / in.Vol / 100
		dd2dT := (in.Rate-0.5*in.Vol*in.Vol)/(in.Vol*sqrtT) - d2/(2*in.T)

		// dV/dT for the call; theta is its negative, per calendar day.
		dCdT := -in.Rate*discount*NormCDF(d2) + discount*nd2*dd2dT
		theta := -dCdT / domain.DaysPerYear

		if in.Type == domain.OptionTypePut {
			delta, gamma, vega = -delta, -gamma, -vega
			dPdT := -in.Rate*discount*NormCDF(-d2) - discount*nd2*dd2dT
			theta = -dPdT / domain.DaysPerYear
		}
		if math.Abs(in.Spot-in.Strike) < nearStrike {
			gamma *= nearStrikeFactor
		}
		g = domain.Greeks{Delta: delta, Gamma: gamma, Theta: theta, Vega: vega}
	}

	return quote(value, g, in, m.Name())
}

// d returns d1 and d2. Both collapse to zero for vol below minVol or a spot
// of exactly 0 or 1.
func (BlackScholes) d(in Inputs) (d1, d2 float64) {
	if in.Vol < minVol || in.Spot <= 0 || in.Spot >= 1 {
		return 0, 0
	}
	k := math.Max(strikeEpsilon, math.Min(1-strikeEpsilon, in.Strike))
	sqrtT := math.Sqrt(in.T)
	d1 = (math.Log(in.Spot/k) + (in.Rate+0.5*in.Vol*in.Vol)*in.T) / (in.Vol * sqrtT)
	d2 = d1 - in.Vol*sqrtT
	return d1, d2
}
