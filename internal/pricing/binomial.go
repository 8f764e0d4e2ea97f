package pricing

import (
	"math"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

const (
	minSteps = 5
	maxSteps = 50
)

// latticeGreeks are nominal sensitivities; the lattice is not differentiated.
var latticeGreeks = domain.Greeks{Delta: 0.5, Gamma: 0.1, Theta: -0.01, Vega: 0.05}

// Binomial is a Cox-Ross-Rubinstein lattice for short-dated binaries.
type Binomial struct{}

// Name implements Model.
func (Binomial) Name() string { return "binomial" }

// Steps returns the lattice depth for a time to expiry: one step per day,
// bounded to [5, 50].
func Steps(t float64) int {
	n := int(math.Ceil(t * domain.DaysPerYear))
	if n < minSteps {
		return minSteps
	}
	if n > maxSteps {
		return maxSteps
	}
	return n
}

// Price implements Model.
func (m Binomial) Price(in Inputs) domain.PriceQuote {
	if in.T <= 0 {
		return quote(expiredValue(in), domain.Greeks{}, in, m.Name())
	}
	if v, ok := boundaryValue(in); ok {
		return quote(v, domain.Greeks{}, in, m.Name())
	}

	n := Steps(in.T)
	dt := in.T / float64(n)
	vol := math.Max(in.Vol, minVol)
	u := math.Exp(vol * math.Sqrt(dt))
	d := 1 / u
	p := (math.Exp(in.Rate*dt) - d) / (u - d)
	p = math.Max(0, math.Min(1, p))
	disc := math.Exp(-in.Rate * dt)

	values := make([]float64, n+1)
	for j := 0; j <= n; j++ {
		terminal := in.Spot * math.Pow(u, float64(j)) * math.Pow(d, float64(n-j))
		values[j] = m.payoff(terminal, in)
	}
	for step := n - 1; step >= 0; step-- {
		for j := 0; j <= step; j++ {
			values[j] = disc * (p*values[j+1] + (1-p)*values[j])
		}
	}

	g := latticeGreeks
	if in.Type == domain.OptionTypePut {
		g.Delta = -g.Delta
	}
	return quote(values[0], g, in, m.Name())
}

func (Binomial) payoff(terminal float64, in Inputs) float64 {
	if in.Type == domain.OptionTypePut {
		if terminal < in.Strike {
			return 1
		}
		return 0
	}
	if terminal > in.Strike {
		return 1
	}
	return 0
}
