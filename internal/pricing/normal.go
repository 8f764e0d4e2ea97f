package pricing

import "math"

// Coefficients of the Abramowitz & Stegun 26.2.17 rational approximation.
// Absolute error is below 7.5e-8 over the whole real line.
const (
	asP  = 0.2316419
	asB1 = 0.319381530
	asB2 = -0.356563782
	asB3 = 1.781477937
	asB4 = -1.821255978
	asB5 = 1.330274429
)

var invSqrt2Pi = 1 / math.Sqrt(2*math.Pi)

// NormPDF is the standard normal density.
func NormPDF(x float64) float64 {
	return invSqrt2Pi * math.Exp(-0.5*x*x)
}

// NormCDF is the standard normal cumulative distribution function.
func NormCDF(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return 0.5
	case x > 8:
		return 1
	case x < -8:
		return 0
	}
	ax := math.Abs(x)
	t := 1 / (1 + asP*ax)
	poly := t * (asB1 + t*(asB2+t*(asB3+t*(asB4+t*asB5))))
	upper := NormPDF(ax) * poly
	if x >= 0 {
		return 1 - upper
	}
	return upper
}
