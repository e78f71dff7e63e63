// Package glicko implements the Glicko-2 rating period calculation for a
// single game between a player and a puzzle.
//
// See Mark Glickman, "Example of the Glicko-2 system" (2013).
package glicko

import (
	"errors"
	"fmt"
	"math"

	"github.com/okian/ratekeep/internal/domain/model"
)

// Default calculator configuration constants.
const (
	defaultTau           = 0.75
	defaultMaxIterations = 1000
	defaultMinDeviation  = 45.0
	defaultMaxDeviation  = 500.0
	defaultMaxVolatility = 0.1

	glickoScale      = 173.7178
	convergenceDelta = 0.000001
)

// ErrCalculation is returned when a rating period cannot be computed.
var ErrCalculation = errors.New("rating calculation failed")

// Option applies a configuration option to the Calculator.
type Option func(*Calculator)

// WithTau sets the system constant constraining volatility changes.
func WithTau(tau float64) Option {
	return func(c *Calculator) {
		if tau > 0 {
			c.tau = tau
		}
	}
}

// WithMaxIterations bounds the volatility root search.
func WithMaxIterations(n int) Option {
	return func(c *Calculator) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithDeviationRange bounds the resulting rating deviation.
func WithDeviationRange(minDeviation, maxDeviation float64) Option {
	return func(c *Calculator) {
		if minDeviation > 0 && maxDeviation > minDeviation {
			c.minDeviation = minDeviation
			c.maxDeviation = maxDeviation
		}
	}
}

// Calculator computes Glicko-2 updates. It is stateless after construction
// and safe for concurrent use.
type Calculator struct {
	tau           float64
	maxIterations int
	minDeviation  float64
	maxDeviation  float64
	maxVolatility float64
}

// NewCalculator creates a calculator with configuration options.
func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		tau:           defaultTau,
		maxIterations: defaultMaxIterations,
		minDeviation:  defaultMinDeviation,
		maxDeviation:  defaultMaxDeviation,
		maxVolatility: defaultMaxVolatility,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update plays one rating period where a faces b. It returns the new ratings
// of both sides; the inputs are never modified.
func (c *Calculator) Update(a, b model.Rating, aWon bool) (model.Rating, model.Rating, error) {
	if err := validate(a); err != nil {
		return a, b, err
	}
	if err := validate(b); err != nil {
		return a, b, err
	}

	scoreA := 0.0
	if aWon {
		scoreA = 1
	}

	newA, err := c.period(a, b, scoreA)
	if err != nil {
		return a, b, err
	}
	newB, err := c.period(b, a, 1-scoreA)
	if err != nil {
		return a, b, err
	}
	return newA, newB, nil
}

// period computes the new rating of p after a single game against o with
// score s (1 win, 0 loss).
func (c *Calculator) period(p, o model.Rating, s float64) (model.Rating, error) {
	mu := (p.Rating - model.DefaultRating) / glickoScale
	phi := p.Deviation / glickoScale
	muJ := (o.Rating - model.DefaultRating) / glickoScale
	phiJ := o.Deviation / glickoScale

	gJ := g(phiJ)
	e := expected(mu, muJ, gJ)
	v := 1 / (gJ * gJ * e * (1 - e))
	delta := v * gJ * (s - e)

	sigma, err := c.volatility(phi, p.Volatility, v, delta)
	if err != nil {
		return p, err
	}

	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	newPhi := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	newMu := mu + newPhi*newPhi*gJ*(s-e)

	out := model.Rating{
		Rating:     newMu*glickoScale + model.DefaultRating,
		Deviation:  clamp(newPhi*glickoScale, c.minDeviation, c.maxDeviation),
		Volatility: math.Min(sigma, c.maxVolatility),
	}
	if math.IsNaN(out.Rating) || math.IsInf(out.Rating, 0) {
		return p, fmt.Errorf("%w: non-finite rating", ErrCalculation)
	}
	return out, nil
}

// volatility runs the Illinois root search of step 5.
func (c *Calculator) volatility(phi, sigma, v, delta float64) (float64, error) {
	a := math.Log(sigma * sigma)
	tau2 := c.tau * c.tau
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2 * math.Pow(phi*phi+v+ex, 2)
		return num/den - (x-a)/tau2
	}

	bigA := a
	var bigB float64
	if delta*delta > phi*phi+v {
		bigB = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k*c.tau) < 0 {
			k++
			if int(k) > c.maxIterations {
				return 0, fmt.Errorf("%w: volatility bracket not found", ErrCalculation)
			}
		}
		bigB = a - k*c.tau
	}

	fA, fB := f(bigA), f(bigB)
	for i := 0; math.Abs(bigB-bigA) > convergenceDelta; i++ {
		if i >= c.maxIterations {
			return 0, fmt.Errorf("%w: volatility did not converge", ErrCalculation)
		}
		bigC := bigA + (bigA-bigB)*fA/(fB-fA)
		fC := f(bigC)
		if fC*fB <= 0 {
			bigA, fA = bigB, fB
		} else {
			fA /= 2
		}
		bigB, fB = bigC, fC
	}
	return math.Exp(bigA / 2), nil
}

func validate(r model.Rating) error {
	if r.Deviation <= 0 || r.Volatility <= 0 || math.IsNaN(r.Rating) || math.IsInf(r.Rating, 0) {
		return fmt.Errorf("%w: invalid input %+v", ErrCalculation, r)
	}
	return nil
}

func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expected(mu, muJ, gJ float64) float64 {
	return 1 / (1 + math.Exp(-gJ*(mu-muJ)))
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
