// Package model contains domain models passed between layers.
package model

import "math"

// Glicko bounds shared by the calculator, the blender and the stores.
const (
	DefaultRating     = 1500.0
	DefaultDeviation  = 350.0
	DefaultVolatility = 0.09

	// CluelessDeviation marks a rating estimate too uncertain to move others.
	CluelessDeviation = 230.0

	minSaneRating     = 0.0
	maxSaneRating     = 4000.0
	maxSaneDeviation  = 1000.0
	maxSaneVolatility = 0.2
)

// Rating is a Glicko-2 skill estimate. It is a value type; every operation
// returns a new Rating.
type Rating struct {
	Rating     float64 `json:"rating"`
	Deviation  float64 `json:"deviation"`
	Volatility float64 `json:"volatility"`
}

// DefaultGlicko returns the rating assigned to brand new players and puzzles.
func DefaultGlicko() Rating {
	return Rating{Rating: DefaultRating, Deviation: DefaultDeviation, Volatility: DefaultVolatility}
}

// Int returns the rating rounded to the nearest integer, as shown to players.
func (r Rating) Int() int {
	return int(math.Round(r.Rating))
}

// Average interpolates every component from r toward other. A weight of 1
// yields other, a weight of 0 yields r.
func (r Rating) Average(other Rating, weight float64) Rating {
	switch {
	case weight >= 1:
		return other
	case weight <= 0:
		return r
	}
	return Rating{
		Rating:     r.Rating*(1-weight) + other.Rating*weight,
		Deviation:  r.Deviation*(1-weight) + other.Deviation*weight,
		Volatility: r.Volatility*(1-weight) + other.Volatility*weight,
	}
}

// Capped limits the rating component to prior ± maxDelta.
func (r Rating) Capped(prior Rating, maxDelta float64) Rating {
	if maxDelta <= 0 {
		return r
	}
	r.Rating = math.Max(prior.Rating-maxDelta, math.Min(prior.Rating+maxDelta, r.Rating))
	return r
}

// Clueless reports whether the estimate is too uncertain to be used as the
// opponent strength for someone else's update.
func (r Rating) Clueless() bool {
	return r.Deviation >= CluelessDeviation
}

// SanityCheck rejects estimates that a numerically unstable update could
// produce: non-finite values or values outside plausible ranges.
func (r Rating) SanityCheck() bool {
	for _, v := range []float64{r.Rating, r.Deviation, r.Volatility} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Rating > minSaneRating && r.Rating < maxSaneRating &&
		r.Deviation > 0 && r.Deviation < maxSaneDeviation &&
		r.Volatility > 0 && r.Volatility < maxSaneVolatility
}
