// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// NearestStrike rounds a spot price to the nearest strike on a step-sized
// grid. Halfway values round away from zero (math.Round semantics), so a
// spot of 22525.0 with step 50 maps to 22550.
func NearestStrike(spot float64, step int) int {
	if step <= 0 {
		return int(math.Round(spot))
	}
	return int(math.Round(spot/float64(step))) * step
}
