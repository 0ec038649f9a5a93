package driver

import "math"

// Plausible reports whether next may replace prev. A reading is rejected
// when a previous value exists and the jump exceeds maxDelta. A maxDelta of
// zero or less disables the check.
func Plausible(prev *float64, next, maxDelta float64) bool {
	if prev == nil || maxDelta <= 0 {
		return true
	}
	return math.Abs(next-*prev) <= maxDelta
}
