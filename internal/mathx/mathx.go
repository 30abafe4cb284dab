// Package mathx holds the small numeric helpers shared by the simulation systems.
package mathx

import "golang.org/x/exp/constraints"

// Clamp returns v limited to [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 limits v to the unit interval.
func Clamp01[T constraints.Float](v T) T {
	return Clamp(v, 0, 1)
}

// Lerp blends a toward b by weight w (0 = a, 1 = b).
func Lerp[T constraints.Float](a, b, w T) T {
	return a + (b-a)*w
}

// Positive returns v, or zero when v is negative.
func Positive[T constraints.Float](v T) T {
	if v < 0 {
		return 0
	}
	return v
}
