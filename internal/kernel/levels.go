package kernel

import (
	"errors"
	"math"
)

var ErrEmptyField = errors.New("kernel: empty scalar field")

// Range returns the minimum and maximum finite value of values.
func Range(values []float64) (lo, hi float64, err error) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0, ErrEmptyField
	}
	return lo, hi, nil
}

// Levels returns n evenly spaced values spanning [lo, hi] inclusive.
func Levels(n int, lo, hi float64) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}
