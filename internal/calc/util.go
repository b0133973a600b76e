package calc

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Diff returns first differences, one element shorter than the input.
func Diff(v []float64) []float64 {
	out := make([]float64, len(v)-1)
	for i := 1; i < len(v); i++ {
		out[i-1] = v[i] - v[i-1]
	}
	return out
}

// Lag returns v shifted back by k: Lag(v, k)[i] = v[i-k], NaN before.
func Lag(v []float64, k int) []float64 {
	out := make([]float64, len(v))
	for i := range out {
		if i < k {
			out[i] = math.NaN()
		} else {
			out[i] = v[i-k]
		}
	}
	return out
}

// HasNaN reports whether any value is missing.
func HasNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Design assembles a dense matrix from columns, dropping every row where
// any input (y included) is missing. Returns the cleaned response,
// the design matrix, and the kept row indices.
func Design(y []float64, cols ...[]float64) ([]float64, *mat.Dense, []int) {
	var keep []int
	for i := range y {
		row := make([]float64, 0, len(cols)+1)
		row = append(row, y[i])
		for _, c := range cols {
			row = append(row, c[i])
		}
		if !HasNaN(row...) {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, nil, nil
	}

	cleanY := make([]float64, len(keep))
	X := mat.NewDense(len(keep), len(cols), nil)
	for r, i := range keep {
		cleanY[r] = y[i]
		for j, c := range cols {
			X.Set(r, j, c[i])
		}
	}
	return cleanY, X, keep
}

// Ones is the intercept column.
func Ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
