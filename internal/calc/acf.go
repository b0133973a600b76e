package calc

import "gonum.org/v1/gonum/stat"

// Autocorrelation at the given lag. Denominator uses the full-sample
// variance so the usual Bartlett bounds apply.
func Autocorrelation(data []float64, lag int) float64 {
	n := len(data)
	if lag >= n {
		panic("lag must be less than data length")
	}

	mean := stat.Mean(data, nil)

	var numerator, denominator float64
	for i := 0; i < n-lag; i++ {
		numerator += (data[i] - mean) * (data[i+lag] - mean)
	}
	for i := 0; i < n; i++ {
		diff := data[i] - mean
		denominator += diff * diff
	}
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
