package diagnostics

import (
	"fmt"
	"math"

	"macropulse/internal/calc"
)

// Augmented Dickey-Fuller critical values, regression with constant.
var adfCriticalValues = map[string]float64{
	"1%":  -3.43,
	"5%":  -2.86,
	"10%": -2.57,
}

type ADFResult struct {
	Series         string
	Statistic      float64
	Lags           int
	NObs           int
	CriticalValues map[string]float64
	// Stationary is the verdict at the 5% level.
	Stationary bool
}

// ADF runs the augmented Dickey-Fuller unit-root test with a constant.
// lags < 0 selects the Schwert rule 12*(T/100)^0.25.
func ADF(name string, y []float64, lags int) (*ADFResult, error) {
	n := 0
	for _, v := range y {
		if !math.IsNaN(v) {
			n++
		}
	}
	if lags < 0 {
		lags = int(math.Floor(12 * math.Pow(float64(n)/100, 0.25)))
	}
	if n < lags+10 {
		return nil, fmt.Errorf("adf %s: %d observations too few for %d lags", name, n, lags)
	}

	// dy_t on [y_{t-1}, dy_{t-1..p}, const], all aligned on the raw index.
	dy := make([]float64, len(y))
	dy[0] = math.NaN()
	for i := 1; i < len(y); i++ {
		dy[i] = y[i] - y[i-1]
	}

	cols := [][]float64{calc.Lag(y, 1)}
	for k := 1; k <= lags; k++ {
		cols = append(cols, calc.Lag(dy, k))
	}
	cols = append(cols, calc.Ones(len(y)))

	cleanY, X, keep := calc.Design(dy, cols...)
	if X == nil {
		return nil, fmt.Errorf("adf %s: no usable observations", name)
	}

	fit, err := calc.OLS(cleanY, X)
	if err != nil {
		return nil, fmt.Errorf("adf %s: %w", name, err)
	}

	stat := fit.TStat(0)
	return &ADFResult{
		Series:         name,
		Statistic:      stat,
		Lags:           lags,
		NObs:           len(keep),
		CriticalValues: adfCriticalValues,
		Stationary:     stat < adfCriticalValues["5%"],
	}, nil
}
