package diagnostics

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"macropulse/internal/calc"
)

// TestResult is one residual diagnostic: statistic, chi-squared degrees
// of freedom, and p-value.
type TestResult struct {
	Name      string
	Statistic float64
	DF        int
	PValue    float64
}

// Reject reports whether the null is rejected at the given level.
func (t TestResult) Reject(level float64) bool { return t.PValue < level }

func chiSqPValue(stat float64, df int) float64 {
	return distuv.ChiSquared{K: float64(df)}.Survival(stat)
}

// LjungBox tests residual autocorrelation up to the given lag.
// Null: no autocorrelation.
func LjungBox(residuals []float64, lags int) (TestResult, error) {
	n := len(residuals)
	if lags >= n {
		return TestResult{}, fmt.Errorf("ljung-box: %d lags for %d residuals", lags, n)
	}

	q := 0.0
	for k := 1; k <= lags; k++ {
		rho := calc.Autocorrelation(residuals, k)
		q += rho * rho / float64(n-k)
	}
	q *= float64(n) * float64(n+2)

	return TestResult{
		Name:      "ljung_box",
		Statistic: q,
		DF:        lags,
		PValue:    chiSqPValue(q, lags),
	}, nil
}

// ARCHLM tests for conditional heteroskedasticity by regressing squared
// residuals on their own lags. Null: no ARCH effects.
func ARCHLM(residuals []float64, lags int) (TestResult, error) {
	n := len(residuals)
	if n < lags+10 {
		return TestResult{}, fmt.Errorf("arch-lm: %d residuals too few for %d lags", n, lags)
	}

	sq := make([]float64, n)
	for i, e := range residuals {
		sq[i] = e * e
	}

	cols := make([][]float64, 0, lags+1)
	for k := 1; k <= lags; k++ {
		cols = append(cols, calc.Lag(sq, k))
	}
	cols = append(cols, calc.Ones(n))

	cleanY, X, _ := calc.Design(sq, cols...)
	if X == nil {
		return TestResult{}, fmt.Errorf("arch-lm: no usable observations")
	}
	fit, err := calc.OLS(cleanY, X)
	if err != nil {
		return TestResult{}, fmt.Errorf("arch-lm: %w", err)
	}

	lm := float64(fit.N) * fit.R2
	return TestResult{
		Name:      "arch_lm",
		Statistic: lm,
		DF:        lags,
		PValue:    chiSqPValue(lm, lags),
	}, nil
}

// JarqueBera tests residual normality from skewness and excess kurtosis.
// Null: normal.
func JarqueBera(residuals []float64) TestResult {
	n := float64(len(residuals))
	skew := stat.Skew(residuals, nil)
	exKurt := stat.ExKurtosis(residuals, nil)

	jb := n / 6 * (skew*skew + exKurt*exKurt/4)
	return TestResult{
		Name:      "jarque_bera",
		Statistic: jb,
		DF:        2,
		PValue:    chiSqPValue(jb, 2),
	}
}

// ResidualDiagnostics bundles the three standard checks on a fitted
// model's residuals.
func ResidualDiagnostics(residuals []float64, lags int) ([]TestResult, error) {
	lb, err := LjungBox(residuals, lags)
	if err != nil {
		return nil, err
	}
	arch, err := ARCHLM(residuals, lags)
	if err != nil {
		return nil, err
	}
	return []TestResult{lb, arch, JarqueBera(residuals)}, nil
}
