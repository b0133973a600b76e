package calc

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrSingular = errors.New("design matrix is singular")

// OLSResult holds one least-squares fit. Standard errors are the
// conventional homoskedastic ones.
type OLSResult struct {
	Coeff     []float64
	StdErr    []float64
	Residuals []float64
	RSS       float64
	TSS       float64
	R2        float64
	N         int
	K         int
}

// OLS fits y = Xb by QR decomposition.
func OLS(y []float64, X *mat.Dense) (*OLSResult, error) {
	n, k := X.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("ols: %d observations, %d design rows", len(y), n)
	}
	if n <= k {
		return nil, fmt.Errorf("ols: %d observations for %d parameters", n, k)
	}

	var qr mat.QR
	qr.Factorize(X)

	yVec := mat.NewVecDense(n, append([]float64(nil), y...))
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, yVec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	res := &OLSResult{
		Coeff:     make([]float64, k),
		StdErr:    make([]float64, k),
		Residuals: make([]float64, n),
		N:         n,
		K:         k,
	}
	for j := 0; j < k; j++ {
		res.Coeff[j] = beta.AtVec(j)
	}

	var fitted mat.VecDense
	fitted.MulVec(X, &beta)

	meanY := 0.0
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)

	for i := 0; i < n; i++ {
		e := y[i] - fitted.AtVec(i)
		res.Residuals[i] = e
		res.RSS += e * e
		d := y[i] - meanY
		res.TSS += d * d
	}
	if res.TSS > 0 {
		res.R2 = 1 - res.RSS/res.TSS
	}

	// Var(b) = s^2 (X'X)^-1
	sigma2 := res.RSS / float64(n-k)
	var gram mat.Dense
	gram.Mul(X.T(), X)
	var gramInv mat.Dense
	if err := gramInv.Inverse(&gram); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	for j := 0; j < k; j++ {
		res.StdErr[j] = math.Sqrt(sigma2 * gramInv.At(j, j))
	}

	return res, nil
}

// TStat returns the t statistic for coefficient j.
func (r *OLSResult) TStat(j int) float64 {
	if r.StdErr[j] == 0 {
		return math.NaN()
	}
	return r.Coeff[j] / r.StdErr[j]
}
