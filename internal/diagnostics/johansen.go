package diagnostics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// 5% critical values for the Johansen tests with an unrestricted
// constant, indexed by K-r (MacKinnon-Haug-Michelis).
var (
	traceCrit5  = []float64{0, 3.841, 15.495, 29.796, 47.856, 69.819, 95.754}
	maxEigCrit5 = []float64{0, 3.841, 14.265, 21.132, 27.584, 33.877, 40.078}
)

var ErrTooManyVariables = errors.New("johansen: critical values tabulated up to 6 variables")

type JohansenResult struct {
	Variables   []string
	Lags        int
	NObs        int
	Eigenvalues []float64
	TraceStat   []float64 // indexed by hypothesized rank r
	TraceCrit   []float64
	MaxEigStat  []float64
	MaxEigCrit  []float64
	// Rank is the smallest r whose trace statistic falls below the 5%
	// critical value.
	Rank int

	// Eigenvectors spans the cointegration space, columns ordered by
	// descending eigenvalue. Column j is the candidate beta for the
	// j-th relation.
	Eigenvectors *mat.Dense
}

// Johansen runs the trace and maximum-eigenvalue cointegration rank
// tests on levels data Y (rows = time, cols = variables) for a VAR of
// the given lag order in levels.
func Johansen(names []string, Y *mat.Dense, lags int) (*JohansenResult, error) {
	T, K := Y.Dims()
	if K < 2 {
		return nil, fmt.Errorf("johansen: need at least 2 variables, got %d", K)
	}
	if K >= len(traceCrit5) {
		return nil, ErrTooManyVariables
	}
	if lags < 1 {
		return nil, fmt.Errorf("johansen: lag order %d must be >= 1", lags)
	}
	if T < lags+K+10 {
		return nil, fmt.Errorf("johansen: %d observations too few for lag order %d", T, lags)
	}

	// Effective sample: t = lags .. T-1 over levels.
	n := T - lags
	dLags := lags - 1

	// Z0: current differences, Z1: lagged levels, Z2: lagged differences
	// plus a constant.
	z2Cols := K*dLags + 1
	Z0 := mat.NewDense(n, K, nil)
	Z1 := mat.NewDense(n, K, nil)
	Z2 := mat.NewDense(n, z2Cols, nil)
	for i := 0; i < n; i++ {
		t := lags + i
		for j := 0; j < K; j++ {
			Z0.Set(i, j, Y.At(t, j)-Y.At(t-1, j))
			Z1.Set(i, j, Y.At(t-1, j))
		}
		for l := 1; l <= dLags; l++ {
			for j := 0; j < K; j++ {
				Z2.Set(i, (l-1)*K+j, Y.At(t-l, j)-Y.At(t-l-1, j))
			}
		}
		Z2.Set(i, z2Cols-1, 1)
	}

	R0, err := residualize(Z0, Z2)
	if err != nil {
		return nil, fmt.Errorf("johansen: %w", err)
	}
	R1, err := residualize(Z1, Z2)
	if err != nil {
		return nil, fmt.Errorf("johansen: %w", err)
	}

	S00 := crossProduct(R0, R0, n)
	S11 := crossProduct(R1, R1, n)
	S01 := crossProduct(R0, R1, n)

	var s00Inv, s11Inv mat.Dense
	if err := s00Inv.Inverse(S00); err != nil {
		return nil, fmt.Errorf("johansen: S00 singular: %w", err)
	}
	if err := s11Inv.Inverse(S11); err != nil {
		return nil, fmt.Errorf("johansen: S11 singular: %w", err)
	}

	// M = S11^-1 S10 S00^-1 S01
	var m, tmp mat.Dense
	tmp.Mul(S01.T(), &s00Inv)
	tmp.Mul(&tmp, S01)
	m.Mul(&s11Inv, &tmp)

	var eig mat.Eigen
	if !eig.Factorize(&m, mat.EigenRight) {
		return nil, errors.New("johansen: eigen decomposition failed")
	}

	values := eig.Values(nil)
	var vectors mat.CDense
	eig.VectorsTo(&vectors)

	type pair struct {
		lambda float64
		col    int
	}
	pairs := make([]pair, K)
	for j := 0; j < K; j++ {
		lambda := real(values[j])
		if lambda < 0 {
			lambda = 0
		}
		if lambda > 1-1e-12 {
			lambda = 1 - 1e-12
		}
		pairs[j] = pair{lambda: lambda, col: j}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].lambda > pairs[b].lambda })

	res := &JohansenResult{
		Variables:    append([]string(nil), names...),
		Lags:         lags,
		NObs:         n,
		Eigenvalues:  make([]float64, K),
		TraceStat:    make([]float64, K),
		TraceCrit:    make([]float64, K),
		MaxEigStat:   make([]float64, K),
		MaxEigCrit:   make([]float64, K),
		Eigenvectors: mat.NewDense(K, K, nil),
	}
	for rank, p := range pairs {
		res.Eigenvalues[rank] = p.lambda
		for i := 0; i < K; i++ {
			res.Eigenvectors.Set(i, rank, real(vectors.At(i, p.col)))
		}
	}

	for r := 0; r < K; r++ {
		trace := 0.0
		for i := r; i < K; i++ {
			trace += -float64(n) * math.Log(1-res.Eigenvalues[i])
		}
		res.TraceStat[r] = trace
		res.TraceCrit[r] = traceCrit5[K-r]
		res.MaxEigStat[r] = -float64(n) * math.Log(1-res.Eigenvalues[r])
		res.MaxEigCrit[r] = maxEigCrit5[K-r]
	}

	res.Rank = K
	for r := 0; r < K; r++ {
		if res.TraceStat[r] < res.TraceCrit[r] {
			res.Rank = r
			break
		}
	}

	return res, nil
}

// residualize returns M - Z (Z'Z)^-1 Z' M, the part of M orthogonal to Z.
func residualize(M, Z *mat.Dense) (*mat.Dense, error) {
	var gram mat.Dense
	gram.Mul(Z.T(), Z)
	var gramInv mat.Dense
	if err := gramInv.Inverse(&gram); err != nil {
		return nil, fmt.Errorf("short-run regressors collinear: %w", err)
	}

	var proj, coef, fitted mat.Dense
	proj.Mul(&gramInv, Z.T())
	coef.Mul(&proj, M)
	fitted.Mul(Z, &coef)

	n, k := M.Dims()
	out := mat.NewDense(n, k, nil)
	out.Sub(M, &fitted)
	return out, nil
}

func crossProduct(A, B *mat.Dense, n int) *mat.Dense {
	var out mat.Dense
	out.Mul(A.T(), B)
	out.Scale(1/float64(n), &out)
	return &out
}
