package vecm

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"macropulse/internal/calc"
	"macropulse/internal/diagnostics"
)

var (
	// ErrNoCointegration is returned when the rank test finds no
	// cointegrating relation; long-run outputs are skipped downstream.
	ErrNoCointegration = errors.New("no cointegrating relation found")
	ErrNotFitted       = errors.New("vecm not fitted")
)

type state int

const (
	stateUnfit state = iota
	stateRankDetermined
	stateFitted
)

type Options struct {
	// LagOrder is the lag order of the underlying VAR in levels; the
	// error-correction form uses LagOrder-1 lags in differences.
	LagOrder   int
	IRFHorizon int
}

// Model estimates a vector error-correction model: the Johansen rank
// test determines the cointegration rank, then the error-correction
// form is fit equation by equation with the rank-test eigenvectors as
// the long-run relations.
type Model struct {
	logger *zap.Logger
	opts   Options
	st     state

	names []string
	rank  *diagnostics.JohansenResult

	// Beta columns are the normalized long-run relations (first
	// variable's loading fixed to 1). Alpha holds the adjustment
	// speeds toward each relation.
	Beta      *mat.Dense
	Alpha     *mat.Dense
	Gamma     []*mat.Dense
	Intercept []float64
	Residuals *mat.Dense
	Sigma     *mat.SymDense
}

func New(logger *zap.Logger, opts Options) *Model {
	if opts.IRFHorizon <= 0 {
		opts.IRFHorizon = 24
	}
	return &Model{logger: logger, opts: opts, st: stateUnfit}
}

// RankTest runs the Johansen test and records the inferred rank.
func (m *Model) RankTest(names []string, Y *mat.Dense) (*diagnostics.JohansenResult, error) {
	res, err := diagnostics.Johansen(names, Y, m.opts.LagOrder)
	if err != nil {
		return nil, err
	}
	m.names = append([]string(nil), names...)
	m.rank = res
	m.st = stateRankDetermined

	m.logger.Info("cointegration rank determined",
		zap.Strings("variables", names),
		zap.Int("rank", res.Rank),
		zap.Float64("trace_r0", res.TraceStat[0]),
		zap.Float64("trace_crit_r0", res.TraceCrit[0]))
	return res, nil
}

// Fit estimates the error-correction form. Must follow a RankTest that
// found rank >= 1.
func (m *Model) Fit(Y *mat.Dense) error {
	if m.st < stateRankDetermined {
		return fmt.Errorf("rank test must run before fitting: %w", ErrNotFitted)
	}
	if m.rank.Rank == 0 {
		return ErrNoCointegration
	}

	T, K := Y.Dims()
	r := m.rank.Rank
	p := m.opts.LagOrder
	dLags := p - 1
	n := T - p

	// Normalize each relation on the first variable.
	m.Beta = mat.NewDense(K, r, nil)
	for j := 0; j < r; j++ {
		pivot := m.rank.Eigenvectors.At(0, j)
		if pivot == 0 {
			return fmt.Errorf("beta relation %d: zero loading on %s", j, m.names[0])
		}
		for i := 0; i < K; i++ {
			m.Beta.Set(i, j, m.rank.Eigenvectors.At(i, j)/pivot)
		}
	}

	// Regressors: r error-correction terms, K*dLags lagged differences,
	// and an intercept.
	nCols := r + K*dLags + 1
	X := mat.NewDense(n, nCols, nil)
	dY := mat.NewDense(n, K, nil)
	for i := 0; i < n; i++ {
		t := p + i
		for j := 0; j < K; j++ {
			dY.Set(i, j, Y.At(t, j)-Y.At(t-1, j))
		}
		for j := 0; j < r; j++ {
			ect := 0.0
			for k := 0; k < K; k++ {
				ect += m.Beta.At(k, j) * Y.At(t-1, k)
			}
			X.Set(i, j, ect)
		}
		for l := 1; l <= dLags; l++ {
			for k := 0; k < K; k++ {
				X.Set(i, r+(l-1)*K+k, Y.At(t-l, k)-Y.At(t-l-1, k))
			}
		}
		X.Set(i, nCols-1, 1)
	}

	m.Alpha = mat.NewDense(K, r, nil)
	m.Gamma = make([]*mat.Dense, dLags)
	for l := range m.Gamma {
		m.Gamma[l] = mat.NewDense(K, K, nil)
	}
	m.Intercept = make([]float64, K)
	m.Residuals = mat.NewDense(n, K, nil)

	for eq := 0; eq < K; eq++ {
		y := make([]float64, n)
		for i := 0; i < n; i++ {
			y[i] = dY.At(i, eq)
		}
		fit, err := calc.OLS(y, X)
		if err != nil {
			return fmt.Errorf("equation %s: %w", m.names[eq], err)
		}
		for j := 0; j < r; j++ {
			m.Alpha.Set(eq, j, fit.Coeff[j])
		}
		for l := 0; l < dLags; l++ {
			for k := 0; k < K; k++ {
				m.Gamma[l].Set(eq, k, fit.Coeff[r+l*K+k])
			}
		}
		m.Intercept[eq] = fit.Coeff[nCols-1]
		for i := 0; i < n; i++ {
			m.Residuals.Set(i, eq, fit.Residuals[i])
		}
	}

	m.Sigma = mat.NewSymDense(K, nil)
	for a := 0; a < K; a++ {
		for b := a; b < K; b++ {
			s := 0.0
			for i := 0; i < n; i++ {
				s += m.Residuals.At(i, a) * m.Residuals.At(i, b)
			}
			m.Sigma.SetSym(a, b, s/float64(n-nCols))
		}
	}

	m.st = stateFitted
	m.logger.Info("vecm fitted",
		zap.Int("rank", r),
		zap.Int("lag_order", p),
		zap.Int("observations", n))
	return nil
}

func (m *Model) IsFitted() bool { return m.st == stateFitted }

func (m *Model) Rank() *diagnostics.JohansenResult { return m.rank }

// LongRunVector returns the first normalized cointegrating relation.
func (m *Model) LongRunVector() ([]float64, error) {
	if m.st != stateFitted {
		return nil, ErrNotFitted
	}
	K, _ := m.Beta.Dims()
	out := make([]float64, K)
	for i := 0; i < K; i++ {
		out[i] = m.Beta.At(i, 0)
	}
	return out, nil
}

// Adjustment returns the speed-of-error-correction coefficients for the
// first relation, one per equation.
func (m *Model) Adjustment() ([]float64, error) {
	if m.st != stateFitted {
		return nil, ErrNotFitted
	}
	K, _ := m.Alpha.Dims()
	out := make([]float64, K)
	for i := 0; i < K; i++ {
		out[i] = m.Alpha.At(i, 0)
	}
	return out, nil
}

// IRF computes orthogonalized impulse responses over the configured
// horizon by rewriting the error-correction form as a VAR in levels and
// propagating a Cholesky-scaled shock.
//
// Result: IRF()[h].At(i, j) is the response of variable i at horizon h
// to a one-standard-deviation shock in variable j.
func (m *Model) IRF() ([]*mat.Dense, error) {
	if m.st != stateFitted {
		return nil, ErrNotFitted
	}

	K, _ := m.Alpha.Dims()
	p := m.opts.LagOrder

	// Pi = alpha beta'
	var pi mat.Dense
	pi.Mul(m.Alpha, m.Beta.T())

	// Level-VAR coefficients from the error-correction form.
	A := make([]*mat.Dense, p)
	for i := range A {
		A[i] = mat.NewDense(K, K, nil)
	}
	for i := 0; i < K; i++ {
		A[0].Set(i, i, 1)
	}
	A[0].Add(A[0], &pi)
	if len(m.Gamma) > 0 {
		A[0].Add(A[0], m.Gamma[0])
	}
	for l := 1; l < p-1; l++ {
		A[l].Sub(m.Gamma[l], m.Gamma[l-1])
	}
	if p > 1 {
		var neg mat.Dense
		neg.Scale(-1, m.Gamma[p-2])
		A[p-1].Copy(&neg)
	}

	var chol mat.Cholesky
	if !chol.Factorize(m.Sigma) {
		return nil, errors.New("residual covariance is not positive definite")
	}
	L := mat.NewTriDense(K, mat.Lower, nil)
	chol.LTo(L)

	psi := make([]*mat.Dense, m.opts.IRFHorizon+1)
	psi[0] = mat.NewDense(K, K, nil)
	psi[0].Copy(L)
	for h := 1; h <= m.opts.IRFHorizon; h++ {
		psi[h] = mat.NewDense(K, K, nil)
		for i := 1; i <= p && i <= h; i++ {
			var term mat.Dense
			term.Mul(A[i-1], psi[h-i])
			psi[h].Add(psi[h], &term)
		}
	}
	return psi, nil
}
