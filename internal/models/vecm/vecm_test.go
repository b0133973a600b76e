package vecm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// cointegratedPair builds log-level series tied by y2 = coeff*y1 plus a
// stationary error that both variables correct toward.
func cointegratedPair(n int, coeff float64, seed uint64) *mat.Dense {
	trendNoise := distuv.Normal{Mu: 0.002, Sigma: 0.01, Src: rand.NewSource(seed)}
	ectNoise := distuv.Normal{Mu: 0, Sigma: 0.005, Src: rand.NewSource(seed + 1)}

	Y := mat.NewDense(n, 2, nil)
	y1, ect := 8.0, 0.0
	for i := 0; i < n; i++ {
		y1 += trendNoise.Rand()
		ect = 0.7*ect + ectNoise.Rand()
		Y.Set(i, 0, coeff*y1+ect)
		Y.Set(i, 1, y1)
	}
	return Y
}

func TestVECM_RecoversLongRunCoefficient(t *testing.T) {
	Y := cointegratedPair(500, 1.4, 9)

	m := New(zap.NewNop(), Options{LagOrder: 2, IRFHorizon: 24})
	rank, err := m.RankTest([]string{"log_sp500", "log_balance"}, Y)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rank.Rank, 1)

	require.NoError(t, m.Fit(Y))
	require.True(t, m.IsFitted())

	beta, err := m.LongRunVector()
	require.NoError(t, err)
	require.Len(t, beta, 2)
	assert.Equal(t, 1.0, beta[0], "relation must be normalized on the first variable")
	// y1 = 1.4*y2 + ect means beta = (1, -1.4).
	assert.InDelta(t, -1.4, beta[1], 0.1)

	alpha, err := m.Adjustment()
	require.NoError(t, err)
	// The first variable carries the transitory error, so it must
	// correct toward the relation.
	assert.Negative(t, alpha[0])
}

func TestVECM_EndToEndSyntheticPanel(t *testing.T) {
	// 24+ months of synthetic S&P-like and Fed-balance-like levels with
	// an injected unit long-run elasticity.
	Y := cointegratedPair(120, 1.0, 77)

	m := New(zap.NewNop(), Options{LagOrder: 2, IRFHorizon: 12})
	rank, err := m.RankTest([]string{"log_sp500", "log_balance"}, Y)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rank.Rank, 1)
	require.NoError(t, m.Fit(Y))

	beta, err := m.LongRunVector()
	require.NoError(t, err)
	assert.InDelta(t, -1.0, beta[1], 0.25)
}

func TestVECM_RankZeroFailsSoft(t *testing.T) {
	n1 := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(31)}
	n2 := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(32)}

	n := 400
	Y := mat.NewDense(n, 2, nil)
	a, b := 0.0, 0.0
	for i := 0; i < n; i++ {
		a += n1.Rand()
		b += n2.Rand()
		Y.Set(i, 0, a)
		Y.Set(i, 1, b)
	}

	m := New(zap.NewNop(), Options{LagOrder: 2})
	rank, err := m.RankTest([]string{"a", "b"}, Y)
	require.NoError(t, err)
	require.Equal(t, 0, rank.Rank)

	err = m.Fit(Y)
	assert.ErrorIs(t, err, ErrNoCointegration)
	assert.False(t, m.IsFitted())

	_, err = m.LongRunVector()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestVECM_FitBeforeRankTest(t *testing.T) {
	m := New(zap.NewNop(), Options{LagOrder: 2})
	err := m.Fit(mat.NewDense(100, 2, nil))
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestVECM_IRFShapeAndImpact(t *testing.T) {
	Y := cointegratedPair(500, 1.2, 55)

	m := New(zap.NewNop(), Options{LagOrder: 2, IRFHorizon: 24})
	_, err := m.RankTest([]string{"a", "b"}, Y)
	require.NoError(t, err)
	require.NoError(t, m.Fit(Y))

	irf, err := m.IRF()
	require.NoError(t, err)
	require.Len(t, irf, 25)

	// Impact response is the Cholesky factor: lower triangular with
	// positive own-shock responses.
	assert.Greater(t, irf[0].At(0, 0), 0.0)
	assert.Equal(t, 0.0, irf[0].At(0, 1))
	assert.Greater(t, irf[0].At(1, 1), 0.0)
}
