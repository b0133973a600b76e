package diagnostics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

func randomWalk(n int, noise distuv.Normal) []float64 {
	out := make([]float64, n)
	for i := 1; i < n; i++ {
		out[i] = out[i-1] + noise.Rand()
	}
	return out
}

func TestADF_RandomWalkVsStationary(t *testing.T) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(11)}

	rw := randomWalk(400, noise)
	res, err := ADF("rw", rw, -1)
	require.NoError(t, err)
	assert.False(t, res.Stationary, "random walk must not look stationary")
	assert.Greater(t, res.Statistic, res.CriticalValues["5%"])

	ar := make([]float64, 400)
	for i := 1; i < len(ar); i++ {
		ar[i] = 0.3*ar[i-1] + noise.Rand()
	}
	res, err = ADF("ar", ar, -1)
	require.NoError(t, err)
	assert.True(t, res.Stationary, "AR(0.3) must look stationary")
	assert.Less(t, res.Statistic, res.CriticalValues["5%"])
}

func TestADF_TooShort(t *testing.T) {
	_, err := ADF("short", make([]float64, 12), 6)
	assert.Error(t, err)
}

// Two series sharing a common stochastic trend must test as
// cointegrated with rank 1.
func TestJohansen_RecoversInjectedRelation(t *testing.T) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(5)}
	eps := distuv.Normal{Mu: 0, Sigma: 0.3, Src: rand.NewSource(6)}

	n := 500
	trend := randomWalk(n, noise)
	Y := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		Y.Set(i, 0, trend[i]+eps.Rand())
		Y.Set(i, 1, 0.5*trend[i]+eps.Rand())
	}

	res, err := Johansen([]string{"a", "b"}, Y, 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Rank, 1)
	assert.Greater(t, res.TraceStat[0], res.TraceCrit[0])
	assert.Len(t, res.Eigenvalues, 2)
	assert.GreaterOrEqual(t, res.Eigenvalues[0], res.Eigenvalues[1])
}

func TestJohansen_IndependentWalksHaveRankZero(t *testing.T) {
	n1 := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(21)}
	n2 := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(22)}

	n := 500
	Y := mat.NewDense(n, 2, nil)
	a := randomWalk(n, n1)
	b := randomWalk(n, n2)
	for i := 0; i < n; i++ {
		Y.Set(i, 0, a[i])
		Y.Set(i, 1, b[i])
	}

	res, err := Johansen([]string{"a", "b"}, Y, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rank)
	assert.Less(t, res.TraceStat[0], res.TraceCrit[0])
}

func TestJohansen_InputValidation(t *testing.T) {
	Y := mat.NewDense(50, 1, nil)
	_, err := Johansen([]string{"a"}, Y, 2)
	assert.Error(t, err)

	Y7 := mat.NewDense(200, 7, nil)
	_, err = Johansen(make([]string, 7), Y7, 2)
	assert.ErrorIs(t, err, ErrTooManyVariables)
}

func TestLjungBox_DetectsAutocorrelation(t *testing.T) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(31)}

	wn := make([]float64, 500)
	for i := range wn {
		wn[i] = noise.Rand()
	}
	res, err := LjungBox(wn, 10)
	require.NoError(t, err)
	assert.Greater(t, res.PValue, 0.05, "white noise should pass")

	ar := make([]float64, 500)
	for i := 1; i < len(ar); i++ {
		ar[i] = 0.7*ar[i-1] + noise.Rand()
	}
	res, err = LjungBox(ar, 10)
	require.NoError(t, err)
	assert.True(t, res.Reject(0.05), "AR residuals should fail")
}

func TestARCHLM_DetectsVolatilityClustering(t *testing.T) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(41)}

	// ARCH(1): sigma^2_t = 0.2 + 0.7 e^2_{t-1}
	e := make([]float64, 1000)
	e[0] = noise.Rand()
	for i := 1; i < len(e); i++ {
		sigma := 0.2 + 0.7*e[i-1]*e[i-1]
		e[i] = noise.Rand() * math.Sqrt(sigma)
	}
	res, err := ARCHLM(e, 4)
	require.NoError(t, err)
	assert.True(t, res.Reject(0.05))

	wn := make([]float64, 1000)
	for i := range wn {
		wn[i] = noise.Rand()
	}
	res, err = ARCHLM(wn, 4)
	require.NoError(t, err)
	assert.Greater(t, res.PValue, 0.01)
}

func TestJarqueBera_NormalVsSkewed(t *testing.T) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(51)}
	normal := make([]float64, 2000)
	for i := range normal {
		normal[i] = noise.Rand()
	}
	res := JarqueBera(normal)
	assert.Greater(t, res.PValue, 0.01)

	exp := distuv.Exponential{Rate: 1, Src: rand.NewSource(52)}
	skewed := make([]float64, 2000)
	for i := range skewed {
		skewed[i] = exp.Rand()
	}
	res = JarqueBera(skewed)
	assert.True(t, res.Reject(0.05))
}

func TestResidualDiagnostics_Bundle(t *testing.T) {
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(61)}
	wn := make([]float64, 300)
	for i := range wn {
		wn[i] = noise.Rand()
	}

	results, err := ResidualDiagnostics(wn, 8)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "ljung_box", results[0].Name)
	assert.Equal(t, "arch_lm", results[1].Name)
	assert.Equal(t, "jarque_bera", results[2].Name)
}
