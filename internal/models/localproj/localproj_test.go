package localproj

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// simulate builds returns that load on the shock with a decaying
// horizon profile: the impact coefficient is 0.5 fading by 0.8 each
// month, doubled in regime 1.
func simulate(t *testing.T, n int) (returns, shock []float64, regime []int) {
	t.Helper()

	src := rand.NewSource(11)
	shockDist := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: 0.02, Src: src}
	flip := distuv.Uniform{Min: 0, Max: 1, Src: src}

	shock = make([]float64, n)
	regime = make([]int, n)
	state := 0
	for i := 0; i < n; i++ {
		shock[i] = shockDist.Rand()
		if flip.Rand() < 0.1 {
			state = 1 - state
		}
		regime[i] = state
	}

	returns = make([]float64, n)
	for i := 0; i < n; i++ {
		returns[i] = noise.Rand()
		for lag := 0; lag <= i; lag++ {
			effect := 0.5 * math.Pow(0.8, float64(lag))
			if regime[i-lag] == 1 {
				effect *= 2
			}
			if lag > 8 {
				break
			}
			returns[i] += effect * shock[i-lag] * 0.01
		}
	}
	return returns, shock, regime
}

func TestEstimateRecoversImpact(t *testing.T) {
	returns, shock, regime := simulate(t, 600)

	e := New(zap.NewNop(), Options{Horizons: 12})
	res, err := e.Estimate(returns, shock, regime, nil)
	require.NoError(t, err)
	require.Len(t, res.Shock, 13)
	require.Len(t, res.Interaction, 13)

	// Horizon 0 in regime 0 loads 0.5*0.01 on the shock.
	assert.InDelta(t, 0.005, res.Shock[0].Coeff, 0.003)
	// The regime interaction doubles the impact.
	assert.InDelta(t, 0.005, res.Interaction[0].Coeff, 0.004)

	// Cumulative effects grow with the horizon while the profile decays.
	assert.Greater(t, res.Shock[6].Coeff, res.Shock[0].Coeff)
}

func TestConfidenceBandsBracketCoefficient(t *testing.T) {
	returns, shock, regime := simulate(t, 400)

	e := New(zap.NewNop(), Options{Horizons: 6})
	res, err := e.Estimate(returns, shock, regime, nil)
	require.NoError(t, err)

	for _, r := range res.Shock {
		assert.Less(t, r.CILower, r.Coeff)
		assert.Greater(t, r.CIUpper, r.Coeff)
		assert.InDelta(t, r.Coeff-r.CILower, r.CIUpper-r.Coeff, 1e-12)
		assert.Greater(t, r.N, 0)
	}
}

func TestEstimateWithControls(t *testing.T) {
	returns, shock, regime := simulate(t, 400)

	src := rand.NewSource(5)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	control := make([]float64, len(returns))
	for i := range control {
		control[i] = noise.Rand()
	}

	e := New(zap.NewNop(), Options{Horizons: 6})
	res, err := e.Estimate(returns, shock, regime, [][]float64{control})
	require.NoError(t, err)
	assert.InDelta(t, 0.005, res.Shock[0].Coeff, 0.003)
}

func TestEstimateWithoutRegimes(t *testing.T) {
	returns, shock, _ := simulate(t, 400)

	e := New(zap.NewNop(), Options{Horizons: 6})
	res, err := e.Estimate(returns, shock, nil, nil)
	require.NoError(t, err)

	require.Len(t, res.Shock, 7)
	assert.Empty(t, res.Interaction)
	assert.Greater(t, res.Shock[0].Coeff, 0.0)
}

func TestEstimateConstantInteractionDropped(t *testing.T) {
	returns, shock, _ := simulate(t, 200)

	// A decoded path stuck in the base regime zeroes the interaction
	// column; the base effect must still come out.
	regime := make([]int, len(returns))

	e := New(zap.NewNop(), Options{Horizons: 6})
	res, err := e.Estimate(returns, shock, regime, nil)
	require.NoError(t, err)

	require.Len(t, res.Shock, 7)
	assert.Empty(t, res.Interaction)
	assert.Greater(t, res.Shock[0].Coeff, 0.0)
}

func TestEstimateDropsMissingRows(t *testing.T) {
	returns, shock, regime := simulate(t, 300)
	shock[10] = math.NaN()
	returns[20] = math.NaN()

	e := New(zap.NewNop(), Options{Horizons: 3})
	res, err := e.Estimate(returns, shock, regime, nil)
	require.NoError(t, err)
	assert.Less(t, res.Shock[0].N, 300)
}

func TestEstimateRejectsShortSample(t *testing.T) {
	returns, shock, regime := simulate(t, 40)

	e := New(zap.NewNop(), Options{Horizons: 24})
	_, err := e.Estimate(returns, shock, regime, nil)
	assert.ErrorIs(t, err, ErrTooFewObservations)
}

func TestEstimateRejectsLengthMismatch(t *testing.T) {
	returns, shock, regime := simulate(t, 100)

	e := New(zap.NewNop(), Options{Horizons: 6})
	_, err := e.Estimate(returns[:99], shock, regime, nil)
	assert.Error(t, err)
}
