package localproj

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"macropulse/internal/calc"
)

var ErrTooFewObservations = errors.New("local projection sample too small")

// critNormal95 is the two-sided 95% normal critical value.
const critNormal95 = 1.959963984540054

type Options struct {
	Horizons int
	// MinObs is the smallest usable sample per horizon after lagging
	// and missing-value removal.
	MinObs int
}

// HorizonResult is one row of the impulse response: the shock
// coefficient at horizon h with its confidence band.
type HorizonResult struct {
	Horizon int
	Coeff   float64
	StdErr  float64
	CILower float64
	CIUpper float64
	N       int
}

// Estimator runs Jorda style local projections of cumulative returns
// on a shock with regime interaction and controls, one regression per
// horizon.
type Estimator struct {
	logger *zap.Logger
	opts   Options
}

func New(logger *zap.Logger, opts Options) *Estimator {
	if opts.Horizons <= 0 {
		opts.Horizons = 24
	}
	if opts.MinObs <= 0 {
		opts.MinObs = 30
	}
	return &Estimator{logger: logger, opts: opts}
}

// Result bundles the per-horizon rows for the base effect and the
// regime interaction.
type Result struct {
	Shock       []HorizonResult
	Interaction []HorizonResult
}

// Estimate regresses, for each horizon h, the cumulative return from t
// to t+h on shock[t], shock[t]*regime[t] and the controls at t. Rows
// with any missing value are dropped per horizon.
//
// A nil regime, or one whose interaction column never varies, drops the
// interaction regressor and Result.Interaction stays empty; the base
// effect is still estimated.
func (e *Estimator) Estimate(returns, shock []float64, regime []int, controls [][]float64) (*Result, error) {
	T := len(returns)
	if len(shock) != T {
		return nil, fmt.Errorf("localproj: series lengths differ (%d returns, %d shock)", T, len(shock))
	}
	if regime != nil && len(regime) != T {
		return nil, fmt.Errorf("localproj: %d regime states for %d observations", len(regime), T)
	}
	for i, c := range controls {
		if len(c) != T {
			return nil, fmt.Errorf("localproj: control %d has %d observations, want %d", i, len(c), T)
		}
	}

	var interaction []float64
	if regime != nil {
		interaction = make([]float64, T)
		for t := 0; t < T; t++ {
			interaction[t] = shock[t] * float64(regime[t])
		}
		if !varies(interaction) {
			e.logger.Warn("interaction term carries no variation, dropped")
			interaction = nil
		}
	}

	res := &Result{
		Shock: make([]HorizonResult, 0, e.opts.Horizons+1),
	}
	if interaction != nil {
		res.Interaction = make([]HorizonResult, 0, e.opts.Horizons+1)
	}

	for h := 0; h <= e.opts.Horizons; h++ {
		y := cumulative(returns, h)

		cols := make([][]float64, 0, 3+len(controls))
		cols = append(cols, calc.Ones(T), shock)
		if interaction != nil {
			cols = append(cols, interaction)
		}
		cols = append(cols, controls...)

		yh, X, _ := calc.Design(y, cols...)
		if len(yh) < e.opts.MinObs {
			return nil, fmt.Errorf("%w: horizon %d has %d usable observations", ErrTooFewObservations, h, len(yh))
		}

		fit, err := calc.OLS(yh, X)
		if err != nil {
			return nil, fmt.Errorf("localproj: horizon %d: %w", h, err)
		}

		// Column 0 is the intercept; shock and the interaction follow.
		res.Shock = append(res.Shock, row(h, fit, 1))
		if interaction != nil {
			res.Interaction = append(res.Interaction, row(h, fit, 2))
		}
	}

	e.logger.Info("local projections estimated",
		zap.Int("horizons", e.opts.Horizons),
		zap.Int("controls", len(controls)),
		zap.Bool("interaction", interaction != nil))
	return res, nil
}

// varies reports whether two finite values differ.
func varies(v []float64) bool {
	first := math.NaN()
	for _, x := range v {
		if math.IsNaN(x) {
			continue
		}
		if math.IsNaN(first) {
			first = x
			continue
		}
		if x != first {
			return true
		}
	}
	return false
}

func row(h int, fit *calc.OLSResult, col int) HorizonResult {
	coeff := fit.Coeff[col]
	se := fit.StdErr[col]
	return HorizonResult{
		Horizon: h,
		Coeff:   coeff,
		StdErr:  se,
		CILower: coeff - critNormal95*se,
		CIUpper: coeff + critNormal95*se,
		N:       fit.N,
	}
}

// cumulative returns the h-step-ahead cumulative sum of returns,
// NaN-padded at the tail where the window runs off the sample.
func cumulative(returns []float64, h int) []float64 {
	T := len(returns)
	out := make([]float64, T)
	for t := 0; t < T; t++ {
		if t+h >= T {
			out[t] = math.NaN()
			continue
		}
		sum := 0.0
		for k := 0; k <= h; k++ {
			sum += returns[t+k]
		}
		out[t] = sum
	}
	return out
}
