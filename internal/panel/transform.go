package panel

import (
	"math"

	"go.uber.org/zap"
)

// Derived columns are deterministic functions of the base panel and are
// always re-derivable; the base columns remain the source of truth.
//
// Log transforms of non-positive values yield NaN at that point rather
// than failing the run.

func logColumn(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v > 0 {
			out[i] = math.Log(v)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func diffColumn(in []float64) []float64 {
	out := make([]float64, len(in))
	out[0] = math.NaN()
	for i := 1; i < len(in); i++ {
		out[i] = in[i] - in[i-1]
	}
	return out
}

type derivation struct {
	name string
	from []string
	fn   func(cols ...[]float64) []float64
}

func logOf(name, from string) derivation {
	return derivation{name: name, from: []string{from}, fn: func(cols ...[]float64) []float64 {
		return logColumn(cols[0])
	}}
}

func diffOf(name, from string) derivation {
	return derivation{name: name, from: []string{from}, fn: func(cols ...[]float64) []float64 {
		return diffColumn(cols[0])
	}}
}

// AddTransforms derives the analysis columns: logs of strictly positive
// levels, log-differences for returns and growth rates, simple deltas for
// rates and spreads, and the 10Y-2Y curve slope.
func AddTransforms(logger *zap.Logger, p *Panel) error {
	derivations := []derivation{
		logOf("log_sp500", "sp500"),
		logOf("log_balance", "fed_balance"),
		logOf("log_earnings", "earnings"),
		logOf("log_gdp", "gdp_nominal"),
		diffOf("ret_sp500", "log_sp500"),
		diffOf("growth_balance", "log_balance"),
		diffOf("delta_vix", "vix"),
		diffOf("delta_ff", "ff_rate"),
		diffOf("delta_spread", "spread_bbb"),
		{
			name: "slope_curve",
			from: []string{"treasury_10y", "treasury_2y"},
			fn: func(cols ...[]float64) []float64 {
				out := make([]float64, len(cols[0]))
				for i := range out {
					out[i] = cols[0][i] - cols[1][i]
				}
				return out
			},
		},
		diffOf("delta_slope", "slope_curve"),
	}

	for _, d := range derivations {
		inputs := make([][]float64, 0, len(d.from))
		missing := false
		for _, from := range d.from {
			if !p.HasColumn(from) {
				missing = true
				break
			}
			col, err := p.Column(from)
			if err != nil {
				return err
			}
			inputs = append(inputs, col)
		}
		if missing {
			logger.Warn("transform skipped, input column absent",
				zap.String("column", d.name),
				zap.Strings("inputs", d.from))
			continue
		}
		if err := p.AddColumn(d.name, d.fn(inputs...)); err != nil {
			return err
		}
		logger.Debug("transform added", zap.String("column", d.name))
	}
	return nil
}
