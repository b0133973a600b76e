package report

import (
	"gonum.org/v1/gonum/mat"

	"macropulse/internal/diagnostics"
	"macropulse/internal/models/eventstudy"
	"macropulse/internal/models/localproj"
)

// UnitRootTable lays out ADF results, one series per row.
func UnitRootTable(results []*diagnostics.ADFResult) Table {
	t := Table{
		Name:   "unit_root_tests",
		Header: []string{"series", "statistic", "lags", "n_obs", "crit_5pct", "stationary"},
	}
	for _, r := range results {
		t.Rows = append(t.Rows, []string{
			r.Series,
			formatFloat(r.Statistic),
			formatInt(r.Lags),
			formatInt(r.NObs),
			formatFloat(r.CriticalValues["5%"]),
			formatBool(r.Stationary),
		})
	}
	return t
}

// CointegrationTable lays out the Johansen trace and max-eigenvalue
// statistics per hypothesized rank.
func CointegrationTable(r *diagnostics.JohansenResult) Table {
	t := Table{
		Name:   "cointegration_tests",
		Header: []string{"rank", "eigenvalue", "trace_stat", "trace_crit_5pct", "max_eig_stat", "max_eig_crit_5pct"},
	}
	for i := range r.TraceStat {
		t.Rows = append(t.Rows, []string{
			formatInt(i),
			formatFloat(r.Eigenvalues[i]),
			formatFloat(r.TraceStat[i]),
			formatFloat(r.TraceCrit[i]),
			formatFloat(r.MaxEigStat[i]),
			formatFloat(r.MaxEigCrit[i]),
		})
	}
	return t
}

// ResidualTable lays out portmanteau and normality tests on model
// residuals.
func ResidualTable(name string, results []diagnostics.TestResult) Table {
	t := Table{
		Name:   name,
		Header: []string{"test", "statistic", "df", "p_value", "reject_5pct"},
	}
	for _, r := range results {
		t.Rows = append(t.Rows, []string{
			r.Name,
			formatFloat(r.Statistic),
			formatInt(r.DF),
			formatFloat(r.PValue),
			formatBool(r.Reject(0.05)),
		})
	}
	return t
}

// IRFTable flattens orthogonalized impulse responses: one row per
// horizon, shock and response variable.
func IRFTable(variables []string, irf []*mat.Dense) Table {
	t := Table{
		Name:   "vecm_irf",
		Header: []string{"horizon", "shock", "response", "value"},
	}
	for h, psi := range irf {
		for shock := range variables {
			for resp := range variables {
				t.Rows = append(t.Rows, []string{
					formatInt(h),
					variables[shock],
					variables[resp],
					formatFloat(psi.At(resp, shock)),
				})
			}
		}
	}
	return t
}

// LocalProjectionTable lays out one coefficient path with confidence
// bands.
func LocalProjectionTable(name string, rows []localproj.HorizonResult) Table {
	t := Table{
		Name:   name,
		Header: []string{"horizon", "coeff", "std_err", "ci_lower", "ci_upper", "n_obs"},
	}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			formatInt(r.Horizon),
			formatFloat(r.Coeff),
			formatFloat(r.StdErr),
			formatFloat(r.CILower),
			formatFloat(r.CIUpper),
			formatInt(r.N),
		})
	}
	return t
}

// EventStudyTables lays out per-event windows and the cross-event
// summary.
func EventStudyTables(results []eventstudy.WindowResult, summaries []eventstudy.Summary) (Table, Table) {
	detail := Table{
		Name:   "event_study_windows",
		Header: []string{"event", "window", "baseline", "car", "months"},
	}
	for _, r := range results {
		detail.Rows = append(detail.Rows, []string{
			r.Label,
			formatInt(r.Window),
			formatFloat(r.Baseline),
			formatFloat(r.CAR),
			formatInt(r.Months),
		})
	}

	summary := Table{
		Name:   "event_study_summary",
		Header: []string{"window", "events", "mean_car", "std_car"},
	}
	for _, s := range summaries {
		summary.Rows = append(summary.Rows, []string{
			formatInt(s.Window),
			formatInt(s.Events),
			formatFloat(s.Mean),
			formatFloat(s.StdDev),
		})
	}
	return detail, summary
}

// ImportanceTable ranks boosted-tree features by mean absolute
// contribution.
func ImportanceTable(features []string, importance []float64) Table {
	t := Table{
		Name:   "boost_feature_importance",
		Header: []string{"feature", "mean_abs_contribution"},
	}
	for i, f := range features {
		t.Rows = append(t.Rows, []string{f, formatFloat(importance[i])})
	}
	return t
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
