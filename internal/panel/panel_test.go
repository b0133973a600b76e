package panel

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"macropulse/internal/series"
)

func monthEnds(from time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	first := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = series.MonthEnd(first.AddDate(0, i, 0))
	}
	return out
}

func TestPanel_IndexInvariant(t *testing.T) {
	start := time.Date(2000, 1, 15, 0, 0, 0, 0, time.UTC)

	p, err := New(monthEnds(start, 36), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 36, p.Rows())
	assert.NoError(t, p.CheckIndex())

	// A skipped month must be rejected.
	dates := monthEnds(start, 4)
	dates[2] = dates[2].AddDate(0, 1, 0)
	_, err = New(dates, []string{"a"})
	assert.ErrorIs(t, err, ErrBrokenIndex)
}

func TestPanel_DuplicateColumnRejected(t *testing.T) {
	start := time.Date(2000, 1, 31, 0, 0, 0, 0, time.UTC)
	_, err := New(monthEnds(start, 3), []string{"a", "a"})
	assert.Error(t, err)

	p, err := New(monthEnds(start, 3), []string{"a"})
	require.NoError(t, err)
	assert.Error(t, p.AddColumn("a", []float64{1, 2, 3}))
}

func TestPanel_TrimEdges(t *testing.T) {
	start := time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)
	p, err := New(monthEnds(start, 6), []string{"base", "other"})
	require.NoError(t, err)

	for i := 1; i < 5; i++ {
		require.NoError(t, p.Set(i, "base", float64(i)))
	}
	require.NoError(t, p.Set(0, "other", 9))
	require.NoError(t, p.TrimEdges("base"))

	assert.Equal(t, 4, p.Rows())
	assert.NoError(t, p.CheckIndex())
	first, err := p.At(0, "base")
	require.NoError(t, err)
	assert.Equal(t, 1.0, first)
}

func dailyRaw(name string, start time.Time, days int, f func(i int) float64) *series.Raw {
	r := &series.Raw{Name: name, Source: "test", Frequency: series.Daily}
	for i := 0; i < days; i++ {
		r.Obs = append(r.Obs, series.Observation{
			Date:  start.AddDate(0, 0, i),
			Value: f(i),
		})
	}
	return r
}

func TestAggregator_MonthlyIndexAndPolicies(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)

	base := dailyRaw("sp500", start, 366, func(i int) float64 { return 3000 + float64(i) })
	flow := dailyRaw("ff_rate", start, 366, func(i int) float64 { return 2.0 })

	agg := NewAggregator(logger, start, end)
	p, err := agg.Build([]*series.Raw{base, flow}, map[string]Policy{
		"sp500":   PolicyLast,
		"ff_rate": PolicyMean,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, p.Rows())
	assert.NoError(t, p.CheckIndex())

	// January's last daily value is index 30.
	v, err := p.At(0, "sp500")
	require.NoError(t, err)
	assert.InDelta(t, 3030, v, 1e-12)

	m, err := p.At(5, "ff_rate")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, m, 1e-12)
}

func TestAggregator_QuarterlyInterpolation(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)

	base := dailyRaw("sp500", start, 366, func(i int) float64 { return 3000 })
	gdp := &series.Raw{Name: "gdp_nominal", Frequency: series.Quarterly}
	for q, v := range []float64{100, 106, 112, 118} {
		gdp.Obs = append(gdp.Obs, series.Observation{
			Date:  time.Date(2020, time.Month(3*(q+1)), 28, 0, 0, 0, 0, time.UTC),
			Value: v,
		})
	}

	agg := NewAggregator(logger, start, end)
	p, err := agg.Build([]*series.Raw{base, gdp}, map[string]Policy{
		"gdp_nominal": PolicyInterpolate,
	})
	require.NoError(t, err)

	// Months between quarter ends are linear between the endpoints.
	apr, err := p.At(3, "gdp_nominal")
	require.NoError(t, err)
	assert.InDelta(t, 102, apr, 1e-9)
	may, err := p.At(4, "gdp_nominal")
	require.NoError(t, err)
	assert.InDelta(t, 104, may, 1e-9)

	// Before the first quarterly print stays missing.
	jan, err := p.At(0, "gdp_nominal")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(jan))
}

func TestAggregator_Deterministic(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2012, 12, 31, 0, 0, 0, 0, time.UTC)

	build := func() *Panel {
		base := dailyRaw("sp500", start, 1000, func(i int) float64 {
			return 1000 + 10*math.Sin(float64(i)/7)
		})
		other := dailyRaw("vix", start, 1000, func(i int) float64 {
			return 20 + 5*math.Cos(float64(i)/11)
		})
		agg := NewAggregator(logger, start, end)
		p, err := agg.Build([]*series.Raw{base, other}, nil)
		require.NoError(t, err)
		return p
	}

	assert.True(t, build().Equal(build(), 0))
}

func TestTransforms_LogOfNonPositiveIsNaN(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2008, 1, 31, 0, 0, 0, 0, time.UTC)
	p, err := New(monthEnds(start, 4), []string{"sp500", "earnings"})
	require.NoError(t, err)

	for i, v := range []float64{100, 110, 121, 133.1} {
		require.NoError(t, p.Set(i, "sp500", v))
	}
	// A crisis quarter with negative earnings.
	for i, v := range []float64{5, -2, 0, 4} {
		require.NoError(t, p.Set(i, "earnings", v))
	}

	require.NoError(t, AddTransforms(logger, p))

	le, err := p.Column("log_earnings")
	require.NoError(t, err)
	assert.False(t, math.IsNaN(le[0]))
	assert.True(t, math.IsNaN(le[1]))
	assert.True(t, math.IsNaN(le[2]))
	assert.False(t, math.IsNaN(le[3]))

	ret, err := p.Column("ret_sp500")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ret[0]))
	assert.InDelta(t, math.Log(110.0/100.0), ret[1], 1e-12)
}

func TestTransforms_SlopeAndDeltas(t *testing.T) {
	logger := zap.NewNop()
	start := time.Date(2015, 1, 31, 0, 0, 0, 0, time.UTC)
	p, err := New(monthEnds(start, 3), []string{"sp500", "treasury_2y", "treasury_10y"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Set(i, "sp500", 2000))
		require.NoError(t, p.Set(i, "treasury_2y", 1.0+0.1*float64(i)))
		require.NoError(t, p.Set(i, "treasury_10y", 2.5))
	}
	require.NoError(t, AddTransforms(logger, p))

	slope, err := p.Column("slope_curve")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, slope[0], 1e-12)
	assert.InDelta(t, 1.3, slope[2], 1e-12)

	ds, err := p.Column("delta_slope")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(ds[0]))
	assert.InDelta(t, -0.1, ds[1], 1e-12)

	// Columns whose inputs are absent are skipped, not fatal.
	assert.False(t, p.HasColumn("delta_vix"))
}
