package pipeline

import (
	"context"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"macropulse/internal/config"
	"macropulse/internal/panel"
	"macropulse/internal/report"
	"macropulse/internal/store"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		DataDir:    filepath.Join(t.TempDir(), "data"),
		ResultsDir: filepath.Join(t.TempDir(), "results"),
		StartDate:  "2005-01-01",
		EndDate:    "2024-12-31",
		VECM:       config.VECMConfig{LagOrder: 2, IRFHorizon: 24},
		HMM:        config.HMMConfig{States: 2, MaxIter: 1000, Seed: 42},
		Boost: config.BoostConfig{
			MaxDepth: 3, LearningRate: 0.1, Rounds: 50,
			Subsample: 0.8, ColSample: 0.8, Seed: 42, TestSize: 24,
		},
		LocalProj: config.LocalProjConfig{MaxHorizon: 12},
		Events:    config.EventConfig{Windows: []int{1, 3}, BaselineMonths: 12},
	}
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.EnsureDirs())
	return cfg
}

// syntheticPanel builds a 240-month panel whose levels are cointegrated
// so the full estimation stage has something to find.
func syntheticPanel(t *testing.T) *panel.Panel {
	t.Helper()

	const n = 240
	dates := make([]time.Time, n)
	for i := 0; i < n; i++ {
		first := time.Date(2005, time.January+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		dates[i] = first.AddDate(0, 1, -1)
	}

	src := rand.NewSource(99)
	walk := distuv.Normal{Mu: 0.003, Sigma: 0.01, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: 0.005, Src: src}
	small := distuv.Normal{Mu: 0, Sigma: 0.2, Src: src}

	cols := []string{
		"log_sp500", "log_balance", "log_gdp", "ret_sp500",
		"growth_balance", "delta_ff", "delta_vix", "delta_spread",
		"slope_curve", "delta_slope",
	}
	p, err := panel.New(dates, cols)
	require.NoError(t, err)

	logBalance := 8.0
	logGDP := 9.0
	prevSP := 7.0
	prevSlope := 1.0
	for i := 0; i < n; i++ {
		growth := walk.Rand()
		logBalance += growth
		logGDP += 0.002 + 0.3*growth + noise.Rand()
		// Equities share the balance-sheet trend plus a stationary gap.
		logSP := 0.9*logBalance - 0.2 + 0.7*(prevSP-0.9*logBalance+0.2) + noise.Rand()

		slope := 0.9*prevSlope + small.Rand()*0.1

		require.NoError(t, p.Set(i, "log_sp500", logSP))
		require.NoError(t, p.Set(i, "log_balance", logBalance))
		require.NoError(t, p.Set(i, "log_gdp", logGDP))
		require.NoError(t, p.Set(i, "growth_balance", growth))
		require.NoError(t, p.Set(i, "delta_ff", small.Rand()*0.1))
		require.NoError(t, p.Set(i, "delta_vix", small.Rand()))
		require.NoError(t, p.Set(i, "delta_spread", small.Rand()*0.05))
		require.NoError(t, p.Set(i, "slope_curve", slope))
		require.NoError(t, p.Set(i, "delta_slope", slope-prevSlope))
		if i == 0 {
			require.NoError(t, p.Set(i, "ret_sp500", math.NaN()))
		} else {
			require.NoError(t, p.Set(i, "ret_sp500", logSP-prevSP))
		}
		prevSP = logSP
		prevSlope = slope
	}
	return p
}

func persistPanel(t *testing.T, cfg *config.Config, p *panel.Panel) {
	t.Helper()
	require.NoError(t, store.WriteSnapshot(cfg.PanelSnapshot(), p))
}

func TestDiagnoseWritesTables(t *testing.T) {
	cfg := testConfig(t)
	persistPanel(t, cfg, syntheticPanel(t))

	p := New(zap.NewNop(), cfg)
	require.NoError(t, p.Diagnose(context.Background()))

	assert.FileExists(t, filepath.Join(cfg.TablesDir(), "unit_root_tests.csv"))
	assert.FileExists(t, filepath.Join(cfg.TablesDir(), "cointegration_tests.csv"))
}

func TestEstimateWritesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	persistPanel(t, cfg, syntheticPanel(t))

	p := New(zap.NewNop(), cfg)
	require.NoError(t, p.Estimate(context.Background()))

	assert.FileExists(t, filepath.Join(cfg.ModelsDir(), "hmm.json"))
	assert.FileExists(t, filepath.Join(cfg.ModelsDir(), "boost.json"))
	assert.FileExists(t, filepath.Join(cfg.TablesDir(), "hmm_regimes.csv"))
	assert.FileExists(t, filepath.Join(cfg.TablesDir(), "boost_feature_importance.csv"))
	assert.FileExists(t, filepath.Join(cfg.TablesDir(), "local_projection_shock.csv"))
	assert.FileExists(t, filepath.Join(cfg.TablesDir(), "event_study_summary.csv"))
}

func TestLocalProjectionsDegradeWithoutRegimes(t *testing.T) {
	cfg := testConfig(t)
	pnl := syntheticPanel(t)

	p := New(zap.NewNop(), cfg)
	writer := report.NewWriter(zap.NewNop(), cfg.TablesDir(), cfg.ModelsDir())

	assert.True(t, p.estimateLocalProjections(pnl, writer, nil))
	assert.FileExists(t, filepath.Join(cfg.TablesDir(), "local_projection_shock.csv"))
	assert.NoFileExists(t, filepath.Join(cfg.TablesDir(), "local_projection_interaction.csv"))
}

func TestRegimeTableLabelsAreDecodedStates(t *testing.T) {
	cfg := testConfig(t)
	pnl := syntheticPanel(t)

	p := New(zap.NewNop(), cfg)
	writer := report.NewWriter(zap.NewNop(), cfg.TablesDir(), cfg.ModelsDir())
	require.NotNil(t, p.estimateHMM(pnl, writer))

	f, err := os.Open(filepath.Join(cfg.TablesDir(), "hmm_regimes.csv"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Greater(t, len(records), 1)
	for _, rec := range records[1:] {
		state, err := strconv.Atoi(rec[1])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, state, 0)
		assert.Less(t, state, cfg.HMM.States)
	}
}

func TestEstimateFailsWithoutPanel(t *testing.T) {
	cfg := testConfig(t)

	p := New(zap.NewNop(), cfg)
	assert.Error(t, p.Estimate(context.Background()))
}

func TestDiagnoseFailsOnMissingSystemColumn(t *testing.T) {
	cfg := testConfig(t)

	dates := []time.Time{
		time.Date(2020, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC),
	}
	p, err := panel.New(dates, []string{"ret_sp500"})
	require.NoError(t, err)
	persistPanel(t, cfg, p)

	assert.Error(t, New(zap.NewNop(), cfg).Diagnose(context.Background()))
}

func TestSystemMatrixDropsGappyRows(t *testing.T) {
	dates := make([]time.Time, 4)
	for i := range dates {
		first := time.Date(2020, time.January+time.Month(i), 1, 0, 0, 0, 0, time.UTC)
		dates[i] = first.AddDate(0, 1, -1)
	}
	p, err := panel.New(dates, []string{"a", "b"})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Set(i, "a", float64(i)))
		require.NoError(t, p.Set(i, "b", float64(i)*2))
	}
	require.NoError(t, p.Set(2, "b", math.NaN()))

	names, Y, err := systemMatrix(p, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	r, c := Y.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
}

func TestPolicyEventsSortedAndParsed(t *testing.T) {
	events, err := policyEvents()
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i := 1; i < len(events); i++ {
		assert.True(t, events[i].Date.After(events[i-1].Date))
	}
	assert.Equal(t, "QE1_announcement", events[0].Label)
	assert.Equal(t, "SVB_collapse", events[len(events)-1].Label)
}
