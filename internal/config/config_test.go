package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "2000-01-01", cfg.StartDate)
	assert.Equal(t, 2, cfg.VECM.LagOrder)
	assert.Equal(t, 2, cfg.HMM.States)
	assert.Equal(t, uint64(42), cfg.HMM.Seed)
	assert.Equal(t, 100, cfg.Boost.Rounds)
	assert.Equal(t, 24, cfg.Boost.TestSize)
	assert.Equal(t, []int{1, 3, 6}, cfg.Events.Windows)
	assert.Len(t, cfg.Series, 9)
	assert.True(t, cfg.End().After(cfg.Start()))
}

func TestConfig_CatalogOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	catalog := `series:
  - name: sp500
    source: yahoo
    code: ^GSPC
    aggregate: last
  - name: fed_balance
    source: fred
    code: WALCL
    aggregate: mean
`
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o644))
	t.Setenv("SERIES_CATALOG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Series, 2)
	assert.Equal(t, "mean", cfg.Series[1].Aggregate)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"start after end", func(c *Config) { c.StartDate, c.EndDate = c.EndDate, c.StartDate }},
		{"bad date format", func(c *Config) { c.StartDate = "01/01/2000" }},
		{"one hmm state", func(c *Config) { c.HMM.States = 1 }},
		{"zero vecm lags", func(c *Config) { c.VECM.LagOrder = 0 }},
		{"learning rate above one", func(c *Config) { c.Boost.LearningRate = 1.5 }},
		{"unknown source", func(c *Config) { c.Series[0].Source = "bloomberg" }},
		{"unknown aggregation", func(c *Config) { c.Series[0].Aggregate = "median" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
