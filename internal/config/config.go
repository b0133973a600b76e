package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the single configuration object handed to every pipeline
// stage. Nothing reads the environment after Load returns.
type Config struct {
	FredAPIKey string `envconfig:"FRED_API_KEY"`

	DataDir    string `envconfig:"DATA_DIR" default:"data"`
	ResultsDir string `envconfig:"RESULTS_DIR" default:"results"`
	Catalog    string `envconfig:"SERIES_CATALOG"`

	StartDate string `envconfig:"START_DATE" default:"2000-01-01"`
	EndDate   string `envconfig:"END_DATE" default:"2025-12-31"`

	VECM      VECMConfig
	HMM       HMMConfig
	Boost     BoostConfig
	LocalProj LocalProjConfig
	Events    EventConfig

	Series []SeriesSpec `ignored:"true"`

	start time.Time
	end   time.Time
}

type VECMConfig struct {
	LagOrder   int `envconfig:"VECM_LAG_ORDER" default:"2"`
	IRFHorizon int `envconfig:"VECM_IRF_HORIZON" default:"24"`
}

type HMMConfig struct {
	States  int    `envconfig:"HMM_STATES" default:"2"`
	MaxIter int    `envconfig:"HMM_MAX_ITER" default:"1000"`
	Seed    uint64 `envconfig:"HMM_SEED" default:"42"`
}

type BoostConfig struct {
	MaxDepth     int     `envconfig:"BOOST_MAX_DEPTH" default:"3"`
	LearningRate float64 `envconfig:"BOOST_LEARNING_RATE" default:"0.1"`
	Rounds       int     `envconfig:"BOOST_ROUNDS" default:"100"`
	Subsample    float64 `envconfig:"BOOST_SUBSAMPLE" default:"0.8"`
	ColSample    float64 `envconfig:"BOOST_COLSAMPLE" default:"0.8"`
	Seed         uint64  `envconfig:"BOOST_SEED" default:"42"`
	TestSize     int     `envconfig:"BOOST_TEST_SIZE" default:"24"`
}

type LocalProjConfig struct {
	MaxHorizon int `envconfig:"LP_MAX_HORIZON" default:"24"`
}

type EventConfig struct {
	Windows []int `envconfig:"EVENT_WINDOWS" default:"1,3,6"`
	// BaselineMonths is the span of the pre-event mean the abnormal
	// return is measured against.
	BaselineMonths int `envconfig:"EVENT_BASELINE_MONTHS" default:"12"`
}

// SeriesSpec is one entry of the series catalog: where a variable comes
// from and how it is brought to monthly frequency.
type SeriesSpec struct {
	Name      string `yaml:"name"`
	Source    string `yaml:"source"`    // fred, yahoo, shiller
	Code      string `yaml:"code"`      // FRED code or ticker; empty for shiller
	Aggregate string `yaml:"aggregate"` // last, mean, interpolate
}

type catalogFile struct {
	Series []SeriesSpec `yaml:"series"`
}

// DefaultSeries mirrors the project's data-source table.
func DefaultSeries() []SeriesSpec {
	return []SeriesSpec{
		{Name: "fed_balance", Source: "fred", Code: "WALCL", Aggregate: "last"},
		{Name: "ff_rate", Source: "fred", Code: "DFF", Aggregate: "last"},
		{Name: "treasury_2y", Source: "fred", Code: "DGS2", Aggregate: "last"},
		{Name: "treasury_10y", Source: "fred", Code: "DGS10", Aggregate: "last"},
		{Name: "spread_bbb", Source: "fred", Code: "BAMLC0A4CBBB", Aggregate: "last"},
		{Name: "gdp_nominal", Source: "fred", Code: "GDP", Aggregate: "interpolate"},
		{Name: "sp500", Source: "yahoo", Code: "^GSPC", Aggregate: "last"},
		{Name: "vix", Source: "yahoo", Code: "^VIX", Aggregate: "last"},
		{Name: "shiller", Source: "shiller", Aggregate: "last"},
	}
}

// DefaultEvents are the QE/policy announcement dates the event study runs
// over, keyed by label.
func DefaultEvents() map[string]string {
	return map[string]string{
		"QE1_announcement":   "2008-11-25",
		"QE2_announcement":   "2010-11-03",
		"Operation_Twist":    "2011-09-21",
		"QE3_announcement":   "2012-09-13",
		"Taper_tantrum":      "2013-05-22",
		"Taper_begins":       "2013-12-18",
		"COVID_crisis":       "2020-03-11",
		"COVID_QE_unlimited": "2020-03-15",
		"First_rate_hike":    "2022-03-16",
		"SVB_collapse":       "2023-03-10",
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	cfg.Series = DefaultSeries()
	if cfg.Catalog != "" {
		raw, err := os.ReadFile(cfg.Catalog)
		if err != nil {
			return nil, fmt.Errorf("reading series catalog: %w", err)
		}
		var cat catalogFile
		if err := yaml.Unmarshal(raw, &cat); err != nil {
			return nil, fmt.Errorf("parsing series catalog: %w", err)
		}
		if len(cat.Series) > 0 {
			cfg.Series = cat.Series
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	start, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return fmt.Errorf("invalid START_DATE: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.EndDate)
	if err != nil {
		return fmt.Errorf("invalid END_DATE: %w", err)
	}
	if !end.After(start) {
		return fmt.Errorf("END_DATE %s must be after START_DATE %s", c.EndDate, c.StartDate)
	}
	c.start, c.end = start, end

	if c.HMM.States < 2 {
		return fmt.Errorf("HMM needs at least 2 states, got %d", c.HMM.States)
	}
	if c.VECM.LagOrder < 1 {
		return fmt.Errorf("VECM needs at least 1 lag in differences, got %d", c.VECM.LagOrder)
	}
	if c.Boost.LearningRate <= 0 || c.Boost.LearningRate > 1 {
		return fmt.Errorf("boost learning rate %g outside (0, 1]", c.Boost.LearningRate)
	}
	for _, spec := range c.Series {
		switch spec.Source {
		case "fred", "yahoo", "shiller":
		default:
			return fmt.Errorf("series %q: unknown source %q", spec.Name, spec.Source)
		}
		switch spec.Aggregate {
		case "last", "mean", "interpolate":
		default:
			return fmt.Errorf("series %q: unknown aggregation %q", spec.Name, spec.Aggregate)
		}
	}
	return nil
}

func (c *Config) Start() time.Time { return c.start }
func (c *Config) End() time.Time   { return c.end }

func (c *Config) RawDir() string       { return filepath.Join(c.DataDir, "raw") }
func (c *Config) ProcessedDir() string { return filepath.Join(c.DataDir, "processed") }
func (c *Config) ExternalDir() string  { return filepath.Join(c.DataDir, "external") }
func (c *Config) TablesDir() string    { return filepath.Join(c.ResultsDir, "tables") }
func (c *Config) FiguresDir() string   { return filepath.Join(c.ResultsDir, "figures") }
func (c *Config) ModelsDir() string    { return filepath.Join(c.ResultsDir, "models") }

func (c *Config) RawDB() string         { return filepath.Join(c.RawDir(), "raw.duckdb") }
func (c *Config) PanelCSV() string      { return filepath.Join(c.ProcessedDir(), "monthly_panel.csv") }
func (c *Config) PanelSnapshot() string { return filepath.Join(c.ProcessedDir(), "monthly_panel.bin") }

// EnsureDirs creates the data/results tree the stages write into.
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.RawDir(), c.ProcessedDir(), c.ExternalDir(),
		c.TablesDir(), c.FiguresDir(), c.ModelsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
