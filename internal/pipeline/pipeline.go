package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"macropulse/internal/config"
	"macropulse/internal/diagnostics"
	"macropulse/internal/fetch"
	"macropulse/internal/panel"
	"macropulse/internal/report"
	"macropulse/internal/series"
	"macropulse/internal/store"
)

// systemColumns are the level variables the cointegration analysis runs
// on.
var systemColumns = []string{"log_sp500", "log_balance", "log_gdp"}

// boostFeatures are the monthly innovations feeding the predictive
// model.
var boostFeatures = []string{"growth_balance", "delta_ff", "delta_vix", "delta_spread", "delta_slope"}

// lpControls are the conditioning variables of the local projections.
var lpControls = []string{"delta_ff", "delta_vix", "slope_curve"}

const residualLags = 12

// Pipeline sequences the four stages. Each stage reads the previous
// stage's persisted outputs, so the standalone commands compose the
// same way Run does.
type Pipeline struct {
	logger *zap.Logger
	cfg    *config.Config
}

func New(logger *zap.Logger, cfg *config.Config) *Pipeline {
	return &Pipeline{logger: logger, cfg: cfg}
}

// Run executes Fetch, Aggregate, Diagnose and Estimate in order. Any
// stage error aborts the run; estimation failures inside a single
// model do not.
func (p *Pipeline) Run(ctx context.Context) error {
	started := time.Now()
	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"fetch", p.Fetch},
		{"aggregate", p.Aggregate},
		{"diagnose", p.Diagnose},
		{"estimate", p.Estimate},
	}
	for _, stage := range stages {
		stageStart := time.Now()
		if err := stage.fn(ctx); err != nil {
			return fmt.Errorf("stage %s: %w", stage.name, err)
		}
		p.logger.Info("stage complete",
			zap.String("stage", stage.name),
			zap.Duration("elapsed", time.Since(stageStart)))
	}
	p.logger.Info("pipeline complete", zap.Duration("elapsed", time.Since(started)))
	return nil
}

// Fetch retrieves every catalog series and persists it raw.
func (p *Pipeline) Fetch(ctx context.Context) error {
	if err := p.cfg.EnsureDirs(); err != nil {
		return err
	}

	raws := store.NewRawStore(p.cfg.RawDB())
	if err := raws.Connect(); err != nil {
		return err
	}
	defer raws.Close()

	fetcher := fetch.NewFetcher(p.logger, p.cfg, raws)
	_, err := fetcher.FetchAll(ctx)
	return err
}

// Aggregate builds the monthly panel from the stored raw series,
// derives the transforms and persists both panel forms.
func (p *Pipeline) Aggregate(ctx context.Context) error {
	if err := p.cfg.EnsureDirs(); err != nil {
		return err
	}

	raws := store.NewRawStore(p.cfg.RawDB())
	if err := raws.Connect(); err != nil {
		return err
	}
	defer raws.Close()

	names, err := raws.ListSeries(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("no raw series stored in %s, run fetch first", p.cfg.RawDB())
	}

	loaded := make([]*series.Raw, 0, len(names))
	policies := make(map[string]panel.Policy, len(names))
	for _, name := range names {
		raw, err := raws.LoadSeries(ctx, name)
		if err != nil {
			return err
		}
		loaded = append(loaded, raw)
		policies[name] = p.policyFor(name)
	}

	agg := panel.NewAggregator(p.logger, p.cfg.Start(), p.cfg.End())
	pnl, err := agg.Build(loaded, policies)
	if err != nil {
		return err
	}
	if err := panel.AddTransforms(p.logger, pnl); err != nil {
		return err
	}

	if err := store.WritePanelCSV(p.cfg.PanelCSV(), pnl); err != nil {
		return err
	}
	if err := store.WriteSnapshot(p.cfg.PanelSnapshot(), pnl); err != nil {
		return err
	}

	p.logger.Info("panel persisted",
		zap.Int("rows", pnl.Rows()),
		zap.Int("columns", len(pnl.Columns())),
		zap.String("csv", p.cfg.PanelCSV()),
		zap.String("snapshot", p.cfg.PanelSnapshot()))
	return nil
}

func (p *Pipeline) policyFor(name string) panel.Policy {
	for _, spec := range p.cfg.Series {
		if spec.Name == name {
			return panel.Policy(spec.Aggregate)
		}
	}
	// Derived shiller columns share the workbook's monthly cadence.
	return panel.PolicyLast
}

// Diagnose runs unit-root and cointegration tests on the persisted
// panel and writes the result tables.
func (p *Pipeline) Diagnose(_ context.Context) error {
	pnl, err := store.LoadSnapshot(p.cfg.PanelSnapshot())
	if err != nil {
		return err
	}

	writer := report.NewWriter(p.logger, p.cfg.TablesDir(), p.cfg.ModelsDir())

	adfResults, err := p.unitRoots(pnl)
	if err != nil {
		return err
	}
	if err := writer.SaveTable(report.UnitRootTable(adfResults)); err != nil {
		return err
	}

	names, Y, err := systemMatrix(pnl, systemColumns)
	if err != nil {
		return err
	}
	johansen, err := diagnostics.Johansen(names, Y, p.cfg.VECM.LagOrder)
	if err != nil {
		return err
	}
	if err := writer.SaveTable(report.CointegrationTable(johansen)); err != nil {
		return err
	}

	p.logger.Info("diagnostics written",
		zap.Int("unit_root_tests", len(adfResults)),
		zap.Int("cointegration_rank", johansen.Rank))
	return nil
}

// Estimate fits every model on the persisted panel. A failure in one
// model logs and moves on; the stage only fails when nothing could be
// estimated.
func (p *Pipeline) Estimate(_ context.Context) error {
	pnl, err := store.LoadSnapshot(p.cfg.PanelSnapshot())
	if err != nil {
		return err
	}

	writer := report.NewWriter(p.logger, p.cfg.TablesDir(), p.cfg.ModelsDir())

	// The HMM regimes feed the local projections, so the regime model
	// runs first and its failure disables only the interaction term.
	regimes := p.estimateHMM(pnl, writer)

	succeeded := 0
	if p.estimateVECM(pnl, writer) {
		succeeded++
	}
	if regimes != nil {
		succeeded++
	}
	if p.estimateBoost(pnl, writer) {
		succeeded++
	}
	if p.estimateLocalProjections(pnl, writer, regimes) {
		succeeded++
	}
	if p.estimateEventStudy(pnl, writer) {
		succeeded++
	}

	if succeeded == 0 {
		return fmt.Errorf("all model estimations failed")
	}
	p.logger.Info("estimation complete", zap.Int("models_succeeded", succeeded))
	return nil
}

// unitRoots runs the ADF test over every panel column, skipping those
// with too little data.
func (p *Pipeline) unitRoots(pnl *panel.Panel) ([]*diagnostics.ADFResult, error) {
	var results []*diagnostics.ADFResult
	for _, name := range pnl.Columns() {
		col, err := pnl.Column(name)
		if err != nil {
			return nil, err
		}
		r, err := diagnostics.ADF(name, col, -1)
		if err != nil {
			p.logger.Warn("adf skipped",
				zap.String("series", name),
				zap.Error(err))
			continue
		}
		results = append(results, r)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no panel column had enough observations for unit-root testing")
	}
	return results, nil
}

// systemMatrix extracts the named columns as a dense levels matrix,
// keeping only rows where every variable is observed.
func systemMatrix(pnl *panel.Panel, columns []string) ([]string, *mat.Dense, error) {
	cols := make([][]float64, len(columns))
	for i, name := range columns {
		c, err := pnl.Column(name)
		if err != nil {
			return nil, nil, err
		}
		cols[i] = c
	}

	var keep []int
	for t := 0; t < pnl.Rows(); t++ {
		ok := true
		for _, c := range cols {
			if math.IsNaN(c[t]) {
				ok = false
				break
			}
		}
		if ok {
			keep = append(keep, t)
		}
	}
	if len(keep) == 0 {
		return nil, nil, fmt.Errorf("system columns %v have no jointly observed rows", columns)
	}

	Y := mat.NewDense(len(keep), len(columns), nil)
	for r, t := range keep {
		for j, c := range cols {
			Y.Set(r, j, c[t])
		}
	}
	return columns, Y, nil
}
