package pipeline

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"macropulse/internal/config"
	"macropulse/internal/diagnostics"
	"macropulse/internal/models/boost"
	"macropulse/internal/models/eventstudy"
	"macropulse/internal/models/hmm"
	"macropulse/internal/models/localproj"
	"macropulse/internal/models/vecm"
	"macropulse/internal/panel"
	"macropulse/internal/report"
)

type vecmSnapshot struct {
	Variables  []string    `json:"variables"`
	Rank       int         `json:"rank"`
	LagOrder   int         `json:"lag_order"`
	Beta       []float64   `json:"long_run_vector"`
	Alpha      []float64   `json:"adjustment"`
	Intercepts []float64   `json:"intercepts"`
	Gamma      [][]float64 `json:"gamma,omitempty"`
}

func (p *Pipeline) estimateVECM(pnl *panel.Panel, writer *report.Writer) bool {
	names, Y, err := systemMatrix(pnl, systemColumns)
	if err != nil {
		p.logger.Error("vecm skipped", zap.Error(err))
		return false
	}

	m := vecm.New(p.logger, vecm.Options{
		LagOrder:   p.cfg.VECM.LagOrder,
		IRFHorizon: p.cfg.VECM.IRFHorizon,
	})
	if _, err := m.RankTest(names, Y); err != nil {
		p.logger.Error("vecm rank test failed", zap.Error(err))
		return false
	}

	if err := m.Fit(Y); err != nil {
		if errors.Is(err, vecm.ErrNoCointegration) {
			p.logger.Warn("no cointegration, long-run outputs skipped")
		} else {
			p.logger.Error("vecm fit failed", zap.Error(err))
		}
		return false
	}

	beta, err := m.LongRunVector()
	if err != nil {
		p.logger.Error("vecm long-run vector", zap.Error(err))
		return false
	}
	alpha, err := m.Adjustment()
	if err != nil {
		p.logger.Error("vecm adjustment", zap.Error(err))
		return false
	}

	snap := vecmSnapshot{
		Variables:  names,
		Rank:       m.Rank().Rank,
		LagOrder:   p.cfg.VECM.LagOrder,
		Beta:       beta,
		Alpha:      alpha,
		Intercepts: m.Intercept,
	}
	for _, g := range m.Gamma {
		r, c := g.Dims()
		flat := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				flat = append(flat, g.At(i, j))
			}
		}
		snap.Gamma = append(snap.Gamma, flat)
	}
	if err := writer.SaveModel("vecm", snap); err != nil {
		p.logger.Error("vecm snapshot", zap.Error(err))
		return false
	}

	irf, err := m.IRF()
	if err != nil {
		p.logger.Error("vecm irf", zap.Error(err))
		return false
	}
	if err := writer.SaveTable(report.IRFTable(names, irf)); err != nil {
		p.logger.Error("vecm irf table", zap.Error(err))
		return false
	}

	// Residual checks on the first equation's errors.
	T, _ := m.Residuals.Dims()
	firstEq := make([]float64, T)
	for t := 0; t < T; t++ {
		firstEq[t] = m.Residuals.At(t, 0)
	}
	tests, err := diagnostics.ResidualDiagnostics(firstEq, residualLags)
	if err != nil {
		p.logger.Warn("vecm residual diagnostics skipped", zap.Error(err))
		return true
	}
	if err := writer.SaveTable(report.ResidualTable("vecm_residual_tests", tests)); err != nil {
		p.logger.Error("vecm residual table", zap.Error(err))
	}
	return true
}

type hmmSnapshot struct {
	Means         []float64   `json:"means"`
	Variances     []float64   `json:"variances"`
	Transition    [][]float64 `json:"transition"`
	Stationary    []float64   `json:"stationary"`
	Converged     bool        `json:"converged"`
	Iterations    int         `json:"iterations"`
	LogLikelihood float64     `json:"log_likelihood"`
}

// estimateHMM fits the regime model on S&P returns and returns the
// decoded state aligned to the panel rows, or nil on failure.
func (p *Pipeline) estimateHMM(pnl *panel.Panel, writer *report.Writer) []int {
	returns, err := pnl.Column("ret_sp500")
	if err != nil {
		p.logger.Error("hmm skipped", zap.Error(err))
		return nil
	}

	// EM needs a gap-free series; regimes map back to panel rows.
	var obs []float64
	var rows []int
	for t, v := range returns {
		if !math.IsNaN(v) {
			obs = append(obs, v)
			rows = append(rows, t)
		}
	}

	m := hmm.New(p.logger, hmm.Options{
		States:  p.cfg.HMM.States,
		MaxIter: p.cfg.HMM.MaxIter,
		Seed:    p.cfg.HMM.Seed,
	})
	if err := m.Fit(obs); err != nil && !errors.Is(err, hmm.ErrNotConverged) {
		p.logger.Error("hmm fit failed", zap.Error(err))
		return nil
	}

	path, err := m.Decode(obs)
	if err != nil {
		p.logger.Error("hmm decode failed", zap.Error(err))
		return nil
	}

	stationary, err := m.Stationary()
	if err != nil {
		p.logger.Error("hmm stationary distribution", zap.Error(err))
		return nil
	}
	snap := hmmSnapshot{
		Means:         m.Means,
		Variances:     m.Variances,
		Transition:    m.Transition,
		Stationary:    stationary,
		Converged:     m.Converged,
		Iterations:    m.Iterations,
		LogLikelihood: m.LogLikelihood,
	}
	if err := writer.SaveModel("hmm", snap); err != nil {
		p.logger.Error("hmm snapshot", zap.Error(err))
		return nil
	}

	regimeTable := report.Table{
		Name:   "hmm_regimes",
		Header: []string{"date", "regime"},
	}
	regimes := make([]int, pnl.Rows())
	for i := range regimes {
		regimes[i] = -1
	}
	dates := pnl.Dates()
	for i, t := range rows {
		regimes[t] = path[i]
		regimeTable.Rows = append(regimeTable.Rows, []string{
			dates[t].Format("2006-01-02"),
			strconv.Itoa(path[i]),
		})
	}
	if err := writer.SaveTable(regimeTable); err != nil {
		p.logger.Error("hmm regime table", zap.Error(err))
		return nil
	}
	return regimes
}

type boostSnapshot struct {
	Features  []string  `json:"features"`
	TrainRMSE float64   `json:"train_rmse"`
	TestRMSE  float64   `json:"test_rmse"`
	Rounds    int       `json:"rounds"`
	TestSize  int       `json:"test_size"`
	Important []float64 `json:"importance"`
}

// estimateBoost trains the predictive model on the monthly innovations
// with next-month returns as the target.
func (p *Pipeline) estimateBoost(pnl *panel.Panel, writer *report.Writer) bool {
	target, err := pnl.Column("ret_sp500")
	if err != nil {
		p.logger.Error("boost skipped", zap.Error(err))
		return false
	}

	cols := make([][]float64, len(boostFeatures))
	for i, name := range boostFeatures {
		c, err := pnl.Column(name)
		if err != nil {
			p.logger.Error("boost skipped", zap.Error(err))
			return false
		}
		cols[i] = c
	}

	// Row t predicts the return at t+1; rows with any gap are dropped.
	var x [][]float64
	var y []float64
	for t := 0; t+1 < pnl.Rows(); t++ {
		if math.IsNaN(target[t+1]) {
			continue
		}
		row := make([]float64, len(cols))
		ok := true
		for i, c := range cols {
			if math.IsNaN(c[t]) {
				ok = false
				break
			}
			row[i] = c[t]
		}
		if !ok {
			continue
		}
		x = append(x, row)
		y = append(y, target[t+1])
	}

	m := boost.New(p.logger, boost.Options{
		Rounds:       p.cfg.Boost.Rounds,
		Depth:        p.cfg.Boost.MaxDepth,
		LearningRate: p.cfg.Boost.LearningRate,
		Subsample:    p.cfg.Boost.Subsample,
		ColSample:    p.cfg.Boost.ColSample,
		Seed:         p.cfg.Boost.Seed,
		TestSize:     p.cfg.Boost.TestSize,
	})
	if err := m.Fit(boostFeatures, x, y); err != nil {
		p.logger.Error("boost fit failed", zap.Error(err))
		return false
	}

	importance, err := m.Importance(x)
	if err != nil {
		p.logger.Error("boost importance", zap.Error(err))
		return false
	}
	if err := writer.SaveTable(report.ImportanceTable(boostFeatures, importance)); err != nil {
		p.logger.Error("boost importance table", zap.Error(err))
		return false
	}

	snap := boostSnapshot{
		Features:  boostFeatures,
		TrainRMSE: m.TrainRMSE,
		TestRMSE:  m.TestRMSE,
		Rounds:    p.cfg.Boost.Rounds,
		TestSize:  p.cfg.Boost.TestSize,
		Important: importance,
	}
	if err := writer.SaveModel("boost", snap); err != nil {
		p.logger.Error("boost snapshot", zap.Error(err))
		return false
	}
	return true
}

// estimateLocalProjections traces the dynamic response of returns to
// balance-sheet growth. Without decoded regimes the interaction
// regressor is omitted and only the base effect is estimated.
func (p *Pipeline) estimateLocalProjections(pnl *panel.Panel, writer *report.Writer, regimes []int) bool {
	returns, err := pnl.Column("ret_sp500")
	if err != nil {
		p.logger.Error("local projections skipped", zap.Error(err))
		return false
	}
	shock, err := pnl.Column("growth_balance")
	if err != nil {
		p.logger.Error("local projections skipped", zap.Error(err))
		return false
	}

	controls := make([][]float64, 0, len(lpControls))
	for _, name := range lpControls {
		c, err := pnl.Column(name)
		if err != nil {
			p.logger.Error("local projections skipped", zap.Error(err))
			return false
		}
		controls = append(controls, c)
	}

	if regimes == nil {
		p.logger.Warn("no decoded regimes, interaction term disabled")
	} else {
		// Undecoded rows count as the base regime; their shock rows
		// survive but carry no interaction.
		clean := make([]int, len(regimes))
		for i, r := range regimes {
			if r > 0 {
				clean[i] = r
			}
		}
		regimes = clean
	}

	e := localproj.New(p.logger, localproj.Options{Horizons: p.cfg.LocalProj.MaxHorizon})
	res, err := e.Estimate(returns, shock, regimes, controls)
	if err != nil {
		p.logger.Error("local projections failed", zap.Error(err))
		return false
	}

	if err := writer.SaveTable(report.LocalProjectionTable("local_projection_shock", res.Shock)); err != nil {
		p.logger.Error("local projection table", zap.Error(err))
		return false
	}
	if len(res.Interaction) > 0 {
		if err := writer.SaveTable(report.LocalProjectionTable("local_projection_interaction", res.Interaction)); err != nil {
			p.logger.Error("local projection table", zap.Error(err))
			return false
		}
	}
	return true
}

func (p *Pipeline) estimateEventStudy(pnl *panel.Panel, writer *report.Writer) bool {
	returns, err := pnl.Column("ret_sp500")
	if err != nil {
		p.logger.Error("event study skipped", zap.Error(err))
		return false
	}

	events, err := policyEvents()
	if err != nil {
		p.logger.Error("event study skipped", zap.Error(err))
		return false
	}

	s := eventstudy.New(p.logger, eventstudy.Options{
		Windows:        p.cfg.Events.Windows,
		BaselineMonths: p.cfg.Events.BaselineMonths,
	})
	results, summaries, err := s.Run(pnl.Dates(), returns, events)
	if err != nil {
		p.logger.Error("event study failed", zap.Error(err))
		return false
	}

	detail, summary := report.EventStudyTables(results, summaries)
	if err := writer.SaveTable(detail); err != nil {
		p.logger.Error("event study table", zap.Error(err))
		return false
	}
	if err := writer.SaveTable(summary); err != nil {
		p.logger.Error("event study table", zap.Error(err))
		return false
	}
	return true
}

// policyEvents converts the configured announcement dates, sorted by
// date so runs are deterministic.
func policyEvents() ([]eventstudy.Event, error) {
	raw := config.DefaultEvents()
	events := make([]eventstudy.Event, 0, len(raw))
	for label, date := range raw {
		d, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		events = append(events, eventstudy.Event{Label: label, Date: d})
	}
	sort.Slice(events, func(a, b int) bool { return events[a].Date.Before(events[b].Date) })
	return events, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}
