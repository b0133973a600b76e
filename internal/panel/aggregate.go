package panel

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"macropulse/internal/series"
)

// BaseColumn anchors the panel index: months outside its coverage are
// dropped at the edges rather than imputed.
const BaseColumn = "sp500"

// Policy selects how sub-monthly observations collapse to one month.
type Policy string

const (
	PolicyLast        Policy = "last"
	PolicyMean        Policy = "mean"
	PolicyInterpolate Policy = "interpolate"
)

type Aggregator struct {
	logger *zap.Logger
	start  time.Time
	end    time.Time
}

func NewAggregator(logger *zap.Logger, start, end time.Time) *Aggregator {
	return &Aggregator{logger: logger, start: start, end: end}
}

// Build resamples every raw series onto a common month-end index and
// merges them into one panel. The same raw inputs always produce the
// same panel.
func (a *Aggregator) Build(raws []*series.Raw, policies map[string]Policy) (*Panel, error) {
	var base *series.Raw
	for _, r := range raws {
		if r.Name == BaseColumn {
			base = r
		}
	}
	if base == nil {
		return nil, fmt.Errorf("base series %q is required", BaseColumn)
	}

	dates := monthIndex(base, a.start, a.end)
	if len(dates) == 0 {
		return nil, fmt.Errorf("base series %q has no observations in %s..%s",
			BaseColumn, a.start.Format("2006-01"), a.end.Format("2006-01"))
	}

	columns := make([]string, 0, len(raws))
	for _, r := range raws {
		columns = append(columns, r.Name)
	}
	p, err := New(dates, columns)
	if err != nil {
		return nil, err
	}

	for _, r := range raws {
		policy := policies[r.Name]
		if policy == "" {
			policy = PolicyLast
		}
		monthly := resample(r, dates, policy)
		if policy == PolicyInterpolate {
			interpolate(monthly)
		}
		for i, v := range monthly {
			if err := p.Set(i, r.Name, v); err != nil {
				return nil, err
			}
		}
		a.logger.Info("series aggregated",
			zap.String("series", r.Name),
			zap.String("policy", string(policy)),
			zap.Int("months", countValid(monthly)))
	}

	if err := p.TrimEdges(BaseColumn); err != nil {
		return nil, err
	}
	if err := p.CheckIndex(); err != nil {
		return nil, err
	}
	return p, nil
}

// monthIndex builds the contiguous month-end index spanning the base
// series' coverage clipped to the configured window.
func monthIndex(base *series.Raw, start, end time.Time) []time.Time {
	first, last := base.Span()
	if first.IsZero() {
		return nil
	}
	if first.Before(start) {
		first = start
	}
	if last.After(end) {
		last = end
	}

	var dates []time.Time
	for d := series.MonthEnd(first); !d.After(series.MonthEnd(last)); d = series.MonthEnd(d.AddDate(0, 0, 1)) {
		dates = append(dates, d)
	}
	return dates
}

// resample collapses native-frequency observations onto the month index.
// Values are forward-filled across gaps first, matching the original
// treatment of holidays and short weeks.
func resample(r *series.Raw, dates []time.Time, policy Policy) []float64 {
	out := make([]float64, len(dates))
	for i := range out {
		out[i] = math.NaN()
	}

	carried := math.NaN()
	obsIdx := 0
	for i, monthEnd := range dates {
		sum, n := 0.0, 0
		last := math.NaN()
		for obsIdx < len(r.Obs) && !r.Obs[obsIdx].Date.After(monthEnd) {
			o := r.Obs[obsIdx]
			obsIdx++
			if o.Valid() {
				carried = o.Value
			}
			if !math.IsNaN(carried) {
				sum += carried
				n++
				last = carried
			}
		}

		switch policy {
		case PolicyMean:
			if n > 0 {
				out[i] = sum / float64(n)
			}
		case PolicyInterpolate:
			// Period-end level only where the source actually reported;
			// interior months are filled by interpolation afterwards.
			if !math.IsNaN(last) {
				out[i] = last
			}
		default:
			// last: period-end level, carried across months with no
			// observations at all.
			if !math.IsNaN(carried) {
				out[i] = carried
			}
		}
	}
	return out
}

// interpolate fills interior gaps linearly, leaving the edges missing.
// Used for quarterly levels like nominal GDP.
func interpolate(values []float64) {
	prev := -1
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			step := (v - values[prev]) / float64(i-prev)
			for k := prev + 1; k < i; k++ {
				values[k] = values[prev] + step*float64(k-prev)
			}
		}
		prev = i
	}
}

func countValid(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}
