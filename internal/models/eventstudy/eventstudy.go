package eventstudy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

var ErrNoUsableEvents = errors.New("no event has enough history")

type Options struct {
	// Windows are half-widths in months around the event month.
	Windows []int
	// BaselineMonths is the pre-event span whose mean return defines
	// normal performance.
	BaselineMonths int
}

// Event is one policy announcement placed on the monthly grid.
type Event struct {
	Label string
	Date  time.Time
}

// WindowResult is the cumulative abnormal return of one event over one
// window.
type WindowResult struct {
	Label    string
	Window   int
	Baseline float64
	CAR      float64
	Months   int
}

// Summary aggregates one window size across events.
type Summary struct {
	Window int
	Events int
	Mean   float64
	StdDev float64
}

type Study struct {
	logger *zap.Logger
	opts   Options
}

func New(logger *zap.Logger, opts Options) *Study {
	if len(opts.Windows) == 0 {
		opts.Windows = []int{1, 3, 6}
	}
	if opts.BaselineMonths <= 0 {
		opts.BaselineMonths = 12
	}
	return &Study{logger: logger, opts: opts}
}

// Run measures, for every event and window, the cumulative return in
// excess of the event's pre-window baseline mean. Events whose baseline
// or window falls outside the sample are skipped with a warning.
func (s *Study) Run(dates []time.Time, returns []float64, events []Event) ([]WindowResult, []Summary, error) {
	if len(dates) != len(returns) {
		return nil, nil, fmt.Errorf("eventstudy: %d dates for %d returns", len(dates), len(returns))
	}

	var results []WindowResult
	for _, w := range s.opts.Windows {
		for _, ev := range events {
			idx := monthIndex(dates, ev.Date)
			if idx < 0 {
				s.logger.Warn("event outside sample",
					zap.String("event", ev.Label),
					zap.Time("date", ev.Date))
				continue
			}

			lo, hi := idx-w, idx+w
			baseLo := lo - s.opts.BaselineMonths
			if baseLo < 0 || hi >= len(returns) {
				s.logger.Warn("event window exceeds sample",
					zap.String("event", ev.Label),
					zap.Int("window", w))
				continue
			}

			baseline, ok := meanClean(returns[baseLo:lo])
			if !ok {
				s.logger.Warn("event baseline has no observations",
					zap.String("event", ev.Label),
					zap.Int("window", w))
				continue
			}

			car := 0.0
			months := 0
			usable := true
			for t := lo; t <= hi; t++ {
				if math.IsNaN(returns[t]) {
					usable = false
					break
				}
				car += returns[t] - baseline
				months++
			}
			if !usable {
				s.logger.Warn("event window has missing returns",
					zap.String("event", ev.Label),
					zap.Int("window", w))
				continue
			}

			results = append(results, WindowResult{
				Label:    ev.Label,
				Window:   w,
				Baseline: baseline,
				CAR:      car,
				Months:   months,
			})
		}
	}
	if len(results) == 0 {
		return nil, nil, ErrNoUsableEvents
	}

	summaries := s.summarize(results)
	s.logger.Info("event study complete",
		zap.Int("events", len(events)),
		zap.Int("usable_windows", len(results)))
	return results, summaries, nil
}

func (s *Study) summarize(results []WindowResult) []Summary {
	byWindow := map[int][]float64{}
	for _, r := range results {
		byWindow[r.Window] = append(byWindow[r.Window], r.CAR)
	}

	windows := make([]int, 0, len(byWindow))
	for w := range byWindow {
		windows = append(windows, w)
	}
	sort.Ints(windows)

	summaries := make([]Summary, 0, len(windows))
	for _, w := range windows {
		cars := byWindow[w]
		sum := Summary{Window: w, Events: len(cars), Mean: stat.Mean(cars, nil)}
		if len(cars) > 1 {
			sum.StdDev = stat.StdDev(cars, nil)
		}
		summaries = append(summaries, sum)
	}
	return summaries
}

// monthIndex locates the grid entry covering the event's calendar
// month.
func monthIndex(dates []time.Time, d time.Time) int {
	for i, g := range dates {
		if g.Year() == d.Year() && g.Month() == d.Month() {
			return i
		}
	}
	return -1
}

func meanClean(v []float64) (float64, bool) {
	sum, n := 0.0, 0
	for _, x := range v {
		if math.IsNaN(x) {
			continue
		}
		sum += x
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
