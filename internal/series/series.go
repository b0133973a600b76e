package series

import (
	"math"
	"time"

	"macropulse/internal/utility"
)

type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
)

type Observation struct {
	Date  time.Time
	Value float64
}

// Raw is one fetched series at its native frequency. Immutable once
// fetched; the aggregator only ever reads it.
type Raw struct {
	Name      string
	Source    string
	Code      string
	Frequency Frequency
	RunID     utility.RunID
	FetchedAt time.Time
	Obs       []Observation
}

// Valid reports whether the observation holds an actual value. Sources
// deliver gaps as NaN.
func (o Observation) Valid() bool {
	return !math.IsNaN(o.Value)
}

func (r *Raw) Len() int { return len(r.Obs) }

// Span returns the first and last observation dates, zero times when the
// series is empty.
func (r *Raw) Span() (time.Time, time.Time) {
	if len(r.Obs) == 0 {
		return time.Time{}, time.Time{}
	}
	return r.Obs[0].Date, r.Obs[len(r.Obs)-1].Date
}

// Sorted reports whether observations are in strictly increasing date
// order, which every store and the aggregator rely on.
func (r *Raw) Sorted() bool {
	for i := 1; i < len(r.Obs); i++ {
		if !r.Obs[i].Date.After(r.Obs[i-1].Date) {
			return false
		}
	}
	return true
}

// MonthEnd normalizes any date to the last day of its month, UTC.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1)
}
