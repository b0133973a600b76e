package panel

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrBrokenIndex   = errors.New("panel index is not contiguous monthly")
)

// Panel is the monthly dataset every estimator consumes. Rows are keyed
// by month-end date; the index is contiguous and strictly increasing by
// one month. Cells are float64 with NaN for missing.
type Panel struct {
	dates   []time.Time
	columns []string
	colIdx  map[string]int
	data    [][]float64 // row-major, data[row][col]
}

func New(dates []time.Time, columns []string) (*Panel, error) {
	for i := 1; i < len(dates); i++ {
		if !sameMonth(dates[i], nextMonthEnd(dates[i-1])) {
			return nil, fmt.Errorf("%w: %s follows %s",
				ErrBrokenIndex, dates[i].Format("2006-01"), dates[i-1].Format("2006-01"))
		}
	}

	p := &Panel{
		dates:   append([]time.Time(nil), dates...),
		columns: append([]string(nil), columns...),
		colIdx:  make(map[string]int, len(columns)),
		data:    make([][]float64, len(dates)),
	}
	for j, c := range columns {
		if _, dup := p.colIdx[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		p.colIdx[c] = j
	}
	for i := range p.data {
		row := make([]float64, len(columns))
		for j := range row {
			row[j] = math.NaN()
		}
		p.data[i] = row
	}
	return p, nil
}

func (p *Panel) Rows() int         { return len(p.dates) }
func (p *Panel) Columns() []string { return append([]string(nil), p.columns...) }

func (p *Panel) Dates() []time.Time { return append([]time.Time(nil), p.dates...) }

func (p *Panel) HasColumn(name string) bool {
	_, ok := p.colIdx[name]
	return ok
}

func (p *Panel) Set(row int, name string, v float64) error {
	j, ok := p.colIdx[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	p.data[row][j] = v
	return nil
}

func (p *Panel) At(row int, name string) (float64, error) {
	j, ok := p.colIdx[name]
	if !ok {
		return math.NaN(), fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	return p.data[row][j], nil
}

// Column returns a copy of one column.
func (p *Panel) Column(name string) ([]float64, error) {
	j, ok := p.colIdx[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	out := make([]float64, len(p.data))
	for i := range p.data {
		out[i] = p.data[i][j]
	}
	return out, nil
}

// AddColumn appends a derived column. Values shorter than the index are
// rejected.
func (p *Panel) AddColumn(name string, values []float64) error {
	if _, dup := p.colIdx[name]; dup {
		return fmt.Errorf("column %q already exists", name)
	}
	if len(values) != len(p.dates) {
		return fmt.Errorf("column %q has %d values for %d rows", name, len(values), len(p.dates))
	}
	p.colIdx[name] = len(p.columns)
	p.columns = append(p.columns, name)
	for i := range p.data {
		p.data[i] = append(p.data[i], values[i])
	}
	return nil
}

// RowOf returns the row index of the month containing t, or -1.
func (p *Panel) RowOf(t time.Time) int {
	for i, d := range p.dates {
		if sameMonth(d, t) {
			return i
		}
	}
	return -1
}

// TrimEdges drops leading and trailing rows where the anchor column is
// missing. Interior gaps are kept as NaN.
func (p *Panel) TrimEdges(anchor string) error {
	col, err := p.Column(anchor)
	if err != nil {
		return err
	}
	lo, hi := 0, len(col)
	for lo < hi && math.IsNaN(col[lo]) {
		lo++
	}
	for hi > lo && math.IsNaN(col[hi-1]) {
		hi--
	}
	p.dates = p.dates[lo:hi]
	p.data = p.data[lo:hi]
	return nil
}

// CheckIndex re-validates the monthly contiguity invariant.
func (p *Panel) CheckIndex() error {
	for i := 1; i < len(p.dates); i++ {
		if !sameMonth(p.dates[i], nextMonthEnd(p.dates[i-1])) {
			return ErrBrokenIndex
		}
	}
	return nil
}

// Equal compares two panels within tol, treating NaN as equal to NaN.
func (p *Panel) Equal(o *Panel, tol float64) bool {
	if p.Rows() != o.Rows() || len(p.columns) != len(o.columns) {
		return false
	}
	for j := range p.columns {
		if p.columns[j] != o.columns[j] {
			return false
		}
	}
	for i := range p.dates {
		if !sameMonth(p.dates[i], o.dates[i]) {
			return false
		}
		for j := range p.columns {
			a, b := p.data[i][j], o.data[i][j]
			if math.IsNaN(a) != math.IsNaN(b) {
				return false
			}
			if !math.IsNaN(a) && math.Abs(a-b) > tol {
				return false
			}
		}
	}
	return true
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

func nextMonthEnd(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 2, -1)
}
