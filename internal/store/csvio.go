package store

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"macropulse/internal/panel"
	"macropulse/internal/series"
)

const dateLayout = "2006-01-02"

// WriteSeriesCSV persists one raw series as date,value rows. Missing
// observations are written as empty cells.
func WriteSeriesCSV(path string, r *series.Raw) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", r.Name}); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, o := range r.Obs {
		if err := w.Write([]string{o.Date.UTC().Format(dateLayout), formatCell(o.Value)}); err != nil {
			return fmt.Errorf("writing %q: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

func WritePanelCSV(path string, p *panel.Panel) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := csv.NewWriter(f)
	header := append([]string{"date"}, p.Columns()...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	dates := p.Dates()
	for i := 0; i < p.Rows(); i++ {
		record := make([]string, 0, len(header))
		record = append(record, dates[i].Format(dateLayout))
		for _, c := range p.Columns() {
			v, err := p.At(i, c)
			if err != nil {
				return err
			}
			record = append(record, formatCell(v))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("writing %q: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

// ReadPanelCSV reloads a persisted panel; the text and binary forms are
// interchangeable inputs for standalone stages.
func ReadPanelCSV(path string) (*panel.Panel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%q: no data rows", path)
	}

	columns := records[0][1:]
	dates := make([]time.Time, 0, len(records)-1)
	for _, rec := range records[1:] {
		d, err := time.ParseInLocation(dateLayout, rec[0], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%q: bad date %q: %w", path, rec[0], err)
		}
		dates = append(dates, d)
	}

	p, err := panel.New(dates, columns)
	if err != nil {
		return nil, err
	}
	for i, rec := range records[1:] {
		for j, c := range columns {
			v, err := parseCell(rec[j+1])
			if err != nil {
				return nil, fmt.Errorf("%q row %d col %s: %w", path, i, c, err)
			}
			if err := p.Set(i, c, v); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseCell(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
