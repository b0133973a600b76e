package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"macropulse/internal/series"
	"macropulse/internal/utility"
)

const (
	shillerURL   = "https://img1.wsimg.com/blobby/go/e5e77e0b-59d1-44d9-ab25-4763ac982e53/downloads/ie_data.xlsx"
	shillerSheet = "Data"
	// The Data sheet carries descriptive headers before the table.
	shillerSkipRows = 7
)

// Shiller column positions: date, price, dividend, earnings, CAPE.
var shillerCols = []int{0, 1, 2, 3, 10}

var shillerNames = []string{"shiller_price", "shiller_dividend", "earnings", "cape"}

// ShillerClient downloads the published CAPE workbook and splits it into
// one monthly series per column.
type ShillerClient struct {
	logger *zap.Logger
	url    string
	httpc  *http.Client
}

func NewShillerClient(logger *zap.Logger) *ShillerClient {
	return &ShillerClient{
		logger: logger,
		url:    shillerURL,
		httpc:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *ShillerClient) FetchSeries(ctx context.Context, start, end time.Time) ([]*series.Raw, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: shiller: %v", ErrRetrieval, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: shiller: %v", ErrRetrieval, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: shiller: status %s", ErrRetrieval, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: shiller: %v", ErrRetrieval, err)
	}

	return c.Parse(body, start, end)
}

// Parse extracts the monthly series from the workbook bytes. Split out
// from FetchSeries so a locally saved workbook can be re-processed.
func (c *ShillerClient) Parse(workbook []byte, start, end time.Time) ([]*series.Raw, error) {
	f, err := excelize.OpenReader(bytes.NewReader(workbook))
	if err != nil {
		return nil, fmt.Errorf("%w: shiller: opening workbook: %v", ErrRetrieval, err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows, err := f.GetRows(shillerSheet)
	if err != nil {
		return nil, fmt.Errorf("%w: shiller: sheet %q: %v", ErrRetrieval, shillerSheet, err)
	}
	if len(rows) <= shillerSkipRows {
		return nil, fmt.Errorf("%w: shiller: sheet %q too short", ErrRetrieval, shillerSheet)
	}

	out := make([]*series.Raw, len(shillerNames))
	for i, name := range shillerNames {
		out[i] = &series.Raw{
			Name:      name,
			Source:    "shiller",
			Frequency: series.Monthly,
			RunID:     utility.GetRunID(),
			FetchedAt: time.Now().UTC(),
		}
	}

	for _, row := range rows[shillerSkipRows:] {
		if len(row) <= shillerCols[len(shillerCols)-1] {
			continue
		}
		date, ok := parseShillerDate(row[shillerCols[0]])
		if !ok {
			continue
		}
		if date.Before(start) || date.After(end) {
			continue
		}
		for i, col := range shillerCols[1:] {
			v := math.NaN()
			if s := strings.TrimSpace(row[col]); s != "" && s != "NA" {
				if parsed, err := strconv.ParseFloat(s, 64); err == nil {
					v = parsed
				}
			}
			out[i].Obs = append(out[i].Obs, series.Observation{Date: date, Value: v})
		}
	}

	for _, r := range out {
		if len(r.Obs) == 0 {
			return nil, fmt.Errorf("%w: shiller: series %s empty after parsing", ErrRetrieval, r.Name)
		}
	}

	c.logger.Info("shiller workbook parsed",
		zap.Int("series", len(out)),
		zap.Int("months", out[0].Len()))
	return out, nil
}

// parseShillerDate decodes the workbook's YYYY.MM date column. The cell
// renders as a number, so "2020.1" is October and "2020.01" is January.
func parseShillerDate(cell string) (time.Time, bool) {
	s := strings.TrimSpace(cell)
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1800 || year > 3000 {
		return time.Time{}, false
	}
	var month int
	switch frac := parts[1]; frac {
	case "1":
		month = 10
	default:
		month, err = strconv.Atoi(frac)
		if err != nil {
			return time.Time{}, false
		}
	}
	if month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}
