package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"macropulse/internal/series"
	"macropulse/internal/utility"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooClient pulls daily adjusted closes from the v8 chart API.
type YahooClient struct {
	logger  *zap.Logger
	baseURL string
	httpc   *http.Client
}

func NewYahooClient(logger *zap.Logger) *YahooClient {
	return &YahooClient{
		logger:  logger,
		baseURL: yahooBaseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (c *YahooClient) FetchSeries(ctx context.Context, name, ticker string, start, end time.Time) (*series.Raw, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprintf("%d", start.Unix()))
	q.Set("period2", fmt.Sprintf("%d", end.Unix()))
	q.Set("interval", "1d")
	q.Set("events", "div,splits")

	endpoint := c.baseURL + "/" + url.PathEscape(ticker) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: yahoo %s: %v", ErrRetrieval, ticker, err)
	}
	req.Header.Set("User-Agent", "macropulse/1.0")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: yahoo %s: %v", ErrRetrieval, ticker, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: yahoo %s: status %s", ErrRetrieval, ticker, resp.Status)
	}

	var chart yahooChartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return nil, fmt.Errorf("%w: yahoo %s: %v", ErrRetrieval, ticker, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: yahoo %s: %s", ErrRetrieval, ticker, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, fmt.Errorf("%w: yahoo %s: empty result", ErrRetrieval, ticker)
	}

	result := chart.Chart.Result[0]

	// Prefer the adjusted close; quote close otherwise.
	var closes []*float64
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) > 0 {
		closes = result.Indicators.AdjClose[0].AdjClose
	} else if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}
	if len(closes) != len(result.Timestamp) {
		return nil, fmt.Errorf("%w: yahoo %s: %d timestamps, %d closes",
			ErrRetrieval, ticker, len(result.Timestamp), len(closes))
	}

	raw := &series.Raw{
		Name:      name,
		Source:    "yahoo",
		Code:      ticker,
		Frequency: series.Daily,
		RunID:     utility.GetRunID(),
		FetchedAt: time.Now().UTC(),
	}
	for i, ts := range result.Timestamp {
		v := math.NaN()
		if closes[i] != nil {
			v = *closes[i]
		}
		raw.Obs = append(raw.Obs, series.Observation{
			Date:  time.Unix(ts, 0).UTC().Truncate(24 * time.Hour),
			Value: v,
		})
	}

	c.logger.Info("yahoo series fetched",
		zap.String("series", name),
		zap.String("ticker", ticker),
		zap.Int("observations", len(raw.Obs)))
	return raw, nil
}
