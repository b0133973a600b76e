package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"macropulse/internal/series"
	"macropulse/internal/utility"
)

// ErrRetrieval marks fatal data-source failures: unreachable source,
// unknown code, malformed payload. The orchestrator aborts the run on
// any of them rather than building a partial panel.
var ErrRetrieval = errors.New("retrieval failed")

const fredBaseURL = "https://api.stlouisfed.org/fred"

// FredClient speaks the FRED observations API. Series come back at their
// native frequency; missing values arrive as "." and become NaN.
type FredClient struct {
	logger  *zap.Logger
	apiKey  string
	baseURL string
	httpc   *http.Client
}

func NewFredClient(logger *zap.Logger, apiKey string) *FredClient {
	return &FredClient{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: fredBaseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
	ErrorMessage string `json:"error_message"`
}

type fredSeriesResponse struct {
	Seriess []struct {
		FrequencyShort string `json:"frequency_short"`
		Units          string `json:"units"`
	} `json:"seriess"`
}

func (c *FredClient) FetchSeries(ctx context.Context, name, code string, start, end time.Time) (*series.Raw, error) {
	freq, err := c.fetchFrequency(ctx, code)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("series_id", code)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("observation_start", start.Format("2006-01-02"))
	q.Set("observation_end", end.Format("2006-01-02"))

	var resp fredObservationsResponse
	if err := c.getJSON(ctx, "/series/observations", q, &resp); err != nil {
		return nil, fmt.Errorf("%w: fred series %s: %v", ErrRetrieval, code, err)
	}
	if resp.ErrorMessage != "" {
		return nil, fmt.Errorf("%w: fred series %s: %s", ErrRetrieval, code, resp.ErrorMessage)
	}
	if len(resp.Observations) == 0 {
		return nil, fmt.Errorf("%w: fred series %s: no observations", ErrRetrieval, code)
	}

	raw := &series.Raw{
		Name:      name,
		Source:    "fred",
		Code:      code,
		Frequency: freq,
		RunID:     utility.GetRunID(),
		FetchedAt: time.Now().UTC(),
	}
	for _, o := range resp.Observations {
		d, err := time.ParseInLocation("2006-01-02", o.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: fred series %s: bad date %q", ErrRetrieval, code, o.Date)
		}
		v := math.NaN()
		if o.Value != "." && o.Value != "" {
			v, err = strconv.ParseFloat(o.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: fred series %s: bad value %q", ErrRetrieval, code, o.Value)
			}
		}
		raw.Obs = append(raw.Obs, series.Observation{Date: d, Value: v})
	}

	c.logger.Info("fred series fetched",
		zap.String("series", name),
		zap.String("code", code),
		zap.String("frequency", string(freq)),
		zap.Int("observations", len(raw.Obs)))
	return raw, nil
}

func (c *FredClient) fetchFrequency(ctx context.Context, code string) (series.Frequency, error) {
	q := url.Values{}
	q.Set("series_id", code)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")

	var resp fredSeriesResponse
	if err := c.getJSON(ctx, "/series", q, &resp); err != nil {
		return "", fmt.Errorf("%w: fred metadata %s: %v", ErrRetrieval, code, err)
	}
	if len(resp.Seriess) == 0 {
		return "", fmt.Errorf("%w: unknown fred series %s", ErrRetrieval, code)
	}

	switch resp.Seriess[0].FrequencyShort {
	case "D":
		return series.Daily, nil
	case "W":
		return series.Weekly, nil
	case "M":
		return series.Monthly, nil
	case "Q":
		return series.Quarterly, nil
	default:
		return series.Daily, nil
	}
}

func (c *FredClient) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
