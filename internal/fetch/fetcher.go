package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"macropulse/internal/config"
	"macropulse/internal/series"
	"macropulse/internal/store"
)

// Fetcher resolves the series catalog against the three sources and
// persists every fetched series twice: a raw CSV for inspection and the
// DuckDB store the aggregator reads. Any retrieval error is fatal; the
// run aborts rather than continuing with a partial panel.
type Fetcher struct {
	logger  *zap.Logger
	cfg     *config.Config
	fred    *FredClient
	yahoo   *YahooClient
	shiller *ShillerClient
	raws    *store.RawStore
}

func NewFetcher(logger *zap.Logger, cfg *config.Config, raws *store.RawStore) *Fetcher {
	return &Fetcher{
		logger:  logger,
		cfg:     cfg,
		fred:    NewFredClient(logger, cfg.FredAPIKey),
		yahoo:   NewYahooClient(logger),
		shiller: NewShillerClient(logger),
		raws:    raws,
	}
}

func (f *Fetcher) FetchAll(ctx context.Context) ([]*series.Raw, error) {
	started := time.Now()

	var fetched []*series.Raw
	for _, spec := range f.cfg.Series {
		raws, err := f.fetchOne(ctx, spec)
		if err != nil {
			return nil, err
		}
		fetched = append(fetched, raws...)
	}

	for _, raw := range fetched {
		if err := f.persist(ctx, raw); err != nil {
			return nil, err
		}
	}

	f.logger.Info("fetch stage complete",
		zap.Int("series", len(fetched)),
		zap.Duration("elapsed", time.Since(started)))
	return fetched, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, spec config.SeriesSpec) ([]*series.Raw, error) {
	switch spec.Source {
	case "fred":
		if f.cfg.FredAPIKey == "" {
			return nil, fmt.Errorf("%w: FRED_API_KEY is not set", ErrRetrieval)
		}
		raw, err := f.fred.FetchSeries(ctx, spec.Name, spec.Code, f.cfg.Start(), f.cfg.End())
		if err != nil {
			return nil, err
		}
		return []*series.Raw{raw}, nil
	case "yahoo":
		raw, err := f.yahoo.FetchSeries(ctx, spec.Name, spec.Code, f.cfg.Start(), f.cfg.End())
		if err != nil {
			return nil, err
		}
		return []*series.Raw{raw}, nil
	case "shiller":
		return f.shiller.FetchSeries(ctx, f.cfg.Start(), f.cfg.End())
	default:
		return nil, fmt.Errorf("%w: series %q: unknown source %q", ErrRetrieval, spec.Name, spec.Source)
	}
}

func (f *Fetcher) persist(ctx context.Context, raw *series.Raw) error {
	dir := f.cfg.RawDir()
	if raw.Source == "shiller" {
		dir = f.cfg.ExternalDir()
	}
	csvPath := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", raw.Source, raw.Name))
	if err := store.WriteSeriesCSV(csvPath, raw); err != nil {
		return fmt.Errorf("persisting %s: %w", raw.Name, err)
	}
	if err := f.raws.SaveSeries(ctx, raw); err != nil {
		return fmt.Errorf("persisting %s: %w", raw.Name, err)
	}
	f.logger.Debug("series persisted",
		zap.String("series", raw.Name),
		zap.String("csv", csvPath))
	return nil
}
