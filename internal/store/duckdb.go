package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/google/uuid"

	"macropulse/internal/series"
)

// RawStore keeps every fetched series in a DuckDB file so the aggregator
// and standalone stage re-runs never have to hit the network again.
type RawStore struct {
	dataSourceName string
	db             *sql.DB
}

func NewRawStore(dataSourceName string) *RawStore {
	return &RawStore{
		dataSourceName: dataSourceName,
	}
}

func (s *RawStore) Connect() error {
	db, err := sql.Open("duckdb", s.dataSourceName)
	if err != nil {
		return fmt.Errorf("sql.Open: %v", err)
	}
	s.db = db
	return nil
}

func (s *RawStore) Close() {
	_ = s.db.Close()
}

func (s *RawStore) init(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS series_meta (
			name VARCHAR PRIMARY KEY,
			source VARCHAR,
			code VARCHAR,
			frequency VARCHAR,
			run_id VARCHAR,
			fetched_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS observations (
			name VARCHAR,
			ts TIMESTAMP,
			value DOUBLE,
			PRIMARY KEY (name, ts)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error creating schema: %w", err)
		}
	}
	return nil
}

// SaveSeries replaces any previously stored copy of the same series.
func (s *RawStore) SaveSeries(ctx context.Context, r *series.Raw) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM observations WHERE name = ?`, r.Name); err != nil {
		return fmt.Errorf("error clearing observations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM series_meta WHERE name = ?`, r.Name); err != nil {
		return fmt.Errorf("error clearing metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO series_meta (name, source, code, frequency, run_id, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Name, r.Source, r.Code, string(r.Frequency), r.RunID.String(), r.FetchedAt.UTC(),
	); err != nil {
		return fmt.Errorf("error inserting metadata: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO observations (name, ts, value) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, o := range r.Obs {
		if _, err := stmt.ExecContext(ctx, r.Name, o.Date.UTC(), o.Value); err != nil {
			return fmt.Errorf("error inserting observation: %w", err)
		}
	}

	return tx.Commit()
}

// LoadSeries reads one stored series back, observations in date order.
func (s *RawStore) LoadSeries(ctx context.Context, name string) (*series.Raw, error) {
	r := &series.Raw{Name: name}

	var runID string
	var fetchedAt time.Time
	var freq string
	err := s.db.QueryRowContext(ctx,
		`SELECT source, code, frequency, run_id, fetched_at FROM series_meta WHERE name = ?`, name,
	).Scan(&r.Source, &r.Code, &freq, &runID, &fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("error loading metadata for %q: %w", name, err)
	}
	r.Frequency = series.Frequency(freq)
	r.FetchedAt = fetchedAt.UTC()
	if id, err := uuid.Parse(runID); err == nil {
		r.RunID = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM observations WHERE name = ? ORDER BY ts`, name)
	if err != nil {
		return nil, fmt.Errorf("error preparing query: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	for rows.Next() {
		var o series.Observation
		ts := time.Time{}
		if err := rows.Scan(&ts, &o.Value); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		o.Date = ts.UTC()
		r.Obs = append(r.Obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error scanning rows: %w", err)
	}

	return r, nil
}

// ListSeries returns the names of every stored series.
func (s *RawStore) ListSeries(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM series_meta ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("error preparing query: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("error scanning row: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
