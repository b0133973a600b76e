package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Table is a named tabular artifact destined for results/tables.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Writer persists tables as CSV and model snapshots as JSON under the
// configured results directories.
type Writer struct {
	logger    *zap.Logger
	tablesDir string
	modelsDir string
}

func NewWriter(logger *zap.Logger, tablesDir, modelsDir string) *Writer {
	return &Writer{logger: logger, tablesDir: tablesDir, modelsDir: modelsDir}
}

func (w *Writer) SaveTable(t Table) error {
	path := filepath.Join(w.tablesDir, t.Name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	cw := csv.NewWriter(f)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("report: write header of %s: %w", t.Name, err)
	}
	for _, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("report: write row of %s: %w", t.Name, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush %s: %w", t.Name, err)
	}

	w.logger.Debug("table saved",
		zap.String("table", t.Name),
		zap.Int("rows", len(t.Rows)))
	return nil
}

// SaveModel writes an estimated model's parameters as indented JSON.
func (w *Writer) SaveModel(name string, v any) error {
	path := filepath.Join(w.modelsDir, name+".json")
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}

	w.logger.Debug("model snapshot saved", zap.String("model", name))
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}
