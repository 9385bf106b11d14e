package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// CSVGenerator handles CSV report generation.
type CSVGenerator struct{}

// NewCSVGenerator creates a new CSV generator.
func NewCSVGenerator() *CSVGenerator {
	return &CSVGenerator{}
}

// Generate creates a CSV report from the provided data.
func (g *CSVGenerator) Generate(data *Data) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := g.writeHeader(w, data); err != nil {
		return nil, fmt.Errorf("write CSV header section: %w", err)
	}
	if err := g.writeSummary(w, data); err != nil {
		return nil, fmt.Errorf("write CSV summary section: %w", err)
	}
	if err := g.writeOffenders(w, data); err != nil {
		return nil, fmt.Errorf("write CSV offenders section: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *CSVGenerator) writeHeader(w *csv.Writer, data *Data) error {
	headers := [][]string{
		{"# Insider Activity Report"},
		{"# Title:", data.Title},
		{"# Period:", fmt.Sprintf("%s to %s",
			data.Stats.WindowStart.Format(time.RFC3339),
			data.Stats.WindowEnd.Format(time.RFC3339))},
		{"# Generated:", data.GeneratedAt.Format(time.RFC3339)},
		{""},
	}
	for _, row := range headers {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write header row %q: %w", row[0], err)
		}
	}
	return nil
}

func (g *CSVGenerator) writeSummary(w *csv.Writer, data *Data) error {
	rows := [][]string{
		{"Metric", "Value"},
		{"New Incidences", fmt.Sprintf("%d", data.Stats.NewIncidences)},
		{"Resolved Incidences", fmt.Sprintf("%d", data.Stats.ResolvedIncidences)},
		{"Server Errors (5xx)", fmt.Sprintf("%d", data.Stats.ServerErrors)},
		{"Total Footprints", fmt.Sprintf("%d", data.Stats.TotalFootprints)},
		{""},
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (g *CSVGenerator) writeOffenders(w *csv.Writer, data *Data) error {
	if err := w.Write([]string{"Rank", "Incidence", "Occurrences"}); err != nil {
		return err
	}
	if len(data.Stats.TopOffenders) == 0 {
		return w.Write([]string{"-", "No error activity in this window", "0"})
	}
	for i, offender := range data.Stats.TopOffenders {
		row := []string{
			fmt.Sprintf("%d", i+1),
			offender.Title,
			fmt.Sprintf("%d", offender.Count),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
