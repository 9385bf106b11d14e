// Package report builds the daily activity report over the incidence
// store and renders it as CSV or PDF.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/insiderhq/insider/internal/incidence"
)

// Format is the output format of a report.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want csv or pdf)", s)
	}
}

// Data is everything a renderer needs for one report.
type Data struct {
	Title       string
	Stats       incidence.Stats
	GeneratedAt time.Time
}

// Generator produces reports from the incidence store.
type Generator struct {
	store *incidence.Store
}

// NewGenerator creates a report generator over the given store.
func NewGenerator(store *incidence.Store) *Generator {
	return &Generator{store: store}
}

// Generate gathers statistics for the window ending at end and renders
// them. It returns the rendered bytes and their content type.
func (g *Generator) Generate(window time.Duration, end time.Time, format Format) ([]byte, string, error) {
	stats, err := g.store.ReportStats(window, end)
	if err != nil {
		return nil, "", fmt.Errorf("gather report statistics: %w", err)
	}

	data := &Data{
		Title:       fmt.Sprintf("Insider Daily Report %s", end.UTC().Format("2006-01-02")),
		Stats:       stats,
		GeneratedAt: time.Now().UTC(),
	}

	switch format {
	case FormatCSV:
		out, err := NewCSVGenerator().Generate(data)
		return out, "text/csv", err
	case FormatPDF:
		out, err := NewPDFGenerator().Generate(data)
		return out, "application/pdf", err
	default:
		return nil, "", fmt.Errorf("unknown report format %q", format)
	}
}

// Filename returns the attachment name for a report ending at end.
func Filename(end time.Time, format Format) string {
	return fmt.Sprintf("insider-report-%s.%s", end.UTC().Format("2006-01-02"), format)
}
