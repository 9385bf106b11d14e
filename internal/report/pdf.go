package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// Color scheme - professional dark blue theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorDanger      = [3]int{231, 76, 60}   // Red
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
)

// PDFGenerator handles PDF report generation.
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// Generate creates a PDF report from the provided data.
func (g *PDFGenerator) Generate(data *Data) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)

	pdf.AddPage()
	g.writeHeader(pdf, data)
	g.writeSummarySection(pdf, data)
	g.writeOffendersSection(pdf, data)
	g.writeFooter(pdf, data)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) writeHeader(pdf *fpdf.Fpdf, data *Data) {
	pageWidth, _ := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(20)
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 12, "INSIDER", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 14)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, data.Title, "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	period := fmt.Sprintf("%s to %s",
		data.Stats.WindowStart.Format("2006-01-02 15:04 MST"),
		data.Stats.WindowEnd.Format("2006-01-02 15:04 MST"))
	pdf.CellFormat(0, 6, period, "", 1, "C", false, 0, "")
	pdf.Ln(6)
}

func (g *PDFGenerator) writeSummarySection(pdf *fpdf.Fpdf, data *Data) {
	g.sectionTitle(pdf, "Activity Summary")

	rows := []struct {
		label string
		value int64
		alert bool
	}{
		{"New Incidences", data.Stats.NewIncidences, data.Stats.NewIncidences > 0},
		{"Resolved Incidences", data.Stats.ResolvedIncidences, false},
		{"Server Errors (5xx)", data.Stats.ServerErrors, data.Stats.ServerErrors > 0},
		{"Total Footprints", data.Stats.TotalFootprints, false},
	}

	pdf.SetFont("Arial", "", 10)
	for i, row := range rows {
		if i%2 == 1 {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}

		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(110, 8, row.label, "", 0, "L", true, 0, "")

		if row.alert {
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
			pdf.SetFont("Arial", "B", 10)
		}
		pdf.CellFormat(60, 8, fmt.Sprintf("%d", row.value), "", 1, "R", true, 0, "")
		pdf.SetFont("Arial", "", 10)
	}
	pdf.Ln(8)
}

func (g *PDFGenerator) writeOffendersSection(pdf *fpdf.Fpdf, data *Data) {
	g.sectionTitle(pdf, "Top Offenders")

	if len(data.Stats.TopOffenders) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 8, "No error activity in this window.", "", 1, "L", false, 0, "")
		pdf.Ln(4)
		return
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(15, 8, "#", "", 0, "C", true, 0, "")
	pdf.CellFormat(125, 8, "Incidence", "", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Count", "", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	for i, offender := range data.Stats.TopOffenders {
		if i%2 == 1 {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(15, 8, fmt.Sprintf("%d", i+1), "", 0, "C", true, 0, "")
		pdf.CellFormat(125, 8, truncateTitle(offender.Title, 70), "", 0, "L", true, 0, "")
		pdf.CellFormat(30, 8, fmt.Sprintf("%d", offender.Count), "", 1, "R", true, 0, "")
	}
	pdf.Ln(8)
}

func (g *PDFGenerator) writeFooter(pdf *fpdf.Fpdf, data *Data) {
	pdf.SetY(-20)
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	generated := fmt.Sprintf("Generated by Insider on %s", data.GeneratedAt.Format(time.RFC1123))
	pdf.CellFormat(0, 6, generated, "", 0, "C", false, 0, "")
}

func (g *PDFGenerator) sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func truncateTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
