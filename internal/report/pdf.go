package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// SavePatchPDF renders the run summary into a one-page PDF document. The
// output image hash is also embedded as a QR code.
func SavePatchPDF(s Summary, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Bootable Image Report", false)
	pdf.SetAuthor("mkbootable", false)
	pdf.SetCreator("mkbootable", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Bootable Image Report")
	addSummarySection(pdf, s)
	addPatchSection(pdf, s.Patches)
	if err := addHashQR(pdf, s); err != nil {
		return err
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, s Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	pdf.SetFont("Helvetica", "", 10)
	items := []struct {
		label string
		value string
	}{
		{label: "Created", value: created.Format(time.RFC3339)},
		{label: "Input", value: emptyFallback(s.Input, "-")},
		{label: "Output", value: emptyFallback(s.Output, "-")},
		{label: "Bootsector", value: emptyFallback(s.Bootsector, "-")},
		{label: "Partition", value: fmt.Sprintf("%d (type 0x%02X)", s.Partition, s.PartType)},
		{label: "Start LBA", value: fmt.Sprintf("%d", s.StartLBA)},
		{label: "Length", value: fmt.Sprintf("%d sectors", s.Length)},
		{label: "Attributes", value: fmt.Sprintf("0x%02X", s.Attributes)},
		{label: "Input SHA256", value: emptyFallback(s.InputSha256, "-")},
		{label: "Output SHA256", value: emptyFallback(s.OutputSha256, "-")},
	}
	for _, item := range items {
		pdf.CellFormat(35, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, item.value, "", "L", false)
	}
	pdf.Ln(4)
}

func addPatchSection(pdf *gofpdf.Fpdf, rows []PatchRow) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Patched Regions")
	pdf.Ln(9)

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No regions patched.", "", "L", false)
		return
	}

	headers := []string{"Region", "Offset", "Length", "Changed"}
	widths := []float64{50, 50, 40, 40}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		values := []string{
			row.Region,
			fmt.Sprintf("0x%X", row.Offset),
			fmt.Sprintf("%d", row.Length),
			yesNo(row.Change),
		}
		for i, v := range values {
			pdf.CellFormat(widths[i], 6, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)
}

func addHashQR(pdf *gofpdf.Fpdf, s Summary) error {
	if strings.TrimSpace(s.OutputSha256) == "" {
		return nil
	}
	png, err := SummaryQR(s, qrSize)
	if err != nil {
		return fmt.Errorf("qr: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("output-sha256", opts, bytes.NewReader(png))
	pdf.SetFont("Helvetica", "", 9)
	pdf.Cell(0, 5, "Output SHA256")
	pdf.Ln(6)
	pdf.ImageOptions("output-sha256", pdf.GetX(), pdf.GetY(), 40, 40, true, opts, 0, "")
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
