package report

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"
)

const PDFContentType = "application/pdf"

type pdfColumn struct {
	title string
	width float64
	value func(Row) string
}

var pdfColumns = []pdfColumn{
	{"Date", 20, func(r Row) string { return r.Date }},
	{"Employee", 22, func(r Row) string { return r.Employee }},
	{"Name", 40, func(r Row) string { return r.EmployeeName }},
	{"Department", 35, func(r Row) string { return r.Department }},
	{"Shift", 25, func(r Row) string { return r.Shift }},
	{"First In", 30, func(r Row) string { return r.FirstIn }},
	{"Last Out", 30, func(r Row) string { return r.LastOut }},
	{"Hours", 14, func(r Row) string { return r.WorkingHours.StringFixed(2) }},
	{"Late By", 18, func(r Row) string { return r.LateBy }},
	{"Early Exit", 18, func(r Row) string { return r.EarlyExitBy }},
	{"Status", 25, func(r Row) string { return r.RegularizationStatus }},
}

// WriteCheckInsPDF renders the check-in report as a landscape A4 table.
func WriteCheckInsPDF(w io.Writer, title string, rows []Row) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)

	header := func() {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(217, 225, 242)
		for _, c := range pdfColumns {
			pdf.CellFormat(c.width, 7, c.title, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 7)
	}
	pdf.SetHeaderFuncMode(func() {
		if pdf.PageNo() > 1 {
			header()
		}
	}, true)
	header()

	for _, r := range rows {
		for _, c := range pdfColumns {
			pdf.CellFormat(c.width, 6, truncate(c.value(r), c.width), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.Cell(0, 6, fmt.Sprintf("%d rows", len(rows)))

	return pdf.Output(w)
}

// truncate keeps text roughly inside a column of width mm at 7pt.
func truncate(s string, width float64) string {
	max := int(width / 1.6)
	if len(s) <= max || max < 4 {
		return s
	}
	return s[:max-2] + ".."
}
