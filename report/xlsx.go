package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/hamptons/attendance-engine/attendance"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var checkInColumns = []string{
	"Date", "Employee ID", "Employee Name", "Department", "Designation", "Shift",
	"Shift Start", "Shift End", "First Check-in", "Last Check-out", "Total Check-ins",
	"Working Hours", "Late By", "Early Exit By", "Device/Location", "Regularization", "Status",
}

// WriteCheckInsXLSX writes the check-in report as a single-sheet workbook.
func WriteCheckInsXLSX(w io.Writer, rows []Row) error {
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, []any{
			r.Date, r.Employee, r.EmployeeName, r.Department, r.Designation, r.Shift,
			r.ShiftStart, r.ShiftEnd, r.FirstIn, r.LastOut, r.TotalCheckIns,
			r.WorkingHours.InexactFloat64(), r.LateBy, r.EarlyExitBy, r.DeviceID,
			r.Regularization, r.RegularizationStatus,
		})
	}
	return writeSheet(w, "Employee Checkin Report", checkInColumns, data)
}

var analyticsColumns = []string{
	"Time", "Employee ID", "Employee Name", "Department", "Designation", "Type", "Device ID",
}

// WriteAnalyticsXLSX writes raw check-ins for the analytics export.
func WriteAnalyticsXLSX(w io.Writer, checkIns []RawCheckIn) error {
	data := make([][]any, 0, len(checkIns))
	for _, c := range checkIns {
		data = append(data, []any{
			c.Time.Format(attendance.DateTimeLayout), c.Employee, c.EmployeeName,
			c.Department, c.Designation, string(c.LogType), c.DeviceID,
		})
	}
	return writeSheet(w, "Employee Checkin Analytics", analyticsColumns, data)
}

func writeSheet(w io.Writer, sheetName string, headers []string, rows [][]any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetColWidth(sheetName, "A", lastCol, 18); err != nil {
		return err
	}
	return f.Write(w)
}
