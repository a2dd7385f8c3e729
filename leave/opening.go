package leave

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// ReadOpeningBalances reads Annual Leave opening balances from a .xlsx or
// .xls sheet with an employee column and a balance column. Blank rows are
// ignored; a malformed balance fails the whole import.
func ReadOpeningBalances(reader io.Reader, filename string) (map[string]decimal.Decimal, error) {
	rows, err := readRowsFromSpreadsheet(reader, filename)
	if err != nil {
		return nil, err
	}

	headerIndex := map[string]int{}
	for i, header := range rows[0] {
		headerIndex[normalizeHeader(header)] = i
	}

	empIdx := firstColumn(headerIndex, "employee", "employee id", "employee_id")
	if empIdx == -1 {
		return nil, fmt.Errorf("missing required column: employee")
	}
	balIdx := firstColumn(headerIndex, "balance", "opening balance", "opening_balance")
	if balIdx == -1 {
		return nil, fmt.Errorf("missing required column: balance")
	}

	balances := make(map[string]decimal.Decimal)
	for n, row := range rows[1:] {
		emp := normalizeEmployeeID(cellValue(row, empIdx))
		raw := cellValue(row, balIdx)
		if emp == "" && raw == "" {
			continue
		}
		if emp == "" {
			return nil, fmt.Errorf("row %d: missing employee", n+2)
		}
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid balance %q for %s", n+2, raw, emp)
		}
		balances[emp] = bal
	}
	return balances, nil
}

func readRowsFromSpreadsheet(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls":
		workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
		if err != nil {
			return nil, err
		}
		if workbook.NumSheets() == 0 {
			return nil, fmt.Errorf("no worksheet found")
		}
		rows := workbook.ReadAllCells(100000)
		if len(rows) == 0 {
			return nil, fmt.Errorf("worksheet is empty")
		}
		return rows, nil
	case ".xlsx", "":
		file, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()

		sheetName := file.GetSheetName(0)
		if sheetName == "" {
			return nil, fmt.Errorf("no worksheet found")
		}
		rows, err := file.GetRows(sheetName)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("worksheet is empty")
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q (expected .xlsx or .xls)", filepath.Ext(filename))
	}
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func firstColumn(index map[string]int, names ...string) int {
	for _, n := range names {
		if idx, ok := index[n]; ok {
			return idx
		}
	}
	return -1
}

// Legacy sheets store numeric ids as floats ("1016.0").
func normalizeEmployeeID(s string) string {
	if strings.HasSuffix(s, ".0") {
		return strings.TrimSuffix(s, ".0")
	}
	return s
}
