package leave

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hamptons/attendance-engine/attendance"
)

func date(s string) time.Time {
	d, err := attendance.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// =============================================================================
// ELIGIBILITY
// =============================================================================

func TestEligible(t *testing.T) {
	types := map[string]LeaveType{}
	for _, lt := range OmanLeaveTypes() {
		types[lt.Name] = lt
	}

	muslimMan := attendance.Employee{ID: "M", Gender: "Male", Religion: ReligionMuslim}
	woman := attendance.Employee{ID: "F", Gender: "Female", Religion: "Christian"}
	pilgrim := attendance.Employee{ID: "P", Gender: "Male", Religion: ReligionMuslim, HajjLeaveTaken: true}

	tests := []struct {
		emp       attendance.Employee
		leaveType string
		wantOK    bool
		reason    string
	}{
		{muslimMan, AnnualLeave, true, ""},
		{muslimMan, "Paternity Leave", true, ""},
		{woman, "Paternity Leave", false, "Gender restriction"},
		{muslimMan, "Maternity Leave", false, "Gender restriction"},
		{muslimMan, HajjLeave, true, ""},
		{woman, HajjLeave, false, "Religion restriction"},
		{pilgrim, HajjLeave, false, "Already availed once in service"},
		{woman, "Bereavement Leave - Wife (Non-Muslim Female)", true, ""},
		{woman, "Bereavement Leave - Wife (Muslim Female)", false, "Religion restriction"},
	}
	for _, tt := range tests {
		t.Run(tt.emp.ID+"/"+tt.leaveType, func(t *testing.T) {
			lt, ok := types[tt.leaveType]
			require.True(t, ok)

			got, reason := Eligible(tt.emp, lt)

			assert.Equal(t, tt.wantOK, got)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestOmanPolicy_ListsEveryType(t *testing.T) {
	types := OmanLeaveTypes()
	p := OmanPolicy(types)

	assert.Equal(t, OmanPolicyName, p.Name)
	require.Len(t, p.Details, len(types))
	for i, d := range p.Details {
		assert.Equal(t, types[i].Name, d.LeaveType)
		assert.True(t, types[i].MaxLeavesAllowed.Equal(d.AnnualAllocation))
	}

	carry := 0
	for _, lt := range types {
		if lt.IsCarryForward {
			carry++
			assert.Equal(t, AnnualLeave, lt.Name)
		}
	}
	assert.Equal(t, 1, carry)
}

// =============================================================================
// APPLICATIONS
// =============================================================================

func TestApplication_Days(t *testing.T) {
	a := Application{FromDate: date("2026-03-01"), ToDate: date("2026-03-03")}
	assert.Equal(t, "3", a.Days().String())

	a.HalfDay = true
	assert.Equal(t, "2.5", a.Days().String())

	a = Application{FromDate: date("2026-03-03"), ToDate: date("2026-03-01")}
	assert.True(t, a.Days().IsZero())
}

func TestApplication_IsHalfDayOn(t *testing.T) {
	single := Application{FromDate: date("2026-03-02"), ToDate: date("2026-03-02"), HalfDay: true}
	assert.True(t, single.IsHalfDayOn(date("2026-03-02")))
	assert.False(t, single.IsHalfDayOn(date("2026-03-03")))

	halfDate := date("2026-03-04")
	ranged := Application{FromDate: date("2026-03-02"), ToDate: date("2026-03-04"), HalfDay: true, HalfDayDate: &halfDate}
	assert.False(t, ranged.IsHalfDayOn(date("2026-03-02")))
	assert.True(t, ranged.IsHalfDayOn(halfDate))

	full := Application{FromDate: date("2026-03-02"), ToDate: date("2026-03-02")}
	assert.False(t, full.IsHalfDayOn(date("2026-03-02")))
}

func TestInsufficientBalanceError(t *testing.T) {
	err := &InsufficientBalanceError{
		EmployeeID: "E1",
		LeaveType:  AnnualLeave,
		Available:  decimal.NewFromFloat(1.5),
		Requested:  decimal.NewFromInt(3),
	}

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, IsClientError(err))
	assert.Equal(t, "1.5", err.Shortfall().String())
	assert.Contains(t, err.Error(), "shortfall 1.5")
}

// =============================================================================
// OPENING BALANCES
// =============================================================================

func workbook(t *testing.T, rows [][]string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cell, v))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestReadOpeningBalances(t *testing.T) {
	// GIVEN a sheet exported from the legacy payroll with float ids
	buf := workbook(t, [][]string{
		{"Employee", "Opening Balance"},
		{"1016.0", "12.5"},
		{"", ""},
		{"HR-EMP-002", "7"},
	})

	// WHEN it is read
	got, err := ReadOpeningBalances(buf, "balances.xlsx")

	// THEN ids are normalised and blank rows are skipped
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "12.5", got["1016"].String())
	assert.Equal(t, "7", got["HR-EMP-002"].String())
}

func TestReadOpeningBalances_Rejects(t *testing.T) {
	t.Run("malformed balance", func(t *testing.T) {
		buf := workbook(t, [][]string{{"employee", "balance"}, {"E1", "twelve"}})
		_, err := ReadOpeningBalances(buf, "b.xlsx")
		assert.ErrorContains(t, err, "row 2")
	})

	t.Run("missing balance column", func(t *testing.T) {
		buf := workbook(t, [][]string{{"employee", "days"}, {"E1", "3"}})
		_, err := ReadOpeningBalances(buf, "b.xlsx")
		assert.ErrorContains(t, err, "balance")
	})

	t.Run("missing employee", func(t *testing.T) {
		buf := workbook(t, [][]string{{"employee_id", "opening_balance"}, {"", "3"}})
		_, err := ReadOpeningBalances(buf, "b.xlsx")
		assert.ErrorContains(t, err, "missing employee")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := ReadOpeningBalances(bytes.NewBufferString("employee,balance\n"), "b.csv")
		assert.ErrorContains(t, err, "unsupported file type")
	})
}
