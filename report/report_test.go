package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hamptons/attendance-engine/attendance"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march2 = time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC)

func clockPtr(s string) *attendance.Clock {
	c := attendance.MustClock(s)
	return &c
}

func timePtr(clock string) *time.Time {
	t := attendance.MustClock(clock).On(march2)
	return &t
}

func dayAggregate() Aggregate {
	return Aggregate{
		Date:          march2,
		Employee:      "E1040",
		EmployeeName:  "Salim Al Harthy",
		Department:    "Operations",
		Shift:         "Day",
		ShiftStart:    clockPtr("08:00"),
		ShiftEnd:      clockPtr("17:00"),
		FirstIn:       timePtr("08:25"),
		LastOut:       timePtr("16:40"),
		TotalCheckIns: 3,
		Devices:       "Lobby, Gate",
	}
}

// =============================================================================
// FORMATTING
// =============================================================================

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, OnTime, FormatDuration(0))
	assert.Equal(t, OnTime, FormatDuration(-5*time.Minute))
	assert.Equal(t, "0m", FormatDuration(30*time.Second))
	assert.Equal(t, "45m", FormatDuration(45*time.Minute))
	assert.Equal(t, "1h 0m", FormatDuration(time.Hour))
	assert.Equal(t, "2h 5m", FormatDuration(2*time.Hour+5*time.Minute))
}

func TestWorkingHours(t *testing.T) {
	assert.Equal(t, "8.25", WorkingHours(timePtr("08:00"), timePtr("16:15")).String())
	assert.Equal(t, "0.33", WorkingHours(timePtr("08:00"), timePtr("08:20")).String())
	assert.True(t, WorkingHours(nil, timePtr("16:00")).IsZero())
	assert.True(t, WorkingHours(timePtr("08:00"), nil).IsZero())
}

// =============================================================================
// CHECK-IN REPORT
// =============================================================================

func TestBuildRow(t *testing.T) {
	// GIVEN a day that started late and ended early
	a := dayAggregate()

	// WHEN the row is built
	r := BuildRow(a)

	// THEN the derived columns compare against the scheduled times
	assert.Equal(t, "2026-03-02", r.Date)
	assert.Equal(t, "08:00:00", r.ShiftStart)
	assert.Equal(t, "17:00:00", r.ShiftEnd)
	assert.Equal(t, "2026-03-02 08:25:00", r.FirstIn)
	assert.Equal(t, "2026-03-02 16:40:00", r.LastOut)
	assert.Equal(t, "25m", r.LateBy)
	assert.Equal(t, "20m", r.EarlyExitBy)
	assert.Equal(t, "8.25", r.WorkingHours.String())
	assert.Equal(t, "Lobby, Gate", r.DeviceID)
	assert.Equal(t, 3, r.TotalCheckIns)
}

func TestBuildRow_OnTime(t *testing.T) {
	a := dayAggregate()
	a.FirstIn = timePtr("07:55")
	a.LastOut = timePtr("17:30")

	r := BuildRow(a)

	assert.Equal(t, OnTime, r.LateBy)
	assert.Equal(t, OnTime, r.EarlyExitBy)
}

func TestBuildRow_UnknownShiftOrPunch(t *testing.T) {
	t.Run("no shift", func(t *testing.T) {
		a := dayAggregate()
		a.Shift, a.ShiftStart, a.ShiftEnd = "", nil, nil

		r := BuildRow(a)

		assert.Empty(t, r.ShiftStart)
		assert.Empty(t, r.LateBy)
		assert.Empty(t, r.EarlyExitBy)
		assert.Equal(t, "8.25", r.WorkingHours.String())
	})

	t.Run("no out punch", func(t *testing.T) {
		a := dayAggregate()
		a.LastOut = nil

		r := BuildRow(a)

		assert.Equal(t, "17:00:00", r.ShiftEnd)
		assert.Empty(t, r.LastOut)
		assert.Empty(t, r.EarlyExitBy)
		assert.True(t, r.WorkingHours.IsZero())
	})
}

func TestBuildRows_KeepsOrder(t *testing.T) {
	first, second := dayAggregate(), dayAggregate()
	second.Employee = "E2000"

	rows := BuildRows([]Aggregate{first, second})

	require.Len(t, rows, 2)
	assert.Equal(t, "E1040", rows[0].Employee)
	assert.Equal(t, "E2000", rows[1].Employee)
	assert.NotNil(t, BuildRows(nil))
}

// =============================================================================
// DASHBOARD AND DETAILS
// =============================================================================

func TestDashboardCheckIn_Decorate(t *testing.T) {
	late := DashboardCheckIn{Time: *timePtr("09:10:15"), LogType: attendance.In, StartTime: clockPtr("08:00")}
	late.Decorate()
	assert.Equal(t, "09:10:15", late.TimeOnly)
	assert.True(t, late.IsLate)
	assert.Equal(t, "1h 10m", late.LateBy)

	early := DashboardCheckIn{Time: *timePtr("07:50"), LogType: attendance.In, StartTime: clockPtr("08:00")}
	early.Decorate()
	assert.False(t, early.IsLate)
	assert.Empty(t, early.LateBy)

	out := DashboardCheckIn{Time: *timePtr("18:00"), LogType: attendance.Out, StartTime: clockPtr("08:00")}
	out.Decorate()
	assert.Equal(t, "18:00:00", out.TimeOnly)
	assert.False(t, out.IsLate, "only IN punches are late")

	noShift := DashboardCheckIn{Time: *timePtr("10:00"), LogType: attendance.In}
	noShift.Decorate()
	assert.False(t, noShift.IsLate)
}

func TestGroupByDate(t *testing.T) {
	// GIVEN check-ins newest first across two days
	march3 := march2.AddDate(0, 0, 1)
	checkIns := []EmployeeCheckIn{
		{ID: "c4", Time: attendance.MustClock("17:00").On(march3), LogType: attendance.Out},
		{ID: "c3", Time: attendance.MustClock("08:05").On(march3), LogType: attendance.In},
		{ID: "c2", Time: attendance.MustClock("17:10").On(march2), LogType: attendance.Out},
		{ID: "c1", Time: attendance.MustClock("07:58").On(march2), LogType: attendance.In},
	}

	// WHEN grouped
	days := GroupByDate(checkIns)

	// THEN day order and in-day order follow the input
	require.Len(t, days, 2)
	assert.Equal(t, "2026-03-03", days[0].Date)
	assert.Equal(t, "03 Mar 2026", days[0].DateFormatted)
	assert.Equal(t, "2026-03-02", days[1].Date)
	require.Len(t, days[0].CheckIns, 2)
	assert.Equal(t, "c4", days[0].CheckIns[0].ID)
	assert.Equal(t, "17:00:00", days[0].CheckIns[0].TimeFormatted)
	assert.Equal(t, "c1", days[1].CheckIns[1].ID)
	assert.Equal(t, "07:58:00", days[1].CheckIns[1].TimeFormatted)

	assert.Empty(t, GroupByDate(nil))
}

// =============================================================================
// ANALYTICS
// =============================================================================

func TestAnalyticsFilters_Window(t *testing.T) {
	f := AnalyticsFilters{
		FromDate:   march2,
		ToDate:     march2.AddDate(0, 0, 6).Add(15 * time.Hour),
		Department: "Operations",
	}

	assert.Equal(t, 7, f.Days())

	prev := f.Previous()
	assert.Equal(t, time.Date(2026, time.February, 23, 0, 0, 0, 0, time.UTC), prev.FromDate)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), prev.ToDate)
	assert.Equal(t, 7, prev.Days())
	assert.Equal(t, "Operations", prev.Department, "filters carry over")

	single := AnalyticsFilters{FromDate: march2, ToDate: march2}
	assert.Equal(t, 1, single.Days())
}

func TestSummarize(t *testing.T) {
	s := Summarize(Counts{TotalCheckIns: 45, UniqueEmployees: 9, TotalDevices: 2}, 30, 7)
	assert.Equal(t, 9, s.UniqueEmployees)
	assert.Equal(t, "6.4", s.AvgDailyCheckIns.String())
	assert.Equal(t, "50", s.ChangePercentage.String())

	drop := Summarize(Counts{TotalCheckIns: 10}, 40, 5)
	assert.Equal(t, "2", drop.AvgDailyCheckIns.String())
	assert.Equal(t, "-75", drop.ChangePercentage.String())

	fresh := Summarize(Counts{TotalCheckIns: 12}, 0, 0)
	assert.True(t, fresh.AvgDailyCheckIns.IsZero())
	assert.True(t, fresh.ChangePercentage.IsZero(), "no previous window means no change")
}

// =============================================================================
// EXPORTS
// =============================================================================

func TestWriteCheckInsXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCheckInsXLSX(&buf, []Row{BuildRow(dayAggregate())}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Employee Checkin Report")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, checkInColumns, rows[0])
	assert.Equal(t, "2026-03-02", rows[1][0])
	assert.Equal(t, "E1040", rows[1][1])
	assert.Equal(t, "8.25", rows[1][11])
	assert.Equal(t, "25m", rows[1][12])
}

func TestWriteAnalyticsXLSX(t *testing.T) {
	var buf bytes.Buffer
	raw := []RawCheckIn{{
		Time:     *timePtr("08:01:30"),
		Employee: "E1040",
		LogType:  attendance.In,
		DeviceID: "Lobby",
	}}
	require.NoError(t, WriteAnalyticsXLSX(&buf, raw))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Employee Checkin Analytics")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-03-02 08:01:30", rows[1][0])
	assert.Equal(t, "IN", rows[1][5])
	assert.Equal(t, "Lobby", rows[1][6])
}

func TestWriteCheckInsPDF(t *testing.T) {
	rows := make([]Row, 0, 80)
	for i := 0; i < 80; i++ {
		rows = append(rows, BuildRow(dayAggregate()))
	}
	rows[0].EmployeeName = "A name far too long to fit inside the column width"

	var buf bytes.Buffer
	require.NoError(t, WriteCheckInsPDF(&buf, "Employee Checkin Report", rows))

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	assert.Greater(t, buf.Len(), 1000)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 40))
	got := truncate("A name far too long to fit inside the column width", 40)
	assert.Len(t, got, 25)
	assert.Equal(t, "..", got[len(got)-2:])
	assert.Equal(t, "abcdef", truncate("abcdef", 5), "tiny columns are left alone")
}
