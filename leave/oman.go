package leave

import "github.com/shopspring/decimal"

const (
	// OmanPolicyName is the policy SetupPolicy creates.
	OmanPolicyName = "Oman Labor Law Leave Policy"

	AnnualLeave = "Annual Leave"
	HajjLeave   = "Hajj Leave"
)

func days(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// OmanLeaveTypes returns the leave types of the Oman labour law with their
// restrictions applied. Only Annual Leave carries forward.
func OmanLeaveTypes() []LeaveType {
	return []LeaveType{
		{
			Name: AnnualLeave, MaxLeavesAllowed: days(30), IsCarryForward: true, MaxContinuousDays: 30,
			IsEarnedLeave: true, EarnedLeaveFrequency: "Monthly", AllowEncashment: true, ApplicableAfterDays: 365,
			Description: "Annual leave as per Oman Labor Law - 30 days per year",
		},
		{
			Name: "Sick Leave", MaxLeavesAllowed: days(21), MaxContinuousDays: 21, ApplicableAfterDays: 90,
			Description: "Sick leave with medical certificate - 21 days per year (15 days full pay, 6 days half pay)",
		},
		{
			Name: "Paternity Leave", MaxLeavesAllowed: days(7), MaxContinuousDays: 7,
			GenderSpecific: "Male",
			Description:    "Paternity leave for male employees - 7 days",
		},
		{
			Name: "Marriage Leave", MaxLeavesAllowed: days(3), MaxContinuousDays: 3,
			Description: "Marriage leave - 3 days",
		},
		{
			Name: "Bereavement Leave", MaxLeavesAllowed: days(3), MaxContinuousDays: 3,
			Description: "Bereavement leave for immediate family - 3 days",
		},
		{
			Name: "Bereavement Leave - Extended Family", MaxLeavesAllowed: days(2), MaxContinuousDays: 2,
			Description: "Bereavement leave for extended family - 2 days",
		},
		{
			Name: "Bereavement Leave - Child/Wife", MaxLeavesAllowed: days(10), MaxContinuousDays: 10,
			Description: "Bereavement leave for child or wife - 10 days",
		},
		{
			Name: HajjLeave, MaxLeavesAllowed: days(15), MaxContinuousDays: 15, ApplicableAfterDays: 365,
			ReligionSpecific: RestrictMuslim, OnceInService: true,
			Description: "Hajj leave for Muslim employees - 15 days (once in service)",
		},
		{
			Name: "Exam Leave", MaxLeavesAllowed: days(15), MaxContinuousDays: 15,
			Description: "Exam leave for students - 15 days",
		},
		{
			Name: "Bereavement Leave - Wife (Muslim Female)", MaxLeavesAllowed: days(130), MaxContinuousDays: 130,
			GenderSpecific: "Female", ReligionSpecific: RestrictMuslim,
			Description: "Bereavement leave for Muslim female employees (Iddah period) - 130 days",
		},
		{
			Name: "Bereavement Leave - Wife (Non-Muslim Female)", MaxLeavesAllowed: days(14), MaxContinuousDays: 14,
			GenderSpecific: "Female", ReligionSpecific: RestrictNonMuslim,
			Description: "Bereavement leave for non-Muslim female employees - 14 days",
		},
		{
			Name: "Compassionate Leave - Family Member", MaxLeavesAllowed: days(15), MaxContinuousDays: 15,
			Description: "Compassionate leave for critical illness of family member - 15 days",
		},
		{
			Name: "Maternity Leave", MaxLeavesAllowed: days(98), MaxContinuousDays: 98, ApplicableAfterDays: 365,
			GenderSpecific: "Female",
			Description:    "Maternity leave for female employees - 98 days (50 days full pay, 48 days unpaid)",
		},
	}
}

// OmanPolicy builds the policy with one detail per leave type.
func OmanPolicy(types []LeaveType) Policy {
	p := Policy{Name: OmanPolicyName}
	for _, lt := range types {
		p.Details = append(p.Details, PolicyDetail{LeaveType: lt.Name, AnnualAllocation: lt.MaxLeavesAllowed})
	}
	return p
}
