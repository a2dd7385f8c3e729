package leave

import "github.com/hamptons/attendance-engine/attendance"

// Eligible applies the gender, religion and once-in-service restrictions of
// lt to emp. The reason is empty when the employee is eligible.
func Eligible(emp attendance.Employee, lt LeaveType) (bool, string) {
	if g := lt.GenderSpecific; g != "" && g != RestrictAll && g != emp.Gender {
		return false, "Gender restriction"
	}

	switch lt.ReligionSpecific {
	case RestrictMuslim:
		if emp.Religion != ReligionMuslim {
			return false, "Religion restriction"
		}
	case RestrictNonMuslim:
		if emp.Religion == ReligionMuslim {
			return false, "Religion restriction"
		}
	}

	if lt.OnceInService && emp.HajjLeaveTaken {
		return false, "Already availed once in service"
	}
	return true, ""
}
