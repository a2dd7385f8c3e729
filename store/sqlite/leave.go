package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/leave"
)

// =============================================================================
// LEAVE TYPES AND POLICIES
// =============================================================================

const leaveTypeColumns = `name, max_leaves_allowed, is_carry_forward, max_continuous_days,
	is_earned_leave, earned_leave_frequency, allow_encashment, applicable_after,
	gender_specific, religion_specific, once_in_service, description`

func (s *Store) UpsertLeaveType(ctx context.Context, lt leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types (`+leaveTypeColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			max_leaves_allowed = excluded.max_leaves_allowed,
			is_carry_forward = excluded.is_carry_forward,
			max_continuous_days = excluded.max_continuous_days,
			is_earned_leave = excluded.is_earned_leave,
			earned_leave_frequency = excluded.earned_leave_frequency,
			allow_encashment = excluded.allow_encashment,
			applicable_after = excluded.applicable_after,
			gender_specific = excluded.gender_specific,
			religion_specific = excluded.religion_specific,
			once_in_service = excluded.once_in_service,
			description = excluded.description,
			updated_at = excluded.updated_at
	`, lt.Name, lt.MaxLeavesAllowed.String(), boolInt(lt.IsCarryForward), lt.MaxContinuousDays,
		boolInt(lt.IsEarnedLeave), nullString(lt.EarnedLeaveFrequency), boolInt(lt.AllowEncashment),
		lt.ApplicableAfterDays, nullString(lt.GenderSpecific), nullString(lt.ReligionSpecific),
		boolInt(lt.OnceInService), nullString(lt.Description), stamp, stamp)
	if err != nil {
		return fmt.Errorf("failed to save leave type %s: %w", lt.Name, err)
	}
	return nil
}

func (s *Store) GetLeaveType(ctx context.Context, name string) (*leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE name = ?`, name)
	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lt, nil
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func scanLeaveType(row scanner) (leave.LeaveType, error) {
	var (
		lt                                   leave.LeaveType
		maxLeaves                            string
		frequency, gender, religion, desc    sql.NullString
		carry, earned, encash, onceInService int
	)
	err := row.Scan(&lt.Name, &maxLeaves, &carry, &lt.MaxContinuousDays, &earned, &frequency,
		&encash, &lt.ApplicableAfterDays, &gender, &religion, &onceInService, &desc)
	if err != nil {
		return lt, err
	}
	lt.MaxLeavesAllowed = parseDecimal(maxLeaves)
	lt.IsCarryForward = carry == 1
	lt.IsEarnedLeave = earned == 1
	lt.EarnedLeaveFrequency = frequency.String
	lt.AllowEncashment = encash == 1
	lt.GenderSpecific = gender.String
	lt.ReligionSpecific = religion.String
	lt.OnceInService = onceInService == 1
	lt.Description = desc.String
	return lt, nil
}

// SavePolicy upserts the policy and replaces its details.
func (s *Store) SavePolicy(ctx context.Context, p leave.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stamp := now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO leave_policies (name, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at
		`, p.Name, stamp, stamp); err != nil {
			return fmt.Errorf("failed to save policy %s: %w", p.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM leave_policy_details WHERE policy = ?`, p.Name); err != nil {
			return err
		}
		for _, d := range p.Details {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO leave_policy_details (policy, leave_type, annual_allocation) VALUES (?, ?, ?)
			`, p.Name, d.LeaveType, d.AnnualAllocation.String()); err != nil {
				return fmt.Errorf("failed to save policy detail %s: %w", d.LeaveType, err)
			}
		}
		return nil
	})
}

func (s *Store) GetPolicy(ctx context.Context, name string) (*leave.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leave_policies WHERE name = ?`, name).Scan(&count); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT leave_type, annual_allocation FROM leave_policy_details
		WHERE policy = ? ORDER BY leave_type
	`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p := &leave.Policy{Name: name}
	for rows.Next() {
		var d leave.PolicyDetail
		var amount string
		if err := rows.Scan(&d.LeaveType, &amount); err != nil {
			return nil, err
		}
		d.AnnualAllocation = parseDecimal(amount)
		p.Details = append(p.Details, d)
	}
	return p, rows.Err()
}

// SavePolicyAssignment upserts on (employee, policy, effective_from).
func (s *Store) SavePolicyAssignment(ctx context.Context, a leave.PolicyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_policy_assignments
		(id, employee, policy, effective_from, carry_forward, docstatus, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee, policy, effective_from) DO UPDATE SET
			carry_forward = excluded.carry_forward,
			docstatus = excluded.docstatus
	`, a.ID, a.EmployeeID, a.Policy, formatDate(a.EffectiveFrom), boolInt(a.CarryForward),
		int(a.DocStatus), formatStamp(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save policy assignment: %w", err)
	}
	return nil
}

// PolicyAssignments lists an employee's policy assignments, newest first.
func (s *Store) PolicyAssignments(ctx context.Context, employeeID string) ([]leave.PolicyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee, policy, effective_from, carry_forward, docstatus, created_at
		FROM leave_policy_assignments WHERE employee = ?
		ORDER BY effective_from DESC
	`, employeeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.PolicyAssignment
	for rows.Next() {
		var (
			a               leave.PolicyAssignment
			from, createdAt string
			carry, doc      int
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.Policy, &from, &carry, &doc, &createdAt); err != nil {
			return nil, err
		}
		a.EffectiveFrom = parseDate(from)
		a.CarryForward = carry == 1
		a.DocStatus = attendance.DocStatus(doc)
		a.CreatedAt = parseStamp(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

const allocationColumns = `id, employee, leave_type, from_date, to_date, new_leaves_allocated,
	carry_forward, description, docstatus, created_at`

// FindAllocation returns the non-cancelled allocation for exactly this
// period, if any.
func (s *Store) FindAllocation(ctx context.Context, employeeID, leaveType string, from, to time.Time) (*leave.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.firstAllocation(ctx, s.db, `
		SELECT `+allocationColumns+` FROM leave_allocations
		WHERE employee = ? AND leave_type = ? AND from_date = ? AND to_date = ? AND docstatus < 2
		ORDER BY created_at DESC LIMIT 1
	`, employeeID, leaveType, formatDate(from), formatDate(to))
}

// ActiveAllocation returns the submitted allocation covering date, the most
// recent one when several do.
func (s *Store) ActiveAllocation(ctx context.Context, employeeID, leaveType string, date time.Time) (*leave.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := formatDate(date)
	return s.firstAllocation(ctx, s.db, `
		SELECT `+allocationColumns+` FROM leave_allocations
		WHERE employee = ? AND leave_type = ? AND docstatus = 1 AND from_date <= ? AND to_date >= ?
		ORDER BY from_date DESC, created_at DESC LIMIT 1
	`, employeeID, leaveType, d, d)
}

// ListAllocations returns an employee's submitted allocations covering date.
func (s *Store) ListAllocations(ctx context.Context, employeeID string, date time.Time) ([]leave.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := formatDate(date)
	return s.queryAllocations(ctx, s.db, `
		SELECT `+allocationColumns+` FROM leave_allocations
		WHERE employee = ? AND docstatus = 1 AND from_date <= ? AND to_date >= ?
		ORDER BY leave_type, from_date DESC
	`, employeeID, d, d)
}

// CreateAllocation inserts a submitted allocation and its credit entry in
// one transaction.
func (s *Store) CreateAllocation(ctx context.Context, a leave.Allocation, credit leave.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO leave_allocations (`+allocationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.EmployeeID, a.LeaveType, formatDate(a.FromDate), formatDate(a.ToDate),
			a.NewLeavesAllocated.String(), boolInt(a.CarryForward), nullString(a.Description),
			int(a.DocStatus), formatStamp(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
		return insertLedgerEntry(ctx, tx, credit)
	})
}

// CancelAllocation sets docstatus 2 and appends the reversal entry in one
// transaction.
func (s *Store) CancelAllocation(ctx context.Context, id string, reversal leave.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE leave_allocations SET docstatus = 2 WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if err := rowsAffected(res); err != nil {
			return fmt.Errorf("%w: allocation %s", leave.ErrNoAllocation, id)
		}
		return insertLedgerEntry(ctx, tx, reversal)
	})
}

func (s *Store) firstAllocation(ctx context.Context, q querier, query string, args ...any) (*leave.Allocation, error) {
	list, err := s.queryAllocations(ctx, q, query, args...)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) queryAllocations(ctx context.Context, q querier, query string, args ...any) ([]leave.Allocation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var out []leave.Allocation
	for rows.Next() {
		var (
			a                           leave.Allocation
			from, to, amount, createdAt string
			desc                        sql.NullString
			carry, doc                  int
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &a.LeaveType, &from, &to, &amount,
			&carry, &desc, &doc, &createdAt); err != nil {
			return nil, err
		}
		a.FromDate = parseDate(from)
		a.ToDate = parseDate(to)
		a.NewLeavesAllocated = parseDecimal(amount)
		a.CarryForward = carry == 1
		a.Description = desc.String
		a.DocStatus = attendance.DocStatus(doc)
		a.CreatedAt = parseStamp(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================
// No UPDATE or DELETE ever touches leave_ledger. Corrections are reversal
// entries.

const ledgerColumns = `id, employee, leave_type, allocation_id, effective_date, delta, entry_type,
	reference_id, idempotency_key, created_at`

// AppendLedgerEntries writes all entries or none. A repeated idempotency
// key fails with leave.ErrDuplicateIdempotencyKey.
func (s *Store) AppendLedgerEntries(ctx context.Context, entries []leave.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]bool, len(entries))
	for _, e := range entries {
		if keys[e.IdempotencyKey] {
			return leave.ErrDuplicateIdempotencyKey
		}
		keys[e.IdempotencyKey] = true
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			if err := insertLedgerEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertLedgerEntry(ctx context.Context, db execer, e leave.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO leave_ledger (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.EmployeeID, e.LeaveType, e.AllocationID, formatDate(e.EffectiveDate),
		e.Delta.String(), string(e.Type), nullString(e.ReferenceID), e.IdempotencyKey,
		formatStamp(e.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s", leave.ErrDuplicateIdempotencyKey, e.IdempotencyKey)
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (s *Store) LedgerEntriesByReference(ctx context.Context, reference string) ([]leave.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLedger(ctx, `
		SELECT `+ledgerColumns+` FROM leave_ledger
		WHERE reference_id = ? ORDER BY created_at, rowid
	`, reference)
}

// LedgerEntries returns an employee's entries, optionally for one leave type.
func (s *Store) LedgerEntries(ctx context.Context, employeeID, leaveType string) ([]leave.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + ledgerColumns + ` FROM leave_ledger WHERE employee = ?`
	args := []any{employeeID}
	if leaveType != "" {
		query += ` AND leave_type = ?`
		args = append(args, leaveType)
	}
	query += ` ORDER BY effective_date, created_at, rowid`
	return s.queryLedger(ctx, query, args...)
}

// AllocationBalance sums every entry booked against the allocation.
func (s *Store) AllocationBalance(ctx context.Context, allocationID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT delta FROM leave_ledger WHERE allocation_id = ?`, allocationID)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var delta string
		if err := rows.Scan(&delta); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(parseDecimal(delta))
	}
	return total, rows.Err()
}

func (s *Store) queryLedger(ctx context.Context, query string, args ...any) ([]leave.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []leave.LedgerEntry
	for rows.Next() {
		var (
			e                            leave.LedgerEntry
			date, delta, kind, createdAt string
			reference                    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.LeaveType, &e.AllocationID, &date, &delta,
			&kind, &reference, &e.IdempotencyKey, &createdAt); err != nil {
			return nil, err
		}
		e.EffectiveDate = parseDate(date)
		e.Delta = parseDecimal(delta)
		e.Type = leave.EntryType(kind)
		e.ReferenceID = reference.String
		e.CreatedAt = parseStamp(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// APPLICATIONS
// =============================================================================

const applicationColumns = `id, employee, employee_name, leave_type, from_date, to_date, half_day,
	half_day_date, reason, status, decided_by, docstatus, created_at, updated_at`

func (s *Store) CreateApplication(ctx context.Context, a leave.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = stamp
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_applications (`+applicationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.EmployeeID, nullString(a.EmployeeName), a.LeaveType, formatDate(a.FromDate),
		formatDate(a.ToDate), boolInt(a.HalfDay), nullDate(a.HalfDayDate), nullString(a.Reason),
		string(a.Status), nullString(a.DecidedBy), int(a.DocStatus),
		formatStamp(a.CreatedAt), formatStamp(stamp))
	if err != nil {
		return fmt.Errorf("failed to insert leave application: %w", err)
	}
	return nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (*leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, err := s.queryApplications(ctx, `SELECT `+applicationColumns+` FROM leave_applications WHERE id = ?`, id)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// UpdateApplication stores the decision fields of an application.
func (s *Store) UpdateApplication(ctx context.Context, a leave.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE leave_applications
		SET status = ?, decided_by = ?, docstatus = ?, reason = ?, updated_at = ?
		WHERE id = ?
	`, string(a.Status), nullString(a.DecidedBy), int(a.DocStatus), nullString(a.Reason), now(), a.ID)
	if err != nil {
		return err
	}
	if err := rowsAffected(res); err != nil {
		return fmt.Errorf("%w: %s", leave.ErrApplicationNotFound, a.ID)
	}
	return nil
}

// OverlappingApplications returns Open or Approved applications sharing at
// least one day with [from, to].
func (s *Store) OverlappingApplications(ctx context.Context, employeeID string, from, to time.Time) ([]leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryApplications(ctx, `
		SELECT `+applicationColumns+` FROM leave_applications
		WHERE employee = ? AND status IN (?, ?) AND docstatus < 2
		  AND from_date <= ? AND to_date >= ?
		ORDER BY from_date
	`, employeeID, string(leave.ApplicationOpen), string(leave.ApplicationApproved),
		formatDate(to), formatDate(from))
}

// ListApplications returns applications, newest first, optionally filtered
// by employee and status.
func (s *Store) ListApplications(ctx context.Context, employeeID, status string) ([]leave.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + applicationColumns + ` FROM leave_applications WHERE 1=1`
	var args []any
	if employeeID != "" {
		query += ` AND employee = ?`
		args = append(args, employeeID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY from_date DESC, created_at DESC`
	return s.queryApplications(ctx, query, args...)
}

// ApprovedLeaveOn reports the approved application covering date. HalfDay is
// set only when the half day falls on date.
func (s *Store) ApprovedLeaveOn(ctx context.Context, employeeID string, date time.Time) (*attendance.ApprovedLeave, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := formatDate(date)
	list, err := s.queryApplications(ctx, `
		SELECT `+applicationColumns+` FROM leave_applications
		WHERE employee = ? AND status = ? AND docstatus = 1 AND from_date <= ? AND to_date >= ?
		ORDER BY created_at DESC LIMIT 1
	`, employeeID, string(leave.ApplicationApproved), d, d)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	a := list[0]
	return &attendance.ApprovedLeave{
		ApplicationID: a.ID,
		LeaveType:     a.LeaveType,
		HalfDay:       a.IsHalfDayOn(date),
	}, nil
}

func (s *Store) queryApplications(ctx context.Context, query string, args ...any) ([]leave.Application, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave applications: %w", err)
	}
	defer rows.Close()

	var out []leave.Application
	for rows.Next() {
		var (
			a                                      leave.Application
			name, halfDayDate, reason, decidedBy   sql.NullString
			from, to, status, createdAt, updatedAt string
			halfDay, doc                           int
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &name, &a.LeaveType, &from, &to, &halfDay,
			&halfDayDate, &reason, &status, &decidedBy, &doc, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		a.EmployeeName = name.String
		a.FromDate = parseDate(from)
		a.ToDate = parseDate(to)
		a.HalfDay = halfDay == 1
		a.HalfDayDate = parseNullDate(halfDayDate)
		a.Reason = reason.String
		a.Status = leave.ApplicationStatus(status)
		a.DecidedBy = decidedBy.String
		a.DocStatus = attendance.DocStatus(doc)
		a.CreatedAt = parseStamp(createdAt)
		a.UpdatedAt = parseStamp(updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
