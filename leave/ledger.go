/*
ledger.go - Append-only leave ledger

PURPOSE:
  The ledger is the only place leave balances come from. Allocations credit
  it, approved applications and half-day attendance debit it, and every undo
  is a reversal entry with the opposite sign.

INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. IDEMPOTENT: an idempotency key is written at most once
  3. SCOPED: a balance only counts entries of a submitted allocation

IDEMPOTENCY KEYS:
  allocation   alloc:<allocation id>
  consumption  consume:<reference>:<leave type>
  reversal     reverse:<entry id>

SEE ALSO:
  - service.go: Uses Consume/Reverse for applications
  - store/sqlite/leave.go: Persistence
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hamptons/attendance-engine/attendance"
)

// LedgerStore is the persistence the ledger needs.
type LedgerStore interface {
	// AppendLedgerEntries writes all entries or none. A repeated idempotency
	// key fails with ErrDuplicateIdempotencyKey.
	AppendLedgerEntries(ctx context.Context, entries []LedgerEntry) error

	LedgerEntriesByReference(ctx context.Context, reference string) ([]LedgerEntry, error)

	// ActiveAllocation returns the submitted allocation covering date, the
	// most recent one when several do.
	ActiveAllocation(ctx context.Context, employeeID, leaveType string, date time.Time) (*Allocation, error)

	AllocationBalance(ctx context.Context, allocationID string) (decimal.Decimal, error)
}

type Ledger struct {
	Store LedgerStore

	// mu serialises check-then-append so two debits cannot both pass the
	// balance check.
	mu sync.Mutex
}

func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{Store: store}
}

// Balance returns the remaining days for the leave type on asOf.
func (l *Ledger) Balance(ctx context.Context, employeeID, leaveType string, asOf time.Time) (decimal.Decimal, error) {
	alloc, err := l.Store.ActiveAllocation(ctx, employeeID, leaveType, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if alloc == nil {
		return decimal.Zero, nil
	}
	return l.Store.AllocationBalance(ctx, alloc.ID)
}

// Consume debits amount days from the allocation covering date.
func (l *Ledger) Consume(ctx context.Context, employeeID, leaveType string, date time.Time, amount decimal.Decimal, reference string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("consume %s for %s: amount must be positive", leaveType, employeeID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	alloc, err := l.Store.ActiveAllocation(ctx, employeeID, leaveType, date)
	if err != nil {
		return err
	}
	if alloc == nil {
		return fmt.Errorf("%w: %s %s on %s", ErrNoAllocation, employeeID, leaveType, date.Format(attendance.DateLayout))
	}

	available, err := l.Store.AllocationBalance(ctx, alloc.ID)
	if err != nil {
		return err
	}
	if available.LessThan(amount) {
		return &InsufficientBalanceError{
			EmployeeID: employeeID,
			LeaveType:  leaveType,
			Available:  available,
			Requested:  amount,
		}
	}

	return l.Store.AppendLedgerEntries(ctx, []LedgerEntry{{
		ID:             uuid.NewString(),
		EmployeeID:     employeeID,
		LeaveType:      leaveType,
		AllocationID:   alloc.ID,
		EffectiveDate:  attendance.DateOf(date),
		Delta:          amount.Neg(),
		Type:           EntryConsumption,
		ReferenceID:    reference,
		IdempotencyKey: fmt.Sprintf("consume:%s:%s", reference, leaveType),
	}})
}

// Reverse negates every consumption recorded under reference. Entries that
// are already reversed are left alone, so Reverse can be retried.
func (l *Ledger) Reverse(ctx context.Context, reference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.Store.LedgerEntriesByReference(ctx, reference)
	if err != nil {
		return err
	}

	reversed := make(map[string]bool)
	for _, e := range entries {
		if e.Type == EntryReversal {
			reversed[e.IdempotencyKey] = true
		}
	}

	var out []LedgerEntry
	for _, e := range entries {
		key := "reverse:" + e.ID
		if e.Type != EntryConsumption || reversed[key] {
			continue
		}
		out = append(out, LedgerEntry{
			ID:             uuid.NewString(),
			EmployeeID:     e.EmployeeID,
			LeaveType:      e.LeaveType,
			AllocationID:   e.AllocationID,
			EffectiveDate:  e.EffectiveDate,
			Delta:          e.Delta.Neg(),
			Type:           EntryReversal,
			ReferenceID:    reference,
			IdempotencyKey: key,
		})
	}
	if len(out) == 0 {
		return nil
	}

	err = l.Store.AppendLedgerEntries(ctx, out)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return nil
	}
	return err
}

// allocationEntry is the credit written together with a new allocation.
func allocationEntry(a Allocation) LedgerEntry {
	return LedgerEntry{
		ID:             uuid.NewString(),
		EmployeeID:     a.EmployeeID,
		LeaveType:      a.LeaveType,
		AllocationID:   a.ID,
		EffectiveDate:  attendance.DateOf(a.FromDate),
		Delta:          a.NewLeavesAllocated,
		Type:           EntryAllocation,
		ReferenceID:    a.ID,
		IdempotencyKey: "alloc:" + a.ID,
	}
}
