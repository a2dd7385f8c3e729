/*
Package sqlite provides the SQLite-backed implementation of every store
contract in the service.

PURPOSE:
  One Store value satisfies the attendance, leave, crosschex and report
  store interfaces. The schema is concrete: one table per entity, no
  generic document layer.

INTERFACES IMPLEMENTED:
  attendance.ConsolidationStore:   Daily consolidation
  attendance.RegularizationStore:  Approve/reject workflow
  attendance.RealtimeStore:        Per-check-in evaluation
  attendance.LeaveSource:          Approved leave lookup
  crosschex.IngestStore:           Check-in ingestion
  crosschex.Store:                 Settings and integration logs
  leave.Store:                     Leave master data, ledger, applications
  report.Store:                    Report and analytics queries

UNIQUENESS IN THE SCHEMA:
  - idx_attendance_committed:      one attendance per employee/date with docstatus < 2
  - idx_regularizations_committed: one case per employee/date with docstatus < 2
  - checkins.crosschex_uuid:       one check-in per device event
  - leave_ledger.idempotency_key:  one ledger entry per operation
  Unique violations are mapped to the domain sentinel errors so callers can
  treat a lost race exactly like a pre-check failure.

STORAGE FORMATS:
  Calendar dates are TEXT "YYYY-MM-DD". Check-in and item times are TEXT
  "YYYY-MM-DD HH:MM:SS" so DATE(time) works in SQL. Audit timestamps are
  RFC3339. Decimal amounts are TEXT and summed in Go.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Multi-row writes run in one
  database transaction.

USAGE:
  store, err := sqlite.New("./data/hamptons.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - attendance/store.go: Core contracts
  - leave/service.go, crosschex/service.go, report/service.go: Other contracts
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hamptons/attendance-engine/attendance"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Master data
	CREATE TABLE IF NOT EXISTS departments (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		employee_name TEXT NOT NULL,
		department TEXT,
		designation TEXT,
		gender TEXT,
		date_of_joining TEXT,
		status TEXT NOT NULL DEFAULT 'Active',
		attendance_device_id INTEGER,
		reports_to TEXT,
		nationality TEXT,
		religion TEXT,
		hajj_leave_taken INTEGER NOT NULL DEFAULT 0,
		hajj_leave_date TEXT,
		carryforward_enabled INTEGER NOT NULL DEFAULT 0,
		max_carryforward_days INTEGER NOT NULL DEFAULT 10,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_device
		ON employees(attendance_device_id) WHERE attendance_device_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS shift_types (
		name TEXT PRIMARY KEY,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		late_entry_grace_period INTEGER NOT NULL DEFAULT 0,
		enable_late_entry_marking INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS shift_assignments (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		shift_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		docstatus INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shift_assignments_employee
		ON shift_assignments(employee, start_date DESC);

	-- Check-ins (immutable device punches)
	CREATE TABLE IF NOT EXISTS checkins (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		employee_name TEXT,
		time TEXT NOT NULL,
		log_type TEXT NOT NULL,
		device_id TEXT,
		shift TEXT,
		crosschex_uuid TEXT UNIQUE,
		regularization_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkins_employee_time
		ON checkins(employee, time);
	CREATE INDEX IF NOT EXISTS idx_checkins_date
		ON checkins(DATE(time));
	CREATE INDEX IF NOT EXISTS idx_checkins_regularization
		ON checkins(regularization_id) WHERE regularization_id IS NOT NULL;

	-- Attendance
	CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		employee_name TEXT,
		attendance_date TEXT NOT NULL,
		shift TEXT,
		status TEXT NOT NULL,
		leave_type TEXT,
		late_seconds INTEGER NOT NULL DEFAULT 0,
		regularization_id TEXT,
		docstatus INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one committed attendance per employee and date
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_committed
		ON attendance(employee, attendance_date) WHERE docstatus < 2;
	CREATE INDEX IF NOT EXISTS idx_attendance_date
		ON attendance(attendance_date);

	-- Regularizations
	CREATE TABLE IF NOT EXISTS regularizations (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		employee_name TEXT,
		posting_date TEXT NOT NULL,
		log_type TEXT,
		shift TEXT,
		start_time TEXT,
		end_time TEXT,
		late_seconds INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		reports_to TEXT,
		attendance_id TEXT,
		decided_by TEXT,
		decided_at TEXT,
		docstatus INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_regularizations_committed
		ON regularizations(employee, posting_date) WHERE docstatus < 2;
	CREATE INDEX IF NOT EXISTS idx_regularizations_status
		ON regularizations(status);

	CREATE TABLE IF NOT EXISTS regularization_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		regularization_id TEXT NOT NULL REFERENCES regularizations(id) ON DELETE CASCADE,
		time TEXT NOT NULL,
		log_type TEXT NOT NULL,
		device_id TEXT,
		checkin_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_regularization_items_parent
		ON regularization_items(regularization_id);

	-- Leave master data
	CREATE TABLE IF NOT EXISTS leave_types (
		name TEXT PRIMARY KEY,
		max_leaves_allowed TEXT NOT NULL DEFAULT '0',
		is_carry_forward INTEGER NOT NULL DEFAULT 0,
		max_continuous_days INTEGER NOT NULL DEFAULT 0,
		is_earned_leave INTEGER NOT NULL DEFAULT 0,
		earned_leave_frequency TEXT,
		allow_encashment INTEGER NOT NULL DEFAULT 0,
		applicable_after INTEGER NOT NULL DEFAULT 0,
		gender_specific TEXT,
		religion_specific TEXT,
		once_in_service INTEGER NOT NULL DEFAULT 0,
		description TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leave_policies (
		name TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leave_policy_details (
		policy TEXT NOT NULL REFERENCES leave_policies(name) ON DELETE CASCADE,
		leave_type TEXT NOT NULL,
		annual_allocation TEXT NOT NULL,
		PRIMARY KEY (policy, leave_type)
	);

	CREATE TABLE IF NOT EXISTS leave_policy_assignments (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		policy TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		carry_forward INTEGER NOT NULL DEFAULT 0,
		docstatus INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		UNIQUE (employee, policy, effective_from)
	);

	CREATE TABLE IF NOT EXISTS leave_allocations (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		new_leaves_allocated TEXT NOT NULL,
		carry_forward INTEGER NOT NULL DEFAULT 0,
		description TEXT,
		docstatus INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_allocations_lookup
		ON leave_allocations(employee, leave_type, from_date DESC);

	-- Leave ledger (append-only)
	CREATE TABLE IF NOT EXISTS leave_ledger (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		leave_type TEXT NOT NULL,
		allocation_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		delta TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		reference_id TEXT,
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_ledger_allocation
		ON leave_ledger(allocation_id);
	CREATE INDEX IF NOT EXISTS idx_leave_ledger_reference
		ON leave_ledger(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS leave_applications (
		id TEXT PRIMARY KEY,
		employee TEXT NOT NULL,
		employee_name TEXT,
		leave_type TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		half_day INTEGER NOT NULL DEFAULT 0,
		half_day_date TEXT,
		reason TEXT,
		status TEXT NOT NULL,
		decided_by TEXT,
		docstatus INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_applications_employee
		ON leave_applications(employee, from_date, to_date);

	-- CrossChex integration
	CREATE TABLE IF NOT EXISTS crosschex_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled INTEGER NOT NULL DEFAULT 0,
		api_url TEXT,
		api_key TEXT,
		api_secret TEXT,
		token TEXT,
		token_expires TEXT,
		connection_status TEXT,
		last_token_generated TEXT,
		last_sync_time TEXT,
		last_sync_status TEXT,
		log_retention_days INTEGER NOT NULL DEFAULT 30
	);

	CREATE TABLE IF NOT EXISTS crosschex_logs (
		id TEXT PRIMARY KEY,
		log_type TEXT NOT NULL,
		status TEXT NOT NULL,
		request_payload TEXT,
		records_processed INTEGER NOT NULL DEFAULT 0,
		checkins_created INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_crosschex_logs_created
		ON crosschex_logs(created_at);

	-- Operational records
	CREATE TABLE IF NOT EXISTS error_logs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		message TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_error_logs_created
		ON error_logs(created_at);

	CREATE TABLE IF NOT EXISTS deleted_documents (
		id TEXT PRIMARY KEY,
		doctype TEXT NOT NULL,
		document_id TEXT NOT NULL,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_deleted_documents_created
		ON deleted_documents(created_at);

	CREATE TABLE IF NOT EXISTS job_runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		status TEXT NOT NULL,
		details TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_started
		ON job_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// inTx runs fn in a database transaction. The caller holds s.mu.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatDate(t time.Time) string {
	return t.Format(attendance.DateLayout)
}

func formatDateTime(t time.Time) string {
	return t.Format(attendance.DateTimeLayout)
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func nullStamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatStamp(*t), Valid: true}
}

func parseDate(s string) time.Time {
	t, _ := time.ParseInLocation(attendance.DateLayout, s, time.UTC)
	return t
}

func parseDateTime(s string) time.Time {
	t, _ := time.ParseInLocation(attendance.DateTimeLayout, s, time.UTC)
	return t
}

func parseStamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func parseNullDate(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseDate(ns.String)
	return &t
}

func parseNullStamp(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseStamp(ns.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return formatStamp(time.Now())
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// rowsAffected reports sql.ErrNoRows when nothing was touched.
func rowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
