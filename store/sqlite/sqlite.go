/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements allocation.TxStore and allocation.Directory using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  allocations: Scheduled labor ("locações") and weekly purchases ("compras")
  work_sites:  Construction sites ("obras")
  teams:       Crews
  employees:   Individual workers

RESOURCE COLUMNS:
  resource_kind plus exactly one of team_id / employee_id / label. A CHECK
  constraint mirrors allocation.NewResource so that a row can never hold an
  ambiguous resource, even when written by hand.

DATES:
  Stored as TEXT in YYYY-MM-DD, which orders lexicographically, so range
  queries are plain string comparisons.

INDEXES:
  - idx_allocations_start: weekly planner range queries (hot path)
  - idx_allocations_employee_active: conflict checks

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. Writers are serialised, which is what
  makes the conflict check + write inside WithTx race free.

USAGE:
  store, err := sqlite.New("./data/planner.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := allocation.NewService(store)

SEE ALSO:
  - allocation/store.go: Interface definitions
  - allocation/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/canteiro/planner/allocation"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

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

// Ping checks the connection, for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS work_sites (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		work_site_id TEXT NOT NULL REFERENCES work_sites(id),
		resource_kind TEXT NOT NULL,
		team_id TEXT REFERENCES teams(id),
		employee_id TEXT REFERENCES employees(id),
		label TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT,
		payment_type TEXT NOT NULL,
		payment_amount TEXT NOT NULL,
		payment_date TEXT,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		CONSTRAINT end_not_before_start CHECK (end_date IS NULL OR end_date >= start_date),
		CONSTRAINT one_resource CHECK (
			(resource_kind = 'team' AND team_id IS NOT NULL AND employee_id IS NULL AND label IS NULL) OR
			(resource_kind = 'employee' AND employee_id IS NOT NULL AND team_id IS NULL AND label IS NULL) OR
			(resource_kind = 'external_service' AND label IS NOT NULL AND team_id IS NULL AND employee_id IS NULL) OR
			(resource_kind IN ('purchase', 'quote') AND team_id IS NULL AND employee_id IS NULL)
		)
	);

	-- Weekly planner range queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_allocations_start
		ON allocations(start_date, work_site_id);

	-- Conflict checks
	CREATE INDEX IF NOT EXISTS idx_allocations_employee_active
		ON allocations(employee_id, start_date) WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_allocations_work_site
		ON allocations(work_site_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ALLOCATION STORE (allocation.Store interface)
// =============================================================================

const selectAllocation = `
	SELECT a.id, a.work_site_id, a.resource_kind, a.team_id, a.employee_id, a.label,
	       a.start_date, a.end_date, a.payment_type, a.payment_amount, a.payment_date,
	       a.status, a.notes,
	       COALESCE(w.name, ''), COALESCE(t.name, ''), COALESCE(e.name, '')
	FROM allocations a
	LEFT JOIN work_sites w ON w.id = a.work_site_id
	LEFT JOIN teams t ON t.id = a.team_id
	LEFT JOIN employees e ON e.id = a.employee_id
`

const orderAllocations = ` ORDER BY a.start_date ASC, a.seq ASC`

func (s *Store) Get(ctx context.Context, id allocation.ID) (*allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllocation(ctx, s.db, id)
}

func (s *Store) Create(ctx context.Context, a allocation.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAllocation(ctx, s.db, a)
}

func (s *Store) Update(ctx context.Context, a allocation.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAllocation(ctx, s.db, a)
}

func (s *Store) Delete(ctx context.Context, id allocation.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteAllocation(ctx, s.db, id)
}

func (s *Store) List(ctx context.Context, q allocation.Query) ([]allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAllocations(ctx, s.db, q)
}

func (s *Store) ListByEmployee(ctx context.Context, employeeID string) ([]allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByEmployee(ctx, s.db, employeeID)
}

func (s *Store) ListByWorkSite(ctx context.Context, workSiteID string) ([]allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByWorkSite(ctx, s.db, workSiteID)
}

func getAllocation(ctx context.Context, q querier, id allocation.ID) (*allocation.Allocation, error) {
	list, err := queryAllocations(ctx, q, selectAllocation+` WHERE a.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, allocation.ErrNotFound
	}
	return &list[0], nil
}

func insertAllocation(ctx context.Context, q querier, a allocation.Allocation) error {
	kind, teamID, employeeID, label := allocation.ResourceFields(a.Resource)
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO allocations
		(id, seq, work_site_id, resource_kind, team_id, employee_id, label,
		 start_date, end_date, payment_type, payment_amount, payment_date,
		 status, notes, created_at, updated_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM allocations),
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		a.ID,
		a.WorkSiteID,
		kind,
		nullString(teamID),
		nullString(employeeID),
		labelValue(kind, label),
		a.Start.String(),
		nullDate(a.End),
		a.Payment.Type,
		a.Payment.Amount.String(),
		nullDate(a.Payment.Date),
		a.Status,
		a.Notes,
		now,
		now,
	)
	if err != nil {
		return translateError("insert allocation", err)
	}
	return nil
}

func updateAllocation(ctx context.Context, q querier, a allocation.Allocation) error {
	kind, teamID, employeeID, label := allocation.ResourceFields(a.Resource)

	query := `
		UPDATE allocations SET
			work_site_id = ?, resource_kind = ?, team_id = ?, employee_id = ?, label = ?,
			start_date = ?, end_date = ?, payment_type = ?, payment_amount = ?, payment_date = ?,
			status = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		a.WorkSiteID,
		kind,
		nullString(teamID),
		nullString(employeeID),
		labelValue(kind, label),
		a.Start.String(),
		nullDate(a.End),
		a.Payment.Type,
		a.Payment.Amount.String(),
		nullDate(a.Payment.Date),
		a.Status,
		a.Notes,
		time.Now().UTC().Format(time.RFC3339),
		a.ID,
	)
	if err != nil {
		return translateError("update allocation", err)
	}
	return requireRow(res)
}

func deleteAllocation(ctx context.Context, q querier, id allocation.ID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM allocations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete allocation: %w", err)
	}
	return requireRow(res)
}

func listAllocations(ctx context.Context, q querier, query allocation.Query) ([]allocation.Allocation, error) {
	where := []string{"a.start_date >= ?", "a.start_date <= ?"}
	args := []any{query.From.String(), query.To.String()}

	if query.WorkSiteID != "" {
		where = append(where, "a.work_site_id = ?")
		args = append(args, query.WorkSiteID)
	}
	switch query.Category {
	case allocation.CategoryPurchase:
		where = append(where, "a.resource_kind IN ('purchase', 'quote')")
	case allocation.CategoryLabor:
		where = append(where, "a.resource_kind NOT IN ('purchase', 'quote')")
	}

	sqlQuery := selectAllocation + " WHERE " + strings.Join(where, " AND ") + orderAllocations
	return queryAllocations(ctx, q, sqlQuery, args...)
}

func listByEmployee(ctx context.Context, q querier, employeeID string) ([]allocation.Allocation, error) {
	return queryAllocations(ctx, q,
		selectAllocation+` WHERE a.employee_id = ? AND a.status = 'active'`+orderAllocations, employeeID)
}

func listByWorkSite(ctx context.Context, q querier, workSiteID string) ([]allocation.Allocation, error) {
	return queryAllocations(ctx, q, selectAllocation+` WHERE a.work_site_id = ?`+orderAllocations, workSiteID)
}

func queryAllocations(ctx context.Context, q querier, query string, args ...any) ([]allocation.Allocation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var result []allocation.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanAllocation(rows *sql.Rows) (allocation.Allocation, error) {
	var (
		a           allocation.Allocation
		kind        string
		teamID      sql.NullString
		employeeID  sql.NullString
		label       sql.NullString
		start       string
		end         sql.NullString
		amount      string
		paymentDate sql.NullString
	)

	err := rows.Scan(
		&a.ID, &a.WorkSiteID, &kind, &teamID, &employeeID, &label,
		&start, &end, &a.Payment.Type, &amount, &paymentDate,
		&a.Status, &a.Notes,
		&a.Names.WorkSite, &a.Names.Team, &a.Names.Employee,
	)
	if err != nil {
		return a, fmt.Errorf("failed to scan allocation: %w", err)
	}

	a.Resource, err = allocation.NewResource(allocation.ResourceKind(kind), teamID.String, employeeID.String, label.String)
	if err != nil {
		return a, fmt.Errorf("corrupt resource on allocation %s: %w", a.ID, err)
	}
	if a.Start, err = allocation.ParseDate(start); err != nil {
		return a, fmt.Errorf("corrupt start date on allocation %s: %w", a.ID, err)
	}
	if a.End, err = parseNullDate(end); err != nil {
		return a, fmt.Errorf("corrupt end date on allocation %s: %w", a.ID, err)
	}
	if a.Payment.Date, err = parseNullDate(paymentDate); err != nil {
		return a, fmt.Errorf("corrupt payment date on allocation %s: %w", a.ID, err)
	}
	if a.Payment.Amount, err = decimal.NewFromString(amount); err != nil {
		return a, fmt.Errorf("corrupt payment amount on allocation %s: %w", a.ID, err)
	}
	return a, nil
}

// =============================================================================
// TRANSACTIONAL STORE (allocation.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store allocation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every statement on the open transaction. The parent lock is
// already held by WithTx, so nothing here locks.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Get(ctx context.Context, id allocation.ID) (*allocation.Allocation, error) {
	return getAllocation(ctx, ts.tx, id)
}

func (ts *txStore) Create(ctx context.Context, a allocation.Allocation) error {
	return insertAllocation(ctx, ts.tx, a)
}

func (ts *txStore) Update(ctx context.Context, a allocation.Allocation) error {
	return updateAllocation(ctx, ts.tx, a)
}

func (ts *txStore) Delete(ctx context.Context, id allocation.ID) error {
	return deleteAllocation(ctx, ts.tx, id)
}

func (ts *txStore) List(ctx context.Context, q allocation.Query) ([]allocation.Allocation, error) {
	return listAllocations(ctx, ts.tx, q)
}

func (ts *txStore) ListByEmployee(ctx context.Context, employeeID string) ([]allocation.Allocation, error) {
	return listByEmployee(ctx, ts.tx, employeeID)
}

func (ts *txStore) ListByWorkSite(ctx context.Context, workSiteID string) ([]allocation.Allocation, error) {
	return listByWorkSite(ctx, ts.tx, workSiteID)
}

// =============================================================================
// DIRECTORY (allocation.Directory interface)
// =============================================================================

// SaveWorkSite inserts or replaces a work site.
func (s *Store) SaveWorkSite(ctx context.Context, w allocation.WorkSite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO work_sites (id, name, address, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address
	`, w.ID, w.Name, w.Address, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save work site: %w", err)
	}
	return nil
}

// GetWorkSite returns nil, nil when the work site doesn't exist.
func (s *Store) GetWorkSite(ctx context.Context, id string) (*allocation.WorkSite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w allocation.WorkSite
	err := s.db.QueryRowContext(ctx, `SELECT id, name, address FROM work_sites WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work site: %w", err)
	}
	return &w, nil
}

func (s *Store) ListWorkSites(ctx context.Context) ([]allocation.WorkSite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address FROM work_sites ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list work sites: %w", err)
	}
	defer rows.Close()

	var result []allocation.WorkSite
	for rows.Next() {
		var w allocation.WorkSite
		if err := rows.Scan(&w.ID, &w.Name, &w.Address); err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *Store) SaveTeam(ctx context.Context, t allocation.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO teams (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, t.ID, t.Name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save team: %w", err)
	}
	return nil
}

func (s *Store) ListTeams(ctx context.Context) ([]allocation.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var result []allocation.Team
	for rows.Next() {
		var t allocation.Team
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) SaveEmployee(ctx context.Context, e allocation.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role
	`, e.ID, e.Name, e.Role, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee returns nil, nil when the employee doesn't exist.
func (s *Store) GetEmployee(ctx context.Context, id string) (*allocation.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e allocation.Employee
	err := s.db.QueryRowContext(ctx, `SELECT id, name, role FROM employees WHERE id = ?`, id).
		Scan(&e.ID, &e.Name, &e.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]allocation.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, role FROM employees ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var result []allocation.Employee
	for rows.Next() {
		var e allocation.Employee
		if err := rows.Scan(&e.ID, &e.Name, &e.Role); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// Reset clears all data (for scenario loading).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"allocations", "employees", "teams", "work_sites"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// labelValue keeps purchase descriptions (possibly empty) non-NULL.
func labelValue(kind allocation.ResourceKind, label string) sql.NullString {
	if kind.Category() == allocation.CategoryPurchase {
		return sql.NullString{String: label, Valid: true}
	}
	return nullString(label)
}

func nullDate(d *allocation.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*allocation.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := allocation.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return allocation.ErrNotFound
	}
	return nil
}

// translateError maps constraint failures to domain errors.
func translateError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s references a missing work site, team or employee", allocation.ErrUnknownReference, op)
	case strings.Contains(msg, "CHECK constraint failed"):
		return &allocation.ValidationError{Message: "allocation violates a storage constraint: " + msg}
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("failed to %s: duplicate id: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
