/*
Package sqlite provides the SQLite-backed store for the leave engine.

PURPOSE:
  The production store. One database file holds the append-only ledger,
  applications and leave type definitions. The ledger table has no UPDATE
  or DELETE path anywhere in this package; corrections are new rows.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on ledger_entries
  - No DELETE statements on ledger_entries
  - Corrections via reversal/adjustment entries only

IDEMPOTENCY:
  A partial unique index on ledger_entries.idempotency_key backs up the
  service-level checks. A violation surfaces as
  ledger.ErrDuplicateOperation, which makes concurrent duplicate posts
  safe regardless of what the service layer saw first.

TRANSACTIONS:
  WithTx wraps a callback in one SQL transaction and hands it
  transaction-scoped ledger and application stores. Both share the same
  query code through the querier interface (sql.DB or sql.Tx).

WAL MODE:
  The database opens with WAL so readers never block on the single
  writer. Writes go through one connection, which sidesteps SQLITE_BUSY.

NUMERIC STORAGE:
  Day amounts are stored as decimal strings, never floats.

USAGE:
  store, err := sqlite.Open("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface definitions
  - store/memory/memory.go: the dev/test twin
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/ledger"
	"github.com/warp/leave-engine/policy"
	"github.com/warp/leave-engine/workflow"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	leave_type_id   TEXT NOT NULL,
	year            INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	delta           TEXT NOT NULL,
	effective_year  INTEGER NOT NULL,
	effective_month INTEGER NOT NULL DEFAULT 0,
	reason          TEXT NOT NULL DEFAULT '',
	actor_id        TEXT NOT NULL DEFAULT '',
	application_id  TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT,
	created_at      TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_idempotency
	ON ledger_entries(idempotency_key)
	WHERE idempotency_key IS NOT NULL AND idempotency_key != '';

CREATE INDEX IF NOT EXISTS idx_ledger_balance_key
	ON ledger_entries(user_id, leave_type_id, year);

CREATE INDEX IF NOT EXISTS idx_ledger_application
	ON ledger_entries(application_id)
	WHERE application_id != '';

CREATE TABLE IF NOT EXISTS applications (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	leave_type_id TEXT NOT NULL,
	department_id TEXT NOT NULL DEFAULT '',
	start_date    TIMESTAMP NOT NULL,
	end_date      TIMESTAMP NOT NULL,
	total_days    TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	document_ids  TEXT NOT NULL DEFAULT '[]',
	status        TEXT NOT NULL,
	approver_id   TEXT NOT NULL DEFAULT '',
	comments      TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	decided_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_applications_user   ON applications(user_id);
CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);

CREATE TABLE IF NOT EXISTS leave_types (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL UNIQUE COLLATE NOCASE,
	description            TEXT NOT NULL DEFAULT '',
	default_days           TEXT NOT NULL,
	accrual_rate           TEXT NOT NULL,
	can_carry_over         INTEGER NOT NULL DEFAULT 0,
	max_carry_over_days    INTEGER NOT NULL DEFAULT 0,
	carryover_month        INTEGER NOT NULL DEFAULT 0,
	carryover_day          INTEGER NOT NULL DEFAULT 0,
	requires_approval      INTEGER NOT NULL DEFAULT 1,
	requires_reason        INTEGER NOT NULL DEFAULT 0,
	requires_documentation INTEGER NOT NULL DEFAULT 0,
	is_paid                INTEGER NOT NULL DEFAULT 1,
	is_active              INTEGER NOT NULL DEFAULT 1,
	created_at             TIMESTAMP NOT NULL
);
`

// Store is the SQLite implementation of the engine's stores.
type Store struct {
	db *sql.DB
	queries
}

var (
	_ ledger.Store              = (*Store)(nil)
	_ policy.Store              = (*Store)(nil)
	_ workflow.ApplicationStore = (*Store)(nil)
	_ workflow.UnitOfWork       = (*Store)(nil)
)

// Open opens (and migrates) the database at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, queries: queries{q: db}}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx implements workflow.UnitOfWork over one SQL transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ls ledger.Store, as workflow.ApplicationStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	scoped := &txStore{queries{q: tx}}
	if err := fn(scoped, scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// txStore is the transaction-scoped view handed to WithTx callbacks.
type txStore struct {
	queries
}

var (
	_ ledger.Store              = (*txStore)(nil)
	_ workflow.ApplicationStore = (*txStore)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// =============================================================================
// LEDGER
// =============================================================================

const insertEntry = `
INSERT INTO ledger_entries
	(id, user_id, leave_type_id, year, kind, delta, effective_year,
	 effective_month, reason, actor_id, application_id, idempotency_key, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s queries) Append(ctx context.Context, e ledger.Entry) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ledger.ErrInvalidEntry, e.Kind)
	}
	var idem any
	if e.IdempotencyKey != "" {
		idem = e.IdempotencyKey
	}
	_, err := s.q.ExecContext(ctx, insertEntry,
		string(e.ID), string(e.Key.UserID), string(e.Key.LeaveTypeID), e.Key.Year,
		string(e.Kind), e.Delta.String(), e.EffectiveYear, int(e.EffectiveMonth),
		e.Reason, e.ActorID, string(e.ApplicationID), idem, e.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return &ledger.DuplicateOperationError{IdempotencyKey: e.IdempotencyKey}
	}
	return err
}

// AppendBatch posts all entries or none. Inside WithTx the surrounding
// transaction already covers atomicity; standalone calls open their own.
func (s queries) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	switch q := s.q.(type) {
	case *sql.DB:
		tx, err := q.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		scoped := queries{q: tx}
		for _, e := range entries {
			if err := scoped.Append(ctx, e); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	default:
		for _, e := range entries {
			if err := s.Append(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}
}

const selectEntry = `
SELECT id, user_id, leave_type_id, year, kind, delta, effective_year,
       effective_month, reason, actor_id, application_id,
       COALESCE(idempotency_key, ''), created_at
FROM ledger_entries`

func (s queries) Entries(ctx context.Context, key ledger.BalanceKey) ([]ledger.Entry, error) {
	rows, err := s.q.QueryContext(ctx,
		selectEntry+` WHERE user_id = ? AND leave_type_id = ? AND year = ? ORDER BY created_at, id`,
		string(key.UserID), string(key.LeaveTypeID), key.Year)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s queries) EntriesByApplication(ctx context.Context, appID ledger.ApplicationID) ([]ledger.Entry, error) {
	rows, err := s.q.QueryContext(ctx,
		selectEntry+` WHERE application_id = ? ORDER BY created_at, id`, string(appID))
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s queries) EntriesByUser(ctx context.Context, userID ledger.UserID, year int) ([]ledger.Entry, error) {
	query := selectEntry + ` WHERE user_id = ?`
	args := []any{string(userID)}
	if year != 0 {
		query += ` AND year = ?`
		args = append(args, year)
	}
	rows, err := s.q.QueryContext(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows)
}

func (s queries) Exists(ctx context.Context, idempotencyKey string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM ledger_entries WHERE idempotency_key = ?`, idempotencyKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		var (
			e                     ledger.Entry
			id, userID, typeID    string
			kind, deltaStr, appID string
			month                 int
		)
		if err := rows.Scan(&id, &userID, &typeID, &e.Key.Year, &kind, &deltaStr,
			&e.EffectiveYear, &month, &e.Reason, &e.ActorID, &appID,
			&e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		delta, err := decimal.NewFromString(deltaStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt delta %q: %w", deltaStr, err)
		}
		e.ID = ledger.EntryID(id)
		e.Key.UserID = ledger.UserID(userID)
		e.Key.LeaveTypeID = ledger.LeaveTypeID(typeID)
		e.Kind = ledger.EntryKind(kind)
		e.Delta = delta
		e.EffectiveMonth = time.Month(month)
		e.ApplicationID = ledger.ApplicationID(appID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// APPLICATIONS
// =============================================================================

const upsertApplication = `
INSERT INTO applications
	(id, user_id, leave_type_id, department_id, start_date, end_date,
	 total_days, reason, document_ids, status, approver_id, comments,
	 created_at, decided_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status      = excluded.status,
	approver_id = excluded.approver_id,
	comments    = excluded.comments,
	decided_at  = excluded.decided_at`

func (s queries) SaveApplication(ctx context.Context, app *workflow.Application) error {
	docs, err := json.Marshal(app.DocumentIDs)
	if err != nil {
		return fmt.Errorf("marshal document ids: %w", err)
	}
	var decidedAt any
	if app.DecidedAt != nil {
		decidedAt = app.DecidedAt.UTC()
	}
	_, err = s.q.ExecContext(ctx, upsertApplication,
		string(app.ID), string(app.UserID), string(app.LeaveTypeID), app.DepartmentID,
		app.StartDate.UTC(), app.EndDate.UTC(), app.TotalDays.String(), app.Reason,
		string(docs), string(app.Status), app.ApproverID, app.Comments,
		app.CreatedAt.UTC(), decidedAt)
	return err
}

const selectApplication = `
SELECT id, user_id, leave_type_id, department_id, start_date, end_date,
       total_days, reason, document_ids, status, approver_id, comments,
       created_at, decided_at
FROM applications`

func (s queries) GetApplication(ctx context.Context, id workflow.ApplicationID) (*workflow.Application, error) {
	row := s.q.QueryRowContext(ctx, selectApplication+` WHERE id = ?`, string(id))
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	return app, err
}

func (s queries) ListApplicationsByUser(ctx context.Context, userID ledger.UserID) ([]*workflow.Application, error) {
	rows, err := s.q.QueryContext(ctx,
		selectApplication+` WHERE user_id = ? ORDER BY created_at, id`, string(userID))
	if err != nil {
		return nil, err
	}
	return scanApplications(rows)
}

func (s queries) ListApplicationsByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Application, error) {
	rows, err := s.q.QueryContext(ctx,
		selectApplication+` WHERE status = ? ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, err
	}
	return scanApplications(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*workflow.Application, error) {
	var (
		app                workflow.Application
		id, userID, typeID string
		totalStr, docsStr  string
		status             string
		decidedAt          sql.NullTime
	)
	if err := row.Scan(&id, &userID, &typeID, &app.DepartmentID, &app.StartDate,
		&app.EndDate, &totalStr, &app.Reason, &docsStr, &status,
		&app.ApproverID, &app.Comments, &app.CreatedAt, &decidedAt); err != nil {
		return nil, err
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt total_days %q: %w", totalStr, err)
	}
	if err := json.Unmarshal([]byte(docsStr), &app.DocumentIDs); err != nil {
		return nil, fmt.Errorf("corrupt document_ids: %w", err)
	}
	app.ID = workflow.ApplicationID(id)
	app.UserID = ledger.UserID(userID)
	app.LeaveTypeID = ledger.LeaveTypeID(typeID)
	app.TotalDays = total
	app.Status = workflow.Status(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		app.DecidedAt = &t
	}
	return &app, nil
}

func scanApplications(rows *sql.Rows) ([]*workflow.Application, error) {
	defer rows.Close()
	var out []*workflow.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

// =============================================================================
// LEAVE TYPES
// =============================================================================

const upsertLeaveType = `
INSERT INTO leave_types
	(id, name, description, default_days, accrual_rate, can_carry_over,
	 max_carry_over_days, carryover_month, carryover_day, requires_approval,
	 requires_reason, requires_documentation, is_paid, is_active, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name                   = excluded.name,
	description            = excluded.description,
	default_days           = excluded.default_days,
	accrual_rate           = excluded.accrual_rate,
	can_carry_over         = excluded.can_carry_over,
	max_carry_over_days    = excluded.max_carry_over_days,
	carryover_month        = excluded.carryover_month,
	carryover_day          = excluded.carryover_day,
	requires_approval      = excluded.requires_approval,
	requires_reason        = excluded.requires_reason,
	requires_documentation = excluded.requires_documentation,
	is_paid                = excluded.is_paid,
	is_active              = excluded.is_active`

func (s queries) SaveLeaveType(ctx context.Context, lt policy.LeaveType) error {
	_, err := s.q.ExecContext(ctx, upsertLeaveType,
		string(lt.ID), lt.Name, lt.Description, lt.DefaultDays.String(),
		lt.AccrualRate.String(), lt.CanCarryOver, lt.MaxCarryOverDays,
		int(lt.CarryoverExpiry.Month), lt.CarryoverExpiry.Day, lt.RequiresApproval,
		lt.RequiresReason, lt.RequiresDocumentation, lt.IsPaid, lt.IsActive,
		lt.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return policy.ErrDuplicateName
	}
	return err
}

const selectLeaveType = `
SELECT id, name, description, default_days, accrual_rate, can_carry_over,
       max_carry_over_days, carryover_month, carryover_day, requires_approval,
       requires_reason, requires_documentation, is_paid, is_active, created_at
FROM leave_types`

func (s queries) GetLeaveType(ctx context.Context, id ledger.LeaveTypeID) (policy.LeaveType, error) {
	row := s.q.QueryRowContext(ctx, selectLeaveType+` WHERE id = ?`, string(id))
	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.LeaveType{}, fmt.Errorf("%w: %s", policy.ErrNotFound, id)
	}
	return lt, err
}

func (s queries) ListLeaveTypes(ctx context.Context) ([]policy.LeaveType, error) {
	rows, err := s.q.QueryContext(ctx, selectLeaveType+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []policy.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func (s queries) LeaveTypeReferenced(ctx context.Context, id ledger.LeaveTypeID) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM ledger_entries WHERE leave_type_id = ? LIMIT 1`, string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanLeaveType(row rowScanner) (policy.LeaveType, error) {
	var (
		lt                  policy.LeaveType
		id                  string
		defaultStr, rateStr string
		month               int
	)
	if err := row.Scan(&id, &lt.Name, &lt.Description, &defaultStr, &rateStr,
		&lt.CanCarryOver, &lt.MaxCarryOverDays, &month, &lt.CarryoverExpiry.Day,
		&lt.RequiresApproval, &lt.RequiresReason, &lt.RequiresDocumentation,
		&lt.IsPaid, &lt.IsActive, &lt.CreatedAt); err != nil {
		return policy.LeaveType{}, err
	}
	defaultDays, err := decimal.NewFromString(defaultStr)
	if err != nil {
		return policy.LeaveType{}, fmt.Errorf("corrupt default_days %q: %w", defaultStr, err)
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return policy.LeaveType{}, fmt.Errorf("corrupt accrual_rate %q: %w", rateStr, err)
	}
	lt.ID = ledger.LeaveTypeID(id)
	lt.DefaultDays = defaultDays
	lt.AccrualRate = rate
	lt.CarryoverExpiry.Month = time.Month(month)
	return lt, nil
}
