// Package sqlite is the embedded relational store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const txColumns = `id, owner_id, amount, kind, category, description, date,
	is_recurring_template, recurring_parent_id, status, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

var _ storage.Store = (*Repository)(nil)

// DSN builds the connection string: foreign keys on, a busy timeout, and
// write transactions that take the database lock at BEGIN.
func DSN(dbPath string) string {
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := DSN(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		tx                         core.Transaction
		amount, kind, date, status string
		parent                     sql.NullString
		template                   bool
		createdAt, updatedAt       string
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &amount, &kind, &tx.Category, &tx.Description, &date,
		&template, &parent, &status, &createdAt, &updatedAt)
	if err != nil {
		return core.Transaction{}, err
	}

	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
	}
	if tx.Date, err = core.ParseDate(date); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s date: %w", tx.ID, err)
	}
	if tx.CreatedAt, err = parseTS(createdAt); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s created_at: %w", tx.ID, err)
	}
	if tx.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s updated_at: %w", tx.ID, err)
	}
	tx.Kind = core.Kind(kind)
	tx.IsRecurringTemplate = template
	tx.RecurringParentID = parent.String
	tx.Status = core.RecurringStatus(status)
	return tx, nil
}

func scanGoal(row scanner) (core.Goal, error) {
	var (
		g                    core.Goal
		target               string
		deadline             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &target, &deadline, &createdAt, &updatedAt); err != nil {
		return core.Goal{}, err
	}

	var err error
	if g.TargetAmount, err = decimal.NewFromString(target); err != nil {
		return core.Goal{}, fmt.Errorf("goal %s target: %w", g.ID, err)
	}
	if deadline.Valid && deadline.String != "" {
		d, err := core.ParseDate(deadline.String)
		if err != nil {
			return core.Goal{}, fmt.Errorf("goal %s deadline: %w", g.ID, err)
		}
		g.Deadline = &d
	}
	if g.CreatedAt, err = parseTS(createdAt); err != nil {
		return core.Goal{}, fmt.Errorf("goal %s created_at: %w", g.ID, err)
	}
	if g.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return core.Goal{}, fmt.Errorf("goal %s updated_at: %w", g.ID, err)
	}
	return g, nil
}

func scanAllocation(row scanner) (core.Allocation, error) {
	var (
		a                 core.Allocation
		amount, createdAt string
	)
	if err := row.Scan(&a.ID, &a.GoalID, &a.TransactionID, &amount, &createdAt); err != nil {
		return core.Allocation{}, err
	}
	var err error
	if a.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Allocation{}, fmt.Errorf("allocation %s amount: %w", a.ID, err)
	}
	if a.CreatedAt, err = parseTS(createdAt); err != nil {
		return core.Allocation{}, fmt.Errorf("allocation %s created_at: %w", a.ID, err)
	}
	return a, nil
}

// translate maps driver errors onto the core taxonomy.
func translate(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.NewNotFoundError(entity, id)
	}
	var serr *sqlitedrv.Error
	if errors.As(err, &serr) {
		switch code := serr.Code(); {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return &core.ConflictError{Entity: entity, ID: id, Reason: "unique constraint violated"}
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return core.NewValidationError(entity, "references a missing record")
		case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
			return &core.ConflictError{Entity: entity, ID: id, Reason: "database is locked"}
		}
	}
	return &core.UpstreamError{Op: op, Err: err}
}

// CreateTransaction implements storage.TransactionStore.
func (r *Repository) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.OwnerID, tx.Amount.String(), string(tx.Kind), tx.Category, tx.Description,
		tx.Date.String(), tx.IsRecurringTemplate, nullable(tx.RecurringParentID), string(tx.Status),
		formatTS(tx.CreatedAt), formatTS(tx.UpdatedAt))
	if err != nil {
		return translate("insert transaction", core.EntityTransaction, tx.ID, err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", tx.ID,
		"kind", tx.Kind,
		"amount", tx.Amount.String(),
		"date", tx.Date.String())
	return nil
}

// UpdateTransaction implements storage.TransactionStore. The row is locked
// for the edit so the amount cannot drop below a concurrently written
// allocation.
func (r *Repository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return r.lockTransaction(ctx, tx.OwnerID, tx.ID, func(lt *lockedTx) error {
		if err := storage.CheckCoversAllocations(ctx, lt, tx.Amount); err != nil {
			return err
		}
		res, err := lt.dbtx.ExecContext(ctx, `UPDATE transactions SET
			amount = ?, kind = ?, category = ?, description = ?, date = ?,
			is_recurring_template = ?, recurring_parent_id = ?, status = ?, updated_at = ?
			WHERE id = ? AND owner_id = ?`,
			tx.Amount.String(), string(tx.Kind), tx.Category, tx.Description, tx.Date.String(),
			tx.IsRecurringTemplate, nullable(tx.RecurringParentID), string(tx.Status), formatTS(tx.UpdatedAt),
			tx.ID, tx.OwnerID)
		if err != nil {
			return translate("update transaction", core.EntityTransaction, tx.ID, err)
		}
		return requireAffected(res, core.EntityTransaction, tx.ID)
	})
}

func requireAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &core.UpstreamError{Op: "rows affected", Err: err}
	}
	if n == 0 {
		return core.NewNotFoundError(entity, id)
	}
	return nil
}

// GetTransaction implements storage.TransactionStore.
func (r *Repository) GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	tx, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, translate("get transaction", core.EntityTransaction, id, err)
	}
	return tx, nil
}

// DeleteTransaction implements storage.TransactionStore. Allocations go with
// the row through ON DELETE CASCADE; instances of a template are unlinked.
func (r *Repository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return translate("delete transaction", core.EntityTransaction, id, err)
	}
	return requireAffected(res, core.EntityTransaction, id)
}

// ListTransactions implements storage.TransactionStore.
func (r *Repository) ListTransactions(ctx context.Context, ownerID string, f storage.TransactionFilter) ([]core.Transaction, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []any{ownerID}
	)
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.RecurringParentID != "" {
		where = append(where, "recurring_parent_id = ?")
		args = append(args, f.RecurringParentID)
	}
	if f.TemplatesOnly {
		where = append(where, "is_recurring_template = 1 AND recurring_parent_id IS NULL")
	}
	if f.ExcludeTemplates {
		where = append(where, "NOT (is_recurring_template = 1 AND recurring_parent_id IS NULL)")
	}

	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY date DESC, created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryTransactions(ctx, "list transactions", query, args...)
}

func (r *Repository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &core.UpstreamError{Op: op, Err: err}
	}
	defer rows.Close()

	out := make([]core.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, &core.UpstreamError{Op: op, Err: err}
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.UpstreamError{Op: op, Err: err}
	}
	return out, nil
}

// CreateGoal implements storage.GoalStore.
func (r *Repository) CreateGoal(ctx context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO goals
		(id, owner_id, name, target_amount, deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.OwnerID, g.Name, g.TargetAmount.String(), deadlineValue(g.Deadline),
		formatTS(g.CreatedAt), formatTS(g.UpdatedAt))
	return translate("insert goal", core.EntityGoal, g.ID, err)
}

func deadlineValue(d *core.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

// UpdateGoal implements storage.GoalStore.
func (r *Repository) UpdateGoal(ctx context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE goals SET name = ?, target_amount = ?, deadline = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?`,
		g.Name, g.TargetAmount.String(), deadlineValue(g.Deadline), formatTS(g.UpdatedAt), g.ID, g.OwnerID)
	if err != nil {
		return translate("update goal", core.EntityGoal, g.ID, err)
	}
	return requireAffected(res, core.EntityGoal, g.ID)
}

const goalColumns = `id, owner_id, name, target_amount, deadline, created_at, updated_at`

// GetGoal implements storage.GoalStore.
func (r *Repository) GetGoal(ctx context.Context, ownerID, id string) (core.Goal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ? AND owner_id = ?`, id, ownerID)
	g, err := scanGoal(row)
	if err != nil {
		return core.Goal{}, translate("get goal", core.EntityGoal, id, err)
	}
	return g, nil
}

// ListGoals implements storage.GoalStore, oldest first.
func (r *Repository) ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, &core.UpstreamError{Op: "list goals", Err: err}
	}
	defer rows.Close()

	out := make([]core.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, &core.UpstreamError{Op: "list goals", Err: err}
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.UpstreamError{Op: "list goals", Err: err}
	}
	return out, nil
}

// DeleteGoal implements storage.GoalStore.
func (r *Repository) DeleteGoal(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return translate("delete goal", core.EntityGoal, id, err)
	}
	return requireAffected(res, core.EntityGoal, id)
}

const allocationColumns = `a.id, a.goal_id, a.transaction_id, a.amount, a.created_at`

// GetAllocation implements storage.AllocationStore.
func (r *Repository) GetAllocation(ctx context.Context, ownerID, id string) (core.Allocation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+allocationColumns+`
		FROM goal_allocations a JOIN goals g ON g.id = a.goal_id
		WHERE a.id = ? AND g.owner_id = ?`, id, ownerID)
	a, err := scanAllocation(row)
	if err != nil {
		return core.Allocation{}, translate("get allocation", core.EntityAllocation, id, err)
	}
	return a, nil
}

// ListAllocationsByGoal implements storage.AllocationStore.
func (r *Repository) ListAllocationsByGoal(ctx context.Context, ownerID, goalID string) ([]core.Allocation, error) {
	if _, err := r.GetGoal(ctx, ownerID, goalID); err != nil {
		return nil, err
	}
	return r.queryAllocations(ctx, `SELECT `+allocationColumns+`
		FROM goal_allocations a WHERE a.goal_id = ? ORDER BY a.created_at, a.id`, goalID)
}

// ListAllocationsByOwner implements storage.AllocationStore.
func (r *Repository) ListAllocationsByOwner(ctx context.Context, ownerID string) ([]core.Allocation, error) {
	return r.queryAllocations(ctx, `SELECT `+allocationColumns+`
		FROM goal_allocations a JOIN goals g ON g.id = a.goal_id
		WHERE g.owner_id = ? ORDER BY a.created_at, a.id`, ownerID)
}

func (r *Repository) queryAllocations(ctx context.Context, query string, args ...any) ([]core.Allocation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &core.UpstreamError{Op: "list allocations", Err: err}
	}
	defer rows.Close()

	out := make([]core.Allocation, 0)
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, &core.UpstreamError{Op: "list allocations", Err: err}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.UpstreamError{Op: "list allocations", Err: err}
	}
	return out, nil
}

// DeleteAllocation implements storage.AllocationStore.
func (r *Repository) DeleteAllocation(ctx context.Context, ownerID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM goal_allocations
		WHERE id = ? AND goal_id IN (SELECT id FROM goals WHERE owner_id = ?)`, id, ownerID)
	if err != nil {
		return translate("delete allocation", core.EntityAllocation, id, err)
	}
	return requireAffected(res, core.EntityAllocation, id)
}

// WithTransactionLock implements storage.AllocationStore. The DSN makes
// BeginTx issue BEGIN IMMEDIATE, so the write lock is held from the first
// read until commit.
func (r *Repository) WithTransactionLock(ctx context.Context, ownerID, transactionID string, fn func(context.Context, storage.AllocationTx) error) error {
	return r.lockTransaction(ctx, ownerID, transactionID, func(lt *lockedTx) error {
		return fn(ctx, lt)
	})
}

func (r *Repository) lockTransaction(ctx context.Context, ownerID, transactionID string, fn func(*lockedTx) error) (err error) {
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return translate("begin locked write", core.EntityTransaction, transactionID, err)
	}
	defer func() {
		if err != nil {
			_ = dbtx.Rollback()
		}
	}()

	row := dbtx.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ? AND owner_id = ?`, transactionID, ownerID)
	tx, err := scanTransaction(row)
	if err != nil {
		return translate("lock transaction", core.EntityTransaction, transactionID, err)
	}

	if err = fn(&lockedTx{dbtx: dbtx, tx: tx, ownerID: ownerID}); err != nil {
		return err
	}
	if err = dbtx.Commit(); err != nil {
		return translate("commit locked write", core.EntityTransaction, transactionID, err)
	}
	return nil
}

type lockedTx struct {
	dbtx    *sql.Tx
	tx      core.Transaction
	ownerID string
}

func (t *lockedTx) Transaction() core.Transaction { return t.tx }

func (t *lockedTx) AllocatedTotal(ctx context.Context, excludeID string) (decimal.Decimal, error) {
	rows, err := t.dbtx.QueryContext(ctx,
		`SELECT amount FROM goal_allocations WHERE transaction_id = ? AND id <> ?`, t.tx.ID, excludeID)
	if err != nil {
		return decimal.Zero, &core.UpstreamError{Op: "sum allocations", Err: err}
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, &core.UpstreamError{Op: "sum allocations", Err: err}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, &core.UpstreamError{Op: "sum allocations", Err: err}
		}
		total = total.Add(d)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, &core.UpstreamError{Op: "sum allocations", Err: err}
	}
	return total, nil
}

func (t *lockedTx) InsertAllocation(ctx context.Context, a core.Allocation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.TransactionID != t.tx.ID {
		return core.NewValidationError("transaction_id", "does not match the locked transaction")
	}
	var owner string
	err := t.dbtx.QueryRowContext(ctx, `SELECT owner_id FROM goals WHERE id = ?`, a.GoalID).Scan(&owner)
	if err != nil || owner != t.ownerID {
		if err == nil || errors.Is(err, sql.ErrNoRows) {
			return core.NewNotFoundError(core.EntityGoal, a.GoalID)
		}
		return &core.UpstreamError{Op: "check goal", Err: err}
	}

	_, err = t.dbtx.ExecContext(ctx, `INSERT INTO goal_allocations (id, goal_id, transaction_id, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`, a.ID, a.GoalID, a.TransactionID, a.Amount.String(), formatTS(a.CreatedAt))
	return translate("insert allocation", core.EntityAllocation, a.ID, err)
}

func (t *lockedTx) UpdateAllocationAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	res, err := t.dbtx.ExecContext(ctx,
		`UPDATE goal_allocations SET amount = ? WHERE id = ? AND transaction_id = ?`, amount.String(), id, t.tx.ID)
	if err != nil {
		return translate("update allocation", core.EntityAllocation, id, err)
	}
	return requireAffected(res, core.EntityAllocation, id)
}

// ListTemplates implements storage.RecurringStore.
func (r *Repository) ListTemplates(ctx context.Context, ownerID string) ([]core.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE is_recurring_template = 1 AND recurring_parent_id IS NULL`
	var args []any
	if ownerID != "" {
		query += " AND owner_id = ?"
		args = append(args, ownerID)
	}
	query += " ORDER BY date DESC, created_at DESC, id DESC"
	return r.queryTransactions(ctx, "list templates", query, args...)
}

// CountInstancesInPeriod implements storage.RecurringStore.
func (r *Repository) CountInstancesInPeriod(ctx context.Context, ownerID, templateID string, from, to core.Date) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions
		WHERE owner_id = ? AND recurring_parent_id = ? AND date >= ? AND date <= ?`,
		ownerID, templateID, from.String(), to.String()).Scan(&n)
	if err != nil {
		return 0, &core.UpstreamError{Op: "count instances", Err: err}
	}
	return n, nil
}

// SetTemplateStatus implements storage.RecurringStore.
func (r *Repository) SetTemplateStatus(ctx context.Context, ownerID, id string, status core.RecurringStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET status = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND is_recurring_template = 1 AND recurring_parent_id IS NULL`,
		string(status), formatTS(time.Now()), id, ownerID)
	if err != nil {
		return translate("set template status", core.EntityTransaction, id, err)
	}
	return requireAffected(res, core.EntityTransaction, id)
}

// DeleteTemplate implements storage.RecurringStore.
func (r *Repository) DeleteTemplate(ctx context.Context, ownerID, id string, policy storage.DeletePolicy) (n int, err error) {
	if !policy.IsValid() {
		return 0, core.NewValidationError("policy", "must be cascade or unlink")
	}
	dbtx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, translate("begin delete template", core.EntityTransaction, id, err)
	}
	defer func() {
		if err != nil {
			_ = dbtx.Rollback()
		}
	}()

	var exists int
	err = dbtx.QueryRowContext(ctx, `SELECT 1 FROM transactions
		WHERE id = ? AND owner_id = ? AND is_recurring_template = 1 AND recurring_parent_id IS NULL`,
		id, ownerID).Scan(&exists)
	if err != nil {
		return 0, translate("get template", core.EntityTransaction, id, err)
	}

	var res sql.Result
	if policy == storage.DeleteCascade {
		res, err = dbtx.ExecContext(ctx, `DELETE FROM transactions WHERE recurring_parent_id = ?`, id)
	} else {
		res, err = dbtx.ExecContext(ctx, `UPDATE transactions SET recurring_parent_id = NULL WHERE recurring_parent_id = ?`, id)
	}
	if err != nil {
		return 0, translate("apply delete policy", core.EntityTransaction, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &core.UpstreamError{Op: "rows affected", Err: err}
	}

	if _, err = dbtx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return 0, translate("delete template", core.EntityTransaction, id, err)
	}
	if err = dbtx.Commit(); err != nil {
		return 0, translate("commit delete template", core.EntityTransaction, id, err)
	}
	return int(affected), nil
}
