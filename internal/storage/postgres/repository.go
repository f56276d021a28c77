// Package postgres is the server-backed relational store built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const txColumns = `id, owner_id, amount, kind, category, description, date,
	is_recurring_template, recurring_parent_id, status, created_at, updated_at`

const templateClause = `is_recurring_template AND recurring_parent_id IS NULL`

// Postgres error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

type Repository struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Repository)(nil)

// NewRepository connects to databaseURL, pings the server and applies the
// embedded migrations.
func NewRepository(ctx context.Context, databaseURL string) (*Repository, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(databaseURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	slog.InfoContext(ctx, "Connected to PostgreSQL", "max_conns", config.MaxConns)
	return &Repository{pool: pool}, nil
}

// NewFromPool wraps an existing pool. Migrations are the caller's concern.
func NewFromPool(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func scanTransaction(row pgx.Row) (core.Transaction, error) {
	var (
		tx                   core.Transaction
		kind, status         string
		date                 time.Time
		parent               pgtype.Text
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&tx.ID, &tx.OwnerID, &tx.Amount, &kind, &tx.Category, &tx.Description, &date,
		&tx.IsRecurringTemplate, &parent, &status, &createdAt, &updatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.Kind = core.Kind(kind)
	tx.Date = core.DateOf(date)
	tx.RecurringParentID = parent.String
	tx.Status = core.RecurringStatus(status)
	tx.CreatedAt = createdAt.UTC()
	tx.UpdatedAt = updatedAt.UTC()
	return tx, nil
}

func scanGoal(row pgx.Row) (core.Goal, error) {
	var (
		g                    core.Goal
		deadline             pgtype.Date
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &g.TargetAmount, &deadline, &createdAt, &updatedAt); err != nil {
		return core.Goal{}, err
	}
	if deadline.Valid {
		d := core.DateOf(deadline.Time)
		g.Deadline = &d
	}
	g.CreatedAt = createdAt.UTC()
	g.UpdatedAt = updatedAt.UTC()
	return g, nil
}

func scanAllocation(row pgx.Row) (core.Allocation, error) {
	var (
		a         core.Allocation
		createdAt time.Time
	)
	if err := row.Scan(&a.ID, &a.GoalID, &a.TransactionID, &a.Amount, &createdAt); err != nil {
		return core.Allocation{}, err
	}
	a.CreatedAt = createdAt.UTC()
	return a, nil
}

func nullable(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func deadlineValue(d *core.Date) pgtype.Date {
	if d == nil || d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time, Valid: true}
}

// translate maps pgx errors onto the core taxonomy.
func translate(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.NewNotFoundError(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return &core.ConflictError{Entity: entity, ID: id, Reason: "unique constraint violated"}
		case codeForeignKeyViolation:
			return core.NewValidationError(entity, "references a missing record")
		case codeCheckViolation:
			return core.NewValidationError(entity, "violates "+pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected:
			return &core.ConflictError{Entity: entity, ID: id, Reason: "concurrent update"}
		}
	}
	return &core.UpstreamError{Op: op, Err: err}
}

func requireAffected(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return core.NewNotFoundError(entity, id)
	}
	return nil
}

// rollback ignores the error of a transaction that already finished.
func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.WarnContext(ctx, "Rollback failed", "error", err)
	}
}

// CreateTransaction implements storage.TransactionStore.
func (r *Repository) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, tx.OwnerID, tx.Amount, string(tx.Kind), tx.Category, tx.Description,
		tx.Date.Time, tx.IsRecurringTemplate, nullable(tx.RecurringParentID), string(tx.Status),
		tx.CreatedAt.UTC(), tx.UpdatedAt.UTC())
	if err != nil {
		return translate("insert transaction", core.EntityTransaction, tx.ID, err)
	}

	slog.DebugContext(ctx, "Transaction saved to PostgreSQL",
		"id", tx.ID,
		"kind", tx.Kind,
		"amount", tx.Amount.String(),
		"date", tx.Date.String())
	return nil
}

// UpdateTransaction implements storage.TransactionStore. The edit holds the
// same row lock as allocation writes, so the amount cannot drop below what
// is allocated against it.
func (r *Repository) UpdateTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	return r.lockTransaction(ctx, tx.OwnerID, tx.ID, func(lt *lockedTx) error {
		if err := storage.CheckCoversAllocations(ctx, lt, tx.Amount); err != nil {
			return err
		}
		tag, err := lt.dbtx.Exec(ctx, `UPDATE transactions SET
			amount = $1, kind = $2, category = $3, description = $4, date = $5,
			is_recurring_template = $6, recurring_parent_id = $7, status = $8, updated_at = $9
			WHERE id = $10 AND owner_id = $11`,
			tx.Amount, string(tx.Kind), tx.Category, tx.Description, tx.Date.Time,
			tx.IsRecurringTemplate, nullable(tx.RecurringParentID), string(tx.Status), tx.UpdatedAt.UTC(),
			tx.ID, tx.OwnerID)
		if err != nil {
			return translate("update transaction", core.EntityTransaction, tx.ID, err)
		}
		return requireAffected(tag, core.EntityTransaction, tx.ID)
	})
}

// GetTransaction implements storage.TransactionStore.
func (r *Repository) GetTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	tx, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, translate("get transaction", core.EntityTransaction, id, err)
	}
	return tx, nil
}

// DeleteTransaction implements storage.TransactionStore.
func (r *Repository) DeleteTransaction(ctx context.Context, ownerID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM transactions WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return translate("delete transaction", core.EntityTransaction, id, err)
	}
	return requireAffected(tag, core.EntityTransaction, id)
}

// whereBuilder numbers placeholders as conditions are added.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *whereBuilder) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) String() string {
	return strings.Join(w.conds, " AND ")
}

// ListTransactions implements storage.TransactionStore.
func (r *Repository) ListTransactions(ctx context.Context, ownerID string, f storage.TransactionFilter) ([]core.Transaction, error) {
	var w whereBuilder
	w.add("owner_id = ?", ownerID)
	if f.Category != "" {
		w.add("category = ?", f.Category)
	}
	if !f.From.IsZero() {
		w.add("date >= ?", f.From.Time)
	}
	if !f.To.IsZero() {
		w.add("date <= ?", f.To.Time)
	}
	if f.RecurringParentID != "" {
		w.add("recurring_parent_id = ?", f.RecurringParentID)
	}
	if f.TemplatesOnly {
		w.raw(templateClause)
	}
	if f.ExcludeTemplates {
		w.raw("NOT (" + templateClause + ")")
	}

	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + w.String() +
		` ORDER BY date DESC, created_at DESC, id DESC`
	args := w.args
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	return r.queryTransactions(ctx, "list transactions", query, args...)
}

func (r *Repository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &core.UpstreamError{Op: op, Err: err}
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, &core.UpstreamError{Op: op, Err: err}
	}
	if out == nil {
		out = make([]core.Transaction, 0)
	}
	return out, nil
}

// CreateGoal implements storage.GoalStore.
func (r *Repository) CreateGoal(ctx context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO goals
		(id, owner_id, name, target_amount, deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.OwnerID, g.Name, g.TargetAmount, deadlineValue(g.Deadline),
		g.CreatedAt.UTC(), g.UpdatedAt.UTC())
	return translate("insert goal", core.EntityGoal, g.ID, err)
}

// UpdateGoal implements storage.GoalStore.
func (r *Repository) UpdateGoal(ctx context.Context, g core.Goal) error {
	if err := g.Validate(); err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE goals SET name = $1, target_amount = $2, deadline = $3, updated_at = $4
		WHERE id = $5 AND owner_id = $6`,
		g.Name, g.TargetAmount, deadlineValue(g.Deadline), g.UpdatedAt.UTC(), g.ID, g.OwnerID)
	if err != nil {
		return translate("update goal", core.EntityGoal, g.ID, err)
	}
	return requireAffected(tag, core.EntityGoal, g.ID)
}

const goalColumns = `id, owner_id, name, target_amount, deadline, created_at, updated_at`

// GetGoal implements storage.GoalStore.
func (r *Repository) GetGoal(ctx context.Context, ownerID, id string) (core.Goal, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = $1 AND owner_id = $2`, id, ownerID)
	g, err := scanGoal(row)
	if err != nil {
		return core.Goal{}, translate("get goal", core.EntityGoal, id, err)
	}
	return g, nil
}

// ListGoals implements storage.GoalStore, oldest first.
func (r *Repository) ListGoals(ctx context.Context, ownerID string) ([]core.Goal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, &core.UpstreamError{Op: "list goals", Err: err}
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Goal, error) {
		return scanGoal(row)
	})
	if err != nil {
		return nil, &core.UpstreamError{Op: "list goals", Err: err}
	}
	if out == nil {
		out = make([]core.Goal, 0)
	}
	return out, nil
}

// DeleteGoal implements storage.GoalStore.
func (r *Repository) DeleteGoal(ctx context.Context, ownerID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM goals WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return translate("delete goal", core.EntityGoal, id, err)
	}
	return requireAffected(tag, core.EntityGoal, id)
}

const allocationColumns = `a.id, a.goal_id, a.transaction_id, a.amount, a.created_at`

// GetAllocation implements storage.AllocationStore.
func (r *Repository) GetAllocation(ctx context.Context, ownerID, id string) (core.Allocation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+allocationColumns+`
		FROM goal_allocations a JOIN goals g ON g.id = a.goal_id
		WHERE a.id = $1 AND g.owner_id = $2`, id, ownerID)
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
		FROM goal_allocations a WHERE a.goal_id = $1 ORDER BY a.created_at, a.id`, goalID)
}

// ListAllocationsByOwner implements storage.AllocationStore.
func (r *Repository) ListAllocationsByOwner(ctx context.Context, ownerID string) ([]core.Allocation, error) {
	return r.queryAllocations(ctx, `SELECT `+allocationColumns+`
		FROM goal_allocations a JOIN goals g ON g.id = a.goal_id
		WHERE g.owner_id = $1 ORDER BY a.created_at, a.id`, ownerID)
}

func (r *Repository) queryAllocations(ctx context.Context, query string, args ...any) ([]core.Allocation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &core.UpstreamError{Op: "list allocations", Err: err}
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Allocation, error) {
		return scanAllocation(row)
	})
	if err != nil {
		return nil, &core.UpstreamError{Op: "list allocations", Err: err}
	}
	if out == nil {
		out = make([]core.Allocation, 0)
	}
	return out, nil
}

// DeleteAllocation implements storage.AllocationStore.
func (r *Repository) DeleteAllocation(ctx context.Context, ownerID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM goal_allocations
		WHERE id = $1 AND goal_id IN (SELECT id FROM goals WHERE owner_id = $2)`, id, ownerID)
	if err != nil {
		return translate("delete allocation", core.EntityAllocation, id, err)
	}
	return requireAffected(tag, core.EntityAllocation, id)
}

// WithTransactionLock implements storage.AllocationStore using a row lock
// (SELECT ... FOR UPDATE) held until commit.
func (r *Repository) WithTransactionLock(ctx context.Context, ownerID, transactionID string, fn func(context.Context, storage.AllocationTx) error) error {
	return r.lockTransaction(ctx, ownerID, transactionID, func(lt *lockedTx) error {
		return fn(ctx, lt)
	})
}

func (r *Repository) lockTransaction(ctx context.Context, ownerID, transactionID string, fn func(*lockedTx) error) error {
	dbtx, err := r.pool.Begin(ctx)
	if err != nil {
		return translate("begin locked write", core.EntityTransaction, transactionID, err)
	}
	defer rollback(ctx, dbtx)

	row := dbtx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1 AND owner_id = $2 FOR UPDATE`, transactionID, ownerID)
	tx, err := scanTransaction(row)
	if err != nil {
		return translate("lock transaction", core.EntityTransaction, transactionID, err)
	}

	if err := fn(&lockedTx{dbtx: dbtx, tx: tx, ownerID: ownerID}); err != nil {
		return err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return translate("commit locked write", core.EntityTransaction, transactionID, err)
	}
	return nil
}

type lockedTx struct {
	dbtx    pgx.Tx
	tx      core.Transaction
	ownerID string
}

func (t *lockedTx) Transaction() core.Transaction { return t.tx }

func (t *lockedTx) AllocatedTotal(ctx context.Context, excludeID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.dbtx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM goal_allocations
		WHERE transaction_id = $1 AND id <> $2`, t.tx.ID, excludeID).Scan(&total)
	if err != nil {
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
	err := t.dbtx.QueryRow(ctx, `SELECT owner_id FROM goals WHERE id = $1`, a.GoalID).Scan(&owner)
	if err != nil || owner != t.ownerID {
		if err == nil || errors.Is(err, pgx.ErrNoRows) {
			return core.NewNotFoundError(core.EntityGoal, a.GoalID)
		}
		return &core.UpstreamError{Op: "check goal", Err: err}
	}

	_, err = t.dbtx.Exec(ctx, `INSERT INTO goal_allocations (id, goal_id, transaction_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`, a.ID, a.GoalID, a.TransactionID, a.Amount, a.CreatedAt.UTC())
	return translate("insert allocation", core.EntityAllocation, a.ID, err)
}

func (t *lockedTx) UpdateAllocationAmount(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := t.dbtx.Exec(ctx,
		`UPDATE goal_allocations SET amount = $1 WHERE id = $2 AND transaction_id = $3`, amount, id, t.tx.ID)
	if err != nil {
		return translate("update allocation", core.EntityAllocation, id, err)
	}
	return requireAffected(tag, core.EntityAllocation, id)
}

// ListTemplates implements storage.RecurringStore.
func (r *Repository) ListTemplates(ctx context.Context, ownerID string) ([]core.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions WHERE ` + templateClause
	var args []any
	if ownerID != "" {
		query += " AND owner_id = $1"
		args = append(args, ownerID)
	}
	query += " ORDER BY date DESC, created_at DESC, id DESC"
	return r.queryTransactions(ctx, "list templates", query, args...)
}

// CountInstancesInPeriod implements storage.RecurringStore.
func (r *Repository) CountInstancesInPeriod(ctx context.Context, ownerID, templateID string, from, to core.Date) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions
		WHERE owner_id = $1 AND recurring_parent_id = $2 AND date >= $3 AND date <= $4`,
		ownerID, templateID, from.Time, to.Time).Scan(&n)
	if err != nil {
		return 0, &core.UpstreamError{Op: "count instances", Err: err}
	}
	return n, nil
}

// SetTemplateStatus implements storage.RecurringStore.
func (r *Repository) SetTemplateStatus(ctx context.Context, ownerID, id string, status core.RecurringStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE transactions SET status = $1, updated_at = $2
		WHERE id = $3 AND owner_id = $4 AND `+templateClause,
		string(status), time.Now().UTC(), id, ownerID)
	if err != nil {
		return translate("set template status", core.EntityTransaction, id, err)
	}
	return requireAffected(tag, core.EntityTransaction, id)
}

// DeleteTemplate implements storage.RecurringStore.
func (r *Repository) DeleteTemplate(ctx context.Context, ownerID, id string, policy storage.DeletePolicy) (int, error) {
	if !policy.IsValid() {
		return 0, core.NewValidationError("policy", "must be cascade or unlink")
	}
	dbtx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, translate("begin delete template", core.EntityTransaction, id, err)
	}
	defer rollback(ctx, dbtx)

	var exists int
	err = dbtx.QueryRow(ctx, `SELECT 1 FROM transactions
		WHERE id = $1 AND owner_id = $2 AND `+templateClause+` FOR UPDATE`, id, ownerID).Scan(&exists)
	if err != nil {
		return 0, translate("get template", core.EntityTransaction, id, err)
	}

	var tag pgconn.CommandTag
	if policy == storage.DeleteCascade {
		tag, err = dbtx.Exec(ctx, `DELETE FROM transactions WHERE recurring_parent_id = $1`, id)
	} else {
		tag, err = dbtx.Exec(ctx, `UPDATE transactions SET recurring_parent_id = NULL WHERE recurring_parent_id = $1`, id)
	}
	if err != nil {
		return 0, translate("apply delete policy", core.EntityTransaction, id, err)
	}

	if _, err := dbtx.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id); err != nil {
		return 0, translate("delete template", core.EntityTransaction, id, err)
	}
	if err := dbtx.Commit(ctx); err != nil {
		return 0, translate("commit delete template", core.EntityTransaction, id, err)
	}
	return int(tag.RowsAffected()), nil
}
