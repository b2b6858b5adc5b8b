// Package db provides the SQLite store for accounts, contacts and sync history.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
)

// Repository provides CRUD operations for all models.
type Repository struct {
	db *sql.DB

	// Prepared statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt

	now func() time.Time
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Store in cache (if already stored by another goroutine, use existing)
	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
// Should be called when the Repository is no longer needed.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// inTx runs fn in a transaction.
func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =====================================================
// Account Operations
// =====================================================

const accountColumns = `id, name, email, source, read_only, write_only, conflict_policy,
	group_mode, target_group, last_sync_ms, disabled, disabled_reason, needs_reauth,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.SyncAccount, error) {
	var a models.SyncAccount
	var policy, groupMode string
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Source, &a.Mode.ReadOnly, &a.Mode.WriteOnly,
		&policy, &groupMode, &a.TargetGroup, &a.LastSyncTime, &a.Disabled, &a.DisabledReason,
		&a.NeedsReauth, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Mode.Policy = models.ConflictPolicy(policy)
	a.GroupMode = models.GroupMode(groupMode)
	return &a, nil
}

// CreateAccount creates a new account. The mode is validated first.
func (r *Repository) CreateAccount(ctx context.Context, a *models.SyncAccount) error {
	if err := a.Mode.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "invalid account mode", err)
	}
	if a.GroupMode == "" {
		a.GroupMode = models.GroupModeSingle
	}
	now := r.now().Unix()
	if a.ID == "" {
		a.ID = models.UUID(ident.NewLocalID())
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `INSERT INTO accounts (` + accountColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, a.ID, a.Name, a.Email, a.Source,
		boolInt(a.Mode.ReadOnly), boolInt(a.Mode.WriteOnly), string(a.Mode.Policy),
		string(a.GroupMode), a.TargetGroup, int64(a.LastSyncTime), boolInt(a.Disabled),
		a.DisabledReason, boolInt(a.NeedsReauth), a.CreatedAt, a.UpdatedAt)
	return err
}

// GetAccount retrieves an account by ID.
func (r *Repository) GetAccount(ctx context.Context, id models.UUID) (*models.SyncAccount, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	a, err := scanAccount(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "account %s not found", id)
	}
	return a, err
}

// ListAccounts returns all accounts in creation order.
func (r *Repository) ListAccounts(ctx context.Context) ([]models.SyncAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.SyncAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateAccount saves the editable settings of an account: name, email,
// mode, group mode and target group.
func (r *Repository) UpdateAccount(ctx context.Context, a *models.SyncAccount) error {
	if err := a.Mode.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "invalid account mode", err)
	}
	a.UpdatedAt = r.now().Unix()
	query := `
	UPDATE accounts
	SET name = ?, email = ?, read_only = ?, write_only = ?, conflict_policy = ?,
		group_mode = ?, target_group = ?, updated_at = ?
	WHERE id = ?
	`
	return r.execOne(ctx, a.ID, query, a.Name, a.Email, boolInt(a.Mode.ReadOnly),
		boolInt(a.Mode.WriteOnly), string(a.Mode.Policy), string(a.GroupMode),
		a.TargetGroup, a.UpdatedAt, a.ID)
}

// DeleteAccount removes an account with its contacts, groups, logs and token.
func (r *Repository) DeleteAccount(ctx context.Context, id models.UUID) error {
	return r.execOne(ctx, id, `DELETE FROM accounts WHERE id = ?`, id)
}

// SetAccountDisabled enables or disables an account. Enabling clears the
// reason.
func (r *Repository) SetAccountDisabled(ctx context.Context, id models.UUID, disabled bool, reason string) error {
	if !disabled {
		reason = ""
	}
	query := `UPDATE accounts SET disabled = ?, disabled_reason = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, id, query, boolInt(disabled), reason, r.now().Unix(), id)
}

// SetNeedsReauth flags an account whose credentials were rejected.
func (r *Repository) SetNeedsReauth(ctx context.Context, id models.UUID, needs bool) error {
	query := `UPDATE accounts SET needs_reauth = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, id, query, boolInt(needs), r.now().Unix(), id)
}

// ResetAccount forgets the sync state of an account: the last sync time,
// every link to remote records and groups, and the photo versions. The next
// cycle is a first sync again. Group tombstones are dropped.
func (r *Repository) ResetAccount(ctx context.Context, id models.UUID) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE accounts SET last_sync_ms = 0, disabled = 0, disabled_reason = '', updated_at = ? WHERE id = ?`,
			r.now().Unix(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperrors.Newf(apperrors.ErrNotFound, "account %s not found", id)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE contacts SET external_id = '', remote_photo_etag = '', synced_photo_hash = '' WHERE account_id = ?`,
			id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM contact_groups WHERE account_id = ? AND deleted = 1`, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE contact_groups SET external_id = '' WHERE account_id = ?`, id)
		return err
	})
}

// LastSyncTime returns the last successful sync of an account; zero means
// never.
func (r *Repository) LastSyncTime(ctx context.Context, account models.UUID) (models.Timestamp, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT last_sync_ms FROM accounts WHERE id = ?`)
	if err != nil {
		return 0, err
	}
	var ms int64
	err = stmt.QueryRowContext(ctx, account).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.Newf(apperrors.ErrNotFound, "account %s not found", account)
	}
	return models.FromMillis(ms), err
}

// SetLastSyncTime records the completion of a successful cycle.
func (r *Repository) SetLastSyncTime(ctx context.Context, account models.UUID, t models.Timestamp) error {
	query := `UPDATE accounts SET last_sync_ms = ?, updated_at = ? WHERE id = ?`
	return r.execOne(ctx, account, query, t.Millis(), r.now().Unix(), account)
}

// execOne executes a statement that must affect the row of id.
func (r *Repository) execOne(ctx context.Context, id models.UUID, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "account %s not found", id)
	}
	return nil
}
