package db

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
)

// =====================================================
// ConflictLog Operations
// =====================================================

// LogConflicts records policy-resolved conflicts in one transaction.
func (r *Repository) LogConflicts(ctx context.Context, entries []models.ConflictLog) error {
	if len(entries) == 0 {
		return nil
	}
	now := r.now().Unix()
	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conflict_log (id, account_id, local_id, remote_id, local_timestamp, remote_timestamp, resolution, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range entries {
			e := &entries[i]
			if e.ID == "" {
				e.ID = models.UUID(ident.NewLocalID())
			}
			if e.DetectedAt == 0 {
				e.DetectedAt = now
			}
			if _, err := stmt.ExecContext(ctx, e.ID, e.AccountID, e.LocalID, e.RemoteID,
				e.LocalTimestamp.Millis(), e.RemoteTimestamp.Millis(), e.Resolution, e.DetectedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListConflicts returns the newest conflicts of an account.
func (r *Repository) ListConflicts(ctx context.Context, account models.UUID, limit int) ([]models.ConflictLog, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, account_id, local_id, remote_id, local_timestamp, remote_timestamp, resolution, detected_at
	FROM conflict_log WHERE account_id = ?
	ORDER BY detected_at DESC, id LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ConflictLog
	for rows.Next() {
		var c models.ConflictLog
		if err := rows.Scan(&c.ID, &c.AccountID, &c.LocalID, &c.RemoteID, &c.LocalTimestamp,
			&c.RemoteTimestamp, &c.Resolution, &c.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// =====================================================
// SyncLog Operations
// =====================================================

// LogSync records the outcome of one account cycle.
func (r *Repository) LogSync(ctx context.Context, entry *models.SyncLog) error {
	if entry.ID == "" {
		entry.ID = models.UUID(ident.NewLocalID())
	}
	query := `
	INSERT INTO sync_log (id, account_id, started_at, finished_at, outcome, errors, summary, message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.AccountID, entry.StartedAt, entry.FinishedAt,
		entry.Outcome, entry.Errors, entry.Summary, entry.Message)
	return err
}

// ListSyncLogs returns the newest cycle outcomes of an account, or of all
// accounts when account is empty.
func (r *Repository) ListSyncLogs(ctx context.Context, account models.UUID, limit int) ([]models.SyncLog, error) {
	query := `
	SELECT id, account_id, started_at, finished_at, outcome, errors, summary, message
	FROM sync_log WHERE (? = '' OR account_id = ?)
	ORDER BY started_at DESC, rowid DESC LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, account, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SyncLog
	for rows.Next() {
		var l models.SyncLog
		if err := rows.Scan(&l.ID, &l.AccountID, &l.StartedAt, &l.FinishedAt, &l.Outcome,
			&l.Errors, &l.Summary, &l.Message); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =====================================================
// Token Operations
// =====================================================

// SaveToken stores the encrypted OAuth token of an account.
func (r *Repository) SaveToken(ctx context.Context, account models.UUID, ciphertext []byte) error {
	query := `
	INSERT INTO tokens (account_id, ciphertext, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(account_id) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, account, ciphertext, r.now().Unix())
	return err
}

// LoadToken returns the encrypted OAuth token of an account.
func (r *Repository) LoadToken(ctx context.Context, account models.UUID) ([]byte, error) {
	var ciphertext []byte
	err := r.db.QueryRowContext(ctx, `SELECT ciphertext FROM tokens WHERE account_id = ?`, account).Scan(&ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no token stored for account %s", account)
	}
	return ciphertext, err
}

// DeleteToken forgets the OAuth token of an account.
func (r *Repository) DeleteToken(ctx context.Context, account models.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tokens WHERE account_id = ?`, account)
	return err
}
