package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
)

// =====================================================
// Contact Operations
// =====================================================

// Contacts track modification times in whole seconds; they are converted to
// Timestamp here so the engine only sees milliseconds.

const contactColumns = `local_id, external_id, display_name, modified_at, remote_photo_etag, synced_photo_hash, body`

func scanContact(row rowScanner) (models.LocalRecord, error) {
	var rec models.LocalRecord
	var modified int64
	var body string
	if err := row.Scan(&rec.LocalID, &rec.ExternalID, &rec.DisplayName, &modified,
		&rec.RemotePhotoETag, &rec.SyncedPhotoHash, &body); err != nil {
		return rec, err
	}
	rec.LastModified = models.FromSeconds(modified)
	if err := json.Unmarshal([]byte(body), &rec.Contact); err != nil {
		return rec, fmt.Errorf("failed to decode contact %s: %w", rec.LocalID, err)
	}
	return rec, nil
}

// ListAll returns every contact of an account ordered by local ID.
func (r *Repository) ListAll(ctx context.Context, account models.UUID) ([]models.LocalRecord, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+contactColumns+` FROM contacts WHERE account_id = ? ORDER BY local_id`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.LocalRecord
	for rows.Next() {
		rec, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// GetContact retrieves one contact.
func (r *Repository) GetContact(ctx context.Context, account models.UUID, localID string) (models.LocalRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE account_id = ? AND local_id = ?`, account, localID)
	return scanContact(row)
}

// Upsert inserts or replaces a contact. Records without a local ID get a new
// one; the modification time is stamped with the current time.
func (r *Repository) Upsert(ctx context.Context, account models.UUID, rec models.LocalRecord) (models.LocalRecord, error) {
	if rec.LocalID == "" {
		rec.LocalID = ident.NewLocalID()
	}
	body, err := json.Marshal(rec.Contact)
	if err != nil {
		return rec, fmt.Errorf("failed to encode contact: %w", err)
	}
	now := r.now().Unix()

	query := `
	INSERT INTO contacts (account_id, ` + contactColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account_id, local_id) DO UPDATE SET
		external_id = excluded.external_id,
		display_name = excluded.display_name,
		modified_at = excluded.modified_at,
		remote_photo_etag = excluded.remote_photo_etag,
		synced_photo_hash = excluded.synced_photo_hash,
		body = excluded.body
	`
	stmt, err := r.PrepareStmt(ctx, query)
	if err != nil {
		return rec, err
	}
	if _, err := stmt.ExecContext(ctx, account, rec.LocalID, rec.ExternalID, rec.DisplayName, now,
		rec.RemotePhotoETag, rec.SyncedPhotoHash, string(body)); err != nil {
		return rec, err
	}
	rec.LastModified = models.FromSeconds(now)
	return rec, nil
}

// Delete removes contacts by local ID in one transaction.
func (r *Repository) Delete(ctx context.Context, account models.UUID, records []models.LocalRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM contacts WHERE account_id = ? AND local_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, account, rec.LocalID); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountContacts returns the number of contacts of an account.
func (r *Repository) CountContacts(ctx context.Context, account models.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts WHERE account_id = ?`, account).Scan(&n)
	return n, err
}

// =====================================================
// Group Operations
// =====================================================

// ListGroups returns the mailing lists of an account, tombstones included.
func (r *Repository) ListGroups(ctx context.Context, account models.UUID) ([]models.Group, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT local_id, external_id, name, deleted FROM contact_groups WHERE account_id = ? ORDER BY name, local_id`,
		account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.LocalID, &g.ExternalID, &g.Name, &g.Deleted); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return groups, nil
}

// UpsertGroup inserts or replaces a mailing list.
func (r *Repository) UpsertGroup(ctx context.Context, account models.UUID, g models.Group) (models.Group, error) {
	if g.LocalID == "" {
		g.LocalID = ident.NewLocalID()
	}
	query := `
	INSERT INTO contact_groups (account_id, local_id, external_id, name, deleted)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(account_id, local_id) DO UPDATE SET
		external_id = excluded.external_id,
		name = excluded.name,
		deleted = excluded.deleted
	`
	_, err := r.db.ExecContext(ctx, query, account, g.LocalID, g.ExternalID, g.Name, boolInt(g.Deleted))
	return g, err
}

// PurgeGroup removes a mailing list and drops it from its members. Members
// keep their modification time: losing a list that no longer exists is not
// a local edit.
func (r *Repository) PurgeGroup(ctx context.Context, account models.UUID, localID string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM contact_groups WHERE account_id = ? AND local_id = ?`, account, localID); err != nil {
			return err
		}

		needle := "%" + strings.ReplaceAll(localID, "%", "") + "%"
		rows, err := tx.QueryContext(ctx,
			`SELECT local_id, body FROM contacts WHERE account_id = ? AND body LIKE ?`, account, needle)
		if err != nil {
			return err
		}
		type member struct {
			localID string
			body    []byte
		}
		var members []member
		for rows.Next() {
			var id, body string
			if err := rows.Scan(&id, &body); err != nil {
				rows.Close()
				return err
			}
			var c models.LocalContact
			if err := json.Unmarshal([]byte(body), &c); err != nil {
				rows.Close()
				return fmt.Errorf("failed to decode contact %s: %w", id, err)
			}
			kept := c.Groups[:0:0]
			for _, g := range c.Groups {
				if g != localID {
					kept = append(kept, g)
				}
			}
			if len(kept) == len(c.Groups) {
				continue
			}
			c.Groups = kept
			encoded, err := json.Marshal(c)
			if err != nil {
				rows.Close()
				return err
			}
			members = append(members, member{id, encoded})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, m := range members {
			if _, err := tx.ExecContext(ctx,
				`UPDATE contacts SET body = ? WHERE account_id = ? AND local_id = ?`,
				string(m.body), account, m.localID); err != nil {
				return err
			}
		}
		return nil
	})
}
