// Package sync sequences contact synchronization across accounts.
package sync

import (
	"context"

	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/remote"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// RunAll synchronizes the selected accounts one after another.
	// It returns a SYNC_IN_PROGRESS error when a run is already active.
	RunAll(ctx context.Context, opts RunOptions) (*RunResult, error)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastRun returns the result of the last completed run, or nil.
	LastRun() *RunResult
}

// LocalStore is the local contact store, partitioned by account.
//
// Upsert assigns a local ID to records without one and stamps their
// modification time. Groups are the account's mailing lists; contact
// membership is carried in LocalContact.Groups.
type LocalStore interface {
	ListAll(ctx context.Context, account models.UUID) ([]models.LocalRecord, error)
	Upsert(ctx context.Context, account models.UUID, record models.LocalRecord) (models.LocalRecord, error)
	Delete(ctx context.Context, account models.UUID, records []models.LocalRecord) error
	LastSyncTime(ctx context.Context, account models.UUID) (models.Timestamp, error)
	SetLastSyncTime(ctx context.Context, account models.UUID, t models.Timestamp) error

	ListGroups(ctx context.Context, account models.UUID) ([]models.Group, error)
	UpsertGroup(ctx context.Context, account models.UUID, group models.Group) (models.Group, error)
	// PurgeGroup removes a list and its memberships for good.
	PurgeGroup(ctx context.Context, account models.UUID, localID string) error
}

// AccountStore persists account state and the sync history.
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]models.SyncAccount, error)
	SetAccountDisabled(ctx context.Context, id models.UUID, disabled bool, reason string) error
	SetNeedsReauth(ctx context.Context, id models.UUID, needs bool) error
	LogConflicts(ctx context.Context, entries []models.ConflictLog) error
	LogSync(ctx context.Context, entry *models.SyncLog) error
}

// Store is the complete persistence used by the orchestrator.
type Store interface {
	LocalStore
	AccountStore
}

// SourceFactory opens the remote source of an account. It returns an
// AUTH_FAILED error when the account has no usable credentials.
type SourceFactory func(ctx context.Context, account models.SyncAccount) (remote.Source, error)

// Gate asks the user to confirm a bulk deletion.
type Gate interface {
	ConfirmBulkDelete(ctx context.Context, account models.SyncAccount, localCount, remoteCount int) (bool, error)
}

// Backuper saves the local snapshot of an account before deletions.
// It returns the key of the backup.
type Backuper interface {
	Backup(ctx context.Context, account models.SyncAccount, records []models.LocalRecord) (string, error)
}

// PhotoStore is the content-addressed local photo cache.
type PhotoStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
}

// Notifier shows the end-of-run alert of a manual run.
type Notifier interface {
	Alert(result *RunResult)
}
