// Package db provides repository interfaces for contactsync data models.
package db

import (
	"context"

	"github.com/kimhsiao/contactsync/internal/models"
	syncpkg "github.com/kimhsiao/contactsync/internal/sync"
)

// AccountRepository defines the account management operations of the CLI.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a *models.SyncAccount) error
	GetAccount(ctx context.Context, id models.UUID) (*models.SyncAccount, error)
	ListAccounts(ctx context.Context) ([]models.SyncAccount, error)
	UpdateAccount(ctx context.Context, a *models.SyncAccount) error
	DeleteAccount(ctx context.Context, id models.UUID) error
	SetAccountDisabled(ctx context.Context, id models.UUID, disabled bool, reason string) error
	ResetAccount(ctx context.Context, id models.UUID) error
}

// TokenRepository stores encrypted OAuth tokens.
type TokenRepository interface {
	SaveToken(ctx context.Context, account models.UUID, ciphertext []byte) error
	LoadToken(ctx context.Context, account models.UUID) ([]byte, error)
	DeleteToken(ctx context.Context, account models.UUID) error
}

// HistoryRepository reads the sync and conflict history.
type HistoryRepository interface {
	ListSyncLogs(ctx context.Context, account models.UUID, limit int) ([]models.SyncLog, error)
	ListConflicts(ctx context.Context, account models.UUID, limit int) ([]models.ConflictLog, error)
}

// Ensure *Repository implements the interfaces at compile time.
var (
	_ AccountRepository = (*Repository)(nil)
	_ TokenRepository   = (*Repository)(nil)
	_ HistoryRepository = (*Repository)(nil)
	_ syncpkg.Store     = (*Repository)(nil)
)
