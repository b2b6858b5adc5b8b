// Package remote defines the contract of a remote contact source and an
// in-memory implementation of it.
package remote

import (
	"context"

	"github.com/kimhsiao/contactsync/internal/models"
)

// Source is a remote contact service holding one account's contacts and
// groups.
//
// Update and Delete overwrite unconditionally: the edit handle is sent as a
// capability, and concurrent remote changes are not detected. The engine's
// conflict rules are the only guard against unwanted overwrites.
type Source interface {
	// FetchGroups returns every contact group, system groups included.
	FetchGroups(ctx context.Context) ([]models.RemoteGroup, error)
	CreateGroup(ctx context.Context, name string) (models.RemoteGroup, error)
	RenameGroup(ctx context.Context, group models.RemoteGroup, name string) (models.RemoteGroup, error)
	DeleteGroup(ctx context.Context, group models.RemoteGroup) error

	// FetchAll returns every contact of the account.
	FetchAll(ctx context.Context) ([]models.RemoteRecord, error)
	Create(ctx context.Context, draft models.RemoteDraft) (models.RemoteRecord, error)
	Update(ctx context.Context, record models.RemoteRecord, draft models.RemoteDraft) (models.RemoteRecord, error)
	Delete(ctx context.Context, record models.RemoteRecord) error

	// UploadPhoto replaces the photo of record.
	UploadPhoto(ctx context.Context, record models.RemoteRecord, data []byte) (models.PhotoRef, error)
	// FetchPhoto downloads the photo ref points at.
	FetchPhoto(ctx context.Context, ref models.PhotoRef) ([]byte, error)
}
