package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
)

func fixedClock(t models.Timestamp) func() models.Timestamp {
	return func() models.Timestamp { return t }
}

func draft(name string) models.RemoteDraft {
	return models.RemoteDraft{
		DisplayName: name,
		Contact:     models.RemoteContact{Name: models.PersonName{Given: name, Full: name}},
	}
}

var _ Source = (*MemorySource)(nil)

// TestMemorySource_crud verifies create, update, fetch and delete.
func TestMemorySource_crud(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySource(fixedClock(42))

	created, err := m.Create(ctx, draft("Amy"))
	require.NoError(t, err)
	assert.Equal(t, "people/m1", created.RemoteID)
	assert.Equal(t, models.Timestamp(42), created.LastModified)
	assert.NotEmpty(t, created.EditHandle)

	updated, err := m.Update(ctx, created, draft("Amy Lee"))
	require.NoError(t, err)
	assert.Equal(t, "Amy Lee", updated.DisplayName)
	assert.NotEqual(t, created.EditHandle, updated.EditHandle)

	all, err := m.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Amy Lee", all[0].DisplayName)

	require.NoError(t, m.Delete(ctx, created))
	assert.Equal(t, 0, m.Len())

	_, err = m.Update(ctx, created, draft("Ghost"))
	assert.True(t, apperrors.IsData(err))
}

// TestMemorySource_remoteIDsAreNormalized verifies lookups ignore case and
// trailing slashes.
func TestMemorySource_remoteIDsAreNormalized(t *testing.T) {
	m := NewMemorySource(nil)
	m.Put(models.RemoteRecord{RemoteID: "People/ABC/", DisplayName: "Amy"})

	r, ok := m.Get("people/abc")
	require.True(t, ok)
	assert.Equal(t, "Amy", r.DisplayName)
}

// TestMemorySource_returnsCopies verifies callers cannot mutate stored
// records.
func TestMemorySource_returnsCopies(t *testing.T) {
	m := NewMemorySource(nil)
	m.Put(models.RemoteRecord{
		RemoteID: "people/1",
		Contact:  models.RemoteContact{Emails: []models.Element{{Value: "a@x"}}},
	})

	r, _ := m.Get("people/1")
	r.Contact.Emails[0].Value = "changed"

	again, _ := m.Get("people/1")
	assert.Equal(t, "a@x", again.Contact.Emails[0].Value)
}

// TestMemorySource_FailNext verifies injected failures are returned once per
// call and calls are counted.
func TestMemorySource_FailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySource(nil)
	m.FailNext("fetch", apperrors.New(apperrors.ErrTransient, "503"), apperrors.New(apperrors.ErrAuth, "401"))

	_, err := m.FetchAll(ctx)
	assert.True(t, apperrors.IsTransient(err))
	_, err = m.FetchAll(ctx)
	assert.True(t, apperrors.IsAuth(err))
	_, err = m.FetchAll(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 3, m.Calls("fetch"))
}

// TestMemorySource_canceled verifies a canceled context fails as transient.
func TestMemorySource_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemorySource(nil).FetchGroups(ctx)
	assert.True(t, apperrors.IsTransient(err))
}

// TestMemorySource_groups verifies group management and system group
// protection.
func TestMemorySource_groups(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySource(nil)
	m.AddSystemGroup("contactGroups/myContacts", "My Contacts")

	g, err := m.CreateGroup(ctx, "Friends")
	require.NoError(t, err)
	assert.Equal(t, "contactGroups/m1", g.RemoteID)

	renamed, err := m.RenameGroup(ctx, g, "Close Friends")
	require.NoError(t, err)
	assert.Equal(t, "Close Friends", renamed.Name)

	m.Put(models.RemoteRecord{
		RemoteID: "people/1",
		Contact:  models.RemoteContact{GroupIDs: []string{g.RemoteID, "contactGroups/myContacts"}},
	})

	system := models.RemoteGroup{RemoteID: "contactGroups/myContacts"}
	_, err = m.RenameGroup(ctx, system, "Mine")
	assert.True(t, apperrors.IsPolicy(err))
	assert.True(t, apperrors.IsPolicy(m.DeleteGroup(ctx, system)))

	require.NoError(t, m.DeleteGroup(ctx, g))
	r, _ := m.Get("people/1")
	assert.Equal(t, []string{"contactGroups/myContacts"}, r.Contact.GroupIDs, "deleting a group keeps its members")

	gs, err := m.FetchGroups(ctx)
	require.NoError(t, err)
	require.Len(t, gs, 1)
	assert.True(t, gs[0].System)

	err = m.DeleteGroup(ctx, g)
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

// TestMemorySource_photos verifies photo upload and fetch.
func TestMemorySource_photos(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySource(fixedClock(7))
	created, err := m.Create(ctx, draft("Amy"))
	require.NoError(t, err)

	ref, err := m.UploadPhoto(ctx, created, []byte("jpeg"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref.URL)
	assert.Len(t, ref.ETag, 16)

	r, _ := m.Get(created.RemoteID)
	assert.Equal(t, ref, r.Photo)

	data, err := m.FetchPhoto(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	seeded := m.SetPhoto(created.RemoteID, []byte("png"))
	assert.NotEqual(t, ref.ETag, seeded.ETag)

	_, err = m.FetchPhoto(ctx, models.PhotoRef{URL: "mem://photo/missing"})
	assert.True(t, apperrors.IsData(err))

	_, err = m.UploadPhoto(ctx, models.RemoteRecord{RemoteID: "people/none"}, []byte("x"))
	assert.True(t, apperrors.IsData(err))
}
