package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
)

const (
	memoryPersonPrefix = "people/m"
	memoryGroupPrefix  = "contactGroups/m"
	memoryPhotoScheme  = "mem://photo/"
)

// MemorySource is a Source held in memory. It is safe for concurrent use.
type MemorySource struct {
	mu      sync.Mutex
	seq     int
	records map[string]models.RemoteRecord
	groups  map[string]models.RemoteGroup
	photos  map[string][]byte
	clock   func() models.Timestamp
	fail    map[string][]error
	calls   map[string]int
}

// NewMemorySource returns an empty source. clock stamps modification
// times; nil uses the wall clock.
func NewMemorySource(clock func() models.Timestamp) *MemorySource {
	if clock == nil {
		clock = models.Now
	}
	return &MemorySource{
		records: make(map[string]models.RemoteRecord),
		groups:  make(map[string]models.RemoteGroup),
		photos:  make(map[string][]byte),
		clock:   clock,
		fail:    make(map[string][]error),
		calls:   make(map[string]int),
	}
}

// FailNext makes the next calls of op ("fetch", "create", "update",
// "delete", "fetch_groups", ...) return errs, one per call.
func (m *MemorySource) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = append(m.fail[op], errs...)
}

// Calls returns how often op was invoked.
func (m *MemorySource) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put stores a record as is, bypassing the clock. It is used to seed the
// source.
func (m *MemorySource) Put(r models.RemoteRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[ident.NormalizeRemoteID(r.RemoteID)] = r.Clone()
}

// AddSystemGroup seeds a group owned by the service.
func (m *MemorySource) AddSystemGroup(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[ident.NormalizeRemoteID(id)] = models.RemoteGroup{RemoteID: id, Name: name, System: true}
}

// PutGroup seeds a user group.
func (m *MemorySource) PutGroup(g models.RemoteGroup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[ident.NormalizeRemoteID(g.RemoteID)] = g
}

// Get returns the record with id.
func (m *MemorySource) Get(id string) (models.RemoteRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[ident.NormalizeRemoteID(id)]
	return r.Clone(), ok
}

// Len returns the number of records.
func (m *MemorySource) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Groups returns the groups sorted by ID.
func (m *MemorySource) Groups() []models.RemoteGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedGroups()
}

// begin counts a call and pops an injected failure. Caller holds m.mu.
func (m *MemorySource) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrTransient, "request canceled", err)
	}
	if errs := m.fail[op]; len(errs) > 0 {
		m.fail[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (m *MemorySource) next(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%d", prefix, m.seq)
}

func (m *MemorySource) sortedGroups() []models.RemoteGroup {
	out := make([]models.RemoteGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}

// FetchGroups implements Source.
func (m *MemorySource) FetchGroups(ctx context.Context) ([]models.RemoteGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "fetch_groups"); err != nil {
		return nil, err
	}
	return m.sortedGroups(), nil
}

// CreateGroup implements Source.
func (m *MemorySource) CreateGroup(ctx context.Context, name string) (models.RemoteGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "create_group"); err != nil {
		return models.RemoteGroup{}, err
	}
	id := m.next(memoryGroupPrefix)
	g := models.RemoteGroup{RemoteID: id, Name: name, EditHandle: m.next("g")}
	m.groups[ident.NormalizeRemoteID(id)] = g
	return g, nil
}

// RenameGroup implements Source.
func (m *MemorySource) RenameGroup(ctx context.Context, group models.RemoteGroup, name string) (models.RemoteGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "rename_group"); err != nil {
		return models.RemoteGroup{}, err
	}
	key := ident.NormalizeRemoteID(group.RemoteID)
	g, ok := m.groups[key]
	if !ok {
		return models.RemoteGroup{}, apperrors.Newf(apperrors.ErrNotFound, "group %s not found", group.RemoteID)
	}
	if g.System {
		return models.RemoteGroup{}, apperrors.Newf(apperrors.ErrPolicy, "system group %s cannot be renamed", g.RemoteID)
	}
	g.Name = name
	g.EditHandle = m.next("g")
	m.groups[key] = g
	return g, nil
}

// DeleteGroup implements Source. Members stay; only their membership ends.
func (m *MemorySource) DeleteGroup(ctx context.Context, group models.RemoteGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "delete_group"); err != nil {
		return err
	}
	key := ident.NormalizeRemoteID(group.RemoteID)
	g, ok := m.groups[key]
	if !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "group %s not found", group.RemoteID)
	}
	if g.System {
		return apperrors.Newf(apperrors.ErrPolicy, "system group %s cannot be deleted", g.RemoteID)
	}
	delete(m.groups, key)
	for k, r := range m.records {
		kept := r.Contact.GroupIDs[:0:0]
		for _, id := range r.Contact.GroupIDs {
			if !ident.SameRemoteID(id, g.RemoteID) {
				kept = append(kept, id)
			}
		}
		r.Contact.GroupIDs = kept
		m.records[k] = r
	}
	return nil
}

// FetchAll implements Source.
func (m *MemorySource) FetchAll(ctx context.Context) ([]models.RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "fetch"); err != nil {
		return nil, err
	}
	out := make([]models.RemoteRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// Create implements Source.
func (m *MemorySource) Create(ctx context.Context, draft models.RemoteDraft) (models.RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "create"); err != nil {
		return models.RemoteRecord{}, err
	}
	id := m.next(memoryPersonPrefix)
	r := models.RemoteRecord{
		RemoteID:     id,
		LastModified: m.clock(),
		EditHandle:   m.next("e"),
		DisplayName:  draft.DisplayName,
		Contact:      draft.Contact.Clone(),
	}
	m.records[ident.NormalizeRemoteID(id)] = r
	return r.Clone(), nil
}

// Update implements Source.
func (m *MemorySource) Update(ctx context.Context, record models.RemoteRecord, draft models.RemoteDraft) (models.RemoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "update"); err != nil {
		return models.RemoteRecord{}, err
	}
	key := ident.NormalizeRemoteID(record.RemoteID)
	r, ok := m.records[key]
	if !ok {
		return models.RemoteRecord{}, apperrors.Newf(apperrors.ErrData, "contact %s no longer exists", record.RemoteID)
	}
	r.LastModified = m.clock()
	r.EditHandle = m.next("e")
	r.DisplayName = draft.DisplayName
	r.Contact = draft.Contact.Clone()
	m.records[key] = r
	return r.Clone(), nil
}

// Delete implements Source.
func (m *MemorySource) Delete(ctx context.Context, record models.RemoteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "delete"); err != nil {
		return err
	}
	key := ident.NormalizeRemoteID(record.RemoteID)
	delete(m.records, key)
	delete(m.photos, key)
	return nil
}

// UploadPhoto implements Source.
func (m *MemorySource) UploadPhoto(ctx context.Context, record models.RemoteRecord, data []byte) (models.PhotoRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "upload_photo"); err != nil {
		return models.PhotoRef{}, err
	}
	key := ident.NormalizeRemoteID(record.RemoteID)
	r, ok := m.records[key]
	if !ok {
		return models.PhotoRef{}, apperrors.Newf(apperrors.ErrData, "contact %s no longer exists", record.RemoteID)
	}
	sum := sha256.Sum256(data)
	ref := models.PhotoRef{URL: memoryPhotoScheme + key, ETag: hex.EncodeToString(sum[:8])}
	m.photos[key] = append([]byte(nil), data...)
	r.Photo = ref
	r.LastModified = m.clock()
	m.records[key] = r
	return ref, nil
}

// FetchPhoto implements Source.
func (m *MemorySource) FetchPhoto(ctx context.Context, ref models.PhotoRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, "fetch_photo"); err != nil {
		return nil, err
	}
	data, ok := m.photos[strings.TrimPrefix(ref.URL, memoryPhotoScheme)]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrData, "photo %s not found", ref.URL)
	}
	return append([]byte(nil), data...), nil
}

// SetPhoto seeds the photo of an existing record.
func (m *MemorySource) SetPhoto(id string, data []byte) models.PhotoRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ident.NormalizeRemoteID(id)
	sum := sha256.Sum256(data)
	ref := models.PhotoRef{URL: memoryPhotoScheme + key, ETag: hex.EncodeToString(sum[:8])}
	m.photos[key] = append([]byte(nil), data...)
	if r, ok := m.records[key]; ok {
		r.Photo = ref
		m.records[key] = r
	}
	return ref
}
