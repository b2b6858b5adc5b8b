package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/remote"
)

// =====================================================
// Test Helpers
// =====================================================

// testClock is a manually advanced clock shared by the store, the source and
// the orchestrator.
type testClock struct {
	mu sync.Mutex
	t  models.Timestamp
}

func newTestClock() *testClock { return &testClock{t: 1_000_000} }

func (c *testClock) Now() models.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t += models.Timestamp(ms)
}

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	clock     *testClock
	accounts  []models.SyncAccount
	contacts  map[models.UUID]map[string]models.LocalRecord
	groups    map[models.UUID]map[string]models.Group
	lastSync  map[models.UUID]models.Timestamp
	conflicts []models.ConflictLog
	logs      []models.SyncLog
	deleted   int
}

func newMemStore(clock *testClock) *memStore {
	return &memStore{
		clock:    clock,
		contacts: make(map[models.UUID]map[string]models.LocalRecord),
		groups:   make(map[models.UUID]map[string]models.Group),
		lastSync: make(map[models.UUID]models.Timestamp),
	}
}

func (s *memStore) addAccount(a models.SyncAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = append(s.accounts, a)
	s.contacts[a.ID] = make(map[string]models.LocalRecord)
	s.groups[a.ID] = make(map[string]models.Group)
}

func (s *memStore) account(id models.UUID) models.SyncAccount {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ID == id {
			a.LastSyncTime = s.lastSync[id]
			return a
		}
	}
	return models.SyncAccount{}
}

// seed stores records as is, keeping their modification times.
func (s *memStore) seed(account models.UUID, recs ...models.LocalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.contacts[account][r.LocalID] = r.Clone()
	}
}

func (s *memStore) seedGroup(account models.UUID, g models.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[account][g.LocalID] = g
}

// edit changes a record the way a user would, bumping its modification time.
func (s *memStore) edit(account models.UUID, localID string, fn func(*models.LocalRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.contacts[account][localID]
	fn(&r)
	r.LastModified = s.clock.Now()
	s.contacts[account][localID] = r
}

func (s *memStore) records(account models.UUID) []models.LocalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LocalRecord, 0, len(s.contacts[account]))
	for _, r := range s.contacts[account] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

func (s *memStore) byName(account models.UUID, name string) (models.LocalRecord, bool) {
	for _, r := range s.records(account) {
		if r.DisplayName == name {
			return r, true
		}
	}
	return models.LocalRecord{}, false
}

func (s *memStore) ListAll(ctx context.Context, account models.UUID) ([]models.LocalRecord, error) {
	return s.records(account), nil
}

func (s *memStore) Upsert(ctx context.Context, account models.UUID, rec models.LocalRecord) (models.LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.LocalID == "" {
		rec.LocalID = ident.NewLocalID()
	}
	rec.LastModified = s.clock.Now()
	s.contacts[account][rec.LocalID] = rec.Clone()
	return rec, nil
}

func (s *memStore) Delete(ctx context.Context, account models.UUID, recs []models.LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		delete(s.contacts[account], r.LocalID)
		s.deleted++
	}
	return nil
}

func (s *memStore) LastSyncTime(ctx context.Context, account models.UUID) (models.Timestamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync[account], nil
}

func (s *memStore) SetLastSyncTime(ctx context.Context, account models.UUID, t models.Timestamp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[account] = t
	return nil
}

func (s *memStore) ListGroups(ctx context.Context, account models.UUID) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Group, 0, len(s.groups[account]))
	for _, g := range s.groups[account] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) UpsertGroup(ctx context.Context, account models.UUID, g models.Group) (models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.LocalID == "" {
		g.LocalID = ident.NewLocalID()
	}
	s.groups[account][g.LocalID] = g
	return g, nil
}

func (s *memStore) PurgeGroup(ctx context.Context, account models.UUID, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups[account], localID)
	return nil
}

func (s *memStore) ListAccounts(ctx context.Context) ([]models.SyncAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncAccount, len(s.accounts))
	for i, a := range s.accounts {
		a.LastSyncTime = s.lastSync[a.ID]
		out[i] = a
	}
	return out, nil
}

func (s *memStore) SetAccountDisabled(ctx context.Context, id models.UUID, disabled bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			s.accounts[i].Disabled = disabled
			s.accounts[i].DisabledReason = reason
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "account %s not found", id)
}

func (s *memStore) SetNeedsReauth(ctx context.Context, id models.UUID, needs bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.accounts {
		if s.accounts[i].ID == id {
			s.accounts[i].NeedsReauth = needs
			return nil
		}
	}
	return apperrors.Newf(apperrors.ErrNotFound, "account %s not found", id)
}

func (s *memStore) LogConflicts(ctx context.Context, entries []models.ConflictLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = append(s.conflicts, entries...)
	return nil
}

func (s *memStore) LogSync(ctx context.Context, entry *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

// staticGate answers every confirmation the same way and counts calls.
type staticGate struct {
	answer bool
	calls  int
	local  int
	remote int
}

func (g *staticGate) ConfirmBulkDelete(ctx context.Context, account models.SyncAccount, local, remote int) (bool, error) {
	g.calls++
	g.local, g.remote = local, remote
	return g.answer, nil
}

// memBackup records backups.
type memBackup struct {
	keys []string
	fail error
}

func (b *memBackup) Backup(ctx context.Context, account models.SyncAccount, records []models.LocalRecord) (string, error) {
	if b.fail != nil {
		return "", b.fail
	}
	key := fmt.Sprintf("%s/%d.yaml.sz", account.ID, len(b.keys))
	b.keys = append(b.keys, key)
	return key, nil
}

// memPhotos is a content-addressed photo cache.
type memPhotos struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemPhotos() *memPhotos { return &memPhotos{data: make(map[string][]byte)} }

func (p *memPhotos) Put(ctx context.Context, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	p.data[hash] = append([]byte(nil), data...)
	return hash, nil
}

func (p *memPhotos) Get(ctx context.Context, hash string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.data[hash]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "photo %s not found", hash)
	}
	return d, nil
}

// recordingNotifier records alerts.
type recordingNotifier struct {
	alerts []*RunResult
}

func (n *recordingNotifier) Alert(result *RunResult) {
	n.alerts = append(n.alerts, result)
}

// sourceMap serves one MemorySource per account.
func sourceMap(sources map[models.UUID]*remote.MemorySource) SourceFactory {
	return func(ctx context.Context, account models.SyncAccount) (remote.Source, error) {
		src, ok := sources[account.ID]
		if !ok {
			return nil, apperrors.Newf(apperrors.ErrAuth, "no credentials for account %s", account.ID)
		}
		return src, nil
	}
}
