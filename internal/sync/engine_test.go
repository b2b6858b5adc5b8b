package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/remote"
	"github.com/kimhsiao/contactsync/internal/sync/queue"
)

type fixture struct {
	clock    *testClock
	store    *memStore
	src      *remote.MemorySource
	sources  map[models.UUID]*remote.MemorySource
	account  models.UUID
	gate     *staticGate
	backup   *memBackup
	photos   *memPhotos
	notifier *recordingNotifier
	orch     *Orchestrator
}

func testConfig() Config {
	return Config{
		DeleteThreshold: 5,
		Queue: queue.Config{
			MaxRetries:  2,
			BaseBackoff: time.Millisecond,
			MaxBackoff:  time.Millisecond,
		},
	}
}

func newAccount(id models.UUID, mode models.Mode, groupMode models.GroupMode) models.SyncAccount {
	return models.SyncAccount{
		ID:        id,
		Name:      string(id),
		Source:    "memory",
		Mode:      mode,
		GroupMode: groupMode,
	}
}

func newFixture(t *testing.T, mode models.Mode, groupMode models.GroupMode) *fixture {
	t.Helper()
	f := &fixture{
		clock:    newTestClock(),
		account:  "acct-1",
		gate:     &staticGate{},
		backup:   &memBackup{},
		photos:   newMemPhotos(),
		notifier: &recordingNotifier{},
	}
	f.store = newMemStore(f.clock)
	f.src = remote.NewMemorySource(f.clock.Now)
	f.sources = map[models.UUID]*remote.MemorySource{f.account: f.src}
	f.store.addAccount(newAccount(f.account, mode, groupMode))
	f.orch = NewOrchestrator(f.store, sourceMap(f.sources), testConfig(),
		WithGate(f.gate),
		WithBackup(f.backup),
		WithPhotos(f.photos),
		WithNotifier(f.notifier),
		WithClock(f.clock.Now),
	)
	return f
}

func (f *fixture) run(t *testing.T, opts RunOptions) *RunResult {
	t.Helper()
	res, err := f.orch.RunAll(context.Background(), opts)
	require.NoError(t, err)
	return res
}

func (f *fixture) single(t *testing.T) AccountResult {
	t.Helper()
	res := f.run(t, RunOptions{})
	require.Len(t, res.Accounts, 1)
	return res.Accounts[0]
}

func person(localID, name, email string) models.LocalRecord {
	r := models.LocalRecord{LocalID: localID, DisplayName: name}
	r.Contact.FirstName = name
	r.Contact.DisplayName = name
	r.Contact.Emails[0] = email
	return r
}

func remotePerson(id, name, email string, mod models.Timestamp) models.RemoteRecord {
	return models.RemoteRecord{
		RemoteID:     id,
		LastModified: mod,
		EditHandle:   "e-" + id,
		DisplayName:  name,
		Contact: models.RemoteContact{
			Name:   models.PersonName{Given: name, Full: name},
			Emails: []models.Element{{Type: "home", Value: email, Primary: true}},
		},
	}
}

var preferRemote = models.Mode{Policy: models.PreferRemote}

// =====================================================
// Cycle Tests
// =====================================================

// TestRunAll_firstSync verifies a first sync pushes local-only contacts,
// pulls remote-only contacts and stamps the last sync time.
func TestRunAll_firstSync(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.store.seed(f.account, person("l1", "Amy", "amy@example.com"))
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))

	ar := f.single(t)

	assert.Equal(t, OutcomeSuccess, ar.Outcome)
	assert.Equal(t, StepDone, ar.Step)
	assert.Equal(t, 0, ar.Errors)
	assert.Equal(t, 1, ar.Summary.Remote.Added)
	assert.Equal(t, 1, ar.Summary.Local.Added)

	assert.Equal(t, 2, f.src.Len())
	amy, ok := f.store.byName(f.account, "Amy")
	require.True(t, ok)
	assert.NotEmpty(t, amy.ExternalID)
	remoteAmy, ok := f.src.Get(amy.ExternalID)
	require.True(t, ok)
	assert.Equal(t, "amy@example.com", remoteAmy.Contact.Emails[0].Value)

	bob, ok := f.store.byName(f.account, "Bob")
	require.True(t, ok)
	assert.Equal(t, "people/r1", bob.ExternalID)
	assert.Equal(t, "bob@example.com", bob.Contact.Emails[0])

	assert.Equal(t, f.clock.Now(), f.store.account(f.account).LastSyncTime)
	require.Len(t, f.store.logs, 1)
	assert.Equal(t, OutcomeSuccess, f.store.logs[0].Outcome)
}

// TestRunAll_secondSyncIsQuiet verifies records written by a cycle are not
// seen as changed by the next one.
func TestRunAll_secondSyncIsQuiet(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.store.seed(f.account, person("l1", "Amy", "amy@example.com"))
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))
	f.single(t)

	f.clock.Advance(60_000)
	creates := f.src.Calls("create")
	ar := f.single(t)

	assert.Equal(t, 2, ar.Summary.NotChanged)
	assert.Equal(t, 0, ar.Summary.Remote.Added+ar.Summary.Local.Added)
	assert.Equal(t, creates, f.src.Calls("create"))
	assert.Equal(t, 0, f.src.Calls("update"))
}

// TestRunAll_firstSyncMerge verifies a look-alike pair is linked instead of
// duplicated.
func TestRunAll_firstSyncMerge(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	local := person("l1", "Amy", "amy@example.com")
	local.Contact.Notes = "met at work"
	f.store.seed(f.account, local)
	f.src.Put(remotePerson("people/r1", "amy", "AMY@example.com", 500))

	ar := f.single(t)

	assert.Equal(t, 1, ar.Summary.Merged)
	assert.Equal(t, 1, f.src.Len())
	amy, ok := f.store.byName(f.account, "Amy")
	require.True(t, ok)
	assert.Equal(t, "people/r1", amy.ExternalID)

	r, _ := f.src.Get("people/r1")
	assert.Equal(t, "met at work", r.Contact.Notes, "local-only values are pushed")
}

// TestRunAll_conflictPreferRemote verifies a concurrent edit is resolved by
// policy and logged.
func TestRunAll_conflictPreferRemote(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))
	f.single(t)

	f.clock.Advance(60_000)
	bob, _ := f.store.byName(f.account, "Bob")
	f.store.edit(f.account, bob.LocalID, func(r *models.LocalRecord) { r.Contact.Notes = "local note" })
	r, _ := f.src.Get("people/r1")
	r.Contact.Notes = "remote note"
	r.LastModified = f.clock.Now()
	f.src.Put(r)

	ar := f.single(t)

	assert.Equal(t, 1, ar.Summary.Conflicted)
	assert.Equal(t, 1, ar.Summary.Local.Updated)
	bob, _ = f.store.byName(f.account, "Bob")
	assert.Equal(t, "remote note", bob.Contact.Notes)
	require.Len(t, f.store.conflicts, 1)
	assert.Equal(t, "remote_wins", f.store.conflicts[0].Resolution)
}

// TestRunAll_localEditPushed verifies a local-only change updates the remote.
func TestRunAll_localEditPushed(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))
	f.single(t)

	f.clock.Advance(60_000)
	bob, _ := f.store.byName(f.account, "Bob")
	f.store.edit(f.account, bob.LocalID, func(r *models.LocalRecord) { r.Contact.Phones[models.PhoneMobile] = "555-0100" })

	ar := f.single(t)

	assert.Equal(t, 1, ar.Summary.Remote.Updated)
	r, _ := f.src.Get("people/r1")
	require.Len(t, r.Contact.Phones, 1)
	assert.Equal(t, "mobile", r.Contact.Phones[0].Type)
	assert.Equal(t, "555-0100", r.Contact.Phones[0].Value)
}

// TestRunAll_readOnly verifies a read-only account never writes remotely.
func TestRunAll_readOnly(t *testing.T) {
	f := newFixture(t, models.Mode{ReadOnly: true, Policy: models.PreferRemote}, models.GroupModeSingle)
	f.store.seed(f.account, person("l1", "Amy", "amy@example.com"))
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))

	ar := f.single(t)

	assert.Equal(t, 1, ar.Summary.Local.Ignored)
	assert.Equal(t, 1, ar.Summary.Local.Added)
	assert.Equal(t, 0, f.src.Calls("create"))
	assert.Equal(t, 1, f.src.Len())
}

// =====================================================
// Deletion Gate Tests
// =====================================================

func seedSynced(t *testing.T, f *fixture, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := "people/r" + string(rune('a'+i))
		f.src.Put(remotePerson(id, "P"+string(rune('a'+i)), "", 500))
	}
	f.single(t)
	f.clock.Advance(60_000)
}

// TestRunAll_bulkDeleteDeclined verifies a declined confirmation applies
// nothing and disables the account.
func TestRunAll_bulkDeleteDeclined(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	seedSynced(t, f, 5)
	lastSync := f.store.account(f.account).LastSyncTime

	for _, r := range f.store.records(f.account) {
		require.NoError(t, f.src.Delete(context.Background(), models.RemoteRecord{RemoteID: r.ExternalID}))
	}
	f.store.seed(f.account, person("new", "Newcomer", "new@example.com"))

	ar := f.single(t)

	assert.Equal(t, OutcomeDeclined, ar.Outcome)
	assert.Equal(t, 1, f.gate.calls)
	assert.Equal(t, 5, f.gate.local)
	assert.Equal(t, 0, ar.Summary.Local.Removed)
	assert.Equal(t, 0, ar.Summary.Remote.Added)
	assert.Len(t, f.store.records(f.account), 6, "nothing is deleted")
	assert.Equal(t, 0, f.src.Len(), "nothing is created")

	acct := f.store.account(f.account)
	assert.True(t, acct.Disabled)
	assert.Equal(t, models.DisabledBulkDeleteDeclined, acct.DisabledReason)
	assert.Equal(t, lastSync, acct.LastSyncTime)
	assert.Empty(t, f.backup.keys, "a declined plan is not backed up")

	// Scheduled runs skip the disabled account silently.
	res := f.run(t, RunOptions{})
	assert.Empty(t, res.Accounts)
}

// TestRunAll_bulkDeleteConfirmed verifies a confirmed bulk delete is backed
// up and applied.
func TestRunAll_bulkDeleteConfirmed(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.gate.answer = true
	seedSynced(t, f, 5)

	for _, r := range f.store.records(f.account) {
		require.NoError(t, f.src.Delete(context.Background(), models.RemoteRecord{RemoteID: r.ExternalID}))
	}

	ar := f.single(t)

	assert.Equal(t, OutcomeSuccess, ar.Outcome)
	assert.Equal(t, 5, ar.Summary.Local.Removed)
	assert.Empty(t, f.store.records(f.account))
	require.Len(t, f.backup.keys, 1)
	assert.Equal(t, f.backup.keys[0], ar.BackupKey)
}

// TestRunAll_belowThreshold verifies small deletions need no confirmation.
func TestRunAll_belowThreshold(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	seedSynced(t, f, 2)

	recs := f.store.records(f.account)
	f.store.mu.Lock()
	delete(f.store.contacts[f.account], recs[0].LocalID)
	f.store.mu.Unlock()

	ar := f.single(t)

	assert.Equal(t, 0, f.gate.calls)
	assert.Equal(t, 1, ar.Summary.Local.Removed, "remote copy of a locally deleted contact is removed")
	assert.Equal(t, 1, f.src.Len())
	assert.Len(t, f.backup.keys, 1)
}

// TestRunAll_backupFailureAborts verifies deletions never run without a
// backup.
func TestRunAll_backupFailureAborts(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	seedSynced(t, f, 1)
	f.backup.fail = apperrors.New(apperrors.ErrBackupFailed, "disk full")

	recs := f.store.records(f.account)
	require.NoError(t, f.src.Delete(context.Background(), models.RemoteRecord{RemoteID: recs[0].ExternalID}))

	ar := f.single(t)

	assert.Equal(t, OutcomeFailed, ar.Outcome)
	assert.Equal(t, StepBackup, ar.Step)
	assert.Len(t, f.store.records(f.account), 1)
}

// =====================================================
// Error Routing Tests
// =====================================================

// TestRunAll_authErrorContinues verifies an auth failure aborts only its
// account.
func TestRunAll_authErrorContinues(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.store.addAccount(newAccount("acct-0", preferRemote, models.GroupModeSingle))
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))

	res := f.run(t, RunOptions{})

	require.Len(t, res.Accounts, 2)
	assert.Equal(t, 1, res.Errors)

	byID := map[models.UUID]AccountResult{}
	for _, ar := range res.Accounts {
		byID[ar.AccountID] = ar
	}
	assert.Equal(t, OutcomeFailed, byID["acct-0"].Outcome)
	assert.True(t, apperrors.IsAuth(byID["acct-0"].Err))
	assert.True(t, f.store.account("acct-0").NeedsReauth)
	assert.True(t, f.store.account("acct-0").LastSyncTime.IsZero())

	assert.Equal(t, OutcomeSuccess, byID[f.account].Outcome)
	assert.Len(t, f.store.records(f.account), 1)
}

// TestRunAll_authRecovery verifies a successful cycle clears the
// re-authentication flag.
func TestRunAll_authRecovery(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	require.NoError(t, f.store.SetNeedsReauth(context.Background(), f.account, true))

	f.single(t)
	assert.False(t, f.store.account(f.account).NeedsReauth)
}

// TestRunAll_transientRetried verifies transient failures are retried and
// do not count as errors once they succeed.
func TestRunAll_transientRetried(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.store.seed(f.account, person("l1", "Amy", "amy@example.com"))
	f.src.FailNext("create", apperrors.New(apperrors.ErrTransient, "503"))
	f.src.FailNext("fetch", apperrors.New(apperrors.ErrTransient, "connection reset"))

	ar := f.single(t)

	assert.Equal(t, OutcomeSuccess, ar.Outcome)
	assert.Equal(t, 2, f.src.Calls("create"))
	assert.Equal(t, 2, f.src.Calls("fetch"))
	assert.False(t, f.store.account(f.account).LastSyncTime.IsZero())
}

// TestRunAll_transientExhausted verifies a fetch that keeps failing ends the
// account's cycle without stamping the last sync time.
func TestRunAll_transientExhausted(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	transient := apperrors.New(apperrors.ErrTransient, "offline")
	f.src.FailNext("fetch", transient, transient, transient)

	ar := f.single(t)

	assert.Equal(t, OutcomeFailed, ar.Outcome)
	assert.Equal(t, StepFetchContacts, ar.Step)
	assert.Equal(t, 1, ar.Errors)
	assert.True(t, f.store.account(f.account).LastSyncTime.IsZero())
}

// TestRunAll_queueFullCountsError verifies a request the queue refuses is
// reported as an error instead of vanishing.
func TestRunAll_queueFullCountsError(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	cfg := testConfig()
	cfg.Queue.MaxSize = 1
	f.orch = NewOrchestrator(f.store, sourceMap(f.sources), cfg,
		WithGate(f.gate),
		WithClock(f.clock.Now),
	)
	f.store.seed(f.account,
		person("l1", "Amy", "amy@example.com"),
		person("l2", "Bob", "bob@example.com"),
	)

	ar := f.single(t)

	assert.Equal(t, OutcomePartial, ar.Outcome)
	assert.Equal(t, 1, ar.Errors)
	assert.Equal(t, 1, f.src.Calls("create"))
	assert.True(t, f.store.account(f.account).LastSyncTime.IsZero())
}

// TestRunAll_dataErrorSkipsRecord verifies one undecodable record is
// skipped while the rest of the plan applies.
func TestRunAll_dataErrorSkipsRecord(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	bad := remotePerson("people/bad", "Bad", "bad@example.com", 500)
	bad.Contact.Birthday = "not-a-date"
	f.src.Put(bad)
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))
	f.src.Put(models.RemoteRecord{RemoteID: "people/broken", LastModified: models.InvalidTimestamp, DisplayName: "Broken"})

	ar := f.single(t)

	assert.Equal(t, OutcomePartial, ar.Outcome)
	assert.Equal(t, 2, ar.Errors)
	_, ok := f.store.byName(f.account, "Bob")
	assert.True(t, ok)
	_, ok = f.store.byName(f.account, "Bad")
	assert.False(t, ok)
	assert.True(t, f.store.account(f.account).LastSyncTime.IsZero(), "errors keep the last sync time")
}

// TestRunAll_policyViolationDisables verifies deleting a list linked to a
// system group disables the account.
func TestRunAll_policyViolationDisables(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeMirror)
	f.src.AddSystemGroup("contactGroups/myContacts", "My Contacts")
	f.store.seedGroup(f.account, models.Group{
		LocalID: "g1", ExternalID: "contactGroups/myContacts", Name: "My Contacts", Deleted: true,
	})

	ar := f.single(t)

	assert.Equal(t, OutcomeFailed, ar.Outcome)
	assert.True(t, apperrors.IsPolicy(ar.Err))
	acct := f.store.account(f.account)
	assert.True(t, acct.Disabled)
	assert.Equal(t, models.DisabledPolicyViolation, acct.DisabledReason)
}

// =====================================================
// Group And Photo Tests
// =====================================================

// TestRunAll_mirrorGroups verifies lists and memberships are mirrored.
func TestRunAll_mirrorGroups(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeMirror)
	f.store.seedGroup(f.account, models.Group{LocalID: "g1", Name: "Friends"})
	amy := person("l1", "Amy", "amy@example.com")
	amy.Contact.Groups = []string{"g1"}
	f.store.seed(f.account, amy)
	f.src.PutGroup(models.RemoteGroup{RemoteID: "contactGroups/work", Name: "Work"})
	bob := remotePerson("people/r1", "Bob", "bob@example.com", 500)
	bob.Contact.GroupIDs = []string{"contactGroups/work"}
	f.src.Put(bob)

	ar := f.single(t)
	assert.Equal(t, 2, ar.Groups.Created)

	var friendsID string
	for _, g := range f.src.Groups() {
		if g.Name == "Friends" {
			friendsID = g.RemoteID
		}
	}
	require.NotEmpty(t, friendsID)

	stored, _ := f.store.byName(f.account, "Amy")
	r, ok := f.src.Get(stored.ExternalID)
	require.True(t, ok)
	assert.Equal(t, []string{friendsID}, r.Contact.GroupIDs)

	groups, _ := f.store.ListGroups(context.Background(), f.account)
	require.Len(t, groups, 2)
	var workLocal string
	for _, g := range groups {
		if g.Name == "Work" {
			workLocal = g.LocalID
			assert.Equal(t, "contactGroups/work", g.ExternalID)
		}
	}
	localBob, _ := f.store.byName(f.account, "Bob")
	assert.Equal(t, []string{workLocal}, localBob.Contact.Groups)
}

// TestRunAll_singleTargetGroup verifies new remote contacts join the target
// group, which is created when missing.
func TestRunAll_singleTargetGroup(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.store.mu.Lock()
	f.store.accounts[0].TargetGroup = "Synced"
	f.store.mu.Unlock()
	f.store.seed(f.account, person("l1", "Amy", "amy@example.com"))

	ar := f.single(t)
	assert.Equal(t, 1, ar.Groups.Created)

	gs := f.src.Groups()
	require.Len(t, gs, 1)
	amy, _ := f.store.byName(f.account, "Amy")
	r, _ := f.src.Get(amy.ExternalID)
	assert.Equal(t, []string{gs[0].RemoteID}, r.Contact.GroupIDs)
}

// TestRunAll_photos verifies photos are uploaded for pushed contacts and
// downloaded for pulled ones.
func TestRunAll_photos(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	hash, err := f.photos.Put(context.Background(), []byte("amy-photo"))
	require.NoError(t, err)
	amy := person("l1", "Amy", "amy@example.com")
	amy.Contact.PhotoHash = hash
	f.store.seed(f.account, amy)
	f.src.Put(remotePerson("people/r1", "Bob", "bob@example.com", 500))
	bobRef := f.src.SetPhoto("people/r1", []byte("bob-photo"))

	f.single(t)

	stored, _ := f.store.byName(f.account, "Amy")
	assert.Equal(t, hash, stored.SyncedPhotoHash)
	assert.NotEmpty(t, stored.RemotePhotoETag)

	bob, _ := f.store.byName(f.account, "Bob")
	assert.Equal(t, bobRef.ETag, bob.RemotePhotoETag)
	got, err := f.photos.Get(context.Background(), bob.Contact.PhotoHash)
	require.NoError(t, err)
	assert.Equal(t, []byte("bob-photo"), got)

	// Unchanged photos are not transferred again.
	f.clock.Advance(60_000)
	f.single(t)
	assert.Equal(t, 1, f.src.Calls("upload_photo"))
	assert.Equal(t, 1, f.src.Calls("fetch_photo"))

	remoteAmy, ok := f.src.Get(stored.ExternalID)
	require.True(t, ok)
	assert.Equal(t, stored.RemotePhotoETag, remoteAmy.Photo.ETag)
	data, err := f.src.FetchPhoto(context.Background(), remoteAmy.Photo)
	require.NoError(t, err)
	assert.Equal(t, []byte("amy-photo"), data)
}

// =====================================================
// Run Tests
// =====================================================

// TestRunAll_manualRun verifies disabled named accounts are reported and
// the alert is shown only for manual runs.
func TestRunAll_manualRun(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.store.addAccount(newAccount("acct-0", preferRemote, models.GroupModeSingle))
	require.NoError(t, f.store.SetAccountDisabled(context.Background(), "acct-0", true, models.DisabledByUser))

	f.run(t, RunOptions{})
	assert.Empty(t, f.notifier.alerts)

	res := f.run(t, RunOptions{Manual: true, AccountIDs: []models.UUID{"acct-0"}})
	require.Len(t, res.Accounts, 1)
	assert.Equal(t, OutcomeSkipped, res.Accounts[0].Outcome)
	assert.Equal(t, models.DisabledByUser, res.Accounts[0].DisabledReason)
	require.Len(t, f.notifier.alerts, 1)
	assert.True(t, f.notifier.alerts[0].Manual)
}

// blockingFactory blocks the first account until release is closed.
type blockingFactory struct {
	started chan struct{}
	release chan struct{}
	src     remote.Source
}

func (b *blockingFactory) open(ctx context.Context, account models.SyncAccount) (remote.Source, error) {
	close(b.started)
	<-b.release
	return b.src, nil
}

// TestRunAll_inProgress verifies overlapping runs are rejected.
func TestRunAll_inProgress(t *testing.T) {
	clock := newTestClock()
	store := newMemStore(clock)
	store.addAccount(newAccount("acct-1", preferRemote, models.GroupModeSingle))
	bf := &blockingFactory{
		started: make(chan struct{}),
		release: make(chan struct{}),
		src:     remote.NewMemorySource(clock.Now),
	}
	orch := NewOrchestrator(store, bf.open, testConfig(), WithClock(clock.Now))

	done := make(chan error, 1)
	go func() {
		_, err := orch.RunAll(context.Background(), RunOptions{})
		done <- err
	}()
	<-bf.started

	assert.True(t, orch.IsSynchronizing())
	assert.Equal(t, SyncStatusSyncing, orch.Status())
	_, err := orch.RunAll(context.Background(), RunOptions{})
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncInProgress))

	close(bf.release)
	require.NoError(t, <-done)
	assert.False(t, orch.IsSynchronizing())
	assert.Equal(t, SyncStatusIdle, orch.Status())
	require.NotNil(t, orch.LastRun())
}

// TestRunAll_canceledBetweenAccounts verifies cancellation stops the run
// before the next account.
func TestRunAll_canceledBetweenAccounts(t *testing.T) {
	f := newFixture(t, preferRemote, models.GroupModeSingle)
	f.store.addAccount(newAccount("acct-2", preferRemote, models.GroupModeSingle))
	f.sources["acct-2"] = remote.NewMemorySource(f.clock.Now)

	ctx, cancel := context.WithCancel(context.Background())
	f.orch.cfg.AccountDelay = time.Hour
	f.orch.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := f.orch.RunAll(ctx, RunOptions{})
	require.NoError(t, err)
	assert.True(t, res.Canceled)
	assert.Len(t, res.Accounts, 1)
}
