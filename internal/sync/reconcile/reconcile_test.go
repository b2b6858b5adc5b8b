package reconcile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/sync/conflict"
)

// Modification times around lastSync = 40000 ms.
const (
	oldSec  = 10  // 10000 ms
	newSec  = 100 // 100000 ms
	oldMs   = 10000
	newMs   = 50000
	syncMs  = 40000
	account = models.UUID("acc-1")
)

func localRec(id, ext string, modSec int64, name string) models.LocalRecord {
	r := models.LocalRecord{
		LocalID:      id,
		ExternalID:   ext,
		LastModified: models.FromSeconds(modSec),
		DisplayName:  name,
	}
	r.Contact.DisplayName = name
	return r
}

func remoteRec(id string, modMs int64, name string) models.RemoteRecord {
	return models.RemoteRecord{
		RemoteID:     id,
		LastModified: models.FromMillis(modMs),
		DisplayName:  name,
		Contact:      models.RemoteContact{Name: models.PersonName{Full: name}},
	}
}

func remoteMap(rs ...models.RemoteRecord) map[string]models.RemoteRecord {
	m := make(map[string]models.RemoteRecord, len(rs))
	for _, r := range rs {
		m[r.RemoteID] = r
	}
	return m
}

func modeOf(policy models.ConflictPolicy) models.Mode {
	return models.Mode{Policy: policy}
}

func run(t *testing.T, in Input) *ActionPlan {
	t.Helper()
	plan, err := Reconcile(in)
	require.NoError(t, err)
	return plan
}

func localIDs(rs []models.LocalRecord) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.LocalID)
	}
	return out
}

func remoteIDs(rs []models.RemoteRecord) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.RemoteID)
	}
	return out
}

// mixedInput covers every pass-one and pass-two outcome.
func mixedInput(m models.Mode) Input {
	return Input{
		Account: account,
		Local: []models.LocalRecord{
			localRec("l-new", "", newSec, "New"),
			localRec("l-conf", "r-conf", newSec, "Conflict"),
			localRec("l-pull", "r-pull", oldSec, "Pull"),
			localRec("l-push", "r-push", newSec, "Push"),
			localRec("l-same", "r-same", oldSec, "Same"),
			localRec("l-gone", "r-missing", oldSec, "Gone"),
		},
		Remote: remoteMap(
			remoteRec("r-conf", newMs, "Conflict"),
			remoteRec("r-pull", newMs, "Pull"),
			remoteRec("r-push", oldMs, "Push"),
			remoteRec("r-same", oldMs, "Same"),
			remoteRec("r-new", newMs, "Remote New"),
			remoteRec("r-old", oldMs, "Remote Old"),
		),
		LastSync: syncMs,
		Mode:     m,
	}
}

// =====================================================
// Scenario Tests
// =====================================================

// TestReconcile_newLocalFirstSync verifies a new local contact is pushed.
func TestReconcile_newLocalFirstSync(t *testing.T) {
	plan := run(t, Input{
		Local:  []models.LocalRecord{localRec("l1", "", 5, "Amy")},
		Remote: map[string]models.RemoteRecord{},
		Mode:   modeOf(models.PreferRemote),
	})

	assert.Equal(t, []string{"l1"}, localIDs(plan.RemoteAdds))
	assert.Equal(t, Summary{Remote: Counts{Added: 1}}, plan.Summary)
	assert.Empty(t, plan.RemoteUpdates)
	assert.Empty(t, plan.RemoteDeletes)
	assert.Empty(t, plan.LocalAdds)
	assert.Empty(t, plan.LocalUpdates)
	assert.Empty(t, plan.LocalDeletes)
	assert.Empty(t, plan.Merged)
}

// TestReconcile_conflictPreferRemote verifies unit-normalized conflict detection.
func TestReconcile_conflictPreferRemote(t *testing.T) {
	plan := run(t, Input{
		Account:  account,
		Local:    []models.LocalRecord{localRec("l1", "r1", 100, "Amy")},
		Remote:   remoteMap(remoteRec("r1", 50000, "Amy")),
		LastSync: 40000,
		Mode:     modeOf(models.PreferRemote),
	})

	require.Len(t, plan.LocalUpdates, 1)
	assert.Equal(t, "l1", plan.LocalUpdates[0].Local.LocalID)
	assert.Equal(t, "r1", plan.LocalUpdates[0].Remote.RemoteID)
	assert.Equal(t, Summary{Local: Counts{Updated: 1}, Conflicted: 1}, plan.Summary)

	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, conflict.ResolutionRemoteWins, plan.Conflicts[0].Resolution)
	assert.Equal(t, account, plan.Conflicts[0].AccountID)
	assert.Equal(t, models.FromSeconds(100), plan.Conflicts[0].LocalTimestamp)
}

// TestReconcile_conflictPreferLocal verifies the other policy pushes.
func TestReconcile_conflictPreferLocal(t *testing.T) {
	plan := run(t, Input{
		Local:    []models.LocalRecord{localRec("l1", "r1", 100, "Amy")},
		Remote:   remoteMap(remoteRec("r1", 50000, "Amy")),
		LastSync: 40000,
		Mode:     modeOf(models.PreferLocal),
	})

	require.Len(t, plan.RemoteUpdates, 1)
	assert.Equal(t, Summary{Remote: Counts{Updated: 1}, Conflicted: 1}, plan.Summary)
	assert.Equal(t, conflict.ResolutionLocalWins, plan.Conflicts[0].Resolution)
}

// TestReconcile_deletedLocally verifies an old unclaimed remote record is
// deleted remotely unless read-only.
func TestReconcile_deletedLocally(t *testing.T) {
	in := Input{
		Remote:   remoteMap(remoteRec("r1", 10000, "Old")),
		LastSync: 40000,
		Mode:     modeOf(models.PreferRemote),
	}

	plan := run(t, in)
	assert.Equal(t, []string{"r1"}, remoteIDs(plan.RemoteDeletes))
	assert.Equal(t, 1, plan.Summary.Local.Removed)

	in.Mode.ReadOnly = true
	plan = run(t, in)
	assert.Empty(t, plan.RemoteDeletes)
	assert.Equal(t, 1, plan.Summary.Local.Ignored)
	assert.Equal(t, 0, plan.Summary.Local.Removed)
}

// TestReconcile_deletedRemotely verifies a linked local record whose remote
// record vanished is deleted locally unless write-only.
func TestReconcile_deletedRemotely(t *testing.T) {
	in := Input{
		Local:    []models.LocalRecord{localRec("l1", "r-gone", oldSec, "Gone")},
		Remote:   map[string]models.RemoteRecord{},
		LastSync: syncMs,
		Mode:     modeOf(models.PreferRemote),
	}

	plan := run(t, in)
	assert.Equal(t, []string{"l1"}, localIDs(plan.LocalDeletes))
	assert.Equal(t, 1, plan.Summary.Local.Removed)

	in.Mode.WriteOnly = true
	plan = run(t, in)
	assert.Empty(t, plan.LocalDeletes)
	assert.Equal(t, 1, plan.Summary.Remote.Ignored)
}

// TestReconcile_newRemote verifies a remote record newer than the last
// sync is added locally.
func TestReconcile_newRemote(t *testing.T) {
	plan := run(t, Input{
		Remote:   remoteMap(remoteRec("r1", newMs, "New")),
		LastSync: syncMs,
		Mode:     modeOf(models.PreferRemote),
	})

	assert.Equal(t, []string{"r1"}, remoteIDs(plan.LocalAdds))
	assert.Equal(t, Summary{Local: Counts{Added: 1}}, plan.Summary)
}

// TestReconcile_mixed verifies every outcome of both passes at once.
func TestReconcile_mixed(t *testing.T) {
	plan := run(t, mixedInput(modeOf(models.PreferRemote)))

	assert.Equal(t, []string{"l-new"}, localIDs(plan.RemoteAdds))
	require.Len(t, plan.RemoteUpdates, 1)
	assert.Equal(t, "l-push", plan.RemoteUpdates[0].Local.LocalID)
	require.Len(t, plan.LocalUpdates, 2)
	assert.Equal(t, "l-conf", plan.LocalUpdates[0].Local.LocalID)
	assert.Equal(t, "l-pull", plan.LocalUpdates[1].Local.LocalID)
	require.Len(t, plan.Unchanged, 1)
	assert.Equal(t, "l-same", plan.Unchanged[0].Local.LocalID)
	assert.Equal(t, []string{"l-gone"}, localIDs(plan.LocalDeletes))
	assert.Equal(t, []string{"r-new"}, remoteIDs(plan.LocalAdds))
	assert.Equal(t, []string{"r-old"}, remoteIDs(plan.RemoteDeletes))

	assert.Equal(t, Summary{
		Local:      Counts{Added: 1, Updated: 2, Removed: 2},
		Remote:     Counts{Added: 1, Updated: 1},
		Conflicted: 1,
		NotChanged: 1,
	}, plan.Summary)
}

// TestReconcile_forcedResolutions verifies direction flags override the
// policy without counting a conflict.
func TestReconcile_forcedResolutions(t *testing.T) {
	in := Input{
		Local:    []models.LocalRecord{localRec("l1", "r1", newSec, "Amy")},
		Remote:   remoteMap(remoteRec("r1", newMs, "Amy")),
		LastSync: syncMs,
	}

	in.Mode = models.Mode{ReadOnly: true, Policy: models.PreferLocal}
	plan := run(t, in)
	assert.Len(t, plan.LocalUpdates, 1)
	assert.Equal(t, Summary{Local: Counts{Updated: 1, Ignored: 1}}, plan.Summary)
	assert.Empty(t, plan.Conflicts)

	in.Mode = models.Mode{WriteOnly: true, Policy: models.PreferRemote}
	plan = run(t, in)
	assert.Len(t, plan.RemoteUpdates, 1)
	assert.Equal(t, Summary{Remote: Counts{Updated: 1, Ignored: 1}}, plan.Summary)
	assert.Empty(t, plan.Conflicts)
}

// TestReconcile_readOnlyNewLocal verifies new local records stay local.
func TestReconcile_readOnlyNewLocal(t *testing.T) {
	plan := run(t, Input{
		Local:    []models.LocalRecord{localRec("l1", "", newSec, "Amy")},
		LastSync: syncMs,
		Mode:     models.Mode{ReadOnly: true, Policy: models.PreferRemote},
	})

	assert.Empty(t, plan.RemoteAdds)
	assert.Equal(t, Summary{Local: Counts{Ignored: 1}}, plan.Summary)
	require.Len(t, plan.Ignored, 1)
	assert.Equal(t, ReasonReadOnly, plan.Ignored[0].Reason)
}

// TestReconcile_writeOnlyUnclaimed verifies write-only never materializes
// remote records locally: the first sync ignores them and later syncs
// delete them remotely.
func TestReconcile_writeOnlyUnclaimed(t *testing.T) {
	in := Input{
		Remote: remoteMap(remoteRec("r1", newMs, "Remote")),
		Mode:   models.Mode{WriteOnly: true, Policy: models.PreferRemote},
	}

	plan := run(t, in)
	assert.Empty(t, plan.LocalAdds)
	assert.Empty(t, plan.RemoteDeletes)
	assert.Equal(t, Summary{Remote: Counts{Ignored: 1}}, plan.Summary)

	in.LastSync = syncMs
	plan = run(t, in)
	assert.Empty(t, plan.LocalAdds)
	assert.Equal(t, []string{"r1"}, remoteIDs(plan.RemoteDeletes))
	assert.Equal(t, 1, plan.Summary.Local.Removed)
}

// TestReconcile_firstSyncNeverDeletes verifies unclaimed remote records on
// the first sync are added locally regardless of their age.
func TestReconcile_firstSyncNeverDeletes(t *testing.T) {
	plan := run(t, Input{
		Remote: remoteMap(remoteRec("r1", 0, "Ancient"), remoteRec("r2", oldMs, "Old")),
		Mode:   modeOf(models.PreferRemote),
	})

	assert.Equal(t, []string{"r1", "r2"}, remoteIDs(plan.LocalAdds))
	assert.Empty(t, plan.RemoteDeletes)
}

// TestReconcile_normalizedIDs verifies case, scheme and trailing slash
// differences still match.
func TestReconcile_normalizedIDs(t *testing.T) {
	plan := run(t, Input{
		Local:    []models.LocalRecord{localRec("l1", "HTTPS://Example.com/c/1/", oldSec, "Amy")},
		Remote:   remoteMap(remoteRec("http://example.com/c/1", oldMs, "Amy")),
		LastSync: syncMs,
		Mode:     modeOf(models.PreferRemote),
	})

	assert.Equal(t, 1, plan.Summary.NotChanged)
	assert.Empty(t, plan.LocalDeletes)
	assert.Empty(t, plan.RemoteDeletes)
}

// TestReconcile_duplicateExternalID verifies a second local record linked to
// an already claimed remote record is ignored rather than deleted.
func TestReconcile_duplicateExternalID(t *testing.T) {
	plan := run(t, Input{
		Local: []models.LocalRecord{
			localRec("l1", "r1", oldSec, "Amy"),
			localRec("l2", "R1", oldSec, "Amy copy"),
		},
		Remote:   remoteMap(remoteRec("r1", oldMs, "Amy")),
		LastSync: syncMs,
		Mode:     modeOf(models.PreferRemote),
	})

	assert.Empty(t, plan.LocalDeletes)
	assert.Equal(t, 1, plan.Summary.NotChanged)
	assert.Equal(t, 1, plan.Summary.Local.Ignored)
	require.Len(t, plan.Ignored, 1)
	assert.Equal(t, Ignored{LocalID: "l2", Side: conflict.SideLocal, Reason: ReasonDuplicateExternal}, plan.Ignored[0])
}

// TestReconcile_invalidInput verifies malformed snapshots are rejected.
func TestReconcile_invalidInput(t *testing.T) {
	valid := modeOf(models.PreferRemote)
	tests := []struct {
		name string
		in   Input
	}{
		{"read-only and write-only", Input{Mode: models.Mode{ReadOnly: true, WriteOnly: true, Policy: models.PreferRemote}}},
		{"unknown policy", Input{Mode: models.Mode{Policy: "newest"}}},
		{"negative last sync", Input{Mode: valid, LastSync: -5}},
		{"empty local ID", Input{Mode: valid, Local: []models.LocalRecord{localRec("", "", 1, "x")}}},
		{"duplicate local ID", Input{Mode: valid, Local: []models.LocalRecord{localRec("l1", "", 1, "a"), localRec("l1", "", 1, "b")}}},
		{"unparseable remote time", Input{Mode: valid, Remote: remoteMap(remoteRec("r1", -1, "x"))}},
		{"empty remote ID", Input{Mode: valid, Remote: map[string]models.RemoteRecord{"k": {LastModified: 1}}}},
		{"duplicate normalized remote ID", Input{Mode: valid, Remote: remoteMap(remoteRec("http://x/1", 1, "a"), remoteRec("https://X/1/", 1, "b"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reconcile(tt.in)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalid), "got %v", err)
		})
	}
}

// TestIndexRemote verifies fetched records are keyed by normalized ID.
func TestIndexRemote(t *testing.T) {
	idx, err := IndexRemote([]models.RemoteRecord{remoteRec("HTTPS://X/1", 1, "a"), remoteRec("http://x/2", 1, "b")})
	require.NoError(t, err)
	assert.Contains(t, idx, "http://x/1")
	assert.Equal(t, "HTTPS://X/1", idx["http://x/1"].RemoteID)

	_, err = IndexRemote([]models.RemoteRecord{remoteRec("http://x/1", 1, "a"), remoteRec("http://X/1/", 1, "b")})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

// =====================================================
// Property Tests
// =====================================================

// randomInput builds a reproducible snapshot with every kind of record.
func randomInput(rng *rand.Rand, m models.Mode, firstSync bool) Input {
	names := []string{"Amy", "Bob", "Cy", "Di", "Ed"}
	in := Input{Account: account, Remote: map[string]models.RemoteRecord{}, Mode: m}
	if !firstSync {
		in.LastSync = syncMs
	}

	nRemote := rng.Intn(12)
	var ids []string
	for i := 0; i < nRemote; i++ {
		id := "people/c" + string(rune('a'+i))
		ids = append(ids, id)
		r := remoteRec(id, []int64{oldMs, newMs}[rng.Intn(2)], names[rng.Intn(len(names))])
		r.Contact.Emails = []models.Element{{Value: r.DisplayName + "@example.com"}}
		in.Remote[id] = r
	}

	nLocal := rng.Intn(12)
	for i := 0; i < nLocal; i++ {
		ext := ""
		if !firstSync && rng.Intn(4) > 0 {
			if len(ids) > 0 && rng.Intn(5) > 0 {
				ext = ids[rng.Intn(len(ids))]
			} else {
				ext = "people/missing" + string(rune('a'+i))
			}
		}
		l := localRec("l"+string(rune('a'+i)), ext, []int64{oldSec, newSec}[rng.Intn(2)], names[rng.Intn(len(names))])
		if rng.Intn(2) == 0 {
			l.Contact.Emails[0] = l.DisplayName + "@example.com"
		}
		if rng.Intn(3) == 0 {
			l.Contact.Phones[models.PhoneMobile] = "555"
		}
		in.Local = append(in.Local, l)
	}
	return in
}

var allModes = []models.Mode{
	{Policy: models.PreferRemote},
	{Policy: models.PreferLocal},
	{ReadOnly: true, Policy: models.PreferRemote},
	{WriteOnly: true, Policy: models.PreferLocal},
}

// TestProperty_idempotence verifies identical inputs yield identical plans.
func TestProperty_idempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		in := randomInput(rng, allModes[i%len(allModes)], i%3 == 0)
		first := run(t, in)
		second := run(t, in)
		require.Equal(t, first, second, "iteration %d", i)
	}
}

// occurrences counts how many outcome lists mention each record.
func occurrences(p *ActionPlan) (locals, remotes map[string]int) {
	locals, remotes = map[string]int{}, map[string]int{}
	addL := func(id string) { locals[id]++ }
	addR := func(id string) { remotes[ident.NormalizeRemoteID(id)]++ }

	for _, r := range p.RemoteAdds {
		addL(r.LocalID)
	}
	for _, r := range p.LocalDeletes {
		addL(r.LocalID)
	}
	for _, r := range p.RemoteDeletes {
		addR(r.RemoteID)
	}
	for _, r := range p.LocalAdds {
		addR(r.RemoteID)
	}
	for _, set := range [][]Pair{p.RemoteUpdates, p.LocalUpdates, p.Unchanged} {
		for _, pair := range set {
			addL(pair.Local.LocalID)
			addR(pair.Remote.RemoteID)
		}
	}
	for _, m := range p.Merged {
		addL(m.Local.LocalID)
		addR(m.Remote.RemoteID)
	}
	for _, ig := range p.Ignored {
		if ig.LocalID != "" {
			addL(ig.LocalID)
		}
		if ig.RemoteID != "" {
			addR(ig.RemoteID)
		}
	}
	return locals, remotes
}

// TestProperty_partitionCompleteness verifies each record lands in exactly
// one outcome.
func TestProperty_partitionCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 300; i++ {
		in := randomInput(rng, allModes[i%len(allModes)], i%3 == 0)
		plan := run(t, in)
		locals, remotes := occurrences(plan)

		require.Len(t, locals, len(in.Local), "iteration %d", i)
		for _, l := range in.Local {
			require.Equal(t, 1, locals[l.LocalID], "iteration %d local %s", i, l.LocalID)
		}
		require.Len(t, remotes, len(in.Remote), "iteration %d", i)
		for id := range in.Remote {
			require.Equal(t, 1, remotes[ident.NormalizeRemoteID(id)], "iteration %d remote %s", i, id)
		}
	}
}

// TestProperty_modeExclusivity verifies direction flags suppress one side.
func TestProperty_modeExclusivity(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 300; i++ {
		first := i%2 == 0

		plan := run(t, randomInput(rng, models.Mode{ReadOnly: true, Policy: models.PreferLocal}, first))
		require.Empty(t, plan.RemoteAdds)
		require.Empty(t, plan.RemoteUpdates)
		require.Empty(t, plan.RemoteDeletes)
		for _, m := range plan.Merged {
			require.False(t, m.PushRemote)
		}

		plan = run(t, randomInput(rng, models.Mode{WriteOnly: true, Policy: models.PreferRemote}, first))
		require.Empty(t, plan.LocalAdds)
		require.Empty(t, plan.LocalUpdates)
		require.Empty(t, plan.LocalDeletes)
		for _, m := range plan.Merged {
			require.False(t, m.LocalChanged)
		}
	}
}

// TestProperty_tieBreakDeterminism verifies a conflict's outcome depends on
// the policy only, not on record order.
func TestProperty_tieBreakDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, policy := range []models.ConflictPolicy{models.PreferRemote, models.PreferLocal} {
		in := mixedInput(modeOf(policy))
		for i := 0; i < 50; i++ {
			rng.Shuffle(len(in.Local), func(a, b int) { in.Local[a], in.Local[b] = in.Local[b], in.Local[a] })
			plan := run(t, in)

			require.Equal(t, 1, plan.Summary.Conflicted)
			target := plan.LocalUpdates
			if policy == models.PreferLocal {
				target = plan.RemoteUpdates
			}
			found := false
			for _, p := range target {
				if p.Local.LocalID == "l-conf" {
					found = true
				}
			}
			require.True(t, found, "policy %s", policy)
		}
	}
}
