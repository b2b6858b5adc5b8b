package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/contactsync/internal/models"
)

// TestRun verifies the worker delivers the same plan as a direct call.
func TestRun(t *testing.T) {
	in := mixedInput(modeOf(models.PreferRemote))
	want := run(t, in)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := Await(ctx, Run(ctx, in))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestRun_snapshot verifies the worker does not observe later caller writes.
func TestRun_snapshot(t *testing.T) {
	in := mixedInput(modeOf(models.PreferRemote))
	ch := Run(context.Background(), in)

	in.Local[0].LocalID = "mutated"
	delete(in.Remote, "r-new")

	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, "l-new", res.Plan.RemoteAdds[0].LocalID)
	assert.Equal(t, "r-new", res.Plan.LocalAdds[0].RemoteID)

	_, open := <-ch
	assert.False(t, open, "channel must be closed after the result")
}

// TestRun_canceled verifies a canceled context yields its error.
func TestRun_canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := <-Run(ctx, mixedInput(modeOf(models.PreferRemote)))
	assert.ErrorIs(t, res.Err, context.Canceled)

	_, err := Await(ctx, make(chan Result))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestActionPlan_deletionGate verifies the threshold check and what a
// declined confirmation leaves behind.
func TestActionPlan_deletionGate(t *testing.T) {
	in := Input{
		Local: []models.LocalRecord{
			localRec("l1", "r1", oldSec, "A"),
			localRec("l2", "r2", oldSec, "B"),
			localRec("l3", "r3", oldSec, "C"),
			localRec("l4", "", newSec, "D"),
			localRec("l5", "r5", newSec, "E"),
		},
		Remote:   remoteMap(remoteRec("r5", oldMs, "E"), remoteRec("r6", newMs, "F")),
		LastSync: syncMs,
		Mode:     modeOf(models.PreferRemote),
	}
	plan := run(t, in)

	local, remote := plan.DeleteCounts()
	assert.Equal(t, 3, local)
	assert.Equal(t, 0, remote)
	assert.True(t, plan.NeedsConfirmation(3))
	assert.False(t, plan.NeedsConfirmation(4))
	assert.False(t, plan.NeedsConfirmation(0))

	plan.Discard()
	assert.True(t, plan.Empty())
	assert.Equal(t, 0, plan.Summary.Remote.Added)
	assert.Equal(t, 0, plan.Summary.Remote.Updated)
	assert.Equal(t, 0, plan.Summary.Remote.Removed)
	assert.Equal(t, 0, plan.Summary.Local.Removed)
	assert.Equal(t, 1, plan.Summary.Local.Added, "counters outside the declined set are kept")
}

// TestSummary_Fields verifies the logging projection.
func TestSummary_Fields(t *testing.T) {
	s := Summary{Local: Counts{Added: 2}, Remote: Counts{Ignored: 1}, Conflicted: 3}
	f := s.Fields()
	assert.Equal(t, 2, f["local_added"])
	assert.Equal(t, 1, f["remote_ignored"])
	assert.Equal(t, 3, f["conflicted"])
	assert.Contains(t, s.String(), "conflicted 3")
}
