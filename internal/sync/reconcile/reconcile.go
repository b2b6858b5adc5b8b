// Package reconcile classifies local and remote contact snapshots into an
// action plan.
//
// Reconcile is pure: it performs no I/O and does not log. Run executes it
// on its own goroutine over copies of the snapshots.
package reconcile

import (
	"sort"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/sync/conflict"
)

// MergeThreshold is the minimum similarity at which the first sync treats
// a local and a remote record as the same contact.
const MergeThreshold = 0.5

// Input is the snapshot handed to the engine.
type Input struct {
	Account models.UUID
	Local   []models.LocalRecord
	// Remote is keyed by remote ID; keys are re-normalized by the engine.
	Remote   map[string]models.RemoteRecord
	LastSync models.Timestamp
	Mode     models.Mode
}

// IndexRemote keys fetched remote records by normalized remote ID.
func IndexRemote(records []models.RemoteRecord) (map[string]models.RemoteRecord, error) {
	out := make(map[string]models.RemoteRecord, len(records))
	for _, r := range records {
		key := ident.NormalizeRemoteID(r.RemoteID)
		if _, dup := out[key]; dup {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "duplicate remote ID %s", r.RemoteID)
		}
		out[key] = r
	}
	return out, nil
}

type engine struct {
	in       Input
	resolver *conflict.Resolver
	// remote holds the unclaimed remote records by normalized ID.
	remote map[string]models.RemoteRecord
	plan   *ActionPlan
}

// Reconcile computes the action plan for one account.
func Reconcile(in Input) (*ActionPlan, error) {
	if err := in.Mode.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid sync mode", err)
	}
	if in.LastSync < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "invalid last sync time %d", in.LastSync)
	}

	records := make([]models.RemoteRecord, 0, len(in.Remote))
	for _, r := range in.Remote {
		if err := r.Validate(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid remote snapshot", err)
		}
		records = append(records, r)
	}
	remote, err := IndexRemote(records)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(in.Local))
	for i := range in.Local {
		id := in.Local[i].LocalID
		if id == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "local record %d has no local ID", i)
		}
		if seen[id] {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "duplicate local ID %s", id)
		}
		seen[id] = true
	}

	e := &engine{
		in:       in,
		resolver: conflict.NewResolver(in.Mode),
		remote:   remote,
		plan:     &ActionPlan{},
	}

	merged := make(map[string]bool)
	if in.LastSync.IsZero() {
		merged = e.firstSyncMerge()
	}
	e.matchLocal(merged)
	e.unclaimedRemote()
	return e.plan, nil
}

// matchLocal is the first pass over local records.
func (e *engine) matchLocal(merged map[string]bool) {
	mode := e.in.Mode
	plan := e.plan
	claimed := make(map[string]string)

	for i := range e.in.Local {
		local := e.in.Local[i]
		if merged[local.LocalID] {
			continue
		}

		if !local.Synced() {
			if mode.ReadOnly {
				plan.Summary.Local.Ignored++
				plan.Ignored = append(plan.Ignored, Ignored{LocalID: local.LocalID, Side: conflict.SideLocal, Reason: ReasonReadOnly})
				continue
			}
			plan.RemoteAdds = append(plan.RemoteAdds, local)
			plan.Summary.Remote.Added++
			continue
		}

		key := ident.NormalizeRemoteID(local.ExternalID)
		if owner, dup := claimed[key]; dup && owner != local.LocalID {
			plan.Summary.Local.Ignored++
			plan.Ignored = append(plan.Ignored, Ignored{LocalID: local.LocalID, Side: conflict.SideLocal, Reason: ReasonDuplicateExternal})
			continue
		}

		remote, ok := e.remote[key]
		if !ok {
			if mode.WriteOnly {
				plan.Summary.Remote.Ignored++
				plan.Ignored = append(plan.Ignored, Ignored{LocalID: local.LocalID, Side: conflict.SideRemote, Reason: ReasonWriteOnly})
				continue
			}
			plan.LocalDeletes = append(plan.LocalDeletes, local)
			plan.Summary.Local.Removed++
			continue
		}

		delete(e.remote, key)
		claimed[key] = local.LocalID
		e.classifyPair(local, remote)
	}
}

func (e *engine) classifyPair(local models.LocalRecord, remote models.RemoteRecord) {
	plan := e.plan
	d := e.resolver.Decide(local.LastModified, remote.LastModified, e.in.LastSync)
	pair := Pair{Local: local, Remote: remote}

	switch d.Action {
	case conflict.ActionPull:
		plan.LocalUpdates = append(plan.LocalUpdates, pair)
		plan.Summary.Local.Updated++
	case conflict.ActionPush:
		plan.RemoteUpdates = append(plan.RemoteUpdates, pair)
		plan.Summary.Remote.Updated++
	default:
		if d.Unchanged {
			plan.Unchanged = append(plan.Unchanged, pair)
			plan.Summary.NotChanged++
		}
	}

	switch d.Ignored {
	case conflict.SideLocal:
		plan.Summary.Local.Ignored++
	case conflict.SideRemote:
		plan.Summary.Remote.Ignored++
	}
	if d.Ignored != conflict.SideNone && d.Action == conflict.ActionNone {
		reason := ReasonReadOnly
		if d.Ignored == conflict.SideRemote {
			reason = ReasonWriteOnly
		}
		plan.Ignored = append(plan.Ignored, Ignored{
			LocalID: local.LocalID, RemoteID: remote.RemoteID, Side: d.Ignored, Reason: reason,
		})
	}

	if d.Conflict {
		plan.Summary.Conflicted++
		plan.Conflicts = append(plan.Conflicts, conflict.ConflictLog(e.in.Account, &local, &remote, d))
	}
}

// unclaimedRemote is the second pass over remote records no local record
// claimed. It visits them in remote ID order.
func (e *engine) unclaimedRemote() {
	mode := e.in.Mode
	plan := e.plan
	lastSync := e.in.LastSync

	for _, key := range sortedKeys(e.remote) {
		remote := e.remote[key]

		switch {
		case mode.WriteOnly && lastSync.IsZero():
			// The first write-only sync neither pulls nor deletes.
			plan.Summary.Remote.Ignored++
			plan.Ignored = append(plan.Ignored, Ignored{RemoteID: remote.RemoteID, Side: conflict.SideRemote, Reason: ReasonWriteOnly})
		case !mode.WriteOnly && (lastSync.IsZero() || remote.LastModified.After(lastSync)):
			plan.LocalAdds = append(plan.LocalAdds, remote)
			plan.Summary.Local.Added++
		case mode.ReadOnly:
			plan.Summary.Local.Ignored++
			plan.Ignored = append(plan.Ignored, Ignored{RemoteID: remote.RemoteID, Side: conflict.SideLocal, Reason: ReasonReadOnly})
		default:
			plan.RemoteDeletes = append(plan.RemoteDeletes, remote)
			plan.Summary.Local.Removed++
		}
	}
}

func sortedKeys(m map[string]models.RemoteRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
