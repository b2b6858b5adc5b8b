package reconcile

import (
	"github.com/kimhsiao/contactsync/internal/convert"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
)

// firstSyncMerge pairs never-synced local records with unclaimed remote
// records that look like the same contact. It claims each remote record at
// most once and returns the local IDs it merged. Remote records referenced
// by a linked local record are never candidates.
func (e *engine) firstSyncMerge() map[string]bool {
	merged := make(map[string]bool)
	mode := e.in.Mode
	preferRemote := mode.Policy != models.PreferLocal

	linked := make(map[string]bool)
	for i := range e.in.Local {
		if e.in.Local[i].Synced() {
			linked[ident.NormalizeRemoteID(e.in.Local[i].ExternalID)] = true
		}
	}

	for i := range e.in.Local {
		local := e.in.Local[i]
		if local.Synced() || len(e.remote) == 0 {
			continue
		}

		localKeys := convert.LocalMatchKeys(&local)
		bestKey, bestScore := "", 0.0
		for _, key := range sortedKeys(e.remote) {
			if linked[key] {
				continue
			}
			remote := e.remote[key]
			// Match keys have a fixed length, so Similarity cannot fail here.
			score, _ := convert.Similarity(localKeys, convert.RemoteMatchKeys(&remote))
			if score >= MergeThreshold && score > bestScore {
				bestKey, bestScore = key, score
			}
		}
		if bestKey == "" {
			continue
		}

		remote := e.remote[bestKey]
		delete(e.remote, bestKey)
		merged[local.LocalID] = true

		lc := local.Contact.Clone()
		rc := remote.Contact.Clone()
		res := convert.Merge(&lc, &rc, preferRemote)

		m := Merge{
			Local:        local.Clone(),
			Remote:       remote.Clone(),
			Score:        bestScore,
			LocalChanged: res.LocalChanged && !mode.WriteOnly,
			PushRemote:   res.RemoteChanged && !mode.ReadOnly,
			Skipped:      res.Skipped,
		}
		m.Local.ExternalID = remote.RemoteID
		if m.LocalChanged {
			m.Local.Contact = lc
			m.Local.DisplayName = convert.ComposeDisplayName(&lc)
		}
		if m.PushRemote {
			m.Remote.Contact = rc
		}

		e.plan.Merged = append(e.plan.Merged, m)
		e.plan.Summary.Merged++
	}
	return merged
}
