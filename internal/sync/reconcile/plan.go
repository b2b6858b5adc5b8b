package reconcile

import (
	"fmt"

	"github.com/kimhsiao/contactsync/internal/convert"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/sync/conflict"
)

// Counts tallies outcomes on one side.
type Counts struct {
	Added   int `json:"added" yaml:"added"`
	Updated int `json:"updated" yaml:"updated"`
	Removed int `json:"removed" yaml:"removed"`
	Ignored int `json:"ignored" yaml:"ignored"`
}

// Summary is the outcome tally of a plan.
type Summary struct {
	Local      Counts `json:"local" yaml:"local"`
	Remote     Counts `json:"remote" yaml:"remote"`
	Conflicted int    `json:"conflicted" yaml:"conflicted"`
	NotChanged int    `json:"not_changed" yaml:"not_changed"`
	// Merged counts first-sync merges.
	Merged int `json:"merged" yaml:"merged"`
}

// Fields flattens the summary for structured logging.
func (s Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"local_added":    s.Local.Added,
		"local_updated":  s.Local.Updated,
		"local_removed":  s.Local.Removed,
		"local_ignored":  s.Local.Ignored,
		"remote_added":   s.Remote.Added,
		"remote_updated": s.Remote.Updated,
		"remote_removed": s.Remote.Removed,
		"remote_ignored": s.Remote.Ignored,
		"conflicted":     s.Conflicted,
		"not_changed":    s.NotChanged,
		"merged":         s.Merged,
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("local +%d ~%d -%d !%d, remote +%d ~%d -%d !%d, conflicted %d, unchanged %d, merged %d",
		s.Local.Added, s.Local.Updated, s.Local.Removed, s.Local.Ignored,
		s.Remote.Added, s.Remote.Updated, s.Remote.Removed, s.Remote.Ignored,
		s.Conflicted, s.NotChanged, s.Merged)
}

// Pair is a matched local and remote record.
type Pair struct {
	Local  models.LocalRecord
	Remote models.RemoteRecord
}

// Merge is a first-sync match of a never-synced local record with a remote
// record. Local carries the stamped external ID and must always be written
// back; its content only changed when LocalChanged is set.
type Merge struct {
	Local        models.LocalRecord
	Remote       models.RemoteRecord
	Score        float64
	LocalChanged bool
	PushRemote   bool
	// Skipped lists fields whose remote value could not be decoded.
	Skipped []convert.Field
}

// Ignored is a record the direction flags or a data problem left alone.
// RemoteID is set only when a remote record of the snapshot was left alone.
type Ignored struct {
	LocalID  string
	RemoteID string
	// Side is the side whose change was not propagated.
	Side   conflict.Side
	Reason string
}

// Ignore reasons.
const (
	ReasonReadOnly          = "read_only"
	ReasonWriteOnly         = "write_only"
	ReasonDuplicateExternal = "duplicate_external_id"
)

// ActionPlan is the classification of one reconciliation.
type ActionPlan struct {
	RemoteAdds    []models.LocalRecord
	RemoteUpdates []Pair
	RemoteDeletes []models.RemoteRecord
	LocalAdds     []models.RemoteRecord
	LocalUpdates  []Pair
	LocalDeletes  []models.LocalRecord

	Merged    []Merge
	Unchanged []Pair
	Ignored   []Ignored

	// Conflicts holds one entry per policy-resolved conflict.
	Conflicts []models.ConflictLog

	Summary Summary
}

// DeleteCounts returns the pending local and remote deletions.
func (p *ActionPlan) DeleteCounts() (local, remote int) {
	return len(p.LocalDeletes), len(p.RemoteDeletes)
}

// NeedsConfirmation reports whether the deletions reach threshold on
// either side. A threshold of zero disables the check.
func (p *ActionPlan) NeedsConfirmation(threshold int) bool {
	if threshold <= 0 {
		return false
	}
	local, remote := p.DeleteCounts()
	return local >= threshold || remote >= threshold
}

// Discard drops every pending action after a declined confirmation and
// zeroes the remote added, updated and removed counters and the local
// removed counter.
func (p *ActionPlan) Discard() {
	p.RemoteAdds = nil
	p.RemoteUpdates = nil
	p.RemoteDeletes = nil
	p.LocalAdds = nil
	p.LocalUpdates = nil
	p.LocalDeletes = nil
	p.Merged = nil
	p.Conflicts = nil
	p.Summary.Remote.Added = 0
	p.Summary.Remote.Updated = 0
	p.Summary.Remote.Removed = 0
	p.Summary.Local.Removed = 0
}

// Empty reports whether the plan has nothing to apply.
func (p *ActionPlan) Empty() bool {
	return len(p.RemoteAdds)+len(p.RemoteUpdates)+len(p.RemoteDeletes)+
		len(p.LocalAdds)+len(p.LocalUpdates)+len(p.LocalDeletes)+len(p.Merged) == 0
}
