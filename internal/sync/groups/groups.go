// Package groups reconciles local mailing lists with remote contact groups.
//
// Groups carry no modification times. Lists are matched by linked ID, and by
// case-insensitive name on the first sync only; name differences resolve by
// conflict policy and direction flags.
package groups

import (
	"sort"
	"strings"

	"github.com/kimhsiao/contactsync/internal/convert"
	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
)

// Input is the snapshot of both sides' groups.
type Input struct {
	Local     []models.Group
	Remote    []models.RemoteGroup
	FirstSync bool
	Mode      models.Mode
}

// Link pairs a local list and a remote group. Either side may be zero in
// delete actions.
type Link struct {
	Local  models.Group
	Remote models.RemoteGroup
}

// Plan lists the group actions of one cycle.
type Plan struct {
	// Linked pairs need no change.
	Linked []Link
	// NewLinks are first-sync name matches whose local ExternalID must be
	// stamped.
	NewLinks     []Link
	RenameLocal  []Link
	RenameRemote []Link

	RemoteCreates []models.Group
	LocalCreates  []models.RemoteGroup
	// RemoteDeletes carry the local tombstone, if any, to purge afterwards.
	RemoteDeletes []Link
	LocalDeletes  []models.Group
	// Restore revives tombstones the remote side keeps authoritative.
	Restore []Link
	Purge   []models.Group

	System  []models.RemoteGroup
	Ignored int
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Reconcile plans the group actions. Deleting a local list linked to a
// system group is a POLICY_VIOLATION.
func Reconcile(in Input) (*Plan, error) {
	if err := in.Mode.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid sync mode", err)
	}

	remote := make(map[string]models.RemoteGroup, len(in.Remote))
	for _, g := range in.Remote {
		if strings.TrimSpace(g.RemoteID) == "" {
			return nil, apperrors.Newf(apperrors.ErrInvalid, "remote group %q has no ID", g.Name)
		}
		remote[ident.NormalizeRemoteID(g.RemoteID)] = g
	}

	plan := &Plan{}
	mode := in.Mode

	// Groups referenced by a linked list are not available to name matching.
	linked := make(map[string]bool)
	for _, local := range in.Local {
		if local.Synced() {
			linked[ident.NormalizeRemoteID(local.ExternalID)] = true
		}
	}

	for _, local := range in.Local {
		if !local.Synced() {
			if local.Deleted {
				plan.Purge = append(plan.Purge, local)
				continue
			}
			if in.FirstSync {
				if key, ok := findByName(remote, linked, local.Name); ok {
					rg := remote[key]
					delete(remote, key)
					plan.NewLinks = append(plan.NewLinks, Link{Local: local, Remote: rg})
					continue
				}
			}
			if mode.ReadOnly {
				plan.Ignored++
				continue
			}
			plan.RemoteCreates = append(plan.RemoteCreates, local)
			continue
		}

		key := ident.NormalizeRemoteID(local.ExternalID)
		rg, ok := remote[key]
		if !ok {
			switch {
			case local.Deleted:
				plan.Purge = append(plan.Purge, local)
			case mode.WriteOnly:
				plan.Ignored++
			default:
				plan.LocalDeletes = append(plan.LocalDeletes, local)
			}
			continue
		}
		delete(remote, key)
		link := Link{Local: local, Remote: rg}

		if local.Deleted {
			if mode.ReadOnly {
				plan.Restore = append(plan.Restore, link)
				continue
			}
			if rg.System {
				return nil, apperrors.Newf(apperrors.ErrPolicy, "list %q is linked to system group %s and cannot be deleted",
					local.Name, rg.RemoteID)
			}
			plan.RemoteDeletes = append(plan.RemoteDeletes, link)
			continue
		}

		switch {
		case sameName(local.Name, rg.Name):
			plan.Linked = append(plan.Linked, link)
		case rg.System || mode.ReadOnly || (!mode.WriteOnly && mode.Policy != models.PreferLocal):
			plan.RenameLocal = append(plan.RenameLocal, link)
		default:
			plan.RenameRemote = append(plan.RenameRemote, link)
		}
	}

	keys := make([]string, 0, len(remote))
	for k := range remote {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rg := remote[key]
		switch {
		case rg.System:
			plan.System = append(plan.System, rg)
		case mode.WriteOnly && in.FirstSync:
			plan.Ignored++
		case mode.WriteOnly:
			plan.RemoteDeletes = append(plan.RemoteDeletes, Link{Remote: rg})
		default:
			plan.LocalCreates = append(plan.LocalCreates, rg)
		}
	}
	return plan, nil
}

// findByName returns the key of the unclaimed non-system remote group named
// name, skipping groups in linked. Ties resolve to the smallest key.
func findByName(remote map[string]models.RemoteGroup, linked map[string]bool, name string) (string, bool) {
	found := ""
	for key, g := range remote {
		if g.System || linked[key] || !sameName(g.Name, name) {
			continue
		}
		if found == "" || key < found {
			found = key
		}
	}
	return found, found != ""
}

// Index returns the group index of every link that survives the plan.
// Groups created while applying the plan are linked by the caller.
func (p *Plan) Index() *convert.GroupIndex {
	idx := convert.NewGroupIndex()
	for _, set := range [][]Link{p.Linked, p.NewLinks, p.RenameLocal, p.RenameRemote, p.Restore} {
		for _, l := range set {
			idx.Link(l.Local.LocalID, l.Remote.RemoteID)
		}
	}
	for _, g := range p.System {
		idx.MarkSystem(g.RemoteID)
	}
	for _, set := range [][]Link{p.Linked, p.NewLinks, p.RenameLocal} {
		for _, l := range set {
			if l.Remote.System {
				idx.MarkSystem(l.Remote.RemoteID)
			}
		}
	}
	return idx
}

// ResolveTarget finds the remote group ID for a configured target group,
// given either as an ID or a name.
func ResolveTarget(target string, remote []models.RemoteGroup) (string, bool) {
	if strings.TrimSpace(target) == "" {
		return "", false
	}
	for _, g := range remote {
		if ident.SameRemoteID(g.RemoteID, target) {
			return g.RemoteID, true
		}
	}
	for _, g := range remote {
		if sameName(g.Name, target) {
			return g.RemoteID, true
		}
	}
	return "", false
}
