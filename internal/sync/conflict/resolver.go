// Package conflict decides the direction of a matched local/remote pair.
package conflict

import (
	"github.com/kimhsiao/contactsync/internal/models"
)

// Action is what to do with a matched pair.
type Action int

const (
	// ActionNone leaves both sides as they are.
	ActionNone Action = iota
	// ActionPull overwrites the local record with the remote one.
	ActionPull
	// ActionPush overwrites the remote record with the local one.
	ActionPush
)

func (a Action) String() string {
	switch a {
	case ActionPull:
		return "pull"
	case ActionPush:
		return "push"
	default:
		return "none"
	}
}

// Side names one end of a pair.
type Side int

const (
	SideNone Side = iota
	SideLocal
	SideRemote
)

// Resolutions recorded in the conflict log.
const (
	ResolutionLocalWins  = "local_wins"
	ResolutionRemoteWins = "remote_wins"
)

// Decision is the outcome for one matched pair.
type Decision struct {
	Action Action
	// Conflict is set only when both sides changed and the conflict policy,
	// not a direction flag, picked the winner.
	Conflict bool
	// Ignored is the side whose change the direction flags suppressed.
	Ignored Side
	// Unchanged is set when neither side changed since the last sync.
	Unchanged bool
}

// Resolution returns the conflict log resolution of a conflicting decision.
func (d Decision) Resolution() string {
	if d.Action == ActionPush {
		return ResolutionLocalWins
	}
	return ResolutionRemoteWins
}

// Resolver applies an account's direction flags and conflict policy.
type Resolver struct {
	mode models.Mode
}

// NewResolver creates a Resolver for mode. Mode must already be valid.
func NewResolver(mode models.Mode) *Resolver {
	return &Resolver{mode: mode}
}

// Changed reports whether a side modified at t changed after lastSync.
func Changed(t, lastSync models.Timestamp) bool {
	return t.After(lastSync)
}

// Decide classifies a matched pair from both modification times.
func (r *Resolver) Decide(localModified, remoteModified, lastSync models.Timestamp) Decision {
	localChanged := Changed(localModified, lastSync)
	remoteChanged := Changed(remoteModified, lastSync)

	switch {
	case localChanged && remoteChanged:
		switch {
		case r.mode.ReadOnly:
			return Decision{Action: ActionPull, Ignored: SideLocal}
		case r.mode.WriteOnly:
			return Decision{Action: ActionPush, Ignored: SideRemote}
		case r.mode.Policy == models.PreferLocal:
			return Decision{Action: ActionPush, Conflict: true}
		default:
			return Decision{Action: ActionPull, Conflict: true}
		}
	case remoteChanged:
		if r.mode.WriteOnly {
			return Decision{Action: ActionNone, Ignored: SideRemote}
		}
		return Decision{Action: ActionPull}
	case localChanged:
		if r.mode.ReadOnly {
			return Decision{Action: ActionNone, Ignored: SideLocal}
		}
		return Decision{Action: ActionPush}
	default:
		return Decision{Action: ActionNone, Unchanged: true}
	}
}

// ConflictLog builds the awareness record of a policy-resolved conflict.
// DetectedAt is left for the store to stamp.
func ConflictLog(account models.UUID, local *models.LocalRecord, remote *models.RemoteRecord, d Decision) models.ConflictLog {
	return models.ConflictLog{
		AccountID:       account,
		LocalID:         local.LocalID,
		RemoteID:        remote.RemoteID,
		LocalTimestamp:  local.LastModified,
		RemoteTimestamp: remote.LastModified,
		Resolution:      d.Resolution(),
	}
}
