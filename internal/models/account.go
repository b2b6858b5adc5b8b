package models

import (
	"fmt"
	"strings"
	"time"
)

// ConflictPolicy decides the winner when both sides changed since last sync.
type ConflictPolicy string

const (
	PreferRemote ConflictPolicy = "prefer_remote"
	PreferLocal  ConflictPolicy = "prefer_local"
)

// ParseConflictPolicy parses a conflict policy string.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "remote", "prefer-remote", "prefer_remote", "remote-wins":
		return PreferRemote, nil
	case "local", "prefer-local", "prefer_local", "local-wins":
		return PreferLocal, nil
	default:
		return "", fmt.Errorf("unknown conflict policy: %s (valid: prefer-remote, prefer-local)", s)
	}
}

// GroupMode selects how group membership is synchronized.
type GroupMode string

const (
	// GroupModeSingle tags new contacts with one target group and does no
	// ongoing membership diffing.
	GroupModeSingle GroupMode = "single"
	// GroupModeMirror recomputes and pushes every membership of a contact.
	GroupModeMirror GroupMode = "mirror"
)

// ParseGroupMode parses a group mode string.
func ParseGroupMode(s string) (GroupMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return GroupModeSingle, nil
	case "mirror", "full":
		return GroupModeMirror, nil
	default:
		return "", fmt.Errorf("unknown group mode: %s (valid: single, mirror)", s)
	}
}

// Mode holds the direction flags and conflict policy of an account.
type Mode struct {
	ReadOnly  bool           `json:"read_only"`
	WriteOnly bool           `json:"write_only"`
	Policy    ConflictPolicy `json:"conflict_policy"`
}

// Validate rejects configurations the engine cannot interpret.
func (m Mode) Validate() error {
	if m.ReadOnly && m.WriteOnly {
		return fmt.Errorf("read-only and write-only are mutually exclusive")
	}
	switch m.Policy {
	case PreferRemote, PreferLocal:
		return nil
	default:
		return fmt.Errorf("unknown conflict policy %q", m.Policy)
	}
}

// Disabled reasons recorded on an account.
const (
	DisabledByUser             = "user"
	DisabledBulkDeleteDeclined = "bulk_delete_declined"
	DisabledPolicyViolation    = "policy_violation"
)

// SyncAccount pairs the local store with one remote account.
type SyncAccount struct {
	ID    UUID   `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Email string `db:"email" json:"email"`
	// Source names the remote source kind ("people", "memory").
	Source string `db:"source" json:"source"`
	Mode   Mode   `json:"mode"`

	GroupMode GroupMode `db:"group_mode" json:"group_mode"`
	// TargetGroup is the remote group new contacts join in GroupModeSingle.
	TargetGroup string `db:"target_group" json:"target_group,omitempty"`

	// LastSyncTime is zero when the account has never synced.
	LastSyncTime   Timestamp `db:"last_sync_ms" json:"last_sync_ms"`
	Disabled       bool      `db:"disabled" json:"disabled"`
	DisabledReason string    `db:"disabled_reason" json:"disabled_reason,omitempty"`
	NeedsReauth    bool      `db:"needs_reauth" json:"needs_reauth"`
	CreatedAt      int64     `db:"created_at" json:"created_at"`
	UpdatedAt      int64     `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncAccount.
func (SyncAccount) TableName() string {
	return "accounts"
}

// FirstSync reports whether the account has never completed a sync.
func (a *SyncAccount) FirstSync() bool {
	return a.LastSyncTime.IsZero()
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (a *SyncAccount) CreatedAtTime() time.Time {
	return time.Unix(a.CreatedAt, 0)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (a *SyncAccount) UpdatedAtTime() time.Time {
	return time.Unix(a.UpdatedAt, 0)
}
