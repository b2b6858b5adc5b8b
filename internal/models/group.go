package models

import "strings"

// Group is a local mailing list.
type Group struct {
	LocalID    string `json:"local_id"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	// Deleted marks a synced list the user removed; the tombstone is purged
	// once the deletion reached the remote side.
	Deleted bool `json:"deleted,omitempty"`
}

// Synced reports whether the group has been linked to a remote group.
func (g *Group) Synced() bool {
	return strings.TrimSpace(g.ExternalID) != ""
}

// RemoteGroup is a group held by the remote source.
type RemoteGroup struct {
	RemoteID   string `json:"remote_id"`
	Name       string `json:"name"`
	EditHandle string `json:"edit_handle,omitempty"`
	// System groups are owned by the remote service and must never be
	// renamed or deleted.
	System bool `json:"system"`
}
