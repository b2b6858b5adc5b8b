// Package ident generates local identifiers and normalizes remote ones.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// NewLocalID generates an identifier for a new local record or group.
func NewLocalID() string {
	return uuid.New().String()
}

// NormalizeRemoteID maps a remote identifier to its comparison form.
//
// Remote sources report the same ID with varying case, scheme and trailing
// slash. The normalized form is only used for matching; API calls use the ID
// exactly as the source reported it.
func NormalizeRemoteID(id string) string {
	s := strings.ToLower(strings.TrimSpace(id))
	if strings.HasPrefix(s, "https://") {
		s = "http://" + strings.TrimPrefix(s, "https://")
	}
	return strings.TrimRight(s, "/")
}

// SameRemoteID reports whether two remote identifiers refer to the same record.
func SameRemoteID(a, b string) bool {
	return NormalizeRemoteID(a) == NormalizeRemoteID(b)
}
