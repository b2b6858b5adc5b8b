package convert

import (
	"sort"
	"strings"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/ident"
	"github.com/kimhsiao/contactsync/internal/models"
)

// GroupIndex links local mailing lists to remote groups.
type GroupIndex struct {
	localToRemote map[string]string
	remoteToLocal map[string]string
	remoteIDs     map[string]string
	system        map[string]bool
}

// NewGroupIndex creates an empty index.
func NewGroupIndex() *GroupIndex {
	return &GroupIndex{
		localToRemote: make(map[string]string),
		remoteToLocal: make(map[string]string),
		remoteIDs:     make(map[string]string),
		system:        make(map[string]bool),
	}
}

// Link records that a local group and a remote group are the same list.
func (g *GroupIndex) Link(localID, remoteID string) {
	key := ident.NormalizeRemoteID(remoteID)
	g.localToRemote[localID] = remoteID
	g.remoteToLocal[key] = localID
	g.remoteIDs[key] = remoteID
}

// MarkSystem records a remote group the service owns.
func (g *GroupIndex) MarkSystem(remoteID string) {
	key := ident.NormalizeRemoteID(remoteID)
	g.system[key] = true
	g.remoteIDs[key] = remoteID
}

// RemoteID returns the remote group linked to a local group.
func (g *GroupIndex) RemoteID(localID string) (string, bool) {
	id, ok := g.localToRemote[localID]
	return id, ok
}

// LocalID returns the local group linked to a remote group.
func (g *GroupIndex) LocalID(remoteID string) (string, bool) {
	id, ok := g.remoteToLocal[ident.NormalizeRemoteID(remoteID)]
	return id, ok
}

// IsSystem reports whether remoteID is a system group.
func (g *GroupIndex) IsSystem(remoteID string) bool {
	return g.system[ident.NormalizeRemoteID(remoteID)]
}

// Known reports whether remoteID is linked or a system group.
func (g *GroupIndex) Known(remoteID string) bool {
	_, ok := g.remoteIDs[ident.NormalizeRemoteID(remoteID)]
	return ok
}

// Converter translates contacts for one account.
type Converter struct {
	GroupMode models.GroupMode
	// TargetGroup is the remote group ID new contacts join in GroupModeSingle.
	TargetGroup string
	Groups      *GroupIndex
}

// NewConverter creates a converter for an account.
func NewConverter(mode models.GroupMode, targetGroup string, groups *GroupIndex) *Converter {
	if groups == nil {
		groups = NewGroupIndex()
	}
	return &Converter{GroupMode: mode, TargetGroup: targetGroup, Groups: groups}
}

// ComposeDisplayName returns the contact's display name, falling back to
// its name parts and then its primary email.
func ComposeDisplayName(c *models.LocalContact) string {
	if !IsEmpty(c.DisplayName) {
		return strings.TrimSpace(c.DisplayName)
	}
	var parts []string
	for _, p := range []string{c.FirstName, c.MiddleName, c.LastName} {
		if !IsEmpty(p) {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return strings.TrimSpace(c.Emails[0])
}

func remoteDisplayName(r *models.RemoteRecord) string {
	if !IsEmpty(r.DisplayName) {
		return strings.TrimSpace(r.DisplayName)
	}
	if !IsEmpty(r.Contact.Name.Full) {
		return strings.TrimSpace(r.Contact.Name.Full)
	}
	n := r.Contact.Name
	var parts []string
	for _, p := range []string{n.Given, n.Middle, n.Family} {
		if !IsEmpty(p) {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	if len(r.Contact.Emails) > 0 {
		return strings.TrimSpace(r.Contact.Emails[0].Value)
	}
	return ""
}

// ToRemote builds the payload pushing local to the remote source. Remote
// elements no field maps to are carried over from existing.
func (cv *Converter) ToRemote(local *models.LocalRecord, existing *models.RemoteRecord) models.RemoteDraft {
	var rc models.RemoteContact
	if existing != nil {
		rc = existing.Contact.Clone()
	}
	for _, f := range AllFields() {
		f.SetRemote(&rc, f.Local(&local.Contact))
	}
	compact(&rc)

	display := ComposeDisplayName(&local.Contact)
	if IsEmpty(display) {
		display = strings.TrimSpace(local.DisplayName)
	}
	rc.Name.Full = display
	rc.GroupIDs = cv.remoteGroups(local, existing)

	return models.RemoteDraft{DisplayName: display, Contact: rc}
}

// MergedDraft builds the payload for a remote record whose content was
// already merged in place by Merge. Memberships follow the group mode.
func (cv *Converter) MergedDraft(local *models.LocalRecord, merged *models.RemoteRecord) models.RemoteDraft {
	rc := merged.Contact.Clone()
	display := remoteDisplayName(merged)
	if IsEmpty(display) {
		display = ComposeDisplayName(&local.Contact)
	}
	rc.Name.Full = display
	rc.GroupIDs = cv.remoteGroups(local, merged)
	return models.RemoteDraft{DisplayName: display, Contact: rc}
}

func (cv *Converter) remoteGroups(local *models.LocalRecord, existing *models.RemoteRecord) []string {
	if cv.GroupMode != models.GroupModeMirror {
		if existing != nil {
			return append([]string(nil), existing.Contact.GroupIDs...)
		}
		if cv.TargetGroup != "" {
			return []string{cv.TargetGroup}
		}
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	add := func(id string) {
		key := ident.NormalizeRemoteID(id)
		if !seen[key] {
			seen[key] = true
			out = append(out, id)
		}
	}
	if existing != nil {
		for _, id := range existing.Contact.GroupIDs {
			// Memberships in groups without a local list are not ours to drop.
			if cv.Groups.IsSystem(id) || !cv.Groups.Known(id) {
				add(id)
			}
		}
	}
	for _, g := range local.Contact.Groups {
		if id, ok := cv.Groups.RemoteID(g); ok {
			add(id)
		}
	}
	return out
}

// ToLocal builds the local record content pulled from remote. A field
// whose remote value cannot be decoded is left unchanged and reported as a
// DATA_ERROR alongside the otherwise complete draft.
func (cv *Converter) ToLocal(remote *models.RemoteRecord, existing *models.LocalRecord) (models.LocalDraft, error) {
	var lc models.LocalContact
	if existing != nil {
		lc = existing.Contact.Clone()
	}

	var bad []string
	for _, f := range AllFields() {
		if err := f.SetLocal(&lc, f.Remote(&remote.Contact)); err != nil {
			bad = append(bad, f.String())
		}
	}

	display := remoteDisplayName(remote)
	lc.DisplayName = display

	if cv.GroupMode == models.GroupModeMirror {
		lc.Groups = nil
		for _, id := range remote.Contact.GroupIDs {
			if localID, ok := cv.Groups.LocalID(id); ok {
				lc.Groups = append(lc.Groups, localID)
			}
		}
	}

	draft := models.LocalDraft{DisplayName: display, Contact: lc}
	if len(bad) > 0 {
		return draft, apperrors.Newf(apperrors.ErrData, "remote record %s has undecodable fields: %s",
			remote.RemoteID, strings.Join(bad, ", "))
	}
	return draft, nil
}

// MergeResult reports which sides a merge changed.
type MergeResult struct {
	LocalChanged  bool
	RemoteChanged bool
	// Skipped lists fields whose remote value could not be decoded.
	Skipped []Field
}

// Merge reconciles local and remote field by field in place. A local value
// wins when present and the policy prefers local, or when the remote value
// is empty; otherwise the remote value wins.
func Merge(local *models.LocalContact, remote *models.RemoteContact, preferRemote bool) MergeResult {
	var res MergeResult
	for _, f := range AllFields() {
		lv, rv := f.Local(local), f.Remote(remote)
		if lv == rv {
			continue
		}
		if !IsEmpty(lv) && (!preferRemote || IsEmpty(rv)) {
			f.SetRemote(remote, lv)
			res.RemoteChanged = true
			continue
		}
		if IsEmpty(rv) {
			continue
		}
		if err := f.SetLocal(local, rv); err != nil {
			res.Skipped = append(res.Skipped, f)
			continue
		}
		res.LocalChanged = true
	}
	compact(remote)
	return res
}

// Similarity scores two attribute lists: the count of pairs that are both
// non-empty and equal over the count of pairs where either side is
// non-empty. Values compare case-insensitively after trimming.
func Similarity(a, b []string) (float64, error) {
	if len(a) != len(b) {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "attribute lists differ in length: %d != %d", len(a), len(b))
	}
	var equal, considered int
	for i := range a {
		av, bv := strings.TrimSpace(a[i]), strings.TrimSpace(b[i])
		if av == "" && bv == "" {
			continue
		}
		considered++
		if av != "" && strings.EqualFold(av, bv) {
			equal++
		}
	}
	if considered == 0 {
		return 0, nil
	}
	return float64(equal) / float64(considered), nil
}

// LocalMatchKeys returns the attributes compared by the first-sync merge:
// display name and primary email.
func LocalMatchKeys(r *models.LocalRecord) []string {
	name := r.DisplayName
	if IsEmpty(name) {
		name = ComposeDisplayName(&r.Contact)
	}
	return []string{name, r.Contact.Emails[0]}
}

// RemoteMatchKeys returns the remote counterpart of LocalMatchKeys.
func RemoteMatchKeys(r *models.RemoteRecord) []string {
	email := ""
	if len(r.Contact.Emails) > 0 {
		email = r.Contact.Emails[0].Value
	}
	return []string{remoteDisplayName(r), email}
}

// GroupDelta returns the members of after missing from before, and the
// members of before missing from after, each sorted.
func GroupDelta(before, after []string) (added, removed []string) {
	in := func(set []string) map[string]bool {
		m := make(map[string]bool, len(set))
		for _, s := range set {
			m[s] = true
		}
		return m
	}
	b, a := in(before), in(after)
	for s := range a {
		if !b[s] {
			added = append(added, s)
		}
	}
	for s := range b {
		if !a[s] {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
