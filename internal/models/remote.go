package models

import (
	"fmt"
	"strings"
)

// Element is one typed value of a multi-valued remote field (email, phone,
// relation). Elements of the same Type are addressed by index of occurrence.
type Element struct {
	Type    string `json:"type,omitempty"`
	Value   string `json:"value"`
	Primary bool   `json:"primary,omitempty"`
}

// PersonName is the structured name of a remote contact.
type PersonName struct {
	Prefix string `json:"prefix,omitempty"`
	Given  string `json:"given,omitempty"`
	Middle string `json:"middle,omitempty"`
	Family string `json:"family,omitempty"`
	Suffix string `json:"suffix,omitempty"`
	Full   string `json:"full,omitempty"`
}

// PostalAddress is a structured remote postal address.
type PostalAddress struct {
	Type     string `json:"type,omitempty"`
	Street   string `json:"street,omitempty"`
	Extended string `json:"extended,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Organization is the employer of a remote contact.
type Organization struct {
	Name       string `json:"name,omitempty"`
	Department string `json:"department,omitempty"`
	Title      string `json:"title,omitempty"`
}

// Event is a dated remote event such as an anniversary. Date uses the same
// encoding as RemoteContact.Birthday.
type Event struct {
	Type string `json:"type"`
	Date string `json:"date"`
}

// Property is a free-form remote key/value pair.
type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PhotoRef points at the remote photo of a contact.
type PhotoRef struct {
	URL  string `json:"url,omitempty"`
	ETag string `json:"etag,omitempty"`
}

// RemoteContact is the structured element model of a remote contact.
type RemoteContact struct {
	Name         PersonName      `json:"name"`
	Nickname     string          `json:"nickname,omitempty"`
	Emails       []Element       `json:"emails,omitempty"`
	Phones       []Element       `json:"phones,omitempty"`
	Addresses    []PostalAddress `json:"addresses,omitempty"`
	Organization Organization    `json:"organization"`
	// Birthday is YYYY-MM-DD, or --MM-DD when the year is unknown.
	Birthday   string     `json:"birthday,omitempty"`
	Events     []Event    `json:"events,omitempty"`
	Relations  []Element  `json:"relations,omitempty"`
	Properties []Property `json:"properties,omitempty"`
	Notes      string     `json:"notes,omitempty"`
	// GroupIDs are remote group IDs the contact is a member of.
	GroupIDs []string `json:"group_ids,omitempty"`
}

// Clone returns a deep copy of the contact.
func (c RemoteContact) Clone() RemoteContact {
	out := c
	out.Emails = append([]Element(nil), c.Emails...)
	out.Phones = append([]Element(nil), c.Phones...)
	out.Addresses = append([]PostalAddress(nil), c.Addresses...)
	out.Events = append([]Event(nil), c.Events...)
	out.Relations = append([]Element(nil), c.Relations...)
	out.Properties = append([]Property(nil), c.Properties...)
	out.GroupIDs = append([]string(nil), c.GroupIDs...)
	return out
}

// RemoteRecord is one contact held by the remote source.
type RemoteRecord struct {
	// RemoteID is the opaque, URL-shaped remote identifier as the source
	// reports it. Comparisons go through ident.NormalizeRemoteID.
	RemoteID     string    `json:"remote_id"`
	LastModified Timestamp `json:"last_modified"`
	// EditHandle is the capability needed to update or delete the record.
	EditHandle  string        `json:"edit_handle,omitempty"`
	DisplayName string        `json:"display_name"`
	Photo       PhotoRef      `json:"photo"`
	Contact     RemoteContact `json:"contact"`
}

// Clone returns a deep copy of the record.
func (r RemoteRecord) Clone() RemoteRecord {
	out := r
	out.Contact = r.Contact.Clone()
	return out
}

// Validate checks the parts of a fetched record the engine depends on.
func (r *RemoteRecord) Validate() error {
	if strings.TrimSpace(r.RemoteID) == "" {
		return fmt.Errorf("remote record %q has no remote ID", r.DisplayName)
	}
	if r.LastModified < 0 {
		return fmt.Errorf("remote record %s has an unparseable modification time", r.RemoteID)
	}
	return nil
}

// RemoteDraft is the payload submitted to the remote source on create/update.
type RemoteDraft struct {
	DisplayName string        `json:"display_name"`
	Contact     RemoteContact `json:"contact"`
}

// LocalDraft is the payload written to the local store after a pull.
type LocalDraft struct {
	DisplayName string       `json:"display_name"`
	Contact     LocalContact `json:"contact"`
}
