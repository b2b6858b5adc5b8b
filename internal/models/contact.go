package models

import (
	"strings"
	"time"
)

// EmailSlots is the number of positional email attributes on a local contact.
const EmailSlots = 4

// CustomSlots is the number of free-form custom properties on a local contact.
const CustomSlots = 4

// RelationSlots is the number of related-person attributes on a local contact.
const RelationSlots = 4

// PhoneSlot identifies one positional phone attribute of a local contact.
type PhoneSlot int

const (
	PhoneWork PhoneSlot = iota
	PhoneWork2
	PhoneHome
	PhoneHome2
	PhoneFax
	PhoneMobile
	PhonePager
	PhoneOther
	PhoneSlots
)

var phoneSlotNames = [PhoneSlots]string{
	"work", "work2", "home", "home2", "fax", "mobile", "pager", "other",
}

// String returns the slot name.
func (s PhoneSlot) String() string {
	if s < 0 || s >= PhoneSlots {
		return "unknown"
	}
	return phoneSlotNames[s]
}

// AddressSlot identifies one postal address attribute of a local contact.
type AddressSlot int

const (
	AddressHome AddressSlot = iota
	AddressWork
	AddressSlots
)

// String returns the slot name.
func (s AddressSlot) String() string {
	switch s {
	case AddressHome:
		return "home"
	case AddressWork:
		return "work"
	default:
		return "unknown"
	}
}

// Address is a flat postal address as kept by the local store.
type Address struct {
	Street  string `json:"street,omitempty"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// Relation is a related person (spouse, child, manager...) with its type.
type Relation struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// LocalContact is the flat attribute model of a contact in the local store.
type LocalContact struct {
	FirstName   string `json:"first_name,omitempty"`
	MiddleName  string `json:"middle_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	NickName    string `json:"nick_name,omitempty"`

	Emails    [EmailSlots]string    `json:"emails"`
	Phones    [PhoneSlots]string    `json:"phones"`
	Addresses [AddressSlots]Address `json:"addresses"`

	Company    string `json:"company,omitempty"`
	Department string `json:"department,omitempty"`
	JobTitle   string `json:"job_title,omitempty"`

	// Dates are kept decomposed; BirthYear is "-" when the year is unknown.
	BirthYear        string `json:"birth_year,omitempty"`
	BirthMonth       string `json:"birth_month,omitempty"`
	BirthDay         string `json:"birth_day,omitempty"`
	AnniversaryYear  string `json:"anniversary_year,omitempty"`
	AnniversaryMonth string `json:"anniversary_month,omitempty"`
	AnniversaryDay   string `json:"anniversary_day,omitempty"`

	Relations [RelationSlots]Relation `json:"relations"`
	Custom    [CustomSlots]string     `json:"custom"`
	Notes     string                  `json:"notes,omitempty"`

	// PhotoHash is the content hash of the photo in the photo cache.
	PhotoHash string `json:"photo_hash,omitempty"`

	// Groups holds the local IDs of the mailing lists the contact belongs to.
	Groups []string `json:"groups,omitempty"`
}

// Clone returns a deep copy of the contact.
func (c LocalContact) Clone() LocalContact {
	out := c
	if c.Groups != nil {
		out.Groups = append([]string(nil), c.Groups...)
	}
	return out
}

// LocalRecord is one contact in the local store.
type LocalRecord struct {
	// LocalID is assigned by the local store on creation and never reused.
	LocalID string `json:"local_id"`
	// ExternalID links the record to a remote record once matched.
	ExternalID   string    `json:"external_id,omitempty"`
	LastModified Timestamp `json:"last_modified"`
	DisplayName  string    `json:"display_name"`
	// RemotePhotoETag is the remote photo version last downloaded or uploaded.
	RemotePhotoETag string `json:"remote_photo_etag,omitempty"`
	// SyncedPhotoHash is the hash of the photo last exchanged with the remote.
	SyncedPhotoHash string       `json:"synced_photo_hash,omitempty"`
	Contact         LocalContact `json:"contact"`
}

// Synced reports whether the record has been matched to a remote record.
// A blank external ID counts as unlinked.
func (r *LocalRecord) Synced() bool {
	return strings.TrimSpace(r.ExternalID) != ""
}

// Clone returns a deep copy of the record.
func (r LocalRecord) Clone() LocalRecord {
	out := r
	out.Contact = r.Contact.Clone()
	return out
}

// LastModifiedTime returns LastModified as time.Time.
func (r *LocalRecord) LastModifiedTime() time.Time {
	return r.LastModified.Time()
}
