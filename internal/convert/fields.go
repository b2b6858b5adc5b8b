// Package convert maps contacts between the local flat attribute model and
// the remote structured element model.
package convert

import (
	"fmt"
	"strings"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
)

// FieldKind is the closed set of synchronized contact fields.
type FieldKind int

const (
	KindName FieldKind = iota
	KindEmail
	KindPhone
	KindAddress
	KindOrganization
	KindBirthday
	KindAnniversary
	KindRelation
	KindCustomProperty
	KindNotes
	kindCount
)

var kindNames = [kindCount]string{
	"name", "email", "phone", "address", "organization",
	"birthday", "anniversary", "relation", "custom", "notes",
}

// String returns the kind name.
func (k FieldKind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Slots returns how many positional slots the kind has.
func (k FieldKind) Slots() int {
	switch k {
	case KindEmail:
		return models.EmailSlots
	case KindPhone:
		return int(models.PhoneSlots)
	case KindAddress:
		return int(models.AddressSlots)
	case KindRelation:
		return models.RelationSlots
	case KindCustomProperty:
		return models.CustomSlots
	default:
		return 1
	}
}

// Field addresses one slot of one kind.
type Field struct {
	Kind FieldKind
	Slot int
}

func (f Field) String() string {
	if f.Kind.Slots() == 1 {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s[%d]", f.Kind, f.Slot)
}

// AllFields lists every synchronized field in mapping order.
func AllFields() []Field {
	var out []Field
	for k := FieldKind(0); k < kindCount; k++ {
		for s := 0; s < k.Slots(); s++ {
			out = append(out, Field{Kind: k, Slot: s})
		}
	}
	return out
}

// Local returns the field's value on a local contact. Composite fields are
// returned with their parts joined; dates are returned encoded.
func (f Field) Local(c *models.LocalContact) string {
	return codecs[f.Kind].local(c, f.Slot)
}

// SetLocal writes a value produced by Remote onto a local contact.
func (f Field) SetLocal(c *models.LocalContact, v string) error {
	return codecs[f.Kind].setLocal(c, f.Slot, v)
}

// Remote returns the field's value on a remote contact.
func (f Field) Remote(c *models.RemoteContact) string {
	return codecs[f.Kind].remote(c, f.Slot)
}

// SetRemote writes a value produced by Local onto a remote contact.
func (f Field) SetRemote(c *models.RemoteContact, v string) {
	codecs[f.Kind].setRemote(c, f.Slot, v)
}

// IsEmpty reports whether v carries no content. Whitespace-only values are
// empty.
func IsEmpty(v string) bool {
	return strings.TrimSpace(v) == ""
}

// partSep joins the parts of composite values.
const partSep = "\x1f"

func joinParts(parts ...string) string {
	empty := true
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
		if parts[i] != "" {
			empty = false
		}
	}
	if empty {
		return ""
	}
	return strings.Join(parts, partSep)
}

func splitParts(v string, n int) []string {
	out := make([]string, n)
	if IsEmpty(v) {
		return out
	}
	for i, p := range strings.SplitN(v, partSep, n) {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

type fieldCodec interface {
	local(c *models.LocalContact, slot int) string
	setLocal(c *models.LocalContact, slot int, v string) error
	remote(c *models.RemoteContact, slot int) string
	setRemote(c *models.RemoteContact, slot int, v string)
}

var codecs = [kindCount]fieldCodec{
	KindName:           nameCodec{},
	KindEmail:          emailCodec{},
	KindPhone:          phoneCodec{},
	KindAddress:        addressCodec{},
	KindOrganization:   organizationCodec{},
	KindBirthday:       birthdayCodec{},
	KindAnniversary:    anniversaryCodec{},
	KindRelation:       relationCodec{},
	KindCustomProperty: customCodec{},
	KindNotes:          notesCodec{},
}

// =====================================================
// Name
// =====================================================

type nameCodec struct{}

func (nameCodec) local(c *models.LocalContact, _ int) string {
	return joinParts(c.Prefix, c.FirstName, c.MiddleName, c.LastName, c.Suffix, c.NickName)
}

func (nameCodec) setLocal(c *models.LocalContact, _ int, v string) error {
	p := splitParts(v, 6)
	c.Prefix, c.FirstName, c.MiddleName, c.LastName, c.Suffix, c.NickName = p[0], p[1], p[2], p[3], p[4], p[5]
	return nil
}

func (nameCodec) remote(c *models.RemoteContact, _ int) string {
	n := c.Name
	return joinParts(n.Prefix, n.Given, n.Middle, n.Family, n.Suffix, c.Nickname)
}

func (nameCodec) setRemote(c *models.RemoteContact, _ int, v string) {
	p := splitParts(v, 6)
	c.Name.Prefix, c.Name.Given, c.Name.Middle, c.Name.Family, c.Name.Suffix, c.Nickname = p[0], p[1], p[2], p[3], p[4], p[5]
}

// =====================================================
// Email
// =====================================================

// Email slot i is the i-th remote email element regardless of type; the
// first is primary.
type emailCodec struct{}

func (emailCodec) local(c *models.LocalContact, slot int) string {
	return strings.TrimSpace(c.Emails[slot])
}

func (emailCodec) setLocal(c *models.LocalContact, slot int, v string) error {
	c.Emails[slot] = strings.TrimSpace(v)
	return nil
}

func (emailCodec) remote(c *models.RemoteContact, slot int) string {
	if slot >= len(c.Emails) {
		return ""
	}
	return strings.TrimSpace(c.Emails[slot].Value)
}

func (emailCodec) setRemote(c *models.RemoteContact, slot int, v string) {
	v = strings.TrimSpace(v)
	if slot >= len(c.Emails) {
		if v == "" {
			return
		}
		for len(c.Emails) <= slot {
			c.Emails = append(c.Emails, models.Element{Type: "other"})
		}
	}
	c.Emails[slot].Value = v
}

// =====================================================
// Phone
// =====================================================

// phoneTypes maps each local phone slot to a remote phone type and the
// occurrence of that type.
var phoneTypes = [models.PhoneSlots]struct {
	typ string
	occ int
}{
	models.PhoneWork:   {"work", 0},
	models.PhoneWork2:  {"work", 1},
	models.PhoneHome:   {"home", 0},
	models.PhoneHome2:  {"home", 1},
	models.PhoneFax:    {"workFax", 0},
	models.PhoneMobile: {"mobile", 0},
	models.PhonePager:  {"pager", 0},
	models.PhoneOther:  {"other", 0},
}

// nthOfType returns the index of the n-th element of type typ, or -1.
func nthOfType(elems []models.Element, typ string, n int) int {
	seen := 0
	for i, e := range elems {
		if !strings.EqualFold(e.Type, typ) {
			continue
		}
		if seen == n {
			return i
		}
		seen++
	}
	return -1
}

func countOfType(elems []models.Element, typ string) int {
	n := 0
	for _, e := range elems {
		if strings.EqualFold(e.Type, typ) {
			n++
		}
	}
	return n
}

type phoneCodec struct{}

func (phoneCodec) local(c *models.LocalContact, slot int) string {
	return strings.TrimSpace(c.Phones[slot])
}

func (phoneCodec) setLocal(c *models.LocalContact, slot int, v string) error {
	c.Phones[slot] = strings.TrimSpace(v)
	return nil
}

func (phoneCodec) remote(c *models.RemoteContact, slot int) string {
	pt := phoneTypes[slot]
	if i := nthOfType(c.Phones, pt.typ, pt.occ); i >= 0 {
		return strings.TrimSpace(c.Phones[i].Value)
	}
	return ""
}

func (phoneCodec) setRemote(c *models.RemoteContact, slot int, v string) {
	v = strings.TrimSpace(v)
	pt := phoneTypes[slot]
	if i := nthOfType(c.Phones, pt.typ, pt.occ); i >= 0 {
		c.Phones[i].Value = v
		return
	}
	if v == "" {
		return
	}
	for countOfType(c.Phones, pt.typ) < pt.occ {
		c.Phones = append(c.Phones, models.Element{Type: pt.typ})
	}
	c.Phones = append(c.Phones, models.Element{Type: pt.typ, Value: v})
}

// =====================================================
// Address
// =====================================================

type addressCodec struct{}

func addressType(slot int) string {
	return models.AddressSlot(slot).String()
}

func findAddress(addrs []models.PostalAddress, typ string) int {
	for i, a := range addrs {
		if strings.EqualFold(a.Type, typ) {
			return i
		}
	}
	return -1
}

func (addressCodec) local(c *models.LocalContact, slot int) string {
	a := c.Addresses[slot]
	return joinParts(a.Street, a.Street2, a.City, a.State, a.ZipCode, a.Country)
}

func (addressCodec) setLocal(c *models.LocalContact, slot int, v string) error {
	p := splitParts(v, 6)
	c.Addresses[slot] = models.Address{Street: p[0], Street2: p[1], City: p[2], State: p[3], ZipCode: p[4], Country: p[5]}
	return nil
}

func (addressCodec) remote(c *models.RemoteContact, slot int) string {
	i := findAddress(c.Addresses, addressType(slot))
	if i < 0 {
		return ""
	}
	a := c.Addresses[i]
	return joinParts(a.Street, a.Extended, a.City, a.Region, a.Postcode, a.Country)
}

func (addressCodec) setRemote(c *models.RemoteContact, slot int, v string) {
	p := splitParts(v, 6)
	addr := models.PostalAddress{
		Type: addressType(slot), Street: p[0], Extended: p[1], City: p[2], Region: p[3], Postcode: p[4], Country: p[5],
	}
	if i := findAddress(c.Addresses, addr.Type); i >= 0 {
		addr.Type = c.Addresses[i].Type
		c.Addresses[i] = addr
		return
	}
	if !IsEmpty(v) {
		c.Addresses = append(c.Addresses, addr)
	}
}

// =====================================================
// Organization
// =====================================================

type organizationCodec struct{}

func (organizationCodec) local(c *models.LocalContact, _ int) string {
	return joinParts(c.Company, c.Department, c.JobTitle)
}

func (organizationCodec) setLocal(c *models.LocalContact, _ int, v string) error {
	p := splitParts(v, 3)
	c.Company, c.Department, c.JobTitle = p[0], p[1], p[2]
	return nil
}

func (organizationCodec) remote(c *models.RemoteContact, _ int) string {
	o := c.Organization
	return joinParts(o.Name, o.Department, o.Title)
}

func (organizationCodec) setRemote(c *models.RemoteContact, _ int, v string) {
	p := splitParts(v, 3)
	c.Organization = models.Organization{Name: p[0], Department: p[1], Title: p[2]}
}

// =====================================================
// Dates
// =====================================================

func encodeLocalDate(y, m, d string) string {
	s, err := EncodeDate(y, m, d)
	if err != nil {
		return ""
	}
	return s
}

func canonicalRemoteDate(s string) string {
	if n, err := NormalizeDate(s); err == nil {
		return n
	}
	return strings.TrimSpace(s)
}

type birthdayCodec struct{}

func (birthdayCodec) local(c *models.LocalContact, _ int) string {
	return encodeLocalDate(c.BirthYear, c.BirthMonth, c.BirthDay)
}

func (birthdayCodec) setLocal(c *models.LocalContact, _ int, v string) error {
	y, m, d, err := DecodeDate(v)
	if err != nil {
		return err
	}
	c.BirthYear, c.BirthMonth, c.BirthDay = y, m, d
	return nil
}

func (birthdayCodec) remote(c *models.RemoteContact, _ int) string {
	return canonicalRemoteDate(c.Birthday)
}

func (birthdayCodec) setRemote(c *models.RemoteContact, _ int, v string) {
	c.Birthday = strings.TrimSpace(v)
}

const anniversaryType = "anniversary"

func findEvent(events []models.Event, typ string) int {
	for i, e := range events {
		if strings.EqualFold(e.Type, typ) {
			return i
		}
	}
	return -1
}

type anniversaryCodec struct{}

func (anniversaryCodec) local(c *models.LocalContact, _ int) string {
	return encodeLocalDate(c.AnniversaryYear, c.AnniversaryMonth, c.AnniversaryDay)
}

func (anniversaryCodec) setLocal(c *models.LocalContact, _ int, v string) error {
	y, m, d, err := DecodeDate(v)
	if err != nil {
		return err
	}
	c.AnniversaryYear, c.AnniversaryMonth, c.AnniversaryDay = y, m, d
	return nil
}

func (anniversaryCodec) remote(c *models.RemoteContact, _ int) string {
	if i := findEvent(c.Events, anniversaryType); i >= 0 {
		return canonicalRemoteDate(c.Events[i].Date)
	}
	return ""
}

func (anniversaryCodec) setRemote(c *models.RemoteContact, _ int, v string) {
	v = strings.TrimSpace(v)
	if i := findEvent(c.Events, anniversaryType); i >= 0 {
		c.Events[i].Date = v
		return
	}
	if v != "" {
		c.Events = append(c.Events, models.Event{Type: anniversaryType, Date: v})
	}
}

// =====================================================
// Relation
// =====================================================

type relationCodec struct{}

func (relationCodec) local(c *models.LocalContact, slot int) string {
	r := c.Relations[slot]
	if IsEmpty(r.Name) {
		return ""
	}
	return joinParts(r.Name, r.Type)
}

func (relationCodec) setLocal(c *models.LocalContact, slot int, v string) error {
	p := splitParts(v, 2)
	c.Relations[slot] = models.Relation{Name: p[0], Type: p[1]}
	return nil
}

func (relationCodec) remote(c *models.RemoteContact, slot int) string {
	if slot >= len(c.Relations) || IsEmpty(c.Relations[slot].Value) {
		return ""
	}
	r := c.Relations[slot]
	return joinParts(r.Value, r.Type)
}

func (relationCodec) setRemote(c *models.RemoteContact, slot int, v string) {
	p := splitParts(v, 2)
	if slot >= len(c.Relations) {
		if p[0] == "" {
			return
		}
		for len(c.Relations) <= slot {
			c.Relations = append(c.Relations, models.Element{})
		}
	}
	c.Relations[slot] = models.Element{Value: p[0], Type: p[1]}
}

// =====================================================
// Custom properties and notes
// =====================================================

func customKey(slot int) string {
	return fmt.Sprintf("custom%d", slot+1)
}

func findProperty(props []models.Property, key string) int {
	for i, p := range props {
		if p.Key == key {
			return i
		}
	}
	return -1
}

type customCodec struct{}

func (customCodec) local(c *models.LocalContact, slot int) string {
	return strings.TrimSpace(c.Custom[slot])
}

func (customCodec) setLocal(c *models.LocalContact, slot int, v string) error {
	c.Custom[slot] = strings.TrimSpace(v)
	return nil
}

func (customCodec) remote(c *models.RemoteContact, slot int) string {
	if i := findProperty(c.Properties, customKey(slot)); i >= 0 {
		return strings.TrimSpace(c.Properties[i].Value)
	}
	return ""
}

func (customCodec) setRemote(c *models.RemoteContact, slot int, v string) {
	v = strings.TrimSpace(v)
	key := customKey(slot)
	if i := findProperty(c.Properties, key); i >= 0 {
		c.Properties[i].Value = v
		return
	}
	if v != "" {
		c.Properties = append(c.Properties, models.Property{Key: key, Value: v})
	}
}

type notesCodec struct{}

func (notesCodec) local(c *models.LocalContact, _ int) string {
	return strings.TrimSpace(c.Notes)
}

func (notesCodec) setLocal(c *models.LocalContact, _ int, v string) error {
	c.Notes = strings.TrimSpace(v)
	return nil
}

func (notesCodec) remote(c *models.RemoteContact, _ int) string {
	return strings.TrimSpace(c.Notes)
}

func (notesCodec) setRemote(c *models.RemoteContact, _ int, v string) {
	c.Notes = strings.TrimSpace(v)
}

// compact drops elements emptied by slot writes and re-marks the primary
// email. Slot indexes of later elements shift down as a result.
func compact(c *models.RemoteContact) {
	c.Emails = dropEmpty(c.Emails)
	c.Phones = dropEmpty(c.Phones)
	c.Relations = dropEmpty(c.Relations)
	for i := range c.Emails {
		c.Emails[i].Primary = i == 0
	}

	addrs := c.Addresses[:0]
	for _, a := range c.Addresses {
		if joinParts(a.Street, a.Extended, a.City, a.Region, a.Postcode, a.Country) != "" {
			addrs = append(addrs, a)
		}
	}
	c.Addresses = addrs

	events := c.Events[:0]
	for _, e := range c.Events {
		if !IsEmpty(e.Date) {
			events = append(events, e)
		}
	}
	c.Events = events

	props := c.Properties[:0]
	for _, p := range c.Properties {
		if !IsEmpty(p.Value) {
			props = append(props, p)
		}
	}
	c.Properties = props
}

func dropEmpty(elems []models.Element) []models.Element {
	out := elems[:0]
	for _, e := range elems {
		if !IsEmpty(e.Value) {
			out = append(out, e)
		}
	}
	return out
}

// Validate reports whether f addresses an existing slot.
func (f Field) Validate() error {
	if f.Kind < 0 || f.Kind >= kindCount || f.Slot < 0 || f.Slot >= f.Kind.Slots() {
		return apperrors.Newf(apperrors.ErrInvalid, "no such field %s", f)
	}
	return nil
}
