package people

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	peopleapi "google.golang.org/api/people/v1"

	"github.com/kimhsiao/contactsync/internal/models"
)

const (
	// personFields is the read mask of every person request.
	personFields = "names,nicknames,emailAddresses,phoneNumbers,addresses,organizations," +
		"birthdays,events,relations,userDefined,biographies,memberships,photos,metadata"
	// updateFields is the write mask of UpdateContact. Photos go through
	// UpdateContactPhoto.
	updateFields = "names,nicknames,emailAddresses,phoneNumbers,addresses,organizations," +
		"birthdays,events,relations,userDefined,biographies,memberships"

	// myContactsGroup is the system group every visible contact belongs to.
	myContactsGroup = "contactGroups/myContacts"
	systemGroupType = "SYSTEM_CONTACT_GROUP"
)

// toRecord converts a person into a remote record. An unparseable update
// time yields models.InvalidTimestamp so that validation drops the record.
func toRecord(p *peopleapi.Person) models.RemoteRecord {
	r := models.RemoteRecord{
		RemoteID:     p.ResourceName,
		EditHandle:   p.Etag,
		LastModified: lastModified(p.Metadata),
		Contact:      toContact(p),
	}
	r.DisplayName = displayName(p)
	for _, ph := range p.Photos {
		if ph == nil || ph.Default || ph.Url == "" {
			continue
		}
		r.Photo = models.PhotoRef{URL: ph.Url, ETag: photoETag(ph.Url)}
		break
	}
	return r
}

func displayName(p *peopleapi.Person) string {
	for _, n := range p.Names {
		if n != nil && n.DisplayName != "" {
			return n.DisplayName
		}
	}
	return ""
}

// lastModified returns the update time of the CONTACT source.
func lastModified(meta *peopleapi.PersonMetadata) models.Timestamp {
	if meta == nil {
		return 0
	}
	for _, src := range meta.Sources {
		if src == nil || src.Type != "CONTACT" || src.UpdateTime == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, src.UpdateTime)
		if err != nil {
			return models.InvalidTimestamp
		}
		return models.FromTime(t)
	}
	return 0
}

// photoETag derives a version tag from the photo URL, which changes
// whenever the photo does.
func photoETag(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

func primary(m *peopleapi.FieldMetadata) bool {
	return m != nil && m.Primary
}

func toContact(p *peopleapi.Person) models.RemoteContact {
	var c models.RemoteContact
	if len(p.Names) > 0 && p.Names[0] != nil {
		n := p.Names[0]
		c.Name = models.PersonName{
			Prefix: n.HonorificPrefix,
			Given:  n.GivenName,
			Middle: n.MiddleName,
			Family: n.FamilyName,
			Suffix: n.HonorificSuffix,
			Full:   n.DisplayName,
		}
	}
	if len(p.Nicknames) > 0 && p.Nicknames[0] != nil {
		c.Nickname = p.Nicknames[0].Value
	}
	for _, e := range p.EmailAddresses {
		if e != nil {
			c.Emails = append(c.Emails, models.Element{Type: e.Type, Value: e.Value, Primary: primary(e.Metadata)})
		}
	}
	for _, ph := range p.PhoneNumbers {
		if ph != nil {
			c.Phones = append(c.Phones, models.Element{Type: ph.Type, Value: ph.Value, Primary: primary(ph.Metadata)})
		}
	}
	for _, a := range p.Addresses {
		if a == nil {
			continue
		}
		c.Addresses = append(c.Addresses, models.PostalAddress{
			Type:     a.Type,
			Street:   a.StreetAddress,
			Extended: a.ExtendedAddress,
			City:     a.City,
			Region:   a.Region,
			Postcode: a.PostalCode,
			Country:  a.Country,
		})
	}
	if len(p.Organizations) > 0 && p.Organizations[0] != nil {
		o := p.Organizations[0]
		c.Organization = models.Organization{Name: o.Name, Department: o.Department, Title: o.Title}
	}
	if len(p.Birthdays) > 0 && p.Birthdays[0] != nil {
		c.Birthday = formatDate(p.Birthdays[0].Date)
	}
	for _, ev := range p.Events {
		if ev == nil {
			continue
		}
		if d := formatDate(ev.Date); d != "" {
			c.Events = append(c.Events, models.Event{Type: ev.Type, Date: d})
		}
	}
	for _, rel := range p.Relations {
		if rel != nil {
			c.Relations = append(c.Relations, models.Element{Type: rel.Type, Value: rel.Person})
		}
	}
	for _, ud := range p.UserDefined {
		if ud != nil {
			c.Properties = append(c.Properties, models.Property{Key: ud.Key, Value: ud.Value})
		}
	}
	if len(p.Biographies) > 0 && p.Biographies[0] != nil {
		c.Notes = p.Biographies[0].Value
	}
	for _, m := range p.Memberships {
		if m != nil && m.ContactGroupMembership != nil {
			c.GroupIDs = append(c.GroupIDs, m.ContactGroupMembership.ContactGroupResourceName)
		}
	}
	return c
}

// toPerson converts a draft into the writable fields of a person.
func toPerson(d models.RemoteDraft) *peopleapi.Person {
	c := d.Contact
	p := &peopleapi.Person{}

	n := c.Name
	n.Full = ""
	if n != (models.PersonName{}) {
		p.Names = []*peopleapi.Name{{
			HonorificPrefix: n.Prefix,
			GivenName:       n.Given,
			MiddleName:      n.Middle,
			FamilyName:      n.Family,
			HonorificSuffix: n.Suffix,
		}}
	} else if d.DisplayName != "" {
		p.Names = []*peopleapi.Name{{UnstructuredName: d.DisplayName}}
	}
	if c.Nickname != "" {
		p.Nicknames = []*peopleapi.Nickname{{Value: c.Nickname}}
	}
	for _, e := range c.Emails {
		p.EmailAddresses = append(p.EmailAddresses, &peopleapi.EmailAddress{
			Type:     e.Type,
			Value:    e.Value,
			Metadata: &peopleapi.FieldMetadata{Primary: e.Primary},
		})
	}
	for _, ph := range c.Phones {
		p.PhoneNumbers = append(p.PhoneNumbers, &peopleapi.PhoneNumber{
			Type:     ph.Type,
			Value:    ph.Value,
			Metadata: &peopleapi.FieldMetadata{Primary: ph.Primary},
		})
	}
	for _, a := range c.Addresses {
		p.Addresses = append(p.Addresses, &peopleapi.Address{
			Type:            a.Type,
			StreetAddress:   a.Street,
			ExtendedAddress: a.Extended,
			City:            a.City,
			Region:          a.Region,
			PostalCode:      a.Postcode,
			Country:         a.Country,
		})
	}
	if c.Organization != (models.Organization{}) {
		p.Organizations = []*peopleapi.Organization{{
			Name:       c.Organization.Name,
			Department: c.Organization.Department,
			Title:      c.Organization.Title,
		}}
	}
	if d, ok := parseDate(c.Birthday); ok {
		p.Birthdays = []*peopleapi.Birthday{{Date: d}}
	}
	for _, ev := range c.Events {
		if d, ok := parseDate(ev.Date); ok {
			p.Events = append(p.Events, &peopleapi.Event{Type: ev.Type, Date: d})
		}
	}
	for _, rel := range c.Relations {
		p.Relations = append(p.Relations, &peopleapi.Relation{Type: rel.Type, Person: rel.Value})
	}
	for _, prop := range c.Properties {
		p.UserDefined = append(p.UserDefined, &peopleapi.UserDefined{Key: prop.Key, Value: prop.Value})
	}
	if c.Notes != "" {
		p.Biographies = []*peopleapi.Biography{{Value: c.Notes, ContentType: "TEXT_PLAIN"}}
	}

	// A contact outside myContacts disappears from the contact list.
	groups := c.GroupIDs
	if !containsGroup(groups, myContactsGroup) {
		groups = append([]string{myContactsGroup}, groups...)
	}
	for _, g := range groups {
		p.Memberships = append(p.Memberships, &peopleapi.Membership{
			ContactGroupMembership: &peopleapi.ContactGroupMembership{ContactGroupResourceName: g},
		})
	}
	return p
}

func containsGroup(ids []string, id string) bool {
	for _, g := range ids {
		if strings.EqualFold(g, id) {
			return true
		}
	}
	return false
}

// formatDate renders YYYY-MM-DD, or --MM-DD without a year.
func formatDate(d *peopleapi.Date) string {
	if d == nil || d.Month == 0 || d.Day == 0 {
		return ""
	}
	if d.Year == 0 {
		return fmt.Sprintf("--%02d-%02d", d.Month, d.Day)
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// parseDate is the inverse of formatDate.
func parseDate(s string) (*peopleapi.Date, bool) {
	if s == "" {
		return nil, false
	}
	var year int64
	rest := s
	if strings.HasPrefix(s, "--") {
		rest = s[2:]
	} else {
		i := strings.IndexByte(s, '-')
		if i <= 0 {
			return nil, false
		}
		y, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return nil, false
		}
		year, rest = y, s[i+1:]
	}
	parts := strings.Split(rest, "-")
	if len(parts) != 2 {
		return nil, false
	}
	month, err1 := strconv.ParseInt(parts[0], 10, 64)
	day, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return nil, false
	}
	return &peopleapi.Date{Year: year, Month: month, Day: day}, true
}

func toGroup(g *peopleapi.ContactGroup) models.RemoteGroup {
	name := g.Name
	if name == "" {
		name = g.FormattedName
	}
	return models.RemoteGroup{
		RemoteID:   g.ResourceName,
		Name:       name,
		EditHandle: g.Etag,
		System:     g.GroupType == systemGroupType,
	}
}
