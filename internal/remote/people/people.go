// Package people implements a remote contact source backed by the Google
// People API.
package people

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	peopleapi "google.golang.org/api/people/v1"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
	"github.com/kimhsiao/contactsync/internal/models"
	"github.com/kimhsiao/contactsync/internal/remote"
)

const (
	defaultPageSize = 1000
	// maxPhotoBytes caps a downloaded photo.
	maxPhotoBytes = 10 << 20
)

// Scopes are the OAuth scopes the source needs.
var Scopes = []string{peopleapi.ContactsScope}

// OAuthConfig returns the OAuth client configuration for the People API.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
	}
}

// TokenSource returns a token source refreshing from a stored refresh token.
func TokenSource(ctx context.Context, cfg *oauth2.Config, refreshToken string) oauth2.TokenSource {
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
}

// Source is a remote.Source over one Google account.
type Source struct {
	svc      *peopleapi.Service
	client   *http.Client
	pageSize int64
}

var _ remote.Source = (*Source)(nil)

// New returns a source authenticated by ts. Extra options are applied after
// the token source, so tests can point the service at another endpoint.
func New(ctx context.Context, ts oauth2.TokenSource, opts ...option.ClientOption) (*Source, error) {
	client := oauth2.NewClient(ctx, ts)
	all := append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := peopleapi.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create people service: %w", err)
	}
	return NewWithService(svc, client), nil
}

// NewWithService wraps an existing service. client downloads photos; nil
// uses http.DefaultClient.
func NewWithService(svc *peopleapi.Service, client *http.Client) *Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{svc: svc, client: client, pageSize: defaultPageSize}
}

// FetchGroups implements remote.Source.
func (s *Source) FetchGroups(ctx context.Context) ([]models.RemoteGroup, error) {
	var out []models.RemoteGroup
	pageToken := ""
	for {
		call := s.svc.ContactGroups.List().PageSize(s.pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify("list contact groups", err)
		}
		for _, g := range resp.ContactGroups {
			if g != nil {
				out = append(out, toGroup(g))
			}
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateGroup implements remote.Source.
func (s *Source) CreateGroup(ctx context.Context, name string) (models.RemoteGroup, error) {
	g, err := s.svc.ContactGroups.Create(&peopleapi.CreateContactGroupRequest{
		ContactGroup: &peopleapi.ContactGroup{Name: name},
	}).Context(ctx).Do()
	if err != nil {
		return models.RemoteGroup{}, classify("create contact group", err)
	}
	return toGroup(g), nil
}

// RenameGroup implements remote.Source.
func (s *Source) RenameGroup(ctx context.Context, group models.RemoteGroup, name string) (models.RemoteGroup, error) {
	g, err := s.svc.ContactGroups.Update(group.RemoteID, &peopleapi.UpdateContactGroupRequest{
		ContactGroup: &peopleapi.ContactGroup{Name: name, Etag: group.EditHandle},
	}).Context(ctx).Do()
	if err != nil {
		return models.RemoteGroup{}, classify("rename contact group", err)
	}
	return toGroup(g), nil
}

// DeleteGroup implements remote.Source. Members are kept.
func (s *Source) DeleteGroup(ctx context.Context, group models.RemoteGroup) error {
	_, err := s.svc.ContactGroups.Delete(group.RemoteID).DeleteContacts(false).Context(ctx).Do()
	return classify("delete contact group", err)
}

// FetchAll implements remote.Source.
func (s *Source) FetchAll(ctx context.Context) ([]models.RemoteRecord, error) {
	var out []models.RemoteRecord
	pageToken := ""
	for {
		call := s.svc.People.Connections.List("people/me").
			PersonFields(personFields).
			PageSize(s.pageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, classify("list connections", err)
		}
		for _, p := range resp.Connections {
			if p != nil {
				out = append(out, toRecord(p))
			}
		}
		if resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = resp.NextPageToken
	}
}

// Create implements remote.Source.
func (s *Source) Create(ctx context.Context, draft models.RemoteDraft) (models.RemoteRecord, error) {
	p, err := s.svc.People.CreateContact(toPerson(draft)).PersonFields(personFields).Context(ctx).Do()
	if err != nil {
		return models.RemoteRecord{}, classify("create contact", err)
	}
	return toRecord(p), nil
}

// Update implements remote.Source.
func (s *Source) Update(ctx context.Context, record models.RemoteRecord, draft models.RemoteDraft) (models.RemoteRecord, error) {
	person := toPerson(draft)
	person.Etag = record.EditHandle
	p, err := s.svc.People.UpdateContact(record.RemoteID, person).
		UpdatePersonFields(updateFields).
		PersonFields(personFields).
		Context(ctx).
		Do()
	if err != nil {
		return models.RemoteRecord{}, classify("update contact", err)
	}
	return toRecord(p), nil
}

// Delete implements remote.Source.
func (s *Source) Delete(ctx context.Context, record models.RemoteRecord) error {
	_, err := s.svc.People.DeleteContact(record.RemoteID).Context(ctx).Do()
	return classify("delete contact", err)
}

// UploadPhoto implements remote.Source. Payloads that are not images are
// rejected before the request.
func (s *Source) UploadPhoto(ctx context.Context, record models.RemoteRecord, data []byte) (models.PhotoRef, error) {
	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return models.PhotoRef{}, apperrors.Newf(apperrors.ErrData, "photo of %s is %s, not an image", record.RemoteID, mt.String())
	}
	resp, err := s.svc.People.UpdateContactPhoto(record.RemoteID, &peopleapi.UpdateContactPhotoRequest{
		PhotoBytes:   base64.StdEncoding.EncodeToString(data),
		PersonFields: "photos",
	}).Context(ctx).Do()
	if err != nil {
		return models.PhotoRef{}, classify("upload photo", err)
	}
	if resp.Person == nil {
		return models.PhotoRef{}, nil
	}
	return toRecord(resp.Person).Photo, nil
}

// FetchPhoto implements remote.Source.
func (s *Source) FetchPhoto(ctx context.Context, ref models.PhotoRef) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrData, "invalid photo URL", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify("fetch photo", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, classify("fetch photo", err)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, classify("fetch photo", err)
	}
	return data, nil
}
