package people

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	apperrors "github.com/kimhsiao/contactsync/internal/errors"
)

const callbackPath = "/oauth2/callback"

// AuthorizeOptions configures the OAuth consent flow.
type AuthorizeOptions struct {
	ClientID     string
	ClientSecret string
	// Manual prints the consent URL and reads the redirect URL back from In
	// instead of listening on a loopback port.
	Manual bool
	// ForceConsent asks Google to issue a new refresh token.
	ForceConsent bool
	Timeout      time.Duration
	In           io.Reader
	Out          io.Writer
	// Endpoint overrides google.Endpoint.
	Endpoint oauth2.Endpoint
}

// Authorize runs the consent flow and returns the refresh token.
func Authorize(ctx context.Context, opts AuthorizeOptions) (string, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return "", apperrors.New(apperrors.ErrConfig, "google.client_id and google.client_secret are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Endpoint.TokenURL == "" {
		opts.Endpoint = google.Endpoint
	}

	state, err := randomState()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if opts.Manual {
		return authorizeManual(ctx, opts, state)
	}
	return authorizeLoopback(ctx, opts, state)
}

func (o AuthorizeOptions) config(redirectURL string) *oauth2.Config {
	cfg := OAuthConfig(o.ClientID, o.ClientSecret, redirectURL)
	cfg.Endpoint = o.Endpoint
	return cfg
}

func authorizeManual(ctx context.Context, opts AuthorizeOptions, state string) (string, error) {
	cfg := opts.config("http://localhost:1")
	authURL := cfg.AuthCodeURL(state, authURLParams(opts.ForceConsent)...)
	fmt.Fprintln(opts.Out, "Visit this URL to authorize:")
	fmt.Fprintln(opts.Out, authURL)
	fmt.Fprintln(opts.Out)
	fmt.Fprintln(opts.Out, "After authorizing, you'll be redirected to a localhost URL that won't load.")
	fmt.Fprintln(opts.Out, "Copy the URL from your browser's address bar and paste it here.")
	fmt.Fprint(opts.Out, "Paste redirect URL: ")

	line, err := bufio.NewReader(opts.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	code, gotState, err := extractCodeAndState(strings.TrimSpace(line))
	if err != nil {
		return "", err
	}
	if gotState != "" && gotState != state {
		return "", apperrors.New(apperrors.ErrAuth, "state mismatch")
	}
	return exchange(ctx, cfg, code)
}

func authorizeLoopback(ctx context.Context, opts AuthorizeOptions, state string) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer func() { _ = ln.Close() }()

	port := ln.Addr().(*net.TCPAddr).Port
	cfg := opts.config(fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath))

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	srv := &http.Server{
		Handler:           callbackHandler(state, codeCh, errCh),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	defer func() { _ = srv.Close() }()

	fmt.Fprintln(opts.Out, "Open this URL in a browser to authorize:")
	fmt.Fprintln(opts.Out, cfg.AuthCodeURL(state, authURLParams(opts.ForceConsent)...))

	select {
	case code := <-codeCh:
		return exchange(ctx, cfg, code)
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// callbackHandler receives the redirect of the consent page.
func callbackHandler(state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	fail := func(w http.ResponseWriter, status int, err error, msg string) {
		select {
		case errCh <- err:
		default:
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(msg + " You can close this window."))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != callbackPath {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			fail(w, http.StatusOK, apperrors.Newf(apperrors.ErrAuth, "authorization error: %s", e), "Authorization cancelled.")
			return
		}
		if q.Get("state") != state {
			fail(w, http.StatusBadRequest, apperrors.New(apperrors.ErrAuth, "state mismatch"), "State mismatch.")
			return
		}
		code := q.Get("code")
		if code == "" {
			fail(w, http.StatusBadRequest, apperrors.New(apperrors.ErrAuth, "missing code"), "Missing code.")
			return
		}
		select {
		case codeCh <- code:
		default:
		}
		_, _ = w.Write([]byte("Success! You can close this window."))
	})
}

func exchange(ctx context.Context, cfg *oauth2.Config, code string) (string, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", classify("exchange authorization code", err)
	}
	if tok.RefreshToken == "" {
		return "", apperrors.New(apperrors.ErrAuth, "no refresh token received; try again with --force-consent")
	}
	return tok.RefreshToken, nil
}

func authURLParams(forceConsent bool) []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if forceConsent {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return opts
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func extractCodeAndState(rawURL string) (code, state string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInvalid, "invalid redirect URL", err)
	}
	q := parsed.Query()
	code = q.Get("code")
	if code == "" {
		return "", "", apperrors.New(apperrors.ErrInvalid, "no code found in URL")
	}
	return code, q.Get("state"), nil
}
