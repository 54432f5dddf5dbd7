package dbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-org-router/internal/errors"
	"github.com/jrsteele09/go-org-router/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	defaultClientInfo = "go-org-router"
	authPath          = "/auth/v1"
	restPath          = "/rest/v1"
)

// Options describe the handle to construct.
type Options struct {
	OrganizationID string
	Endpoint       string
	PublicKey      string
	AccessToken    string       // Header-level token, empty for an anonymous handle
	HTTPClient     *http.Client // Defaults to http.DefaultClient
	ClientInfo     string       // X-Client-Info header value
}

// Client is a handle on one organization's database, bound to a single
// (organization, endpoint, public key) triple.
type Client struct {
	id             uuid.UUID
	organizationID string
	endpoint       string
	publicKey      string
	hasToken       bool
	headers        http.Header
	createdAt      time.Time
	base           *http.Client

	mu        sync.RWMutex
	state     AuthState
	http      *http.Client
	signedOut bool
}

// New validates the options and builds a handle. Construction does no I/O.
func New(opts Options) (*Client, error) {
	endpoint, err := NormalizeEndpoint(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	if err := ValidatePublicKey(opts.PublicKey); err != nil {
		return nil, err
	}

	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}

	clientInfo := opts.ClientInfo
	if clientInfo == "" {
		clientInfo = defaultClientInfo
	}

	headers := http.Header{}
	headers.Set("apikey", opts.PublicKey)
	headers.Set("X-Client-Info", clientInfo)

	token := strings.TrimSpace(opts.AccessToken)
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	return &Client{
		id:             uuid.New(),
		organizationID: opts.OrganizationID,
		endpoint:       endpoint,
		publicKey:      opts.PublicKey,
		hasToken:       token != "",
		headers:        headers,
		createdAt:      time.Now(),
		base:           base,
		state:          Anonymous{},
		http:           base,
	}, nil
}

func (c *Client) ID() uuid.UUID          { return c.id }
func (c *Client) OrganizationID() string { return c.organizationID }
func (c *Client) Endpoint() string       { return c.endpoint }
func (c *Client) PublicKey() string      { return c.publicKey }
func (c *Client) CreatedAt() time.Time   { return c.createdAt }

// HasToken reports whether the handle was constructed with a header-level token.
func (c *Client) HasToken() bool { return c.hasToken }

// Headers returns a copy of the default request headers.
func (c *Client) Headers() http.Header { return c.headers.Clone() }

func (c *Client) AuthState() AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) IsAuthenticated() bool {
	return c.AuthState().IsAuthenticated()
}

// SignedOut reports whether SignOut succeeded on this handle. A signed-out handle
// may still carry the revoked token in its default headers and is not reused by
// the registry.
func (c *Client) SignedOut() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signedOut
}

// SetSession validates session with the backend and, on success, stores it in
// the handle's auth state. Subsequent requests carry the session's bearer token.
// On failure the auth state is left untouched.
func (c *Client) SetSession(ctx context.Context, session *sessions.Session) error {
	identity, err := session.Identity()
	if err != nil {
		return errors.Mark(err, errors.ErrSessionBinding)
	}

	var user sessions.User
	if err := c.do(ctx, c.base, http.MethodGet, authPath+"/user", nil, nil, &user, session.AccessToken); err != nil {
		return errors.Mark(errors.Wrapf(err, "[Client.SetSession] validate session"), errors.ErrSessionBinding)
	}
	if user.ID != identity.ID {
		return errors.Wrapf(errors.ErrSessionBinding, "[Client.SetSession] backend user %q does not match token subject %q", user.ID, identity.ID)
	}

	authed := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(session.Token()),
			Base:   c.base.Transport,
		},
		Timeout:       c.base.Timeout,
		CheckRedirect: c.base.CheckRedirect,
		Jar:           c.base.Jar,
	}

	bound := *session
	bound.User = identity

	c.mu.Lock()
	c.state = Authenticated{Session: bound, User: user}
	c.http = authed
	c.mu.Unlock()

	log.Debug().
		Str("organization", c.organizationID).
		Str("client_id", c.id.String()).
		Str("user_id", user.ID).
		Str("token", sessions.Fingerprint(session.AccessToken)).
		Msg("session bound")
	return nil
}

// CurrentUser returns the user of the bound session without a network call.
func (c *Client) CurrentUser() (*sessions.User, error) {
	authed, ok := c.AuthState().(Authenticated)
	if !ok {
		return nil, errors.ErrNotAuthenticated
	}
	user := authed.User
	return &user, nil
}

// FetchUser asks the backend who the current session belongs to.
func (c *Client) FetchUser(ctx context.Context) (*sessions.User, error) {
	if !c.IsAuthenticated() {
		return nil, errors.ErrNotAuthenticated
	}
	var user sessions.User
	if err := c.do(ctx, c.httpClient(), http.MethodGet, authPath+"/user", nil, nil, &user, ""); err != nil {
		return nil, errors.Wrapf(err, "[Client.FetchUser]")
	}
	return &user, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SignInWithPassword exchanges credentials for a session. The handle's own auth
// state is not changed; bind the returned session to use it.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*sessions.Session, error) {
	q := url.Values{"grant_type": {"password"}}
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	if err := c.do(ctx, c.base, http.MethodPost, authPath+"/token", q, body, &resp, ""); err != nil {
		return nil, errors.Wrapf(err, "[Client.SignInWithPassword]")
	}
	return sessions.New(resp.AccessToken, resp.RefreshToken)
}

// RefreshSession trades the bound refresh token for a new session. The new
// session is returned unbound; token ownership stays with the caller.
func (c *Client) RefreshSession(ctx context.Context) (*sessions.Session, error) {
	authed, ok := c.AuthState().(Authenticated)
	if !ok {
		return nil, errors.ErrNotAuthenticated
	}

	q := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": authed.Session.RefreshToken}

	var resp tokenResponse
	if err := c.do(ctx, c.base, http.MethodPost, authPath+"/token", q, body, &resp, ""); err != nil {
		return nil, errors.Wrapf(err, "[Client.RefreshSession]")
	}
	return sessions.New(resp.AccessToken, resp.RefreshToken)
}

// SignOut revokes the bound session server-side and drops it from the handle.
// The handle is marked signed out; the registry replaces it on the next request
// for its key.
func (c *Client) SignOut(ctx context.Context) error {
	if !c.IsAuthenticated() {
		return errors.ErrNotAuthenticated
	}
	if err := c.do(ctx, c.httpClient(), http.MethodPost, authPath+"/logout", nil, nil, nil, ""); err != nil {
		return errors.Wrapf(err, "[Client.SignOut]")
	}

	c.mu.Lock()
	c.state = Anonymous{}
	c.http = c.base
	c.signedOut = true
	c.mu.Unlock()
	return nil
}

// Select reads rows from table, decoding the JSON array into out.
func (c *Client) Select(ctx context.Context, table string, query url.Values, out any) error {
	if table == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "empty table")
	}
	return c.do(ctx, c.httpClient(), http.MethodGet, restPath+"/"+url.PathEscape(table), query, nil, out, "")
}

// RPC calls a database function with args, decoding the result into out.
func (c *Client) RPC(ctx context.Context, function string, args any, out any) error {
	if function == "" {
		return errors.Wrapf(errors.ErrInvalidRequest, "empty function")
	}
	if args == nil {
		args = map[string]any{}
	}
	return c.do(ctx, c.httpClient(), http.MethodPost, restPath+"/rpc/"+url.PathEscape(function), nil, args, out, "")
}

func (c *Client) httpClient() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.http
}

// do issues one request. bearer, when set, overrides the default Authorization header.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, body, out any, bearer string) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrapf(err, "build request")
	}
	for k, v := range c.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
