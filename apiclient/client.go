// Package apiclient is an authenticated JSON API client. Requests carry the
// stored access token; a 401 triggers a single shared refresh-token exchange
// after which the request is retried once. Every failure is returned as an
// *Error classified into a fixed set of codes.
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Default endpoint paths of the verigate API.
const (
	DefaultLoginPath   = "/api/v1/users/login"
	DefaultRefreshPath = "/api/v1/users/refresh-token"
	DefaultLogoutPath  = "/api/v1/users/logout"
)

// RequestIDHeader carries a per-request UUID, identical across the retry.
const RequestIDHeader = "X-Request-ID"

// Request describes one logical API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON encoded unless it already is a []byte.
	Body any
	// CredentialIssuing marks endpoints such as login where a 401 means
	// wrong credentials rather than an expired token.
	CredentialIssuing bool
}

// attempt tracks the single allowed retry of a request.
type attempt struct {
	req     *Request
	retried bool
}

// LoginResult is the decoded login response. User is the server's user
// object, left undecoded.
type LoginResult struct {
	User       jsoniter.RawMessage
	Credential Credential
}

type loginResponse struct {
	tokenResponse
	User jsoniter.RawMessage `json:"user"`
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the default HTTP transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLoginPath overrides the login endpoint.
func WithLoginPath(path string) Option {
	return func(c *Client) { c.loginPath = path }
}

// WithRefreshPath overrides the refresh-token endpoint.
func WithRefreshPath(path string) Option {
	return func(c *Client) { c.refreshPath = path }
}

// WithLogoutPath overrides the logout endpoint.
func WithLogoutPath(path string) Option {
	return func(c *Client) { c.logoutPath = path }
}

// WithTerminator sets the hook run when the session ends and the user has to
// sign in again.
func WithTerminator(hook func()) Option {
	return func(c *Client) { c.hook = hook }
}

// WithObserver adds an observer of session events.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observers = append(c.observers, o) }
}

// WithMetrics exports session events through m.
func WithMetrics(m *Metrics) Option {
	return WithObserver(m)
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRefreshTimeout bounds each refresh-token exchange.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) { c.refreshTimeout = d }
}

// Client executes API requests on behalf of one session. It is safe for
// concurrent use; construct one per session in the composition root.
type Client struct {
	baseURL   *url.URL
	store     CredentialStore
	transport Transport

	loginPath   string
	refreshPath string
	logoutPath  string

	hook           func()
	observers      observers
	observer       Observer
	log            zerolog.Logger
	now            func() time.Time
	refreshTimeout time.Duration

	term  *Terminator
	coord *coordinator
}

var _ oauth2.TokenSource = (*Client)(nil)

// New creates a Client for the API at baseURL backed by store.
func New(baseURL string, store CredentialStore, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("credential store is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("URL must include a host")
	}

	c := &Client{
		baseURL:        u,
		store:          store,
		loginPath:      DefaultLoginPath,
		refreshPath:    DefaultRefreshPath,
		logoutPath:     DefaultLogoutPath,
		log:            zerolog.Nop(),
		now:            time.Now,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		t, err := NewHTTPTransport(DefaultRequestTimeout, 0)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}

	c.observer = NopObserver{}
	if len(c.observers) > 0 {
		c.observer = c.observers
	}

	c.term = NewTerminator(store, c.hook)
	c.term.observer = c.observer

	c.coord = &coordinator{
		store:    store,
		exchange: c.exchangeRefreshToken,
		term:     c.term,
		observer: c.observer,
		log:      c.log,
		timeout:  c.refreshTimeout,
	}
	return c, nil
}

// Terminator returns the session terminator used by the client.
func (c *Client) Terminator() *Terminator {
	return c.term
}

// Do executes req and decodes a successful JSON body into out. out may be
// nil, or a *[]byte to receive the raw body. The returned error, if any, is
// an *Error.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	err := c.do(ctx, req, out)
	c.observer.RequestFinished(req.Method, req.Path, err)
	return err
}

func (c *Client) do(ctx context.Context, req *Request, out any) error {
	body, err := encodeBody(req.Body)
	if err != nil {
		return newError(CodeUnknown, 0, fmt.Errorf("failed to encode request body: %w", err))
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return newError(CodeUnknown, 0, err)
	}

	cred, err := c.store.Get(ctx)
	if err != nil {
		return newError(CodeUnknown, 0, fmt.Errorf("failed to read credentials: %w", err))
	}
	var token string
	if cred != nil {
		token = cred.AccessToken
	}

	requestID := uuid.NewString()
	at := attempt{req: req}

	for {
		logger := c.log.With().
			Str("method", req.Method).
			Str("path", req.Path).
			Str("request_id", requestID).
			Bool("retried", at.retried).
			Logger()

		resp, err := c.transport.Send(ctx, c.outbound(req.Method, target, body, token, requestID))
		if err != nil {
			logger.Debug().Err(err).Msg("request failed without response")
			return classifyTransport(err)
		}
		logger.Debug().Int("status", resp.Status).Msg("response received")

		switch {
		case resp.Status >= 200 && resp.Status <= 299:
			if err := decodeBody(resp.Body, out); err != nil {
				return newError(CodeUnknown, resp.Status, fmt.Errorf("failed to parse response: %w", err))
			}
			return nil

		case resp.Status == http.StatusUnauthorized:
			if at.req.CredentialIssuing {
				return classifyUnauthorizedLogin(resp.Body)
			}
			c.observer.AccessTokenRejected(req.Method, req.Path)

			if at.retried {
				logger.Info().Msg("refreshed token rejected, session expired")
				c.coord.expire(ctx, token)
				return newError(CodeSessionExpired, resp.Status, nil)
			}

			fresh, err := c.coord.refresh(ctx, token)
			if err != nil {
				return err
			}
			token = fresh.AccessToken
			at.retried = true

		default:
			return classifyStatus(resp.Status, resp.Body)
		}
	}
}

func classifyUnauthorizedLogin(body []byte) *Error {
	e := newError(CodeInvalidCredentials, http.StatusUnauthorized, nil)
	var errBody apiErrorBody
	if len(body) > 0 && json.Unmarshal(body, &errBody) == nil {
		e.ServerCode = errBody.Error
	}
	return e
}

func (c *Client) outbound(method, target string, body []byte, token, requestID string) *OutboundRequest {
	header := make(http.Header)
	header.Set("Accept", "application/json")
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	header.Set(RequestIDHeader, requestID)

	return &OutboundRequest{
		Method: method,
		URL:    target,
		Header: header,
		Body:   body,
	}
}

// resolve joins path onto the base URL.
func (c *Client) resolve(path string, query url.Values) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("request path must be relative, got: %s", path)
	}

	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawPath = ""

	q := ref.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path}, out)
}

// Login exchanges email and password for a credential and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp loginResponse
	err := c.Do(ctx, &Request{
		Method:            http.MethodPost,
		Path:              c.loginPath,
		Body:              map[string]string{"email": email, "password": password},
		CredentialIssuing: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	cred, err := resp.credential(c.now(), "")
	if err != nil {
		return nil, newError(CodeUnknown, http.StatusOK, fmt.Errorf("invalid login response: %w", err))
	}

	if err := c.coord.install(ctx, cred); err != nil {
		return nil, newError(CodeUnknown, 0, fmt.Errorf("failed to store credentials: %w", err))
	}
	c.term.Rearm()
	c.log.Info().Str("access_token", cred.Preview()).Msg("logged in")

	return &LoginResult{User: resp.User, Credential: cred}, nil
}

// SetCredential installs a credential obtained elsewhere and re-arms the
// terminator.
func (c *Client) SetCredential(ctx context.Context, cred Credential) error {
	if err := c.coord.install(ctx, cred); err != nil {
		return err
	}
	c.term.Rearm()
	return nil
}

// Logout asks the server to invalidate the session and clears the local
// credential. The server call goes through the usual refresh and retry, so
// an expired access token is renewed before the session is revoked. The call
// is best effort; only a failure to clear the store is returned. Nothing is
// sent when no credential is stored.
func (c *Client) Logout(ctx context.Context) error {
	cred, err := c.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	if cred != nil {
		err := c.Do(ctx, &Request{
			Method: http.MethodPost,
			Path:   c.logoutPath,
		}, nil)
		if err != nil {
			c.log.Warn().Err(err).Msg("logout request failed")
		}
	}

	if err := c.coord.clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// Credential returns the stored credential, or nil when signed out.
func (c *Client) Credential(ctx context.Context) (*Credential, error) {
	return c.store.Get(ctx)
}

// Token implements oauth2.TokenSource over the stored credential. It never
// refreshes; expired tokens are returned as they are.
func (c *Client) Token() (*oauth2.Token, error) {
	cred, err := c.store.Get(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if cred == nil || cred.AccessToken == "" {
		return nil, ErrAuthenticationRequired
	}
	return cred.Token(), nil
}
