package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	appLog "bubusync/internal/log"
)

// Cookie names of the rotating credential pair.
const (
	CookieXSRF    = "XSRF-TOKEN"
	CookieSession = "crm_session"
)

// HeaderXSRF carries the decoded cross-site token on state-changing requests.
const HeaderXSRF = "X-XSRF-TOKEN"

const (
	loginPath  = "/login"
	logoutPath = "/logout"
)

var csrfMeta = regexp.MustCompile(`<meta name="csrf-token" content="([^"]+)"`)

// Tokens is the credential pair the CRM rotates on every response.
type Tokens struct {
	XSRF    string
	Session string
}

// Valid reports whether both tokens are present.
func (t Tokens) Valid() bool {
	return t.XSRF != "" && t.Session != ""
}

// Client talks to one CRM backoffice. It holds no credentials itself; a
// Session is obtained from Login and passed to every authenticated call.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL. A zero timeout keeps the
// transport default. Redirects are never followed: the rotated tokens must
// be read from the response that set them.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Session is one authenticated CRM session. Every request replaces the
// tokens with the ones carried by its response, so requests on a Session
// are serialized.
type Session struct {
	client *Client

	mu     sync.Mutex
	tokens Tokens
}

// Tokens returns the current credential pair.
func (s *Session) Tokens() Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// response is the subset of an HTTP response the session cares about.
type response struct {
	status   int
	location string
	tokens   Tokens
	body     []byte
}

// Login bootstraps a session: it fetches the landing page for the initial
// tokens and the embedded anti-forgery token, then posts the credentials.
// Every failure is reported as ErrAuth; an underlying *HTTPError stays
// reachable through errors.As.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	boot, err := c.send(ctx, http.MethodGet, "/", nil, nil, nil, Tokens{})
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap: %w", ErrAuth, err)
	}
	if !boot.tokens.Valid() {
		return nil, fmt.Errorf("%w: bootstrap response carried no session tokens", ErrAuth)
	}
	m := csrfMeta.FindSubmatch(boot.body)
	if m == nil {
		return nil, fmt.Errorf("%w: bootstrap page has no csrf-token", ErrAuth)
	}

	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	form.Set("_token", string(m[1]))
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.send(ctx, http.MethodPost, loginPath, nil, strings.NewReader(form.Encode()), hdr, boot.tokens)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if res.status >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: login returned status %d", ErrAuth, res.status)
	}
	// The backoffice answers bad credentials with a redirect back to the
	// login form.
	if res.location != "" {
		if u, perr := url.Parse(res.location); perr == nil && strings.TrimRight(u.Path, "/") == loginPath {
			return nil, fmt.Errorf("%w: invalid credentials", ErrAuth)
		}
	}
	if !res.tokens.Valid() {
		return nil, fmt.Errorf("%w: login response carried no session tokens", ErrAuth)
	}

	appLog.Info("crm login ok", "email", email)
	return &Session{client: c, tokens: res.tokens}, nil
}

// Get issues an authenticated GET and returns the body of a 2xx response.
func (s *Session) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return s.do(ctx, http.MethodGet, path, query, nil, nil)
}

// PostJSON issues an authenticated POST with payload encoded as JSON. The
// cross-site token is echoed in the X-XSRF-TOKEN header, URL-decoded.
// Non-2xx responses return an *HTTPError that still carries the body.
func (s *Session) PostJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("crm: encode %s payload: %w", path, err)
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	return s.do(ctx, http.MethodPost, path, nil, data, hdr)
}

// Logout ends the session. It never fails: errors are logged and the
// tokens are cleared either way.
func (s *Session) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens.Valid() {
		if _, err := s.client.send(ctx, http.MethodGet, logoutPath, nil, nil, nil, s.tokens); err != nil {
			appLog.Error("crm logout failed", err)
		}
	}
	s.tokens = Tokens{}
	appLog.Info("crm logout done")
}

func (s *Session) do(ctx context.Context, method, path string, query url.Values, body []byte, hdr http.Header) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tokens.Valid() {
		return nil, &HTTPError{Method: method, Path: path, Err: ErrTokensMissing}
	}
	if method != http.MethodGet {
		if hdr == nil {
			hdr = http.Header{}
		}
		hdr.Set(HeaderXSRF, decodeXSRF(s.tokens.XSRF))
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	res, err := s.client.send(ctx, method, path, query, r, hdr, s.tokens)
	if err != nil {
		return nil, err
	}

	// Rotate before looking at the status: the backend invalidated the
	// tokens we just sent regardless of how the request went. A response
	// carrying only part of the pair leaves the session unusable.
	s.tokens = res.tokens
	if !res.tokens.Valid() {
		return nil, &HTTPError{Method: method, Path: path, StatusCode: res.status, Body: res.body, Err: ErrTokensMissing}
	}

	if res.status < 200 || res.status > 299 {
		return nil, &HTTPError{Method: method, Path: path, StatusCode: res.status, Body: res.body}
	}
	return res.body, nil
}

// send performs one request carrying tok as cookies. Only transport
// failures are returned as errors; status handling is up to the caller.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, hdr http.Header, tok Tokens) (*response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &HTTPError{Method: method, Path: path, Err: err}
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if tok.XSRF != "" {
		req.AddCookie(&http.Cookie{Name: CookieXSRF, Value: tok.XSRF})
	}
	if tok.Session != "" {
		req.AddCookie(&http.Cookie{Name: CookieSession, Value: tok.Session})
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &HTTPError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &HTTPError{Method: method, Path: path, Err: fmt.Errorf("read body: %w", err)}
	}

	res := &response{
		status:   resp.StatusCode,
		location: resp.Header.Get("Location"),
		body:     data,
	}
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case CookieXSRF:
			res.tokens.XSRF = ck.Value
		case CookieSession:
			res.tokens.Session = ck.Value
		}
	}

	appLog.Debug("crm request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", appLog.Since(start),
	)
	return res, nil
}

// decodeXSRF undoes the URL encoding the backend applies to the cookie
// value (typically a trailing "%3D").
func decodeXSRF(v string) string {
	if d, err := url.PathUnescape(v); err == nil {
		return d
	}
	return strings.ReplaceAll(v, "%3D", "=")
}
