// Package transport is the HTTP client shared by all tracker adapters.
//
// It holds the authenticator produced by a tracker login, enforces the
// response size limit while reading bodies, and classifies failures into the
// tracker error taxonomy so the importer can decide what to retry.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"

	"github.com/steveyegge/bdimport/internal/payload"
	"github.com/steveyegge/bdimport/internal/tracker"
)

// maxErrorBody bounds how much of an error response is kept in APIError.
const maxErrorBody = 512

// Response is a fully-read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs requests against one tracker endpoint.
type Client struct {
	Tracker    string // Tracker name used in authentication errors
	BaseURL    string
	HTTPClient *http.Client

	userAgent string
	maxBytes  int64
	parser    *payload.Parser

	mu   sync.RWMutex
	auth Authenticator
}

// New creates a client for baseURL using the injected transport options.
func New(trackerName, baseURL string, opts tracker.Options) *Client {
	opts = opts.WithDefaults()
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		Tracker:    trackerName,
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpClient,
		userAgent:  opts.UserAgent,
		maxBytes:   opts.MaxResponseBytes,
		parser:     payload.FromOptions(opts),
	}
}

// Parser returns the response parser configured with the same limits.
func (c *Client) Parser() *payload.Parser { return c.parser }

// Authenticate runs login, then holds the returned authenticator for every
// later request. Client errors (4xx) during login are reported as
// AuthenticationError.
func (c *Client) Authenticate(ctx context.Context, login Login) (Authenticator, error) {
	a, err := login(ctx, c)
	if err != nil {
		return nil, c.asAuthError(err)
	}
	c.SetAuthenticator(a)
	return a, nil
}

// SetAuthenticator replaces the held authenticator.
func (c *Client) SetAuthenticator(a Authenticator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth = a
}

// Authenticated reports whether an authenticator is held.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth != nil
}

func (c *Client) authenticator() Authenticator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// Get issues a GET for path with the given query parameters.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.send(ctx, http.MethodGet, path, params, nil, "", c.authenticator())
}

// PostForm issues a form-encoded POST.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.send(ctx, http.MethodPost, path, nil, []byte(form.Encode()), "application/x-www-form-urlencoded", c.authenticator())
}

// PostJSON issues a POST with body marshaled as JSON.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.send(ctx, http.MethodPost, path, nil, data, "application/json", c.authenticator())
}

// GetJSON issues a GET and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, v any) error {
	resp, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	return c.parser.DecodeJSON(resp.Body, v)
}

// URL resolves path against the base URL. Absolute URLs are returned as-is.
func (c *Client) URL(path string, params url.Values) string {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u = c.BaseURL + path
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + params.Encode()
	}
	return u
}

func (c *Client) send(ctx context.Context, method, path string, params url.Values, body []byte, contentType string, auth Authenticator) (*Response, error) {
	if c.BaseURL == "" && !strings.Contains(path, "://") {
		return nil, fmt.Errorf("%s URL not configured", c.Tracker)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(path, params), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.5")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if auth != nil {
		auth.Apply(req)
	}
	target := redact(req.URL)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, classify(ctx, method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, classify(ctx, method, target, err)
	}
	tooLarge := int64(len(data)) > c.maxBytes

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &tracker.AuthenticationError{
			Tracker:    c.Tracker,
			StatusCode: resp.StatusCode,
			Message:    snippet(data, http.StatusText(resp.StatusCode)),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &tracker.APIError{
			StatusCode: resp.StatusCode,
			URL:        target,
			Body:       snippet(data, ""),
		}
	case tooLarge:
		return nil, fmt.Errorf("%s %s: %w: body exceeds %d bytes", method, target, tracker.ErrResponseTooLarge, c.maxBytes)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// asAuthError converts client-side API failures during login into
// authentication failures.
func (c *Client) asAuthError(err error) error {
	var apiErr *tracker.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusTooManyRequests {
		return &tracker.AuthenticationError{
			Tracker:    c.Tracker,
			StatusCode: apiErr.StatusCode,
			Message:    snippet([]byte(apiErr.Body), "login rejected"),
		}
	}
	return err
}

// classify maps a client-side failure onto TransportError. Cancellation of the
// caller's context is returned unchanged.
func classify(ctx context.Context, method, target string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	kind := "network"
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		kind = "dns"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = "timeout"
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		kind = "connection"
	}
	return &tracker.TransportError{Op: method, URL: target, Kind: kind, Err: err}
}

// redact drops the query string so tokens never end up in error messages.
func redact(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}

func snippet(data []byte, fallback string) string {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return fallback
	}
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
