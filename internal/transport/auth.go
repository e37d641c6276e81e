package transport

import (
	"context"
	"encoding/base64"
	"net/http"
)

// Authenticator attaches credentials to an outgoing request.
type Authenticator interface {
	Apply(req *http.Request)
}

// BearerToken sends "Authorization: Bearer <token>".
type BearerToken string

func (t BearerToken) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(t))
}

// BasicAuth sends HTTP basic credentials (Jira Cloud email + API token).
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Apply(req *http.Request) {
	auth := base64.StdEncoding.EncodeToString([]byte(b.Username + ":" + b.Password))
	req.Header.Set("Authorization", "Basic "+auth)
}

// HeaderToken sends a token in a custom header (ZenTao "Token: ...").
type HeaderToken struct {
	Header string
	Value  string
}

func (h HeaderToken) Apply(req *http.Request) {
	req.Header.Set(h.Header, h.Value)
}

// QueryToken sends a token as a query parameter (FogBugz "token=...").
type QueryToken struct {
	Param string
	Value string
}

func (q QueryToken) Apply(req *http.Request) {
	values := req.URL.Query()
	values.Set(q.Param, q.Value)
	req.URL.RawQuery = values.Encode()
}

// SessionCookie sends a session cookie obtained from a login exchange.
type SessionCookie struct {
	Name  string
	Value string
}

func (s SessionCookie) Apply(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: s.Name, Value: s.Value})
}

// Login performs a tracker-specific login against the client and returns the
// authenticator to use for every later request. Logins run unauthenticated.
type Login func(ctx context.Context, c *Client) (Authenticator, error)

// Static returns a Login that installs a without contacting the server.
func Static(a Authenticator) Login {
	return func(context.Context, *Client) (Authenticator, error) {
		return a, nil
	}
}

// Probe returns a Login that installs a and verifies it with a GET of path.
func Probe(a Authenticator, path string) Login {
	return func(ctx context.Context, c *Client) (Authenticator, error) {
		if _, err := c.send(ctx, http.MethodGet, path, nil, nil, "", a); err != nil {
			return nil, err
		}
		return a, nil
	}
}
