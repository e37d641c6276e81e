// Package zentao imports bugs from ZenTao through its REST API (api.php/v1).
package zentao

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/transport"
)

const apiBase = "/api.php/v1"

// Account is a ZenTao user reference. Depending on the server version it is
// serialized as an object or as a bare account name.
type Account struct {
	ID       int    `json:"id"`
	Account  string `json:"account"`
	Realname string `json:"realname"`
	Email    string `json:"email"`
}

func (a *Account) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = Account{Account: name}
		return nil
	}
	type plain Account
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Account(p)
	return nil
}

// Bug is an entry of products/{id}/bugs, or a full bug with its actions.
type Bug struct {
	ID           int      `json:"id"`
	Product      int      `json:"product"`
	Title        string   `json:"title"`
	Steps        string   `json:"steps"`
	Status       string   `json:"status"`
	Keywords     string   `json:"keywords"`
	OpenedBy     *Account `json:"openedBy"`
	AssignedTo   *Account `json:"assignedTo"`
	OpenedDate   string   `json:"openedDate"`
	LastEdited   string   `json:"lastEditedDate"`
	ResolvedDate string   `json:"resolvedDate"`
	ClosedDate   string   `json:"closedDate"`
	Actions      []Action `json:"actions"`
}

// Action is a history entry of a bug. Entries with a comment become notes.
type Action struct {
	ID      int    `json:"id"`
	Action  string `json:"action"`
	Actor   string `json:"actor"`
	Comment string `json:"comment"`
	Date    string `json:"date"`
}

// BugPage is one page of products/{id}/bugs.
type BugPage struct {
	Page  int   `json:"page"`
	Total int   `json:"total"`
	Limit int   `json:"limit"`
	Bugs  []Bug `json:"bugs"`
}

// UserPage is one page of /users.
type UserPage struct {
	Page  int       `json:"page"`
	Total int       `json:"total"`
	Limit int       `json:"limit"`
	Users []Account `json:"users"`
}

// Client talks to one ZenTao installation.
type Client struct {
	URL string

	http *transport.Client
}

// NewClient creates a client for a normalized ZenTao base URL.
func NewClient(baseURL string, opts tracker.Options) *Client {
	return &Client{URL: baseURL, http: transport.New("zentao", baseURL, opts)}
}

// NormalizeURL strips whitespace, the query, a trailing api.php path and
// trailing slashes. A subdirectory install ("/zentao") is kept.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid zentao URL %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	path := strings.TrimRight(u.Path, "/")
	path = strings.TrimSuffix(path, "/v1")
	path = strings.TrimSuffix(path, "/api.php")
	u.Path = strings.TrimRight(path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// Login exchanges an account and password for a session token, sent in the
// Token header afterwards. A token given directly is verified against /user.
func (c *Client) Login(ctx context.Context, account, password, token string) error {
	login := func(ctx context.Context, hc *transport.Client) (transport.Authenticator, error) {
		if token != "" {
			auth := transport.HeaderToken{Header: "Token", Value: token}
			if _, err := transport.Probe(auth, apiBase+"/user")(ctx, hc); err != nil {
				return nil, err
			}
			return auth, nil
		}
		if account == "" || password == "" {
			return nil, &tracker.AuthenticationError{Tracker: "zentao", Message: "account and password or a token are required"}
		}
		resp, err := hc.PostJSON(ctx, apiBase+"/tokens", map[string]string{"account": account, "password": password})
		if err != nil {
			return nil, err
		}
		var out struct {
			Token string `json:"token"`
			Error string `json:"error"`
		}
		if err := hc.Parser().DecodeJSON(resp.Body, &out); err != nil {
			return nil, err
		}
		if out.Token == "" {
			msg := out.Error
			if msg == "" {
				msg = "no token in response"
			}
			return nil, &tracker.AuthenticationError{Tracker: "zentao", StatusCode: resp.StatusCode, Message: msg}
		}
		return transport.HeaderToken{Header: "Token", Value: out.Token}, nil
	}
	_, err := c.http.Authenticate(ctx, login)
	return err
}

// ListBugs returns one page of a product's bugs.
func (c *Client) ListBugs(ctx context.Context, productID, page, limit int) (*BugPage, error) {
	var out BugPage
	path := fmt.Sprintf("%s/products/%d/bugs", apiBase, productID)
	if err := c.http.GetJSON(ctx, path, pageParams(page, limit), &out); err != nil {
		return nil, fmt.Errorf("list bugs: %w", err)
	}
	return &out, nil
}

// GetBug returns a bug with its action history.
func (c *Client) GetBug(ctx context.Context, id int) (*Bug, error) {
	var out Bug
	if err := c.http.GetJSON(ctx, fmt.Sprintf("%s/bugs/%d", apiBase, id), nil, &out); err != nil {
		return nil, fmt.Errorf("get bug %d: %w", id, err)
	}
	return &out, nil
}

// ListUsers returns one page of the user directory.
func (c *Client) ListUsers(ctx context.Context, page, limit int) (*UserPage, error) {
	var out UserPage
	if err := c.http.GetJSON(ctx, apiBase+"/users", pageParams(page, limit), &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return &out, nil
}

func pageParams(page, limit int) url.Values {
	return url.Values{"page": {strconv.Itoa(page)}, "limit": {strconv.Itoa(limit)}}
}
