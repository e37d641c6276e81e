// Package phabricator imports Maniphest tasks through the Conduit API.
package phabricator

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

// Conduit error codes for a missing, invalid or expired API token.
var authErrorCodes = map[string]bool{
	"ERR-INVALID-AUTH":    true,
	"ERR-INVALID-SESSION": true,
}

// ConduitError is a non-null error_code in a Conduit response.
type ConduitError struct {
	Method string
	Code   string
	Info   string
}

func (e *ConduitError) Error() string {
	return fmt.Sprintf("conduit %s: %s: %s", e.Method, e.Code, e.Info)
}

type envelope struct {
	Result    json.RawMessage `json:"result"`
	ErrorCode *string         `json:"error_code"`
	ErrorInfo *string         `json:"error_info"`
}

// Cursor is the paging block of a *.search result.
type Cursor struct {
	Limit int     `json:"limit"`
	After *string `json:"after"`
}

// SearchResult is the result of a Conduit *.search method.
type SearchResult[T any] struct {
	Data   []T    `json:"data"`
	Cursor Cursor `json:"cursor"`
}

// Next returns the after cursor, "" on the last page.
func (r *SearchResult[T]) Next() string {
	if r.Cursor.After == nil {
		return ""
	}
	return *r.Cursor.After
}

// Task is a maniphest.search result entry.
type Task struct {
	ID     int        `json:"id"`
	PHID   string     `json:"phid"`
	Fields TaskFields `json:"fields"`
}

type TaskFields struct {
	Name        string `json:"name"`
	Description struct {
		Raw string `json:"raw"`
	} `json:"description"`
	AuthorPHID string `json:"authorPHID"`
	OwnerPHID  string `json:"ownerPHID"`
	Status     struct {
		Value string `json:"value"`
		Name  string `json:"name"`
	} `json:"status"`
	Priority struct {
		Name string `json:"name"`
	} `json:"priority"`
	DateCreated  int64  `json:"dateCreated"`
	DateModified int64  `json:"dateModified"`
	DateClosed   *int64 `json:"dateClosed"`
}

// User is a user.search result entry.
type User struct {
	PHID   string `json:"phid"`
	Fields struct {
		Username string `json:"username"`
		RealName string `json:"realName"`
	} `json:"fields"`
}

// Transaction is a transaction.search result entry.
type Transaction struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	AuthorPHID  string `json:"authorPHID"`
	DateCreated int64  `json:"dateCreated"`
	Comments    []struct {
		ID      int  `json:"id"`
		Removed bool `json:"removed"`
		Content struct {
			Raw string `json:"raw"`
		} `json:"content"`
	} `json:"comments"`
}

// Client calls Conduit methods on one Phabricator install.
type Client struct {
	URL string

	http *transport.Client
}

// NewClient creates a client for a normalized Phabricator base URL.
func NewClient(baseURL string, opts tracker.Options) *Client {
	return &Client{URL: baseURL, http: transport.New("phabricator", baseURL, opts)}
}

// NormalizeURL strips whitespace, the query, a trailing "/api" and trailing
// slashes from a Phabricator URL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid phabricator URL %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(strings.TrimSuffix(strings.TrimRight(u.Path, "/"), "/api"), "/")
	u.RawPath = ""
	return u.String(), nil
}

// Login verifies the API token with user.whoami and attaches it as the
// api.token parameter of every later call.
func (c *Client) Login(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return &tracker.AuthenticationError{Tracker: "phabricator", Message: "a Conduit API token is required"}
	}
	auth := transport.QueryToken{Param: "api.token", Value: strings.TrimSpace(token)}
	_, err := c.http.Authenticate(ctx, func(ctx context.Context, hc *transport.Client) (transport.Authenticator, error) {
		var me User
		if err := conduit(ctx, hc, "user.whoami", url.Values{"api.token": {auth.Value}}, &me); err != nil {
			return nil, err
		}
		return auth, nil
	})
	return err
}

// SearchTasks runs one maniphest.search page.
func (c *Client) SearchTasks(ctx context.Context, form url.Values) (*SearchResult[Task], error) {
	var result SearchResult[Task]
	if err := conduit(ctx, c.http, "maniphest.search", form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SearchUsers runs one user.search page, optionally restricted to phids.
func (c *Client) SearchUsers(ctx context.Context, phids []string, after string, limit int) (*SearchResult[User], error) {
	form := url.Values{"limit": {strconv.Itoa(limit)}}
	for i, phid := range phids {
		form.Set(fmt.Sprintf("constraints[phids][%d]", i), phid)
	}
	if after != "" {
		form.Set("after", after)
	}
	var result SearchResult[User]
	if err := conduit(ctx, c.http, "user.search", form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Comments returns every comment transaction on a task, oldest first.
func (c *Client) Comments(ctx context.Context, taskPHID string, limit int) ([]Transaction, error) {
	var out []Transaction
	after := ""
	for {
		form := url.Values{"objectIdentifier": {taskPHID}, "limit": {strconv.Itoa(limit)}}
		if after != "" {
			form.Set("after", after)
		}
		var result SearchResult[Transaction]
		if err := conduit(ctx, c.http, "transaction.search", form, &result); err != nil {
			return nil, err
		}
		for _, tx := range result.Data {
			if tx.Type == "comment" {
				out = append(out, tx)
			}
		}
		if after = result.Next(); after == "" {
			break
		}
	}
	// transaction.search returns newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// conduit posts one method call and decodes its result into v.
func conduit(ctx context.Context, hc *transport.Client, method string, form url.Values, v any) error {
	resp, err := hc.PostForm(ctx, "/api/"+method, form)
	if err != nil {
		return fmt.Errorf("conduit %s: %w", method, err)
	}
	var env envelope
	if err := hc.Parser().DecodeJSON(resp.Body, &env); err != nil {
		return fmt.Errorf("conduit %s: %w", method, err)
	}
	if env.ErrorCode != nil && *env.ErrorCode != "" {
		info := ""
		if env.ErrorInfo != nil {
			info = *env.ErrorInfo
		}
		if authErrorCodes[*env.ErrorCode] {
			return &tracker.AuthenticationError{Tracker: "phabricator", Message: info}
		}
		return &ConduitError{Method: method, Code: *env.ErrorCode, Info: info}
	}
	if err := json.Unmarshal(env.Result, v); err != nil {
		return &tracker.ParseError{Format: "json", Err: fmt.Errorf("conduit %s result: %w", method, err)}
	}
	return nil
}
