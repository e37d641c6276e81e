package jira

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

// Deployment is the flavor of a Jira instance.
type Deployment string

const (
	DeploymentCloud  Deployment = "cloud"
	DeploymentServer Deployment = "server"
)

// searchFields is the set of fields requested for every imported issue.
const searchFields = "summary,description,status,project,reporter,creator,assignee,labels,created,updated,resolutiondate,comment"

// usersPageSize is the largest page /users/search accepts.
const usersPageSize = 1000

// Client provides HTTP access to a Jira instance.
type Client struct {
	URL        string
	Deployment Deployment

	http *transport.Client
}

// NewClient creates a client for a normalized Jira base URL.
func NewClient(jiraURL string, opts tracker.Options) *Client {
	return &Client{
		URL:  jiraURL,
		http: transport.New("jira", jiraURL, opts),
	}
}

// Login verifies the credentials against /myself and detects the deployment.
// A username selects basic auth (Cloud email + API token, or Server
// username + password); otherwise the token is sent as a bearer personal
// access token.
func (c *Client) Login(ctx context.Context, username, token string) error {
	username = strings.TrimSpace(username)
	if token == "" {
		return &tracker.AuthenticationError{Tracker: "jira", Message: "API token is required"}
	}
	var auth transport.Authenticator = transport.BearerToken(token)
	if username != "" {
		auth = transport.BasicAuth{Username: username, Password: token}
	}
	if _, err := c.http.Authenticate(ctx, transport.Probe(auth, "/rest/api/2/myself")); err != nil {
		return err
	}
	c.Deployment = c.DetectDeployment(ctx)
	return nil
}

// Authenticated reports whether Login succeeded.
func (c *Client) Authenticated() bool {
	return c.http.Authenticated()
}

// DetectDeployment asks /serverInfo for the deployment type and falls back to
// the host name when the endpoint is unavailable.
func (c *Client) DetectDeployment(ctx context.Context) Deployment {
	var info ServerInfo
	if err := c.http.GetJSON(ctx, "/rest/api/2/serverInfo", nil, &info); err == nil && info.DeploymentType != "" {
		if strings.EqualFold(info.DeploymentType, "cloud") {
			return DeploymentCloud
		}
		return DeploymentServer
	}
	if IsCloudHost(c.URL) {
		return DeploymentCloud
	}
	return DeploymentServer
}

// apiVersion is 3 on Cloud (ADF bodies) and 2 on Server.
func (c *Client) apiVersion() string {
	if c.Deployment == DeploymentCloud {
		return "3"
	}
	return "2"
}

func (c *Client) apiPath(resource string) string {
	return "/rest/api/" + c.apiVersion() + "/" + resource
}

// SearchIssues runs one page of a JQL search.
func (c *Client) SearchIssues(ctx context.Context, jql string, startAt, maxResults int) (*SearchResult, error) {
	params := url.Values{
		"jql":        {jql},
		"fields":     {searchFields},
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	var result SearchResult
	if err := c.http.GetJSON(ctx, c.apiPath("search"), params, &result); err != nil {
		return nil, fmt.Errorf("search issues: %w", err)
	}
	return &result, nil
}

// SearchUsers returns one page of the Cloud user directory.
func (c *Client) SearchUsers(ctx context.Context, startAt, maxResults int) ([]UserField, error) {
	params := url.Values{
		"startAt":    {strconv.Itoa(startAt)},
		"maxResults": {strconv.Itoa(maxResults)},
	}
	var users []UserField
	if err := c.http.GetJSON(ctx, c.apiPath("users/search"), params, &users); err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// DescriptionToPlainText extracts plain text from Jira's ADF (Atlassian Document Format).
// Jira v3 API returns descriptions as ADF JSON; v2 returns plain strings.
func DescriptionToPlainText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var doc adfNode
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Type != "doc" {
		return string(raw)
	}

	var blocks []string
	for _, block := range doc.Content {
		if text := strings.TrimRight(block.text(), "\n"); text != "" {
			blocks = append(blocks, text)
		}
	}
	return strings.Join(blocks, "\n")
}

type adfNode struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Attrs   json.RawMessage `json:"attrs"`
	Content []adfNode       `json:"content"`
}

// text flattens a node. Inline nodes are concatenated; block children end
// up on their own lines.
func (n adfNode) text() string {
	switch n.Type {
	case "text":
		return n.Text
	case "hardBreak":
		return "\n"
	case "mention", "emoji":
		var attrs struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(n.Attrs, &attrs)
		return attrs.Text
	}

	var b strings.Builder
	for _, child := range n.Content {
		switch child.Type {
		case "paragraph", "heading", "codeBlock", "blockquote", "bulletList", "orderedList", "listItem", "panel", "table", "tableRow":
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
			if child.Type == "listItem" {
				b.WriteString("- ")
			}
			b.WriteString(strings.TrimRight(child.text(), "\n"))
			b.WriteString("\n")
		default:
			b.WriteString(child.text())
		}
	}
	return b.String()
}
