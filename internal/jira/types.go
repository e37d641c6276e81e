// Package jira imports issues from Jira Cloud and Jira Server/Data Center.
package jira

import "encoding/json"

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields requested for an import.
type IssueFields struct {
	Summary        string          `json:"summary"`
	Description    json.RawMessage `json:"description"` // ADF (v3) or plain text (v2)
	Status         *StatusField    `json:"status"`
	Project        *ProjectField   `json:"project"`
	Reporter       *UserField      `json:"reporter"`
	Creator        *UserField      `json:"creator"`
	Assignee       *UserField      `json:"assignee"`
	Labels         []string        `json:"labels"`
	Created        string          `json:"created"`
	Updated        string          `json:"updated"`
	ResolutionDate string          `json:"resolutiondate"`
	Comment        *CommentPage    `json:"comment"`
}

// StatusField represents a Jira issue status.
type StatusField struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	StatusCategory *StatusCategory `json:"statusCategory"`
}

// StatusCategory groups statuses into new / indeterminate / done.
type StatusCategory struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// ProjectField represents a Jira project.
type ProjectField struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// UserField represents a Jira user. Cloud identifies users by accountId;
// Server by name and key.
type UserField struct {
	AccountID    string `json:"accountId"`
	Name         string `json:"name"`
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
	Active       *bool  `json:"active"`
	AccountType  string `json:"accountType"`
}

// CommentPage is the embedded comment list of an issue.
type CommentPage struct {
	StartAt    int       `json:"startAt"`
	MaxResults int       `json:"maxResults"`
	Total      int       `json:"total"`
	Comments   []Comment `json:"comments"`
}

// Comment is a Jira issue comment.
type Comment struct {
	ID      string          `json:"id"`
	Author  *UserField      `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
	Updated string          `json:"updated"`
}

// SearchResult represents a Jira JQL search response.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// ServerInfo is the response of /rest/api/2/serverInfo.
type ServerInfo struct {
	BaseURL        string `json:"baseUrl"`
	Version        string `json:"version"`
	DeploymentType string `json:"deploymentType"` // "Cloud", "Server" or "DataCenter"
	ServerTitle    string `json:"serverTitle"`
}
