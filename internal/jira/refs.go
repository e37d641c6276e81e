package jira

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ReferencePattern matches a Jira issue key such as "PROJ-123".
var ReferencePattern = regexp.MustCompile(`\b[A-Z][A-Z0-9_]*-\d+`)

var projectKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// IsIssueKey reports whether s is exactly one issue key.
func IsIssueKey(s string) bool {
	loc := ReferencePattern.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// IsProjectKey reports whether s looks like a project key ("PROJ").
func IsProjectKey(s string) bool {
	return projectKeyPattern.MatchString(s)
}

// NormalizeURL trims whitespace, the query string, the fragment and any
// trailing slashes from a Jira base URL. A context path (e.g. "/jira") is kept.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("jira URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid jira URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid jira URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid jira URL %q: missing host", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

// IsCloudHost reports whether the URL points at an Atlassian Cloud site.
func IsCloudHost(jiraURL string) bool {
	u, err := url.Parse(jiraURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), ".atlassian.net")
}

// BrowseURL returns the web URL of an issue.
func BrowseURL(jiraURL, key string) string {
	return strings.TrimSuffix(jiraURL, "/") + "/browse/" + key
}

// ParseTimestamp parses Jira's timestamp format into a time.Time.
// Jira uses ISO 8601 with timezone: 2024-01-15T10:30:00.000+0000 or 2024-01-15T10:30:00.000Z
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	formats := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05-0700",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}
