// Package fogbugz imports cases from FogBugz through its XML API (api.asp).
package fogbugz

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/steveyegge/bdimport/internal/tracker"
	"github.com/steveyegge/bdimport/internal/transport"
)

const apiPath = "/api.asp"

// searchColumns are the case columns requested by every search.
const searchColumns = "ixBug,sTitle,sProject,fOpen,ixPersonOpenedBy,ixPersonAssignedTo,sPersonAssignedTo,tags,dtOpened,dtLastUpdated,dtClosed,events"

// API error codes that mean the credentials or the session token are bad.
const (
	codeLogonFailed    = 1
	codeLogonAmbiguous = 2
	codeNotLoggedOn    = 3
)

// Error is an <error code="..."> element returned in place of a result.
type Error struct {
	Code    int    `xml:"code,attr"`
	Message string `xml:",chardata"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("fogbugz error %d: %s", e.Code, strings.TrimSpace(e.Message))
}

// classify turns logon and session errors into authentication failures.
func (e *Error) classify() error {
	switch e.Code {
	case codeLogonFailed, codeLogonAmbiguous, codeNotLoggedOn:
		return &tracker.AuthenticationError{Tracker: "fogbugz", Message: strings.TrimSpace(e.Message)}
	}
	return e
}

type response struct {
	XMLName xml.Name `xml:"response"`
	Error   *Error   `xml:"error"`
	Token   string   `xml:"token"`
	Cases   struct {
		Count int    `xml:"count,attr"`
		Cases []Case `xml:"case"`
	} `xml:"cases"`
	People []Person `xml:"people>person"`
	Person *Person  `xml:"person"`
}

// Case is a FogBugz case as returned by cmd=search.
type Case struct {
	IxBug              int      `xml:"ixBug,attr"`
	Title              string   `xml:"sTitle"`
	Project            string   `xml:"sProject"`
	Open               bool     `xml:"fOpen"`
	IxPersonOpenedBy   int      `xml:"ixPersonOpenedBy"`
	IxPersonAssignedTo int      `xml:"ixPersonAssignedTo"`
	PersonAssignedTo   string   `xml:"sPersonAssignedTo"`
	Tags               []string `xml:"tags>tag"`
	Opened             string   `xml:"dtOpened"`
	LastUpdated        string   `xml:"dtLastUpdated"`
	Closed             string   `xml:"dtClosed"`
	Events             []Event  `xml:"events>event"`
}

// Event is one entry of a case history. Events with text become notes.
type Event struct {
	IxBugEvent int    `xml:"ixBugEvent,attr"`
	IxPerson   int    `xml:"ixPerson"`
	Person     string `xml:"sPerson"`
	Verb       string `xml:"sVerb"`
	Text       string `xml:"s"`
	Date       string `xml:"dt"`
}

// Person is an entry of cmd=listPeople.
type Person struct {
	IxPerson int    `xml:"ixPerson"`
	FullName string `xml:"sFullName"`
	Email    string `xml:"sEmail"`
}

// Client talks to one FogBugz installation.
type Client struct {
	URL string

	http *transport.Client
}

// NewClient creates a client for a normalized FogBugz base URL.
func NewClient(baseURL string, opts tracker.Options) *Client {
	return &Client{URL: baseURL, http: transport.New("fogbugz", baseURL, opts)}
}

// NormalizeURL strips surrounding space, a trailing "api.asp" and trailing
// slashes from a FogBugz URL.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid fogbugz URL %q", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(strings.TrimSuffix(strings.TrimRight(u.Path, "/"), apiPath), "/")
	u.RawPath = ""
	return u.String(), nil
}

// Logon exchanges an email and password for an API token. A non-empty token
// is used directly and verified with cmd=viewPerson instead.
func (c *Client) Logon(ctx context.Context, email, password, token string) error {
	login := func(ctx context.Context, hc *transport.Client) (transport.Authenticator, error) {
		if token != "" {
			r, err := call(ctx, hc, "viewPerson", url.Values{"token": {token}})
			if err != nil {
				return nil, err
			}
			if r == nil {
				return nil, &tracker.AuthenticationError{Tracker: "fogbugz", Message: "endpoint did not return an API response"}
			}
			return transport.QueryToken{Param: "token", Value: token}, nil
		}
		if email == "" || password == "" {
			return nil, &tracker.AuthenticationError{Tracker: "fogbugz", Message: "email and password or an API token are required"}
		}
		r, err := call(ctx, hc, "logon", url.Values{"email": {email}, "password": {password}})
		if err != nil {
			return nil, err
		}
		if r == nil || strings.TrimSpace(r.Token) == "" {
			return nil, &tracker.AuthenticationError{Tracker: "fogbugz", Message: "logon returned no token"}
		}
		return transport.QueryToken{Param: "token", Value: strings.TrimSpace(r.Token)}, nil
	}
	_, err := c.http.Authenticate(ctx, login)
	return err
}

// Search returns the cases matching q, at most max of them. A nil result with
// no error means the endpoint answered with an HTML page.
func (c *Client) Search(ctx context.Context, q string, max int) ([]Case, error) {
	r, err := call(ctx, c.http, "search", url.Values{
		"q":    {q},
		"cols": {searchColumns},
		"max":  {strconv.Itoa(max)},
	})
	if err != nil || r == nil {
		return nil, err
	}
	return r.Cases.Cases, nil
}

// ListPeople returns the active people directory.
func (c *Client) ListPeople(ctx context.Context) ([]Person, error) {
	r, err := call(ctx, c.http, "listPeople", url.Values{"fIncludeNormal": {"1"}, "fIncludeVirtual": {"1"}})
	if err != nil || r == nil {
		return nil, err
	}
	return r.People, nil
}

// call runs one api.asp command. It returns nil, nil for HTML pages.
func call(ctx context.Context, hc *transport.Client, cmd string, params url.Values) (*response, error) {
	values := url.Values{"cmd": {cmd}}
	for k, v := range params {
		values[k] = v
	}
	resp, err := hc.Get(ctx, apiPath, values)
	if err != nil {
		return nil, fmt.Errorf("fogbugz %s: %w", cmd, err)
	}
	var r response
	ok, err := hc.Parser().DecodeXML(resp.Body, &r)
	if err != nil {
		return nil, fmt.Errorf("fogbugz %s: %w", cmd, err)
	}
	if !ok {
		return nil, nil
	}
	if r.Error != nil {
		return nil, r.Error.classify()
	}
	return &r, nil
}
