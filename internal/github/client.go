// Package github imports issues from GitHub and GitHub Enterprise Server.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/steveyegge/bdimport/internal/tracker"
)

// newClient builds a go-github client for baseURL ("" or github.com means
// the public API) that sends token on every request.
func newClient(baseURL, token string, opts tracker.Options) (*github.Client, error) {
	base := http.DefaultTransport
	if opts.HTTPClient != nil && opts.HTTPClient.Transport != nil {
		base = opts.HTTPClient.Transport
	}
	httpClient := &http.Client{
		Timeout: opts.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   &limitTransport{base: base, max: opts.MaxResponseBytes},
		},
	}
	client := github.NewClient(httpClient)
	client.UserAgent = opts.UserAgent
	if isPublic(baseURL) {
		return client, nil
	}
	return client.WithEnterpriseURLs(baseURL, baseURL)
}

func isPublic(baseURL string) bool {
	if baseURL == "" {
		return true
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "github.com" || host == "api.github.com"
}

// limitTransport fails a response body read once it passes max bytes.
type limitTransport struct {
	base http.RoundTripper
	max  int64
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || t.max <= 0 {
		return resp, err
	}
	resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: t.max}
	return resp, nil
}

type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		return 0, fmt.Errorf("%w: body exceeds limit", tracker.ErrResponseTooLarge)
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, fmt.Errorf("%w: body exceeds limit", tracker.ErrResponseTooLarge)
	}
	return n, err
}

// classify maps go-github failures onto the tracker error taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, tracker.ErrResponseTooLarge) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse
	var urlErr *url.Error
	switch {
	case errors.As(err, &rateErr):
		return &tracker.APIError{StatusCode: http.StatusTooManyRequests, URL: op, Body: rateErr.Message}
	case errors.As(err, &abuseErr):
		return &tracker.APIError{StatusCode: http.StatusTooManyRequests, URL: op, Body: abuseErr.Message}
	case errors.As(err, &respErr) && respErr.Response != nil:
		status := respErr.Response.StatusCode
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return &tracker.AuthenticationError{Tracker: "github", StatusCode: status, Message: respErr.Message}
		}
		return &tracker.APIError{StatusCode: status, URL: op, Body: respErr.Message}
	case errors.As(err, &urlErr):
		kind := "network"
		if urlErr.Timeout() {
			kind = "timeout"
		}
		return &tracker.TransportError{Op: urlErr.Op, URL: op, Kind: kind, Err: urlErr.Err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
