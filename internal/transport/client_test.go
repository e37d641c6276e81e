package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/bdimport/internal/tracker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts tracker.Options) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("test", srv.URL, opts), srv
}

func TestAuthenticatorsAreApplied(t *testing.T) {
	tests := []struct {
		name  string
		auth  Authenticator
		check func(t *testing.T, r *http.Request)
	}{
		{"bearer", BearerToken("tok"), func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		}},
		{"basic", BasicAuth{Username: "a@b.c", Password: "pw"}, func(t *testing.T, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "a@b.c", user)
			assert.Equal(t, "pw", pass)
		}},
		{"header", HeaderToken{Header: "Token", Value: "zt"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "zt", r.Header.Get("Token"))
		}},
		{"query", QueryToken{Param: "token", Value: "fb"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "fb", r.URL.Query().Get("token"))
			assert.Equal(t, "search", r.URL.Query().Get("cmd"))
		}},
		{"cookie", SessionCookie{Name: "sid", Value: "s1"}, func(t *testing.T, r *http.Request) {
			c, err := r.Cookie("sid")
			require.NoError(t, err)
			assert.Equal(t, "s1", c.Value)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *http.Request
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				got = r
				_, _ = w.Write([]byte(`{}`))
			}, tracker.Options{})

			_, err := c.Authenticate(context.Background(), Static(tt.auth))
			require.NoError(t, err)
			assert.True(t, c.Authenticated())

			_, err = c.Get(context.Background(), "/api.asp", url.Values{"cmd": {"search"}})
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, tracker.DefaultUserAgent, got.Header.Get("User-Agent"))
			tt.check(t, got)
		})
	}
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantAuth  bool
		wantAPI   bool
		retryable bool
	}{
		{http.StatusUnauthorized, true, false, false},
		{http.StatusForbidden, true, false, false},
		{http.StatusNotFound, false, true, false},
		{http.StatusTooManyRequests, false, true, true},
		{http.StatusBadGateway, false, true, true},
		{http.StatusInternalServerError, false, true, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}, tracker.Options{})

			_, err := c.Get(context.Background(), "/rest/api/2/search", url.Values{"token": {"secret"}})
			require.Error(t, err)
			assert.Equal(t, tt.wantAuth, tracker.IsAuthError(err))
			var apiErr *tracker.APIError
			assert.Equal(t, tt.wantAPI, errors.As(err, &apiErr))
			assert.Equal(t, tt.retryable, tracker.IsRetryable(err))
			assert.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestConnectionRefusedIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	c := New("test", addr, tracker.Options{Timeout: time.Second})
	_, err := c.Get(context.Background(), "/x", nil)
	var te *tracker.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.True(t, tracker.IsRetryable(err))
	assert.Equal(t, http.MethodGet, te.Op)
}

func TestRequestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, tracker.Options{Timeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.Get(context.Background(), "/slow", nil)
	var te *tracker.TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.True(t, te.Timeout())
}

func TestCanceledContextIsReturnedAsIs(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}, tracker.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "/x", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, tracker.IsRetryable(err))
}

func TestBodyLimit(t *testing.T) {
	body := strings.Repeat("x", 64)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}, tracker.Options{MaxResponseBytes: 32})

	_, err := c.Get(context.Background(), "/big", nil)
	assert.ErrorIs(t, err, tracker.ErrResponseTooLarge)

	exact := New("test", c.BaseURL, tracker.Options{MaxResponseBytes: 64})
	resp, err := exact.Get(context.Background(), "/big", nil)
	require.NoError(t, err)
	assert.Len(t, resp.Body, 64)
}

func TestAuthenticateMapsClientErrors(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad password"}`))
	}, tracker.Options{})

	login := func(ctx context.Context, c *Client) (Authenticator, error) {
		if _, err := c.PostJSON(ctx, "/api.php/v1/tokens", map[string]string{"account": "a"}); err != nil {
			return nil, err
		}
		return HeaderToken{Header: "Token", Value: "t"}, nil
	}

	_, err := c.Authenticate(context.Background(), login)
	var authErr *tracker.AuthenticationError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	assert.Equal(t, "test", authErr.Tracker)
	assert.False(t, c.Authenticated())
}

func TestProbeLogin(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"name":"me"}`))
	}, tracker.Options{})

	_, err := c.Authenticate(context.Background(), Probe(BearerToken("bad"), "/myself"))
	assert.True(t, tracker.IsAuthError(err))

	_, err = c.Authenticate(context.Background(), Probe(BearerToken("good"), "/myself"))
	require.NoError(t, err)

	var me struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/myself", nil, &me))
	assert.Equal(t, "me", me.Name)
}

func TestPostForm(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(r.PostForm.Get("q")))
	}, tracker.Options{})

	resp, err := c.PostForm(context.Background(), "api/maniphest.search", url.Values{"q": {"hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(resp.Body))
}

func TestURL(t *testing.T) {
	c := New("test", "https://example.com/jira/", tracker.Options{})
	assert.Equal(t, "https://example.com/jira/rest", c.URL("rest", nil))
	assert.Equal(t, "https://example.com/jira/rest?a=1", c.URL("/rest", url.Values{"a": {"1"}}))
	assert.Equal(t, "https://other/x?b=2&a=1", c.URL("https://other/x?b=2", url.Values{"a": {"1"}}))
}
