// Package testutil provides a fake tracker HTTP server for adapter tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   url.Values
	Headers http.Header
	Body    []byte
}

// Form parses the recorded body as form values.
func (r RecordedRequest) Form() url.Values {
	v, _ := url.ParseQuery(string(r.Body))
	return v
}

// MockResponse represents a configured response for the mock server.
type MockResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Headers     map[string]string
}

// MockTrackerServer is a fake remote tracker. Requests are recorded, then
// answered by the first of: simulated errors, a canned response for the path,
// a handler registered for the path, the default handler, or a 404.
type MockTrackerServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	requests []RecordedRequest

	responses      map[string]MockResponse
	handlers       map[string]http.HandlerFunc
	defaultHandler http.HandlerFunc

	// Error simulation
	authError        bool
	serverError      bool
	rateLimitRetries int
	rateLimitCount   int
}

// NewMockTrackerServer starts a server that is shut down when t finishes.
func NewMockTrackerServer(t testing.TB) *MockTrackerServer {
	m := &MockTrackerServer{
		responses: make(map[string]MockResponse),
		handlers:  make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	t.Cleanup(m.Server.Close)
	return m
}

func (m *MockTrackerServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header.Clone(),
		Body:    body,
	})
	authError, serverError := m.authError, m.serverError
	rateLimited := m.rateLimitCount < m.rateLimitRetries
	if rateLimited {
		m.rateLimitCount++
	}
	resp, hasResponse := m.responses[r.URL.Path]
	handler := m.handlers[r.URL.Path]
	if handler == nil {
		handler = m.defaultHandler
	}
	m.mu.Unlock()

	switch {
	case authError:
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	case rateLimited:
		w.Header().Set("Retry-After", "1")
		WriteJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limited"})
	case serverError:
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	case hasResponse:
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		if resp.StatusCode != 0 {
			w.WriteHeader(resp.StatusCode)
		}
		_, _ = w.Write(resp.Body)
	case handler != nil:
		r.Body = io.NopCloser(bytes.NewReader(body))
		handler(w, r)
	default:
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	}
}

// URL returns the mock server URL.
func (m *MockTrackerServer) URL() string {
	return m.Server.URL
}

// SetJSON answers path with v encoded as JSON.
func (m *MockTrackerServer) SetJSON(path string, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.SetBody(path, statusCode, "application/json", string(data))
}

// SetBody answers path with a raw body.
func (m *MockTrackerServer) SetBody(path string, statusCode int, contentType, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = MockResponse{StatusCode: statusCode, ContentType: contentType, Body: []byte(body)}
}

// Handle registers a handler for requests to path.
func (m *MockTrackerServer) Handle(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetDefaultHandler sets a custom handler for unmatched requests.
func (m *MockTrackerServer) SetDefaultHandler(handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultHandler = handler
}

// SetAuthError enables/disables 401 Unauthorized responses.
func (m *MockTrackerServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// SetRateLimitError answers the next retries requests with 429 Too Many Requests.
func (m *MockTrackerServer) SetRateLimitError(retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitRetries = retries
	m.rateLimitCount = 0
}

// SetServerError enables/disables 500 Internal Server Error responses.
func (m *MockTrackerServer) SetServerError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverError = enabled
}

// GetRequests returns all recorded requests.
func (m *MockTrackerServer) GetRequests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// RequestsTo returns the recorded requests for path.
func (m *MockTrackerServer) RequestsTo(path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.GetRequests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// GetRequestCount returns the number of recorded requests.
func (m *MockTrackerServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Reset clears all recorded requests and responses.
func (m *MockTrackerServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responses = make(map[string]MockResponse)
	m.handlers = make(map[string]http.HandlerFunc)
	m.authError = false
	m.serverError = false
	m.rateLimitCount = 0
	m.rateLimitRetries = 0
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteXML writes a raw XML response.
func WriteXML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
