package mocks

import (
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockHTTPClient implements ports.HTTPClient with a scripted Do
type MockHTTPClient struct {
	do func(req *http.Request) (*http.Response, error)

	mu       sync.Mutex
	requests []*http.Request
}

// NewMockHTTPClient answers every request with do; nil do answers 200 "{}"
func NewMockHTTPClient(do func(req *http.Request) (*http.Response, error)) *MockHTTPClient {
	return &MockHTTPClient{do: do}
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.do == nil {
		return JSONResponse(http.StatusOK, `{}`), nil
	}
	return m.do(req)
}

// CallCount returns how many requests were sent
func (m *MockHTTPClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns the captured requests in order
func (m *MockHTTPClient) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

// JSONResponse builds a response with a JSON body
func JSONResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}
