package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"time"
)

// TestContext holds state between test steps. The server boots lazily on the
// first request, so Given-steps can still tune the abuse limits beforehand.
type TestContext struct {
	Config serverConfig

	server *httptest.Server
	sender *codeBox

	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	AccessToken  string
	RefreshToken string
}

// NewTestContext creates a fresh test context with default limits. The client
// carries a cookie jar so scenarios exercise the same cookie round-trips a
// browser would.
func NewTestContext() *TestContext {
	jar, _ := cookiejar.New(nil)
	return &TestContext{
		Config: defaultServerConfig(),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			Jar:     jar,
		},
	}
}

// Reset returns the context to its initial state in place, shutting down any
// running server. Steps hold the pointer, so the value must mutate rather
// than be replaced.
func (tc *TestContext) Reset() {
	tc.Close()
	*tc = *NewTestContext()
}

// Close shuts down the scenario's server if one was started.
func (tc *TestContext) Close() {
	if tc.server != nil {
		tc.server.Close()
		tc.server = nil
	}
}

func (tc *TestContext) ensureServer() error {
	if tc.server != nil {
		return nil
	}
	srv, sender, err := newServer(tc.Config)
	if err != nil {
		return err
	}
	tc.server = srv
	tc.sender = sender
	return nil
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body interface{}) error {
	return tc.POSTWithHeaders(path, body, nil)
}

// POSTWithHeaders makes a POST request with optional headers
func (tc *TestContext) POSTWithHeaders(path string, body interface{}, headers map[string]string) error {
	if err := tc.ensureServer(); err != nil {
		return err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), "POST", tc.server.URL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return tc.do(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string, headers map[string]string) error {
	if err := tc.ensureServer(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), "GET", tc.server.URL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	return nil
}

// GetResponseField extracts a top-level field from the JSON response
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}

	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}

	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		if _, ok := data[text]; ok {
			return true
		}
	}

	return false
}

// GetLastResponseBody exposes the raw body for failure dumps.
func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}
