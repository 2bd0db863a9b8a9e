// Package httpclient provides the "do a GET or POST, get back a status
// and a body" capability the reporter and the update resolver build on.
// Every call carries its own timeout; there are no retries at this layer.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// DefaultMaxBodyBytes bounds how much of a response body is read.
const DefaultMaxBodyBytes = 8 << 20

// Response is a completed HTTP exchange
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError describes a response with a status the caller did not accept
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(e.Body, 512))
}

// Err returns a *StatusError for r
func (r *Response) Err() error {
	return &StatusError{StatusCode: r.StatusCode, Body: r.Body}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Client performs HTTP requests with a per-call timeout. A non-2xx status
// is not an error; callers decide what to do with it.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (*Response, error)
	Post(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (*Response, error)
}

// Config holds transport settings
type Config struct {
	UserAgent    string `toml:"user_agent"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
	// DisableHTTP2 forces HTTP/1.1
	DisableHTTP2 bool `toml:"disable_http2"`
}

// HTTPClient implements Client on net/http
type HTTPClient struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// New builds a client whose transport negotiates HTTP/2 over TLS
func New(config Config) (*HTTPClient, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if !config.DisableHTTP2 {
		if _, err := http2.ConfigureTransports(transport); err != nil {
			return nil, fmt.Errorf("failed to configure http2 transport: %w", err)
		}
	}

	return NewWithHTTPClient(&http.Client{Transport: transport}, config), nil
}

// NewWithHTTPClient wraps an existing *http.Client
func NewWithHTTPClient(client *http.Client, config Config) *HTTPClient {
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}

	return &HTTPClient{
		client:       client,
		userAgent:    config.UserAgent,
		maxBodyBytes: maxBody,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, headers, nil, timeout)
}

// Post performs a POST request with the given body
func (c *HTTPClient) Post(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, headers, body, timeout)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, headers map[string]string, body []byte, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
