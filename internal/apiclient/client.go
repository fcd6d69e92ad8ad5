// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/logging"
)

// Configuration constants for the API client.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultUserAgent identifies the client to the server.
	DefaultUserAgent = "sessionguard/1.0"
)

// Client is a JSON API client whose requests always go through a Transport.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	transport   *Transport
	logger      *slog.Logger
	maxResponse int64
	userAgent   string
	now         func() time.Time
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, store *auth.Store, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", baseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q: missing host", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.origin = originOf(base)

	t := newTransport(store, o)
	return &Client{
		baseURL:     base,
		http:        &http.Client{Transport: t, Timeout: o.timeout},
		transport:   t,
		logger:      logging.OrDiscard(o.logger),
		maxResponse: o.maxResponse,
		userAgent:   o.userAgent,
		now:         o.now,
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Transport returns the underlying Transport.
func (c *Client) Transport() *Transport {
	return c.transport
}

// OnThrottle registers fn for every 429 response.
func (c *Client) OnThrottle(fn func(ThrottleEvent)) (unsubscribe func()) {
	return c.transport.OnThrottle(fn)
}

// Get performs a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do performs a request against path, which is resolved relative to the base
// URL. A non-nil body is sent as JSON. When out is a *[]byte it receives the
// raw body; otherwise a non-empty body is decoded as JSON into out.
//
// Non-2xx responses return a *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req, body != nil)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := c.readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// resolve joins path onto the base URL and refuses anything that would send
// the bearer token to another host.
func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", path, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("%w: %q", ErrForeignURL, path)
	}
	target := c.baseURL.ResolveReference(ref)
	if target.Host != c.baseURL.Host || !strings.HasPrefix(target.Path, c.baseURL.Path) {
		return nil, fmt.Errorf("%w: %q", ErrForeignURL, path)
	}
	return target, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

// readResponse reads the response body with a size limit.
func (c *Client) readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxResponse {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrResponseTooLarge, c.maxResponse)
	}
	return body, nil
}

func (c *Client) statusError(resp *http.Response, body []byte) error {
	retry, _ := ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	var requestID string
	if resp.Request != nil {
		requestID = resp.Request.Header.Get(HeaderRequestID)
	}
	if id := resp.Header.Get(HeaderRequestID); id != "" {
		requestID = id
	}

	c.logger.Debug("api error response",
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID))

	return &StatusError{
		Status:     resp.StatusCode,
		Body:       body,
		RequestID:  requestID,
		RetryAfter: retry,
	}
}
