// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apiclient

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/logging"
)

// HeaderRequestID carries a per-request correlation ID.
const HeaderRequestID = "X-Request-ID"

// ThrottleEvent describes one 429 response.
type ThrottleEvent struct {
	Method     string
	URL        string
	RetryAfter time.Duration
	RequestID  string
	At         time.Time
}

// =============================================================================
// OPTIONS
// =============================================================================

type options struct {
	base        http.RoundTripper
	logger      *slog.Logger
	throttle    []func(ThrottleEvent)
	requestIDs  bool
	timeout     time.Duration
	maxResponse int64
	userAgent   string
	now         func() time.Time
	origin      string
}

func defaultOptions() options {
	return options{
		base:        http.DefaultTransport,
		requestIDs:  true,
		timeout:     DefaultTimeout,
		maxResponse: MaxResponseSize,
		userAgent:   DefaultUserAgent,
		now:         time.Now,
	}
}

// Option configures a Transport or a Client.
type Option func(*options)

// WithBase sets the RoundTripper that actually sends requests.
func WithBase(rt http.RoundTripper) Option {
	return func(o *options) {
		if rt != nil {
			o.base = rt
		}
	}
}

// WithLogger sets the logger. Headers and bodies are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithThrottleHandler registers fn for every 429 response.
func WithThrottleHandler(fn func(ThrottleEvent)) Option {
	return func(o *options) {
		if fn != nil {
			o.throttle = append(o.throttle, fn)
		}
	}
}

// WithRequestIDs toggles the X-Request-ID header. It is on by default.
func WithRequestIDs(enabled bool) Option {
	return func(o *options) { o.requestIDs = enabled }
}

// WithTimeout sets the overall request timeout used by Client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithMaxResponseSize overrides MaxResponseSize for Client.
func WithMaxResponseSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResponse = n
		}
	}
}

// WithUserAgent sets the User-Agent sent by Client.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithOrigin limits the bearer token to requests for the scheme and host of
// rawURL. Without it the transport authenticates every request it sends.
// Client always sets it from its base URL.
func WithOrigin(rawURL string) Option {
	return func(o *options) {
		if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
			o.origin = originOf(u)
		}
	}
}

func originOf(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// WithNow replaces the clock used for Retry-After and event timestamps.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Transport is an http.RoundTripper that attaches the current session token
// to every request and reacts to 401 and 429 responses.
type Transport struct {
	base       http.RoundTripper
	store      *auth.Store
	logger     *slog.Logger
	requestIDs bool
	now        func() time.Time
	// origin is the only scheme://host that receives the token; "" trusts all.
	origin string

	mu       sync.RWMutex
	handlers map[uint64]func(ThrottleEvent)
	order    []uint64
	nextID   uint64
}

// NewTransport creates a Transport bound to store.
func NewTransport(store *auth.Store, opts ...Option) *Transport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newTransport(store, o)
}

func newTransport(store *auth.Store, o options) *Transport {
	t := &Transport{
		base:       o.base,
		store:      store,
		logger:     logging.OrDiscard(o.logger),
		requestIDs: o.requestIDs,
		now:        o.now,
		origin:     o.origin,
		handlers:   make(map[uint64]func(ThrottleEvent)),
	}
	for _, fn := range o.throttle {
		t.OnThrottle(fn)
	}
	return t
}

// OnThrottle registers fn for every 429 response and returns a function that
// removes it.
func (t *Transport) OnThrottle(fn func(ThrottleEvent)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.handlers[id] = fn
	t.order = append(t.order, id)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.handlers, id)
			for i, v := range t.order {
				if v == id {
					t.order = append(t.order[:i:i], t.order[i+1:]...)
					break
				}
			}
		})
	}
}

// RoundTrip implements http.RoundTripper. The caller's request is never
// modified and the response is returned as received. Requests for another
// origin, such as a followed redirect, go out without the token and their
// 401s leave the session alone.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())

	var token string
	if t.trusts(out.URL) {
		token = t.store.Token()
	}
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	} else {
		out.Header.Del("Authorization")
	}
	if t.requestIDs && out.Header.Get(HeaderRequestID) == "" {
		out.Header.Set(HeaderRequestID, uuid.NewString())
	}

	start := t.now()
	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return resp, err
	}

	t.logger.Debug("api response",
		slog.String("method", out.Method),
		slog.String("path", out.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", out.Header.Get(HeaderRequestID)),
		slog.Duration("duration", t.now().Sub(start)))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		// Only the session that made the call is dropped; a newer login stays.
		if token != "" && t.store.ClearIfToken(token, auth.ReasonUnauthorized) {
			t.logger.Warn("server rejected session",
				slog.String("path", out.URL.Path),
				slog.String("token_fp", logging.Fingerprint(token)))
		}
	case http.StatusTooManyRequests:
		t.throttled(out, resp)
	}
	return resp, nil
}

func (t *Transport) trusts(u *url.URL) bool {
	return t.origin == "" || originOf(u) == t.origin
}

func (t *Transport) throttled(req *http.Request, resp *http.Response) {
	now := t.now()
	retry, _ := ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	ev := ThrottleEvent{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		RetryAfter: retry,
		RequestID:  req.Header.Get(HeaderRequestID),
		At:         now,
	}

	logging.SessionEvent(t.logger, logging.EventThrottled,
		slog.String("method", ev.Method),
		slog.String("path", req.URL.Path),
		slog.Duration("retry_after", ev.RetryAfter),
		slog.String("request_id", ev.RequestID))

	t.mu.RLock()
	fns := make([]func(ThrottleEvent), 0, len(t.order))
	for _, id := range t.order {
		fns = append(fns, t.handlers[id])
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
