// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionguard/internal/auth"
)

type profile struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

func newTestClient(t *testing.T, store *auth.Store, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api", store, opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "api.test", "ftp://api.test", "http://", "://bad"} {
		_, err := New(raw, auth.NewStore())
		assert.Error(t, err, raw)
	}

	c, err := New(" https://api.test/v1 ", auth.NewStore())
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/v1/", c.BaseURL())
}

func TestClient_GetDecodesJSON(t *testing.T) {
	c := newTestClient(t, loggedIn(t, "abc"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/me", r.URL.Path)
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"u1","role":"scanner"}`))
	})

	var p profile
	require.NoError(t, c.Get(context.Background(), "/users/me", &p))
	assert.Equal(t, profile{ID: "u1", Role: "scanner"}, p)
}

func TestClient_PostSendsJSON(t *testing.T) {
	c := newTestClient(t, loggedIn(t, "abc"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "badge-42", in["code"])
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, c.Post(context.Background(), "scans", map[string]any{"code": "badge-42"}, nil))
}

func TestClient_RawBody(t *testing.T) {
	c := newTestClient(t, auth.NewStore(), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text"))
	})

	var raw []byte
	require.NoError(t, c.Get(context.Background(), "/health", &raw))
	assert.Equal(t, "plain text", string(raw))
}

func TestClient_Unauthorized(t *testing.T) {
	store := loggedIn(t, "abc")
	cleared := 0
	store.Subscribe(func(ev auth.Event) {
		if ev.Kind == auth.EventCleared {
			cleared++
		}
	})

	c := newTestClient(t, store, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderRequestID, r.Header.Get(HeaderRequestID))
		http.Error(w, `{"error":"token expired"}`, http.StatusUnauthorized)
	})

	err := c.Get(context.Background(), "/users/me", nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsThrottled(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.NotEmpty(t, se.RequestID)
	assert.Contains(t, se.Error(), "token expired")

	assert.False(t, store.Current().IsAuthenticated())
	assert.Equal(t, 1, cleared)
}

func TestClient_Throttled(t *testing.T) {
	store := loggedIn(t, "abc")
	c := newTestClient(t, store, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	var events []ThrottleEvent
	c.OnThrottle(func(ev ThrottleEvent) { events = append(events, ev) })

	err := c.Get(context.Background(), "/scans", nil)
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	assert.False(t, IsUnauthorized(err))

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 30*time.Second, se.RetryAfter)

	assert.Equal(t, "abc", store.Token())
	require.Len(t, events, 1)
	assert.Equal(t, 30*time.Second, events[0].RetryAfter)
	assert.True(t, strings.HasSuffix(events[0].URL, "/api/scans"))
}

func TestClient_ServerError(t *testing.T) {
	store := loggedIn(t, "abc")
	c := newTestClient(t, store, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := c.Get(context.Background(), "/x", nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Nil(t, se.Unwrap())
	assert.False(t, IsThrottled(err))
	assert.False(t, IsUnauthorized(err))
	assert.Equal(t, "API error (HTTP 500 Internal Server Error)", se.Error())
	assert.Equal(t, "abc", store.Token())
}

func TestClient_ResponseSizeLimit(t *testing.T) {
	c := newTestClient(t, auth.NewStore(), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 64)))
	}, WithMaxResponseSize(64))

	var raw []byte
	require.NoError(t, c.Get(context.Background(), "/exact", &raw), "a body at the limit is accepted")

	c = newTestClient(t, auth.NewStore(), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 65)))
	}, WithMaxResponseSize(64))
	err := c.Get(context.Background(), "/big", &raw)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestClient_InvalidJSON(t *testing.T) {
	c := newTestClient(t, auth.NewStore(), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})

	var p profile
	err := c.Get(context.Background(), "/users/me", &p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse response")
}

func TestClient_RefusesForeignPaths(t *testing.T) {
	hits := 0
	c := newTestClient(t, loggedIn(t, "abc"), func(w http.ResponseWriter, r *http.Request) {
		hits++
	})

	for _, path := range []string{
		"https://evil.test/steal",
		"//evil.test/steal",
		"../outside",
		"mailto:someone",
	} {
		err := c.Get(context.Background(), path, nil)
		assert.ErrorIs(t, err, ErrForeignURL, path)
	}
	assert.Zero(t, hits)
}

func TestClient_ContextCancel(t *testing.T) {
	store := loggedIn(t, "abc")
	c := newTestClient(t, store, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Get(ctx, "/slow", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "abc", store.Token())
}

// =============================================================================
// REDIRECT TESTS
// =============================================================================

func TestClient_RedirectToOtherHostDropsToken(t *testing.T) {
	var foreignAuth []string
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuth = append(foreignAuth, r.Header.Get("Authorization"))
		if r.URL.Path == "/deny" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"elsewhere"}`))
	}))
	defer foreign.Close()

	store := loggedIn(t, "secret-token")
	c := newTestClient(t, store, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		target := foreign.URL + "/collect"
		if r.URL.Path == "/api/deny" {
			target = foreign.URL + "/deny"
		}
		http.Redirect(w, r, target, http.StatusFound)
	})

	var p profile
	require.NoError(t, c.Get(context.Background(), "me", &p))
	assert.Equal(t, "elsewhere", p.ID)

	err := c.Get(context.Background(), "deny", nil)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, "secret-token", store.Token(), "a 401 from another host must not end the session")

	assert.Equal(t, []string{"", ""}, foreignAuth, "the token must never reach another host")
}

func TestClient_RedirectWithinAPIKeepsToken(t *testing.T) {
	store := loggedIn(t, "abc")
	c := newTestClient(t, store, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/old" {
			http.Redirect(w, r, "/api/new", http.StatusMovedPermanently)
			return
		}
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":"u-1"}`))
	})

	var p profile
	require.NoError(t, c.Get(context.Background(), "old", &p))
	assert.Equal(t, "u-1", p.ID)
}

// =============================================================================
// ERROR FORMAT TESTS
// =============================================================================

func TestStatusError_TruncatesOnRuneBoundary(t *testing.T) {
	se := &StatusError{Status: http.StatusBadRequest, Body: []byte(strings.Repeat("é", 300))}
	msg := se.Error()

	assert.True(t, utf8.ValidString(msg))
	assert.True(t, strings.HasSuffix(msg, "..."))
	assert.Less(t, len(msg), 300*2)
}
