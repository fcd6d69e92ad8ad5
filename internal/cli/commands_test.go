// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionguard/internal/config"
	"github.com/jeranaias/sessionguard/internal/logging"
	"github.com/jeranaias/sessionguard/internal/policy"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

type testEnv struct {
	cfg    *config.Config
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestEnv(t *testing.T, apiURL string) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.API.BaseURL = apiURL
	cfg.Codec.Secret = "cli-test-secret"
	cfg.Codec.Iterations = 1000
	cfg.Vault.Path = filepath.Join(t.TempDir(), "vault.db")
	cfg.Log.Level = "error"
	require.NoError(t, cfg.Validate())

	return &testEnv{cfg: cfg, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
}

// app bootstraps a fresh App against the env's config, the way each CLI
// invocation does.
func (e *testEnv) app(t *testing.T, stdin string) *App {
	t.Helper()
	e.stdout.Reset()
	e.stderr.Reset()

	a, err := Bootstrap(context.Background(), e.cfg, Args{}, IO{
		Stdin:  strings.NewReader(stdin),
		Stdout: e.stdout,
		Stderr: e.stderr,
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func signedToken(t *testing.T, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1", "role": role}).
		SignedString([]byte("server-key"))
	require.NoError(t, err)
	return tok
}

// =============================================================================
// ENCODE / DECODE TESTS
// =============================================================================

func TestEncodeDecode_RoundTrip(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	a := env.app(t, "")
	require.NoError(t, a.Encode(Args{Raw: []string{`{"booking":"b-17","seats":[1,2]}`}}))
	payload := strings.TrimSpace(env.stdout.String())
	require.NotEmpty(t, payload)
	assert.NotContains(t, payload, "booking")

	a = env.app(t, payload+"\n")
	require.NoError(t, a.Decode(Args{Raw: []string{"-"}, JSON: true}))
	assert.JSONEq(t, `{"booking":"b-17","seats":[1,2]}`, env.stdout.String())
}

func TestEncode_StdinAndString(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	a := env.app(t, "plain words")
	require.NoError(t, a.Encode(Args{Raw: []string{"--string"}, JSON: true}))

	var out map[string]string
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &out))

	v, ok := a.Codec.Decode(out["payload"])
	require.True(t, ok)
	assert.Equal(t, "plain words", v)
}

func TestEncode_Errors(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	err := env.app(t, "").Encode(Args{Raw: []string{"{not json"}})
	assert.Equal(t, ExitUsageError, ExitCode(err))

	err = env.app(t, "   ").Encode(Args{})
	assert.Equal(t, ExitUsageError, ExitCode(err), "empty stdin")
}

func TestEncodeDecode_URL(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	a := env.app(t, "")
	require.NoError(t, a.Encode(Args{Raw: []string{"--url", "https://tickets.example.org/return?lang=en", "--param", "ctx", `{"step":3}`}}))
	link := strings.TrimSpace(env.stdout.String())
	assert.True(t, strings.HasPrefix(link, "https://tickets.example.org/return?"))
	assert.Contains(t, link, "lang=en")
	assert.Contains(t, link, "ctx=")

	a = env.app(t, "")
	require.NoError(t, a.Decode(Args{Raw: []string{"--url", link, "--param", "ctx"}, JSON: true}))
	assert.JSONEq(t, `{"step":3}`, env.stdout.String())

	err := env.app(t, "").Decode(Args{Raw: []string{"--url", "https://tickets.example.org/return?lang=en"}})
	assert.Error(t, err)
}

func TestDecode_Rejects(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	err := env.app(t, "").Decode(Args{Raw: []string{"bm90LWEtcGF5bG9hZA"}})
	assert.Equal(t, ExitGeneralError, ExitCode(err))
	assert.Contains(t, err.Error(), "payload could not be decoded")
	assert.Empty(t, env.stdout.String())
}

// =============================================================================
// SESSION COMMAND TESTS
// =============================================================================

func TestLogin_PersistsAcrossInvocations(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	a := env.app(t, "")
	require.NoError(t, a.Login(context.Background(), Args{Raw: []string{"--token", "opaque-token", "--role", "scanner"}}))
	assert.Contains(t, env.stdout.String(), "Signed in as scanner")
	require.NoError(t, a.Close())

	// A new process restores the stored session.
	a = env.app(t, "")
	cur := a.Store.Current()
	assert.True(t, cur.IsAuthenticated())
	assert.Equal(t, "opaque-token", cur.Token)
	assert.Equal(t, policy.RoleScanner, cur.Role)
	require.NoError(t, a.Logout(context.Background(), Args{}))
	assert.Contains(t, env.stdout.String(), "Signed out")
	require.NoError(t, a.Close())

	a = env.app(t, "")
	assert.False(t, a.Store.Current().IsAuthenticated())
	require.NoError(t, a.Logout(context.Background(), Args{}))
	assert.Contains(t, env.stdout.String(), "Not signed in.")
}

func TestLogin_TokenFromStdinAndRoleFromClaims(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")
	token := signedToken(t, "organizer")

	a := env.app(t, token+"\n")
	require.NoError(t, a.Login(context.Background(), Args{JSON: true}))

	var out map[string]any
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &out))
	assert.Equal(t, "organizer", out["role"])
	assert.Equal(t, float64(policy.OrganizerTimeout.Seconds()), out["timeout_seconds"])
	assert.Equal(t, true, out["persisted"])
	assert.Equal(t, token, a.Store.Token())
}

func TestLogin_Validation(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	err := env.app(t, "\n").Login(context.Background(), Args{})
	assert.Equal(t, ExitUsageError, ExitCode(err), "empty token")

	err = env.app(t, "").Login(context.Background(), Args{Raw: []string{"--token", "t", "--role", "admin"}})
	assert.Equal(t, ExitUsageError, ExitCode(err), "unknown role")
}

func TestLogin_WithoutVault(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")
	env.cfg.Vault.Driver = "none"

	a := env.app(t, "")
	assert.Nil(t, a.Vault)
	require.NoError(t, a.Login(context.Background(), Args{Raw: []string{"--token", "t"}}))
	assert.Contains(t, env.stdout.String(), "Persistence is disabled")
}

func TestStatus_NeverShowsToken(t *testing.T) {
	env := newTestEnv(t, "http://localhost:8080/api")

	a := env.app(t, "")
	require.NoError(t, a.Status(Args{JSON: true}))
	var out map[string]any
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &out))
	assert.Equal(t, false, out["authenticated"])
	assert.Equal(t, "http://localhost:8080/api/", out["api"])

	require.NoError(t, a.Store.SetSession("secret-token-value", policy.RoleAgent))

	env.stdout.Reset()
	require.NoError(t, a.Status(Args{JSON: true}))
	require.NoError(t, json.Unmarshal(env.stdout.Bytes(), &out))
	assert.Equal(t, "agent", out["role"])
	assert.Equal(t, logging.Fingerprint("secret-token-value"), out["token_fp"])
	assert.NotContains(t, env.stdout.String(), "secret-token-value")

	env.stdout.Reset()
	require.NoError(t, a.Status(Args{}))
	assert.Contains(t, env.stdout.String(), "signed in")
	assert.NotContains(t, env.stdout.String(), "secret-token-value")
}

// =============================================================================
// GET TESTS
// =============================================================================

func TestGet(t *testing.T) {
	var auths atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auths.Store(r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/events":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"events":[{"id":1}]}`))
		case "/api/revoked":
			w.WriteHeader(http.StatusUnauthorized)
		case "/api/busy":
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	env := newTestEnv(t, srv.URL+"/api")

	t.Run("requires session", func(t *testing.T) {
		err := env.app(t, "").Get(context.Background(), Args{Raw: []string{"events"}})
		assert.ErrorIs(t, err, ErrNotSignedIn)
	})

	require.NoError(t, env.app(t, "").Login(context.Background(), Args{Raw: []string{"--token", "tok-1", "--role", "user"}}))

	t.Run("pretty prints JSON", func(t *testing.T) {
		a := env.app(t, "")
		require.NoError(t, a.Get(context.Background(), Args{Raw: []string{"events"}}))
		assert.Equal(t, "{\n  \"events\": [\n    {\n      \"id\": 1\n    }\n  ]\n}\n", env.stdout.String())
		assert.Equal(t, "Bearer tok-1", auths.Load())
	})

	t.Run("raw", func(t *testing.T) {
		a := env.app(t, "")
		require.NoError(t, a.Get(context.Background(), Args{Raw: []string{"--raw", "events"}}))
		assert.Equal(t, `{"events":[{"id":1}]}`, env.stdout.String())
	})

	t.Run("path validation", func(t *testing.T) {
		a := env.app(t, "")
		assert.Equal(t, ExitUsageError, ExitCode(a.Get(context.Background(), Args{})))
		assert.Equal(t, ExitUsageError, ExitCode(a.Get(context.Background(), Args{Raw: []string{"https://elsewhere.example/steal"}})))
	})

	t.Run("not found", func(t *testing.T) {
		err := env.app(t, "").Get(context.Background(), Args{Raw: []string{"nope"}})
		assert.Equal(t, ExitNotFoundError, ExitCode(err))
	})

	t.Run("throttled keeps the session", func(t *testing.T) {
		a := env.app(t, "")
		err := a.Get(context.Background(), Args{Raw: []string{"busy"}})
		assert.Equal(t, ExitRateLimited, ExitCode(err))

		var buf bytes.Buffer
		DisplayError(&buf, err, false)
		assert.Contains(t, buf.String(), "retry after 30s")
		assert.True(t, a.Store.Current().IsAuthenticated())
	})

	t.Run("unauthorized signs out everywhere", func(t *testing.T) {
		a := env.app(t, "")
		err := a.Get(context.Background(), Args{Raw: []string{"revoked"}})
		assert.Equal(t, ExitAuthError, ExitCode(err))
		assert.False(t, a.Store.Current().IsAuthenticated())
		require.NoError(t, a.Close())

		assert.False(t, env.app(t, "").Store.Current().IsAuthenticated(), "stored copy is removed")
	})
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	var stdout, stderr bytes.Buffer
	stdio := IO{Stdout: &stdout, Stderr: &stderr}
	args := func(raw ...string) Args { return Args{ConfigPath: path, Raw: raw} }

	require.NoError(t, ConfigCommand(args("path"), stdio))
	assert.Equal(t, path+"\n", stdout.String())

	stdout.Reset()
	require.NoError(t, ConfigCommand(args("show"), stdio))
	assert.Contains(t, stdout.String(), "[api]")
	assert.Contains(t, stderr.String(), "does not exist")

	stdout.Reset()
	require.NoError(t, ConfigCommand(args("init"), stdio))
	assert.Contains(t, stdout.String(), "Wrote "+path)
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.Error(t, ConfigCommand(args("init"), stdio), "refuses to overwrite")
	assert.NoError(t, ConfigCommand(args("init", "--force"), stdio))

	err = ConfigCommand(args("frob"), stdio)
	assert.Equal(t, ExitUsageError, ExitCode(err))
}
