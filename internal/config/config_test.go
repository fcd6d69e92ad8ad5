// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionguard/internal/policy"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Vault.Driver)
	assert.Equal(t, 10000, cfg.Codec.Iterations)
	assert.Empty(t, cfg.Codec.Secret)
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := load(filepath.Join(t.TempDir(), "absent.toml"), map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[api]
base_url = "https://events.example.org/api"
timeout = "15s"

[codec]
secret = "from-file"

[session]
test_mode = true

[log]
level = "debug"
`)

	cfg, err := load(path, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "https://events.example.org/api", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
	assert.Equal(t, "from-file", cfg.Codec.Secret)
	assert.True(t, cfg.Session.TestMode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "keys absent from the file keep defaults")

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "config file is tightened to owner-only")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[codec]
secret = "from-file"

[log]
level = "info"
`)

	cfg, err := load(path, map[string]string{
		"SESSIONGUARD_SECRET_KEY":   "from-env",
		"SESSIONGUARD_LOG_LEVEL":    "warn",
		"SESSIONGUARD_TEST_MODE":    "true",
		"SESSIONGUARD_VAULT_DRIVER": "redis",
		"SESSIONGUARD_REDIS_ADDR":   "10.0.0.5:6379",
		"SESSIONGUARD_API_TIMEOUT":  "5s",
		"UNRELATED":                 "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Codec.Secret)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Session.TestMode)
	assert.Equal(t, "redis", cfg.Vault.Driver)
	assert.Equal(t, "10.0.0.5:6379", cfg.Vault.RedisAddr)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
}

func TestLoad_ProcessEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	writeFile(t, path, "[log]\nformat = \"json\"\n")
	t.Setenv(EnvConfigPath, path)
	t.Setenv("SESSIONGUARD_API_URL", "https://api.example.org")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://api.example.org", cfg.API.BaseURL)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	writeFile(t, bad, "[api\nbase_url=")
	_, err := load(bad, map[string]string{})
	assert.ErrorContains(t, err, "failed to decode TOML")

	unknown := filepath.Join(dir, "unknown.toml")
	writeFile(t, unknown, "[api]\nbase_uri = \"http://x\"\n")
	_, err = load(unknown, map[string]string{})
	assert.ErrorContains(t, err, "api.base_uri")

	_, err = load(filepath.Join(dir, "none.toml"), map[string]string{"SESSIONGUARD_TEST_MODE": "maybe"})
	assert.ErrorContains(t, err, "invalid environment override")

	_, err = load(filepath.Join(dir, "none.toml"), map[string]string{"SESSIONGUARD_LOG_FORMAT": "xml"})
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "log.format", verrs[0].Field)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	writeFile(t, file, "SESSIONGUARD_LOG_LEVEL=debug\nSESSIONGUARD_API_URL=https://dotenv.example.org\n")

	t.Setenv("SESSIONGUARD_LOG_LEVEL", "error")
	t.Setenv("SESSIONGUARD_API_URL", "")
	os.Unsetenv("SESSIONGUARD_API_URL")

	require.NoError(t, LoadDotEnv(file, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "error", os.Getenv("SESSIONGUARD_LOG_LEVEL"), ".env never overrides the environment")
	assert.Equal(t, "https://dotenv.example.org", os.Getenv("SESSIONGUARD_API_URL"))
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate_CollectsEveryError(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "localhost:8080"
	cfg.API.Timeout = 0
	cfg.Codec.Iterations = 10
	cfg.Session.WarnBefore = -time.Second
	cfg.Vault.Driver = "etcd"
	cfg.Log.Level = "chatty"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))

	fields := make([]string, len(verrs))
	for i, e := range verrs {
		fields[i] = e.Field
	}
	assert.Equal(t, []string{
		"api.base_url", "api.timeout", "codec.iterations",
		"session.warn_before", "vault.driver", "log.level",
	}, fields)
	assert.Contains(t, err.Error(), "vault.driver: invalid driver 'etcd'")
}

func TestValidate_VaultDriverRequirements(t *testing.T) {
	cfg := Default()
	cfg.Vault.Driver = "redis"
	assert.ErrorContains(t, cfg.Validate(), "vault.redis_addr")

	cfg.Vault.RedisAddr = "127.0.0.1:6379"
	assert.NoError(t, cfg.Validate())

	cfg.Vault.Driver = "sqlite"
	cfg.Vault.Path = ""
	assert.ErrorContains(t, cfg.Validate(), "vault.path")

	cfg.Vault.Driver = "none"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Policy(t *testing.T) {
	cfg := Default()
	assert.Equal(t, policy.UserTimeout, cfg.Policy().DurationFor(policy.RoleUser))

	cfg.Session.TestMode = true
	assert.Equal(t, policy.TestModeTimeout, cfg.Policy().DurationFor(policy.RoleOrganizer))
}

// =============================================================================
// SAVE TESTS
// =============================================================================

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.Codec.Secret = "s3cret"
	cfg.Session.WarnBefore = 90 * time.Second

	require.NoError(t, Save(cfg, path))
	got, err := load(path, map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestConfig_StringMasksSecret(t *testing.T) {
	cfg := Default()
	cfg.Codec.Secret = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "********")
	assert.Equal(t, "s3cret", cfg.Codec.Secret, "String must not mutate the config")
}

// =============================================================================
// WATCH TESTS
// =============================================================================

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, "[log]\nlevel = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		cfg *Config
		err error
	}
	results := make(chan result, 8)
	require.NoError(t, Watch(ctx, path, func(c *Config, err error) {
		results <- result{c, err}
	}))

	writeFile(t, path, "[log]\nlevel = \"debug\"\n")

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, "debug", r.cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.toml"), func(*Config, error) {})
	assert.Error(t, err)
}
