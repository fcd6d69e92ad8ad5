// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jeranaias/sessionguard/internal/codec"
	"github.com/jeranaias/sessionguard/internal/policy"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "SESSIONGUARD_"

// EnvConfigPath names the variable that points at the config file.
const EnvConfigPath = EnvPrefix + "CONFIG"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sessionguard configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Codec   CodecConfig   `toml:"codec"`
	Session SessionConfig `toml:"session"`
	Vault   VaultConfig   `toml:"vault"`
	Log     LogConfig     `toml:"log"`
}

// APIConfig describes the backend API.
type APIConfig struct {
	// BaseURL is the API root every request path is resolved against
	BaseURL string `toml:"base_url" env:"API_URL"`
	// Timeout bounds a single request
	Timeout time.Duration `toml:"timeout" env:"API_TIMEOUT"`
}

// CodecConfig configures payload encryption.
type CodecConfig struct {
	// Secret is the passphrase keys are derived from. Empty selects the
	// built-in fallback secret, which is logged as a warning.
	Secret string `toml:"secret" env:"SECRET_KEY"`
	// Iterations is the PBKDF2 work factor
	Iterations int `toml:"iterations" env:"CODEC_ITERATIONS"`
}

// SessionConfig configures the inactivity policy.
type SessionConfig struct {
	// TestMode shrinks every timeout to seconds for manual testing
	TestMode bool `toml:"test_mode" env:"TEST_MODE"`
	// WarnBefore is how long before expiry the watch view warns (0 = never)
	WarnBefore time.Duration `toml:"warn_before" env:"WARN_BEFORE"`
}

// VaultConfig selects where sessions are persisted between runs.
type VaultConfig struct {
	// Driver is "sqlite", "redis" or "none"
	Driver    string `toml:"driver" env:"VAULT_DRIVER"`
	Path      string `toml:"path" env:"VAULT_PATH"`
	RedisAddr string `toml:"redis_addr" env:"REDIS_ADDR"`
	Key       string `toml:"key" env:"VAULT_KEY"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL"`
	Format string `toml:"format" env:"LOG_FORMAT"`
	// File receives log output instead of stderr when set
	File string `toml:"file" env:"LOG_FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := Dir()
	if err != nil {
		dir = ".sessionguard"
	}
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 30 * time.Second,
		},
		Codec: CodecConfig{
			Iterations: codec.DefaultIterations,
		},
		Session: SessionConfig{
			WarnBefore: 2 * time.Minute,
		},
		Vault: VaultConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "vault.db"),
			Key:    "current",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Policy returns the session policy the configuration selects.
func (c *Config) Policy() policy.Policy {
	return policy.ForMode(c.Session.TestMode)
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the sessionguard configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".sessionguard"), nil
}

// Path returns the config file path: $SESSIONGUARD_CONFIG when set,
// otherwise ~/.sessionguard/config.toml.
func Path() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding variables that are already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the config file at path (Path() when empty), applies
// environment overrides from the process environment and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return load(path, nil)
}

// load is Load with an explicit environment; nil means the process
// environment.
func load(path string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if err := LoadTOML(cfg, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := ApplyEnvOverrides(cfg, environ); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the file at path over cfg. Keys absent from the file
// keep their current values.
func LoadTOML(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnvOverrides overlays SESSIONGUARD_* variables onto cfg. A nil
// environ reads the process environment.
func ApplyEnvOverrides(cfg *Config, environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// ensureSecurePermissions tightens the config file to 0600; it may hold
// the codec secret.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg as TOML to path with owner-only permissions.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String renders cfg as TOML with the secret masked.
func (c *Config) String() string {
	masked := *c
	if masked.Codec.Secret != "" {
		masked.Codec.Secret = "********"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(masked); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// minIterations keeps configured key derivation from becoming trivial.
const minIterations = 1000

// Validate checks the configuration and returns ValidateErrors listing
// every problem found, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// API
	if u, err := url.Parse(c.API.BaseURL); err != nil {
		errs = append(errs, ValidationError{"api.base_url", fmt.Sprintf("invalid URL: %v", err)})
	} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{"api.base_url", fmt.Sprintf("must be an absolute http(s) URL, got %q", c.API.BaseURL)})
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, ValidationError{"api.timeout", "must be positive"})
	}

	// Codec
	if c.Codec.Iterations < minIterations {
		errs = append(errs, ValidationError{"codec.iterations", fmt.Sprintf("must be at least %d", minIterations)})
	}

	// Session
	if c.Session.WarnBefore < 0 {
		errs = append(errs, ValidationError{"session.warn_before", "cannot be negative"})
	}

	// Vault
	switch c.Vault.Driver {
	case "sqlite":
		if c.Vault.Path == "" {
			errs = append(errs, ValidationError{"vault.path", "required for the sqlite driver"})
		}
	case "redis":
		if c.Vault.RedisAddr == "" {
			errs = append(errs, ValidationError{"vault.redis_addr", "required for the redis driver"})
		}
	case "none":
	default:
		errs = append(errs, ValidationError{"vault.driver", fmt.Sprintf("invalid driver '%s', must be one of: sqlite, redis, none", c.Vault.Driver)})
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)})
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{"log.format", fmt.Sprintf("invalid format '%s', must be one of: text, json", c.Log.Format)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
