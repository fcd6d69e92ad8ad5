// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/sessionguard/internal/logging"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultSecret is used when no secret is configured.
//
// SECURITY: a published fallback key gives no confidentiality. It is kept so
// payloads produced by unconfigured deployments stay readable; New logs a
// warning whenever it is selected.
const DefaultSecret = "sessionguard-default-secret"

const (
	// formatVersion is the first byte of every sealed payload.
	formatVersion byte = 1

	// SaltSize is the per-payload key derivation salt length.
	SaltSize = 16

	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12

	// KeySize is the AES-256 key length.
	KeySize = 32

	// DefaultIterations is the PBKDF2-SHA-256 work factor.
	DefaultIterations = 10000

	tagSize    = 16
	headerSize = 1 + SaltSize + NonceSize
)

// payloadEncoding is base64-url without padding. Strict mode rejects
// non-zero trailing bits, so every distinct string decodes differently.
var payloadEncoding = base64.RawURLEncoding.Strict()

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyPayload indicates an empty or whitespace-only payload.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrMalformedPayload indicates the payload is not valid base64-url or has the wrong layout.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrDecryptionFailed indicates authentication failed (wrong secret or tampered data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
	// ErrInvalidJSON indicates the plaintext is not a JSON document.
	ErrInvalidJSON = errors.New("plaintext is not valid JSON")
	// ErrUnsupportedValue indicates the value cannot be serialized to JSON.
	ErrUnsupportedValue = errors.New("value is not JSON serializable")
)

// =============================================================================
// CODEC
// =============================================================================

// Codec seals JSON values into opaque URL-safe strings and opens them again.
// A Codec is safe for concurrent use.
type Codec struct {
	secret     []byte
	iterations int
	logger     *slog.Logger
	random     io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithIterations overrides the PBKDF2 work factor. Values below 1 are ignored.
func WithIterations(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.iterations = n
		}
	}
}

// WithLogger sets the logger used for fallback warnings and debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = l
	}
}

// WithRandom replaces the entropy source (tests only).
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		c.random = r
	}
}

// New creates a Codec keyed by secret. An empty secret selects DefaultSecret.
// The secret is NFC-normalized so equivalent Unicode spellings derive the
// same key.
func New(secret string, opts ...Option) *Codec {
	c := &Codec{
		iterations: DefaultIterations,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)

	if strings.TrimSpace(secret) == "" {
		c.logger.Warn("codec secret not configured, using built-in default secret")
		secret = DefaultSecret
	}
	c.secret = []byte(norm.NFC.String(secret))
	return c
}

// UsesDefaultSecret reports whether the codec fell back to DefaultSecret.
func (c *Codec) UsesDefaultSecret() bool {
	return string(c.secret) == DefaultSecret
}

// Encode serializes v and seals it. ok is false on any failure.
func (c *Codec) Encode(v any) (payload string, ok bool) {
	payload, err := c.Seal(v)
	if err != nil {
		c.logger.Debug("encode failed", slog.String("error", err.Error()))
		return "", false
	}
	return payload, true
}

// Decode opens a payload produced by Encode. ok is false when the payload
// is empty, malformed, forged, or does not hold JSON. A sealed JSON null
// decodes to (nil, true).
func (c *Codec) Decode(payload string) (v any, ok bool) {
	v, err := c.Open(payload)
	if err != nil {
		c.logger.Debug("decode failed", slog.String("error", err.Error()))
		return nil, false
	}
	return v, true
}

// DecodeInto opens a payload into out, which must be a non-nil pointer.
func (c *Codec) DecodeInto(payload string, out any) bool {
	if err := c.OpenInto(payload, out); err != nil {
		c.logger.Debug("decode failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Seal is Encode with error detail.
func (c *Codec) Seal(v any) (payload string, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload, err = "", fmt.Errorf("%w: %v", ErrUnsupportedValue, r)
		}
	}()

	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}

	buf := make([]byte, headerSize, headerSize+len(plaintext)+tagSize)
	buf[0] = formatVersion
	salt := buf[1 : 1+SaltSize]
	nonce := buf[1+SaltSize : headerSize]
	if _, err := io.ReadFull(c.random, buf[1:headerSize]); err != nil {
		return "", fmt.Errorf("failed to generate salt and nonce: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}

	// The header is bound as additional data so the version byte and salt
	// cannot be swapped without failing authentication.
	header := append([]byte(nil), buf[:headerSize]...)
	sealed := gcm.Seal(buf, nonce, plaintext, header)
	return payloadEncoding.EncodeToString(sealed), nil
}

// Open is Decode with error detail.
func (c *Codec) Open(payload string) (v any, err error) {
	plaintext, err := c.openBytes(payload)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return v, nil
}

// OpenInto is DecodeInto with error detail.
func (c *Codec) OpenInto(payload string, out any) error {
	plaintext, err := c.openBytes(payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func (c *Codec) openBytes(payload string) (plaintext []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			plaintext, err = nil, fmt.Errorf("%w: %v", ErrMalformedPayload, r)
		}
	}()

	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}

	raw, err := payloadEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw) < headerSize+tagSize || raw[0] != formatVersion {
		return nil, ErrMalformedPayload
	}

	salt := raw[1 : 1+SaltSize]
	nonce := raw[1+SaltSize : headerSize]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err = gcm.Open(nil, nonce, raw[headerSize:], raw[:headerSize])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(plaintext) == 0 {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// aead derives the per-payload key and returns the AES-GCM cipher for it.
func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := DeriveKey(c.secret, salt, c.iterations)
	// SECURITY: Zero key material once the cipher has expanded it.
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}

// =============================================================================
// KEY DERIVATION
// =============================================================================

// DeriveKey derives an AES-256 key from secret and salt using PBKDF2-SHA-256.
func DeriveKey(secret, salt []byte, iterations int) []byte {
	if iterations < 1 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New)
}

// ZeroBytes overwrites b with zeros.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
