// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package codec

import (
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "unit-test-secret"
	testIterations = 100
	urlAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
)

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	return New(testSecret, WithIterations(testIterations))
}

// mustJSON parses a JSON literal into the generic shape Decode returns.
func mustJSON(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

// =============================================================================
// ROUND TRIP TESTS
// =============================================================================

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	cases := map[string]string{
		"object":  `{"token":"abc","role":"scanner","exp":1700000000}`,
		"nested":  `{"a":{"b":[1,2,{"c":[true,false,null]}]},"d":-0.5}`,
		"array":   `[1,"two",3.25,[],{}]`,
		"unicode": `{"name":"Zoë 東京 🎫","escaped":"line\nbreak\t\"quoted\""}`,
		"string":  `"just a string"`,
		"number":  `12345678901`,
		"float":   `1.5e-7`,
		"bool":    `true`,
		"empty":   `{}`,
	}

	for name, literal := range cases {
		t.Run(name, func(t *testing.T) {
			want := mustJSON(t, literal)

			payload, ok := c.Encode(want)
			require.True(t, ok)
			require.Regexp(t, urlSafe, payload)

			got, ok := c.Decode(payload)
			require.True(t, ok)
			assert.Equal(t, want, got)
		})
	}
}

func TestCodec_RoundTripNull(t *testing.T) {
	c := newTestCodec(t)

	payload, ok := c.Encode(nil)
	require.True(t, ok)

	v, ok := c.Decode(payload)
	assert.True(t, ok, "a sealed null is a value, not a failure")
	assert.Nil(t, v)
}

func TestCodec_DecodeInto(t *testing.T) {
	type fragment struct {
		Token string `json:"token"`
		Role  string `json:"role"`
	}
	c := newTestCodec(t)

	payload, ok := c.Encode(fragment{Token: "abc", Role: "agent"})
	require.True(t, ok)

	var got fragment
	require.True(t, c.DecodeInto(payload, &got))
	assert.Equal(t, fragment{Token: "abc", Role: "agent"}, got)

	var wrongShape []int
	assert.False(t, c.DecodeInto(payload, &wrongShape))
}

func TestCodec_PayloadsAreSalted(t *testing.T) {
	c := newTestCodec(t)

	p1, ok := c.Encode("same")
	require.True(t, ok)
	p2, ok := c.Encode("same")
	require.True(t, ok)

	assert.NotEqual(t, p1, p2, "each payload must use a fresh salt and nonce")
	assert.NotContains(t, p1, "same")
	assert.NotContains(t, p1, "=")
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestCodec_EncodeUnsupported(t *testing.T) {
	c := newTestCodec(t)

	for name, v := range map[string]any{
		"channel":  make(chan int),
		"function": func() {},
		"nan":      math.NaN(),
		"inf":      math.Inf(1),
	} {
		t.Run(name, func(t *testing.T) {
			payload, ok := c.Encode(v)
			assert.False(t, ok)
			assert.Empty(t, payload)

			_, err := c.Seal(v)
			assert.True(t, errors.Is(err, ErrUnsupportedValue))
		})
	}
}

func TestCodec_EncodeEntropyFailure(t *testing.T) {
	c := New(testSecret, WithIterations(testIterations), WithRandom(strings.NewReader("short")))

	_, ok := c.Encode("x")
	assert.False(t, ok)
}

func TestCodec_DecodeRejectsGarbage(t *testing.T) {
	c := newTestCodec(t)

	inputs := []string{
		"",
		"   ",
		"not base64!",
		"QUJD",                    // valid base64, far too short
		"a+b/c==",                 // standard alphabet with padding
		strings.Repeat("A", 80),   // right length, zero header
		strings.Repeat("_", 4096), // long noise
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			v, ok := c.Decode(in)
			assert.False(t, ok, "input %q", in)
			assert.Nil(t, v)
		})
	}

	_, err := c.Open("")
	assert.ErrorIs(t, err, ErrEmptyPayload)
	_, err = c.Open("***")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCodec_WrongSecret(t *testing.T) {
	payload, ok := newTestCodec(t).Encode(map[string]any{"k": "v"})
	require.True(t, ok)

	other := New("another-secret", WithIterations(testIterations))
	_, err := other.Open(payload)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_SecretIsNormalized(t *testing.T) {
	composed := New("caf\u00e9", WithIterations(testIterations))
	decomposed := New("cafe\u0301", WithIterations(testIterations))

	payload, ok := composed.Encode("x")
	require.True(t, ok)

	v, ok := decomposed.Decode(payload)
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

// TestCodec_TamperRejection flips one character at a time and requires
// every mutation to be rejected.
func TestCodec_TamperRejection(t *testing.T) {
	c := newTestCodec(t)
	payload, ok := c.Encode(mustJSON(t, `{"token":"abc","role":"organizer","seats":[1,2,3]}`))
	require.True(t, ok)

	rng := rand.New(rand.NewSource(7))
	const mutations = 300

	for i := 0; i < mutations; i++ {
		pos := rng.Intn(len(payload))
		orig := payload[pos]

		repl := orig
		for repl == orig {
			repl = urlAlphabet[rng.Intn(len(urlAlphabet))]
		}

		mutated := payload[:pos] + string(repl) + payload[pos+1:]
		assert.NotPanics(t, func() {
			v, ok := c.Decode(mutated)
			assert.False(t, ok, "mutation at %d (%c -> %c) was accepted", pos, orig, repl)
			assert.Nil(t, v)
		})
	}
}

func TestCodec_TruncationRejected(t *testing.T) {
	c := newTestCodec(t)
	payload, ok := c.Encode("value")
	require.True(t, ok)

	for n := 0; n < len(payload); n++ {
		_, ok := c.Decode(payload[:n])
		assert.False(t, ok, "prefix of length %d accepted", n)
	}
}

// =============================================================================
// SECRET FALLBACK TESTS
// =============================================================================

func TestCodec_DefaultSecretFallback(t *testing.T) {
	a := New("", WithIterations(testIterations))
	b := New(DefaultSecret, WithIterations(testIterations))

	assert.True(t, a.UsesDefaultSecret())
	assert.False(t, newTestCodec(t).UsesDefaultSecret())

	payload, ok := a.Encode("shared")
	require.True(t, ok)

	v, ok := b.Decode(payload)
	require.True(t, ok, "an unconfigured codec must use the fixed default secret")
	assert.Equal(t, "shared", v)
}

func TestDeriveKey(t *testing.T) {
	salt := []byte("0123456789abcdef")

	k1 := DeriveKey([]byte("secret"), salt, 10)
	k2 := DeriveKey([]byte("secret"), salt, 10)
	k3 := DeriveKey([]byte("secret"), []byte("fedcba9876543210"), 10)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)

	ZeroBytes(k1)
	assert.Equal(t, make([]byte, KeySize), k1)
}

// =============================================================================
// LINK TESTS
// =============================================================================

func TestCodec_URLRoundTrip(t *testing.T) {
	c := newTestCodec(t)
	state := mustJSON(t, `{"booking":"b-17","seats":["A1","A2"]}`)

	link, err := c.AppendToURL("https://tickets.example.com/share?lang=en", "s", state)
	require.NoError(t, err)
	assert.Contains(t, link, "lang=en")

	got, ok := c.FromURL(link, "s")
	require.True(t, ok)
	assert.Equal(t, state, got)

	_, ok = c.FromURL(link, "missing")
	assert.False(t, ok)
	_, ok = c.FromURL("://bad", "s")
	assert.False(t, ok)
}
