// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package codec turns arbitrary JSON values into opaque, URL-safe strings
// and back, for state that must be persisted or passed through links
// without being readable in the clear.
//
// # Format
//
// A payload is the unpadded base64-url encoding of:
//
//	version(1) | salt(16) | nonce(12) | AES-256-GCM ciphertext + tag
//
// The key is derived per payload with PBKDF2-SHA-256 from the configured
// secret and the embedded salt. The header is authenticated as additional
// data.
//
// # Failure Model
//
// Encode and Decode never panic and never return partial data: any failure
// is reported as ok == false. Seal, Open and OpenInto return the same
// outcome with a sentinel error for callers that want the reason.
//
// # Usage
//
//	c := codec.New(cfg.Codec.Secret)
//	payload, ok := c.Encode(map[string]any{"event": 42})
//	v, ok := c.Decode(payload)
//
// # Security
//
// When no secret is configured the codec falls back to DefaultSecret, a
// constant compiled into the binary. Payloads sealed under it are
// effectively plaintext to anyone with the source.
package codec
