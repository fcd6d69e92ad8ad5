// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the structured logger shared by every component
// and formats session audit events.
//
// Session events follow the audit line convention: an upper-case event type
// plus key/value detail. Credentials are never written; Fingerprint gives a
// stable, non-reversible identifier for correlating entries instead.
package logging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
)

// Session audit event types.
const (
	EventEstablished = "SESSION_ESTABLISHED"
	EventCleared     = "SESSION_CLEARED"
	EventExpired     = "SESSION_EXPIRED"
	EventWarning     = "SESSION_WARNING"
	EventThrottled   = "SESSION_THROTTLED"
	EventRestored    = "SESSION_RESTORED"
)

// New returns a logger writing to w. level is one of debug, info, warn,
// error (default info); format is text or json (default text).
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SessionEvent writes one audit line for a session lifecycle event.
func SessionEvent(l *slog.Logger, event string, attrs ...slog.Attr) {
	if l == nil {
		return
	}
	level := slog.LevelInfo
	if event == EventThrottled || event == EventWarning {
		level = slog.LevelWarn
	}
	l.LogAttrs(context.Background(), level, "session event", append([]slog.Attr{slog.String("event", event)}, attrs...)...)
}

// Fingerprint returns the first 8 hex chars of the SHA-256 of a secret, or
// "none" when it is empty.
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}
