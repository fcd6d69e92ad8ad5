// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// Error variables for the responses the client treats specially.
var (
	// ErrUnauthorized indicates the server rejected the session (HTTP 401).
	// If the request carried the session's token to the API, the local
	// session has already been cleared when this is returned.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the server throttled the request (HTTP 429).
	ErrRateLimited = errors.New("rate limited")

	// ErrResponseTooLarge indicates the response body exceeded the size limit.
	ErrResponseTooLarge = errors.New("response too large")

	// ErrForeignURL indicates a request path that would leave the API host.
	ErrForeignURL = errors.New("request path must be relative to the API base URL")
)

// maxErrorBody bounds, in terminal columns, how much of a response body
// appears in an error message.
const maxErrorBody = 200

// StatusError is returned by Client for any non-2xx response.
type StatusError struct {
	Status     int
	Body       []byte
	RequestID  string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	msg = runewidth.Truncate(msg, maxErrorBody, "...")
	text := http.StatusText(e.Status)
	if msg == "" {
		return fmt.Sprintf("API error (HTTP %d %s)", e.Status, text)
	}
	return fmt.Sprintf("API error (HTTP %d %s): %s", e.Status, text, msg)
}

// Unwrap maps the status to ErrUnauthorized or ErrRateLimited.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// IsThrottled reports whether err came from a 429 response.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsUnauthorized reports whether err came from a 401 response.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
