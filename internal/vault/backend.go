// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates there is no live entry for the key.
	ErrNotFound = errors.New("vault entry not found")

	// ErrUnknownDriver indicates an unsupported backend name.
	ErrUnknownDriver = errors.New("unknown vault driver")
)

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverNone   = "none"
)

// Backend stores opaque encoded payloads with an optional time-to-live.
// A ttl <= 0 means the entry does not expire.
type Backend interface {
	Save(ctx context.Context, key, payload string, ttl time.Duration) error
	Load(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open creates the backend named by driver. For sqlite, target is a file
// path; for redis, it is a host:port address. DriverNone returns nil.
func Open(driver, target string) (Backend, error) {
	switch driver {
	case DriverSQLite:
		b, err := NewSQLiteBackend(target)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverRedis:
		b, err := DialRedis(target)
		if err != nil {
			return nil, err
		}
		return b, nil
	case DriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
