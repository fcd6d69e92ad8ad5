// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import "time"

// =============================================================================
// INACTIVITY DURATIONS
// =============================================================================

const (
	// UserTimeout is the inactivity limit for regular users (1,800,000 ms).
	UserTimeout = 30 * time.Minute

	// ScannerTimeout is the inactivity limit for scanner operators (14,400,000 ms).
	ScannerTimeout = 4 * time.Hour

	// AgentTimeout is the inactivity limit for agents (14,400,000 ms).
	AgentTimeout = 4 * time.Hour

	// OrganizerTimeout is the inactivity limit for organizers (28,800,000 ms).
	OrganizerTimeout = 8 * time.Hour

	// FallbackTimeout applies to unknown or absent roles (1,800,000 ms).
	FallbackTimeout = 30 * time.Minute

	// DefaultDebounce is the minimum spacing between two timer resets.
	DefaultDebounce = 10 * time.Second

	// TestModeTimeout replaces every role duration in test mode.
	TestModeTimeout = 30 * time.Second

	// TestModeDebounce replaces the debounce interval in test mode.
	TestModeDebounce = 2 * time.Second
)

// =============================================================================
// POLICY
// =============================================================================

// Policy maps roles to inactivity durations. The zero value is not useful;
// build one with Default or ForMode. A Policy is never mutated after
// construction, so it can be shared and copied freely.
type Policy struct {
	durations map[Role]time.Duration
	fallback  time.Duration
	debounce  time.Duration
}

// Default returns the production policy.
func Default() Policy {
	return ForMode(false)
}

// ForMode returns the production policy, or with testMode set, a policy
// where every role (and the fallback) expires after TestModeTimeout and
// activity is debounced by TestModeDebounce.
func ForMode(testMode bool) Policy {
	if testMode {
		d := make(map[Role]time.Duration, 4)
		for _, r := range Roles() {
			d[r] = TestModeTimeout
		}
		return Policy{durations: d, fallback: TestModeTimeout, debounce: TestModeDebounce}
	}

	return Policy{
		durations: map[Role]time.Duration{
			RoleUser:      UserTimeout,
			RoleScanner:   ScannerTimeout,
			RoleAgent:     AgentTimeout,
			RoleOrganizer: OrganizerTimeout,
		},
		fallback: FallbackTimeout,
		debounce: DefaultDebounce,
	}
}

// DurationFor returns the inactivity duration for r. It is total: roles
// missing from the table use the fallback.
func (p Policy) DurationFor(r Role) time.Duration {
	if d, ok := p.durations[r]; ok && d > 0 {
		return d
	}
	if p.fallback > 0 {
		return p.fallback
	}
	return FallbackTimeout
}

// Milliseconds is DurationFor expressed in milliseconds.
func (p Policy) Milliseconds(r Role) int64 {
	return p.DurationFor(r).Milliseconds()
}

// DebounceInterval returns the activity coalescing window.
func (p Policy) DebounceInterval() time.Duration {
	if p.debounce > 0 {
		return p.debounce
	}
	return DefaultDebounce
}
