// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package policy defines account roles and how long each may stay idle.
//
// # Key Types
//
//   - Role: closed set of account kinds plus RoleUnknown
//   - Policy: immutable role -> inactivity duration table with a fallback
//     and an activity debounce interval
//
// # Usage
//
//	pol := policy.ForMode(cfg.Session.TestMode)
//	timeout := pol.DurationFor(policy.ParseRole("scanner")) // 4h
//
// Test mode collapses every duration to 30 seconds and the debounce to
// 2 seconds so expiry can be exercised by hand.
package policy
