// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package watchdog ends sessions after a period of user inactivity.
//
// # Lifecycle
//
//	Unarmed --session established--> Armed --timer fires--> Expired --clear--> Unarmed
//	                                  Armed --logout / 401-------------------> Unarmed
//
// The timeout depends on the session role (see package policy). Every
// activity reset restarts a full-length window from the moment of the
// signal: this is a sliding inactivity window, not an absolute lifetime.
//
// # Activity Coalescing
//
// Raw activity signals (key presses, clicks) arrive in bursts. Only the
// first signal in each debounce window restarts the timer; the rest are
// dropped. The window is enforced with a single-token rate.Limiter fed the
// scheduler's clock, so it is exact under a fake clock too.
//
// # Usage
//
//	wd := watchdog.New(store, policy.Default(), watchdog.WithLogger(logger))
//	wd.Start()
//	defer wd.Stop()
//
//	// wire to the input layer
//	onKeyPress := func() { wd.Activity() }
package watchdog
