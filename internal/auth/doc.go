// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth owns the current session: the bearer token and the role it
// was issued for.
//
// A Store is created once per process and passed by reference to the
// components that need it (the inactivity watchdog, the API transport, the
// vault). It has a deliberately narrow mutation API:
//
//   - SetSession(token, role): replace the session
//   - ClearSession(reason): drop it (idempotent)
//   - ClearIfToken(token, reason): drop it only if it is still the same one
//
// Observers register with Subscribe and are told about every transition, in
// the order the transitions happened, together with the reason a session
// ended.
//
// # Usage
//
//	store := auth.NewStore(auth.WithLogger(logger))
//	unsub := store.Subscribe(func(ev auth.Event) {
//	    if ev.Kind == auth.EventCleared {
//	        showLogin(ev.Reason)
//	    }
//	})
//	defer unsub()
//
//	_ = store.SetSession(token, auth.RoleFromToken(token))
package auth
