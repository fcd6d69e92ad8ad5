// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apiclient sends authenticated requests to the backend API.
//
// Every request passes through Transport, which:
//   - attaches "Authorization: Bearer <token>" when a session exists, and
//     strips any caller-supplied Authorization header when it does not
//   - tags the request with an X-Request-ID
//   - on 401 clears the session that made the request
//   - on 429 notifies throttle handlers and leaves the session alone
//
// Responses are handed back unchanged; the transport never retries. Client
// layers JSON encoding, size-limited reads and typed errors on top:
//
//	client, err := apiclient.New(cfg.API.BaseURL, store, apiclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	var me Profile
//	if err := client.Get(ctx, "/users/me", &me); apiclient.IsUnauthorized(err) {
//	    // session is already gone
//	}
package apiclient
