// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vault persists the current session between runs.
//
// Sessions are written as codec payloads, never as plaintext, with a TTL
// equal to the role's inactivity timeout. Two backends are provided: a local
// SQLite file for a single workstation and redis for shared kiosks.
package vault
