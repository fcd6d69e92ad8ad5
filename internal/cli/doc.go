// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the sessionguard command line.
//
// Parse turns os.Args into a Command and Args. Bootstrap wires the codec,
// session store, vault and API client from a loaded config.Config, restoring
// any persisted session, and App.Run dispatches the command against them.
// Errors map to process exit codes through ExitCode.
//
// Output is styled with lipgloss. Color follows NO_COLOR, FORCE_COLOR and TTY
// detection; --json switches every command to machine-readable output.
package cli
