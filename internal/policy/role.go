// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package policy

import (
	"fmt"
	"strings"
)

// Role identifies the kind of account holding a session.
type Role int

const (
	// RoleUnknown is the unauthenticated or unrecognized role.
	RoleUnknown Role = iota
	// RoleUser is a regular end user.
	RoleUser
	// RoleScanner is a ticket scanning device operator.
	RoleScanner
	// RoleAgent is a sales agent.
	RoleAgent
	// RoleOrganizer is an event organizer.
	RoleOrganizer
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleScanner:
		return "scanner"
	case RoleAgent:
		return "agent"
	case RoleOrganizer:
		return "organizer"
	default:
		return "unknown"
	}
}

// Known reports whether r is one of the recognized roles.
func (r Role) Known() bool {
	return r >= RoleUser && r <= RoleOrganizer
}

// ParseRole maps a wire name to a Role. Matching is case-insensitive and
// anything unrecognized is RoleUnknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser
	case "scanner":
		return RoleScanner
	case "agent":
		return RoleAgent
	case "organizer":
		return RoleOrganizer
	default:
		return RoleUnknown
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown names decode
// to RoleUnknown rather than failing; an empty name is rejected.
func (r *Role) UnmarshalText(text []byte) error {
	if len(strings.TrimSpace(string(text))) == 0 {
		return fmt.Errorf("empty role")
	}
	*r = ParseRole(string(text))
	return nil
}

// Roles returns every known role in declaration order.
func Roles() []Role {
	return []Role{RoleUser, RoleScanner, RoleAgent, RoleOrganizer}
}
