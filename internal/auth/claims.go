// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/jeranaias/sessionguard/internal/policy"
)

// RoleFromToken reads the role a JWT access token claims to carry. The
// signature is NOT verified: the client has no key and the server remains
// the authority, so the result is only a default for the session role.
// Opaque (non-JWT) tokens and tokens without a role claim yield RoleUnknown.
func RoleFromToken(token string) policy.Role {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return policy.RoleUnknown
	}

	if r, ok := claims["role"].(string); ok {
		return policy.ParseRole(r)
	}
	if roles, ok := claims["roles"].([]any); ok && len(roles) > 0 {
		if r, ok := roles[0].(string); ok {
			return policy.ParseRole(r)
		}
	}
	return policy.RoleUnknown
}
