// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"regexp"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/sessionguard/internal/policy"
	"github.com/jeranaias/sessionguard/internal/watchdog"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// remainingStyle colors the countdown by how much of the window is left.
func remainingStyle(remaining, timeout time.Duration) lipgloss.Style {
	if timeout <= 0 {
		return dimStyle
	}
	switch frac := float64(remaining) / float64(timeout); {
	case frac <= 0.1:
		return errorStyle
	case frac <= 0.25:
		return warnStyle
	default:
		return okStyle
	}
}

func stateText(s watchdog.State) string {
	switch s {
	case watchdog.StateArmed:
		return okStyle.Render("active")
	case watchdog.StateExpired:
		return errorStyle.Render("expired")
	default:
		return dimStyle.Render("signed out")
	}
}

func roleTitle(r policy.Role) string {
	switch r {
	case policy.RoleUser:
		return "User"
	case policy.RoleScanner:
		return "Scanner"
	case policy.RoleAgent:
		return "Agent"
	case policy.RoleOrganizer:
		return "Organizer"
	default:
		return "Unknown"
	}
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
