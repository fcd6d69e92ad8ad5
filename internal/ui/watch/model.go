// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/sessionguard/internal/apiclient"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/watchdog"
)

// =============================================================================
// MESSAGES
// =============================================================================

// TickMsg is sent once a second to refresh the countdown.
type TickMsg struct {
	Time time.Time
}

// ClearedMsg reports that the session ended.
type ClearedMsg struct {
	Reason auth.ClearReason
}

// ThrottledMsg reports a 429 from the API.
type ThrottledMsg struct {
	Event apiclient.ThrottleEvent
}

// WarningMsg reports that expiry is near.
type WarningMsg struct {
	Remaining time.Duration
}

// PingResultMsg carries the outcome of a keepalive request.
type PingResultMsg struct {
	Err error
	At  time.Time
}

// TickCmd returns a command that ticks periodically.
func TickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// =============================================================================
// KEYS
// =============================================================================

type keyMap struct {
	Quit key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "esc"),
			key.WithHelp("esc", "quit"),
		),
	}
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model behind "sessionguard watch". Any key other
// than quit counts as user activity.
type Model struct {
	store *auth.Store
	wd    *watchdog.Watchdog
	keys  keyMap
	bar   progress.Model
	width int

	onActivity func()

	pingEvery time.Duration
	ping      func(context.Context) error
	lastPing  *PingResultMsg

	throttle *apiclient.ThrottleEvent
	warning  time.Duration
	cleared  bool
	reason   auth.ClearReason
	quitting bool
}

// Option configures a Model.
type Option func(*Model)

// WithActivityHook calls fn whenever a key press restarts the timer.
func WithActivityHook(fn func()) Option {
	return func(m *Model) { m.onActivity = fn }
}

// WithPing issues fn every interval so throttling and server-side logout
// surface while the view is open.
func WithPing(interval time.Duration, fn func(context.Context) error) Option {
	return func(m *Model) {
		if interval > 0 && fn != nil {
			m.pingEvery = interval
			m.ping = fn
		}
	}
}

// New creates the watch model.
func New(store *auth.Store, wd *watchdog.Watchdog, opts ...Option) Model {
	m := Model{
		store: store,
		wd:    wd,
		keys:  defaultKeys(),
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width: 60,
	}
	m.bar.Width = m.width - 4
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Cleared reports whether the view ended because the session did, and why.
func (m Model) Cleared() (bool, auth.ClearReason) {
	return m.cleared, m.reason
}

// Init starts the countdown.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{TickCmd()}
	if m.ping != nil {
		cmds = append(cmds, m.pingCmd(0))
	}
	return tea.Batch(cmds...)
}

func (m Model) pingCmd(delay time.Duration) tea.Cmd {
	run := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := m.ping(ctx)
		return PingResultMsg{Err: err, At: time.Now()}
	}
	if delay <= 0 {
		return run
	}
	return tea.Tick(delay, func(time.Time) tea.Msg { return run() })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
		m.activity()
		return m, nil

	case tea.MouseMsg:
		m.activity()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-4, 10)
		return m, nil

	case TickMsg:
		if !m.store.Current().IsAuthenticated() {
			m.cleared = true
			return m, tea.Quit
		}
		return m, TickCmd()

	case WarningMsg:
		m.warning = msg.Remaining
		return m, nil

	case ThrottledMsg:
		ev := msg.Event
		m.throttle = &ev
		return m, nil

	case PingResultMsg:
		m.lastPing = &msg
		if apiclient.IsUnauthorized(msg.Err) {
			// The transport already cleared the session; ClearedMsg follows.
			return m, nil
		}
		return m, m.pingCmd(m.pingEvery)

	case ClearedMsg:
		m.cleared = true
		m.reason = msg.Reason
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) activity() {
	if m.wd.Activity() {
		m.warning = 0
		if m.onActivity != nil {
			m.onActivity()
		}
	}
}

// View renders the current state.
func (m Model) View() string {
	if m.cleared {
		return m.fit(errorStyle.Render(fmt.Sprintf("Session ended (%s).", m.reason))) + "\n"
	}
	if m.quitting {
		return ""
	}

	st := m.wd.Status()
	var b strings.Builder

	b.WriteString(titleStyle.Render("sessionguard watch"))
	b.WriteString("\n\n")

	b.WriteString(m.row("Role", valueStyle.Render(roleTitle(st.Role))))
	b.WriteString(m.row("State", stateText(st.State)))
	b.WriteString(m.row("Expires in", remainingStyle(st.Remaining, st.Timeout).Render(FormatRemaining(st.Remaining))))
	b.WriteString(m.row("Resets", valueStyle.Render(fmt.Sprintf("%d", st.Resets))))

	if st.Timeout > 0 {
		b.WriteString("\n  ")
		b.WriteString(m.bar.ViewAs(float64(st.Remaining) / float64(st.Timeout)))
		b.WriteString("\n")
	}

	if m.warning > 0 {
		b.WriteString("\n")
		b.WriteString(m.fit(warnStyle.Render(fmt.Sprintf("Session expires in %s. Press any key to stay signed in.", FormatRemaining(st.Remaining)))))
		b.WriteString("\n")
	}
	if m.throttle != nil {
		b.WriteString("\n")
		msg := fmt.Sprintf("Rate limited on %s %s at %s", m.throttle.Method, m.throttle.URL, m.throttle.At.Format("15:04:05"))
		if m.throttle.RetryAfter > 0 {
			msg += fmt.Sprintf(", retry in %s", FormatRemaining(m.throttle.RetryAfter))
		}
		b.WriteString(m.fit(warnStyle.Render(msg)))
		b.WriteString("\n")
	}
	if m.lastPing != nil && m.lastPing.Err != nil && !apiclient.IsThrottled(m.lastPing.Err) && !apiclient.IsUnauthorized(m.lastPing.Err) {
		b.WriteString("\n")
		b.WriteString(m.fit(dimStyle.Render("Last ping failed: " + m.lastPing.Err.Error())))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("any key: activity  " + m.keys.Quit.Help().Key + ": " + m.keys.Quit.Help().Desc))
	b.WriteString("\n")
	return b.String()
}

func (m Model) row(label, value string) string {
	return m.fit("  "+labelStyle.Render(label)+value) + "\n"
}

// fit truncates a rendered line to the terminal width.
func (m Model) fit(s string) string {
	if m.width <= 0 || runewidth.StringWidth(stripANSI(s)) <= m.width {
		return s
	}
	return runewidth.Truncate(stripANSI(s), m.width, "…")
}

// FormatRemaining returns a compact countdown such as "29m 05s".
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	mins := int(d/time.Minute) % 60
	secs := int(d/time.Second) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, mins)
	case mins > 0:
		return fmt.Sprintf("%dm %02ds", mins, secs)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
