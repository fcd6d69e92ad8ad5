// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package watchdog

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/clock"
	"github.com/jeranaias/sessionguard/internal/logging"
	"github.com/jeranaias/sessionguard/internal/policy"
)

// State is the watchdog's position in its lifecycle.
type State int

const (
	// StateUnarmed means there is no session to guard.
	StateUnarmed State = iota
	// StateArmed means a session exists and the expiry timer is running.
	StateArmed
	// StateExpired is held only while the expired session is being cleared.
	StateExpired
)

// String returns a string representation of the State.
func (s State) String() string {
	switch s {
	case StateUnarmed:
		return "UNARMED"
	case StateArmed:
		return "ARMED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Status is a point-in-time view of the watchdog.
type Status struct {
	State     State
	Role      policy.Role
	Timeout   time.Duration
	Deadline  time.Time
	Remaining time.Duration
	Resets    uint64
}

// =============================================================================
// WATCHDOG
// =============================================================================

// Watchdog expires the session in an auth.Store after a role-dependent
// period without user activity.
type Watchdog struct {
	mu sync.Mutex

	store  *auth.Store
	policy policy.Policy
	sched  clock.Scheduler
	logger *slog.Logger

	state    State
	token    string
	role     policy.Role
	timeout  time.Duration
	deadline time.Time
	limiter  *rate.Limiter
	resets   uint64

	// gen identifies the current timer; callbacks from older timers are ignored.
	gen        uint64
	cancel     clock.Cancel
	cancelWarn clock.Cancel

	warnBefore time.Duration
	onWarning  func(remaining time.Duration)
	onExpired  func()

	unsubscribe func()
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithScheduler replaces the real-time scheduler.
func WithScheduler(s clock.Scheduler) Option {
	return func(w *Watchdog) { w.sched = s }
}

// WithLogger sets the audit logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// WithWarning calls fn once per inactivity window, before ahead of expiry.
// Windows no longer than before get no warning.
func WithWarning(before time.Duration, fn func(remaining time.Duration)) Option {
	return func(w *Watchdog) {
		w.warnBefore = before
		w.onWarning = fn
	}
}

// WithExpiredHook calls fn after an inactivity expiry has cleared the session.
func WithExpiredHook(fn func()) Option {
	return func(w *Watchdog) { w.onExpired = fn }
}

// New creates an unarmed watchdog for store. Call Start to begin guarding.
func New(store *auth.Store, pol policy.Policy, opts ...Option) *Watchdog {
	w := &Watchdog{
		store:  store,
		policy: pol,
		sched:  clock.Real(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logging.OrDiscard(w.logger)
	return w
}

// Start subscribes to the store and arms immediately if a session already
// exists. Calling Start twice has no additional effect.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.unsubscribe != nil {
		w.mu.Unlock()
		return
	}
	w.unsubscribe = w.store.Subscribe(w.handle)
	w.mu.Unlock()

	if cur := w.store.Current(); cur.IsAuthenticated() {
		w.arm(cur)
	}
}

// Stop unsubscribes and cancels any pending expiry without touching the
// session.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	unsub := w.unsubscribe
	w.unsubscribe = nil
	w.disarmLocked()
	w.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// SetPolicy replaces the duration table. It applies from the next arm or
// activity reset; the debounce interval applies from the next arm.
func (w *Watchdog) SetPolicy(p policy.Policy) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.policy = p
}

// Activity ingests one raw user activity signal. While armed, at most one
// signal per debounce window restarts the expiry timer with a fresh
// full-length window. It reports whether the timer was restarted.
func (w *Watchdog) Activity() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateArmed {
		return false
	}
	if !w.limiter.AllowN(w.sched.Now(), 1) {
		return false
	}

	w.timeout = w.policy.DurationFor(w.role)
	w.scheduleLocked()
	w.resets++
	w.logger.Debug("inactivity timer reset",
		slog.String("role", w.role.String()),
		slog.Duration("timeout", w.timeout))
	return true
}

// State returns the current lifecycle state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Remaining returns the time left before expiry, or 0 when not armed.
func (w *Watchdog) Remaining() time.Duration {
	return w.Status().Remaining
}

// Deadline returns when the session expires without further activity.
// It is the zero time when not armed.
func (w *Watchdog) Deadline() time.Time {
	return w.Status().Deadline
}

// Status returns a snapshot of the watchdog.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{State: w.state, Role: w.role, Resets: w.resets}
	if w.state == StateArmed {
		st.Timeout = w.timeout
		st.Deadline = w.deadline
		if rem := w.deadline.Sub(w.sched.Now()); rem > 0 {
			st.Remaining = rem
		}
	}
	return st
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// handle reacts to store transitions.
func (w *Watchdog) handle(ev auth.Event) {
	switch ev.Kind {
	case auth.EventEstablished:
		if cur := w.store.Current(); cur.IsAuthenticated() {
			w.arm(cur)
		}
	case auth.EventCleared:
		w.mu.Lock()
		if w.state == StateArmed {
			// Cleared from outside (logout, 401): skip Expired entirely.
			w.logger.Debug("session cleared while armed",
				slog.String("reason", ev.Reason.String()))
		}
		w.disarmLocked()
		w.mu.Unlock()
	}
}

func (w *Watchdog) arm(st auth.SessionState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.state = StateArmed
	w.token = st.Token
	w.role = st.Role
	w.timeout = w.policy.DurationFor(st.Role)
	w.limiter = rate.NewLimiter(rate.Every(w.policy.DebounceInterval()), 1)
	w.scheduleLocked()

	w.logger.Debug("inactivity watchdog armed",
		slog.String("role", st.Role.String()),
		slog.Duration("timeout", w.timeout))
}

// scheduleLocked cancels any pending timers and starts a new window.
func (w *Watchdog) scheduleLocked() {
	w.cancelTimersLocked()

	w.gen++
	gen := w.gen
	w.deadline = w.sched.Now().Add(w.timeout)
	w.cancel = w.sched.ScheduleOnce(w.timeout, func() { w.expire(gen) })

	if w.onWarning != nil && w.warnBefore > 0 && w.warnBefore < w.timeout {
		w.cancelWarn = w.sched.ScheduleOnce(w.timeout-w.warnBefore, func() { w.warn(gen) })
	}
}

func (w *Watchdog) cancelTimersLocked() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.cancelWarn != nil {
		w.cancelWarn()
		w.cancelWarn = nil
	}
}

func (w *Watchdog) disarmLocked() {
	w.cancelTimersLocked()
	w.gen++
	w.state = StateUnarmed
	w.token = ""
	w.role = policy.RoleUnknown
	w.timeout = 0
	w.deadline = time.Time{}
	w.limiter = nil
}

func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.state != StateArmed {
		w.mu.Unlock()
		return
	}
	w.state = StateExpired
	w.cancel = nil
	token, role, timeout := w.token, w.role, w.timeout
	hook := w.onExpired
	w.mu.Unlock()

	logging.SessionEvent(w.logger, logging.EventExpired,
		slog.String("role", role.String()),
		slog.Duration("idle", timeout))

	w.store.ClearIfToken(token, auth.ReasonInactivity)

	w.mu.Lock()
	if w.state == StateExpired {
		w.disarmLocked()
	}
	w.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (w *Watchdog) warn(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || w.state != StateArmed {
		w.mu.Unlock()
		return
	}
	w.cancelWarn = nil
	remaining := w.deadline.Sub(w.sched.Now())
	fn := w.onWarning
	w.mu.Unlock()

	logging.SessionEvent(w.logger, logging.EventWarning, slog.Duration("expires_in", remaining))
	fn(remaining)
}
