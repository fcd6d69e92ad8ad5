// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/sessionguard/internal/logging"
	"github.com/jeranaias/sessionguard/internal/policy"
)

// ErrEmptyToken is returned by SetSession when no credential is supplied.
var ErrEmptyToken = errors.New("session token must not be empty")

// =============================================================================
// SESSION STATE
// =============================================================================

// SessionState is a snapshot of the current credentials. Token and Role are
// either both set or both zero.
type SessionState struct {
	Token string
	Role  policy.Role
}

// IsAuthenticated reports whether a token is present.
func (s SessionState) IsAuthenticated() bool {
	return s.Token != ""
}

// ClearReason explains why a session ended.
type ClearReason int

const (
	// ReasonLogout is an explicit user logout.
	ReasonLogout ClearReason = iota
	// ReasonUnauthorized is a 401 from the server.
	ReasonUnauthorized
	// ReasonInactivity is an inactivity timeout.
	ReasonInactivity
	// ReasonRestoreFailed is a persisted session that could not be restored.
	ReasonRestoreFailed
)

// String returns the reason name used in logs.
func (r ClearReason) String() string {
	switch r {
	case ReasonLogout:
		return "logout"
	case ReasonUnauthorized:
		return "unauthorized"
	case ReasonInactivity:
		return "inactivity"
	case ReasonRestoreFailed:
		return "restore_failed"
	default:
		return "unknown"
	}
}

// EventKind distinguishes session transitions.
type EventKind int

const (
	// EventEstablished is emitted after SetSession.
	EventEstablished EventKind = iota
	// EventCleared is emitted after a session is removed.
	EventCleared
)

// Event describes one state transition.
type Event struct {
	Kind     EventKind
	Previous SessionState
	Current  SessionState
	// Reason is set for EventCleared only.
	Reason ClearReason
	At     time.Time
}

// =============================================================================
// STORE
// =============================================================================

// Store is the single owner of the current session. All methods are safe
// for concurrent use; a change is visible to every reader as soon as the
// mutating call returns.
type Store struct {
	mu    sync.RWMutex
	state SessionState

	// pending holds events in mutation order until they are delivered.
	pending  []Event
	draining bool

	subMu  sync.Mutex
	subs   map[uint64]func(Event)
	order  []uint64
	nextID uint64

	logger *slog.Logger
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the audit logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithNow overrides the event timestamp source.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore returns an empty, unauthenticated store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		subs: make(map[uint64]func(Event)),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s
}

// Current returns a snapshot of the session.
func (s *Store) Current() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns the current token, or "" when unauthenticated.
func (s *Store) Token() string {
	return s.Current().Token
}

// SetSession atomically replaces the session. The token must be non-empty;
// role may be RoleUnknown, in which case the fallback policy applies.
func (s *Store) SetSession(token string, role policy.Role) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if !role.Known() {
		role = policy.RoleUnknown
	}

	s.mu.Lock()
	prev := s.state
	s.state = SessionState{Token: token, Role: role}
	s.pending = append(s.pending, Event{Kind: EventEstablished, Previous: prev, Current: s.state, At: s.now()})
	s.mu.Unlock()

	logging.SessionEvent(s.logger, logging.EventEstablished,
		slog.String("role", role.String()),
		slog.String("token_fp", logging.Fingerprint(token)))

	s.drain()
	return nil
}

// ClearSession atomically resets to the unauthenticated state. It is
// idempotent: clearing an empty store returns false and emits nothing.
func (s *Store) ClearSession(reason ClearReason) bool {
	return s.clear(func(SessionState) bool { return true }, reason)
}

// ClearIfToken clears the session only if it still holds token. An empty
// token matches nothing.
func (s *Store) ClearIfToken(token string, reason ClearReason) bool {
	if token == "" {
		return false
	}
	return s.clear(func(cur SessionState) bool { return cur.Token == token }, reason)
}

func (s *Store) clear(match func(SessionState) bool, reason ClearReason) bool {
	s.mu.Lock()
	prev := s.state
	if !prev.IsAuthenticated() || !match(prev) {
		s.mu.Unlock()
		return false
	}
	s.state = SessionState{}
	s.pending = append(s.pending, Event{Kind: EventCleared, Previous: prev, Reason: reason, At: s.now()})
	s.mu.Unlock()

	logging.SessionEvent(s.logger, logging.EventCleared,
		slog.String("reason", reason.String()),
		slog.String("role", prev.Role.String()),
		slog.String("token_fp", logging.Fingerprint(prev.Token)))

	s.drain()
	return true
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn for every subsequent transition. Events reach
// subscribers one at a time, in the order the mutations happened, and in
// registration order within an event. Delivery runs after the store lock is
// released, so subscribers may read or mutate the store; a mutation made from
// a subscriber is delivered after the current event. Without contention the
// mutating goroutine delivers its own event before returning. The returned
// function unregisters fn.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	s.order = append(s.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// drain delivers pending events. Only one goroutine drains at a time; the
// others leave their events queued for it.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		s.publish(ev)
		s.mu.Lock()
	}
	s.pending = nil
	s.draining = false
	s.mu.Unlock()
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	fns := make([]func(Event), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
