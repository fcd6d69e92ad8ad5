// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/codec"
	"github.com/jeranaias/sessionguard/internal/logging"
	"github.com/jeranaias/sessionguard/internal/policy"
)

const (
	// DefaultKey is the entry name used when none is configured.
	DefaultKey = "current"

	// DefaultOpTimeout bounds backend calls made from store callbacks.
	DefaultOpTimeout = 5 * time.Second
)

// record is what gets encoded into the backend.
type record struct {
	Token   string      `json:"token"`
	Role    policy.Role `json:"role"`
	SavedAt time.Time   `json:"saved_at"`
}

// Vault mirrors the auth store into a Backend: it saves the session when one
// is established and deletes it as soon as it is cleared.
type Vault struct {
	backend Backend
	codec   *codec.Codec
	store   *auth.Store
	policy  policy.Policy
	key     string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	unsubscribe func()
	lastErr     error

	// writeMu serializes backend writes so a save can never land after the
	// delete for the same session.
	writeMu sync.Mutex
}

// Option configures a Vault.
type Option func(*Vault)

// WithKey sets the entry name.
func WithKey(key string) Option {
	return func(v *Vault) {
		if key != "" {
			v.key = key
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// WithOpTimeout bounds each backend call made from a store callback.
func WithOpTimeout(d time.Duration) Option {
	return func(v *Vault) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// New creates a vault. Call Attach to start mirroring the store.
func New(backend Backend, c *codec.Codec, store *auth.Store, pol policy.Policy, opts ...Option) *Vault {
	v := &Vault{
		backend: backend,
		codec:   c,
		store:   store,
		policy:  pol,
		key:     DefaultKey,
		timeout: DefaultOpTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = logging.OrDiscard(v.logger)
	return v
}

// Attach subscribes to the store. Calling it again has no effect.
func (v *Vault) Attach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unsubscribe == nil {
		v.unsubscribe = v.store.Subscribe(v.handle)
	}
}

// Detach stops mirroring. The stored entry is left as is.
func (v *Vault) Detach() {
	v.mu.Lock()
	unsub := v.unsubscribe
	v.unsubscribe = nil
	v.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// SetPolicy replaces the table that sets each entry's time-to-live. It
// applies from the next save.
func (v *Vault) SetPolicy(p policy.Policy) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.policy = p
}

// Err returns the last error from a save or delete triggered by the store.
func (v *Vault) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// Restore loads the stored session into the store. It reports false when
// nothing usable was stored; an entry that cannot be decoded is deleted.
func (v *Vault) Restore(ctx context.Context) (bool, error) {
	payload, err := v.backend.Load(ctx, v.key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var rec record
	if !v.codec.DecodeInto(payload, &rec) || rec.Token == "" {
		v.logger.Warn("discarding unreadable stored session")
		if err := v.backend.Delete(ctx, v.key); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := v.store.SetSession(rec.Token, rec.Role); err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}
	logging.SessionEvent(v.logger, logging.EventRestored,
		slog.String("role", rec.Role.String()),
		slog.Time("saved_at", rec.SavedAt))
	return true, nil
}

// Touch re-saves the current session so its TTL starts over.
func (v *Vault) Touch(ctx context.Context) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()

	cur := v.store.Current()
	if !cur.IsAuthenticated() {
		return nil
	}
	return v.save(ctx, cur)
}

// Forget deletes the stored entry.
func (v *Vault) Forget(ctx context.Context) error {
	v.writeMu.Lock()
	defer v.writeMu.Unlock()
	return v.backend.Delete(ctx, v.key)
}

func (v *Vault) handle(ev auth.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	v.writeMu.Lock()
	var err error
	switch ev.Kind {
	case auth.EventEstablished:
		err = v.save(ctx, ev.Current)
	case auth.EventCleared:
		err = v.backend.Delete(ctx, v.key)
	}
	v.writeMu.Unlock()
	if err != nil {
		v.logger.Error("vault sync failed", slog.String("error", err.Error()))
	}

	v.mu.Lock()
	v.lastErr = err
	v.mu.Unlock()
}

// save writes st and removes it again if the store moved on to another
// session (or none) while the write was in flight. Callers hold writeMu.
func (v *Vault) save(ctx context.Context, st auth.SessionState) error {
	payload, err := v.codec.Seal(record{Token: st.Token, Role: st.Role, SavedAt: v.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	v.mu.Lock()
	ttl := v.policy.DurationFor(st.Role)
	v.mu.Unlock()

	if err := v.backend.Save(ctx, v.key, payload, ttl); err != nil {
		return err
	}
	if v.store.Token() != st.Token {
		v.logger.Debug("session changed during save, removing stored copy")
		return v.backend.Delete(ctx, v.key)
	}
	return nil
}
