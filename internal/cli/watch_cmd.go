// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/sessionguard/internal/apiclient"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/config"
	"github.com/jeranaias/sessionguard/internal/ui/watch"
	"github.com/jeranaias/sessionguard/internal/watchdog"
)

// watchDefaultPing is the poll interval when --ping is given without --every.
const watchDefaultPing = time.Minute

// Watch opens the live session view. Key presses count as activity and
// keep the session (and its stored copy) alive; the view closes when the
// session ends. With --ping PATH the API is polled every --every interval.
func (a *App) Watch(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	every, err := p.FlagDuration("every", 0)
	if err != nil {
		return err
	}
	pingPath := p.Flag("ping")
	if pingPath != "" && every == 0 {
		every = watchDefaultPing
	}

	if !a.Store.Current().IsAuthenticated() {
		return ErrNotSignedIn
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Events arrive on timer and HTTP goroutines; they are queued here and
	// forwarded once the program is running.
	events := make(chan tea.Msg, 32)
	post := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
			a.Logger.Debug("watch event dropped", slog.String("type", fmt.Sprintf("%T", msg)))
		}
	}

	wd := watchdog.New(a.Store, a.Config.Policy(),
		watchdog.WithLogger(a.Logger),
		watchdog.WithWarning(a.Config.Session.WarnBefore, func(rem time.Duration) {
			post(watch.WarningMsg{Remaining: rem})
		}))

	unsubStore := a.Store.Subscribe(func(ev auth.Event) {
		if ev.Kind == auth.EventCleared {
			post(watch.ClearedMsg{Reason: ev.Reason})
		}
	})
	defer unsubStore()

	unsubThrottle := a.Client.OnThrottle(func(ev apiclient.ThrottleEvent) {
		post(watch.ThrottledMsg{Event: ev})
	})
	defer unsubThrottle()

	wd.Start()
	defer wd.Stop()

	a.watchConfig(ctx, wd)

	opts := []watch.Option{
		watch.WithActivityHook(func() {
			if a.Vault == nil {
				return
			}
			if err := a.Vault.Touch(ctx); err != nil {
				a.Logger.Warn("could not refresh stored session", slog.String("error", err.Error()))
			}
		}),
	}
	if pingPath != "" {
		opts = append(opts, watch.WithPing(every, func(ctx context.Context) error {
			var discard []byte
			return a.Client.Get(ctx, pingPath, &discard)
		}))
	}

	prog := tea.NewProgram(watch.New(a.Store, wd, opts...),
		tea.WithContext(ctx),
		tea.WithInput(a.Stdin),
		tea.WithOutput(a.Stdout))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-events:
				prog.Send(msg)
			}
		}
	}()

	final, err := prog.Run()
	if err != nil && ctx.Err() == nil {
		return NewCommandError("watch", "run", "terminal UI failed", err)
	}
	if m, ok := final.(watch.Model); ok {
		if cleared, reason := m.Cleared(); cleared && reason != auth.ReasonLogout {
			return fmt.Errorf("%w (%s)", ErrNotSignedIn, reason)
		}
	}
	return nil
}

// watchConfig applies policy changes from the config file to the watchdog
// and the vault while the view is open.
func (a *App) watchConfig(ctx context.Context, wd *watchdog.Watchdog) {
	path := a.ConfigPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return
		}
		path = p
	}

	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			a.Logger.Warn("ignoring config change", slog.String("error", err.Error()))
			return
		}
		wd.SetPolicy(cfg.Policy())
		if a.Vault != nil {
			a.Vault.SetPolicy(cfg.Policy())
		}
		a.Logger.Info("session policy reloaded", slog.Bool("test_mode", cfg.Session.TestMode))
	})
	if err != nil {
		a.Logger.Debug("config reload disabled", slog.String("error", err.Error()))
	}
}
