// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jeranaias/sessionguard/internal/apiclient"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/codec"
	"github.com/jeranaias/sessionguard/internal/config"
	"github.com/jeranaias/sessionguard/internal/logging"
	"github.com/jeranaias/sessionguard/internal/vault"
)

// App holds the components a command runs against.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Codec      *codec.Codec
	Store      *auth.Store
	// Vault is nil when persistence is disabled.
	Vault  *vault.Vault
	Client *apiclient.Client

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Color enables styled and highlighted output.
	Color bool

	closers []io.Closer
}

// IO bundles the standard streams.
type IO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Color  bool
}

// StdIO returns the process streams.
func StdIO() IO {
	return IO{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, Color: ColorsEnabled()}
}

// Bootstrap builds the components described by cfg, restores a persisted
// session if one is stored and returns the wired App. Close releases it.
func Bootstrap(ctx context.Context, cfg *config.Config, args Args, stdio IO) (*App, error) {
	a := &App{
		Config:     cfg,
		ConfigPath: args.ConfigPath,
		Stdin:      stdio.Stdin,
		Stdout:     stdio.Stdout,
		Stderr:     stdio.Stderr,
		Color:      stdio.Color,
	}

	logger, err := a.openLogger(args)
	if err != nil {
		return nil, err
	}
	a.Logger = logger

	a.Codec = codec.New(cfg.Codec.Secret,
		codec.WithIterations(cfg.Codec.Iterations),
		codec.WithLogger(logger))
	a.Store = auth.NewStore(auth.WithLogger(logger))

	backend, err := vault.Open(cfg.Vault.Driver, vaultTarget(cfg))
	if err != nil {
		a.Close()
		return nil, NewCommandError("vault", "open", cfg.Vault.Driver, err)
	}
	if backend != nil {
		a.closers = append(a.closers, backend)
		a.Vault = vault.New(backend, a.Codec, a.Store, cfg.Policy(),
			vault.WithKey(cfg.Vault.Key),
			vault.WithLogger(logger))
		a.Vault.Attach()
		if _, err := a.Vault.Restore(ctx); err != nil {
			logger.Warn("could not restore stored session", slog.String("error", err.Error()))
		}
	}

	client, err := apiclient.New(cfg.API.BaseURL, a.Store,
		apiclient.WithLogger(logger),
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithUserAgent("sessionguard/"+Version))
	if err != nil {
		a.Close()
		return nil, NewCommandError("api", "configure", "invalid base URL", err)
	}
	a.Client = client
	return a, nil
}

// Close detaches the vault and releases backends and log files.
func (a *App) Close() error {
	if a.Vault != nil {
		a.Vault.Detach()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openLogger(args Args) (*slog.Logger, error) {
	level := a.Config.Log.Level
	switch {
	case args.Verbose:
		level = "debug"
	case args.Quiet:
		level = "error"
	}

	w := a.Stderr
	if path := a.Config.Log.File; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		a.closers = append(a.closers, f)
		w = f
	}
	return logging.New(w, level, a.Config.Log.Format), nil
}

func vaultTarget(cfg *config.Config) string {
	if cfg.Vault.Driver == vault.DriverRedis {
		return cfg.Vault.RedisAddr
	}
	return cfg.Vault.Path
}

// Run dispatches cmd.
func (a *App) Run(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdEncode:
		return a.Encode(args)
	case CmdDecode:
		return a.Decode(args)
	case CmdLogin:
		return a.Login(ctx, args)
	case CmdLogout:
		return a.Logout(ctx, args)
	case CmdStatus:
		return a.Status(args)
	case CmdGet:
		return a.Get(ctx, args)
	case CmdWatch:
		return a.Watch(ctx, args)
	case CmdConfig:
		return ConfigCommand(args, IO{Stdin: a.Stdin, Stdout: a.Stdout, Stderr: a.Stderr, Color: a.Color})
	case CmdVersion:
		PrintVersion(a.Stdout)
		return nil
	default:
		PrintUsage(a.Stdout)
		return nil
	}
}
