// sessionguard - client session and trust boundary toolkit.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/sessionguard/internal/cli"
	"github.com/jeranaias/sessionguard/internal/config"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	stdio := cli.StdIO()

	cmd, args, err := cli.Parse(argv)
	if err != nil {
		cli.DisplayError(stdio.Stderr, err, args.JSON)
		return cli.ExitCode(err)
	}

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// Commands that must work without a usable configuration.
	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(stdio.Stdout)
		return cli.ExitSuccess
	case cli.CmdVersion:
		cli.PrintVersion(stdio.Stdout)
		return cli.ExitSuccess
	case cli.CmdConfig:
		if err := cli.ConfigCommand(args, stdio); err != nil {
			cli.DisplayError(stdio.Stderr, err, args.JSON)
			return cli.ExitCode(err)
		}
		return cli.ExitSuccess
	}

	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		cli.DisplayError(stdio.Stderr, err, args.JSON)
		return cli.ExitCode(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.Bootstrap(ctx, cfg, args, stdio)
	if err != nil {
		cli.DisplayError(stdio.Stderr, err, args.JSON)
		return cli.ExitCode(err)
	}
	defer app.Close()

	if err := app.Run(ctx, cmd, args); err != nil {
		cli.DisplayError(stdio.Stderr, err, args.JSON)
		return cli.ExitCode(err)
	}
	return cli.ExitSuccess
}
