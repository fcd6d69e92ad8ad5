// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jeranaias/sessionguard/internal/config"
)

// ConfigCommand handles "config show|init|path". It runs without the rest
// of the App so a broken configuration can still be inspected and replaced.
func ConfigCommand(args Args, stdio IO) error {
	p := NewArgParser(args.Raw, "force")

	path := args.ConfigPath
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return NewCommandError("config", "locate", "could not determine config path", err)
		}
	}

	switch sub := p.Positional(0); sub {
	case "", "show":
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(stdio.Stderr, DimStyle.Render("# "+path+" does not exist; showing defaults"))
		}
		_, err = fmt.Fprint(stdio.Stdout, cfg.String())
		return err

	case "path":
		_, err := fmt.Fprintln(stdio.Stdout, path)
		return err

	case "init":
		if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
			return NewCommandError("config", "init", path+" already exists (use --force to overwrite)", nil)
		}
		if err := config.Save(config.Default(), path); err != nil {
			return NewCommandError("config", "init", "could not write config", err)
		}
		fmt.Fprintf(stdio.Stdout, "%s Wrote %s\n", SuccessStyle.Render("[OK]"), path)
		fmt.Fprintln(stdio.Stdout, DimStyle.Render("Set [codec] secret or SESSIONGUARD_SECRET_KEY before sharing payloads."))
		return nil

	default:
		return NewValidationErrorWithExample("config subcommand", sub, "must be show, init or path", "sessionguard config init")
	}
}
