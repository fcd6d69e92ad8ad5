// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
)

// Version information (set at build time via ldflags).
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents a CLI command.
type Command int

const (
	CmdHelp Command = iota
	CmdVersion
	CmdEncode
	CmdDecode
	CmdLogin
	CmdLogout
	CmdStatus
	CmdGet
	CmdWatch
	CmdConfig
	CmdUnknown
)

// String returns the command name as typed.
func (c Command) String() string {
	switch c {
	case CmdHelp:
		return "help"
	case CmdVersion:
		return "version"
	case CmdEncode:
		return "encode"
	case CmdDecode:
		return "decode"
	case CmdLogin:
		return "login"
	case CmdLogout:
		return "logout"
	case CmdStatus:
		return "status"
	case CmdGet:
		return "get"
	case CmdWatch:
		return "watch"
	case CmdConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Args holds the global flags and the arguments that follow the command.
type Args struct {
	// ConfigPath overrides the config file location
	ConfigPath string
	// JSON selects machine-readable output
	JSON bool
	// Verbose enables debug logging
	Verbose bool
	// Quiet limits logging to errors
	Quiet bool
	// Name is the command word as typed
	Name string
	// Raw holds everything after the command word
	Raw []string
}

const usageText = `sessionguard - client session and trust boundary toolkit

Usage:
  sessionguard [global flags] <command> [arguments]

Commands:
  login [--token T] [--role R]   Start a session (prompts for the token if omitted)
  logout                         End the current session
  status                         Show the current session
  get <path>                     Call the API with the current session
  watch [--ping PATH]            Live session view; any key counts as activity
  encode [VALUE|-]               Encrypt a JSON value into a URL-safe payload
  decode <PAYLOAD>               Decrypt a payload back to JSON
  config [show|init|path]        Show or create the configuration file
  version                        Show version information
  help                           Show this help

Global flags:
  --config PATH   Config file (default ~/.sessionguard/config.toml)
  --json          JSON output
  -v, --verbose   Debug logging
  -q, --quiet     Only log errors

Environment:
  SESSIONGUARD_SECRET_KEY   Codec secret
  SESSIONGUARD_API_URL      API base URL
  SESSIONGUARD_TEST_MODE    Shorten every session timeout to 30s

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "sessionguard version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments (without the program name) and
// returns the command and args.
func Parse(argv []string) (Command, Args, error) {
	remaining, args, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdUnknown, args, err
	}

	if len(remaining) == 0 {
		return CmdHelp, args, nil
	}

	args.Name = strings.ToLower(remaining[0])
	args.Raw = remaining[1:]

	switch args.Name {
	case "help", "-h", "--help":
		return CmdHelp, args, nil
	case "version", "--version":
		return CmdVersion, args, nil
	case "encode", "enc":
		return CmdEncode, args, nil
	case "decode", "dec":
		return CmdDecode, args, nil
	case "login":
		return CmdLogin, args, nil
	case "logout":
		return CmdLogout, args, nil
	case "status", "s":
		return CmdStatus, args, nil
	case "get":
		return CmdGet, args, nil
	case "watch", "w":
		return CmdWatch, args, nil
	case "config":
		return CmdConfig, args, nil
	default:
		return CmdUnknown, args, NewValidationError("command", remaining[0], "unknown command")
	}
}

// parseGlobalFlags extracts global flags that appear before the command.
func parseGlobalFlags(argv []string) ([]string, Args, error) {
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			args.JSON = true
		case arg == "-v" || arg == "--verbose":
			args.Verbose = true
		case arg == "-q" || arg == "--quiet":
			args.Quiet = true
		case arg == "--config":
			if i+1 >= len(argv) {
				return nil, args, NewValidationErrorWithExample("--config", "", "requires a path", "--config ./config.toml")
			}
			i++
			args.ConfigPath = argv[i]
		case strings.HasPrefix(arg, "--config="):
			args.ConfigPath = strings.TrimPrefix(arg, "--config=")
		default:
			return argv[i:], args, nil
		}
	}
	return nil, args, nil
}
