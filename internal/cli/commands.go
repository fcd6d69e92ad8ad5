// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jeranaias/sessionguard/internal/apiclient"
	"github.com/jeranaias/sessionguard/internal/auth"
	"github.com/jeranaias/sessionguard/internal/logging"
	"github.com/jeranaias/sessionguard/internal/policy"
)

// DefaultStateParam is the query parameter encode/decode use with --url.
const DefaultStateParam = "state"

// =============================================================================
// ENCODE / DECODE
// =============================================================================

// Encode seals a JSON value (or, with --string, raw text) into a payload.
// With --url the payload is stored in a query parameter of that URL.
func (a *App) Encode(args Args) error {
	p := NewArgParser(args.Raw, "string")

	text, err := a.inputText(p)
	if err != nil {
		return err
	}

	var v any
	if p.BoolFlag("string") {
		v = text
	} else if err := json.Unmarshal([]byte(text), &v); err != nil {
		return NewValidationErrorWithExample("value", "", "not valid JSON; use --string to encode plain text",
			`sessionguard encode '{"booking":"b-17"}'`)
	}

	if raw := p.Flag("url"); raw != "" {
		link, err := a.Codec.AppendToURL(raw, p.FlagOrDefault("param", DefaultStateParam), v)
		if err != nil {
			return NewCommandError("encode", "link", "could not build URL", err)
		}
		return a.emit(args, map[string]any{"url": link}, link)
	}

	payload, err := a.Codec.Seal(v)
	if err != nil {
		return NewCommandError("encode", "seal", "value could not be encoded", err)
	}
	return a.emit(args, map[string]any{"payload": payload}, payload)
}

// Decode opens a payload, or with --url the payload in a URL's query.
func (a *App) Decode(args Args) error {
	p := NewArgParser(args.Raw)

	var (
		v  any
		ok bool
	)
	if raw := p.Flag("url"); raw != "" {
		v, ok = a.Codec.FromURL(raw, p.FlagOrDefault("param", DefaultStateParam))
		if !ok {
			return NewCommandError("decode", "link", "URL carries no readable payload", nil)
		}
	} else {
		text, err := a.inputText(p)
		if err != nil {
			return err
		}
		v, err = a.Codec.Open(text)
		if err != nil {
			return NewCommandError("decode", "payload", "payload could not be decoded", err)
		}
	}

	body, err := json.Marshal(v)
	if err != nil {
		return NewCommandError("decode", "render", "value could not be printed", err)
	}
	if args.JSON {
		_, err = fmt.Fprintln(a.Stdout, string(body))
		return err
	}
	_, err = io.WriteString(a.Stdout, formatBody(body, a.Color))
	return err
}

// inputText returns the positional arguments joined by spaces, or stdin
// when there are none or the only one is "-".
func (a *App) inputText(p *ArgParser) (string, error) {
	pos := p.PositionalFrom(0)
	if len(pos) == 0 || (len(pos) == 1 && pos[0] == "-") {
		b, err := io.ReadAll(a.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		text := strings.TrimSpace(string(b))
		if text == "" {
			return "", NewValidationError("input", "", "nothing to process")
		}
		return text, nil
	}
	return strings.Join(pos, " "), nil
}

// =============================================================================
// LOGIN / LOGOUT / STATUS
// =============================================================================

// Login starts a session. The token comes from --token or is read from
// stdin (with echo off on a terminal). The role comes from --role, or from
// the token's role claim.
func (a *App) Login(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)

	token := p.Flag("token")
	if token == "" {
		t, err := ReadSecret(a.Stdin, a.Stderr, "Access token: ")
		if err != nil {
			return err
		}
		token = t
	}
	if token == "" {
		return NewValidationErrorWithExample("token", "", "is required", "sessionguard login --token <access-token>")
	}

	role := auth.RoleFromToken(token)
	if r := p.Flag("role"); r != "" {
		role = policy.ParseRole(r)
		if !role.Known() {
			return NewValidationErrorWithExample("role", r, "unknown role", "--role scanner")
		}
	}

	if err := a.Store.SetSession(token, role); err != nil {
		return NewCommandError("login", "store", "could not start session", err)
	}
	if a.Vault != nil {
		if err := a.Vault.Err(); err != nil {
			return NewCommandError("login", "persist", "session could not be saved", err)
		}
	}

	timeout := a.Config.Policy().DurationFor(role)
	if args.JSON {
		return a.writeJSON(map[string]any{
			"authenticated":   true,
			"role":            role.String(),
			"timeout_seconds": int(timeout / time.Second),
			"persisted":       a.Vault != nil,
		})
	}

	fmt.Fprintf(a.Stdout, "%s Signed in as %s\n", SuccessStyle.Render("[OK]"), role)
	fmt.Fprintln(a.Stdout, DimStyle.Render(fmt.Sprintf("Session ends after %s without activity.", timeout)))
	if a.Vault == nil {
		fmt.Fprintln(a.Stdout, WarningStyle.Render("Persistence is disabled; the session ends with this process."))
	}
	return nil
}

// Logout ends the current session and removes any stored copy.
func (a *App) Logout(ctx context.Context, args Args) error {
	cleared := a.Store.ClearSession(auth.ReasonLogout)
	if a.Vault != nil {
		if err := a.Vault.Forget(ctx); err != nil {
			return NewCommandError("logout", "forget", "stored session could not be removed", err)
		}
	}

	if args.JSON {
		return a.writeJSON(map[string]any{"signed_out": cleared})
	}
	if !cleared {
		fmt.Fprintln(a.Stdout, DimStyle.Render("Not signed in."))
		return nil
	}
	fmt.Fprintf(a.Stdout, "%s Signed out\n", SuccessStyle.Render("[OK]"))
	return nil
}

// Status shows the current session without revealing the token.
func (a *App) Status(args Args) error {
	cur := a.Store.Current()
	pol := a.Config.Policy()

	storage := a.Config.Vault.Driver
	if a.Vault == nil {
		storage = "none"
	}

	if args.JSON {
		out := map[string]any{
			"authenticated": cur.IsAuthenticated(),
			"api":           a.Client.BaseURL(),
			"vault":         storage,
			"test_mode":     a.Config.Session.TestMode,
		}
		if cur.IsAuthenticated() {
			out["role"] = cur.Role.String()
			out["token_fp"] = logging.Fingerprint(cur.Token)
			out["timeout_seconds"] = int(pol.DurationFor(cur.Role) / time.Second)
		}
		return a.writeJSON(out)
	}

	fmt.Fprintln(a.Stdout, TitleStyle.Render("Session"))
	if !cur.IsAuthenticated() {
		fmt.Fprintln(a.Stdout, RenderField("State", "signed out"))
	} else {
		fmt.Fprintln(a.Stdout, RenderField("State", "signed in"))
		fmt.Fprintln(a.Stdout, RenderField("Role", cur.Role.String()))
		fmt.Fprintln(a.Stdout, RenderField("Token", logging.Fingerprint(cur.Token)))
		fmt.Fprintln(a.Stdout, RenderField("Idle timeout", pol.DurationFor(cur.Role).String()))
	}
	fmt.Fprintln(a.Stdout, RenderField("API", a.Client.BaseURL()))
	fmt.Fprintln(a.Stdout, RenderField("Vault", storage))
	if a.Config.Session.TestMode {
		fmt.Fprintln(a.Stdout, WarningStyle.Render("Test mode: every session ends after 30s of inactivity."))
	}
	if a.Codec.UsesDefaultSecret() {
		fmt.Fprintln(a.Stdout, WarningStyle.Render("No codec secret configured; payloads use the built-in default."))
	}
	return nil
}

// =============================================================================
// GET
// =============================================================================

// Get calls the API at path with the current session and prints the body.
// A 401 ends the session; a 429 is reported with the server's retry hint.
func (a *App) Get(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "raw")
	path := p.Positional(0)
	if path == "" {
		return NewValidationErrorWithExample("path", "", "is required", "sessionguard get events/upcoming")
	}
	if !a.Store.Current().IsAuthenticated() {
		return ErrNotSignedIn
	}

	var body []byte
	err := a.Client.Get(ctx, path, &body)
	switch {
	case err == nil:
	case apiclient.IsUnauthorized(err):
		return NewCommandError("get", path, "session rejected by the server; signed out", err)
	case apiclient.IsThrottled(err):
		return NewCommandError("get", path, "rate limited", err)
	case errors.Is(err, apiclient.ErrForeignURL):
		return NewValidationError("path", path, "must stay under the API base URL")
	default:
		return NewCommandError("get", path, "request failed", err)
	}

	if a.Vault != nil {
		if err := a.Vault.Touch(ctx); err != nil {
			a.Logger.Warn("could not refresh stored session", slog.String("error", err.Error()))
		}
	}

	if p.BoolFlag("raw") || args.JSON {
		_, err = a.Stdout.Write(body)
		return err
	}
	_, err = io.WriteString(a.Stdout, formatBody(body, a.Color))
	return err
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit writes v as JSON in JSON mode, otherwise the plain line.
func (a *App) emit(args Args, v any, line string) error {
	if args.JSON {
		return a.writeJSON(v)
	}
	_, err := fmt.Fprintln(a.Stdout, line)
	return err
}
