// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// prettyJSON indents body when it is JSON. ok is false for anything else,
// in which case body is returned unchanged.
func prettyJSON(body []byte) (out string, ok bool) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return string(body), false
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return string(body), false
	}
	return buf.String(), true
}

// highlightJSON applies terminal syntax highlighting to JSON text.
// On any failure the text is returned as is.
func highlightJSON(text string) string {
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, text)
	if err != nil {
		return text
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return text
	}
	return buf.String()
}

// formatBody renders an API response body for display: JSON is indented,
// and highlighted when color is on.
func formatBody(body []byte, color bool) string {
	out, isJSON := prettyJSON(body)
	if isJSON && color {
		out = highlightJSON(out)
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}
