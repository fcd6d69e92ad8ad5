// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package codec

import (
	"fmt"
	"net/url"
)

// AppendToURL seals v and stores it in the query parameter param of raw,
// replacing any existing value. Payloads use the URL-safe alphabet, so the
// value survives query escaping unchanged.
func (c *Codec) AppendToURL(raw, param string, v any) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	payload, err := c.Seal(v)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set(param, payload)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromURL opens the payload stored in query parameter param of raw.
func (c *Codec) FromURL(raw, param string) (any, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	return c.Decode(u.Query().Get(param))
}
