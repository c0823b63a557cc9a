// Parley - WhatsApp Session Gateway and Media Pipeline
// Copyright 2026 Parley Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parley-chat/parley

package outbound

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTarget is returned when a target cannot be normalized into the
// transport's addressing form.
var ErrInvalidTarget = errors.New("invalid target address")

// targetDomainSuffix is the transport's canonical address domain for
// individual chats.
const targetDomainSuffix = "c.us"

// NormalizeTarget converts a user-supplied target into the transport's
// canonical addressing form: digits-only phone number plus domain suffix.
//
// Targets that already carry a domain (someone pasted a raw chat id, or a
// group id like 1234-5678@g.us) pass through unchanged. Numbers with a
// leading "+" or "00" are treated as international; bare national numbers
// get defaultCountryCode prefixed. The default country code is operator
// configuration, not a protocol constant.
func NormalizeTarget(raw, defaultCountryCode string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	if strings.Contains(raw, "@") {
		return raw, nil
	}

	international := strings.HasPrefix(raw, "+")
	digits := digitsOnly(raw)
	if !international && strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}
	if digits == "" {
		return "", fmt.Errorf("%w: %q contains no digits", ErrInvalidTarget, raw)
	}

	if !international {
		digits = defaultCountryCode + digits
	}

	return digits + "@" + targetDomainSuffix, nil
}

// digitsOnly strips everything but 0-9.
func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
