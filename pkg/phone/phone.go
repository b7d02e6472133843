// Package phone normalizes phone numbers into the bare-digit E.164 form
// the messaging gateway expects (country code + subscriber number, no "+").
package phone

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultCountryCode is applied to national numbers without an explicit
// country prefix.
const DefaultCountryCode = "55"

var ErrInvalid = errors.New("invalid phone number")

// NormalizeE164 converts raw into digits-only E.164 form ("5511999999999").
//
// Accepted inputs:
//   - "+<cc><number>" international form
//   - "<cc><number>" already-normalized digits
//   - national numbers (8-11 digits), which get DefaultCountryCode prepended
//
// Formatting characters (spaces, dashes, dots, parens) are stripped first.
func NormalizeE164(raw string) (string, error) {
	return normalize(raw, DefaultCountryCode)
}

// NormalizeE164In is NormalizeE164 with an explicit default country code.
func NormalizeE164In(raw, countryCode string) (string, error) {
	cc := stripFormatting(countryCode)
	if cc == "" {
		cc = DefaultCountryCode
	}
	return normalize(raw, cc)
}

func normalize(raw, cc string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalid)
	}

	explicit := strings.HasPrefix(s, "+")
	digits := stripFormatting(s)
	if digits == "" {
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalid, raw)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q contains non-digit characters", ErrInvalid, raw)
		}
	}

	if explicit {
		// International form: E.164 allows up to 15 digits total.
		if len(digits) < 8 || len(digits) > 15 {
			return "", fmt.Errorf("%w: %q has %d digits, want 8-15", ErrInvalid, raw, len(digits))
		}
		return digits, nil
	}

	// Already carries the default country code.
	if strings.HasPrefix(digits, cc) && len(digits) >= len(cc)+8 && len(digits) <= 15 {
		return digits, nil
	}

	// National number: prepend the default country code.
	if len(digits) >= 8 && len(digits) <= 11 {
		out := cc + digits
		if len(out) > 15 {
			return "", fmt.Errorf("%w: %q exceeds 15 digits after adding country code", ErrInvalid, raw)
		}
		return out, nil
	}

	return "", fmt.Errorf("%w: %q has %d digits", ErrInvalid, raw, len(digits))
}

// FormatDisplay renders a normalized number for UI lists. It falls back to
// the input unchanged when the number does not look normalized.
func FormatDisplay(normalized string) string {
	if normalized == "" {
		return ""
	}
	for _, r := range normalized {
		if r < '0' || r > '9' {
			return normalized
		}
	}
	return "+" + normalized
}

func stripFormatting(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '-', '.', '(', ')', '+':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
