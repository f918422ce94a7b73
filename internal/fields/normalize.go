// Package fields maps arbitrary admin-configured and user-submitted
// field names onto a safe canonical key namespace.
package fields

import (
	"strings"
	"unicode"
)

// digitPrefix is prepended when a normalized key would start with a
// digit, so every key is a valid identifier-like name.
const digitPrefix = "f_"

// Normalize maps a raw field name to its canonical storage key:
// trimmed, lower-cased, whitespace and hyphens collapsed to a single
// underscore, everything outside [a-z0-9_] stripped. Keys that would
// start with a digit get the marker prefix. Returns false when nothing
// usable remains.
//
// The mapping is deterministic and idempotent but not reversible.
func Normalize(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || r == '-':
			pendingSep = b.Len() > 0
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			if pendingSep {
				b.WriteByte('_')
				pendingSep = false
			}
			b.WriteRune(r)
		}
	}

	key := b.String()
	if key == "" {
		return "", false
	}
	if key[0] >= '0' && key[0] <= '9' {
		key = digitPrefix + key
	}
	return key, true
}

// NormalizeAll maps a list of raw names, dropping un-normalizable ones.
// Used to turn an admin form definition into the save allow-list.
func NormalizeAll(raw []string) map[string]struct{} {
	out := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		if key, ok := Normalize(r); ok {
			out[key] = struct{}{}
		}
	}
	return out
}
