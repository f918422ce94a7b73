// Package tickets resolves opaque scan payloads (QR, barcode, manual
// entry) back to exactly one registration record.
package tickets

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrInvalidPayload means no candidate ticket key could be extracted
// from the scan payload.
var ErrInvalidPayload = errors.New("unable to extract ticket key from payload")

// AliasFields are the field names a ticket identifier may live under,
// in preference order. Both camelCase and snake_case forms appear
// because records from earlier schema iterations used either.
var AliasFields = []string{
	"ticket_code", "ticketCode",
	"ticket_id", "ticketId",
	"ticket",
	"code",
	"qr_code", "qrCode",
	"id", "_id",
	"reg_id", "regId",
}

var (
	tokenRe = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9._-]{2,63}`)
	digitRe = regexp.MustCompile(`[0-9]{3,12}`)
	// base64Re gates the decode attempt; plain codes with '-' outside
	// the URL alphabet positions still pass, so the decoded text is
	// additionally required to yield a key before it is trusted.
	base64Re = regexp.MustCompile(`^[A-Za-z0-9+/_-]+={0,2}$`)
)

const maxExtractDepth = 4

// ExtractKey converts an arbitrary scan payload (string, number, or
// nested structure) into a single candidate ticket key. The layers,
// tried in order: structured alias probe, JSON parse, base64 decode
// and re-extract, token regex, pure-digit run.
func ExtractKey(raw interface{}) (string, error) {
	if key, ok := extract(raw, 0); ok {
		return key, nil
	}
	return "", ErrInvalidPayload
}

func extract(raw interface{}, depth int) (string, bool) {
	if depth > maxExtractDepth {
		return "", false
	}
	switch v := raw.(type) {
	case nil:
		return "", false
	case map[string]interface{}:
		return probeAliases(v, depth)
	case []interface{}:
		for _, item := range v {
			if key, ok := extract(item, depth+1); ok {
				return key, true
			}
		}
		return "", false
	case string:
		return extractString(v, depth)
	case float64:
		return formatNumber(v), true
	case int:
		return formatNumber(float64(v)), true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

func extractString(s string, depth int) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	// JSON-embedded payloads.
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		var parsed interface{}
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			if key, ok := extract(parsed, depth+1); ok {
				return key, true
			}
		}
	}

	// QR payloads that wrap base64-encoded JSON. The decode only wins
	// when the decoded text itself yields a key; otherwise fall through.
	if decoded, ok := tryBase64(s); ok {
		if key, ok := extractString(decoded, depth+1); ok {
			return key, true
		}
	}

	if m := tokenRe.FindString(s); m != "" {
		return m, true
	}
	// Legacy numeric-only codes surrounded by junk.
	if m := digitRe.FindString(s); m != "" {
		return m, true
	}
	return "", false
}

// probeAliases checks the alias fields in preference order at this
// level, then descends into nested values in sorted key order so the
// result is deterministic.
func probeAliases(m map[string]interface{}, depth int) (string, bool) {
	for _, alias := range AliasFields {
		v, ok := m[alias]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s, true
			}
		case float64:
			return formatNumber(t), true
		case json.Number:
			return t.String(), true
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch m[k].(type) {
		case map[string]interface{}, []interface{}:
			if key, ok := extract(m[k], depth+1); ok {
				return key, true
			}
		}
	}
	return "", false
}

func tryBase64(s string) (string, bool) {
	if len(s) < 8 || !base64Re.MatchString(s) {
		return "", false
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.URLEncoding,
		base64.RawStdEncoding, base64.RawURLEncoding,
	} {
		decoded, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if utf8.Valid(decoded) && isPrintable(decoded) {
			return string(decoded), true
		}
	}
	return "", false
}

func isPrintable(b []byte) bool {
	for _, c := range string(b) {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
			return false
		}
	}
	return true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
