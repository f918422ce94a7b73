package ticket

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFormat(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := Generate()
		require.True(t, strings.HasPrefix(code, Prefix), "code %q missing prefix", code)
		body := strings.TrimPrefix(code, Prefix)
		assert.Len(t, body, 8)
		for _, ch := range body {
			assert.Contains(t, alphabet, string(ch), "unexpected character in %q", code)
		}
	}
}

func TestGenerateSpread(t *testing.T) {
	// 36^8 codes; 2000 draws colliding would point at a broken source.
	seen := make(map[string]bool, 2000)
	for i := 0; i < 2000; i++ {
		code := Generate()
		require.False(t, seen[code], "duplicate code %q after %d draws", code, i)
		seen[code] = true
	}
}
