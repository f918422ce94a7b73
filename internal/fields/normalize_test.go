package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Company Name!!", "company_name", true},
		{"  Full   Name  ", "full_name", true},
		{"e-mail", "e_mail", true},
		{"Mobile-No.", "mobile_no", true},
		{"already_safe", "already_safe", true},
		{"123abc", "f_123abc", true},
		{"42", "f_42", true},
		{"_hidden", "_hidden", true},
		{"Désignation", "dsignation", true},
		{"!!!", "", false},
		{"   ", "", false},
		{"", "", false},
		{"--- -", "", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.in)
		require.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"Company Name!!", "123abc", "Già-Normalizzato", "a b c"}
	for _, in := range inputs {
		once, ok := Normalize(in)
		require.True(t, ok)
		twice, ok := Normalize(once)
		require.True(t, ok)
		assert.Equal(t, once, twice, "input %q", in)
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{"Company Name", "!!!", "Email", "company-name"})
	assert.Equal(t, map[string]struct{}{
		"company_name": {},
		"email":        {},
	}, got)
}
