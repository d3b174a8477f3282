package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskSender(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"4915550001", "******0001"},
		{"  4915550001  ", "******0001"},
		{"1234", "****"},
		{"12", "**"},
		{"", ""},
		// Multibyte identifiers mask by rune, never splitting a character.
		{"αβγδεζηθ", "****εζηθ"},
		{"号码九八七六", "**九八七六"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, MaskSender(tc.in), tc.in)
	}
}
