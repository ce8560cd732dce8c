package random

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	tests := []struct {
		name   string
		length int
	}{
		{name: "default length", length: 20},
		{name: "single char", length: 1},
		{name: "long", length: 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := NewCode(tt.length)
			require.NoError(t, err)

			assert.Len(t, code, tt.length)
			for _, r := range code {
				assert.True(t, strings.ContainsRune(CodeAlphabet, r), "unexpected rune %q", r)
			}
		})
	}
}

func TestNewCode_InvalidLength(t *testing.T) {
	_, err := NewCode(0)
	require.Error(t, err)

	_, err = NewCode(-5)
	require.Error(t, err)
}

func TestNewCode_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)

	for i := 0; i < 1000; i++ {
		code, err := NewCode(20)
		require.NoError(t, err)

		_, dup := seen[code]
		require.False(t, dup, "duplicate code %s", code)
		seen[code] = struct{}{}
	}
}
