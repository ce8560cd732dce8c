package hasher

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := New(bcrypt.MinCost)

	hash, err := h.Hash("pw")
	require.NoError(t, err)

	assert.NotEqual(t, []byte("pw"), hash)
	assert.True(t, h.Verify("pw", hash))
	assert.False(t, h.Verify("pw2", hash))
}

func TestHasher_SaltedPerCall(t *testing.T) {
	h := New(bcrypt.MinCost)

	first, err := h.Hash("same")
	require.NoError(t, err)
	second, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, h.Verify("same", first))
	assert.True(t, h.Verify("same", second))
}

func TestHasher_MalformedDigest(t *testing.T) {
	h := New(bcrypt.MinCost)

	for _, digest := range [][]byte{nil, []byte(""), []byte("not-a-hash"), []byte("$2a$10$short")} {
		assert.False(t, h.Verify("pw", digest))
	}
}

func TestHasher_TooLongPassword(t *testing.T) {
	h := New(bcrypt.MinCost)

	_, err := h.Hash(strings.Repeat("a", 73))
	require.Error(t, err)
}

func TestNew_InvalidCostFallsBack(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, New(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, New(100).cost)
	assert.Equal(t, bcrypt.MinCost, New(bcrypt.MinCost).cost)
}
