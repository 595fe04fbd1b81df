package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("# Broken Resources Report\n"))
	require.NoError(t, err)
	require.Len(t, got, 64)

	again, err := h.Hash([]byte("# Broken Resources Report\n"))
	require.NoError(t, err)
	require.Equal(t, got, again)

	other, err := h.Hash([]byte("No broken resources found.\n"))
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}

// TestETag quotes the digest.
func TestETag(t *testing.T) {
	t.Parallel()

	require.Equal(t, `"abc"`, ETag("abc"))
}
