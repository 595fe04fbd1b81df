package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBlobStorePutObjectCopiesData keeps stored bytes independent of callers.
func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	payload := []byte("# Broken Resources Report")
	uri, err := blobs.PutObject(context.Background(), "reports/run.md", "text/markdown", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://reports/run.md", uri)

	payload[0] = 'X'
	stored, contentType, ok := blobs.Object("reports/run.md")
	require.True(t, ok)
	require.Equal(t, "# Broken Resources Report", string(stored))
	require.Equal(t, "text/markdown", contentType)

	stored[0] = 'Y'
	again, _, _ := blobs.Object("reports/run.md")
	require.Equal(t, byte('#'), again[0])

	_, _, ok = blobs.Object("missing")
	require.False(t, ok)
}

// TestBlobStorePutObjectReadError surfaces reader failures.
func TestBlobStorePutObjectReadError(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "p", "text/plain", failingReader{})
	require.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
