package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_PutOverwritesSameKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := s.Put(ctx, "delivery-photos/o-1", strings.NewReader("first"))
	require.NoError(t, err)
	require.Equal(t, "delivery-photos/o-1", ref)

	_, err = s.Put(ctx, "delivery-photos/o-1", strings.NewReader("second"))
	require.NoError(t, err)

	rc, err := s.Open(ref)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "second", string(b))

	entries, err := os.ReadDir(filepath.Join(s.root, "delivery-photos"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "../x", "/etc/passwd", "a/../../b"} {
		_, err := s.Put(context.Background(), key, strings.NewReader("x"))
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "delivery-photos/o-2", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.Open("delivery-photos/o-2")
	require.True(t, os.IsNotExist(err))
}
