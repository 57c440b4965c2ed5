package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFlagsChanges(t *testing.T) {
	dir := t.TempDir()
	w, err := Watch(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	assert.False(t, w.Changed())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "objects.kmodel"), []byte("model"), 0o644))
	require.Eventually(t, w.Changed, 2*time.Second, 10*time.Millisecond)

}

func TestWatchMissingDir(t *testing.T) {
	_, err := Watch(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Error(t, err)
}
