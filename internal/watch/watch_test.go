package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	err := File(ctx, path, 20*time.Millisecond, nil, func() error {
		reloads.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0o600))

	assert.Eventually(t, func() bool { return reloads.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestFileIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	require.NoError(t, File(ctx, path, 20*time.Millisecond, nil, func() error {
		reloads.Add(1)
		return nil
	}))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int32(0), reloads.Load())
}

func TestFileMissingDirectory(t *testing.T) {
	err := File(context.Background(), filepath.Join(t.TempDir(), "nope", "rules.yml"), 0, nil, func() error { return nil })
	assert.Error(t, err)
}
