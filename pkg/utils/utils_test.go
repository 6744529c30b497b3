package utils

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

func TestPathIsDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, PathIsDir(dir))

	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	assert.Error(t, PathIsDir(file))
	assert.Error(t, PathIsDir(filepath.Join(dir, "missing")))
}

func TestEnsureDirExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub")
	require.NoError(t, EnsureDirExists(dir))
	assert.NoError(t, PathIsDir(dir))

	// idempotent
	assert.NoError(t, EnsureDirExists(dir))
}

func TestWaitUntil(t *testing.T) {
	var n int32
	err := WaitUntil(context.Background(), time.Millisecond, func() bool {
		return atomic.AddInt32(&n, 1) >= 3
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&n), int32(3))
}

func TestWaitUntilImmediate(t *testing.T) {
	err := WaitUntil(context.Background(), time.Hour, func() bool { return true })
	assert.NoError(t, err)
}

func TestWaitUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := WaitUntil(ctx, time.Millisecond, func() bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
