package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, path string, fn Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(Config{Path: path, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, fn) }()
	t.Cleanup(cancel)
	return cancel, done
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestRunTriggersOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "landing", "index.csv")
	var calls atomic.Int32

	cancel, done := startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	// The watch is active once New returns; a burst of writes settles into
	// at least one call.
	for i := 0; i < 5; i++ {
		appendLine(t, path, "row")
	}
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(5))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRunIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.csv")
	var calls atomic.Int32

	_, _ = startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	appendLine(t, filepath.Join(dir, "other.csv"), "row")
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())

	appendLine(t, path, "row")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestRunKeepsWatchingAfterHandlerError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.csv")
	var calls atomic.Int32

	_, _ = startWatcher(t, path, func(context.Context) error {
		calls.Add(1)
		return errors.New("boom")
	})

	appendLine(t, path, "first")
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	appendLine(t, path, "second")
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 3*time.Second, 10*time.Millisecond)
}
