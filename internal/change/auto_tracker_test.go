package change

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoTrackerReportsChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".sos"), 0755))

	at, err := NewAutoTracker(root, func(rel string) bool {
		return strings.HasPrefix(rel, ".sos/")
	}, nil)
	require.NoError(t, err)
	defer at.Close()
	at.Debounce = 50 * time.Millisecond

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- at.Run(ctx, func(paths []string) {
			mu.Lock()
			defer mu.Unlock()
			for _, p := range paths {
				seen[p] = true
			}
		})
	}()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".sos", "meta"), []byte("x"), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["a.txt"]
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.False(t, seen[".sos/meta"])
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("tracker did not stop")
	}
}

func TestAutoTrackerWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	at, err := NewAutoTracker(root, nil, nil)
	require.NoError(t, err)
	defer at.Close()
	at.Debounce = 50 * time.Millisecond

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go at.Run(ctx, func(paths []string) {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range paths {
			seen[p] = true
		}
	})

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0755))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["sub"]
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("b"), 0644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["sub/b.txt"]
	}, 5*time.Second, 20*time.Millisecond)
}
