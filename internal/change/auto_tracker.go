// internal/change/auto_tracker.go
package change

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"sos/internal/logging"
)

// DefaultDebounce is the quiet period after the last event before changed
// paths are reported.
const DefaultDebounce = 200 * time.Millisecond

// AutoTracker watches a working tree and reports which paths changed.
type AutoTracker struct {
	Root     string
	Debounce time.Duration

	watcher *fsnotify.Watcher
	ignore  func(rel string) bool
	mu      sync.Mutex
	pending map[string]bool
	logger  *zap.Logger
}

// NewAutoTracker starts watching every directory below root. ignore receives
// slash separated relative paths, directories with a trailing slash.
func NewAutoTracker(root string, ignore func(rel string) bool, logger *zap.Logger) (*AutoTracker, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if ignore == nil {
		ignore = func(string) bool { return false }
	}

	at := &AutoTracker{
		Root:     root,
		Debounce: DefaultDebounce,
		watcher:  watcher,
		ignore:   ignore,
		pending:  make(map[string]bool),
		logger:   logging.OrNop(logger),
	}

	if err := at.addTree(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("initializing watcher: %w", err)
	}
	return at, nil
}

// addTree adds dir and its subdirectories to the watcher.
func (at *AutoTracker) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel := at.rel(path); rel != "." && at.ignore(rel+"/") {
			return filepath.SkipDir
		}
		if err := at.watcher.Add(path); err != nil {
			return fmt.Errorf("adding directory to watcher: %w", err)
		}
		return nil
	})
}

// Run delivers batches of changed paths to onChange until ctx is done or
// the tracker is closed. onChange runs on the calling goroutine.
func (at *AutoTracker) Run(ctx context.Context, onChange func(paths []string)) error {
	timer := time.NewTimer(at.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-at.watcher.Events:
			if !ok {
				return nil
			}
			if at.handleFSEvent(event) {
				timer.Reset(at.Debounce)
			}
		case err, ok := <-at.watcher.Errors:
			if !ok {
				return nil
			}
			at.logger.Error("watcher error", zap.Error(err))
		case <-timer.C:
			if paths := at.drain(); len(paths) > 0 {
				onChange(paths)
			}
		}
	}
}

// handleFSEvent records the path of an event and reports whether it counts.
func (at *AutoTracker) handleFSEvent(event fsnotify.Event) bool {
	rel := at.rel(event.Name)
	if rel == "." || at.ignore(rel) {
		return false
	}

	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if at.ignore(rel + "/") {
				return false
			}
			if err := at.addTree(event.Name); err != nil {
				at.logger.Error("adding new directory to watcher", zap.Error(err))
			}
		}
	}
	if event.Op == fsnotify.Chmod {
		return false
	}

	at.mu.Lock()
	at.pending[rel] = true
	at.mu.Unlock()
	at.logger.Debug("file event", zap.String("path", rel), zap.Stringer("op", event.Op))
	return true
}

func (at *AutoTracker) drain() []string {
	at.mu.Lock()
	defer at.mu.Unlock()
	paths := make([]string, 0, len(at.pending))
	for p := range at.pending {
		paths = append(paths, p)
	}
	at.pending = make(map[string]bool)
	sort.Strings(paths)
	return paths
}

func (at *AutoTracker) rel(path string) string {
	rel, err := filepath.Rel(at.Root, path)
	if err != nil {
		return "."
	}
	return filepath.ToSlash(rel)
}

func (at *AutoTracker) Close() error {
	return at.watcher.Close()
}
