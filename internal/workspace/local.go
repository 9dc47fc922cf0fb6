// internal/workspace/local.go
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sos/internal/content"
	"sos/internal/logging"
	"sos/internal/safe"
	"sos/shared/types"
)

// MetaFolder is the name of the repository metadata folder at the root.
const MetaFolder = ".sos"

// ErrInvalidPattern indicates a glob pattern could not be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// FindRoot searches upwards from startDir for the metadata folder.
func FindRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, MetaFolder)); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("workspace root not found")
}

// LocalWorkspace is the working tree on disk. Paths are slash separated and
// relative to Root.
type LocalWorkspace struct {
	Root    string
	Logger  *zap.Logger
	ignores []glob.Glob
}

var _ shared.WritableTree = (*LocalWorkspace)(nil)

// NewLocalWorkspace opens the working tree at root. Files matching one of
// the ignore patterns are never scanned.
func NewLocalWorkspace(root string, ignores []string, logger *zap.Logger) (*LocalWorkspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	matchers, err := compileGlobs(ignores)
	if err != nil {
		return nil, err
	}
	return &LocalWorkspace{
		Root:    abs,
		Logger:  logging.OrNop(logger),
		ignores: matchers,
	}, nil
}

// Scan lists every file below Root with its size and modification time.
// Content hashes are left empty.
func (w *LocalWorkspace) Scan() (map[string]content.PathInfo, error) {
	files := make(map[string]content.PathInfo)

	err := filepath.WalkDir(w.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				w.Logger.Warn("skipping unreadable path", zap.String("path", p), zap.Error(err))
				return nil
			}
			return err
		}

		rel, err := w.rel(p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if w.Ignored(rel + "/") {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || w.Ignored(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			w.Logger.Warn("failed to get file info", zap.String("path", rel), zap.Error(err))
			return nil
		}
		files[rel] = content.NewPathInfo(safe.HashString(rel), info.Size(), info.ModTime().UnixNano(), "")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}

	w.Logger.Debug("workspace scanned", zap.Int("files", len(files)))
	return files, nil
}

func (w *LocalWorkspace) Read(rel string) ([]byte, error) {
	return os.ReadFile(w.abs(rel))
}

// Write replaces a file atomically and sets its modification time.
func (w *LocalWorkspace) Write(rel string, data []byte, mtime int64) error {
	target := w.abs(rel)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", rel, err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}

	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, mode); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", rel, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", rel, err)
	}

	if mtime != 0 {
		t := time.Unix(0, mtime)
		if err := os.Chtimes(target, t, t); err != nil {
			return fmt.Errorf("setting modification time of %s: %w", rel, err)
		}
	}
	return nil
}

// Remove deletes a file and any directories it leaves empty.
func (w *LocalWorkspace) Remove(rel string) error {
	if err := os.Remove(w.abs(rel)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", rel, err)
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if err := os.Remove(w.abs(dir)); err != nil {
			break
		}
	}
	return nil
}

// MetaDir returns the metadata folder of the workspace.
func (w *LocalWorkspace) MetaDir() string {
	return filepath.Join(w.Root, MetaFolder)
}

// Rel converts an absolute or working-directory relative path into a
// workspace path.
func (w *LocalWorkspace) Rel(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	rel, err := w.rel(abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the workspace", p)
	}
	return rel, nil
}

// Ignored reports whether a path is excluded from scanning. Directories
// are passed with a trailing slash.
func (w *LocalWorkspace) Ignored(rel string) bool {
	if rel == MetaFolder+"/" || strings.HasPrefix(rel, MetaFolder+"/") {
		return true
	}
	for _, g := range w.ignores {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (w *LocalWorkspace) rel(abs string) (string, error) {
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (w *LocalWorkspace) abs(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// Matcher builds the tracking predicate for a list of patterns. No patterns
// means every path is tracked.
func Matcher(patterns []string) (shared.Trackable, error) {
	if len(patterns) == 0 {
		return shared.All, nil
	}
	normalized := make([]string, len(patterns))
	for i, p := range patterns {
		normalized[i] = strings.TrimPrefix(p, "./")
	}
	matchers, err := compileGlobs(normalized)
	if err != nil {
		return nil, err
	}
	return func(p string) bool {
		for _, g := range matchers {
			if g.Match(p) {
				return true
			}
		}
		return false
	}, nil
}

// compileGlobs compiles a slice of glob pattern strings into matchers.
func compileGlobs(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		matcher, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		matchers = append(matchers, matcher)
	}
	return matchers, nil
}
