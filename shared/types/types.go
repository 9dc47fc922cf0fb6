// Package shared holds the interfaces between the versioning core and the
// collaborators that feed it.
package shared

import (
	"sos/internal/content"
)

// Tree is the working tree as the core sees it.
type Tree interface {
	// Scan enumerates files below the root keyed by slash separated relative
	// path. Hash may be left empty, the core hashes on demand.
	Scan() (map[string]content.PathInfo, error)

	// Read returns the current content of path.
	Read(path string) ([]byte, error)
}

// WritableTree can be restored to a recorded state.
type WritableTree interface {
	Tree

	// Write replaces path with data and sets its modification time (unix ns).
	Write(path string, data []byte, mtime int64) error

	Remove(path string) error
}

// Trackable decides whether a path is under version control.
type Trackable func(path string) bool

// All accepts every path.
func All(string) bool { return true }
