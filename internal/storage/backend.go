package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"sos/internal/config"
	"sos/internal/content"
)

var ErrNotFound = errors.New("not found")

// MetaFile is the file name of the branch table and of each revision record.
const MetaFile = ".meta"

// BranchTable is the persisted repository header.
type BranchTable struct {
	Branch   int                         `json:"branch"`
	Commit   int                         `json:"commit"`
	Flags    config.RepositoryConfig     `json:"flags"`
	Branches map[int]*content.BranchInfo `json:"branches"`
}

// Revision is the persisted record of one revision: its commit info and the
// change set against the previous revision (a full snapshot for revision 0).
type Revision struct {
	Commit  content.CommitInfo `json:"commit"`
	Changes content.ChangeSet  `json:"changes"`
}

// Backend persists the branch table and revision records. Blobs always live
// in the revision folders returned by RevisionFolder.
type Backend interface {
	LoadBranches() (*BranchTable, error)
	SaveBranches(table *BranchTable) error
	LoadRevision(branch, revision int) (*Revision, error)
	SaveRevision(branch, revision int, rev *Revision) error
	// Revisions lists the saved revision numbers of branch in ascending order.
	Revisions(branch int) ([]int, error)
	DeleteBranch(branch int) error
	RevisionFolder(branch, revision int) string
	Close() error
}

// Open returns the backend for an existing metadata folder.
func Open(metaDir string) (Backend, error) {
	if _, err := os.Stat(filepath.Join(metaDir, badgerDir)); err == nil {
		return OpenBadgerBackend(metaDir, false)
	}
	if _, err := os.Stat(filepath.Join(metaDir, MetaFile)); err != nil {
		return nil, fmt.Errorf("no repository metadata in %s: %w", metaDir, err)
	}
	return NewFileBackend(metaDir), nil
}

// Create makes a new metadata folder with the given backend kind.
func Create(metaDir string, kind string) (Backend, error) {
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("creating metadata folder: %w", err)
	}
	switch kind {
	case config.BackendBadger:
		return OpenBadgerBackend(metaDir, false)
	case config.BackendFile, "":
		return NewFileBackend(metaDir), nil
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", kind)
	}
}

func branchFolder(metaDir string, branch int) string {
	return filepath.Join(metaDir, strconv.Itoa(branch))
}

func revisionFolder(metaDir string, branch, revision int) string {
	return filepath.Join(branchFolder(metaDir, branch), strconv.Itoa(revision))
}

func sortedInts(values []int) []int {
	sort.Ints(values)
	return values
}

// writeFileAtomic writes data to a temp file then renames to target.
func writeFileAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tmpPath := filepath.Join(filepath.Dir(target), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
