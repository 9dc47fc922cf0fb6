package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FileBackend keeps metadata as JSON files next to the blobs:
//
//	<meta>/.meta                      branch table
//	<meta>/<branch>/<revision>/.meta  revision record
//	<meta>/<branch>/<revision>/<hash> blobs
type FileBackend struct {
	root string
}

func NewFileBackend(metaDir string) *FileBackend {
	return &FileBackend{root: metaDir}
}

func (b *FileBackend) LoadBranches() (*BranchTable, error) {
	var table BranchTable
	if err := readJSON(filepath.Join(b.root, MetaFile), &table); err != nil {
		return nil, fmt.Errorf("loading branch table: %w", err)
	}
	return &table, nil
}

func (b *FileBackend) SaveBranches(table *BranchTable) error {
	if err := writeJSON(filepath.Join(b.root, MetaFile), table); err != nil {
		return fmt.Errorf("saving branch table: %w", err)
	}
	return nil
}

func (b *FileBackend) LoadRevision(branch, revision int) (*Revision, error) {
	var rev Revision
	path := filepath.Join(b.RevisionFolder(branch, revision), MetaFile)
	if err := readJSON(path, &rev); err != nil {
		return nil, fmt.Errorf("loading revision %d/%d: %w", branch, revision, err)
	}
	return &rev, nil
}

func (b *FileBackend) SaveRevision(branch, revision int, rev *Revision) error {
	path := filepath.Join(b.RevisionFolder(branch, revision), MetaFile)
	if err := writeJSON(path, rev); err != nil {
		return fmt.Errorf("saving revision %d/%d: %w", branch, revision, err)
	}
	return nil
}

func (b *FileBackend) Revisions(branch int) ([]int, error) {
	entries, err := os.ReadDir(branchFolder(b.root, branch))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing revisions of branch %d: %w", branch, err)
	}

	var revisions []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := strconv.Atoi(entry.Name())
		if err != nil || n < 0 {
			continue
		}
		// A folder without a record is an interrupted commit
		if _, err := os.Stat(filepath.Join(b.RevisionFolder(branch, n), MetaFile)); err != nil {
			continue
		}
		revisions = append(revisions, n)
	}
	return sortedInts(revisions), nil
}

func (b *FileBackend) DeleteBranch(branch int) error {
	if err := os.RemoveAll(branchFolder(b.root, branch)); err != nil {
		return fmt.Errorf("removing branch %d: %w", branch, err)
	}
	return nil
}

func (b *FileBackend) RevisionFolder(branch, revision int) string {
	return revisionFolder(b.root, branch, revision)
}

func (b *FileBackend) Close() error {
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
