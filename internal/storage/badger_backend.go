package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dgraph-io/badger/v4"
)

const badgerDir = "db"

// BadgerBackend keeps the branch table and revision records in BadgerDB.
// Blobs stay in the revision folders under the metadata folder.
type BadgerBackend struct {
	root      string
	db        *badger.DB
	branches  *BadgerStore
	revisions *BadgerStore
}

// dbOptions returns options for the repository database. In-memory mode is
// used by tests.
func dbOptions(path string, inMemory bool) badger.Options {
	if inMemory {
		return badger.DefaultOptions("").
			WithInMemory(true).
			WithNumVersionsToKeep(1).
			WithLogger(nil)
	}
	return badger.DefaultOptions(path).
		WithNumVersionsToKeep(1).
		WithLoggingLevel(badger.WARNING).
		WithLogger(nil)
}

// OpenBadgerBackend opens or creates the database under metaDir.
func OpenBadgerBackend(metaDir string, inMemory bool) (*BadgerBackend, error) {
	path := filepath.Join(metaDir, badgerDir)
	if !inMemory {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := badger.Open(dbOptions(path, inMemory))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &BadgerBackend{
		root:      metaDir,
		db:        db,
		branches:  NewBadgerStore(db, "repo"),
		revisions: NewBadgerStore(db, "revision"),
	}, nil
}

func revisionID(branch, revision int) string {
	return fmt.Sprintf("%d/%d", branch, revision)
}

func (b *BadgerBackend) LoadBranches() (*BranchTable, error) {
	var table BranchTable
	if err := b.branches.Get("branches", &table); err != nil {
		return nil, fmt.Errorf("loading branch table: %w", err)
	}
	return &table, nil
}

func (b *BadgerBackend) SaveBranches(table *BranchTable) error {
	if err := b.branches.Put("branches", table); err != nil {
		return fmt.Errorf("saving branch table: %w", err)
	}
	return nil
}

func (b *BadgerBackend) LoadRevision(branch, revision int) (*Revision, error) {
	var rev Revision
	if err := b.revisions.Get(revisionID(branch, revision), &rev); err != nil {
		return nil, fmt.Errorf("loading revision %d/%d: %w", branch, revision, err)
	}
	return &rev, nil
}

func (b *BadgerBackend) SaveRevision(branch, revision int, rev *Revision) error {
	if err := b.revisions.Put(revisionID(branch, revision), rev); err != nil {
		return fmt.Errorf("saving revision %d/%d: %w", branch, revision, err)
	}
	return nil
}

func (b *BadgerBackend) Revisions(branch int) ([]int, error) {
	ids, err := b.revisions.IDs(strconv.Itoa(branch) + "/")
	if err != nil {
		return nil, fmt.Errorf("listing revisions of branch %d: %w", branch, err)
	}

	revisions := make([]int, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("malformed revision key %q: %w", id, err)
		}
		revisions = append(revisions, n)
	}
	// Keys sort lexically, 10 before 2
	return sortedInts(revisions), nil
}

func (b *BadgerBackend) DeleteBranch(branch int) error {
	if err := b.revisions.DropPrefix(strconv.Itoa(branch) + "/"); err != nil {
		return fmt.Errorf("dropping revisions of branch %d: %w", branch, err)
	}
	if err := os.RemoveAll(branchFolder(b.root, branch)); err != nil {
		return fmt.Errorf("removing branch %d: %w", branch, err)
	}
	return nil
}

func (b *BadgerBackend) RevisionFolder(branch, revision int) string {
	return revisionFolder(b.root, branch, revision)
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
