// Package metadata is the branch and revision engine. It owns the branch
// table, the commits of the active branch and the path-set of the loaded
// revision, and persists revisions as change sets plus changed blobs.
//
// A repository is assumed to have a single writer. Nothing here locks the
// metadata folder; concurrent writers from several processes are not safe.
package metadata

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sos/internal/config"
	"sos/internal/content"
	"sos/internal/errors"
	"sos/internal/logging"
	"sos/internal/safe"
	"sos/internal/storage"
	"sos/shared/types"
	"sos/shared/utils"
)

// Source provides blob content for the paths of a change set.
type Source interface {
	Read(path string) ([]byte, error)
}

type Metadata struct {
	Config   config.RepositoryConfig
	Branch   int // active branch
	Commit   int // latest revision of the active branch
	Branches map[int]*content.BranchInfo
	Commits  map[int]content.CommitInfo // of the active branch
	Paths    map[string]content.PathInfo

	snapshot *Snapshot // backs Paths once computed
	backend  storage.Backend
	safe     *safe.Safe
	logger   *zap.Logger
	now      func() time.Time
}

// New returns the metadata of a repository without branches.
func New(backend storage.Backend, store *safe.Safe, cfg config.RepositoryConfig, logger *zap.Logger) *Metadata {
	return &Metadata{
		Config:   cfg,
		Branches: make(map[int]*content.BranchInfo),
		Commits:  make(map[int]content.CommitInfo),
		backend:  backend,
		safe:     store,
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// Load reads the branch table and the commits of the active branch.
func Load(backend storage.Backend, store *safe.Safe, logger *zap.Logger) (*Metadata, error) {
	m := New(backend, store, config.RepositoryConfig{}, logger)
	if err := m.LoadBranches(); err != nil {
		return nil, err
	}
	if err := m.LoadBranch(m.Branch); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metadata) LoadBranches() error {
	table, err := m.backend.LoadBranches()
	if err != nil {
		return errors.Wrap("loading branches", err)
	}
	m.Branch = table.Branch
	m.Commit = table.Commit
	m.Config = table.Flags
	m.Branches = table.Branches
	if m.Branches == nil {
		m.Branches = make(map[int]*content.BranchInfo)
	}
	return nil
}

func (m *Metadata) SaveBranches() error {
	table := &storage.BranchTable{
		Branch:   m.Branch,
		Commit:   m.Commit,
		Flags:    m.Config,
		Branches: m.Branches,
	}
	if err := m.backend.SaveBranches(table); err != nil {
		return errors.Wrap("saving branches", err)
	}
	return nil
}

// LoadBranch makes branch the active one and loads its commits. The path-set
// is computed lazily by ComputeSequentialPathSet.
func (m *Metadata) LoadBranch(branch int) error {
	op := fmt.Sprintf("loading branch %d", branch)
	if _, ok := m.Branches[branch]; !ok {
		return errors.Wrap(op, errors.NotFound("branch %d does not exist", branch))
	}

	revisions, err := m.backend.Revisions(branch)
	if err != nil {
		return errors.Wrap(op, err)
	}

	commits := make(map[int]content.CommitInfo, len(revisions))
	for i, r := range revisions {
		if r != i {
			return errors.Wrap(op, errors.Invariant("revision %d is missing", i))
		}
		rec, err := m.backend.LoadRevision(branch, r)
		if err != nil {
			return errors.Wrap(op, err)
		}
		if rec.Commit.Number != r {
			return errors.Wrap(op, errors.Invariant("revision %d records commit number %d", r, rec.Commit.Number))
		}
		commits[r] = rec.Commit
	}

	m.Branch = branch
	m.Commits = commits
	m.Commit = len(revisions) - 1
	m.Paths = nil
	m.snapshot = nil
	return nil
}

// ComputeSequentialPathSet loads the path-set of branch as of revision upto
// into Paths.
func (m *Metadata) ComputeSequentialPathSet(branch, upto int) error {
	snap, err := m.Snapshot(branch, upto)
	if err != nil {
		return err
	}
	m.snapshot = snap
	m.Paths = snap.Paths
	return nil
}

// Current returns the snapshot backing Paths, computing the latest revision
// of the active branch if needed.
func (m *Metadata) Current() (*Snapshot, error) {
	if m.snapshot == nil || m.snapshot.Branch != m.Branch || m.snapshot.Revision != m.Commit {
		if err := m.ComputeSequentialPathSet(m.Branch, m.Commit); err != nil {
			return nil, err
		}
	}
	return m.snapshot, nil
}

// Latest returns the highest saved revision of branch, or -1 if none.
func (m *Metadata) Latest(branch int) (int, error) {
	if branch == m.Branch && len(m.Commits) > 0 {
		return m.Commit, nil
	}
	revisions, err := m.backend.Revisions(branch)
	if err != nil {
		return 0, err
	}
	if len(revisions) == 0 {
		return -1, nil
	}
	return revisions[len(revisions)-1], nil
}

// FindChanges compares the path-set recorded as of branch/revision with the
// trackable part of the working tree.
func (m *Metadata) FindChanges(branch, revision int, tree shared.Tree, trackable shared.Trackable) (content.ChangeSet, error) {
	op := fmt.Sprintf("finding changes against %d/%d", branch, revision)
	if trackable == nil {
		trackable = shared.All
	}

	snap, err := m.Snapshot(branch, revision)
	if err != nil {
		return content.ChangeSet{}, errors.Wrap(op, err)
	}
	last := snap.Paths

	diff, err := m.ScanTree(tree, trackable, last)
	if err != nil {
		return content.ChangeSet{}, errors.Wrap(op, err)
	}

	// Vanished paths become deletion markers so they are inside the diff
	for path, old := range last {
		if _, ok := diff[path]; ok || old.Deleted() || !trackable(path) {
			continue
		}
		diff[path] = old.AsDeleted()
	}

	changes := content.DiffPathSets(last, diff)
	m.logger.Debug("changes found",
		zap.Int("branch", branch),
		zap.Int("revision", revision),
		zap.Int("additions", len(changes.Additions)),
		zap.Int("deletions", len(changes.Deletions)),
		zap.Int("modifications", len(changes.Modifications)))
	return changes, nil
}

// ScanTree lists the trackable files of tree with their content hashes.
// Entries of known are reused for files that did not change.
func (m *Metadata) ScanTree(tree shared.Tree, trackable shared.Trackable, known map[string]content.PathInfo) (map[string]content.PathInfo, error) {
	if trackable == nil {
		trackable = shared.All
	}
	scan, err := tree.Scan()
	if err != nil {
		return nil, errors.IO("scanning working tree", err)
	}

	files := make(map[string]content.PathInfo, len(scan))
	for path, info := range scan {
		if !trackable(path) {
			continue
		}
		current, err := m.hashed(tree, path, info, known)
		if err != nil {
			return nil, errors.IO("hashing working tree", err)
		}
		files[path] = current
	}
	return files, nil
}

// hashed fills in the content hash of a scanned path. A recorded entry with
// the same size is reused when its mtime matches (non-strict mode) or when
// the content hash turns out unchanged.
func (m *Metadata) hashed(tree shared.Tree, path string, info content.PathInfo, last map[string]content.PathInfo) (content.PathInfo, error) {
	old, known := last[path]
	sameSize := known && !old.Deleted() && info.Size != nil && *old.Size == *info.Size
	if sameSize && !m.Config.Strict && old.MTime == info.MTime {
		return old, nil
	}

	data, err := tree.Read(path)
	if err != nil {
		return content.PathInfo{}, fmt.Errorf("reading %s: %w", path, err)
	}
	hash := safe.Hash(data)
	if sameSize && old.Hash == hash {
		return old, nil
	}

	size := int64(len(data))
	info.Size = &size
	info.Hash = hash
	if info.NameHash == "" {
		info.NameHash = safe.HashString(path)
	}
	return info, nil
}

// SaveCommit persists changes as revision of branch and stores the blobs of
// every added or modified path, read from src.
func (m *Metadata) SaveCommit(branch, revision int, changes content.ChangeSet, message string, src Source) error {
	op := fmt.Sprintf("saving commit %d on branch %d", revision, branch)
	if _, ok := m.Branches[branch]; !ok {
		return errors.Wrap(op, errors.NotFound("branch %d does not exist", branch))
	}
	if err := changes.Validate(); err != nil {
		return errors.Wrap(op, err)
	}

	latest, err := m.Latest(branch)
	if err != nil {
		return errors.Wrap(op, err)
	}
	if revision != latest+1 {
		return errors.Wrap(op, errors.Invariant("next revision of branch %d is %d", branch, latest+1))
	}

	folder := m.backend.RevisionFolder(branch, revision)
	for _, kind := range []map[string]content.PathInfo{changes.Additions, changes.Modifications} {
		for _, path := range utils.SortedKeys(kind) {
			info := kind[path]
			data, err := src.Read(path)
			if err != nil {
				return errors.Wrap(op, fmt.Errorf("reading %s: %w", path, err))
			}
			if hash := safe.Hash(data); hash != info.Hash {
				// changed since it was scanned, store what is there now
				m.logger.Warn("content changed during commit",
					zap.String("path", path),
					zap.String("scanned", info.Hash),
					zap.String("stored", hash))
				size := int64(len(data))
				info.Hash, info.Size = hash, &size
				kind[path] = info
			}
			if m.safe.Exists(folder, info.Hash) {
				continue
			}
			if err := m.safe.WriteBlob(folder, info.Hash, data, m.Config.Compress); err != nil {
				return errors.Wrap(op, errors.IO("writing blob for "+path, err))
			}
		}
	}

	commit := content.CommitInfo{Number: revision, CTime: m.now().UnixMilli()}
	if message != "" {
		commit.Message = &message
	}
	if err := m.backend.SaveRevision(branch, revision, &storage.Revision{Commit: commit, Changes: changes}); err != nil {
		return errors.Wrap(op, err)
	}

	if branch == m.Branch {
		m.Commits[revision] = commit
		m.Commit = revision
		if m.snapshot != nil && m.snapshot.Branch == branch {
			if m.snapshot.Revision == revision-1 {
				if err := m.snapshot.Apply(revision, changes); err != nil {
					return errors.Wrap(op, err)
				}
			} else {
				m.snapshot, m.Paths = nil, nil
			}
		}
	}

	m.logger.Info("commit saved",
		zap.Int("branch", branch),
		zap.Int("revision", revision),
		zap.Int("changes", changes.Len()))
	return nil
}

func (m *Metadata) branchFolder(branch int) string {
	return filepath.Dir(m.backend.RevisionFolder(branch, 0))
}
