package metadata

import (
	"fmt"

	"go.uber.org/zap"

	"sos/internal/content"
	"sos/internal/errors"
	"sos/shared/utils"
)

// Snapshot is the path-set of a branch as of one revision, built by replaying
// revision records in order.
type Snapshot struct {
	Branch   int
	Revision int // last applied revision, -1 before revision 0
	Paths    map[string]content.PathInfo

	origins map[string]int // revision whose folder holds each live blob
	meta    *Metadata
}

func newSnapshot(m *Metadata, branch int) *Snapshot {
	return &Snapshot{
		Branch:   branch,
		Revision: -1,
		Paths:    make(map[string]content.PathInfo),
		origins:  make(map[string]int),
		meta:     m,
	}
}

// Snapshot replays revisions 0..upto of branch. The path-set held in Paths
// is returned as is when it matches. Callers must not modify the result.
func (m *Metadata) Snapshot(branch, upto int) (*Snapshot, error) {
	op := fmt.Sprintf("computing path set of %d/%d", branch, upto)
	if _, ok := m.Branches[branch]; !ok {
		return nil, errors.Wrap(op, errors.NotFound("branch %d does not exist", branch))
	}
	if s := m.snapshot; s != nil && s.Branch == branch && s.Revision == upto {
		return s, nil
	}

	revisions, err := m.backend.Revisions(branch)
	if err != nil {
		return nil, errors.Wrap(op, err)
	}
	if len(revisions) == 0 {
		return nil, errors.Wrap(op, errors.Invariant("branch %d has no revisions", branch))
	}
	if upto < 0 || upto > revisions[len(revisions)-1] {
		return nil, errors.Wrap(op, errors.Usage("revision %d does not exist on branch %d", upto, branch))
	}

	snap := newSnapshot(m, branch)
	for _, r := range revisions {
		if r > upto {
			break
		}
		rec, err := m.backend.LoadRevision(branch, r)
		if err != nil {
			return nil, errors.Wrap(op, err)
		}
		if rec.Commit.Number != r {
			return nil, errors.Wrap(op, errors.Invariant("revision %d records commit number %d", r, rec.Commit.Number))
		}
		if err := snap.Apply(r, rec.Changes); err != nil {
			return nil, errors.Wrap(op, err)
		}
	}
	return snap, nil
}

// Apply replays the changes of revision, which must directly follow the last
// applied one.
func (s *Snapshot) Apply(revision int, changes content.ChangeSet) error {
	if revision != s.Revision+1 {
		return errors.Invariant("revision %d replayed after %d", revision, s.Revision)
	}
	if err := changes.Validate(); err != nil {
		return err
	}
	changes.Apply(s.Paths, s.origins, revision)
	s.Revision = revision
	return nil
}

// Live returns the paths that exist as of the snapshot revision.
func (s *Snapshot) Live() map[string]content.PathInfo {
	live := make(map[string]content.PathInfo, len(s.Paths))
	for path, info := range s.Paths {
		if !info.Deleted() {
			live[path] = info
		}
	}
	return live
}

// Read returns the content of a live path from the revision folder that
// stored it.
func (s *Snapshot) Read(path string) ([]byte, error) {
	info, ok := s.Paths[path]
	if !ok || info.Deleted() {
		return nil, errors.NotFound("%s does not exist in %d/%d", path, s.Branch, s.Revision)
	}
	if *info.Size == 0 {
		return []byte{}, nil
	}
	origin, ok := s.origins[path]
	if !ok {
		return nil, errors.Invariant("no revision holds the blob of %s", path)
	}
	folder := s.meta.backend.RevisionFolder(s.Branch, origin)
	data, err := s.meta.safe.ReadBlob(folder, info.Hash, s.meta.Config.Compress)
	if err != nil {
		return nil, errors.IO(fmt.Sprintf("reading blob of %s", path), err)
	}
	return data, nil
}

// Verify rereads every live blob of the snapshot from disk and returns the
// paths whose stored content is missing or does not match its hash.
func (s *Snapshot) Verify() []string {
	var corrupt []string
	for _, path := range utils.SortedKeys(s.Live()) {
		info := s.Paths[path]
		if *info.Size == 0 {
			continue
		}
		folder := s.meta.backend.RevisionFolder(s.Branch, s.origins[path])
		if err := s.meta.safe.Verify(folder, info.Hash, s.meta.Config.Compress); err != nil {
			s.meta.logger.Warn("blob failed verification",
				zap.String("path", path),
				zap.Int("branch", s.Branch),
				zap.Int("origin", s.origins[path]),
				zap.Error(err))
			corrupt = append(corrupt, path)
		}
	}
	return corrupt
}
