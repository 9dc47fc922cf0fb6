package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sos/internal/content"
	"sos/internal/errors"
	"sos/shared/types"
	"sos/shared/utils"
)

// CreateBranch records a new branch whose revision 0 holds paths, with blob
// content read from src. It returns the new branch number.
func (m *Metadata) CreateBranch(name string, src Source, paths map[string]content.PathInfo, tracked []string) (int, error) {
	number := m.nextBranch()
	op := fmt.Sprintf("creating branch %d", number)
	if err := m.checkBranchName(name); err != nil {
		return 0, errors.Wrap(op, err)
	}

	info := &content.BranchInfo{
		Number:  number,
		CTime:   m.now().UnixMilli(),
		InSync:  len(m.Branches) == 0,
		Tracked: append([]string(nil), tracked...),
	}
	if name != "" {
		info.Name = &name
	}
	m.Branches[number] = info

	changes := content.NewChangeSet()
	for path, pi := range paths {
		if !pi.Deleted() {
			changes.Additions[path] = pi
		}
	}
	if err := m.SaveCommit(number, 0, changes, "", src); err != nil {
		delete(m.Branches, number)
		if cleanup := m.backend.DeleteBranch(number); cleanup != nil {
			m.logger.Warn("removing partial branch", zap.Int("branch", number), zap.Error(cleanup))
		}
		return 0, errors.Wrap(op, err)
	}
	if err := m.SaveBranches(); err != nil {
		return 0, errors.Wrap(op, err)
	}

	m.logger.Info("branch created",
		zap.Int("branch", number),
		zap.String("name", name),
		zap.Int("paths", len(changes.Additions)))
	return number, nil
}

// CreateBranchFromTree creates a branch from the trackable files of tree.
func (m *Metadata) CreateBranchFromTree(name string, tree shared.Tree, trackable shared.Trackable, tracked []string) (int, error) {
	paths, err := m.ScanTree(tree, trackable, nil)
	if err != nil {
		return 0, err
	}
	return m.CreateBranch(name, tree, paths, tracked)
}

// CreateBranchFromRevision creates a branch whose revision 0 is the state of
// branch as of revision. Its tracking patterns are inherited.
func (m *Metadata) CreateBranchFromRevision(name string, branch, revision int) (int, error) {
	snap, err := m.Snapshot(branch, revision)
	if err != nil {
		return 0, err
	}
	return m.CreateBranch(name, snap, snap.Live(), m.Branches[branch].Tracked)
}

// DeleteBranch removes a branch with all its revisions. The active branch and
// the only remaining branch cannot be deleted.
func (m *Metadata) DeleteBranch(branch int) error {
	op := fmt.Sprintf("deleting branch %d", branch)
	if _, ok := m.Branches[branch]; !ok {
		return errors.Wrap(op, errors.Usage("branch %d does not exist", branch))
	}
	if len(m.Branches) == 1 {
		return errors.Wrap(op, errors.Usage("cannot delete the only branch"))
	}
	if branch == m.Branch {
		return errors.Wrap(op, errors.Usage("cannot delete the active branch, switch to another branch first"))
	}

	if err := m.backend.DeleteBranch(branch); err != nil {
		return errors.Wrap(op, err)
	}
	m.safe.Forget(m.branchFolder(branch))
	delete(m.Branches, branch)
	if err := m.SaveBranches(); err != nil {
		return errors.Wrap(op, err)
	}
	m.logger.Info("branch deleted", zap.Int("branch", branch))
	return nil
}

// SetTracked replaces the tracking patterns of branch.
func (m *Metadata) SetTracked(branch int, patterns []string) error {
	info, ok := m.Branches[branch]
	if !ok {
		return errors.NotFound("branch %d does not exist", branch)
	}
	info.Tracked = patterns
	return m.SaveBranches()
}

// Log returns the commits of the active branch in revision order.
func (m *Metadata) Log() []content.CommitInfo {
	return utils.MapToSlice(m.Commits)
}

// List returns all branches in number order.
func (m *Metadata) List() []*content.BranchInfo {
	return utils.MapToSlice(m.Branches)
}

func (m *Metadata) nextBranch() int {
	next := 0
	for number := range m.Branches {
		if number >= next {
			next = number + 1
		}
	}
	return next
}

func (m *Metadata) checkBranchName(name string) error {
	if name == "" {
		return nil
	}
	if strings.Contains(name, "/") {
		return errors.Usage("branch name %q must not contain '/'", name)
	}
	if _, err := strconv.Atoi(name); err == nil {
		return errors.Usage("branch name %q must not be a number", name)
	}
	for _, b := range m.Branches {
		if b.Name != nil && *b.Name == name {
			return errors.Usage("branch %q already exists", name)
		}
	}
	return nil
}
