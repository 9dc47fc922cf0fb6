// internal/parcel/parcel.go
package parcel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sos/internal/change"
	"sos/internal/config"
	"sos/internal/content"
	"sos/internal/diff"
	sosErrors "sos/internal/errors"
	"sos/internal/logging"
	"sos/internal/merge"
	"sos/internal/metadata"
	"sos/internal/safe"
	"sos/internal/workspace"
	"sos/shared/types"
	"sos/shared/utils"
)

// Offline turns the directory at root into a repository whose first branch
// holds the current working tree.
func Offline(root, name string, opts OfflineOptions, cfg *config.Config, logger *zap.Logger) (*Parcel, error) {
	logger = logging.OrNop(logger)
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Flags.Backend == "" {
		opts.Flags.Backend = config.BackendFile
	}
	if err := opts.Flags.Validate(); err != nil {
		return nil, sosErrors.Usage("%v", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if isDir(filepath.Join(absRoot, workspace.MetaFolder)) {
		return nil, sosErrors.Usage("%s is already a repository", absRoot)
	}

	ws, store, backend, err := openStores(absRoot, cfg, opts.Flags.Backend, true, logger)
	if err != nil {
		return nil, err
	}

	p := &Parcel{
		Root:      absRoot,
		Config:    cfg,
		Meta:      metadata.New(backend, store, opts.Flags, logger),
		Workspace: ws,
		Safe:      store,
		Backend:   backend,
		Logger:    logger,
	}

	trackable, err := p.trackable(opts.Tracked)
	if err == nil {
		_, err = p.Meta.CreateBranchFromTree(name, ws, trackable, opts.Tracked)
	}
	if err != nil {
		p.Close()
		os.RemoveAll(ws.MetaDir())
		return nil, fmt.Errorf("creating initial branch: %w", err)
	}

	logger.Info("repository created",
		zap.String("root", absRoot),
		zap.String("backend", opts.Flags.Backend),
		zap.Bool("compress", opts.Flags.Compress))
	return p, nil
}

// Open opens the repository containing dir.
func Open(dir string, cfg *config.Config, logger *zap.Logger) (*Parcel, error) {
	logger = logging.OrNop(logger)
	if cfg == nil {
		cfg = config.Default()
	}

	root, err := workspace.FindRoot(dir)
	if err != nil {
		return nil, sosErrors.Usage("no repository found at %s", dir)
	}

	ws, store, backend, err := openStores(root, cfg, "", false, logger)
	if err != nil {
		return nil, err
	}

	meta, err := metadata.Load(backend, store, logger)
	if err != nil {
		store.Close()
		backend.Close()
		return nil, err
	}

	return &Parcel{
		Root:      root,
		Config:    cfg,
		Meta:      meta,
		Workspace: ws,
		Safe:      store,
		Backend:   backend,
		Logger:    logger,
	}, nil
}

// Branch creates a branch and makes it the active one. It returns the new
// branch number.
func (p *Parcel) Branch(name string, opts BranchOptions) (int, error) {
	var (
		number int
		err    error
	)
	if opts.FromRevision {
		number, err = p.Meta.CreateBranchFromRevision(name, p.Meta.Branch, p.Meta.Commit)
	} else {
		tracked := p.Meta.Branches[p.Meta.Branch].Tracked
		trackable, terr := p.trackable(tracked)
		if terr != nil {
			return 0, terr
		}
		number, err = p.Meta.CreateBranchFromTree(name, p.Workspace, trackable, tracked)
	}
	if err != nil {
		return 0, err
	}

	if err := p.activate(number); err != nil {
		return 0, err
	}
	return number, nil
}

// Switch checks out a revision into the working tree and makes its branch
// the active one.
func (p *Parcel) Switch(ref string, opts SwitchOptions) error {
	branch, revision, err := p.Meta.ResolveRef(ref)
	if err != nil {
		return err
	}

	changes, err := p.Changes("")
	if err != nil {
		return err
	}
	if !changes.Empty() && !opts.Force {
		return sosErrors.Usage("%d local changes would be lost, commit them or use force", changes.Len())
	}

	current, err := p.Meta.Current()
	if err != nil {
		return err
	}
	target, err := p.Meta.Snapshot(branch, revision)
	if err != nil {
		return err
	}

	wanted := target.Live()
	onDisk, err := p.Meta.ScanTree(p.Workspace, nil, wanted)
	if err != nil {
		return err
	}
	if !opts.Force {
		if clobbered := overwritten(current.Live(), wanted, onDisk); len(clobbered) > 0 {
			return sosErrors.Usage("switching would overwrite %d files not committed on this branch (%s), use force",
				len(clobbered), strings.Join(clobbered, ", "))
		}
	}

	for _, path := range utils.SortedKeys(current.Live()) {
		if _, keep := wanted[path]; keep {
			continue
		}
		if err := p.Workspace.Remove(path); err != nil {
			return sosErrors.IO("removing "+path, err)
		}
	}
	if err := p.restore(target, wanted, onDisk); err != nil {
		return err
	}

	if err := p.activate(branch); err != nil {
		return err
	}
	p.Logger.Info("switched",
		zap.Int("branch", branch),
		zap.Int("revision", revision),
		zap.Int("files", len(wanted)))
	return nil
}

// overwritten lists the files on disk a checkout of wanted would replace
// although their content is not what the active branch committed.
func overwritten(committed, wanted, onDisk map[string]content.PathInfo) []string {
	var paths []string
	for _, path := range utils.SortedKeys(wanted) {
		have, ok := onDisk[path]
		if !ok || have.Hash == wanted[path].Hash {
			continue
		}
		if last, known := committed[path]; known && last.Hash == have.Hash {
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// restore writes every path of wanted whose tree content differs.
func (p *Parcel) restore(snap *metadata.Snapshot, wanted, onDisk map[string]content.PathInfo) error {
	for _, path := range utils.SortedKeys(wanted) {
		info := wanted[path]
		if have, ok := onDisk[path]; ok && have.Hash == info.Hash {
			continue
		}
		data, err := snap.Read(path)
		if err != nil {
			return err
		}
		if err := p.Workspace.Write(path, data, info.MTime); err != nil {
			return sosErrors.IO("restoring "+path, err)
		}
	}
	return nil
}

// Update merges a revision into the working tree. Nothing is committed.
func (p *Parcel) Update(ref string, opts UpdateOptions) (*UpdateResult, error) {
	branch, revision, err := p.Meta.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	if opts.Operation == 0 {
		opts.Operation = merge.OpBoth
	}

	target, err := p.Meta.Snapshot(branch, revision)
	if err != nil {
		return nil, err
	}
	current, err := p.Meta.Current()
	if err != nil {
		return nil, err
	}
	trackable, err := p.branchTrackable(p.Meta.Branch)
	if err != nil {
		return nil, err
	}
	tree, err := p.Meta.ScanTree(p.Workspace, trackable, current.Paths)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	theirs := target.Live()
	for _, path := range utils.SortedKeys(theirs) {
		info := theirs[path]
		mine, exists := tree[path]
		if !exists {
			// untracked here but present on disk: merge, never overwrite
			local, err := p.Workspace.Read(path)
			switch {
			case err == nil:
				if safe.Hash(local) != info.Hash {
					if err := p.mergeFile(target, path, opts); err != nil {
						return nil, err
					}
					result.Merged = append(result.Merged, path)
				}
				continue
			case !errors.Is(err, fs.ErrNotExist):
				return nil, sosErrors.IO("reading "+path, err)
			}
		}
		switch {
		case !exists:
			if opts.Operation&merge.OpInsert == 0 {
				continue
			}
			data, err := target.Read(path)
			if err != nil {
				return nil, err
			}
			if err := p.Workspace.Write(path, data, info.MTime); err != nil {
				return nil, sosErrors.IO("writing "+path, err)
			}
			result.Added = append(result.Added, path)
		case mine.Hash != info.Hash:
			if err := p.mergeFile(target, path, opts); err != nil {
				return nil, err
			}
			result.Merged = append(result.Merged, path)
		}
	}

	if opts.Operation&merge.OpRemove != 0 {
		committed := current.Live()
		for _, path := range utils.SortedKeys(tree) {
			if _, ok := theirs[path]; ok {
				continue
			}
			// only files known to the active branch, never untracked ones
			if _, ok := committed[path]; !ok {
				continue
			}
			if err := p.Workspace.Remove(path); err != nil {
				return nil, sosErrors.IO("removing "+path, err)
			}
			result.Removed = append(result.Removed, path)
		}
	}

	p.Logger.Info("updated",
		zap.Int("branch", branch),
		zap.Int("revision", revision),
		zap.Int("added", len(result.Added)),
		zap.Int("removed", len(result.Removed)),
		zap.Int("merged", len(result.Merged)))
	return result, nil
}

func (p *Parcel) mergeFile(target *metadata.Snapshot, path string, opts UpdateOptions) error {
	file, err := target.Read(path)
	if err != nil {
		return err
	}
	into, err := p.Workspace.Read(path)
	if err != nil {
		return sosErrors.IO("reading "+path, err)
	}

	var merged []byte
	if isBinary(file) || isBinary(into) {
		merged = file
		if opts.Resolution == merge.Mine {
			merged = into
		} else if opts.Resolution != merge.Theirs {
			p.Logger.Warn("binary conflict, using theirs", zap.String("path", path))
		}
	} else {
		merged, err = merge.Merge(file, into, merge.Options{
			Operation:  opts.Operation,
			Resolution: opts.Resolution,
			Ask:        opts.Ask,
			Logger:     p.Logger.With(zap.String("path", path)),
		})
		if err != nil {
			return fmt.Errorf("merging %s: %w", path, err)
		}
	}

	if err := p.Workspace.Write(path, merged, 0); err != nil {
		return sosErrors.IO("writing "+path, err)
	}
	return nil
}

// Commit records the working tree as the next revision of the active branch
// and returns its number.
func (p *Parcel) Commit(message string, opts CommitOptions) (int, error) {
	changes, err := p.Changes("")
	if err != nil {
		return 0, err
	}
	if changes.Empty() && !opts.Force {
		return 0, sosErrors.Usage("nothing to commit")
	}

	if _, err := p.Meta.Current(); err != nil {
		return 0, err
	}
	revision := p.Meta.Commit + 1
	if err := p.Meta.SaveCommit(p.Meta.Branch, revision, changes, message, p.Workspace); err != nil {
		return 0, err
	}
	if err := p.Meta.SaveBranches(); err != nil {
		return 0, err
	}
	return revision, nil
}

// Delete removes a branch by name or number.
func (p *Parcel) Delete(name string) error {
	branch, ok := p.Meta.GetBranchByName(name)
	if !ok || name == "" {
		return sosErrors.Usage("unknown branch %q", name)
	}
	return p.Meta.DeleteBranch(branch)
}

// Changes compares a revision, the latest of the active branch by default,
// with the working tree.
func (p *Parcel) Changes(ref string) (content.ChangeSet, error) {
	branch, revision, err := p.Meta.ResolveRef(ref)
	if err != nil {
		return content.ChangeSet{}, err
	}
	trackable, err := p.branchTrackable(p.Meta.Branch)
	if err != nil {
		return content.ChangeSet{}, err
	}
	return p.Meta.FindChanges(branch, revision, p.Workspace, trackable)
}

// Diff reports the changes against a revision with line diffs of the
// modified files.
func (p *Parcel) Diff(ref string, contextLines int) (*DiffReport, error) {
	branch, revision, err := p.Meta.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	changes, err := p.Changes(ref)
	if err != nil {
		return nil, err
	}
	snap, err := p.Meta.Snapshot(branch, revision)
	if err != nil {
		return nil, err
	}

	engine := diff.NewEngine(contextLines)
	report := &DiffReport{Files: ChangeList(changes)}
	for i, f := range report.Files {
		if f.Kind != KindModified {
			continue
		}
		old, err := snap.Read(f.Path)
		if err != nil {
			return nil, err
		}
		current, err := p.Workspace.Read(f.Path)
		if err != nil {
			return nil, sosErrors.IO("reading "+f.Path, err)
		}
		if report.Files[i].Result, err = engine.Diff(old, current); err != nil {
			return nil, fmt.Errorf("diffing %s: %w", f.Path, err)
		}
	}
	return report, nil
}

// Format renders the report as text.
func (r *DiffReport) Format() string {
	var out strings.Builder
	for _, f := range r.Files {
		fmt.Fprintf(&out, "%s %s\n", f.Kind, f.Path)
		if f.Result != nil {
			out.WriteString(f.Result.Format())
		}
	}
	return out.String()
}

// Verify checks the stored content of a revision, the latest of the active
// branch by default, and returns the paths whose blobs are damaged.
func (p *Parcel) Verify(ref string) ([]string, error) {
	branch, revision, err := p.Meta.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	snap, err := p.Meta.Snapshot(branch, revision)
	if err != nil {
		return nil, err
	}
	return snap.Verify(), nil
}

// Log returns the commits of the active branch in order.
func (p *Parcel) Log() []content.CommitInfo {
	return p.Meta.Log()
}

func (p *Parcel) Branches() []*content.BranchInfo {
	return p.Meta.List()
}

// Track adds tracking patterns to the active branch.
func (p *Parcel) Track(patterns ...string) error {
	info := p.Meta.Branches[p.Meta.Branch]
	tracked := append([]string(nil), info.Tracked...)
	for _, pattern := range patterns {
		if slices.Contains(tracked, pattern) {
			return sosErrors.Usage("pattern %q is already tracked", pattern)
		}
		tracked = append(tracked, pattern)
	}
	if _, err := workspace.Matcher(tracked); err != nil {
		return sosErrors.Usage("%v", err)
	}
	return p.Meta.SetTracked(p.Meta.Branch, tracked)
}

// Untrack removes tracking patterns from the active branch.
func (p *Parcel) Untrack(patterns ...string) error {
	info := p.Meta.Branches[p.Meta.Branch]
	tracked := append([]string(nil), info.Tracked...)
	for _, pattern := range patterns {
		i := slices.Index(tracked, pattern)
		if i < 0 {
			return sosErrors.Usage("pattern %q is not tracked", pattern)
		}
		tracked = slices.Delete(tracked, i, i+1)
	}
	return p.Meta.SetTracked(p.Meta.Branch, tracked)
}

// Watch reports the changes of the working tree each time files change,
// until ctx is done.
func (p *Parcel) Watch(ctx context.Context, onChange func(content.ChangeSet)) error {
	tracker, err := change.NewAutoTracker(p.Root, p.Workspace.Ignored, p.Logger)
	if err != nil {
		return err
	}
	defer tracker.Close()

	var failed error
	err = tracker.Run(ctx, func(paths []string) {
		changes, err := p.Changes("")
		if err != nil {
			p.Logger.Error("finding changes", zap.Error(err), zap.Strings("paths", paths))
			failed = err
			return
		}
		onChange(changes)
	})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, failed)
}

// Close releases the stores of the repository.
func (p *Parcel) Close() error {
	if p == nil {
		return nil
	}
	if p.Safe != nil {
		p.Safe.Close()
		p.Safe = nil
	}
	if p.Backend != nil {
		err := p.Backend.Close()
		p.Backend = nil
		if err != nil {
			return fmt.Errorf("closing metadata: %w", err)
		}
	}
	return nil
}

func (p *Parcel) activate(branch int) error {
	if err := p.Meta.LoadBranch(branch); err != nil {
		return err
	}
	return p.Meta.SaveBranches()
}

// branchTrackable is the trackability predicate of a branch.
func (p *Parcel) branchTrackable(branch int) (shared.Trackable, error) {
	info, ok := p.Meta.Branches[branch]
	if !ok {
		return nil, sosErrors.NotFound("branch %d does not exist", branch)
	}
	return p.trackable(info.Tracked)
}

func (p *Parcel) trackable(patterns []string) (shared.Trackable, error) {
	if !p.Meta.Config.Track {
		return shared.All, nil
	}
	if len(patterns) == 0 {
		return func(string) bool { return false }, nil
	}
	matcher, err := workspace.Matcher(patterns)
	if err != nil {
		return nil, sosErrors.Usage("%v", err)
	}
	return matcher, nil
}

func isBinary(data []byte) bool {
	return bytes.IndexByte(data, 0) >= 0
}

func sortFiles(files []FileDiff) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}
