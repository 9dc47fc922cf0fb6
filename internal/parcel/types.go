package parcel

import (
	"go.uber.org/zap"

	"sos/internal/config"
	"sos/internal/content"
	"sos/internal/diff"
	"sos/internal/merge"
	"sos/internal/metadata"
	"sos/internal/safe"
	"sos/internal/storage"
	"sos/internal/workspace"
)

// Parcel is an offline repository: a working tree plus its metadata folder.
// A Parcel assumes it is the only writer of its repository.
type Parcel struct {
	Root      string
	Config    *config.Config
	Meta      *metadata.Metadata
	Workspace *workspace.LocalWorkspace
	Safe      *safe.Safe
	Backend   storage.Backend
	Logger    *zap.Logger
}

// OfflineOptions configures a new repository.
type OfflineOptions struct {
	Flags   config.RepositoryConfig
	Tracked []string // initial tracking patterns, used when Flags.Track is set
}

type BranchOptions struct {
	// FromRevision branches off the latest committed revision instead of the
	// current working tree.
	FromRevision bool
}

type SwitchOptions struct {
	Force bool // discard local changes
}

type UpdateOptions struct {
	Operation  merge.Operation
	Resolution merge.Resolution
	Ask        merge.AskFunc
}

type CommitOptions struct {
	Force bool // commit even without changes
}

// UpdateResult lists what an update did to the working tree.
type UpdateResult struct {
	Added   []string
	Removed []string
	Merged  []string
}

// FileDiff is the difference of one path between a revision and the tree.
type FileDiff struct {
	Path   string
	Kind   ChangeKind
	Result *diff.DiffResult // modifications only
}

type ChangeKind string

const (
	KindAdded    ChangeKind = "ADD"
	KindDeleted  ChangeKind = "DEL"
	KindModified ChangeKind = "MOD"
)

// DiffReport is the textual comparison of a revision with the working tree.
type DiffReport struct {
	Files []FileDiff
}

// ChangeList orders a change set for display.
func ChangeList(changes content.ChangeSet) []FileDiff {
	var out []FileDiff
	for _, kind := range []struct {
		kind  ChangeKind
		paths map[string]content.PathInfo
	}{
		{KindAdded, changes.Additions},
		{KindDeleted, changes.Deletions},
		{KindModified, changes.Modifications},
	} {
		for path := range kind.paths {
			out = append(out, FileDiff{Path: path, Kind: kind.kind})
		}
	}
	sortFiles(out)
	return out
}
