package parcel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sos/internal/config"
	"sos/internal/content"
	"sos/internal/errors"
	"sos/internal/merge"
	"sos/internal/safe"
)

func write(t *testing.T, root, rel, data string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(data), 0644))
}

func read(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func newRepo(t *testing.T, flags config.RepositoryConfig) (*Parcel, string) {
	t.Helper()
	root := t.TempDir()
	write(t, root, "a.txt", "a\nb\ncc\nd")
	write(t, root, "src/main.go", "package main\n")

	p, err := Offline(root, "main", OfflineOptions{Flags: flags}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, root
}

func TestOfflineAndReopen(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			p, root := newRepo(t, config.RepositoryConfig{Backend: backend, Compress: true})
			assert.Equal(t, 0, p.Meta.Branch)
			assert.Equal(t, 0, p.Meta.Commit)

			_, err := Offline(root, "again", OfflineOptions{}, nil, nil)
			assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))

			write(t, root, "a.txt", "changed content")
			rev, err := p.Commit("first change", CommitOptions{})
			require.NoError(t, err)
			assert.Equal(t, 1, rev)
			require.NoError(t, p.Close())

			reopened, err := Open(filepath.Join(root, "src"), nil, nil)
			require.NoError(t, err)
			defer reopened.Close()

			assert.Equal(t, root, reopened.Root)
			assert.Equal(t, 1, reopened.Meta.Commit)
			assert.True(t, reopened.Meta.Config.Compress)
			assert.Equal(t, backend, reopened.Meta.Config.Backend)
			log := reopened.Log()
			require.Len(t, log, 2)
			assert.Equal(t, "first change", *log[1].Message)

			changes, err := reopened.Changes("")
			require.NoError(t, err)
			assert.True(t, changes.Empty())
		})
	}
}

func TestCommitGuard(t *testing.T) {
	p, _ := newRepo(t, config.RepositoryConfig{})

	_, err := p.Commit("nothing", CommitOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))
	assert.Equal(t, 0, p.Meta.Commit)

	rev, err := p.Commit("forced", CommitOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, rev)
}

func TestChangesAndDiff(t *testing.T) {
	p, root := newRepo(t, config.RepositoryConfig{})

	write(t, root, "a.txt", "a\nBB\ncc\nd")
	write(t, root, "new.txt", "n")
	require.NoError(t, os.Remove(filepath.Join(root, "src/main.go")))

	changes, err := p.Changes("")
	require.NoError(t, err)
	assert.Contains(t, changes.Modifications, "a.txt")
	assert.Contains(t, changes.Additions, "new.txt")
	assert.Contains(t, changes.Deletions, "src/main.go")

	report, err := p.Diff("", 1)
	require.NoError(t, err)
	require.Len(t, report.Files, 3)
	assert.Equal(t, FileDiff{Path: "new.txt", Kind: KindAdded}, report.Files[1])

	text := report.Format()
	assert.Contains(t, text, "MOD a.txt\n@@ -1,3 +1,3 @@\n  a\n- b\n+ BB\n  cc\n")
	assert.Contains(t, text, "DEL src/main.go\n")
}

func TestBranchAndSwitch(t *testing.T) {
	p, root := newRepo(t, config.RepositoryConfig{Strict: true})

	feature, err := p.Branch("feature", BranchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, feature)
	assert.Equal(t, feature, p.Meta.Branch)

	write(t, root, "a.txt", "a\nb\nee\nd")
	write(t, root, "only-feature.txt", "feature file")
	_, err = p.Commit("feature work", CommitOptions{})
	require.NoError(t, err)

	write(t, root, "a.txt", "dirty working tree")
	err = p.Switch("main", SwitchOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))
	assert.Equal(t, feature, p.Meta.Branch)

	require.NoError(t, p.Switch("main", SwitchOptions{Force: true}))
	assert.Equal(t, 0, p.Meta.Branch)
	assert.Equal(t, "a\nb\ncc\nd", read(t, root, "a.txt"))
	_, err = os.Stat(filepath.Join(root, "only-feature.txt"))
	assert.True(t, os.IsNotExist(err))

	changes, err := p.Changes("")
	require.NoError(t, err)
	assert.True(t, changes.Empty())

	require.NoError(t, p.Switch("feature/1", SwitchOptions{}))
	assert.Equal(t, "a\nb\nee\nd", read(t, root, "a.txt"))
	assert.Equal(t, "feature file", read(t, root, "only-feature.txt"))

	err = p.Delete("feature")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))
	require.NoError(t, p.Switch("0/", SwitchOptions{}))
	assert.Equal(t, 0, p.Meta.Branch)

	require.NoError(t, p.Switch("main", SwitchOptions{}))
	require.NoError(t, p.Delete("feature"))
	assert.Len(t, p.Branches(), 1)
	err = p.Delete("main")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))
}

func TestBranchFromRevision(t *testing.T) {
	p, root := newRepo(t, config.RepositoryConfig{})
	write(t, root, "uncommitted.txt", "u")

	_, err := p.Branch("clean", BranchOptions{FromRevision: true})
	require.NoError(t, err)

	changes, err := p.Changes("")
	require.NoError(t, err)
	assert.Contains(t, changes.Additions, "uncommitted.txt")
}

func TestUpdate(t *testing.T) {
	p, root := newRepo(t, config.RepositoryConfig{Strict: true})

	_, err := p.Branch("feature", BranchOptions{})
	require.NoError(t, err)
	write(t, root, "a.txt", "a\nb\nee\nd")
	write(t, root, "added.txt", "from feature")
	require.NoError(t, os.Remove(filepath.Join(root, "src/main.go")))
	_, err = p.Commit("feature work", CommitOptions{})
	require.NoError(t, err)

	require.NoError(t, p.Switch("main", SwitchOptions{}))

	result, err := p.Update("feature", UpdateOptions{Operation: merge.OpInsert})
	require.NoError(t, err)
	assert.Equal(t, []string{"added.txt"}, result.Added)
	assert.Equal(t, []string{"a.txt"}, result.Merged)
	assert.Empty(t, result.Removed)
	assert.Equal(t, "a\nb\nee\ncc\nd", read(t, root, "a.txt"))
	assert.Equal(t, "from feature", read(t, root, "added.txt"))
	assert.Equal(t, "package main\n", read(t, root, "src/main.go"))
	assert.Equal(t, 0, p.Meta.Branch)

	write(t, root, "a.txt", "a\nb\ncc\nd")
	require.NoError(t, os.Remove(filepath.Join(root, "added.txt")))

	result, err = p.Update("feature", UpdateOptions{Operation: merge.OpRemove})
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Equal(t, []string{"src/main.go"}, result.Removed)
	assert.Equal(t, "a\nb\nd", read(t, root, "a.txt"))
}

func TestUpdateBinaryConflict(t *testing.T) {
	p, root := newRepo(t, config.RepositoryConfig{})
	write(t, root, "blob.bin", "\x00\x01old")
	_, err := p.Commit("", CommitOptions{})
	require.NoError(t, err)

	_, err = p.Branch("other", BranchOptions{})
	require.NoError(t, err)
	write(t, root, "blob.bin", "\x00\x01theirs")
	_, err = p.Commit("", CommitOptions{})
	require.NoError(t, err)
	require.NoError(t, p.Switch("main", SwitchOptions{}))

	write(t, root, "blob.bin", "\x00\x01mine!!")
	_, err = p.Update("other", UpdateOptions{Resolution: merge.Mine})
	require.NoError(t, err)
	assert.Equal(t, "\x00\x01mine!!", read(t, root, "blob.bin"))

	_, err = p.Update("other", UpdateOptions{Resolution: merge.Theirs})
	require.NoError(t, err)
	assert.Equal(t, "\x00\x01theirs", read(t, root, "blob.bin"))
}

func TestTrackingMode(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main.go", "package main")
	write(t, root, "notes.txt", "notes")

	p, err := Offline(root, "", OfflineOptions{
		Flags:   config.RepositoryConfig{Track: true},
		Tracked: []string{"*.go"},
	}, nil, nil)
	require.NoError(t, err)
	defer p.Close()

	snap, err := p.Meta.Current()
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, keys(snap.Live()))

	write(t, root, "notes.txt", "more notes")
	changes, err := p.Changes("")
	require.NoError(t, err)
	assert.True(t, changes.Empty())

	require.NoError(t, p.Track("*.txt"))
	assert.Equal(t, []string{"*.go", "*.txt"}, p.Meta.Branches[0].Tracked)
	changes, err = p.Changes("")
	require.NoError(t, err)
	assert.Contains(t, changes.Additions, "notes.txt")

	err = p.Track("*.go")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))
	err = p.Untrack("*.md")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))

	require.NoError(t, p.Untrack("*.go"))
	assert.Equal(t, []string{"*.txt"}, p.Meta.Branches[0].Tracked)
}

func TestUntrackedLocalEditsSurvive(t *testing.T) {
	root := t.TempDir()
	write(t, root, "main.go", "package main")
	write(t, root, "notes.txt", "line1\nline2")

	p, err := Offline(root, "", OfflineOptions{
		Flags:   config.RepositoryConfig{Track: true},
		Tracked: []string{"*.go"},
	}, nil, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Track("*.txt"))
	revision, err := p.Commit("notes", CommitOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, revision)
	require.NoError(t, p.Untrack("*.txt"))

	edited := "line1\nline2\nprecious local edit"
	write(t, root, "notes.txt", edited)
	changes, err := p.Changes("")
	require.NoError(t, err)
	require.True(t, changes.Empty())

	result, err := p.Update("0/1", UpdateOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Equal(t, []string{"notes.txt"}, result.Merged)
	assert.Equal(t, edited, read(t, root, "notes.txt"))

	err = p.Switch("0/1", SwitchOptions{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeUsage))
	assert.Equal(t, edited, read(t, root, "notes.txt"))

	require.NoError(t, p.Switch("0/1", SwitchOptions{Force: true}))
	assert.Equal(t, "line1\nline2", read(t, root, "notes.txt"))
}

func TestVerify(t *testing.T) {
	p, root := newRepo(t, config.RepositoryConfig{})

	corrupt, err := p.Verify("")
	require.NoError(t, err)
	assert.Empty(t, corrupt)

	blob := filepath.Join(p.Backend.RevisionFolder(0, 0), safe.HashString("package main\n"))
	require.NoError(t, os.WriteFile(blob, []byte("package other\n"), 0644))

	corrupt, err = p.Verify("main/0")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.go"}, corrupt)
	assert.Equal(t, "package main\n", read(t, root, "src/main.go"))
}

func TestWatch(t *testing.T) {
	p, root := newRepo(t, config.RepositoryConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan content.ChangeSet, 10)
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, func(cs content.ChangeSet) { seen <- cs })
	}()

	require.Eventually(t, func() bool {
		write(t, root, "watched.txt", "w")
		select {
		case cs := <-seen:
			_, ok := cs.Additions["watched.txt"]
			return ok
		default:
			return false
		}
	}, 10*time.Second, 300*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func keys(m map[string]content.PathInfo) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
