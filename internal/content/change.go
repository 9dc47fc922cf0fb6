// internal/content/change.go
package content

import (
	"sos/internal/errors"
)

// DiffPathSets computes the changes that turn last into diff.
//
// Paths present in last but absent from diff are out of scope and produce no
// entry; callers pass a diff covering exactly the universe of paths they
// consider. A deletion carries the old PathInfo, additions and modifications
// carry the new one.
func DiffPathSets(last, diff map[string]PathInfo) ChangeSet {
	changes := NewChangeSet()

	for path, old := range last {
		now, ok := diff[path]
		if !ok {
			continue
		}
		switch {
		case now.Deleted():
			if !old.Deleted() {
				changes.Deletions[path] = old
			}
		case old.Deleted():
			changes.Additions[path] = now
		case !old.Equal(now):
			changes.Modifications[path] = now
		}
	}

	for path, now := range diff {
		if _, ok := last[path]; !ok {
			changes.Additions[path] = now
		}
	}

	return changes
}

// Empty reports whether the change set records nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Additions) == 0 && len(c.Deletions) == 0 && len(c.Modifications) == 0
}

func (c ChangeSet) Len() int {
	return len(c.Additions) + len(c.Deletions) + len(c.Modifications)
}

// Validate checks that no path appears in more than one partition and that
// deletions are the only entries without a size.
func (c ChangeSet) Validate() error {
	seen := make(map[string]string, c.Len())
	check := func(kind string, m map[string]PathInfo) error {
		for path := range m {
			if other, dup := seen[path]; dup {
				return errors.Invariant("path %q is in both %s and %s", path, other, kind)
			}
			seen[path] = kind
		}
		return nil
	}
	if err := check("additions", c.Additions); err != nil {
		return err
	}
	if err := check("deletions", c.Deletions); err != nil {
		return err
	}
	if err := check("modifications", c.Modifications); err != nil {
		return err
	}
	for path, info := range c.Additions {
		if info.Deleted() {
			return errors.Invariant("addition of %q has no size", path)
		}
	}
	for path, info := range c.Modifications {
		if info.Deleted() {
			return errors.Invariant("modification of %q has no size", path)
		}
	}
	return nil
}

// Apply replays c onto paths in place. Deleted paths stay in the mapping as
// deletion markers so a later re-addition is distinguishable from a path
// never seen. Blob origins of added and modified paths are set to revision.
func (c ChangeSet) Apply(paths map[string]PathInfo, origins map[string]int, revision int) {
	for path, info := range c.Additions {
		paths[path] = info
		origins[path] = revision
	}
	for path, info := range c.Modifications {
		paths[path] = info
		origins[path] = revision
	}
	for path, info := range c.Deletions {
		paths[path] = info.AsDeleted()
		delete(origins, path)
	}
}
