package metadata

import (
	"strconv"
	"strings"

	"sos/internal/errors"
)

// LatestRevision refers to the newest revision of a branch.
const LatestRevision = -1

// ParseRevisionString splits a reference of the form "B/R" into its branch
// and revision parts. Either part may be omitted: "" and "B/" refer to the
// latest revision, "R" to a revision of the current branch and a bare name to
// the latest revision of that branch. Negative revisions count back from the
// latest one, so -1 is the latest.
func ParseRevisionString(s string) (string, int, error) {
	if s == "" || s == "/" {
		return "", LatestRevision, nil
	}

	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		if r, err := strconv.Atoi(s); err == nil {
			return "", r, nil
		}
		if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
			return "", 0, errors.Usage("malformed revision %q", s)
		}
		return s, LatestRevision, nil
	case 2:
		if parts[1] == "" {
			return parts[0], LatestRevision, nil
		}
		r, err := strconv.Atoi(parts[1])
		if err != nil {
			return "", 0, errors.Usage("malformed revision %q", s)
		}
		return parts[0], r, nil
	default:
		return "", 0, errors.Usage("malformed revision %q: more than one '/'", s)
	}
}

// GetBranchByName resolves a branch name or number. An empty name is the
// current branch.
func (m *Metadata) GetBranchByName(name string) (int, bool) {
	if name == "" {
		return m.Branch, true
	}
	if n, err := strconv.Atoi(name); err == nil {
		return n, true
	}
	for number, b := range m.Branches {
		if b.Name != nil && *b.Name == name {
			return number, true
		}
	}
	return -1, false
}

// ResolveRef turns a reference into an existing branch and absolute revision.
func (m *Metadata) ResolveRef(ref string) (int, int, error) {
	name, revision, err := ParseRevisionString(ref)
	if err != nil {
		return 0, 0, err
	}
	branch, ok := m.GetBranchByName(name)
	if !ok {
		return 0, 0, errors.Usage("unknown branch %q", name)
	}
	if _, exists := m.Branches[branch]; !exists {
		return 0, 0, errors.Usage("branch %d does not exist", branch)
	}
	latest, err := m.Latest(branch)
	if err != nil {
		return 0, 0, errors.Wrap("resolving "+ref, err)
	}
	if revision < 0 {
		revision = latest + 1 + revision
	}
	if revision < 0 || revision > latest {
		return 0, 0, errors.Usage("revision %s does not exist on branch %d", ref, branch)
	}
	return branch, revision, nil
}
