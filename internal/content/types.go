package content

// PathInfo is the recorded state of one tracked path at one revision.
// A nil Size marks the path as deleted; a zero Size is an empty file.
type PathInfo struct {
	NameHash string `json:"namehash"`
	Size     *int64 `json:"size"`
	MTime    int64  `json:"mtime"` // unix nanoseconds
	Hash     string `json:"hash"`
}

func NewPathInfo(nameHash string, size int64, mtime int64, hash string) PathInfo {
	return PathInfo{NameHash: nameHash, Size: &size, MTime: mtime, Hash: hash}
}

func (p PathInfo) Deleted() bool {
	return p.Size == nil
}

// AsDeleted returns a deletion marker for the same path.
func (p PathInfo) AsDeleted() PathInfo {
	return PathInfo{NameHash: p.NameHash, MTime: p.MTime}
}

// Equal compares size, mtime and hash.
func (p PathInfo) Equal(o PathInfo) bool {
	if (p.Size == nil) != (o.Size == nil) {
		return false
	}
	if p.Size != nil && *p.Size != *o.Size {
		return false
	}
	return p.MTime == o.MTime && p.Hash == o.Hash
}

// ChangeSet partitions the differences between two path-state mappings.
type ChangeSet struct {
	Additions     map[string]PathInfo `json:"additions"`
	Deletions     map[string]PathInfo `json:"deletions"`
	Modifications map[string]PathInfo `json:"modifications"`
}

func NewChangeSet() ChangeSet {
	return ChangeSet{
		Additions:     make(map[string]PathInfo),
		Deletions:     make(map[string]PathInfo),
		Modifications: make(map[string]PathInfo),
	}
}

// BranchInfo describes one branch. Tracked holds the ordered tracking patterns.
type BranchInfo struct {
	Number  int      `json:"number"`
	CTime   int64    `json:"ctime"`
	Name    *string  `json:"name"`
	InSync  bool     `json:"insync"`
	Tracked []string `json:"tracked"`
}

func (b *BranchInfo) DisplayName() string {
	if b.Name == nil {
		return ""
	}
	return *b.Name
}

// CommitInfo describes one revision within a branch.
type CommitInfo struct {
	Number  int     `json:"number"`
	CTime   int64   `json:"ctime"`
	Message *string `json:"message"`
}
