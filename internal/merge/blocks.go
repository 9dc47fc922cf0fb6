package merge

import "strings"

// BlockType classifies a run of lines in a two-way comparison.
type BlockType int

const (
	Keep BlockType = iota
	Insert
	Remove
	Replace
	Modify
)

func (t BlockType) String() string {
	switch t {
	case Keep:
		return "KEEP"
	case Insert:
		return "INSERT"
	case Remove:
		return "REMOVE"
	case Replace:
		return "REPLACE"
	case Modify:
		return "MODIFY"
	default:
		return "UNKNOWN"
	}
}

// Range records the changed columns of a modified line.
type Range struct {
	Type    BlockType
	Indexes []int
}

// Block is one classified run of lines. Insert blocks hold lines only present
// in the incoming file, Remove blocks lines only present in the existing one.
// For Replace and Modify blocks Lines is the existing side and Replaces holds
// the incoming lines they stand against. Line is the 0-based position of the
// first line within the side Lines come from.
type Block struct {
	Type     BlockType
	Lines    []string
	Line     int
	Replaces *Block
	Changes  *Range

	paired bool
	marker *Range
}

// GetIntraLineMarkers parses the column tags of a marker line. Replacement
// marks take precedence over insertions, insertions over removals.
func GetIntraLineMarkers(line string) Range {
	for _, m := range []struct {
		char rune
		typ  BlockType
	}{{'^', Modify}, {'+', Insert}, {'-', Remove}} {
		if !strings.ContainsRune(line, m.char) {
			continue
		}
		r := Range{Type: m.typ}
		col := 0
		for _, c := range line {
			if c == m.char {
				r.Indexes = append(r.Indexes, col)
			}
			col++
		}
		return r
	}
	return Range{Type: Keep}
}

// Blocks compares file against into and classifies the result.
func Blocks(file, into []string) []*Block {
	return classify(compare(file, into))
}

func classify(entries []entry) []*Block {
	var (
		blocks   []*Block
		last     *Block
		fileLine int
		intoLine int
	)

	extend := func(typ BlockType, text string, paired bool, line int) {
		if last == nil || last.Type != typ || last.paired || paired || last.marker != nil {
			last = &Block{Type: typ, Line: line, paired: paired}
			blocks = append(blocks, last)
		}
		last.Lines = append(last.Lines, text)
	}

	for _, e := range entries {
		switch e.tag {
		case tagSame:
			extend(Keep, e.text, false, intoLine)
			fileLine++
			intoLine++
		case tagFile:
			extend(Insert, e.text, e.paired, fileLine)
			fileLine++
		case tagInto:
			extend(Remove, e.text, e.paired, intoLine)
			intoLine++
		case tagMarker:
			if last != nil {
				r := GetIntraLineMarkers(e.text)
				last.marker = &r
			}
		}
	}

	return pairBlocks(blocks)
}

// pairBlocks folds adjacent incoming and existing blocks of the same length
// into Replace blocks, or Modify blocks when a single line carries markers.
func pairBlocks(blocks []*Block) []*Block {
	out := make([]*Block, 0, len(blocks))
	for i := 0; i < len(blocks); i++ {
		b := blocks[i]
		if i+1 < len(blocks) {
			next := blocks[i+1]
			var file, into *Block
			switch {
			case b.Type == Insert && next.Type == Remove:
				file, into = b, next
			case b.Type == Remove && next.Type == Insert:
				file, into = next, b
			}
			if file != nil && file.paired == into.paired && len(file.Lines) == len(into.Lines) {
				out = append(out, combine(file, into))
				i++
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

func combine(file, into *Block) *Block {
	b := &Block{
		Type:     Replace,
		Lines:    into.Lines,
		Line:     into.Line,
		Replaces: &Block{Type: Insert, Lines: file.Lines, Line: file.Line},
	}
	if len(into.Lines) == 1 && (file.marker != nil || into.marker != nil) {
		b.Type = Modify
		b.Changes = combineMarkers(file.marker, into.marker)
	}
	return b
}

// combineMarkers merges the column markers of both sides of a modified line.
// Columns are reported for the existing side when it has markers.
func combineMarkers(file, into *Range) *Range {
	switch {
	case file == nil:
		return into
	case into == nil:
		return file
	}
	r := &Range{Type: Modify, Indexes: into.Indexes}
	if file.Type == into.Type {
		r.Type = file.Type
	}
	return r
}
