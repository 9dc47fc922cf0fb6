// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Line represents a single line in a diff with its type and content.
// OldNum and NewNum are 1-based and zero on the side a line is missing from.
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*DiffResult, error) {
	lines := e.lines(string(oldContent), string(newContent))

	result := &DiffResult{}
	for _, line := range lines {
		switch line.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions
	result.Hunks = e.hunks(lines)

	return result, nil
}

// lines aligns both contents line by line.
func (e *Engine) lines(oldText, newText string) []Line {
	dmp := diffmatchpatch.New()
	a, b, index := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), index)

	var out []Line
	oldNum, newNum := 0, 0
	for _, d := range diffs {
		for _, text := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldNum++
				newNum++
				out = append(out, Line{Type: Context, Content: text, OldNum: oldNum, NewNum: newNum})
			case diffmatchpatch.DiffDelete:
				oldNum++
				out = append(out, Line{Type: Deletion, Content: text, OldNum: oldNum})
			case diffmatchpatch.DiffInsert:
				newNum++
				out = append(out, Line{Type: Addition, Content: text, NewNum: newNum})
			}
		}
	}
	return out
}

// hunks groups changed lines with their surrounding context. Changes closer
// than twice the context size share a hunk.
func (e *Engine) hunks(lines []Line) []Hunk {
	var hunks []Hunk
	oldBefore, newBefore := 0, 0

	for i := 0; i < len(lines); {
		if lines[i].Type == Context {
			i++
			continue
		}

		start := max(0, i-e.contextLines)
		end := i + 1
		for j := i + 1; j < len(lines); j++ {
			if lines[j].Type != Context {
				end = j + 1
				continue
			}
			if j-end+1 > 2*e.contextLines {
				break
			}
		}
		stop := min(len(lines), end+e.contextLines)

		for _, l := range lines[:start] {
			if l.OldNum > 0 && l.OldNum > oldBefore {
				oldBefore = l.OldNum
			}
			if l.NewNum > 0 && l.NewNum > newBefore {
				newBefore = l.NewNum
			}
		}

		hunk := Hunk{Lines: lines[start:stop]}
		for _, l := range hunk.Lines {
			if l.Type != Addition {
				hunk.OldLines++
			}
			if l.Type != Deletion {
				hunk.NewLines++
			}
		}
		hunk.OldStart = oldBefore
		if hunk.OldLines > 0 {
			hunk.OldStart++
		}
		hunk.NewStart = newBefore
		if hunk.NewLines > 0 {
			hunk.NewStart++
		}

		hunks = append(hunks, hunk)
		i = stop
	}

	return hunks
}

func splitLines(text string) []string {
	parts := strings.SplitAfter(text, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\n")
	}
	return parts
}

// Empty reports whether both sides were identical.
func (r *DiffResult) Empty() bool {
	return r.Stats.Changes == 0
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			buf.WriteString(line.Prefix())
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// Prefix is the marker a line is printed with.
func (l Line) Prefix() string {
	switch l.Type {
	case Addition:
		return "+ "
	case Deletion:
		return "- "
	default:
		return "  "
	}
}
