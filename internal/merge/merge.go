// Package merge combines two versions of a text file line by line.
//
// The incoming version is called file and the existing one into. Lines only
// in file form Insert blocks, lines only in into form Remove blocks. Which of
// them survive is chosen by an Operation; lines changed on both sides are
// settled by a Resolution.
package merge

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"sos/internal/logging"
)

// Operation selects which one-sided changes a merge keeps.
type Operation int

const (
	OpInsert Operation = 1
	OpRemove Operation = 2
	OpBoth   Operation = OpInsert | OpRemove
)

func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpRemove:
		return "remove"
	case OpBoth:
		return "both"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// ParseOperation reads an operation name as accepted on the command line.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(s) {
	case "insert", "add":
		return OpInsert, nil
	case "remove", "rm":
		return OpRemove, nil
	case "both", "":
		return OpBoth, nil
	}
	return 0, fmt.Errorf("unknown merge operation %q", s)
}

// Resolution decides lines changed on both sides.
type Resolution int

const (
	Ask Resolution = iota
	Theirs
	Mine
	Next
)

func (r Resolution) String() string {
	switch r {
	case Ask:
		return "ask"
	case Theirs:
		return "theirs"
	case Mine:
		return "mine"
	case Next:
		return "next"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(s) {
	case "ask", "":
		return Ask, nil
	case "theirs":
		return Theirs, nil
	case "mine":
		return Mine, nil
	case "next":
		return Next, nil
	}
	return 0, fmt.Errorf("unknown conflict resolution %q", s)
}

// Answer is the reply to a conflict. Non-nil Lines replace the conflicting
// line with user supplied text and take precedence over Resolution.
type Answer struct {
	Resolution Resolution
	Lines      []string
}

// AskFunc is consulted for every conflict when the resolution is Ask.
type AskFunc func(block *Block) Answer

type Options struct {
	Operation  Operation // zero means OpBoth
	Resolution Resolution
	Ask        AskFunc
	Logger     *zap.Logger
}

// Merge combines file into into.
func Merge(file, into []byte, opts Options) ([]byte, error) {
	logger := logging.OrNop(opts.Logger)

	fileText, fileFmt, err := decode(file)
	if err != nil {
		return nil, fmt.Errorf("decoding incoming content: %w", err)
	}
	intoText, intoFmt, err := decode(into)
	if err != nil {
		return nil, fmt.Errorf("decoding existing content: %w", err)
	}
	if fileFmt.mixed || intoFmt.mixed {
		logger.Warn("mixed EOL styles in input")
	}
	if fileFmt.eol != "" && intoFmt.eol != "" && fileFmt.eol != intoFmt.eol {
		logger.Warn("differing EOL styles detected during merge",
			zap.String("file", eolName(fileFmt.eol)),
			zap.String("into", eolName(intoFmt.eol)))
	}

	eol := intoFmt.eol
	if eol == "" {
		eol = fileFmt.eol
	}
	if eol == "" {
		eol = "\n"
	}
	codec := intoFmt.codec
	if codec == nil {
		codec = fileFmt.codec
	}

	blocks := Blocks(splitLines(fileText, fileFmt.eol), splitLines(intoText, intoFmt.eol))
	lines := Apply(blocks, opts.Operation, opts.Resolution, opts.Ask, logger)
	return encode(strings.Join(lines, eol), codec)
}

// Apply emits the lines of a classified comparison.
func Apply(blocks []*Block, op Operation, res Resolution, ask AskFunc, logger *zap.Logger) []string {
	logger = logging.OrNop(logger)
	if op == 0 {
		op = OpBoth
	}

	var out []string
	for _, b := range blocks {
		switch {
		case b.Type == Keep:
			out = append(out, b.Lines...)
		case b.Type == Insert:
			if op&OpInsert != 0 {
				out = append(out, b.Lines...)
			}
		case b.Type == Remove:
			if op&OpRemove != 0 {
				out = append(out, b.Lines...)
			}
		case b.Type == Replace && b.Replaces != nil:
			switch op {
			case OpInsert:
				out = append(out, b.Replaces.Lines...)
				out = append(out, b.Lines...)
			case OpBoth:
				out = append(out, b.Replaces.Lines...)
			}
		case b.Type == Modify && b.Replaces != nil && b.Changes != nil:
			out = append(out, modified(b, op, res, ask, logger)...)
		default:
			logger.Warn("unhandled merge block, emitting its lines",
				zap.Stringer("type", b.Type), zap.Int("line", b.Line))
			out = append(out, b.Lines...)
		}
	}
	return out
}

// modified emits an intra-line change. Lines holds the into side, so the
// direction is the reverse of whole lines: under OpInsert characters only
// present in into are kept, while lines only present in into are dropped.
// Under OpRemove characters only present in into are dropped.
func modified(b *Block, op Operation, res Resolution, ask AskFunc, logger *zap.Logger) []string {
	switch b.Changes.Type {
	case Insert:
		if op == OpInsert {
			return b.Lines
		}
		return b.Replaces.Lines
	case Remove:
		if op == OpRemove {
			return b.Lines
		}
		return b.Replaces.Lines
	case Modify:
		return resolve(b, res, ask, logger)
	}
	logger.Warn("unhandled merge block, emitting its lines",
		zap.Stringer("type", b.Type), zap.Int("line", b.Line))
	return b.Lines
}

func resolve(b *Block, res Resolution, ask AskFunc, logger *zap.Logger) []string {
	if res == Ask {
		if ask == nil {
			logger.Warn("no answer callback for ASK resolution, using theirs", zap.Int("line", b.Line))
			return b.Replaces.Lines
		}
		answer := ask(b)
		if answer.Lines != nil {
			return answer.Lines
		}
		res = answer.Resolution
	}

	switch res {
	case Mine:
		return b.Lines
	case Theirs:
		return b.Replaces.Lines
	default:
		logger.Warn("intra-line conflict resolution NEXT not implemented, using theirs", zap.Int("line", b.Line))
		return b.Replaces.Lines
	}
}

func eolName(eol string) string {
	switch eol {
	case "\r\n":
		return "CRLF"
	case "\r":
		return "CR"
	default:
		return "LF"
	}
}
