package merge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/encoding/unicode"
	"pgregory.net/rapid"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	return zap.New(core), logs
}

func TestMergeOperations(t *testing.T) {
	file := []byte("a\nb\ncc\nd")
	into := []byte("a\nb\nee\nd")

	tests := []struct {
		op   Operation
		want string
	}{
		{OpInsert, "a\nb\ncc\nee\nd"},
		{OpRemove, "a\nb\nd"},
		{OpBoth, "a\nb\ncc\nd"},
		{0, "a\nb\ncc\nd"},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			out, err := Merge(file, into, Options{Operation: tt.op})
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestMergeOneSidedLines(t *testing.T) {
	out, err := Merge([]byte("a\nb\nc"), []byte("a\nc"), Options{Operation: OpInsert})
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", string(out))

	out, err = Merge([]byte("a\nb\nc"), []byte("a\nc"), Options{Operation: OpRemove})
	require.NoError(t, err)
	assert.Equal(t, "a\nc", string(out))

	out, err = Merge([]byte("a\nc"), []byte("a\nx\nc"), Options{Operation: OpInsert})
	require.NoError(t, err)
	assert.Equal(t, "a\nc", string(out))

	out, err = Merge([]byte("a\nc"), []byte("a\nx\nc"), Options{Operation: OpBoth})
	require.NoError(t, err)
	assert.Equal(t, "a\nx\nc", string(out))
}

func TestMergeEmptySide(t *testing.T) {
	out, err := Merge([]byte(""), []byte("a"), Options{Operation: OpBoth})
	require.NoError(t, err)
	assert.Equal(t, "a", string(out))

	out, err = Merge([]byte(""), []byte("a"), Options{Operation: OpInsert})
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = Merge([]byte("a\nb"), []byte(""), Options{Operation: OpInsert})
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(out))

	out, err = Merge([]byte(""), []byte(""), Options{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestConflictResolution(t *testing.T) {
	file := []byte("a\nb cd d\ne")
	into := []byte("a\nb fdd d\ne")

	out, err := Merge(file, into, Options{Resolution: Mine})
	require.NoError(t, err)
	assert.Equal(t, "a\nb fdd d\ne", string(out))

	out, err = Merge(file, into, Options{Resolution: Theirs})
	require.NoError(t, err)
	assert.Equal(t, "a\nb cd d\ne", string(out))
}

func TestAskResolution(t *testing.T) {
	file := []byte("a\nb cd d\ne")
	into := []byte("a\nb fdd d\ne")

	t.Run("callback picks mine", func(t *testing.T) {
		var asked []*Block
		out, err := Merge(file, into, Options{
			Resolution: Ask,
			Ask: func(b *Block) Answer {
				asked = append(asked, b)
				return Answer{Resolution: Mine}
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "a\nb fdd d\ne", string(out))
		require.Len(t, asked, 1)
		assert.Equal(t, []string{"b fdd d"}, asked[0].Lines)
		assert.Equal(t, []string{"b cd d"}, asked[0].Replaces.Lines)
	})

	t.Run("user defined lines", func(t *testing.T) {
		out, err := Merge(file, into, Options{
			Ask: func(*Block) Answer { return Answer{Lines: []string{"x", "y"}} },
		})
		require.NoError(t, err)
		assert.Equal(t, "a\nx\ny\ne", string(out))
	})

	t.Run("next falls back to theirs", func(t *testing.T) {
		logger, logs := observed()
		out, err := Merge(file, into, Options{
			Ask:    func(*Block) Answer { return Answer{Resolution: Next} },
			Logger: logger,
		})
		require.NoError(t, err)
		assert.Equal(t, "a\nb cd d\ne", string(out))
		assert.Equal(t, 1, logs.FilterMessage("intra-line conflict resolution NEXT not implemented, using theirs").Len())
	})

	t.Run("no callback falls back to theirs", func(t *testing.T) {
		logger, logs := observed()
		out, err := Merge(file, into, Options{Logger: logger})
		require.NoError(t, err)
		assert.Equal(t, "a\nb cd d\ne", string(out))
		assert.Equal(t, 1, logs.FilterMessage("no answer callback for ASK resolution, using theirs").Len())
	})
}

func TestCompareOutput(t *testing.T) {
	entries := compare([]string{"a", "b cd d", "e"}, []string{"a", "b fdd d", "e"})
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.String())
	}
	assert.Equal(t, []string{"  a", "- b cd d", "?   ^", "+ b fdd d", "?   ^^", "  e"}, got)
}

func TestBlocks(t *testing.T) {
	blocks := Blocks([]string{"a", "b", "cc", "d"}, []string{"a", "b", "ee", "d"})
	require.Len(t, blocks, 3)

	assert.Equal(t, Keep, blocks[0].Type)
	assert.Equal(t, []string{"a", "b"}, blocks[0].Lines)

	assert.Equal(t, Replace, blocks[1].Type)
	assert.Equal(t, []string{"ee"}, blocks[1].Lines)
	assert.Equal(t, 2, blocks[1].Line)
	require.NotNil(t, blocks[1].Replaces)
	assert.Equal(t, []string{"cc"}, blocks[1].Replaces.Lines)
	assert.Nil(t, blocks[1].Changes)

	assert.Equal(t, Keep, blocks[2].Type)
	assert.Equal(t, 3, blocks[2].Line)

	blocks = Blocks([]string{"a", "b cd d", "e"}, []string{"a", "b fdd d", "e"})
	require.Len(t, blocks, 3)
	assert.Equal(t, Modify, blocks[1].Type)
	assert.Equal(t, &Range{Type: Modify, Indexes: []int{2, 3}}, blocks[1].Changes)

	blocks = Blocks([]string{"a", "b", "c"}, []string{"a", "c"})
	require.Len(t, blocks, 3)
	assert.Equal(t, Insert, blocks[1].Type)
	assert.Equal(t, 1, blocks[1].Line)
}

func TestGetIntraLineMarkers(t *testing.T) {
	tests := []struct {
		line string
		want Range
	}{
		{"  ^^ ^", Range{Type: Modify, Indexes: []int{2, 3, 5}}},
		{"+  +", Range{Type: Insert, Indexes: []int{0, 3}}},
		{"   -", Range{Type: Remove, Indexes: []int{3}}},
		{"+ ^", Range{Type: Modify, Indexes: []int{2}}},
		{"- +", Range{Type: Insert, Indexes: []int{2}}},
		{"    ", Range{Type: Keep}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GetIntraLineMarkers(tt.line), "%q", tt.line)
	}
}

func TestMergeEOLHandling(t *testing.T) {
	logger, logs := observed()
	out, err := Merge([]byte("a\r\nb\r\nc"), []byte("a\nc"), Options{Operation: OpInsert, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc", string(out))
	assert.Equal(t, 1, logs.FilterMessage("differing EOL styles detected during merge").Len())

	logger, logs = observed()
	out, err = Merge([]byte("x"), []byte("a\r\nb\nc\r\n"), Options{Operation: OpRemove, Logger: logger})
	require.NoError(t, err)
	assert.Equal(t, "a\r\nb\nc\r\n", string(out))
	assert.Equal(t, 1, logs.FilterMessage("mixed EOL styles in input").Len())

	out, err = Merge([]byte("a\rb"), []byte("a"), Options{Operation: OpBoth})
	require.NoError(t, err)
	assert.Equal(t, "a\rb", string(out))
}

func TestMergeKeepsEncoding(t *testing.T) {
	bom := "\xEF\xBB\xBF"
	out, err := Merge([]byte(bom+"a\nb"), []byte(bom+"a\nb"), Options{})
	require.NoError(t, err)
	assert.Equal(t, bom+"a\nb", string(out))

	utf16 := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	data, err := utf16.Bytes([]byte("línea\nzwei\n"))
	require.NoError(t, err)
	out, err = Merge(data, data, Options{})
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestUnhandledBlockIsEmitted(t *testing.T) {
	logger, logs := observed()
	out := Apply([]*Block{{Type: Replace, Lines: []string{"orphan"}}}, OpBoth, Theirs, nil, logger)
	assert.Equal(t, []string{"orphan"}, out)
	assert.Equal(t, 1, logs.FilterMessage("unhandled merge block, emitting its lines").Len())
}

func TestMergeWithItselfIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOf(rapid.SampledFrom([]string{"", "a", "b", "foo bar", "  x", "é"})).Draw(t, "lines")
		eol := rapid.SampledFrom([]string{"\n", "\r\n", "\r"}).Draw(t, "eol")
		content := []byte(strings.Join(lines, eol))

		out, err := Merge(content, content, Options{Operation: OpBoth})
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
		if string(out) != string(content) {
			t.Fatalf("merge changed content: %q -> %q", content, out)
		}
	})
}

func TestParseOperationAndResolution(t *testing.T) {
	op, err := ParseOperation("add")
	require.NoError(t, err)
	assert.Equal(t, OpInsert, op)
	_, err = ParseOperation("sideways")
	assert.Error(t, err)

	res, err := ParseResolution("Mine")
	require.NoError(t, err)
	assert.Equal(t, Mine, res)
	_, err = ParseResolution("maybe")
	assert.Error(t, err)
}
