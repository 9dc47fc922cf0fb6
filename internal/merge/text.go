package merge

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// textFormat is the detected encoding and line ending of one input.
type textFormat struct {
	codec encoding.Encoding // nil for plain bytes
	eol   string            // empty if the input has no line breaks
	mixed bool
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

func detectCodec(data []byte) encoding.Encoding {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return unicode.UTF8BOM
	case bytes.HasPrefix(data, bomUTF16LE):
		return unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	case bytes.HasPrefix(data, bomUTF16BE):
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	}
	return nil
}

// detectEOL returns the most frequent line ending of text and whether more
// than one style occurs.
func detectEOL(text string) (string, bool) {
	crlf := strings.Count(text, "\r\n")
	cr := strings.Count(text, "\r") - crlf
	lf := strings.Count(text, "\n") - crlf

	styles := 0
	for _, n := range []int{crlf, cr, lf} {
		if n > 0 {
			styles++
		}
	}

	switch {
	case styles == 0:
		return "", false
	case crlf >= cr && crlf >= lf:
		return "\r\n", styles > 1
	case lf >= cr:
		return "\n", styles > 1
	default:
		return "\r", styles > 1
	}
}

func decode(data []byte) (string, textFormat, error) {
	f := textFormat{codec: detectCodec(data)}
	text := string(data)
	if f.codec != nil {
		decoded, err := f.codec.NewDecoder().Bytes(data)
		if err != nil {
			return "", f, err
		}
		text = string(decoded)
	}
	f.eol, f.mixed = detectEOL(text)
	return text, f, nil
}

func encode(text string, codec encoding.Encoding) ([]byte, error) {
	if codec == nil {
		return []byte(text), nil
	}
	return codec.NewEncoder().Bytes([]byte(text))
}

// splitLines splits on eol keeping a trailing empty line, so joining the
// result with eol restores text exactly. Empty text has no lines.
func splitLines(text, eol string) []string {
	if text == "" {
		return nil
	}
	if eol == "" {
		return []string{text}
	}
	return strings.Split(text, eol)
}
