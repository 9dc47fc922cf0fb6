package merge

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	tagFile   = '-' // only in file
	tagInto   = '+' // only in into
	tagSame   = ' '
	tagMarker = '?'

	// similarity bounds for pairing lines of a replaced region
	cutoff    = 0.75
	bestRatio = 0.74
)

// entry is one line of the annotated comparison. Marker entries carry the
// column tags of the line before them instead of text. Paired entries are
// the two halves of a single changed line.
type entry struct {
	tag    byte
	text   string
	paired bool
}

// differ annotates the difference of two line sequences, pairing similar
// lines of replaced regions and marking the changed columns within them.
type differ struct {
	out []entry
}

func compare(a, b []string) []entry {
	d := &differ{}
	m := difflib.NewMatcher(a, b)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'r':
			d.fancyReplace(a, op.I1, op.I2, b, op.J1, op.J2)
		case 'd':
			d.dump(tagFile, a, op.I1, op.I2)
		case 'i':
			d.dump(tagInto, b, op.J1, op.J2)
		case 'e':
			d.dump(tagSame, a, op.I1, op.I2)
		}
	}
	return d.out
}

func (d *differ) dump(tag byte, lines []string, lo, hi int) {
	for _, line := range lines[lo:hi] {
		d.out = append(d.out, entry{tag: tag, text: line})
	}
}

func (d *differ) plainReplace(a []string, alo, ahi int, b []string, blo, bhi int) {
	if bhi-blo < ahi-alo {
		d.dump(tagInto, b, blo, bhi)
		d.dump(tagFile, a, alo, ahi)
		return
	}
	d.dump(tagFile, a, alo, ahi)
	d.dump(tagInto, b, blo, bhi)
}

// fancyReplace finds the most similar pair of lines in a replaced region,
// emits it as a paired change and recurses on both sides of it.
func (d *differ) fancyReplace(a []string, alo, ahi int, b []string, blo, bhi int) {
	best, bestI, bestJ := bestRatio, -1, -1
	eqI, eqJ := -1, -1

	chars := difflib.NewMatcher(nil, nil)
	for j := blo; j < bhi; j++ {
		chars.SetSeq2(runes(b[j]))
		for i := alo; i < ahi; i++ {
			if a[i] == b[j] {
				if eqI < 0 {
					eqI, eqJ = i, j
				}
				continue
			}
			chars.SetSeq1(runes(a[i]))
			if chars.RealQuickRatio() > best && chars.QuickRatio() > best {
				if r := chars.Ratio(); r > best {
					best, bestI, bestJ = r, i, j
				}
			}
		}
	}

	identical := false
	if best < cutoff {
		if eqI < 0 {
			d.plainReplace(a, alo, ahi, b, blo, bhi)
			return
		}
		bestI, bestJ, identical = eqI, eqJ, true
	}

	d.fancyHelper(a, alo, bestI, b, blo, bestJ)
	if identical {
		d.out = append(d.out, entry{tag: tagSame, text: a[bestI]})
	} else {
		d.pair(a[bestI], b[bestJ])
	}
	d.fancyHelper(a, bestI+1, ahi, b, bestJ+1, bhi)
}

func (d *differ) fancyHelper(a []string, alo, ahi int, b []string, blo, bhi int) {
	switch {
	case alo < ahi && blo < bhi:
		d.fancyReplace(a, alo, ahi, b, blo, bhi)
	case alo < ahi:
		d.dump(tagFile, a, alo, ahi)
	case blo < bhi:
		d.dump(tagInto, b, blo, bhi)
	}
}

// pair emits two similar lines with their column markers.
func (d *differ) pair(aline, bline string) {
	var atags, btags strings.Builder
	m := difflib.NewMatcher(runes(aline), runes(bline))
	for _, op := range m.GetOpCodes() {
		la, lb := op.I2-op.I1, op.J2-op.J1
		switch op.Tag {
		case 'r':
			atags.WriteString(strings.Repeat("^", la))
			btags.WriteString(strings.Repeat("^", lb))
		case 'd':
			atags.WriteString(strings.Repeat("-", la))
		case 'i':
			btags.WriteString(strings.Repeat("+", lb))
		case 'e':
			atags.WriteString(strings.Repeat(" ", la))
			btags.WriteString(strings.Repeat(" ", lb))
		}
	}

	d.out = append(d.out, entry{tag: tagFile, text: aline, paired: true})
	if tags := strings.TrimRight(atags.String(), " "); tags != "" {
		d.out = append(d.out, entry{tag: tagMarker, text: tags})
	}
	d.out = append(d.out, entry{tag: tagInto, text: bline, paired: true})
	if tags := strings.TrimRight(btags.String(), " "); tags != "" {
		d.out = append(d.out, entry{tag: tagMarker, text: tags})
	}
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// String renders an entry the way line-oriented differs print it.
func (e entry) String() string {
	return string(e.tag) + " " + e.text
}
