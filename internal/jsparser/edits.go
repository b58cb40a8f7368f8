package jsparser

import (
	"fmt"
	"sort"
	"strings"
)

// Edit replaces the byte range [Start, End) of a source text with Text.
// Start == End is an insertion.
type Edit struct {
	Start int
	End   int
	Text  string
}

// EditList collects span-based source rewrites. Rewriting by span keeps every
// byte the edits do not touch identical to the input, which is how both the
// transformer pipeline and the annotator preserve the original program text.
type EditList struct {
	edits []Edit
}

// Replace queues a replacement of [start, end) with text.
func (l *EditList) Replace(start, end int, text string) {
	l.edits = append(l.edits, Edit{Start: start, End: end, Text: text})
}

// Insert queues an insertion of text at pos.
func (l *EditList) Insert(pos int, text string) {
	l.edits = append(l.edits, Edit{Start: pos, End: pos, Text: text})
}

// Len returns the number of queued edits.
func (l *EditList) Len() int {
	return len(l.edits)
}

// Apply rewrites src with all queued edits. Overlapping or out-of-bounds
// edits are an error; insertions at the same position apply in queue order.
func (l *EditList) Apply(src string) (string, error) {
	if len(l.edits) == 0 {
		return src, nil
	}

	ordered := make([]Edit, len(l.edits))
	copy(ordered, l.edits)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Start != ordered[j].Start {
			return ordered[i].Start < ordered[j].Start
		}
		return ordered[i].End < ordered[j].End
	})

	var b strings.Builder
	last := 0
	for _, e := range ordered {
		if e.Start < 0 || e.End > len(src) || e.Start > e.End {
			return "", fmt.Errorf("edit [%d,%d) out of bounds for source of length %d", e.Start, e.End, len(src))
		}
		if e.Start < last {
			return "", fmt.Errorf("edit [%d,%d) overlaps a previous edit ending at %d", e.Start, e.End, last)
		}
		b.WriteString(src[last:e.Start])
		b.WriteString(e.Text)
		last = e.End
	}
	b.WriteString(src[last:])
	return b.String(), nil
}
