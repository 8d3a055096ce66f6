package model

import "strings"

// Segment is a contiguous slice of job content with a stable position
type Segment struct {
	Index int
	Text  string
	// Trailing is the separator that followed the segment in the source
	Trailing string
}

// Batch is the unit of concurrent execution and of retry
type Batch struct {
	Index    int
	Start    int // first segment index, inclusive
	End      int // last segment index, exclusive
	Segments []Segment
}

// Texts returns the segment texts in order
func (b Batch) Texts() []string {
	texts := make([]string, len(b.Segments))
	for i, s := range b.Segments {
		texts[i] = s.Text
	}
	return texts
}

// Chars counts the runes across all segments
func (b Batch) Chars() int {
	n := 0
	for _, s := range b.Segments {
		n += len([]rune(s.Text))
	}
	return n
}

// Join stitches translations aligned with the batch's segments back together
// using each segment's trailing separator. The final segment's separator is
// included so that consecutive batches concatenate cleanly.
func (b Batch) Join(translations []string) string {
	var sb strings.Builder
	for i, t := range translations {
		sb.WriteString(t)
		if i < len(b.Segments) {
			sb.WriteString(b.Segments[i].Trailing)
		}
	}
	return sb.String()
}

// BatchResult is the resolved outcome of one batch
type BatchResult struct {
	Index        int
	Translations []string
	Text         string
	Attempts     int
	Err          error
}

// OK reports whether the batch succeeded
func (r BatchResult) OK() bool {
	return r.Err == nil
}
