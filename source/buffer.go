// Package source concatenates template input files into a single buffer
// and tracks the (file, line) each byte originated from.
package source

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Position identifies a single point in the original, pre-concatenation
// input: which file, and which line within it.
type Position struct {
	File string
	Line int
}

// fileRange is one entry of the file map: a contiguous, non-overlapping
// byte range of the concatenated buffer, and the line numbers it spans.
type fileRange struct {
	file               string
	byteBegin, byteEnd int
	lineBegin, lineEnd int
}

// Buffer is the read-only, once-constructed concatenation of every input
// file, plus the file map used to translate a byte offset back to a
// source position.
type Buffer struct {
	data    string
	ranges  []fileRange
	index   int
	marks   []int
}

// New concatenates files in order. Each file's content is appended
// verbatim; a trailing newline is added if the file doesn't already end
// with one, so the invariant "every file ends with a newline" holds
// without requiring callers to massage their input.
func New(files []NamedContent) *Buffer {
	var b strings.Builder
	ranges := make([]fileRange, 0, len(files))

	byteOff := 0
	lineOff := 1
	for _, f := range files {
		content := f.Content
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		b.WriteString(content)

		lines := strings.Count(content, "\n")
		ranges = append(ranges, fileRange{
			file:      f.Name,
			byteBegin: byteOff,
			byteEnd:   byteOff + len(content),
			lineBegin: lineOff,
			lineEnd:   lineOff + lines,
		})
		byteOff += len(content)
		lineOff += lines
	}

	return &Buffer{data: b.String(), ranges: ranges}
}

// NamedContent is one input file: its logical name (used in diagnostics
// and #line pragmas) and its raw content.
type NamedContent struct {
	Name    string
	Content string
}

// Length returns the total size of the concatenated buffer in bytes.
func (b *Buffer) Length() int { return len(b.data) }

// Index returns the current byte offset.
func (b *Buffer) Index() int { return b.index }

// HasNext reports whether there is at least one more byte to read.
func (b *Buffer) HasNext() bool { return b.index < len(b.data) }

// Current returns the byte at the current index, or 0 at end of input.
func (b *Buffer) Current() byte {
	if b.index >= len(b.data) {
		return 0
	}
	return b.data[b.index]
}

// Next advances by one byte and returns the new current byte.
func (b *Buffer) Next() byte {
	b.Move(1)
	return b.Current()
}

// Move advances (or, with a negative offset, rewinds) the index by
// offset bytes. Moving outside [0, Length()] is a programming error
// and panics rather than silently clamping.
func (b *Buffer) Move(offset int) {
	next := b.index + offset
	if next < 0 || next > len(b.data) {
		panic(errors.Errorf("source: move out of range: index=%d offset=%d length=%d", b.index, offset, len(b.data)))
	}
	b.index = next
}

// MoveTo sets the index directly. Out-of-range targets panic, as with Move.
func (b *Buffer) MoveTo(pos int) {
	if pos < 0 || pos > len(b.data) {
		panic(errors.Errorf("source: move_to out of range: pos=%d length=%d", pos, len(b.data)))
	}
	b.index = pos
}

// Substr returns length bytes starting at beg.
func (b *Buffer) Substr(beg, length int) string {
	return b.data[beg : beg+length]
}

// Slice returns the half-open byte range [beg, end).
func (b *Buffer) Slice(beg, end int) string {
	return b.data[beg:end]
}

// RightUntilEnd returns everything from the current index to the end.
func (b *Buffer) RightUntilEnd() string {
	return b.data[b.index:]
}

// CompareHead reports whether other occurs at the current index.
func (b *Buffer) CompareHead(other string) bool {
	return b.Compare(b.index, other)
}

// Compare reports whether other occurs at byte offset beg.
func (b *Buffer) Compare(beg int, other string) bool {
	if len(b.data)-beg < len(other) {
		return false
	}
	return b.data[beg:beg+len(other)] == other
}

// FindOnRight returns the byte offset of the first occurrence of token
// at or after the current index, or -1 if it does not occur.
func (b *Buffer) FindOnRight(token string) int {
	idx := strings.Index(b.data[b.index:], token)
	if idx < 0 {
		return -1
	}
	return b.index + idx
}

// RightContext returns up to length bytes starting at (and including)
// the current index — used to render the right half of a diagnostic
// window.
func (b *Buffer) RightContext(length int) string {
	return b.RightContextTo(min(b.index+length, len(b.data)))
}

// RightContextTo returns the bytes from the current index up to end.
func (b *Buffer) RightContextTo(end int) string {
	if end > len(b.data) {
		end = len(b.data)
	}
	return b.data[b.index:end]
}

// LeftContext returns up to length bytes immediately before the current
// index, not including it.
func (b *Buffer) LeftContext(length int) string {
	return b.LeftContextFrom(max(b.index-length, 0))
}

// LeftContextFrom returns the bytes from beg up to (not including) the
// current index.
func (b *Buffer) LeftContextFrom(beg int) string {
	if beg < 0 {
		beg = 0
	}
	return b.data[beg:b.index]
}

// Mark pushes the current index onto the mark stack, for later
// recovery via RightFromMark.
func (b *Buffer) Mark() {
	b.marks = append(b.marks, b.index)
}

// Unmark pops the mark stack without using it.
func (b *Buffer) Unmark() {
	b.marks = b.marks[:len(b.marks)-1]
}

// GetMark returns the top of the mark stack without popping it.
func (b *Buffer) GetMark() int {
	return b.marks[len(b.marks)-1]
}

// RightFromMark pops the mark stack and returns the text spanned from
// the mark to the current index.
func (b *Buffer) RightFromMark() string {
	mark := b.marks[len(b.marks)-1]
	b.marks = b.marks[:len(b.marks)-1]
	return b.data[mark:b.index]
}

// Position returns the (file, line) of the current index. The boundary
// case index == Length() resolves to the last file.
func (b *Buffer) Position() Position {
	return b.PositionAt(b.index)
}

// PositionAt returns the (file, line) of an arbitrary byte offset.
func (b *Buffer) PositionAt(index int) Position {
	if len(b.ranges) == 0 {
		return Position{}
	}
	for i, r := range b.ranges {
		if index < r.byteEnd || i == len(b.ranges)-1 {
			line := 1 + strings.Count(b.data[r.byteBegin:index], "\n")
			return Position{File: r.file, Line: line}
		}
	}
	last := b.ranges[len(b.ranges)-1]
	return Position{File: last.file, Line: last.lineEnd}
}

// Hash returns the MD5 checksum of the concatenated buffer, hex
// encoded. Build tooling compares it across runs to skip recompiling
// unchanged inputs.
func (b *Buffer) Hash() string {
	sum := md5.Sum([]byte(b.data))
	return hex.EncodeToString(sum[:])
}

// Reset moves the index to an absolute byte offset. Used to reseek for
// diagnostics raised after the scan position has moved on.
func (b *Buffer) Reset(index int) {
	b.MoveTo(index)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
