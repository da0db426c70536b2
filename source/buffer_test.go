package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_ConcatenatesAndAppendsMissingNewline(t *testing.T) {
	b := New([]NamedContent{
		{Name: "a.tmpl", Content: "one"},
		{Name: "b.tmpl", Content: "two\n"},
	})

	assert.Equal(t, "one\ntwo\n", b.Slice(0, b.Length()))
}

func TestBuffer_PositionTracksFileAndLine(t *testing.T) {
	b := New([]NamedContent{
		{Name: "a.tmpl", Content: "l1\nl2\n"},
		{Name: "b.tmpl", Content: "l1\nl2\nl3\n"},
	})

	require.Equal(t, Position{File: "a.tmpl", Line: 1}, b.PositionAt(0))
	require.Equal(t, Position{File: "a.tmpl", Line: 2}, b.PositionAt(3))

	bLineOneStart := len("l1\nl2\n")
	assert.Equal(t, Position{File: "b.tmpl", Line: 1}, b.PositionAt(bLineOneStart))
}

func TestBuffer_PositionAtEndOfBufferIsLastFile(t *testing.T) {
	b := New([]NamedContent{
		{Name: "a.tmpl", Content: "x\n"},
		{Name: "b.tmpl", Content: "y\n"},
	})

	pos := b.PositionAt(b.Length())
	assert.Equal(t, "b.tmpl", pos.File)
}

func TestBuffer_MoveOutOfRangePanics(t *testing.T) {
	b := New([]NamedContent{{Name: "a.tmpl", Content: "abc\n"}})

	assert.Panics(t, func() { b.Move(-1) })
	assert.Panics(t, func() { b.Move(1000) })
}

func TestBuffer_CompareHeadAndFindOnRight(t *testing.T) {
	b := New([]NamedContent{{Name: "a.tmpl", Content: "hello <% world %>\n"}})

	assert.True(t, b.CompareHead("hello"))
	idx := b.FindOnRight("<%")
	require.NotEqual(t, -1, idx)
	b.MoveTo(idx)
	assert.True(t, b.CompareHead("<%"))
}

func TestBuffer_MarkStackCapturesSpan(t *testing.T) {
	b := New([]NamedContent{{Name: "a.tmpl", Content: "abcdef\n"}})

	b.Mark()
	b.Move(3)
	span := b.RightFromMark()
	assert.Equal(t, "abc", span)
}

func TestBuffer_HashChangesWithContent(t *testing.T) {
	a := New([]NamedContent{{Name: "a.tmpl", Content: "one\n"}})
	same := New([]NamedContent{{Name: "b.tmpl", Content: "one\n"}})
	other := New([]NamedContent{{Name: "a.tmpl", Content: "two\n"}})

	require.Len(t, a.Hash(), 32)
	assert.Equal(t, a.Hash(), same.Hash(), "hash depends on content, not file names")
	assert.NotEqual(t, a.Hash(), other.Hash())
}

func TestBuffer_ContextWindows(t *testing.T) {
	b := New([]NamedContent{{Name: "a.tmpl", Content: "0123456789\n"}})

	b.MoveTo(5)
	assert.Equal(t, "01234", b.LeftContext(5))
	assert.Equal(t, "56789", b.RightContext(5))
}
