package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScope struct {
	prefix string
	scoped map[string]bool
}

func (f fakeScope) VariablePrefix() string { return f.prefix }
func (f fakeScope) CheckScopeVariable(name string) bool { return f.scoped[name] }

func TestNumber_ReprAndCode(t *testing.T) {
	n := MakeNumber("-1.5")
	assert.Equal(t, "-1.5", n.Repr())
	assert.Equal(t, "-1.5", n.Code(fakeScope{}))
	f, err := n.Float()
	require.NoError(t, err)
	assert.Equal(t, -1.5, f)
}

func TestString_CompressDoublesRawBackslashes(t *testing.T) {
	// compressString guards a raw backslash (one not already escaping a
	// quote) by doubling it, so a later unescape pass recovers the
	// original two source characters instead of misreading them.
	s := MakeString(`"hi\nthere"`)
	assert.Equal(t, `"hi\\nthere"`, s.Repr())
}

func TestString_UnescapedRoundTripsCompressedForm(t *testing.T) {
	s := MakeString(`"hi\nthere"`)
	assert.Equal(t, `"hi\nthere"`, s.Unescaped())
}

func TestDecodeEscapedString_InterpretsControlEscapes(t *testing.T) {
	assert.Equal(t, "a\nb\tc", decodeEscapedString(`a\nb\tc`))
}

func TestDecodeEscapedString_HexAndOctal(t *testing.T) {
	assert.Equal(t, "A", decodeEscapedString(`\x41`))
	assert.Equal(t, "A", decodeEscapedString(`\101`))
}

func TestString_PreservesAlreadyEscapedQuote(t *testing.T) {
	s := MakeString(`"a\"b"`)
	assert.Equal(t, `"a\"b"`, s.Repr())
}

func TestText_WrapsInQuotesAndEscapesControlChars(t *testing.T) {
	txt := MakeText("a\tb\"c")
	assert.Equal(t, `"a\tb\"c"`, txt.Repr())
}

func TestVariable_DottedChainWithCall(t *testing.T) {
	v := MakeVariable("data.point.x()")
	assert.Equal(t, KindVariable, v.Kind())
	scope := fakeScope{prefix: "content.", scoped: map[string]bool{}}
	assert.Equal(t, "content.data.point.x()", v.Code(scope))
}

func TestVariable_FirstPartHonorsScope(t *testing.T) {
	v := MakeVariable("foo.bar")
	scope := fakeScope{prefix: "content.", scoped: map[string]bool{"foo": true}}
	assert.Equal(t, "foo.bar", v.Code(scope))
}

func TestVariable_ArrowSeparatorAndDeref(t *testing.T) {
	v := MakeVariable("*data->point")
	assert.True(t, v.IsDeref)
	scope := fakeScope{prefix: "", scoped: map[string]bool{}}
	assert.Equal(t, "*data->point", v.Code(scope))
}

func TestVariable_NestedCallArguments(t *testing.T) {
	v := MakeVariable(`foo(1, "two", bar.baz)`)
	scope := fakeScope{prefix: "content.", scoped: map[string]bool{}}
	got := v.Code(scope)
	assert.Contains(t, got, "content.foo(")
	assert.Contains(t, got, `"two"`)
	assert.Contains(t, got, "content.bar.baz")
}

func TestVariable_MalformedInputPanics(t *testing.T) {
	assert.Panics(t, func() { MakeVariable("foo bar") })
}

func TestCallList_SplitsArgumentsAndEmitsPrefix(t *testing.T) {
	cl := MakeCallList(`escape("x", 3)`, "cppcms::filters::")
	scope := fakeScope{}
	assert.Equal(t, "cppcms::filters::escape(  \"x\", 3)", cl.Code(scope))
}

func TestCallList_NoParensHasNoArguments(t *testing.T) {
	cl := MakeCallList("now", "cppcms::filters::")
	assert.Empty(t, cl.Arguments)
}

func TestCallList_ArgumentPrependsImplicitFirst(t *testing.T) {
	cl := MakeCallList("escape()", "cppcms::filters::").Argument("subject")
	assert.Equal(t, "cppcms::filters::escape(  subject)", cl.Code(fakeScope{}))
}

func TestFilter_ExtPrefixUsesVariablePrefix(t *testing.T) {
	f := MakeFilter("ext my_filter(5)")
	assert.True(t, f.IsExp())
	scope := fakeScope{prefix: "content."}
	assert.Contains(t, f.Code(scope), "content.my_filter(")
}

func TestFilter_NonExtUsesFiltersNamespace(t *testing.T) {
	f := MakeFilter("escape")
	assert.False(t, f.IsExp())
	assert.Contains(t, f.Code(fakeScope{}), "cppcms::filters::escape(")
}

func TestParamList_ReprIsTrimmedValue(t *testing.T) {
	pl := MakeParamList(" int a, string b ", []Param{
		{Type: MakeIdentifier("int"), Name: MakeName("a")},
		{Type: MakeIdentifier("string"), Name: MakeName("b")},
	})
	assert.Equal(t, "int a, string b", pl.Repr())
	assert.Len(t, pl.Params, 2)
}

func TestName_Less(t *testing.T) {
	assert.True(t, MakeName("a").Less(MakeName("b")))
}
