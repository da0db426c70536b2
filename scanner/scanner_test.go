package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codingersid/skinc/source"
)

func newScanner(t *testing.T, content string) *Scanner {
	t.Helper()
	buf := source.New([]source.NamedContent{{Name: "t.tmpl", Content: content}})
	return New(buf)
}

func TestScanner_TryTokenAdvancesAndPushes(t *testing.T) {
	s := newScanner(t, "<% if %>")
	s.TryToken("<%")
	require.True(t, s.OK())
	assert.Equal(t, "<%", s.Get(-1))
	assert.Equal(t, 2, s.Buffer().Index())
}

func TestScanner_TryTokenFailsWithoutConsuming(t *testing.T) {
	s := newScanner(t, "hello\n")
	s.TryToken("goodbye")
	assert.True(t, s.Failed())
	assert.Equal(t, 0, s.Buffer().Index())
}

func TestScanner_PushResetPopRetriesAlternative(t *testing.T) {
	s := newScanner(t, "= foo\n")
	s.Push()
	s.TryToken("==")
	assert.True(t, s.Failed())
	s.Reset()
	s.TryToken("=")
	assert.True(t, s.OK())
	s.Pop()
	assert.Equal(t, 1, s.Buffer().Index())
}

func TestScanner_BackUndoesFailedAttempt(t *testing.T) {
	s := newScanner(t, "name\n")
	s.TryName()
	require.True(t, s.OK())
	s.TryToken("::")
	assert.True(t, s.Failed())
	s.Back(1)
	assert.False(t, s.Failed())
	assert.Equal(t, "name", s.Get(-1))
}

func TestScanner_CompressCollapsesSinceLastPush(t *testing.T) {
	s := newScanner(t, "a.b.c\n")
	s.Push()
	s.TryName()
	s.TryToken(".")
	s.TryName()
	s.Compress()
	assert.Equal(t, "a.b", s.Get(-1))
}

func TestScanner_TryName(t *testing.T) {
	s := newScanner(t, "_foo123 bar\n")
	s.TryName()
	require.True(t, s.OK())
	assert.Equal(t, "_foo123", s.Get(-1))
}

func TestScanner_TryNameFailsOnLeadingDigit(t *testing.T) {
	s := newScanner(t, "9abc\n")
	s.TryName()
	assert.True(t, s.Failed())
}

func TestScanner_TryStringHonorsEscapes(t *testing.T) {
	s := newScanner(t, `"a\"b" rest` + "\n")
	s.TryString()
	require.True(t, s.OK())
	assert.Equal(t, `"a\"b"`, s.Get(-1))
}

func TestScanner_TryStringUnterminatedRaises(t *testing.T) {
	s := newScanner(t, `"unterminated`+"\n")
	assert.Panics(t, func() { s.TryString() })
}

func TestScanner_TryNumber(t *testing.T) {
	cases := []string{"123", "-1.5", "+7", "0.25"}
	for _, c := range cases {
		s := newScanner(t, c+" \n")
		s.TryNumber()
		require.Truef(t, s.OK(), "case %q", c)
		assert.Equal(t, c, s.Get(-1))
	}
}

func TestScanner_TryVariableChainAndCall(t *testing.T) {
	s := newScanner(t, "data->point.x() rest\n")
	s.TryVariable()
	require.True(t, s.OK())
	assert.Equal(t, "data->point.x()", s.Get(-1))
}

func TestScanner_TryVariableLeadingStar(t *testing.T) {
	s := newScanner(t, "*foo.bar\n")
	s.TryVariable()
	require.True(t, s.OK())
	assert.Equal(t, "*foo.bar", s.Get(-1))
}

func TestScanner_TryIdentifierScopeChain(t *testing.T) {
	s := newScanner(t, "data::page rest\n")
	s.TryIdentifier()
	require.True(t, s.OK())
	assert.Equal(t, "data::page", s.Get(-1))
}

func TestScanner_TryComplexVariableWithFilters(t *testing.T) {
	s := newScanner(t, `foo.bar | escape | truncate(10)` + "\n")
	s.TryComplexVariable()
	require.True(t, s.OK())
	assert.True(t, s.HasDetails())
}

func TestScanner_TryArgumentListEmpty(t *testing.T) {
	s := newScanner(t, "() rest\n")
	s.TryArgumentList()
	require.True(t, s.OK())
	assert.Equal(t, "()", s.Get(-1))
}

func TestScanner_TryArgumentListMixedKinds(t *testing.T) {
	s := newScanner(t, `(foo.bar, "str", 42) rest`+"\n")
	s.TryArgumentList()
	require.True(t, s.OK())
	assert.Equal(t, `(foo.bar, "str", 42)`, s.Get(-1))
}

func TestScanner_TryArgumentListAbsentParenMatchesEmpty(t *testing.T) {
	s := newScanner(t, "rest\n")
	s.TryArgumentList()
	require.True(t, s.OK())
	assert.Equal(t, "", s.Get(-1))
}

func TestScanner_TryParamListNames(t *testing.T) {
	s := newScanner(t, "(a, b, c) rest\n")
	s.TryParamList()
	require.True(t, s.OK())
	assert.Equal(t, "(a, b, c)", s.Get(-1))
}

func TestScanner_SkipToFindsToken(t *testing.T) {
	s := newScanner(t, "hello <% world %>\n")
	s.SkipTo("<%")
	require.True(t, s.OK())
	assert.Equal(t, "hello ", s.Get(-2))
	assert.Equal(t, "<%", s.Get(-1))
}

func TestScanner_SkipToMissingTokenFailsByTwo(t *testing.T) {
	s := newScanner(t, "no directive here\n")
	s.SkipTo("<%")
	assert.True(t, s.Failed())
	assert.Equal(t, 2, s.failed)
}

func TestScanner_SkipWSRequireFailsOnNone(t *testing.T) {
	s := newScanner(t, "nospace\n")
	s.SkipWS(true)
	assert.True(t, s.Failed())
}

func TestScanner_TryParenthesisExpressionBalancesNestedAndStrings(t *testing.T) {
	s := newScanner(t, `(foo(1, ")") + 'x)')` + " rest\n")
	s.TryParenthesisExpression()
	require.True(t, s.OK())
	assert.Equal(t, `(foo(1, ")") + 'x)')`, s.Get(-1))
}

func TestScanner_TryCloseExpressionAllowsLeadingWhitespace(t *testing.T) {
	s := newScanner(t, "   %> rest\n")
	s.TryCloseExpression()
	require.True(t, s.OK())
	assert.Equal(t, 5, s.Buffer().Index())
}

func TestScanner_FinishedAtEndOfBuffer(t *testing.T) {
	s := newScanner(t, "abc\n")
	assert.False(t, s.Finished())
	s.SkipToEnd()
	assert.True(t, s.Finished())
}

func TestScanner_TryNumberHex(t *testing.T) {
	s := newScanner(t, "0x1F rest\n")
	s.TryNumber()
	require.True(t, s.OK())
	assert.Equal(t, "0x1F", s.Get(-1))
}

func TestScanner_TryNumberSignedHex(t *testing.T) {
	s := newScanner(t, "-0x2a \n")
	s.TryNumber()
	require.True(t, s.OK())
	assert.Equal(t, "-0x2a", s.Get(-1))
}

func TestScanner_TryVariableNumberSubscript(t *testing.T) {
	s := newScanner(t, "items[0].name rest\n")
	s.TryVariable()
	require.True(t, s.OK())
	assert.Equal(t, "items[0].name", s.Get(-1))
}

func TestScanner_TryVariableVariableSubscript(t *testing.T) {
	s := newScanner(t, "m[k.id] rest\n")
	s.TryVariable()
	require.True(t, s.OK())
	assert.Equal(t, "m[k.id]", s.Get(-1))
}

func TestScanner_TryVariableFirstPartCallArguments(t *testing.T) {
	s := newScanner(t, `row(1, "two").title rest` + "\n")
	s.TryVariable()
	require.True(t, s.OK())
	assert.Equal(t, `row(1, "two").title`, s.Get(-1))
}

func TestScanner_TryVariableUnclosedSubscriptRaises(t *testing.T) {
	s := newScanner(t, "items[0 rest\n")
	assert.Panics(t, func() { s.TryVariable() })
}

func TestScanner_TryIdentifierTemplateArguments(t *testing.T) {
	s := newScanner(t, "std::vector<int> rest\n")
	s.TryIdentifier()
	require.True(t, s.OK())
	assert.Equal(t, "std::vector<int>", s.Get(-1))
}

func TestScanner_TryIdentifierNestedTemplateArguments(t *testing.T) {
	s := newScanner(t, "std::map<std::string,int> rest\n")
	s.TryIdentifier()
	require.True(t, s.OK())
	assert.Equal(t, "std::map<std::string,int>", s.Get(-1))
}

func TestScanner_FilterArgumentDetailsDoNotLeak(t *testing.T) {
	s := newScanner(t, "x | truncate(10)\n")
	s.TryComplexVariable()
	require.True(t, s.OK())

	// exactly two details survive: the variable name (pushed last) and
	// one filter entry; the filter's own argument details stay internal
	name := s.PopDetail()
	assert.Equal(t, "complex_variable_name", name.What)
	assert.Equal(t, "x", name.Item)
	filter := s.PopDetail()
	assert.Equal(t, "complex_variable", filter.What)
	assert.Equal(t, "truncate(10)", filter.Item)
	assert.False(t, s.HasDetails())
}

func TestScanner_RaiseProducesContextWindow(t *testing.T) {
	s := newScanner(t, "abc\n")
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*Error)
		require.True(t, ok)
		assert.Equal(t, "unexpected token", err.Message)
	}()
	s.Raise("unexpected token")
}
