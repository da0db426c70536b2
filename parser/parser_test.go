package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codingersid/skinc/ast"
	"github.com/codingersid/skinc/scanner"
	"github.com/codingersid/skinc/source"
)

const (
	prologue = `<% skin s %><% view page uses data::page %><% template render() %>`
	epilogue = `<% end template %><% end view %><% end skin %>`
)

func parse(t *testing.T, content string) (*Result, error) {
	t.Helper()
	return Parse([]source.NamedContent{{Name: "t.tmpl", Content: content}})
}

func parseBody(t *testing.T, body string) (*Result, error) {
	t.Helper()
	return parse(t, prologue+body+epilogue)
}

func dump(t *testing.T, res *Result) string {
	t.Helper()
	var b strings.Builder
	ast.Dump(res.Tree, res.Tree.Root.ID(), &b, 0)
	return b.String()
}

func TestParse_MinimalSkinViewTemplate(t *testing.T) {
	res, err := parseBody(t, "Hello")
	require.NoError(t, err)
	require.Empty(t, res.Warnings)

	out := dump(t, res)
	assert.Contains(t, out, "skin s with 1 views")
	assert.Contains(t, out, "view page uses data::page with 1 templates")
	assert.Contains(t, out, "template render with 1 children")
	assert.Contains(t, out, `text: "Hello"`)
}

func TestParse_UnnamedSkinDefaults(t *testing.T) {
	res, err := parse(t, `<% skin %><% end skin %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), "skin __default__")
}

func TestParse_EchoWithFilterChainKeepsSourceOrder(t *testing.T) {
	res, err := parseBody(t, `<%= name | upper | escape %>`)
	require.NoError(t, err)
	out := dump(t, res)
	assert.Contains(t, out, "variable: name with filters:")
	upperAt := strings.Index(out, "| upper")
	escapeAt := strings.Index(out, "| escape")
	require.NotEqual(t, -1, upperAt)
	require.NotEqual(t, -1, escapeAt)
	assert.Less(t, upperAt, escapeAt, "filters keep source order")
}

func TestParse_DeprecatedBareVariableWarns(t *testing.T) {
	res, err := parseBody(t, `<% name %>`)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "deprecated")
	assert.Contains(t, dump(t, res), "variable: name without filters")
}

func TestParse_StrayCloseTagIsError(t *testing.T) {
	_, err := parse(t, "hello %> world")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected %>")
}

func TestParse_StrayCloseTagBeforeDirectiveIsError(t *testing.T) {
	_, err := parse(t, "a %> b <% skin s %><% end skin %>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected %>")
}

func TestParse_ViewOutsideSkinIsError(t *testing.T) {
	_, err := parse(t, `<% view page uses data::page %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "view must be inside skin")
}

func TestParse_ElifWithoutIfIsError(t *testing.T) {
	_, err := parseBody(t, `<% elif x %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'elif' without a matching 'if'")
}

func TestParse_ElseWithoutIfIsError(t *testing.T) {
	_, err := parseBody(t, `<% else %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'else' without a matching 'if'")
}

func TestParse_IfElifElseChain(t *testing.T) {
	res, err := parseBody(t, `<% if a %>A<% elif b %>B<% else %>C<% end if %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), "if with 3 branches")
}

func TestParse_IfConditionAndOrChain(t *testing.T) {
	res, err := parseBody(t, `<% if not empty a and empty b or c %>X<% end if %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), "if with 1 branches")
}

func TestParse_CppConditionMayNotChain(t *testing.T) {
	_, err := parseBody(t, `<% if (a && b) and c %>X<% end if %>`)
	require.Error(t, err)
}

func TestParse_IfChainCppTermIsRejected(t *testing.T) {
	_, err := parseBody(t, `<% if not empty a and empty b or (cexpr) %>X<% end if %>`)
	require.Error(t, err)
}

func TestParse_ForeachWithAllParts(t *testing.T) {
	res, err := parseBody(t,
		`<% foreach x in items %>pre<% item %><%= x %><% end item %>`+
			`<% separator %>,<% empty %>none<% end foreach %>`)
	require.NoError(t, err)
	out := dump(t, res)
	assert.Contains(t, out, "foreach x in items")
}

func TestParse_ForeachRowidFromReverse(t *testing.T) {
	_, err := parseBody(t,
		`<% foreach x as data::row rowid n from 5 reverse in items %><% item %><% end item %><% end foreach %>`)
	require.NoError(t, err)
}

func TestParse_ItemWithoutForeachIsError(t *testing.T) {
	_, err := parseBody(t, `<% item %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'item' without a matching 'foreach'")
}

func TestParse_ForeachWithoutItemRejectedAtClose(t *testing.T) {
	_, err := parseBody(t, `<% foreach x in items %><% end foreach %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreach without <% item %>")
}

func TestParse_EndNameMismatchIsError(t *testing.T) {
	_, err := parse(t, prologue+`<% end foreach %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 'end template'")
}

func TestParse_MismatchErrorCarriesObjectStack(t *testing.T) {
	_, err := parse(t, prologue+`<% end foreach %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open: template < view < skin")
	assert.Contains(t, err.Error(), "missing 'end'")
}

func TestParse_CacheDirectiveOptions(t *testing.T) {
	res, err := parseBody(t, `<% cache "k" for 60 on miss rebuild() no triggers no recording %>X<% end cache %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), `cache "k"`)
}

func TestParse_TriggerOutsideCacheIsError(t *testing.T) {
	_, err := parseBody(t, `<% trigger "t" %>`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'trigger' without a matching 'cache'")
}

func TestParse_CacheUnclosedAtEOFIsError(t *testing.T) {
	_, err := parse(t, prologue+`<% cache "k" for 60 %>X`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected end of input")
}

func TestParse_UnterminatedStringIsParseError(t *testing.T) {
	_, err := parseBody(t, `<% gt "unterminated %>`+"\n")
	require.Error(t, err)
	_, ok := err.(*scanner.Error)
	require.True(t, ok, "want a scanner parse error, got %T", err)
}

func TestParse_FmtFunctionsWithUsingOptions(t *testing.T) {
	res, err := parseBody(t,
		`<% gt "Hello %1%" using who | upper %>`+
			`<% url "/page" using id %>`+
			`<% format "x=%1%" using x %>`+
			`<% rformat "y=%1%" using y %>`)
	require.NoError(t, err)
	out := dump(t, res)
	assert.Contains(t, out, `fmt function gt: "Hello %1%"`)
	assert.Contains(t, out, `fmt function url: "/page"`)
}

func TestParse_Ngt(t *testing.T) {
	res, err := parseBody(t, `<% ngt "one item", "many items", count %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), `fmt function ngt: "one item"/"many items" with variable count`)
}

func TestParse_IncludeFromAndUsing(t *testing.T) {
	res, err := parseBody(t,
		`<% include inner() from base %>`+
			`<% include header(title) using shared::menu with submenu %>`)
	require.NoError(t, err)
	out := dump(t, res)
	assert.Contains(t, out, "include inner() from base")
	assert.Contains(t, out, "include header(title) using shared::menu")
}

func TestParse_UsingBlock(t *testing.T) {
	res, err := parseBody(t, `<% using shared::menu with submenu as m %><%= m %><% end using %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), "using view type shared::menu as m")
}

func TestParse_FormStylesAndBlockClose(t *testing.T) {
	res, err := parseBody(t,
		`<% form as_p login %>`+
			`<% form block login %>inner<% form end %>`)
	require.NoError(t, err)
	out := dump(t, res)
	assert.Contains(t, out, "form style = as_p")
	assert.Contains(t, out, "form style = block")
}

func TestParse_CsrfStyles(t *testing.T) {
	res, err := parseBody(t, `<% csrf %><% csrf token %><% csrf script %><% csrf cookie %>`)
	require.NoError(t, err)
	out := dump(t, res)
	assert.Contains(t, out, "csrf style = (default)")
	assert.Contains(t, out, "csrf style = token")
}

func TestParse_RenderWithSkinAndWith(t *testing.T) {
	res, err := parseBody(t, `<% render "other", view_name with sub %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), "render view = view_name")
}

func TestParse_CppBlocks(t *testing.T) {
	res, err := parse(t,
		`<% c++ #include "data.h" %>`+prologue+`<% c++ int x = 0; %>`+epilogue)
	require.NoError(t, err)
	out := dump(t, res)
	assert.Contains(t, out, "root with 1 codes")
	assert.Contains(t, out, `c++:  int x = 0; `)
}

func TestParse_OutputModeDirective(t *testing.T) {
	res, err := parse(t, `<% xhtml %>`+prologue+epilogue)
	require.NoError(t, err)
	assert.Equal(t, "xhtml", res.Tree.Root.Mode())
}

func TestParse_TemplateWithTypeParamsAndTypedParams(t *testing.T) {
	res, err := parse(t,
		`<% skin s %><% view page uses data::page %>`+
			`<% template show<Filter> (std::string const &msg, int n) %>x<% end template %>`+
			`<% end view %><% end skin %>`)
	require.NoError(t, err)
	assert.Contains(t, dump(t, res), "template show with 1 children")
}

func TestParse_ToleratedCloseSpelling(t *testing.T) {
	_, err := parseBody(t, `<% gt "hi" % >`)
	require.NoError(t, err)
}

func TestParse_WhitespaceBetweenTopLevelDirectivesDiscarded(t *testing.T) {
	_, err := parse(t, "<% skin s %>\n  <% view page uses data::page %>\n<% template render() %>Hi<% end template %>\n<% end view %>\n<% end skin %>\n")
	require.NoError(t, err)
}

func TestParse_PositionsSpanFiles(t *testing.T) {
	_, err := Parse([]source.NamedContent{
		{Name: "a.tmpl", Content: "<% skin s %>\n"},
		{Name: "b.tmpl", Content: "text %> oops\n"},
	})
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, "b.tmpl", perr.Pos.File)
	assert.Equal(t, 1, perr.Pos.Line)
}

func TestParse_ReparseOfDumpedDirectivesKeepsShape(t *testing.T) {
	body := `<% if a %><%= x | upper %><% else %>B<% end if %>`
	first, err := parseBody(t, body)
	require.NoError(t, err)
	second, err := parseBody(t, body)
	require.NoError(t, err)
	assert.Equal(t, dump(t, first), dump(t, second))
}
