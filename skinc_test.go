package skinc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var minimal = []File{{
	Name: "page.tmpl",
	Content: `<% skin %><% view x uses data::t %><% template render() %>Hello<% end template %><% end view %><% end skin %>`,
}}

func TestCompile_EmitsViewClass(t *testing.T) {
	out, warnings, err := Compile(minimal, Options{Skin: "site"})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Contains(t, out, "namespace site {")
	assert.Contains(t, out, "struct x:public cppcms::base_view")
	assert.Contains(t, out, `out() << "Hello";`)
}

func TestCompile_ParseErrorPropagates(t *testing.T) {
	_, _, err := Compile([]File{{Name: "bad.tmpl", Content: "stray %> here"}}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected %>")
}

func TestDumpAST_RendersDirectiveTree(t *testing.T) {
	out, _, err := DumpAST(minimal)
	require.NoError(t, err)
	assert.Contains(t, out, "skin __default__")
	assert.Contains(t, out, "view x uses data::t")
}

func TestParseFiles_ReportsDeprecatedSyntax(t *testing.T) {
	files := []File{{
		Name:    "warn.tmpl",
		Content: `<% skin s %><% view x uses data::t %><% template render() %><% name %><% end template %><% end view %><% end skin %>`,
	}}
	_, warnings, err := ParseFiles(files)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.True(t, strings.Contains(warnings[0], "deprecated"))
}
