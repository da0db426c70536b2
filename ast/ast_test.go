package ast

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codingersid/skinc/expr"
	"github.com/codingersid/skinc/source"
)

func pos(line int) source.Position {
	return source.Position{File: "t.tmpl", Line: line}
}

// buildView allocates root -> skin -> view -> template and returns the
// tree plus the template's ID, the starting point most tests need.
func buildView(t *testing.T) (*Tree, ID) {
	t.Helper()
	tree := New()
	tree.AddSkin("myskin", pos(1))
	viewID, err := tree.AddView("page", pos(2), "data::page", "")
	require.NoError(t, err)
	tplID, err := tree.AddTemplate(viewID, "render", pos(3), nil, nil)
	require.NoError(t, err)
	return tree, tplID
}

func TestAddView_RequiresOpenSkin(t *testing.T) {
	tree := New()
	_, err := tree.AddView("page", pos(1), "data::page", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "view must be inside skin")
}

func TestEnd_ReturnsParentForMatchingName(t *testing.T) {
	tree, tplID := buildView(t)

	next, err := tree.End(tplID, "template", pos(4))
	require.NoError(t, err)
	view := tree.Get(next)
	assert.Equal(t, KindView, view.Kind())

	next, err = tree.End(next, "view", pos(5))
	require.NoError(t, err)
	assert.Equal(t, KindRoot, tree.Get(next).Kind())

	next, err = tree.End(next, "skin", pos(6))
	require.NoError(t, err)
	assert.Equal(t, tree.Root.ID(), next)
}

func TestEnd_EmptyNameClosesInnermost(t *testing.T) {
	tree, tplID := buildView(t)
	next, err := tree.End(tplID, "", pos(4))
	require.NoError(t, err)
	assert.Equal(t, KindView, tree.Get(next).Kind())
}

func TestEnd_MismatchedNameErrors(t *testing.T) {
	tree, tplID := buildView(t)
	_, err := tree.End(tplID, "view", pos(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 'end template'")
}

func TestEnd_AtRootWithNothingOpenErrors(t *testing.T) {
	tree := New()
	_, err := tree.End(tree.Root.ID(), "", pos(1))
	require.Error(t, err)
}

func TestAddStatement_RejectsLiteralOutsideChildrenAcceptingNode(t *testing.T) {
	tree := New()
	tree.AddSkin("myskin", pos(1))
	viewID, err := tree.AddView("page", pos(2), "data::page", "")
	require.NoError(t, err)

	text := tree.NewText(expr.MakeHTML("hello"), pos(3), viewID)
	_, err = tree.AddStatement(viewID, text)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not insert child node")
}

func TestAddStatement_InlineNodeKeepsCurrent(t *testing.T) {
	tree, tplID := buildView(t)
	text := tree.NewText(expr.MakeHTML("hello"), pos(4), tplID)
	next, err := tree.AddStatement(tplID, text)
	require.NoError(t, err)
	assert.Equal(t, tplID, next)
}

func TestParentChainReachesRoot(t *testing.T) {
	tree, tplID := buildView(t)
	ifID, err := tree.AddIf(tplID, pos(4))
	require.NoError(t, err)
	condID, err := tree.AddCondition(ifID, pos(4), CondRegular, nil, expr.MakeVariable("a"), false)
	require.NoError(t, err)

	steps := 0
	for id := condID; id != tree.Root.ID(); steps++ {
		require.Less(t, steps, 100)
		id = tree.Get(id).Parent()
	}
}

func TestCondition_EndClosesWholeIfChain(t *testing.T) {
	tree, tplID := buildView(t)
	ifID, err := tree.AddIf(tplID, pos(4))
	require.NoError(t, err)
	condID, err := tree.AddCondition(ifID, pos(4), CondRegular, nil, expr.MakeVariable("a"), false)
	require.NoError(t, err)

	// closing the condition pops both the condition and its if
	next, err := tree.End(condID, "if", pos(5))
	require.NoError(t, err)
	assert.Equal(t, tplID, next)
}

func TestForeach_ItemEndLandsInSuffixPart(t *testing.T) {
	tree, tplID := buildView(t)
	fID, err := tree.AddForeach(tplID, pos(4), "x", "", "", 0, expr.MakeVariable("items"), false)
	require.NoError(t, err)
	itemID := tree.ForeachItem(fID, pos(5))

	next, err := tree.End(itemID, "item", pos(6))
	require.NoError(t, err)
	part, ok := tree.Get(next).(*ForeachPart)
	require.True(t, ok)
	assert.Equal(t, "item_suffix", part.SysName())

	next, err = tree.End(next, "foreach", pos(7))
	require.NoError(t, err)
	assert.Equal(t, tplID, next)
}

func TestForeach_EndWithoutItemErrors(t *testing.T) {
	tree, tplID := buildView(t)
	fID, err := tree.AddForeach(tplID, pos(4), "x", "", "", 0, expr.MakeVariable("items"), false)
	require.NoError(t, err)
	prefixID := tree.ForeachPrefix(fID, pos(4))

	_, err = tree.End(prefixID, "foreach", pos(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foreach without <% item %>")
}

func TestForm_OnlyBlockStylesAcceptEnd(t *testing.T) {
	tree, tplID := buildView(t)

	next, err := tree.AddForm(tplID, pos(4), "as_p", expr.MakeVariable("f"))
	require.NoError(t, err)
	assert.Equal(t, tplID, next, "inline form style keeps the current node")

	blockID, err := tree.AddForm(tplID, pos(5), "block", expr.MakeVariable("f"))
	require.NoError(t, err)
	require.NotEqual(t, tplID, blockID)

	next, err = tree.End(blockID, "form", pos(6))
	require.NoError(t, err)
	assert.Equal(t, tplID, next)
}

func TestTrigger_AttachesToCache(t *testing.T) {
	tree, tplID := buildView(t)
	cacheID, err := tree.AddCache(tplID, pos(4), expr.MakeString(`"k"`), nil, 60, true, true)
	require.NoError(t, err)

	_, err = tree.AddTrigger(cacheID, pos(5), expr.MakeString(`"t"`))
	require.NoError(t, err)
	c := tree.Get(cacheID).(*Cache)
	assert.Len(t, c.Triggers, 1)
}

func TestKindDescribe_TranslatesNodeNames(t *testing.T) {
	assert.Equal(t, "skin", KindRoot.Describe())
	assert.Equal(t, "foreach", KindForeach.Describe())
	assert.Contains(t, KindFmtFunction.Describe(), "format function")
}

func TestDump_RendersTreeShape(t *testing.T) {
	tree, tplID := buildView(t)
	text := tree.NewText(expr.MakeHTML("hello"), pos(4), tplID)
	_, err := tree.AddStatement(tplID, text)
	require.NoError(t, err)

	var b strings.Builder
	Dump(tree, tree.Root.ID(), &b, 0)
	out := b.String()
	assert.Contains(t, out, "skin myskin with 1 views")
	assert.Contains(t, out, "view page uses data::page with 1 templates")
	assert.Contains(t, out, "template render with 1 children")
	assert.Contains(t, out, `text: "hello"`)
}
