// Package ast implements the directive tree: a parent-linked,
// block/inline-disciplined tree of directive nodes. Nodes are
// addressed by handle (ID) into a Tree arena rather than by pointer,
// so child lists and parent links never form a reference cycle.
// Dispatch across node kinds (End, Dump) is a type switch; Write
// lives in the generator package, which walks the tree the same way.
package ast

import (
	"strings"

	"github.com/codingersid/skinc/expr"
	"github.com/codingersid/skinc/source"
)

// ID addresses a node inside a Tree. The zero value means "no node".
type ID int

// Kind tags which concrete node type an ID refers to, for diagnostics
// that need a name without a type switch (e.g. the "object stack" hint
// attached to a structural-placement error).
type Kind int

const (
	KindRoot Kind = iota
	KindView
	KindTemplate
	KindText
	KindCppCode
	KindVariableEmit
	KindFmtFunction
	KindNgt
	KindInclude
	KindForm
	KindCsrf
	KindRender
	KindUsing
	KindIf
	KindCondition
	KindForeach
	KindForeachPart
	KindCache
)

// Describe renders a Kind as the word diagnostics use for it, which
// for a few kinds differs from the internal name (the root of the
// tree is what a template author calls a skin).
func (k Kind) Describe() string {
	switch k {
	case KindRoot:
		return "skin"
	case KindView:
		return "view"
	case KindTemplate:
		return "template"
	case KindText:
		return "text"
	case KindCppCode:
		return "c++"
	case KindVariableEmit:
		return "variable"
	case KindFmtFunction:
		return "(format function, like gt, url, ...)"
	case KindNgt:
		return "ngt"
	case KindInclude:
		return "include"
	case KindForm:
		return "form"
	case KindCsrf:
		return "csrf"
	case KindRender:
		return "render"
	case KindUsing:
		return "using"
	case KindIf:
		return "if"
	case KindCondition:
		return "if"
	case KindForeach:
		return "foreach"
	case KindForeachPart:
		return "foreach child (item, separator, empty, prefix, suffix)"
	case KindCache:
		return "cache"
	default:
		return "(unknown)"
	}
}

// Base is embedded by every concrete node type; it carries the fields
// every node needs regardless of kind.
type Base struct {
	id      ID
	parent  ID
	sysname string
	kind    Kind
	block   bool
	pos     source.Position
}

func (b *Base) ID() ID                  { return b.id }
func (b *Base) Parent() ID              { return b.parent }
func (b *Base) SysName() string         { return b.sysname }
func (b *Base) Kind() Kind              { return b.kind }
func (b *Base) IsBlock() bool           { return b.block }
func (b *Base) Pos() source.Position    { return b.pos }

// Node is any member of the tree. Concrete types embed *Base and add
// their own payload; Write (which needs generator context) and Dump
// are implemented as type switches in their respective packages rather
// than as interface methods, so ast never imports generator.
type Node interface {
	ID() ID
	Parent() ID
	SysName() string
	Kind() Kind
	IsBlock() bool
	Pos() source.Position
}

// Children is embedded by every node kind that can hold statements.
// Children are appended in source order and walked in that order by
// both Dump and Write.
type Children struct {
	items   []ID
	endline source.Position
}

func (c *Children) add(id ID)                  { c.items = append(c.items, id) }
func (c *Children) IDs() []ID                  { return c.items }
func (c *Children) EndLine() source.Position    { return c.endline }
func (c *Children) setEndLine(p source.Position) { c.endline = p }

// Error is a structural (semantic) placement failure: a directive was
// asked to attach to a node that cannot accept it, an "end NAME" named
// the wrong kind, or similar. It's returned, not panicked, so the
// parser package can decide how to render it.
type Error struct {
	Pos     source.Position
	Message string
}

func (e *Error) Error() string { return e.Message }

// Tree is the arena: every node allocated during a parse lives here,
// addressed by ID. The tree owns the root; everything else is reached
// by walking from it.
type Tree struct {
	nodes []Node
	Root  *Root
}

// New creates an empty Tree with its Root node already allocated.
func New() *Tree {
	t := &Tree{}
	root := &Root{Base: Base{kind: KindRoot, sysname: "root", block: true, pos: source.Position{File: "__root__"}}, currentSkin: -1}
	root.id = t.alloc(root)
	t.Root = root
	return t
}

func (t *Tree) alloc(n Node) ID {
	t.nodes = append(t.nodes, n)
	return ID(len(t.nodes))
}

// Get resolves an ID to its Node. A zero ID is a programming error.
func (t *Tree) Get(id ID) Node {
	return t.nodes[id-1]
}

// --- Root -------------------------------------------------------------

// skinEntry is one ordered entry of the root's skin map: a name and
// the ordered set of views declared inside it.
type skinEntry struct {
	name       string
	pos, end   source.Position
	viewOrder  []string
	viewByName map[string]ID
}

type codeEntry struct {
	pos  source.Position
	code *expr.Cpp
}

// Root is the tree root: a map of skins (each an ordered map of
// views), the root-level cpp blocks emitted before any skin, and the
// output mode directive.
type Root struct {
	Base
	skins      []*skinEntry
	skinByName map[string]int
	currentSkin int // index into skins, -1 if none open
	codes      []codeEntry
	mode       string
	modePos    source.Position
}

// AddSkin opens (or reopens) the named skin and makes it current,
// returning the root's own ID as the new "current" node; the root is
// the implicit container for skins.
func (t *Tree) AddSkin(name string, pos source.Position) ID {
	r := t.Root
	if r.skinByName == nil {
		r.skinByName = map[string]int{}
		r.currentSkin = -1
	}
	if i, ok := r.skinByName[name]; ok {
		r.currentSkin = i
		return r.id
	}
	r.skins = append(r.skins, &skinEntry{name: name, pos: pos, end: pos, viewByName: map[string]ID{}})
	r.skinByName[name] = len(r.skins) - 1
	r.currentSkin = len(r.skins) - 1
	return r.id
}

// SetMode records the html/xhtml/text output-mode directive.
func (t *Tree) SetMode(mode string, pos source.Position) ID {
	t.Root.mode = mode
	t.Root.modePos = pos
	return t.Root.id
}

// Mode returns the configured output mode, or "" if none was set.
func (r *Root) Mode() string { return r.mode }

// AddCpp appends a root-level (outside any skin/view) cpp block.
func (t *Tree) AddCpp(code *expr.Cpp, pos source.Position) ID {
	t.Root.codes = append(t.Root.codes, codeEntry{pos: pos, code: code})
	return t.Root.id
}

// Codes exposes the root-level cpp blocks in declaration order.
func (r *Root) Codes() []struct {
	Pos  source.Position
	Code *expr.Cpp
} {
	out := make([]struct {
		Pos  source.Position
		Code *expr.Cpp
	}, len(r.codes))
	for i, c := range r.codes {
		out[i] = struct {
			Pos  source.Position
			Code *expr.Cpp
		}{c.pos, c.code}
	}
	return out
}

// Skins exposes the skin names in declaration order.
func (r *Root) Skins() []string {
	names := make([]string, len(r.skins))
	for i, s := range r.skins {
		names[i] = s.name
	}
	return names
}

// SkinPos returns a skin's opening and "end skin" positions.
func (r *Root) SkinPos(name string) (begin, end source.Position) {
	i := r.skinByName[name]
	return r.skins[i].pos, r.skins[i].end
}

// SkinViews returns the ordered view IDs declared inside a skin.
func (r *Root) SkinViews(name string) []ID {
	i := r.skinByName[name]
	out := make([]ID, len(r.skins[i].viewOrder))
	for j, vn := range r.skins[i].viewOrder {
		out[j] = r.skins[i].viewByName[vn]
	}
	return out
}

// RenameSkin renames a skin (used to resolve the "__default__"
// placeholder against the skin name requested on the command line).
func (r *Root) RenameSkin(from, to string) {
	i, ok := r.skinByName[from]
	if !ok {
		return
	}
	r.skins[i].name = to
	delete(r.skinByName, from)
	r.skinByName[to] = i
}

// AddView declares (or returns the existing) view inside the current
// skin. Adding a view requires a skin to be open.
func (t *Tree) AddView(name string, pos source.Position, data, parentName string) (ID, error) {
	r := t.Root
	if r.currentSkin < 0 {
		return 0, &Error{Pos: pos, Message: "view must be inside skin"}
	}
	s := r.skins[r.currentSkin]
	if id, ok := s.viewByName[name]; ok {
		return id, nil
	}
	v := &View{Base: Base{kind: KindView, sysname: "view", block: true, pos: pos, parent: r.id}, name: name, data: data, masterName: parentName, templateByName: map[string]ID{}}
	v.id = t.alloc(v)
	v.setEndLine(pos)
	s.viewByName[name] = v.id
	s.viewOrder = append(s.viewOrder, name)
	return v.id, nil
}

func (t *Tree) endRoot(what string, pos source.Position) (ID, error) {
	r := t.Root
	if r.currentSkin < 0 {
		return 0, &Error{Pos: pos, Message: "unexpected 'end " + what + "': nothing is open"}
	}
	if what == "" || what == "skin" {
		r.skins[r.currentSkin].end = pos
		r.currentSkin = -1
		return r.id, nil
	}
	return 0, &Error{Pos: pos, Message: "expected 'end skin', not 'end " + what + "'"}
}

// --- View / Template ----------------------------------------------------

// View is a skin member: a class bound to a data type, holding an
// ordered set of templates (member functions).
type View struct {
	Base
	name, data, masterName string
	templateOrder          []string
	templateByName         map[string]ID
	endPos                 source.Position
}

func (v *View) Name() string             { return v.name }
func (v *View) Data() string             { return v.data }
func (v *View) Master() string           { return v.masterName }
func (v *View) EndPos() source.Position   { return v.endPos }
func (v *View) setEndLine(p source.Position) { v.endPos = p }

// Templates returns the view's templates in declaration order.
func (v *View) Templates() []ID {
	out := make([]ID, len(v.templateOrder))
	for i, n := range v.templateOrder {
		out[i] = v.templateByName[n]
	}
	return out
}

// AddTemplate declares a member-function template inside the view id
// refers to. id must be a *View.
func (t *Tree) AddTemplate(id ID, name string, pos source.Position, templateArgs []*expr.Identifier, params *expr.ParamList) (ID, error) {
	v, ok := t.Get(id).(*View)
	if !ok {
		return 0, badCast(t.Get(id), KindView, pos)
	}
	tpl := &Template{Base: Base{kind: KindTemplate, sysname: "template", block: true, pos: pos, parent: id}, name: name, templateArgs: templateArgs, params: params}
	tpl.id = t.alloc(tpl)
	tpl.setEndLine(pos)
	v.templateByName[name] = tpl.id
	v.templateOrder = append(v.templateOrder, name)
	return tpl.id, nil
}

// Template is a view member function: a name, optional template-type
// parameters, a typed parameter list, and a body of statements.
type Template struct {
	Base
	Children
	name         string
	templateArgs []*expr.Identifier
	params       *expr.ParamList
}

func (tp *Template) Name() string                  { return tp.name }
func (tp *Template) TemplateArgs() []*expr.Identifier { return tp.templateArgs }
func (tp *Template) Params() *expr.ParamList        { return tp.params }

// --- leaf / simple node constructors -----------------------------------

// Text is literal output between directives.
type Text struct {
	Base
	Value expr.Expr
}

// VariableEmit is "<%= VARIABLE | filter | filter %>".
type VariableEmit struct {
	Base
	Variable *expr.Variable
	Filters  []*expr.Filter
}

// CppCode is an opaque "<% c++ ... %>" block placed where statements
// are accepted (as opposed to root_t.codes, which holds top-level ones).
type CppCode struct {
	Base
	Code *expr.Cpp
}

// UsingOption is a complex-variable argument following a "using"
// keyword on a gt/ngt/url/format/rformat directive.
type UsingOption struct {
	Variable *expr.Variable
	Filters  []*expr.Filter
}

// FmtFunction models gt/url/format/rformat.
type FmtFunction struct {
	Base
	Verb    string // gt, url, format, rformat
	Format  *expr.String
	Options []UsingOption
}

// Ngt models the plural-translation directive.
type Ngt struct {
	Base
	Singular, Plural *expr.String
	Variable         *expr.Variable
	Options          []UsingOption
}

// Include models "include NAME(args) [from ID | using ID [with VAR]]".
type Include struct {
	Base
	Call       *expr.CallList
	From, Using string
	With       *expr.Variable
}

// Csrf models the csrf token/script/cookie directive.
type Csrf struct {
	Base
	Style string // "", "token", "script", "cookie"
}

// Render models "render [skin,] view [with var]".
type Render struct {
	Base
	Skin, View expr.Expr
	With       *expr.Variable
}

// --- block node constructors with children -----------------------------

// Form models a form directive; it's block-shaped only for the
// "block"/"begin" styles.
type Form struct {
	Base
	Children
	Style string
	Var   *expr.Variable
}

// Csrf/Render/Include/FmtFunction/Ngt/VariableEmit/Text/CppCode are leaves
// (non-block) and so have no End beyond the generic error.

// Using models "using ID [with VAR] as ID { ... }". The field holding
// the first ID is named Type (not ID) to avoid shadowing the Node.ID()
// method promoted from Base.
type Using struct {
	Base
	Children
	Type, As string
	With     *expr.Variable
}

// Condition is one branch of an If chain: a kind, operand, negate
// flag, and the "and"/"or"-joined further terms in evaluation order.
type Condition struct {
	Base
	Children
	CondKind ConditionKind
	Cpp      *expr.Cpp
	Variable *expr.Variable
	Negate   bool
	Next     []ConditionTerm
}

// ConditionKind is the kind of test a Condition (or chained term)
// performs.
type ConditionKind int

const (
	CondRegular ConditionKind = iota
	CondEmpty
	CondRTL
	CondCpp
	CondElse
)

// ConditionOp is how a chained term combines with what came before.
type ConditionOp int

const (
	OpAnd ConditionOp = iota
	OpOr
)

// ConditionTerm is one "and"/"or"-joined chained clause following the
// first clause of a Condition.
type ConditionTerm struct {
	Op       ConditionOp
	Kind     ConditionKind
	Variable *expr.Variable
	Negate   bool
}

// If is a chain of Conditions (if / elif* / else?).
type If struct {
	Base
	conditions []ID
}

func (f *If) Conditions() []ID { return f.conditions }

// AddIf opens a new if-chain under parent (which must accept children)
// and returns the If node's own ID.
func (t *Tree) AddIf(parent ID, pos source.Position) (ID, error) {
	n := t.Get(parent)
	if !acceptsChildren(n) {
		return 0, badCast(n, KindIf, pos)
	}
	f := &If{Base: Base{kind: KindIf, sysname: "if", block: true, pos: pos, parent: parent}}
	f.id = t.alloc(f)
	appendChild(n, f.id)
	return f.id, nil
}

// AddCondition appends a new branch to the If identified by ifID
// (closing whichever condition was previously open) and returns the
// new condition's ID as the parser's new "current" node.
func (t *Tree) AddCondition(ifID ID, pos source.Position, kind ConditionKind, cpp *expr.Cpp, v *expr.Variable, negate bool) (ID, error) {
	f, ok := t.Get(ifID).(*If)
	if !ok {
		return 0, badCast(t.Get(ifID), KindIf, pos)
	}
	if len(f.conditions) > 0 {
		last := t.Get(f.conditions[len(f.conditions)-1]).(*Condition)
		last.setEndLine(pos)
	}
	c := &Condition{Base: Base{kind: KindCondition, sysname: "condition", block: true, pos: pos, parent: ifID}, CondKind: kind, Cpp: cpp, Variable: v, Negate: negate}
	c.id = t.alloc(c)
	c.setEndLine(pos)
	f.conditions = append(f.conditions, c.id)
	return c.id, nil
}

// AddConditionNext appends an "and"/"or"-chained term to the
// condition conditionID.
func (t *Tree) AddConditionNext(conditionID ID, op ConditionOp, kind ConditionKind, v *expr.Variable, negate bool) {
	c := t.Get(conditionID).(*Condition)
	c.Next = append(c.Next, ConditionTerm{Op: op, Kind: kind, Variable: v, Negate: negate})
}

// Foreach models the five-part loop directive.
type Foreach struct {
	Base
	Name, Rowid string
	As          string
	From        int
	Array       *expr.Variable
	Reverse     bool
	prefix, item, suffix, separator, empty ID
}

func (f *Foreach) Prefix() ID    { return f.prefix }
func (f *Foreach) Item() ID      { return f.item }
func (f *Foreach) Suffix() ID    { return f.suffix }
func (f *Foreach) Separator() ID { return f.separator }
func (f *Foreach) Empty() ID     { return f.empty }

// ForeachPart is one of foreach's five optional lazily-opened bodies
// (prefix/item/suffix/separator/empty), each its own children-bearing
// block so a template may open them in any order.
type ForeachPart struct {
	Base
	Children
	hasEnd bool // true only for "item"; others close implicitly via "end foreach"
}

// AddForeach opens a new foreach loop under parent and returns the
// foreach's own ID; the caller makes the "prefix" part current
// separately, so text before the first "item" lands there.
func (t *Tree) AddForeach(parent ID, pos source.Position, name, as, rowid string, from int, array *expr.Variable, reverse bool) (ID, error) {
	n := t.Get(parent)
	if !acceptsChildren(n) {
		return 0, badCast(n, KindForeach, pos)
	}
	f := &Foreach{Base: Base{kind: KindForeach, sysname: "foreach", block: true, pos: pos, parent: parent}, Name: name, As: as, Rowid: rowid, From: from, Array: array, Reverse: reverse}
	f.id = t.alloc(f)
	appendChild(n, f.id)
	return f.id, nil
}

// ForeachPrefix lazily opens (or returns) the foreach's prefix part.
func (t *Tree) ForeachPrefix(foreachID ID, pos source.Position) ID {
	f := t.Get(foreachID).(*Foreach)
	if f.prefix == 0 {
		f.prefix = t.newForeachPart(foreachID, pos, "item_prefix", false)
	}
	return f.prefix
}

// ForeachItem lazily opens (or returns) the foreach's item part.
func (t *Tree) ForeachItem(foreachID ID, pos source.Position) ID {
	f := t.Get(foreachID).(*Foreach)
	if f.item == 0 {
		f.item = t.newForeachPart(foreachID, pos, "item", true)
	}
	return f.item
}

// ForeachSuffix lazily opens (or returns) the foreach's suffix part.
func (t *Tree) ForeachSuffix(foreachID ID, pos source.Position) ID {
	f := t.Get(foreachID).(*Foreach)
	if f.suffix == 0 {
		f.suffix = t.newForeachPart(foreachID, pos, "item_suffix", false)
	}
	return f.suffix
}

// ForeachSeparator lazily opens (or returns) the foreach's separator part.
func (t *Tree) ForeachSeparator(foreachID ID, pos source.Position) ID {
	f := t.Get(foreachID).(*Foreach)
	if f.separator == 0 {
		f.separator = t.newForeachPart(foreachID, pos, "item_separator", false)
	}
	return f.separator
}

// ForeachEmpty lazily opens (or returns) the foreach's empty part.
func (t *Tree) ForeachEmpty(foreachID ID, pos source.Position) ID {
	f := t.Get(foreachID).(*Foreach)
	if f.empty == 0 {
		f.empty = t.newForeachPart(foreachID, pos, "item_empty", false)
	}
	return f.empty
}

func (t *Tree) newForeachPart(parent ID, pos source.Position, sysname string, hasEnd bool) ID {
	p := &ForeachPart{Base: Base{kind: KindForeachPart, sysname: sysname, block: true, pos: pos, parent: parent}, hasEnd: hasEnd}
	p.id = t.alloc(p)
	p.setEndLine(pos)
	return p.id
}

// Cache models the caching directive. Recording controls whether a
// triggers_recorder wraps the miss branch; TriggersEnabled controls
// the final "no_triggers" flag passed to store_frame, independent of
// whether any trigger expressions were actually declared.
type Cache struct {
	Base
	Children
	Name            expr.Expr
	Miss            *expr.Variable
	Duration        int
	Recording       bool
	TriggersEnabled bool
	Triggers        []cacheTrigger
}

type cacheTrigger struct {
	Pos source.Position
	Val expr.Expr
}

// AddCache opens a cache block under parent and returns its ID.
func (t *Tree) AddCache(parent ID, pos source.Position, name expr.Expr, miss *expr.Variable, duration int, recording, triggersEnabled bool) (ID, error) {
	n := t.Get(parent)
	if !acceptsChildren(n) {
		return 0, badCast(n, KindCache, pos)
	}
	c := &Cache{Base: Base{kind: KindCache, sysname: "cache", block: true, pos: pos, parent: parent}, Name: name, Miss: miss, Duration: duration, Recording: recording, TriggersEnabled: triggersEnabled}
	c.id = t.alloc(c)
	c.setEndLine(pos)
	appendChild(n, c.id)
	return c.id, nil
}

// AddTrigger appends a trigger expression to the cache identified by
// cacheID; a trigger outside an open cache has nothing to attach to.
func (t *Tree) AddTrigger(cacheID ID, pos source.Position, val expr.Expr) (ID, error) {
	c, ok := t.Get(cacheID).(*Cache)
	if !ok {
		return 0, badCast(t.Get(cacheID), KindCache, pos)
	}
	c.Triggers = append(c.Triggers, cacheTrigger{Pos: pos, Val: val})
	return cacheID, nil
}

// --- generic children-accepting "Add" helpers ---------------------------

// AcceptsChildren reports whether the node id refers to is a
// children-accepting node — exposed so parser can decide whether
// whitespace-only text between directives should be kept.
func (t *Tree) AcceptsChildren(id ID) bool { return acceptsChildren(t.Get(id)) }

// acceptsChildren reports whether n is a node statements may be added
// to: template bodies, condition bodies, foreach parts, using/form/cache
// bodies — anything embedding Children. The root is not one of them;
// its cpp blocks go through AddCpp.
func acceptsChildren(n Node) bool {
	switch n.(type) {
	case *Template, *Condition, *ForeachPart, *Using, *Form, *Cache:
		return true
	}
	return false
}

func childrenOf(n Node) *Children {
	switch v := n.(type) {
	case *Template:
		return &v.Children
	case *Condition:
		return &v.Children
	case *ForeachPart:
		return &v.Children
	case *Using:
		return &v.Children
	case *Form:
		return &v.Children
	case *Cache:
		return &v.Children
	}
	return nil
}

func appendChild(n Node, id ID) {
	if c := childrenOf(n); c != nil {
		c.add(id)
	}
}

func badCast(got Node, want Kind, pos source.Position) error {
	gotKind := Kind(-1)
	if got != nil {
		gotKind = got.Kind()
	}
	gotDesc := "(nothing open)"
	if gotKind >= 0 {
		gotDesc = gotKind.Describe()
	}
	return &Error{Pos: pos, Message: "could not insert child node: parent node is " + gotDesc + ", but it should be " + want.Describe()}
}

// AddStatement appends a non-block leaf statement (Text, VariableEmit,
// FmtFunction, Ngt, Include, Csrf, Render, CppCode) to parent and
// returns parent's own ID — the parser's "current" node never
// descends into an inline node.
func (t *Tree) AddStatement(parent ID, n Node) (ID, error) {
	p := t.Get(parent)
	if !acceptsChildren(p) {
		return 0, badCast(p, n.Kind(), n.Pos())
	}
	appendChild(p, n.ID())
	return parent, nil
}

func (t *Tree) allocLeaf(n Node) ID {
	id := t.alloc(n)
	return id
}

// NewText allocates (without attaching) a text node.
func (t *Tree) NewText(value expr.Expr, pos source.Position, parent ID) Node {
	n := &Text{Base: Base{kind: KindText, sysname: "text", pos: pos, parent: parent}, Value: value}
	n.id = t.allocLeaf(n)
	return n
}

// NewVariableEmit allocates a variable-emit node.
func (t *Tree) NewVariableEmit(v *expr.Variable, filters []*expr.Filter, pos source.Position, parent ID) Node {
	n := &VariableEmit{Base: Base{kind: KindVariableEmit, sysname: "variable", pos: pos, parent: parent}, Variable: v, Filters: filters}
	n.id = t.allocLeaf(n)
	return n
}

// NewCppCode allocates a statement-position cpp block.
func (t *Tree) NewCppCode(code *expr.Cpp, pos source.Position, parent ID) Node {
	n := &CppCode{Base: Base{kind: KindCppCode, sysname: "c++", pos: pos, parent: parent}, Code: code}
	n.id = t.allocLeaf(n)
	return n
}

// NewFmtFunction allocates a gt/url/format/rformat node.
func (t *Tree) NewFmtFunction(verb string, format *expr.String, opts []UsingOption, pos source.Position, parent ID) Node {
	n := &FmtFunction{Base: Base{kind: KindFmtFunction, sysname: verb, pos: pos, parent: parent}, Verb: verb, Format: format, Options: opts}
	n.id = t.allocLeaf(n)
	return n
}

// NewNgt allocates an ngt node.
func (t *Tree) NewNgt(singular, plural *expr.String, v *expr.Variable, opts []UsingOption, pos source.Position, parent ID) Node {
	n := &Ngt{Base: Base{kind: KindNgt, sysname: "ngt", pos: pos, parent: parent}, Singular: singular, Plural: plural, Variable: v, Options: opts}
	n.id = t.allocLeaf(n)
	return n
}

// NewInclude allocates an include node.
func (t *Tree) NewInclude(call *expr.CallList, from, using string, with *expr.Variable, pos source.Position, parent ID) Node {
	n := &Include{Base: Base{kind: KindInclude, sysname: "include", pos: pos, parent: parent}, Call: call, From: from, Using: using, With: with}
	n.id = t.allocLeaf(n)
	return n
}

// NewCsrf allocates a csrf node.
func (t *Tree) NewCsrf(style string, pos source.Position, parent ID) Node {
	n := &Csrf{Base: Base{kind: KindCsrf, sysname: "csrf", pos: pos, parent: parent}, Style: style}
	n.id = t.allocLeaf(n)
	return n
}

// NewRender allocates a render node.
func (t *Tree) NewRender(skin, view expr.Expr, with *expr.Variable, pos source.Position, parent ID) Node {
	n := &Render{Base: Base{kind: KindRender, sysname: "render", pos: pos, parent: parent}, Skin: skin, View: view, With: with}
	n.id = t.allocLeaf(n)
	return n
}

// AddUsing opens a using-scope block under parent.
func (t *Tree) AddUsing(parent ID, pos source.Position, typeName, as string, with *expr.Variable) (ID, error) {
	n := t.Get(parent)
	if !acceptsChildren(n) {
		return 0, badCast(n, KindUsing, pos)
	}
	u := &Using{Base: Base{kind: KindUsing, sysname: "using", block: true, pos: pos, parent: parent}, Type: typeName, As: as, With: with}
	u.id = t.alloc(u)
	u.setEndLine(pos)
	appendChild(n, u.id)
	return u.id, nil
}

// AddForm opens (for "block"/"begin" styles) or appends (otherwise) a
// form directive under parent.
func (t *Tree) AddForm(parent ID, pos source.Position, style string, v *expr.Variable) (ID, error) {
	n := t.Get(parent)
	if !acceptsChildren(n) {
		return 0, badCast(n, KindForm, pos)
	}
	isBlock := style == "block" || style == "begin"
	f := &Form{Base: Base{kind: KindForm, sysname: "form", block: isBlock, pos: pos, parent: parent}, Style: style, Var: v}
	f.id = t.alloc(f)
	f.setEndLine(pos)
	appendChild(n, f.id)
	if isBlock {
		return f.id, nil
	}
	return parent, nil
}

// --- End: structural close ("end [NAME]") -------------------------------

// End closes the innermost node whose system name matches what
// (empty matches any), returning the ID that becomes the parser's new
// "current" node. Every kind's close rule lives in this one type
// switch; the composite kinds (if, foreach) close through their
// sub-parts, which walk two parent links to pop the composite.
func (t *Tree) End(id ID, what string, pos source.Position) (ID, error) {
	n := t.Get(id)
	switch v := n.(type) {
	case *Root:
		return t.endRoot(what, pos)
	case *View:
		if what == "" || what == "view" {
			v.setEndLine(pos)
			return v.parent, nil
		}
		return 0, &Error{Pos: pos, Message: "expected 'end view', not 'end " + what + "'"}
	case *Template:
		if what == "" || what == "template" {
			v.setEndLine(pos)
			return v.parent, nil
		}
		return 0, &Error{Pos: pos, Message: "expected 'end template', not 'end " + what + "'"}
	case *Using:
		if what == "" || what == "using" {
			v.setEndLine(pos)
			return v.parent, nil
		}
		return 0, &Error{Pos: pos, Message: "expected 'end using', not 'end " + what + "'"}
	case *Cache:
		if what == "" || what == "cache" {
			v.setEndLine(pos)
			return v.parent, nil
		}
		return 0, &Error{Pos: pos, Message: "expected 'end cache', not 'end " + what + "'"}
	case *Form:
		if !v.block {
			return 0, &Error{Pos: pos, Message: "end in non-block component"}
		}
		if what == "" || what == "form" {
			v.setEndLine(pos)
			return v.parent, nil
		}
		return 0, &Error{Pos: pos, Message: "Unexpected 'end " + what + "', expected 'end form'"}
	case *Condition:
		if what == "" || what == "if" {
			v.setEndLine(pos)
			ifNode := t.Get(v.parent)
			return ifNode.Parent(), nil
		}
		return 0, &Error{Pos: pos, Message: "expected 'end if', not 'end " + what + "'"}
	case *ForeachPart:
		foreachID := v.parent
		if v.hasEnd { // this is "item"
			if what == "" || what == v.sysname {
				v.setEndLine(pos)
				return t.ForeachSuffix(foreachID, pos), nil
			}
			return 0, &Error{Pos: pos, Message: "expected 'end " + v.sysname + "', not 'end " + what + "'"}
		}
		if what == "" || what == "foreach" {
			if v.sysname == "item_prefix" {
				return 0, &Error{Pos: pos, Message: "foreach without <% item %>"}
			}
			v.setEndLine(pos)
			foreachNode := t.Get(foreachID)
			return foreachNode.Parent(), nil
		}
		return 0, &Error{Pos: pos, Message: "expected 'end foreach', not 'end " + what + "'"}
	case *If, *Foreach:
		return 0, &Error{Pos: pos, Message: "unreachable code (or rather: bug)"}
	default:
		return 0, &Error{Pos: pos, Message: "end in non-block component"}
	}
}

// --- Dump: debug tree print ---------------------------------------------

// Dump renders the node (and, for containers, its descendants) as an
// indented debug tree.
func Dump(t *Tree, id ID, w *strings.Builder, depth int) {
	pad := strings.Repeat("\t", depth)
	switch n := t.Get(id).(type) {
	case *Root:
		w.WriteString(pad + "root with " + itoa(len(n.codes)) + " codes, mode = " + modeOrDefault(n.mode) + " [\n")
		for _, s := range n.skins {
			w.WriteString(pad + "\tskin " + s.name + " with " + itoa(len(s.viewOrder)) + " views [\n")
			for _, vn := range s.viewOrder {
				Dump(t, s.viewByName[vn], w, depth+2)
			}
			w.WriteString(pad + "\t]\n")
		}
		w.WriteString(pad + "]\n")
	case *View:
		w.WriteString(pad + "view " + n.name + " uses " + n.data + " with " + itoa(len(n.templateOrder)) + " templates {\n")
		for _, tn := range n.templateOrder {
			Dump(t, n.templateByName[tn], w, depth+1)
		}
		w.WriteString(pad + "}\n")
	case *Template:
		w.WriteString(pad + "template " + n.name + " with " + itoa(len(n.items)) + " children [\n")
		for _, c := range n.items {
			Dump(t, c, w, depth+1)
		}
		w.WriteString(pad + "]\n")
	case *Text:
		w.WriteString(pad + "text: " + n.Value.Repr() + "\n")
	case *CppCode:
		w.WriteString(pad + "c++: " + n.Code.Repr() + "\n")
	case *VariableEmit:
		w.WriteString(pad + "variable: " + n.Variable.Repr())
		if len(n.Filters) == 0 {
			w.WriteString(" without filters\n")
		} else {
			w.WriteString(" with filters:")
			for _, f := range n.Filters {
				w.WriteString(" | " + f.Repr())
			}
			w.WriteString("\n")
		}
	case *FmtFunction:
		w.WriteString(pad + "fmt function " + n.Verb + ": " + n.Format.Repr() + "\n")
	case *Ngt:
		w.WriteString(pad + "fmt function ngt: " + n.Singular.Repr() + "/" + n.Plural.Repr() + " with variable " + n.Variable.Repr() + "\n")
	case *Include:
		w.WriteString(pad + "include " + n.Call.Repr())
		if n.From != "" {
			w.WriteString(" from " + n.From)
		} else if n.Using != "" {
			w.WriteString(" using " + n.Using)
		}
		w.WriteString("\n")
	case *Form:
		w.WriteString(pad + "form style = " + n.Style + " using variable " + n.Var.Repr() + "\n")
		for _, c := range n.items {
			Dump(t, c, w, depth+1)
		}
	case *Csrf:
		style := n.Style
		if style == "" {
			style = "(default)"
		}
		w.WriteString(pad + "csrf style = " + style + "\n")
	case *Render:
		w.WriteString(pad + "render view = " + n.View.Repr() + "\n")
	case *Using:
		w.WriteString(pad + "using view type " + n.Type + " as " + n.As + " [\n")
		for _, c := range n.items {
			Dump(t, c, w, depth+1)
		}
		w.WriteString(pad + "]\n")
	case *If:
		w.WriteString(pad + "if with " + itoa(len(n.conditions)) + " branches [\n")
		for _, c := range n.conditions {
			Dump(t, c, w, depth+1)
		}
		w.WriteString(pad + "]\n")
	case *Condition:
		w.WriteString(pad + "condition kind=" + itoa(int(n.CondKind)) + " [\n")
		for _, c := range n.items {
			Dump(t, c, w, depth+1)
		}
		w.WriteString(pad + "]\n")
	case *Foreach:
		w.WriteString(pad + "foreach " + n.Name + " in " + n.Array.Repr() + " {\n")
		if n.item != 0 {
			Dump(t, n.item, w, depth+1)
		}
		w.WriteString(pad + "}\n")
	case *ForeachPart:
		w.WriteString(pad + n.sysname + " [\n")
		for _, c := range n.items {
			Dump(t, c, w, depth+1)
		}
		w.WriteString(pad + "]\n")
	case *Cache:
		w.WriteString(pad + "cache " + n.Name.Repr() + " [\n")
		for _, c := range n.items {
			Dump(t, c, w, depth+1)
		}
		w.WriteString(pad + "]\n")
	}
}

func modeOrDefault(m string) string {
	if m == "" {
		return "(default)"
	}
	return m
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
