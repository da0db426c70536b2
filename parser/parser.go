// Package parser implements the directive-level grammar: find the
// next "<%", emit the intervening text, then dispatch on what
// immediately follows to one of the flow, global or render directive
// groups, driving a scanner.Scanner directly so a failed alternative
// can be retried from the same position. Structural placement (does
// the current container accept this kind of child?) is validated
// against ast's accepts-children discipline on every insertion.
package parser

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/codingersid/skinc/ast"
	"github.com/codingersid/skinc/expr"
	"github.com/codingersid/skinc/scanner"
	"github.com/codingersid/skinc/source"
)

// Error is a semantic (structural) or deprecated-syntax diagnostic
// raised by the parser itself, as distinct from a *scanner.Error
// raised by a failed lexical match. Both render as parse-style
// messages carrying the originating position.
type Error struct {
	Pos     source.Position
	Message string
}

func (e *Error) Error() string { return e.Message }

// Result is everything Parse produces: the constructed tree plus any
// non-fatal diagnostics (the deprecated bare-variable syntax warns
// rather than aborting).
type Result struct {
	Tree     *ast.Tree
	Warnings []string
}

// Parse concatenates files via source.New and parses the resulting
// buffer into an ast.Tree. Parse errors and semantic errors are
// returned as *scanner.Error / *ast.Error / *Error; any other panic
// signals a compiler bug and is wrapped and returned instead of
// crashing the caller, so the driver can map it to its own exit code.
func Parse(files []source.NamedContent) (res *Result, err error) {
	buf := source.New(files)
	p := &parser{
		tree: ast.New(),
		buf:  buf,
		sc:   scanner.New(buf),
	}
	p.current = p.tree.Root.ID()

	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *scanner.Error:
				err = e
			case *ast.Error:
				err = e
			case *Error:
				err = e
			case error:
				err = errors.Wrap(e, "skinc: internal logic error")
			default:
				err = errors.Errorf("skinc: internal logic error: %v", r)
			}
		}
	}()

	p.run()
	return &Result{Tree: p.tree, Warnings: p.warnings}, nil
}

type parser struct {
	tree     *ast.Tree
	buf      *source.Buffer
	sc       *scanner.Scanner
	current  ast.ID
	warnings []string

	// ifStack/foreachStack/cacheStack track the innermost open composite
	// of each kind so item/separator/empty/elif/else/trigger can find
	// the structure they belong to without walking the tree by hand.
	ifStack      []ast.ID
	foreachStack []ast.ID
	cacheStack   []ast.ID
}

func (p *parser) fail(msg string) {
	panic(&Error{Pos: p.buf.Position(), Message: msg})
}

func (p *parser) failAt(pos source.Position, msg string) {
	panic(&Error{Pos: pos, Message: msg})
}

// objectStackHint renders the chain of currently-open block node
// names as a diagnostic suffix, since a misplaced directive usually
// means an "end" went missing somewhere above it.
func (p *parser) objectStackHint() string {
	var b strings.Builder
	b.WriteString(" (open: ")
	id := p.current
	first := true
	for {
		n := p.tree.Get(id)
		if !first {
			b.WriteString(" < ")
		}
		first = false
		b.WriteString(n.Kind().Describe())
		if id == p.tree.Root.ID() {
			break
		}
		parent := n.Parent()
		if parent == 0 {
			break
		}
		id = parent
	}
	b.WriteString("; a missing 'end' is the likely cause)")
	return b.String()
}

func (p *parser) wrapAST(err error) {
	if err == nil {
		return
	}
	if ae, ok := err.(*ast.Error); ok {
		panic(&Error{Pos: ae.Pos, Message: ae.Message + p.objectStackHint()})
	}
	panic(err)
}

// addStatement appends a leaf node to the current container.
func (p *parser) addStatement(n ast.Node) {
	next, err := p.tree.AddStatement(p.current, n)
	p.wrapAST(err)
	p.current = next
}

// run is the main directive loop: find "<%", flush the preceding
// text, dispatch on the directive, repeat until the buffer is
// exhausted.
func (p *parser) run() {
	for p.buf.HasNext() {
		startIdx := p.buf.Index()
		idx := p.buf.FindOnRight("<%")
		if idx < 0 {
			rest := p.buf.RightUntilEnd()
			p.failStray(rest, startIdx)
			p.flushText(rest, p.buf.Position())
			p.buf.MoveTo(p.buf.Length())
			break
		}
		if idx > startIdx {
			pos := p.buf.Position()
			text := p.buf.Slice(startIdx, idx)
			p.failStray(text, startIdx)
			p.flushText(text, pos)
		}
		p.buf.MoveTo(idx)
		p.parseDirective()
	}
	if len(p.ifStack) > 0 || len(p.foreachStack) > 0 || len(p.cacheStack) > 0 || p.current != p.tree.Root.ID() {
		p.fail("unexpected end of input" + p.objectStackHint())
	}
}

// failStray rejects a "%>" appearing in literal text outside any
// directive; there is no way to recover a sensible parse after one.
func (p *parser) failStray(text string, startIdx int) {
	if off := strings.Index(text, "%>"); off >= 0 {
		p.buf.MoveTo(startIdx + off)
		p.fail("found unexpected %>")
	}
}

// flushText emits a text node for the literal span between two
// directives, discarding a whitespace-only span unless the current
// container can hold literals (indentation between "end view" and the
// next "view" is noise, indentation inside a template is output).
func (p *parser) flushText(text string, pos source.Position) {
	if text == "" {
		return
	}
	if strings.TrimSpace(text) == "" && !p.tree.AcceptsChildren(p.current) {
		return
	}
	mode := p.outputMode()
	var lit expr.Expr
	switch mode {
	case "xhtml":
		lit = expr.MakeXHTML(text)
	case "text":
		lit = expr.MakeText(text)
	default:
		lit = expr.MakeHTML(text)
	}
	p.addStatement(p.tree.NewText(lit, pos, p.current))
}

func (p *parser) outputMode() string { return p.tree.Root.Mode() }

// parseDirective is called with the scanner positioned at "<%"; it
// consumes the whole directive (through its closing "%>") and leaves
// the buffer positioned just past it.
func (p *parser) parseDirective() {
	pos := p.buf.Position()
	p.buf.Move(2) // past "<%"

	if p.buf.HasNext() && p.buf.Current() == '=' {
		p.buf.Move(1)
		p.parseEcho(pos)
		return
	}

	p.skipWSPlain()
	name := p.peekWordRaw()
	if name == "" {
		p.fail("expected directive name after '<%'")
	}

	switch name {
	case "if", "elif":
		p.consumeWord(name)
		p.parseIfOrElif(pos, name == "elif")
		return
	case "else":
		p.consumeWord(name)
		p.parseElse(pos)
		return
	case "foreach":
		p.consumeWord(name)
		p.parseForeach(pos)
		return
	case "item":
		p.consumeWord(name)
		p.parseItem(pos)
		return
	case "empty":
		p.consumeWord(name)
		p.parseForeachPart(pos, "empty")
		return
	case "separator":
		p.consumeWord(name)
		p.parseForeachPart(pos, "separator")
		return
	case "end":
		p.consumeWord(name)
		p.parseEnd(pos)
		return
	case "cache":
		p.consumeWord(name)
		p.parseCache(pos)
		return
	case "trigger":
		p.consumeWord(name)
		p.parseTrigger(pos)
		return
	case "skin":
		p.consumeWord(name)
		p.parseSkin(pos)
		return
	case "view":
		p.consumeWord(name)
		p.parseView(pos)
		return
	case "template":
		p.consumeWord(name)
		p.parseTemplate(pos)
		return
	case "c++":
		p.consumeWord(name)
		p.parseCpp(pos)
		return
	case "html", "xhtml", "text":
		p.consumeWord(name)
		p.skipWSPlain()
		p.expectClose()
		p.tree.SetMode(name, pos)
		return
	case "gt", "format", "rformat":
		p.consumeWord(name)
		p.parseFmtFunction(name, pos)
		return
	case "ngt":
		p.consumeWord(name)
		p.parseNgt(pos)
		return
	case "url":
		p.consumeWord(name)
		p.parseFmtFunction(name, pos)
		return
	case "include":
		p.consumeWord(name)
		p.parseInclude(pos)
		return
	case "using":
		p.consumeWord(name)
		p.parseUsing(pos)
		return
	case "form":
		p.consumeWord(name)
		p.parseForm(pos)
		return
	case "csrf":
		p.consumeWord(name)
		p.parseCsrf(pos)
		return
	case "render":
		p.consumeWord(name)
		p.parseRender(pos)
		return
	default:
		p.warnings = append(p.warnings, pos.File+":"+strconv.Itoa(pos.Line)+
			": deprecated: unrecognized directive leader '"+name+"', treating the whole directive as a variable expression")
		p.parseDeprecatedVariable(pos)
		return
	}
}

// --- lexical helpers shared by directive handlers -----------------------

func (p *parser) skipWSPlain() {
	for p.buf.HasNext() && isSpace(p.buf.Current()) {
		p.buf.Move(1)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// peekWordRaw returns the run of NAME characters at the current
// position without consuming it (used to decide which directive
// handler to dispatch to), restoring the buffer index before
// returning.
func (p *parser) peekWordRaw() string {
	start := p.buf.Index()
	if p.buf.CompareHead("c++") {
		return "c++"
	}
	if !p.buf.HasNext() || (!isLatinLetter(p.buf.Current()) && p.buf.Current() != '_') {
		return ""
	}
	for p.buf.HasNext() {
		c := p.buf.Current()
		if isLatinLetter(c) || isDigit(c) || c == '_' {
			p.buf.Move(1)
			continue
		}
		break
	}
	end := p.buf.Index()
	p.buf.MoveTo(start)
	return p.buf.Slice(start, end)
}

func isLatinLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isDigit(c byte) bool       { return c >= '0' && c <= '9' }

// isNameByte reports whether c can continue (not start) a NAME token.
func isNameByte(c byte) bool { return isLatinLetter(c) || isDigit(c) || c == '_' }

// consumeWord advances past word (previously returned by peekWordRaw).
func (p *parser) consumeWord(word string) {
	p.buf.Move(len(word))
}

// tryKeyword attempts to match an optional bare keyword (e.g. "not",
// "reverse") preceded by whitespace, consuming it and the whitespace
// on success and leaving the buffer untouched on failure. The match
// must end on a word boundary so "in" doesn't match a prefix of
// "include".
func (p *parser) tryKeyword(word string) bool {
	start := p.buf.Index()
	p.skipWSPlain()
	if p.buf.CompareHead(word) {
		afterIdx := p.buf.Index() + len(word)
		boundaryOK := afterIdx >= p.buf.Length() || !isNameByte(p.buf.Slice(afterIdx, afterIdx+1)[0])
		if boundaryOK {
			p.buf.Move(len(word))
			return true
		}
	}
	p.buf.MoveTo(start)
	return false
}

func (p *parser) expectClose() {
	p.sc.TryCloseExpression()
	if p.sc.Failed() {
		p.sc.Back(1)
		p.fail("expected '%>'")
	}
}

// requireName reads a NAME via the scanner, raising a parse error if
// none is present.
func (p *parser) requireName() string {
	p.skipWSPlain()
	p.sc.TryName()
	if p.sc.Failed() {
		p.fail("expected a name")
	}
	return p.sc.Get(-1)
}

func (p *parser) requireIdentifier() *expr.Identifier {
	p.skipWSPlain()
	p.sc.TryIdentifier()
	if p.sc.Failed() {
		p.fail("expected an identifier")
	}
	return expr.MakeIdentifier(p.sc.Get(-1))
}

func (p *parser) requireVariable() *expr.Variable {
	p.skipWSPlain()
	p.sc.TryVariable()
	if p.sc.Failed() {
		p.fail("expected a variable")
	}
	return expr.MakeVariable(p.sc.Get(-1))
}

func (p *parser) requireString() *expr.String {
	p.skipWSPlain()
	p.sc.TryString()
	if p.sc.Failed() {
		p.fail("expected a string")
	}
	return expr.MakeString(p.sc.Get(-1))
}

func (p *parser) requireNumberInt() int {
	p.skipWSPlain()
	p.sc.TryNumber()
	if p.sc.Failed() {
		p.fail("expected a number")
	}
	n, err := strconv.Atoi(p.sc.Get(-1))
	if err != nil {
		p.fail("expected an integer, not a fractional number")
	}
	return n
}

// tryVariableOrString recognizes either a VARIABLE or a STRING at the
// current position — the name-expression shape cache, trigger and
// render all accept.
func (p *parser) tryVariableOrString() expr.Expr {
	p.skipWSPlain()
	p.sc.Push()
	p.sc.TryVariable()
	if p.sc.OK() {
		tok := p.sc.Get(-1)
		p.sc.Pop()
		return expr.MakeVariable(tok)
	}
	p.sc.Reset()
	p.sc.TryString()
	if p.sc.OK() {
		tok := p.sc.Get(-1)
		p.sc.Pop()
		return expr.MakeString(tok)
	}
	p.sc.Pop()
	p.fail("expected a variable or a string")
	return nil
}

// parseComplexVariable recognizes "VARIABLE ( | FILTER )*" and returns
// the variable and its filter chain in source order.
func (p *parser) parseComplexVariable() (*expr.Variable, []*expr.Filter) {
	p.skipWSPlain()
	p.sc.TryComplexVariable()
	if p.sc.Failed() {
		p.fail("expected a variable expression")
	}
	varTok, filterToks := drainComplexVariableDetails(p.sc)
	filters := make([]*expr.Filter, len(filterToks))
	for i, tok := range filterToks {
		filters[i] = expr.MakeFilter(tok)
	}
	return expr.MakeVariable(varTok), filters
}

// drainComplexVariableDetails consumes the Detail entries a
// successful TryComplexVariable call pushed (a "complex_variable_name"
// followed by zero or more "complex_variable" filter entries, pushed
// filter-first, name-last) and returns them in source order.
func drainComplexVariableDetails(sc *scanner.Scanner) (varTok string, filterToks []string) {
	var raw []scanner.Detail
	for sc.HasDetails() {
		raw = append(raw, sc.PopDetail())
	}
	if len(raw) == 0 {
		return "", nil
	}
	varTok = raw[0].Item
	filterToks = make([]string, len(raw)-1)
	for i, d := range raw[1:] {
		filterToks[len(raw)-2-i] = d.Item
	}
	return varTok, filterToks
}

// parseUsingOptions recognizes an optional "using CVAR (, CVAR)*"
// suffix following a gt/ngt/url/format/rformat directive.
func (p *parser) parseUsingOptions() []ast.UsingOption {
	if !p.tryKeyword("using") {
		return nil
	}
	var opts []ast.UsingOption
	for {
		v, filters := p.parseComplexVariable()
		opts = append(opts, ast.UsingOption{Variable: v, Filters: filters})
		if !p.tryComma() {
			break
		}
	}
	return opts
}

func (p *parser) tryComma() bool {
	start := p.buf.Index()
	p.skipWSPlain()
	if p.buf.HasNext() && p.buf.Current() == ',' {
		p.buf.Move(1)
		return true
	}
	p.buf.MoveTo(start)
	return false
}

// parseArgumentListText recognizes a parenthesized argument list via
// the scanner (so nested calls/strings/brackets are handled correctly)
// and returns its raw source text, parens included (or "" if absent).
func (p *parser) parseArgumentListText() string {
	p.sc.TryArgumentList()
	if p.sc.Failed() {
		p.fail("expected an argument list")
	}
	// the per-argument kind details are not needed here: the raw text is
	// re-parsed by expr.MakeCallList, so drain them before they bleed
	// into a later complex-variable drain
	for p.sc.HasDetails() {
		p.sc.PopDetail()
	}
	return p.sc.Get(-1)
}

func (p *parser) parseTypedParamList() *expr.ParamList {
	p.sc.TryTypedParamList()
	if p.sc.Failed() {
		p.fail("expected a parameter list")
	}
	repr := p.sc.Get(-1)
	return expr.MakeParamList(repr, drainTypedParamDetails(p.sc))
}

func drainTypedParamDetails(sc *scanner.Scanner) []expr.Param {
	var raw []scanner.Detail
	for sc.HasDetails() {
		raw = append(raw, sc.PopDetail())
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	var params []expr.Param
	for i := 0; i+4 < len(raw); i += 5 {
		params = append(params, expr.Param{
			Type:    expr.MakeIdentifier(raw[i].Item),
			IsConst: raw[i+1].Item == "1",
			IsRef:   raw[i+2].Item == "1",
			Name:    expr.MakeName(raw[i+3].Item),
		})
	}
	return params
}

// --- the echo / deprecated-variable shorthand ---------------------------

// parseEcho handles "<%= VARIABLE ( | FILTER)* %>".
func (p *parser) parseEcho(pos source.Position) {
	v, filters := p.parseComplexVariable()
	p.skipWSPlain()
	p.expectClose()
	p.addStatement(p.tree.NewVariableEmit(v, filters, pos, p.current))
}

// parseDeprecatedVariable handles the compatibility fallback: a
// directive whose leader isn't any recognized name is retried, whole,
// as a bare variable expression.
func (p *parser) parseDeprecatedVariable(pos source.Position) {
	v, filters := p.parseComplexVariable()
	p.skipWSPlain()
	p.expectClose()
	p.addStatement(p.tree.NewVariableEmit(v, filters, pos, p.current))
}

// --- if / elif / else ----------------------------------------------------

// parseConditionHead recognizes one "[not] (empty VARIABLE | rtl |
// (CPP) | VARIABLE)" condition term, the head of an if/elif. The
// and/or-chained terms that may follow are parsed by parseIfOrElif and
// take only the "[not] [empty] VARIABLE" forms.
func (p *parser) parseConditionHead() (kind ast.ConditionKind, negate bool, v *expr.Variable, cpp *expr.Cpp) {
	negate = p.tryKeyword("not")
	if p.tryKeyword("empty") {
		return ast.CondEmpty, negate, p.requireVariable(), nil
	}
	if p.tryKeyword("rtl") {
		return ast.CondRTL, negate, nil, nil
	}
	p.skipWSPlain()
	if p.buf.HasNext() && p.buf.Current() == '(' {
		p.sc.TryParenthesisExpression()
		if p.sc.Failed() {
			p.fail("expected a parenthesized c++ expression")
		}
		return ast.CondCpp, negate, nil, expr.MakeCpp(p.sc.Get(-1))
	}
	return ast.CondRegular, negate, p.requireVariable(), nil
}

// parseIfOrElif handles "if"/"elif"; the cpp-expression condition form
// cannot be and/or-chained, so the chain loop below only ever
// recognizes empty/regular variable terms.
func (p *parser) parseIfOrElif(pos source.Position, isElif bool) {
	var ifID ast.ID
	if isElif {
		if len(p.ifStack) == 0 {
			p.fail("'elif' without a matching 'if'")
		}
		ifID = p.ifStack[len(p.ifStack)-1]
	} else {
		id, err := p.tree.AddIf(p.current, pos)
		p.wrapAST(err)
		ifID = id
		p.ifStack = append(p.ifStack, ifID)
	}

	kind, negate, v, cpp := p.parseConditionHead()
	condID, err := p.tree.AddCondition(ifID, pos, kind, cpp, v, negate)
	p.wrapAST(err)

	if kind != ast.CondCpp {
		for {
			var op ast.ConditionOp
			if p.tryKeyword("and") {
				op = ast.OpAnd
			} else if p.tryKeyword("or") {
				op = ast.OpOr
			} else {
				break
			}
			neg := p.tryKeyword("not")
			termKind := ast.CondRegular
			if p.tryKeyword("empty") {
				termKind = ast.CondEmpty
			}
			termVar := p.requireVariable()
			p.tree.AddConditionNext(condID, op, termKind, termVar, neg)
		}
	}

	p.skipWSPlain()
	p.expectClose()
	p.current = condID
}

func (p *parser) parseElse(pos source.Position) {
	if len(p.ifStack) == 0 {
		p.fail("'else' without a matching 'if'")
	}
	ifID := p.ifStack[len(p.ifStack)-1]
	p.skipWSPlain()
	p.expectClose()
	condID, err := p.tree.AddCondition(ifID, pos, ast.CondElse, nil, nil, false)
	p.wrapAST(err)
	p.current = condID
}

// --- foreach / item / empty / separator -----------------------------------

// parseForeach handles "foreach NAME [as ID] [rowid NAME [from NUMBER]]
// [reverse] in VARIABLE %>" and opens the implicit prefix part: any
// text up to the first "item"/"empty"/"separator"/"end" belongs there.
func (p *parser) parseForeach(pos source.Position) {
	name := p.requireName()
	as := ""
	if p.tryKeyword("as") {
		as = p.requireIdentifier().Repr()
	}
	rowid := ""
	from := 0
	if p.tryKeyword("rowid") {
		rowid = p.requireName()
		from = 1
		if p.tryKeyword("from") {
			from = p.requireNumberInt()
		}
	}
	reverse := p.tryKeyword("reverse")
	if !p.tryKeyword("in") {
		p.fail("expected 'in'")
	}
	arr := p.requireVariable()
	p.skipWSPlain()
	p.expectClose()

	id, err := p.tree.AddForeach(p.current, pos, name, as, rowid, from, arr, reverse)
	p.wrapAST(err)
	p.foreachStack = append(p.foreachStack, id)
	p.current = p.tree.ForeachPrefix(id, pos)
}

func (p *parser) parseItem(pos source.Position) {
	if len(p.foreachStack) == 0 {
		p.fail("'item' without a matching 'foreach'")
	}
	p.skipWSPlain()
	p.expectClose()
	foreachID := p.foreachStack[len(p.foreachStack)-1]
	p.current = p.tree.ForeachItem(foreachID, pos)
}

// parseForeachPart handles the "empty"/"separator" leaders, each of
// which switches straight to its own part regardless of which part was
// open before; the five loop parts open and close independently.
func (p *parser) parseForeachPart(pos source.Position, which string) {
	if len(p.foreachStack) == 0 {
		p.fail("'" + which + "' without a matching 'foreach'")
	}
	p.skipWSPlain()
	p.expectClose()
	foreachID := p.foreachStack[len(p.foreachStack)-1]
	switch which {
	case "empty":
		p.current = p.tree.ForeachEmpty(foreachID, pos)
	case "separator":
		p.current = p.tree.ForeachSeparator(foreachID, pos)
	}
}

// --- end -------------------------------------------------------------

// closesConstruct inspects the node that End() just closed (and where
// control landed) to decide whether an if/foreach/cache has fully
// closed, so ifStack/foreachStack/cacheStack stay in sync without the
// caller having to interpret the optional NAME itself: a Condition
// always fully closes its If; a ForeachPart only fully closes the loop
// when the new current isn't itself another ForeachPart (i.e. "end
// item" landed in the suffix part, still inside the same loop); a
// Cache always closes outright.
func (p *parser) closesConstruct(closedNode ast.Node, newCurrent ast.ID) {
	switch closedNode.(type) {
	case *ast.Condition:
		if len(p.ifStack) > 0 {
			p.ifStack = p.ifStack[:len(p.ifStack)-1]
		}
	case *ast.ForeachPart:
		if _, stillInLoop := p.tree.Get(newCurrent).(*ast.ForeachPart); !stillInLoop {
			if len(p.foreachStack) > 0 {
				p.foreachStack = p.foreachStack[:len(p.foreachStack)-1]
			}
		}
	case *ast.Cache:
		if len(p.cacheStack) > 0 {
			p.cacheStack = p.cacheStack[:len(p.cacheStack)-1]
		}
	}
}

// parseEnd handles "end [NAME] %>", closing whatever node p.current
// names (ast.Tree.End resolves the optional NAME against it).
func (p *parser) parseEnd(pos source.Position) {
	p.skipWSPlain()
	name := p.peekWordRaw()
	if name != "" {
		p.consumeWord(name)
	}
	p.skipWSPlain()
	p.expectClose()

	closedNode := p.tree.Get(p.current)
	next, err := p.tree.End(p.current, name, pos)
	p.wrapAST(err)
	p.current = next
	p.closesConstruct(closedNode, next)
}

// --- cache / trigger ---------------------------------------------------

// parseCache handles "cache (VAR|STR) [for NUMBER] [on miss VAR] [no
// triggers] [no recording] %>".
func (p *parser) parseCache(pos source.Position) {
	name := p.tryVariableOrString()
	duration := -1
	if p.tryKeyword("for") {
		duration = p.requireNumberInt()
	}
	var miss *expr.Variable
	if p.tryKeyword("on") {
		if !p.tryKeyword("miss") {
			p.fail("expected 'miss' after 'on'")
		}
		miss = p.requireVariable()
	}
	recording, triggersEnabled := true, true
	for p.tryKeyword("no") {
		switch {
		case p.tryKeyword("triggers"):
			triggersEnabled = false
		case p.tryKeyword("recording"):
			recording = false
		default:
			p.fail("expected 'triggers' or 'recording' after 'no'")
		}
	}
	p.skipWSPlain()
	p.expectClose()

	id, err := p.tree.AddCache(p.current, pos, name, miss, duration, recording, triggersEnabled)
	p.wrapAST(err)
	p.cacheStack = append(p.cacheStack, id)
	p.current = id
}

func (p *parser) parseTrigger(pos source.Position) {
	if len(p.cacheStack) == 0 {
		p.fail("'trigger' without a matching 'cache'")
	}
	val := p.tryVariableOrString()
	p.skipWSPlain()
	p.expectClose()
	cacheID := p.cacheStack[len(p.cacheStack)-1]
	_, err := p.tree.AddTrigger(cacheID, pos, val)
	p.wrapAST(err)
}

// --- skin / view / template / c++ ---------------------------------------

// parseSkin handles "skin [NAME] %>"; an absent NAME selects the
// default skin.
func (p *parser) parseSkin(pos source.Position) {
	p.skipWSPlain()
	name := p.peekWordRaw()
	if name != "" {
		p.consumeWord(name)
	} else {
		name = "__default__"
	}
	p.skipWSPlain()
	p.expectClose()
	p.current = p.tree.AddSkin(name, pos)
}

// parseView handles "view NAME uses IDENTIFIER [extends NAME] %>".
func (p *parser) parseView(pos source.Position) {
	name := p.requireName()
	if !p.tryKeyword("uses") {
		p.fail("expected 'uses'")
	}
	data := p.requireIdentifier()
	parentName := ""
	if p.tryKeyword("extends") {
		parentName = p.requireName()
	}
	p.skipWSPlain()
	p.expectClose()
	id, err := p.tree.AddView(name, pos, data.Repr(), parentName)
	p.wrapAST(err)
	p.current = id
}

// parseTemplate handles "template NAME [<ID (, ID)*>] (PARAMLIST) %>".
func (p *parser) parseTemplate(pos source.Position) {
	name := p.requireName()
	var templateArgs []*expr.Identifier
	p.skipWSPlain()
	if p.buf.HasNext() && p.buf.Current() == '<' {
		p.buf.Move(1)
		for {
			p.skipWSPlain()
			templateArgs = append(templateArgs, p.requireIdentifier())
			p.skipWSPlain()
			if p.buf.HasNext() && p.buf.Current() == ',' {
				p.buf.Move(1)
				continue
			}
			break
		}
		p.skipWSPlain()
		if !p.buf.HasNext() || p.buf.Current() != '>' {
			p.fail("expected '>' to close the template type-parameter list")
		}
		p.buf.Move(1)
		p.skipWSPlain()
	}
	params := p.parseTypedParamList()
	p.skipWSPlain()
	p.expectClose()
	id, err := p.tree.AddTemplate(p.current, name, pos, templateArgs, params)
	p.wrapAST(err)
	p.current = id
}

// parseCpp handles an opaque "c++ ... %>" passthrough block: its body
// is copied verbatim into the generated output, so the scanner only
// has to find the closing "%>" rather than parse the contents.
func (p *parser) parseCpp(pos source.Position) {
	p.sc.SkipTo("%>")
	if p.sc.Failed() {
		p.fail("unterminated 'c++' block: missing '%>'")
	}
	cpp := expr.MakeCpp(p.sc.Get(-2))
	if p.current == p.tree.Root.ID() {
		p.tree.AddCpp(cpp, pos)
		return
	}
	p.addStatement(p.tree.NewCppCode(cpp, pos, p.current))
}

// --- gt / format / rformat / url / ngt -----------------------------------

// parseFmtFunction handles "(gt|format|rformat|url) STRING [using ...]
// %>" — the four functions share one grammar, differing only in which
// runtime call the generator emits for verb.
func (p *parser) parseFmtFunction(verb string, pos source.Position) {
	format := p.requireString()
	opts := p.parseUsingOptions()
	p.skipWSPlain()
	p.expectClose()
	p.addStatement(p.tree.NewFmtFunction(verb, format, opts, pos, p.current))
}

// parseNgt handles "ngt STRING, STRING, VARIABLE [using ...] %>".
func (p *parser) parseNgt(pos source.Position) {
	singular := p.requireString()
	if !p.tryComma() {
		p.fail("expected ','")
	}
	plural := p.requireString()
	if !p.tryComma() {
		p.fail("expected ','")
	}
	count := p.requireVariable()
	opts := p.parseUsingOptions()
	p.skipWSPlain()
	p.expectClose()
	p.addStatement(p.tree.NewNgt(singular, plural, count, opts, pos, p.current))
}

// --- include / using / form / csrf / render -------------------------------

// parseInclude handles "include ID(ARGS) [from ID | using ID [with
// VAR]] %>".
func (p *parser) parseInclude(pos source.Position) {
	p.skipWSPlain()
	p.sc.TryName()
	if p.sc.Failed() {
		p.fail("expected an include target name")
	}
	name := p.sc.Get(-1)
	argsText := p.parseArgumentListText()

	from, using := "", ""
	var with *expr.Variable
	switch {
	case p.tryKeyword("from"):
		from = p.requireIdentifier().Repr()
	case p.tryKeyword("using"):
		using = p.requireIdentifier().Repr()
		if p.tryKeyword("with") {
			with = p.requireVariable()
		}
	}
	p.skipWSPlain()
	p.expectClose()

	prefix := ""
	switch {
	case from != "":
		prefix = from + "."
	case using != "":
		prefix = "_using."
	}
	call := expr.MakeCallList(name+argsText, prefix)
	p.addStatement(p.tree.NewInclude(call, from, using, with, pos, p.current))
}

// parseUsing handles "using ID [with VAR] as ID %>", opening a
// children-accepting block closed by "end using" (or "form end" /
// "end form" inside, which is unrelated and closes independently).
func (p *parser) parseUsing(pos source.Position) {
	typeName := p.requireIdentifier().Repr()
	var with *expr.Variable
	if p.tryKeyword("with") {
		with = p.requireVariable()
	}
	if !p.tryKeyword("as") {
		p.fail("expected 'as'")
	}
	as := p.requireIdentifier().Repr()
	p.skipWSPlain()
	p.expectClose()
	id, err := p.tree.AddUsing(p.current, pos, typeName, as, with)
	p.wrapAST(err)
	p.current = id
}

// parseForm handles "form NAME VAR %>" where NAME is a form style
// (as_table/as_p/as_ul/as_dl/as_space/input/begin/block), or the
// sentinel "form end %>" that closes a form opened with begin/block.
func (p *parser) parseForm(pos source.Position) {
	style := p.requireName()
	if style == "end" {
		p.skipWSPlain()
		p.expectClose()
		closedNode := p.tree.Get(p.current)
		next, err := p.tree.End(p.current, "form", pos)
		p.wrapAST(err)
		p.current = next
		p.closesConstruct(closedNode, next)
		return
	}
	v := p.requireVariable()
	p.skipWSPlain()
	p.expectClose()
	id, err := p.tree.AddForm(p.current, pos, style, v)
	p.wrapAST(err)
	p.current = id
}

// parseCsrf handles "csrf [token|script|cookie] %>".
func (p *parser) parseCsrf(pos source.Position) {
	p.skipWSPlain()
	style := p.peekWordRaw()
	if style == "token" || style == "script" || style == "cookie" {
		p.consumeWord(style)
	} else {
		style = ""
	}
	p.skipWSPlain()
	p.expectClose()
	p.addStatement(p.tree.NewCsrf(style, pos, p.current))
}

// parseRender handles "render [(VAR|STR),] (VAR|STR) [with VAR] %>":
// a leading name expression followed by a comma selects a skin;
// otherwise the single name expression is the view.
func (p *parser) parseRender(pos source.Position) {
	first := p.tryVariableOrString()
	var skin, view expr.Expr
	if p.tryComma() {
		skin = first
		view = p.tryVariableOrString()
	} else {
		view = first
	}
	var with *expr.Variable
	if p.tryKeyword("with") {
		with = p.requireVariable()
	}
	p.skipWSPlain()
	p.expectClose()
	p.addStatement(p.tree.NewRender(skin, view, with, pos, p.current))
}
