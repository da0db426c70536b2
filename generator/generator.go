// Package generator walks a parsed ast.Tree and emits host-language
// source text for it. Emission is a type switch over ast.Node rather
// than a method on each node type, so ast stays free of any dependency
// on this package — the same decoupling the expr package uses for its
// own Code method via expr.Scope.
package generator

import (
	"strconv"
	"strings"

	"github.com/codingersid/skinc/ast"
	"github.com/codingersid/skinc/expr"
	"github.com/codingersid/skinc/source"
)

const defaultEscaper = "cppcms::filters::escape"

// Context carries everything Write needs beyond the tree itself: the
// configured variable prefix, the set of names currently in lexical
// scope (template parameters, foreach items, using-bindings), the
// output mode, the skin name requested on the command line (to
// resolve the "__default__" placeholder), and the includes collected
// while walking the tree. It implements expr.Scope so expr.Code can
// call back into it without expr importing this package.
type Context struct {
	Prefix     string
	OutputMode string
	Skin       string

	currentSkin string
	scopeVars   map[string]int
	includes    map[string]bool
	includeList []string
}

// NewContext returns a Context with the default variable prefix
// ("content.") and empty scope/include sets.
func NewContext() *Context {
	return &Context{Prefix: "content.", scopeVars: map[string]int{}, includes: map[string]bool{}}
}

// VariablePrefix implements expr.Scope.
func (c *Context) VariablePrefix() string { return c.Prefix }

// CheckScopeVariable implements expr.Scope: a name is in scope if it
// was added (and not yet removed) by an enclosing template parameter
// list, foreach item, or using-binding.
func (c *Context) CheckScopeVariable(name string) bool {
	return c.scopeVars[name] > 0
}

// addScopeVariable brings name into scope for the duration of the
// caller's child walk. Rebinding a name that is already in scope (a
// foreach item shadowing a template parameter, say) is rejected: the
// emitted code would silently change which object the inner body
// reads.
func (c *Context) addScopeVariable(name string, pos source.Position) error {
	if c.scopeVars[name] > 0 {
		return &ast.Error{Pos: pos, Message: "duplicate local scope variable: " + name}
	}
	c.scopeVars[name]++
	return nil
}

func (c *Context) removeScopeVariable(name string) {
	if c.scopeVars[name] > 0 {
		c.scopeVars[name]--
	}
}

// AddInclude registers a "#include <name>" to be emitted ahead of the
// generated source. format/rformat discover boost/format.hpp only at
// emit time, which is why includes are collected during the walk (and
// the body buffered) instead of being known up front.
func (c *Context) AddInclude(name string) {
	if !c.includes[name] {
		c.includes[name] = true
		c.includeList = append(c.includeList, name)
	}
}

// Includes returns the registered includes in first-seen order.
func (c *Context) Includes() []string { return append([]string(nil), c.includeList...) }

// ln renders a "#line" pragma pointing back at pos, the mechanism
// every emission boundary uses to keep host-language compiler
// diagnostics and debuggers pointed at the original template source.
func ln(pos source.Position) string {
	return "#line " + strconv.Itoa(pos.Line) + " \"" + pos.File + "\"\n"
}

// Write renders tree starting at id into w. id is normally tree.Root.ID().
func Write(tree *ast.Tree, id ast.ID, ctx *Context, w *strings.Builder) error {
	return write(tree, id, ctx, w)
}

func write(tree *ast.Tree, id ast.ID, ctx *Context, w *strings.Builder) error {
	switch n := tree.Get(id).(type) {
	case *ast.Root:
		return writeRoot(tree, n, ctx, w)
	case *ast.View:
		return writeView(tree, n, ctx, w)
	case *ast.Template:
		return writeTemplate(tree, n, ctx, w)
	case *ast.Text:
		w.WriteString(ln(n.Pos()))
		w.WriteString("out() << " + n.Value.Code(ctx) + ";\n")
	case *ast.CppCode:
		w.WriteString(ln(n.Pos()))
		w.WriteString(n.Code.Code(ctx) + "\n")
	case *ast.VariableEmit:
		w.WriteString(ln(n.Pos()))
		w.WriteString("out() << " + variableEmitCode(n, ctx) + ";\n")
	case *ast.FmtFunction:
		writeFmtFunction(n, ctx, w)
	case *ast.Ngt:
		writeNgt(n, ctx, w)
	case *ast.Include:
		return writeInclude(n, ctx, w)
	case *ast.Csrf:
		return writeCsrf(n, w)
	case *ast.Render:
		writeRender(n, ctx, w)
	case *ast.Form:
		return writeForm(tree, n, ctx, w)
	case *ast.Using:
		return writeUsing(tree, n, ctx, w)
	case *ast.If:
		return writeIf(tree, n, ctx, w)
	case *ast.Foreach:
		return writeForeach(tree, n, ctx, w)
	case *ast.Cache:
		return writeCache(tree, n, ctx, w)
	}
	return nil
}

func writeChildren(tree *ast.Tree, ids []ast.ID, ctx *Context, w *strings.Builder) error {
	for _, id := range ids {
		if err := write(tree, id, ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// variableEmitCode folds the filter chain over the variable (rightmost
// filter outermost) and, only when no filters are present, wraps the
// expression in the default escape function: the escaper and an
// explicit filter chain are alternatives, never both.
func variableEmitCode(n *ast.VariableEmit, ctx *Context) string {
	if len(n.Filters) == 0 {
		return defaultEscaper + "(" + n.Variable.Code(ctx) + ")"
	}
	current := n.Variable.Code(ctx)
	for _, f := range n.Filters {
		current = f.Argument(current).Code(ctx)
	}
	return current
}

func writeRoot(tree *ast.Tree, r *ast.Root, ctx *Context, w *strings.Builder) error {
	skins := r.Skins()
	if len(skins) == 0 {
		return &ast.Error{Message: "no skins defined"}
	}
	for i, name := range skins {
		if name == "__default__" {
			if ctx.Skin == "" {
				begin, _ := r.SkinPos("__default__")
				return &ast.Error{Pos: begin, Message: "requested default skin name, but none was provided on the command line"}
			}
			r.RenameSkin("__default__", ctx.Skin)
			skins[i] = ctx.Skin
		}
	}
	if ctx.Skin != "" {
		for _, name := range skins {
			if name != ctx.Skin {
				begin, _ := r.SkinPos(name)
				return &ast.Error{Pos: begin, Message: "mismatched skin names, in argument and template source"}
			}
		}
	}

	var body strings.Builder
	for _, c := range r.Codes() {
		body.WriteString(ln(c.Pos))
		body.WriteString(c.Code.Code(ctx) + "\n")
	}

	type registeredView struct{ name, data string }
	registrations := map[string][]registeredView{}
	var skinOrder []string

	for _, name := range skins {
		begin, end := r.SkinPos(name)
		body.WriteString(ln(begin))
		body.WriteString("namespace " + name + " {\n")
		ctx.currentSkin = name
		views := r.SkinViews(name)
		skinOrder = append(skinOrder, name)
		for _, vid := range views {
			v := tree.Get(vid).(*ast.View)
			registrations[name] = append(registrations[name], registeredView{v.Name(), v.Data()})
			if err := write(tree, vid, ctx, &body); err != nil {
				return err
			}
		}
		body.WriteString(ln(end))
		body.WriteString("} // end of namespace " + name + "\n")
	}

	for _, name := range skinOrder {
		body.WriteString("\nnamespace {\n")
		body.WriteString("cppcms::views::generator my_generator;\n")
		body.WriteString("struct loader {\n")
		body.WriteString("loader() {\n")
		body.WriteString("my_generator.name(\"" + name + "\");\n")
		for _, v := range registrations[name] {
			body.WriteString("my_generator.add_view< " + name + "::" + v.name + ", " + v.data + " >(\"" + v.name + "\", true);\n")
		}
		body.WriteString("cppcms::views::pool::instance().add(my_generator);\n")
		body.WriteString("}\n")
		body.WriteString("~loader() { cppcms::views::pool::instance().remove(my_generator); }\n")
		body.WriteString("} a_loader;\n")
		body.WriteString("} // anon\n")
	}

	for _, inc := range ctx.Includes() {
		w.WriteString("#include <" + inc + ">\n")
	}
	w.WriteString(body.String())
	return nil
}

func writeView(tree *ast.Tree, v *ast.View, ctx *Context, w *strings.Builder) error {
	w.WriteString(ln(v.Pos()))
	w.WriteString("struct " + v.Name() + ":public ")
	if v.Master() != "" {
		w.WriteString(v.Master())
	} else {
		w.WriteString("cppcms::base_view")
	}
	w.WriteString("\n" + ln(v.Pos()) + " {\n")
	w.WriteString(ln(v.Pos()))
	w.WriteString(v.Data() + " & content;\n")
	w.WriteString(ln(v.Pos()))
	w.WriteString(v.Name() + "(std::ostream & _s, " + v.Data() + " & _content):")
	if v.Master() != "" {
		w.WriteString(v.Master() + "(_s, _content)")
	} else {
		w.WriteString("cppcms::base_view(_s)")
	}
	w.WriteString(",content(_content)\n" + ln(v.Pos()) + "{\n" + ln(v.Pos()) + "}\n")

	for _, tid := range v.Templates() {
		if err := write(tree, tid, ctx, w); err != nil {
			return err
		}
	}
	w.WriteString(ln(v.EndPos()) + "}; // end of class " + v.Name() + "\n")
	return nil
}

func writeTemplate(tree *ast.Tree, tpl *ast.Template, ctx *Context, w *strings.Builder) error {
	args := tpl.TemplateArgs()
	params := tpl.Params()
	if len(args) > 0 {
		w.WriteString(ln(tpl.Pos()) + "template<")
		for i, id := range args {
			if i != 0 {
				w.WriteString(", ")
			}
			w.WriteString("typename " + id.Code(ctx))
		}
		w.WriteString(">\n" + ln(tpl.Pos()) + "void " + tpl.Name() + paramListCode(params) + " {\n")
	} else {
		w.WriteString(ln(tpl.Pos()) + "virtual void " + tpl.Name() + paramListCode(params) + " {\n")
	}

	for _, p := range paramNames(params) {
		if err := ctx.addScopeVariable(p, tpl.Pos()); err != nil {
			return err
		}
	}
	if err := writeChildren(tree, tpl.IDs(), ctx, w); err != nil {
		return err
	}
	for _, p := range paramNames(params) {
		ctx.removeScopeVariable(p)
	}
	w.WriteString(ln(tpl.EndLine()) + "} // end of template " + tpl.Name() + "\n")
	return nil
}

// paramListCode renders a template's parameter list; the stored Value
// already carries its parentheses (it is the scanner's matched span).
func paramListCode(p *expr.ParamList) string {
	if p == nil || p.Value == "" {
		return "()"
	}
	return p.Value
}

func paramNames(p *expr.ParamList) []string {
	if p == nil {
		return nil
	}
	names := make([]string, len(p.Params))
	for i, param := range p.Params {
		names[i] = param.Name.Value
	}
	return names
}

func writeFmtFunction(n *ast.FmtFunction, ctx *Context, w *strings.Builder) {
	w.WriteString(ln(n.Pos()))
	switch n.Verb {
	case "url":
		w.WriteString("content.app().mapper().map(out(), " + n.Format.Code(ctx))
		for _, o := range n.Options {
			w.WriteString(", " + usingOptionCode(o, ctx, "cppcms::filters::urlencode"))
		}
		w.WriteString(");\n")
	case "format":
		ctx.AddInclude("boost/format.hpp")
		w.WriteString("out() << cppcms::filters::escape((boost::format(" + n.Format.Code(ctx) + ")")
		for _, o := range n.Options {
			w.WriteString(" % (" + usingOptionCode(o, ctx, "") + ")")
		}
		w.WriteString(").str());\n")
	case "rformat":
		ctx.AddInclude("boost/format.hpp")
		w.WriteString("out() << (boost::format(" + n.Format.Code(ctx) + ")")
		for _, o := range n.Options {
			w.WriteString(" % (" + usingOptionCode(o, ctx, "") + ")")
		}
		w.WriteString(").str();\n")
	default: // gt
		const translate = "cppcms::locale::translate"
		if len(n.Options) == 0 {
			w.WriteString("out() << " + translate + "(" + n.Format.Code(ctx) + ");\n")
		} else {
			w.WriteString("out() << cppcms::locale::format(" + translate + "(" + n.Format.Code(ctx) + ")) ")
			for _, o := range n.Options {
				w.WriteString(" % (" + usingOptionCode(o, ctx, defaultEscaper) + ")")
			}
			w.WriteString(";\n")
		}
	}
}

func usingOptionCode(o ast.UsingOption, ctx *Context, escaper string) string {
	current := o.Variable.Code(ctx)
	if len(o.Filters) == 0 {
		if escaper == "" {
			return current
		}
		return escaper + "(" + current + ")"
	}
	for _, f := range o.Filters {
		current = f.Argument(current).Code(ctx)
	}
	return current
}

func writeNgt(n *ast.Ngt, ctx *Context, w *strings.Builder) {
	w.WriteString(ln(n.Pos()))
	const translate = "cppcms::locale::translate"
	if len(n.Options) == 0 {
		w.WriteString("out() << " + translate + "(" + n.Singular.Code(ctx) + ", " + n.Plural.Code(ctx) + ", " + n.Variable.Code(ctx) + ");\n")
		return
	}
	w.WriteString("out() << cppcms::locale::format(" + translate + "(" + n.Singular.Code(ctx) + ", " + n.Plural.Code(ctx) + ", " + n.Variable.Code(ctx) + "))")
	for _, o := range n.Options {
		w.WriteString(" % (" + usingOptionCode(o, ctx, defaultEscaper) + ")")
	}
	w.WriteString(";\n")
}

func writeInclude(n *ast.Include, ctx *Context, w *strings.Builder) error {
	w.WriteString(ln(n.Pos()))
	switch {
	case n.From != "":
		// "from X" calls through a view bound by "using ... as X"; a
		// name that was never bound has nothing to dispatch to
		if !ctx.CheckScopeVariable(n.From) {
			return &ast.Error{Pos: n.Pos(), Message: "no local view variable " + n.From + " found in context"}
		}
		w.WriteString(n.Call.Code(ctx) + ";")
	case n.Using != "":
		w.WriteString("{\n")
		if n.With != nil {
			w.WriteString(ln(n.Pos()))
			w.WriteString("cppcms::base_content::app_guard _g(" + n.With.Code(ctx) + ", content);\n")
		}
		w.WriteString(ln(n.Pos()))
		w.WriteString(n.Using + " _using(out(), ")
		if n.With != nil {
			w.WriteString(n.With.Code(ctx))
		} else {
			w.WriteString("content")
		}
		w.WriteString(");\n")
		w.WriteString(ln(n.Pos()))
		w.WriteString(n.Call.Code(ctx) + ";\n")
		w.WriteString(ln(n.Pos()) + "}")
	default:
		w.WriteString(n.Call.Code(ctx) + ";")
	}
	w.WriteString("\n")
	return nil
}

func writeCsrf(n *ast.Csrf, w *strings.Builder) error {
	w.WriteString(ln(n.Pos()))
	switch n.Style {
	case "":
		w.WriteString(`out() << "<input type=\"hidden\" name=\"_csrf\" value=\"" << content.app().session().get_csrf_token() << "\" >\n";` + "\n")
	case "token":
		w.WriteString("out() << content.app().session().get_csrf_token();\n")
	case "script":
		w.WriteString("out() << content.app().session().get_csrf_token_script();\n")
	case "cookie":
		w.WriteString("out() << content.app().session().get_csrf_token_cookie_name();\n")
	default:
		return &ast.Error{Pos: n.Pos(), Message: "invalid csrf style: " + n.Style}
	}
	return nil
}

func writeRender(n *ast.Render, ctx *Context, w *strings.Builder) {
	w.WriteString(ln(n.Pos()) + "{\n")
	if n.With != nil {
		w.WriteString(ln(n.Pos()))
		w.WriteString("cppcms::base_content::app_guard _g(" + n.With.Code(ctx) + ", content);\n")
	}
	w.WriteString(ln(n.Pos()) + "cppcms::views::pool::instance().render(")
	if n.Skin != nil {
		w.WriteString(n.Skin.Code(ctx))
	} else {
		w.WriteString(`"` + ctx.currentSkin + `"`)
	}
	w.WriteString(", " + n.View.Code(ctx) + ", out(), ")
	if n.With != nil {
		w.WriteString(n.With.Code(ctx))
	} else {
		w.WriteString("content")
	}
	w.WriteString(");\n")
	w.WriteString(ln(n.Pos()) + "}\n")
}

func writeForm(tree *ast.Tree, f *ast.Form, ctx *Context, w *strings.Builder) error {
	mode := ctx.OutputMode
	if mode == "" {
		mode = "html"
	}
	name := f.Var.Code(ctx)
	switch f.Style {
	case "as_table", "as_p", "as_ul", "as_dl", "as_space":
		w.WriteString(ln(f.Pos()) + "{ ")
		w.WriteString("cppcms::form_context _form_context(out(), cppcms::form_flags::as_" + mode + ", cppcms::form_flags::" + f.Style + "); ")
		w.WriteString("(" + name + ").render(_form_context); }\n")
	case "input":
		w.WriteString(ln(f.Pos()) + " { ")
		w.WriteString("cppcms::form_context _form_context(out(),cppcms::form_flags::as_" + mode + ");\n")
		w.WriteString(ln(f.Pos()) + "_form_context.widget_part(cppcms::form_context::first_part);\n")
		w.WriteString(ln(f.Pos()) + "(" + name + ").render_input(_form_context); ")
		w.WriteString(ln(f.Pos()) + "out() << (" + name + ").attributes_string();\n")
		w.WriteString(ln(f.Pos()) + "_form_context.widget_part(cppcms::form_context::second_part);\n")
		w.WriteString(ln(f.Pos()) + "(" + name + ").render_input(_form_context);\n")
		w.WriteString(ln(f.Pos()) + "}\n")
	case "begin", "block":
		w.WriteString(ln(f.Pos()) + " { ")
		w.WriteString("cppcms::form_context _form_context(out(),cppcms::form_flags::as_" + mode + ");\n")
		w.WriteString(ln(f.Pos()) + "_form_context.widget_part(cppcms::form_context::first_part);\n")
		w.WriteString(ln(f.Pos()) + "(" + name + ").render_input(_form_context); ")
		w.WriteString(ln(f.Pos()) + "}\n")
		if err := writeChildren(tree, f.IDs(), ctx, w); err != nil {
			return err
		}
		end := f.EndLine()
		w.WriteString(ln(end) + " { ")
		w.WriteString("cppcms::form_context _form_context(out(),cppcms::form_flags::as_" + mode + ");\n")
		w.WriteString(ln(end) + "_form_context.widget_part(cppcms::form_context::second_part);\n")
		w.WriteString(ln(end) + "(" + name + ").render_input(_form_context);\n")
		w.WriteString(ln(end) + "}\n")
	}
	return nil
}

func writeUsing(tree *ast.Tree, u *ast.Using, ctx *Context, w *strings.Builder) error {
	w.WriteString(ln(u.Pos()) + "{\n")
	if u.With != nil {
		w.WriteString(ln(u.Pos()))
		w.WriteString("cppcms::base_content::app_guard _g(" + u.With.Code(ctx) + ", content);\n")
	}
	w.WriteString(ln(u.Pos()))
	w.WriteString(u.Type + " " + u.As + "(out(), ")
	if u.With != nil {
		w.WriteString(u.With.Code(ctx))
	} else {
		w.WriteString("content")
	}
	w.WriteString(");\n")
	if err := ctx.addScopeVariable(u.As, u.Pos()); err != nil {
		return err
	}
	if err := writeChildren(tree, u.IDs(), ctx, w); err != nil {
		return err
	}
	ctx.removeScopeVariable(u.As)
	w.WriteString(ln(u.EndLine()) + "}\n")
	return nil
}

func conditionGuard(c *ast.Condition, ctx *Context) string {
	var b strings.Builder
	printOne := func(kind ast.ConditionKind, cpp *expr.Cpp, v *expr.Variable, negate bool) {
		if negate {
			b.WriteString("!(")
		}
		switch kind {
		case ast.CondRegular:
			b.WriteString(v.Code(ctx))
		case ast.CondEmpty:
			b.WriteString(v.Code(ctx) + ".empty()")
		case ast.CondRTL:
			b.WriteString(`(cppcms::locale::translate("LTR").str(out().getloc()) == "RTL")`)
		case ast.CondCpp:
			b.WriteString(cpp.Code(ctx))
		case ast.CondElse:
		}
		if negate {
			b.WriteString(")")
		}
	}
	printOne(c.CondKind, c.Cpp, c.Variable, c.Negate)
	for _, term := range c.Next {
		if term.Op == ast.OpOr {
			b.WriteString(" || ")
		} else {
			b.WriteString(" && ")
		}
		printOne(term.Kind, nil, term.Variable, term.Negate)
	}
	return b.String()
}

func writeIf(tree *ast.Tree, f *ast.If, ctx *Context, w *strings.Builder) error {
	conditions := f.Conditions()
	for i, cid := range conditions {
		c := tree.Get(cid).(*ast.Condition)
		if i > 0 {
			if c.CondKind == ast.CondElse {
				w.WriteString(" else ")
			} else {
				w.WriteString("\n" + ln(c.Pos()) + "else\n")
			}
		}
		if c.CondKind != ast.CondElse {
			w.WriteString(ln(c.Pos()) + "if(" + conditionGuard(c, ctx) + ") {\n")
		} else {
			w.WriteString(ln(c.Pos()) + " {\n")
		}
		if err := writeChildren(tree, c.IDs(), ctx, w); err != nil {
			return err
		}
		w.WriteString(ln(c.EndLine()) + "} ")
	}
	last := tree.Get(conditions[len(conditions)-1]).(*ast.Condition)
	if last.CondKind == ast.CondElse {
		w.WriteString("\n")
	} else {
		w.WriteString(" // endif\n")
	}
	return nil
}

func writeForeach(tree *ast.Tree, f *ast.Foreach, ctx *Context, w *strings.Builder) error {
	array := "(" + f.Array.Code(ctx) + ")"
	item := f.Name
	rowid := f.Rowid
	if rowid == "" {
		rowid = "__rowid"
	}
	itemType := f.As
	if itemType == "" {
		itemType = "CPPCMS_TYPEOF(" + array + ".begin())"
	}
	vtype := "CPPCMS_TYPEOF(*" + item + "_ptr)"
	if f.As != "" {
		vtype = "std::iterator_traits<" + itemType + ">::value_type"
	}

	w.WriteString(ln(f.Pos()))
	w.WriteString("if(" + array + ".begin() != " + array + ".end()) {\n")
	if f.Rowid != "" {
		w.WriteString(ln(f.Pos()) + "int " + rowid + " = 1;\n")
	}
	if id := f.Prefix(); id != 0 {
		p := tree.Get(id).(*ast.ForeachPart)
		if err := writeChildren(tree, p.IDs(), ctx, w); err != nil {
			return err
		}
	}

	itemID := f.Item()
	itemPart := tree.Get(itemID).(*ast.ForeachPart)
	w.WriteString(ln(itemPart.Pos()))
	w.WriteString("for (" + itemType + " " + item + "_ptr = " + array + ".begin(), " + item + "_ptr_end = " + array + ".end(); " + item + "_ptr != " + item + "_ptr_end; ++" + item + "_ptr")
	if f.Rowid != "" {
		w.WriteString(", ++" + rowid + ") {\n")
	} else {
		w.WriteString(") {\n")
	}
	w.WriteString(ln(itemPart.Pos()))
	w.WriteString(vtype + " & " + item + " = *" + item + "_ptr;\n")

	if f.Rowid != "" {
		if err := ctx.addScopeVariable(rowid, f.Pos()); err != nil {
			return err
		}
	}
	if err := ctx.addScopeVariable(item, f.Pos()); err != nil {
		return err
	}

	if id := f.Separator(); id != 0 {
		p := tree.Get(id).(*ast.ForeachPart)
		w.WriteString(ln(p.Pos()))
		w.WriteString("if(" + item + "_ptr != " + array + ".begin()) {\n")
		if err := writeChildren(tree, p.IDs(), ctx, w); err != nil {
			return err
		}
		w.WriteString(ln(p.EndLine()) + "} // end of separator\n")
	}
	if err := writeChildren(tree, itemPart.IDs(), ctx, w); err != nil {
		return err
	}

	if f.Rowid != "" {
		ctx.removeScopeVariable(rowid)
	}
	ctx.removeScopeVariable(item)
	w.WriteString(ln(itemPart.EndLine()) + "} // end of item\n")

	var suffixEnd source.Position = itemPart.EndLine()
	if id := f.Suffix(); id != 0 {
		p := tree.Get(id).(*ast.ForeachPart)
		if err := writeChildren(tree, p.IDs(), ctx, w); err != nil {
			return err
		}
		suffixEnd = p.EndLine()
	}

	if id := f.Empty(); id != 0 {
		p := tree.Get(id).(*ast.ForeachPart)
		w.WriteString(ln(p.Pos()))
		w.WriteString("} else {\n")
		if err := writeChildren(tree, p.IDs(), ctx, w); err != nil {
			return err
		}
		w.WriteString(ln(p.EndLine()) + "} // end of empty\n")
	} else {
		w.WriteString(ln(suffixEnd))
		w.WriteString("}\n")
	}
	return nil
}

func writeCache(tree *ast.Tree, c *ast.Cache, ctx *Context, w *strings.Builder) error {
	w.WriteString(ln(c.Pos()) + "{\nstd::string _cppcms_temp_val;\n")
	w.WriteString(ln(c.Pos()) + "\tif (content.app().cache().fetch_frame(" + c.Name.Code(ctx) + ", _cppcms_temp_val))\n")
	w.WriteString(ln(c.Pos()) + "\t\tout() << _cppcms_temp_val;\n")
	w.WriteString(ln(c.Pos()) + "\telse {")
	w.WriteString(ln(c.Pos()) + "\t\tcppcms::copy_filter _cppcms_cache_flt(out());\n")
	if c.Recording {
		w.WriteString(ln(c.Pos()) + "\t\tcppcms::triggers_recorder _cppcms_trig_rec(content.app().cache());\n")
	}
	if c.Miss != nil {
		w.WriteString(ln(c.Pos()) + "\t\t" + c.Miss.Code(ctx) + ";\n")
	}
	if err := writeChildren(tree, c.IDs(), ctx, w); err != nil {
		return err
	}
	end := c.EndLine()
	w.WriteString(ln(end) + "content.app().cache().store_frame(" + c.Name.Code(ctx) + ", _cppcms_cache_flt.detach(),")
	if c.Recording {
		w.WriteString("_cppcms_trig_rec.detach(),")
	} else {
		w.WriteString("std::set<std::string>(),")
	}
	w.WriteString(strconv.Itoa(c.Duration) + ", ")
	if c.TriggersEnabled {
		w.WriteString("false")
	} else {
		w.WriteString("true")
	}
	w.WriteString(");\n")
	w.WriteString(ln(end) + "\t}} // cache\n")
	return nil
}
