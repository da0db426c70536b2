// Package expr implements the typed expression model every directive
// argument is parsed into: numbers, strings, names, scoped
// identifiers, dotted/arrow variable chains, call lists, filters,
// parameter lists, opaque host-language snippets, and the three text
// literal kinds (plain/html/xhtml). Each expression knows how to
// render its own source-level representation (Repr) and how to emit
// target-language code for it (Code); dispatch across expression
// kinds uses a Kind tag and a type switch.
package expr

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Kind tags which expression variant a value is, for diagnostics and
// for callers that need to type-switch without importing every
// concrete type.
type Kind int

const (
	KindNumber Kind = iota
	KindString
	KindName
	KindIdentifier
	KindVariable
	KindCallList
	KindParamList
	KindFilter
	KindCpp
	KindText
	KindHTML
	KindXHTML
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindName:
		return "name"
	case KindIdentifier:
		return "identifier"
	case KindVariable:
		return "variable"
	case KindCallList:
		return "call_list"
	case KindParamList:
		return "param_list"
	case KindFilter:
		return "filter"
	case KindCpp:
		return "cpp"
	case KindText:
		return "text"
	case KindHTML:
		return "html"
	case KindXHTML:
		return "xhtml"
	default:
		return "unknown"
	}
}

// Scope is the minimal emission-context surface an expression needs
// in order to render Code: whether a bare name refers to a variable
// already in scope (and so needs no prefix) and what prefix to apply
// to names that aren't. generator.Context implements this; expr does
// not import generator, keeping the dependency one-directional.
type Scope interface {
	CheckScopeVariable(name string) bool
	VariablePrefix() string
}

// Expr is any node of the expression model.
type Expr interface {
	Kind() Kind
	Repr() string
	Code(scope Scope) string
}

// Number is a numeric literal, stored and emitted verbatim (its
// lexical form, e.g. "-1.5" or "0x1F", is also valid target-language
// syntax).
type Number struct{ Value string }

func MakeNumber(repr string) *Number { return &Number{Value: repr} }

func (n *Number) Kind() Kind             { return KindNumber }
func (n *Number) Repr() string           { return n.Value }
func (n *Number) Code(Scope) string      { return n.Value }
func (n *Number) Int() (int, error)      { return strconv.Atoi(n.Value) }
func (n *Number) Float() (float64, error) { return strconv.ParseFloat(n.Value, 64) }

// Name is a single bare NAME token — an identifier component with no
// "::" scoping and no variable-chain semantics.
type Name struct{ Value string }

func MakeName(repr string) *Name { return &Name{Value: repr} }

func (n *Name) Kind() Kind        { return KindName }
func (n *Name) Repr() string      { return n.Value }
func (n *Name) Code(Scope) string { return n.Value }

// Less orders two names lexicographically by representation.
func (n *Name) Less(other *Name) bool { return n.Value < other.Value }

// Identifier is a "::"-joined, optionally template-argument-bearing
// scoped name (e.g. "std::vector<int>"), emitted verbatim.
type Identifier struct{ Value string }

func MakeIdentifier(repr string) *Identifier { return &Identifier{Value: repr} }

func (id *Identifier) Kind() Kind        { return KindIdentifier }
func (id *Identifier) Repr() string      { return id.Value }
func (id *Identifier) Code(Scope) string { return id.Value }

// Cpp is an opaque passthrough host-language snippet: whatever the
// template author wrote verbatim inside "<% c++ ... %>" is carried
// unexamined and emitted unexamined.
type Cpp struct{ Value string }

func MakeCpp(repr string) *Cpp { return &Cpp{Value: repr} }

func (c *Cpp) Kind() Kind        { return KindCpp }
func (c *Cpp) Repr() string      { return c.Value }
func (c *Cpp) Code(Scope) string { return c.Value }

// Text, HTML and XHTML are the three literal-text kinds: plain
// template output, and the two escaping dialects applied to it by the
// generator. All three store their value with control characters
// escaped and emit it double-quoted.
type Text struct{ Value string }
type HTML struct{ Value string }
type XHTML struct{ Value string }

func MakeText(repr string) *Text   { return &Text{Value: compressHTML(repr)} }
func MakeHTML(repr string) *HTML   { return &HTML{Value: compressHTML(repr)} }
func MakeXHTML(repr string) *XHTML { return &XHTML{Value: compressHTML(repr)} }

func (t *Text) Kind() Kind        { return KindText }
func (t *Text) Repr() string      { return `"` + t.Value + `"` }
func (t *Text) Code(Scope) string { return `"` + t.Value + `"` }

func (h *HTML) Kind() Kind        { return KindHTML }
func (h *HTML) Repr() string      { return `"` + h.Value + `"` }
func (h *HTML) Code(Scope) string { return `"` + h.Value + `"` }

func (x *XHTML) Kind() Kind        { return KindXHTML }
func (x *XHTML) Repr() string      { return `"` + x.Value + `"` }
func (x *XHTML) Code(Scope) string { return `"` + x.Value + `"` }

// String is a double-quoted STRING literal. Value holds the quoted,
// re-escaped form (as compressString produces it); Unescaped decodes
// it back to the raw bytes the author meant, for contexts that need the
// decoded text rather than target-language source.
type String struct{ Value string }

func MakeString(repr string) *String { return &String{Value: compressString(repr)} }

func (s *String) Kind() Kind        { return KindString }
func (s *String) Repr() string      { return s.Value }
func (s *String) Code(Scope) string { return s.Value }
func (s *String) Unescaped() string { return decodeEscapedString(s.Value) }

// CallList is a NAME followed by a parenthesized, comma-separated
// argument list and a prefix applied at emit time: the parser fills
// Prefix in with "", "_using." or a bound view name followed by "."
// depending on where the call appears, and MakeFilter uses
// "cppcms::filters::" or "$var" (the scope's variable prefix).
type CallList struct {
	Value     string
	Arguments []Expr
	Prefix    string
	current   string
}

// MakeCallList splits repr (e.g. "foo(a, b)") into its callee name and
// argument expressions, recognizing each argument as a string, number
// or variable.
func MakeCallList(repr, prefix string) *CallList {
	name, args := splitFunctionCall(repr)
	return &CallList{Value: name, Arguments: args, Prefix: prefix}
}

func (c *CallList) Kind() Kind { return KindCallList }

func (c *CallList) Repr() string {
	var b strings.Builder
	b.WriteString(c.Value)
	b.WriteByte('(')
	for _, a := range c.Arguments {
		b.WriteString(a.Repr())
		b.WriteByte(',')
	}
	result := b.String()
	return result[:len(result)-1] + ")"
}

// Argument sets an implicit first argument prepended to the call
// (e.g. the subject of a filter), returning c for chaining.
func (c *CallList) Argument(arg string) *CallList {
	c.current = arg
	return c
}

func (c *CallList) Code(scope Scope) string {
	var b strings.Builder
	if c.Prefix == "$var" {
		b.WriteString(scope.VariablePrefix())
	} else {
		b.WriteString(c.Prefix)
	}
	b.WriteString(c.Value)
	b.WriteString("(  ")
	if c.current != "" {
		b.WriteString(c.current)
		b.WriteString(", ")
	}
	for _, a := range c.Arguments {
		// an empty "()" splits into one blank argument; emit nothing for it
		code := a.Code(scope)
		if code == "" {
			continue
		}
		b.WriteString(code)
		b.WriteString(", ")
	}
	result := b.String()
	return result[:len(result)-2] + ")"
}

// Filter is a call list invoked through "|" in a complex variable,
// with an optional leading "ext" keyword marking it as an expression
// filter rather than a cppcms::filters:: function.
type Filter struct {
	CallList
	Ext bool
}

// MakeFilter parses "[ext ]NAME[(args)]" into a Filter. When "ext " is
// present, the call is emitted against the variable prefix directly
// instead of the cppcms::filters:: namespace.
func MakeFilter(repr string) *Filter {
	body, ext := repr, false
	const extPrefix = "ext "
	if strings.HasPrefix(repr, extPrefix) {
		body, ext = repr[len(extPrefix):], true
	}
	prefix := "cppcms::filters::"
	if ext {
		prefix = "$var"
	}
	return &Filter{CallList: *MakeCallList(body, prefix), Ext: ext}
}

func (f *Filter) Kind() Kind   { return KindFilter }
func (f *Filter) IsExp() bool  { return f.Ext }
func (f *Filter) Repr() string { return f.CallList.Repr() }

func (f *Filter) Code(scope Scope) string {
	// the ext flag already chose the prefix at construction, so both
	// filter kinds emit through the same path
	return f.CallList.Code(scope)
}

// Param is one entry of a ParamList: a type identifier, const/ref
// qualifiers, and a name.
type Param struct {
	Type    *Identifier
	IsConst bool
	IsRef   bool
	Name    *Name
}

// ParamList is a parenthesized, comma-separated list of typed
// parameter declarations (used by template declarations,
// "template NAME(TYPE name, ...)").
type ParamList struct {
	Value  string
	Params []Param
}

func MakeParamList(repr string, params []Param) *ParamList {
	return &ParamList{Value: strings.TrimSpace(repr), Params: params}
}

func (p *ParamList) Kind() Kind        { return KindParamList }
func (p *ParamList) Repr() string      { return p.Value }
func (p *ParamList) Code(Scope) string { return p.Value }

// variablePart is one dot/arrow-separated segment of a Variable chain:
// a name (subscripts like "[0]" ride along inside it verbatim), its
// call arguments if it was invoked as a function, and the separator
// that followed it ("." , "->", or "" at the end).
type variablePart struct {
	name       string
	arguments  []Expr
	separator  string
	isFunction bool
}

// Variable is a dotted/arrow chain of names, each optionally called as
// a function with its own (recursively parsed) argument list, and
// optionally dereferenced with a leading "*".
type Variable struct {
	Value   string
	IsDeref bool
	parts   []variablePart
}

// MakeVariable parses a variable-chain expression like
// "*data->point.x(1, \"y\")" into its dereference flag and part chain.
// It panics on malformed input: callers parse these from
// already-scanner-validated text, so a malformed chain here is a
// compiler bug, not a user-facing parse error.
func MakeVariable(repr string) *Variable {
	v, _, err := parseVariable(repr, true, 0)
	if err != nil {
		panic(errors.Wrap(err, "expr: malformed variable expression"))
	}
	return v
}

func (v *Variable) Kind() Kind   { return KindVariable }
func (v *Variable) Repr() string { return v.Value }

func (v *Variable) Code(scope Scope) string {
	var b strings.Builder
	if v.IsDeref {
		b.WriteByte('*')
	}
	for i, part := range v.parts {
		if i != 0 || scope.CheckScopeVariable(part.name) {
			b.WriteString(part.name)
		} else {
			b.WriteString(scope.VariablePrefix())
			b.WriteString(part.name)
		}
		if part.isFunction {
			b.WriteByte('(')
			for j, a := range part.arguments {
				if j != 0 {
					b.WriteString(", ")
				}
				b.WriteString(a.Code(scope))
			}
			b.WriteByte(')')
		}
		b.WriteString(part.separator)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// parseVariable parses a variable-chain expression starting at pos
// within input. When consumeAll is true, trailing non-whitespace after
// the chain is a parse error (top-level use); when false, parsing
// stops at the first unconsumed separator/space/comma/close-paren,
// letting a caller (parseArguments, in particular) resume from the
// returned position — this is how a variable used as a call argument
// can itself contain a nested call's argument list.
func parseVariable(input string, consumeAll bool, pos int) (*Variable, int, error) {
	i := pos
	for i < len(input) && isSpace(input[i]) {
		i++
	}
	v := &Variable{Value: input}
	if i < len(input) && input[i] == '*' {
		v.IsDeref = true
		i++
	}
	for i < len(input) && isSpace(input[i]) {
		i++
	}

	var name string
	var args []Expr
	function := false
chain:
	for i < len(input) {
		c := input[i]
		switch {
		case c == '.':
			v.parts = append(v.parts, variablePart{name: name, arguments: args, separator: ".", isFunction: function})
			args, function, name = nil, false, ""
			i++
		case c == '-' && i < len(input)-1 && input[i+1] == '>':
			v.parts = append(v.parts, variablePart{name: name, arguments: args, separator: "->", isFunction: function})
			args, function, name = nil, false, ""
			i += 2
		case c == '(':
			var err error
			args, i, err = parseArguments(input, i)
			if err != nil {
				return nil, i, err
			}
			function = true
		case isSpace(c), c == ',' || c == ')':
			break chain // leave name/args for the trailer below to close out
		default:
			name += string(c)
			i++
		}
	}
	if name != "" {
		v.parts = append(v.parts, variablePart{name: name, arguments: args, isFunction: function})
	}
	for i < len(input) && isSpace(input[i]) {
		i++
	}
	if consumeAll && i != len(input) {
		return nil, i, errors.Errorf("parse error at variable expression, characters left: %q", input[i:])
	}
	return v, i, nil
}

// parseArguments parses the comma-separated argument list of a
// variable-call part, starting just after the opening '(' at index i,
// and returns the parsed arguments and the index just past the
// closing ')'.
func parseArguments(input string, i int) ([]Expr, int, error) {
	i++ // past '('
	for i < len(input) && isSpace(input[i]) {
		i++
	}
	var args []Expr
	separated := true
	for i < len(input) {
		c := input[i]
		hasNext := i < len(input)-1
		var next byte
		if hasNext {
			next = input[i+1]
		}
		switch {
		case separated && c == '"':
			e, ni, err := parseStringArg(input, i)
			if err != nil {
				return nil, i, err
			}
			args = append(args, e)
			i = ni
			separated = false
		case separated && ((c == '-' && hasNext && isDigit(next)) || isDigit(c)):
			e, ni := parseNumberArg(input, i)
			args = append(args, e)
			i = ni
			separated = false
		case isSpace(c):
			i++
		case c == ',':
			separated = true
			i++
		case c == ')':
			goto closed
		case separated:
			v, ni, err := parseVariable(input, false, i)
			if err != nil {
				return nil, i, err
			}
			args = append(args, v)
			i = ni
			separated = false
		default:
			return nil, i, errors.Errorf("argument is neither string, variable or number: %q", input[i:])
		}
	}
closed:
	if i < len(input) && input[i] == ')' {
		return args, i + 1, nil
	}
	return nil, i, errors.New("unterminated argument list")
}

func parseStringArg(input string, i int) (Expr, int, error) {
	start := i
	escaped := false
	i++
	for i < len(input) {
		c := input[i]
		if c == '"' && !escaped {
			break
		} else if c == '\\' && !escaped {
			escaped = true
		} else {
			escaped = false
		}
		i++
	}
	if i < len(input) && input[i] == '"' {
		i++
		return MakeString(input[start:i]), i, nil
	}
	return nil, i, errors.New("unterminated string")
}

func parseNumberArg(input string, i int) (Expr, int) {
	start := i
	oct, hex, dot := false, false, false
	if input[i] == '-' || input[i] == '+' {
		i++
	}
	if i < len(input)-2 && input[i] == '0' && input[i+1] == 'x' {
		i += 2
		hex = true
	} else if input[i] == '0' {
		oct = true
	}
	for i < len(input) {
		c := input[i]
		switch {
		case c >= '0' && c <= '7':
		case !oct && c >= '8' && c <= '9':
		case hex && ((c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')):
		case !dot && c == '.':
			dot = true
		default:
			goto stop
		}
		i++
	}
stop:
	return MakeNumber(input[start:i]), i
}

// recognizeExpr classifies a trimmed call-argument substring as a
// string, hex/decimal number, or variable.
func recognizeExpr(input string) Expr {
	trimmed := strings.TrimSpace(input)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '"':
		return MakeString(trimmed)
	case len(trimmed) >= 3 && trimmed[0] == '0' && trimmed[1] == 'x':
		return MakeNumber(trimmed)
	case isNumberLiteral(trimmed):
		return MakeNumber(trimmed)
	default:
		return MakeVariable(trimmed)
	}
}

func isNumberLiteral(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '-' && c != '.' && c != '+' && !isDigit(c) {
			return false
		}
	}
	return true
}

// splitFunctionCall splits "name(arg1, arg2, ...)" into the callee
// name and its recognized argument expressions, tracking (), [] and
// <> bracket depth and both quote kinds so a comma inside a nested
// call or a string literal doesn't split the argument list early. A
// callee with no parentheses at all (bare "name") yields zero
// arguments.
func splitFunctionCall(call string) (string, []Expr) {
	beg := strings.IndexByte(call, '(')
	if beg < 0 {
		return call, nil
	}
	name := call[:beg]
	end := len(call)

	var args []Expr
	bracketsA, bracketsB, bracketsC := 0, 0, 0
	inString, escaped := false, false
	next := beg + 1
	for i := beg + 1; i < end-1; i++ {
		c := call[i]
		switch {
		case bracketsA == 0 && bracketsB == 0 && bracketsC == 0 && !inString && c == ',':
			args = append(args, recognizeExpr(call[next:i]))
			next = i + 1
		case c == '(' && !inString:
			bracketsA++
		case c == ')' && !inString:
			bracketsA--
		case c == '[' && !inString:
			bracketsB++
		case c == ']' && !inString:
			bracketsB--
		case c == '<' && !inString:
			bracketsC++
		case c == '>' && !inString:
			bracketsC--
		case c == '"' && !inString:
			inString = true
		case c == '"' && inString && !escaped:
			inString = false
		case c == '\\' && inString && !escaped:
			escaped = true
		default:
			escaped = false
		}
	}
	args = append(args, recognizeExpr(call[next:end-1]))
	return name, args
}

var hexDigit = [256]int{}

func init() {
	for i := range hexDigit {
		hexDigit[i] = -1
	}
	for c := byte('0'); c <= '9'; c++ {
		hexDigit[c] = int(c - '0')
	}
	for c := byte('a'); c <= 'f'; c++ {
		hexDigit[c] = int(c-'a') + 10
	}
	for c := byte('A'); c <= 'F'; c++ {
		hexDigit[c] = int(c-'A') + 10
	}
}

// decodeEscapedString decodes the full C-style escape set
// (\a\b\f\n\r\t\v\\\'\"\? plus \xHH and octal \ooo) in a quoted string
// literal's raw text back to the bytes the template author meant.
func decodeEscapedString(input string) string {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(input); i++ {
		c := input[i]
		if escaped {
			escaped = false
			switch c {
			case '\'', '"', '?', '\\':
				b.WriteByte(c)
			case 'a':
				b.WriteByte('\a')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'v':
				b.WriteByte('\v')
			case 'x':
				if i+2 >= len(input) {
					break
				}
				v := hexDigit[input[i+1]]*16 + hexDigit[input[i+2]]
				if v >= 0 {
					b.WriteByte(byte(v))
					i += 2
				}
			default:
				if c >= '0' && c <= '7' && i+2 < len(input) {
					o1, o2, o3 := input[i], input[i+1], input[i+2]
					if o2 >= '0' && o2 <= '7' && o3 >= '0' && o3 <= '7' {
						b.WriteByte(byte((o1-'0')*64 + (o2-'0')*8 + (o3 - '0')))
						i += 2
					} else {
						b.WriteByte('\\')
						b.WriteByte(c)
					}
				} else {
					b.WriteByte('\\')
					b.WriteByte(c)
				}
			}
		} else if c == '\\' {
			escaped = true
		} else {
			b.WriteByte(c)
		}
	}
	if escaped {
		b.WriteByte('\\')
	}
	return b.String()
}

var controlEscape = map[byte]byte{
	'\a': 'a', '\b': 'b', '\f': 'f', '\n': 'n', '\r': 'r', '\t': 't', '\v': 'v',
}

// compressHTML re-escapes control characters and quote/backslash
// characters in a raw HTML/text literal's body for embedding in a
// double-quoted target-language string, without adding the
// surrounding quotes (the caller's Repr/Code does that).
func compressHTML(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '"':
			b.WriteString(`\"`)
		case c == '\\':
			b.WriteString(`\\`)
		default:
			if esc, ok := controlEscape[c]; ok {
				b.WriteByte('\\')
				b.WriteByte(esc)
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// compressString re-escapes the body of an already-quoted string
// literal (input includes its surrounding quotes), preserving
// existing \" escapes and adding escapes for any control character or
// other backslash it finds raw in the body; other bytes, quotes
// included, are copied unchanged.
func compressString(input string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 1; i < len(input)-1; i++ {
		c := input[i]
		switch {
		case c == '\\' && i+1 < len(input)-1 && input[i+1] == '"':
			b.WriteString(`\"`)
			i++
		case c == '\\':
			b.WriteString(`\\`)
		default:
			if esc, ok := controlEscape[c]; ok {
				b.WriteByte('\\')
				b.WriteByte(esc)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}
