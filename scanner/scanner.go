// Package scanner implements the backtracking recognizer that drives
// the template parser directly over a source.Buffer: an index stack
// (pushed only on success), a fail counter (incremented only on
// failure), and a separate save-state stack used to retry a rule as a
// different alternative. The parser's structural validation interleaves
// this state with tree mutation mid-rule, which is why it is a
// hand-written state machine and not a combinator library.
package scanner

import (
	"github.com/pkg/errors"

	"github.com/codingersid/skinc/source"
)

func isLatinLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// Detail records which alternative matched inside a rule that accepts
// more than one token kind (e.g. an argument_list slot that may be a
// variable, a string or a number). Detail pairs are pushed in match
// order so callers can tell, after the fact, which branch a rule took.
type Detail struct {
	What string
	Item string
}

// entry is one index-stack slot: the byte offset the matched token
// started at, and the matched text itself.
type entry struct {
	index int
	token string
}

// saveState is one save-stack slot: a push()-time snapshot of (index,
// failed) that reset() restores.
type saveState struct {
	index  int
	failed int
}

// Error is raised by Raise: a parse failure at a specific buffer
// position, with a 70-character window of context on either side, per
// the diagnostic contract shared with the rest of the compiler.
type Error struct {
	Pos     source.Position
	Left    string
	Right   string
	Message string
}

func (e *Error) Error() string {
	return "parse error at " + e.Pos.File + ":" + itoa(e.Pos.Line) + " near '" + e.Left + "|" + e.Right + "': " + e.Message
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

const errorContext = 70

// Scanner is a stateful, mutable recognizer over a single source.Buffer.
// Every Try* method attempts to recognize a grammar fragment at the
// current position: on success it advances the buffer and pushes one
// entry onto the index stack; on failure it leaves the buffer alone
// (or rewinds to where it started) and increments the fail counter.
// Methods return the Scanner itself so grammar rules read as chains.
type Scanner struct {
	buf     *source.Buffer
	stack   []entry
	failed  int
	saves   []saveState
	details []Detail
}

// New wraps buf in a Scanner positioned at its current index.
func New(buf *source.Buffer) *Scanner {
	return &Scanner{buf: buf}
}

// Buffer returns the underlying source buffer, e.g. so a caller can
// read Position() for diagnostics once a rule has matched.
func (s *Scanner) Buffer() *source.Buffer { return s.buf }

// Failed reports whether the last attempted rule (or chain of rules
// since the fail counter was last cleared by Back) did not match.
func (s *Scanner) Failed() bool { return s.failed != 0 }

// OK is the logical negation of Failed.
func (s *Scanner) OK() bool { return s.failed == 0 }

// Finished reports whether the scanner has consumed the entire buffer
// and the index stack is empty or its last entry's token ends at the
// current index.
func (s *Scanner) Finished() bool {
	atTail := len(s.stack) == 0
	if !atTail {
		top := s.stack[len(s.stack)-1]
		atTail = top.index+len(top.token) == s.buf.Index()
	}
	return atTail && s.buf.Index() == s.buf.Length()
}

// Get returns the token text of the n-th-from-top index-stack entry;
// n == -1 is the most recently pushed entry, n == -2 the one before
// that, and so on.
func (s *Scanner) Get(n int) string {
	i := len(s.stack) + n
	if i < 0 || i >= len(s.stack) {
		return ""
	}
	return s.stack[i].token
}

// Back discards the last n fail-counter increments and/or index-stack
// entries, in that order: it first absorbs failures (cheap, since they
// never touched the buffer), then for each remaining count pops one
// index-stack entry and rewinds the buffer to that entry's start
// offset. Used to retry a failed alternative from the position the
// current rule started at.
func (s *Scanner) Back(n int) *Scanner {
	if n > s.failed+len(s.stack) {
		panic(errors.Errorf("scanner: back(%d) exceeds stack depth %d + failed %d", n, len(s.stack), s.failed))
	}
	if n >= s.failed {
		n -= s.failed
		s.failed = 0
		for ; n > 0; n-- {
			top := s.stack[len(s.stack)-1]
			s.stack = s.stack[:len(s.stack)-1]
			s.buf.MoveTo(top.index)
		}
	} else {
		s.failed -= n
	}
	return s
}

// Push saves the current (index, failed) pair so a later Reset can
// return to it — used at the start of a rule that may need to try
// several alternatives from the same starting point.
func (s *Scanner) Push() {
	s.saves = append(s.saves, saveState{index: s.buf.Index(), failed: s.failed})
}

// Pop discards the most recent save-state snapshot without using it.
func (s *Scanner) Pop() {
	if len(s.saves) == 0 {
		panic(errors.New("scanner: pop on empty save-state stack"))
	}
	s.saves = s.saves[:len(s.saves)-1]
}

// Reset rewinds the buffer and fail counter to the most recent save
// point, without popping it — so a rule can Reset() repeatedly to try
// each alternative from the same start, then Pop() once it's done.
func (s *Scanner) Reset() *Scanner {
	if len(s.saves) == 0 {
		panic(errors.New("scanner: reset on empty save-state stack"))
	}
	top := s.saves[len(s.saves)-1]
	s.buf.MoveTo(top.index)
	s.failed = top.failed
	return s
}

// Compress collapses every index-stack entry pushed since the most
// recent Push into a single entry spanning from the save point to the
// current buffer index — used once a multi-step rule has committed, so
// an enclosing rule's Back(1) undoes it as one unit.
func (s *Scanner) Compress() {
	if len(s.saves) == 0 {
		panic(errors.New("scanner: compress on empty save-state stack"))
	}
	top := s.saves[len(s.saves)-1]
	cut := len(s.stack)
	for cut > 0 && s.stack[cut-1].index >= top.index {
		cut--
	}
	s.stack = append(s.stack[:cut], entry{index: top.index, token: s.buf.Slice(top.index, s.buf.Index())})
}

// Raise panics with an *Error describing a failure at the current
// position, with errorContext bytes of surrounding text. Parse rules
// that hit a genuinely unrecoverable syntax error (as opposed to one
// that should be retried as a different alternative) call this; the
// parser package recovers it at the top-level directive loop.
func (s *Scanner) Raise(msg string) {
	idx := s.buf.Index()
	left := s.buf.LeftContext(errorContext)
	right := s.buf.RightContext(errorContext)
	panic(&Error{Pos: s.buf.PositionAt(idx), Left: left, Right: right, Message: msg})
}

func (s *Scanner) pushDetail(what, item string) {
	s.details = append(s.details, Detail{What: what, Item: item})
}

// PopDetail removes and returns the most recently pushed Detail.
func (s *Scanner) PopDetail() Detail {
	d := s.details[len(s.details)-1]
	s.details = s.details[:len(s.details)-1]
	return d
}

// HasDetails reports whether any Detail remains on the detail stack.
func (s *Scanner) HasDetails() bool { return len(s.details) > 0 }

// TryToken recognizes an exact literal at the current position.
func (s *Scanner) TryToken(token string) *Scanner {
	if s.failed == 0 && s.buf.Compare(s.buf.Index(), token) {
		s.stack = append(s.stack, entry{index: s.buf.Index(), token: token})
		s.buf.Move(len(token))
	} else {
		s.failed++
	}
	return s
}

// TryTokenWS recognizes a literal token followed by mandatory trailing
// whitespace.
func (s *Scanner) TryTokenWS(token string) *Scanner {
	s.TryToken(token)
	s.SkipWS(true)
	return s
}

// TryTokenNL recognizes a literal token and, if present, consumes one
// immediately following newline.
func (s *Scanner) TryTokenNL(token string) *Scanner {
	s.TryToken(token)
	if s.failed == 0 && s.buf.HasNext() && s.buf.Current() == '\n' {
		s.buf.Move(1)
	}
	return s
}

// TryOneOfTokens recognizes the first of tokens that matches at the
// current position.
func (s *Scanner) TryOneOfTokens(tokens []string) *Scanner {
	for _, t := range tokens {
		s.Push()
		s.TryToken(t)
		if s.OK() {
			s.Pop()
			return s
		}
		s.Reset()
		s.Pop()
	}
	s.failed++
	return s
}

// TryName recognizes a NAME: a Latin letter or underscore followed by
// letters, digits or underscores.
func (s *Scanner) TryName() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	start := s.buf.Index()
	c := s.buf.Current()
	if !isLatinLetter(c) && c != '_' {
		s.failed++
		return s
	}
	s.buf.Move(1)
	for s.buf.HasNext() {
		c := s.buf.Current()
		if isLatinLetter(c) || isDigit(c) || c == '_' {
			s.buf.Move(1)
			continue
		}
		break
	}
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, s.buf.Index())})
	return s
}

// TryNameWS recognizes a NAME followed by mandatory whitespace.
func (s *Scanner) TryNameWS() *Scanner {
	s.TryName()
	s.SkipWS(true)
	return s
}

// TryString recognizes a double-quoted STRING literal, honoring
// backslash escapes so an escaped quote doesn't end it early. The
// matched token includes the surrounding quotes; decoding escapes is
// the expr package's job.
func (s *Scanner) TryString() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	start := s.buf.Index()
	if s.buf.Current() != '"' {
		s.failed++
		return s
	}
	escaped := false
	s.buf.Move(1)
	for s.buf.HasNext() && (s.buf.Current() != '"' || escaped) {
		if escaped {
			escaped = false
		} else if s.buf.Current() == '\\' {
			escaped = true
		}
		s.buf.Move(1)
	}
	if !s.buf.HasNext() {
		s.buf.MoveTo(start)
		s.Raise(`expected ", found EOF instead`)
		return s
	}
	s.buf.Move(1) // past closing quote
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, s.buf.Index())})
	return s
}

// TryStringWS recognizes a STRING followed by mandatory whitespace.
func (s *Scanner) TryStringWS() *Scanner {
	s.TryString()
	s.SkipWS(true)
	return s
}

// TryNumber recognizes a NUMBER: an optional leading sign, then either
// a hexadecimal literal ("0x" and hex digits) or one or more decimal
// digits with an optional single decimal point and more digits.
func (s *Scanner) TryNumber() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	start := s.buf.Index()
	if c := s.buf.Current(); c == '-' || c == '+' {
		s.buf.Move(1)
	}
	if s.buf.CompareHead("0x") && s.buf.Index()+2 < s.buf.Length() && isHexDigit(s.buf.Slice(s.buf.Index()+2, s.buf.Index()+3)[0]) {
		s.buf.Move(2)
		for s.buf.HasNext() && isHexDigit(s.buf.Current()) {
			s.buf.Move(1)
		}
		s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, s.buf.Index())})
		return s
	}
	if !s.buf.HasNext() || !isDigit(s.buf.Current()) {
		s.buf.MoveTo(start)
		s.failed++
		return s
	}
	dot := false
	for s.buf.HasNext() {
		c := s.buf.Current()
		if isDigit(c) {
			s.buf.Move(1)
			continue
		}
		if c == '.' && !dot {
			dot = true
			s.buf.Move(1)
			continue
		}
		break
	}
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, s.buf.Index())})
	return s
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// TryNumberWS recognizes a NUMBER followed by mandatory whitespace.
func (s *Scanner) TryNumberWS() *Scanner {
	s.TryNumber()
	s.SkipWS(true)
	return s
}

// TryVariable recognizes a VARIABLE: an optional leading "*", a NAME
// with an optional argument list and an optional "[subscript]", then
// zero or more "."/"->"-joined further NAMEs (each with its own
// optional subscript and "()" call marker), and a final optional "()".
// Subscript bodies are a string, a number or (recursively) a variable.
func (s *Scanner) TryVariable() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	savedStack := s.stack
	savedDetails := len(s.details)
	start := s.buf.Index()

	if s.buf.Current() == '*' {
		s.buf.Move(1)
	}
	s.TryName()
	if s.Failed() {
		s.Back(1)
		s.stack = savedStack
		s.buf.MoveTo(start)
		s.failed++
		return s
	}
	s.TryArgumentList()
	s.trySubscript()
	for {
		s.SkipWS(false)
		s.TryOneOfTokens([]string{".", "->"})
		s.SkipWS(false)
		s.TryName()
		if s.Failed() {
			// back from 4 failed attempts (ws, token, ws, name)
			s.Back(4)
			break
		}
		s.trySubscript()
		s.TryToken("()")
		if s.Failed() {
			s.Back(1)
		}
	}
	s.TryToken("()")
	if s.Failed() {
		s.Back(1)
	}
	end := s.buf.Index()
	s.stack = savedStack
	// argument/subscript details are internal to the chain; the token
	// text carries them verbatim, so they must not leak to the caller's
	// detail drain.
	s.details = s.details[:savedDetails]
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
	return s
}

// trySubscript recognizes an optional "[ STRING | NUMBER | VARIABLE ]"
// array subscript after a variable-chain part. A "[" with a malformed
// body is unrecoverable and raises.
func (s *Scanner) trySubscript() {
	s.TryToken("[")
	s.SkipWS(false)
	if s.Failed() {
		s.Back(2)
		return
	}
	s.TryString()
	if s.Failed() {
		s.Back(1).TryNumber()
	}
	if s.Failed() {
		s.Back(1).TryVariable()
	}
	if s.Failed() {
		s.Raise("expected STRING, VARIABLE or NUMBER as array subscript")
	}
	s.SkipWS(false)
	s.TryToken("]")
	if s.Failed() {
		s.Raise("expected closing ']' after array subscript")
	}
}

// TryVariableWS recognizes a VARIABLE followed by mandatory whitespace.
func (s *Scanner) TryVariableWS() *Scanner {
	s.TryVariable()
	s.SkipWS(true)
	return s
}

// TryComplexVariable recognizes a VARIABLE optionally followed by one
// or more "|"-separated FILTERs; each matched filter is recorded as a
// Detail so the parser can build the filter chain.
func (s *Scanner) TryComplexVariable() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	s.Push()
	start := s.buf.Index()
	end := start

	s.TryVariable()
	if s.OK() {
		varTok := s.Get(-1)
		end = s.buf.Index()
		for {
			s.SkipWS(false)
			s.TryToken("|")
			s.SkipWS(false)
			s.TryFilter()
			if s.Failed() {
				break
			}
			end = s.buf.Index()
			s.pushDetail("complex_variable", s.Get(-1))
		}
		s.Back(4)
		s.Pop()
		s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
		s.pushDetail("complex_variable_name", varTok)
		s.buf.MoveTo(end)
		return s
	}
	s.Pop()
	s.failed++
	return s
}

// TryComplexVariableWS recognizes a COMPLEX_VARIABLE followed by
// mandatory whitespace.
func (s *Scanner) TryComplexVariableWS() *Scanner {
	s.TryComplexVariable()
	s.SkipWS(true)
	return s
}

// TryIdentifier recognizes an IDENTIFIER: a non-empty chain of NAMEs
// joined by "::", each optionally parameterized by a comma-separated
// identifier list in angle brackets. No whitespace is allowed.
func (s *Scanner) TryIdentifier() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	savedStack := s.stack
	start := s.buf.Index()

	s.TryName()
	if s.Failed() {
		s.Back(1)
		s.stack = savedStack
		s.buf.MoveTo(start)
		s.failed++
		return s
	}
	s.tryTemplateCallList()
	for {
		s.TryToken("::")
		s.TryName()
		if s.Failed() {
			s.Back(2)
			break
		}
		s.tryTemplateCallList()
	}
	end := s.buf.Index()
	s.stack = savedStack
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
	return s
}

// tryTemplateCallList recognizes an optional "<ID(,ID)*>" template-
// argument list after an identifier component. An opened "<" that does
// not contain a well-formed identifier list is unrecoverable.
func (s *Scanner) tryTemplateCallList() {
	s.TryToken("<")
	if s.Failed() {
		s.Back(1)
		return
	}
	for {
		s.TryIdentifier()
		s.SkipWS(false)
		s.TryOneOfTokens([]string{",", ">"})
		if s.Failed() {
			s.Raise("expected <identifier list>")
		}
		if s.Get(-1) == ">" {
			return
		}
	}
}

// TryIdentifierWS recognizes an IDENTIFIER followed by mandatory
// whitespace.
func (s *Scanner) TryIdentifierWS() *Scanner {
	s.TryIdentifier()
	s.SkipWS(true)
	return s
}

// TryArgumentList recognizes an optional parenthesized, comma-
// separated list of VARIABLE | STRING | NUMBER arguments, e.g.
// "(a, \"b\", 3)". An absent "(" is not an error: the rule matches the
// empty list. Each argument's kind is recorded as a Detail.
func (s *Scanner) TryArgumentList() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	savedStack := s.stack
	start := s.buf.Index()
	end := start

	s.TryToken("(")
	if s.OK() {
		s.SkipWS(false)
		s.TryToken(")")
		if s.Failed() {
			s.Back(2)
			for {
				s.SkipWS(false)
				s.TryVariable()
				if s.OK() {
					s.pushDetail("argument_variable", s.Get(-1))
				} else {
					s.Back(1)
					s.TryString()
					if s.OK() {
						s.pushDetail("argument_string", s.Get(-1))
					} else {
						s.Back(1)
						s.TryNumber()
						if s.OK() {
							s.pushDetail("argument_number", s.Get(-1))
						} else {
							s.Raise("expected ')', string, number or variable")
						}
					}
				}
				s.TryToken(")")
				if s.OK() {
					break
				}
				s.Back(1)
				s.SkipWS(false)
				s.TryToken(",")
				if s.Failed() {
					s.Raise("expected ','")
				}
			}
		}
	} else {
		s.Back(1)
	}
	end = s.buf.Index()
	s.stack = savedStack
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
	return s
}

// TryParamList recognizes an optional parenthesized, comma-separated
// list of bare NAMEs, as distinct from the value arguments of
// TryArgumentList.
func (s *Scanner) TryParamList() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	savedStack := s.stack
	start := s.buf.Index()
	end := start

	s.TryToken("(")
	if s.OK() {
		s.SkipWS(false)
		s.TryToken(")")
		if s.Failed() {
			s.Back(2)
			for {
				s.SkipWS(false)
				s.TryName()
				if s.Failed() {
					s.Raise("expected ')' or name")
				}
				s.pushDetail("param_name", s.Get(-1))
				s.SkipWS(false)
				s.TryToken(")")
				if s.OK() {
					break
				}
				s.Back(1)
				s.TryToken(",")
				if s.Failed() {
					s.Raise("expected ','")
				}
			}
		}
	} else {
		s.Back(1)
	}
	end = s.buf.Index()
	s.stack = savedStack
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
	return s
}

// TryTypedParamList recognizes the typed parameter list of a
// "template" directive: a parenthesized, comma-separated list of
// "IDENTIFIER [const] [&] NAME" entries, e.g.
// "(std::string name, int &count)". Each parameter pushes
// type/is_const/is_ref/name Details in that order, followed by a
// param_end marker so a caller walking the Detail queue knows where
// one parameter ends and the next begins.
func (s *Scanner) TryTypedParamList() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	savedStack := s.stack
	start := s.buf.Index()
	end := start

	s.TryToken("(")
	if s.OK() {
		s.SkipWS(false)
		s.TryToken(")")
		if s.Failed() {
			s.Back(2)
			for {
				s.SkipWS(false)
				s.TryIdentifier()
				if s.Failed() {
					s.Raise("expected ')' or type identifier")
				}
				s.pushDetail("type", s.Get(-1))

				s.SkipWS(true)
				s.TryTokenWS("const")
				isConst := s.OK()
				if s.Failed() {
					s.Back(2)
				}
				s.pushDetail("is_const", boolDetail(isConst))

				s.SkipWS(false)
				s.TryToken("&")
				isRef := s.OK()
				if s.Failed() {
					s.Back(1)
				}
				s.pushDetail("is_ref", boolDetail(isRef))

				s.SkipWS(false)
				s.TryName()
				if s.Failed() {
					s.Raise("expected parameter name")
				}
				s.pushDetail("name", s.Get(-1))
				s.pushDetail("param_end", "")

				s.SkipWS(false)
				s.TryToken(")")
				if s.OK() {
					break
				}
				s.Back(1)
				s.TryToken(",")
				if s.Failed() {
					s.Raise("expected ','")
				}
			}
		}
	} else {
		s.Back(1)
	}
	end = s.buf.Index()
	s.stack = savedStack
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
	return s
}

func boolDetail(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// TryFilter recognizes a FILTER: an optional "ext" keyword, a NAME,
// and an optional argument list — "[ 'ext' ] NAME [ '(' ... ')' ]".
func (s *Scanner) TryFilter() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	start := s.buf.Index()
	savedDetails := len(s.details)
	s.TryTokenWS("ext")
	if s.Failed() {
		s.Back(2)
	}
	s.TryName()
	if s.OK() {
		s.TryArgumentList()
		s.details = s.details[:savedDetails]
		s.stack = s.stack[:len(s.stack)-1]
		s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, s.buf.Index())})
	} else {
		s.failed++
	}
	return s
}

// TryComma recognizes "," with optional surrounding whitespace and
// restores the index stack to a single entry spanning the whole match.
func (s *Scanner) TryComma() *Scanner {
	if s.failed != 0 {
		s.failed++
		return s
	}
	start := s.buf.Index()
	s.SkipWS(false)
	s.TryToken(",")
	s.SkipWS(false)
	if s.Failed() {
		s.Back(3)
		s.failed++
		return s
	}
	end := s.buf.Index()
	s.Back(3)
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
	s.buf.MoveTo(end)
	return s
}

// SkipTo advances to just past the first occurrence of token at or
// after the current position, pushing two entries: the skipped prefix
// and the token itself. Failing to find token fails by 2, so "no %> /
// no <%" weighs more than a single mismatched rule when backing out.
func (s *Scanner) SkipTo(token string) *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed += 2
		return s
	}
	idx := s.buf.FindOnRight(token)
	if idx < 0 {
		s.failed += 2
		return s
	}
	start := s.buf.Index()
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, idx)})
	s.stack = append(s.stack, entry{index: idx, token: token})
	s.buf.MoveTo(idx + len(token))
	return s
}

// SkipWS consumes zero or more whitespace bytes. The rule fails at the
// end of the buffer, and, if require is true, when nothing was
// consumed.
func (s *Scanner) SkipWS(require bool) *Scanner {
	if s.failed != 0 || !s.buf.HasNext() {
		s.failed++
		return s
	}
	start := s.buf.Index()
	for s.buf.HasNext() && isSpace(s.buf.Current()) {
		s.buf.Move(1)
	}
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, s.buf.Index())})
	if require && s.buf.Index() == start {
		s.failed++
	}
	return s
}

// SkipToEnd consumes everything remaining in the buffer as a single
// token.
func (s *Scanner) SkipToEnd() *Scanner {
	if s.failed != 0 {
		s.failed++
		return s
	}
	start := s.buf.Index()
	s.stack = append(s.stack, entry{index: start, token: s.buf.RightUntilEnd()})
	s.buf.MoveTo(s.buf.Length())
	return s
}

// TryParenthesisExpression recognizes a single balanced parenthesized
// group, tracking nested parens and both string ('"' and '\'') literal
// kinds so that a paren or quote inside a literal doesn't affect the
// balance. Used to capture opaque C++ expressions (the parenthesized
// c++ form of an if/elif condition) without having to parse their
// contents.
func (s *Scanner) TryParenthesisExpression() *Scanner {
	if s.failed != 0 || !s.buf.HasNext() || s.buf.Current() != '(' {
		s.failed++
		return s
	}
	start := s.buf.Index()
	brackets := 1
	escaped, dquote, squote := false, false, false
	s.buf.Move(1)
	for s.buf.HasNext() && brackets > 0 {
		c := s.buf.Current()
		switch {
		case !dquote && !squote && c == '(':
			brackets++
		case !dquote && !squote && c == ')':
			brackets--
		case (dquote || squote) && escaped && c == '\\':
			escaped = false
		case (dquote || squote) && !escaped && c == '\\':
			escaped = true
		case !dquote && !squote && c == '"':
			dquote = true
		case dquote && !escaped && c == '"':
			dquote = false
		case !dquote && !squote && c == '\'':
			squote = true
		case squote && !escaped && c == '\'':
			squote = false
		default:
			escaped = false
		}
		s.buf.Move(1)
	}
	if brackets == 0 {
		s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, s.buf.Index())})
	} else {
		s.buf.MoveTo(start)
		s.failed++
	}
	return s
}

// TryCloseExpression recognizes the directive terminator "%>",
// allowing (and consuming) whitespace before it, e.g. "  %>" or a bare
// "%>". The tolerated alternative spelling "% >" (with one space
// between the characters) is accepted as well.
func (s *Scanner) TryCloseExpression() *Scanner {
	start := s.buf.Index()
	s.SkipWS(false)
	s.TryToken("%>")
	if s.Failed() {
		s.Back(2)
		s.SkipWS(false)
		s.TryToken("% >")
		if s.Failed() {
			s.Back(2)
			s.failed++
			return s
		}
	}
	end := s.buf.Index()
	s.Back(2)
	s.stack = append(s.stack, entry{index: start, token: s.buf.Slice(start, end)})
	s.buf.MoveTo(end)
	return s
}
