package templates

import (
	"strconv"
	"strings"

	"github.com/saiset-co/sai-og/types"
)

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenVar
	tokenTag
)

type token struct {
	kind tokenKind
	val  string
	line int
}

type node interface{}

type textNode struct {
	text string
}

type varNode struct {
	expr *expression
	line int
}

type ifNode struct {
	branches []*branch
	elseBody []node
}

type branch struct {
	cond *condition
	body []node
}

type forNode struct {
	name  string
	path  []string
	limit int
	body  []node
	line  int
}

type expression struct {
	path    []string
	filters []*filterCall
}

func (e *expression) hasDefault() bool {
	for _, f := range e.filters {
		if f.name == "default" {
			return true
		}
	}
	return false
}

type filterCall struct {
	name string
	arg  *literal
}

type literal struct {
	str   string
	num   float64
	isNum bool
}

func (l *literal) String() string {
	if l.isNum {
		return strconv.FormatFloat(l.num, 'f', -1, 64)
	}
	return l.str
}

type condition struct {
	negate  bool
	path    []string
	op      string
	operand *literal
}

func parseError(line int, format string, args ...interface{}) error {
	return types.NewError(types.KindTemplateParseError, "line %d: "+format, append([]interface{}{line}, args...)...)
}

// lex splits markup into literal text, {{ }} placeholders and {% %} tags.
func lex(markup string) ([]token, error) {
	var tokens []token
	line := 1
	pos := 0

	for pos < len(markup) {
		start := nextDelimiter(markup, pos)
		if start < 0 {
			tokens = append(tokens, token{kind: tokenText, val: markup[pos:], line: line})
			break
		}

		if start > pos {
			text := markup[pos:start]
			tokens = append(tokens, token{kind: tokenText, val: text, line: line})
			line += strings.Count(text, "\n")
		}

		closer := "}}"
		kind := tokenVar
		if markup[start+1] == '%' {
			closer = "%}"
			kind = tokenTag
		}

		end := findCloser(markup, start+2, closer)
		if end < 0 {
			return nil, parseError(line, "unclosed %q", markup[start:start+2])
		}

		body := markup[start+2 : end]
		tokens = append(tokens, token{kind: kind, val: strings.TrimSpace(body), line: line})
		line += strings.Count(body, "\n")
		pos = end + 2
	}

	return tokens, nil
}

func nextDelimiter(s string, from int) int {
	for i := from; i < len(s)-1; i++ {
		if s[i] == '{' && (s[i+1] == '{' || s[i+1] == '%') {
			return i
		}
	}
	return -1
}

func findCloser(s string, from int, closer string) int {
	var quote byte
	for i := from; i < len(s)-1; i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case s[i:i+2] == closer:
			return i
		}
	}
	return -1
}

type parser struct {
	tokens []token
	pos    int
}

func parse(markup string) ([]node, error) {
	tokens, err := lex(markup)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	nodes, stop, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	if stop != nil {
		return nil, parseError(stop.line, "unexpected {%% %s %%}", stop.val)
	}
	return nodes, nil
}

// parseBody consumes tokens until EOF or one of the stop keywords and
// returns the tag that stopped it.
func (p *parser) parseBody(stops ...string) ([]node, *token, error) {
	var nodes []node

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		p.pos++

		switch tok.kind {
		case tokenText:
			nodes = append(nodes, &textNode{text: tok.val})

		case tokenVar:
			expr, err := parseExpression(tok.val, tok.line)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, &varNode{expr: expr, line: tok.line})

		case tokenTag:
			keyword := firstWord(tok.val)
			for _, stop := range stops {
				if keyword == stop {
					t := tok
					return nodes, &t, nil
				}
			}

			switch keyword {
			case "if":
				n, err := p.parseIf(tok)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)
			case "for":
				n, err := p.parseFor(tok)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, n)
			case "elif", "else", "endif", "endfor":
				t := tok
				return nodes, &t, nil
			default:
				return nil, nil, parseError(tok.line, "unknown tag %q", keyword)
			}
		}
	}

	return nodes, nil, nil
}

func (p *parser) parseIf(open token) (*ifNode, error) {
	n := &ifNode{}
	condSrc := strings.TrimSpace(strings.TrimPrefix(open.val, "if"))
	line := open.line

	for {
		cond, err := parseCondition(condSrc, line)
		if err != nil {
			return nil, err
		}

		body, stop, err := p.parseBody("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		if stop == nil {
			return nil, parseError(open.line, "{%% if %%} without {%% endif %%}")
		}

		n.branches = append(n.branches, &branch{cond: cond, body: body})

		switch firstWord(stop.val) {
		case "elif":
			condSrc = strings.TrimSpace(strings.TrimPrefix(stop.val, "elif"))
			line = stop.line
			continue
		case "else":
			if stop.val != "else" {
				return nil, parseError(stop.line, "unexpected arguments after else")
			}
			elseBody, end, err := p.parseBody("endif")
			if err != nil {
				return nil, err
			}
			if end == nil || firstWord(end.val) != "endif" {
				return nil, parseError(open.line, "{%% if %%} without {%% endif %%}")
			}
			n.elseBody = elseBody
			return n, nil
		case "endif":
			return n, nil
		default:
			return nil, parseError(stop.line, "unexpected {%% %s %%} inside if", stop.val)
		}
	}
}

func (p *parser) parseFor(open token) (*forNode, error) {
	toks, err := scanExpr(strings.TrimSpace(strings.TrimPrefix(open.val, "for")), open.line)
	if err != nil {
		return nil, err
	}

	if len(toks) < 3 || toks[0].kind != exprIdent || toks[1].kind != exprIdent || toks[1].val != "in" || toks[2].kind != exprIdent {
		return nil, parseError(open.line, "expected {%% for name in path %%}")
	}
	if strings.Contains(toks[0].val, ".") {
		return nil, parseError(open.line, "loop variable %q must be a plain name", toks[0].val)
	}

	path, err := parsePath(toks[2].val, open.line)
	if err != nil {
		return nil, err
	}

	n := &forNode{name: toks[0].val, path: path, line: open.line}

	rest := toks[3:]
	if len(rest) > 0 {
		if len(rest) != 3 || rest[0].val != "limit" || rest[1].kind != exprColon || rest[2].kind != exprNumber {
			return nil, parseError(open.line, "expected limit: N")
		}
		limit, err := strconv.Atoi(rest[2].val)
		if err != nil || limit < 0 || limit > maxCount {
			return nil, parseError(open.line, "invalid limit %q", rest[2].val)
		}
		n.limit = limit
	}

	body, stop, err := p.parseBody("endfor")
	if err != nil {
		return nil, err
	}
	if stop == nil || firstWord(stop.val) != "endfor" {
		return nil, parseError(open.line, "{%% for %%} without {%% endfor %%}")
	}

	n.body = body
	return n, nil
}

func parseExpression(src string, line int) (*expression, error) {
	toks, err := scanExpr(src, line)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 || toks[0].kind != exprIdent {
		return nil, parseError(line, "expected variable in {{ %s }}", src)
	}

	path, err := parsePath(toks[0].val, line)
	if err != nil {
		return nil, err
	}

	expr := &expression{path: path}
	i := 1
	for i < len(toks) {
		if toks[i].kind != exprPipe {
			return nil, parseError(line, "expected | in {{ %s }}", src)
		}
		i++
		if i >= len(toks) || toks[i].kind != exprIdent {
			return nil, parseError(line, "expected filter name in {{ %s }}", src)
		}

		call := &filterCall{name: toks[i].val}
		i++

		if i < len(toks) && toks[i].kind == exprColon {
			i++
			if i >= len(toks) {
				return nil, parseError(line, "missing argument for filter %q", call.name)
			}
			lit, ok := toks[i].literal()
			if !ok {
				return nil, parseError(line, "filter %q argument must be a literal", call.name)
			}
			call.arg = lit
			i++
		}

		if err := checkFilter(call, line); err != nil {
			return nil, err
		}
		expr.filters = append(expr.filters, call)
	}

	return expr, nil
}

func parseCondition(src string, line int) (*condition, error) {
	toks, err := scanExpr(src, line)
	if err != nil {
		return nil, err
	}

	cond := &condition{}
	if len(toks) > 0 && toks[0].kind == exprIdent && toks[0].val == "not" {
		cond.negate = true
		toks = toks[1:]
	}

	if len(toks) == 0 || toks[0].kind != exprIdent {
		return nil, parseError(line, "expected condition, got %q", src)
	}

	path, err := parsePath(toks[0].val, line)
	if err != nil {
		return nil, err
	}
	cond.path = path

	switch len(toks) {
	case 1:
		return cond, nil
	case 3:
		if toks[1].kind != exprOp {
			return nil, parseError(line, "expected == or != in %q", src)
		}
		lit, ok := toks[2].literal()
		if !ok {
			return nil, parseError(line, "right side of %q must be a literal", src)
		}
		cond.op = toks[1].val
		cond.operand = lit
		return cond, nil
	default:
		return nil, parseError(line, "malformed condition %q", src)
	}
}

func parsePath(s string, line int) ([]string, error) {
	parts := strings.Split(s, ".")
	for i, part := range parts {
		if part == "" {
			return nil, parseError(line, "empty segment in path %q", s)
		}
		if i == 0 && !isIdentStart(part[0]) {
			return nil, parseError(line, "path %q must start with a name", s)
		}
	}
	return parts, nil
}

type exprKind int

const (
	exprIdent exprKind = iota
	exprString
	exprNumber
	exprPipe
	exprColon
	exprOp
)

type exprToken struct {
	kind exprKind
	val  string
}

func (t exprToken) literal() (*literal, bool) {
	switch t.kind {
	case exprString:
		return &literal{str: t.val}, true
	case exprNumber:
		n, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, false
		}
		return &literal{num: n, isNum: true}, true
	case exprIdent:
		if t.val == "true" || t.val == "false" {
			return &literal{str: t.val}, true
		}
	}
	return nil, false
}

func scanExpr(s string, line int) ([]exprToken, error) {
	var toks []exprToken
	i := 0

	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '|':
			toks = append(toks, exprToken{kind: exprPipe, val: "|"})
			i++
		case c == ':':
			toks = append(toks, exprToken{kind: exprColon, val: ":"})
			i++
		case (c == '=' || c == '!') && i+1 < len(s) && s[i+1] == '=':
			toks = append(toks, exprToken{kind: exprOp, val: s[i : i+2]})
			i += 2
		case c == '"' || c == '\'':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, parseError(line, "unterminated string in %q", s)
			}
			toks = append(toks, exprToken{kind: exprString, val: s[i+1 : i+1+end]})
			i += end + 2
		case c == '-' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(s) && (s[j] == '.' || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			toks = append(toks, exprToken{kind: exprNumber, val: s[i:j]})
			i = j
		case isIdentStart(c):
			j := i + 1
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			toks = append(toks, exprToken{kind: exprIdent, val: s[i:j]})
			i = j
		default:
			return nil, parseError(line, "unexpected character %q in %q", c, s)
		}
	}

	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9') || c == '.' || c == '-'
}

func firstWord(s string) string {
	if idx := strings.IndexAny(s, " \t\n\r"); idx >= 0 {
		return s[:idx]
	}
	return s
}
