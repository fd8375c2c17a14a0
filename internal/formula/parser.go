package formula

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokIdent
	tokNumber
	tokString
	tokOp    // operators and punctuation
	tokKeyword
)

type token struct {
	typ tokenType
	val string
	pos int
}

var keywords = map[string]bool{
	"if": true, "else": true, "and": true, "or": true, "not": true,
	"true": true, "false": true,
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.pos++
		case c == '#': // comment to end of line
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		case unicode.IsDigit(rune(c)) || (c == '.' && l.pos+1 < len(l.src) && unicode.IsDigit(rune(l.src[l.pos+1]))):
			l.lexNumber()
		case unicode.IsLetter(rune(c)) || c == '_':
			l.lexIdent()
		case c == '"' || c == '\'':
			if err := l.lexString(c); err != nil {
				return nil, err
			}
		default:
			if err := l.lexOp(); err != nil {
				return nil, err
			}
		}
	}
	l.toks = append(l.toks, token{typ: tokEOF, pos: l.pos})
	return l.toks, nil
}

func (l *lexer) lexNumber() {
	start := l.pos
	for l.pos < len(l.src) && (unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '.') {
		l.pos++
	}
	l.toks = append(l.toks, token{typ: tokNumber, val: l.src[start:l.pos], pos: start})
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.src) && (unicode.IsLetter(rune(l.src[l.pos])) || unicode.IsDigit(rune(l.src[l.pos])) || l.src[l.pos] == '_') {
		l.pos++
	}
	word := l.src[start:l.pos]
	typ := tokIdent
	if keywords[word] {
		typ = tokKeyword
	}
	l.toks = append(l.toks, token{typ: typ, val: word, pos: start})
}

func (l *lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) && l.src[l.pos] != quote {
		if l.src[l.pos] == '\n' {
			return fmt.Errorf("unterminated string at offset %d", start)
		}
		sb.WriteByte(l.src[l.pos])
		l.pos++
	}
	if l.pos >= len(l.src) {
		return fmt.Errorf("unterminated string at offset %d", start)
	}
	l.pos++ // closing quote
	l.toks = append(l.toks, token{typ: tokString, val: sb.String(), pos: start})
	return nil
}

func (l *lexer) lexOp() error {
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==", "!=", "<=", ">=":
		l.toks = append(l.toks, token{typ: tokOp, val: two, pos: l.pos})
		l.pos += 2
		return nil
	}
	c := l.src[l.pos]
	switch c {
	case '+', '-', '*', '/', '<', '>', '=', '(', ')', '{', '}', ':', ',', '.':
		l.toks = append(l.toks, token{typ: tokOp, val: string(c), pos: l.pos})
		l.pos++
		return nil
	}
	return fmt.Errorf("unexpected character %q at offset %d", c, l.pos)
}

// parser is a plain recursive-descent parser over the token stream.
type parser struct {
	toks []token
	i    int
}

// Parse compiles a formula body into a statement list.
func Parse(src string) ([]Stmt, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var stmts []Stmt
	for !p.at(tokEOF, "") {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return stmts, nil
}

func (p *parser) cur() token  { return p.toks[p.i] }
func (p *parser) next() token { t := p.toks[p.i]; p.i++; return t }

func (p *parser) at(typ tokenType, val string) bool {
	t := p.cur()
	return t.typ == typ && (val == "" || t.val == val)
}

func (p *parser) expect(typ tokenType, val string) (token, error) {
	if !p.at(typ, val) {
		t := p.cur()
		return t, fmt.Errorf("expected %q at offset %d, found %q", val, t.pos, t.val)
	}
	return p.next(), nil
}

func (p *parser) parseStmt() (Stmt, error) {
	if p.at(tokKeyword, "if") {
		return p.parseIf()
	}
	if p.at(tokIdent, "") {
		// lookahead for assignment
		if p.i+1 < len(p.toks) && p.toks[p.i+1].typ == tokOp && p.toks[p.i+1].val == "=" {
			name := p.next().val
			p.next() // '='
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			return &Assign{Name: name, Value: value}, nil
		}
	}
	t := p.cur()
	return nil, fmt.Errorf("expected statement at offset %d, found %q", t.pos, t.val)
}

func (p *parser) parseIf() (Stmt, error) {
	p.next() // 'if'
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &If{Cond: cond, Then: then}
	if p.at(tokKeyword, "else") {
		p.next()
		if p.at(tokKeyword, "if") {
			nested, err := p.parseIf()
			if err != nil {
				return nil, err
			}
			stmt.Else = []Stmt{nested}
		} else {
			els, err := p.parseBlock()
			if err != nil {
				return nil, err
			}
			stmt.Else = els
		}
	}
	return stmt, nil
}

func (p *parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(tokOp, "{"); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for !p.at(tokOp, "}") {
		if p.at(tokEOF, "") {
			return nil, fmt.Errorf("unterminated block")
		}
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	p.next() // '}'
	return stmts, nil
}

// precedence climbing: or < and < comparison < additive < multiplicative.

func (p *parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (Expr, error) {
	x, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.at(tokKeyword, "or") {
		p.next()
		y, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		x = &Binary{Op: "or", X: x, Y: y}
	}
	return x, nil
}

func (p *parser) parseAnd() (Expr, error) {
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.at(tokKeyword, "and") {
		p.next()
		y, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		x = &Binary{Op: "and", X: x, Y: y}
	}
	return x, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.at(tokKeyword, "not") {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	x, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.cur().typ == tokOp {
		op := p.cur().val
		switch op {
		case "==", "!=", "<", "<=", ">", ">=":
			p.next()
			y, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			x = &Binary{Op: op, X: x, Y: y}
		default:
			return x, nil
		}
	}
	return x, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	x, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "+") || p.at(tokOp, "-") {
		op := p.next().val
		y, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		x = &Binary{Op: op, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(tokOp, "*") || p.at(tokOp, "/") {
		op := p.next().val
		y, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		x = &Binary{Op: op, X: x, Y: y}
	}
	return x, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.at(tokOp, "-") {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", X: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch {
	case t.typ == tokNumber:
		p.next()
		v, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", t.val, t.pos)
		}
		return &NumberLit{Value: v}, nil

	case t.typ == tokString:
		p.next()
		return &StringLit{Value: t.val}, nil

	case t.typ == tokKeyword && (t.val == "true" || t.val == "false"):
		p.next()
		return &BoolLit{Value: t.val == "true"}, nil

	case t.typ == tokIdent:
		p.next()
		// symbol-qualified field: SYM.field
		if p.at(tokOp, ".") {
			p.next()
			field, err := p.expect(tokIdent, "")
			if err != nil {
				return nil, err
			}
			return &FieldRef{Symbol: t.val, Field: field.val}, nil
		}
		// builtin call: name(args)
		if p.at(tokOp, "(") {
			p.next()
			var args []Expr
			for !p.at(tokOp, ")") {
				if len(args) > 0 {
					if _, err := p.expect(tokOp, ","); err != nil {
						return nil, err
					}
				}
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
			}
			p.next() // ')'
			return &Call{Name: t.val, Args: args}, nil
		}
		return &Ident{Name: t.val}, nil

	case t.typ == tokOp && t.val == "(":
		p.next()
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokOp, ")"); err != nil {
			return nil, err
		}
		return x, nil

	case t.typ == tokOp && t.val == "{":
		return p.parseMapLit()
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", t.val, t.pos)
}

func (p *parser) parseMapLit() (Expr, error) {
	p.next() // '{'
	m := &MapLit{}
	for !p.at(tokOp, "}") {
		if len(m.Keys) > 0 {
			if _, err := p.expect(tokOp, ","); err != nil {
				return nil, err
			}
			// allow a trailing comma
			if p.at(tokOp, "}") {
				break
			}
		}
		key := p.cur()
		if key.typ != tokIdent && key.typ != tokString {
			return nil, fmt.Errorf("expected map key at offset %d, found %q", key.pos, key.val)
		}
		p.next()
		if _, err := p.expect(tokOp, ":"); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, key.val)
		m.Values = append(m.Values, value)
	}
	p.next() // '}'
	return m, nil
}
