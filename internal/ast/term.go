package ast

import (
	"fmt"
	"strings"
	"unicode"
)

// ParseTerm parses the printed form of a runtime value into a literal
// expression. Pids, references, ports and funs have no self-contained
// literal syntax; they come back as Opaque nodes. Anything the grammar
// does not cover is an error - callers that must not fail use ValueExpr.
func ParseTerm(s string) (Expr, error) {
	p := &termParser{src: s}
	p.skipSpace()
	e, err := p.term()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("trailing input %q in term", p.src[p.pos:])
	}
	return e, nil
}

// ValueExpr converts a printed runtime value into an expression that is
// always valid syntax. Values the term grammar cannot express are
// rendered as tagged opaque strings, e.g. "pid:<0.80.0>".
func ValueExpr(s string) Expr {
	if e, err := ParseTerm(s); err == nil {
		return e
	}
	return &Opaque{Tag: classifyOpaque(s), Text: s}
}

func classifyOpaque(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "<<"):
		return "bin"
	case strings.HasPrefix(s, "<"):
		return "pid"
	case strings.HasPrefix(s, "#Fun"), strings.HasPrefix(s, "fun "):
		return "fun"
	case strings.HasPrefix(s, "#Ref"):
		return "ref"
	case strings.HasPrefix(s, "#Port"):
		return "port"
	default:
		return "term"
	}
}

type termParser struct {
	src string
	pos int
}

func (p *termParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *termParser) peek() byte {
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *termParser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return fmt.Errorf("expected %q at offset %d in %q", string(c), p.pos, p.src)
	}
	p.pos++
	return nil
}

func (p *termParser) term() (Expr, error) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == 0:
		return nil, fmt.Errorf("unexpected end of term in %q", p.src)
	case c == '[':
		return p.list()
	case c == '{':
		return p.tuple()
	case c == '"':
		return p.str()
	case c == '\'':
		return p.quotedAtom()
	case c == '<':
		return p.angle()
	case c == '#':
		return p.hash()
	case c == '-' || c >= '0' && c <= '9':
		return p.number()
	case c == '_' || unicode.IsUpper(rune(c)):
		// Printed terms never contain free variables, but pattern text
		// routed through here may.
		start := p.pos
		p.pos++
		for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
			p.pos++
		}
		return &Var{Name: p.src[start:p.pos]}, nil
	case c >= 'a' && c <= 'z':
		start := p.pos
		for p.pos < len(p.src) && isNameByte(p.src[p.pos]) {
			p.pos++
		}
		return &Atom{Name: p.src[start:p.pos]}, nil
	default:
		return nil, fmt.Errorf("unexpected %q at offset %d in term %q", string(c), p.pos, p.src)
	}
}

func isNameByte(c byte) bool {
	return c == '_' || c == '@' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func (p *termParser) number() (Expr, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	digits := 0
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
		digits++
	}
	if digits == 0 {
		return nil, fmt.Errorf("malformed number at offset %d in %q", start, p.src)
	}
	isFloat := false
	if p.pos+1 < len(p.src) && p.src[p.pos] == '.' && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9' {
		isFloat = true
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
			p.pos++
			if p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
				p.pos++
			}
			for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
				p.pos++
			}
		}
	}
	text := p.src[start:p.pos]
	if isFloat {
		return &Float{Text: text}, nil
	}
	return &Integer{Text: text}, nil
}

func (p *termParser) str() (Expr, error) {
	if err := p.expect('"'); err != nil {
		return nil, err
	}
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '\\' && p.pos+1 < len(p.src) {
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
			continue
		}
		if c == '"' {
			p.pos++
			return &String{Value: b.String()}, nil
		}
		b.WriteByte(c)
		p.pos++
	}
	return nil, fmt.Errorf("unterminated string in %q", p.src)
}

func (p *termParser) quotedAtom() (Expr, error) {
	if err := p.expect('\''); err != nil {
		return nil, err
	}
	start := p.pos
	for p.pos < len(p.src) {
		if p.src[p.pos] == '\\' {
			p.pos += 2
			continue
		}
		if p.src[p.pos] == '\'' {
			name := p.src[start:p.pos]
			p.pos++
			return &Atom{Name: "'" + name + "'"}, nil
		}
		p.pos++
	}
	return nil, fmt.Errorf("unterminated quoted atom in %q", p.src)
}

func (p *termParser) list() (Expr, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.peek() == ']' {
		p.pos++
		return &NilList{}, nil
	}
	var elems []Expr
	var tail Expr
	for {
		e, err := p.term()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			continue
		case '|':
			p.pos++
			t, err := p.term()
			if err != nil {
				return nil, err
			}
			tail = t
		}
		break
	}
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	if tail == nil {
		tail = &NilList{}
	}
	for i := len(elems) - 1; i >= 0; i-- {
		tail = &Cons{Head: elems[i], Tail: tail}
	}
	return tail, nil
}

func (p *termParser) tuple() (Expr, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	t := &Tuple{}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return t, nil
	}
	for {
		e, err := p.term()
		if err != nil {
			return nil, err
		}
		t.Elems = append(t.Elems, e)
		p.skipSpace()
		if p.peek() != ',' {
			break
		}
		p.pos++
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return t, nil
}

// angle parses pids <0.80.0> and binaries <<...>>, neither of which is
// a re-evaluable literal; both become Opaque.
func (p *termParser) angle() (Expr, error) {
	start := p.pos
	if strings.HasPrefix(p.src[p.pos:], "<<") {
		depth := 0
		for p.pos < len(p.src) {
			if strings.HasPrefix(p.src[p.pos:], "<<") {
				depth++
				p.pos += 2
				continue
			}
			if strings.HasPrefix(p.src[p.pos:], ">>") {
				depth--
				p.pos += 2
				if depth == 0 {
					return &Opaque{Tag: "bin", Text: p.src[start:p.pos]}, nil
				}
				continue
			}
			p.pos++
		}
		return nil, fmt.Errorf("unterminated binary in %q", p.src)
	}
	end := strings.IndexByte(p.src[p.pos:], '>')
	if end < 0 {
		return nil, fmt.Errorf("unterminated pid in %q", p.src)
	}
	p.pos += end + 1
	return &Opaque{Tag: "pid", Text: p.src[start:p.pos]}, nil
}

// hash parses maps #{...} and the printed opaque forms #Fun<...>,
// #Ref<...> and #Port<...>.
func (p *termParser) hash() (Expr, error) {
	rest := p.src[p.pos:]
	for _, t := range []struct{ prefix, tag string }{
		{"#Fun<", "fun"},
		{"#Ref<", "ref"},
		{"#Port<", "port"},
	} {
		if strings.HasPrefix(rest, t.prefix) {
			end := strings.IndexByte(rest, '>')
			if end < 0 {
				return nil, fmt.Errorf("unterminated %s in %q", t.tag, p.src)
			}
			text := rest[:end+1]
			p.pos += end + 1
			return &Opaque{Tag: t.tag, Text: text}, nil
		}
	}
	if !strings.HasPrefix(rest, "#{") {
		return nil, fmt.Errorf("unexpected # at offset %d in term %q", p.pos, p.src)
	}
	p.pos += 2
	m := &MapExpr{}
	p.skipSpace()
	if p.peek() == '}' {
		p.pos++
		return m, nil
	}
	for {
		k, err := p.term()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if !strings.HasPrefix(p.src[p.pos:], "=>") {
			return nil, fmt.Errorf("expected => at offset %d in map %q", p.pos, p.src)
		}
		p.pos += 2
		v, err := p.term()
		if err != nil {
			return nil, err
		}
		m.Assocs = append(m.Assocs, MapAssoc{Key: k, Value: v})
		p.skipSpace()
		if p.peek() != ',' {
			break
		}
		p.pos++
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}
	return m, nil
}
