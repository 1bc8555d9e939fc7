package source

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkAtom
	tkVar
	tkInt
	tkFloat
	tkString
	tkPunct // operators and punctuation, identified by text
)

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) String() string {
	if t.kind == tkEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

// multi-byte punctuation, longest first so the scanner is greedy.
var punctTable = []string{
	"=:=", "=/=", "->", "<-", "<=", "=<", ">=", "==", "/=", "++", "--",
	"||", "=>", ":=", "<<", ">>", "(", ")", "{", "}", "[", "]", ",",
	";", "|", "#", ":", "=", "<", ">", "+", "-", "*", "/", "!", ".",
}

type scanner struct {
	src  string
	pos  int
	line int
}

func newScanner(src string) *scanner {
	return &scanner{src: src, line: 1}
}

// scan returns the full token stream.
func (s *scanner) scan() ([]token, error) {
	var toks []token
	for {
		t, err := s.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, t)
		if t.kind == tkEOF {
			return toks, nil
		}
	}
}

func (s *scanner) next() (token, error) {
	s.skip()
	if s.pos >= len(s.src) {
		return token{kind: tkEOF, line: s.line}, nil
	}
	c := s.src[s.pos]
	switch {
	case c >= '0' && c <= '9':
		return s.number()
	case c == '$':
		return s.charLit()
	case c == '"':
		return s.stringLit()
	case c == '\'':
		return s.quotedAtom()
	case c == '_' || c >= 'A' && c <= 'Z':
		return s.name(tkVar), nil
	case c >= 'a' && c <= 'z':
		return s.name(tkAtom), nil
	}
	for _, p := range punctTable {
		if strings.HasPrefix(s.src[s.pos:], p) {
			t := token{kind: tkPunct, text: p, line: s.line}
			s.pos += len(p)
			return t, nil
		}
	}
	return token{}, fmt.Errorf("line %d: unexpected character %q", s.line, string(c))
}

func (s *scanner) skip() {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\n':
			s.line++
			s.pos++
		case c == ' ' || c == '\t' || c == '\r':
			s.pos++
		case c == '%':
			for s.pos < len(s.src) && s.src[s.pos] != '\n' {
				s.pos++
			}
		default:
			return
		}
	}
}

func (s *scanner) name(kind tokenKind) token {
	start := s.pos
	for s.pos < len(s.src) && isNameChar(s.src[s.pos]) {
		s.pos++
	}
	return token{kind: kind, text: s.src[start:s.pos], line: s.line}
}

func isNameChar(c byte) bool {
	return c == '_' || c == '@' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func (s *scanner) number() (token, error) {
	start := s.pos
	for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
		s.pos++
	}
	// base#digits integers, e.g. 16#ff
	if s.pos < len(s.src) && s.src[s.pos] == '#' {
		s.pos++
		for s.pos < len(s.src) && isNameChar(s.src[s.pos]) {
			s.pos++
		}
		return token{kind: tkInt, text: s.src[start:s.pos], line: s.line}, nil
	}
	kind := tkInt
	if s.pos+1 < len(s.src) && s.src[s.pos] == '.' && s.src[s.pos+1] >= '0' && s.src[s.pos+1] <= '9' {
		kind = tkFloat
		s.pos++
		for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
			s.pos++
		}
		if s.pos < len(s.src) && (s.src[s.pos] == 'e' || s.src[s.pos] == 'E') {
			s.pos++
			if s.pos < len(s.src) && (s.src[s.pos] == '+' || s.src[s.pos] == '-') {
				s.pos++
			}
			for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
				s.pos++
			}
		}
	}
	return token{kind: kind, text: s.src[start:s.pos], line: s.line}, nil
}

// charLit turns $c into its integer code point, matching how the
// compiler treats character literals.
func (s *scanner) charLit() (token, error) {
	s.pos++ // $
	if s.pos >= len(s.src) {
		return token{}, fmt.Errorf("line %d: dangling character literal", s.line)
	}
	c := s.src[s.pos]
	if c == '\\' && s.pos+1 < len(s.src) {
		s.pos++
		c = unescape(s.src[s.pos])
	}
	s.pos++
	return token{kind: tkInt, text: fmt.Sprintf("%d", c), line: s.line}, nil
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case 's':
		return ' '
	default:
		return c
	}
}

func (s *scanner) stringLit() (token, error) {
	line := s.line
	s.pos++ // opening quote
	var b strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch c {
		case '\\':
			if s.pos+1 < len(s.src) {
				b.WriteByte(unescape(s.src[s.pos+1]))
				s.pos += 2
				continue
			}
			s.pos++
		case '"':
			s.pos++
			return token{kind: tkString, text: b.String(), line: line}, nil
		case '\n':
			s.line++
			b.WriteByte(c)
			s.pos++
		default:
			b.WriteByte(c)
			s.pos++
		}
	}
	return token{}, fmt.Errorf("line %d: unterminated string", line)
}

func (s *scanner) quotedAtom() (token, error) {
	line := s.line
	s.pos++ // opening quote
	start := s.pos
	for s.pos < len(s.src) {
		if s.src[s.pos] == '\\' {
			s.pos += 2
			continue
		}
		if s.src[s.pos] == '\'' {
			name := s.src[start:s.pos]
			s.pos++
			return token{kind: tkAtom, text: "'" + name + "'", line: line}, nil
		}
		if s.src[s.pos] == '\n' {
			s.line++
		}
		s.pos++
	}
	return token{}, fmt.Errorf("line %d: unterminated quoted atom", line)
}
