package source

import (
	"fmt"
	"os"

	"retrace/internal/ast"
)

// Module is the parsed abstract form of one source module: the
// function definitions and record declarations the engine consumes.
type Module struct {
	Name      string
	Path      string
	Functions []*ast.FuncDecl
	Records   []*RecordDecl
}

// RecordDecl is a -record(Name, {...}) attribute.
type RecordDecl struct {
	Line   int
	Name   string
	Fields []RecordFieldDecl
}

// RecordFieldDecl is one field of a record declaration; Default is nil
// when the declaration gives none (the runtime default is undefined).
type RecordFieldDecl struct {
	Name    string
	Default ast.Expr
}

// Parser turns a module source file into abstract syntax. The engine
// only consumes the output; any parser producing equivalent forms can
// be plugged in.
type Parser interface {
	ParseModule(path string) (*Module, error)
}

// ErlParser is the bundled reference parser for the Erlang-style
// surface syntax the engine understands. Constructs outside the
// supported grammar are reported as parse errors at load time.
type ErlParser struct{}

// NewParser returns the bundled parser.
func NewParser() *ErlParser { return &ErlParser{} }

// ParseModule reads and parses one source file.
func (*ErlParser) ParseModule(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := ParseSource(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// ParseSource parses module source text.
func ParseSource(src string) (*Module, error) {
	toks, err := newScanner(src).scan()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	return p.module()
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) peek() token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

// at matches the current token's text for punctuation and keywords.
func (p *parser) at(text string) bool {
	t := p.cur()
	return (t.kind == tkPunct || t.kind == tkAtom) && t.text == text
}

func (p *parser) eat(text string) bool {
	if p.at(text) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.eat(text) {
		return fmt.Errorf("line %d: expected %q, found %s", p.cur().line, text, p.cur())
	}
	return nil
}

func (p *parser) expectAtom() (token, error) {
	if p.cur().kind != tkAtom {
		return token{}, fmt.Errorf("line %d: expected atom, found %s", p.cur().line, p.cur())
	}
	return p.advance(), nil
}

func (p *parser) module() (*Module, error) {
	m := &Module{}
	for p.cur().kind != tkEOF {
		switch {
		case p.at("-"):
			if err := p.attribute(m); err != nil {
				return nil, err
			}
		case p.cur().kind == tkAtom && p.peek().kind == tkPunct && p.peek().text == "(":
			fd, err := p.funcDecl()
			if err != nil {
				return nil, err
			}
			m.Functions = append(m.Functions, fd)
		default:
			return nil, fmt.Errorf("line %d: unexpected %s at form start", p.cur().line, p.cur())
		}
	}
	return m, nil
}

func (p *parser) attribute(m *Module) error {
	p.advance() // -
	name, err := p.expectAtom()
	if err != nil {
		return err
	}
	switch name.text {
	case "module":
		if err := p.expect("("); err != nil {
			return err
		}
		mod, err := p.expectAtom()
		if err != nil {
			return err
		}
		m.Name = mod.text
		if err := p.expect(")"); err != nil {
			return err
		}
		return p.expect(".")
	case "record":
		rd, err := p.recordDecl(name.line)
		if err != nil {
			return err
		}
		m.Records = append(m.Records, rd)
		return nil
	default:
		// exports, includes, specs and the rest carry nothing the
		// engine needs
		return p.skipToDot()
	}
}

func (p *parser) skipToDot() error {
	for p.cur().kind != tkEOF {
		if p.advance().text == "." {
			return nil
		}
	}
	return fmt.Errorf("unterminated attribute at end of input")
}

func (p *parser) recordDecl(line int) (*RecordDecl, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	name, err := p.expectAtom()
	if err != nil {
		return nil, err
	}
	rd := &RecordDecl{Line: line, Name: name.text}
	if err := p.expect(","); err != nil {
		return nil, err
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	if !p.at("}") {
		for {
			fname, err := p.expectAtom()
			if err != nil {
				return nil, err
			}
			f := RecordFieldDecl{Name: fname.text}
			if p.eat("=") {
				def, err := p.expr()
				if err != nil {
					return nil, err
				}
				f.Default = def
			}
			rd.Fields = append(rd.Fields, f)
			if !p.eat(",") {
				break
			}
		}
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return rd, p.expect(".")
}

func (p *parser) funcDecl() (*ast.FuncDecl, error) {
	name := p.cur().text
	fd := &ast.FuncDecl{Line: p.cur().line, Name: name}
	for {
		c, err := p.funClause(name)
		if err != nil {
			return nil, err
		}
		fd.Clauses = append(fd.Clauses, c)
		if !p.eat(";") {
			break
		}
	}
	fd.Arity = len(fd.Clauses[0].Patterns)
	return fd, p.expect(".")
}

func (p *parser) funClause(name string) (*ast.Clause, error) {
	head, err := p.expectAtom()
	if err != nil {
		return nil, err
	}
	if head.text != name {
		return nil, fmt.Errorf("line %d: clause head %s does not match %s", head.line, head.text, name)
	}
	c := &ast.Clause{Line: head.line}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	if !p.at(")") {
		for {
			pat, err := p.expr()
			if err != nil {
				return nil, err
			}
			c.Patterns = append(c.Patterns, pat)
			if !p.eat(",") {
				break
			}
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	if p.eat("when") {
		c.Guards, err = p.guards()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expect("->"); err != nil {
		return nil, err
	}
	c.Body, err = p.body()
	return c, err
}

// guards parses a guard sequence: conjunctions separated by commas,
// alternatives separated by semicolons, up to the arrow.
func (p *parser) guards() ([][]ast.Expr, error) {
	var gs [][]ast.Expr
	for {
		var conj []ast.Expr
		for {
			g, err := p.expr()
			if err != nil {
				return nil, err
			}
			conj = append(conj, g)
			if !p.eat(",") {
				break
			}
		}
		gs = append(gs, conj)
		if !p.eat(";") {
			return gs, nil
		}
	}
}

// body parses comma-separated expressions up to (not consuming) a
// clause terminator.
func (p *parser) body() ([]ast.Expr, error) {
	var out []ast.Expr
	for {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		if !p.eat(",") {
			return out, nil
		}
	}
}

// binPrec mirrors the Erlang binary operator table; higher binds
// tighter.
var binPrec = map[string]int{
	"orelse": 1, "or": 1, "xor": 1,
	"andalso": 2,
	"==": 3, "/=": 3, "=<": 3, "<": 3, ">": 3, ">=": 3, "=:=": 3, "=/=": 3,
	"++": 4, "--": 4,
	"+": 5, "-": 5, "bor": 5, "bxor": 5, "bsl": 5, "bsr": 5,
	"*": 6, "/": 6, "div": 6, "rem": 6, "and": 6, "band": 6,
}

func (p *parser) expr() (ast.Expr, error) {
	lhs, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	if p.at("=") {
		line := p.advance().line
		rhs, err := p.expr() // right associative
		if err != nil {
			return nil, err
		}
		return &ast.Match{Line: line, Left: lhs, Right: rhs}, nil
	}
	if p.at("!") {
		line := p.advance().line
		rhs, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &ast.BinOp{Line: line, Op: "!", Left: lhs, Right: rhs}, nil
	}
	return lhs, nil
}

func (p *parser) binary(min int) (ast.Expr, error) {
	lhs, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.cur()
		if t.kind != tkPunct && t.kind != tkAtom {
			return lhs, nil
		}
		pr, ok := binPrec[t.text]
		if !ok || pr < min {
			return lhs, nil
		}
		p.advance()
		rhs, err := p.binary(pr + 1)
		if err != nil {
			return nil, err
		}
		lhs = &ast.BinOp{Line: t.line, Op: t.text, Left: lhs, Right: rhs}
	}
}

func (p *parser) unary() (ast.Expr, error) {
	t := p.cur()
	if p.at("-") || p.at("+") || p.at("not") || p.at("bnot") || p.at("catch") {
		p.advance()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &ast.UnOp{Line: t.line, Op: t.text, Operand: operand}, nil
	}
	return p.postfix()
}

// postfix applies call, remote-call and record suffixes to a primary
// expression.
func (p *parser) postfix() (ast.Expr, error) {
	e, err := p.primary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.at("("):
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &ast.Call{Line: e.Pos(), Fun: e, Args: args}
		case p.at(":"):
			line := p.advance().line
			target, err := p.primary()
			if err != nil {
				return nil, err
			}
			if p.at("(") {
				args, err := p.callArgs()
				if err != nil {
					return nil, err
				}
				e = &ast.Call{Line: line, Module: e, Fun: target, Args: args}
			} else {
				// exception class pattern such as error:Reason
				e = &ast.BinOp{Line: line, Op: ":", Left: e, Right: target}
			}
		case p.at("#"):
			line := p.advance().line
			if p.at("{") {
				m, err := p.mapExpr(line, e)
				if err != nil {
					return nil, err
				}
				e = m
				continue
			}
			name, err := p.expectAtom()
			if err != nil {
				return nil, err
			}
			if p.eat(".") {
				field, err := p.expectAtom()
				if err != nil {
					return nil, err
				}
				e = &ast.RecordAccess{Line: line, Rec: e, Name: name.text, Field: field.text}
			} else {
				fields, err := p.recordFields()
				if err != nil {
					return nil, err
				}
				e = &ast.Record{Line: line, Name: name.text, Base: e, Fields: fields}
			}
		default:
			return e, nil
		}
	}
}

func (p *parser) callArgs() ([]ast.Expr, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var args []ast.Expr
	if !p.at(")") {
		for {
			a, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if !p.eat(",") {
				break
			}
		}
	}
	return args, p.expect(")")
}

func (p *parser) recordFields() ([]*ast.RecordField, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var fields []*ast.RecordField
	if !p.at("}") {
		for {
			name, err := p.expectAtom()
			if err != nil {
				return nil, err
			}
			f := &ast.RecordField{Line: name.line, Name: name.text}
			if err := p.expect("="); err != nil {
				return nil, err
			}
			f.Value, err = p.expr()
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
			if !p.eat(",") {
				break
			}
		}
	}
	return fields, p.expect("}")
}

func (p *parser) primary() (ast.Expr, error) {
	t := p.cur()
	switch t.kind {
	case tkInt:
		p.advance()
		return &ast.Integer{Line: t.line, Text: t.text}, nil
	case tkFloat:
		p.advance()
		return &ast.Float{Line: t.line, Text: t.text}, nil
	case tkString:
		p.advance()
		val := t.text
		for p.cur().kind == tkString { // adjacent literals concatenate
			val += p.advance().text
		}
		return &ast.String{Line: t.line, Value: val}, nil
	case tkVar:
		p.advance()
		return &ast.Var{Line: t.line, Name: t.text}, nil
	case tkAtom:
		switch t.text {
		case "case":
			return p.caseExpr()
		case "if":
			return p.ifExpr()
		case "receive":
			return p.receiveExpr()
		case "try":
			return p.tryExpr()
		case "fun":
			return p.funExpr()
		case "begin":
			p.advance()
			body, err := p.body()
			if err != nil {
				return nil, err
			}
			return &ast.Block{Line: t.line, Body: body}, p.expect("end")
		default:
			p.advance()
			return &ast.Atom{Line: t.line, Name: t.text}, nil
		}
	}
	switch {
	case p.at("("):
		p.advance()
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		return e, p.expect(")")
	case p.at("{"):
		return p.tupleExpr()
	case p.at("["):
		return p.listExpr()
	case p.at("#"):
		return p.hashExpr()
	}
	return nil, fmt.Errorf("line %d: unexpected %s in expression", t.line, t)
}

func (p *parser) tupleExpr() (ast.Expr, error) {
	line := p.advance().line
	tp := &ast.Tuple{Line: line}
	if !p.at("}") {
		for {
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			tp.Elems = append(tp.Elems, e)
			if !p.eat(",") {
				break
			}
		}
	}
	return tp, p.expect("}")
}

func (p *parser) listExpr() (ast.Expr, error) {
	line := p.advance().line
	if p.eat("]") {
		return &ast.NilList{Line: line}, nil
	}
	first, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.eat("||") {
		lc := &ast.ListComp{Line: line, Template: first}
		for {
			q, err := p.qualifier()
			if err != nil {
				return nil, err
			}
			lc.Quals = append(lc.Quals, q)
			if !p.eat(",") {
				break
			}
		}
		return lc, p.expect("]")
	}
	elems := []ast.Expr{first}
	for p.eat(",") {
		e, err := p.expr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	var tail ast.Expr = &ast.NilList{Line: line}
	if p.eat("|") {
		tail, err = p.expr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	for i := len(elems) - 1; i >= 0; i-- {
		tail = &ast.Cons{Line: elems[i].Pos(), Head: elems[i], Tail: tail}
	}
	return tail, nil
}

func (p *parser) qualifier() (ast.Expr, error) {
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.at("<-") {
		line := p.advance().line
		src, err := p.expr()
		if err != nil {
			return nil, err
		}
		return &ast.Generator{Line: line, Pattern: e, Source: src}, nil
	}
	return e, nil // plain filter
}

func (p *parser) hashExpr() (ast.Expr, error) {
	line := p.advance().line // #
	if p.at("{") {
		return p.mapExpr(line, nil)
	}
	name, err := p.expectAtom()
	if err != nil {
		return nil, err
	}
	if p.eat(".") {
		field, err := p.expectAtom()
		if err != nil {
			return nil, err
		}
		return &ast.RecordIndex{Line: line, Name: name.text, Field: field.text}, nil
	}
	fields, err := p.recordFields()
	if err != nil {
		return nil, err
	}
	return &ast.Record{Line: line, Name: name.text, Fields: fields}, nil
}

func (p *parser) mapExpr(line int, base ast.Expr) (ast.Expr, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	m := &ast.MapExpr{Line: line, Base: base}
	if !p.at("}") {
		for {
			k, err := p.expr()
			if err != nil {
				return nil, err
			}
			exact := false
			if p.eat(":=") {
				exact = true
			} else if err := p.expect("=>"); err != nil {
				return nil, err
			}
			v, err := p.expr()
			if err != nil {
				return nil, err
			}
			m.Assocs = append(m.Assocs, ast.MapAssoc{Key: k, Value: v, Exact: exact})
			if !p.eat(",") {
				break
			}
		}
	}
	return m, p.expect("}")
}

func (p *parser) caseExpr() (ast.Expr, error) {
	line := p.advance().line
	arg, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.expect("of"); err != nil {
		return nil, err
	}
	clauses, err := p.branchClauses()
	if err != nil {
		return nil, err
	}
	return &ast.Case{Line: line, Arg: arg, Clauses: clauses}, p.expect("end")
}

// branchClauses parses single-pattern clauses separated by semicolons,
// stopping before end/after/catch/of.
func (p *parser) branchClauses() ([]*ast.Clause, error) {
	var out []*ast.Clause
	for {
		pat, err := p.expr()
		if err != nil {
			return nil, err
		}
		c := &ast.Clause{Line: pat.Pos(), Patterns: []ast.Expr{pat}}
		if p.eat("when") {
			c.Guards, err = p.guards()
			if err != nil {
				return nil, err
			}
		}
		if err := p.expect("->"); err != nil {
			return nil, err
		}
		c.Body, err = p.body()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		if !p.eat(";") {
			return out, nil
		}
	}
}

func (p *parser) ifExpr() (ast.Expr, error) {
	line := p.advance().line
	e := &ast.If{Line: line}
	for {
		c := &ast.Clause{Line: p.cur().line}
		gs, err := p.guards()
		if err != nil {
			return nil, err
		}
		c.Guards = gs
		if err := p.expect("->"); err != nil {
			return nil, err
		}
		c.Body, err = p.body()
		if err != nil {
			return nil, err
		}
		e.Clauses = append(e.Clauses, c)
		if !p.eat(";") {
			break
		}
	}
	return e, p.expect("end")
}

func (p *parser) receiveExpr() (ast.Expr, error) {
	line := p.advance().line
	e := &ast.Receive{Line: line}
	var err error
	if !p.at("after") {
		e.Clauses, err = p.branchClauses()
		if err != nil {
			return nil, err
		}
	}
	if p.eat("after") {
		e.After, err = p.expr()
		if err != nil {
			return nil, err
		}
		if err := p.expect("->"); err != nil {
			return nil, err
		}
		e.AfterBody, err = p.body()
		if err != nil {
			return nil, err
		}
	}
	return e, p.expect("end")
}

func (p *parser) tryExpr() (ast.Expr, error) {
	line := p.advance().line
	e := &ast.Try{Line: line}
	var err error
	e.Body, err = p.body()
	if err != nil {
		return nil, err
	}
	if p.eat("of") {
		e.Clauses, err = p.branchClauses()
		if err != nil {
			return nil, err
		}
	}
	if p.eat("catch") {
		e.Handlers, err = p.branchClauses()
		if err != nil {
			return nil, err
		}
	}
	if p.eat("after") {
		e.After, err = p.body()
		if err != nil {
			return nil, err
		}
	}
	return e, p.expect("end")
}

func (p *parser) funExpr() (ast.Expr, error) {
	line := p.advance().line
	if p.at("(") {
		e := &ast.Fun{Line: line}
		for {
			c := &ast.Clause{Line: p.cur().line}
			if err := p.expect("("); err != nil {
				return nil, err
			}
			if !p.at(")") {
				for {
					pat, err := p.expr()
					if err != nil {
						return nil, err
					}
					c.Patterns = append(c.Patterns, pat)
					if !p.eat(",") {
						break
					}
				}
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			var err error
			if p.eat("when") {
				c.Guards, err = p.guards()
				if err != nil {
					return nil, err
				}
			}
			if err := p.expect("->"); err != nil {
				return nil, err
			}
			c.Body, err = p.body()
			if err != nil {
				return nil, err
			}
			e.Clauses = append(e.Clauses, c)
			if !p.eat(";") {
				break
			}
		}
		return e, p.expect("end")
	}
	// fun name/Arity or fun module:name/Arity
	first, err := p.expectAtom()
	if err != nil {
		return nil, err
	}
	ref := &ast.FunRef{Line: line, Name: first.text}
	if p.eat(":") {
		second, err := p.expectAtom()
		if err != nil {
			return nil, err
		}
		ref.Module = first.text
		ref.Name = second.text
	}
	if err := p.expect("/"); err != nil {
		return nil, err
	}
	if p.cur().kind != tkInt {
		return nil, fmt.Errorf("line %d: expected arity, found %s", p.cur().line, p.cur())
	}
	ar := p.advance()
	n := 0
	fmt.Sscanf(ar.text, "%d", &n)
	ref.Arity = n
	return ref, nil
}
