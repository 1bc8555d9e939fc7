package ast

import (
	"fmt"
	"strings"
)

const indentUnit = "    "

// Print renders a single expression to source text.
func Print(e Expr) string {
	var b strings.Builder
	pr := &printer{w: &b}
	pr.expr(e)
	return b.String()
}

// PrintFunc renders a full function definition, clauses separated by
// semicolons and the last terminated with a period.
func PrintFunc(fd *FuncDecl) string {
	var b strings.Builder
	pr := &printer{w: &b}
	for i, c := range fd.Clauses {
		pr.funClauseHead(fd.Name, c)
		pr.clauseBody(c)
		if i < len(fd.Clauses)-1 {
			b.WriteString(";\n")
		} else {
			b.WriteString(".")
		}
	}
	return b.String()
}

// Indent prefixes every line of text with depth indent units of width
// unit spaces. Used to nest rendered frames by call depth.
func Indent(text string, depth, unit int) string {
	if depth <= 0 || unit <= 0 {
		return text
	}
	pad := strings.Repeat(" ", depth*unit)
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n")
}

type printer struct {
	w      *strings.Builder
	indent int
}

func (p *printer) nl() {
	p.w.WriteString("\n")
	for i := 0; i < p.indent; i++ {
		p.w.WriteString(indentUnit)
	}
}

func (p *printer) funClauseHead(name string, c *Clause) {
	p.w.WriteString(name)
	p.w.WriteString("(")
	p.exprList(c.Patterns)
	p.w.WriteString(")")
	p.guards(c.Guards)
	p.w.WriteString(" ->")
}

func (p *printer) guards(gs [][]Expr) {
	if len(gs) == 0 {
		return
	}
	p.w.WriteString(" when ")
	for i, conj := range gs {
		if i > 0 {
			p.w.WriteString("; ")
		}
		for j, g := range conj {
			if j > 0 {
				p.w.WriteString(", ")
			}
			p.expr(g)
		}
	}
}

// clauseBody prints the body one expression per line, indented one
// level below the clause head.
func (p *printer) clauseBody(c *Clause) {
	p.indent++
	for i, e := range c.Body {
		p.nl()
		p.expr(e)
		if i < len(c.Body)-1 {
			p.w.WriteString(",")
		}
	}
	p.indent--
}

func (p *printer) exprList(es []Expr) {
	for i, e := range es {
		if i > 0 {
			p.w.WriteString(", ")
		}
		p.expr(e)
	}
}

// Operator precedence, higher binds tighter. Mirrors the Erlang
// operator table closely enough for unambiguous output.
func prec(op string) int {
	switch op {
	case "orelse", "or", "xor":
		return 1
	case "andalso":
		return 2
	case "==", "/=", "=<", "<", ">", ">=", "=:=", "=/=":
		return 3
	case "++", "--":
		return 4
	case "+", "-", "bor", "bxor", "bsl", "bsr":
		return 5
	case "*", "/", "div", "rem", "and", "band":
		return 6
	default:
		return 7
	}
}

func (p *printer) operand(e Expr, parent string, right bool) {
	need := false
	switch v := e.(type) {
	case *BinOp:
		if right {
			need = prec(v.Op) <= prec(parent)
		} else {
			need = prec(v.Op) < prec(parent)
		}
	case *Match, *UnOp:
		need = true
	}
	if need {
		p.w.WriteString("(")
		p.expr(e)
		p.w.WriteString(")")
		return
	}
	p.expr(e)
}

func (p *printer) expr(e Expr) {
	switch v := e.(type) {
	case *Atom:
		p.w.WriteString(v.Name)
	case *Integer:
		p.w.WriteString(v.Text)
	case *Float:
		p.w.WriteString(v.Text)
	case *String:
		fmt.Fprintf(p.w, "%q", v.Value)
	case *NilList:
		p.w.WriteString("[]")
	case *Var:
		p.w.WriteString(v.Name)
	case *Cons:
		p.cons(v)
	case *Tuple:
		p.w.WriteString("{")
		p.exprList(v.Elems)
		p.w.WriteString("}")
	case *MapExpr:
		if v.Base != nil {
			p.expr(v.Base)
		}
		p.w.WriteString("#{")
		for i, a := range v.Assocs {
			if i > 0 {
				p.w.WriteString(", ")
			}
			p.expr(a.Key)
			if a.Exact {
				p.w.WriteString(" := ")
			} else {
				p.w.WriteString(" => ")
			}
			p.expr(a.Value)
		}
		p.w.WriteString("}")
	case *Match:
		p.expr(v.Left)
		p.w.WriteString(" = ")
		p.expr(v.Right)
	case *BinOp:
		if v.Op == ":" {
			// exception class patterns, e.g. error:Reason
			p.expr(v.Left)
			p.w.WriteString(":")
			p.expr(v.Right)
			return
		}
		p.operand(v.Left, v.Op, false)
		p.w.WriteString(" " + v.Op + " ")
		p.operand(v.Right, v.Op, true)
	case *UnOp:
		p.w.WriteString(v.Op)
		if v.Op == "not" || v.Op == "bnot" || v.Op == "catch" {
			p.w.WriteString(" ")
		}
		p.operand(v.Operand, v.Op, true)
	case *Call:
		p.call(v)
	case *Block:
		p.w.WriteString("begin")
		p.body(v.Body)
		p.nl()
		p.w.WriteString("end")
	case *Case:
		p.w.WriteString("case ")
		p.expr(v.Arg)
		p.w.WriteString(" of")
		p.branches(v.Clauses)
		p.nl()
		p.w.WriteString("end")
	case *If:
		p.w.WriteString("if")
		p.indent++
		for i, c := range v.Clauses {
			p.nl()
			for j, conj := range c.Guards {
				if j > 0 {
					p.w.WriteString("; ")
				}
				p.exprList(conj)
			}
			p.w.WriteString(" ->")
			p.clauseBody(c)
			if i < len(v.Clauses)-1 {
				p.w.WriteString(";")
			}
		}
		p.indent--
		p.nl()
		p.w.WriteString("end")
	case *Receive:
		p.w.WriteString("receive")
		p.branches(v.Clauses)
		if v.After != nil {
			p.nl()
			p.w.WriteString("after ")
			p.expr(v.After)
			p.w.WriteString(" ->")
			p.body(v.AfterBody)
		}
		p.nl()
		p.w.WriteString("end")
	case *Try:
		p.w.WriteString("try")
		p.body(v.Body)
		if len(v.Clauses) > 0 {
			p.nl()
			p.w.WriteString("of")
			p.branches(v.Clauses)
		}
		if len(v.Handlers) > 0 {
			p.nl()
			p.w.WriteString("catch")
			p.branches(v.Handlers)
		}
		if v.After != nil {
			p.nl()
			p.w.WriteString("after")
			p.body(v.After)
		}
		p.nl()
		p.w.WriteString("end")
	case *Fun:
		p.w.WriteString("fun")
		p.indent++
		for i, c := range v.Clauses {
			p.nl()
			p.w.WriteString("(")
			p.exprList(c.Patterns)
			p.w.WriteString(")")
			p.guards(c.Guards)
			p.w.WriteString(" ->")
			p.clauseBody(c)
			if i < len(v.Clauses)-1 {
				p.w.WriteString(";")
			}
		}
		p.indent--
		p.nl()
		p.w.WriteString("end")
	case *FunRef:
		if v.Module != "" {
			fmt.Fprintf(p.w, "fun %s:%s/%d", v.Module, v.Name, v.Arity)
		} else {
			fmt.Fprintf(p.w, "fun %s/%d", v.Name, v.Arity)
		}
	case *Generator:
		p.expr(v.Pattern)
		p.w.WriteString(" <- ")
		p.expr(v.Source)
	case *ListComp:
		p.w.WriteString("[")
		p.expr(v.Template)
		p.w.WriteString(" || ")
		p.exprList(v.Quals)
		p.w.WriteString("]")
	case *Record:
		if v.Base != nil {
			p.expr(v.Base)
		}
		p.w.WriteString("#" + v.Name + "{")
		for i, f := range v.Fields {
			if i > 0 {
				p.w.WriteString(", ")
			}
			p.w.WriteString(f.Name)
			if f.Value != nil {
				p.w.WriteString(" = ")
				p.expr(f.Value)
			}
		}
		p.w.WriteString("}")
	case *RecordAccess:
		p.expr(v.Rec)
		p.w.WriteString("#" + v.Name + "." + v.Field)
	case *RecordIndex:
		p.w.WriteString("#" + v.Name + "." + v.Field)
	case *Opaque:
		fmt.Fprintf(p.w, "%q", v.Tag+":"+v.Text)
	default:
		fmt.Fprintf(p.w, "/*?%T*/", e)
	}
}

func (p *printer) body(es []Expr) {
	p.indent++
	for i, e := range es {
		p.nl()
		p.expr(e)
		if i < len(es)-1 {
			p.w.WriteString(",")
		}
	}
	p.indent--
}

func (p *printer) branches(cs []*Clause) {
	p.indent++
	for i, c := range cs {
		p.nl()
		p.exprList(c.Patterns)
		p.guards(c.Guards)
		p.w.WriteString(" ->")
		p.clauseBody(c)
		if i < len(cs)-1 {
			p.w.WriteString(";")
		}
	}
	p.indent--
}

func (p *printer) call(c *Call) {
	if c.Module != nil {
		p.callTarget(c.Module)
		p.w.WriteString(":")
	}
	p.callTarget(c.Fun)
	p.w.WriteString("(")
	p.exprList(c.Args)
	p.w.WriteString(")")
}

// callTarget parenthesizes call positions that are not plain names.
func (p *printer) callTarget(e Expr) {
	switch e.(type) {
	case *Atom, *Var:
		p.expr(e)
	default:
		p.w.WriteString("(")
		p.expr(e)
		p.w.WriteString(")")
	}
}

// cons prints proper lists in element form and improper tails with the
// bar notation.
func (p *printer) cons(c *Cons) {
	p.w.WriteString("[")
	cur := Expr(c)
	first := true
	for {
		cell, ok := cur.(*Cons)
		if !ok {
			break
		}
		if !first {
			p.w.WriteString(", ")
		}
		p.expr(cell.Head)
		first = false
		cur = cell.Tail
	}
	if _, ok := cur.(*NilList); !ok {
		p.w.WriteString(" | ")
		p.expr(cur)
	}
	p.w.WriteString("]")
}
