// Package subst rewrites a function's abstract syntax so that every
// variable executed during a traced run is replaced by the literal
// value it held, and record sugar is expanded to its positional form.
// Only clauses execution touched are rewritten; untouched alternatives
// are emitted verbatim so code that never ran is not misrepresented.
package subst

import (
	"fmt"

	"retrace/internal/ast"
	"retrace/internal/logging"
	"retrace/internal/records"
	"retrace/internal/touch"
)

// UnsupportedError reports an expression shape outside the rewrite
// grammar. It fails the render of one node; callers fall back to the
// node's original source text.
type UnsupportedError struct {
	Expr ast.Expr
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported expression %T at line %d", e.Expr, e.Expr.Pos())
}

// Definitions supplies record field layouts for expansion. A name with
// no definition leaves the record syntax unexpanded.
type Definitions interface {
	Lookup(name string) (*records.Definition, bool)
}

// Render rewrites fd under the given touch structure and bindings and
// pretty-prints the result, re-indented by call depth.
func Render(fd *ast.FuncDecl, clauses []*touch.Clause, bindings map[string]string, defs Definitions, depth, indentUnit int) (string, error) {
	r := &rewriter{
		bindings: bindings,
		defs:     defs,
		touched:  touch.Touched(clauses),
		known:    touch.Known(clauses),
	}
	out := &ast.FuncDecl{Line: fd.Line, Name: fd.Name, Arity: fd.Arity}
	for _, c := range fd.Clauses {
		rc, err := r.clause(c, nil)
		if err != nil {
			return "", err
		}
		out.Clauses = append(out.Clauses, rc)
	}
	logging.SubstDebug("rendered %s/%d with %d binding(s)", fd.Name, fd.Arity, len(bindings))
	return ast.Indent(ast.PrintFunc(out), depth, indentUnit), nil
}

type rewriter struct {
	bindings map[string]string
	defs     Definitions
	touched  map[int]bool
	known    map[int]bool
}

// ran reports whether the clause starting at line executed. Clauses
// the touch structure does not know about default to rewritten, which
// at worst substitutes inside straight-line code that was reached as a
// unit.
func (r *rewriter) ran(line int) bool {
	return !r.known[line] || r.touched[line]
}

// clause rewrites one clause; untouched clauses come back unchanged.
// Patterns always stay as written - they bind rather than reference.
func (r *rewriter) clause(c *ast.Clause, shadow set) (*ast.Clause, error) {
	if !r.ran(c.Line) {
		return c, nil
	}
	out := &ast.Clause{Line: c.Line, Patterns: c.Patterns}
	for _, conj := range c.Guards {
		var rg []ast.Expr
		for _, g := range conj {
			e, err := r.expr(g, shadow)
			if err != nil {
				return nil, err
			}
			rg = append(rg, e)
		}
		out.Guards = append(out.Guards, rg)
	}
	var err error
	out.Body, err = r.exprs(c.Body, shadow)
	return out, err
}

// funClause rewrites an anonymous-fun clause: its parameters denote
// fresh bindings, so they shadow any outer variable of the same name
// within the clause body.
func (r *rewriter) funClause(c *ast.Clause, shadow set) (*ast.Clause, error) {
	if !r.ran(c.Line) {
		return c, nil
	}
	inner := shadow.extend(patternVars(c.Patterns...))
	return r.clause(&ast.Clause{Line: c.Line, Patterns: c.Patterns, Guards: c.Guards, Body: c.Body}, inner)
}

func (r *rewriter) exprs(es []ast.Expr, shadow set) ([]ast.Expr, error) {
	var out []ast.Expr
	for _, e := range es {
		re, err := r.expr(e, shadow)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func (r *rewriter) branch(cs []*ast.Clause, shadow set, fun bool) ([]*ast.Clause, error) {
	var out []*ast.Clause
	for _, c := range cs {
		var rc *ast.Clause
		var err error
		if fun {
			rc, err = r.funClause(c, shadow)
		} else {
			rc, err = r.clause(c, shadow)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

// expr is the single rewrite visitor over the closed expression set.
// Shapes it does not recognize fail with UnsupportedError.
func (r *rewriter) expr(e ast.Expr, shadow set) (ast.Expr, error) {
	switch v := e.(type) {
	case *ast.Atom, *ast.Integer, *ast.Float, *ast.String, *ast.NilList,
		*ast.Opaque, *ast.FunRef:
		return e, nil

	case *ast.RecordIndex:
		if def, found := r.lookup(v.Name); found {
			if idx, ok := def.Index(v.Field); ok {
				return &ast.Integer{Line: v.Line, Text: fmt.Sprintf("%d", idx)}, nil
			}
		}
		return v, nil

	case *ast.Var:
		if shadow.has(v.Name) {
			return v, nil
		}
		val, ok := r.bindings[v.Name]
		if !ok {
			// unbound at this point in execution; leave the reference
			return v, nil
		}
		return ast.ValueExpr(val), nil

	case *ast.Cons:
		h, err := r.expr(v.Head, shadow)
		if err != nil {
			return nil, err
		}
		t, err := r.expr(v.Tail, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.Cons{Line: v.Line, Head: h, Tail: t}, nil

	case *ast.Tuple:
		elems, err := r.exprs(v.Elems, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.Tuple{Line: v.Line, Elems: elems}, nil

	case *ast.MapExpr:
		out := &ast.MapExpr{Line: v.Line}
		if v.Base != nil {
			b, err := r.expr(v.Base, shadow)
			if err != nil {
				return nil, err
			}
			out.Base = b
		}
		for _, a := range v.Assocs {
			k, err := r.expr(a.Key, shadow)
			if err != nil {
				return nil, err
			}
			val, err := r.expr(a.Value, shadow)
			if err != nil {
				return nil, err
			}
			out.Assocs = append(out.Assocs, ast.MapAssoc{Key: k, Value: val, Exact: a.Exact})
		}
		return out, nil

	case *ast.Match:
		// the left side is a pattern; only the right side references
		rhs, err := r.expr(v.Right, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.Match{Line: v.Line, Left: v.Left, Right: rhs}, nil

	case *ast.BinOp:
		l, err := r.expr(v.Left, shadow)
		if err != nil {
			return nil, err
		}
		rt, err := r.expr(v.Right, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.BinOp{Line: v.Line, Op: v.Op, Left: l, Right: rt}, nil

	case *ast.UnOp:
		o, err := r.expr(v.Operand, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.UnOp{Line: v.Line, Op: v.Op, Operand: o}, nil

	case *ast.Call:
		out := &ast.Call{Line: v.Line}
		var err error
		if v.Module != nil {
			out.Module, err = r.expr(v.Module, shadow)
			if err != nil {
				return nil, err
			}
		}
		out.Fun, err = r.expr(v.Fun, shadow)
		if err != nil {
			return nil, err
		}
		out.Args, err = r.exprs(v.Args, shadow)
		if err != nil {
			return nil, err
		}
		return out, nil

	case *ast.Block:
		body, err := r.exprs(v.Body, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.Block{Line: v.Line, Body: body}, nil

	case *ast.Case:
		arg, err := r.expr(v.Arg, shadow)
		if err != nil {
			return nil, err
		}
		cs, err := r.branch(v.Clauses, shadow, false)
		if err != nil {
			return nil, err
		}
		return &ast.Case{Line: v.Line, Arg: arg, Clauses: cs}, nil

	case *ast.If:
		cs, err := r.branch(v.Clauses, shadow, false)
		if err != nil {
			return nil, err
		}
		return &ast.If{Line: v.Line, Clauses: cs}, nil

	case *ast.Receive:
		cs, err := r.branch(v.Clauses, shadow, false)
		if err != nil {
			return nil, err
		}
		out := &ast.Receive{Line: v.Line, Clauses: cs}
		if v.After != nil {
			out.After, err = r.expr(v.After, shadow)
			if err != nil {
				return nil, err
			}
			out.AfterBody, err = r.exprs(v.AfterBody, shadow)
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	case *ast.Try:
		body, err := r.exprs(v.Body, shadow)
		if err != nil {
			return nil, err
		}
		cs, err := r.branch(v.Clauses, shadow, false)
		if err != nil {
			return nil, err
		}
		hs, err := r.branch(v.Handlers, shadow, false)
		if err != nil {
			return nil, err
		}
		after, err := r.exprs(v.After, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.Try{Line: v.Line, Body: body, Clauses: cs, Handlers: hs, After: after}, nil

	case *ast.Fun:
		cs, err := r.branch(v.Clauses, shadow, true)
		if err != nil {
			return nil, err
		}
		return &ast.Fun{Line: v.Line, Clauses: cs}, nil

	case *ast.ListComp:
		// generator patterns bind fresh variables for each element, so
		// they shadow outer bindings just like fun parameters
		inner := shadow
		out := &ast.ListComp{Line: v.Line}
		for _, q := range v.Quals {
			if g, ok := q.(*ast.Generator); ok {
				src, err := r.expr(g.Source, inner)
				if err != nil {
					return nil, err
				}
				out.Quals = append(out.Quals, &ast.Generator{Line: g.Line, Pattern: g.Pattern, Source: src})
				inner = inner.extend(patternVars(g.Pattern))
				continue
			}
			f, err := r.expr(q, inner)
			if err != nil {
				return nil, err
			}
			out.Quals = append(out.Quals, f)
		}
		tmpl, err := r.expr(v.Template, inner)
		if err != nil {
			return nil, err
		}
		out.Template = tmpl
		return out, nil

	case *ast.Generator:
		src, err := r.expr(v.Source, shadow)
		if err != nil {
			return nil, err
		}
		return &ast.Generator{Line: v.Line, Pattern: v.Pattern, Source: src}, nil

	case *ast.Record:
		return r.record(v, shadow)

	case *ast.RecordAccess:
		rec, err := r.expr(v.Rec, shadow)
		if err != nil {
			return nil, err
		}
		if def, found := r.lookup(v.Name); found {
			if idx, ok := def.Index(v.Field); ok {
				return &ast.Call{
					Line: v.Line,
					Fun:  &ast.Atom{Line: v.Line, Name: "element"},
					Args: []ast.Expr{&ast.Integer{Line: v.Line, Text: fmt.Sprintf("%d", idx)}, rec},
				}, nil
			}
		}
		return &ast.RecordAccess{Line: v.Line, Rec: rec, Name: v.Name, Field: v.Field}, nil

	default:
		return nil, &UnsupportedError{Expr: e}
	}
}

// record expands record sugar to positional form. Construction becomes
// a tuple with the record name atom first; updates become setelement
// chains. An unresolved record name is recovered locally: the syntax
// stays, fields still substituted.
func (r *rewriter) record(v *ast.Record, shadow set) (ast.Expr, error) {
	def, found := r.lookup(v.Name)
	if !found {
		out := &ast.Record{Line: v.Line, Name: v.Name}
		var err error
		if v.Base != nil {
			out.Base, err = r.expr(v.Base, shadow)
			if err != nil {
				return nil, err
			}
		}
		for _, f := range v.Fields {
			val, err := r.expr(f.Value, shadow)
			if err != nil {
				return nil, err
			}
			out.Fields = append(out.Fields, &ast.RecordField{Line: f.Line, Name: f.Name, Value: val})
		}
		return out, nil
	}

	given := make(map[string]ast.Expr, len(v.Fields))
	for _, f := range v.Fields {
		val, err := r.expr(f.Value, shadow)
		if err != nil {
			return nil, err
		}
		given[f.Name] = val
	}

	if v.Base != nil {
		// update: setelement per assigned field over the base tuple
		cur, err := r.expr(v.Base, shadow)
		if err != nil {
			return nil, err
		}
		for _, f := range v.Fields {
			idx, ok := def.Index(f.Name)
			if !ok {
				return nil, &UnsupportedError{Expr: v}
			}
			cur = &ast.Call{
				Line: v.Line,
				Fun:  &ast.Atom{Line: v.Line, Name: "setelement"},
				Args: []ast.Expr{&ast.Integer{Line: v.Line, Text: fmt.Sprintf("%d", idx)}, cur, given[f.Name]},
			}
		}
		return cur, nil
	}

	tuple := &ast.Tuple{Line: v.Line, Elems: []ast.Expr{&ast.Atom{Line: v.Line, Name: v.Name}}}
	for _, fd := range def.Fields {
		if val, ok := given[fd.Name]; ok {
			tuple.Elems = append(tuple.Elems, val)
			continue
		}
		if fd.Default != nil {
			// defaults may reference other records; expand them too
			dv, err := r.expr(fd.Default, shadow)
			if err != nil {
				return nil, err
			}
			tuple.Elems = append(tuple.Elems, dv)
			continue
		}
		tuple.Elems = append(tuple.Elems, &ast.Atom{Line: v.Line, Name: "undefined"})
	}
	return tuple, nil
}

func (r *rewriter) lookup(name string) (*records.Definition, bool) {
	if r.defs == nil {
		return nil, false
	}
	def, ok := r.defs.Lookup(name)
	if !ok {
		logging.SubstDebug("record %s has no cached definition, left unexpanded", name)
	}
	return def, ok
}

// set is a shadowed-variable set; extend copies so sibling scopes stay
// independent.
type set map[string]bool

func (s set) has(name string) bool { return s[name] }

func (s set) extend(names []string) set {
	out := make(set, len(s)+len(names))
	for k := range s {
		out[k] = true
	}
	for _, n := range names {
		out[n] = true
	}
	return out
}

// patternVars collects the variable names a pattern binds. The
// anonymous wildcard binds nothing.
func patternVars(pats ...ast.Expr) []string {
	var out []string
	var walk func(e ast.Expr)
	walk = func(e ast.Expr) {
		switch v := e.(type) {
		case nil:
		case *ast.Var:
			if v.Name != "_" {
				out = append(out, v.Name)
			}
		case *ast.Cons:
			walk(v.Head)
			walk(v.Tail)
		case *ast.Tuple:
			for _, el := range v.Elems {
				walk(el)
			}
		case *ast.Match:
			walk(v.Left)
			walk(v.Right)
		case *ast.MapExpr:
			for _, a := range v.Assocs {
				walk(a.Value)
			}
		case *ast.Record:
			for _, f := range v.Fields {
				walk(f.Value)
			}
		case *ast.BinOp:
			walk(v.Left)
			walk(v.Right)
		}
	}
	for _, p := range pats {
		walk(p)
	}
	return out
}
