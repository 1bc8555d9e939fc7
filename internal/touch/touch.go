// Package touch tracks which syntactic clauses of a function execution
// has been observed to reach. Clause structures are derived from a
// function's abstract form; breakpoint stops advance the touch state by
// source line.
package touch

import "retrace/internal/ast"

// Clause is one clause (or nested branch) of a function: its starting
// line, whether execution reached it, and its nested branch groups in
// ascending line order.
type Clause struct {
	Line    int
	Touched bool
	Subs    []*Clause
}

// MarkReached records that execution stopped at line within the ordered
// sibling group. At most one clause per group becomes newly touched per
// call: the clause the line falls into, i.e. the last clause starting
// at or before the line. Clauses in one group are mutually exclusive
// alternatives, so touched clauses never become untouched, and once a
// later sibling in a group is touched an earlier untouched alternative
// is dead: a line landing in it propagates nothing, so a backwards jump
// cannot resurrect a branch execution never took. The mark recurses
// into the selected clause's sub-clauses with the same line. Empty
// groups are a no-op.
func MarkReached(group []*Clause, line int) []*Clause {
	c := containing(group, line)
	if c == nil {
		return group
	}
	if !c.Touched && laterTouched(group, c) {
		return group
	}
	c.Touched = true
	MarkReached(c.Subs, line)
	return group
}

// Repeats reports whether a stop at line signals a repeat pass through
// the same logical frame rather than forward progress: the line does
// not advance past the furthest line previously recorded and falls
// either into an already-touched clause or into a dead earlier
// alternative whose group a later sibling already won. The first case
// is execution jumping backwards within code it already ran; the second
// is a new pass entering a different clause, which can never be folded
// into the existing touch state. This is a line-number heuristic, not a
// structural guarantee; tail calls that re-enter a clause on a later
// line than any previously seen are indistinguishable from progress.
func Repeats(group []*Clause, line, prevLine int) bool {
	c := containing(group, line)
	if c == nil || line > prevLine {
		return false
	}
	return c.Touched || laterTouched(group, c)
}

// laterTouched reports whether a sibling after c in the ordered group
// is already touched, which makes c a dead alternative.
func laterTouched(group []*Clause, c *Clause) bool {
	after := false
	for _, s := range group {
		if s == c {
			after = true
			continue
		}
		if after && s.Touched {
			return true
		}
	}
	return false
}

// containing returns the clause of the ordered group the line falls
// into: the last clause whose starting line is <= line.
func containing(group []*Clause, line int) *Clause {
	var hit *Clause
	for _, c := range group {
		if c.Line > line {
			break
		}
		hit = c
	}
	return hit
}

// Touched collects the starting lines of every touched clause in the
// tree, and Known the lines of every clause present at all. The
// substitution engine uses the pair to decide whether a branch at a
// given line ran: known-but-untouched branches are emitted verbatim.
func Touched(group []*Clause) map[int]bool {
	out := make(map[int]bool)
	collect(group, out, true)
	return out
}

// Known reports every clause starting line in the tree.
func Known(group []*Clause) map[int]bool {
	out := make(map[int]bool)
	collect(group, out, false)
	return out
}

func collect(group []*Clause, out map[int]bool, touchedOnly bool) {
	for _, c := range group {
		if !touchedOnly || c.Touched {
			out[c.Line] = true
		}
		collect(c.Subs, out, touchedOnly)
	}
}

// Build derives the clause structure of a function: one top-level
// clause node per function clause, with nested branch constructs
// (case, if, receive, try, fun) contributing sub-clause groups.
func Build(fd *ast.FuncDecl) []*Clause {
	var out []*Clause
	for _, c := range fd.Clauses {
		out = append(out, buildClause(c))
	}
	return out
}

func buildClause(c *ast.Clause) *Clause {
	node := &Clause{Line: c.Line}
	for _, e := range c.Body {
		node.Subs = append(node.Subs, subClauses(e)...)
	}
	sortByLine(node.Subs)
	return node
}

// subClauses walks an expression collecting the clause groups of any
// nested branching construct.
func subClauses(e ast.Expr) []*Clause {
	switch v := e.(type) {
	case *ast.Case:
		out := subClauses(v.Arg)
		return append(out, branchNodes(v.Clauses)...)
	case *ast.If:
		return branchNodes(v.Clauses)
	case *ast.Receive:
		out := branchNodes(v.Clauses)
		for _, b := range v.AfterBody {
			out = append(out, subClauses(b)...)
		}
		return out
	case *ast.Try:
		var out []*Clause
		for _, b := range v.Body {
			out = append(out, subClauses(b)...)
		}
		out = append(out, branchNodes(v.Clauses)...)
		out = append(out, branchNodes(v.Handlers)...)
		for _, b := range v.After {
			out = append(out, subClauses(b)...)
		}
		return out
	case *ast.Fun:
		return branchNodes(v.Clauses)
	case *ast.Match:
		return subClauses(v.Right)
	case *ast.BinOp:
		return append(subClauses(v.Left), subClauses(v.Right)...)
	case *ast.UnOp:
		return subClauses(v.Operand)
	case *ast.Call:
		var out []*Clause
		for _, a := range v.Args {
			out = append(out, subClauses(a)...)
		}
		return out
	case *ast.Block:
		var out []*Clause
		for _, b := range v.Body {
			out = append(out, subClauses(b)...)
		}
		return out
	case *ast.Tuple:
		var out []*Clause
		for _, el := range v.Elems {
			out = append(out, subClauses(el)...)
		}
		return out
	case *ast.Cons:
		return append(subClauses(v.Head), subClauses(v.Tail)...)
	case *ast.ListComp:
		out := subClauses(v.Template)
		for _, q := range v.Quals {
			out = append(out, subClauses(q)...)
		}
		return out
	case *ast.Generator:
		return subClauses(v.Source)
	default:
		return nil
	}
}

func branchNodes(cs []*ast.Clause) []*Clause {
	var out []*Clause
	for _, c := range cs {
		out = append(out, buildClause(c))
	}
	return out
}

func sortByLine(cs []*Clause) {
	// Sub-clauses arrive mostly ordered already; insertion sort keeps
	// the ascending-line invariant without an import.
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1].Line > cs[j].Line; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}
