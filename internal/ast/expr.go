// Package ast defines the abstract syntax the reconstruction engine
// operates on: a closed set of expression variants mirroring the Erlang
// abstract format, plus a parser for printed runtime terms and a pretty
// printer that renders forms back to source text.
//
// The set of variants is deliberately closed. The substitution engine
// dispatches over it with a single type switch whose default arm fails
// with an "unsupported expression" error, so the supported grammar is
// explicit and extensible in one place.
package ast

// Expr is one node of the expression grammar.
type Expr interface {
	// Pos returns the starting source line of the node, or 0 for nodes
	// synthesized from runtime values.
	Pos() int
	exprNode()
}

// Atom is an atom literal such as ok or 'quoted atom'.
type Atom struct {
	Line int
	Name string
}

// Integer is an integer literal. The text form is kept verbatim so
// bignums survive a round trip.
type Integer struct {
	Line int
	Text string
}

// Float is a floating point literal, kept in its printed form.
type Float struct {
	Line int
	Text string
}

// String is a double-quoted string literal.
type String struct {
	Line  int
	Value string
}

// NilList is the empty list marker [].
type NilList struct {
	Line int
}

// Var is a variable reference.
type Var struct {
	Line int
	Name string
}

// Cons is a non-empty list cell [Head | Tail].
type Cons struct {
	Line int
	Head Expr
	Tail Expr
}

// Tuple is {E1, ..., En}.
type Tuple struct {
	Line  int
	Elems []Expr
}

// MapAssoc is a single key/value association inside a map expression.
// Exact associations (:=) only appear in patterns and updates.
type MapAssoc struct {
	Key   Expr
	Value Expr
	Exact bool
}

// MapExpr is #{K => V, ...}, optionally updating a base map.
type MapExpr struct {
	Line   int
	Base   Expr // nil for construction
	Assocs []MapAssoc
}

// Match is the pattern match Left = Right.
type Match struct {
	Line  int
	Left  Expr
	Right Expr
}

// BinOp is an infix operator application such as A + B or X =:= Y.
type BinOp struct {
	Line  int
	Op    string
	Left  Expr
	Right Expr
}

// UnOp is a prefix operator application such as -X or not B.
type UnOp struct {
	Line    int
	Op      string
	Operand Expr
}

// Call is a function application. Module is nil for local calls; for
// remote calls it is usually an Atom, and either position may hold a
// variable for dynamic dispatch.
type Call struct {
	Line   int
	Module Expr // nil for local calls
	Fun    Expr
	Args   []Expr
}

// Block is begin ... end.
type Block struct {
	Line int
	Body []Expr
}

// Clause is one alternative of a function, case, if, receive, try or
// fun construct: patterns, optional guard sequences, and a body.
type Clause struct {
	Line     int
	Patterns []Expr
	Guards   [][]Expr // disjunction of conjunctions; nil when unguarded
	Body     []Expr
}

// Case is case Arg of Clauses end.
type Case struct {
	Line    int
	Arg     Expr
	Clauses []*Clause
}

// If is if Clauses end; clauses carry guards only.
type If struct {
	Line    int
	Clauses []*Clause
}

// Receive is receive Clauses [after Timeout -> Body] end.
type Receive struct {
	Line      int
	Clauses   []*Clause
	After     Expr   // nil when no after section
	AfterBody []Expr // body of the after section
}

// Try is try Body [of Clauses] catch Handlers [after After] end.
type Try struct {
	Line     int
	Body     []Expr
	Clauses  []*Clause // the "of" section, may be empty
	Handlers []*Clause // catch clauses
	After    []Expr    // nil when absent
}

// Fun is an anonymous function literal fun Clauses end.
type Fun struct {
	Line    int
	Clauses []*Clause
}

// FunRef is a reference fun Name/Arity or fun Module:Name/Arity.
type FunRef struct {
	Line   int
	Module string // "" for local references
	Name   string
	Arity  int
}

// Generator is Pattern <- Source inside a comprehension.
type Generator struct {
	Line    int
	Pattern Expr
	Source  Expr
}

// ListComp is [Template || Qualifiers]; qualifiers are Generator nodes
// or filter expressions.
type ListComp struct {
	Line     int
	Template Expr
	Quals    []Expr
}

// RecordField is one Name = Value pair inside a record expression. A
// nil Value only occurs in declarations without a default.
type RecordField struct {
	Line  int
	Name  string
	Value Expr
}

// Record is a record construction #name{...} or, when Base is set, an
// update Base#name{...}.
type Record struct {
	Line   int
	Name   string
	Base   Expr // nil for construction
	Fields []*RecordField
}

// RecordAccess is Rec#name.field.
type RecordAccess struct {
	Line  int
	Rec   Expr
	Name  string
	Field string
}

// RecordIndex is #name.field, the positional index of a field.
type RecordIndex struct {
	Line  int
	Name  string
	Field string
}

// Opaque is a runtime value with no self-contained literal syntax
// (pids, funs, references, ports). It renders as a tagged string such
// as "pid:<0.80.0>" so the output stays parseable.
type Opaque struct {
	Line int
	Tag  string
	Text string
}

// FuncDecl is a named function definition with its ordered clauses.
type FuncDecl struct {
	Line    int
	Name    string
	Arity   int
	Clauses []*Clause
}

func (e *Atom) Pos() int         { return e.Line }
func (e *Integer) Pos() int      { return e.Line }
func (e *Float) Pos() int        { return e.Line }
func (e *String) Pos() int       { return e.Line }
func (e *NilList) Pos() int      { return e.Line }
func (e *Var) Pos() int          { return e.Line }
func (e *Cons) Pos() int         { return e.Line }
func (e *Tuple) Pos() int        { return e.Line }
func (e *MapExpr) Pos() int      { return e.Line }
func (e *Match) Pos() int        { return e.Line }
func (e *BinOp) Pos() int        { return e.Line }
func (e *UnOp) Pos() int         { return e.Line }
func (e *Call) Pos() int         { return e.Line }
func (e *Block) Pos() int        { return e.Line }
func (e *Case) Pos() int         { return e.Line }
func (e *If) Pos() int           { return e.Line }
func (e *Receive) Pos() int      { return e.Line }
func (e *Try) Pos() int          { return e.Line }
func (e *Fun) Pos() int          { return e.Line }
func (e *FunRef) Pos() int       { return e.Line }
func (e *Generator) Pos() int    { return e.Line }
func (e *ListComp) Pos() int     { return e.Line }
func (e *Record) Pos() int       { return e.Line }
func (e *RecordAccess) Pos() int { return e.Line }
func (e *RecordIndex) Pos() int  { return e.Line }
func (e *Opaque) Pos() int       { return e.Line }

func (*Atom) exprNode()         {}
func (*Integer) exprNode()      {}
func (*Float) exprNode()        {}
func (*String) exprNode()       {}
func (*NilList) exprNode()      {}
func (*Var) exprNode()          {}
func (*Cons) exprNode()         {}
func (*Tuple) exprNode()        {}
func (*MapExpr) exprNode()      {}
func (*Match) exprNode()        {}
func (*BinOp) exprNode()        {}
func (*UnOp) exprNode()         {}
func (*Call) exprNode()         {}
func (*Block) exprNode()        {}
func (*Case) exprNode()         {}
func (*If) exprNode()           {}
func (*Receive) exprNode()      {}
func (*Try) exprNode()          {}
func (*Fun) exprNode()          {}
func (*FunRef) exprNode()       {}
func (*Generator) exprNode()    {}
func (*ListComp) exprNode()     {}
func (*Record) exprNode()       {}
func (*RecordAccess) exprNode() {}
func (*RecordIndex) exprNode()  {}
func (*Opaque) exprNode()       {}
