// Package calltree builds the tree of concrete invocations observed
// during one traced run. Breakpoint-stop events stream in one at a
// time; the builder decides whether each stop is forward progress in
// the current frame, a repeat pass through the same frame (tail
// recursion), entry into a callee, or a return to an ancestor.
//
// Nodes live in an arena and reference each other by index, so the
// structure has no cyclic pointers and is trivially walkable after the
// run completes.
package calltree

import (
	"fmt"

	"retrace/internal/ast"
	"retrace/internal/touch"
)

// Key identifies one call frame occurrence: module, function, arity
// and call depth. Keys are not unique across re-entries; recursion and
// tail calls reuse the same key and are disambiguated by tree position
// and line ordering.
type Key struct {
	Module   string
	Function string
	Arity    int
	Depth    int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s/%d@%d", k.Module, k.Function, k.Arity, k.Depth)
}

// FormLoader supplies the immutable abstract form of a called function.
// Forms are fetched once per node, when the call is first observed.
type FormLoader interface {
	FuncForm(module, function string, arity int) (*ast.FuncDecl, error)
}

// Node is one call-tree entry. Bindings accumulate across stops within
// the frame; Line tracks the furthest line reached; Clauses is the
// mutable touch structure for the node's function form.
type Node struct {
	Key      Key
	Line     int
	Bindings map[string]string
	Fun      *ast.FuncDecl
	Clauses  []*touch.Clause
	Current  bool
	Parent   int
	Children []int
}

// Tree is the arena of trace nodes for one run. Index 0 is a synthetic
// root with an empty key; the invoked function becomes its first child
// when the first break event arrives. The tree is mutated only by the
// event stream of its run and is read-only afterwards.
type Tree struct {
	nodes  []*Node
	loader FormLoader
}

// CorruptionError reports a stop event inconsistent with the tree
// already built. It is a contract violation of the debugger backend
// and fatal to the run.
type CorruptionError struct {
	Key  Key
	Line int
	Msg  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("trace corruption at %s line %d: %s", e.Key, e.Line, e.Msg)
}

// New creates a tree holding only the synthetic root.
func New(loader FormLoader) *Tree {
	return &Tree{
		nodes:  []*Node{{Parent: -1, Current: true}},
		loader: loader,
	}
}

// Len returns the number of nodes including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node at index i.
func (t *Tree) Node(i int) *Node { return t.nodes[i] }

// Root returns the synthetic root node.
func (t *Tree) Root() *Node { return t.nodes[0] }

// CurrentIndex locates the frame execution is presently inside by
// descending Current links from the root.
func (t *Tree) CurrentIndex() int {
	i := 0
	for {
		next := -1
		for _, c := range t.nodes[i].Children {
			if t.nodes[c].Current {
				next = c
				break
			}
		}
		if next < 0 {
			return i
		}
		i = next
	}
}

// Update applies one breakpoint-stop event to the tree.
func (t *Tree) Update(key Key, line int, bindings map[string]string) error {
	cur := t.CurrentIndex()
	n := t.nodes[cur]

	switch {
	case cur != 0 && n.Key == key:
		if touch.Repeats(n.Clauses, line, n.Line) {
			// Repeat pass through the same logical frame: a fresh
			// sibling node, never an in-place rewind.
			_, err := t.addSibling(cur, key, line, bindings)
			return err
		}
		t.refresh(cur, line, bindings)
		return nil

	case key.Depth > n.Key.Depth:
		// A call was entered from the current frame.
		_, err := t.addChild(cur, key, line, bindings)
		return err

	default:
		return t.returnTo(cur, key, line, bindings)
	}
}

// returnTo handles an event at a depth at or above the current frame
// with a different key: execution returned to an ancestor, or the
// current frame was replaced by a sibling call at the same depth.
func (t *Tree) returnTo(cur int, key Key, line int, bindings map[string]string) error {
	// Walk up to the chain node at the event's depth.
	at := cur
	for at != 0 && t.nodes[at].Key.Depth > key.Depth {
		at = t.nodes[at].Parent
	}
	if at == 0 {
		return &CorruptionError{Key: key, Line: line, Msg: "no frame at event depth on the current chain"}
	}
	if t.nodes[at].Key.Depth != key.Depth {
		return &CorruptionError{Key: key, Line: line, Msg: fmt.Sprintf("current chain skips depth (nearest frame %s)", t.nodes[at].Key)}
	}

	// Frames below the target are finished.
	for i := cur; i != at; i = t.nodes[i].Parent {
		t.nodes[i].Current = false
	}

	a := t.nodes[at]
	if a.Key == key {
		if touch.Repeats(a.Clauses, line, a.Line) {
			_, err := t.addSibling(at, key, line, bindings)
			return err
		}
		t.refresh(at, line, bindings)
		return nil
	}
	// Different function at this depth: the ancestor position is taken
	// over by a new sibling call.
	_, err := t.addSibling(at, key, line, bindings)
	return err
}

func (t *Tree) refresh(i, line int, bindings map[string]string) {
	n := t.nodes[i]
	n.Line = line
	if n.Bindings == nil {
		n.Bindings = make(map[string]string, len(bindings))
	}
	for k, v := range bindings {
		n.Bindings[k] = v
	}
	touch.MarkReached(n.Clauses, line)
}

func (t *Tree) addChild(parent int, key Key, line int, bindings map[string]string) (int, error) {
	fd, err := t.loader.FuncForm(key.Module, key.Function, key.Arity)
	if err != nil {
		return 0, fmt.Errorf("loading form for %s: %w", key, err)
	}
	return t.append(parent, key, fd, line, bindings), nil
}

// addSibling places a fresh node next to taken, under the same parent.
// The function form is reused when the key matches (same function, new
// pass); otherwise it is loaded anew.
func (t *Tree) addSibling(taken int, key Key, line int, bindings map[string]string) (int, error) {
	prev := t.nodes[taken]
	prev.Current = false
	if prev.Key == key {
		return t.append(prev.Parent, key, prev.Fun, line, bindings), nil
	}
	return t.addChild(prev.Parent, key, line, bindings)
}

func (t *Tree) append(parent int, key Key, fd *ast.FuncDecl, line int, bindings map[string]string) int {
	n := &Node{
		Key:      key,
		Line:     line,
		Bindings: make(map[string]string, len(bindings)),
		Fun:      fd,
		Clauses:  touch.Build(fd),
		Current:  true,
		Parent:   parent,
	}
	for k, v := range bindings {
		n.Bindings[k] = v
	}
	touch.MarkReached(n.Clauses, line)
	idx := len(t.nodes)
	t.nodes = append(t.nodes, n)
	t.nodes[parent].Children = append(t.nodes[parent].Children, idx)
	return idx
}

// Walk visits every real node (the root is skipped) in document order:
// a node precedes its children, children in call order.
func (t *Tree) Walk(fn func(idx int, n *Node)) {
	var visit func(i int)
	visit = func(i int) {
		if i != 0 {
			fn(i, t.nodes[i])
		}
		for _, c := range t.nodes[i].Children {
			visit(c)
		}
	}
	visit(0)
}
