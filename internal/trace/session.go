// Package trace drives one reconstruction run: it attaches the
// debugger backend to the target module, spawns the traced call,
// folds the resulting stop-event stream into a call tree and renders
// the final document.
package trace

import (
	"context"
	"fmt"
	"strings"

	"retrace/internal/ast"
	"retrace/internal/calltree"
	"retrace/internal/debugger"
	"retrace/internal/logging"
	"retrace/internal/records"
	"retrace/internal/subst"
)

// State is the driver lifecycle. A session moves Idle -> Running ->
// Exited exactly once; stop events arriving outside Running are
// stale leftovers and are dropped.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// FormSource is the slice of the source index the driver needs: form
// lookup by name for the tree builder, and line-to-function resolution
// for incoming stop events.
type FormSource interface {
	calltree.FormLoader
	FuncAt(module string, line int) (*ast.FuncDecl, error)
}

// Status of a finished run, recorded with the archived document.
const (
	StatusComplete = "complete"
	StatusPartial  = "partial"
)

// Result is the outcome of one traced call.
type Result struct {
	Module   string
	Function string
	Arity    int
	Status   string
	Reason   string // exit reason reported by the backend
	Document string
	Tree     *calltree.Tree
}

// Session owns one traced invocation.
type Session struct {
	backend debugger.Backend
	forms   FormSource
	recs    *records.Store

	indentWidth int
	state       State
}

// NewSession wires a driver over a backend, a form source and a record
// definition store. recs may be nil when record expansion is not
// wanted.
func NewSession(backend debugger.Backend, forms FormSource, recs *records.Store, indentWidth int) *Session {
	return &Session{
		backend:     backend,
		forms:       forms,
		recs:        recs,
		indentWidth: indentWidth,
		state:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Run traces one call of module:function(args) to completion and
// returns the rendered reconstruction. Attach and breakpoint failures
// abort before anything runs; a trace corruption aborts mid-run with
// the partial document preserved in the Result.
func (s *Session) Run(ctx context.Context, module, function string, args []string) (*Result, error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("session already %s", s.state)
	}
	arity := len(args)
	res := &Result{Module: module, Function: function, Arity: arity}

	// Record definitions are a best effort: a module without records
	// (or an unparsable include) must not block the trace.
	if s.recs != nil {
		if names, err := s.recs.Load(module); err != nil {
			logging.Get(logging.CategorySession).Warn("record definitions for %s unavailable: %v", module, err)
		} else if len(names) > 0 {
			logging.SessionDebug("loaded %d record definition(s) for %s", len(names), module)
		}
	}

	if err := s.backend.Interpret(module); err != nil {
		return nil, err
	}
	// Leave the target uninstrumented once the run is over; a failure
	// here cannot invalidate an already-built reconstruction.
	defer func() {
		if err := s.backend.Uninterpret(module); err != nil {
			logging.Get(logging.CategorySession).Warn("uninterpret %s: %v", module, err)
		}
	}()
	if err := s.backend.SetBreakpoint(module, function, arity); err != nil {
		return nil, err
	}

	s.drainStale()

	tree := calltree.New(s.forms)
	res.Tree = tree

	handle, err := s.backend.SpawnCall(module, function, args)
	if err != nil {
		return nil, fmt.Errorf("spawning %s:%s/%d: %w", module, function, arity, err)
	}
	s.state = StateRunning
	logging.Session("tracing %s:%s/%d (handle %s)", module, function, arity, handle)

	runErr := s.loop(ctx, tree, res)
	s.state = StateExited

	res.Document = s.renderDocument(module, function, arity, tree)
	if runErr != nil {
		res.Status = StatusPartial
		return res, runErr
	}
	res.Status = StatusComplete
	return res, nil
}

// drainStale empties any events buffered from a previous target before
// the spawn, so an old exit cannot terminate the new run.
func (s *Session) drainStale() {
	for {
		select {
		case ev, ok := <-s.backend.Events():
			if !ok {
				return
			}
			logging.SessionDebug("dropping stale pre-spawn event %T", ev)
		default:
			return
		}
	}
}

func (s *Session) loop(ctx context.Context, tree *calltree.Tree, res *Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.backend.Events():
			if !ok {
				return fmt.Errorf("backend event stream closed mid-run")
			}
			switch e := ev.(type) {
			case debugger.Break:
				if err := s.handleBreak(tree, e); err != nil {
					return err
				}
				if err := s.backend.Continue(); err != nil {
					return err
				}
			case debugger.Idle:
				// the process is waiting in a receive; nothing to record
				logging.SessionDebug("target idle")
			case debugger.Exit:
				logging.Session("target exited: %s", e.Reason)
				res.Reason = e.Reason
				return nil
			}
		}
	}
}

func (s *Session) handleBreak(tree *calltree.Tree, e debugger.Break) error {
	fd, err := s.forms.FuncAt(e.Module, e.Line)
	if err != nil {
		return &calltree.CorruptionError{
			Key:  calltree.Key{Module: e.Module, Depth: e.Depth},
			Line: e.Line,
			Msg:  fmt.Sprintf("stop line resolves to no function: %v", err),
		}
	}
	key := calltree.Key{Module: e.Module, Function: fd.Name, Arity: fd.Arity, Depth: e.Depth}
	logging.TreeDebug("break at %s line %d", key, e.Line)
	return tree.Update(key, e.Line, e.Bindings)
}

// renderDocument walks the finished tree and emits each node as
// substituted source, indented by relative call depth. A node whose
// form resists rewriting falls back to its unmodified source text, so
// one exotic expression never costs the whole document.
func (s *Session) renderDocument(module, function string, arity int, tree *calltree.Tree) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%%%% trace of %s:%s/%d\n", module, function, arity)

	baseDepth := 0
	first := true
	tree.Walk(func(idx int, n *calltree.Node) {
		if first {
			baseDepth = n.Key.Depth
			first = false
		}
		depth := n.Key.Depth - baseDepth
		if depth < 0 {
			depth = 0
		}
		header := fmt.Sprintf("%%%% call %s:%s/%d", n.Key.Module, n.Key.Function, n.Key.Arity)
		b.WriteString("\n")
		b.WriteString(ast.Indent(header, depth, s.indentWidth))
		b.WriteString("\n")

		text, err := subst.Render(n.Fun, n.Clauses, n.Bindings, s.defs(), depth, s.indentWidth)
		if err != nil {
			logging.Get(logging.CategorySubst).Warn("cannot substitute %s: %v; emitting original form", n.Key, err)
			text = ast.Indent(ast.PrintFunc(n.Fun), depth, s.indentWidth)
		}
		b.WriteString(text)
		b.WriteString("\n")
	})
	return b.String()
}

// defs adapts the nilable record store to the substitution interface;
// a typed nil would defeat the defs == nil check inside subst.
func (s *Session) defs() subst.Definitions {
	if s.recs == nil {
		return nil
	}
	return s.recs
}
