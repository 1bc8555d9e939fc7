// Package debugger defines the boundary to the step-debugger backend
// that actually controls the traced process: interpreting modules,
// setting breakpoints, spawning the call and streaming stop events.
// The reconstruction engine only consumes this interface; the Remote
// implementation speaks to a debugger service over TCP.
package debugger

import "fmt"

// Event is one occurrence reported by the backend, delivered in the
// order it happened during execution.
type Event interface {
	event()
}

// Break reports the traced process stopped at a breakpoint: the module
// and line reached, the call-stack depth, and the variable bindings
// visible in the stopped frame.
type Break struct {
	Module   string
	Line     int
	Depth    int
	Bindings map[string]string
}

// Idle reports the traced process is waiting (e.g. in a receive) with
// no new frame information.
type Idle struct{}

// Exit reports the traced call finished, normally or not.
type Exit struct {
	Reason string
}

func (Break) event() {}
func (Idle) event()  {}
func (Exit) event()  {}

// AttachError means the backend could not attach to or control the
// target. Fatal to the run.
type AttachError struct {
	Module string
	Cause  error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("cannot attach debugger to %s: %v", e.Module, e.Cause)
}

func (e *AttachError) Unwrap() error { return e.Cause }

// BreakpointError means the target function/arity could not be
// instrumented. Fatal, reported before the run starts.
type BreakpointError struct {
	Module   string
	Function string
	Arity    int
	Cause    error
}

func (e *BreakpointError) Error() string {
	return fmt.Sprintf("cannot set breakpoint on %s:%s/%d: %v", e.Module, e.Function, e.Arity, e.Cause)
}

func (e *BreakpointError) Unwrap() error { return e.Cause }

// Backend is the debugger service contract. One advance request
// (Step/Continue/StepOut) is outstanding at a time; the traced process
// blocks at its breakpoint until the engine advances it, which gives
// strict ordering between consecutive stop events.
type Backend interface {
	// Interpret instruments a module for breakpoint stops.
	Interpret(module string) error
	// Uninterpret removes the instrumentation.
	Uninterpret(module string) error
	// SetBreakpoint arranges a stop at every clause of the function.
	SetBreakpoint(module, function string, arity int) error
	// SpawnCall launches module:function(args) under trace and returns
	// an opaque handle for the running call.
	SpawnCall(module, function string, args []string) (string, error)
	// Step advances one expression.
	Step() error
	// Continue resumes until the next breakpoint.
	Continue() error
	// StepOut runs until the current frame returns.
	StepOut() error
	// Events is the ordered stop-event stream.
	Events() <-chan Event
	// Close releases the backend link.
	Close() error
}
