package debugger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"retrace/internal/logging"
)

// wireMsg is the newline-delimited JSON frame shared by requests,
// replies and pushed events. Requests set Op; replies echo nothing but
// Ok/Err; events set Event.
type wireMsg struct {
	Op       string            `json:"op,omitempty"`
	Module   string            `json:"module,omitempty"`
	Function string            `json:"function,omitempty"`
	Arity    int               `json:"arity,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Ok       bool              `json:"ok,omitempty"`
	Err      string            `json:"error,omitempty"`
	Handle   string            `json:"handle,omitempty"`
	Event    string            `json:"event,omitempty"`
	Line     int               `json:"line,omitempty"`
	Depth    int               `json:"depth,omitempty"`
	Bindings map[string]string `json:"bindings,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// Remote talks to a debugger service over a single TCP connection with
// newline-delimited JSON frames. Replies are matched to requests by
// strict request/response alternation; asynchronous event frames are
// routed to the Events channel. This keeps the continue/stop ordering
// an explicit request/response exchange rather than an artifact of
// mailbox delivery.
type Remote struct {
	conn    net.Conn
	enc     *json.Encoder
	events  chan Event
	replies chan wireMsg

	mu     sync.Mutex // serializes requests
	closed chan struct{}
	once   sync.Once
}

// Dial connects to the debugger service.
func Dial(addr string, timeout time.Duration) (*Remote, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &AttachError{Cause: fmt.Errorf("dial %s: %w", addr, err)}
	}
	r := &Remote{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		events:  make(chan Event, 16),
		replies: make(chan wireMsg, 1),
		closed:  make(chan struct{}),
	}
	go r.readLoop()
	logging.Debugger("connected to debugger service at %s", addr)
	return r, nil
}

func (r *Remote) readLoop() {
	defer close(r.events)
	sc := bufio.NewScanner(r.conn)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var m wireMsg
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			logging.Get(logging.CategoryDebugger).Warn("bad frame from backend: %v", err)
			continue
		}
		if m.Event == "" {
			select {
			case r.replies <- m:
			case <-r.closed:
				return
			}
			continue
		}
		ev := decodeEvent(m)
		if ev == nil {
			logging.Get(logging.CategoryDebugger).Warn("unknown event %q from backend", m.Event)
			continue
		}
		select {
		case r.events <- ev:
		case <-r.closed:
			return
		}
	}
}

func decodeEvent(m wireMsg) Event {
	switch m.Event {
	case "break_at":
		return Break{Module: m.Module, Line: m.Line, Depth: m.Depth, Bindings: m.Bindings}
	case "idle":
		return Idle{}
	case "exit_at":
		return Exit{Reason: m.Reason}
	default:
		return nil
	}
}

func (r *Remote) request(m wireMsg) (wireMsg, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	logging.DebuggerDebug("-> %s %s", m.Op, m.Module)
	if err := r.enc.Encode(m); err != nil {
		return wireMsg{}, fmt.Errorf("send %s: %w", m.Op, err)
	}
	select {
	case reply, ok := <-r.replies:
		if !ok {
			return wireMsg{}, fmt.Errorf("backend link closed during %s", m.Op)
		}
		if !reply.Ok {
			return reply, fmt.Errorf("%s failed: %s", m.Op, reply.Err)
		}
		return reply, nil
	case <-r.closed:
		return wireMsg{}, fmt.Errorf("backend link closed during %s", m.Op)
	}
}

// Interpret instruments a module.
func (r *Remote) Interpret(module string) error {
	if _, err := r.request(wireMsg{Op: "interpret", Module: module}); err != nil {
		return &AttachError{Module: module, Cause: err}
	}
	return nil
}

// Uninterpret removes instrumentation from a module.
func (r *Remote) Uninterpret(module string) error {
	_, err := r.request(wireMsg{Op: "uninterpret", Module: module})
	return err
}

// SetBreakpoint arranges stops on a function.
func (r *Remote) SetBreakpoint(module, function string, arity int) error {
	if _, err := r.request(wireMsg{Op: "set_breakpoint", Module: module, Function: function, Arity: arity}); err != nil {
		return &BreakpointError{Module: module, Function: function, Arity: arity, Cause: err}
	}
	return nil
}

// SpawnCall launches the traced call.
func (r *Remote) SpawnCall(module, function string, args []string) (string, error) {
	reply, err := r.request(wireMsg{Op: "spawn_call", Module: module, Function: function, Args: args})
	if err != nil {
		return "", err
	}
	return reply.Handle, nil
}

// Step advances one expression.
func (r *Remote) Step() error {
	_, err := r.request(wireMsg{Op: "step"})
	return err
}

// Continue resumes until the next breakpoint.
func (r *Remote) Continue() error {
	_, err := r.request(wireMsg{Op: "continue"})
	return err
}

// StepOut runs until the current frame returns.
func (r *Remote) StepOut() error {
	_, err := r.request(wireMsg{Op: "step_out"})
	return err
}

// Events returns the stop-event stream.
func (r *Remote) Events() <-chan Event { return r.events }

// Close tears down the connection; the Events channel closes once the
// read loop drains.
func (r *Remote) Close() error {
	var err error
	r.once.Do(func() {
		close(r.closed)
		err = r.conn.Close()
	})
	return err
}
