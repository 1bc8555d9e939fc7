package debugger

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService is a minimal in-process debugger service speaking the
// newline-delimited JSON protocol.
type fakeService struct {
	ln   net.Listener
	addr string
}

func startFakeService(t *testing.T, handle func(conn net.Conn, req wireMsg)) *fakeService {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			var req wireMsg
			if json.Unmarshal(sc.Bytes(), &req) != nil {
				continue
			}
			handle(conn, req)
		}
	}()
	return &fakeService{ln: ln, addr: ln.Addr().String()}
}

func send(conn net.Conn, m wireMsg) {
	data, _ := json.Marshal(m)
	conn.Write(append(data, '\n'))
}

func TestRemote_RequestReply(t *testing.T) {
	svc := startFakeService(t, func(conn net.Conn, req wireMsg) {
		switch req.Op {
		case "interpret":
			send(conn, wireMsg{Ok: true})
		case "set_breakpoint":
			send(conn, wireMsg{Ok: false, Err: "no such function"})
		case "spawn_call":
			send(conn, wireMsg{Ok: true, Handle: "h-42"})
		}
	})

	r, err := Dial(svc.addr, time.Second)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Interpret("demo"))

	err = r.SetBreakpoint("demo", "missing", 1)
	var be *BreakpointError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "missing", be.Function)
	assert.Contains(t, be.Error(), "no such function")

	h, err := r.SpawnCall("demo", "f", []string{"2"})
	require.NoError(t, err)
	assert.Equal(t, "h-42", h)
}

func TestRemote_EventsRouted(t *testing.T) {
	svc := startFakeService(t, func(conn net.Conn, req wireMsg) {
		if req.Op == "continue" {
			// events may interleave ahead of the reply
			send(conn, wireMsg{Event: "break_at", Module: "demo", Line: 3, Depth: 1,
				Bindings: map[string]string{"X": "2"}})
			send(conn, wireMsg{Event: "exit_at", Reason: "normal"})
			send(conn, wireMsg{Ok: true})
		}
	})

	r, err := Dial(svc.addr, time.Second)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Continue())

	select {
	case ev := <-r.Events():
		br, ok := ev.(Break)
		require.True(t, ok)
		assert.Equal(t, "demo", br.Module)
		assert.Equal(t, 3, br.Line)
		assert.Equal(t, "2", br.Bindings["X"])
	case <-time.After(time.Second):
		t.Fatal("no break event delivered")
	}

	select {
	case ev := <-r.Events():
		ex, ok := ev.(Exit)
		require.True(t, ok)
		assert.Equal(t, "normal", ex.Reason)
	case <-time.After(time.Second):
		t.Fatal("no exit event delivered")
	}
}

func TestDial_Failure(t *testing.T) {
	_, err := Dial("127.0.0.1:1", 50*time.Millisecond)
	var ae *AttachError
	require.ErrorAs(t, err, &ae)
}

func TestRemote_CloseIsIdempotent(t *testing.T) {
	svc := startFakeService(t, func(net.Conn, wireMsg) {})
	r, err := Dial(svc.addr, time.Second)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
}
