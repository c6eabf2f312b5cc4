// Tests for [IPC] against an in-memory daemon built on net.Pipe that
// dispatches requests through a [Local] runtime.
package host

import (
	"errors"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// ///////////////////////////////////////////////
// Fake Daemon
// ///////////////////////////////////////////////

// fakeDaemon serves each dialed connection with a Local runtime holding
// named collectors.
type fakeDaemon struct {
	local       *Local
	collectors  map[string]any
	rejectHello bool

	mu     sync.Mutex
	hellos []Hello
	dials  atomic.Int32
	wg     sync.WaitGroup
}

func newFakeDaemon(collectors map[string]any) *fakeDaemon {
	return &fakeDaemon{local: NewLocal(), collectors: collectors}
}

func (d *fakeDaemon) dial() (net.Conn, error) {
	d.dials.Add(1)
	client, server := net.Pipe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.serve(server)
	}()
	return client, nil
}

func (d *fakeDaemon) serve(conn net.Conn) {
	defer conn.Close()

	var hello Hello
	if op, err := ReadMessage(conn, &hello); err != nil || op != OpHandshake {
		return
	}
	d.mu.Lock()
	d.hellos = append(d.hellos, hello)
	d.mu.Unlock()
	if d.rejectHello {
		_ = WriteMessage(conn, OpFrame, Response{Evt: EvtError, Error: "bad version"})
		return
	}
	if err := WriteMessage(conn, OpFrame, Response{Evt: EvtReady}); err != nil {
		return
	}

	env := &localEnv{rt: d.local}
	for {
		var req Request
		op, err := ReadMessage(conn, &req)
		if err != nil || op == OpClose {
			return
		}
		resp := Response{Nonce: req.Nonce, Evt: EvtOK}
		switch req.Cmd {
		case CmdPin:
			obj, ok := d.collectors[req.Args.Collector]
			if !ok {
				resp.Evt, resp.Error = EvtError, "unknown collector "+req.Args.Collector
				break
			}
			resp.Ref, _ = d.local.Pin(obj)
		case CmdResolve:
			m, err := d.local.Resolve(req.Args.Ref, req.Args.Name, req.Args.Signature)
			if err != nil {
				resp.Evt, resp.Error = EvtError, err.Error()
				break
			}
			resp.Method = m.ID
		case CmdCall:
			err := env.CallVoid(req.Args.Ref, Method{ID: req.Args.Method, Name: NotifyMethod})
			var exc *Exception
			if errors.As(err, &exc) {
				resp.Evt, resp.Error, resp.Raised = EvtError, exc.Error(), true
			} else if err != nil {
				resp.Evt, resp.Error = EvtError, err.Error()
			}
		}
		if err := WriteMessage(conn, OpFrame, resp); err != nil {
			return
		}
	}
}

// ///////////////////////////////////////////////
// Tests
// ///////////////////////////////////////////////

func TestIPC_BindAndNotify(t *testing.T) {
	c := &countingCollector{}
	d := newFakeDaemon(map[string]any{"default": c})
	rt := NewIPC(AppInfo{Name: "hangprobe", Version: "1.2.3"}, d.dial)

	b, err := Bind(rt, "default")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := b.NotifyFreeze(); err != nil {
		t.Fatalf("NotifyFreeze: %v", err)
	}
	d.wg.Wait()

	if got := c.calls.Load(); got != 1 {
		t.Errorf("collector calls = %d, want 1", got)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.hellos {
		if h.Version != ProtocolVersion || h.App.Name != "hangprobe" || h.PID == 0 {
			t.Errorf("hello = %+v", h)
		}
	}
	// pin, resolve, and the notification lease each used their own session.
	if got := d.dials.Load(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}
}

func TestIPC_AttachedThreadReusesSession(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c := &countingCollector{}
	d := newFakeDaemon(map[string]any{"default": c})
	rt := NewIPC(AppInfo{}, d.dial)

	if _, err := rt.Attach(); err != nil {
		t.Fatal(err)
	}
	b, err := Bind(rt, "default")
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := b.NotifyFreeze(); err != nil {
			t.Fatal(err)
		}
	}
	if err := rt.Detach(); err != nil {
		t.Fatal(err)
	}
	d.wg.Wait()

	if got := d.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := c.calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestIPC_Errors(t *testing.T) {
	t.Run("non-string collector", func(t *testing.T) {
		rt := NewIPC(AppInfo{}, newFakeDaemon(nil).dial)
		if _, err := rt.Pin(42); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("error = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("unknown collector", func(t *testing.T) {
		rt := NewIPC(AppInfo{}, newFakeDaemon(nil).dial)
		_, err := Bind(rt, "missing")
		if !errors.Is(err, ErrRemote) || !strings.Contains(err.Error(), "unknown collector") {
			t.Errorf("error = %v, want ErrRemote about unknown collector", err)
		}
	})

	t.Run("handshake rejected", func(t *testing.T) {
		d := newFakeDaemon(map[string]any{"default": &countingCollector{}})
		d.rejectHello = true
		rt := NewIPC(AppInfo{}, d.dial)
		if _, err := Bind(rt, "default"); !errors.Is(err, ErrRemote) {
			t.Errorf("error = %v, want ErrRemote", err)
		}
	})

	t.Run("dial failure", func(t *testing.T) {
		rt := NewIPC(AppInfo{}, func() (net.Conn, error) { return nil, ErrCollectorUnavailable })
		if _, err := Bind(rt, "default"); !errors.Is(err, ErrCollectorUnavailable) {
			t.Errorf("error = %v, want ErrCollectorUnavailable", err)
		}
	})

	t.Run("callback raised", func(t *testing.T) {
		d := newFakeDaemon(map[string]any{"default": panickingCollector{}})
		rt := NewIPC(AppInfo{}, d.dial)
		b, err := Bind(rt, "default")
		if err != nil {
			t.Fatal(err)
		}
		var exc *Exception
		if err := b.NotifyFreeze(); !errors.As(err, &exc) {
			t.Errorf("error = %v, want *Exception", err)
		}
	})
}
