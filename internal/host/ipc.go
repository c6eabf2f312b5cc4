package host

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

const (
	// dialTimeout bounds connecting to the daemon, in milliseconds.
	dialTimeout = 2000
	// callTimeout bounds a single request/response exchange.
	callTimeout = 5 * time.Second
)

var (
	// ErrCollectorUnavailable is returned when the daemon cannot be reached
	// or hangs up mid-exchange.
	ErrCollectorUnavailable = errors.New("collector daemon unavailable")
	// ErrRemote wraps a request the daemon answered with an error.
	ErrRemote = errors.New("collector rejected request")
)

// Dialer opens a new connection to the collector daemon.
type Dialer func() (net.Conn, error)

// ///////////////////////////////////////////////
// IPC Runtime
// ///////////////////////////////////////////////

// IPC is a [Runtime] whose collector lives in the freezewatchd daemon.
//
// Each attached thread owns one connection for its whole attachment.
// Pin and Resolve from a detached thread use a short-lived connection.
// Collectors are named by string; the daemon decides what the name maps to.
type IPC struct {
	hello Hello
	dial  Dialer

	// mu protects envs.
	mu   sync.Mutex
	envs map[int]*ipcEnv
}

// NewIPC creates a runtime that reaches the daemon through dial.
func NewIPC(app AppInfo, dial Dialer) *IPC {
	return &IPC{
		hello: Hello{Version: ProtocolVersion, PID: os.Getpid(), App: app},
		dial:  dial,
		envs:  make(map[int]*ipcEnv),
	}
}

// Pin asks the daemon for a reference to the collector named obj.
func (c *IPC) Pin(obj any) (Ref, error) {
	name, ok := obj.(string)
	if !ok || name == "" {
		return 0, fmt.Errorf("%w: collector must be a non-empty name, got %T", ErrInvalidArgument, obj)
	}
	resp, err := c.exchange(Request{Cmd: CmdPin, Args: RequestArgs{Collector: name}})
	if err != nil {
		return 0, err
	}
	if err := resp.err(""); err != nil {
		return 0, err
	}
	return resp.Ref, nil
}

// Resolve asks the daemon to resolve a method on ref.
func (c *IPC) Resolve(ref Ref, name, signature string) (Method, error) {
	resp, err := c.exchange(Request{
		Cmd:  CmdResolve,
		Args: RequestArgs{Ref: ref, Name: name, Signature: signature},
	})
	if err != nil {
		return Method{}, err
	}
	if err := resp.err(""); err != nil {
		return Method{}, err
	}
	return Method{ID: resp.Method, Name: name, Signature: signature}, nil
}

// Env returns the calling thread's environment.
func (c *IPC) Env() (Env, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, ok := c.envs[threadID()]
	if !ok {
		return nil, ErrDetached
	}
	return env, nil
}

// Attach opens a session for the calling thread.
func (c *IPC) Attach() (Env, error) {
	tid := threadID()
	c.mu.Lock()
	if env, ok := c.envs[tid]; ok {
		c.mu.Unlock()
		return env, nil
	}
	c.mu.Unlock()

	env, err := c.open()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.envs[tid]; ok {
		env.close()
		return existing, nil
	}
	c.envs[tid] = env
	return env, nil
}

// Detach closes the calling thread's session.
func (c *IPC) Detach() error {
	tid := threadID()
	c.mu.Lock()
	env, ok := c.envs[tid]
	delete(c.envs, tid)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return env.close()
}

// exchange sends req on the calling thread's session, or on a one-off
// session when the thread is detached.
func (c *IPC) exchange(req Request) (Response, error) {
	if env, err := c.Env(); err == nil {
		return env.(*ipcEnv).roundTrip(req)
	}
	env, err := c.open()
	if err != nil {
		return Response{}, err
	}
	defer env.close()
	return env.roundTrip(req)
}

// open dials the daemon and performs the handshake.
func (c *IPC) open() (*ipcEnv, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	env := &ipcEnv{conn: conn}
	if err := env.handshake(c.hello); err != nil {
		conn.Close()
		return nil, err
	}
	return env, nil
}

// ///////////////////////////////////////////////
// IPC Env
// ///////////////////////////////////////////////

// ipcEnv is one session with the daemon.
type ipcEnv struct {
	// mu serializes exchanges so responses pair with their requests.
	mu    sync.Mutex
	conn  net.Conn
	nonce uint64
}

// CallVoid asks the daemon to invoke m on ref.
func (e *ipcEnv) CallVoid(ref Ref, m Method) error {
	resp, err := e.roundTrip(Request{
		Cmd:  CmdCall,
		Args: RequestArgs{Ref: ref, Method: m.ID},
	})
	if err != nil {
		return err
	}
	return resp.err(m.Name)
}

// handshake sends hello and waits for READY.
func (e *ipcEnv) handshake(hello Hello) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_ = e.conn.SetDeadline(time.Now().Add(callTimeout))
	defer e.conn.SetDeadline(time.Time{})

	if err := WriteMessage(e.conn, OpHandshake, hello); err != nil {
		return fmt.Errorf("%w: handshake: %w", ErrCollectorUnavailable, err)
	}
	var resp Response
	op, err := ReadMessage(e.conn, &resp)
	if err != nil {
		return fmt.Errorf("%w: handshake response: %w", ErrCollectorUnavailable, err)
	}
	if op != OpFrame {
		return fmt.Errorf("%w: unexpected handshake opcode %d", ErrCollectorUnavailable, op)
	}
	if resp.Evt != EvtReady {
		return fmt.Errorf("%w: handshake rejected: %s", ErrRemote, resp.Error)
	}
	return nil
}

// roundTrip sends req and reads its response.
func (e *ipcEnv) roundTrip(req Request) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nonce++
	req.Nonce = strconv.FormatUint(e.nonce, 10)

	_ = e.conn.SetDeadline(time.Now().Add(callTimeout))
	defer e.conn.SetDeadline(time.Time{})

	if err := WriteMessage(e.conn, OpFrame, req); err != nil {
		return Response{}, fmt.Errorf("%w: %s: %w", ErrCollectorUnavailable, req.Cmd, err)
	}
	var resp Response
	op, err := ReadMessage(e.conn, &resp)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s: %w", ErrCollectorUnavailable, req.Cmd, err)
	}
	if op == OpClose {
		return Response{}, fmt.Errorf("%w: closed by daemon", ErrCollectorUnavailable)
	}
	if resp.Nonce != req.Nonce {
		return Response{}, fmt.Errorf("%w: response nonce %q for request %q", ErrCollectorUnavailable, resp.Nonce, req.Nonce)
	}
	return resp, nil
}

// close ends the session, telling the daemon first when possible.
func (e *ipcEnv) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := WriteMessage(e.conn, OpClose, struct{}{}); err != nil {
		slog.Debug("collector session close frame not sent", "error", err)
	}
	return e.conn.Close()
}

// err converts an ERROR response into an error. method names the callback
// for errors it raised.
func (r Response) err(method string) error {
	if r.Evt != EvtError {
		return nil
	}
	if r.Raised {
		return &Exception{Method: method, Cause: errors.New(r.Error)}
	}
	return fmt.Errorf("%w: %s", ErrRemote, r.Error)
}
