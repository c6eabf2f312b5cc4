package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"tools.zach/dev/freezewatch/internal/host"
)

const (
	// DefaultMaxProcesses bounds how many monitored processes keep a pinned
	// reporter; the least recently seen is released first.
	DefaultMaxProcesses = 64
	// handshakeTimeout bounds the wait for a session's hello.
	handshakeTimeout = 5 * time.Second
)

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// ReporterFactory creates the reporter for a newly seen monitored process.
type ReporterFactory func(hello host.Hello) *Reporter

// Server exposes one [Reporter] per monitored process over the daemon
// socket. Requests are dispatched through a [host.Local] runtime: each
// session runs on a locked OS thread attached to it for the session's life.
type Server struct {
	local       *host.Local
	newReporter ReporterFactory
	maxProcs    int
	metrics     *Metrics
	// alive reports whether a monitored pid still exists.
	alive func(pid int) bool

	// mu protects everything below.
	mu     sync.Mutex
	procs  map[int]*proc
	conns  map[net.Conn]struct{}
	ln     net.Listener
	closed bool
	wg     sync.WaitGroup
}

// proc is the daemon-side state of one monitored process.
type proc struct {
	app      host.AppInfo
	ref      host.Ref
	reporter *Reporter
	// methods caches resolved callbacks by "name signature".
	methods  map[string]host.Method
	lastSeen time.Time
}

// NewServer creates a server that builds reporters with newReporter.
// metrics may be nil.
func NewServer(newReporter ReporterFactory, metrics *Metrics) *Server {
	return &Server{
		local:       host.NewLocal(),
		newReporter: newReporter,
		metrics:     metrics,
		maxProcs:    DefaultMaxProcesses,
		alive:       processAlive,
		procs:       make(map[int]*proc),
		conns:       make(map[net.Conn]struct{}),
	}
}

// Serve accepts sessions on ln until [Server.Close] is called, then
// returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handle(conn)
	}
}

// Close stops accepting, ends every session, and waits for them.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Reporter returns the reporter pinned for pid.
func (s *Server) Reporter(pid int) (*Reporter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return nil, false
	}
	return p.reporter, true
}

// Processes returns how many monitored processes hold a reporter.
func (s *Server) Processes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Prune releases the reporters of processes that have exited and returns
// how many were released.
func (s *Server) Prune() int {
	s.mu.Lock()
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	s.mu.Unlock()

	var dead []int
	for _, pid := range pids {
		if !s.alive(pid) {
			dead = append(dead, pid)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pid := range dead {
		slog.Debug("releasing exited process", "pid", pid)
		s.releaseLocked(pid)
	}
	return len(dead)
}

// processAlive treats lookup errors as alive; a live process must never
// lose its reporter to a transient failure.
func processAlive(pid int) bool {
	ok, err := process.PidExists(int32(pid))
	return ok || err != nil
}

// ///////////////////////////////////////////////
// Sessions
// ///////////////////////////////////////////////

// handle runs one session: handshake, then request/response until the peer
// closes.
func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("collector session panic", "error", r, "stack", string(debug.Stack()))
		}
	}()

	hello, ok := s.handshake(conn)
	if !ok {
		return
	}
	log := slog.With("pid", hello.PID, "app", hello.App.Name)
	log.Debug("collector session opened")
	s.metrics.sessionOpened()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	env, err := s.local.Attach()
	if err != nil {
		log.Error("failed to attach session thread", "error", err)
		return
	}
	defer func() {
		if err := s.local.Detach(); err != nil {
			log.Warn("failed to detach session thread", "error", err)
		}
	}()

	for {
		var req host.Request
		op, err := host.ReadMessage(conn, &req)
		if err != nil || op == host.OpClose {
			log.Debug("collector session closed", "error", err)
			return
		}
		if op != host.OpFrame {
			log.Warn("unexpected opcode", "op", op)
			return
		}
		resp := s.dispatch(env, hello, req)
		resp.Nonce = req.Nonce
		if err := host.WriteMessage(conn, host.OpFrame, resp); err != nil {
			log.Debug("failed to write response", "error", err)
			return
		}
	}
}

// handshake reads the hello and answers READY, or ERROR for a protocol
// version mismatch.
func (s *Server) handshake(conn net.Conn) (host.Hello, bool) {
	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	var hello host.Hello
	op, err := host.ReadMessage(conn, &hello)
	if err != nil {
		slog.Debug("collector handshake failed", "error", err)
		return hello, false
	}
	if op != host.OpHandshake {
		slog.Warn("collector session did not start with a handshake", "op", op)
		return hello, false
	}
	if hello.Version != host.ProtocolVersion {
		_ = host.WriteMessage(conn, host.OpFrame, host.Response{
			Evt:   host.EvtError,
			Error: fmt.Sprintf("unsupported protocol version %d", hello.Version),
		})
		return hello, false
	}
	if err := host.WriteMessage(conn, host.OpFrame, host.Response{Evt: host.EvtReady}); err != nil {
		return hello, false
	}
	return hello, true
}

// dispatch answers one request on behalf of the process in hello.
func (s *Server) dispatch(env host.Env, hello host.Hello, req host.Request) host.Response {
	switch req.Cmd {
	case host.CmdPin:
		if req.Args.Collector != Name {
			return errorResponse(fmt.Errorf("unknown collector %q", req.Args.Collector))
		}
		ref, err := s.pin(hello)
		if err != nil {
			return errorResponse(err)
		}
		return host.Response{Evt: host.EvtOK, Ref: ref}

	case host.CmdResolve:
		m, err := s.resolve(hello.PID, req.Args.Ref, req.Args.Name, req.Args.Signature)
		if err != nil {
			return errorResponse(err)
		}
		return host.Response{Evt: host.EvtOK, Method: m.ID}

	case host.CmdCall:
		m, err := s.method(hello.PID, req.Args.Ref, req.Args.Method)
		if err != nil {
			return errorResponse(err)
		}
		if err := env.CallVoid(req.Args.Ref, m); err != nil {
			slog.Warn("collector callback failed", "pid", hello.PID, "method", m.Name, "error", err)
			return errorResponse(err)
		}
		return host.Response{Evt: host.EvtOK}

	default:
		return errorResponse(fmt.Errorf("unknown command %q", req.Cmd))
	}
}

func errorResponse(err error) host.Response {
	var exc *host.Exception
	return host.Response{
		Evt:    host.EvtError,
		Error:  err.Error(),
		Raised: errors.As(err, &exc),
	}
}

// ///////////////////////////////////////////////
// Process Table
// ///////////////////////////////////////////////

// pin returns the reporter ref for hello's process, creating it on first
// contact. A pid that reappears with different app details is treated as
// a new process.
func (s *Server) pin(hello host.Hello) (host.Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.procs[hello.PID]; ok {
		if p.app == hello.App {
			p.lastSeen = time.Now()
			return p.ref, nil
		}
		s.releaseLocked(hello.PID)
	}
	if len(s.procs) >= s.maxProcs {
		s.evictLocked()
	}

	r := s.newReporter(hello)
	ref, err := s.local.Pin(r)
	if err != nil {
		return 0, fmt.Errorf("pin reporter: %w", err)
	}
	s.procs[hello.PID] = &proc{
		app:      hello.App,
		ref:      ref,
		reporter: r,
		methods:  make(map[string]host.Method),
		lastSeen: time.Now(),
	}
	s.metrics.setProcesses(len(s.procs))
	slog.Info("monitoring process", "pid", hello.PID, "app", hello.App.Name, "release_stage", hello.App.ReleaseStage)
	return ref, nil
}

// resolve returns the cached callback, resolving it on first use.
func (s *Server) resolve(pid int, ref host.Ref, name, signature string) (host.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.ownedLocked(pid, ref)
	if err != nil {
		return host.Method{}, err
	}
	key := name + " " + signature
	if m, ok := p.methods[key]; ok {
		return m, nil
	}
	m, err := s.local.Resolve(ref, name, signature)
	if err != nil {
		return host.Method{}, err
	}
	p.methods[key] = m
	return m, nil
}

// method looks up a resolved callback by id.
func (s *Server) method(pid int, ref host.Ref, id uint64) (host.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.ownedLocked(pid, ref)
	if err != nil {
		return host.Method{}, err
	}
	for _, m := range p.methods {
		if m.ID == id {
			return m, nil
		}
	}
	return host.Method{}, fmt.Errorf("%w: method id %d", host.ErrNoSuchMethod, id)
}

// ownedLocked returns pid's entry when ref is its reporter. A process may
// only use its own reporter.
func (s *Server) ownedLocked(pid int, ref host.Ref) (*proc, error) {
	p, ok := s.procs[pid]
	if !ok || p.ref != ref {
		return nil, host.ErrUnknownRef
	}
	p.lastSeen = time.Now()
	return p, nil
}

// evictLocked releases the least recently seen process.
func (s *Server) evictLocked() {
	oldest := -1
	var oldestSeen time.Time
	for pid, p := range s.procs {
		if oldest == -1 || p.lastSeen.Before(oldestSeen) {
			oldest, oldestSeen = pid, p.lastSeen
		}
	}
	if oldest != -1 {
		slog.Debug("releasing least recently seen process", "pid", oldest)
		s.releaseLocked(oldest)
	}
}

func (s *Server) releaseLocked(pid int) {
	if p, ok := s.procs[pid]; ok {
		s.local.Unpin(p.ref)
		delete(s.procs, pid)
		s.metrics.setProcesses(len(s.procs))
	}
}
