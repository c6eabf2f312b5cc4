package collector

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tools.zach/dev/freezewatch/internal/host"
)

// ///////////////////////////////////////////////
// Test Helpers
// ///////////////////////////////////////////////

// newTestSpool creates a spool in a fresh temp dir.
func newTestSpool(t *testing.T, maxReports int) *Spool {
	t.Helper()
	s, err := NewSpool(t.TempDir(), maxReports)
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	return s
}

// pipeListener is an in-memory net.Listener whose Dial hands the server end
// of a net.Pipe to Accept.
type pipeListener struct {
	conns chan net.Conn
	once  sync.Once
	done  chan struct{}
}

func newPipeListener() *pipeListener {
	return &pipeListener{conns: make(chan net.Conn), done: make(chan struct{})}
}

func (l *pipeListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *pipeListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *pipeListener) Addr() net.Addr { return pipeAddr{} }

func (l *pipeListener) Dial() (net.Conn, error) {
	client, server := net.Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-l.done:
		return nil, host.ErrCollectorUnavailable
	}
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// startServer runs a server over a pipeListener whose reporters write to
// spool, stopping it when the test ends.
func startServer(t *testing.T, spool *Spool) (*Server, *pipeListener) {
	t.Helper()
	return startServerWithMetrics(t, spool, nil)
}

func startServerWithMetrics(t *testing.T, spool *Spool, m *Metrics) (*Server, *pipeListener) {
	t.Helper()
	srv := NewServer(func(hello host.Hello) *Reporter {
		return NewReporter(spool, ReporterOptions{App: hello.App, PID: hello.PID, Metrics: m})
	}, m)
	ln := newPipeListener()
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	t.Cleanup(func() {
		if err := srv.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		if err := <-errc; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return srv, ln
}

// writeRaw places a file directly in the spool.
func writeRaw(s *Spool, name, content string) error {
	return os.WriteFile(filepath.Join(s.Dir(), name), []byte(content), 0o600)
}
