package anr

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tools.zach/dev/freezewatch/internal/host"
)

// ///////////////////////////////////////////////
// Fake Signal Layer
// ///////////////////////////////////////////////

// freezeSignal stands in for SIGQUIT.
type freezeSignal struct{}

func (freezeSignal) String() string { return "freeze" }
func (freezeSignal) Signal()        {}

// fakeSignals models one signal's disposition. While a channel is
// registered, deliveries go to it (dropped when full, like os/signal);
// otherwise they reach the original disposition and are counted.
type fakeSignals struct {
	events *recorder

	mu        sync.Mutex
	ch        chan<- os.Signal
	ignored   bool
	notifies  int
	ignores   int
	blocks    int
	unblocks  int
	original  int
	notifyErr error
}

func (f *fakeSignals) Notify(ch chan<- os.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	f.notifies++
	f.ch = ch
	return nil
}

func (f *fakeSignals) Stop(ch chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == ch {
		f.ch = nil
	}
}

func (f *fakeSignals) Ignored() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ignored
}

func (f *fakeSignals) Ignore() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ignores++
	f.ignored = true
}

func (f *fakeSignals) Raise() error {
	f.events.add("raise")
	f.Deliver()
	return nil
}

func (f *fakeSignals) Block() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks++
	return nil
}

func (f *fakeSignals) Unblock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unblocks++
	return nil
}

// Deliver simulates the platform sending the freeze signal.
func (f *fakeSignals) Deliver() {
	f.mu.Lock()
	ch := f.ch
	if ch == nil {
		f.original++
	}
	f.mu.Unlock()
	if ch != nil {
		select {
		case ch <- freezeSignal{}:
		default:
		}
	}
}

func (f *fakeSignals) counts() (notifies, original int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifies, f.original
}

// ///////////////////////////////////////////////
// Fake Semaphore
// ///////////////////////////////////////////////

type chanSemaphore struct {
	c       chan struct{}
	postErr error
	waitErr error
}

func newChanSemaphore() *chanSemaphore {
	return &chanSemaphore{c: make(chan struct{}, 8)}
}

func (s *chanSemaphore) post() error {
	if s.postErr != nil {
		return s.postErr
	}
	s.c <- struct{}{}
	return nil
}

func (s *chanSemaphore) wait(timeout time.Duration) (bool, error) {
	if s.waitErr != nil {
		return false, s.waitErr
	}
	select {
	case <-s.c:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (s *chanSemaphore) close() error { return nil }

func failingSemaphore() (semaphore, error) {
	return nil, errors.New("semaphore init failed")
}

// ///////////////////////////////////////////////
// Recorder and Collectors
// ///////////////////////////////////////////////

// recorder keeps an ordered event log shared by fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordingCollector struct {
	events *recorder
	calls  atomic.Int32
}

func (c *recordingCollector) NotifyFreezeDetected() {
	c.calls.Add(1)
	c.events.add("notify")
}

type panickingCollector struct{ events *recorder }

func (c *panickingCollector) NotifyFreezeDetected() {
	c.events.add("notify")
	panic("collector exploded")
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// testHandler returns a Handler wired to fakes with short delays.
func testHandler(t *testing.T, sem func() (semaphore, error)) (*Handler, *fakeSignals, *recorder) {
	t.Helper()
	rec := &recorder{}
	sig := &fakeSignals{events: rec}
	if sem == nil {
		sem = func() (semaphore, error) { return newChanSemaphore(), nil }
	}
	h := New(Options{
		PollInterval: 5 * time.Millisecond,
		SettleDelay:  time.Millisecond,
		GracePeriod:  time.Millisecond,
		signals:      sig,
		newSemaphore: sem,
	})
	return h, sig, rec
}

// waitDone waits for the handler's watchdog to finish.
func waitDone(t *testing.T, h *Handler, within time.Duration) {
	t.Helper()
	done := h.Done()
	if done == nil {
		t.Fatal("no watchdog running")
	}
	select {
	case <-done:
	case <-time.After(within):
		t.Fatalf("watchdog did not finish within %v", within)
	}
}

// waitState polls until the handler reaches want.
func waitState(t *testing.T, h *Handler, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", h.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

// deliverFromOtherGoroutine sends the signal from a fresh goroutine and
// waits for the send to happen.
func deliverFromOtherGoroutine(sig *fakeSignals) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sig.Deliver()
	}()
	wg.Wait()
}

func newBinding(rec *recorder) (host.Runtime, *recordingCollector) {
	return host.NewLocal(), &recordingCollector{events: rec}
}
