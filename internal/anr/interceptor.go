package anr

import (
	"os"
	"runtime"
	"sync/atomic"
)

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is the interceptor's position in Uninstalled → Armed → Fired.
type State int32

const (
	Uninstalled State = iota
	Armed
	Fired
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Uninstalled:
		return "uninstalled"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// Disposition is the freeze signal's disposition as it was before arming.
// Other os/signal subscribers are not part of it: they keep receiving the
// signal alongside the interceptor.
type Disposition struct {
	// Ignored is true when the signal was being ignored.
	Ignored bool
}

// ///////////////////////////////////////////////
// Signal Context
// ///////////////////////////////////////////////

// sigctx marks code on the signal delivery path. It runs on the
// interceptor's own locked goroutine while the rest of the process may be
// wedged, so a function taking a sigctx must not wait on anything the frozen
// code could hold: no application locks, no collector calls, no logging.
// It may touch atomics, the signal layer (os/signal only locks its own
// state), and the wake primitive's post.
type sigctx struct{}

// ///////////////////////////////////////////////
// Interceptor
// ///////////////////////////////////////////////

// interceptor owns the freeze signal between arm and fire.
type interceptor struct {
	signals signalOS
	ch      chan os.Signal
	orig    Disposition
	onFire  func(sigctx)

	state       atomic.Int32
	claimed     atomic.Bool
	blockFailed atomic.Bool
}

func newInterceptor(signals signalOS, onFire func(sigctx)) *interceptor {
	return &interceptor{
		signals: signals,
		ch:      make(chan os.Signal, 1),
		onFire:  onFire,
	}
}

// current returns the interceptor state.
func (ic *interceptor) current() State {
	return State(ic.state.Load())
}

// arm snapshots the original disposition and starts delivery to a goroutine
// locked to its own OS thread. It returns once delivery is live.
func (ic *interceptor) arm() error {
	ic.orig = Disposition{Ignored: ic.signals.Ignored()}

	ready := make(chan error, 1)
	go ic.loop(ready)
	return <-ready
}

// loop receives the freeze signal once. The goroutine keeps its thread
// locked until it returns, so the thread, whose mask fire changes, exits
// with it.
func (ic *interceptor) loop(ready chan<- error) {
	runtime.LockOSThread()

	_ = ic.signals.Unblock()
	if err := ic.signals.Notify(ic.ch); err != nil {
		ready <- err
		return
	}
	ic.state.Store(int32(Armed))
	ready <- nil

	<-ic.ch
	ic.fire(sigctx{})
}

// fire hands the signal back to the original disposition and wakes the
// watchdog. Only the first call after arming has any effect. The state
// reads Fired once the original disposition is live again.
func (ic *interceptor) fire(ctx sigctx) {
	if ic.current() != Armed || !ic.claimed.CompareAndSwap(false, true) {
		return
	}
	if err := ic.signals.Block(); err != nil {
		ic.blockFailed.Store(true)
	}
	ic.signals.Stop(ic.ch)
	if ic.orig.Ignored {
		ic.signals.Ignore()
	}
	ic.state.Store(int32(Fired))
	ic.onFire(ctx)
}
