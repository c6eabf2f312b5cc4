package anr

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ///////////////////////////////////////////////
// Wake Strategy
// ///////////////////////////////////////////////

// WakeStrategy is how the watchdog learns the signal fired. It is chosen
// once, at install.
type WakeStrategy int

const (
	// WakeSemaphore blocks on a counting semaphore posted from the fire path.
	WakeSemaphore WakeStrategy = iota
	// WakePolling checks the report flag every poll interval.
	WakePolling
)

// String returns the strategy name.
func (s WakeStrategy) String() string {
	switch s {
	case WakeSemaphore:
		return "semaphore"
	case WakePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// errNoSemaphore is returned by newSemaphore where no signal-safe counting
// semaphore exists.
var errNoSemaphore = errors.New("no signal-safe semaphore on this platform")

// semaphore is a counting semaphore whose post is safe on the fire path.
// It is used with exactly one waiter.
type semaphore interface {
	post() error
	// wait blocks until a post or timeout; posted reports which.
	wait(timeout time.Duration) (posted bool, err error)
	close() error
}

// ///////////////////////////////////////////////
// Wake
// ///////////////////////////////////////////////

// wake carries the fire path's signal to the watchdog. shouldReport is set
// on every fire whatever the strategy, so it is the one source of truth.
type wake struct {
	strategy WakeStrategy
	sem      semaphore
	poll     time.Duration

	shouldReport atomic.Bool
	postFailed   atomic.Bool
}

// newWake negotiates the strategy: a semaphore when one can be created,
// polling otherwise.
func newWake(newSem func() (semaphore, error), poll time.Duration) *wake {
	sem, err := newSem()
	if err != nil {
		slog.Info("freeze wake semaphore unavailable, polling", "error", err, "interval", poll)
		return &wake{strategy: WakePolling, poll: poll}
	}
	return &wake{strategy: WakeSemaphore, sem: sem, poll: poll}
}

// post records the fire and wakes the watchdog. A failed semaphore post is
// only recorded; the flag still wakes the watchdog.
func (w *wake) post(sigctx) {
	w.shouldReport.Store(true)
	if w.sem == nil {
		return
	}
	if err := w.sem.post(); err != nil {
		w.postFailed.Store(true)
	}
}

// wait blocks until the fire path has run. On the semaphore strategy the
// flag is rechecked every ten poll intervals, so a lost post costs at most
// that long; a failing semaphore drops to polling.
func (w *wake) wait() {
	if w.strategy == WakeSemaphore {
		recheck := 10 * w.poll
		for {
			posted, err := w.sem.wait(recheck)
			if err != nil {
				slog.Warn("freeze wake semaphore failed, polling", "error", err)
				break
			}
			if posted || w.shouldReport.Load() {
				return
			}
		}
	}
	for !w.shouldReport.Load() {
		time.Sleep(w.poll)
	}
}

// release frees the semaphore once the watchdog no longer needs it.
func (w *wake) release() {
	if w.sem == nil {
		return
	}
	if err := w.sem.close(); err != nil {
		slog.Debug("closing freeze wake semaphore", "error", err)
	}
}
