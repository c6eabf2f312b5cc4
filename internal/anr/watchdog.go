package anr

import (
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"
)

// ///////////////////////////////////////////////
// Watchdog
// ///////////////////////////////////////////////

// watchdog runs one report cycle. Only the wake wait is unbounded; every
// other step is a bounded sleep or a single call.
type watchdog struct {
	wake    *wake
	ic      *interceptor
	enabled *atomic.Bool
	notify  func() error
	raise   func() error
	settle  time.Duration
	grace   time.Duration
	done    chan struct{}
}

// run waits for the fire, notifies the collector if enabled, then re-raises
// the signal into the original disposition. It stays on one OS thread so
// the collector attachment it takes belongs to that thread.
func (wd *watchdog) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(wd.done)

	wd.wake.wait()
	wd.wake.release()
	if wd.wake.postFailed.Load() {
		slog.Warn("freeze wake post failed, watchdog woke by flag")
	}
	if wd.ic.blockFailed.Load() {
		slog.Warn("could not block freeze signal on the delivering thread")
	}
	slog.Info("freeze signal received", "wake", wd.wake.strategy)

	time.Sleep(wd.settle)

	if wd.enabled.Load() {
		wd.notifyCollector()
	} else {
		slog.Info("freeze reporting disabled, skipping collector")
	}

	if err := wd.raise(); err != nil {
		slog.Error("re-raising freeze signal failed", "error", err)
	}

	time.Sleep(wd.grace)
}

// notifyCollector calls the collector, logging and swallowing any failure.
func (wd *watchdog) notifyCollector() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("freeze notification panicked", "panic", r)
		}
	}()

	start := time.Now()
	if err := wd.notify(); err != nil {
		slog.Error("freeze notification failed", "error", err)
		return
	}
	slog.Info("freeze reported", "elapsed", time.Since(start))
}
