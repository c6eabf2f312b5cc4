// Package anr intercepts the freeze signal (SIGQUIT) delivered to an
// unresponsive process, reports the freeze to a collector, and then hands
// the signal back to whatever disposition was installed before, which for
// a Go program is the runtime's goroutine dump and exit.
//
// A [Handler] owns the whole mechanism:
//
//	Install → interceptor armed, watchdog parked on the wake primitive
//	SIGQUIT → interceptor restores the original disposition, posts wake
//	wake    → watchdog settles, notifies the collector, re-raises SIGQUIT,
//	          waits a grace period, exits
//
// One report cycle runs per Handler. Install is structural and happens at
// most once; Uninstall only disables reporting.
package anr

import (
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

const (
	// DefaultPollInterval is how often the polling wake strategy checks the
	// report flag.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultSettleDelay separates waking from notifying so the restored
	// disposition is live before anything else races the signal.
	DefaultSettleDelay = 10 * time.Millisecond
	// DefaultGracePeriod is how long the watchdog waits after re-raising so
	// the original disposition can finish its own dump.
	DefaultGracePeriod = 2 * time.Second
)

// ///////////////////////////////////////////////
// Options
// ///////////////////////////////////////////////

// Options tunes a Handler. Zero fields take the defaults above.
type Options struct {
	PollInterval time.Duration
	SettleDelay  time.Duration
	GracePeriod  time.Duration

	// signals and newSemaphore replace the OS layer in tests.
	signals      signalOS
	newSemaphore func() (semaphore, error)
}

// withDefaults fills zero fields.
func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.signals == nil {
		o.signals = systemSignals()
	}
	if o.newSemaphore == nil {
		o.newSemaphore = newSemaphore
	}
	return o
}

// ///////////////////////////////////////////////
// Process-wide Handler
// ///////////////////////////////////////////////

var (
	defaultOnce    sync.Once
	defaultHandler *Handler
)

// Default returns the process-wide Handler. The freeze signal is a process
// resource, so real programs use only this one.
func Default() *Handler {
	defaultOnce.Do(func() {
		defaultHandler = New(Options{})
	})
	return defaultHandler
}
