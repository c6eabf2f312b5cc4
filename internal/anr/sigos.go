package anr

import (
	"errors"
	"os"
)

// errUnsupported is returned by Notify where the freeze signal does not
// exist.
var errUnsupported = errors.New("freeze signal not supported on this platform")

// signalOS is the process signal layer for the freeze signal. The system
// implementation lives in signal_unix.go and signal_windows.go.
type signalOS interface {
	// Notify starts delivering the freeze signal to ch.
	Notify(ch chan<- os.Signal) error
	// Stop stops delivery to ch, restoring the prior disposition.
	Stop(ch chan<- os.Signal)
	// Ignored reports whether the freeze signal is currently ignored.
	Ignored() bool
	// Ignore makes the process ignore the freeze signal.
	Ignore()
	// Raise sends the freeze signal to the current process.
	Raise() error
	// Block and Unblock change the calling thread's signal mask.
	Block() error
	Unblock() error
}
