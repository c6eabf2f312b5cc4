//go:build !windows

package anr

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// ///////////////////////////////////////////////
// Unix Signal Layer
// ///////////////////////////////////////////////

// unixSignals routes SIGQUIT through os/signal. Once the last channel is
// stopped the Go runtime's own SIGQUIT handling, a goroutine dump followed
// by exit status 2, is back in charge.
type unixSignals struct{}

func systemSignals() signalOS { return unixSignals{} }

func (unixSignals) Notify(ch chan<- os.Signal) error {
	signal.Notify(ch, unix.SIGQUIT)
	return nil
}

func (unixSignals) Stop(ch chan<- os.Signal) { signal.Stop(ch) }

func (unixSignals) Ignored() bool { return signal.Ignored(unix.SIGQUIT) }

func (unixSignals) Ignore() { signal.Ignore(unix.SIGQUIT) }

func (unixSignals) Raise() error {
	return unix.Kill(unix.Getpid(), unix.SIGQUIT)
}

func (unixSignals) Block() error { return setFreezeMask(true) }

func (unixSignals) Unblock() error { return setFreezeMask(false) }
