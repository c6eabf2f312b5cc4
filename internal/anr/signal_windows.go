//go:build windows

package anr

import "os"

// ///////////////////////////////////////////////
// Windows Signal Layer
// ///////////////////////////////////////////////

// windowsSignals refuses to arm: Windows has no SIGQUIT equivalent, so the
// handler installs but stays inert.
type windowsSignals struct{}

func systemSignals() signalOS { return windowsSignals{} }

func (windowsSignals) Notify(chan<- os.Signal) error { return errUnsupported }
func (windowsSignals) Stop(chan<- os.Signal)         {}
func (windowsSignals) Ignored() bool                 { return false }
func (windowsSignals) Ignore()                       {}
func (windowsSignals) Raise() error                  { return errUnsupported }
func (windowsSignals) Block() error                  { return nil }
func (windowsSignals) Unblock() error                { return nil }
