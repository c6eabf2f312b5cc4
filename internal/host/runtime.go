// Package host binds the freeze handler to the monitoring collector that
// receives freeze notifications.
//
// The collector lives behind a [Runtime]: either in the same process
// ([Local]) or in the freezewatchd daemon reached over a local socket
// ([IPC]). Either way, calls are made from an attached OS thread through an
// [Env], mirroring the attach/call/detach discipline of an embedded managed
// runtime. [Binding] resolves the collector once and then performs each
// notification as a bounded attachment lease.
package host

import (
	"errors"
	"fmt"
)

// ///////////////////////////////////////////////
// Names
// ///////////////////////////////////////////////

const (
	// NotifyMethod is the collector callback invoked when a freeze is detected.
	NotifyMethod = "NotifyFreezeDetected"
	// NotifySignature is the only accepted signature for [NotifyMethod].
	NotifySignature = "func()"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrDetached is returned by [Runtime.Env] when the calling thread is not
	// attached to the runtime.
	ErrDetached = errors.New("thread not attached to host runtime")
	// ErrInvalidArgument is returned when a nil runtime or collector is given.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownRef is returned when a reference was never pinned or has been
	// released.
	ErrUnknownRef = errors.New("unknown collector reference")
	// ErrNoSuchMethod is returned when the collector has no method with the
	// requested name and signature.
	ErrNoSuchMethod = errors.New("no such method")
)

// ///////////////////////////////////////////////
// Interfaces
// ///////////////////////////////////////////////

// Ref is an opaque, process-lifetime reference to a pinned collector. It
// stays valid on any thread until released by the runtime.
type Ref uint64

// Method identifies a resolved collector callback.
type Method struct {
	// ID is the runtime-assigned handle used for calls.
	ID uint64 `json:"id"`
	// Name is the method name it was resolved from.
	Name string `json:"name"`
	// Signature is the method's signature, e.g. "func()".
	Signature string `json:"signature"`
}

// Runtime is the environment hosting the collector.
//
// Attachment is per OS thread: callers that need a stable attachment must
// run on a goroutine locked with runtime.LockOSThread.
type Runtime interface {
	// Pin creates a strong reference to obj that may be used from any thread.
	Pin(obj any) (Ref, error)
	// Resolve looks up a method on the pinned object by name and signature.
	Resolve(ref Ref, name, signature string) (Method, error)
	// Env returns the calling thread's environment, or ErrDetached.
	Env() (Env, error)
	// Attach attaches the calling thread and returns its environment.
	// Attaching an already attached thread returns the existing Env.
	Attach() (Env, error)
	// Detach detaches the calling thread.
	Detach() error
}

// Env performs calls on behalf of one attached thread.
type Env interface {
	// CallVoid invokes a resolved no-result method. An error or panic raised
	// by the callback is returned as an *Exception.
	CallVoid(ref Ref, m Method) error
}

// ///////////////////////////////////////////////
// Exception
// ///////////////////////////////////////////////

// Exception is a failure raised by the collector callback itself, as
// opposed to a failure to reach it.
type Exception struct {
	// Method is the name of the callback that raised.
	Method string
	// Cause is the returned error or the recovered panic value.
	Cause any
}

// Error implements error.
func (e *Exception) Error() string {
	return fmt.Sprintf("%s raised: %v", e.Method, e.Cause)
}

// Unwrap returns Cause when it is an error.
func (e *Exception) Unwrap() error {
	if err, ok := e.Cause.(error); ok {
		return err
	}
	return nil
}
