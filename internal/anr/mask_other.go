//go:build !linux && !windows

package anr

// setFreezeMask is a no-op: per-thread masks are left to the Go runtime on
// platforms without pthread_sigmask in x/sys/unix.
func setFreezeMask(bool) error { return nil }
