//go:build !linux

package anr

// newSemaphore reports errNoSemaphore; the watchdog polls instead.
func newSemaphore() (semaphore, error) {
	return nil, errNoSemaphore
}
