//go:build linux

package anr

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setFreezeMask blocks or unblocks SIGQUIT on the calling thread only.
func setFreezeMask(block bool) error {
	how := unix.SIG_UNBLOCK
	if block {
		how = unix.SIG_BLOCK
	}
	var set unix.Sigset_t
	sigaddset(&set, unix.SIGQUIT)
	return unix.PthreadSigmask(how, &set, nil)
}

// sigaddset sets sig's bit in set. Signal numbers start at 1.
func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	bits := uint(unsafe.Sizeof(set.Val[0])) * 8
	n := uint(sig) - 1
	set.Val[n/bits] |= 1 << (n % bits)
}
