//go:build linux

package anr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// ///////////////////////////////////////////////
// eventfd Semaphore
// ///////////////////////////////////////////////

// eventfd is a counting semaphore over an EFD_SEMAPHORE eventfd. Posting is
// a single write(2), which is async-signal-safe and allocation free.
type eventfd struct {
	fd  int
	one [8]byte
}

func newSemaphore() (semaphore, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_SEMAPHORE)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	e := &eventfd{fd: fd}
	binary.NativeEndian.PutUint64(e.one[:], 1)
	return e, nil
}

func (e *eventfd) post() error {
	_, err := unix.Write(e.fd, e.one[:])
	return err
}

func (e *eventfd) wait(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("poll eventfd: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	var buf [8]byte
	for {
		_, err := unix.Read(e.fd, buf[:])
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("read eventfd: %w", err)
		}
		return true, nil
	}
}

func (e *eventfd) close() error {
	return unix.Close(e.fd)
}
