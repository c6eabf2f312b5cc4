package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"tools.zach/dev/freezewatch/internal/atomicfile"
	"tools.zach/dev/freezewatch/internal/paths"
)

// ///////////////////////////////////////////////
// PID File
// ///////////////////////////////////////////////

// runningError is returned by [acquirePIDFile] when another daemon holds the
// lock. PID is zero when the owner's file could not be read.
type runningError struct {
	PID int
}

func (e *runningError) Error() string {
	if e.PID == 0 {
		return "daemon already running"
	}
	return fmt.Sprintf("daemon already running (pid %d)", e.PID)
}

// pidFile is the daemon's single-instance lock. The lock is held on a
// sidecar file so the PID file itself stays readable on every platform.
// The PID file holds "PID:TOKEN"; the token lets [pidFile.Release] tell its
// own file from a successor's.
type pidFile struct {
	path  string
	token string
	lock  *flock.Flock
}

// acquirePIDFile takes the instance lock and writes this process into dir's
// PID file. A file left behind by a dead daemon is not locked and is simply
// taken over. The lock is held until [pidFile.Release].
func acquirePIDFile(dir paths.DataDir) (*pidFile, error) {
	l := flock.New(dir.Lock())
	locked, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if !locked {
		pid, _ := readPID(dir.PID())
		return nil, &runningError{PID: pid}
	}

	p := &pidFile{path: dir.PID(), token: uuid.NewString(), lock: l}
	data := []byte(strconv.Itoa(os.Getpid()) + ":" + p.token)
	if err := atomicfile.Write(p.path, data, 0o600); err != nil {
		_ = l.Unlock()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return p, nil
}

// Release drops the lock, removing the PID file only while it still carries
// this instance's token.
func (p *pidFile) Release() {
	if p == nil || p.lock == nil {
		return
	}
	defer func() {
		_ = p.lock.Unlock()
		p.lock = nil
	}()

	data, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	if _, token, ok := strings.Cut(string(data), ":"); ok && token == p.token {
		os.Remove(p.path)
	}
}

// readPID parses the pid from a PID file.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	head, _, _ := strings.Cut(string(data), ":")
	pid, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0, errors.New("malformed PID file")
	}
	return pid, nil
}
