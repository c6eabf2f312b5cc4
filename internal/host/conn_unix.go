//go:build !windows

package host

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"tools.zach/dev/freezewatch/internal/paths"
)

// DefaultAddress returns the daemon socket path under dir.
func DefaultAddress(dir paths.DataDir) string {
	return dir.Socket()
}

// DialCollector connects to the daemon's Unix socket.
func DialCollector(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("unix", addr, dialTimeout*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollectorUnavailable, err)
	}
	return conn, nil
}

// ListenCollector listens on a Unix socket at addr, replacing a stale
// socket file left by a previous daemon.
func ListenCollector(addr string) (net.Listener, error) {
	if err := os.Remove(addr); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	return net.Listen("unix", addr)
}
