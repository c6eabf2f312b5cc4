//go:build windows

package host

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"

	"tools.zach/dev/freezewatch/internal/paths"
)

// DefaultAddress returns the daemon's named pipe. The data dir is not part
// of a pipe name.
func DefaultAddress(paths.DataDir) string {
	return paths.PipeName
}

// DialCollector connects to the daemon's named pipe.
func DialCollector(addr string) (net.Conn, error) {
	timeout := dialTimeout * time.Millisecond
	conn, err := winio.DialPipe(addr, &timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCollectorUnavailable, err)
	}
	return conn, nil
}

// ListenCollector listens on the named pipe at addr with the default
// security descriptor.
func ListenCollector(addr string) (net.Listener, error) {
	return winio.ListenPipe(addr, nil)
}
