//go:build windows

package host

import "golang.org/x/sys/windows"

// threadID returns the id of the calling OS thread.
func threadID() int {
	return int(windows.GetCurrentThreadId())
}
