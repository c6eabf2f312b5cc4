//go:build !linux && !windows

package host

// threadID returns 0: per-thread ids are not exposed portably here, so
// every thread shares one attachment slot.
func threadID() int {
	return 0
}
