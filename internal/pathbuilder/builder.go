// Package pathbuilder tracks the dotted path of the field currently being
// visited while walking nested report data, e.g. "metaData.user.0.name".
//
// A [Builder] owns a fixed-size buffer and a bounded stack of segment
// boundaries. Pushes that would exceed either bound are dropped silently so a
// walker can never overflow the buffer, no matter how deep or wide the input.
// The package-level functions operate on a process-wide default builder for
// callers that have no per-call context to thread a builder through.
package pathbuilder

import (
	"strconv"
	"sync"
)

// ///////////////////////////////////////////////
// Limits
// ///////////////////////////////////////////////

const (
	// MaxDepth is the maximum number of segment boundaries tracked. One slot
	// is reserved for the terminating boundary, so at most MaxDepth-1
	// segments can be pushed.
	MaxDepth = 100
	// PathSize is the offset past which no new segment may start.
	PathSize = 500
	// pathPadding is extra room after PathSize so that a segment starting
	// just below PathSize can still be written, truncated, and terminated.
	pathPadding = 100

	bufferSize = PathSize + pathPadding
)

// ///////////////////////////////////////////////
// Builder
// ///////////////////////////////////////////////

// Builder accumulates a dotted path. The zero value is an empty path ready
// for use. A Builder is not safe for concurrent use.
type Builder struct {
	// buf holds the path bytes followed by a zero terminator at buf[end].
	buf [bufferSize]byte
	// starts[i] is the offset at which segment i begins (before its
	// separator). starts[level] is the current end of the path.
	starts [MaxDepth]int
	// level is the number of segments currently pushed.
	level int
}

// Reset clears the builder back to an empty path.
func (b *Builder) Reset() {
	b.buf[0] = 0
	b.starts[0] = 0
	b.level = 0
}

// begin returns the offset where the next segment's text should be written,
// writing the "." separator first when needed. ok is false when the stack or
// buffer is exhausted, in which case nothing has been modified.
func (b *Builder) begin() (off int, ok bool) {
	if b.level >= MaxDepth-1 {
		return 0, false
	}
	off = b.starts[b.level]
	if off >= PathSize {
		return 0, false
	}
	if b.level > 0 {
		b.buf[off] = '.'
		off++
	}
	return off, true
}

// end terminates the segment that finishes at off and records it.
func (b *Builder) end(off int) {
	b.buf[off] = 0
	b.level++
	b.starts[b.level] = off
}

// PushKey appends a map key segment. Keys longer than the remaining buffer
// are truncated.
func (b *Builder) PushKey(key string) {
	off, ok := b.begin()
	if !ok {
		return
	}
	// Leave room for the terminator.
	n := copy(b.buf[off:len(b.buf)-1], key)
	b.end(off + n)
}

// PushIndex appends a list index segment.
func (b *Builder) PushIndex(index int64) {
	off, ok := b.begin()
	if !ok {
		return
	}
	// begin guarantees off <= PathSize, and an int64 renders in at most 20
	// bytes, which always fits inside the padding.
	digits := strconv.AppendInt(b.buf[off:off], index, 10)
	b.end(off + len(digits))
}

// PushNewEntry appends an anonymous list entry: an empty segment that only
// contributes its separator, used while the entry's index is not yet known.
func (b *Builder) PushNewEntry() {
	off, ok := b.begin()
	if !ok {
		return
	}
	b.end(off)
}

// Pop removes the most recently pushed segment. Popping an empty path is a
// no-op.
func (b *Builder) Pop() {
	if b.level <= 0 {
		return
	}
	b.level--
	b.buf[b.starts[b.level]] = 0
}

// Depth returns the number of segments currently pushed.
func (b *Builder) Depth() int {
	return b.level
}

// Len returns the length of the current path in bytes.
func (b *Builder) Len() int {
	return b.starts[b.level]
}

// Path returns the current path.
func (b *Builder) Path() string {
	return string(b.buf[:b.starts[b.level]])
}

// ///////////////////////////////////////////////
// Process-wide Builder
// ///////////////////////////////////////////////

var (
	stdMu sync.Mutex
	std   Builder
)

// Reset clears the default builder.
func Reset() {
	stdMu.Lock()
	defer stdMu.Unlock()
	std.Reset()
}

// PushKey appends a map key to the default builder.
func PushKey(key string) {
	stdMu.Lock()
	defer stdMu.Unlock()
	std.PushKey(key)
}

// PushIndex appends a list index to the default builder.
func PushIndex(index int64) {
	stdMu.Lock()
	defer stdMu.Unlock()
	std.PushIndex(index)
}

// PushNewEntry appends an anonymous list entry to the default builder.
func PushNewEntry() {
	stdMu.Lock()
	defer stdMu.Unlock()
	std.PushNewEntry()
}

// Pop removes the last segment from the default builder.
func Pop() {
	stdMu.Lock()
	defer stdMu.Unlock()
	std.Pop()
}

// Path returns the default builder's current path.
func Path() string {
	stdMu.Lock()
	defer stdMu.Unlock()
	return std.Path()
}
