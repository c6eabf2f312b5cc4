//go:build windows

package atomicfile

// syncDir is a no-op: directories cannot be opened for syncing on Windows
// and MoveFileEx already commits the rename.
func syncDir(string) error { return nil }
