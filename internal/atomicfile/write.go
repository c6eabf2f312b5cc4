// Package atomicfile replaces files so a reader, or a crash, never leaves a
// half-written one behind. The config file and every spooled freeze report
// go through it.
package atomicfile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNotDurable wraps a failed directory sync. The new content is already
// in place at path, but may not survive a crash.
var ErrNotDurable = errors.New("rename not synced to disk")

// dirSync is replaced in tests.
var dirSync = syncDir

// WriteFunc replaces path with whatever fill writes. The data goes to a
// sibling temp file named "<base>.tmp.<random>", so watchers matching the
// final extension skip it, and is synced, given perm, and renamed over
// path. The directory is synced after the rename where the platform allows.
// A failure before the rename leaves path untouched and removes the temp
// file; a failed directory sync after it is reported as [ErrNotDurable].
func WriteFunc(path string, perm os.FileMode, fill func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := fill(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if err := dirSync(dir); err != nil {
		return fmt.Errorf("%w: %w", ErrNotDurable, err)
	}
	return nil
}

// Write replaces path with data.
func Write(path string, data []byte, perm os.FileMode) error {
	return WriteFunc(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteJSON replaces path with v as two-space indented JSON.
func WriteJSON(path string, v any, perm os.FileMode) error {
	return WriteFunc(path, perm, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
		}
		return nil
	})
}
