package collector

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/freezewatch/internal/atomicfile"
	"tools.zach/dev/freezewatch/internal/paths"
	"tools.zach/dev/freezewatch/internal/report"
)

// ///////////////////////////////////////////////
// Spool
// ///////////////////////////////////////////////

// ErrBadReportName is returned for names that do not denote a report file
// directly inside the spool.
var ErrBadReportName = errors.New("not a spooled report name")

// Spool is the on-disk queue of undelivered reports. Each report is one JSON
// file named "<unix nanos>-<event id>.json", so lexical order is arrival order.
type Spool struct {
	dir string
	max int

	// mu serializes Put so trimming sees a consistent listing.
	mu sync.Mutex
	// last is the previous file's timestamp; names strictly increase.
	last int64
}

// NewSpool opens (creating if needed) the spool directory dir, keeping at
// most maxReports reports.
func NewSpool(dir string, maxReports int) (*Spool, error) {
	if maxReports <= 0 {
		return nil, fmt.Errorf("spool max must be > 0, got %d", maxReports)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Spool{dir: dir, max: maxReports}, nil
}

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

// Put writes e to the spool and drops the oldest reports beyond the limit.
// It returns the new file's name.
func (s *Spool) Put(e *report.Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := max(time.Now().UnixNano(), s.last+1)
	s.last = stamp
	name := fmt.Sprintf("%020d-%s%s", stamp, e.ID, paths.ReportExt)
	err := atomicfile.WriteJSON(filepath.Join(s.dir, name), e, 0o600)
	switch {
	case errors.Is(err, atomicfile.ErrNotDurable):
		slog.Warn("spooled report may not survive a crash", "file", name, "error", err)
	case err != nil:
		return "", fmt.Errorf("spool report %s: %w", e.ID, err)
	}
	s.trim()
	return name, nil
}

// List returns the spooled report names, oldest first.
func (s *Spool) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read spool dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !isReportFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// Load decodes the named report, upgrading older schema versions.
func (s *Spool) Load(name string) (*report.Event, error) {
	if filepath.Base(name) != name || !isReportFile(name) {
		return nil, fmt.Errorf("%w: %q", ErrBadReportName, name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	e, err := report.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return e, nil
}

// Summary describes one spooled report. Err is set instead of the report
// fields when the file cannot be decoded.
type Summary struct {
	File         string    `json:"file"`
	EventID      string    `json:"eventId,omitempty"`
	App          string    `json:"app,omitempty"`
	Version      string    `json:"appVersion,omitempty"`
	ReleaseStage string    `json:"releaseStage,omitempty"`
	Time         time.Time `json:"time,omitzero"`
	Err          string    `json:"error,omitempty"`
}

// Summaries describes every spooled report, oldest first.
func (s *Spool) Summaries() ([]Summary, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		sum := Summary{File: name}
		e, err := s.Load(name)
		if err != nil {
			sum.Err = err.Error()
		} else {
			sum.EventID = e.ID
			sum.App = e.App.Name
			sum.Version = e.App.Version
			sum.ReleaseStage = e.App.ReleaseStage
			sum.Time = e.Device.Time
		}
		out = append(out, sum)
	}
	return out, nil
}

// Remove deletes the named report. Removing a report that is already gone
// is not an error.
func (s *Spool) Remove(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// trim drops the oldest reports beyond s.max. Caller holds s.mu.
func (s *Spool) trim() {
	names, err := s.List()
	if err != nil {
		slog.Warn("spool trim skipped", "error", err)
		return
	}
	for len(names) > s.max {
		slog.Warn("spool full, dropping oldest report", "file", names[0], "max_reports", s.max)
		if err := s.Remove(names[0]); err != nil {
			slog.Warn("failed to drop spooled report", "error", err)
		}
		names = names[1:]
	}
}

// isReportFile reports whether name is a finished report (temp files from
// an in-progress atomic write are skipped).
func isReportFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, paths.ReportExt) && !strings.Contains(base, ".tmp.")
}
