package collector

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher signals when reports land in the spool directory. It listens for
// fsnotify events and falls back to scanning the directory when the
// platform cannot watch it or the watch fails later.
type Watcher struct {
	dir      string
	interval time.Duration

	// events is buffered to 1 so a burst of reports yields one signal.
	events chan struct{}
	done   chan struct{}
	// stopped is closed when the loop has exited and released fsnotify.
	stopped chan struct{}
	once    sync.Once
	polling atomic.Bool
	// closeErr is set by the loop before stopped is closed.
	closeErr error
}

// NewWatcher watches dir for report files. interval is the scan period
// used when fsnotify is unavailable.
func NewWatcher(dir string, interval time.Duration) (*Watcher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be > 0, got %v", interval)
	}
	w := &Watcher{
		dir:      dir,
		interval: interval,
		events:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, scanning the spool instead", "error", err)
		fsw = nil
	} else if err := fsw.Add(dir); err != nil {
		slog.Info("cannot watch the spool, scanning it instead", "path", dir, "error", err)
		fsw.Close()
		fsw = nil
	}
	w.polling.Store(fsw == nil)

	// A report written once NewWatcher returns is newer than this baseline.
	go w.run(fsw, w.mark())
	return w, nil
}

// Polling reports whether the watcher is scanning instead of using fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when reports arrive.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and waits for it to release fsnotify.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.done) })
	<-w.stopped
	return w.closeErr
}

// run is the watcher loop, starting from the spool state last. fsw is nil in
// scanning mode; an fsnotify error switches to scanning for the rest of the
// watcher's life.
func (w *Watcher) run(fsw *fsnotify.Watcher, last spoolMark) {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		tick   <-chan time.Time
		ticker *time.Ticker
	)
	if fsw != nil {
		events, errs = fsw.Events, fsw.Errors
	} else {
		ticker = time.NewTicker(w.interval)
		tick = ticker.C
	}

	defer close(w.stopped)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		if fsw != nil {
			if err := fsw.Close(); err != nil {
				w.closeErr = fmt.Errorf("closing fsnotify watcher: %w", err)
			}
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create|fsnotify.Write) && isReportFile(ev.Name) {
				w.notify()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Info("fsnotify error, scanning the spool instead", "error", err)
			fsw.Close()
			fsw, events, errs = nil, nil, nil
			w.polling.Store(true)
			ticker = time.NewTicker(w.interval)
			tick = ticker.C
			// Events may have been lost with the watch.
			last = w.mark()
			w.notify()

		case <-tick:
			cur := w.mark()
			if cur.after(last) {
				w.notify()
			}
			last = cur
		}
	}
}

// spoolMark summarizes the spool for change detection. Report names grow
// with arrival time, so a new report always raises newest.
type spoolMark struct {
	newest string
	count  int
}

func (m spoolMark) after(prev spoolMark) bool {
	return m.newest > prev.newest || m.count > prev.count
}

// mark scans the spool directory. A missing directory reads as empty.
func (w *Watcher) mark() spoolMark {
	var m spoolMark
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return m
	}
	for _, e := range entries {
		if e.IsDir() || !isReportFile(e.Name()) {
			continue
		}
		m.count++
		m.newest = max(m.newest, e.Name())
	}
	return m
}

// notify signals the events channel unless a signal is already pending.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
