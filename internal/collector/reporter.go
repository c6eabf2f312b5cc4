// Package collector is the receiving end of freeze notifications: the
// [Reporter] collector object, the on-disk [Spool], HTTP delivery, the spool
// [Watcher], and the [Server] that exposes reporters to monitored processes
// over the daemon socket.
package collector

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	pshost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"tools.zach/dev/freezewatch/internal/host"
	"tools.zach/dev/freezewatch/internal/report"
)

// Name is the collector name monitored processes pin through the daemon.
const Name = "reporter"

// ///////////////////////////////////////////////
// Error Constants
// ///////////////////////////////////////////////

const (
	// ErrorClass is the error class of every freeze report.
	ErrorClass = "ANR"
	// ErrorType is the stacktrace type of every freeze report.
	ErrorType = "go"
)

// ///////////////////////////////////////////////
// Reporter
// ///////////////////////////////////////////////

// ReporterOptions configures a [Reporter].
type ReporterOptions struct {
	// App describes the monitored application. Empty fields fall back to
	// DefaultReleaseStage and DefaultAppVersion.
	App host.AppInfo
	// PID is the monitored process id.
	PID int
	// APIKey is stamped on every report.
	APIKey string
	// DefaultReleaseStage is used when App.ReleaseStage is empty.
	DefaultReleaseStage string
	// DefaultAppVersion is used when App.Version is empty.
	DefaultAppVersion string
	// Filters redact metadata before the report is spooled.
	Filters []report.Filter
	// Metrics, when set, counts spooled reports.
	Metrics *Metrics
	// CaptureStacks records the calling process's goroutines. Only
	// meaningful when the reporter runs inside the monitored process.
	CaptureStacks bool
}

// Reporter is the collector object whose NotifyFreezeDetected callback the
// freeze handler invokes. It turns each notification into a report in the
// spool.
type Reporter struct {
	opts    ReporterOptions
	spool   *Spool
	started time.Time

	// mu protects metadata and breadcrumbs.
	mu          sync.Mutex
	metadata    map[string]map[string]any
	breadcrumbs []report.Breadcrumb
	user        report.User
	last        string
}

// NewReporter creates a reporter that writes to spool.
func NewReporter(spool *Spool, opts ReporterOptions) *Reporter {
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	return &Reporter{
		opts:     opts,
		spool:    spool,
		started:  time.Now(),
		metadata: make(map[string]map[string]any),
	}
}

// NotifyFreezeDetected builds a freeze report and spools it.
func (r *Reporter) NotifyFreezeDetected() error {
	e := r.Build()
	name, err := r.spool.Put(e)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.last = name
	r.mu.Unlock()
	r.opts.Metrics.reportSpooled()
	slog.Info("freeze report spooled",
		"pid", r.opts.PID,
		"app", e.App.Name,
		"event_id", e.ID,
		"file", name,
	)
	return nil
}

// Last returns the spool name of the most recent report, if any.
func (r *Reporter) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// AddMetadata attaches a value to every subsequent report.
func (r *Reporter) AddMetadata(section, key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metadata[section] == nil {
		r.metadata[section] = make(map[string]any)
	}
	r.metadata[section][key] = value
}

// LeaveBreadcrumb records an application event shown with later reports.
func (r *Reporter) LeaveBreadcrumb(name, kind string, meta map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breadcrumbs = append(r.breadcrumbs, report.Breadcrumb{
		Timestamp: time.Now().UTC(),
		Name:      name,
		Type:      kind,
		Metadata:  meta,
	})
	if n := len(r.breadcrumbs); n > report.MaxBreadcrumbs {
		r.breadcrumbs = r.breadcrumbs[n-report.MaxBreadcrumbs:]
	}
}

// SetUser sets the user attached to subsequent reports.
func (r *Reporter) SetUser(id, email, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.user = report.User{ID: id, Email: email, Name: name}
}

// Build assembles the freeze report for the current moment.
func (r *Reporter) Build() *report.Event {
	state := report.MustHandledState(report.ReasonANR, "", "")
	e := report.New(state)
	e.APIKey = r.opts.APIKey
	e.Context = r.opts.App.Name

	e.App = report.App{
		Name:         r.opts.App.Name,
		ReleaseStage: firstNonEmpty(r.opts.App.ReleaseStage, r.opts.DefaultReleaseStage),
		Version:      firstNonEmpty(r.opts.App.Version, r.opts.DefaultAppVersion),
		Type:         ErrorType,
		BinaryArch:   runtime.GOARCH,
		Duration:     time.Since(r.started).Milliseconds(),
		InForeground: true,
	}
	e.Device = deviceInfo()

	e.Error = report.Error{
		Class:   ErrorClass,
		Message: fmt.Sprintf("Application Not Responding: pid %d received the freeze signal", r.opts.PID),
		Type:    ErrorType,
	}
	if r.opts.CaptureStacks {
		e.Threads = report.CaptureGoroutines()
		for _, t := range e.Threads {
			if t.ErrorReportingThread {
				e.Error.Stacktrace = t.Stacktrace
				break
			}
		}
	}

	r.mu.Lock()
	e.User = r.user
	for section, kv := range r.metadata {
		for k, v := range kv {
			e.AddMetadata(section, k, v)
		}
	}
	for _, b := range r.breadcrumbs {
		e.AddBreadcrumb(b)
	}
	r.mu.Unlock()

	e.AddMetadata("process", "pid", r.opts.PID)
	e.AddMetadata("process", "goos", runtime.GOOS)

	if n := e.Redact(r.opts.Filters); n > 0 {
		slog.Debug("redacted report metadata", "event_id", e.ID, "values", n)
	}
	return e
}

// hostInfo is read once; none of it changes while the daemon runs.
var hostInfo = sync.OnceValue(func() *pshost.InfoStat {
	info, err := pshost.Info()
	if err != nil {
		slog.Debug("host info unavailable", "error", err)
		return nil
	}
	return info
})

// deviceInfo describes the machine the daemon runs on. Fields the platform
// cannot report are left empty.
func deviceInfo() report.Device {
	d := report.Device{
		OSName: runtime.GOOS,
		Time:   time.Now().UTC(),
	}
	if info := hostInfo(); info != nil {
		d.ID = info.HostID
		d.Hostname = info.Hostname
		d.OSVersion = firstNonEmpty(info.PlatformVersion, info.KernelVersion)
	}
	if d.Hostname == "" {
		d.Hostname, _ = os.Hostname()
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		d.TotalMemory = int64(vm.Total)
		d.FreeMemory = int64(vm.Available)
	}
	return d
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
