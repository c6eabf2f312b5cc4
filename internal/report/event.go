// Package report is the freeze report model: the event payload the
// collector spools and delivers, its severity taxonomy, metadata redaction,
// and goroutine stack capture.
package report

import (
	"time"

	"github.com/google/uuid"

	"tools.zach/dev/freezewatch/internal/migrate"
)

// MaxBreadcrumbs bounds the breadcrumb trail; older entries are dropped.
const MaxBreadcrumbs = 25

// ///////////////////////////////////////////////
// Data Types
// ///////////////////////////////////////////////

// User identifies who was running the application.
type User struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// App describes the monitored application.
type App struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	ReleaseStage string `json:"releaseStage,omitempty"`
	Type         string `json:"type,omitempty"`
	Version      string `json:"version,omitempty"`
	VersionCode  int    `json:"versionCode,omitempty"`
	BinaryArch   string `json:"binaryArch,omitempty"`
	BuildUUID    string `json:"buildUUID,omitempty"`
	// Duration is milliseconds since the application started.
	Duration     int64 `json:"duration,omitempty"`
	InForeground bool  `json:"inForeground"`
	IsLaunching  bool  `json:"isLaunching"`
}

// Device describes the host the application ran on.
type Device struct {
	ID           string    `json:"id,omitempty"`
	Hostname     string    `json:"hostname,omitempty"`
	Locale       string    `json:"locale,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Model        string    `json:"model,omitempty"`
	OSName       string    `json:"osName,omitempty"`
	OSVersion    string    `json:"osVersion,omitempty"`
	TotalMemory  int64     `json:"totalMemory,omitempty"`
	FreeMemory   int64     `json:"freeMemory,omitempty"`
	Jailbroken   bool      `json:"jailbroken,omitempty"`
	Time         time.Time `json:"time"`
}

// Stackframe is one call site.
type Stackframe struct {
	Method     string `json:"method"`
	File       string `json:"file,omitempty"`
	LineNumber int    `json:"lineNumber,omitempty"`
	// Offset is the program counter offset within Method, when known.
	Offset string `json:"offset,omitempty"`
}

// Error is the failure being reported.
type Error struct {
	Class      string       `json:"errorClass"`
	Message    string       `json:"message"`
	Type       string       `json:"type"`
	Stacktrace []Stackframe `json:"stacktrace"`
}

// Thread is one goroutine captured with the report.
type Thread struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	State string `json:"state,omitempty"`
	// WaitMinutes is how long the goroutine had been blocked, if reported.
	WaitMinutes          int          `json:"waitMinutes,omitempty"`
	ErrorReportingThread bool         `json:"errorReportingThread,omitempty"`
	Stacktrace           []Stackframe `json:"stacktrace"`
}

// Breadcrumb is an application event leading up to the report.
type Breadcrumb struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Metadata  map[string]string `json:"metaData,omitempty"`
}

// SessionEvents counts reports within a session.
type SessionEvents struct {
	Handled   int `json:"handled"`
	Unhandled int `json:"unhandled"`
}

// Session is the application session the report belongs to.
type Session struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Events    SessionEvents `json:"events"`
}

// ///////////////////////////////////////////////
// Event
// ///////////////////////////////////////////////

// Event is one report.
type Event struct {
	Version        int                       `json:"version"`
	ID             string                    `json:"id"`
	APIKey         string                    `json:"apiKey,omitempty"`
	Context        string                    `json:"context,omitempty"`
	GroupingHash   string                    `json:"groupingHash,omitempty"`
	User           User                      `json:"user"`
	App            App                       `json:"app"`
	Device         Device                    `json:"device"`
	Error          Error                     `json:"exception"`
	Threads        []Thread                  `json:"threads,omitempty"`
	Severity       Severity                  `json:"severity"`
	SeverityReason SeverityReason            `json:"severityReason"`
	Unhandled      bool                      `json:"unhandled"`
	Metadata       map[string]map[string]any `json:"metaData,omitempty"`
	Breadcrumbs    []Breadcrumb              `json:"breadcrumbs,omitempty"`
	Session        *Session                  `json:"session,omitempty"`

	handled HandledState
}

// New creates an event with a fresh id and the severity implied by state.
func New(state HandledState) *Event {
	return &Event{
		Version:        migrate.Report.CurrentVersion,
		ID:             uuid.NewString(),
		Severity:       state.Severity(),
		SeverityReason: state.Reason(state.Severity()),
		Unhandled:      state.Unhandled(),
		handled:        state,
	}
}

// SetSeverity changes the severity, recording that it no longer matches
// the reason's default.
func (e *Event) SetSeverity(s Severity) {
	e.Severity = s
	if e.handled.reason != "" {
		e.SeverityReason = e.handled.Reason(s)
	}
}

// SetUser replaces the user.
func (e *Event) SetUser(id, email, name string) {
	e.User = User{ID: id, Email: email, Name: name}
}

// ///////////////////////////////////////////////
// Metadata
// ///////////////////////////////////////////////

// AddMetadata sets section.name to value, creating the section if needed.
func (e *Event) AddMetadata(section, name string, value any) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]map[string]any)
	}
	s, ok := e.Metadata[section]
	if !ok {
		s = make(map[string]any)
		e.Metadata[section] = s
	}
	s[name] = value
}

// ClearMetadata removes section.name. An emptied section is removed too.
func (e *Event) ClearMetadata(section, name string) {
	s, ok := e.Metadata[section]
	if !ok {
		return
	}
	delete(s, name)
	if len(s) == 0 {
		delete(e.Metadata, section)
	}
}

// ClearMetadataSection removes a whole section.
func (e *Event) ClearMetadataSection(section string) {
	delete(e.Metadata, section)
}

// MetadataValue returns section.name and whether it was set.
func (e *Event) MetadataValue(section, name string) (any, bool) {
	v, ok := e.Metadata[section][name]
	return v, ok
}

// MetadataString returns section.name when it is a string.
func (e *Event) MetadataString(section, name string) (string, bool) {
	v, ok := e.MetadataValue(section, name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ///////////////////////////////////////////////
// Breadcrumbs and Session
// ///////////////////////////////////////////////

// AddBreadcrumb appends b, dropping the oldest entry past MaxBreadcrumbs.
func (e *Event) AddBreadcrumb(b Breadcrumb) {
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now().UTC()
	}
	e.Breadcrumbs = append(e.Breadcrumbs, b)
	if n := len(e.Breadcrumbs); n > MaxBreadcrumbs {
		e.Breadcrumbs = append(e.Breadcrumbs[:0], e.Breadcrumbs[n-MaxBreadcrumbs:]...)
	}
}

// StartSession attaches the session the report belongs to.
func (e *Event) StartSession(id string, startedAt time.Time, handled, unhandled int) {
	e.Session = &Session{
		ID:        id,
		StartedAt: startedAt,
		Events:    SessionEvents{Handled: handled, Unhandled: unhandled},
	}
}

// HasSession reports whether a session is attached.
func (e *Event) HasSession() bool {
	return e.Session != nil && e.Session.ID != ""
}

// ///////////////////////////////////////////////
// Stacktrace
// ///////////////////////////////////////////////

// StacktraceSize returns the number of frames in the error stacktrace.
func (e *Event) StacktraceSize() int {
	return len(e.Error.Stacktrace)
}

// Stackframe returns frame i of the error stacktrace.
func (e *Event) Stackframe(i int) (Stackframe, bool) {
	if i < 0 || i >= len(e.Error.Stacktrace) {
		return Stackframe{}, false
	}
	return e.Error.Stacktrace[i], true
}
