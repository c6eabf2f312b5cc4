// Package logger provides the line-oriented slog handler used by the
// freezewatch daemon and by processes that embed the freeze handler.
//
// Log output format:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2="two words"
//
// Values containing spaces, separators, or quotes are Go-quoted so a line
// splits unambiguously. Two levels extend the slog set:
//   - LevelTrace (-8): verbose diagnostic tracing
//   - LevelFail  (12): unrecoverable errors
package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ///////////////////////////////////////////////
// Levels
// ///////////////////////////////////////////////

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

// levels is ordered by severity. A record is labelled with the first entry
// whose level it does not exceed.
var levels = []struct {
	name  string
	level slog.Level
}{
	{"trace", LevelTrace},
	{"debug", LevelDebug},
	{"info", LevelInfo},
	{"warn", LevelWarn},
	{"error", LevelError},
	{"fail", LevelFail},
}

func levelName(l slog.Level) string {
	for _, lv := range levels {
		if l <= lv.level {
			return strings.ToUpper(lv.name)
		}
	}
	return "FAIL"
}

// LookupLevel returns the level named s, ignoring case.
func LookupLevel(s string) (slog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, lv := range levels {
		if lv.name == s {
			return lv.level, true
		}
	}
	return 0, false
}

// ParseLevel is [LookupLevel] with LevelInfo for unknown names.
func ParseLevel(s string) slog.Level {
	if l, ok := LookupLevel(s); ok {
		return l
	}
	return LevelInfo
}

// LevelNames lists the accepted level names from least to most severe.
func LevelNames() []string {
	names := make([]string, len(levels))
	for i, lv := range levels {
		names[i] = lv.name
	}
	return names
}

// ///////////////////////////////////////////////
// Handler
// ///////////////////////////////////////////////

const timeFormat = "2006-01-02T15:04:05.000Z"

// output is the destination shared by a handler and every handler derived
// from it, so their lines never interleave.
type output struct {
	mu  sync.Mutex
	w   io.Writer
	eol string
}

// Handler is a slog.Handler writing one line per record. Attributes added
// with WithAttrs are rendered once, when they are added.
type Handler struct {
	out   *output
	level slog.Leveler
	// pre is the rendered form of the WithAttrs attributes.
	pre string
	// group prefixes keys of attributes added after WithGroup.
	group string
}

// NewHandler creates a Handler writing to w. Lines end in CRLF on Windows.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	eol := "\n"
	if runtime.GOOS == "windows" {
		eol = "\r\n"
	}
	return &Handler{out: &output{w: w, eol: eol}, level: level}
}

// Enabled reports whether level meets the handler's minimum.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle writes r as one line.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	buf.WriteString(r.Time.UTC().Format(timeFormat))
	buf.WriteString(" [")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	attrs := attrWriter{buf: &buf}
	if h.pre != "" {
		attrs.raw(h.pre)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs.write(h.group, a)
		return true
	})

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	buf.WriteString(h.out.eol)
	_, err := h.out.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a Handler that renders attrs on every line.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var buf bytes.Buffer
	w := attrWriter{buf: &buf}
	if h.pre != "" {
		w.raw(h.pre)
	}
	for _, a := range attrs {
		w.write(h.group, a)
	}
	h2 := *h
	h2.pre = strings.TrimPrefix(buf.String(), " | ")
	return &h2
}

// WithGroup returns a Handler that prefixes later keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = joinKey(h.group, name)
	return &h2
}

// ///////////////////////////////////////////////
// Attribute Rendering
// ///////////////////////////////////////////////

// attrWriter appends "| k=v, k2=v2" to buf, flattening groups into
// dotted keys such as "binding.method=NotifyFreezeDetected".
type attrWriter struct {
	buf *bytes.Buffer
	n   int
}

func (w *attrWriter) sep() {
	if w.n == 0 {
		w.buf.WriteString(" | ")
	} else {
		w.buf.WriteString(", ")
	}
	w.n++
}

// raw appends already rendered attributes.
func (w *attrWriter) raw(s string) {
	w.sep()
	w.buf.WriteString(s)
}

func (w *attrWriter) write(group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			w.write(joinKey(group, a.Key), ga)
		}
		return
	}
	w.sep()
	w.buf.WriteString(joinKey(group, a.Key))
	w.buf.WriteByte('=')
	w.buf.WriteString(formatValue(a.Value))
}

func joinKey(group, key string) string {
	switch {
	case group == "":
		return key
	case key == "":
		return group
	}
	return group + "." + key
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = v.String()
		}
	default:
		return v.String()
	}
	if needsQuote(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsAny(s, " ,=|\"\t\r\n")
}

// ///////////////////////////////////////////////
// Logger Constructor
// ///////////////////////////////////////////////

// ErrNoLogPath is returned by [NewLogger] when Options.Path is empty.
var ErrNoLogPath = errors.New("log path is required")

// Options configures [NewLogger].
type Options struct {
	// Path is the log file. Rotated files are kept beside it.
	Path string
	// Level is the minimum severity written.
	Level slog.Level
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept. Zero means 3.
	MaxBackups int
	// Echo, when non-nil, receives a copy of every line.
	Echo io.Writer
}

// NewLogger creates a logger writing to a rotating file. The returned
// io.Closer must be closed to flush pending writes.
func NewLogger(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.Path == "" {
		return nil, nil, ErrNoLogPath
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 3
	}
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     28,
	}

	var w io.Writer = lj
	if opts.Echo != nil {
		w = io.MultiWriter(lj, opts.Echo)
	}
	return slog.New(NewHandler(w, opts.Level)), lj, nil
}

// Trace logs a message at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs a message at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}

// ///////////////////////////////////////////////
// ReadTail
// ///////////////////////////////////////////////

// tailChunk is how far ReadTail reads back per step.
const tailChunk = 8 << 10

// ReadTail returns the last n lines of the file at path, reading backwards
// from the end so large logs are not scanned in full.
func ReadTail(path string, n int) (string, error) {
	if n <= 0 {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	var tail []byte
	for off := info.Size(); off > 0 && bytes.Count(tail, []byte{'\n'}) <= n; {
		step := min(tailChunk, off)
		off -= step
		block := make([]byte, step)
		if got, err := f.ReadAt(block, off); err != nil && (!errors.Is(err, io.EOF) || int64(got) != step) {
			return "", fmt.Errorf("reading log file: %w", err)
		}
		tail = append(block, tail...)
	}

	text := strings.TrimRight(string(tail), "\r\n")
	if text == "" {
		return "", nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return strings.Join(lines, "\n"), nil
}
