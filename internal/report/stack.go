package report

import (
	"bufio"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// ///////////////////////////////////////////////
// Goroutine Capture
// ///////////////////////////////////////////////

// maxStackBytes bounds a single capture of every goroutine.
const maxStackBytes = 4 << 20

// goroutineHeader matches "goroutine 7 [chan receive, 3 minutes]:".
var goroutineHeader = regexp.MustCompile(`^goroutine (\d+) \[([^\]]*)\]:$`)

// CaptureGoroutines returns every goroutine in the process. The main
// goroutine (id 1) is flagged as the error reporting thread, since a
// freeze is by definition a wedged main goroutine.
func CaptureGoroutines() []Thread {
	buf := make([]byte, 64<<10)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= maxStackBytes {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	threads := ParseStacks(string(buf))
	for i := range threads {
		threads[i].ErrorReportingThread = threads[i].ID == 1
	}
	return threads
}

// ParseStacks parses the text produced by runtime.Stack (or a SIGQUIT
// dump) into one Thread per goroutine. Unparseable lines are skipped.
func ParseStacks(dump string) []Thread {
	var (
		threads []Thread
		cur     *Thread
		pending string
	)

	sc := bufio.NewScanner(strings.NewReader(dump))
	sc.Buffer(make([]byte, 0, 64<<10), maxStackBytes)
	for sc.Scan() {
		line := sc.Text()
		if m := goroutineHeader.FindStringSubmatch(line); m != nil {
			id, _ := strconv.Atoi(m[1])
			state, wait := parseState(m[2])
			threads = append(threads, Thread{
				ID:          id,
				Name:        "goroutine " + m[1],
				State:       state,
				WaitMinutes: wait,
			})
			cur = &threads[len(threads)-1]
			pending = ""
			continue
		}
		if cur == nil || line == "" {
			continue
		}

		if strings.HasPrefix(line, "\t") {
			if pending == "" {
				continue
			}
			file, lineNo, offset := parseLocation(strings.TrimPrefix(line, "\t"))
			cur.Stacktrace = append(cur.Stacktrace, Stackframe{
				Method:     pending,
				File:       file,
				LineNumber: lineNo,
				Offset:     offset,
			})
			pending = ""
			continue
		}
		if strings.HasPrefix(line, "...") {
			continue
		}
		pending = functionName(line)
	}
	return threads
}

// parseState splits "chan receive, 3 minutes" into state and wait.
func parseState(s string) (string, int) {
	state, rest, found := strings.Cut(s, ", ")
	if !found {
		return s, 0
	}
	for part := range strings.SplitSeq(rest, ", ") {
		if n, ok := strings.CutSuffix(part, " minutes"); ok {
			if m, err := strconv.Atoi(n); err == nil {
				return state, m
			}
		}
	}
	return state, 0
}

// functionName strips the argument list from "pkg.(*T).M(0x1, ...)". A
// "created by" line keeps its prefix and drops the "in goroutine N" tail.
func functionName(line string) string {
	if rest, ok := strings.CutPrefix(line, "created by "); ok {
		fn, _, _ := strings.Cut(rest, " in goroutine ")
		return "created by " + fn
	}
	if strings.HasSuffix(line, ")") {
		if i := strings.LastIndex(line, "("); i > 0 {
			return line[:i]
		}
	}
	return line
}

// parseLocation splits "/src/main.go:42 +0x1d".
func parseLocation(s string) (file string, line int, offset string) {
	loc, offset, _ := strings.Cut(s, " ")
	i := strings.LastIndex(loc, ":")
	if i < 0 {
		return loc, 0, offset
	}
	n, err := strconv.Atoi(loc[i+1:])
	if err != nil {
		return loc, 0, offset
	}
	return loc[:i], n, offset
}
