package report

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"tools.zach/dev/freezewatch/internal/pathbuilder"
)

// FilteredValue replaces redacted metadata values.
const FilteredValue = "[FILTERED]"

// ///////////////////////////////////////////////
// Filters
// ///////////////////////////////////////////////

// Filter selects metadata to redact. A plain filter matches any key that
// contains it; a glob filter (one containing *, ?, [ or {) matches the
// full metadata path with "/" separators, e.g. "user/**/token".
type Filter struct {
	pattern string
	glob    bool
}

// String returns the pattern.
func (f Filter) String() string { return f.pattern }

// IsGlob reports whether f holds any glob syntax.
func IsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// CompileFilters validates patterns, skipping empty ones.
func CompileFilters(patterns []string) ([]Filter, error) {
	filters := make([]Filter, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if IsGlob(p) {
			if !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("invalid filter glob %q", p)
			}
			filters = append(filters, Filter{pattern: p, glob: true})
			continue
		}
		filters = append(filters, Filter{pattern: p})
	}
	return filters, nil
}

// match reports whether the entry at path, whose last key is key, is
// selected.
func (f Filter) match(key, path string) bool {
	if !f.glob {
		return strings.Contains(key, f.pattern)
	}
	ok, _ := doublestar.Match(f.pattern, strings.ReplaceAll(path, ".", "/"))
	return ok
}

// ///////////////////////////////////////////////
// Redaction
// ///////////////////////////////////////////////

// Redact replaces every metadata and breadcrumb value selected by filters
// with FilteredValue and returns how many were replaced. Nested maps and
// slices are walked; a selected map or slice is replaced whole.
func (e *Event) Redact(filters []Filter) int {
	if len(filters) == 0 {
		return 0
	}
	var b pathbuilder.Builder
	n := 0

	b.PushKey("metaData")
	for _, section := range slices.Sorted(maps.Keys(e.Metadata)) {
		b.PushKey(section)
		values := e.Metadata[section]
		for _, key := range slices.Sorted(maps.Keys(values)) {
			b.PushKey(key)
			values[key] = redactValue(&b, filters, key, values[key], &n)
			b.Pop()
		}
		b.Pop()
	}
	b.Reset()

	b.PushKey("breadcrumbs")
	for i := range e.Breadcrumbs {
		b.PushIndex(int64(i))
		b.PushKey("metaData")
		md := e.Breadcrumbs[i].Metadata
		for _, key := range slices.Sorted(maps.Keys(md)) {
			b.PushKey(key)
			if matchAny(filters, key, b.Path()) {
				md[key] = FilteredValue
				n++
			}
			b.Pop()
		}
		b.Pop()
		b.Pop()
	}
	return n
}

// redactValue returns v, or its redacted form, for the entry at b's path.
func redactValue(b *pathbuilder.Builder, filters []Filter, key string, v any, n *int) any {
	if matchAny(filters, key, b.Path()) {
		*n++
		return FilteredValue
	}
	switch v := v.(type) {
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(v)) {
			b.PushKey(k)
			v[k] = redactValue(b, filters, k, v[k], n)
			b.Pop()
		}
	case []any:
		for i := range v {
			b.PushIndex(int64(i))
			v[i] = redactValue(b, filters, key, v[i], n)
			b.Pop()
		}
	}
	return v
}

func matchAny(filters []Filter, key, path string) bool {
	for _, f := range filters {
		if f.match(key, path) {
			return true
		}
	}
	return false
}
