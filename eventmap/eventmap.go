// Package eventmap implements the event map: a copy-on-write registry
// from trace.EventTag to trace.CompiledPattern, and resolution of
// trace.PatternRefs against the currently installed map. Replacing the
// map never mutates a snapshot a wait already captured.
package eventmap

import (
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/devtrace/devtrace/trace"
)

// Map is a copy-on-write EventTag → CompiledPattern registry. The zero
// value is an empty, usable Map.
type Map struct {
	snapshot atomic.Pointer[map[trace.EventTag]trace.CompiledPattern]
}

// New returns an empty Map.
func New() *Map {
	m := &Map{}
	empty := map[trace.EventTag]trace.CompiledPattern{}
	m.snapshot.Store(&empty)
	return m
}

// Set replaces the active map atomically. Waits already in flight hold
// their own snapshot (see Snapshot) and are unaffected.
func (m *Map) Set(entries map[trace.EventTag]trace.CompiledPattern) {
	cp := make(map[trace.EventTag]trace.CompiledPattern, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	m.snapshot.Store(&cp)
}

// SetPatterns is a convenience over Set that compiles each regex string,
// returning a *trace.ConfigurationError on the first invalid pattern.
func (m *Map) SetPatterns(exprs map[trace.EventTag]string) error {
	entries := make(map[trace.EventTag]trace.CompiledPattern, len(exprs))
	for tag, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return &trace.ConfigurationError{
				Reason: fmt.Sprintf("event %q: invalid pattern %q: %v", tag, expr, err),
			}
		}
		cp := trace.NewCompiledPattern(re)
		cp.Tag = tag
		entries[tag] = cp
	}
	m.Set(entries)
	return nil
}

// Snapshot returns the current map generation. A Waiter calls this once
// at the start of a wait and resolves every PatternRef against the
// returned Snapshot, so a concurrent Set never affects an in-flight wait.
func (m *Map) Snapshot() Snapshot {
	p := m.snapshot.Load()
	if p == nil {
		return Snapshot{entries: map[trace.EventTag]trace.CompiledPattern{}}
	}
	return Snapshot{entries: *p}
}

// Snapshot is an immutable view of the Event Map at one point in time.
type Snapshot struct {
	entries map[trace.EventTag]trace.CompiledPattern
}

// Resolve turns a PatternRef into a CompiledPattern. Raw strings are
// compiled on the spot; already-compiled regexes pass through unchanged;
// tags are looked up in the snapshot. An unknown tag or invalid raw regex
// is a *trace.ConfigurationError.
func (s Snapshot) Resolve(ref trace.PatternRef) (trace.CompiledPattern, error) {
	if tag, ok := ref.Tag(); ok {
		cp, found := s.entries[tag]
		if !found {
			return trace.CompiledPattern{}, &trace.ConfigurationError{
				Reason: fmt.Sprintf("unknown event tag %q", tag),
			}
		}
		return cp, nil
	}

	if re, ok := ref.Regexp(); ok {
		return trace.NewCompiledPattern(re), nil
	}

	expr, _ := ref.RawExpr()
	re, err := regexp.Compile(expr)
	if err != nil {
		return trace.CompiledPattern{}, &trace.ConfigurationError{
			Reason: fmt.Sprintf("invalid pattern %q: %v", expr, err),
		}
	}
	return trace.NewCompiledPattern(re), nil
}

// ResolveAll resolves a slice of PatternRefs, collapsing duplicates (by
// the ref's string form) into a single slot — a pattern appearing twice
// in a required/avoided list needs exactly one match to be satisfied,
// not two. Order of first occurrence is preserved.
func (s Snapshot) ResolveAll(refs []trace.PatternRef) ([]trace.CompiledPattern, []trace.PatternRef, error) {
	seen := make(map[string]bool, len(refs))
	out := make([]trace.CompiledPattern, 0, len(refs))
	kept := make([]trace.PatternRef, 0, len(refs))
	for _, ref := range refs {
		key := ref.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		cp, err := s.Resolve(ref)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, cp)
		kept = append(kept, ref)
	}
	return out, kept, nil
}
