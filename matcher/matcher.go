// Package matcher evaluates a trace.CompiledPattern against a
// trace.Record. It is pure and reentrant — no state, safe to call from
// any number of goroutines concurrently.
package matcher

import "github.com/devtrace/devtrace/trace"

// Match evaluates pattern against record.Text using whole-string,
// unanchored search. Returns the zero trace.Result and false if there is
// no match.
func Match(record trace.Record, pattern trace.CompiledPattern) (trace.Result, bool) {
	loc := pattern.Regexp.FindStringSubmatchIndex(record.Text)
	if loc == nil {
		return trace.Result{}, false
	}

	result := trace.Result{
		Record:  record,
		Pattern: patternRefFor(pattern),
	}
	if pattern.Tag != "" {
		result.EventTag = pattern.Tag
		result.HasEventTag = true
	}
	if len(pattern.Names) > 0 {
		result.NamedCaptures = make(map[string]string, len(pattern.Names))
		names := pattern.Regexp.SubexpNames()
		for i, name := range names {
			if name == "" || 2*i+1 >= len(loc) {
				continue
			}
			start, end := loc[2*i], loc[2*i+1]
			if start < 0 || end < 0 {
				continue // group did not participate in the match
			}
			result.NamedCaptures[name] = record.Text[start:end]
		}
	}
	return result, true
}

// patternRefFor builds a display-only PatternRef back from a
// CompiledPattern, so a trace.Result can report which pattern it
// satisfied without the matcher needing to thread the original
// trace.PatternRef through every call site.
func patternRefFor(pattern trace.CompiledPattern) trace.PatternRef {
	if pattern.Tag != "" {
		return trace.TaggedPattern(pattern.Tag)
	}
	return trace.CompiledRegexp(pattern.Regexp)
}
