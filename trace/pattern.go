package trace

import (
	"encoding/json"
	"regexp"
	"strings"
)

// EventTag is an opaque, caller-defined identifier for a named pattern
// class. Equality is by Go value equality, so EventTag is typically a
// string or other comparable type wrapped for clarity.
type EventTag string

// CompiledPattern pairs a regex with the ordered list of named capture
// groups it exposes. Tag is set when the pattern was resolved from an
// Event Map entry; it is the zero value for raw/compiled PatternRefs.
type CompiledPattern struct {
	Regexp *regexp.Regexp
	Names  []string
	Tag    EventTag
}

// namedGroups returns the subexpression names declared by re, in the
// order the regexp package assigns them (index 0 is always "" for the
// whole match and is skipped).
func namedGroups(re *regexp.Regexp) []string {
	all := re.SubexpNames()
	if len(all) <= 1 {
		return nil
	}
	out := make([]string, 0, len(all)-1)
	for _, n := range all[1:] {
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}

// NewCompiledPattern wraps a compiled regex, deriving its named capture
// group list.
func NewCompiledPattern(re *regexp.Regexp) CompiledPattern {
	return CompiledPattern{Regexp: re, Names: namedGroups(re)}
}

type patternKind int

const (
	kindRaw patternKind = iota
	kindCompiled
	kindTagged
)

// PatternRef is a tagged variant over the three ways a caller can specify
// a pattern: a raw regex string, an already-compiled regex, or an
// EventTag resolved through the current Event Map.
type PatternRef struct {
	kind     patternKind
	raw      string
	compiled *regexp.Regexp
	tag      EventTag
}

// RawPattern builds a PatternRef from an uncompiled regex source string.
func RawPattern(expr string) PatternRef {
	return PatternRef{kind: kindRaw, raw: expr}
}

// CompiledRegexp builds a PatternRef from an already-compiled regex.
func CompiledRegexp(re *regexp.Regexp) PatternRef {
	return PatternRef{kind: kindCompiled, compiled: re}
}

// TaggedPattern builds a PatternRef that resolves through the Event Map.
func TaggedPattern(tag EventTag) PatternRef {
	return PatternRef{kind: kindTagged, tag: tag}
}

// Tag returns the EventTag and true if this PatternRef refers to one.
func (p PatternRef) Tag() (EventTag, bool) {
	if p.kind == kindTagged {
		return p.tag, true
	}
	return "", false
}

// Regexp returns the already-compiled regex and true if this PatternRef
// was built via CompiledRegexp.
func (p PatternRef) Regexp() (*regexp.Regexp, bool) {
	if p.kind == kindCompiled {
		return p.compiled, true
	}
	return nil, false
}

// RawExpr returns the uncompiled regex source and true if this PatternRef
// was built via RawPattern.
func (p PatternRef) RawExpr() (string, bool) {
	if p.kind == kindRaw {
		return p.raw, true
	}
	return "", false
}

// MarshalJSON renders a PatternRef as its String() form, so --json output
// carries a plain string per pattern.
func (p PatternRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON reads the String() form back: an "event:"-prefixed string
// becomes a tagged ref, anything else a raw pattern (a compiled ref comes
// back as a raw ref with the same source).
func (p *PatternRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if tag, ok := strings.CutPrefix(s, "event:"); ok {
		*p = TaggedPattern(EventTag(tag))
	} else {
		*p = RawPattern(s)
	}
	return nil
}

// String renders a human-readable form of the ref, used in error messages
// and WaitOutcome diagnostics.
func (p PatternRef) String() string {
	switch p.kind {
	case kindRaw:
		return p.raw
	case kindCompiled:
		return p.compiled.String()
	case kindTagged:
		return "event:" + string(p.tag)
	default:
		return "<invalid pattern ref>"
	}
}
