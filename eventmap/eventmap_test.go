package eventmap

import (
	"regexp"
	"testing"

	"github.com/devtrace/devtrace/trace"
)

func TestResolveUnknownTag(t *testing.T) {
	m := New()
	snap := m.Snapshot()
	_, err := snap.Resolve(trace.TaggedPattern("boot-ok"))
	if err == nil {
		t.Fatal("expected configuration error for unknown tag")
	}
}

func TestResolveKnownTag(t *testing.T) {
	m := New()
	if err := m.SetPatterns(map[trace.EventTag]string{
		"boot-ok": `VERSION:\s*v?(?P<major>\d+)\.(?P<minor>\d+)`,
	}); err != nil {
		t.Fatal(err)
	}
	snap := m.Snapshot()
	cp, err := snap.Resolve(trace.TaggedPattern("boot-ok"))
	if err != nil {
		t.Fatal(err)
	}
	if cp.Tag != "boot-ok" {
		t.Fatalf("expected tag preserved, got %q", cp.Tag)
	}
	if len(cp.Names) != 2 || cp.Names[0] != "major" || cp.Names[1] != "minor" {
		t.Fatalf("expected named groups [major minor], got %v", cp.Names)
	}
}

func TestSetIsCopyOnWrite(t *testing.T) {
	m := New()
	if err := m.SetPatterns(map[trace.EventTag]string{"a": "x"}); err != nil {
		t.Fatal(err)
	}
	snap := m.Snapshot()

	if err := m.SetPatterns(map[trace.EventTag]string{"b": "y"}); err != nil {
		t.Fatal(err)
	}

	// The earlier snapshot must still resolve "a" and not see "b".
	if _, err := snap.Resolve(trace.TaggedPattern("a")); err != nil {
		t.Fatalf("snapshot lost entry after later Set: %v", err)
	}
	if _, err := snap.Resolve(trace.TaggedPattern("b")); err == nil {
		t.Fatalf("snapshot should not observe entries added after it was taken")
	}
}

func TestResolveAllCollapsesDuplicates(t *testing.T) {
	m := New()
	snap := m.Snapshot()
	refs := []trace.PatternRef{
		trace.RawPattern(`foo\d`),
		trace.RawPattern(`foo\d`),
		trace.RawPattern(`bar\d`),
	}
	compiled, kept, err := snap.ResolveAll(refs)
	if err != nil {
		t.Fatal(err)
	}
	if len(compiled) != 2 || len(kept) != 2 {
		t.Fatalf("expected duplicates collapsed to 2 entries, got %d", len(compiled))
	}
}

func TestResolveInvalidRawRegex(t *testing.T) {
	m := New()
	snap := m.Snapshot()
	_, err := snap.Resolve(trace.RawPattern(`(unclosed`))
	if err == nil {
		t.Fatal("expected configuration error for invalid regex")
	}
}

func TestResolveCompiledPassthrough(t *testing.T) {
	m := New()
	snap := m.Snapshot()
	re := regexp.MustCompile(`ok`)
	cp, err := snap.Resolve(trace.CompiledRegexp(re))
	if err != nil {
		t.Fatal(err)
	}
	if cp.Regexp != re {
		t.Fatal("expected identity passthrough for already-compiled regex")
	}
}
