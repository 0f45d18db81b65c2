package matcher

import (
	"regexp"
	"testing"

	"github.com/devtrace/devtrace/trace"
)

func TestMatchNamedCaptures(t *testing.T) {
	re := regexp.MustCompile(`VERSION:\s*v?(?P<major>\d+)\.(?P<minor>\d+)\.(?P<patch>\d+)`)
	pattern := trace.NewCompiledPattern(re)
	record := trace.Record{Text: "VERSION:1.2.3", Source: trace.SourceStdout}

	result, ok := Match(record, pattern)
	if !ok {
		t.Fatal("expected match")
	}
	want := map[string]string{"major": "1", "minor": "2", "patch": "3"}
	for k, v := range want {
		if result.NamedCaptures[k] != v {
			t.Fatalf("capture %q: got %q, want %q", k, result.NamedCaptures[k], v)
		}
	}
}

func TestMatchNoMatch(t *testing.T) {
	pattern := trace.NewCompiledPattern(regexp.MustCompile(`bar\d`))
	record := trace.Record{Text: "foo1", Source: trace.SourceStdout}
	if _, ok := Match(record, pattern); ok {
		t.Fatal("expected no match")
	}
}

func TestMatchUnanchoredWholeString(t *testing.T) {
	pattern := trace.NewCompiledPattern(regexp.MustCompile(`\d+ bytes from`))
	record := trace.Record{Text: "64 bytes from 10.0.0.1: icmp_seq=1", Source: trace.SourceStdout}
	if _, ok := Match(record, pattern); !ok {
		t.Fatal("expected unanchored match to find pattern mid-string")
	}
}

// TestRoundTripReapplyCaptures: re-applying a result's pattern to its
// record yields the same named captures.
func TestRoundTripReapplyCaptures(t *testing.T) {
	re := regexp.MustCompile(`(?P<code>\d+)`)
	pattern := trace.NewCompiledPattern(re)
	record := trace.Record{Text: "status 404 returned", Source: trace.SourceStdout}

	first, ok := Match(record, pattern)
	if !ok {
		t.Fatal("expected match")
	}
	second, ok := Match(record, pattern)
	if !ok {
		t.Fatal("expected match on reapply")
	}
	if first.NamedCaptures["code"] != second.NamedCaptures["code"] {
		t.Fatalf("captures differ across reapply: %v vs %v", first.NamedCaptures, second.NamedCaptures)
	}
}

func TestMatchOptionalGroupNotParticipating(t *testing.T) {
	re := regexp.MustCompile(`ok(?:-(?P<detail>\w+))?`)
	pattern := trace.NewCompiledPattern(re)
	record := trace.Record{Text: "ok", Source: trace.SourceStdout}
	result, ok := Match(record, pattern)
	if !ok {
		t.Fatal("expected match")
	}
	if _, present := result.NamedCaptures["detail"]; present {
		t.Fatalf("expected non-participating group to be absent, got %q", result.NamedCaptures["detail"])
	}
}
