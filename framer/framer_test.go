package framer

import (
	"testing"

	"github.com/devtrace/devtrace/trace"
)

func texts(records []trace.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Text
	}
	return out
}

func eq(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFramerLF(t *testing.T) {
	f := New(trace.SourceStdout)
	records := f.Write([]byte("foo1\nbar2\nbaz3"))
	eq(t, texts(records), []string{"foo1", "bar2"})
	eq(t, texts(f.Flush()), []string{"baz3"})
}

func TestFramerCRLF(t *testing.T) {
	f := New(trace.SourceStdout)
	records := f.Write([]byte("foo1\r\nbar2\r\n"))
	eq(t, texts(records), []string{"foo1", "bar2"})
}

func TestFramerBareCR(t *testing.T) {
	f := New(trace.SourceStdout)
	// A bare CR followed by more data (not LF) flushes immediately.
	records := f.Write([]byte("progress 1%\rprogress 2%\rdone\n"))
	eq(t, texts(records), []string{"progress 1%", "progress 2%", "done"})
}

func TestFramerCRLFNotSplitAcrossWrites(t *testing.T) {
	f := New(trace.SourceStdout)
	// The CR arrives alone; the LF arrives in the next Write. This must
	// not produce a spurious empty record for the dangling CR.
	r1 := f.Write([]byte("foo1\r"))
	eq(t, texts(r1), nil)
	r2 := f.Write([]byte("\nbar2\n"))
	eq(t, texts(r2), []string{"foo1", "bar2"})
}

func TestFramerChunkingIndependence(t *testing.T) {
	whole := "one\ntwo\nthree\nfour"
	chunkings := [][]int{
		{len(whole)},
		{1, 1, 1, len(whole) - 3},
		{3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, len(whole) - 14},
	}
	var want []string
	{
		f := New(trace.SourceStdout)
		want = texts(f.Write([]byte(whole)))
		want = append(want, texts(f.Flush())...)
	}
	for _, sizes := range chunkings {
		f := New(trace.SourceStdout)
		var got []string
		off := 0
		for _, n := range sizes {
			got = append(got, texts(f.Write([]byte(whole[off:off+n])))...)
			off += n
		}
		got = append(got, texts(f.Flush())...)
		eq(t, got, want)
	}
}

func TestFramerInvalidUTF8Replaced(t *testing.T) {
	f := New(trace.SourceStdout)
	records := f.Write([]byte{0xff, 0xfe, '\n'})
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	for _, r := range records[0].Text {
		if r != '�' {
			t.Fatalf("expected replacement char, got %q", records[0].Text)
		}
	}
}

func TestFramerFlushNoResidual(t *testing.T) {
	f := New(trace.SourceStdout)
	f.Write([]byte("complete\n"))
	if got := f.Flush(); len(got) != 0 {
		t.Fatalf("expected no residual record, got %v", got)
	}
}
