// Package framer converts a raw byte stream into line-oriented
// trace.Records. It has no goroutine of its own — the caller drives it
// by calling Write as bytes arrive and Flush when the transport closes;
// ordering and backpressure are the bus's job.
package framer

import (
	"bytes"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/devtrace/devtrace/trace"
)

// Now is overridable in tests; defaults to time.Now.
var Now = time.Now

// Framer accumulates bytes and emits trace.Records as complete lines are
// recognized. Not safe for concurrent use — callers serialize writes
// (the session does this by owning a single producer goroutine per
// adapter).
type Framer struct {
	source trace.Source
	buf    bytes.Buffer
}

// New returns a Framer tagging every emitted record with source.
func New(source trace.Source) *Framer {
	return &Framer{source: source}
}

// Write appends p to the internal buffer and returns every complete line
// framed as a result. Line terminators recognized: "\n", "\r\n", and bare
// "\r" (which flushes as soon as the next byte shows it is not part of a
// "\r\n", so a CR-driven progress display doesn't stall framing; a "\r"
// that ends the buffered input is held until more bytes or Flush). A
// "\r\n" pair never produces an empty record for the "\r" half.
func (f *Framer) Write(p []byte) []trace.Record {
	f.buf.Write(p)
	return f.drain(false)
}

// Flush flushes any residual non-empty buffered bytes as a final record.
// Call this once, when the transport has closed.
func (f *Framer) Flush() []trace.Record {
	return f.drain(true)
}

func (f *Framer) drain(final bool) []trace.Record {
	var out []trace.Record
	b := f.buf.Bytes()

	start := 0
	for i := start; i < len(b); i++ {
		switch b[i] {
		case '\n':
			out = append(out, f.emit(b[start:i]))
			start = i + 1
		case '\r':
			// Peek for a following '\n' to treat "\r\n" as one terminator.
			if i+1 < len(b) && b[i+1] == '\n' {
				out = append(out, f.emit(b[start:i]))
				start = i + 2
				i++
				continue
			}
			if i+1 < len(b) || final {
				// Either a following byte proves this CR is not the start
				// of a pending "\r\n", or this is the final flush and no
				// more bytes are coming — either way, flush now.
				out = append(out, f.emit(b[start:i]))
				start = i + 1
			}
			// Otherwise b[i] is the last byte in the buffer and more
			// input may still arrive: hold off in case it's "\r\n".
		}
	}

	if final && start < len(b) {
		out = append(out, f.emit(b[start:]))
		start = len(b)
	}

	remaining := append([]byte(nil), b[start:]...)
	f.buf.Reset()
	f.buf.Write(remaining)

	return out
}

// emit builds a trace.Record from a raw line, replacing invalid UTF-8
// sequences with U+FFFD so framing continues regardless of the source
// encoding.
func (f *Framer) emit(line []byte) trace.Record {
	text := line
	if !utf8.Valid(text) {
		text = []byte(strings.ToValidUTF8(string(text), string(utf8.RuneError)))
	}
	return trace.Record{
		Text:      string(text),
		Timestamp: Now(),
		Source:    f.source,
	}
}
