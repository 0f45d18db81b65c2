// Package trace holds the data model shared by the bus, matcher, waiter,
// and session packages: framed trace records, event tags, pattern
// references, and wait outcomes.
package trace

import "time"

// Source tags a TraceRecord with the stream it was framed from.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
	SourceDevice Source = "device"
	SourceRTT    Source = "rtt"
	SourceWS     Source = "ws"
)

// Record is a single framed line observed from a transport.
type Record struct {
	// Text is the decoded line with trailing line terminators stripped.
	Text string `json:"text"`
	// Timestamp is monotonic nanoseconds taken when the line terminator
	// was observed, not when the first byte of the line arrived.
	Timestamp time.Time `json:"timestamp"`
	// Source identifies which stream produced this record.
	Source Source `json:"source"`
	// Sequence is assigned by the Bus at append time. Strictly
	// increasing and gap-free per session.
	Sequence uint64 `json:"sequence"`
}
