// Package transport defines the adapter contract a byte-duplex channel
// implements, plus two concrete adapters (process and Docker container)
// and configuration structs for externally-implementable drivers
// (serial, JTAG/RTT, WebSocket).
package transport

import (
	"context"
	"errors"
	"io"

	"github.com/devtrace/devtrace/trace"
)

// ErrClosed is returned by Read and Write once the adapter has closed.
var ErrClosed = errors.New("transport: closed")

// Adapter is the contract every transport variant implements: open,
// read with a deadline (via ctx), write, close, and a fixed source tag
// identifying which trace.Source its records carry. Single-producer/
// single-consumer on the read side; Write may be called from any
// goroutine and must serialize internally.
type Adapter interface {
	Open(ctx context.Context) error
	Read(ctx context.Context, p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SourceTag() trace.Source
}

// pipeAdapter adapts a blocking io.ReadCloser into the context-deadline
// Read contract via a single background pump goroutine, and an optional
// io.Writer for the write side. Used by both Process and Docker, whose
// underlying streams (os/exec pipes, Docker log/exec attach streams) are
// blocking io.Reader/io.Writer pairs.
type pipeAdapter struct {
	source trace.Source
	r      io.ReadCloser
	w      io.Writer

	ch      chan []byte
	errCh   chan error
	pending []byte
}

func newPipeAdapter(source trace.Source, r io.ReadCloser, w io.Writer) *pipeAdapter {
	return &pipeAdapter{
		source: source,
		r:      r,
		w:      w,
		ch:     make(chan []byte, 64),
		errCh:  make(chan error, 1),
	}
}

// Open starts the background pump. Safe to call once per adapter.
func (a *pipeAdapter) Open(ctx context.Context) error {
	go a.pump()
	return nil
}

func (a *pipeAdapter) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := a.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.ch <- chunk
		}
		if err != nil {
			a.errCh <- err
			close(a.ch)
			return
		}
	}
}

func (a *pipeAdapter) Read(ctx context.Context, p []byte) (int, error) {
	if len(a.pending) > 0 {
		n := copy(p, a.pending)
		a.pending = a.pending[n:]
		return n, nil
	}
	select {
	case chunk, ok := <-a.ch:
		if !ok {
			select {
			case err := <-a.errCh:
				if err == io.EOF {
					return 0, ErrClosed
				}
				return 0, &trace.TransportError{Op: "read", Cause: err}
			default:
				return 0, ErrClosed
			}
		}
		n := copy(p, chunk)
		if n < len(chunk) {
			a.pending = chunk[n:]
		}
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (a *pipeAdapter) Write(p []byte) (int, error) {
	if a.w == nil {
		return 0, &trace.TransportError{Op: "write", Cause: errors.New("adapter is read-only")}
	}
	n, err := a.w.Write(p)
	if err != nil {
		return n, &trace.TransportError{Op: "write", Cause: err}
	}
	return n, nil
}

func (a *pipeAdapter) Close() error {
	return a.r.Close()
}

func (a *pipeAdapter) SourceTag() trace.Source {
	return a.source
}

// Config variants for externally-implemented drivers. devtrace does not
// drive real hardware or a browser socket; these structs exist so a
// caller's configuration file can name one, and so a future Adapter
// implementing Read/Write/Open/Close/SourceTag can be slotted in
// without touching the session or waiter.

// SerialConfig configures a serial-port transport.
type SerialConfig struct {
	Path           string `json:"path"`
	BaudRate       int    `json:"baud_rate"`
	Parity         string `json:"parity,omitempty"`
	StopBits       int    `json:"stop,omitempty"`
	DataBits       int    `json:"data,omitempty"`
	LineTerminator string `json:"line_terminator,omitempty"`
}

// RTTConfig configures a JTAG/RTT transport.
type RTTConfig struct {
	Target     string `json:"target"`
	SpeedKHz   int    `json:"speed_khz"`
	RTTChannel int    `json:"rtt_channel,omitempty"`
}

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	URL          string            `json:"url"`
	Subprotocols []string          `json:"subprotocols,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// ProcessConfig configures the native process transport (transport.Process).
type ProcessConfig struct {
	Argv []string          `json:"argv"`
	Cwd  string            `json:"cwd,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}
