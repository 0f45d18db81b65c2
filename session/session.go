// Package session ties one transport's adapters, one framer per
// adapter, one bus, and one event map together behind the public
// per-session operations: start/stop capturing, send a command, wait
// for traces or events, install event mappings, and expose a raw
// subscription for custom consumers.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/devtrace/devtrace/bus"
	"github.com/devtrace/devtrace/eventmap"
	"github.com/devtrace/devtrace/framer"
	"github.com/devtrace/devtrace/trace"
	"github.com/devtrace/devtrace/transport"
	"github.com/devtrace/devtrace/waiter"
)

// DefaultLineTerminator is appended by SendCmd when no other terminator
// was configured.
const DefaultLineTerminator = "\n"

// Option configures a Session at construction time.
type Option func(*Session)

// WithEventMap installs m instead of a fresh empty Event Map.
func WithEventMap(m *eventmap.Map) Option {
	return func(s *Session) { s.eventMap = m }
}

// WithLineTerminator overrides DefaultLineTerminator.
func WithLineTerminator(term string) Option {
	return func(s *Session) { s.lineTerminator = term }
}

// WithBacklogCapacity overrides bus.DefaultCapacity.
func WithBacklogCapacity(n int) Option {
	return func(s *Session) { s.capacity = n }
}

// WithProcessExit wires a process/container exit-code channel through to
// waiter.Input.ProcessExit, enabling run-to-completion waits. Delivery to
// waits is deferred until the producers have drained, so an exit signal
// can never overtake the child's final output. The code is relayed once:
// only the one wait that receives it observes the exit; later waits do
// not.
func WithProcessExit(ch <-chan int) Option {
	return func(s *Session) { s.processExit = ch }
}

// Session owns one or two transport.Adapters (distinct source tags, e.g.
// stdout+stderr) and coordinates them into a single Bus.
type Session struct {
	adapters []transport.Adapter
	framers  []*framer.Framer

	bus      *bus.Bus
	eventMap *eventmap.Map
	capacity int

	lineTerminator string
	processExit    <-chan int
	relayExit      chan int

	mu      sync.Mutex
	writeMu sync.Mutex
	waitMu  sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a Session over the given adapters (one for a bidirectional
// transport like serial/RTT/WebSocket, two for a process/container's
// separate stdout and stderr).
func New(adapters []transport.Adapter, opts ...Option) *Session {
	s := &Session{
		adapters:       adapters,
		eventMap:       eventmap.New(),
		lineTerminator: DefaultLineTerminator,
	}
	for _, o := range opts {
		o(s)
	}
	s.bus = bus.New(s.capacity)
	return s
}

// StartCapturing opens every adapter and starts one producer goroutine
// per adapter, framing bytes into trace.Records and appending them to the
// Bus. Idempotent: calling it again while already started is a no-op.
func (s *Session) StartCapturing(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	opened := make([]transport.Adapter, 0, len(s.adapters))
	for _, a := range s.adapters {
		if err := a.Open(ctx); err != nil {
			for _, o := range opened {
				o.Close()
			}
			cancel()
			return &trace.TransportError{Op: "open", Cause: err}
		}
		opened = append(opened, a)
	}

	s.framers = make([]*framer.Framer, len(s.adapters))
	for i, a := range s.adapters {
		s.framers[i] = framer.New(a.SourceTag())
	}

	s.cancel = cancel
	for i, a := range s.adapters {
		s.wg.Add(1)
		go s.produce(runCtx, a, s.framers[i])
	}

	// Relay the exit code only after every producer has flushed its
	// final records into the Bus, so a run-to-completion wait evaluates
	// the child's last output before observing the exit itself.
	if s.processExit != nil && s.relayExit == nil {
		s.relayExit = make(chan int, 1)
		upstream := s.processExit
		go func() {
			code, ok := <-upstream
			if !ok {
				return
			}
			s.wg.Wait()
			s.relayExit <- code
		}()
	}

	s.started = true
	return nil
}

func (s *Session) produce(ctx context.Context, a transport.Adapter, f *framer.Framer) {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := a.Read(ctx, buf)
		if n > 0 {
			for _, rec := range f.Write(buf[:n]) {
				s.bus.Append(rec)
			}
		}
		if err != nil {
			for _, rec := range f.Flush() {
				s.bus.Append(rec)
			}
			return
		}
	}
}

// StopCapturing halts every producer, closes the adapters, and closes the
// Bus so any in-flight wait observes TransportClosed. Idempotent.
func (s *Session) StopCapturing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true

	s.cancel()
	s.wg.Wait()
	s.bus.Close()

	var firstErr error
	for _, a := range s.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendCmd appends the configured line terminator to s and writes it
// atomically through the first adapter (in a process transport, stdout
// and stderr adapters share one underlying stdin writer, so any one
// suffices).
func (s *Session) SendCmd(cmd string) error {
	if len(s.adapters) == 0 {
		return &trace.ConfigurationError{Reason: "session: no adapters configured"}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.adapters[0].Write([]byte(cmd + s.lineTerminator))
	return err
}

// SetEventMap installs tag→pattern mappings, replacing whatever was
// previously installed. Safe to call concurrently with in-flight waits;
// they hold their own snapshot.
func (s *Session) SetEventMap(patterns map[trace.EventTag]string) error {
	return s.eventMap.SetPatterns(patterns)
}

// RawQueue returns a live Subscription over the Bus for custom consumers
// that want to observe records without going through a Waiter. Starts
// from Live — it does not replay the backlog.
func (s *Session) RawQueue() *bus.Subscription {
	return s.bus.Subscribe(bus.Live)
}

// WaitOption configures one call to WaitForTrace or WaitForEvent.
type WaitOption func(*waitConfig)

type waitConfig struct {
	cmd  string
	opts waiter.Options
}

// WithCmd sends cmd after subscribing, before evaluating any record, so
// no trace produced in response to the command can be missed.
func WithCmd(cmd string) WaitOption {
	return func(c *waitConfig) { c.cmd = cmd }
}

// WithTimeout arms a deadline. Zero (the default) disables it.
func WithTimeout(d time.Duration) WaitOption {
	return func(c *waitConfig) { c.opts.Timeout = d }
}

// WithCollect sets the collect_pattern mode. Default is Matching.
func WithCollect(p trace.CollectPattern) WaitOption {
	return func(c *waitConfig) { c.opts.Collect = p }
}

// WithFormat overrides the response_format default (Raw for
// WaitForTrace, Processed for WaitForEvent).
func WithFormat(f trace.ResponseFormat) WaitOption {
	return func(c *waitConfig) { c.opts.Format = f }
}

// WithReturnOnFirstMatch terminates the wait as soon as any required
// pattern is satisfied instead of waiting for all of them.
func WithReturnOnFirstMatch() WaitOption {
	return func(c *waitConfig) { c.opts.ReturnOnFirstMatch = true }
}

// WithBacklog replays the Bus's current backlog before live records
// instead of clearing it first.
func WithBacklog() WaitOption {
	return func(c *waitConfig) { c.opts.UseBacklog = true }
}

// WithRunToCompletion terminates the wait on process/container exit when
// required is empty, reporting success iff the exit code was zero.
func WithRunToCompletion() WaitOption {
	return func(c *waitConfig) { c.opts.RunToCompletion = true }
}

// errNotCapturing is wrapped into a ConfigurationError; waits before
// StartCapturing have no Bus activity to observe.
var errNotCapturing = errors.New("wait called before start_capturing")

// WaitForTrace waits on raw regex patterns; result entries default to
// carrying just the matching record.
func (s *Session) WaitForTrace(ctx context.Context, required, avoided []trace.PatternRef, opts ...WaitOption) (trace.Outcome, error) {
	cfg := waitConfig{opts: waiter.Options{Format: trace.Raw}}
	for _, o := range opts {
		o(&cfg)
	}
	return s.wait(ctx, required, avoided, cfg)
}

// WaitForEvent waits on EventTags resolved through the event map;
// result entries default to the full match with captures and tag.
func (s *Session) WaitForEvent(ctx context.Context, required, avoided []trace.EventTag, opts ...WaitOption) (trace.Outcome, error) {
	cfg := waitConfig{opts: waiter.Options{Format: trace.Processed}}
	for _, o := range opts {
		o(&cfg)
	}
	return s.wait(ctx, taggedRefs(required), taggedRefs(avoided), cfg)
}

func taggedRefs(tags []trace.EventTag) []trace.PatternRef {
	refs := make([]trace.PatternRef, len(tags))
	for i, t := range tags {
		refs[i] = trace.TaggedPattern(t)
	}
	return refs
}

func (s *Session) wait(ctx context.Context, required, avoided []trace.PatternRef, cfg waitConfig) (trace.Outcome, error) {
	s.mu.Lock()
	started := s.started
	relayExit := s.relayExit
	s.mu.Unlock()
	if !started {
		return trace.Outcome{}, &trace.ConfigurationError{Reason: errNotCapturing.Error()}
	}

	// Concurrent waits sharing one Session have no defined backlog
	// semantics (one wait's ClearBacklog would yank records out from
	// under another), so waits are serialized here. Custom consumers
	// that need true concurrency use RawQueue.
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	in := waiter.Input{
		Bus:         s.bus,
		Map:         s.eventMap,
		Required:    required,
		Avoided:     avoided,
		Options:     cfg.opts,
		ProcessExit: relayExit,
	}
	if cfg.cmd != "" {
		cmd := cfg.cmd
		in.Send = func() error { return s.SendCmd(cmd) }
	}
	return waiter.Wait(ctx, in)
}
