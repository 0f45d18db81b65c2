// Package waiter implements the wait state machine: the core operation
// that issues an optional command, then blocks until a required pattern
// set is satisfied, an avoided pattern fires, a timeout elapses, the
// transport closes, or (run-to-completion mode) the driven process exits.
package waiter

import (
	"context"
	"errors"
	"time"

	"github.com/devtrace/devtrace/bus"
	"github.com/devtrace/devtrace/eventmap"
	"github.com/devtrace/devtrace/matcher"
	"github.com/devtrace/devtrace/trace"
)

// Options configures a single Wait call.
type Options struct {
	// Timeout is the wait's deadline; zero disables it.
	Timeout time.Duration
	// Collect controls which records accumulate into Outcome.Results.
	Collect trace.CollectPattern
	// Format controls whether result entries carry just the record or the
	// full match (captures, pattern, event tag).
	Format trace.ResponseFormat
	// ReturnOnFirstMatch terminates as soon as any required pattern is
	// newly satisfied, instead of waiting for all of them.
	ReturnOnFirstMatch bool
	// UseBacklog replays the bus's current backlog before live records;
	// when false the backlog is cleared before subscribing.
	UseBacklog bool
	// RunToCompletion, only meaningful when Required is empty, accepts
	// the wait when the driven process exits (via Input.ProcessExit)
	// instead of immediately.
	RunToCompletion bool
}

// Input bundles everything one Wait call needs.
type Input struct {
	Bus      *bus.Bus
	Map      *eventmap.Map
	Required []trace.PatternRef
	Avoided  []trace.PatternRef
	Options  Options

	// Send, if non-nil, is invoked after subscribing to the bus (so no
	// trace produced in response to the command can be missed) and
	// before the first record is consumed.
	Send func() error

	// ProcessExit, when non-nil, delivers the driven process's exit code
	// exactly once. Required only for RunToCompletion waits; a wait with
	// a non-empty Required list ignores it for completion purposes but
	// still observes it so a crashed child doesn't hang the wait
	// forever. Records already delivered when the exit fires are drained
	// and evaluated before the wait concludes, so an exit signal racing
	// the last few lines of output can't produce a false negative.
	ProcessExit <-chan int
}

// Wait resolves the pattern sets against one Event Map snapshot,
// subscribes to the bus, sends the optional command, and consumes
// records until a terminal condition fires. The returned error is
// non-nil only for a *trace.ConfigurationError detected before
// any I/O (unknown event tag, invalid regex), or a *trace.TransportError
// when Send fails — every other termination, including the transport
// closing mid-wait, is reported through the returned Outcome.
func Wait(ctx context.Context, in Input) (trace.Outcome, error) {
	snap := in.Map.Snapshot()

	requiredCompiled, requiredRefs, err := snap.ResolveAll(in.Required)
	if err != nil {
		return trace.Outcome{}, err
	}
	avoidedCompiled, _, err := snap.ResolveAll(in.Avoided)
	if err != nil {
		return trace.Outcome{}, err
	}

	opts := in.Options
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if !opts.UseBacklog {
		in.Bus.ClearBacklog()
	}
	mode := bus.Live
	if opts.UseBacklog {
		mode = bus.ReplayAll
	}
	sub := in.Bus.Subscribe(mode)
	defer sub.Close()

	if in.Send != nil {
		if err := in.Send(); err != nil {
			return trace.Outcome{}, &trace.TransportError{Op: "send_cmd", Cause: err}
		}
	}

	w := &run{
		opts:      opts,
		required:  requiredCompiled,
		refs:      requiredRefs,
		avoided:   avoidedCompiled,
		satisfied: make([]bool, len(requiredCompiled)),
	}

	// Degenerate case: nothing required and not running to completion
	// means the acceptance condition (vacuously, every element of an
	// empty required set) is already met.
	if len(requiredCompiled) == 0 && !opts.RunToCompletion {
		return w.finish(trace.Accepted), nil
	}

	// A process exit must unblock Next but must not overtake records the
	// child emitted before dying, so the watcher cancels a derived
	// context and the exit path drains the mailbox before concluding.
	waitCtx := ctx
	exited := make(chan int, 1)
	if in.ProcessExit != nil {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithCancel(ctx)
		defer cancelWait()
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case code, ok := <-in.ProcessExit:
				if !ok {
					return
				}
				exited <- code
				cancelWait()
			case <-stop:
			}
		}()
	}

	for {
		rec, err := sub.Next(waitCtx)
		if err != nil {
			switch {
			case errors.Is(err, bus.ErrClosed):
				return w.finish(trace.TransportClosed), nil
			case errors.Is(err, context.DeadlineExceeded):
				return w.finish(trace.Timeout), nil
			default:
				select {
				case code := <-exited:
					return w.concludeExited(code, sub), nil
				default:
				}
				if ctx.Err() == context.DeadlineExceeded {
					return w.finish(trace.Timeout), nil
				}
				return w.finish(trace.Cancelled), nil
			}
		}

		if dropped := sub.Dropped(); dropped > 0 {
			out := w.finish(trace.Cancelled)
			out.Overflow = true
			out.Dropped = dropped
			return out, nil
		}

		if out, done := w.evaluate(rec); done {
			return out, nil
		}
	}
}

// concludeExited finishes a wait after the driven process exited. Every
// record the producer appended before the exit signal fired is already
// sitting in the mailbox (the exit channel is delivered only after the
// producers drain), so they are evaluated first — a terminal match or
// rejection found there still wins over the exit itself.
func (w *run) concludeExited(code int, sub *bus.Subscription) trace.Outcome {
	for {
		rec, ok := sub.TryNext()
		if !ok {
			break
		}
		if dropped := sub.Dropped(); dropped > 0 {
			out := w.finish(trace.Cancelled)
			out.Overflow = true
			out.Dropped = dropped
			return out
		}
		if out, done := w.evaluate(rec); done {
			return out
		}
	}

	if len(w.required) == 0 && w.opts.RunToCompletion {
		out := w.finish(trace.ProcessExited)
		out.Successful = code == 0
		ec := code
		out.ExitCode = &ec
		return out
	}
	// Required patterns are still outstanding and the process already
	// exited: nothing more will ever arrive, so don't hang until the
	// timeout. Surface it as TransportClosed, matching what happens when
	// the transport itself closes.
	return w.finish(trace.TransportClosed)
}

// run holds the mutable state of one in-flight Wait call.
type run struct {
	opts      Options
	required  []trace.CompiledPattern
	refs      []trace.PatternRef
	avoided   []trace.CompiledPattern
	satisfied []bool
	results   []trace.Result
	lastMatch *trace.Result
}

// evaluate applies one record to the state machine. It returns (outcome,
// true) if the record produced a terminal condition.
func (w *run) evaluate(rec trace.Record) (trace.Outcome, bool) {
	for _, ap := range w.avoided {
		if res, ok := matcher.Match(rec, ap); ok {
			out := w.finish(trace.Rejected)
			rejected := res.Pattern
			out.RejectedPattern = &rejected
			out.Results = append(out.Results, formatResult(res, w.opts.Format))
			return out, true
		}
	}

	matchedAny := false
	haveFirstMatch := false
	var firstMatch trace.Result
	firstMatchTermination := false

	for i, rp := range w.required {
		res, ok := matcher.Match(rec, rp)
		if !ok {
			continue
		}
		matchedAny = true
		if !haveFirstMatch {
			firstMatch = res
			haveFirstMatch = true
		}

		newlySatisfied := !w.satisfied[i]
		if newlySatisfied {
			w.satisfied[i] = true
		}

		// One result per pattern, recorded when the pattern is first
		// satisfied; repeated matches against an already-satisfied
		// pattern only re-appear under Collect=All. Under first-match
		// the first satisfied pattern is the only one recorded, keeping
		// the results list at one entry even when a single record
		// matches several required patterns at once.
		if newlySatisfied && w.opts.Collect == trace.Matching && !firstMatchTermination {
			w.results = append(w.results, formatResult(res, w.opts.Format))
		}

		if newlySatisfied && w.opts.ReturnOnFirstMatch {
			firstMatchTermination = true
		}
	}

	switch w.opts.Collect {
	case trace.All:
		entry := trace.Result{Record: rec}
		if matchedAny {
			entry = firstMatch
			entry.Record = rec
		}
		w.results = append(w.results, formatResult(entry, w.opts.Format))
	case trace.LastOnly:
		if matchedAny {
			r := formatResult(firstMatch, w.opts.Format)
			w.lastMatch = &r
		}
	}

	// An empty required set never completes through records — a
	// run-to-completion wait stays open for the exit code no matter how
	// many records it collects along the way.
	if firstMatchTermination || (len(w.required) > 0 && w.remainingCount() == 0) {
		return w.finish(trace.Accepted), true
	}
	return trace.Outcome{}, false
}

func (w *run) remainingCount() int {
	n := 0
	for _, ok := range w.satisfied {
		if !ok {
			n++
		}
	}
	return n
}

func (w *run) finish(term trace.Terminal) trace.Outcome {
	out := trace.Outcome{
		TerminatedBy: term,
		Successful:   term == trace.Accepted,
	}
	for i, ref := range w.refs {
		if !w.satisfied[i] {
			out.RequiredRemaining = append(out.RequiredRemaining, ref)
		}
	}
	if w.opts.Collect == trace.LastOnly {
		if w.lastMatch != nil {
			out.Results = []trace.Result{*w.lastMatch}
		}
	} else {
		out.Results = w.results
	}
	return out
}

// formatResult renders a matcher result according to the requested
// response format: RAW keeps just the record, PROCESSED keeps the full
// match (pattern, named captures, event tag).
func formatResult(res trace.Result, format trace.ResponseFormat) trace.Result {
	if format == trace.Raw {
		return trace.Result{Record: res.Record}
	}
	return res
}
