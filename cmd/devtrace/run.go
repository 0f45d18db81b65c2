package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/devtrace/devtrace/bus"
	"github.com/devtrace/devtrace/process"
	"github.com/devtrace/devtrace/session"
	"github.com/devtrace/devtrace/trace"
	"github.com/devtrace/devtrace/transport"
)

// runWait implements the default (non-subcommand) CLI mode: spawn -c,
// wait for -r/-a, print the outcome, exit with the mapped code.
func runWait(args []string) {
	fs := flag.NewFlagSet("devtrace", flag.ContinueOnError)
	var (
		cmdStr          string
		required        string
		avoided         string
		timeoutMS       int
		firstMatch      bool
		runToCompletion bool
		accumulate      bool
		collectMode     string
		quiet           bool
		jsonOut         bool
		forceColor      bool
	)
	fs.StringVar(&cmdStr, "c", "", "command line to run")
	fs.StringVar(&cmdStr, "cmd", "", "command line to run")
	fs.StringVar(&required, "r", "", "required patterns, comma-separated")
	fs.StringVar(&required, "required", "", "required patterns, comma-separated")
	fs.StringVar(&avoided, "a", "", "avoided patterns, comma-separated")
	fs.StringVar(&avoided, "avoid", "", "avoided patterns, comma-separated")
	fs.IntVar(&timeoutMS, "t", 10000, "wait deadline in milliseconds")
	fs.IntVar(&timeoutMS, "timeout-ms", 10000, "wait deadline in milliseconds")
	fs.BoolVar(&firstMatch, "f", false, "return on first required match")
	fs.BoolVar(&firstMatch, "first-match", false, "return on first required match")
	fs.BoolVar(&runToCompletion, "run-to-completion", false, "accept on zero exit when required is empty")
	fs.BoolVar(&accumulate, "accumulate", false, "keep every match instead of only the last")
	fs.StringVar(&collectMode, "collect", "", "matching|all|last (overrides --accumulate)")
	fs.BoolVar(&quiet, "quiet", false, "suppress the live trace tail")
	fs.BoolVar(&jsonOut, "json", false, "print the outcome as JSON")
	fs.BoolVar(&forceColor, "color", false, "force-enable ANSI color")

	if err := fs.Parse(args); err != nil {
		printUsage()
		os.Exit(5)
	}
	if forceColor {
		colorEnabled = true
	}

	if cmdStr == "" {
		fmt.Fprintln(os.Stderr, "devtrace: -c/--cmd is required")
		printUsage()
		os.Exit(5)
	}

	collect, err := parseCollect(collectMode, accumulate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtrace: %v\n", err)
		os.Exit(5)
	}

	requiredRefs := parsePatterns(required)
	avoidedRefs := parsePatterns(avoided)

	proc, err := transport.NewProcess(process.Spec{Argv: []string{"sh", "-c", cmdStr}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtrace: spawn: %v\n", err)
		os.Exit(4)
	}

	sess := session.New(
		[]transport.Adapter{proc.Stdout(), proc.Stderr()},
		session.WithProcessExit(proc.ExitCode()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !quiet {
		go tailRaw(sess.RawQueue())
	}

	if err := sess.StartCapturing(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "devtrace: %v\n", err)
		os.Exit(4)
	}

	waitOpts := []session.WaitOption{
		session.WithTimeout(time.Duration(timeoutMS) * time.Millisecond),
		session.WithCollect(collect),
	}
	if firstMatch {
		waitOpts = append(waitOpts, session.WithReturnOnFirstMatch())
	}
	if runToCompletion {
		waitOpts = append(waitOpts, session.WithRunToCompletion())
	}

	outcome, err := sess.WaitForTrace(ctx, requiredRefs, avoidedRefs, waitOpts...)

	proc.Terminate(context.Background())
	sess.StopCapturing()

	if err != nil {
		fmt.Fprintf(os.Stderr, "devtrace: %v\n", err)
		os.Exit(5)
	}

	printOutcome(outcome, jsonOut)
	os.Exit(exitCodeFor(outcome))
}

// parseCollect maps --collect/--accumulate onto a collect mode:
// --collect names one explicitly; otherwise --accumulate picks between a
// multi-element results list and only the most recent match.
func parseCollect(mode string, accumulate bool) (trace.CollectPattern, error) {
	switch strings.ToLower(mode) {
	case "":
		if accumulate {
			return trace.Matching, nil
		}
		return trace.LastOnly, nil
	case "matching":
		return trace.Matching, nil
	case "all":
		return trace.All, nil
	case "last":
		return trace.LastOnly, nil
	default:
		return 0, fmt.Errorf("invalid --collect %q, want matching|all|last", mode)
	}
}

func parsePatterns(csv string) []trace.PatternRef {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	refs := make([]trace.PatternRef, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		refs = append(refs, trace.RawPattern(p))
	}
	return refs
}

// tailRaw prints every record observed on sub, colored by source, until
// the subscription closes. Subscribed before StartCapturing so no early
// record is missed.
func tailRaw(sub *bus.Subscription) {
	defer sub.Close()
	for {
		rec, err := sub.Next(context.Background())
		if err != nil {
			return
		}
		line := fmt.Sprintf("%s %s", dim(strconv.FormatUint(rec.Sequence, 10)), rec.Text)
		fmt.Fprintln(os.Stderr, colorSource(line, rec.Source))
	}
}

func printOutcome(out trace.Outcome, jsonOut bool) {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(out)
		return
	}

	label := out.TerminatedBy.String()
	fmt.Println(bold(colorOutcome(label, out.Successful, out.TerminatedBy)))
	for _, r := range out.RequiredRemaining {
		fmt.Printf("  unmatched: %s\n", r.String())
	}
	if out.RejectedPattern != nil {
		fmt.Printf("  rejected by: %s\n", out.RejectedPattern.String())
	}
	if out.ExitCode != nil {
		fmt.Printf("  exit code: %d\n", *out.ExitCode)
	}
	if out.Overflow {
		fmt.Printf("  dropped %d records before the subscriber could keep up\n", out.Dropped)
	}
}

// exitCodeFor maps a trace.Outcome onto the documented exit codes. The
// terminal states and the code table don't line up 1:1 — a stream that
// closed with required patterns unmatched is "required not found"
// rather than a transport fault, and Cancelled (only reachable via
// signal or an overflow, since a configuration error returns before any
// Outcome exists) falls back to the transport-error slot since neither
// case is a clean "it worked" or "it was rejected".
func exitCodeFor(out trace.Outcome) int {
	switch out.TerminatedBy {
	case trace.Accepted:
		return 0
	case trace.Rejected:
		return 2
	case trace.Timeout:
		return 3
	case trace.ProcessExited:
		if out.Successful {
			return 0
		}
		return 1
	case trace.TransportClosed:
		if len(out.RequiredRemaining) > 0 {
			return 1
		}
		return 4
	case trace.Cancelled:
		return 4
	default:
		return 4
	}
}
