// Package explain turns a trace.Outcome into a one-paragraph diagnosis
// of why a wait ended the way it did, for a CLI to print or a caller to
// log inline next to a failed wait.
package explain

import (
	"fmt"
	"strings"

	"github.com/devtrace/devtrace/trace"
)

// Outcome renders a human-readable diagnosis of out, suitable for a CLI
// to print directly or a caller to log inline next to a failed wait.
func Outcome(out trace.Outcome) string {
	var b strings.Builder

	switch out.TerminatedBy {
	case trace.Accepted:
		if len(out.RequiredRemaining) == 0 {
			b.WriteString("accepted: every required pattern matched")
		} else {
			fmt.Fprintf(&b, "accepted on first match with %d required pattern(s) still unmatched: %s",
				len(out.RequiredRemaining), joinRefs(out.RequiredRemaining))
		}
		if out.ExitCode != nil {
			fmt.Fprintf(&b, " and the process exited %d", *out.ExitCode)
		}
		b.WriteString(".")

	case trace.Rejected:
		b.WriteString("rejected: an avoided pattern matched")
		if out.RejectedPattern != nil {
			fmt.Fprintf(&b, " (%s)", out.RejectedPattern.String())
		}
		if last := lastMatchText(out); last != "" {
			fmt.Fprintf(&b, " against %q", last)
		}
		b.WriteString(".")

	case trace.Timeout:
		if len(out.RequiredRemaining) == 0 {
			b.WriteString("timed out before the process exited.")
		} else {
			fmt.Fprintf(&b, "timed out waiting for %d required pattern(s) that never matched: %s.",
				len(out.RequiredRemaining), joinRefs(out.RequiredRemaining))
		}

	case trace.ProcessExited:
		if out.Successful {
			b.WriteString("the process exited 0 before any required pattern was needed.")
		} else {
			code := -1
			if out.ExitCode != nil {
				code = *out.ExitCode
			}
			fmt.Fprintf(&b, "run-to-completion failed: the process exited %d.", code)
		}

	case trace.TransportClosed:
		b.WriteString("the transport closed mid-wait")
		if len(out.RequiredRemaining) > 0 {
			fmt.Fprintf(&b, " with %d required pattern(s) still unmatched: %s", len(out.RequiredRemaining), joinRefs(out.RequiredRemaining))
		}
		b.WriteString(".")

	case trace.Cancelled:
		if out.Overflow {
			fmt.Fprintf(&b, "cancelled: the subscriber fell behind and dropped %d record(s) before a match could be confirmed.", out.Dropped)
		} else {
			b.WriteString("cancelled before completion.")
		}

	default:
		b.WriteString("unknown terminal state.")
	}

	return b.String()
}

func joinRefs(refs []trace.PatternRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

func lastMatchText(out trace.Outcome) string {
	if len(out.Results) == 0 {
		return ""
	}
	return out.Results[len(out.Results)-1].Record.Text
}
