// Command devtrace drives a child process and waits for
// trace output to match, exiting with a code that reflects the wait
// outcome.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		runWait(nil)
		return
	}

	switch os.Args[1] {
	case "explain":
		if err := runExplain(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "devtrace explain: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		runWait(os.Args[1:])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: devtrace -c <cmd> -r <pattern>[,<pattern>...] [flags]
       devtrace explain <outcome.json>

Drives a child process and waits for its trace output to match.

Flags:
  -c, --cmd <string>         command line to run through sh -c
  -r, --required <csv>       required patterns, comma-separated regexes
  -a, --avoid <csv>          avoided patterns, comma-separated regexes
  -t, --timeout-ms <int>     wait deadline in milliseconds (default 10000)
  -f, --first-match          return as soon as any required pattern matches
      --run-to-completion    accept when the process exits zero (required empty)
      --accumulate           keep every match instead of only the last
      --collect <mode>       matching|all|last (overrides --accumulate)
      --quiet                suppress the live trace tail
      --json                 print the outcome as JSON instead of text
      --color                force-enable ANSI color even when not a TTY

Exit codes:
  0  accepted             3  timeout
  1  required not met     4  transport/spawn error
  2  avoided pattern seen  5  configuration error

Run 'devtrace explain <outcome.json>' to get a one-paragraph diagnosis
of a captured Outcome.
`)
}
