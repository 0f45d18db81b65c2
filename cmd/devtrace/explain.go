package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/devtrace/devtrace/explain"
	"github.com/devtrace/devtrace/trace"
)

// runExplain implements the "explain" subcommand: read a trace.Outcome
// JSON blob (as printed by devtrace's own --json mode) from a file or
// stdin and print a one-paragraph diagnosis.
func runExplain(args []string) error {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var r io.Reader = os.Stdin
	if fs.NArg() > 0 {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var out trace.Outcome
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return fmt.Errorf("parse outcome: %w", err)
	}

	fmt.Println(explain.Outcome(out))
	return nil
}
