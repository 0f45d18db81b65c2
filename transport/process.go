package transport

import (
	"context"
	"io"

	"github.com/devtrace/devtrace/process"
	"github.com/devtrace/devtrace/trace"
)

// Process is the native transport: a spawned command whose stdout and
// stderr are each exposed as their own Adapter with distinct source
// tags, and whose stdin backs both adapters' Write. Lifecycle (grace,
// tree-kill, recovery delay) is delegated to process.Handle.
type Process struct {
	handle *process.Handle
	stdout *pipeAdapter
	stderr *pipeAdapter
}

// NewProcess spawns spec and returns a Process exposing its stdout and
// stderr as independent Adapters sharing one stdin.
func NewProcess(spec process.Spec) (*Process, error) {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	h, err := process.Start(spec, stdoutW, stderrW)
	if err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, err
	}

	// Once the child reaps, everything it wrote has been copied into the
	// pipe writers; closing them lets the adapters observe EOF so the
	// session's producers can flush and finish.
	go func() {
		<-h.Done()
		stdoutW.Close()
		stderrW.Close()
	}()

	p := &Process{handle: h}
	p.stdout = newPipeAdapter(trace.SourceStdout, stdoutR, h.Stdin())
	p.stderr = newPipeAdapter(trace.SourceStderr, stderrR, h.Stdin())
	return p, nil
}

// Stdout is the Adapter carrying the child's standard output.
func (p *Process) Stdout() Adapter { return p.stdout }

// Stderr is the Adapter carrying the child's standard error.
func (p *Process) Stderr() Adapter { return p.stderr }

// ExitCode delivers the child's exit code exactly once; wire it through
// session.WithProcessExit for run-to-completion waits.
func (p *Process) ExitCode() <-chan int { return p.handle.ExitCode() }

// Terminate runs the graceful-then-forced kill sequence on the child's
// process group.
func (p *Process) Terminate(ctx context.Context) { p.handle.Terminate(ctx) }

// Recover waits out the configured cmd_recovery_time_ms before a caller
// proceeds to Terminate.
func (p *Process) Recover(ctx context.Context) error { return p.handle.Recover(ctx) }

// Close closes both pipe adapters. The process itself is torn down via
// Terminate, not Close — Close only releases the read-side pipes.
func (p *Process) Close() error {
	err1 := p.stdout.Close()
	err2 := p.stderr.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
