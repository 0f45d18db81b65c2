// Package process implements the process controller: spawns the driven
// command in its own process group, pipes its stdout/stderr into
// caller-supplied writers, and tears it down with a graceful-then-forced
// kill of the whole group on request. Group-wide signaling means
// descendants die with the child; an onexit registration backs that up
// if devtrace itself is killed first.
package process

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/matgreaves/run"
	"github.com/matgreaves/run/onexit"

	"github.com/devtrace/devtrace/trace"
)

// DefaultGrace is the delay between graceful (SIGTERM) and forced
// (SIGKILL) termination when none is configured.
const DefaultGrace = 250 * time.Millisecond

// Spec configures one spawn.
type Spec struct {
	Argv []string
	Dir  string
	Env  []string
	// Grace is the delay before escalating to SIGKILL. Zero uses DefaultGrace.
	Grace time.Duration
	// RecoveryDelay, when positive, is an additional pause observed by
	// Recover before a caller proceeds to Terminate after a successful
	// wait, so a child that must not be interrupted mid-transaction gets
	// a chance to quiesce.
	RecoveryDelay time.Duration
}

// Handle is a running child process plus its teardown controls.
type Handle struct {
	cmd      *exec.Cmd
	grace    time.Duration
	recovery time.Duration

	exitCh chan int
	done   chan struct{}
	stdin  io.WriteCloser

	terminateOnce sync.Once
	cancelOnexit  func() error
}

var errGraceExpired = errors.New("process: grace period expired before reap")

// Start spawns spec.Argv in its own process group and begins streaming
// stdout/stderr into the given writers (typically the two Framers of a
// Session). The returned Handle's ExitCode channel delivers the exit
// code exactly once when the child reaps.
func Start(spec Spec, stdout, stderr io.Writer) (*Handle, error) {
	if len(spec.Argv) == 0 {
		return nil, &trace.ConfigurationError{Reason: "process: empty argv"}
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &trace.ProcessSpawnError{Cmd: strings.Join(spec.Argv, " "), Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &trace.ProcessSpawnError{Cmd: strings.Join(spec.Argv, " "), Cause: err}
	}

	grace := spec.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	pgid := cmd.Process.Pid
	// Backup cleanup: if devtrace itself is killed before Terminate runs,
	// the child's process group would otherwise be orphaned.
	cancelOnexit, _ := onexit.OnExitF("kill -KILL -%d", pgid)

	h := &Handle{
		cmd:          cmd,
		grace:        grace,
		recovery:     spec.RecoveryDelay,
		exitCh:       make(chan int, 1),
		done:         make(chan struct{}),
		stdin:        stdin,
		cancelOnexit: cancelOnexit,
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	code := exitCodeFrom(h.cmd.Wait())
	h.stdin.Close()
	close(h.done)
	if h.cancelOnexit != nil {
		h.cancelOnexit()
	}
	h.exitCh <- code
}

func exitCodeFrom(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

// ExitCode delivers the child's exit code exactly once. Wire this
// through session.WithProcessExit (which defers delivery until the
// producers have drained) for run-to-completion waits.
func (h *Handle) ExitCode() <-chan int {
	return h.exitCh
}

// Done is closed once the child has been reaped and its stdout/stderr
// fully copied into the writers given to Start.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Stdin is the child's standard input, the write side of the process
// transport's command channel.
func (h *Handle) Stdin() io.WriteCloser {
	return h.stdin
}

// Terminate runs the graceful-then-forced kill sequence: SIGTERM to the
// whole process group, then SIGKILL to the group if it hasn't reaped
// within the configured grace period. The reap races the grace timer as
// a run.Group — whichever side finishes first determines whether the
// forced kill is needed at all. Idempotent; safe to call more than once.
func (h *Handle) Terminate(ctx context.Context) {
	h.terminateOnce.Do(func() {
		pgid := h.cmd.Process.Pid
		syscall.Kill(-pgid, syscall.SIGTERM)

		group := run.Group{
			"reaped": run.Func(func(context.Context) error {
				<-h.done
				return nil
			}),
			"grace": run.Func(func(ctx context.Context) error {
				select {
				case <-time.After(h.grace):
					return errGraceExpired
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		}
		_ = group.Run(ctx)

		select {
		case <-h.done:
		default:
			syscall.Kill(-pgid, syscall.SIGKILL)
			<-h.done
		}
	})
}

// Recover pauses for Spec.RecoveryDelay, honoring cancellation. Callers
// invoke this after a successful wait and before Terminate, giving a
// child that must not be interrupted mid-transaction (e.g. a hardware
// programmer) time to quiesce.
func (h *Handle) Recover(ctx context.Context) error {
	if h.recovery <= 0 {
		return nil
	}
	select {
	case <-time.After(h.recovery):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
