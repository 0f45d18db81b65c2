package process

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestStartCapturesOutputAndExitCode(t *testing.T) {
	var stdout, stderr bytes.Buffer
	h, err := Start(Spec{Argv: []string{"/bin/sh", "-c", "echo hello; exit 3"}}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case code := <-h.ExitCode():
		if code != 3 {
			t.Fatalf("expected exit code 3, got %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit in time")
	}
	if stdout.String() != "hello\n" {
		t.Fatalf("expected captured stdout %q, got %q", "hello\n", stdout.String())
	}
}

func TestTerminateKillsProcessGroup(t *testing.T) {
	var stdout, stderr bytes.Buffer
	h, err := Start(Spec{
		Argv:  []string{"/bin/sh", "-c", "sleep 1000"},
		Grace: 20 * time.Millisecond,
	}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h.Terminate(ctx)

	select {
	case <-h.ExitCode():
	case <-time.After(time.Second):
		t.Fatal("process was not reaped after Terminate")
	}
}

func TestEmptyArgvIsConfigurationError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	_, err := Start(Spec{}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected configuration error for empty argv")
	}
}

func TestRecoverHonorsCancellation(t *testing.T) {
	var stdout, stderr bytes.Buffer
	h, err := Start(Spec{Argv: []string{"/bin/sh", "-c", "exit 0"}, RecoveryDelay: time.Hour}, &stdout, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	<-h.ExitCode()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Recover(ctx); err == nil {
		t.Fatal("expected Recover to observe cancellation instead of sleeping an hour")
	}
}
