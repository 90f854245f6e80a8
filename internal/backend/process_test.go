package backend

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func mockCLIPath(t *testing.T) string {
	t.Helper()
	workDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	return filepath.Join(workDir, "../../testdata/mock-cli.sh")
}

// childrenOf lists the direct children of pid, empty when there are none.
func childrenOf(pid int) string {
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).CombinedOutput()
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(out))
}

func TestExecuteCommandCapturesOutput(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantStdout string
		wantStderr string
	}{
		{name: "stdout only", args: []string{"-c", "echo hello"}, wantStdout: "hello"},
		{name: "both streams", args: []string{"-c", "echo oops >&2; echo ok"}, wantStdout: "ok", wantStderr: "oops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			stdout, stderr, err := executeCommand(ctx, newCommand(ctx, "bash", tt.args...), nil)
			if err != nil {
				t.Fatalf("executeCommand() error = %v", err)
			}
			if !strings.Contains(string(stdout), tt.wantStdout) {
				t.Errorf("stdout = %q, want it to contain %q", stdout, tt.wantStdout)
			}
			if tt.wantStderr == "" && len(stderr) > 0 {
				t.Errorf("stderr = %q, want empty", stderr)
			}
			if !strings.Contains(string(stderr), tt.wantStderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr, tt.wantStderr)
			}
		})
	}
}

// A CLI answer larger than the pipe buffer must not stall the call.
func TestExecuteCommandLargeOutput(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stdout, _, err := executeCommand(ctx, newCommand(ctx, "bash", mockCLIPath(t), "--large-output", "256"), nil)
	if err != nil {
		t.Fatalf("executeCommand() error = %v", err)
	}
	if lines := strings.Count(string(stdout), "\n"); lines < 10000 {
		t.Errorf("got %d lines, want at least 10000", lines)
	}
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	ctx := context.Background()
	cmd := newCommand(ctx, "bash", "-c", "echo partial; echo 'model refused' >&2; exit 3")

	stdout, _, err := executeCommand(ctx, cmd, nil)
	if err == nil {
		t.Fatal("expected error for exit status 3")
	}
	if !strings.Contains(string(stdout), "partial") {
		t.Errorf("stdout = %q, want output written before the failure", stdout)
	}
	if !strings.Contains(err.Error(), "model refused") {
		t.Errorf("error %q does not quote stderr", err)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error %T does not wrap *exec.ExitError", err)
	}
	if exitErr.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.ExitCode())
	}
}

// Cancelling the context takes down the CLI and anything it spawned.
func TestExecuteCommandCancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := newCommand(ctx, "bash", mockCLIPath(t), "--spawn-child", "--sleep", "30")

	done := make(chan error, 1)
	go func() {
		_, _, err := executeCommand(ctx, cmd, nil)
		done <- err
	}()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error after cancel")
		}
		msg := err.Error()
		if !strings.Contains(msg, "killed") && !strings.Contains(msg, "signal") && !strings.Contains(msg, "context canceled") {
			t.Errorf("unexpected error after cancel: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("executeCommand did not return after cancel")
	}

	if kids := childrenOf(cmd.Process.Pid); kids != "" {
		t.Errorf("children still running after cancel: %s", kids)
	}
}

func TestExecuteCommandStartFailure(t *testing.T) {
	ctx := context.Background()
	_, _, err := executeCommand(ctx, newCommand(ctx, "/nonexistent/taskforge-cli"), nil)
	if err == nil || !strings.Contains(err.Error(), "failed to start") {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestStderrTail(t *testing.T) {
	if got := stderrTail([]byte("  short  \n")); got != "short" {
		t.Errorf("stderrTail(short) = %q", got)
	}

	long := strings.Repeat("x", stderrLimit) + "the real reason"
	got := stderrTail([]byte(long))
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "the real reason") {
		t.Errorf("stderrTail(long) kept the wrong end: %q", got[:20])
	}
	if len(got) != stderrLimit+3 {
		t.Errorf("len(stderrTail(long)) = %d, want %d", len(got), stderrLimit+3)
	}
}

func TestProcessManagerTracksWhileRunning(t *testing.T) {
	pm := NewProcessManager()
	ctx := context.Background()
	cmd := newCommand(ctx, "bash", mockCLIPath(t), "--spawn-child", "--sleep", "30")

	done := make(chan error, 1)
	go func() {
		_, _, err := executeCommand(ctx, cmd, pm)
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for pm.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subprocess was never tracked")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)
	parent := cmd.Process.Pid

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll() error = %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error from killed subprocess")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("executeCommand did not return after KillAll")
	}

	if pm.Count() != 0 {
		t.Errorf("Count() = %d after exit, want 0", pm.Count())
	}
	if kids := childrenOf(parent); kids != "" {
		t.Errorf("children still running after KillAll: %s", kids)
	}
}

func TestProcessManagerIgnoresExitedProcesses(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pm.Track(cmd)
	_ = cmd.Wait()

	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll() on exited process = %v, want nil", err)
	}
	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Count() = %d, want 0", pm.Count())
	}
}

func TestProcessManagerIgnoresUnstartedCommands(t *testing.T) {
	pm := NewProcessManager()
	cmd := newCommand(context.Background(), "true")
	pm.Track(cmd)
	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Count() = %d, want 0", pm.Count())
	}
	if err := killProcessGroup(cmd); err == nil {
		t.Error("killProcessGroup on unstarted command should fail")
	}
}
