package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	// waitDelay bounds how long Wait keeps copying output after the CLI has
	// been killed, in case a stray grandchild still holds the pipes.
	waitDelay = 5 * time.Second

	// stderrLimit caps how much stderr is quoted in an error message.
	stderrLimit = 2048
)

// newCommand builds a CLI invocation that runs in its own process group.
// Cancelling ctx kills the whole group so helper processes spawned by the
// CLI do not outlive the task that started them.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay
	return cmd
}

// executeCommand runs cmd to completion and returns everything it wrote.
// Output is collected by the exec package's own copiers, so a CLI that
// prints more than a pipe buffer cannot block on us. When pm is non-nil the
// process is registered for the lifetime of the call.
func executeCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	err := cmd.Wait()
	if err == nil {
		return stdout.Bytes(), stderr.Bytes(), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.As(err, new(*exec.ExitError)) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	if tail := stderrTail(stderr.Bytes()); tail != "" {
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("command failed: %w (stderr: %s)", err, tail)
	}
	return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("command failed: %w", err)
}

// stderrTail keeps the end of stderr, where CLIs usually put the reason
// they gave up.
func stderrTail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) <= stderrLimit {
		return string(b)
	}
	return "..." + string(b[len(b)-stderrLimit:])
}

// killProcessGroup sends SIGKILL to the process group led by cmd. A group
// that already exited is not an error.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// ProcessManager remembers every CLI subprocess the backends have started
// so shutdown can take them all down at once. The command wires KillAll to
// the run context:
//
//	pm := backend.NewProcessManager()
//	stop := context.AfterFunc(ctx, func() { _ = pm.KillAll() })
//	defer stop()
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started command. Commands without a process are ignored.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	pm.procs[cmd.Process.Pid] = cmd
	pm.mu.Unlock()
}

// Untrack forgets a command once Wait has returned.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	delete(pm.procs, cmd.Process.Pid)
	pm.mu.Unlock()
}

// KillAll kills the process group of every tracked command. Commands stay
// tracked until their callers observe the exit and Untrack them.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for _, cmd := range pm.procs {
		errs = append(errs, killProcessGroup(cmd))
	}
	return errors.Join(errs...)
}

// Count reports how many commands are currently tracked.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
