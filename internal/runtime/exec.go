package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
)

// ExecRuntime implements the Runtime interface using local OS processes.
type ExecRuntime struct {
	logger *slog.Logger
}

// ExecHandle represents a running local process.
type ExecHandle struct {
	cmd  *exec.Cmd
	logs *io.PipeReader

	claim sync.Once
	done  chan struct{}
	err   error
}

// NewExecRuntime creates a new process-based runtime.
func NewExecRuntime(logger *slog.Logger) *ExecRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRuntime{logger: logger}
}

// Start implements Runtime.Start using os/exec. The process outlives ctx;
// use Stop to terminate it.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, errors.New("command is required")
	}
	if opts.Image != "" {
		e.logger.Debug("ignoring image for local execution", "image", opts.Image)
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), envList(opts.Env)...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	h := &ExecHandle{cmd: cmd, logs: pr, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		pw.Close()
		close(h.done)
	}()

	e.logger.Debug("started process", "pid", cmd.Process.Pid, "dir", opts.WorkDir)
	return h, nil
}

// claimLogs reports whether the caller is the first to take the log pipe.
func (h *ExecHandle) claimLogs() bool {
	claimed := false
	h.claim.Do(func() { claimed = true })
	return claimed
}

// Wait implements Handle.Wait. Output nobody streamed is discarded so the
// process never blocks on a full pipe.
func (h *ExecHandle) Wait(ctx context.Context) (ExitResult, error) {
	if h.claimLogs() {
		go io.Copy(io.Discard, h.logs)
	}

	select {
	case <-h.done:
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	if h.err == nil {
		return ExitResult{ExitCode: 0}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(h.err, &exitErr) {
		return ExitResult{ExitCode: exitErr.ExitCode()}, nil
	}
	return ExitResult{ExitCode: -1, Error: h.err}, h.err
}

// Stop sends SIGTERM and kills the process if it has not exited when ctx
// is done.
func (h *ExecHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal process: %w", err)
	}

	grace := time.NewTimer(5 * time.Second)
	defer grace.Stop()

	select {
	case <-h.done:
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	return nil
}

// StreamLogs implements Handle.StreamLogs. The output can be streamed once.
func (h *ExecHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	if !h.claimLogs() {
		return nil, errors.New("logs already consumed")
	}
	return h.logs, nil
}

// envList renders env as sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return list
}
