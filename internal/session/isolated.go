package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/wire"
)

const (
	// maxStderrTail is how much worker stderr is kept for error reports.
	maxStderrTail = 2048

	// workerStopGrace is how long a worker has to close its browser after
	// SIGTERM before it is killed.
	workerStopGrace = 10 * time.Second
)

// IsolatedConfig describes how to launch a worker process.
type IsolatedConfig struct {
	// Path is the worker executable; Args are passed to it verbatim.
	Path string
	Args []string
	// Env is appended to the server's environment.
	Env []string
	// Settings are forwarded to the worker in every request.
	Settings wire.Settings
}

// IsolatedRunner runs every task in a fresh worker process that owns its own
// browser. Nothing survives between tasks, so there is no browser to close.
type IsolatedRunner struct {
	cfg    IsolatedConfig
	logger *slog.Logger
}

// NewIsolatedRunner creates a runner that launches workers per cfg.
func NewIsolatedRunner(cfg IsolatedConfig, logger *slog.Logger) *IsolatedRunner {
	return &IsolatedRunner{cfg: cfg, logger: logger}
}

// Run starts a worker, sends it the request, relays its log frames to emit
// and returns its result frame. A worker that exits without a result yields
// an error result.
func (r *IsolatedRunner) Run(ctx context.Context, taskID, prompt string, emit func(string)) model.TaskResult {
	cmd := exec.CommandContext(ctx, r.cfg.Path, r.cfg.Args...)
	// The worker tears its browser down on SIGTERM; SIGKILL would orphan it.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = workerStopGrace
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	stderr := &tailBuffer{max: maxStderrTail}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return crashed(fmt.Errorf("worker stdin: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return crashed(fmt.Errorf("worker stdout: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return crashed(fmt.Errorf("start worker: %w", err))
	}
	r.logger.Info("worker started", "task_id", taskID, "pid", cmd.Process.Pid)

	req := wire.Request{TaskID: taskID, Prompt: prompt, Settings: r.cfg.Settings}
	go func() {
		if err := wire.Write(stdin, req); err != nil {
			r.logger.Warn("failed to send request to worker", "task_id", taskID, "error", err)
		}
		stdin.Close()
	}()

	result, readErr := relay(stdout, emit)
	// Drain so Wait never blocks on a worker still writing.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	if result != nil {
		if waitErr != nil {
			r.logger.Warn("worker exited uncleanly after sending a result", "task_id", taskID, "error", waitErr)
		}
		return *result
	}

	cause := waitErr
	if cause == nil {
		cause = readErr
	}
	if cause == nil {
		cause = errors.New("worker exited without a result")
	}
	if ctx.Err() != nil {
		cause = fmt.Errorf("%w (%v)", ctx.Err(), cause)
	}
	if tail := strings.TrimSpace(stderr.String()); tail != "" {
		r.logger.Error("worker failed", "task_id", taskID, "error", cause, "stderr", tail)
	} else {
		r.logger.Error("worker failed", "task_id", taskID, "error", cause)
	}
	return crashed(cause)
}

// Teardown is a no-op: workers tear down their own browser before exiting.
func (r *IsolatedRunner) Teardown(context.Context) error {
	return nil
}

// Active is always false; no browser outlives a task.
func (r *IsolatedRunner) Active() bool {
	return false
}

// relay reads frames until the result frame or end of stream.
func relay(rd io.Reader, emit func(string)) (*model.TaskResult, error) {
	for {
		var msg wire.Message
		if err := wire.Read(rd, &msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil
			}
			return nil, err
		}

		switch msg.Type {
		case wire.TypeLog:
			emit(msg.Line)
		case wire.TypeResult:
			if msg.Result == nil {
				return nil, errors.New("worker sent an empty result")
			}
			return msg.Result, nil
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if extra := t.buf.Len() - t.max; extra > 0 {
		t.buf.Next(extra)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}
