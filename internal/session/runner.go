package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/browserd/internal/agent"
	"github.com/seantiz/browserd/internal/browser"
	"github.com/seantiz/browserd/internal/model"
)

// stopTimeout bounds a browser teardown.
const stopTimeout = 15 * time.Second

// Runner executes one task and converts every failure into an error result.
// Run, Teardown and any other mutation are only ever called from the
// Service's worker goroutine; Active may be called from any goroutine.
type Runner interface {
	Run(ctx context.Context, taskID, prompt string, emit func(string)) model.TaskResult
	Teardown(ctx context.Context) error
	Active() bool
}

// crashed formats the output of a task that failed inside the engine.
func crashed(cause any) model.TaskResult {
	return model.ErrorResult(fmt.Sprintf("Agent crashed: %v", cause))
}

// SharedRunner reuses one browser across tasks. Any failure after the
// browser was touched tears it down so the next task starts clean.
type SharedRunner struct {
	controller *browser.Controller
	engine     agent.Engine
	logger     *slog.Logger
}

// NewSharedRunner creates a runner driving c with e.
func NewSharedRunner(c *browser.Controller, e agent.Engine, logger *slog.Logger) *SharedRunner {
	return &SharedRunner{controller: c, engine: e, logger: logger}
}

// Run starts the browser if needed, runs the engine and extracts the result.
func (r *SharedRunner) Run(ctx context.Context, taskID, prompt string, emit func(string)) (res model.TaskResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("engine panicked", "task_id", taskID, "panic", p)
			r.teardownQuietly(taskID)
			res = crashed(p)
		}
	}()

	h, err := r.controller.EnsureStarted(ctx)
	if err != nil {
		r.logger.Error("browser start failed", "task_id", taskID, "error", err)
		r.teardownQuietly(taskID)
		return crashed(err)
	}

	raw, err := r.engine.Run(ctx, h, prompt, emit)
	if err != nil {
		r.logger.Error("engine failed", "task_id", taskID, "error", err)
		r.teardownQuietly(taskID)
		return crashed(err)
	}

	return model.SuccessResult(agent.Extract(raw))
}

// Teardown stops the shared browser.
func (r *SharedRunner) Teardown(ctx context.Context) error {
	return r.controller.Teardown(ctx)
}

// Active reports whether a browser is currently held.
func (r *SharedRunner) Active() bool {
	return r.controller.Active()
}

// teardownQuietly stops the browser with a fresh deadline; the task context
// may already be done. Stop errors were logged by the controller.
func (r *SharedRunner) teardownQuietly(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := r.controller.Teardown(ctx); err != nil {
		r.logger.Debug("teardown after failure reported an error", "task_id", taskID, "error", err)
	}
}
