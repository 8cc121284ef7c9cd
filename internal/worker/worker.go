// Package worker is the isolated execution unit. It reads one task request
// from its input, runs the task with a private browser, streams progress as
// log frames and finishes with exactly one result frame. Its own structured
// logs are forwarded the same way, as plain text lines.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/session"
	"github.com/seantiz/browserd/internal/wire"
)

// teardownTimeout bounds the final browser teardown.
const teardownTimeout = 15 * time.Second

// Factory builds the runner for one request. logger writes to the host as
// progress lines.
type Factory func(settings wire.Settings, logger *slog.Logger) (session.Runner, error)

// frameWriter serializes frame writes from the engine, the log sink and the
// final result.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (f *frameWriter) write(m wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return wire.Write(f.w, m)
}

// Run handles one request from in and writes frames to out. The browser is
// always torn down before the result frame is written. An error is returned
// only when the request could not be read or the result not delivered; task
// failures travel inside the result.
func Run(ctx context.Context, in io.Reader, out io.Writer, level slog.Level, factory Factory) error {
	fw := &frameWriter{w: out}

	var req wire.Request
	if err := wire.Read(in, &req); err != nil {
		_ = fw.write(wire.ResultMessage(model.ErrorResult(fmt.Sprintf("Agent crashed: read request: %v", err))))
		return fmt.Errorf("read request: %w", err)
	}

	logger := slog.New(newSink(fw, level)).With("task_id", req.TaskID)

	runner, err := factory(req.Settings, logger)
	if err != nil {
		res := model.ErrorResult(fmt.Sprintf("Agent crashed: %v", err))
		res.TaskID = req.TaskID
		return fw.write(wire.ResultMessage(res))
	}

	emit := func(line string) {
		if err := fw.write(wire.LogMessage(line)); err != nil {
			logger.Debug("dropped progress line", "error", err)
		}
	}
	res := runner.Run(ctx, req.TaskID, req.Prompt, emit)

	tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := runner.Teardown(tctx); err != nil {
		logger.Warn("browser teardown reported an error", "error", err)
	}

	res.TaskID = req.TaskID
	if err := fw.write(wire.ResultMessage(res)); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
