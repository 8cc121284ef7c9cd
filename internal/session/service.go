package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/store"
)

// Errors returned before a task reaches the worker.
var (
	ErrBusy              = errors.New("agent is already running a task")
	ErrMissingCredential = errors.New("missing credential")
	ErrEmptyPrompt       = errors.New("prompt is required")
	ErrShutdown          = errors.New("session is shut down")
)

// Options configures a Service.
type Options struct {
	// APIKey must be non-empty for tasks to be admitted.
	APIKey string
	// Mode is recorded on every task (model.ModeShared or model.ModeIsolated).
	Mode string
	// TaskTimeout bounds each task on the server side. Zero means no limit.
	TaskTimeout time.Duration
	// BridgeCapacity sizes the progress buffer.
	BridgeCapacity int
}

// Status is a point-in-time view of the session.
type Status struct {
	Busy          bool   `json:"busy"`
	BrowserActive bool   `json:"browser_active"`
	Mode          string `json:"mode"`
	CurrentTask   string `json:"current_task,omitempty"`
}

type job func()

// Service serializes tasks onto a single worker goroutine. At most one task
// is admitted at a time; a second submission while one is in flight is
// rejected with ErrBusy rather than queued.
type Service struct {
	runner Runner
	store  store.Store
	broker *LogBroker
	bridge *Bridge
	logger *slog.Logger
	opts   Options

	jobs chan job
	quit chan struct{}
	done chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex
	busy    bool
	current string
	closed  bool
}

// New creates a Service. Call Start before submitting tasks.
func New(r Runner, s store.Store, opts Options, logger *slog.Logger) *Service {
	if opts.Mode == "" {
		opts.Mode = model.ModeShared
	}
	broker := NewLogBroker()
	return &Service{
		runner: r,
		store:  s,
		broker: broker,
		bridge: NewBridge(s, broker, logger, opts.BridgeCapacity),
		logger: logger,
		opts:   opts,
		jobs:   make(chan job),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Broker returns the broker live subscribers attach to.
func (s *Service) Broker() *LogBroker {
	return s.broker
}

// DroppedProgress returns how many progress lines never reached subscribers.
func (s *Service) DroppedProgress() int64 {
	return s.bridge.Dropped()
}

// Start launches the worker goroutine and the progress forwarder.
func (s *Service) Start() {
	s.startOnce.Do(func() {
		s.bridge.Start()
		go s.loop()
	})
}

// Submit runs one task and waits for its result. Engine failures come back
// as an error result, not an error. The returned error is one of the
// admission errors, or ctx's error if the caller stops waiting; the task
// itself keeps running in that case.
func (s *Service) Submit(ctx context.Context, req model.TaskRequest) (model.TaskResult, error) {
	_, reply, err := s.admit(ctx, req)
	if err != nil {
		return model.TaskResult{}, err
	}

	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return model.TaskResult{}, ctx.Err()
	}
}

// SubmitAsync admits a task and returns its record without waiting.
func (s *Service) SubmitAsync(ctx context.Context, req model.TaskRequest) (*model.Task, error) {
	task, _, err := s.admit(ctx, req)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CloseBrowser tears down the shared browser on the worker. It reports false
// without touching the worker when no browser is active. If a task is in
// flight the teardown runs after it. A caller that stops waiting does not
// cancel a teardown already handed to the worker.
func (s *Service) CloseBrowser(ctx context.Context) (bool, error) {
	if !s.runner.Active() {
		return false, nil
	}

	errc := make(chan error, 1)
	j := func() {
		if !s.runner.Active() {
			errc <- errNothingToClose
			return
		}
		tctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		errc <- s.runner.Teardown(tctx)
	}

	select {
	case s.jobs <- j:
	case <-s.done:
		return false, ErrShutdown
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case err := <-errc:
		if errors.Is(err, errNothingToClose) {
			return false, nil
		}
		if err != nil {
			s.logger.Warn("browser teardown reported an error", "error", err)
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

var errNothingToClose = errors.New("no active browser")

// Status reports whether a task is in flight and whether a browser is held.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Busy:          s.busy,
		BrowserActive: s.runner.Active(),
		Mode:          s.opts.Mode,
		CurrentTask:   s.current,
	}
}

// Shutdown stops admitting tasks, waits for the in-flight task and tears the
// browser down. It returns ctx's error if the worker does not stop in time.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.quit)
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("wait for worker: %w", ctx.Err())
	}
	s.bridge.Stop()
	return nil
}

// admit validates req, claims the busy flag, records the task and hands the
// job to the worker. The reply channel receives exactly one result.
func (s *Service) admit(ctx context.Context, req model.TaskRequest) (*model.Task, <-chan model.TaskResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, nil, ErrEmptyPrompt
	}
	if s.opts.APIKey == "" {
		taskRejectionsTotal.WithLabelValues(rejectCredential).Inc()
		return nil, nil, ErrMissingCredential
	}

	task := &model.Task{
		ID:        model.NewID(),
		Prompt:    prompt,
		Mode:      s.opts.Mode,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		taskRejectionsTotal.WithLabelValues(rejectShutdown).Inc()
		return nil, nil, ErrShutdown
	}
	if s.busy {
		s.mu.Unlock()
		taskRejectionsTotal.WithLabelValues(rejectBusy).Inc()
		return nil, nil, ErrBusy
	}
	s.busy = true
	s.current = task.ID
	s.mu.Unlock()
	sessionBusy.Set(1)

	if err := s.store.CreateTask(ctx, task); err != nil {
		s.release()
		return nil, nil, fmt.Errorf("create task: %w", err)
	}

	reply := make(chan model.TaskResult, 1)
	j := func() {
		res := s.execute(task)
		s.release()
		reply <- res
	}

	select {
	case s.jobs <- j:
	case <-s.done:
		s.release()
		s.abandon(task.ID, ErrShutdown.Error())
		return nil, nil, ErrShutdown
	}

	s.logger.Info("task accepted", "task_id", task.ID, "mode", task.Mode)
	return task, reply, nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.busy = false
	s.current = ""
	s.mu.Unlock()
	sessionBusy.Set(0)
}

// loop is the worker: every run and every teardown happens here.
func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case j := <-s.jobs:
			j()
		case <-s.quit:
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			if err := s.runner.Teardown(ctx); err != nil {
				s.logger.Warn("browser teardown on shutdown reported an error", "error", err)
			}
			cancel()
			return
		}
	}
}

// execute runs one task on the worker and records its outcome. It never
// panics and always produces a result.
func (s *Service) execute(task *model.Task) (res model.TaskResult) {
	s.bridge.Reset()
	defer s.bridge.End(task.ID)

	ctx := context.Background()
	if err := s.store.UpdateTaskStatus(ctx, task.ID, model.StatusRunning); err != nil {
		s.logger.Error("failed to transition to running", "task_id", task.ID, "error", err)
	}
	start := time.Now().UTC()

	runCtx := ctx
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("runner panicked", "task_id", task.ID, "panic", p)
			res = crashed(p)
		}
		res.TaskID = task.ID
		s.finish(task.ID, start, res)
	}()

	emit := func(line string) { s.bridge.Emit(task.ID, line) }
	res = s.runner.Run(runCtx, task.ID, task.Prompt, emit)
	if runCtx.Err() == context.DeadlineExceeded && !res.Succeeded() {
		res = model.ErrorResult(fmt.Sprintf("Agent crashed: task timed out after %s", s.opts.TaskTimeout))
	}
	return res
}

func (s *Service) finish(id string, start time.Time, res model.TaskResult) {
	now := time.Now().UTC()
	dur := int(now.Sub(start).Milliseconds())

	t := &model.Task{
		ID:         id,
		Status:     model.StatusCompleted,
		Output:     res.Output,
		DurationMS: &dur,
		StartedAt:  &start,
		FinishedAt: &now,
	}
	if !res.Succeeded() {
		t.Status = model.StatusFailed
		t.Error = res.Output
	}
	if err := s.store.FinishTask(context.Background(), t); err != nil {
		s.logger.Error("failed to record task outcome", "task_id", id, "error", err)
	}

	tasksTotal.WithLabelValues(res.Status).Inc()
	taskDuration.Observe(now.Sub(start).Seconds())
	s.logger.Info("task finished", "task_id", id, "status", res.Status, "duration_ms", dur)
}

// abandon marks a task that never reached the worker as failed.
func (s *Service) abandon(id, reason string) {
	now := time.Now().UTC()
	t := &model.Task{ID: id, Status: model.StatusFailed, Error: reason, FinishedAt: &now}
	if err := s.store.FinishTask(context.Background(), t); err != nil {
		s.logger.Error("failed to record abandoned task", "task_id", id, "error", err)
	}
}
