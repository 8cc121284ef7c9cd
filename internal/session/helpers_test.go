package session_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/session"
	"github.com/seantiz/browserd/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestService(t *testing.T, r session.Runner, opts session.Options) (*session.Service, store.Store) {
	t.Helper()
	s := newTestStore(t)
	if opts.APIKey == "" {
		opts.APIKey = "test-key"
	}
	svc := session.New(r, s, opts, discardLogger())
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, s
}

// fakeRunner records how many runs overlap and can block, fail or panic.
type fakeRunner struct {
	gate     chan struct{} // when non-nil, Run waits for a value or close
	started  chan string   // when non-nil, receives the task id as Run begins
	lines    []string
	fail     bool
	panicMsg string
	waitCtx  bool

	inflight    atomic.Int32
	maxInflight atomic.Int32
	runs        atomic.Int32

	mu        sync.Mutex
	active    bool
	teardowns int
}

func (r *fakeRunner) Run(ctx context.Context, taskID, prompt string, emit func(string)) model.TaskResult {
	n := r.inflight.Add(1)
	defer r.inflight.Add(-1)
	for {
		m := r.maxInflight.Load()
		if n <= m || r.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	r.runs.Add(1)

	r.mu.Lock()
	r.active = true
	r.mu.Unlock()

	if r.started != nil {
		r.started <- taskID
	}
	for _, l := range r.lines {
		emit(l)
	}
	if r.gate != nil {
		<-r.gate
	}
	if r.waitCtx {
		<-ctx.Done()
		return model.ErrorResult("Agent crashed: " + ctx.Err().Error())
	}
	if r.panicMsg != "" {
		panic(r.panicMsg)
	}
	if r.fail {
		return model.ErrorResult("Agent crashed: engine exploded")
	}
	return model.SuccessResult("done: " + prompt)
}

func (r *fakeRunner) Teardown(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		r.teardowns++
	}
	r.active = false
	return nil
}

func (r *fakeRunner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRunner) teardownCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.teardowns
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// waitForTask polls the store until the task reaches status.
func waitForTask(t *testing.T, s store.Store, id, status string) *model.Task {
	t.Helper()
	var got *model.Task
	waitFor(t, 5*time.Second, "task "+id+" to be "+status, func() bool {
		task, err := s.GetTask(context.Background(), id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetTask: %v", err)
		}
		got = task
		return task != nil && task.Status == status
	})
	return got
}
