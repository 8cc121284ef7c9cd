package session_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/session"
)

func TestSubmitSuccess(t *testing.T) {
	r := &fakeRunner{lines: []string{"Starting task: hello", "Step 1: done"}}
	svc, s := newTestService(t, r, session.Options{})

	res, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Succeeded() || res.Output != "done: hello" {
		t.Errorf("result = %+v, want success", res)
	}
	if res.TaskID == "" {
		t.Error("result should carry the task id")
	}
	if svc.Status().Busy {
		t.Error("busy should be cleared once the result is returned")
	}

	task, err := s.GetTask(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != model.StatusCompleted {
		t.Errorf("task status = %q, want completed", task.Status)
	}
	if task.Mode != model.ModeShared {
		t.Errorf("task mode = %q, want shared", task.Mode)
	}
	if task.DurationMS == nil || task.StartedAt == nil || task.FinishedAt == nil {
		t.Errorf("task timing not recorded: %+v", task)
	}

	logs, err := s.GetLogLines(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("GetLogLines: %v", err)
	}
	if len(logs) != 2 || logs[0].Line != "Starting task: hello" || logs[1].Seq != 1 {
		t.Errorf("logs = %+v, want both progress lines in order", logs)
	}
}

func TestSubmitMissingCredential(t *testing.T) {
	r := &fakeRunner{}
	s := newTestStore(t)
	svc := session.New(r, s, session.Options{}, discardLogger())
	svc.Start()
	defer svc.Shutdown(context.Background())

	_, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "search for X"})
	if !errors.Is(err, session.ErrMissingCredential) {
		t.Fatalf("error = %v, want ErrMissingCredential", err)
	}
	if r.runs.Load() != 0 || r.Active() {
		t.Error("runner must not be touched without a credential")
	}
	if _, total, _ := s.ListTasks(context.Background(), 10, 0); total != 0 {
		t.Errorf("tasks recorded = %d, want 0", total)
	}
}

func TestSubmitEmptyPrompt(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{}, session.Options{})

	if _, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "   "}); !errors.Is(err, session.ErrEmptyPrompt) {
		t.Errorf("error = %v, want ErrEmptyPrompt", err)
	}
}

func TestBusyRejectsThenAccepts(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 1)}
	svc, _ := newTestService(t, r, session.Options{})

	resA := make(chan model.TaskResult, 1)
	go func() {
		res, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "A"})
		if err != nil {
			t.Errorf("Submit A: %v", err)
		}
		resA <- res
	}()

	taskA := <-r.started
	st := svc.Status()
	if !st.Busy || st.CurrentTask != taskA {
		t.Errorf("status = %+v, want busy with task A", st)
	}

	if _, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "B"}); !errors.Is(err, session.ErrBusy) {
		t.Fatalf("Submit B while A runs: error = %v, want ErrBusy", err)
	}

	r.gate <- struct{}{}
	if res := <-resA; !res.Succeeded() {
		t.Fatalf("A result = %+v", res)
	}

	go func() { r.gate <- struct{}{} }()
	go func() { <-r.started }()
	res, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "B"})
	if err != nil {
		t.Fatalf("Submit B after A: %v", err)
	}
	if res.Output != "done: B" {
		t.Errorf("B output = %q", res.Output)
	}
}

func TestConcurrentSubmissionsNeverOverlap(t *testing.T) {
	r := &fakeRunner{}
	svc, _ := newTestService(t, r, session.Options{})

	const callers = 16
	const perCaller = 10

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCaller; j++ {
				_, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "go"})
				mu.Lock()
				switch {
				case err == nil:
					accepted++
				case errors.Is(err, session.ErrBusy):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if got := r.maxInflight.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
	if accepted+rejected != callers*perCaller {
		t.Errorf("accepted %d + rejected %d != %d", accepted, rejected, callers*perCaller)
	}
	if int(r.runs.Load()) != accepted {
		t.Errorf("runs = %d, accepted = %d", r.runs.Load(), accepted)
	}
	if accepted == 0 {
		t.Error("no submission was accepted")
	}
}

func TestSequentialSubmitsNeverDoubleReject(t *testing.T) {
	outcomes := []*fakeRunner{
		{},
		{fail: true},
		{panicMsg: "engine blew up"},
	}

	for _, r := range outcomes {
		svc, _ := newTestService(t, r, session.Options{})
		for i := 0; i < 20; i++ {
			if _, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "again"}); err != nil {
				t.Fatalf("submit %d: %v", i, err)
			}
			if svc.Status().Busy {
				t.Fatalf("busy still set after submit %d", i)
			}
		}
	}
}

func TestRunnerPanicBecomesErrorResult(t *testing.T) {
	r := &fakeRunner{panicMsg: "nil map write"}
	svc, s := newTestService(t, r, session.Options{})

	res, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Succeeded() || !strings.Contains(res.Output, "crashed") {
		t.Errorf("result = %+v, want crash report", res)
	}

	task, err := s.GetTask(context.Background(), res.TaskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != model.StatusFailed || task.Error == "" {
		t.Errorf("task = %+v, want failed with error", task)
	}
}

func TestSubmitAsync(t *testing.T) {
	r := &fakeRunner{lines: []string{"working"}}
	svc, s := newTestService(t, r, session.Options{Mode: model.ModeIsolated})

	task, err := svc.SubmitAsync(context.Background(), model.TaskRequest{Prompt: "later"})
	if err != nil {
		t.Fatalf("SubmitAsync: %v", err)
	}
	if task.Status != model.StatusPending || task.Mode != model.ModeIsolated {
		t.Errorf("task = %+v, want pending isolated", task)
	}

	done := waitForTask(t, s, task.ID, model.StatusCompleted)
	if done.Output != "done: later" {
		t.Errorf("output = %q", done.Output)
	}
	waitFor(t, time.Second, "busy to clear", func() bool { return !svc.Status().Busy })
}

func TestCallerCancelDoesNotCancelTask(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 1)}
	svc, s := newTestService(t, r, session.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := svc.Submit(ctx, model.TaskRequest{Prompt: "keep going"})
		errc <- err
	}()

	id := <-r.started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit error = %v, want context.Canceled", err)
	}

	close(r.gate)
	waitForTask(t, s, id, model.StatusCompleted)
}

func TestTaskTimeout(t *testing.T) {
	r := &fakeRunner{waitCtx: true}
	svc, _ := newTestService(t, r, session.Options{TaskTimeout: 50 * time.Millisecond})

	res, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "slow"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Succeeded() || !strings.Contains(res.Output, "timed out") {
		t.Errorf("result = %+v, want timeout error", res)
	}
}

func TestCloseBrowser(t *testing.T) {
	r := &fakeRunner{}
	svc, _ := newTestService(t, r, session.Options{})
	ctx := context.Background()

	closed, err := svc.CloseBrowser(ctx)
	if err != nil || closed {
		t.Fatalf("CloseBrowser with no browser = %v, %v; want false, nil", closed, err)
	}

	if _, err := svc.Submit(ctx, model.TaskRequest{Prompt: "open"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !svc.Status().BrowserActive {
		t.Fatal("browser should be active after a task")
	}

	closed, err = svc.CloseBrowser(ctx)
	if err != nil || !closed {
		t.Fatalf("CloseBrowser = %v, %v; want true, nil", closed, err)
	}
	closed, err = svc.CloseBrowser(ctx)
	if err != nil || closed {
		t.Fatalf("second CloseBrowser = %v, %v; want false, nil", closed, err)
	}
	if r.teardownCount() != 1 {
		t.Errorf("teardowns = %d, want 1", r.teardownCount())
	}
}

func TestCloseBrowserWaitsForRunningTask(t *testing.T) {
	r := &fakeRunner{gate: make(chan struct{}), started: make(chan string, 2)}
	svc, _ := newTestService(t, r, session.Options{})
	ctx := context.Background()

	go svc.Submit(ctx, model.TaskRequest{Prompt: "first"})
	<-r.started

	closedc := make(chan bool, 1)
	go func() {
		closed, _ := svc.CloseBrowser(ctx)
		closedc <- closed
	}()

	select {
	case <-closedc:
		t.Fatal("CloseBrowser returned while a task was driving the browser")
	case <-time.After(50 * time.Millisecond):
	}

	close(r.gate)
	if !<-closedc {
		t.Error("CloseBrowser should report the browser closed")
	}
}

func TestShutdown(t *testing.T) {
	r := &fakeRunner{}
	s := newTestStore(t)
	svc := session.New(r, s, session.Options{APIKey: "k"}, discardLogger())
	svc.Start()

	if _, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "one"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if r.Active() {
		t.Error("browser should be torn down on shutdown")
	}
	if _, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "two"}); !errors.Is(err, session.ErrShutdown) {
		t.Errorf("Submit after Shutdown: error = %v, want ErrShutdown", err)
	}
	if err := svc.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestLiveSubscribersReceiveProgress(t *testing.T) {
	r := &fakeRunner{lines: []string{"one", "two", "three"}}
	svc, _ := newTestService(t, r, session.Options{})

	all, unsub := svc.Broker().SubscribeAll()
	defer unsub()

	if _, err := svc.Submit(context.Background(), model.TaskRequest{Prompt: "stream"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case l := <-all:
			got = append(got, l)
		case <-timeout:
			t.Fatalf("got %v before timeout, want 3 lines", got)
		}
	}
	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("lines = %v", got)
	}
}
