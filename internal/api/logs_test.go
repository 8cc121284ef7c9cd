package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/browserd/internal/model"
)

// pendingTask records a task that no worker will pick up, so tests can drive
// its log topic by hand.
func pendingTask(t *testing.T, env *testEnv) *model.Task {
	t.Helper()
	task := &model.Task{
		ID:        model.NewID(),
		Prompt:    "open example.com",
		Mode:      model.ModeShared,
		Status:    model.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := env.store.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return task
}

func openStream(t *testing.T, url string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStreamLogsNotFound(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tasks/nonexistent/logs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamLogsCompletedTask(t *testing.T) {
	env := newTestEnv(t, "test-key", Options{})
	ctx := context.Background()

	task := pendingTask(t, env)
	if err := env.store.UpdateTaskStatus(ctx, task.ID, model.StatusRunning); err != nil {
		t.Fatalf("pending→running: %v", err)
	}
	if err := env.store.UpdateTaskStatus(ctx, task.ID, model.StatusCompleted); err != nil {
		t.Fatalf("running→completed: %v", err)
	}

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := openStream(t, ts.URL+"/v1/tasks/"+task.ID+"/logs")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
}

func TestStreamLogsReceivesEvents(t *testing.T) {
	env := newTestEnv(t, "test-key", Options{})
	task := pendingTask(t, env)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := openStream(t, ts.URL+"/v1/tasks/"+task.ID+"/logs")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	broker := env.svc.Broker()
	broker.Publish(task.ID, "INFO     [agent] Step 1")
	broker.Publish(task.ID, "INFO     [agent] Task completed successfully")
	broker.Close(task.ID)

	scanner := bufio.NewScanner(resp.Body)
	var events []string
	var sawDone bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: done" {
			sawDone = true
			continue
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok && !sawDone {
			events = append(events, data)
		}
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %v", len(events), events)
	}
	if events[0] != "INFO     [agent] Step 1" {
		t.Errorf("event[0] = %q", events[0])
	}
	if !sawDone {
		t.Error("stream should end with a done event")
	}
}

func TestStreamLogsMultiLineData(t *testing.T) {
	env := newTestEnv(t, "test-key", Options{})
	task := pendingTask(t, env)

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp := openStream(t, ts.URL+"/v1/tasks/"+task.ID+"/logs")

	want := "Final Result:\nExample Domain\n\nINFO     [agent] Task completed successfully"
	broker := env.svc.Broker()
	broker.Publish(task.ID, want)
	broker.Close(task.ID)

	// Consecutive "data:" lines form one event; a blank line ends it.
	scanner := bufio.NewScanner(resp.Body)
	var events []string
	var current []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			break
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			current = append(current, data)
		} else if line == "" && len(current) > 0 {
			events = append(events, strings.Join(current, "\n"))
			current = nil
		}
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %v", len(events), events)
	}
	if events[0] != want {
		t.Errorf("event = %q, want %q", events[0], want)
	}
}

func TestLogHistory(t *testing.T) {
	env := newTestEnv(t, "test-key", Options{})
	env.runner.lines = []string{"INFO     [agent] Step 1", "INFO     [agent] Step 2"}

	res, err := env.svc.Submit(context.Background(), model.TaskRequest{Prompt: "open example.com"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tasks/" + res.TaskID + "/logs/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body logHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.TaskID != res.TaskID {
		t.Errorf("task_id = %q, want %q", body.TaskID, res.TaskID)
	}
	if len(body.Lines) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(body.Lines), body.Lines)
	}
	for i, l := range body.Lines {
		if l.Seq != i {
			t.Errorf("line %d seq = %d, want %d", i, l.Seq, i)
		}
		if l.Line != env.runner.lines[i] {
			t.Errorf("line %d = %q, want %q", i, l.Line, env.runner.lines[i])
		}
	}
}

func TestLogHistoryNotFound(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/tasks/nonexistent/logs/history")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
