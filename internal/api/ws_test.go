package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialLogs(t *testing.T, base string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(base, "http") + "/logs"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", typ)
	}
	return string(data)
}

func TestLogsWebSocketStreamsProgress(t *testing.T) {
	env := newTestEnv(t, "test-key", Options{LogPollInterval: 5 * time.Millisecond})
	env.runner.lines = []string{"INFO     [agent] Step 1", "INFO     [agent] Step 2"}
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	conn := dialLogs(t, ts.URL)
	if got := readText(t, conn); got != "Connected to agent log stream" {
		t.Fatalf("ack = %q", got)
	}

	resp, res := postJSON(t, ts.URL+"/run-agent", `{"prompt":"open example.com"}`)
	if resp.StatusCode != 200 || !res.Succeeded() {
		t.Fatalf("run: status = %d, result = %+v", resp.StatusCode, res)
	}

	for _, want := range env.runner.lines {
		if got := readText(t, conn); got != want {
			t.Errorf("line = %q, want %q", got, want)
		}
	}
}

func TestLogsWebSocketDisconnectLeavesTaskRunning(t *testing.T) {
	env := newTestEnv(t, "test-key", Options{LogPollInterval: 5 * time.Millisecond})
	env.runner.gate = make(chan struct{})
	env.runner.started = make(chan string, 1)
	ts := httptest.NewServer(env.srv.Router())
	defer ts.Close()

	conn := dialLogs(t, ts.URL)
	readText(t, conn)

	type outcome struct {
		status int
		ok     bool
	}
	done := make(chan outcome, 1)
	go func() {
		resp, res := postJSON(t, ts.URL+"/run-agent", `{"prompt":"slow"}`)
		done <- outcome{resp.StatusCode, res.Succeeded()}
	}()
	<-env.runner.started

	conn.Close()
	env.runner.gate <- struct{}{}

	select {
	case o := <-done:
		if o.status != 200 || !o.ok {
			t.Errorf("task after disconnect: %+v", o)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish after subscriber disconnected")
	}
}
