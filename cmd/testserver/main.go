// testserver starts a browserd API server whose runner is a stub, so the
// HTTP surface can be exercised end to end without a browser or a model.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/browserd/internal/api"
	"github.com/seantiz/browserd/internal/config"
	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/session"
	"github.com/seantiz/browserd/internal/store"
)

// stubRunner pretends to drive a browser: it waits, emits a few progress
// lines and answers with the prompt. A prompt containing "crash" fails the
// way a real engine error does and drops the browser.
type stubRunner struct {
	delay    time.Duration
	logLines []string

	mu     sync.Mutex
	active bool
}

func (s *stubRunner) Run(ctx context.Context, _ string, prompt string, emit func(string)) model.TaskResult {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return model.ErrorResult("Agent crashed: " + ctx.Err().Error())
	}

	for _, line := range s.logLines {
		emit(line)
	}

	if strings.Contains(prompt, "crash") {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		return model.ErrorResult("Agent crashed: stub browser crashed")
	}
	return model.SuccessResult("Final Result:\n" + prompt + "\n\nINFO     [agent] Task completed successfully")
}

func (s *stubRunner) Teardown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

func (s *stubRunner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	delay := 500 * time.Millisecond
	if v := os.Getenv("BROWSERD_STUB_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			delay = d
		}
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	runner := &stubRunner{
		delay:    delay,
		logLines: []string{"INFO     [agent] Step 1", "INFO     [agent] Step 2", "INFO     [agent] done"},
	}
	svc := session.New(runner, db, session.Options{
		APIKey:      cfg.APIKey,
		Mode:        cfg.Mode,
		TaskTimeout: cfg.TaskTimeout,
	}, logger)
	svc.Start()

	srv := api.NewServer(cfg.ListenAddr, svc, db, api.Options{
		StaticDir:       cfg.StaticDir,
		LogPollInterval: cfg.LogPollInterval,
	}, logger)

	logger.Info("testserver: starting", "addr", cfg.ListenAddr, "stub_delay", delay.String())
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
