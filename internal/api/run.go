package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/seantiz/browserd/internal/config"
	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/session"
)

const (
	maxBodySize = 1 << 20 // 1 MB

	msgBrowserClosed   = "Browser closed"
	msgNoActiveBrowser = "No active browser session"
	msgBusy            = "Agent is already running a task"
	msgShuttingDown    = "Server is shutting down"
)

const msgMissingCredential = "Missing " + config.EnvAPIKey

// readPrompt takes the prompt from the "prompt" query parameter or, failing
// that, from a JSON body {"prompt": "..."}. It writes a 400 and returns false
// when the request is malformed.
func readPrompt(w http.ResponseWriter, r *http.Request, fail func(int, string)) (string, bool) {
	if q := r.URL.Query().Get("prompt"); q != "" {
		return q, true
	}

	var req model.TaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		fail(http.StatusBadRequest, "prompt is required")
		return "", false
	}
	return req.Prompt, true
}

// handleRunAgent runs a task and waits for it. Engine failures are reported
// with 200 and status "error"; only malformed requests and the busy signal
// use other codes.
func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	outcome := outcomeBadRequest
	defer func() { runAgentResponses.WithLabelValues(outcome).Inc() }()

	fail := func(status int, msg string) {
		s.writeJSON(w, status, model.ErrorResult(msg))
	}

	prompt, ok := readPrompt(w, r, fail)
	if !ok {
		return
	}

	s.clearWriteDeadline(w)

	res, err := s.session.Submit(r.Context(), model.TaskRequest{Prompt: prompt})
	switch {
	case err == nil:
		outcome = outcomeError
		if res.Succeeded() {
			outcome = outcomeSuccess
		}
		s.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, session.ErrMissingCredential):
		outcome = outcomeMissingCredential
		fail(http.StatusOK, msgMissingCredential)
	case errors.Is(err, session.ErrBusy):
		outcome = outcomeBusy
		fail(http.StatusConflict, msgBusy)
	case errors.Is(err, session.ErrEmptyPrompt):
		fail(http.StatusBadRequest, "prompt is required")
	case errors.Is(err, session.ErrShutdown):
		outcome = outcomeShuttingDown
		fail(http.StatusServiceUnavailable, msgShuttingDown)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = outcomeAbandoned
		s.logger.Info("caller stopped waiting for task", "error", err)
	default:
		outcome = outcomeError
		s.logger.Error("submit task", "error", err)
		fail(http.StatusInternalServerError, "failed to submit task")
	}
}

func (s *Server) handleCloseBrowser(w http.ResponseWriter, r *http.Request) {
	closed, err := s.session.CloseBrowser(r.Context())
	switch {
	case errors.Is(err, session.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, msgShuttingDown)
		return
	case err != nil:
		s.logger.Info("close-browser caller stopped waiting", "error", err)
		return
	}

	msg := msgNoActiveBrowser
	if closed {
		msg = msgBrowserClosed
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Status())
}
