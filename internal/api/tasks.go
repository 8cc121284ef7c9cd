package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/browserd/internal/model"
	"github.com/seantiz/browserd/internal/session"
	"github.com/seantiz/browserd/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listTasksResponse wraps the paginated list response.
type listTasksResponse struct {
	Tasks  []*model.Task `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// handleCreateTask admits a task and returns its record without waiting.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	prompt, ok := readPrompt(w, r, func(status int, msg string) {
		s.writeError(w, status, msg)
	})
	if !ok {
		return
	}

	task, err := s.session.SubmitAsync(r.Context(), model.TaskRequest{Prompt: prompt})
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, task)
	case errors.Is(err, session.ErrBusy):
		s.writeError(w, http.StatusConflict, msgBusy)
	case errors.Is(err, session.ErrMissingCredential):
		s.writeError(w, http.StatusServiceUnavailable, msgMissingCredential)
	case errors.Is(err, session.ErrEmptyPrompt):
		s.writeError(w, http.StatusBadRequest, "prompt is required")
	case errors.Is(err, session.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, msgShuttingDown)
	default:
		s.logger.Error("submit async task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.store.ListTasks(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	if tasks == nil {
		tasks = []*model.Task{}
	}

	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, task)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
