package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Task status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Task result status constants. These are the values of TaskResult.Status on
// the wire.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Execution mode constants.
const (
	// ModeShared reuses one long-lived worker and browser across tasks.
	ModeShared = "shared"
	// ModeIsolated spawns a fresh worker process (and browser) per task.
	ModeIsolated = "isolated"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// ValidMode reports whether m names a supported execution mode.
func ValidMode(m string) bool {
	return m == ModeShared || m == ModeIsolated
}

// NewID returns a fresh task identifier. ULIDs sort by creation time, so task
// listings ordered by id match submission order.
func NewID() string {
	return ulid.Make().String()
}

// TaskRequest is a caller's request to run one natural-language task.
type TaskRequest struct {
	Prompt string `json:"prompt"`
}

// TaskResult is the outcome of one accepted task.
type TaskResult struct {
	TaskID string `json:"task_id,omitempty"`
	Status string `json:"status"`
	Output string `json:"output"`
}

// Succeeded reports whether the result carries the success status.
func (r TaskResult) Succeeded() bool {
	return r.Status == ResultSuccess
}

// SuccessResult builds a success result with the given output.
func SuccessResult(output string) TaskResult {
	return TaskResult{Status: ResultSuccess, Output: output}
}

// ErrorResult builds an error result with the given message.
func ErrorResult(msg string) TaskResult {
	return TaskResult{Status: ResultError, Output: msg}
}

// LogLine represents a single persisted progress line from a task execution.
type LogLine struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is the record of one accepted task.
type Task struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Mode       string     `json:"mode"`
	Status     string     `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
