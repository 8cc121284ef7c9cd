// Package agent turns a natural-language task into browser actions. An Agent
// repeatedly observes the page, asks a Planner for the next Action, applies it
// and records the outcome as a Step. Extract reduces a finished run to a short
// textual summary.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/seantiz/browserd/internal/browser"
)

const (
	// DefaultMaxSteps bounds a run when no step budget is configured.
	DefaultMaxSteps = 25

	// maxConsecutiveFailures ends a run as failed once this many actions in a
	// row have errored.
	maxConsecutiveFailures = 3

	// maxObservedText caps the page text handed to the planner.
	maxObservedText = 4000
)

// ErrTooManyFailures is returned when consecutive actions keep failing.
var ErrTooManyFailures = errors.New("too many consecutive action failures")

// Engine runs one task against a live browser. emit receives human-readable
// progress lines while the task runs and may be nil.
type Engine interface {
	Run(ctx context.Context, h browser.Handle, task string, emit func(string)) (*Result, error)
}

// Step is one recorded action and its outcome.
type Step struct {
	Number           int    `json:"number"`
	Action           Action `json:"action"`
	URL              string `json:"url,omitempty"`
	Done             string `json:"done,omitempty"`
	ExtractedContent string `json:"extracted_content,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Result is the raw outcome of a run: the task and its step history.
type Result struct {
	Task  string `json:"task"`
	Steps []Step `json:"steps"`
}

// History returns the recorded steps. It is safe on a nil Result.
func (r *Result) History() []Step {
	if r == nil {
		return nil
	}
	return r.Steps
}

// IsDone reports whether the run ended with a done action.
func (r *Result) IsDone() bool {
	steps := r.History()
	return len(steps) > 0 && steps[len(steps)-1].Action.Kind == ActionDone
}

// String renders a compact description used when no step carries a usable
// payload.
func (r *Result) String() string {
	if r == nil {
		return "AgentResult(<nil>)"
	}
	last := ""
	if n := len(r.Steps); n > 0 {
		last = r.Steps[n-1].URL
	}
	return fmt.Sprintf("AgentResult(task=%q, steps=%d, done=%t, last_url=%q)",
		r.Task, len(r.Steps), r.IsDone(), last)
}

// Agent is the step-loop Engine.
type Agent struct {
	planner  Planner
	maxSteps int
	logger   *slog.Logger
}

// New creates an Agent. maxSteps <= 0 selects DefaultMaxSteps.
func New(p Planner, maxSteps int, logger *slog.Logger) *Agent {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Agent{planner: p, maxSteps: maxSteps, logger: logger}
}

// Run drives the page until the planner declares the task done, the step
// budget runs out, or the run fails. A planner error or repeated action
// failures end the run with an error; the partial result is discarded.
func (a *Agent) Run(ctx context.Context, h browser.Handle, task string, emit func(string)) (*Result, error) {
	if emit == nil {
		emit = func(string) {}
	}
	page := h.Page()
	res := &Result{Task: task}
	failures := 0

	emit(fmt.Sprintf("Starting task: %s", task))

	for n := 1; n <= a.maxSteps; n++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %d: %w", n, err)
		}

		turn := Turn{
			Task:        task,
			Step:        n,
			MaxSteps:    a.maxSteps,
			Observation: observe(page),
			History:     res.Steps,
		}

		action, err := a.planner.Next(ctx, turn)
		if err != nil {
			return nil, fmt.Errorf("plan step %d: %w", n, err)
		}

		step := Step{Number: n, Action: action}
		emit(fmt.Sprintf("Step %d: %s", n, action))

		if err := apply(page, action, &step); err != nil {
			step.Error = err.Error()
			failures++
			emit(fmt.Sprintf("Step %d failed: %v", n, err))
			a.logger.Debug("agent action failed", "step", n, "action", action.Kind, "error", err)
		} else {
			failures = 0
		}
		step.URL = page.URL()
		res.Steps = append(res.Steps, step)

		if failures >= maxConsecutiveFailures {
			return nil, fmt.Errorf("%w: last error: %s", ErrTooManyFailures, step.Error)
		}
		if action.Kind == ActionDone {
			emit(fmt.Sprintf("Task finished after %d steps", n))
			return res, nil
		}
	}

	emit(fmt.Sprintf("Step budget of %d exhausted", a.maxSteps))
	return res, nil
}

// observe captures what the planner sees. Read errors degrade to empty fields.
func observe(page browser.Page) Observation {
	obs := Observation{URL: page.URL()}
	if title, err := page.Title(); err == nil {
		obs.Title = title
	}
	if text, err := page.Text(); err == nil {
		obs.Text = truncate(strings.TrimSpace(text), maxObservedText)
	}
	return obs
}

// apply executes action against page and fills the step's payload fields.
func apply(page browser.Page, action Action, step *Step) error {
	switch action.Kind {
	case ActionNavigate:
		return page.Goto(action.URL)
	case ActionClick:
		return page.Click(action.Selector)
	case ActionFill:
		return page.Fill(action.Selector, action.Value)
	case ActionPress:
		return page.Press(action.Selector, action.Key)
	case ActionScroll:
		dy := action.Amount
		if dy == 0 {
			dy = 600
		}
		return page.Scroll(dy)
	case ActionExtract:
		if action.Text != "" {
			step.ExtractedContent = action.Text
			return nil
		}
		text, err := page.Text()
		if err != nil {
			return fmt.Errorf("extract page text: %w", err)
		}
		step.ExtractedContent = truncate(strings.TrimSpace(text), maxObservedText)
		return nil
	case ActionDone:
		step.Done = action.Text
		return nil
	default:
		return fmt.Errorf("unsupported action %q", action.Kind)
	}
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
