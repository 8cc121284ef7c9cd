package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Action kinds a planner may return.
const (
	ActionNavigate = "navigate"
	ActionClick    = "click"
	ActionFill     = "fill"
	ActionPress    = "press"
	ActionScroll   = "scroll"
	ActionExtract  = "extract"
	ActionDone     = "done"
)

var actionKinds = map[string]bool{
	ActionNavigate: true,
	ActionClick:    true,
	ActionFill:     true,
	ActionPress:    true,
	ActionScroll:   true,
	ActionExtract:  true,
	ActionDone:     true,
}

// Action is one browser operation chosen by a planner.
type Action struct {
	Kind     string `json:"action"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	Key      string `json:"key,omitempty"`
	Amount   int    `json:"amount,omitempty"`
	Text     string `json:"text,omitempty"`
}

// String renders the action for progress lines.
func (a Action) String() string {
	switch a.Kind {
	case ActionNavigate:
		return fmt.Sprintf("navigate to %s", a.URL)
	case ActionClick:
		return fmt.Sprintf("click %s", a.Selector)
	case ActionFill:
		return fmt.Sprintf("fill %s with %q", a.Selector, a.Value)
	case ActionPress:
		return fmt.Sprintf("press %s on %s", a.Key, a.Selector)
	case ActionScroll:
		return fmt.Sprintf("scroll by %d", a.Amount)
	case ActionExtract:
		return "extract content"
	case ActionDone:
		return "done"
	default:
		return a.Kind
	}
}

// Validate checks that the action kind is known and its required fields are set.
func (a Action) Validate() error {
	if !actionKinds[a.Kind] {
		return fmt.Errorf("unknown action %q", a.Kind)
	}
	switch a.Kind {
	case ActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("navigate requires url")
		}
	case ActionClick, ActionFill, ActionPress:
		if a.Selector == "" {
			return fmt.Errorf("%s requires selector", a.Kind)
		}
		if a.Kind == ActionPress && a.Key == "" {
			return fmt.Errorf("press requires key")
		}
	}
	return nil
}

// Observation is the page state shown to a planner.
type Observation struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Turn is everything a planner needs to choose the next action.
type Turn struct {
	Task        string
	Step        int
	MaxSteps    int
	Observation Observation
	History     []Step
}

// Planner chooses the next action for a task.
type Planner interface {
	Next(ctx context.Context, turn Turn) (Action, error)
}

// ParseAction decodes a planner reply into an Action. The JSON object may be
// wrapped in a fenced code block or surrounded by prose.
func ParseAction(reply string) (Action, error) {
	body := strings.TrimSpace(reply)
	if i := strings.Index(body, "```"); i >= 0 {
		body = body[i+3:]
		body = strings.TrimPrefix(body, "json")
		if j := strings.Index(body, "```"); j >= 0 {
			body = body[:j]
		}
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return Action{}, fmt.Errorf("no JSON object in planner reply %q", truncate(reply, 200))
	}

	var a Action
	if err := json.Unmarshal([]byte(body[start:end+1]), &a); err != nil {
		return Action{}, fmt.Errorf("decode planner reply: %w", err)
	}
	a.Kind = strings.ToLower(strings.TrimSpace(a.Kind))
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}
