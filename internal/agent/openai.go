package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-2.5-pro"

// historyWindow is how many recent steps are replayed to the model.
const historyWindow = 8

const systemPrompt = `You control a web browser to complete the user's task.
Reply with exactly one JSON object describing the next action and nothing else.
Available actions:
  {"action":"navigate","url":"https://..."}
  {"action":"click","selector":"<css selector>"}
  {"action":"fill","selector":"<css selector>","value":"<text>"}
  {"action":"press","selector":"<css selector>","key":"Enter"}
  {"action":"scroll","amount":600}
  {"action":"extract","text":"<optional: the relevant content you read>"}
  {"action":"done","text":"<final answer for the user>"}
Use "done" as soon as the task is complete. Prefer robust selectors such as
input[name=q] or text=... . If an action failed, try a different approach.`

// LLMPlanner asks an OpenAI-compatible chat completions endpoint for the next
// action. It works with Gemini through Google's OpenAI-compatible API.
type LLMPlanner struct {
	client openai.Client
	model  string
}

// NewLLMPlanner creates a planner for the given credential, endpoint and model.
// An empty baseURL uses the client library's default endpoint.
func NewLLMPlanner(apiKey, baseURL, model string, opts ...option.RequestOption) (*LLMPlanner, error) {
	if apiKey == "" {
		return nil, errors.New("llm planner: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &LLMPlanner{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Next sends the task, the current observation and recent history to the
// model and parses its reply.
func (p *LLMPlanner) Next(ctx context.Context, turn Turn) (Action, error) {
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(renderTurn(turn)),
		},
	})
	if err != nil {
		return Action{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Action{}, errors.New("chat completion returned no choices")
	}

	return ParseAction(completion.Choices[0].Message.Content)
}

// renderTurn formats a turn as the user message.
func renderTurn(turn Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", turn.Task)
	fmt.Fprintf(&b, "Step %d of %d\n\n", turn.Step, turn.MaxSteps)

	fmt.Fprintf(&b, "Current page:\nURL: %s\nTitle: %s\n", turn.Observation.URL, turn.Observation.Title)
	if turn.Observation.Text != "" {
		fmt.Fprintf(&b, "Visible text:\n%s\n", turn.Observation.Text)
	}

	history := turn.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("\nPrevious steps:\n")
		for _, s := range history {
			fmt.Fprintf(&b, "%d. %s", s.Number, s.Action)
			if s.Error != "" {
				fmt.Fprintf(&b, " (failed: %s)", s.Error)
			}
			if s.ExtractedContent != "" {
				fmt.Fprintf(&b, " -> %s", truncate(s.ExtractedContent, 500))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
