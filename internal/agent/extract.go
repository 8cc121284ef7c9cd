package agent

import "fmt"

// resultTemplate wraps every extracted summary.
const resultTemplate = "Final Result:\n%s\n\nINFO     [agent] Task completed successfully"

// historian is implemented by engine results that record a step history.
type historian interface {
	History() []Step
}

// Extract reduces a raw engine result to the fixed summary template. Only the
// last recorded step is inspected: its done payload wins, then its extracted
// content, then the raw result's textual form. Extract never panics.
func Extract(raw any) string {
	return fmt.Sprintf(resultTemplate, summarize(raw))
}

func summarize(raw any) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = fallback(raw)
		}
	}()

	h, ok := raw.(historian)
	if !ok {
		return fallback(raw)
	}
	steps := h.History()
	if len(steps) == 0 {
		return fallback(raw)
	}

	last := steps[len(steps)-1]
	switch {
	case last.Done != "":
		return last.Done
	case last.ExtractedContent != "":
		return last.ExtractedContent
	default:
		return fallback(raw)
	}
}

// fallback renders raw with fmt; fmt itself recovers from panicking String
// methods.
func fallback(raw any) string {
	return fmt.Sprint(raw)
}
