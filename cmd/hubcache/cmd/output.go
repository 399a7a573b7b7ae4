package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"hubcache/internal/cli/prompt"
	"hubcache/internal/utils"
)

type errorResponse struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       int    `json:"code"`
	Result     string `json:"result"`
}

// outputErrorJSON outputs an error in JSON format
func outputErrorJSON(err error, stdout io.Writer) {
	response := errorResponse{
		Error:  utils.Message(err),
		Code:   1,
		Result: ResultError,
	}
	var ws *utils.ErrorWithSuggestion
	if errors.As(err, &ws) {
		response.Suggestion = ws.GetSuggestion()
	}

	jsonBytes, _ := json.Marshal(response)
	_, _ = fmt.Fprintln(stdout, string(jsonBytes))
}

// respond writes payload as one JSON object in JSON mode, otherwise calls
// text. In no-prompt text mode the result code follows on its own line.
func (a *app) respond(result string, payload map[string]any, text func(w io.Writer)) error {
	if a.json {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["result"] = result
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(a.stdout, string(jsonBytes))
		return nil
	}

	text(a.stdout)
	if a.noInput {
		_, _ = fmt.Fprintln(a.stdout, result)
	}
	return nil
}

// pick resolves an argument against items: an exact id wins, otherwise the
// items whose label matches arg are offered through the selector.
func pick[E interface{ Key() string }](a *app, items []E, label func(E) string, arg, what string) (E, error) {
	for _, it := range items {
		if it.Key() == arg {
			return it, nil
		}
	}

	var zero E
	matches := prompt.Filter(items, label, arg)
	if len(matches) == 0 {
		return zero, utils.ErrEntityNotFound(what, arg)
	}
	sel := &prompt.Selector[E]{
		Items:    matches,
		Label:    label,
		Prompt:   fmt.Sprintf("Several %ss match %q:", what, arg),
		Reader:   a.stdin,
		Writer:   a.stdout,
		NoPrompt: a.noInput,
	}
	got, err := sel.Run()
	if err != nil {
		return zero, err
	}
	return *got, nil
}

func checkbox(done bool) string {
	if done {
		return "[x]"
	}
	return "[ ]"
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatWhen(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("Mon Jan 2") + " (all day)"
	}
	return t.Format("Mon Jan 2 15:04")
}
