// Package planner provides executor.Planner implementations that do not need
// a model behind them, plus the decoder for planner responses.
package planner

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/autopilot/api/schemas"
)

// DefaultTimeoutMs is applied to decoded actions that carry no timeout.
const DefaultTimeoutMs = 5000

// ErrNoActionArray is returned when a response holds no JSON array.
var ErrNoActionArray = errors.New("no action array found in response")

// wireAction is the shape planners emit. Older responses name the kind "type".
type wireAction struct {
	Type     string `json:"type"`
	Kind     string `json:"kind"`
	Selector string `json:"selector"`
	URL      string `json:"url"`
	Text     string `json:"text"`
	Key      string `json:"key"`
	Timeout  *int   `json:"timeout"`
}

// ParseActions extracts the action list from a free-text planner response.
// The outermost [...] span is decoded; entries that are not objects or carry
// no kind are skipped. An empty array decodes to an empty, non-nil slice,
// which callers treat as "task complete".
func ParseActions(content string) ([]schemas.Action, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end < start {
		return nil, ErrNoActionArray
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode action array: %w", err)
	}

	actions := make([]schemas.Action, 0, len(raw))
	for i, item := range raw {
		var w wireAction
		if err := json.Unmarshal(item, &w); err != nil {
			continue
		}
		kind := w.Kind
		if kind == "" {
			kind = w.Type
		}
		if kind == "" {
			continue
		}
		timeout := DefaultTimeoutMs
		if w.Timeout != nil {
			timeout = *w.Timeout
		}
		a, err := schemas.NewAction(schemas.Action{
			Kind:     schemas.ActionKind(strings.ToLower(kind)),
			Selector: w.Selector,
			URL:      w.URL,
			Text:     w.Text,
			Key:      w.Key,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}
