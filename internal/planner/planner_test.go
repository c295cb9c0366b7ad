package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/executor"
	"go.uber.org/zap/zaptest"
)

func TestParseActions(t *testing.T) {
	t.Run("extracts the array from surrounding prose", func(t *testing.T) {
		content := `Sure. Here is the plan:
[
  {"type": "navigate", "url": "https://www.investing.com/currencies/gbp-usd"},
  {"type": "click", "selector": "#chart", "timeout": 1000},
  "not an action",
  {"selector": "#no-kind"}
]
Let me know.`
		actions, err := ParseActions(content)
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, schemas.ActionNavigate, actions[0].Kind)
		assert.Equal(t, DefaultTimeoutMs, actions[0].Timeout)
		assert.Equal(t, "#chart", actions[1].Selector)
		assert.Equal(t, 1000, actions[1].Timeout)
		assert.False(t, actions[1].Timestamp.IsZero())
	})

	t.Run("empty array means done", func(t *testing.T) {
		actions, err := ParseActions("The task is complete: []")
		require.NoError(t, err)
		assert.NotNil(t, actions)
		assert.Empty(t, actions)
	})

	t.Run("kind field and mixed case are accepted", func(t *testing.T) {
		actions, err := ParseActions(`[{"kind": "PRESS", "key": "Enter"}]`)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, schemas.ActionPress, actions[0].Kind)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := ParseActions("nothing to see")
		assert.ErrorIs(t, err, ErrNoActionArray)

		_, err = ParseActions("[{oops]")
		assert.ErrorContains(t, err, "failed to decode action array")

		_, err = ParseActions(`[{"type": "click"}]`)
		assert.ErrorIs(t, err, schemas.ErrInvalidAction)
	})
}

const gbpScript = `
tasks:
  - task: find GBP/USD
    rounds:
      - actions:
          - kind: navigate
            url: https://www.investing.com/currencies/gbp-usd
      - response: '[{"type": "click", "selector": "#chart"}]'
  - task: open the docs
    rounds:
      - fail: true
`

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestScripted_Rounds(t *testing.T) {
	ctx := context.Background()
	p, err := LoadScripted(writeScript(t, gbpScript), zaptest.NewLogger(t))
	require.NoError(t, err)

	first := p.Plan(ctx, "Find GBP/USD", schemas.UiState{}, nil)
	require.Equal(t, executor.OutcomeActions, first.Kind)
	require.Len(t, first.Actions, 1)
	assert.Equal(t, schemas.ActionNavigate, first.Actions[0].Kind)
	assert.False(t, first.Actions[0].Timestamp.IsZero())

	history := []schemas.ActionRecord{{Action: first.Actions[0], Success: true}}
	second := p.Plan(ctx, "find GBP/USD", schemas.UiState{}, history)
	require.Equal(t, executor.OutcomeActions, second.Kind)
	assert.Equal(t, "#chart", second.Actions[0].Selector)

	history = append(history, schemas.ActionRecord{Action: second.Actions[0], Success: false})
	again := p.Plan(ctx, "find GBP/USD", schemas.UiState{}, history)
	require.Equal(t, executor.OutcomeActions, again.Kind)
	assert.Equal(t, "#chart", again.Actions[0].Selector, "a failed round is offered again")

	history[len(history)-1].Success = true
	done := p.Plan(ctx, "find GBP/USD", schemas.UiState{}, history)
	assert.Equal(t, executor.OutcomeDone, done.Kind)

	restart := p.Plan(ctx, "find GBP/USD", schemas.UiState{}, nil)
	assert.Equal(t, schemas.ActionNavigate, restart.Actions[0].Kind, "an empty history starts over")
}

func TestScripted_Failures(t *testing.T) {
	ctx := context.Background()
	p, err := LoadScripted(writeScript(t, gbpScript), zaptest.NewLogger(t))
	require.NoError(t, err)

	out := p.Plan(ctx, "open the docs", schemas.UiState{}, nil)
	assert.Equal(t, executor.OutcomeFailed, out.Kind)

	out = p.Plan(ctx, "sell everything", schemas.UiState{}, nil)
	assert.Equal(t, executor.OutcomeFailed, out.Kind)
	assert.ErrorIs(t, out.Err, ErrNoScript)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	out = p.Plan(cancelled, "find GBP/USD", schemas.UiState{}, nil)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestLoadScripted_Rejects(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := LoadScripted(filepath.Join(t.TempDir(), "missing.yaml"), logger)
	assert.ErrorContains(t, err, "failed to read plan script")

	_, err = LoadScripted(writeScript(t, "tasks:\n  - task: x\n    steps: []\n"), logger)
	assert.ErrorContains(t, err, "failed to parse plan script")

	_, err = LoadScripted(writeScript(t, "tasks:\n  - task: x\n    rounds:\n      - actions:\n          - kind: click\n"), logger)
	assert.ErrorIs(t, err, schemas.ErrInvalidAction)

	_, err = LoadScripted(writeScript(t, "tasks:\n  - task: Find X\n  - task: find x\n"), logger)
	assert.ErrorContains(t, err, "duplicate script")
}

func TestLoadScripted_JSON(t *testing.T) {
	path := writeScript(t, `{"tasks": [{"task": "press enter", "rounds": [{"actions": [{"kind": "press", "key": "Enter"}]}]}]}`)
	p, err := LoadScripted(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	out := p.Plan(context.Background(), "press enter", schemas.UiState{}, nil)
	require.Equal(t, executor.OutcomeActions, out.Kind)
	assert.Equal(t, "Enter", out.Actions[0].Key)
}
