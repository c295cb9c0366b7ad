package planner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/executor"
	"github.com/xkilldash9x/autopilot/internal/semantic"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrNoScript is the planning error for a task the script does not cover.
var ErrNoScript = errors.New("no script for task")

// Round is one planner answer. Exactly one of Actions, Response or Fail
// describes it; a round with none of them means the task is done.
type Round struct {
	Actions []schemas.Action `yaml:"actions,omitempty"`
	// Response is a raw planner response decoded with ParseActions.
	Response string `yaml:"response,omitempty"`
	// Fail makes the round a planning failure.
	Fail bool `yaml:"fail,omitempty"`
}

// TaskScript is the ordered list of rounds for one task.
type TaskScript struct {
	Task   string  `yaml:"task"`
	Rounds []Round `yaml:"rounds"`
}

// Script is the document a Scripted planner is loaded from. JSON files
// decode as well since YAML is a superset.
type Script struct {
	Tasks []TaskScript `yaml:"tasks"`
}

// Validate checks every scripted action up front so a bad file fails at load.
func (s *Script) Validate() error {
	seen := make(map[string]bool, len(s.Tasks))
	for i, ts := range s.Tasks {
		key := semantic.Normalize(ts.Task)
		if key == "" {
			return fmt.Errorf("task %d: empty task", i)
		}
		if seen[key] {
			return fmt.Errorf("task %d: duplicate script for %q", i, ts.Task)
		}
		seen[key] = true
		for j, r := range ts.Rounds {
			for k, a := range r.Actions {
				if err := a.Validate(); err != nil {
					return fmt.Errorf("task %q round %d action %d: %w", ts.Task, j, k, err)
				}
			}
			if r.Response != "" {
				if _, err := ParseActions(r.Response); err != nil {
					return fmt.Errorf("task %q round %d: %w", ts.Task, j, err)
				}
			}
		}
	}
	return nil
}

// Scripted replays canned rounds per task. A call with an empty history
// starts at the first round, so a failing first round repeats until the
// retry budget is spent. Each further call moves to the next round unless the
// previous round ended in a failed action, in which case it is offered again.
// Once the rounds run out the task is reported done.
type Scripted struct {
	mu      sync.Mutex
	scripts map[string]TaskScript
	cursor  map[string]int
	log     *zap.Logger
}

var _ executor.Planner = (*Scripted)(nil)

// NewScripted builds a planner from an in-memory script.
func NewScripted(s Script, logger *zap.Logger) (*Scripted, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan script: %w", err)
	}
	p := &Scripted{
		scripts: make(map[string]TaskScript, len(s.Tasks)),
		cursor:  make(map[string]int),
		log:     logger.Named("planner"),
	}
	for _, ts := range s.Tasks {
		rounds := make([]Round, len(ts.Rounds))
		for i, r := range ts.Rounds {
			rounds[i] = r
			rounds[i].Actions = make([]schemas.Action, len(r.Actions))
			for j, a := range r.Actions {
				// Already validated; this only stamps the creation time.
				rounds[i].Actions[j], _ = schemas.NewAction(a)
			}
		}
		ts.Rounds = rounds
		p.scripts[semantic.Normalize(ts.Task)] = ts
	}
	return p, nil
}

// LoadScripted reads a YAML or JSON script from path. Unknown fields are
// rejected.
func LoadScripted(path string, logger *zap.Logger) (*Scripted, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand plan path: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan script: %w", err)
	}

	var s Script
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse plan script %s: %w", expanded, err)
	}
	p, err := NewScripted(s, logger)
	if err != nil {
		return nil, err
	}
	p.log.Info("Loaded plan script", zap.String("path", expanded), zap.Int("tasks", len(s.Tasks)))
	return p, nil
}

// Plan implements executor.Planner.
func (p *Scripted) Plan(ctx context.Context, task string, _ schemas.UiState, history []schemas.ActionRecord) executor.PlanOutcome {
	if err := ctx.Err(); err != nil {
		return executor.PlanFailed(err)
	}
	key := semantic.Normalize(task)

	p.mu.Lock()
	defer p.mu.Unlock()

	ts, ok := p.scripts[key]
	if !ok {
		p.log.Debug("No script for task", zap.String("task", task))
		return executor.PlanFailed(fmt.Errorf("%w: %q", ErrNoScript, task))
	}

	i := p.cursor[key]
	switch {
	case len(history) == 0:
		i = 0
	case !history[len(history)-1].Success && i > 0:
		i--
	}
	p.cursor[key] = i + 1

	if i >= len(ts.Rounds) {
		return executor.PlanDone()
	}
	r := ts.Rounds[i]
	log := p.log.With(zap.String("task", task), zap.Int("round", i))
	switch {
	case r.Fail:
		log.Debug("Scripted planning failure")
		return executor.PlanFailed(fmt.Errorf("scripted failure at round %d", i))
	case r.Response != "":
		actions, err := ParseActions(r.Response)
		if err != nil {
			return executor.PlanFailed(err)
		}
		log.Debug("Scripted response", zap.Int("actions", len(actions)))
		return executor.PlanActions(actions...)
	default:
		log.Debug("Scripted actions", zap.Int("actions", len(r.Actions)))
		return executor.PlanActions(r.Actions...)
	}
}
