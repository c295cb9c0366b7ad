package executor

import (
	"context"
	"time"

	"github.com/xkilldash9x/autopilot/api/schemas"
)

// OutcomeKind distinguishes the three things a planner can answer.
type OutcomeKind int

const (
	OutcomeActions OutcomeKind = iota // Run these actions next.
	OutcomeDone                       // The task is already satisfied.
	OutcomeFailed                     // The planner could not produce a plan.
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeActions:
		return "actions"
	case OutcomeDone:
		return "done"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// PlanOutcome is a planner's answer for one round.
type PlanOutcome struct {
	Kind    OutcomeKind
	Actions []schemas.Action
	Err     error
}

// PlanActions returns an outcome carrying actions. An empty list is Done.
func PlanActions(actions ...schemas.Action) PlanOutcome {
	if len(actions) == 0 {
		return PlanDone()
	}
	return PlanOutcome{Kind: OutcomeActions, Actions: actions}
}

// PlanDone signals that the task needs no further actions.
func PlanDone() PlanOutcome { return PlanOutcome{Kind: OutcomeDone} }

// PlanFailed signals that planning itself failed.
func PlanFailed(err error) PlanOutcome { return PlanOutcome{Kind: OutcomeFailed, Err: err} }

// Planner proposes the next actions for a task given the current page and the
// most recent action history.
type Planner interface {
	Plan(ctx context.Context, task string, state schemas.UiState, history []schemas.ActionRecord) PlanOutcome
}

// ActionRunner performs actions against the UI and reports what it shows.
type ActionRunner interface {
	// Execute runs action, the index-th of its round. A false result or a
	// non-nil error both mark the action as failed.
	Execute(ctx context.Context, action schemas.Action, index int) (bool, error)
	CaptureState(ctx context.Context) (schemas.UiState, error)
}

// SequenceCache is the part of cache.Cache the executor uses.
type SequenceCache interface {
	GetSimilarTask(ctx context.Context, task string) (*schemas.ActionSequence, bool)
	StoreWithResults(ctx context.Context, task string, actions []schemas.Action, results []bool, userConfirmed bool, elapsed time.Duration) error
}
