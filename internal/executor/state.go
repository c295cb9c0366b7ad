package executor

// State is the phase of a single ExecuteRequest run.
type State string

const (
	StateIdle          State = "IDLE"           // No run has started.
	StateCheckingCache State = "CHECKING_CACHE" // Looking up a cached sequence for the task.
	StatePlanning      State = "PLANNING"       // Asking the planner for the next actions.
	StateExecuting     State = "EXECUTING"      // Running actions through the runner.
	StateVerifying     State = "VERIFYING"      // Deciding what the last round's results mean.
	StateRetrying      State = "RETRYING"       // A round failed and the budget allows another.
	StateCompleted     State = "COMPLETED"      // The task is done.
	StateFailed        State = "FAILED"         // The task could not be done.
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
