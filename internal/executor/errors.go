package executor

// ErrorCode classifies why a run, or one round of it, failed.
type ErrorCode string

const (
	// -- Retryable --
	ErrCodePlanningFailure     ErrorCode = "PLANNING_FAILURE"
	ErrCodeActionFailure       ErrorCode = "ACTION_FAILURE"
	ErrCodeNavigationUnchanged ErrorCode = "NAVIGATION_UNCHANGED"

	// -- Terminal --
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeCachedReplay   ErrorCode = "CACHED_REPLAY_FAILURE"
	ErrCodeRoundLimit     ErrorCode = "ROUND_LIMIT"
	ErrCodeCancelled      ErrorCode = "CANCELLED"

	// -- Logged only --
	// ErrCodeStorageFailure is attached to log lines when results could not
	// be stored. It never fails a run.
	ErrCodeStorageFailure ErrorCode = "STORAGE_FAILURE"
)
