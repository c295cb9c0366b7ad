// Package executor runs a task through the plan-execute-verify loop. A run
// first tries to replay a cached sequence; on a miss it alternates between
// asking the planner for actions and executing them, retrying failed rounds
// up to a fixed budget. Every run, successful or not, feeds its results back
// into the sequence cache.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/config"
	"go.uber.org/zap"
)

// Result describes a finished run.
type Result struct {
	Success   bool
	State     State
	FromCache bool
	// Attempts is the number of planner calls made.
	Attempts int
	// Failures is the number of failed rounds counted against the retry budget.
	Failures int
	Failure  ErrorCode
	Records  []schemas.ActionRecord
	Elapsed  time.Duration
}

// Executor owns the run loop. Runs are serialized: a second ExecuteRequest
// blocks until the first returns.
type Executor struct {
	cache   SequenceCache
	planner Planner
	runner  ActionRunner
	cfg     config.ExecutorConfig
	metrics Metrics
	log     *zap.Logger

	// OnTransition, when set, is called synchronously on every state change.
	OnTransition func(from, to State)

	runMu sync.Mutex

	stateMu sync.RWMutex
	state   State
}

// New creates an Executor.
func New(cache SequenceCache, planner Planner, runner ActionRunner, cfg config.ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{
		cache:   cache,
		planner: planner,
		runner:  runner,
		cfg:     cfg,
		log:     logger.Named("executor"),
		state:   StateIdle,
	}
}

// State returns the phase of the current or most recent run.
func (e *Executor) State() State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Metrics returns a snapshot of the run counters.
func (e *Executor) Metrics() MetricsSnapshot { return e.metrics.Snapshot() }

// ExecuteRequest runs task to a terminal state. It never returns an error;
// failures are reported through Result.
func (e *Executor) ExecuteRequest(ctx context.Context, task string) Result {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	start := time.Now()
	r := &run{
		e:    e,
		task: task,
		log:  e.log.With(zap.String("task", task)),
	}
	r.log.Info("Executing request")

	res := r.execute(ctx)
	res.Elapsed = time.Since(start)
	res.Records = r.records
	res.Attempts = r.planned
	res.FromCache = r.cached != nil

	r.store(ctx, res)
	e.metrics.finish(res.Success)

	if res.Success {
		r.log.Info("Request completed",
			zap.Bool("from_cache", res.FromCache),
			zap.Int("actions", len(res.Records)),
			zap.Duration("elapsed", res.Elapsed))
	} else {
		r.log.Warn("Request failed",
			zap.String("failure", string(res.Failure)),
			zap.Int("attempts", res.Attempts),
			zap.Int("failures", res.Failures),
			zap.Duration("elapsed", res.Elapsed))
	}
	return res
}

// run holds the state of one ExecuteRequest call.
type run struct {
	e       *Executor
	task    string
	records []schemas.ActionRecord
	cached  *schemas.ActionSequence
	planned int
	log     *zap.Logger
}

func (r *run) transition(to State) {
	e := r.e
	e.stateMu.Lock()
	from := e.state
	e.state = to
	e.stateMu.Unlock()

	r.log.Debug("State transition", zap.String("from", string(from)), zap.String("to", string(to)))
	if e.OnTransition != nil {
		e.OnTransition(from, to)
	}
}

func (r *run) finish(to State, code ErrorCode, failures int) Result {
	if !to.Terminal() {
		r.log.DPanic("Run finished in a non-terminal state", zap.String("state", string(to)))
	}
	r.transition(to)
	return Result{Success: to == StateCompleted, State: to, Failure: code, Failures: failures}
}

func (r *run) execute(ctx context.Context) Result {
	e := r.e
	r.transition(StateCheckingCache)
	if seq, ok := e.cache.GetSimilarTask(ctx, r.task); ok && len(seq.Actions) > 0 {
		e.metrics.cacheHits.Add(1)
		r.cached = seq
		r.log.Info("Replaying cached sequence",
			zap.String("cached_task", seq.TaskKey),
			zap.Int("actions", len(seq.Actions)),
			zap.Float64("success_rate", seq.SuccessRate))
		return r.replay(ctx, seq)
	}

	retry := NewRetryController(e.cfg.MaxAttempts, e.cfg.SettleDelay)
	for {
		if ctx.Err() != nil {
			return r.finish(StateFailed, ErrCodeCancelled, retry.Attempts())
		}
		if e.cfg.MaxRounds > 0 && r.planned >= e.cfg.MaxRounds {
			r.log.Warn("Round limit reached", zap.Int("max_rounds", e.cfg.MaxRounds))
			return r.finish(StateFailed, ErrCodeRoundLimit, retry.Attempts())
		}

		r.transition(StatePlanning)
		state, _ := r.capture(ctx)
		r.planned++
		outcome := e.planner.Plan(ctx, r.task, state, r.history())

		var code ErrorCode
		switch outcome.Kind {
		case OutcomeDone:
			return r.finish(StateCompleted, "", retry.Attempts())
		case OutcomeActions:
			r.transition(StateExecuting)
			code = r.executeActions(ctx, outcome.Actions)
			r.transition(StateVerifying)
		default:
			e.metrics.planningFailures.Add(1)
			r.log.Warn("Planning failed", zap.Int("round", r.planned), zap.Error(outcome.Err))
			code = ErrCodePlanningFailure
		}

		if code == "" {
			continue
		}
		if code == ErrCodeCancelled {
			return r.finish(StateFailed, ErrCodeCancelled, retry.Attempts())
		}
		retry.Fail()
		if retry.Exhausted() {
			r.log.Warn("Retry budget exhausted",
				zap.String("last_failure", string(code)),
				zap.Int("max_attempts", retry.Max()))
			return r.finish(StateFailed, ErrCodeRetryExhausted, retry.Attempts())
		}

		r.transition(StateRetrying)
		r.log.Info("Retrying",
			zap.String("reason", string(code)),
			zap.Int("attempt", retry.Attempts()+1),
			zap.Int("max_attempts", retry.Max()))
		if err := retry.Settle(ctx); err != nil {
			return r.finish(StateFailed, ErrCodeCancelled, retry.Attempts())
		}
	}
}

// replay runs a cached sequence. Any failure fails the run; there is no
// fallback to planning part way through.
func (r *run) replay(ctx context.Context, seq *schemas.ActionSequence) Result {
	r.transition(StateExecuting)
	code := r.executeActions(ctx, seq.Actions)
	r.transition(StateVerifying)
	switch code {
	case "":
		return r.finish(StateCompleted, "", 0)
	case ErrCodeCancelled:
		return r.finish(StateFailed, ErrCodeCancelled, 1)
	default:
		r.log.Warn("Cached sequence failed", zap.String("reason", string(code)))
		return r.finish(StateFailed, ErrCodeCachedReplay, 1)
	}
}

// executeActions runs actions in order and stops at the first failure,
// returning its code. It returns "" when every action succeeded.
func (r *run) executeActions(ctx context.Context, actions []schemas.Action) ErrorCode {
	e := r.e
	for i, action := range actions {
		if ctx.Err() != nil {
			return ErrCodeCancelled
		}

		code, errText, after := r.executeOne(ctx, action, i)
		r.records = append(r.records, schemas.ActionRecord{
			Action:     action,
			Success:    code == "",
			Error:      errText,
			StateAfter: after,
			Timestamp:  time.Now().UTC(),
		})
		if code == ErrCodeCancelled {
			return code
		}
		if code != "" {
			e.metrics.actionFailures.Add(1)
			r.log.Warn("Action failed",
				zap.Int("index", i),
				zap.Stringer("action", action),
				zap.String("reason", string(code)),
				zap.String("error", errText))
			return code
		}
		if err := sleep(ctx, e.cfg.SettleDelay); err != nil {
			return ErrCodeCancelled
		}
	}
	return ""
}

// executeOne runs a single action and captures the page afterwards. A
// navigate only counts as successful if the URL differs from the one the page
// showed before the action.
func (r *run) executeOne(ctx context.Context, action schemas.Action, index int) (ErrorCode, string, schemas.UiState) {
	e := r.e
	if err := action.Validate(); err != nil {
		after, _ := r.capture(ctx)
		return ErrCodeActionFailure, err.Error(), after
	}

	var before schemas.UiState
	if action.Kind == schemas.ActionNavigate {
		var err error
		if before, err = r.capture(ctx); err != nil {
			return ErrCodeNavigationUnchanged, fmt.Sprintf("cannot read url before navigation: %v", err), before
		}
	}

	ok, err := e.runner.Execute(ctx, action, index)
	if err != nil || !ok {
		after, _ := r.capture(ctx)
		errText := "action reported failure"
		if err != nil {
			errText = err.Error()
		}
		return ErrCodeActionFailure, errText, after
	}

	if action.Kind != schemas.ActionNavigate {
		after, _ := r.capture(ctx)
		return "", "", after
	}

	if err := sleep(ctx, e.cfg.NavigateWait); err != nil {
		return ErrCodeCancelled, err.Error(), schemas.UiState{}
	}
	after, err := r.capture(ctx)
	if err != nil {
		return ErrCodeNavigationUnchanged, fmt.Sprintf("cannot verify navigation: %v", err), after
	}
	if after.URL == before.URL {
		return ErrCodeNavigationUnchanged, "url did not change after navigation: " + after.URL, after
	}
	return "", "", after
}

func (r *run) capture(ctx context.Context) (schemas.UiState, error) {
	state, err := r.e.runner.CaptureState(ctx)
	if err != nil {
		r.log.Debug("Failed to capture UI state", zap.Error(err))
	}
	return state, err
}

// history returns the most recent records, bounded by the history window.
func (r *run) history() []schemas.ActionRecord {
	n := r.e.cfg.HistoryWindow
	if n <= 0 || n > len(r.records) {
		n = len(r.records)
	}
	out := make([]schemas.ActionRecord, n)
	copy(out, r.records[len(r.records)-n:])
	return out
}

// store submits the run's results to the cache. A replay stores against the
// full cached action list so that unexecuted tail actions keep their
// statistics. A completed planning run stores only the actions that
// succeeded; any other run stores every action with its result. Storage
// failures are logged and never change the result.
func (r *run) store(ctx context.Context, res Result) {
	var (
		actions []schemas.Action
		results []bool
	)
	for _, rec := range r.records {
		if r.cached == nil && res.State == StateCompleted && !rec.Success {
			continue
		}
		actions = append(actions, rec.Action)
		results = append(results, rec.Success)
	}
	if r.cached != nil {
		actions = r.cached.Actions
	}
	if len(results) == 0 {
		return
	}
	if dropped := len(r.records) - len(results); dropped > 0 {
		r.log.Debug("Leaving failed actions out of the stored sequence", zap.Int("dropped", dropped))
	}

	// A cancelled caller does not abort the write.
	storeCtx := context.WithoutCancel(ctx)
	if err := r.e.cache.StoreWithResults(storeCtx, r.task, actions, results, res.State == StateCompleted, res.Elapsed); err != nil {
		r.e.metrics.storageFailures.Add(1)
		r.log.Warn("Failed to store results",
			zap.String("code", string(ErrCodeStorageFailure)),
			zap.Error(err))
	}
}
