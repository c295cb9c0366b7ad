package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/autopilot/internal/browser"
	"github.com/xkilldash9x/autopilot/internal/cache"
	"github.com/xkilldash9x/autopilot/internal/config"
	"github.com/xkilldash9x/autopilot/internal/executor"
	"github.com/xkilldash9x/autopilot/internal/observability"
	"github.com/xkilldash9x/autopilot/internal/planner"
	"github.com/xkilldash9x/autopilot/internal/session"
	"github.com/xkilldash9x/autopilot/internal/store"
	"github.com/xkilldash9x/autopilot/internal/volatile"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// taskExecutor is the part of executor.Executor the run command drives.
type taskExecutor interface {
	ExecuteRequest(ctx context.Context, task string) executor.Result
	Metrics() executor.MetricsSnapshot
}

// sessionLifecycle is the part of session.Registry the run command drives.
type sessionLifecycle interface {
	Start(ctx context.Context, userID string) (session.Session, error)
	End(ctx context.Context) error
}

// runComponents holds everything one run command needs.
type runComponents struct {
	Sessions sessionLifecycle
	Executor taskExecutor

	closers []func() error
}

// Shutdown releases the components in reverse order of creation.
func (rc *runComponents) Shutdown() {
	logger := observability.GetLogger()
	for i := len(rc.closers) - 1; i >= 0; i-- {
		if err := rc.closers[i](); err != nil {
			logger.Warn("Error during shutdown", zap.Error(err))
		}
	}
}

// componentFactory builds the run components. Tests substitute their own.
type componentFactory func(ctx context.Context, cfg config.Interface, planPath string, logger *zap.Logger) (*runComponents, error)

// defaultComponentFactory wires the durable store, Redis, the session
// registry, the cache, the scripted planner and a browser.
func defaultComponentFactory(ctx context.Context, cfg config.Interface, planPath string, logger *zap.Logger) (*runComponents, error) {
	rc := &runComponents{}

	plan, err := planner.LoadScripted(planPath, logger)
	if err != nil {
		return nil, err
	}

	durable, err := store.Open(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}
	rc.closers = append(rc.closers, durable.Close)

	vol, err := volatile.NewRedis(ctx, cfg.Redis(), logger)
	if err != nil {
		rc.Shutdown()
		return nil, fmt.Errorf("failed to connect to volatile store: %w", err)
	}
	rc.closers = append(rc.closers, vol.Close)

	index := cache.NewIndex(vol, logger)
	registry := session.NewRegistry(vol, durable, index, cfg.Session(), logger)
	seqCache := cache.New(registry, vol, durable, index, cfg.Cache(), logger)

	runner, err := browser.New(ctx, cfg.Browser(), logger)
	if err != nil {
		rc.Shutdown()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	rc.closers = append(rc.closers, runner.Close)

	rc.Sessions = registry
	rc.Executor = executor.New(seqCache, plan, runner, cfg.Executor(), logger)
	return rc, nil
}

type runOptions struct {
	planPath string
	user     string
	headful  bool
	asJSON   bool
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(factory componentFactory) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Execute a task, replaying a cached action sequence when one matches",
		Long: `Runs one natural-language task through the plan, execute and verify loop.
A similar task that succeeded before is replayed from the cache instead of
being planned again. Every run is recorded for the session user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if opts.headful {
				cfg.SetBrowserHeadless(false)
			}
			if opts.user != "" {
				cfg.SetSessionUser(opts.user)
			}

			rc, err := factory(ctx, cfg, opts.planPath, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer rc.Shutdown()

			return runTask(ctx, logger, cmd.OutOrStdout(), rc, cfg.Session().DefaultUser, args[0], opts.asJSON)
		},
	}

	runCmd.Flags().StringVarP(&opts.planPath, "plan", "p", "", "YAML or JSON script the planner answers from (required)")
	_ = runCmd.MarkFlagRequired("plan")
	runCmd.Flags().StringVarP(&opts.user, "user", "u", "", "session user (overrides session.default_user)")
	runCmd.Flags().BoolVar(&opts.headful, "headful", false, "show the browser window")
	runCmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the result as JSON")
	return runCmd
}

// runTask opens a session for user, executes task, and ends the session so
// the run is flushed to the durable store.
func runTask(ctx context.Context, logger *zap.Logger, out io.Writer, rc *runComponents, user, task string, asJSON bool) (err error) {
	if _, err := rc.Sessions.Start(ctx, user); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer func() {
		endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if endErr := rc.Sessions.End(endCtx); endErr != nil {
			logger.Error("Failed to end session", zap.String("user", user), zap.Error(endErr))
			err = errors.Join(err, fmt.Errorf("failed to end session: %w", endErr))
		}
	}()

	res := rc.Executor.ExecuteRequest(ctx, task)
	metrics := rc.Executor.Metrics()
	logger.Info("Executor metrics",
		zap.Int64("runs", metrics.Runs),
		zap.Int64("cache_hits", metrics.CacheHits),
		zap.Int64("planning_failures", metrics.PlanningFailures),
		zap.Int64("action_failures", metrics.ActionFailures),
		zap.Int64("storage_failures", metrics.StorageFailures))
	if err := printResult(out, task, res, metrics, asJSON); err != nil {
		return err
	}

	switch {
	case res.Success:
		return nil
	case res.Failure == executor.ErrCodeCancelled:
		return context.Canceled
	default:
		return fmt.Errorf("task failed: %s", res.Failure)
	}
}

type resultView struct {
	Task      string             `json:"task"`
	Success   bool               `json:"success"`
	State     executor.State     `json:"state"`
	FromCache bool               `json:"from_cache"`
	Attempts  int                `json:"attempts"`
	Failures  int                `json:"failures"`
	Failure   executor.ErrorCode `json:"failure,omitempty"`
	Actions   int                `json:"actions"`
	Elapsed   string             `json:"elapsed"`

	Metrics executor.MetricsSnapshot `json:"metrics"`
}

func printResult(out io.Writer, task string, res executor.Result, metrics executor.MetricsSnapshot, asJSON bool) error {
	view := resultView{
		Task:      task,
		Success:   res.Success,
		State:     res.State,
		FromCache: res.FromCache,
		Attempts:  res.Attempts,
		Failures:  res.Failures,
		Failure:   res.Failure,
		Actions:   len(res.Records),
		Elapsed:   res.Elapsed.Round(time.Millisecond).String(),
		Metrics:   metrics,
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	source := "planned"
	if view.FromCache {
		source = "cached"
	}
	fmt.Fprintf(out, "Task:     %s\n", view.Task)
	fmt.Fprintf(out, "Outcome:  %s (%s, %d actions, %s)\n", view.State, source, view.Actions, view.Elapsed)
	if !view.Success {
		fmt.Fprintf(out, "Failure:  %s after %d failed attempt(s)\n", view.Failure, view.Failures)
	}
	if metrics.StorageFailures > 0 {
		fmt.Fprintf(out, "Warning:  results were not cached (%d storage failure(s))\n", metrics.StorageFailures)
	}
	for i, r := range res.Records {
		mark := "ok"
		if !r.Success {
			mark = "FAILED: " + r.Error
		}
		fmt.Fprintf(out, "  %2d. %s  %s\n", i+1, r.Action, mark)
	}
	return nil
}
