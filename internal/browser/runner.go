// Package browser drives a Chrome instance through chromedp and exposes it to
// the executor as an action runner.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/config"
	"github.com/xkilldash9x/autopilot/internal/executor"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Runner executes actions in a single browser tab.
type Runner struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	limiter *rate.Limiter
	cfg     config.BrowserConfig
	log     *zap.Logger

	// mu serializes CDP work on the tab.
	mu        sync.Mutex
	closeOnce sync.Once
}

var _ executor.ActionRunner = (*Runner)(nil)

// New launches the browser and opens its first tab. The browser lives until
// Close, independent of ctx.
func New(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Runner, error) {
	log := logger.Named("browser")

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Warnf),
	)

	// The first Run allocates the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	r := &Runner{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		limiter:       rate.NewLimiter(limit, burst),
		cfg:           cfg,
		log:           log,
	}
	r.listen(browserCtx)

	log.Info("Browser started", zap.Bool("headless", cfg.Headless), zap.Float64("rate_limit", cfg.RateLimit))
	return r, nil
}

// Execute implements executor.ActionRunner.
func (r *Runner) Execute(ctx context.Context, action schemas.Action, index int) (bool, error) {
	tasks, timeout, err := actionTasks(action, r.cfg)
	if err != nil {
		return false, err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	opCtx, cancel := CombineContext(r.browserCtx, ctx)
	defer cancel()
	runCtx, cancelRun := context.WithTimeout(opCtx, timeout)
	defer cancelRun()

	log := r.log.With(zap.Int("index", index), zap.Stringer("action", action))
	log.Debug("Executing action", zap.Duration("timeout", timeout))
	if err := chromedp.Run(runCtx, tasks); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && opCtx.Err() == nil {
			err = fmt.Errorf("%s timed out after %s: %w", action.Kind, timeout, err)
		}
		log.Debug("Action failed", zap.Error(err))
		return false, err
	}
	return true, nil
}

// CaptureState implements executor.ActionRunner.
func (r *Runner) CaptureState(ctx context.Context) (schemas.UiState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	opCtx, cancel := CombineContext(r.browserCtx, ctx)
	defer cancel()
	runCtx, cancelRun := context.WithTimeout(opCtx, r.cfg.ActionTimeout)
	defer cancelRun()

	var (
		state schemas.UiState
		raw   []capturedElement
	)
	if err := chromedp.Run(runCtx,
		chromedp.Location(&state.URL),
		chromedp.Title(&state.Title),
		chromedp.Evaluate(captureScript, &raw),
	); err != nil {
		return schemas.UiState{}, fmt.Errorf("failed to capture page state: %w", err)
	}
	state.Elements = summarize(raw, r.cfg.MaxElements)
	return state, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (r *Runner) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = chromedp.Cancel(r.browserCtx)
		r.browserCancel()
		r.allocCancel()
		r.log.Info("Browser closed")
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
