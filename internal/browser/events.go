package browser

import (
	"context"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// listen installs the tab's CDP event handlers. JavaScript dialogs are
// accepted so they never block an action, and uncaught page exceptions are
// logged.
func (r *Runner) listen(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *page.EventJavascriptDialogOpening:
			r.log.Info("Dismissing JavaScript dialog",
				zap.String("type", ev.Type.String()),
				zap.String("message", truncate(ev.Message, maxElementText)))
			// Handlers run on the event loop; CDP calls must not.
			go func() {
				if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil && ctx.Err() == nil {
					r.log.Warn("Failed to dismiss dialog", zap.Error(err))
				}
			}()
		case *runtime.EventExceptionThrown:
			if ev.ExceptionDetails != nil {
				r.log.Debug("Page exception", zap.String("text", ev.ExceptionDetails.Text))
			}
		}
	})
}
