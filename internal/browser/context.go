package browser

import "context"

// CombineContext returns a context derived from primary that is also
// cancelled when secondary is. Values, including the chromedp target carried
// by primary, come from primary only.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
