package browser

import (
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/config"
)

// namedKeys maps the key names planners use to chromedp key codes.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
	"space":      " ",
}

// keyFor resolves a key name to what chromedp.KeyEvent expects. Unknown
// names are sent as literal text.
func keyFor(name string) string {
	if k, ok := namedKeys[strings.ToLower(strings.TrimSpace(name))]; ok {
		return k
	}
	return name
}

// actionTasks translates a into chromedp tasks and the timeout they run under.
func actionTasks(a schemas.Action, cfg config.BrowserConfig) (chromedp.Tasks, time.Duration, error) {
	if err := a.Validate(); err != nil {
		return nil, 0, err
	}

	timeout := cfg.ActionTimeout
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Millisecond
	}

	switch a.Kind {
	case schemas.ActionNavigate:
		return chromedp.Tasks{
			chromedp.Navigate(a.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		}, cfg.NavigationTimeout, nil

	case schemas.ActionClick:
		return chromedp.Tasks{
			chromedp.WaitVisible(a.Selector, chromedp.ByQuery),
			chromedp.ScrollIntoView(a.Selector, chromedp.ByQuery),
			chromedp.Click(a.Selector, chromedp.ByQuery),
		}, timeout, nil

	case schemas.ActionType:
		// Replaces any existing value, like a form fill.
		return chromedp.Tasks{
			chromedp.WaitVisible(a.Selector, chromedp.ByQuery),
			chromedp.SetValue(a.Selector, "", chromedp.ByQuery),
			chromedp.SendKeys(a.Selector, a.Text, chromedp.ByQuery),
		}, timeout, nil

	case schemas.ActionPress:
		return chromedp.Tasks{chromedp.KeyEvent(keyFor(a.Key))}, timeout, nil

	case schemas.ActionWait:
		if a.Selector != "" {
			return chromedp.Tasks{chromedp.WaitVisible(a.Selector, chromedp.ByQuery)}, timeout, nil
		}
		d := time.Duration(a.Timeout) * time.Millisecond
		return chromedp.Tasks{chromedp.Sleep(d)}, d + cfg.ActionTimeout, nil
	}
	return nil, 0, fmt.Errorf("%w: unsupported kind %q", schemas.ErrInvalidAction, a.Kind)
}
