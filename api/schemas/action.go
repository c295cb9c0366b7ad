package schemas

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActionKind is the closed set of UI operations the runner understands.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate" // Loads a URL.
	ActionClick    ActionKind = "click"    // Clicks the element matching Selector.
	ActionType     ActionKind = "type"     // Types Text into the element matching Selector.
	ActionPress    ActionKind = "press"    // Presses a single Key.
	ActionWait     ActionKind = "wait"     // Waits for Selector to appear or for Timeout ms.
)

// Valid reports whether k is one of the known kinds.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionNavigate, ActionClick, ActionType, ActionPress, ActionWait:
		return true
	}
	return false
}

// ErrInvalidAction is wrapped by every validation failure returned from Action.Validate.
var ErrInvalidAction = errors.New("invalid action")

// Action is a single UI operation. Values are immutable once built; use the
// New* constructors so kind-specific fields are checked up front.
type Action struct {
	Kind      ActionKind `json:"kind" yaml:"kind"`
	Selector  string     `json:"selector,omitempty" yaml:"selector,omitempty"`
	URL       string     `json:"url,omitempty" yaml:"url,omitempty"`
	Text      string     `json:"text,omitempty" yaml:"text,omitempty"`
	Key       string     `json:"key,omitempty" yaml:"key,omitempty"`
	Timeout   int        `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
	Timestamp time.Time  `json:"timestamp" yaml:"-"`
}

// NewNavigate builds a navigate action.
func NewNavigate(url string) (Action, error) {
	return NewAction(Action{Kind: ActionNavigate, URL: url})
}

// NewClick builds a click action.
func NewClick(selector string) (Action, error) {
	return NewAction(Action{Kind: ActionClick, Selector: selector})
}

// NewType builds a type action.
func NewType(selector, text string) (Action, error) {
	return NewAction(Action{Kind: ActionType, Selector: selector, Text: text})
}

// NewPress builds a press action.
func NewPress(key string) (Action, error) {
	return NewAction(Action{Kind: ActionPress, Key: key})
}

// NewWait builds a wait action. Either selector or a positive timeout is required.
func NewWait(selector string, timeoutMs int) (Action, error) {
	return NewAction(Action{Kind: ActionWait, Selector: selector, Timeout: timeoutMs})
}

// NewAction validates a and stamps its creation time when missing.
func NewAction(a Action) (Action, error) {
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	return a, nil
}

// Validate checks that the fields required by the action's kind are present.
func (a Action) Validate() error {
	if a.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %d", ErrInvalidAction, a.Timeout)
	}
	switch a.Kind {
	case ActionNavigate:
		if strings.TrimSpace(a.URL) == "" {
			return fmt.Errorf("%w: navigate requires a url", ErrInvalidAction)
		}
	case ActionClick:
		if strings.TrimSpace(a.Selector) == "" {
			return fmt.Errorf("%w: click requires a selector", ErrInvalidAction)
		}
	case ActionType:
		if strings.TrimSpace(a.Selector) == "" {
			return fmt.Errorf("%w: type requires a selector", ErrInvalidAction)
		}
		if a.Text == "" {
			return fmt.Errorf("%w: type requires text", ErrInvalidAction)
		}
	case ActionPress:
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("%w: press requires a key", ErrInvalidAction)
		}
	case ActionWait:
		if strings.TrimSpace(a.Selector) == "" && a.Timeout == 0 {
			return fmt.Errorf("%w: wait requires a selector or a timeout", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, a.Kind)
	}
	return nil
}

// SameOperation reports whether a and b describe the same UI operation,
// ignoring when each was created.
func (a Action) SameOperation(b Action) bool {
	return a.Kind == b.Kind &&
		a.Selector == b.Selector &&
		a.URL == b.URL &&
		a.Text == b.Text &&
		a.Key == b.Key &&
		a.Timeout == b.Timeout
}

// String renders a short human-readable description, used in logs and prompts.
func (a Action) String() string {
	switch a.Kind {
	case ActionNavigate:
		return "navigate " + a.URL
	case ActionClick:
		return "click " + a.Selector
	case ActionType:
		return fmt.Sprintf("type into %s", a.Selector)
	case ActionPress:
		return "press " + a.Key
	case ActionWait:
		if a.Selector != "" {
			return "wait for " + a.Selector
		}
		return fmt.Sprintf("wait %dms", a.Timeout)
	}
	return string(a.Kind)
}

// ActionRecord captures the outcome of one executed action.
type ActionRecord struct {
	Action     Action    `json:"action"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StateAfter UiState   `json:"state_after"`
	Timestamp  time.Time `json:"timestamp"`
}
