package executor

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/autopilot/api/schemas"
)

// -- Planner Mock --

type MockPlanner struct {
	mock.Mock
}

func (m *MockPlanner) Plan(ctx context.Context, task string, state schemas.UiState, history []schemas.ActionRecord) PlanOutcome {
	args := m.Called(ctx, task, state, history)
	return args.Get(0).(PlanOutcome)
}

// -- Sequence Cache Mock --

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetSimilarTask(ctx context.Context, task string) (*schemas.ActionSequence, bool) {
	args := m.Called(ctx, task)
	seq, _ := args.Get(0).(*schemas.ActionSequence)
	return seq, args.Bool(1)
}

func (m *MockCache) StoreWithResults(ctx context.Context, task string, actions []schemas.Action, results []bool, userConfirmed bool, elapsed time.Duration) error {
	args := m.Called(ctx, task, actions, results, userConfirmed, elapsed)
	return args.Error(0)
}

// -- Fake Page --

const blankURL = "about:blank"

// fakePage is an in-memory ActionRunner. A navigate moves the page to the
// action's URL unless stuck is set. Clicking a selector in links follows it.
type fakePage struct {
	mu       sync.Mutex
	url      string
	stuck    bool
	links    map[string]string
	fail     func(schemas.Action) bool
	failErr  error
	delay    time.Duration
	executed []schemas.Action

	inFlight    int
	maxInFlight int
}

func newFakePage() *fakePage { return &fakePage{url: blankURL} }

func (p *fakePage) Execute(ctx context.Context, action schemas.Action, _ int) (bool, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.executed = append(p.executed, action)
	if p.fail != nil && p.fail(action) {
		return false, p.failErr
	}
	switch {
	case p.stuck:
	case action.Kind == schemas.ActionNavigate:
		p.url = action.URL
	case action.Kind == schemas.ActionClick && p.links[action.Selector] != "":
		p.url = p.links[action.Selector]
	}
	return true, nil
}

// reset puts the page back on a blank tab, as a new browser would start.
func (p *fakePage) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = blankURL
}

func (p *fakePage) CaptureState(context.Context) (schemas.UiState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return schemas.UiState{URL: p.url, Title: "page"}, nil
}

func (p *fakePage) Executed() []schemas.Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.Action(nil), p.executed...)
}
