package schemas

import (
	"fmt"
	"time"
)

// ActionStat counts how often the action at one index succeeded.
type ActionStat struct {
	SuccessCount int `json:"success"`
	TotalCount   int `json:"total"`
}

// PartialSuccess records a run in which only some actions succeeded.
type PartialSuccess struct {
	Timestamp time.Time `json:"timestamp"`
	Succeeded []int     `json:"successful_actions"`
}

// ActionSequence is an ordered list of actions remembered for a task, along
// with the statistics gathered every time it was executed.
type ActionSequence struct {
	TaskKey          string                 `json:"task_key"`
	Actions          []Action               `json:"actions"`
	SuccessRate      float64                `json:"success_rate"`
	ExecutionCount   int                    `json:"execution_count"`
	AvgExecutionTime float64                `json:"avg_execution_time"` // seconds
	ActionStats      map[int]ActionStat     `json:"action_success_rates"`
	PartialSuccesses []PartialSuccess       `json:"partial_successes"`
	LastUsed         time.Time              `json:"last_used"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// NewActionSequence returns an empty sequence for task with the given actions.
func NewActionSequence(task string, actions []Action) *ActionSequence {
	return &ActionSequence{
		TaskKey:     task,
		Actions:     actions,
		ActionStats: make(map[int]ActionStat),
		LastUsed:    time.Now().UTC(),
		Metadata:    make(map[string]interface{}),
	}
}

// RecordActionResult updates the per-action counters for index i.
func (s *ActionSequence) RecordActionResult(i int, success bool) {
	if s.ActionStats == nil {
		s.ActionStats = make(map[int]ActionStat)
	}
	st := s.ActionStats[i]
	st.TotalCount++
	if success {
		st.SuccessCount++
	}
	s.ActionStats[i] = st
}

// ActionSuccessRate returns the success ratio for index i, or 0 when it has never run.
func (s *ActionSequence) ActionSuccessRate(i int) float64 {
	st, ok := s.ActionStats[i]
	if !ok || st.TotalCount == 0 {
		return 0
	}
	return float64(st.SuccessCount) / float64(st.TotalCount)
}

// RecordPartialSuccess appends the indices that succeeded in a partially successful run.
func (s *ActionSequence) RecordPartialSuccess(succeeded []int, at time.Time) {
	idx := make([]int, len(succeeded))
	copy(idx, succeeded)
	s.PartialSuccesses = append(s.PartialSuccesses, PartialSuccess{Timestamp: at, Succeeded: idx})
}

// RecordExecution counts one more run. A confirmed run contributes full credit
// to the running average: sr' = (sr*(n-1) + 1) / n with n the new count.
// An unconfirmed run leaves the rate untouched.
func (s *ActionSequence) RecordExecution(confirmed bool, elapsed time.Duration) {
	s.ExecutionCount++
	n := float64(s.ExecutionCount)
	if confirmed {
		s.SuccessRate = (s.SuccessRate*(n-1) + 1) / n
	}
	s.AvgExecutionTime = (s.AvgExecutionTime*(n-1) + elapsed.Seconds()) / n
}

// Validate checks the sequence invariants.
func (s *ActionSequence) Validate() error {
	if s.SuccessRate < 0 || s.SuccessRate > 1 {
		return fmt.Errorf("success_rate %f out of range [0,1]", s.SuccessRate)
	}
	if s.ExecutionCount < 0 {
		return fmt.Errorf("execution_count %d is negative", s.ExecutionCount)
	}
	for i := range s.ActionStats {
		if i < 0 || i >= len(s.Actions) {
			return fmt.Errorf("action stat index %d out of range for %d actions", i, len(s.Actions))
		}
	}
	for i, a := range s.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}

// CacheStats summarises the durable store.
type CacheStats struct {
	Total            int     `json:"total_sequences"`
	AvgSuccessRate   float64 `json:"avg_success_rate"`
	AvgExecutions    float64 `json:"avg_executions"`
	AvgExecutionTime float64 `json:"avg_execution_time"`
}
