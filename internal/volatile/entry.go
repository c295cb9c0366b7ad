package volatile

import (
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/autopilot/api/schemas"
)

// sequenceEntry is the value stored under a sequence key: the actions plus
// everything else about the sequence folded into metadata.
type sequenceEntry struct {
	TaskKey  string           `json:"task_key"`
	Actions  []schemas.Action `json:"actions"`
	Metadata entryMetadata    `json:"metadata"`
}

type entryMetadata struct {
	SuccessRate      float64                    `json:"success_rate"`
	ExecutionCount   int                        `json:"execution_count"`
	AvgExecutionTime float64                    `json:"avg_execution_time"`
	ActionStats      map[int]schemas.ActionStat `json:"action_success_rates"`
	PartialSuccesses []schemas.PartialSuccess   `json:"partial_successes"`
	LastUsed         time.Time                  `json:"last_used"`
	Extra            map[string]interface{}     `json:"extra,omitempty"`
}

// EncodeSequence serializes seq for storage under a sequence key.
func EncodeSequence(seq *schemas.ActionSequence) (string, error) {
	actions := seq.Actions
	if actions == nil {
		actions = []schemas.Action{}
	}
	s, err := json.MarshalToString(sequenceEntry{
		TaskKey: seq.TaskKey,
		Actions: actions,
		Metadata: entryMetadata{
			SuccessRate:      seq.SuccessRate,
			ExecutionCount:   seq.ExecutionCount,
			AvgExecutionTime: seq.AvgExecutionTime,
			ActionStats:      seq.ActionStats,
			PartialSuccesses: seq.PartialSuccesses,
			LastUsed:         seq.LastUsed,
			Extra:            seq.Metadata,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode sequence %q: %w", seq.TaskKey, err)
	}
	return s, nil
}

// DecodeSequence parses a value written by EncodeSequence.
func DecodeSequence(raw string) (*schemas.ActionSequence, error) {
	var e sequenceEntry
	if err := json.UnmarshalFromString(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode sequence entry: %w", err)
	}
	seq := &schemas.ActionSequence{
		TaskKey:          e.TaskKey,
		Actions:          e.Actions,
		SuccessRate:      e.Metadata.SuccessRate,
		ExecutionCount:   e.Metadata.ExecutionCount,
		AvgExecutionTime: e.Metadata.AvgExecutionTime,
		ActionStats:      e.Metadata.ActionStats,
		PartialSuccesses: e.Metadata.PartialSuccesses,
		LastUsed:         e.Metadata.LastUsed,
		Metadata:         e.Metadata.Extra,
	}
	if seq.ActionStats == nil {
		seq.ActionStats = make(map[int]schemas.ActionStat)
	}
	if seq.Metadata == nil {
		seq.Metadata = make(map[string]interface{})
	}
	return seq, nil
}
