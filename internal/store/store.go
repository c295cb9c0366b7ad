// Package store is the durable tier of the sequence cache: one row per
// (task_key, user_id) that survives process restarts.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/autopilot/api/schemas"
)

// ErrNotFound is returned by Get when no row exists for the key.
var ErrNotFound = errors.New("sequence not found")

// Repository is the durable store contract shared by the PostgreSQL and SQLite backends.
type Repository interface {
	// Upsert writes seq for userID. Last write wins per (task_key, user_id).
	Upsert(ctx context.Context, userID string, seq *schemas.ActionSequence) error
	Get(ctx context.Context, userID, taskKey string) (*schemas.ActionSequence, error)
	ListByUser(ctx context.Context, userID string) ([]*schemas.ActionSequence, error)
	// Clear deletes every row and reports how many were removed.
	Clear(ctx context.Context) (int64, error)
	// Cleanup deletes rows whose last_used predates before.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (schemas.CacheStats, error)
	Close() error
}

const selectColumns = `task_key, actions, success_rate, execution_count, avg_execution_time, metadata, last_used`

// rowMetadata is the serialized form of the metadata column. The per-action
// statistics and partial-success log live here next to caller metadata.
type rowMetadata struct {
	ActionStats      map[int]schemas.ActionStat `json:"action_success_rates"`
	PartialSuccesses []schemas.PartialSuccess   `json:"partial_successes"`
	Extra            map[string]interface{}     `json:"extra,omitempty"`
}

// encodedRow holds the column values of a sequence ready for binding.
type encodedRow struct {
	actions  string
	metadata string
}

func encodeRow(seq *schemas.ActionSequence) (encodedRow, error) {
	actions := seq.Actions
	if actions == nil {
		actions = []schemas.Action{}
	}
	a, err := json.Marshal(actions)
	if err != nil {
		return encodedRow{}, fmt.Errorf("failed to encode actions for %q: %w", seq.TaskKey, err)
	}
	m, err := json.Marshal(rowMetadata{
		ActionStats:      seq.ActionStats,
		PartialSuccesses: seq.PartialSuccesses,
		Extra:            seq.Metadata,
	})
	if err != nil {
		return encodedRow{}, fmt.Errorf("failed to encode metadata for %q: %w", seq.TaskKey, err)
	}
	return encodedRow{actions: string(a), metadata: string(m)}, nil
}

// decodeRow fills the serialized parts of seq from the actions and metadata columns.
func decodeRow(seq *schemas.ActionSequence, actions, metadata string) error {
	if err := json.UnmarshalFromString(actions, &seq.Actions); err != nil {
		return fmt.Errorf("failed to decode actions for %q: %w", seq.TaskKey, err)
	}
	var m rowMetadata
	if metadata != "" {
		if err := json.UnmarshalFromString(metadata, &m); err != nil {
			return fmt.Errorf("failed to decode metadata for %q: %w", seq.TaskKey, err)
		}
	}
	seq.ActionStats = m.ActionStats
	if seq.ActionStats == nil {
		seq.ActionStats = make(map[int]schemas.ActionStat)
	}
	seq.PartialSuccesses = m.PartialSuccesses
	seq.Metadata = m.Extra
	if seq.Metadata == nil {
		seq.Metadata = make(map[string]interface{})
	}
	return nil
}
