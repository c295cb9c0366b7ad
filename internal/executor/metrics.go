package executor

import "sync/atomic"

// Metrics counts run outcomes over the lifetime of an Executor.
type Metrics struct {
	runs             atomic.Int64
	succeeded        atomic.Int64
	failed           atomic.Int64
	cacheHits        atomic.Int64
	planningFailures atomic.Int64
	actionFailures   atomic.Int64
	storageFailures  atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Runs             int64 `json:"runs"`
	Succeeded        int64 `json:"succeeded"`
	Failed           int64 `json:"failed"`
	CacheHits        int64 `json:"cache_hits"`
	PlanningFailures int64 `json:"planning_failures"`
	ActionFailures   int64 `json:"action_failures"`
	StorageFailures  int64 `json:"storage_failures"`
}

// SuccessRate is Succeeded/Runs, or 0 before the first run.
func (s MetricsSnapshot) SuccessRate() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Runs)
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Runs:             m.runs.Load(),
		Succeeded:        m.succeeded.Load(),
		Failed:           m.failed.Load(),
		CacheHits:        m.cacheHits.Load(),
		PlanningFailures: m.planningFailures.Load(),
		ActionFailures:   m.actionFailures.Load(),
		StorageFailures:  m.storageFailures.Load(),
	}
}

func (m *Metrics) finish(success bool) {
	m.runs.Add(1)
	if success {
		m.succeeded.Add(1)
	} else {
		m.failed.Add(1)
	}
}
