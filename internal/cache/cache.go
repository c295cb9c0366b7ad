// Package cache is the sequence cache façade. It keeps the volatile and
// durable tiers in step, maintains the semantic index and answers
// similarity-ranked lookups for the task executor.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/config"
	"github.com/xkilldash9x/autopilot/internal/semantic"
	"github.com/xkilldash9x/autopilot/internal/session"
	"github.com/xkilldash9x/autopilot/internal/store"
	"github.com/xkilldash9x/autopilot/internal/volatile"
	"go.uber.org/zap"
)

// Sessions is the part of session.Registry the cache depends on.
type Sessions interface {
	Active() (session.Session, bool)
	Extend(ctx context.Context) error
}

// Cache stores and finds action sequences for the active session.
type Cache struct {
	sessions Sessions
	vol      volatile.Store
	durable  store.Repository
	index    *Index

	similarityThreshold float64
	minSuccessRate      float64
	cleanupMaxAgeDays   int

	// writeMu serializes the read-modify-write in StoreWithResults.
	writeMu sync.Mutex
	log     *zap.Logger
	now     func() time.Time
}

// New builds a Cache. index must write to the same volatile store.
func New(sessions Sessions, vol volatile.Store, durable store.Repository, index *Index, cfg config.CacheConfig, logger *zap.Logger) *Cache {
	return &Cache{
		sessions:            sessions,
		vol:                 vol,
		durable:             durable,
		index:               index,
		similarityThreshold: cfg.SimilarityThreshold,
		minSuccessRate:      cfg.MinSuccessRate,
		cleanupMaxAgeDays:   cfg.CleanupMaxAgeDays,
		log:                 logger.Named("cache"),
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// StoreWithResults folds one execution of actions for task into the cached
// sequence and writes it to both tiers. results[i] is the outcome of
// actions[i]; only the common prefix of the two slices is scored.
//
// It returns session.ErrNoSession when no session is active, or the volatile
// write error. Durable store failures are logged and swallowed.
func (c *Cache) StoreWithResults(ctx context.Context, task string, actions []schemas.Action, results []bool, userConfirmed bool, elapsed time.Duration) error {
	s, ok := c.sessions.Active()
	if !ok {
		c.log.Warn("Store skipped: no active session", zap.String("task", task))
		return session.ErrNoSession
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	key := volatile.SequenceKey(s.UserID, semantic.Normalize(task))
	seq := c.loadForUpdate(ctx, s, key, task)
	if seq == nil {
		seq = schemas.NewActionSequence(task, nil)
	}
	if !sameActions(seq.Actions, actions) {
		// Per-action statistics only describe the list they were gathered on.
		seq.ActionStats = make(map[int]schemas.ActionStat)
		seq.PartialSuccesses = nil
	}
	seq.Actions = append([]schemas.Action(nil), actions...)

	n := len(actions)
	if len(results) < n {
		n = len(results)
	}
	if len(results) != len(actions) {
		c.log.Debug("Action and result counts differ; scoring common prefix",
			zap.Int("actions", len(actions)), zap.Int("results", len(results)))
	}
	var succeeded []int
	for i := 0; i < n; i++ {
		seq.RecordActionResult(i, results[i])
		if results[i] {
			succeeded = append(succeeded, i)
		}
	}
	now := c.now().Truncate(time.Microsecond)
	if len(succeeded) > 0 && len(succeeded) < len(actions) {
		seq.RecordPartialSuccess(succeeded, now)
	}
	seq.RecordExecution(userConfirmed, elapsed)
	seq.LastUsed = now

	var volErr error
	if raw, err := volatile.EncodeSequence(seq); err != nil {
		volErr = err
	} else if err := c.vol.Set(ctx, key, raw, s.TTL); err != nil {
		volErr = err
	}
	if volErr != nil {
		c.log.Warn("Failed to write sequence to volatile store", zap.String("key", key), zap.Error(volErr))
	} else {
		c.index.Index(ctx, s, seq.TaskKey, key)
	}

	if err := c.durable.Upsert(ctx, s.UserID, seq); err != nil {
		c.log.Warn("Failed to persist sequence; volatile copy remains authoritative",
			zap.String("task", seq.TaskKey), zap.Error(err))
	}

	c.log.Debug("Stored sequence",
		zap.String("task", seq.TaskKey),
		zap.Int("execution_count", seq.ExecutionCount),
		zap.Float64("success_rate", seq.SuccessRate))
	return volErr
}

// loadForUpdate returns the existing sequence for task, volatile tier first.
func (c *Cache) loadForUpdate(ctx context.Context, s session.Session, key, task string) *schemas.ActionSequence {
	if seq, err := c.getVolatile(ctx, key); err == nil {
		return seq
	}
	seq, err := c.durable.Get(ctx, s.UserID, task)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.log.Warn("Failed to read durable sequence", zap.String("task", task), zap.Error(err))
		}
		return nil
	}
	return seq
}

// GetSimilarTask returns the best cached sequence for task, or false on a miss.
// Lookup order: exact normalized match, inverted-index candidates, then a scan
// of the user's durable sequences. Storage errors count as misses.
func (c *Cache) GetSimilarTask(ctx context.Context, task string) (*schemas.ActionSequence, bool) {
	s, ok := c.sessions.Active()
	if !ok {
		c.log.Warn("Lookup skipped: no active session", zap.String("task", task))
		return nil, false
	}
	if err := c.sessions.Extend(ctx); err != nil {
		c.log.Warn("Failed to extend session", zap.Error(err))
	}

	e := semantic.Extract(task)
	if e.Normalized == "" {
		return nil, false
	}
	log := c.log.With(zap.String("task", task))

	// Exact.
	if seq, err := c.getVolatile(ctx, c.index.pointer(ctx, s.UserID, e.Normalized)); err == nil {
		if seq.SuccessRate >= c.minSuccessRate {
			log.Debug("Cache hit (exact)", zap.Float64("success_rate", seq.SuccessRate))
			return seq, true
		}
	}

	// Indexed candidates.
	var best *schemas.ActionSequence
	bestScore := 0.0
	for _, cand := range c.index.candidates(ctx, s.UserID, e) {
		seq, err := c.getVolatile(ctx, cand.key)
		if errors.Is(err, volatile.ErrNil) {
			c.index.evict(ctx, cand)
			continue
		}
		if err != nil {
			continue
		}
		if score, ok := c.qualifies(task, seq); ok && score > bestScore {
			best, bestScore = seq, score
		}
	}
	if best != nil {
		log.Debug("Cache hit (index)", zap.String("match", best.TaskKey), zap.Float64("score", bestScore))
		return best, true
	}

	// Durable scan.
	seqs, err := c.durable.ListByUser(ctx, s.UserID)
	if err != nil {
		log.Warn("Durable scan failed", zap.Error(err))
		return nil, false
	}
	for _, seq := range seqs {
		if score, ok := c.qualifies(task, seq); ok && score > bestScore {
			best, bestScore = seq, score
		}
	}
	if best == nil {
		log.Debug("Cache miss")
		return nil, false
	}
	log.Debug("Cache hit (durable)", zap.String("match", best.TaskKey), zap.Float64("score", bestScore))
	c.rehydrate(ctx, s, best)
	return best, true
}

// qualifies scores seq against task and reports whether it clears both thresholds.
func (c *Cache) qualifies(task string, seq *schemas.ActionSequence) (float64, bool) {
	if seq.SuccessRate < c.minSuccessRate {
		return 0, false
	}
	score := semantic.Similarity(task, seq.TaskKey)
	return score, score > 0 && score >= c.similarityThreshold
}

// rehydrate copies a durable hit back into the volatile tier so the next
// lookup is served from there.
func (c *Cache) rehydrate(ctx context.Context, s session.Session, seq *schemas.ActionSequence) {
	key := volatile.SequenceKey(s.UserID, semantic.Normalize(seq.TaskKey))
	raw, err := volatile.EncodeSequence(seq)
	if err == nil {
		err = c.vol.Set(ctx, key, raw, s.TTL)
	}
	if err != nil {
		c.log.Debug("Failed to rehydrate sequence", zap.String("key", key), zap.Error(err))
		return
	}
	c.index.Index(ctx, s, seq.TaskKey, key)
}

func (c *Cache) getVolatile(ctx context.Context, key string) (*schemas.ActionSequence, error) {
	raw, err := c.vol.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, volatile.ErrNil) {
			c.log.Warn("Failed to read volatile sequence", zap.String("key", key), zap.Error(err))
		}
		return nil, err
	}
	seq, err := volatile.DecodeSequence(raw)
	if err != nil {
		c.log.Warn("Discarding undecodable volatile sequence", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return seq, nil
}

// Clear removes every durable sequence. The volatile tier is left to expire.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	n, err := c.durable.Clear(ctx)
	if err != nil {
		return 0, err
	}
	c.log.Info("Cleared durable store", zap.Int64("rows", n))
	return n, nil
}

// Cleanup removes durable sequences unused for more than maxAgeDays. A
// non-positive maxAgeDays uses the configured default.
func (c *Cache) Cleanup(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = c.cleanupMaxAgeDays
	}
	cutoff := c.now().AddDate(0, 0, -maxAgeDays)
	n, err := c.durable.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	c.log.Info("Cleaned up durable store", zap.Int64("rows", n), zap.Int("max_age_days", maxAgeDays))
	return n, nil
}

// Stats summarises the durable store.
func (c *Cache) Stats(ctx context.Context) (schemas.CacheStats, error) {
	return c.durable.Stats(ctx)
}

func sameActions(a, b []schemas.Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameOperation(b[i]) {
			return false
		}
	}
	return true
}
