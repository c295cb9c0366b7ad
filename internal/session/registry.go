// Package session owns the single active user session and, through it, every
// volatile cache key written on that user's behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/autopilot/api/schemas"
	"github.com/xkilldash9x/autopilot/internal/config"
	"github.com/xkilldash9x/autopilot/internal/semantic"
	"github.com/xkilldash9x/autopilot/internal/store"
	"github.com/xkilldash9x/autopilot/internal/volatile"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSession is returned by operations that need an active session.
	ErrNoSession = errors.New("no active session")
	// ErrInvalidUser is returned by Start for a user id that cannot name a namespace.
	ErrInvalidUser = errors.New("invalid user id")
)

// Session identifies the user currently owning the volatile namespace.
type Session struct {
	UserID    string
	Token     uuid.UUID
	CreatedAt time.Time
	TTL       time.Duration
}

// Indexer writes the semantic index entries for one sequence.
type Indexer interface {
	Index(ctx context.Context, s Session, task, sequenceKey string)
}

// Registry tracks the active session. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	active *Session

	vol     volatile.Store
	durable store.Repository
	indexer Indexer
	ttl     time.Duration
	workers int
	log     *zap.Logger
}

// NewRegistry builds a registry. indexer may be nil, in which case warm-loaded
// sequences are not indexed.
func NewRegistry(vol volatile.Store, durable store.Repository, indexer Indexer, cfg config.SessionConfig, logger *zap.Logger) *Registry {
	workers := cfg.FlushWorkers
	if workers <= 0 {
		workers = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		vol:     vol,
		durable: durable,
		indexer: indexer,
		ttl:     ttl,
		workers: workers,
		log:     logger.Named("session"),
	}
}

// Active returns the current session, if any.
func (r *Registry) Active() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == nil {
		return Session{}, false
	}
	return *r.active, true
}

// Start makes userID the active session, replacing any previous one, and warm
// loads the user's durable sequences into the volatile tier.
func (r *Registry) Start(ctx context.Context, userID string) (Session, error) {
	if !volatile.ValidUser(userID) {
		return Session{}, fmt.Errorf("%w %q: must be non-empty without ':' or glob characters", ErrInvalidUser, userID)
	}
	s := Session{
		UserID:    userID,
		Token:     uuid.New(),
		CreatedAt: time.Now().UTC(),
		TTL:       r.ttl,
	}
	if err := r.vol.Set(ctx, volatile.SessionKey(userID), s.Token.String(), s.TTL); err != nil {
		return Session{}, fmt.Errorf("failed to write session marker: %w", err)
	}

	r.mu.Lock()
	if prev := r.active; prev != nil && prev.UserID != userID {
		r.log.Info("Replacing active session", zap.String("previous_user", prev.UserID), zap.String("user", userID))
	}
	r.active = &s
	r.mu.Unlock()

	n := r.warmLoad(ctx, s)
	r.log.Info("Session started",
		zap.String("user", userID),
		zap.Stringer("token", s.Token),
		zap.Int("warm_loaded", n))
	return s, nil
}

// warmLoad copies the user's durable sequences into the volatile tier and
// reports how many were loaded. Failures are logged per sequence.
func (r *Registry) warmLoad(ctx context.Context, s Session) int {
	seqs, err := r.durable.ListByUser(ctx, s.UserID)
	if err != nil {
		r.log.Warn("Warm load skipped: durable store unavailable", zap.String("user", s.UserID), zap.Error(err))
		return 0
	}

	var loaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, seq := range seqs {
		g.Go(func() error {
			raw, err := volatile.EncodeSequence(seq)
			if err != nil {
				r.log.Warn("Warm load: cannot encode sequence", zap.String("task", seq.TaskKey), zap.Error(err))
				return nil
			}
			key := volatile.SequenceKey(s.UserID, semantic.Normalize(seq.TaskKey))
			if err := r.vol.Set(gctx, key, raw, s.TTL); err != nil {
				r.log.Warn("Warm load: cannot write sequence", zap.String("key", key), zap.Error(err))
				return nil
			}
			if r.indexer != nil {
				r.indexer.Index(gctx, s, seq.TaskKey, key)
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(loaded.Load())
}

// Extend refreshes the TTL of the session marker and of every sequence and
// index key in the session's namespace.
func (r *Registry) Extend(ctx context.Context) error {
	s, ok := r.Active()
	if !ok {
		return ErrNoSession
	}
	keys, err := r.namespaceKeys(ctx, s.UserID)
	if err != nil {
		return err
	}
	if err := r.vol.Expire(ctx, s.TTL, keys...); err != nil {
		return fmt.Errorf("failed to extend session %s: %w", s.UserID, err)
	}
	return nil
}

// End flushes every volatile sequence of the active session to the durable
// store, deletes the namespace, and deactivates the session. It is a no-op
// when no session is active. The namespace is kept (to expire on its own)
// when any sequence failed to flush.
func (r *Registry) End(ctx context.Context) error {
	s, ok := r.Active()
	if !ok {
		return nil
	}
	defer r.deactivate(s.Token)

	flushed, failed, err := r.flush(ctx, s)
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("failed to flush %d of %d sequences for %s", failed, flushed+failed, s.UserID)
	}

	keys, err := r.namespaceKeys(ctx, s.UserID)
	if err != nil {
		return err
	}
	if _, err := r.vol.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete session namespace: %w", err)
	}
	r.log.Info("Session ended", zap.String("user", s.UserID), zap.Int("flushed", flushed))
	return nil
}

// flush upserts every sequence under the session namespace, fanned out over
// the configured number of workers.
func (r *Registry) flush(ctx context.Context, s Session) (flushed, failed int, err error) {
	keys, err := r.vol.Keys(ctx, volatile.SequencePattern(s.UserID))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list session sequences: %w", err)
	}

	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, key := range keys {
		g.Go(func() error {
			raw, err := r.vol.Get(gctx, key)
			if errors.Is(err, volatile.ErrNil) {
				// Expired between SCAN and GET.
				return nil
			}
			if err == nil {
				var seq *schemas.ActionSequence
				if seq, err = volatile.DecodeSequence(raw); err == nil {
					err = r.durable.Upsert(gctx, s.UserID, seq)
				}
			}
			if err != nil {
				bad.Add(1)
				r.log.Error("Failed to flush sequence", zap.String("key", key), zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load()), nil
}

func (r *Registry) namespaceKeys(ctx context.Context, user string) ([]string, error) {
	keys := []string{volatile.SessionKey(user)}
	for _, pattern := range []string{volatile.SequencePattern(user), volatile.UserPattern(user)} {
		found, err := r.vol.Keys(ctx, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list session keys: %w", err)
		}
		keys = append(keys, found...)
	}
	return keys, nil
}

// deactivate clears the active session if it is still the one identified by token.
func (r *Registry) deactivate(token uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.Token == token {
		r.active = nil
	}
}
