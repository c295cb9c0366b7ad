package cache

import (
	"context"
	"errors"
	"sort"

	"github.com/xkilldash9x/autopilot/internal/semantic"
	"github.com/xkilldash9x/autopilot/internal/session"
	"github.com/xkilldash9x/autopilot/internal/volatile"
	"go.uber.org/zap"
)

// Index maintains the per-session inverted indexes (entity and verb sets plus
// the normalized-task pointer) in the volatile store. It is best effort:
// failures are logged and never returned.
type Index struct {
	vol volatile.Store
	log *zap.Logger
}

var _ session.Indexer = (*Index)(nil)

func NewIndex(vol volatile.Store, logger *zap.Logger) *Index {
	return &Index{vol: vol, log: logger.Named("index")}
}

// Index records sequenceKey under every entity and verb of task and points the
// normalized form of task at it. All entries carry the session TTL.
func (ix *Index) Index(ctx context.Context, s session.Session, task, sequenceKey string) {
	e := semantic.Extract(task)
	if e.Normalized == "" {
		return
	}

	sets := make([]string, 0, len(e.Entities)+len(e.Verbs))
	for _, ent := range e.Entities {
		sets = append(sets, volatile.EntityKey(s.UserID, ent))
	}
	for _, v := range e.Verbs {
		sets = append(sets, volatile.VerbKey(s.UserID, v))
	}
	if err := ix.vol.AddMembers(ctx, s.TTL, sequenceKey, sets...); err != nil {
		ix.log.Warn("Failed to update inverted index", zap.String("key", sequenceKey), zap.Error(err))
	}
	if err := ix.vol.Set(ctx, volatile.NormalizedKey(s.UserID, e.Normalized), sequenceKey, s.TTL); err != nil {
		ix.log.Warn("Failed to write normalized pointer", zap.String("key", sequenceKey), zap.Error(err))
	}
}

// pointer resolves the normalized-task pointer, falling back to the sequence
// key it would point to when the pointer itself is gone.
func (ix *Index) pointer(ctx context.Context, user, normalized string) string {
	key, err := ix.vol.Get(ctx, volatile.NormalizedKey(user, normalized))
	if err != nil {
		if !errors.Is(err, volatile.ErrNil) {
			ix.log.Warn("Failed to read normalized pointer", zap.Error(err))
		}
		return volatile.SequenceKey(user, normalized)
	}
	return key
}

// candidate is a sequence key found through the inverted index together with
// the sets that referenced it.
type candidate struct {
	key  string
	sets []string
}

// candidates returns the union of sequence keys referenced by the entity and
// verb sets of e, ordered by key.
func (ix *Index) candidates(ctx context.Context, user string, e semantic.Entry) []candidate {
	bySeq := make(map[string][]string)
	lookup := func(set string) {
		members, err := ix.vol.Members(ctx, set)
		if err != nil {
			ix.log.Warn("Failed to read index set", zap.String("set", set), zap.Error(err))
			return
		}
		for _, m := range members {
			bySeq[m] = append(bySeq[m], set)
		}
	}
	for _, ent := range e.Entities {
		lookup(volatile.EntityKey(user, ent))
	}
	for _, v := range e.Verbs {
		lookup(volatile.VerbKey(user, v))
	}

	out := make([]candidate, 0, len(bySeq))
	for k, sets := range bySeq {
		out = append(out, candidate{key: k, sets: sets})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// evict drops a stale sequence key from the sets that still reference it.
func (ix *Index) evict(ctx context.Context, c candidate) {
	for _, set := range c.sets {
		if err := ix.vol.RemoveMember(ctx, set, c.key); err != nil {
			ix.log.Debug("Failed to evict stale index entry", zap.String("set", set), zap.Error(err))
		}
	}
	ix.log.Debug("Evicted stale index entry", zap.String("key", c.key), zap.Int("sets", len(c.sets)))
}
