// Package volatile is the fast, TTL-bearing tier of the sequence cache. It
// holds the active session's sequences and the inverted indexes over them.
package volatile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xkilldash9x/autopilot/internal/config"
	"go.uber.org/zap"
)

// ErrNil is returned when a key does not exist or has expired.
var ErrNil = errors.New("volatile: key not found")

// Store is the subset of Redis the cache and session registry rely on.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	// AddMembers adds member to every set in setKeys and sets their TTL, in one round trip.
	AddMembers(ctx context.Context, ttl time.Duration, member string, setKeys ...string) error
	Members(ctx context.Context, key string) ([]string, error)
	RemoveMember(ctx context.Context, key, member string) error
	// Keys lists keys matching a glob pattern using SCAN.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Expire refreshes the TTL of every key, in one round trip.
	Expire(ctx context.Context, ttl time.Duration, keys ...string) error
	Close() error
}

// Redis implements Store on top of go-redis.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

var _ Store = (*Redis)(nil)

// NewRedis connects to the server described by cfg and verifies it answers.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	log := logger.Named("volatile")
	log.Debug("Connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return &Redis{client: client, log: log}, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete %d keys: %w", len(keys), err)
	}
	return n, nil
}

func (r *Redis) AddMembers(ctx context.Context, ttl time.Duration, member string, setKeys ...string) error {
	if len(setKeys) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range setKeys {
			p.SAdd(ctx, k, member)
			p.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to %d sets: %w", member, len(setKeys), err)
	}
	return nil
}

func (r *Redis) Members(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read set %s: %w", key, err)
	}
	return members, nil
}

func (r *Redis) RemoveMember(ctx context.Context, key, member string) error {
	if err := r.client.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("failed to remove %s from %s: %w", member, key, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
	}
	return keys, nil
}

func (r *Redis) Expire(ctx context.Context, ttl time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to refresh ttl on %d keys: %w", len(keys), err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
