package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/daily-stats/internal/model"
)

// DefaultRedisPrefix prefixes the per-day lease keys.
const DefaultRedisPrefix = "daily_job_runs:"

// RedisStore keeps each day's lease as a JSON value under its own key.
// Conditional updates run in WATCH transactions.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store with keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) key(day string) string {
	return s.prefix + day
}

func (s *RedisStore) Insert(ctx context.Context, rec model.LeaseRecord) error {
	data, err := json.Marshal(remoteRecord(rec))
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(rec.Day), data, 0).Result()
	if err != nil {
		return redisError(err)
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, day string) (model.LeaseRecord, error) {
	return s.get(ctx, s.client, day)
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter, day string) (model.LeaseRecord, error) {
	data, err := c.Get(ctx, s.key(day)).Bytes()
	if err != nil {
		return model.LeaseRecord{}, redisError(err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return model.LeaseRecord{}, fmt.Errorf("decode lease %s: %w", day, err)
	}
	return rec, nil
}

func (s *RedisStore) Takeover(ctx context.Context, day string, observed, startedAt time.Time) error {
	return s.update(ctx, day, func(rec *model.LeaseRecord) error {
		if !rec.StartedAt.Equal(observed) {
			return ErrConflict
		}
		rec.Status = model.LeaseRunning
		rec.StartedAt = startedAt.UTC()
		rec.FinishedAt = nil
		return nil
	})
}

func (s *RedisStore) Complete(ctx context.Context, day string, status model.LeaseStatus, finishedAt time.Time) error {
	return s.update(ctx, day, func(rec *model.LeaseRecord) error {
		at := finishedAt.UTC()
		rec.Status = status
		rec.FinishedAt = &at
		return nil
	})
}

// update applies fn to the stored record inside a WATCH transaction. A
// concurrent write to the key fails the transaction with ErrConflict.
func (s *RedisStore) update(ctx context.Context, day string, fn func(*model.LeaseRecord) error) error {
	key := s.key(day)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, day)
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal lease: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrConflict
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
		return err
	default:
		return redisError(err)
	}
}

// redisError maps client failures onto the lease sentinels.
func redisError(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
