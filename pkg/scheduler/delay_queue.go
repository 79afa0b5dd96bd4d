// Package scheduler parks waiting executions and re-enters the interpreter
// when their resume time arrives.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DelayQueue is the durable scheduling path: a time-keyed queue of
// execution IDs that survives process restarts.
type DelayQueue interface {
	Push(ctx context.Context, executionID string, dueAt time.Time) error
	PopDue(ctx context.Context, now time.Time) ([]string, error)
	Remove(ctx context.Context, executionID string) error
	Close() error
}

const defaultQueueKey = "dripflow:resume"

// RedisDelayQueue implements DelayQueue on a Redis sorted set scored by due
// time in unix milliseconds.
type RedisDelayQueue struct {
	client redis.UniversalClient
	key    string
}

func NewRedisDelayQueue(client redis.UniversalClient) *RedisDelayQueue {
	return &RedisDelayQueue{client: client, key: defaultQueueKey}
}

func (q *RedisDelayQueue) Push(ctx context.Context, executionID string, dueAt time.Time) error {
	member := redis.Z{
		Score:  float64(dueAt.UnixMilli()),
		Member: executionID,
	}

	if err := q.client.ZAdd(ctx, q.key, member).Err(); err != nil {
		return fmt.Errorf("delay queue push %s: %w", executionID, err)
	}

	return nil
}

// PopDue atomically returns and removes every entry due at or before now.
// Range and removal run in one pipeline so two pollers cannot both claim
// the same entry set.
func (q *RedisDelayQueue) PopDue(ctx context.Context, now time.Time) ([]string, error) {
	max := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := q.client.TxPipeline()
	rangeCmd := pipe.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{Min: "0", Max: max})
	pipe.ZRemRangeByScore(ctx, q.key, "0", max)

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("delay queue pop: %w", err)
	}

	ids, err := rangeCmd.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("delay queue pop: %w", err)
	}

	return ids, nil
}

func (q *RedisDelayQueue) Remove(ctx context.Context, executionID string) error {
	if err := q.client.ZRem(ctx, q.key, executionID).Err(); err != nil {
		return fmt.Errorf("delay queue remove %s: %w", executionID, err)
	}

	return nil
}

func (q *RedisDelayQueue) Close() error {
	return q.client.Close()
}
