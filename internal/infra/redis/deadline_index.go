package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// deadlineKey is the sorted set holding attemptID -> deadline (unix milli).
const deadlineKey = "attempt:deadlines"

// DeadlineIndex keeps attempt deadlines in a Redis sorted set scored by the
// absolute deadline. PollDue claims entries by removing them, so replicas
// that poll the same instant mostly split the batch; the attempt store's
// conditional finalize still guarantees correctness when they do not.
type DeadlineIndex struct {
	client *redis.Client
}

func NewDeadlineIndex(client *redis.Client) *DeadlineIndex {
	return &DeadlineIndex{client: client}
}

func (i *DeadlineIndex) Schedule(ctx context.Context, attemptID string, deadline time.Time) error {
	err := i.client.ZAdd(ctx, deadlineKey, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: attemptID,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule deadline: %w", err)
	}
	return nil
}

func (i *DeadlineIndex) Clear(ctx context.Context, attemptID string) error {
	if err := i.client.ZRem(ctx, deadlineKey, attemptID).Err(); err != nil {
		return fmt.Errorf("clear deadline: %w", err)
	}
	return nil
}

func (i *DeadlineIndex) PollDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	candidates, err := i.client.ZRangeByScore(ctx, deadlineKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("poll due deadlines: %w", err)
	}

	// ZRem returns how many members this call actually removed; zero means
	// a concurrent replica claimed the entry first and we skip it.
	claimed := make([]string, 0, len(candidates))
	for _, id := range candidates {
		removed, err := i.client.ZRem(ctx, deadlineKey, id).Result()
		if err != nil {
			return claimed, fmt.Errorf("claim deadline %s: %w", id, err)
		}
		if removed == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}
