package stats

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "flowpilot:stats:"

var counterFields = []string{"total", "successes", "duration_sum_ms", "rating_sum", "rating_count", "feedbacks"}

// RedisAccumulator stores counters as hash fields updated with HINCRBY inside MULTI/EXEC,
// so any number of workers can share them.
type RedisAccumulator struct {
	client redis.UniversalClient
}

func NewRedisAccumulator(client redis.UniversalClient) *RedisAccumulator {
	return &RedisAccumulator{client: client}
}

// NewRedisClient connects to a redis:// URL and pings it.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func (r *RedisAccumulator) Add(ctx context.Context, key string, delta Counters) (Counters, error) {
	var totals *redis.MapStringStringCmd

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for field, value := range fieldValues(delta) {
			if value != 0 {
				pipe.HIncrBy(ctx, redisKeyPrefix+key, field, value)
			}
		}

		totals = pipe.HGetAll(ctx, redisKeyPrefix+key)

		return nil
	})
	if err != nil {
		return Counters{}, fmt.Errorf("failed to update counters %s: %w", key, err)
	}

	return parseCounters(totals.Val())
}

func (r *RedisAccumulator) Get(ctx context.Context, key string) (Counters, error) {
	values, err := r.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("failed to read counters %s: %w", key, err)
	}

	if len(values) == 0 {
		return Counters{}, ErrUnknownKey
	}

	return parseCounters(values)
}

func (r *RedisAccumulator) Set(ctx context.Context, key string, totals Counters) error {
	values := make(map[string]any, len(counterFields))
	for field, value := range fieldValues(totals) {
		values[field] = value
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKeyPrefix+key)
		pipe.HSet(ctx, redisKeyPrefix+key, values)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset counters %s: %w", key, err)
	}

	return nil
}

// Seed writes totals under WATCH, so an Add from another process between the existence
// check and the write aborts the seed instead of being overwritten.
func (r *RedisAccumulator) Seed(ctx context.Context, key string, totals Counters) (bool, error) {
	values := make(map[string]any, len(counterFields))
	for field, value := range fieldValues(totals) {
		values[field] = value
	}

	seeded := false

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, redisKeyPrefix+key).Result()
		if err != nil {
			return err
		}

		if exists > 0 {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, redisKeyPrefix+key, values)

			return nil
		})
		if err != nil {
			return err
		}

		seeded = true

		return nil
	}, redisKeyPrefix+key)

	switch {
	case errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to seed counters %s: %w", key, err)
	}

	return seeded, nil
}

func fieldValues(c Counters) map[string]int64 {
	return map[string]int64{
		"total":           c.Total,
		"successes":       c.Successes,
		"duration_sum_ms": c.DurationSumMs,
		"rating_sum":      c.RatingSum,
		"rating_count":    c.RatingCount,
		"feedbacks":       c.Feedbacks,
	}
}

func parseCounters(values map[string]string) (Counters, error) {
	parsed := make(map[string]int64, len(counterFields))

	for _, field := range counterFields {
		raw, ok := values[field]
		if !ok {
			continue
		}

		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("invalid counter %s=%q: %w", field, raw, err)
		}

		parsed[field] = value
	}

	return Counters{
		Total:         parsed["total"],
		Successes:     parsed["successes"],
		DurationSumMs: parsed["duration_sum_ms"],
		RatingSum:     parsed["rating_sum"],
		RatingCount:   parsed["rating_count"],
		Feedbacks:     parsed["feedbacks"],
	}, nil
}
