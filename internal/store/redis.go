package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each scope as one hash. A non-zero ttl is refreshed on
// every save and stands in for the browser's storage lifetime.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(scope string) string {
	return "neuromate:scope:" + scope
}

func (s *RedisStore) Save(ctx context.Context, scope, key, value string) error {
	if err := validate(scope, key); err != nil {
		return err
	}
	k := redisKey(scope)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, key, value)
		if s.ttl > 0 {
			pipe.Expire(ctx, k, s.ttl)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Load(ctx context.Context, scope, key string) (string, bool, error) {
	if err := validate(scope, key); err != nil {
		return "", false, err
	}
	v, err := s.client.HGet(ctx, redisKey(scope), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
