package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisStore keeps checkout state in Redis so it survives a server restart
// or a session landing on another instance. A nil client behaves like NoopStore.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisClient parses a redis:// URL and pings the server with a short timeout
func NewRedisClient(url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a Redis-backed store with a per-key TTL
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	if r.client == nil {
		return "", false
	}
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Checkout state read failed, treating as absent")
		return "", false
	}
	return val, true
}

func (r *RedisStore) Set(ctx context.Context, key, value string) {
	if r.client == nil {
		return
	}
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Checkout state write failed")
	}
}

func (r *RedisStore) Remove(ctx context.Context, key string) {
	if r.client == nil {
		return
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.logger.WithError(err).WithField("key", key).Warn("Checkout state delete failed")
	}
}
