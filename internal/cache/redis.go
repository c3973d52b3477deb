package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hostsupervisor/internal/config"
	"hostsupervisor/internal/network"
)

// RedisStore keeps entries in Redis, shared by every supervisor pointed at
// the same server. Keys are namespaced with KeyPrefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store. dial is optional (e.g. a SOCKS proxy).
func NewRedisStore(cfg config.RedisConfig, dial network.ContextDialFunc) *RedisStore {
	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if dial != nil {
		opts.Dialer = dial
	}
	return &RedisStore{client: redis.NewClient(opts), prefix: cfg.KeyPrefix}
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET %s: %w", s.prefix+key, err)
	}
	v, err := decode(data)
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set stores value under key with no expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.prefix+key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
