// Package redis stores idempotent HTTP responses in Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/shopfront/pkg/httpmiddleware"
)

const keyNamespace = "shopfront:"

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Store implements httpmiddleware.IdempotencyStore.
type Store struct {
	cmd    cmdable
	closer func() error
}

var _ httpmiddleware.IdempotencyStore = (*Store)(nil)

// Open connects to the Redis server at url, e.g. redis://localhost:6379/0.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Store{cmd: client, closer: client.Close}, nil
}

// Ping reports whether the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.cmd.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Get returns nil without error for missing keys.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.cmd.Get(ctx, keyNamespace+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %q", key)
	}
	return v, nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.cmd.SetNX(ctx, keyNamespace+key, value, ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "setnx %q", key)
	}
	return ok, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.cmd.Set(ctx, keyNamespace+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "set %q", key)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.cmd.Del(ctx, keyNamespace+key).Err(); err != nil {
		return errors.Wrapf(err, "del %q", key)
	}
	return nil
}
