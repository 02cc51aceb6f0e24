// Package redis provides a Redis-backed KVStore.
//
// Counters use a Lua script so the increment and the initial TTL are applied
// atomically, which keeps usage accounting safe across gateway instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Store is a Redis-backed KVStore
type Store struct {
	client    goredis.Cmdable
	closer    func() error
	keyPrefix string
}

// Option configures Store
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "omnichat:")
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a Store on a connected client.
// When client is a *goredis.Client, Close closes it.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "omnichat:",
	}
	if c, ok := client.(interface{ Close() error }); ok {
		s.closer = c.Close
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.keyPrefix + k
}

// incrementScript increments a counter and sets its TTL only on creation.
// KEYS[1] = counter key
// ARGV[1] = ttl in milliseconds (0 = none)
var incrementScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if n == 1 and ttl > 0 then
    redis.call("PEXPIRE", KEYS[1], ttl)
end
return n
`)

// Get returns the value for key
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

// Put sets key with an optional TTL
func (s *Store) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// PutIfAbsent uses SET NX
func (s *Store) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Increment runs the increment script
func (s *Store) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the client when the store owns one
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
