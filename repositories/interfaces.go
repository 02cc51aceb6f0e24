package repositories

import (
	"context"
	"time"
)

// KVStore is the key-value contract used by the challenge store and the usage ledger.
// A zero ttl means the entry never expires.
type KVStore interface {
	// Get returns the value for key and whether it was present
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores value under key, replacing any previous value
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// PutIfAbsent stores value only when key is missing or expired.
	// It reports whether this call created the entry.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Increment atomically adds one to the integer stored at key and returns the new value.
	// The ttl is applied when the key is created.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close releases backend resources
	Close() error
}
