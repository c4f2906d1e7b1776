package campaign

import (
	"context"
	"time"
)

// Cache is the key/value cache contract implemented by the Redis client (and
// its in-memory mock). Callers that need the graceful-degradation layer with
// statistics should wrap a Cache with the cache package's Store.
type Cache interface {
	// Set upserts the value under key with the given expiration. A negative
	// expiration skips caching.
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	// Get fetches the value under key; the bool reports whether it was found.
	Get(ctx context.Context, key string) (bool, string, error)
	// GetEx fetches and bumps the entry's TTL.
	GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error)
	// SetStruct JSON-serializes value under key.
	SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// GetStruct fetches and JSON-deserializes into target.
	GetStruct(ctx context.Context, key string, target interface{}) (bool, error)
	// GetStructEx is GetStruct plus a TTL bump.
	GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error)
	// Delete removes the given keys, returning whether all were found.
	Delete(ctx context.Context, keys []string) (bool, error)
	// DeleteByPattern removes every key matching the Redis glob pattern using
	// an incremental cursor scan, returning the number of keys deleted.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	// Ping tests connectivity.
	Ping(ctx context.Context) error
	// Clear flushes the cache database. Use with caution.
	Clear(ctx context.Context) error

	// CreateLockKeys creates lock keys with fresh lock IDs for the names.
	CreateLockKeys(keys []string) []*LockKey
	// Lock acquires all lock keys for the TTL duration, or reports the
	// owner that beat us to one of them.
	Lock(ctx context.Context, duration time.Duration, lockKeys []*LockKey) (bool, UUID, error)
	// IsLocked reports whether all lock keys are currently owned by us.
	IsLocked(ctx context.Context, lockKeys []*LockKey) (bool, error)
	// Unlock releases the lock keys we own.
	Unlock(ctx context.Context, lockKeys []*LockKey) error
}

// CloseableCache is a Cache owning its own connection.
type CloseableCache interface {
	Cache
	Close() error
}
