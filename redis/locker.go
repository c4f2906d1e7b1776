package redis

import (
	"context"
	"fmt"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// Lock keys serialize version writes per (entityType, entityId, branchId)
// range and whole branches during fork/merge. Lock keys bypass the cache
// namespace; they live under their own "L" prefix.

// Lock attempts to acquire locks for all provided keys using the given TTL duration.
// If any key is already locked by another owner, it returns false and that owner's UUID.
func (c client) Lock(ctx context.Context, duration time.Duration, lockKeys []*campaign.LockKey) (bool, campaign.UUID, error) {
	for _, lk := range lockKeys {
		found, readItem, err := c.rawGet(ctx, lk.Key)
		if err != nil {
			return false, campaign.NilUUID, err
		}
		if found {
			// Item found in Redis, check if not ours. Most likely, but check anyway.
			if readItem != lk.LockID.String() {
				id, _ := campaign.ParseUUID(readItem)
				return false, id, nil
			}
			continue
		}

		// Item does not exist, upsert it.
		if err := c.rawSet(ctx, lk.Key, lk.LockID.String(), duration); err != nil {
			return false, campaign.NilUUID, err
		}
		// Use a 2nd "get" to ensure we "won" the lock attempt & fail if not.
		if found, readItem2, err := c.rawGet(ctx, lk.Key); !found || err != nil {
			return false, campaign.NilUUID, err
		} else if readItem2 != lk.LockID.String() {
			id, _ := campaign.ParseUUID(readItem2)
			// Item found in Redis, lock attempt failed.
			return false, id, nil
		}
		// We got the item locked, ensure we can unlock it.
		lk.IsLockOwner = true
	}
	// Successfully locked.
	return true, campaign.NilUUID, nil
}

// IsLocked reports whether all provided lock keys are currently owned by this process.
func (c client) IsLocked(ctx context.Context, lockKeys []*campaign.LockKey) (bool, error) {
	r := true
	var lastErr error
	for _, lk := range lockKeys {
		found, readItem, err := c.rawGet(ctx, lk.Key)
		if !found || err != nil {
			lk.IsLockOwner = false
			r = false
			if err != nil {
				lastErr = err
			}
			continue
		}
		// Item found in Redis has different value, means key is locked by a different caller.
		if readItem != lk.LockID.String() {
			lk.IsLockOwner = false
			r = false
			continue
		}
		lk.IsLockOwner = true
	}
	return r, lastErr
}

// Unlock releases the provided lock keys, deleting only those owned by this process.
func (c client) Unlock(ctx context.Context, lockKeys []*campaign.LockKey) error {
	var lastErr error
	for _, lk := range lockKeys {
		if !lk.IsLockOwner {
			continue
		}
		// Delete lock key if we own it.
		if err := c.conn.Client.Del(ctx, lk.Key).Err(); err != nil {
			if c.keyNotFound(err) {
				// Ignore if key not in cache, not an issue.
				continue
			}
			lastErr = err
		}
	}
	return lastErr
}

// CreateLockKeys creates lock keys using newly generated lock IDs for each provided key name.
func (c client) CreateLockKeys(keys []string) []*campaign.LockKey {
	lockKeys := make([]*campaign.LockKey, len(keys))
	for i := range keys {
		lockKeys[i] = &campaign.LockKey{
			// Prefix key with "L" to increase uniqueness.
			Key:    c.FormatLockKey(keys[i]),
			LockID: campaign.NewUUID(),
		}
	}
	return lockKeys
}

// FormatLockKey prefixes the key with 'L' to form the namespaced Redis key used for locking.
func (c client) FormatLockKey(k string) string {
	return fmt.Sprintf("L%s", k)
}

// rawGet reads a key without the cache namespace prefix.
func (c client) rawGet(ctx context.Context, key string) (bool, string, error) {
	s, err := c.conn.Client.Get(ctx, key).Result()
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// rawSet writes a key without the cache namespace prefix.
func (c client) rawSet(ctx context.Context, key string, value string, expiration time.Duration) error {
	return c.conn.Client.Set(ctx, key, value, expiration).Err()
}
