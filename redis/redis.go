// Package redis wraps the go-redis client behind the campaign.Cache contract:
// namespaced keys, struct (de)serialization, cursor-scan pattern deletion and
// the lock keys used to serialize version writes.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

// scanBatchSize bounds each SCAN/DEL round during pattern deletion.
const scanBatchSize = 100

type client struct {
	conn    *Connection
	isOwner bool
}

// Checks if Redis connection is open and returns the client interface if it is,
// otherwise returns an error.
func NewClient() campaign.Cache {
	return &client{
		conn: connection,
	}
}

// Opens a new Redis connection then returns a client wrapper for it.
// Returned wrapper has "Close" method you can call when you don't need it anymore.
func NewConnectionClient(options Options) campaign.CloseableCache {
	c := openConnection(options)
	return &client{
		conn:    c,
		isOwner: true,
	}
}

// Close this client's connection.
func (c *client) Close() error {
	if !c.isOwner || c.conn == nil {
		return nil
	}
	err := closeConnection(c.conn)
	c.conn = nil
	return err
}

// keyNotFound will detect whether error signifies key not found by Redis.
func (c client) keyNotFound(err error) bool {
	return err == redis.Nil
}

// formatKey applies the cache namespace prefix.
func (c client) formatKey(k string) string {
	return c.conn.Options.KeyPrefix + k
}

// Ping tests connectivity for redis (PONG should be returned)
func (c client) Ping(ctx context.Context) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	if err := c.conn.Client.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}

// Clear the cache. Be cautious calling this method as it will clear the Redis cache DB.
func (c client) Clear(ctx context.Context) error {
	return c.conn.Client.FlushDB(ctx).Err()
}

// Set executes the redis Set command
func (c client) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}
	return c.conn.Client.Set(ctx, c.formatKey(key), value, expiration).Err()
}

// Get executes the redis Get command
func (c client) Get(ctx context.Context, key string) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	s, err := c.conn.Client.Get(ctx, c.formatKey(key)).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// GetEx executes the redis GetEx command
func (c client) GetEx(ctx context.Context, key string, expiration time.Duration) (bool, string, error) {
	if c.conn == nil {
		return false, "", fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	s, err := c.conn.Client.GetEx(ctx, c.formatKey(key), expiration).Result()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, s, err
}

// SetStruct executes the redis Set command with a JSON-serialized value.
func (c client) SetStruct(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if c.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't create new client")
	}

	// No caching if expiration < 0.
	if expiration < 0 {
		return nil
	}

	ba, err := encoding.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	return c.conn.Client.Set(ctx, c.formatKey(key), ba, expiration).Err()
}

// GetStruct executes the redis Get command and JSON-deserializes into target.
func (c client) GetStruct(ctx context.Context, key string, target interface{}) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := c.conn.Client.Get(ctx, c.formatKey(key)).Bytes()
	if err == nil {
		err = encoding.DefaultMarshaler.Unmarshal(ba, target)
	}

	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// GetStructEx executes the redis GetEx command
func (c client) GetStructEx(ctx context.Context, key string, target interface{}, expiration time.Duration) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	if target == nil {
		return false, fmt.Errorf("target can't be nil")
	}
	ba, err := c.conn.Client.GetEx(ctx, c.formatKey(key), expiration).Bytes()
	if err == nil {
		err = encoding.DefaultMarshaler.Unmarshal(ba, target)
	}

	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// Delete executes the redis Del command
func (c client) Delete(ctx context.Context, keys []string) (bool, error) {
	if c.conn == nil {
		return false, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	formatted := make([]string, len(keys))
	for i := range keys {
		formatted[i] = c.formatKey(keys[i])
	}
	var rs = c.conn.Client.Del(ctx, formatted...)

	err := rs.Err()
	// Convert key not found into returning false and nil err.
	r := err == nil
	if c.keyNotFound(err) {
		err = nil
	}
	return r, err
}

// DeleteByPattern removes every key matching the Redis glob pattern. It scans
// with an incremental cursor in batches of scanBatchSize, deleting each
// non-empty batch, and loops until the cursor returns to its initial value.
// The namespace prefix is applied to the MATCH pattern before scanning; the
// scanned keys already carry it and are deleted as returned.
func (c client) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	if c.conn == nil {
		return 0, fmt.Errorf("Redis connection is not open, 'can't create new client")
	}
	match := c.formatKey(pattern)
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := c.conn.Client.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.conn.Client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return deleted, nil
}
