package cache

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// DeletePatternResult reports a pattern deletion. On failure OK is false,
// KeysDeleted is zero and Error carries the reason; the caller proceeds
// either way.
type DeletePatternResult struct {
	OK          bool   `json:"ok"`
	KeysDeleted int    `json:"keysDeleted"`
	Error       string `json:"error,omitempty"`
}

// Store is the graceful-degradation layer over a raw campaign.Cache. Cache
// faults must never break the correctness of the rest of the system, so
// every failure is swallowed into the return value: reads report absent,
// writes and deletes log and continue. All operations feed the tracker.
type Store struct {
	cache   campaign.Cache
	stats   *Tracker
	ttl     time.Duration
	logging bool
}

// NewStore wraps cache with the degradation/statistics layer.
func NewStore(c campaign.Cache, cfg campaign.Config, stats *Tracker) *Store {
	return &Store{
		cache:   c,
		stats:   stats,
		ttl:     cfg.CacheDefaultTTL,
		logging: cfg.CacheLoggingEnabled,
	}
}

// Get fetches and deserializes the entry into target, reporting whether it
// was found. Errors count as misses.
func (s *Store) Get(ctx context.Context, key string, target any) bool {
	found, err := s.cache.GetStruct(ctx, key, target)
	if err != nil {
		if s.logging {
			log.Debug(fmt.Sprintf("cache get %s failed, details: %v", key, err))
		}
		s.stats.Miss(key)
		return false
	}
	if !found {
		s.stats.Miss(key)
		return false
	}
	s.stats.Hit(key)
	return true
}

// Set serializes and caches value under key. A non-positive ttl uses the
// configured default.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	s.stats.Set(key)
	if err := s.cache.SetStruct(ctx, key, value, ttl); err != nil {
		// Tolerate cache failure.
		log.Warn(fmt.Sprintf("cache set %s failed, details: %v", key, err))
	}
}

// Delete removes the given keys, returning how many delete calls were issued.
func (s *Store) Delete(ctx context.Context, keys ...string) int {
	if len(keys) == 0 {
		return 0
	}
	if _, err := s.cache.Delete(ctx, keys); err != nil {
		log.Warn(fmt.Sprintf("cache delete %v failed, details: %v", keys, err))
		return 0
	}
	for _, k := range keys {
		s.stats.Invalidation(k, 1)
	}
	return len(keys)
}

// DeletePattern removes every key matching the Redis glob pattern.
func (s *Store) DeletePattern(ctx context.Context, pattern string) DeletePatternResult {
	n, err := s.cache.DeleteByPattern(ctx, pattern)
	if err != nil {
		log.Warn(fmt.Sprintf("cache pattern delete %s failed, details: %v", pattern, err))
		return DeletePatternResult{OK: false, KeysDeleted: 0, Error: err.Error()}
	}
	s.stats.Invalidation(pattern, n)
	if s.logging {
		log.Debug(fmt.Sprintf("cache pattern delete %s removed %d keys", pattern, n))
	}
	return DeletePatternResult{OK: true, KeysDeleted: n}
}

// GetStats returns the aggregate statistics snapshot.
func (s *Store) GetStats() Stats {
	return s.stats.Snapshot()
}

// ResetStats clears the statistics window.
func (s *Store) ResetStats() {
	s.stats.Reset()
}
