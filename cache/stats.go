// Package cache layers the branching core's caching policy over a raw
// campaign.Cache: a graceful-degradation store that never lets a cache fault
// break a request, per-type statistics, and the entity-shape-aware cascade
// invalidator.
package cache

import (
	"strings"
	"sync"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// TypeStats are the per-prefix counters.
type TypeStats struct {
	Hits                 int64 `json:"hits"`
	Misses               int64 `json:"misses"`
	Sets                 int64 `json:"sets"`
	Invalidations        int64 `json:"invalidations"`
	CascadeInvalidations int64 `json:"cascadeInvalidations"`
}

// Stats is the aggregate snapshot returned by the tracker.
type Stats struct {
	ByType                    map[string]TypeStats `json:"byType"`
	TotalHits                 int64                `json:"totalHits"`
	TotalMisses               int64                `json:"totalMisses"`
	HitRate                   float64              `json:"hitRate"`
	TotalSets                 int64                `json:"totalSets"`
	TotalInvalidations        int64                `json:"totalInvalidations"`
	TotalCascadeInvalidations int64                `json:"totalCascadeInvalidations"`
	StartTime                 time.Time            `json:"startTime"`
	Enabled                   bool                 `json:"enabled"`
}

// Per-prefix cost estimates for the time-saved report. Rebuilding computed
// fields is by far the most expensive miss.
var timeSavedPerHit = map[string]time.Duration{
	"computed-fields": 300 * time.Millisecond,
	"spatial":         100 * time.Millisecond,
}

const (
	listPrefixTimeSaved    = 25 * time.Millisecond
	defaultPrefixTimeSaved = 50 * time.Millisecond
)

// Tracker maintains process-local, monotonic cache counters keyed by the
// cache key's prefix. All methods are safe for concurrent use; disabled
// trackers are no-ops.
type Tracker struct {
	mu        sync.Mutex
	byType    map[string]*TypeStats
	startTime time.Time
	enabled   bool

	resetPeriod time.Duration
	stopReset   chan struct{}
}

// NewTracker builds a tracker from the process configuration. When the
// configured reset period is non-zero, call StartAutoReset/StopAutoReset from
// the process lifecycle hooks.
func NewTracker(cfg campaign.Config) *Tracker {
	return &Tracker{
		byType:      make(map[string]*TypeStats),
		startTime:   time.Now(),
		enabled:     cfg.CacheStatsTrackingEnabled && cfg.CacheMetricsEnabled,
		resetPeriod: cfg.CacheStatsResetPeriod,
	}
}

func (t *Tracker) counters(key string) *TypeStats {
	prefix := KeyPrefix(key)
	c, ok := t.byType[prefix]
	if !ok {
		c = &TypeStats{}
		t.byType[prefix] = c
	}
	return c
}

// Hit records a cache hit for the key's prefix.
func (t *Tracker) Hit(key string) {
	if t == nil || !t.enabled {
		return
	}
	t.mu.Lock()
	t.counters(key).Hits++
	t.mu.Unlock()
}

// Miss records a cache miss (or a read error, which counts as a miss).
func (t *Tracker) Miss(key string) {
	if t == nil || !t.enabled {
		return
	}
	t.mu.Lock()
	t.counters(key).Misses++
	t.mu.Unlock()
}

// Set records a cache write attempt.
func (t *Tracker) Set(key string) {
	if t == nil || !t.enabled {
		return
	}
	t.mu.Lock()
	t.counters(key).Sets++
	t.mu.Unlock()
}

// Invalidation records n invalidated keys under the key's prefix.
func (t *Tracker) Invalidation(key string, n int) {
	if t == nil || !t.enabled {
		return
	}
	t.mu.Lock()
	t.counters(key).Invalidations += int64(n)
	t.mu.Unlock()
}

// CascadeInvalidation records one cascade under the key's prefix.
func (t *Tracker) CascadeInvalidation(key string) {
	if t == nil || !t.enabled {
		return
	}
	t.mu.Lock()
	t.counters(key).CascadeInvalidations++
	t.mu.Unlock()
}

// Snapshot returns the aggregate statistics.
func (t *Tracker) Snapshot() Stats {
	if t == nil {
		return Stats{ByType: map[string]TypeStats{}}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{
		ByType:    make(map[string]TypeStats, len(t.byType)),
		StartTime: t.startTime,
		Enabled:   t.enabled,
	}
	for prefix, c := range t.byType {
		s.ByType[prefix] = *c
		s.TotalHits += c.Hits
		s.TotalMisses += c.Misses
		s.TotalSets += c.Sets
		s.TotalInvalidations += c.Invalidations
		s.TotalCascadeInvalidations += c.CascadeInvalidations
	}
	if total := s.TotalHits + s.TotalMisses; total > 0 {
		s.HitRate = float64(s.TotalHits) / float64(total)
	}
	return s
}

// Reset clears all counters and restarts the window.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.byType = make(map[string]*TypeStats)
	t.startTime = time.Now()
	t.mu.Unlock()
}

// EstimateTimeSaved multiplies per-prefix hits by the prefix's estimated
// rebuild cost.
func (t *Tracker) EstimateTimeSaved() time.Duration {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	for prefix, c := range t.byType {
		cost, ok := timeSavedPerHit[prefix]
		if !ok {
			if strings.HasSuffix(prefix, "s") {
				// List prefixes (e.g. "structures") are cheap lookups.
				cost = listPrefixTimeSaved
			} else {
				cost = defaultPrefixTimeSaved
			}
		}
		total += time.Duration(c.Hits) * cost
	}
	return total
}

// StartAutoReset begins the periodic window reset, when configured.
func (t *Tracker) StartAutoReset() {
	if t == nil || t.resetPeriod <= 0 || t.stopReset != nil {
		return
	}
	t.stopReset = make(chan struct{})
	go func(stop chan struct{}) {
		ticker := time.NewTicker(t.resetPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Reset()
			case <-stop:
				return
			}
		}
	}(t.stopReset)
}

// StopAutoReset stops the periodic reset started by StartAutoReset.
func (t *Tracker) StopAutoReset() {
	if t == nil || t.stopReset == nil {
		return
	}
	close(t.stopReset)
	t.stopReset = nil
}

// KeyPrefix extracts the statistics prefix (first segment) of a cache key or
// pattern. Patterns starting with a wildcard are bucketed under "*".
func KeyPrefix(key string) string {
	if i := strings.Index(key, ":"); i > 0 {
		return key[:i]
	}
	return key
}
