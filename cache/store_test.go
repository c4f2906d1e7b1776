package cache_test

import (
	"context"
	"testing"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/cache"
	"github.com/jakekausler/campaign-manager-sub010/cachekey"
	"github.com/jakekausler/campaign-manager-sub010/mocks"
)

func newStore() (*cache.Store, *cache.Tracker) {
	cfg := campaign.DefaultConfig()
	tracker := cache.NewTracker(cfg)
	return cache.NewStore(mocks.NewMockCache(), cfg, tracker), tracker
}

func TestStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()

	key := cachekey.Build("computed-fields", "settlement", "s-1", "b-1")
	var missed map[string]any
	if store.Get(ctx, key, &missed) {
		t.Fatalf("empty cache should miss")
	}

	store.Set(ctx, key, map[string]any{"defense": float64(50)}, 0)
	var got map[string]any
	if !store.Get(ctx, key, &got) {
		t.Fatalf("cached value should hit")
	}
	if got["defense"] != float64(50) {
		t.Errorf("cached value = %v, want 50", got["defense"])
	}

	if n := store.Delete(ctx, key); n != 1 {
		t.Errorf("Delete = %d, want 1", n)
	}
	if store.Get(ctx, key, &got) {
		t.Errorf("deleted key should miss")
	}
}

func TestStoreDeletePattern(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()

	for _, id := range []string{"s-1", "s-2", "s-3"} {
		store.Set(ctx, cachekey.Build("computed-fields", "settlement", id, "b-1"), id, time.Minute)
	}
	store.Set(ctx, cachekey.Build("computed-fields", "settlement", "s-9", "b-2"), "other branch", time.Minute)

	r := store.DeletePattern(ctx, cachekey.BranchPattern("b-1"))
	if !r.OK {
		t.Fatalf("DeletePattern failed: %s", r.Error)
	}
	if r.KeysDeleted != 3 {
		t.Errorf("KeysDeleted = %d, want 3", r.KeysDeleted)
	}
	var s string
	if !store.Get(ctx, cachekey.Build("computed-fields", "settlement", "s-9", "b-2"), &s) {
		t.Errorf("other branch entry should survive")
	}
}

func TestStoreStats(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore()

	key := cachekey.Build("computed-fields", "settlement", "s-1", "b-1")
	var v string
	store.Get(ctx, key, &v) // miss
	store.Set(ctx, key, "cached", 0)
	store.Get(ctx, key, &v) // hit
	store.Get(ctx, key, &v) // hit

	stats := store.GetStats()
	if !stats.Enabled {
		t.Fatalf("stats should be enabled by default configuration")
	}
	if stats.TotalHits != 2 || stats.TotalMisses != 1 || stats.TotalSets != 1 {
		t.Errorf("totals = %d/%d/%d, want 2/1/1", stats.TotalHits, stats.TotalMisses, stats.TotalSets)
	}
	if want := float64(2) / float64(3); stats.HitRate != want {
		t.Errorf("hit rate = %v, want %v", stats.HitRate, want)
	}
	byType := stats.ByType["computed-fields"]
	if byType.Hits != 2 || byType.Misses != 1 {
		t.Errorf("per-type counters = %+v", byType)
	}

	store.ResetStats()
	stats = store.GetStats()
	if stats.TotalHits != 0 || stats.TotalMisses != 0 {
		t.Errorf("reset should clear counters, got %+v", stats)
	}
}

func TestTrackerDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := campaign.DefaultConfig()
	cfg.CacheStatsTrackingEnabled = false
	tracker := cache.NewTracker(cfg)
	store := cache.NewStore(mocks.NewMockCache(), cfg, tracker)

	store.Set(ctx, "computed-fields:settlement:s-1:b-1", "v", 0)
	var v string
	store.Get(ctx, "computed-fields:settlement:s-1:b-1", &v)

	stats := store.GetStats()
	if stats.Enabled {
		t.Errorf("tracker should report disabled")
	}
	if stats.TotalHits != 0 || stats.TotalSets != 0 {
		t.Errorf("disabled tracker should not count, got %+v", stats)
	}
}

func TestEstimateTimeSaved(t *testing.T) {
	ctx := context.Background()
	store, tracker := newStore()

	key := cachekey.Build("computed-fields", "settlement", "s-1", "b-1")
	store.Set(ctx, key, "v", 0)
	var v string
	store.Get(ctx, key, &v)
	store.Get(ctx, key, &v)

	if got := tracker.EstimateTimeSaved(); got != 600*time.Millisecond {
		t.Errorf("EstimateTimeSaved = %v, want 600ms", got)
	}
}

func TestKeyPrefix(t *testing.T) {
	if got := cache.KeyPrefix("computed-fields:settlement:s-1:b-1"); got != "computed-fields" {
		t.Errorf("KeyPrefix = %q", got)
	}
	if got := cache.KeyPrefix("bare"); got != "bare" {
		t.Errorf("KeyPrefix of unseparated key = %q", got)
	}
}
