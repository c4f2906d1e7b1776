package cache_test

import (
	"context"
	"testing"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/cache"
	"github.com/jakekausler/campaign-manager-sub010/cachekey"
	"github.com/jakekausler/campaign-manager-sub010/mocks"
)

func seededInvalidator(ctx context.Context, t *testing.T) (*cache.Invalidator, *cache.Store) {
	t.Helper()
	cfg := campaign.DefaultConfig()
	store := cache.NewStore(mocks.NewMockCache(), cfg, cache.NewTracker(cfg))
	// One settlement with two structures on branch b-1, plus spatial results
	// and an unrelated branch entry that must survive every cascade.
	for _, key := range []string{
		cachekey.Build(cache.PrefixComputedFields, "settlement", "s-1", "b-1"),
		cachekey.Build(cache.PrefixStructures, "settlement", "s-1", "b-1"),
		cachekey.Build(cache.PrefixComputedFields, "structure", "x-1", "b-1"),
		cachekey.Build(cache.PrefixComputedFields, "structure", "x-2", "b-1"),
		cachekey.Build(cache.PrefixSpatial, "", "", "b-1", "settlements-in-region", "r-1"),
		cachekey.Build(cache.PrefixComputedFields, "settlement", "s-1", "b-2"),
	} {
		store.Set(ctx, key, "cached", 0)
	}
	return cache.NewInvalidator(store), store
}

func TestSettlementCascade(t *testing.T) {
	ctx := context.Background()
	inv, store := seededInvalidator(ctx, t)

	r := inv.InvalidateSettlement(ctx, "s-1", "b-1")
	if !r.OK {
		t.Fatalf("cascade reported failure")
	}
	if r.KeysDeleted != 5 {
		t.Errorf("KeysDeleted = %d, want 5", r.KeysDeleted)
	}
	var v string
	if !store.Get(ctx, cachekey.Build(cache.PrefixComputedFields, "settlement", "s-1", "b-2"), &v) {
		t.Errorf("other branch entry should survive the cascade")
	}

	// Cascades are idempotent: a second run finds no pattern matches. The two
	// direct deletes are still issued (and counted) against absent keys.
	r = inv.InvalidateSettlement(ctx, "s-1", "b-1")
	if r.KeysDeleted != 2 {
		t.Errorf("second cascade deleted %d keys, want 2 issued deletes", r.KeysDeleted)
	}
}

func TestStructureCascade(t *testing.T) {
	ctx := context.Background()
	inv, store := seededInvalidator(ctx, t)

	r := inv.InvalidateStructure(ctx, "x-1", "s-1", "b-1")
	if r.KeysDeleted != 3 {
		t.Errorf("KeysDeleted = %d, want 3", r.KeysDeleted)
	}
	var v string
	// Structure changes never move geometry; spatial caches stay.
	if !store.Get(ctx, cachekey.Build(cache.PrefixSpatial, "", "", "b-1", "settlements-in-region", "r-1"), &v) {
		t.Errorf("spatial entry should survive a structure cascade")
	}
	if !store.Get(ctx, cachekey.Build(cache.PrefixComputedFields, "structure", "x-2", "b-1"), &v) {
		t.Errorf("sibling structure entry should survive a structure cascade")
	}
}

func TestComputedFieldDefinitionCascade(t *testing.T) {
	ctx := context.Background()
	inv, store := seededInvalidator(ctx, t)

	r := inv.InvalidateComputedFieldDefinitions(ctx, "b-1")
	if r.KeysDeleted != 3 {
		t.Errorf("KeysDeleted = %d, want 3", r.KeysDeleted)
	}
	var v string
	if !store.Get(ctx, cachekey.Build(cache.PrefixStructures, "settlement", "s-1", "b-1"), &v) {
		t.Errorf("structure list entry should survive a definition cascade")
	}
}

func TestBranchWideInvalidation(t *testing.T) {
	ctx := context.Background()
	inv, store := seededInvalidator(ctx, t)

	r := inv.InvalidateBranch(ctx, "b-1")
	if r.KeysDeleted != 5 {
		t.Errorf("KeysDeleted = %d, want 5", r.KeysDeleted)
	}
	var v string
	if !store.Get(ctx, cachekey.Build(cache.PrefixComputedFields, "settlement", "s-1", "b-2"), &v) {
		t.Errorf("other branch entry should survive")
	}
}

func TestInvalidateEntityDispatch(t *testing.T) {
	ctx := context.Background()
	inv, store := seededInvalidator(ctx, t)

	r := inv.InvalidateEntity(ctx, campaign.EntityTypeStructure, "x-1", "b-1")
	if r.KeysDeleted != 1 {
		t.Errorf("KeysDeleted = %d, want 1", r.KeysDeleted)
	}
	var v string
	if store.Get(ctx, cachekey.Build(cache.PrefixComputedFields, "structure", "x-1", "b-1"), &v) {
		t.Errorf("structure entry should be gone")
	}
}
