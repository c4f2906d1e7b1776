package cache

import (
	"context"
	"fmt"
	log "log/slog"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/cachekey"
)

// Cache key prefixes owned by the invalidation policies.
const (
	PrefixComputedFields = "computed-fields"
	PrefixStructures     = "structures"
	PrefixSpatial        = "spatial"
)

// CascadeResult is the combined outcome of one cascade.
type CascadeResult struct {
	OK          bool `json:"ok"`
	KeysDeleted int  `json:"keysDeleted"`
}

// Invalidator encodes the entity-shape-aware bulk invalidation policies over
// the Store. Cascades are idempotent; running one twice deletes nothing new.
type Invalidator struct {
	store *Store
}

// NewInvalidator wires the cascade policies over the store.
func NewInvalidator(store *Store) *Invalidator {
	return &Invalidator{store: store}
}

// InvalidateSettlement cascades a settlement change: its computed fields, its
// structure list, every structure's computed cache in the branch, and the
// branch's spatial region results. Deleting all structure computed caches
// over-invalidates; the stricter variant would need a DB scan per cascade.
func (inv *Invalidator) InvalidateSettlement(ctx context.Context, settlementID, branchID string) CascadeResult {
	deleted := inv.store.Delete(ctx,
		cachekey.Build(PrefixComputedFields, string(campaign.EntityTypeSettlement), settlementID, branchID),
		cachekey.Build(PrefixStructures, string(campaign.EntityTypeSettlement), settlementID, branchID),
	)
	ok := true
	for _, pattern := range []string{
		cachekey.Build(PrefixComputedFields, string(campaign.EntityTypeStructure), "*", branchID),
		cachekey.Build(PrefixSpatial, "settlements-in-region", "*", branchID),
	} {
		r := inv.store.DeletePattern(ctx, pattern)
		ok = ok && r.OK
		deleted += r.KeysDeleted
	}
	inv.store.stats.CascadeInvalidation(PrefixComputedFields)
	log.Info(fmt.Sprintf("settlement cascade: settlement %s branch %s, %d keys deleted", settlementID, branchID, deleted))
	return CascadeResult{OK: ok, KeysDeleted: deleted}
}

// InvalidateStructure cascades a structure change: the structure's computed
// fields plus the owning settlement's computed fields and structure list.
// Spatial caches are untouched; a structure change never moves geometry.
func (inv *Invalidator) InvalidateStructure(ctx context.Context, structureID, settlementID, branchID string) CascadeResult {
	deleted := inv.store.Delete(ctx,
		cachekey.Build(PrefixComputedFields, string(campaign.EntityTypeStructure), structureID, branchID),
		cachekey.Build(PrefixComputedFields, string(campaign.EntityTypeSettlement), settlementID, branchID),
		cachekey.Build(PrefixStructures, string(campaign.EntityTypeSettlement), settlementID, branchID),
	)
	inv.store.stats.CascadeInvalidation(PrefixComputedFields)
	log.Info(fmt.Sprintf("structure cascade: structure %s settlement %s branch %s, %d keys deleted", structureID, settlementID, branchID, deleted))
	return CascadeResult{OK: true, KeysDeleted: deleted}
}

// InvalidateComputedFieldDefinitions handles a change of the computed-field
// definitions themselves: every settlement and structure computed cache in
// the branch is stale.
func (inv *Invalidator) InvalidateComputedFieldDefinitions(ctx context.Context, branchID string) CascadeResult {
	ok := true
	deleted := 0
	for _, pattern := range []string{
		cachekey.Build(PrefixComputedFields, string(campaign.EntityTypeSettlement), "*", branchID),
		cachekey.Build(PrefixComputedFields, string(campaign.EntityTypeStructure), "*", branchID),
	} {
		r := inv.store.DeletePattern(ctx, pattern)
		ok = ok && r.OK
		deleted += r.KeysDeleted
	}
	inv.store.stats.CascadeInvalidation(PrefixComputedFields)
	log.Info(fmt.Sprintf("computed-field definition cascade: branch %s, %d keys deleted", branchID, deleted))
	return CascadeResult{OK: ok, KeysDeleted: deleted}
}

// InvalidateBranch removes every cache entry of a branch (branch deletion).
func (inv *Invalidator) InvalidateBranch(ctx context.Context, branchID string) CascadeResult {
	r := inv.store.DeletePattern(ctx, cachekey.BranchPattern(branchID))
	inv.store.stats.CascadeInvalidation(cachekey.BranchPattern(branchID))
	log.Info(fmt.Sprintf("branch-wide cache invalidation: branch %s, %d keys deleted", branchID, r.KeysDeleted))
	return CascadeResult{OK: r.OK, KeysDeleted: r.KeysDeleted}
}

// InvalidateEntity removes the per-entity caches after a version write,
// dispatching to the settlement/structure cascades when the entity shape
// demands one.
func (inv *Invalidator) InvalidateEntity(ctx context.Context, entityType campaign.EntityType, entityID, branchID string) CascadeResult {
	switch entityType {
	case campaign.EntityTypeSettlement:
		return inv.InvalidateSettlement(ctx, entityID, branchID)
	case campaign.EntityTypeStructure:
		// Without the owning settlement at hand, invalidate the entity's own
		// caches; callers that know the settlement use InvalidateStructure.
		r := inv.store.DeletePattern(ctx, cachekey.EntityPattern(string(entityType), entityID, branchID))
		return CascadeResult{OK: r.OK, KeysDeleted: r.KeysDeleted}
	default:
		r := inv.store.DeletePattern(ctx, cachekey.EntityPattern(string(entityType), entityID, branchID))
		return CascadeResult{OK: r.OK, KeysDeleted: r.KeysDeleted}
	}
}
