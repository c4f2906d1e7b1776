package merge

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/branch"
	"github.com/jakekausler/campaign-manager-sub010/cache"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
	"github.com/jakekausler/campaign-manager-sub010/version"
)

// Engine executes three-way merges and cherry-picks. All writes of one
// ExecuteMerge commit together or not at all.
type Engine struct {
	tree        *branch.Tree
	versions    campaign.VersionRepository
	resolver    *version.Resolver
	locker      campaign.Cache
	invalidator *cache.Invalidator
	publisher   campaign.Publisher
	membership  campaign.Membership
	audit       campaign.Audit
}

// NewEngine wires the merge engine.
func NewEngine(tree *branch.Tree, versions campaign.VersionRepository, branches campaign.BranchRepository,
	locker campaign.Cache, invalidator *cache.Invalidator, publisher campaign.Publisher) *Engine {
	return &Engine{
		tree:        tree,
		versions:    versions,
		resolver:    version.NewResolver(versions, branches),
		locker:      locker,
		invalidator: invalidator,
		publisher:   publisher,
	}
}

// WithMembership adds the authorization collaborator.
func (e *Engine) WithMembership(m campaign.Membership) *Engine {
	e.membership = m
	return e
}

// WithAudit adds the audit collaborator.
func (e *Engine) WithAudit(a campaign.Audit) *Engine {
	e.audit = a
	return e
}

// EntityVersions are the three sides of one entity's comparison; any side may
// be absent.
type EntityVersions struct {
	Base, Source, Target          campaign.Version
	HasBase, HasSource, HasTarget bool
}

// GetEntityVersionsForMerge resolves the ancestor, source and target versions
// of one entity at worldTime.
func (e *Engine) GetEntityVersionsForMerge(ctx context.Context, entityType campaign.EntityType, entityID string,
	sourceBranchID, targetBranchID, ancestorBranchID campaign.UUID, worldTime time.Time) (EntityVersions, error) {
	var ev EntityVersions
	var err error
	ev.Base, ev.HasBase, err = e.resolver.Resolve(ctx, entityType, entityID, ancestorBranchID, worldTime)
	if err != nil {
		return EntityVersions{}, err
	}
	ev.Source, ev.HasSource, err = e.resolver.Resolve(ctx, entityType, entityID, sourceBranchID, worldTime)
	if err != nil {
		return EntityVersions{}, err
	}
	ev.Target, ev.HasTarget, err = e.resolver.Resolve(ctx, entityType, entityID, targetBranchID, worldTime)
	if err != nil {
		return EntityVersions{}, err
	}
	return ev, nil
}

// Request carries the executeMerge arguments.
type Request struct {
	SourceBranchID   campaign.UUID
	TargetBranchID   campaign.UUID
	CommonAncestorID campaign.UUID
	WorldTime        time.Time
	Resolutions      []campaign.ConflictResolution
}

// ExecuteMerge merges source into target relative to the common ancestor.
// Unresolved conflicts abort the whole merge; nothing is written.
func (e *Engine) ExecuteMerge(ctx context.Context, req Request, user campaign.AuthenticatedUser) (campaign.MergeResult, error) {
	source, err := e.tree.Get(ctx, req.SourceBranchID)
	if err != nil {
		return campaign.MergeResult{}, err
	}
	target, err := e.tree.Get(ctx, req.TargetBranchID)
	if err != nil {
		return campaign.MergeResult{}, err
	}
	if err := e.authorize(ctx, user, target.CampaignID); err != nil {
		return campaign.MergeResult{}, err
	}
	if err := e.validateAncestor(ctx, req); err != nil {
		return campaign.MergeResult{}, err
	}

	// Both branches are locked for the duration so the comparison and the
	// commit see the same state.
	lockKeys := e.locker.CreateLockKeys([]string{
		branch.BranchLockKey(req.SourceBranchID),
		branch.BranchLockKey(req.TargetBranchID),
	})
	if err := version.AcquireLocks(ctx, e.locker, lockKeys); err != nil {
		return campaign.MergeResult{}, err
	}
	defer func() {
		if err := e.locker.Unlock(ctx, lockKeys); err != nil {
			log.Warn(fmt.Sprintf("unlock after merge failed, details: %v", err))
		}
	}()

	refs, err := e.entitiesToMerge(ctx, source, target, req)
	if err != nil {
		return campaign.MergeResult{}, err
	}

	resolutions := indexResolutions(req.Resolutions)
	var allConflicts []campaign.Conflict
	var closes, adds []campaign.Version
	var mergedRefs []campaign.EntityRef
	conflictsFound := 0
	now := time.Now()
	for _, ref := range refs {
		ev, err := e.GetEntityVersionsForMerge(ctx, ref.EntityType, ref.EntityID,
			req.SourceBranchID, req.TargetBranchID, req.CommonAncestorID, req.WorldTime)
		if err != nil {
			return campaign.MergeResult{}, err
		}
		baseDoc, err := decodeIfPresent(ev.Base, ev.HasBase)
		if err != nil {
			return campaign.MergeResult{}, err
		}
		sourceDoc, err := decodeIfPresent(ev.Source, ev.HasSource)
		if err != nil {
			return campaign.MergeResult{}, err
		}
		targetDoc, err := decodeIfPresent(ev.Target, ev.HasTarget)
		if err != nil {
			return campaign.MergeResult{}, err
		}

		cmp := CompareVersions(ref.EntityType, ref.EntityID, baseDoc, sourceDoc, targetDoc)
		conflictsFound += len(cmp.Conflicts)
		for _, c := range cmp.Conflicts {
			r, ok := resolutions[resolutionKey(c.EntityType, c.EntityID, c.Path)]
			if !ok {
				allConflicts = append(allConflicts, c)
				continue
			}
			if err := ApplyResolution(cmp.Merged, c.EntityType, c.Path, r.ResolvedValue); err != nil {
				return campaign.MergeResult{}, campaign.NewError(campaign.BadRequest, err)
			}
		}
		if len(allConflicts) > 0 {
			// Keep collecting so the caller sees every conflict at once.
			continue
		}
		if cmp.Merged == nil || deepEqual(campaign.Document(cmp.Merged), targetDoc) {
			continue
		}

		entityCloses, add, err := e.buildTargetWrite(ctx, ref, target, req.WorldTime, now, user, cmp.Merged, ev)
		if err != nil {
			return campaign.MergeResult{}, err
		}
		closes = append(closes, entityCloses...)
		adds = append(adds, add)
		mergedRefs = append(mergedRefs, ref)
	}

	if len(allConflicts) > 0 {
		return campaign.MergeResult{ConflictsCount: len(allConflicts)},
			campaign.Error{Code: campaign.UnresolvedConflicts,
				Err:      fmt.Errorf("%d unresolved conflicts", len(allConflicts)),
				UserData: allConflicts}
	}

	history := campaign.MergeHistory{
		ID:               campaign.NewUUID(),
		SourceBranchID:   req.SourceBranchID,
		TargetBranchID:   req.TargetBranchID,
		CommonAncestorID: req.CommonAncestorID,
		MergedAt:         now,
		MergedBy:         user.ID,
		WorldTime:        req.WorldTime,
		ConflictsCount:   conflictsFound,
		EntitiesMerged:   len(adds),
	}
	if err := e.versions.CommitMerge(ctx, closes, adds, history); err != nil {
		return campaign.MergeResult{}, campaign.NewError(campaign.Transient, err)
	}

	for _, ref := range mergedRefs {
		if e.invalidator != nil {
			e.invalidator.InvalidateEntity(ctx, ref.EntityType, ref.EntityID, req.TargetBranchID.String())
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, campaign.BranchMergedTopic(req.TargetBranchID), map[string]string{
			"sourceBranchId": req.SourceBranchID.String(),
			"targetBranchId": req.TargetBranchID.String(),
		}); err != nil {
			log.Warn(fmt.Sprintf("publish of merge notification failed, details: %v", err))
		}
	}
	e.logAudit(ctx, user, "branch.merge", req.TargetBranchID)

	return campaign.MergeResult{
		Success:         true,
		VersionsCreated: len(adds),
		MergedEntityIDs: mergedRefs,
		ConflictsCount:  conflictsFound,
	}, nil
}

// CherryPick applies one source version onto the target branch. The base is
// the target's state at the version's validFrom; the current target state is
// the other side. Unresolved conflicts are returned, not raised, so the
// caller can supply resolutions and retry.
func (e *Engine) CherryPick(ctx context.Context, versionID, targetBranchID campaign.UUID,
	user campaign.AuthenticatedUser, resolutions []campaign.ConflictResolution) (campaign.CherryPickResult, error) {
	v, found, err := e.versions.Get(ctx, versionID)
	if err != nil {
		return campaign.CherryPickResult{}, campaign.NewError(campaign.Transient, err)
	}
	if !found {
		return campaign.CherryPickResult{}, campaign.Errorf(campaign.NotFound, "version %s does not exist", versionID)
	}
	target, err := e.tree.Get(ctx, targetBranchID)
	if err != nil {
		return campaign.CherryPickResult{}, err
	}
	if err := e.authorize(ctx, user, target.CampaignID); err != nil {
		return campaign.CherryPickResult{}, err
	}

	lockKeys := e.locker.CreateLockKeys([]string{version.WriteLockKey(v.EntityType, v.EntityID, targetBranchID)})
	if err := version.AcquireLocks(ctx, e.locker, lockKeys); err != nil {
		return campaign.CherryPickResult{}, err
	}
	defer func() {
		if err := e.locker.Unlock(ctx, lockKeys); err != nil {
			log.Warn(fmt.Sprintf("unlock after cherry-pick failed, details: %v", err))
		}
	}()

	sourceDoc, err := encoding.DecodePayload(v.Payload)
	if err != nil {
		return campaign.CherryPickResult{}, campaign.NewError(campaign.BadRequest, err)
	}
	baseVersion, hasBase, err := e.resolver.Resolve(ctx, v.EntityType, v.EntityID, targetBranchID, v.ValidFrom)
	if err != nil {
		return campaign.CherryPickResult{}, err
	}
	baseDoc, err := decodeIfPresent(baseVersion, hasBase)
	if err != nil {
		return campaign.CherryPickResult{}, err
	}
	targetVersion, hasTarget, err := e.currentTargetVersion(ctx, v, targetBranchID, baseVersion, hasBase)
	if err != nil {
		return campaign.CherryPickResult{}, err
	}
	targetDoc, err := decodeIfPresent(targetVersion, hasTarget)
	if err != nil {
		return campaign.CherryPickResult{}, err
	}

	cmp := CompareVersions(v.EntityType, v.EntityID, baseDoc, sourceDoc, targetDoc)
	indexed := indexResolutions(resolutions)
	var unresolved []campaign.Conflict
	for _, c := range cmp.Conflicts {
		r, ok := indexed[resolutionKey(c.EntityType, c.EntityID, c.Path)]
		if !ok {
			unresolved = append(unresolved, c)
			continue
		}
		if err := ApplyResolution(cmp.Merged, c.EntityType, c.Path, r.ResolvedValue); err != nil {
			return campaign.CherryPickResult{}, campaign.NewError(campaign.BadRequest, err)
		}
	}
	if len(unresolved) > 0 {
		return campaign.CherryPickResult{Success: false, Conflicts: unresolved}, nil
	}

	ref := campaign.EntityRef{EntityType: v.EntityType, EntityID: v.EntityID}
	ev := EntityVersions{Source: v, HasSource: true, Target: targetVersion, HasTarget: hasTarget}
	closes, add, err := e.buildTargetWrite(ctx, ref, target, v.ValidFrom, time.Now(), user, cmp.Merged, ev)
	if err != nil {
		return campaign.CherryPickResult{}, err
	}
	if err := e.versions.CommitVersionChange(ctx, closes, []campaign.Version{add}); err != nil {
		return campaign.CherryPickResult{}, campaign.NewError(campaign.Transient, err)
	}
	if e.invalidator != nil {
		e.invalidator.InvalidateEntity(ctx, v.EntityType, v.EntityID, targetBranchID.String())
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, campaign.EntityChangedTopic(v.EntityType, v.EntityID), map[string]string{
			"branchId": targetBranchID.String(),
		}); err != nil {
			log.Warn(fmt.Sprintf("publish of cherry-pick notification failed, details: %v", err))
		}
	}
	e.logAudit(ctx, user, "version.cherrypick", targetBranchID)
	addID := add.ID
	return campaign.CherryPickResult{Success: true, VersionID: &addID}, nil
}

// validateAncestor fails with InvalidAncestor unless the named branch is on
// both ancestry chains.
func (e *Engine) validateAncestor(ctx context.Context, req Request) error {
	for _, id := range []campaign.UUID{req.SourceBranchID, req.TargetBranchID} {
		chain, err := e.tree.Ancestors(ctx, id)
		if err != nil {
			return err
		}
		onChain := false
		for _, b := range chain {
			if b.ID == req.CommonAncestorID {
				onChain = true
				break
			}
		}
		if !onChain {
			return campaign.Errorf(campaign.InvalidAncestor, "branch %s is not an ancestor of %s", req.CommonAncestorID, id)
		}
	}
	return nil
}

// entitiesToMerge enumerates entities with any version touching ancestor,
// source or target up to worldTime.
func (e *Engine) entitiesToMerge(ctx context.Context, source, target campaign.Branch, req Request) ([]campaign.EntityRef, error) {
	seen := make(map[campaign.EntityRef]bool)
	var refs []campaign.EntityRef
	for _, b := range []campaign.Branch{source, target} {
		found, err := e.tree.VisibleEntities(ctx, b, req.WorldTime)
		if err != nil {
			return nil, err
		}
		for _, ref := range found {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs, nil
}

// buildTargetWrite assembles the close+insert pair for one entity's merged
// payload on the target branch. The validFrom is clamped up to the target's
// divergence point and to the start of its open interval, so a merge never
// writes into the range the target inherits from its parent.
func (e *Engine) buildTargetWrite(ctx context.Context, ref campaign.EntityRef, target campaign.Branch,
	validFrom, now time.Time, user campaign.AuthenticatedUser, merged campaign.Document, ev EntityVersions) ([]campaign.Version, campaign.Version, error) {
	payload, err := encoding.EncodePayload(merged)
	if err != nil {
		return nil, campaign.Version{}, campaign.NewError(campaign.BadRequest, err)
	}
	if target.DivergedAt != nil && target.DivergedAt.After(validFrom) {
		validFrom = *target.DivergedAt
	}
	var closes []campaign.Version
	open, hasOpen, err := e.versions.GetOpen(ctx, ref.EntityType, ref.EntityID, target.ID)
	if err != nil {
		return nil, campaign.Version{}, campaign.NewError(campaign.Transient, err)
	}
	if hasOpen {
		if open.ValidFrom.After(validFrom) {
			validFrom = open.ValidFrom
		}
		closed := open
		closedAt := validFrom
		closed.ValidTo = &closedAt
		closes = append(closes, closed)
	}
	add := campaign.Version{
		ID:         campaign.NewUUID(),
		EntityType: ref.EntityType,
		EntityID:   ref.EntityID,
		BranchID:   target.ID,
		ValidFrom:  validFrom,
		Payload:    payload,
		CreatedAt:  now,
		CreatedBy:  user.ID,
	}
	if ev.HasSource {
		sourceID := ev.Source.ID
		add.ParentVersionID = &sourceID
	}
	return closes, add, nil
}

func (e *Engine) currentTargetVersion(ctx context.Context, v campaign.Version, targetBranchID campaign.UUID,
	base campaign.Version, hasBase bool) (campaign.Version, bool, error) {
	open, found, err := e.versions.GetOpen(ctx, v.EntityType, v.EntityID, targetBranchID)
	if err != nil {
		return campaign.Version{}, false, campaign.NewError(campaign.Transient, err)
	}
	if found {
		return open, true, nil
	}
	// No open interval on the target branch itself; the inherited state is
	// whatever the base resolution found.
	return base, hasBase, nil
}

func (e *Engine) authorize(ctx context.Context, user campaign.AuthenticatedUser, campaignID campaign.UUID) error {
	if e.membership == nil {
		return nil
	}
	ok, err := e.membership.CanEdit(ctx, user, campaignID)
	if err != nil {
		return campaign.NewError(campaign.Transient, err)
	}
	if !ok {
		return campaign.Errorf(campaign.NotFound, "campaign %s does not exist", campaignID)
	}
	return nil
}

func (e *Engine) logAudit(ctx context.Context, user campaign.AuthenticatedUser, action string, branchID campaign.UUID) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, campaign.AuditEntry{
		User:       user.ID,
		Action:     action,
		EntityType: campaign.EntityTypeCampaign,
		EntityID:   branchID.String(),
	}); err != nil {
		log.Warn(fmt.Sprintf("audit log of %s failed, details: %v", action, err))
	}
}

func indexResolutions(resolutions []campaign.ConflictResolution) map[string]campaign.ConflictResolution {
	out := make(map[string]campaign.ConflictResolution, len(resolutions))
	for _, r := range resolutions {
		out[resolutionKey(r.EntityType, r.EntityID, r.Path)] = r
	}
	return out
}

func resolutionKey(entityType campaign.EntityType, entityID, path string) string {
	return string(entityType) + "\x00" + entityID + "\x00" + path
}

func decodeIfPresent(v campaign.Version, present bool) (campaign.Document, error) {
	if !present {
		return nil, nil
	}
	doc, err := encoding.DecodePayload(v.Payload)
	if err != nil {
		return nil, campaign.NewError(campaign.BadRequest, err)
	}
	return doc, nil
}
