package branch

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/version"
)

// Fork creates a child branch diverging from the source at worldTime and
// snapshot-copies the resolved state of every entity visible in the source at
// that time. The child branch row and all snapshot versions commit together;
// a failure writes nothing. Forking twice produces two independent children.
func (t *Tree) Fork(ctx context.Context, sourceBranchID campaign.UUID, name, description string,
	worldTime time.Time, user campaign.AuthenticatedUser) (campaign.ForkResult, error) {
	source, err := t.Get(ctx, sourceBranchID)
	if err != nil {
		return campaign.ForkResult{}, err
	}
	if err := t.authorize(ctx, user, source.CampaignID); err != nil {
		return campaign.ForkResult{}, err
	}
	if name == "" {
		return campaign.ForkResult{}, campaign.Errorf(campaign.BadRequest, "branch name is required")
	}
	if _, taken, err := t.branches.GetByName(ctx, source.CampaignID, name); err != nil {
		return campaign.ForkResult{}, campaign.NewError(campaign.Transient, err)
	} else if taken {
		return campaign.ForkResult{}, campaign.Errorf(campaign.BadRequest, "branch name %q is already used in this campaign", name)
	}

	// Hold the branch-wide write lock so snapshotting races no writer on the
	// source branch.
	lockKeys := t.locker.CreateLockKeys([]string{BranchLockKey(sourceBranchID)})
	if err := version.AcquireLocks(ctx, t.locker, lockKeys); err != nil {
		return campaign.ForkResult{}, err
	}
	defer func() {
		if err := t.locker.Unlock(ctx, lockKeys); err != nil {
			log.Warn(fmt.Sprintf("unlock of %s failed, details: %v", lockKeys[0].Key, err))
		}
	}()

	refs, err := t.VisibleEntities(ctx, source, worldTime)
	if err != nil {
		return campaign.ForkResult{}, err
	}

	divergedAt := worldTime
	child := campaign.Branch{
		ID:          campaign.NewUUID(),
		CampaignID:  source.CampaignID,
		Name:        name,
		Description: description,
		ParentID:    &sourceBranchID,
		DivergedAt:  &divergedAt,
		CreatedAt:   time.Now(),
		CreatedBy:   user.ID,
	}

	adds := make([]campaign.Version, 0, len(refs))
	for _, ref := range refs {
		v, found, err := t.resolver.Resolve(ctx, ref.EntityType, ref.EntityID, sourceBranchID, worldTime)
		if err != nil {
			return campaign.ForkResult{}, err
		}
		if !found {
			continue
		}
		sourceVersionID := v.ID
		adds = append(adds, campaign.Version{
			ID:              campaign.NewUUID(),
			EntityType:      ref.EntityType,
			EntityID:        ref.EntityID,
			BranchID:        child.ID,
			ValidFrom:       worldTime,
			Payload:         v.Payload,
			CreatedAt:       child.CreatedAt,
			CreatedBy:       user.ID,
			ParentVersionID: &sourceVersionID,
		})
	}

	if err := t.versions.CommitFork(ctx, child, adds); err != nil {
		return campaign.ForkResult{}, campaign.NewError(campaign.Transient, err)
	}
	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, campaign.BranchForkedTopic(child.ID), map[string]string{
			"branchId": child.ID.String(),
			"parentId": sourceBranchID.String(),
		}); err != nil {
			log.Warn(fmt.Sprintf("publish of fork notification failed, details: %v", err))
		}
	}
	t.logAudit(ctx, user, "branch.fork", child.ID)
	return campaign.ForkResult{Branch: child, VersionsCopied: len(adds)}, nil
}

// BranchLockKey names the branch-wide write lock used by fork and merge.
func BranchLockKey(branchID campaign.UUID) string {
	return "branch:" + branchID.String()
}

// VisibleEntities enumerates the entities with any chance of resolving on the
// branch at worldTime: everything versioned on the branch itself plus on its
// ancestors, with the enumeration cut down to each divergence point the same
// way resolution is.
func (t *Tree) VisibleEntities(ctx context.Context, b campaign.Branch, worldTime time.Time) ([]campaign.EntityRef, error) {
	chain, err := t.Ancestors(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	seen := make(map[campaign.EntityRef]bool)
	var refs []campaign.EntityRef
	cut := worldTime
	for _, ancestor := range chain {
		found, err := t.versions.ListEntities(ctx, ancestor.ID, cut)
		if err != nil {
			return nil, campaign.NewError(campaign.Transient, err)
		}
		for _, ref := range found {
			if !seen[ref] {
				seen[ref] = true
				refs = append(refs, ref)
			}
		}
		if ancestor.DivergedAt != nil && ancestor.DivergedAt.Before(cut) {
			cut = *ancestor.DivergedAt
		}
	}
	return refs, nil
}
