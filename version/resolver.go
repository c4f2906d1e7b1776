package version

import (
	"context"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

// Resolver answers as-of lookups over (branch, worldTime), walking the branch
// ancestry chain.
type Resolver struct {
	versions campaign.VersionRepository
	branches campaign.BranchRepository
}

// NewResolver wires the resolver over its repositories.
func NewResolver(versions campaign.VersionRepository, branches campaign.BranchRepository) *Resolver {
	return &Resolver{
		versions: versions,
		branches: branches,
	}
}

// Resolve returns the version of the entity visible on the branch at
// worldTime, or absent. Starting at the branch itself, each ancestor is
// consulted with the world time cut down to the divergence point of the child
// we arrived from, so a branch never observes ancestor mutations made after
// it diverged. Sibling branches are mutually invisible by construction: a
// sibling is never on the ancestry chain.
func (r *Resolver) Resolve(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID,
	worldTime time.Time) (campaign.Version, bool, error) {
	branch, found, err := r.branches.Get(ctx, branchID)
	if err != nil {
		return campaign.Version{}, false, campaign.NewError(campaign.Transient, err)
	}
	if !found {
		return campaign.Version{}, false, campaign.Errorf(campaign.NotFound, "branch %s does not exist", branchID)
	}

	t := worldTime
	visited := make(map[campaign.UUID]bool)
	for {
		if visited[branch.ID] {
			return campaign.Version{}, false, campaign.Errorf(campaign.BadRequest, "branch ancestry of %s contains a cycle", branchID)
		}
		visited[branch.ID] = true

		v, found, err := r.versions.ResolveInBranch(ctx, entityType, entityID, branch.ID, t)
		if err != nil {
			return campaign.Version{}, false, campaign.NewError(campaign.Transient, err)
		}
		if found {
			return v, true, nil
		}
		if branch.IsRoot() {
			return campaign.Version{}, false, nil
		}
		// In the parent we may only see up to the point we diverged from it.
		if branch.DivergedAt != nil && branch.DivergedAt.Before(t) {
			t = *branch.DivergedAt
		}
		parent, found, err := r.branches.Get(ctx, *branch.ParentID)
		if err != nil {
			return campaign.Version{}, false, campaign.NewError(campaign.Transient, err)
		}
		if !found {
			return campaign.Version{}, false, campaign.Errorf(campaign.NotFound, "branch %s names missing parent %s", branch.ID, *branch.ParentID)
		}
		branch = parent
	}
}

// ResolveDocument resolves and decodes in one step.
func (r *Resolver) ResolveDocument(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID,
	worldTime time.Time) (campaign.Document, bool, error) {
	v, found, err := r.Resolve(ctx, entityType, entityID, branchID, worldTime)
	if err != nil || !found {
		return nil, false, err
	}
	doc, err := encoding.DecodePayload(v.Payload)
	if err != nil {
		return nil, false, campaign.NewError(campaign.BadRequest, err)
	}
	return doc, true, nil
}
