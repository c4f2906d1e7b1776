// Package branch manages the branch forest: creation, ancestry traversal,
// lowest-common-ancestor search, forking and administrative deletion.
package branch

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/cache"
	"github.com/jakekausler/campaign-manager-sub010/version"
)

// Archiver stores a deleted branch's rows outside the database before they
// are removed.
type Archiver interface {
	ArchiveBranch(ctx context.Context, b campaign.Branch, versions []campaign.Version) error
}

// Tree manages branch records. Membership, audit, archiver and publisher are
// optional collaborators; a nil membership skips authorization (in-process
// callers that already checked).
type Tree struct {
	branches    campaign.BranchRepository
	versions    campaign.VersionRepository
	resolver    *version.Resolver
	locker      campaign.Cache
	invalidator *cache.Invalidator
	publisher   campaign.Publisher
	membership  campaign.Membership
	audit       campaign.Audit
	archiver    Archiver
}

// NewTree wires the branch tree over its repositories.
func NewTree(branches campaign.BranchRepository, versions campaign.VersionRepository, locker campaign.Cache,
	invalidator *cache.Invalidator, publisher campaign.Publisher) *Tree {
	return &Tree{
		branches:    branches,
		versions:    versions,
		resolver:    version.NewResolver(versions, branches),
		locker:      locker,
		invalidator: invalidator,
		publisher:   publisher,
	}
}

// WithMembership adds the authorization collaborator.
func (t *Tree) WithMembership(m campaign.Membership) *Tree {
	t.membership = m
	return t
}

// WithAudit adds the audit collaborator.
func (t *Tree) WithAudit(a campaign.Audit) *Tree {
	t.audit = a
	return t
}

// WithArchiver adds the deletion archiver.
func (t *Tree) WithArchiver(a Archiver) *Tree {
	t.archiver = a
	return t
}

// CreateRequest carries the branch creation arguments.
type CreateRequest struct {
	CampaignID  campaign.UUID
	Name        string
	Description string
	ParentID    *campaign.UUID
	DivergedAt  *time.Time
}

// Create inserts a new branch record. Roots have neither parent nor
// divergence point; child branches need both. Forking with a snapshot copy
// goes through Fork instead.
func (t *Tree) Create(ctx context.Context, req CreateRequest, user campaign.AuthenticatedUser) (campaign.Branch, error) {
	if (req.ParentID == nil) != (req.DivergedAt == nil) {
		return campaign.Branch{}, campaign.Errorf(campaign.BadRequest, "parentId and divergedAt must be set together")
	}
	if req.Name == "" {
		return campaign.Branch{}, campaign.Errorf(campaign.BadRequest, "branch name is required")
	}
	if err := t.authorize(ctx, user, req.CampaignID); err != nil {
		return campaign.Branch{}, err
	}
	if _, taken, err := t.branches.GetByName(ctx, req.CampaignID, req.Name); err != nil {
		return campaign.Branch{}, campaign.NewError(campaign.Transient, err)
	} else if taken {
		return campaign.Branch{}, campaign.Errorf(campaign.BadRequest, "branch name %q is already used in this campaign", req.Name)
	}
	if req.ParentID != nil {
		parent, found, err := t.branches.Get(ctx, *req.ParentID)
		if err != nil {
			return campaign.Branch{}, campaign.NewError(campaign.Transient, err)
		}
		if !found {
			return campaign.Branch{}, campaign.Errorf(campaign.NotFound, "parent branch %s does not exist", *req.ParentID)
		}
		if parent.CampaignID != req.CampaignID {
			return campaign.Branch{}, campaign.Errorf(campaign.BadRequest, "parent branch belongs to another campaign")
		}
		// The candidate parent's chain must terminate at a root; Ancestors
		// rejects cycles.
		if _, err := t.Ancestors(ctx, *req.ParentID); err != nil {
			return campaign.Branch{}, err
		}
	}

	b := campaign.Branch{
		ID:          campaign.NewUUID(),
		CampaignID:  req.CampaignID,
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
		DivergedAt:  req.DivergedAt,
		CreatedAt:   time.Now(),
		CreatedBy:   user.ID,
	}
	if err := t.branches.Add(ctx, b); err != nil {
		return campaign.Branch{}, campaign.NewError(campaign.Transient, err)
	}
	t.logAudit(ctx, user, "branch.create", b.ID)
	return b, nil
}

// Get fetches a branch, reporting NotFound when absent.
func (t *Tree) Get(ctx context.Context, id campaign.UUID) (campaign.Branch, error) {
	b, found, err := t.branches.Get(ctx, id)
	if err != nil {
		return campaign.Branch{}, campaign.NewError(campaign.Transient, err)
	}
	if !found {
		return campaign.Branch{}, campaign.Errorf(campaign.NotFound, "branch %s does not exist", id)
	}
	return b, nil
}

// List returns the campaign's branches.
func (t *Tree) List(ctx context.Context, campaignID campaign.UUID) ([]campaign.Branch, error) {
	return t.branches.ListByCampaign(ctx, campaignID)
}

// Ancestors returns the chain [branch, parent, ..., root]. A parent edge
// cycle is rejected rather than looped over.
func (t *Tree) Ancestors(ctx context.Context, branchID campaign.UUID) ([]campaign.Branch, error) {
	var chain []campaign.Branch
	visited := make(map[campaign.UUID]bool)
	id := branchID
	for {
		if visited[id] {
			return nil, campaign.Errorf(campaign.BadRequest, "branch ancestry of %s contains a cycle", branchID)
		}
		visited[id] = true
		b, err := t.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, b)
		if b.IsRoot() {
			return chain, nil
		}
		id = *b.ParentID
	}
}

// FindCommonAncestor returns the lowest common ancestor of two branches, or
// false when they share none (distinct trees of the forest). Lookup is a
// hash set over one chain rather than pointer chasing both.
func (t *Tree) FindCommonAncestor(ctx context.Context, branchA, branchB campaign.UUID) (campaign.Branch, bool, error) {
	chainA, err := t.Ancestors(ctx, branchA)
	if err != nil {
		return campaign.Branch{}, false, err
	}
	inA := make(map[campaign.UUID]bool, len(chainA))
	for _, b := range chainA {
		inA[b.ID] = true
	}
	chainB, err := t.Ancestors(ctx, branchB)
	if err != nil {
		return campaign.Branch{}, false, err
	}
	for _, b := range chainB {
		if inA[b.ID] {
			return b, true, nil
		}
	}
	return campaign.Branch{}, false, nil
}

// Delete removes a branch and its versions (administrative). The rows are
// archived first when an archiver is configured. Branches that still have
// children cannot be deleted.
func (t *Tree) Delete(ctx context.Context, branchID campaign.UUID, user campaign.AuthenticatedUser) error {
	b, err := t.Get(ctx, branchID)
	if err != nil {
		return err
	}
	if err := t.authorize(ctx, user, b.CampaignID); err != nil {
		return err
	}
	siblings, err := t.branches.ListByCampaign(ctx, b.CampaignID)
	if err != nil {
		return campaign.NewError(campaign.Transient, err)
	}
	for _, s := range siblings {
		if s.ParentID != nil && *s.ParentID == branchID {
			return campaign.Errorf(campaign.BadRequest, "branch %s still has child %s", branchID, s.ID)
		}
	}

	if t.archiver != nil {
		versions, err := t.versions.ListByBranch(ctx, branchID)
		if err != nil {
			return campaign.NewError(campaign.Transient, err)
		}
		if err := t.archiver.ArchiveBranch(ctx, b, versions); err != nil {
			return campaign.NewError(campaign.Transient, err)
		}
	}
	if err := t.versions.RemoveByBranch(ctx, branchID); err != nil {
		return campaign.NewError(campaign.Transient, err)
	}
	if err := t.branches.Remove(ctx, branchID); err != nil {
		return campaign.NewError(campaign.Transient, err)
	}
	if t.invalidator != nil {
		t.invalidator.InvalidateBranch(ctx, branchID.String())
	}
	t.logAudit(ctx, user, "branch.delete", branchID)
	return nil
}

func (t *Tree) authorize(ctx context.Context, user campaign.AuthenticatedUser, campaignID campaign.UUID) error {
	if t.membership == nil {
		return nil
	}
	ok, err := t.membership.CanEdit(ctx, user, campaignID)
	if err != nil {
		return campaign.NewError(campaign.Transient, err)
	}
	if !ok {
		// Absence and denial read the same to the caller.
		return campaign.Errorf(campaign.NotFound, "campaign %s does not exist", campaignID)
	}
	return nil
}

func (t *Tree) logAudit(ctx context.Context, user campaign.AuthenticatedUser, action string, branchID campaign.UUID) {
	if t.audit == nil {
		return
	}
	if err := t.audit.Log(ctx, campaign.AuditEntry{
		User:       user.ID,
		Action:     action,
		EntityType: campaign.EntityTypeCampaign,
		EntityID:   branchID.String(),
	}); err != nil {
		log.Warn(fmt.Sprintf("audit log of %s failed, details: %v", action, err))
	}
}
