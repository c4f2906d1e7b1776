package version_test

import (
	"context"
	"testing"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/mocks"
	"github.com/jakekausler/campaign-manager-sub010/version"
)

func addChild(t *testing.T, branches *mocks.MockBranchRepository, parent campaign.Branch, name string, divergedAt time.Time) campaign.Branch {
	t.Helper()
	child := campaign.Branch{
		ID:         campaign.NewUUID(),
		CampaignID: parent.CampaignID,
		Name:       name,
		ParentID:   &parent.ID,
		DivergedAt: &divergedAt,
		CreatedAt:  time.Now(),
		CreatedBy:  user.ID,
	}
	if err := branches.Add(context.Background(), child); err != nil {
		t.Fatalf("adding branch %s failed: %v", name, err)
	}
	return child
}

// Main writes stage "initial" at t0 and "developed" at t2; a child diverges at
// t1 in between. The child keeps seeing "initial" forever, main moves on.
func TestResolveHonorsDivergencePoint(t *testing.T) {
	ctx := context.Background()
	store, versions, branches, root := newFixture()
	resolver := version.NewResolver(versions, branches)

	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(0), nil, campaign.Document{"stage": "initial"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	child := addChild(t, branches, root, "what-if", worldTime(1))
	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(2), nil, campaign.Document{"stage": "developed"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}

	doc, found, err := resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-1", child.ID, worldTime(3))
	if err != nil || !found {
		t.Fatalf("resolve on child: found=%v err=%v", found, err)
	}
	if doc["stage"] != "initial" {
		t.Errorf("child at t3 sees %v, want initial", doc["stage"])
	}

	doc, found, err = resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-1", root.ID, worldTime(3))
	if err != nil || !found {
		t.Fatalf("resolve on main: found=%v err=%v", found, err)
	}
	if doc["stage"] != "developed" {
		t.Errorf("main at t3 sees %v, want developed", doc["stage"])
	}
}

func TestResolveWalksMultipleLevels(t *testing.T) {
	ctx := context.Background()
	store, versions, branches, root := newFixture()
	resolver := version.NewResolver(versions, branches)

	if _, err := store.CreateVersion(ctx, campaign.EntityTypeKingdom, "k-1", root.ID,
		worldTime(0), nil, campaign.Document{"ruler": "Aldric"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	child := addChild(t, branches, root, "era-2", worldTime(10))
	grandchild := addChild(t, branches, child, "era-3", worldTime(20))

	v, found, err := resolver.Resolve(ctx, campaign.EntityTypeKingdom, "k-1", grandchild.ID, worldTime(30))
	if err != nil || !found {
		t.Fatalf("resolve on grandchild: found=%v err=%v", found, err)
	}
	if v.BranchID != root.ID {
		t.Errorf("version should come from the root branch")
	}

	// A write on the middle branch shadows the root for the grandchild, as
	// long as it predates the grandchild's divergence.
	if _, err := store.CreateVersion(ctx, campaign.EntityTypeKingdom, "k-1", child.ID,
		worldTime(15), nil, campaign.Document{"ruler": "Beatrix"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	doc, found, err := resolver.ResolveDocument(ctx, campaign.EntityTypeKingdom, "k-1", grandchild.ID, worldTime(30))
	if err != nil || !found {
		t.Fatalf("resolve on grandchild: found=%v err=%v", found, err)
	}
	if doc["ruler"] != "Beatrix" {
		t.Errorf("grandchild sees %v, want Beatrix", doc["ruler"])
	}

	// A later write on the middle branch, after the grandchild diverged, is
	// invisible to it.
	if _, err := store.CreateVersion(ctx, campaign.EntityTypeKingdom, "k-1", child.ID,
		worldTime(25), nil, campaign.Document{"ruler": "Cassius"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	doc, _, _ = resolver.ResolveDocument(ctx, campaign.EntityTypeKingdom, "k-1", grandchild.ID, worldTime(30))
	if doc["ruler"] != "Beatrix" {
		t.Errorf("grandchild sees %v after post-divergence parent write, want Beatrix", doc["ruler"])
	}
}

func TestResolveSiblingsAreInvisible(t *testing.T) {
	ctx := context.Background()
	store, versions, branches, root := newFixture()
	resolver := version.NewResolver(versions, branches)

	a := addChild(t, branches, root, "path-a", worldTime(10))
	b := addChild(t, branches, root, "path-b", worldTime(10))

	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", a.ID,
		worldTime(20), nil, campaign.Document{"owner": "a"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if _, found, err := resolver.Resolve(ctx, campaign.EntityTypeSettlement, "s-1", b.ID, worldTime(30)); err != nil {
		t.Fatalf("resolve on sibling failed: %v", err)
	} else if found {
		t.Errorf("sibling branch should not see the other sibling's version")
	}
}

func TestResolveAbsentAndErrors(t *testing.T) {
	ctx := context.Background()
	_, versions, branches, root := newFixture()
	resolver := version.NewResolver(versions, branches)

	if _, found, err := resolver.Resolve(ctx, campaign.EntityTypeSettlement, "never", root.ID, worldTime(10)); err != nil || found {
		t.Errorf("unversioned entity: found=%v err=%v, want absent", found, err)
	}
	_, _, err := resolver.Resolve(ctx, campaign.EntityTypeSettlement, "s-1", campaign.NewUUID(), worldTime(10))
	if !campaign.IsCode(err, campaign.NotFound) {
		t.Errorf("unknown branch: code = %d, want NotFound", campaign.CodeOf(err))
	}
}
