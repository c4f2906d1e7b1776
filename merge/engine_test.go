package merge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/branch"
	"github.com/jakekausler/campaign-manager-sub010/merge"
	"github.com/jakekausler/campaign-manager-sub010/mocks"
	"github.com/jakekausler/campaign-manager-sub010/version"
)

var (
	worldStart = time.Date(1200, 1, 1, 0, 0, 0, 0, time.UTC)
	user       = campaign.AuthenticatedUser{ID: "u-1", Email: "gm@example.com", Role: "gm"}
)

func worldTime(day int) time.Time {
	return worldStart.AddDate(0, 0, day)
}

type fixture struct {
	tree     *branch.Tree
	store    *version.Store
	engine   *merge.Engine
	resolver *version.Resolver
	versions *mocks.MockVersionRepository
	root     campaign.Branch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	branches := mocks.NewMockBranchRepository()
	versions := mocks.NewMockVersionRepository(branches)
	locker := mocks.NewMockCache()
	tree := branch.NewTree(branches, versions, locker, nil, nil)
	f := &fixture{
		tree:     tree,
		store:    version.NewStore(versions, branches, locker, nil, nil),
		engine:   merge.NewEngine(tree, versions, branches, locker, nil, mocks.NewMockPublisher()),
		resolver: version.NewResolver(versions, branches),
		versions: versions,
	}
	root, err := tree.Create(context.Background(), branch.CreateRequest{
		CampaignID: campaign.NewUUID(),
		Name:       "main",
	}, user)
	if err != nil {
		t.Fatalf("creating the root branch failed: %v", err)
	}
	f.root = root
	return f
}

func (f *fixture) child(t *testing.T, name string, day int) campaign.Branch {
	t.Helper()
	at := worldTime(day)
	b, err := f.tree.Create(context.Background(), branch.CreateRequest{
		CampaignID: f.root.CampaignID,
		Name:       name,
		ParentID:   &f.root.ID,
		DivergedAt: &at,
	}, user)
	if err != nil {
		t.Fatalf("creating branch %s failed: %v", name, err)
	}
	return b
}

func (f *fixture) write(t *testing.T, entityID string, branchID campaign.UUID, day int, doc campaign.Document) campaign.Version {
	t.Helper()
	v, err := f.store.CreateVersion(context.Background(), campaign.EntityTypeSettlement, entityID, branchID,
		worldTime(day), nil, doc, user)
	if err != nil {
		t.Fatalf("CreateVersion on day %d failed: %v", day, err)
	}
	return v
}

func TestExecuteMergeConflictFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.write(t, "s-1", f.root.ID, 10, campaign.Document{"population": float64(1000), "defense": float64(10)})
	a := f.child(t, "path-a", 20)
	b := f.child(t, "path-b", 20)
	f.write(t, "s-1", a.ID, 30, campaign.Document{"population": float64(1500), "defense": float64(20), "motto": "onward"})
	f.write(t, "s-1", b.ID, 40, campaign.Document{"population": float64(1200), "defense": float64(30)})

	req := merge.Request{
		SourceBranchID:   a.ID,
		TargetBranchID:   b.ID,
		CommonAncestorID: f.root.ID,
		WorldTime:        worldTime(50),
	}
	result, err := f.engine.ExecuteMerge(ctx, req, user)
	if !campaign.IsCode(err, campaign.UnresolvedConflicts) {
		t.Fatalf("unresolved merge: code = %d, want UnresolvedConflicts", campaign.CodeOf(err))
	}
	if result.ConflictsCount != 2 {
		t.Errorf("ConflictsCount = %d, want 2", result.ConflictsCount)
	}
	var e campaign.Error
	if !errors.As(err, &e) {
		t.Fatalf("merge error should carry the conflict list")
	}
	conflicts := e.UserData.([]campaign.Conflict)
	paths := map[string]bool{}
	for _, c := range conflicts {
		paths[c.Path] = true
	}
	if len(conflicts) != 2 || !paths["population"] || !paths["defense"] {
		t.Errorf("conflicts = %+v, want population and defense", conflicts)
	}

	// Nothing may have been written by the aborted attempt.
	if rows, _ := f.versions.ListForEntity(ctx, campaign.EntityTypeSettlement, "s-1", b.ID, campaign.TimeWindow{}); len(rows) != 1 {
		t.Fatalf("aborted merge wrote rows: %d, want 1", len(rows))
	}

	// The superfluous third resolution matches no conflict and must not be
	// counted or applied.
	req.Resolutions = []campaign.ConflictResolution{
		{EntityType: campaign.EntityTypeSettlement, EntityID: "s-1", Path: "population", ResolvedValue: float64(1400)},
		{EntityType: campaign.EntityTypeSettlement, EntityID: "s-1", Path: "defense", ResolvedValue: float64(25)},
		{EntityType: campaign.EntityTypeSettlement, EntityID: "s-1", Path: "banner", ResolvedValue: "raven"},
	}
	result, err = f.engine.ExecuteMerge(ctx, req, user)
	if err != nil {
		t.Fatalf("resolved merge failed: %v", err)
	}
	if !result.Success || result.VersionsCreated != 1 || result.ConflictsCount != 2 {
		t.Errorf("result = %+v", result)
	}

	doc, found, err := f.resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-1", b.ID, worldTime(60))
	if err != nil || !found {
		t.Fatalf("post-merge resolve: found=%v err=%v", found, err)
	}
	if doc["population"] != float64(1400) || doc["defense"] != float64(25) || doc["motto"] != "onward" {
		t.Errorf("merged document = %v", doc)
	}

	histories, err := f.versions.ListForBranch(ctx, b.ID)
	if err != nil || len(histories) != 1 {
		t.Fatalf("merge history: %d entries, err=%v", len(histories), err)
	}
	h := histories[0]
	if h.SourceBranchID != a.ID || h.ConflictsCount != 2 || h.EntitiesMerged != 1 {
		t.Errorf("history = %+v", h)
	}
}

func TestExecuteMergeCleanChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.write(t, "s-2", f.root.ID, 10, campaign.Document{"status": "quiet"})
	f.write(t, "s-3", f.root.ID, 10, campaign.Document{"status": "untouched"})
	a := f.child(t, "path-a", 20)
	b := f.child(t, "path-b", 20)
	f.write(t, "s-2", a.ID, 30, campaign.Document{"status": "raided"})

	result, err := f.engine.ExecuteMerge(ctx, merge.Request{
		SourceBranchID:   a.ID,
		TargetBranchID:   b.ID,
		CommonAncestorID: f.root.ID,
		WorldTime:        worldTime(50),
	}, user)
	if err != nil {
		t.Fatalf("clean merge failed: %v", err)
	}
	if result.VersionsCreated != 1 {
		t.Errorf("VersionsCreated = %d, want only the changed entity", result.VersionsCreated)
	}
	if len(result.MergedEntityIDs) != 1 || result.MergedEntityIDs[0].EntityID != "s-2" {
		t.Errorf("MergedEntityIDs = %+v", result.MergedEntityIDs)
	}
	doc, _, _ := f.resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-2", b.ID, worldTime(60))
	if doc["status"] != "raided" {
		t.Errorf("target status = %v, want raided", doc["status"])
	}
}

func TestExecuteMergeClampsToTargetDivergence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.write(t, "s-1", f.root.ID, 10, campaign.Document{"population": float64(1000)})
	a := f.child(t, "path-a", 12)
	b := f.child(t, "path-b", 20)
	f.write(t, "s-1", a.ID, 13, campaign.Document{"population": float64(1500)})

	result, err := f.engine.ExecuteMerge(ctx, merge.Request{
		SourceBranchID:   a.ID,
		TargetBranchID:   b.ID,
		CommonAncestorID: f.root.ID,
		WorldTime:        worldTime(15),
	}, user)
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if result.VersionsCreated != 1 {
		t.Errorf("VersionsCreated = %d, want 1", result.VersionsCreated)
	}

	// The write lands at the target's divergence point, never before it.
	open, found, _ := f.versions.GetOpen(ctx, campaign.EntityTypeSettlement, "s-1", b.ID)
	if !found || !open.ValidFrom.Equal(worldTime(20)) {
		t.Errorf("open interval starts at %v, want day 20", open.ValidFrom)
	}
	doc, found, err := f.resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-1", b.ID, worldTime(16))
	if err != nil || !found {
		t.Fatalf("pre-divergence resolve: found=%v err=%v", found, err)
	}
	if doc["population"] != float64(1000) {
		t.Errorf("pre-divergence population = %v, want the inherited 1000", doc["population"])
	}
	doc, _, _ = f.resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-1", b.ID, worldTime(25))
	if doc["population"] != float64(1500) {
		t.Errorf("post-divergence population = %v, want the merged 1500", doc["population"])
	}
}

func TestExecuteMergeRejectsBadAncestor(t *testing.T) {
	f := newFixture(t)
	a := f.child(t, "path-a", 20)
	b := f.child(t, "path-b", 20)

	_, err := f.engine.ExecuteMerge(context.Background(), merge.Request{
		SourceBranchID:   a.ID,
		TargetBranchID:   b.ID,
		CommonAncestorID: a.ID,
		WorldTime:        worldTime(50),
	}, user)
	if !campaign.IsCode(err, campaign.InvalidAncestor) {
		t.Errorf("sibling as ancestor: code = %d, want InvalidAncestor", campaign.CodeOf(err))
	}
}

func TestExecuteMergeRejectsNonMembers(t *testing.T) {
	f := newFixture(t)
	membership := mocks.NewMockMembership(true)
	membership.Allow("outsider", false)
	f.engine.WithMembership(membership)
	a := f.child(t, "path-a", 20)
	b := f.child(t, "path-b", 20)

	_, err := f.engine.ExecuteMerge(context.Background(), merge.Request{
		SourceBranchID:   a.ID,
		TargetBranchID:   b.ID,
		CommonAncestorID: f.root.ID,
		WorldTime:        worldTime(50),
	}, campaign.AuthenticatedUser{ID: "outsider"})
	if !campaign.IsCode(err, campaign.NotFound) {
		t.Errorf("denied user: code = %d, want NotFound", campaign.CodeOf(err))
	}
}

func TestCherryPickConflictFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.write(t, "s-1", f.root.ID, 10, campaign.Document{"population": float64(1000)})
	a := f.child(t, "path-a", 20)
	b := f.child(t, "path-b", 20)
	picked := f.write(t, "s-1", a.ID, 30, campaign.Document{"population": float64(1500)})
	f.write(t, "s-1", b.ID, 40, campaign.Document{"population": float64(1200)})

	res, err := f.engine.CherryPick(ctx, picked.ID, b.ID, user, nil)
	if err != nil {
		t.Fatalf("conflicted cherry-pick should not error: %v", err)
	}
	if res.Success || len(res.Conflicts) != 1 || res.Conflicts[0].Path != "population" {
		t.Fatalf("result = %+v, want one population conflict", res)
	}

	res, err = f.engine.CherryPick(ctx, picked.ID, b.ID, user, []campaign.ConflictResolution{
		{EntityType: campaign.EntityTypeSettlement, EntityID: "s-1", Path: "population", ResolvedValue: float64(1350)},
	})
	if err != nil || !res.Success || res.VersionID == nil {
		t.Fatalf("resolved cherry-pick: res=%+v err=%v", res, err)
	}

	doc, _, _ := f.resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-1", b.ID, worldTime(50))
	if doc["population"] != float64(1350) {
		t.Errorf("target population = %v, want 1350", doc["population"])
	}
	// The picked version predates the target's open interval, so the write is
	// clamped to that interval's start.
	open, found, _ := f.versions.GetOpen(ctx, campaign.EntityTypeSettlement, "s-1", b.ID)
	if !found || !open.ValidFrom.Equal(worldTime(40)) {
		t.Errorf("open interval starts at %v, want day 40", open.ValidFrom)
	}
}

func TestCherryPickCleanApply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.write(t, "s-2", f.root.ID, 10, campaign.Document{"status": "quiet"})
	a := f.child(t, "path-a", 20)
	b := f.child(t, "path-b", 20)
	picked := f.write(t, "s-2", a.ID, 30, campaign.Document{"status": "raided"})

	res, err := f.engine.CherryPick(ctx, picked.ID, b.ID, user, nil)
	if err != nil || !res.Success {
		t.Fatalf("clean cherry-pick: res=%+v err=%v", res, err)
	}
	doc, _, _ := f.resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-2", b.ID, worldTime(50))
	if doc["status"] != "raided" {
		t.Errorf("target status = %v, want raided", doc["status"])
	}
	open, found, _ := f.versions.GetOpen(ctx, campaign.EntityTypeSettlement, "s-2", b.ID)
	if !found || !open.ValidFrom.Equal(worldTime(30)) {
		t.Errorf("open interval starts at %v, want the picked version's validFrom", open.ValidFrom)
	}
}

func TestCherryPickUnknownVersion(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CherryPick(context.Background(), campaign.NewUUID(), f.root.ID, user, nil)
	if !campaign.IsCode(err, campaign.NotFound) {
		t.Errorf("unknown version: code = %d, want NotFound", campaign.CodeOf(err))
	}
}
