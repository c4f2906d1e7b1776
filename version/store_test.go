package version_test

import (
	"context"
	"testing"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
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

func newFixture() (*version.Store, *mocks.MockVersionRepository, *mocks.MockBranchRepository, campaign.Branch) {
	branches := mocks.NewMockBranchRepository()
	versions := mocks.NewMockVersionRepository(branches)
	store := version.NewStore(versions, branches, mocks.NewMockCache(), nil, mocks.NewMockPublisher())
	root := campaign.Branch{
		ID:         campaign.NewUUID(),
		CampaignID: campaign.NewUUID(),
		Name:       "main",
		CreatedAt:  time.Now(),
		CreatedBy:  user.ID,
	}
	branches.Add(context.Background(), root)
	return store, versions, branches, root
}

func TestCreateVersionClosesOpenInterval(t *testing.T) {
	ctx := context.Background()
	store, _, _, root := newFixture()

	first, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(10), nil, campaign.Document{"stage": "initial"}, user)
	if err != nil {
		t.Fatalf("first CreateVersion failed: %v", err)
	}
	if !first.IsOpen() {
		t.Fatalf("first version should be open")
	}

	second, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(20), nil, campaign.Document{"stage": "developed"}, user)
	if err != nil {
		t.Fatalf("second CreateVersion failed: %v", err)
	}
	if second.ParentVersionID == nil || *second.ParentVersionID != first.ID {
		t.Errorf("second version should supersede the first")
	}

	all, err := store.VersionsForEntity(ctx, campaign.EntityTypeSettlement, "s-1", root.ID, campaign.TimeWindow{})
	if err != nil {
		t.Fatalf("VersionsForEntity failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d versions, want 2", len(all))
	}
	if all[0].ValidTo == nil || !all[0].ValidTo.Equal(worldTime(20)) {
		t.Errorf("first interval should be closed at the second's validFrom")
	}
	if !all[1].IsOpen() {
		t.Errorf("second interval should be open")
	}

	doc, err := store.DecompressVersion(all[0])
	if err != nil {
		t.Fatalf("DecompressVersion failed: %v", err)
	}
	if doc["stage"] != "initial" {
		t.Errorf("payload round trip: stage = %v, want initial", doc["stage"])
	}
}

func TestCreateVersionEqualValidFromReplacesOpenInterval(t *testing.T) {
	ctx := context.Background()
	store, versions, branches, root := newFixture()

	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(10), nil, campaign.Document{"stage": "initial"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	replacement, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(10), nil, campaign.Document{"stage": "replaced"}, user)
	if err != nil {
		t.Fatalf("replacing CreateVersion failed: %v", err)
	}

	open, found, err := versions.GetOpen(ctx, campaign.EntityTypeSettlement, "s-1", root.ID)
	if err != nil || !found {
		t.Fatalf("GetOpen: found=%v err=%v", found, err)
	}
	if open.ID != replacement.ID {
		t.Errorf("the replacement should be the only open interval")
	}

	resolver := version.NewResolver(versions, branches)
	doc, found, err := resolver.ResolveDocument(ctx, campaign.EntityTypeSettlement, "s-1", root.ID, worldTime(10))
	if err != nil || !found {
		t.Fatalf("ResolveDocument: found=%v err=%v", found, err)
	}
	if doc["stage"] != "replaced" {
		t.Errorf("resolution at the shared validFrom = %v, want replaced", doc["stage"])
	}
}

func TestCreateVersionValidation(t *testing.T) {
	ctx := context.Background()
	store, _, branches, root := newFixture()

	// validTo <= validFrom.
	to := worldTime(10)
	_, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(10), &to, campaign.Document{}, user)
	if !campaign.IsCode(err, campaign.BadRequest) {
		t.Errorf("empty interval: code = %d, want BadRequest", campaign.CodeOf(err))
	}

	// Unknown branch.
	_, err = store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", campaign.NewUUID(),
		worldTime(10), nil, campaign.Document{}, user)
	if !campaign.IsCode(err, campaign.NotFound) {
		t.Errorf("unknown branch: code = %d, want NotFound", campaign.CodeOf(err))
	}

	// validFrom before the branch's divergence point.
	divergedAt := worldTime(20)
	child := campaign.Branch{
		ID:         campaign.NewUUID(),
		CampaignID: root.CampaignID,
		Name:       "what-if",
		ParentID:   &root.ID,
		DivergedAt: &divergedAt,
		CreatedAt:  time.Now(),
		CreatedBy:  user.ID,
	}
	branches.Add(ctx, child)
	_, err = store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", child.ID,
		worldTime(10), nil, campaign.Document{}, user)
	if !campaign.IsCode(err, campaign.BeforeDivergence) {
		t.Errorf("before divergence: code = %d, want BeforeDivergence", campaign.CodeOf(err))
	}

	// validFrom before the currently open interval.
	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(30), nil, campaign.Document{}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	_, err = store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(25), nil, campaign.Document{}, user)
	if !campaign.IsCode(err, campaign.BadRequest) {
		t.Errorf("backdated write: code = %d, want BadRequest", campaign.CodeOf(err))
	}
}

func TestCreateVersionRejectsOverlappingClosedInterval(t *testing.T) {
	ctx := context.Background()
	store, _, _, root := newFixture()

	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(10), nil, campaign.Document{"stage": "initial"}, user); err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	to := worldTime(40)
	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(20), &to, campaign.Document{"stage": "bounded"}, user); err != nil {
		t.Fatalf("bounded CreateVersion failed: %v", err)
	}

	// A new open interval inside the closed [20, 40) must be rejected.
	_, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(30), nil, campaign.Document{"stage": "inside"}, user)
	if !campaign.IsCode(err, campaign.BadRequest) {
		t.Errorf("overlapping write: code = %d, want BadRequest", campaign.CodeOf(err))
	}

	// Starting exactly at the closed interval's end is fine.
	if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(40), nil, campaign.Document{"stage": "after"}, user); err != nil {
		t.Errorf("write at the closed interval's end failed: %v", err)
	}
}

func TestCreateVersionLockContention(t *testing.T) {
	shared := mocks.NewMockCache()
	branches := mocks.NewMockBranchRepository()
	versions := mocks.NewMockVersionRepository(branches)
	root := campaign.Branch{ID: campaign.NewUUID(), CampaignID: campaign.NewUUID(), Name: "main"}
	branches.Add(context.Background(), root)
	store := version.NewStore(versions, branches, shared, nil, nil)

	// Another writer holds the entity's write-range lock.
	other := shared.CreateLockKeys([]string{version.WriteLockKey(campaign.EntityTypeSettlement, "s-1", root.ID)})
	if ok, _, err := shared.Lock(context.Background(), time.Minute, other); err != nil || !ok {
		t.Fatalf("pre-lock failed: ok=%v err=%v", ok, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(10), nil, campaign.Document{}, user)
	if !campaign.IsCode(err, campaign.WriteConflict) {
		t.Errorf("contended write: code = %d, want WriteConflict", campaign.CodeOf(err))
	}
}

func TestCommitFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	store, versions, _, root := newFixture()

	versions.CommitErr = context.DeadlineExceeded
	_, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		worldTime(10), nil, campaign.Document{"stage": "initial"}, user)
	if !campaign.IsCode(err, campaign.Transient) {
		t.Errorf("commit failure: code = %d, want Transient", campaign.CodeOf(err))
	}
	all, _ := versions.ListByBranch(ctx, root.ID)
	if len(all) != 0 {
		t.Errorf("failed commit wrote %d versions, want 0", len(all))
	}
}

func TestVersionsForEntityWindow(t *testing.T) {
	ctx := context.Background()
	store, _, _, root := newFixture()

	for _, day := range []int{10, 20, 30} {
		if _, err := store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
			worldTime(day), nil, campaign.Document{"day": day}, user); err != nil {
			t.Fatalf("CreateVersion failed: %v", err)
		}
	}
	got, err := store.VersionsForEntity(ctx, campaign.EntityTypeSettlement, "s-1", root.ID,
		campaign.TimeWindow{From: worldTime(15), To: worldTime(30)})
	if err != nil {
		t.Fatalf("VersionsForEntity failed: %v", err)
	}
	if len(got) != 1 || !got[0].ValidFrom.Equal(worldTime(20)) {
		t.Errorf("window returned %d versions, want the day-20 one", len(got))
	}
}
