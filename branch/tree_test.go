package branch_test

import (
	"context"
	"testing"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/branch"
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
	tree       *branch.Tree
	store      *version.Store
	branches   *mocks.MockBranchRepository
	versions   *mocks.MockVersionRepository
	membership *mocks.MockMembership
	audit      *mocks.MockAudit
	publisher  *mocks.MockPublisher
	root       campaign.Branch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		branches:   mocks.NewMockBranchRepository(),
		membership: mocks.NewMockMembership(true),
		audit:      mocks.NewMockAudit(),
		publisher:  mocks.NewMockPublisher(),
	}
	f.versions = mocks.NewMockVersionRepository(f.branches)
	locker := mocks.NewMockCache()
	f.tree = branch.NewTree(f.branches, f.versions, locker, nil, f.publisher).
		WithMembership(f.membership).
		WithAudit(f.audit)
	f.store = version.NewStore(f.versions, f.branches, locker, nil, nil)

	root, err := f.tree.Create(context.Background(), branch.CreateRequest{
		CampaignID: campaign.NewUUID(),
		Name:       "main",
	}, user)
	if err != nil {
		t.Fatalf("creating the root branch failed: %v", err)
	}
	f.root = root
	return f
}

func (f *fixture) child(t *testing.T, parent campaign.Branch, name string, day int) campaign.Branch {
	t.Helper()
	at := worldTime(day)
	b, err := f.tree.Create(context.Background(), branch.CreateRequest{
		CampaignID: parent.CampaignID,
		Name:       name,
		ParentID:   &parent.ID,
		DivergedAt: &at,
	}, user)
	if err != nil {
		t.Fatalf("creating branch %s failed: %v", name, err)
	}
	return b
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tree.Create(ctx, branch.CreateRequest{CampaignID: f.root.CampaignID}, user)
	if !campaign.IsCode(err, campaign.BadRequest) {
		t.Errorf("missing name: code = %d, want BadRequest", campaign.CodeOf(err))
	}

	_, err = f.tree.Create(ctx, branch.CreateRequest{
		CampaignID: f.root.CampaignID,
		Name:       "dangling",
		ParentID:   &f.root.ID,
	}, user)
	if !campaign.IsCode(err, campaign.BadRequest) {
		t.Errorf("parentId without divergedAt: code = %d, want BadRequest", campaign.CodeOf(err))
	}

	_, err = f.tree.Create(ctx, branch.CreateRequest{CampaignID: f.root.CampaignID, Name: "main"}, user)
	if !campaign.IsCode(err, campaign.BadRequest) {
		t.Errorf("duplicate name: code = %d, want BadRequest", campaign.CodeOf(err))
	}

	missing := campaign.NewUUID()
	at := worldTime(10)
	_, err = f.tree.Create(ctx, branch.CreateRequest{
		CampaignID: f.root.CampaignID,
		Name:       "orphan",
		ParentID:   &missing,
		DivergedAt: &at,
	}, user)
	if !campaign.IsCode(err, campaign.NotFound) {
		t.Errorf("unknown parent: code = %d, want NotFound", campaign.CodeOf(err))
	}
}

func TestCreateRejectsNonMembers(t *testing.T) {
	f := newFixture(t)
	f.membership.Allow("outsider", false)

	_, err := f.tree.Create(context.Background(), branch.CreateRequest{
		CampaignID: f.root.CampaignID,
		Name:       "sneaky",
	}, campaign.AuthenticatedUser{ID: "outsider"})
	if !campaign.IsCode(err, campaign.NotFound) {
		t.Errorf("denied user: code = %d, want NotFound", campaign.CodeOf(err))
	}
}

func TestAncestorsAndCommonAncestor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.child(t, f.root, "era-2", 10)
	b := f.child(t, a, "era-3", 20)
	c := f.child(t, f.root, "what-if", 15)

	chain, err := f.tree.Ancestors(ctx, b.ID)
	if err != nil {
		t.Fatalf("Ancestors failed: %v", err)
	}
	if len(chain) != 3 || chain[0].ID != b.ID || chain[1].ID != a.ID || chain[2].ID != f.root.ID {
		t.Errorf("ancestry chain of era-3 is wrong: %+v", chain)
	}

	lca, found, err := f.tree.FindCommonAncestor(ctx, b.ID, c.ID)
	if err != nil || !found {
		t.Fatalf("FindCommonAncestor: found=%v err=%v", found, err)
	}
	if lca.ID != f.root.ID {
		t.Errorf("common ancestor of era-3 and what-if should be main")
	}

	lca, found, err = f.tree.FindCommonAncestor(ctx, b.ID, a.ID)
	if err != nil || !found {
		t.Fatalf("FindCommonAncestor: found=%v err=%v", found, err)
	}
	if lca.ID != a.ID {
		t.Errorf("common ancestor of a branch and its parent is the parent")
	}

	// A second root in the same campaign shares no ancestor with the first
	// tree.
	other, err := f.tree.Create(ctx, branch.CreateRequest{CampaignID: f.root.CampaignID, Name: "second-tree"}, user)
	if err != nil {
		t.Fatalf("creating second root failed: %v", err)
	}
	if _, found, err := f.tree.FindCommonAncestor(ctx, b.ID, other.ID); err != nil {
		t.Fatalf("FindCommonAncestor failed: %v", err)
	} else if found {
		t.Errorf("disjoint trees should have no common ancestor")
	}
}

func TestDeleteRejectsBranchWithChildren(t *testing.T) {
	f := newFixture(t)
	f.child(t, f.root, "era-2", 10)

	err := f.tree.Delete(context.Background(), f.root.ID, user)
	if !campaign.IsCode(err, campaign.BadRequest) {
		t.Errorf("deleting a parent: code = %d, want BadRequest", campaign.CodeOf(err))
	}
}

type recordingArchiver struct {
	branch   campaign.Branch
	versions []campaign.Version
	calls    int
}

func (a *recordingArchiver) ArchiveBranch(ctx context.Context, b campaign.Branch, versions []campaign.Version) error {
	a.branch = b
	a.versions = versions
	a.calls++
	return nil
}

func TestDeleteArchivesAndRemoves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	archiver := &recordingArchiver{}
	f.tree.WithArchiver(archiver)

	doomed := f.child(t, f.root, "doomed", 10)
	for _, day := range []int{10, 20} {
		if _, err := f.store.CreateVersion(ctx, campaign.EntityTypeSettlement, "s-1", doomed.ID,
			worldTime(day), nil, campaign.Document{"day": day}, user); err != nil {
			t.Fatalf("CreateVersion failed: %v", err)
		}
	}

	if err := f.tree.Delete(ctx, doomed.ID, user); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if archiver.calls != 1 || archiver.branch.ID != doomed.ID || len(archiver.versions) != 2 {
		t.Errorf("archiver got %d calls with %d versions, want 1 call with 2", archiver.calls, len(archiver.versions))
	}
	if _, err := f.tree.Get(ctx, doomed.ID); !campaign.IsCode(err, campaign.NotFound) {
		t.Errorf("deleted branch should be gone")
	}
	rows, _ := f.versions.ListByBranch(ctx, doomed.ID)
	if len(rows) != 0 {
		t.Errorf("deleted branch still has %d versions", len(rows))
	}
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)
	doomed := f.child(t, f.root, "doomed", 10)
	if err := f.tree.Delete(context.Background(), doomed.ID, user); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var actions []string
	for _, e := range f.audit.Entries() {
		actions = append(actions, e.Action)
	}
	want := []string{"branch.create", "branch.create", "branch.delete"}
	if len(actions) != len(want) {
		t.Fatalf("audit actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("audit action %d = %s, want %s", i, actions[i], want[i])
		}
	}
}
