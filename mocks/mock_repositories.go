package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// MockBranchRepository is an in-memory campaign.BranchRepository.
type MockBranchRepository struct {
	mu       sync.Mutex
	branches map[campaign.UUID]campaign.Branch
}

func NewMockBranchRepository() *MockBranchRepository {
	return &MockBranchRepository{branches: make(map[campaign.UUID]campaign.Branch)}
}

func (r *MockBranchRepository) Add(ctx context.Context, b campaign.Branch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches[b.ID] = b
	return nil
}

func (r *MockBranchRepository) Get(ctx context.Context, id campaign.UUID) (campaign.Branch, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.branches[id]
	return b, ok, nil
}

func (r *MockBranchRepository) GetByName(ctx context.Context, campaignID campaign.UUID, name string) (campaign.Branch, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.branches {
		if b.CampaignID == campaignID && b.Name == name {
			return b, true, nil
		}
	}
	return campaign.Branch{}, false, nil
}

func (r *MockBranchRepository) ListByCampaign(ctx context.Context, campaignID campaign.UUID) ([]campaign.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []campaign.Branch
	for _, b := range r.branches {
		if b.CampaignID == campaignID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MockBranchRepository) Remove(ctx context.Context, id campaign.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.branches, id)
	return nil
}

// MockVersionRepository is an in-memory campaign.VersionRepository. Commits
// apply atomically under the repository mutex; CommitErr, when set, fails
// every commit without applying anything (for rollback tests).
type MockVersionRepository struct {
	mu        sync.Mutex
	versions  map[campaign.UUID]campaign.Version
	histories []campaign.MergeHistory
	branches  *MockBranchRepository

	CommitErr error

	// Optional sinks for CommitResolution; nil sinks drop that part of the
	// batch (fine for tests that only look at versions).
	ExecutionSink *MockExecutionRepository
	EncounterSink *MockEncounterRepository
	EventSink     *MockEventRepository
}

// NewMockVersionRepository shares the branch repository so CommitFork can
// insert the child branch atomically with its snapshot versions.
func NewMockVersionRepository(branches *MockBranchRepository) *MockVersionRepository {
	return &MockVersionRepository{
		versions: make(map[campaign.UUID]campaign.Version),
		branches: branches,
	}
}

func (r *MockVersionRepository) Get(ctx context.Context, id campaign.UUID) (campaign.Version, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.versions[id]
	return v, ok, nil
}

func (r *MockVersionRepository) GetOpen(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID) (campaign.Version, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.EntityType == entityType && v.EntityID == entityID && v.BranchID == branchID && v.IsOpen() {
			return v, true, nil
		}
	}
	return campaign.Version{}, false, nil
}

func (r *MockVersionRepository) ResolveInBranch(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID, asOf time.Time) (campaign.Version, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best campaign.Version
	found := false
	for _, v := range r.versions {
		if v.EntityType != entityType || v.EntityID != entityID || v.BranchID != branchID {
			continue
		}
		if v.ValidFrom.After(asOf) {
			continue
		}
		if v.ValidTo != nil && !v.ValidTo.After(asOf) {
			continue
		}
		if !found || v.ValidFrom.After(best.ValidFrom) {
			best = v
			found = true
		}
	}
	return best, found, nil
}

func (r *MockVersionRepository) ListForEntity(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID, window campaign.TimeWindow) ([]campaign.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []campaign.Version
	for _, v := range r.versions {
		if v.EntityType == entityType && v.EntityID == entityID && v.BranchID == branchID && window.Contains(v.ValidFrom) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func (r *MockVersionRepository) ListEntities(ctx context.Context, branchID campaign.UUID, upTo time.Time) ([]campaign.EntityRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[campaign.EntityRef]bool)
	var out []campaign.EntityRef
	for _, v := range r.versions {
		if v.BranchID != branchID || v.ValidFrom.After(upTo) {
			continue
		}
		ref := campaign.EntityRef{EntityType: v.EntityType, EntityID: v.EntityID}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityType != out[j].EntityType {
			return out[i].EntityType < out[j].EntityType
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out, nil
}

func (r *MockVersionRepository) ListByBranch(ctx context.Context, branchID campaign.UUID) ([]campaign.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []campaign.Version
	for _, v := range r.versions {
		if v.BranchID == branchID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func (r *MockVersionRepository) CommitVersionChange(ctx context.Context, closes []campaign.Version, adds []campaign.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CommitErr != nil {
		return r.CommitErr
	}
	r.apply(closes, adds)
	return nil
}

func (r *MockVersionRepository) CommitFork(ctx context.Context, child campaign.Branch, adds []campaign.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CommitErr != nil {
		return r.CommitErr
	}
	r.branches.mu.Lock()
	r.branches.branches[child.ID] = child
	r.branches.mu.Unlock()
	r.apply(nil, adds)
	return nil
}

func (r *MockVersionRepository) CommitMerge(ctx context.Context, closes []campaign.Version, adds []campaign.Version, history campaign.MergeHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CommitErr != nil {
		return r.CommitErr
	}
	r.apply(closes, adds)
	r.histories = append(r.histories, history)
	return nil
}

func (r *MockVersionRepository) CommitResolution(ctx context.Context, closes []campaign.Version, adds []campaign.Version,
	executions []campaign.EffectExecution, shell campaign.ShellUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CommitErr != nil {
		return r.CommitErr
	}
	r.apply(closes, adds)
	if r.ExecutionSink != nil {
		r.ExecutionSink.Add(ctx, executions...)
	}
	if shell.Encounter != nil && r.EncounterSink != nil {
		r.EncounterSink.Update(ctx, *shell.Encounter)
	}
	if shell.Event != nil && r.EventSink != nil {
		r.EventSink.Update(ctx, *shell.Event)
	}
	return nil
}

func (r *MockVersionRepository) RemoveByBranch(ctx context.Context, branchID campaign.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, v := range r.versions {
		if v.BranchID == branchID {
			delete(r.versions, id)
		}
	}
	return nil
}

// ListForBranch implements campaign.MergeHistoryRepository.
func (r *MockVersionRepository) ListForBranch(ctx context.Context, targetBranchID campaign.UUID) ([]campaign.MergeHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []campaign.MergeHistory
	for _, h := range r.histories {
		if h.TargetBranchID == targetBranchID {
			out = append(out, h)
		}
	}
	return out, nil
}

// Histories returns every recorded merge, for assertions.
func (r *MockVersionRepository) Histories() []campaign.MergeHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]campaign.MergeHistory(nil), r.histories...)
}

func (r *MockVersionRepository) apply(closes []campaign.Version, adds []campaign.Version) {
	for _, c := range closes {
		r.versions[c.ID] = c
	}
	for _, a := range adds {
		r.versions[a.ID] = a
	}
}

// MockEffectRepository is an in-memory campaign.EffectRepository.
type MockEffectRepository struct {
	mu      sync.Mutex
	effects []campaign.Effect
}

func NewMockEffectRepository() *MockEffectRepository {
	return &MockEffectRepository{}
}

func (r *MockEffectRepository) Add(ctx context.Context, e campaign.Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = append(r.effects, e)
	return nil
}

func (r *MockEffectRepository) Get(ctx context.Context, id campaign.UUID) (campaign.Effect, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.effects {
		if e.ID == id {
			return e, true, nil
		}
	}
	return campaign.Effect{}, false, nil
}

func (r *MockEffectRepository) ListActiveForEntity(ctx context.Context, entityType campaign.EntityType, entityID string) ([]campaign.Effect, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []campaign.Effect
	for _, e := range r.effects {
		if e.EntityType == entityType && e.EntityID == entityID && e.IsActive {
			out = append(out, e)
		}
	}
	// Stable creation order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MockExecutionRepository is an in-memory campaign.EffectExecutionRepository.
type MockExecutionRepository struct {
	mu         sync.Mutex
	executions []campaign.EffectExecution
}

func NewMockExecutionRepository() *MockExecutionRepository {
	return &MockExecutionRepository{}
}

func (r *MockExecutionRepository) Add(ctx context.Context, executions ...campaign.EffectExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions = append(r.executions, executions...)
	return nil
}

func (r *MockExecutionRepository) ListForEffect(ctx context.Context, effectID campaign.UUID) ([]campaign.EffectExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []campaign.EffectExecution
	for _, e := range r.executions {
		if e.EffectID == effectID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every recorded execution, for assertions.
func (r *MockExecutionRepository) All() []campaign.EffectExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]campaign.EffectExecution(nil), r.executions...)
}

// MockEncounterRepository is an in-memory campaign.EncounterRepository.
type MockEncounterRepository struct {
	mu         sync.Mutex
	encounters map[string]campaign.Encounter
}

func NewMockEncounterRepository() *MockEncounterRepository {
	return &MockEncounterRepository{encounters: make(map[string]campaign.Encounter)}
}

func (r *MockEncounterRepository) Put(e campaign.Encounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encounters[e.ID] = e
}

func (r *MockEncounterRepository) Get(ctx context.Context, id string) (campaign.Encounter, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.encounters[id]
	return e, ok, nil
}

func (r *MockEncounterRepository) Update(ctx context.Context, e campaign.Encounter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encounters[e.ID] = e
	return nil
}

// MockEventRepository is an in-memory campaign.EventRepository.
type MockEventRepository struct {
	mu     sync.Mutex
	events map[string]campaign.Event
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{events: make(map[string]campaign.Event)}
}

func (r *MockEventRepository) Put(e campaign.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = e
}

func (r *MockEventRepository) Get(ctx context.Context, id string) (campaign.Event, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	return e, ok, nil
}

func (r *MockEventRepository) Update(ctx context.Context, e campaign.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[e.ID] = e
	return nil
}
