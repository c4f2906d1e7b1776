package campaign

import (
	"context"
	"time"
)

// BranchRepository persists branch records.
type BranchRepository interface {
	// Add inserts a branch record.
	Add(ctx context.Context, b Branch) error
	// Get fetches a branch by ID; the bool reports whether it exists.
	Get(ctx context.Context, id UUID) (Branch, bool, error)
	// GetByName fetches a branch by its campaign-unique name.
	GetByName(ctx context.Context, campaignID UUID, name string) (Branch, bool, error)
	// ListByCampaign returns all branches of a campaign.
	ListByCampaign(ctx context.Context, campaignID UUID) ([]Branch, error)
	// Remove deletes the branch record. Versions are removed separately by
	// VersionRepository.RemoveByBranch.
	Remove(ctx context.Context, id UUID) error
}

// VersionRepository persists version rows and exposes the atomic commit
// operations the engines require. Commit* methods execute as a single
// all-or-nothing write (a Cassandra logged batch in production).
type VersionRepository interface {
	// Get fetches a version by ID.
	Get(ctx context.Context, id UUID) (Version, bool, error)
	// GetOpen returns the currently open interval for the entity on the
	// branch, if any.
	GetOpen(ctx context.Context, entityType EntityType, entityID string, branchID UUID) (Version, bool, error)
	// ResolveInBranch returns the latest version on this one branch with
	// validFrom <= asOf and (validTo null or validTo > asOf). It does not
	// walk ancestry; that is the resolver's job.
	ResolveInBranch(ctx context.Context, entityType EntityType, entityID string, branchID UUID, asOf time.Time) (Version, bool, error)
	// ListForEntity returns the entity's versions on the branch, filtered to
	// the window and sorted by validFrom.
	ListForEntity(ctx context.Context, entityType EntityType, entityID string, branchID UUID, window TimeWindow) ([]Version, error)
	// ListEntities enumerates the distinct entities having any version on
	// the branch with validFrom <= upTo.
	ListEntities(ctx context.Context, branchID UUID, upTo time.Time) ([]EntityRef, error)
	// ListByBranch returns every version on the branch (archival, deletion).
	ListByBranch(ctx context.Context, branchID UUID) ([]Version, error)

	// CommitVersionChange atomically applies interval closes (updates to
	// validTo) and inserts.
	CommitVersionChange(ctx context.Context, closes []Version, adds []Version) error
	// CommitFork atomically inserts the child branch and its snapshot
	// versions.
	CommitFork(ctx context.Context, child Branch, adds []Version) error
	// CommitMerge atomically applies closes, inserts and the merge history
	// record.
	CommitMerge(ctx context.Context, closes []Version, adds []Version, history MergeHistory) error
	// CommitResolution atomically applies a resolution workflow's writes:
	// the interval closes and inserts, the execution records and the shell
	// flag flip.
	CommitResolution(ctx context.Context, closes []Version, adds []Version, executions []EffectExecution, shell ShellUpdate) error
	// RemoveByBranch deletes all versions of a branch (administrative branch
	// deletion only).
	RemoveByBranch(ctx context.Context, branchID UUID) error
}

// ShellUpdate carries the flag flip a resolution workflow commits alongside
// its version write. Exactly one of Encounter and Event is set.
type ShellUpdate struct {
	Encounter *Encounter
	Event     *Event
}

// MergeHistoryRepository reads back executed merges.
type MergeHistoryRepository interface {
	ListForBranch(ctx context.Context, targetBranchID UUID) ([]MergeHistory, error)
}

// EffectRepository persists declarative effects.
type EffectRepository interface {
	Add(ctx context.Context, e Effect) error
	Get(ctx context.Context, id UUID) (Effect, bool, error)
	// ListActiveForEntity returns the entity's active effects in stable
	// creation order.
	ListActiveForEntity(ctx context.Context, entityType EntityType, entityID string) ([]Effect, error)
}

// EffectExecutionRepository is the append-only execution record store.
type EffectExecutionRepository interface {
	Add(ctx context.Context, executions ...EffectExecution) error
	ListForEffect(ctx context.Context, effectID UUID) ([]EffectExecution, error)
}

// EncounterRepository reads and updates encounter shells.
type EncounterRepository interface {
	Get(ctx context.Context, id string) (Encounter, bool, error)
	Update(ctx context.Context, e Encounter) error
}

// EventRepository reads and updates event shells.
type EventRepository interface {
	Get(ctx context.Context, id string) (Event, bool, error)
	Update(ctx context.Context, e Event) error
}

// Membership is the authorization collaborator. The core asks it before any
// mutation; a false answer is reported to callers as NotFound.
type Membership interface {
	CanEdit(ctx context.Context, user AuthenticatedUser, campaignID UUID) (bool, error)
}

// Audit is the audit-log collaborator, called at every successful mutation
// commit.
type Audit interface {
	Log(ctx context.Context, entry AuditEntry) error
}
