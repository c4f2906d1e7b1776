// Package campaign contains the core types and collaborator contracts of the
// campaign manager's temporal branching backend: branches forming a forest of
// alternate timelines, versioned entity payloads resolved "as-of" a world
// time, three-way merge records and the declarative effect model.
package campaign

import (
	"time"
)

// EntityType identifies the kind of domain entity a version or effect targets.
type EntityType string

const (
	EntityTypeCampaign   EntityType = "campaign"
	EntityTypeKingdom    EntityType = "kingdom"
	EntityTypeSettlement EntityType = "settlement"
	EntityTypeStructure  EntityType = "structure"
	EntityTypeEncounter  EntityType = "encounter"
	EntityTypeEvent      EntityType = "event"
	EntityTypeLocation   EntityType = "location"
)

// Document is a free-form JSON payload. Entity state is carried as documents
// end to end; the core reads into them only where it must (protected paths,
// array identity keys).
type Document = map[string]any

// Branch is a named line of history within a campaign. Branches form a forest
// via ParentID; a root branch has neither parent nor divergence point.
type Branch struct {
	ID          UUID       `json:"id"`
	CampaignID  UUID       `json:"campaignId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	ParentID    *UUID      `json:"parentId,omitempty"`
	DivergedAt  *time.Time `json:"divergedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CreatedBy   string     `json:"createdBy"`
}

// IsRoot reports whether the branch has no parent.
func (b Branch) IsRoot() bool {
	return b.ParentID == nil
}

// Version is an immutable record of an entity's payload over the half-open
// world-time interval [ValidFrom, ValidTo) on one branch. A nil ValidTo means
// the interval is still open.
type Version struct {
	ID              UUID       `json:"id"`
	EntityType      EntityType `json:"entityType"`
	EntityID        string     `json:"entityId"`
	BranchID        UUID       `json:"branchId"`
	ValidFrom       time.Time  `json:"validFrom"`
	ValidTo         *time.Time `json:"validTo,omitempty"`
	// Payload is the entity document, JSON encoded and possibly compressed.
	// Use encoding.DecodePayload (or version.Store.DecompressVersion) to read it.
	Payload         []byte     `json:"payload"`
	CreatedAt       time.Time  `json:"createdAt"`
	CreatedBy       string     `json:"createdBy"`
	ParentVersionID *UUID      `json:"parentVersionId,omitempty"`
}

// IsOpen reports whether the version's validity interval has no upper bound.
func (v Version) IsOpen() bool {
	return v.ValidTo == nil
}

// Covers reports whether worldTime falls inside [ValidFrom, ValidTo).
func (v Version) Covers(worldTime time.Time) bool {
	if worldTime.Before(v.ValidFrom) {
		return false
	}
	return v.ValidTo == nil || worldTime.Before(*v.ValidTo)
}

// EntityRef identifies one entity independent of branch and time.
type EntityRef struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
}

// TimeWindow bounds a version listing. Zero-value bounds are unbounded.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t is inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// MergeHistory records one executed merge between two branches.
type MergeHistory struct {
	ID               UUID      `json:"id"`
	SourceBranchID   UUID      `json:"sourceBranchId"`
	TargetBranchID   UUID      `json:"targetBranchId"`
	CommonAncestorID UUID      `json:"commonAncestorId"`
	MergedAt         time.Time `json:"mergedAt"`
	MergedBy         string    `json:"mergedBy"`
	WorldTime        time.Time `json:"worldTime"`
	ConflictsCount   int       `json:"conflictsCount"`
	EntitiesMerged   int       `json:"entitiesMerged"`
}

// EffectTiming is the phase an effect executes in during resolution.
type EffectTiming string

const (
	TimingPre EffectTiming = "PRE"
	// TimingResolution is reserved; no phase executes it today.
	TimingResolution EffectTiming = "RESOLUTION"
	TimingOnResolve  EffectTiming = "ON_RESOLVE"
	TimingPost       EffectTiming = "POST"
)

// PatchOperation is one JSON-patch operation of a patch-type effect payload.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Effect is a declarative, validated mutation applied to an entity's payload
// during a resolution workflow.
type Effect struct {
	ID         UUID             `json:"id"`
	EntityType EntityType       `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Name       string           `json:"name"`
	EffectType string           `json:"effectType"`
	Payload    []PatchOperation `json:"payload"`
	Timing     EffectTiming     `json:"timing"`
	// Priority orders execution within a phase; lower executes first.
	Priority int `json:"priority"`
	// Condition is an optional CEL expression over the working payload; a
	// false result skips the effect.
	Condition string    `json:"condition,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
}

// EffectTypePatch is the only effect type the engine executes today.
const EffectTypePatch = "patch"

// EffectExecution is the append-only record of one attempted effect.
type EffectExecution struct {
	ID             UUID       `json:"id"`
	EffectID       UUID       `json:"effectId"`
	EntityType     EntityType `json:"entityType"`
	EntityID       string     `json:"entityId"`
	ExecutedAt     time.Time  `json:"executedAt"`
	ExecutedBy     string     `json:"executedBy"`
	Context        Document   `json:"context,omitempty"`
	Success        bool       `json:"success"`
	Skipped        bool       `json:"skipped,omitempty"`
	AffectedFields []string   `json:"affectedFields,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Conflict is a three-way merge disagreement at one payload path.
type Conflict struct {
	EntityType  EntityType `json:"entityType"`
	EntityID    string     `json:"entityId"`
	Path        string     `json:"path"`
	BaseValue   any        `json:"baseValue,omitempty"`
	SourceValue any        `json:"sourceValue,omitempty"`
	TargetValue any        `json:"targetValue,omitempty"`
}

// ConflictResolution supplies the value to use for one conflicting path.
type ConflictResolution struct {
	EntityType    EntityType `json:"entityType"`
	EntityID      string     `json:"entityId"`
	Path          string     `json:"path"`
	ResolvedValue any        `json:"resolvedValue"`
}

// ForkResult reports the outcome of forking a branch.
type ForkResult struct {
	Branch         Branch `json:"branch"`
	VersionsCopied int    `json:"versionsCopied"`
}

// MergeResult reports the outcome of an executed merge.
type MergeResult struct {
	Success         bool        `json:"success"`
	VersionsCreated int         `json:"versionsCreated"`
	MergedEntityIDs []EntityRef `json:"mergedEntityIds"`
	ConflictsCount  int         `json:"conflictsCount"`
}

// CherryPickResult reports the outcome of a cherry-pick attempt. On
// unresolved conflicts Success is false, Conflicts is populated and nothing
// was written.
type CherryPickResult struct {
	Success   bool       `json:"success"`
	VersionID *UUID      `json:"versionId,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// PhaseSummary counts effect outcomes for one resolution phase.
type PhaseSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped,omitempty"`
}

// EffectSummary enumerates the per-phase outcomes of one resolution workflow.
type EffectSummary struct {
	Pre       PhaseSummary `json:"pre"`
	OnResolve PhaseSummary `json:"onResolve"`
	Post      PhaseSummary `json:"post"`
}

// Encounter is the relational shell of an encounter; its time-varying fields
// live in version payloads.
type Encounter struct {
	ID         string     `json:"id"`
	CampaignID UUID       `json:"campaignId"`
	Name       string     `json:"name"`
	IsResolved bool       `json:"isResolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Event is the relational shell of a world event.
type Event struct {
	ID          string     `json:"id"`
	CampaignID  UUID       `json:"campaignId"`
	Name        string     `json:"name"`
	IsCompleted bool       `json:"isCompleted"`
	OccurredAt  *time.Time `json:"occurredAt,omitempty"`
}

// AuthenticatedUser is the identity the transport hands to the core. The core
// never parses tokens itself.
type AuthenticatedUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AuditEntry is handed to the audit collaborator on every successful
// mutation commit.
type AuditEntry struct {
	User       string     `json:"user"`
	Action     string     `json:"action"`
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Before     Document   `json:"before,omitempty"`
	After      Document   `json:"after,omitempty"`
}

// LockKey is a Redis-backed lock on one logical resource.
type LockKey struct {
	Key         string
	LockID      UUID
	IsLockOwner bool
}

// Tuple is a generic pair.
type Tuple[T1 any, T2 any] struct {
	First  T1
	Second T2
}
