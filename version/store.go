// Package version implements the temporal payload store and the as-of
// resolver. Versions are half-open intervals [validFrom, validTo) per
// (entityType, entityId, branchId); creating a version closes the previously
// open interval in the same commit, and resolution walks the branch ancestry
// honoring each divergence point.
package version

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/cache"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

// lockDuration bounds how long a write-range lock can be held before it
// expires on its own (crash safety).
const lockDuration = 30 * time.Second

// Store appends version intervals and reads them back.
type Store struct {
	versions    campaign.VersionRepository
	branches    campaign.BranchRepository
	locker      campaign.Cache
	invalidator *cache.Invalidator
	publisher   campaign.Publisher
}

// NewStore wires the version store over its repositories. The locker
// serializes writers per entity/branch range; invalidator and publisher run
// after commit and may be nil in read-only setups.
func NewStore(versions campaign.VersionRepository, branches campaign.BranchRepository, locker campaign.Cache,
	invalidator *cache.Invalidator, publisher campaign.Publisher) *Store {
	return &Store{
		versions:    versions,
		branches:    branches,
		locker:      locker,
		invalidator: invalidator,
		publisher:   publisher,
	}
}

// WriteLockKey names the write-range lock for one entity on one branch.
func WriteLockKey(entityType campaign.EntityType, entityID string, branchID campaign.UUID) string {
	return fmt.Sprintf("%s:%s:%s", entityType, entityID, branchID)
}

// CreateVersion appends a new version for the entity on the branch. The
// previously open interval (if any) is closed at validFrom in the same
// commit; an equal validFrom replaces the open interval outright. A nil
// validTo opens a new unbounded interval; an explicit validTo must not
// overlap any existing closed interval.
func (s *Store) CreateVersion(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID,
	validFrom time.Time, validTo *time.Time, payload campaign.Document, user campaign.AuthenticatedUser) (campaign.Version, error) {
	return s.create(ctx, entityType, entityID, branchID, validFrom, validTo, payload, user,
		func(closes, adds []campaign.Version) error {
			return s.versions.CommitVersionChange(ctx, closes, adds)
		})
}

// CreateVersionForResolution appends the version a resolution workflow
// produces and commits the execution records and the shell flag flip in the
// same all-or-nothing batch, so a partial workflow never persists.
func (s *Store) CreateVersionForResolution(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID,
	worldTime time.Time, payload campaign.Document, user campaign.AuthenticatedUser,
	executions []campaign.EffectExecution, shell campaign.ShellUpdate) (campaign.Version, error) {
	return s.create(ctx, entityType, entityID, branchID, worldTime, nil, payload, user,
		func(closes, adds []campaign.Version) error {
			return s.versions.CommitResolution(ctx, closes, adds, executions, shell)
		})
}

func (s *Store) create(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID,
	validFrom time.Time, validTo *time.Time, payload campaign.Document, user campaign.AuthenticatedUser,
	commit func(closes, adds []campaign.Version) error) (campaign.Version, error) {
	if validTo != nil && !validTo.After(validFrom) {
		return campaign.Version{}, campaign.Errorf(campaign.BadRequest, "invalid interval: validTo %v <= validFrom %v", *validTo, validFrom)
	}
	branch, found, err := s.branches.Get(ctx, branchID)
	if err != nil {
		return campaign.Version{}, campaign.NewError(campaign.Transient, err)
	}
	if !found {
		return campaign.Version{}, campaign.Errorf(campaign.NotFound, "branch %s does not exist", branchID)
	}
	if branch.DivergedAt != nil && validFrom.Before(*branch.DivergedAt) {
		return campaign.Version{}, campaign.Errorf(campaign.BeforeDivergence, "validFrom %v is before branch divergence %v", validFrom, *branch.DivergedAt)
	}

	lockKeys := s.locker.CreateLockKeys([]string{WriteLockKey(entityType, entityID, branchID)})
	if err := AcquireLocks(ctx, s.locker, lockKeys); err != nil {
		return campaign.Version{}, err
	}
	defer func() {
		if err := s.locker.Unlock(ctx, lockKeys); err != nil {
			log.Warn(fmt.Sprintf("unlock of %s failed, details: %v", lockKeys[0].Key, err))
		}
	}()

	encoded, err := encoding.EncodePayload(payload)
	if err != nil {
		return campaign.Version{}, campaign.NewError(campaign.BadRequest, err)
	}
	now := time.Now()
	v := campaign.Version{
		ID:         campaign.NewUUID(),
		EntityType: entityType,
		EntityID:   entityID,
		BranchID:   branchID,
		ValidFrom:  validFrom,
		ValidTo:    validTo,
		Payload:    encoded,
		CreatedAt:  now,
		CreatedBy:  user.ID,
	}

	var closes []campaign.Version
	existing, err := s.versions.ListForEntity(ctx, entityType, entityID, branchID, campaign.TimeWindow{})
	if err != nil {
		return campaign.Version{}, campaign.NewError(campaign.Transient, err)
	}
	for _, prior := range existing {
		if prior.IsOpen() {
			if validFrom.Before(prior.ValidFrom) {
				return campaign.Version{}, campaign.Errorf(campaign.BadRequest,
					"invalid interval: validFrom %v precedes the open interval at %v", validFrom, prior.ValidFrom)
			}
			// Equal validFrom closes the open row into an empty interval, which
			// resolution skips; the new row takes its place.
			closed := prior
			closedAt := validFrom
			closed.ValidTo = &closedAt
			closes = append(closes, closed)
			v.ParentVersionID = &prior.ID
			continue
		}
		if !prior.ValidTo.After(prior.ValidFrom) {
			// Empty row left behind by an equal-validFrom replace.
			continue
		}
		if prior.ValidTo.After(validFrom) && (validTo == nil || prior.ValidFrom.Before(*validTo)) {
			return campaign.Version{}, campaign.Errorf(campaign.BadRequest,
				"invalid interval: validFrom %v overlaps the closed interval [%v, %v)", validFrom, prior.ValidFrom, *prior.ValidTo)
		}
	}

	if err := commit(closes, []campaign.Version{v}); err != nil {
		return campaign.Version{}, campaign.NewError(campaign.Transient, err)
	}
	s.afterCommit(ctx, entityType, entityID, branchID)
	return v, nil
}

// DecompressVersion restores the version's payload document.
func (s *Store) DecompressVersion(v campaign.Version) (campaign.Document, error) {
	return encoding.DecodePayload(v.Payload)
}

// Get fetches one version by ID.
func (s *Store) Get(ctx context.Context, id campaign.UUID) (campaign.Version, bool, error) {
	return s.versions.Get(ctx, id)
}

// VersionsForEntity lists the entity's versions on the branch inside the
// window, sorted by validFrom.
func (s *Store) VersionsForEntity(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID,
	window campaign.TimeWindow) ([]campaign.Version, error) {
	return s.versions.ListForEntity(ctx, entityType, entityID, branchID, window)
}

// afterCommit runs the post-commit side effects: cache invalidation and the
// change notification. Neither affects the committed write.
func (s *Store) afterCommit(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID) {
	if s.invalidator != nil {
		s.invalidator.InvalidateEntity(ctx, entityType, entityID, branchID.String())
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, campaign.EntityChangedTopic(entityType, entityID), map[string]string{
			"entityType": string(entityType),
			"entityId":   entityID,
			"branchId":   branchID.String(),
		}); err != nil {
			log.Warn(fmt.Sprintf("publish of entity change %s/%s failed, details: %v", entityType, entityID, err))
		}
	}
}

// AcquireLocks takes the given lock keys, retrying with backoff while another
// writer holds them. Exhausted retries surface as WriteConflict.
func AcquireLocks(ctx context.Context, locker campaign.Cache, lockKeys []*campaign.LockKey) error {
	err := campaign.Retry(ctx, func(ctx context.Context) error {
		ok, owner, err := locker.Lock(ctx, lockDuration, lockKeys)
		if err != nil {
			return campaign.RetryableError(campaign.NewError(campaign.Transient, err))
		}
		if !ok {
			return campaign.RetryableError(campaign.Errorf(campaign.LockAcquisitionFailure, "locked by %s", owner))
		}
		return nil
	}, func(ctx context.Context) {
		// Drop any partially acquired keys so the other writer can finish.
		if err := locker.Unlock(ctx, lockKeys); err != nil {
			log.Warn(fmt.Sprintf("unlock after failed lock attempt failed, details: %v", err))
		}
	})
	if err != nil {
		return campaign.NewError(campaign.WriteConflict, err)
	}
	return nil
}
