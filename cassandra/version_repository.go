package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"time"

	"github.com/gocql/gocql"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
	"github.com/jakekausler/campaign-manager-sub010/redis"
)

type versionRepository struct {
	redisCache campaign.Cache
}

// NewVersionRepository manages version intervals and merge history rows. The
// Commit* methods run as a single logged batch, the only all-or-nothing
// operation in a commit.
func NewVersionRepository() campaign.VersionRepository {
	return &versionRepository{
		redisCache: redis.NewClient(),
	}
}

// NewMergeHistoryRepository reads back executed merges. Merge rows are written
// by CommitMerge; this is the read side only.
func NewMergeHistoryRepository() campaign.MergeHistoryRepository {
	return &versionRepository{
		redisCache: redis.NewClient(),
	}
}

const versionColumns = "entity_type, entity_id, branch_id, valid_from, id, valid_to, payload, created_at, created_by, parent_version_id"

func (r *versionRepository) Get(ctx context.Context, id campaign.UUID) (campaign.Version, bool, error) {
	if connection == nil {
		return campaign.Version{}, false, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT %s FROM %s.version WHERE id = ?;", versionColumns, connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(id)).WithContext(ctx)
	if connection.Config.ConsistencyBook.VersionGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.VersionGet)
	}
	iter := qry.Iter()
	v, found := scanVersion(iter)
	if err := iter.Close(); err != nil {
		return campaign.Version{}, false, err
	}
	return v, found, nil
}

func (r *versionRepository) GetOpen(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID) (campaign.Version, bool, error) {
	versions, err := r.queryPartition(ctx, entityType, entityID, branchID, time.Time{})
	if err != nil {
		return campaign.Version{}, false, err
	}
	for _, v := range versions {
		if v.IsOpen() {
			return v, true, nil
		}
	}
	return campaign.Version{}, false, nil
}

func (r *versionRepository) ResolveInBranch(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID, asOf time.Time) (campaign.Version, bool, error) {
	// Partition is clustered newest first; the first row at or before asOf
	// whose interval is still live at asOf wins.
	versions, err := r.queryPartition(ctx, entityType, entityID, branchID, asOf)
	if err != nil {
		return campaign.Version{}, false, err
	}
	for _, v := range versions {
		if v.ValidTo == nil || v.ValidTo.After(asOf) {
			return v, true, nil
		}
	}
	return campaign.Version{}, false, nil
}

func (r *versionRepository) ListForEntity(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID, window campaign.TimeWindow) ([]campaign.Version, error) {
	versions, err := r.queryPartition(ctx, entityType, entityID, branchID, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make([]campaign.Version, 0, len(versions))
	for _, v := range versions {
		if window.Contains(v.ValidFrom) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func (r *versionRepository) ListEntities(ctx context.Context, branchID campaign.UUID, upTo time.Time) ([]campaign.EntityRef, error) {
	versions, err := r.ListByBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	seen := make(map[campaign.EntityRef]bool)
	var out []campaign.EntityRef
	for _, v := range versions {
		if v.ValidFrom.After(upTo) {
			continue
		}
		ref := campaign.EntityRef{EntityType: v.EntityType, EntityID: v.EntityID}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out, nil
}

func (r *versionRepository) ListByBranch(ctx context.Context, branchID campaign.UUID) ([]campaign.Version, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT %s FROM %s.version WHERE branch_id = ?;", versionColumns, connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(branchID)).WithContext(ctx)
	if connection.Config.ConsistencyBook.VersionGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.VersionGet)
	}
	iter := qry.Iter()
	var versions []campaign.Version
	for {
		v, ok := scanVersion(iter)
		if !ok {
			break
		}
		versions = append(versions, v)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *versionRepository) CommitVersionChange(ctx context.Context, closes []campaign.Version, adds []campaign.Version) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	batch := r.newCommitBatch(ctx)
	r.batchCloses(batch, closes)
	r.batchAdds(batch, adds)
	// Logged batch will do all or nothing.
	return connection.Session.ExecuteBatch(batch)
}

func (r *versionRepository) CommitFork(ctx context.Context, child campaign.Branch, adds []campaign.Version) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	batch := r.newCommitBatch(ctx)
	insertBranch := fmt.Sprintf("INSERT INTO %s.branch (id, campaign_id, name, description, parent_id, diverged_at, created_at, created_by) VALUES(?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace)
	batch.Query(insertBranch, gocql.UUID(child.ID), gocql.UUID(child.CampaignID), child.Name, child.Description,
		gocqlUUIDOrNil(child.ParentID), timeOrZero(child.DivergedAt), child.CreatedAt, child.CreatedBy)
	r.batchAdds(batch, adds)
	if err := connection.Session.ExecuteBatch(batch); err != nil {
		return err
	}
	// Tolerate Redis cache failure.
	if err := r.redisCache.SetStruct(ctx, "branch:"+child.ID.String(), &child, branchCacheTTL); err != nil {
		log.Warn(fmt.Sprintf("version CommitFork (redis setstruct) failed, details: %v", err))
	}
	return nil
}

func (r *versionRepository) CommitMerge(ctx context.Context, closes []campaign.Version, adds []campaign.Version, history campaign.MergeHistory) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	batch := r.newCommitBatch(ctx)
	r.batchCloses(batch, closes)
	r.batchAdds(batch, adds)
	insertHistory := fmt.Sprintf("INSERT INTO %s.merge_history (target_branch_id, merged_at, id, source_branch_id, common_ancestor_id, merged_by, world_time, conflicts_count, entities_merged) VALUES(?,?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace)
	batch.Query(insertHistory, gocql.UUID(history.TargetBranchID), history.MergedAt, gocql.UUID(history.ID),
		gocql.UUID(history.SourceBranchID), gocql.UUID(history.CommonAncestorID), history.MergedBy,
		history.WorldTime, history.ConflictsCount, history.EntitiesMerged)
	return connection.Session.ExecuteBatch(batch)
}

func (r *versionRepository) CommitResolution(ctx context.Context, closes []campaign.Version, adds []campaign.Version,
	executions []campaign.EffectExecution, shell campaign.ShellUpdate) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	batch := r.newCommitBatch(ctx)
	r.batchCloses(batch, closes)
	r.batchAdds(batch, adds)
	insertExecution := fmt.Sprintf("INSERT INTO %s.effect_execution (effect_id, executed_at, id, entity_type, entity_id, executed_by, context, success, skipped, affected_fields, error) VALUES(?,?,?,?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace)
	for _, x := range executions {
		var contextBlob []byte
		if x.Context != nil {
			ba, err := encoding.DefaultMarshaler.Marshal(x.Context)
			if err != nil {
				return err
			}
			contextBlob = ba
		}
		batch.Query(insertExecution, gocql.UUID(x.EffectID), x.ExecutedAt, gocql.UUID(x.ID),
			string(x.EntityType), x.EntityID, x.ExecutedBy, contextBlob, x.Success, x.Skipped, x.AffectedFields, x.Error)
	}
	if shell.Encounter != nil {
		insertEncounter := fmt.Sprintf("INSERT INTO %s.encounter (id, campaign_id, name, is_resolved, resolved_at) VALUES(?,?,?,?,?);",
			connection.Config.Keyspace)
		e := *shell.Encounter
		batch.Query(insertEncounter, e.ID, gocql.UUID(e.CampaignID), e.Name, e.IsResolved, timeOrZero(e.ResolvedAt))
	}
	if shell.Event != nil {
		insertEvent := fmt.Sprintf("INSERT INTO %s.event (id, campaign_id, name, is_completed, occurred_at) VALUES(?,?,?,?,?);",
			connection.Config.Keyspace)
		e := *shell.Event
		batch.Query(insertEvent, e.ID, gocql.UUID(e.CampaignID), e.Name, e.IsCompleted, timeOrZero(e.OccurredAt))
	}
	return connection.Session.ExecuteBatch(batch)
}

func (r *versionRepository) RemoveByBranch(ctx context.Context, branchID campaign.UUID) error {
	versions, err := r.ListByBranch(ctx, branchID)
	if err != nil {
		return err
	}
	// Version partitions are per entity; removal walks the rows one delete at
	// a time. Administrative path only, volume is bounded by the branch.
	deleteStatement := fmt.Sprintf("DELETE FROM %s.version WHERE entity_type = ? AND entity_id = ? AND branch_id = ? AND valid_from = ? AND id = ?;",
		connection.Config.Keyspace)
	for _, v := range versions {
		qry := connection.Session.Query(deleteStatement, string(v.EntityType), v.EntityID, gocql.UUID(v.BranchID), v.ValidFrom, gocql.UUID(v.ID)).WithContext(ctx)
		if connection.Config.ConsistencyBook.VersionRemove > gocql.Any {
			qry.Consistency(connection.Config.ConsistencyBook.VersionRemove)
		}
		if err := qry.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListForBranch implements campaign.MergeHistoryRepository.
func (r *versionRepository) ListForBranch(ctx context.Context, targetBranchID campaign.UUID) ([]campaign.MergeHistory, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT target_branch_id, merged_at, id, source_branch_id, common_ancestor_id, merged_by, world_time, conflicts_count, entities_merged FROM %s.merge_history WHERE target_branch_id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(targetBranchID)).WithContext(ctx)
	if connection.Config.ConsistencyBook.VersionGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.VersionGet)
	}
	iter := qry.Iter()
	var histories []campaign.MergeHistory
	var h campaign.MergeHistory
	var target, id, source, ancestor gocql.UUID
	for iter.Scan(&target, &h.MergedAt, &id, &source, &ancestor, &h.MergedBy, &h.WorldTime, &h.ConflictsCount, &h.EntitiesMerged) {
		h.TargetBranchID = campaign.UUID(target)
		h.ID = campaign.UUID(id)
		h.SourceBranchID = campaign.UUID(source)
		h.CommonAncestorID = campaign.UUID(ancestor)
		histories = append(histories, h)
		h = campaign.MergeHistory{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return histories, nil
}

func (r *versionRepository) newCommitBatch(ctx context.Context) *gocql.Batch {
	batch := connection.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	if connection.Config.ConsistencyBook.VersionCommit > gocql.Any {
		batch.SetConsistency(connection.Config.ConsistencyBook.VersionCommit)
	}
	return batch
}

func (r *versionRepository) batchCloses(batch *gocql.Batch, closes []campaign.Version) {
	updateStatement := fmt.Sprintf("UPDATE %s.version SET valid_to = ? WHERE entity_type = ? AND entity_id = ? AND branch_id = ? AND valid_from = ? AND id = ?;",
		connection.Config.Keyspace)
	for _, v := range closes {
		batch.Query(updateStatement, timeOrZero(v.ValidTo), string(v.EntityType), v.EntityID, gocql.UUID(v.BranchID), v.ValidFrom, gocql.UUID(v.ID))
	}
}

func (r *versionRepository) batchAdds(batch *gocql.Batch, adds []campaign.Version) {
	insertStatement := fmt.Sprintf("INSERT INTO %s.version (%s) VALUES(?,?,?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace, versionColumns)
	for _, v := range adds {
		batch.Query(insertStatement, string(v.EntityType), v.EntityID, gocql.UUID(v.BranchID), v.ValidFrom,
			gocql.UUID(v.ID), timeOrZero(v.ValidTo), v.Payload, v.CreatedAt, v.CreatedBy, gocqlUUIDOrNil(v.ParentVersionID))
	}
}

// queryPartition reads the entity's partition on one branch, newest first.
// A non-zero upTo restricts to valid_from <= upTo server side.
func (r *versionRepository) queryPartition(ctx context.Context, entityType campaign.EntityType, entityID string, branchID campaign.UUID, upTo time.Time) ([]campaign.Version, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT %s FROM %s.version WHERE entity_type = ? AND entity_id = ? AND branch_id = ?", versionColumns, connection.Config.Keyspace)
	args := []interface{}{string(entityType), entityID, gocql.UUID(branchID)}
	if !upTo.IsZero() {
		selectStatement += " AND valid_from <= ?"
		args = append(args, upTo)
	}
	selectStatement += ";"
	qry := connection.Session.Query(selectStatement, args...).WithContext(ctx)
	if connection.Config.ConsistencyBook.VersionGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.VersionGet)
	}
	iter := qry.Iter()
	var versions []campaign.Version
	for {
		v, ok := scanVersion(iter)
		if !ok {
			break
		}
		versions = append(versions, v)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return versions, nil
}

func scanVersion(iter *gocql.Iter) (campaign.Version, bool) {
	var v campaign.Version
	var entityType string
	var id, branchID, parentID gocql.UUID
	var validTo time.Time
	if !iter.Scan(&entityType, &v.EntityID, &branchID, &v.ValidFrom, &id, &validTo, &v.Payload, &v.CreatedAt, &v.CreatedBy, &parentID) {
		return campaign.Version{}, false
	}
	v.EntityType = campaign.EntityType(entityType)
	v.ID = campaign.UUID(id)
	v.BranchID = campaign.UUID(branchID)
	v.ValidTo = timePtrOrNil(validTo)
	v.ParentVersionID = uuidPtrOrNil(parentID)
	return v, true
}
